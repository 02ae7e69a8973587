package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/pkg/errors"

	"github.com/you/crosspost/internal/domain"
)

// HTTPPublisher posts managed publishes to the channel API gateway,
// which holds the per-channel credentials and native API bindings.
type HTTPPublisher struct {
	BaseURL string
	Client  *http.Client
}

func (p *HTTPPublisher) Publish(ctx context.Context, job domain.Job, ch domain.Channel) error {
	body, err := json.Marshal(struct {
		TenantID string         `json:"tenant_id"`
		Template string         `json:"template"`
		Payload  map[string]any `json:"payload"`
	}{job.TenantID, job.Template, job.Payload})
	if err != nil {
		return errors.Wrap(err, "marshal publish request")
	}

	u := fmt.Sprintf("%s/channels/%s/publish", p.BaseURL, ch)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return errors.Wrap(err, "build publish request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.Client.Do(req)
	if err != nil {
		return errors.Wrap(err, "publish")
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return errors.Errorf("channel api returned %d", resp.StatusCode)
	}
	return nil
}
