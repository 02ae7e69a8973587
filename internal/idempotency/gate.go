package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"time"

	"github.com/pkg/errors"
	r "github.com/redis/go-redis/v9"

	"github.com/you/crosspost/internal/domain"
)

const (
	stateInFlight = "in_flight"
	stateDone     = "done"
)

// record is what lives under idem:<tenant>:<key>. The SET NX that writes
// it is the atomic check-and-reserve; expiry is store-driven via the TTL.
type record struct {
	JobID       string `json:"job_id"`
	Fingerprint string `json:"fingerprint"`
	State       string `json:"state"`
}

// Admission is the gate's verdict for one intake attempt.
type Admission struct {
	Admitted bool
	// JobID is the admitted job's id, or on a duplicate the id of the
	// first-seen job so both callers converge on the same outcome.
	JobID    string
	InFlight bool
	// Mismatch is set when the key was reused with a different payload.
	Mismatch bool
}

type Gate struct {
	rdb *r.Client
	ttl time.Duration
}

func New(rdb *r.Client, ttl time.Duration) *Gate {
	return &Gate{rdb: rdb, ttl: ttl}
}

// Admit reserves (tenantID, key) for jobID. Exactly one of two
// concurrent calls with the same key wins the reservation; the loser
// sees the winner's record.
func (g *Gate) Admit(ctx context.Context, tenantID, key, jobID, fingerprint string) (Admission, error) {
	k := recordKey(tenantID, key)
	b, err := json.Marshal(record{JobID: jobID, Fingerprint: fingerprint, State: stateInFlight})
	if err != nil {
		return Admission{}, errors.Wrap(err, "marshal idempotency record")
	}

	// Two attempts: the second covers a record expiring between the
	// failed SET NX and the GET.
	for i := 0; i < 2; i++ {
		ok, err := g.rdb.SetNX(ctx, k, b, g.ttl).Result()
		if err != nil {
			return Admission{}, errors.Wrap(err, "reserve idempotency key")
		}
		if ok {
			return Admission{Admitted: true, JobID: jobID, InFlight: true}, nil
		}
		raw, err := g.rdb.Get(ctx, k).Result()
		if err == r.Nil {
			continue
		}
		if err != nil {
			return Admission{}, errors.Wrap(err, "read idempotency record")
		}
		var prior record
		if err := json.Unmarshal([]byte(raw), &prior); err != nil {
			return Admission{}, errors.Wrap(err, "decode idempotency record")
		}
		return Admission{
			JobID:    prior.JobID,
			InFlight: prior.State == stateInFlight,
			Mismatch: prior.Fingerprint != fingerprint,
		}, nil
	}
	return Admission{}, errors.New("idempotency key contended")
}

// Complete marks the record done so later duplicates replay the stored
// outcome instead of reporting in-flight. The consumer is the record's
// single writer after admission, so read-update-write is safe here. The
// retention window is not extended.
func (g *Gate) Complete(ctx context.Context, tenantID, key, jobID string) error {
	k := recordKey(tenantID, key)
	raw, err := g.rdb.Get(ctx, k).Result()
	if err == r.Nil {
		// Expired mid-flight; nothing left to flip.
		return nil
	}
	if err != nil {
		return errors.Wrap(err, "read idempotency record")
	}
	var rec record
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return errors.Wrap(err, "decode idempotency record")
	}
	rec.JobID = jobID
	rec.State = stateDone
	b, err := json.Marshal(rec)
	if err != nil {
		return errors.Wrap(err, "marshal idempotency record")
	}
	err = g.rdb.Set(ctx, k, b, r.KeepTTL).Err()
	return errors.Wrap(err, "complete idempotency record")
}

// releaseScript deletes the record only while it still belongs to the
// releasing job and is unfinished, so a reservation that expired and was
// re-taken by a later request is never clobbered.
var releaseScript = r.NewScript(`
local raw = redis.call("GET", KEYS[1])
if not raw then return 0 end
local rec = cjson.decode(raw)
if rec.job_id == ARGV[1] and rec.state == ARGV[2] then
	redis.call("DEL", KEYS[1])
	return 1
end
return 0`)

// Release undoes an admission whose intake failed before the job was
// persisted and enqueued. Without it the reservation would pin the key
// for the full TTL, answering in-flight for a job that will never run.
func (g *Gate) Release(ctx context.Context, tenantID, key, jobID string) error {
	err := releaseScript.Run(ctx, g.rdb, []string{recordKey(tenantID, key)}, jobID, stateInFlight).Err()
	if err == r.Nil {
		return nil
	}
	return errors.Wrap(err, "release idempotency key")
}

func recordKey(tenantID, key string) string {
	return "idem:" + tenantID + ":" + key
}

// Fingerprint hashes the request body so key reuse with a different
// payload is detectable. Channel order does not affect the hash.
func Fingerprint(template string, channels []domain.Channel, payload map[string]any) string {
	sorted := make([]string, 0, len(channels))
	for _, c := range channels {
		sorted = append(sorted, string(c))
	}
	sort.Strings(sorted)
	body, _ := json.Marshal(struct {
		Template string         `json:"template"`
		Channels []string       `json:"channels"`
		Payload  map[string]any `json:"payload"`
	}{template, sorted, payload})
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}
