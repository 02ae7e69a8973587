package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/you/crosspost/internal/domain"
	"github.com/you/crosspost/internal/idempotency"
	"github.com/you/crosspost/internal/storage"
)

// JobStore is the API's slice of the Postgres store.
type JobStore interface {
	InsertJob(ctx context.Context, j domain.Job) error
	GetJobStatus(ctx context.Context, jobID string) (domain.JobStatus, error)
	GetOutcome(ctx context.Context, jobID string) (domain.JobOutcome, error)
}

// AdmitGate is the intake's view of the idempotency gate.
type AdmitGate interface {
	Admit(ctx context.Context, tenantID, key, jobID, fingerprint string) (idempotency.Admission, error)
	Release(ctx context.Context, tenantID, key, jobID string) error
}

type Enqueuer interface {
	Enqueue(ctx context.Context, envelope []byte) error
}

type DeadLetterLister interface {
	PeekDeadLetters(ctx context.Context, n int64) ([]domain.DeadLetter, error)
}

// Server handles intake and outcome queries. The capability token is
// validated upstream; by the time a request lands here its tenant_id is
// trusted.
type Server struct {
	Store JobStore
	Gate  AdmitGate
	Queue Enqueuer
	DLQ   DeadLetterLister
	Log   *zap.Logger
}

func (s *Server) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/v1/posts", s.createPost)
	r.Get("/v1/posts/{id}", s.getPost)
	r.Get("/v1/deadletters", s.listDeadLetters)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
	})
	return r
}

type createPostRequest struct {
	TenantID       string           `json:"tenant_id"`
	Template       string           `json:"template"`
	Channels       []domain.Channel `json:"channels"`
	Payload        map[string]any   `json:"payload"`
	IdempotencyKey string           `json:"idempotency_key"`
}

func (r createPostRequest) validate() string {
	switch {
	case r.TenantID == "":
		return "tenant_id is required"
	case r.IdempotencyKey == "":
		return "idempotency_key is required"
	case r.Template == "":
		return "template is required"
	case len(r.Channels) == 0:
		return "channels must be non-empty"
	}
	seen := map[domain.Channel]struct{}{}
	for _, ch := range r.Channels {
		if ch == "" {
			return "channels must not contain empty entries"
		}
		if _, dup := seen[ch]; dup {
			return "channels must not repeat"
		}
		seen[ch] = struct{}{}
	}
	return ""
}

// createPost admits, persists and enqueues one job. Returns 202
// immediately; it never waits for dispatch.
func (s *Server) createPost(w http.ResponseWriter, r *http.Request) {
	var req createPostRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if msg := req.validate(); msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}

	jobID := uuid.NewString()
	fp := idempotency.Fingerprint(req.Template, req.Channels, req.Payload)
	adm, err := s.Gate.Admit(r.Context(), req.TenantID, req.IdempotencyKey, jobID, fp)
	if err != nil {
		s.Log.Error("admit failed", zap.String("tenant", req.TenantID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "intake unavailable")
		return
	}
	if !adm.Admitted {
		s.replayDuplicate(w, r, adm)
		return
	}

	job := domain.Job{
		ID:             jobID,
		TenantID:       req.TenantID,
		Template:       req.Template,
		Channels:       req.Channels,
		Payload:        req.Payload,
		IdempotencyKey: req.IdempotencyKey,
		EnqueuedAt:     time.Now().UTC(),
	}
	if err := s.Store.InsertJob(r.Context(), job); err != nil {
		s.Log.Error("insert job failed", zap.String("job_id", jobID), zap.Error(err))
		s.releaseAdmission(r.Context(), job)
		writeError(w, http.StatusInternalServerError, "intake unavailable")
		return
	}
	envelope, err := json.Marshal(job)
	if err != nil {
		s.releaseAdmission(r.Context(), job)
		writeError(w, http.StatusInternalServerError, "intake unavailable")
		return
	}
	if err := s.Queue.Enqueue(r.Context(), envelope); err != nil {
		s.Log.Error("enqueue failed", zap.String("job_id", jobID), zap.Error(err))
		s.releaseAdmission(r.Context(), job)
		writeError(w, http.StatusInternalServerError, "intake unavailable")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{
		"job_id": jobID,
		"status": "queued",
	})
}

// releaseAdmission frees a reservation whose intake failed, so the
// caller's retry with the same key is admitted instead of being told a
// never-enqueued job is in flight.
func (s *Server) releaseAdmission(ctx context.Context, job domain.Job) {
	if err := s.Gate.Release(ctx, job.TenantID, job.IdempotencyKey, job.ID); err != nil {
		s.Log.Error("release admission failed", zap.String("job_id", job.ID), zap.Error(err))
	}
}

// replayDuplicate surfaces the first request's outcome (or an in-flight
// marker) instead of re-executing side effects.
func (s *Server) replayDuplicate(w http.ResponseWriter, r *http.Request, adm idempotency.Admission) {
	if adm.Mismatch {
		writeError(w, http.StatusConflict, "idempotency key reused with a different payload")
		return
	}
	if adm.InFlight {
		writeJSON(w, http.StatusAccepted, map[string]string{
			"job_id": adm.JobID,
			"status": "in_flight",
		})
		return
	}
	outcome, err := s.Store.GetOutcome(r.Context(), adm.JobID)
	if errors.Is(err, storage.ErrNotFound) {
		writeJSON(w, http.StatusAccepted, map[string]string{
			"job_id": adm.JobID,
			"status": "in_flight",
		})
		return
	}
	if err != nil {
		s.Log.Error("load prior outcome failed", zap.String("job_id", adm.JobID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "outcome unavailable")
		return
	}
	writeJSON(w, http.StatusOK, outcome)
}

func (s *Server) getPost(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "id")
	outcome, err := s.Store.GetOutcome(r.Context(), jobID)
	if err == nil {
		writeJSON(w, http.StatusOK, outcome)
		return
	}
	if !errors.Is(err, storage.ErrNotFound) {
		writeError(w, http.StatusInternalServerError, "outcome unavailable")
		return
	}
	status, err := s.Store.GetJobStatus(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, "job not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "outcome unavailable")
		return
	}
	if status == domain.JobDeadLettered {
		// Generic failure signal only; per-channel detail never existed
		// for an unrecoverable job.
		writeJSON(w, http.StatusOK, map[string]string{"job_id": jobID, "status": "failed"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"job_id": jobID, "status": "pending"})
}

func (s *Server) listDeadLetters(w http.ResponseWriter, r *http.Request) {
	dls, err := s.DLQ.PeekDeadLetters(r.Context(), 50)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "dead letters unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"dead_letters": dls})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
