// Package api exposes the HTTP surface of Rescribe: job submission and
// inspection under /v1, the liveness and readiness probes, and the Prometheus
// scrape endpoint.
//
// Authentication is out of scope. Callers identify themselves with the
// X-User-ID header and every job query is scoped to that identity, so users
// see their own jobs and nobody else's.
package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MrWong99/rescribe/internal/health"
	"github.com/MrWong99/rescribe/internal/observe"
	"github.com/MrWong99/rescribe/internal/store"
	"github.com/MrWong99/rescribe/pkg/types"
)

// userHeader carries the caller identity on every /v1 request.
const userHeader = "X-User-ID"

// defaultMaxUploadBytes caps uploads when the config does not say otherwise.
const defaultMaxUploadBytes = 512 << 20

// Config assembles a [Server].
type Config struct {
	// Store is the job store. Required.
	Store *store.Store

	// UploadDir is where submitted audio files are written. Required; must
	// exist and be writable.
	UploadDir string

	// MaxUploadBytes caps the size of one upload request. Values <= 0 fall
	// back to 512 MiB.
	MaxUploadBytes int64

	// Health serves /healthz and /readyz. Optional; a checkerless handler
	// is used when nil.
	Health *health.Handler

	// Metrics instruments the /v1 routes. Optional; defaults to the
	// process-wide instruments.
	Metrics *observe.Metrics
}

// Server handles the Rescribe HTTP API.
type Server struct {
	store          *store.Store
	uploadDir      string
	maxUploadBytes int64
	health         *health.Handler
	metrics        *observe.Metrics
}

// New creates a Server from cfg, filling defaults for optional fields.
func New(cfg Config) *Server {
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = defaultMaxUploadBytes
	}
	if cfg.Health == nil {
		cfg.Health = health.New()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}
	return &Server{
		store:          cfg.Store,
		uploadDir:      cfg.UploadDir,
		maxUploadBytes: cfg.MaxUploadBytes,
		health:         cfg.Health,
		metrics:        cfg.Metrics,
	}
}

// Handler returns the root http.Handler:
//
//	POST /v1/jobs                   — multipart audio upload, queues a job
//	GET  /v1/jobs                   — the caller's jobs, optional ?status=
//	GET  /v1/jobs/{id}              — one job incl. transcript when done
//	GET  /v1/jobs/{id}/corrections  — the job's second-pass audit trail
//	GET  /healthz, GET /readyz      — probes
//	GET  /metrics                   — Prometheus scrape
//
// The /v1 routes run behind the tracing and metrics middleware; the probe
// and scrape routes do not, so monitoring traffic stays out of the request
// telemetry.
func (s *Server) Handler() http.Handler {
	v1 := http.NewServeMux()
	v1.HandleFunc("POST /v1/jobs", s.handleCreateJob)
	v1.HandleFunc("GET /v1/jobs", s.handleListJobs)
	v1.HandleFunc("GET /v1/jobs/{id}", s.handleGetJob)
	v1.HandleFunc("GET /v1/jobs/{id}/corrections", s.handleListCorrections)

	root := http.NewServeMux()
	root.Handle("/v1/", observe.Middleware(s.metrics)(v1))
	root.Handle("GET /metrics", promhttp.Handler())
	s.health.Register(root)
	return root
}

// jobResponse is the JSON shape of one job.
type jobResponse struct {
	ID                string    `json:"id"`
	Status            string    `json:"status"`
	OriginalFilename  string    `json:"original_filename"`
	Transcript        string    `json:"transcript,omitempty"`
	ErrorMessage      string    `json:"error_message,omitempty"`
	WebhookURL        string    `json:"webhook_url,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
	ProcessingStarted time.Time `json:"processing_started,omitzero"`
	ProcessingEnded   time.Time `json:"processing_ended,omitzero"`
}

func toJobResponse(job types.Job) jobResponse {
	return jobResponse{
		ID:                job.ID,
		Status:            string(job.Status),
		OriginalFilename:  job.OriginalFilename,
		Transcript:        job.Transcript,
		ErrorMessage:      job.ErrorMessage,
		WebhookURL:        job.WebhookURL,
		CreatedAt:         job.CreatedAt,
		UpdatedAt:         job.UpdatedAt,
		ProcessingStarted: job.ProcessingStarted,
		ProcessingEnded:   job.ProcessingEnded,
	}
}

// listJobsResponse is the JSON body returned from the job list endpoint.
type listJobsResponse struct {
	Jobs []jobResponse `json:"jobs"`
}

// correctionResponse is the JSON shape of one audit-trail record. The clip
// path stays server-side.
type correctionResponse struct {
	ID                int64     `json:"id"`
	SegmentID         int64     `json:"segment_id"`
	OriginalText      string    `json:"original_text"`
	CorrectedText     string    `json:"corrected_text"`
	TriggerConfidence float64   `json:"trigger_confidence"`
	ClipStart         float64   `json:"clip_start"`
	ClipEnd           float64   `json:"clip_end"`
	EditDistance      int       `json:"edit_distance"`
	Applied           bool      `json:"applied"`
	RejectReason      string    `json:"reject_reason,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
}

// listCorrectionsResponse is the JSON body returned from the corrections
// endpoint.
type listCorrectionsResponse struct {
	Corrections []correctionResponse `json:"corrections"`
}

// handleCreateJob handles POST /v1/jobs. The request is a multipart form
// with the audio in the "file" field and an optional "webhook_url" field
// that overrides the configured notification target for this job.
func (s *Server) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	userID := r.Header.Get(userHeader)
	if userID == "" {
		http.Error(w, userHeader+" header is required", http.StatusBadRequest)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes)
	file, header, err := r.FormFile("file")
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			http.Error(w, "upload exceeds the size limit", http.StatusRequestEntityTooLarge)
			return
		}
		http.Error(w, `multipart field "file" is required`, http.StatusBadRequest)
		return
	}
	defer func() { _ = file.Close() }()

	webhook := r.FormValue("webhook_url")
	if webhook != "" {
		u, err := url.Parse(webhook)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
			http.Error(w, "webhook_url must be an absolute http(s) URL", http.StatusBadRequest)
			return
		}
	}

	original := filepath.Base(header.Filename)
	if original == "." || original == "/" || original == "" {
		original = "upload"
	}
	dst := filepath.Join(s.uploadDir, uuid.NewString()+"_"+original)

	out, err := os.Create(dst)
	if err != nil {
		observe.Logger(r.Context()).Error("api: store upload", "error", err)
		http.Error(w, "could not store upload", http.StatusInternalServerError)
		return
	}
	_, err = io.Copy(out, file)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(dst)
		observe.Logger(r.Context()).Error("api: store upload", "error", err)
		http.Error(w, "could not store upload", http.StatusInternalServerError)
		return
	}

	job := &types.Job{
		UserID:           userID,
		AudioPath:        dst,
		OriginalFilename: original,
		WebhookURL:       webhook,
	}
	if err := s.store.CreateJob(r.Context(), job); err != nil {
		_ = os.Remove(dst)
		observe.Logger(r.Context()).Error("api: create job", "error", err)
		http.Error(w, "could not create job", http.StatusInternalServerError)
		return
	}

	observe.Logger(r.Context()).Info("job queued", "job_id", job.ID, "file", original, "user_id", userID)
	writeJSON(w, http.StatusCreated, toJobResponse(*job))
}

// handleListJobs handles GET /v1/jobs. Results are the caller's jobs newest
// first, optionally narrowed by ?status= and capped by ?limit=.
func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	userID := r.Header.Get(userHeader)
	if userID == "" {
		http.Error(w, userHeader+" header is required", http.StatusBadRequest)
		return
	}

	var status types.JobStatus
	if raw := r.URL.Query().Get("status"); raw != "" {
		status = types.JobStatus(strings.ToUpper(raw))
		if !status.IsValid() {
			http.Error(w, "unknown status "+strconv.Quote(raw), http.StatusBadRequest)
			return
		}
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			http.Error(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = n
	}

	jobs, err := s.store.ListJobs(r.Context(), userID, status, limit)
	if err != nil {
		observe.Logger(r.Context()).Error("api: list jobs", "error", err)
		http.Error(w, "could not list jobs", http.StatusInternalServerError)
		return
	}

	resp := listJobsResponse{Jobs: make([]jobResponse, 0, len(jobs))}
	for _, job := range jobs {
		resp.Jobs = append(resp.Jobs, toJobResponse(job))
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleGetJob handles GET /v1/jobs/{id}. A job owned by someone else is
// indistinguishable from a missing one.
func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	userID := r.Header.Get(userHeader)
	if userID == "" {
		http.Error(w, userHeader+" header is required", http.StatusBadRequest)
		return
	}

	job, err := s.store.GetJob(r.Context(), r.PathValue("id"))
	if err != nil {
		observe.Logger(r.Context()).Error("api: get job", "error", err)
		http.Error(w, "could not load job", http.StatusInternalServerError)
		return
	}
	if job == nil || job.UserID != userID {
		http.Error(w, "job not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, toJobResponse(*job))
}

// handleListCorrections handles GET /v1/jobs/{id}/corrections.
func (s *Server) handleListCorrections(w http.ResponseWriter, r *http.Request) {
	userID := r.Header.Get(userHeader)
	if userID == "" {
		http.Error(w, userHeader+" header is required", http.StatusBadRequest)
		return
	}

	job, err := s.store.GetJob(r.Context(), r.PathValue("id"))
	if err != nil {
		observe.Logger(r.Context()).Error("api: get job", "error", err)
		http.Error(w, "could not load job", http.StatusInternalServerError)
		return
	}
	if job == nil || job.UserID != userID {
		http.Error(w, "job not found", http.StatusNotFound)
		return
	}

	corrections, err := s.store.CorrectionsByJob(r.Context(), job.ID)
	if err != nil {
		observe.Logger(r.Context()).Error("api: list corrections", "error", err)
		http.Error(w, "could not list corrections", http.StatusInternalServerError)
		return
	}

	resp := listCorrectionsResponse{Corrections: make([]correctionResponse, 0, len(corrections))}
	for _, c := range corrections {
		resp.Corrections = append(resp.Corrections, correctionResponse{
			ID:                c.ID,
			SegmentID:         c.SegmentID,
			OriginalText:      c.OriginalText,
			CorrectedText:     c.CorrectedText,
			TriggerConfidence: c.TriggerConfidence,
			ClipStart:         c.ClipStart,
			ClipEnd:           c.ClipEnd,
			EditDistance:      c.EditDistance,
			Applied:           c.Applied,
			RejectReason:      c.RejectReason,
			CreatedAt:         c.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

// writeJSON encodes v as JSON and writes it with the given status code. On
// encoding failure it falls back to a plain-text 500 response.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"status":"error"}`, http.StatusInternalServerError)
	}
}
