package http

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"time"

	"github.com/Strob0t/TraceLab/internal/domain/event"
	"github.com/Strob0t/TraceLab/internal/service"
)

// HealthCheck probes one dependency.
type HealthCheck func(ctx context.Context) error

// Handlers holds the services the HTTP surface exposes.
type Handlers struct {
	Ingest       *service.IngestService
	Counts       *service.CountsService
	Export       *service.ExportService
	HealthChecks map[string]HealthCheck
	BodyLimit    int64
}

type statusResponse struct {
	Status string `json:"status"`
}

// StoreTelemetry handles POST /store/{stream}. Producers are never told
// whether a submission was stored: every request on a known stream is
// answered 202.
func (h *Handlers) StoreTelemetry(w http.ResponseWriter, r *http.Request) {
	stream, ok := service.ParseStream(urlParam(r, "stream"))
	if !ok {
		writeError(w, http.StatusNotFound, "unknown telemetry stream")
		return
	}

	// The producer may hang up right after sending; the submission is
	// still processed.
	ctx := context.WithoutCancel(r.Context())
	defer writeJSON(w, http.StatusAccepted, statusResponse{Status: "accepted"})

	body, err := readBody(w, r, h.BodyLimit)
	if err != nil {
		slog.WarnContext(ctx, "telemetry body unreadable", "stream", stream, "error", err)
		return
	}

	if !isForm(r) {
		h.Ingest.IngestJSON(ctx, stream, body)
		return
	}
	fields, err := formFields(body)
	if err != nil {
		slog.WarnContext(ctx, "telemetry form undecodable", "stream", stream, "error", err)
		return
	}
	h.Ingest.IngestFields(ctx, stream, fields)
}

func isForm(r *http.Request) bool {
	mt, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	return err == nil && mt == "application/x-www-form-urlencoded"
}

// formFields flattens a urlencoded body, keeping the first value of each key.
func formFields(body []byte) (event.Fields, error) {
	values, err := url.ParseQuery(string(body))
	if err != nil {
		return nil, err
	}
	fields := make(event.Fields, len(values))
	for k, v := range values {
		if len(v) > 0 {
			fields[k] = v[0]
		}
	}
	return fields, nil
}

// ExportExperiment handles GET /api/v1/experiments/{id}/export. The report
// is rendered completely before the first byte is sent, so a failure
// yields an error response instead of a truncated file.
func (h *Handlers) ExportExperiment(w http.ResponseWriter, r *http.Request) {
	experiment, ok := idParam(w, r, "id")
	if !ok {
		return
	}

	var buf bytes.Buffer
	if err := h.Export.Export(r.Context(), experiment, &buf); err != nil {
		writeDomainError(w, err, "experiment not found")
		return
	}

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="experiment_%d.csv"`, experiment))
	w.WriteHeader(http.StatusOK)
	if _, err := buf.WriteTo(w); err != nil {
		slog.WarnContext(r.Context(), "export download interrupted", "experiment", experiment, "error", err)
	}
}

// ParticipantCounts handles GET /api/v1/experiments/{id}/participants/{user}/counts.
func (h *Handlers) ParticipantCounts(w http.ResponseWriter, r *http.Request) {
	experiment, ok := idParam(w, r, "id")
	if !ok {
		return
	}
	user, ok := idParam(w, r, "user")
	if !ok {
		return
	}

	sum, err := h.Counts.CountsFor(r.Context(), experiment, user)
	if err != nil {
		writeDomainError(w, err, "participant not found")
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

// LatestCode handles GET /api/v1/experiments/{id}/participants/{user}/code.
func (h *Handlers) LatestCode(w http.ResponseWriter, r *http.Request) {
	experiment, ok := idParam(w, r, "id")
	if !ok {
		return
	}
	user, ok := idParam(w, r, "user")
	if !ok {
		return
	}

	snap, err := h.Counts.LatestCode(r.Context(), experiment, user)
	if err != nil {
		writeDomainError(w, err, "no code snapshot for participant")
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

type healthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// Health handles GET /health. It answers 503 when any dependency check fails.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	resp := healthResponse{Status: "ok", Checks: make(map[string]string, len(h.HealthChecks))}
	status := http.StatusOK
	for name, check := range h.HealthChecks {
		if err := check(ctx); err != nil {
			slog.WarnContext(ctx, "health check failed", "check", name, "error", err)
			resp.Checks[name] = "down"
			resp.Status = "degraded"
			status = http.StatusServiceUnavailable
			continue
		}
		resp.Checks[name] = "up"
	}
	writeJSON(w, status, resp)
}
