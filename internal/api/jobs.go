// ABOUTME: Handlers for GET /api/jobs/stats and POST /api/jobs/cleanup.
// ABOUTME: Stats exposes aggregate counts only; cleanup enqueues a job.
package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/jimmitchell/vibereader/internal/jobs"
)

// jobStatsHandler returns the count of jobs per lifecycle state. Aggregate
// counts only: payloads and error messages stay out of the API to avoid
// information disclosure; details are for administrative store inspection.
func (srv *Server) jobStatsHandler(w http.ResponseWriter, r *http.Request) {
	stats, err := srv.store.Stats(r.Context())
	if err != nil {
		slog.ErrorContext(r.Context(), "job stats", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// cleanupResponse is the JSON body returned after enqueueing a cleanup job.
type cleanupResponse struct {
	JobID   int64  `json:"job_id"`
	Message string `json:"message"`
}

// enqueueCleanupHandler enqueues a cleanup_items job from an HTML form body.
// All fields are optional: feed_id scopes the sweep to one feed,
// retention_days and retention_count override the deployment defaults.
func (srv *Server) enqueueCleanupHandler(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "malformed form body", http.StatusBadRequest)
		return
	}

	var payload jobs.CleanupItemsPayload
	if v, err := positiveFormInt64(r, "feed_id"); err != nil {
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		return
	} else if v != nil {
		payload.FeedID = v
	}
	if v, err := positiveFormInt(r, "retention_days"); err != nil {
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		return
	} else if v != nil {
		payload.RetentionDays = v
	}
	if v, err := positiveFormInt(r, "retention_count"); err != nil {
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		return
	} else if v != nil {
		payload.RetentionCount = v
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	jobID, err := srv.store.EnqueueJob(r.Context(), jobs.TypeCleanupItems, raw, nil, srv.cfg.JobsMaxAttempts)
	if err != nil {
		slog.ErrorContext(r.Context(), "enqueue cleanup job", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusAccepted, cleanupResponse{
		JobID:   jobID,
		Message: "cleanup job queued",
	})
}

// positiveFormInt64 reads an optional positive integer form field. Returns
// (nil, nil) when the field is absent or empty.
func positiveFormInt64(r *http.Request, field string) (*int64, error) {
	raw := r.PostFormValue(field)
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || v <= 0 {
		return nil, fmt.Errorf("%s must be a positive integer", field)
	}
	return &v, nil
}

func positiveFormInt(r *http.Request, field string) (*int, error) {
	v, err := positiveFormInt64(r, field)
	if err != nil || v == nil {
		return nil, err
	}
	n := int(*v)
	return &n, nil
}
