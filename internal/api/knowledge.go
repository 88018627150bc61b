package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/minutes/internal/ingest"
	"github.com/kalambet/minutes/internal/storage"
)

type uploadOutcome struct {
	outcome
	ContentID string `json:"content_id,omitempty"`
}

func handleUploadKnowledge(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limitBody(w, r)
		if err := parseForm(r); err != nil {
			writeJSON(w, http.StatusBadRequest, outcome{Message: "invalid form body: " + err.Error()})
			return
		}

		timeout := deps.UploadTimeout
		if raw := strings.TrimSpace(r.FormValue("timeout")); raw != "" {
			secs, err := strconv.Atoi(raw)
			if err != nil || secs <= 0 {
				writeJSON(w, http.StatusBadRequest, outcome{Message: "timeout must be a positive number of seconds"})
				return
			}
			timeout = time.Duration(secs) * time.Second
		}

		meetingID := r.FormValue("meeting_id")
		start := time.Now()
		contentID, err := deps.Counsel.Upload(r.Context(), meetingID, r.FormValue("conversation"), timeout)
		observeUpload(deps, err, time.Since(start))
		if err != nil {
			slog.Warn("knowledge upload failed", "meeting_id", meetingID, "content_id", contentID, "error", err)
			code, _ := statusFor(err)
			writeJSON(w, code, uploadOutcome{
				outcome:   outcome{Success: false, Message: err.Error()},
				ContentID: contentID,
			})
			return
		}

		writeJSON(w, http.StatusOK, uploadOutcome{
			outcome:   outcome{Success: true, Message: "success"},
			ContentID: contentID,
		})
	}
}

func observeUpload(deps Deps, err error, elapsed time.Duration) {
	if deps.Metrics == nil {
		return
	}
	result := "completed"
	switch {
	case err == nil:
	case errors.Is(err, ingest.ErrTimeout):
		result = "timeout"
	case errors.Is(err, ingest.ErrFailed):
		result = "failed"
	default:
		result = "error"
	}
	deps.Metrics.ObserveUpload(result, elapsed)
}

func handleListUploads(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uploads := []storage.Upload{}
		if deps.Uploads != nil {
			var err error
			uploads, err = deps.Uploads.ListUploads(r.Context(), chi.URLParam(r, "meeting_id"))
			if err != nil {
				writeOutcomeError(w, err)
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"success": true,
			"uploads": uploads,
		})
	}
}
