package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/minutes/internal/agno"
	"github.com/kalambet/minutes/internal/counsel"
)

// streamError is the final event written when a counsel stream fails.
type streamError struct {
	counsel.Record
	Error string `json:"error"`
}

const statusError = "error"

func handleCounsel(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limitBody(w, r)
		if err := parseForm(r); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid form body: %v", err)
			return
		}
		meetingID := r.FormValue("meeting_id")

		seq, err := deps.Counsel.Ask(r.Context(), meetingID, r.FormValue("message"))
		if err != nil {
			code, errType := statusFor(err)
			httpError(w, code, errType, "%v", err)
			return
		}

		flusher, ok := w.(http.Flusher)
		if !ok {
			httpError(w, http.StatusInternalServerError, "api_error", "streaming not supported")
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.WriteHeader(http.StatusOK)
		flusher.Flush()

		m := deps.Metrics
		if m != nil {
			m.CounselStreamsActive.Inc()
			defer m.CounselStreamsActive.Dec()
		}

		result := "ok"
		for rec, err := range seq {
			if err != nil {
				slog.Warn("counsel stream failed", "meeting_id", meetingID, "error", err)
				result = "error"
				writeEvent(w, streamError{Record: counsel.Record{Status: statusError}, Error: err.Error()})
				flusher.Flush()
				break
			}
			if werr := writeEvent(w, rec); werr != nil {
				// Client went away; stop reading upstream.
				slog.Debug("counsel client disconnected", "meeting_id", meetingID, "error", werr)
				result = "disconnected"
				break
			}
			flusher.Flush()
			if m != nil {
				m.CounselRecordsTotal.WithLabelValues(rec.Status).Inc()
			}
		}
		if m != nil {
			m.CounselStreamsTotal.WithLabelValues(result).Inc()
		}
	}
}

func writeEvent(w http.ResponseWriter, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "data: %s\n\n", payload)
	return err
}

type historyOutcome struct {
	Success bool                   `json:"success"`
	History []counsel.HistoryEntry `json:"history"`
	Message string                 `json:"message"`
}

func handleGetHistory(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		history, err := deps.Counsel.History(r.Context(), chi.URLParam(r, "meeting_id"))
		if err != nil {
			code, _ := statusFor(err)
			if agno.IsNotFound(err) {
				code = http.StatusNotFound
			}
			writeJSON(w, code, historyOutcome{History: []counsel.HistoryEntry{}, Message: err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, historyOutcome{Success: true, History: history, Message: "success"})
	}
}

func handleDeleteHistory(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := deps.Counsel.ClearHistory(r.Context(), chi.URLParam(r, "meeting_id")); err != nil {
			code, _ := statusFor(err)
			if agno.IsNotFound(err) {
				code = http.StatusNotFound
			}
			writeJSON(w, code, outcome{Success: false, Message: err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, outcome{Success: true, Message: "success"})
	}
}
