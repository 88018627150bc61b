package api

import (
	"encoding/json"
	"errors"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/minutes/internal/task"
)

// conversationFrom reads the conversation from a JSON body
// {"conversation": "..."} or from a form field of the same name.
func conversationFrom(r *http.Request) (string, error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "application/json" {
		var body struct {
			Conversation string `json:"conversation"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			return "", err
		}
		return body.Conversation, nil
	}
	if err := parseForm(r); err != nil {
		return "", err
	}
	return r.FormValue("conversation"), nil
}

// parseForm parses urlencoded and multipart bodies alike.
func parseForm(r *http.Request) error {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "multipart/form-data" {
		return r.ParseMultipartForm(maxRequestBodySize)
	}
	return r.ParseForm()
}

func handleSummary(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limitBody(w, r)
		conversation, err := conversationFrom(r)
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if strings.TrimSpace(conversation) == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "conversation must not be empty")
			return
		}

		res := deps.Summarizer.Summarize(r.Context(), conversation)
		if !res.Success {
			writeJSON(w, http.StatusInternalServerError, res)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

type taskCreated struct {
	TaskID    string      `json:"task_id"`
	Status    task.Status `json:"status"`
	Message   string      `json:"message"`
	CreatedAt time.Time   `json:"created_at"`
}

func handleCreateTask(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limitBody(w, r)
		conversation, err := conversationFrom(r)
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}

		t, err := deps.Tasks.Submit(conversation)
		if err != nil {
			code, errType := statusFor(err)
			httpError(w, code, errType, "%v", err)
			return
		}
		if deps.Metrics != nil {
			deps.Metrics.ObserveTask(string(task.StatusPending), 0)
		}

		writeJSON(w, http.StatusOK, taskCreated{
			TaskID:    t.ID,
			Status:    t.Status,
			Message:   t.Message,
			CreatedAt: t.CreatedAt,
		})
	}
}

func handleGetTask(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		t, err := deps.Tasks.Get(chi.URLParam(r, "task_id"))
		if errors.Is(err, task.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "task not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get task: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, t)
	}
}

func handleListTasks(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tasks := deps.Tasks.List()
		writeJSON(w, http.StatusOK, map[string]any{
			"tasks": tasks,
			"total": len(tasks),
		})
	}
}
