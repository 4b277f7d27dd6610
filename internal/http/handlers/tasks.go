package handlers

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"talksync/internal/domain"
)

// maxTaskBody caps the accepted request size; inline base64 inputs can be
// large but not unbounded.
const maxTaskBody = 256 << 20

type taskCreatedResponse struct {
	TaskID string            `json:"task_id"`
	Status domain.TaskStatus `json:"status"`
}

// TasksCreate accepts a request into the durable queue and returns
// immediately. A worker picks it up; acceptance survives process restarts.
func (a *App) TasksCreate(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxTaskBody))
	if err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "failed to read payload")
		return
	}
	var req domain.TaskRequest
	if err := json.Unmarshal(body, &req); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}
	if err := req.Validate(); err != nil {
		a.failure(w, &domain.TaskFailure{
			Stage:    domain.StageValidate,
			Category: domain.CategoryOf(err),
			Message:  domain.MessageOf(err),
		})
		return
	}

	id := uuid.NewString()
	if err := a.Tasks.Enqueue(r.Context(), id, body); err != nil {
		a.Logger.Error().Err(err).Msg("handlers: enqueue task")
		a.error(w, http.StatusInternalServerError, "internal", "failed to queue task")
		return
	}
	a.json(w, http.StatusAccepted, taskCreatedResponse{TaskID: id, Status: domain.TaskStatusQueued})
}

// TaskStatus reports the lifecycle state of a queued task, including the
// engine node currently executing and its step counter while RUNNING.
func (a *App) TaskStatus(w http.ResponseWriter, r *http.Request) {
	task := a.loadTask(w, r)
	if task == nil {
		return
	}

	resp := map[string]any{
		"task_id":    task.ID,
		"status":     task.Status,
		"created_at": task.CreatedAt,
		"updated_at": task.UpdatedAt,
	}
	if task.Node != "" {
		resp["node"] = task.Node
		resp["progress"] = task.Progress
		resp["progress_of"] = task.ProgressOf
	}
	if task.Status == domain.TaskStatusFailed && len(task.Result) > 0 {
		var result domain.TaskResult
		if err := json.Unmarshal(task.Result, &result); err == nil && result.Failure != nil {
			resp["error"] = result.Failure
		}
	}
	a.json(w, http.StatusOK, resp)
}

// TaskResult serves the finished video for a completed task. Anything not
// yet terminal is a conflict, not an error in the task itself.
func (a *App) TaskResult(w http.ResponseWriter, r *http.Request) {
	task := a.loadTask(w, r)
	if task == nil {
		return
	}

	switch task.Status {
	case domain.TaskStatusCompleted:
		var result domain.TaskResult
		if err := json.Unmarshal(task.Result, &result); err != nil || result.StorageKey == "" {
			a.error(w, http.StatusInternalServerError, "internal", "task result is unreadable")
			return
		}
		data, err := a.Files.Read(r.Context(), result.StorageKey)
		if err != nil {
			a.Logger.Error().Err(err).Str("task_id", task.ID).Msg("handlers: read stored video")
			a.error(w, http.StatusInternalServerError, "internal", "stored video unavailable")
			return
		}
		w.Header().Set("Content-Type", "video/mp4")
		w.Header().Set("Content-Disposition", `attachment; filename="`+task.ID+`.mp4"`)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(data)

	case domain.TaskStatusFailed:
		var result domain.TaskResult
		if err := json.Unmarshal(task.Result, &result); err != nil || result.Failure == nil {
			a.error(w, http.StatusInternalServerError, "internal", "task result is unreadable")
			return
		}
		a.failure(w, result.Failure)

	default:
		a.error(w, http.StatusConflict, "not_ready", "task is "+string(task.Status))
	}
}

func (a *App) loadTask(w http.ResponseWriter, r *http.Request) *domain.Task {
	id := chi.URLParam(r, "task_id")
	if id == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "task_id required")
		return nil
	}
	task, err := a.Tasks.Get(r.Context(), id)
	if err != nil {
		if domain.CategoryOf(err) == domain.CategoryNotFound {
			a.error(w, http.StatusNotFound, "not_found", "task not found")
			return nil
		}
		a.Logger.Error().Err(err).Str("task_id", id).Msg("handlers: load task")
		a.error(w, http.StatusInternalServerError, "internal", "failed to load task")
		return nil
	}
	return task
}
