package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"talksync/internal/domain"
	"talksync/internal/infra"
	"talksync/internal/orchestrator"
	"talksync/internal/storage"
)

// JobRunner executes one generation request to a terminal result. Satisfied
// by the orchestrator; faked in handler tests.
type JobRunner interface {
	Run(ctx context.Context, req *domain.TaskRequest, progress orchestrator.ProgressFunc) *domain.TaskResult
}

// TaskStore is the slice of the task repository the gateway needs.
type TaskStore interface {
	Enqueue(ctx context.Context, id string, request []byte) error
	Get(ctx context.Context, id string) (*domain.Task, error)
}

// Pinger reports whether the task queue's database is reachable.
// *pgxpool.Pool satisfies it.
type Pinger interface {
	Ping(ctx context.Context) error
}

type App struct {
	Runner JobRunner
	Tasks  TaskStore
	Files  *storage.FileStore
	DB     Pinger
	Logger infra.Logger
	// SyncTimeout bounds how long the immediate endpoint waits for a result
	// before handing the caller a timeout. The job itself keeps running.
	SyncTimeout time.Duration
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *App) error(w http.ResponseWriter, code int, errCode, message string) {
	a.json(w, code, map[string]any{"error": map[string]string{"code": errCode, "message": message}})
}

// failure writes a structured task failure with the category's status code.
func (a *App) failure(w http.ResponseWriter, failure *domain.TaskFailure) {
	a.json(w, failure.Category.HTTPStatus(), map[string]any{
		"status": domain.TaskStatusFailed,
		"error":  failure,
	})
}
