package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path"
	"time"

	"github.com/panjf2000/ants/v2"

	"talksync/internal/comfy"
	"talksync/internal/domain"
	"talksync/internal/infra"
	"talksync/internal/orchestrator"
	"talksync/internal/storage"
)

// TaskQueue is the slice of the task repository the worker needs.
type TaskQueue interface {
	Claim(ctx context.Context) (*domain.Task, error)
	Progress(ctx context.Context, id, node string, value, max int) error
	Finish(ctx context.Context, id string, status domain.TaskStatus, result []byte) error
}

// Runner executes one generation request to a terminal result.
type Runner interface {
	Run(ctx context.Context, req *domain.TaskRequest, progress orchestrator.ProgressFunc) *domain.TaskResult
}

type Options struct {
	Queue  TaskQueue
	Runner Runner
	Store  *storage.FileStore
	Logger infra.Logger
	// Concurrency caps how many tasks run at once; the engine serializes
	// heavy work itself, so this mainly bounds input resolution and I/O.
	Concurrency  int
	PollInterval time.Duration
	TaskTimeout  time.Duration
}

// Worker drains the durable task queue: claim, run, persist the outcome.
// A task's terminal row is written exactly once.
type Worker struct {
	queue        TaskQueue
	runner       Runner
	store        *storage.FileStore
	logger       infra.Logger
	pool         *ants.Pool
	pollInterval time.Duration
	taskTimeout  time.Duration
}

func New(opts Options) (*Worker, error) {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 2 * time.Second
	}
	if opts.TaskTimeout <= 0 {
		opts.TaskTimeout = time.Hour
	}
	logger := opts.Logger
	pool, err := ants.NewPool(opts.Concurrency, ants.WithPanicHandler(func(p any) {
		logger.Error().Msgf("worker: panic in task: %v", p)
	}))
	if err != nil {
		return nil, fmt.Errorf("worker: create pool: %w", err)
	}
	return &Worker{
		queue:        opts.Queue,
		runner:       opts.Runner,
		store:        opts.Store,
		logger:       logger,
		pool:         pool,
		pollInterval: opts.PollInterval,
		taskTimeout:  opts.TaskTimeout,
	}, nil
}

// Run claims and processes tasks until the context is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info().Int("concurrency", w.pool.Cap()).Msg("worker: started")
	defer w.pool.Release()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		// Claim only when a slot is free so a queued row never sits claimed
		// but idle.
		if w.pool.Free() == 0 {
			w.sleep(ctx)
			continue
		}

		task, err := w.queue.Claim(ctx)
		if err != nil {
			w.logger.Error().Err(err).Msg("worker: claim failed")
			w.sleep(ctx)
			continue
		}
		if task == nil {
			w.sleep(ctx)
			continue
		}

		claimed := task
		if err := w.pool.Submit(func() { w.process(ctx, claimed) }); err != nil {
			w.logger.Error().Err(err).Str("task_id", claimed.ID).Msg("worker: submit to pool failed")
			w.finish(ctx, claimed.ID, &domain.TaskResult{
				Status: domain.TaskStatusFailed,
				Failure: &domain.TaskFailure{
					Stage:    domain.StageGateway,
					Category: domain.CategoryInternal,
					Message:  "worker pool unavailable",
				},
			})
		}
	}
}

func (w *Worker) sleep(ctx context.Context) {
	select {
	case <-ctx.Done():
	case <-time.After(w.pollInterval):
	}
}

func (w *Worker) process(ctx context.Context, task *domain.Task) {
	w.logger.Info().Str("task_id", task.ID).Msg("worker: picked task")

	taskCtx, cancel := context.WithTimeout(ctx, w.taskTimeout)
	defer cancel()

	var req domain.TaskRequest
	if err := json.Unmarshal(task.Request, &req); err != nil {
		w.finish(ctx, task.ID, &domain.TaskResult{
			Status: domain.TaskStatusFailed,
			Failure: &domain.TaskFailure{
				Stage:    domain.StageValidate,
				Category: domain.CategoryValidation,
				Message:  "stored request is unreadable: " + err.Error(),
			},
		})
		return
	}

	result := w.runner.Run(taskCtx, &req, func(evt comfy.Event) {
		switch evt.Kind {
		case comfy.EventExecuting:
			w.recordProgress(ctx, task.ID, evt.Node, 0, 0)
		case comfy.EventProgress:
			w.recordProgress(ctx, task.ID, evt.Node, evt.Value, evt.Max)
		}
	})

	if result.Succeeded() {
		result = w.persistArtifact(ctx, task.ID, result)
	}
	w.finish(ctx, task.ID, result)
}

// persistArtifact copies the engine-local output into the artifact store and
// rewrites the result to carry a storage key instead of an engine path.
func (w *Worker) persistArtifact(ctx context.Context, taskID string, result *domain.TaskResult) *domain.TaskResult {
	data, err := os.ReadFile(result.ArtifactPath)
	if err != nil {
		w.logger.Error().Err(err).Str("task_id", taskID).Msg("worker: read artifact failed")
		return &domain.TaskResult{
			Status: domain.TaskStatusFailed,
			Failure: &domain.TaskFailure{
				Stage:    domain.StageFetch,
				Category: domain.CategoryInternal,
				Message:  "produced video unreadable: " + err.Error(),
			},
		}
	}
	key, err := w.store.Write(ctx, path.Join("generated/videos", taskID, "output.mp4"), data)
	if err != nil {
		w.logger.Error().Err(err).Str("task_id", taskID).Msg("worker: store artifact failed")
		return &domain.TaskResult{
			Status: domain.TaskStatusFailed,
			Failure: &domain.TaskFailure{
				Stage:    domain.StageFetch,
				Category: domain.CategoryInternal,
				Message:  "failed to store produced video: " + err.Error(),
			},
		}
	}
	return &domain.TaskResult{Status: domain.TaskStatusCompleted, StorageKey: key}
}

func (w *Worker) recordProgress(ctx context.Context, taskID, node string, value, max int) {
	if err := w.queue.Progress(ctx, taskID, node, value, max); err != nil {
		w.logger.Warn().Err(err).Str("task_id", taskID).Msg("worker: progress update failed")
	}
}

func (w *Worker) finish(ctx context.Context, taskID string, result *domain.TaskResult) {
	payload, err := json.Marshal(result)
	if err != nil {
		w.logger.Error().Err(err).Str("task_id", taskID).Msg("worker: encode result failed")
		payload = []byte(`{"status":"FAILED"}`)
	}
	if err := w.queue.Finish(ctx, taskID, result.Status, payload); err != nil {
		w.logger.Error().Err(err).Str("task_id", taskID).Msg("worker: finish failed")
		return
	}
	w.logger.Info().Str("task_id", taskID).Str("status", string(result.Status)).Msg("worker: task finished")
}
