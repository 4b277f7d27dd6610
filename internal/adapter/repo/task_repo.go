package repo

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"talksync/internal/domain"
	"talksync/internal/infra"
	"talksync/internal/sqlinline"
)

// TaskRepositoryPG persists deferred-mode tasks in PostgreSQL. Claiming uses
// FOR UPDATE SKIP LOCKED so concurrent workers never pick the same task.
type TaskRepositoryPG struct {
	db infra.SQLExecutor
}

// NewTaskRepository creates a task repository backed by PostgreSQL.
func NewTaskRepository(db infra.SQLExecutor) *TaskRepositoryPG {
	return &TaskRepositoryPG{db: db}
}

// Enqueue inserts a new QUEUED task with its raw request payload.
func (r *TaskRepositoryPG) Enqueue(ctx context.Context, id string, request []byte) error {
	row := r.db.QueryRow(ctx, sqlinline.QEnqueueTask, id, request)
	var createdAt any
	return row.Scan(&createdAt)
}

// Claim atomically moves the oldest QUEUED task to RUNNING and returns it.
// It returns (nil, nil) when the queue is empty.
func (r *TaskRepositoryPG) Claim(ctx context.Context) (*domain.Task, error) {
	row := r.db.QueryRow(ctx, sqlinline.QClaimTask)
	task := domain.Task{Status: domain.TaskStatusRunning}
	if err := row.Scan(&task.ID, &task.Request); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &task, nil
}

// Progress records the currently executing graph node and its step counter.
func (r *TaskRepositoryPG) Progress(ctx context.Context, id, node string, value, max int) error {
	_, err := r.db.Exec(ctx, sqlinline.QTaskProgress, id, node, value, max)
	return err
}

// Finish stores the terminal status and the serialized result.
func (r *TaskRepositoryPG) Finish(ctx context.Context, id string, status domain.TaskStatus, result []byte) error {
	_, err := r.db.Exec(ctx, sqlinline.QFinishTask, id, status, result)
	return err
}

// Get fetches a task by its identifier.
func (r *TaskRepositoryPG) Get(ctx context.Context, id string) (*domain.Task, error) {
	row := r.db.QueryRow(ctx, sqlinline.QTaskByID, id)
	var task domain.Task
	var node, result *string
	if err := row.Scan(
		&task.ID,
		&task.Status,
		&task.Request,
		&result,
		&node,
		&task.Progress,
		&task.ProgressOf,
		&task.CreatedAt,
		&task.UpdatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.NewError(domain.CategoryNotFound, "task not found: "+id)
		}
		return nil, err
	}
	if node != nil {
		task.Node = *node
	}
	if result != nil {
		task.Result = []byte(*result)
	}
	return &task, nil
}
