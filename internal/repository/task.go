package repository

import (
	"context"
	"errors"
	"time"

	"task-tracker/internal/domain"
)

var (
	// ErrNotFound is returned when a row does not exist for the given owner.
	ErrNotFound = errors.New("not found")
	// ErrDuplicate is returned when a unique constraint rejects an insert.
	ErrDuplicate = errors.New("duplicate")
)

// TaskRepository exposes owner-scoped persistence operations for tasks.
// Every method filters on ownerID; rows belonging to other users behave as
// if they did not exist.
type TaskRepository interface {
	Init(ctx context.Context) error
	Create(ctx context.Context, task *domain.Task) (int64, error)
	Get(ctx context.Context, ownerID, id int64) (*domain.Task, error)
	List(ctx context.Context, ownerID int64, filter domain.TaskFilter) ([]domain.Task, error)
	Categories(ctx context.Context, ownerID int64) ([]string, error)
	Toggle(ctx context.Context, ownerID, id int64) error
	Update(ctx context.Context, ownerID, id int64, title, category string, dueDate *time.Time) error
	Delete(ctx context.Context, ownerID, id int64) error
	Stats(ctx context.Context, ownerID int64, today time.Time) (domain.TaskStats, error)
}
