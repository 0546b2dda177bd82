package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"task-tracker/internal/domain"
	"task-tracker/internal/repository"
)

// TaskInput carries the mutable fields of a task. An empty DueDate means no
// due date; otherwise it must be in domain.DateLayout.
type TaskInput struct {
	Title    string
	Category string
	DueDate  string
}

// TaskService coordinates owner-scoped task operations backed by a repository.
type TaskService interface {
	Create(ctx context.Context, ownerID int64, in TaskInput) (*domain.Task, error)
	Get(ctx context.Context, ownerID, id int64) (*domain.Task, error)
	List(ctx context.Context, ownerID int64, filter domain.TaskFilter) ([]domain.Task, error)
	Categories(ctx context.Context, ownerID int64) ([]string, error)
	Stats(ctx context.Context, ownerID int64) (domain.TaskStats, error)
	Toggle(ctx context.Context, ownerID, id int64) (*domain.Task, error)
	Edit(ctx context.Context, ownerID, id int64, in TaskInput) (*domain.Task, error)
	Delete(ctx context.Context, ownerID, id int64) error
}

type taskService struct {
	tasks repository.TaskRepository
	now   func() time.Time
}

func NewTaskService(tasks repository.TaskRepository) TaskService {
	return &taskService{
		tasks: tasks,
		now:   time.Now,
	}
}

func (s *taskService) Create(ctx context.Context, ownerID int64, in TaskInput) (*domain.Task, error) {
	title, category, due, err := normalizeInput(in)
	if err != nil {
		return nil, err
	}

	task := &domain.Task{
		OwnerID:   ownerID,
		Title:     title,
		Category:  category,
		DueDate:   due,
		CreatedAt: s.now().UTC(),
	}
	if _, err := s.tasks.Create(ctx, task); err != nil {
		return nil, err
	}
	return task, nil
}

func (s *taskService) Get(ctx context.Context, ownerID, id int64) (*domain.Task, error) {
	task, err := s.tasks.Get(ctx, ownerID, id)
	if err != nil {
		return nil, mapNotFound(err)
	}
	return task, nil
}

func (s *taskService) List(ctx context.Context, ownerID int64, filter domain.TaskFilter) ([]domain.Task, error) {
	filter.Status = domain.ParseStatusFilter(string(filter.Status))
	filter.Search = strings.TrimSpace(filter.Search)
	filter.Category = strings.TrimSpace(filter.Category)
	return s.tasks.List(ctx, ownerID, filter)
}

func (s *taskService) Categories(ctx context.Context, ownerID int64) ([]string, error) {
	return s.tasks.Categories(ctx, ownerID)
}

func (s *taskService) Stats(ctx context.Context, ownerID int64) (domain.TaskStats, error) {
	return s.tasks.Stats(ctx, ownerID, s.now().UTC())
}

func (s *taskService) Toggle(ctx context.Context, ownerID, id int64) (*domain.Task, error) {
	if err := s.tasks.Toggle(ctx, ownerID, id); err != nil {
		return nil, mapNotFound(err)
	}
	return s.Get(ctx, ownerID, id)
}

// Edit overwrites title, category and due date. Omitted fields are cleared,
// not preserved.
func (s *taskService) Edit(ctx context.Context, ownerID, id int64, in TaskInput) (*domain.Task, error) {
	title, category, due, err := normalizeInput(in)
	if err != nil {
		return nil, err
	}
	if err := s.tasks.Update(ctx, ownerID, id, title, category, due); err != nil {
		return nil, mapNotFound(err)
	}
	return s.Get(ctx, ownerID, id)
}

func (s *taskService) Delete(ctx context.Context, ownerID, id int64) error {
	if err := s.tasks.Delete(ctx, ownerID, id); err != nil {
		return mapNotFound(err)
	}
	return nil
}

func normalizeInput(in TaskInput) (string, string, *time.Time, error) {
	title := strings.TrimSpace(in.Title)
	if title == "" {
		return "", "", nil, ErrTitleRequired
	}
	due, err := ParseDueDate(in.DueDate)
	if err != nil {
		return "", "", nil, err
	}
	return title, strings.TrimSpace(in.Category), due, nil
}

// ParseDueDate parses an optional YYYY-MM-DD date. Blank input yields nil.
func ParseDueDate(v string) (*time.Time, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil, nil
	}
	t, err := time.Parse(domain.DateLayout, v)
	if err != nil {
		return nil, fmt.Errorf("parse %q: %w", v, ErrInvalidDueDate)
	}
	return &t, nil
}

func mapNotFound(err error) error {
	if errors.Is(err, repository.ErrNotFound) {
		return ErrNotFound
	}
	return err
}
