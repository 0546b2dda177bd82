package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"task-tracker/internal/domain"
	"task-tracker/internal/repository"
)

const createTasksTable = `
CREATE TABLE IF NOT EXISTS tasks (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	user_id INTEGER NOT NULL,
	title TEXT NOT NULL,
	category TEXT NOT NULL DEFAULT '',
	due_date TEXT NULL DEFAULT NULL,
	is_done INTEGER NOT NULL DEFAULT 0,
	created_at DATETIME NOT NULL,
	FOREIGN KEY(user_id) REFERENCES users(id) ON DELETE CASCADE
);
CREATE INDEX IF NOT EXISTS idx_tasks_user_id ON tasks(user_id);
`

const selectTaskColumns = `SELECT id, user_id, title, category, due_date, is_done, created_at FROM tasks`

// listOrder puts open tasks first, dated before undated, earliest due date
// first, newest first among equals.
const listOrder = `ORDER BY is_done ASC, due_date IS NULL ASC, due_date ASC, created_at DESC, id DESC`

type TaskRepository struct {
	db *sql.DB
}

func NewTaskRepository(db *sql.DB) repository.TaskRepository {
	return &TaskRepository{db: db}
}

func (r *TaskRepository) Init(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, createTasksTable); err != nil {
		return fmt.Errorf("create tasks table: %w", err)
	}
	return nil
}

func (r *TaskRepository) Create(ctx context.Context, task *domain.Task) (int64, error) {
	if task.CreatedAt.IsZero() {
		task.CreatedAt = time.Now().UTC()
	}

	res, err := r.db.ExecContext(ctx, `
INSERT INTO tasks (user_id, title, category, due_date, is_done, created_at)
VALUES (?, ?, ?, ?, ?, ?)`,
		task.OwnerID,
		task.Title,
		task.Category,
		nullDate(task.DueDate),
		boolToInt(task.IsDone),
		task.CreatedAt.UTC(),
	)
	if err != nil {
		return 0, fmt.Errorf("insert task: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("get last insert id: %w", err)
	}
	task.ID = id
	return id, nil
}

func (r *TaskRepository) Get(ctx context.Context, ownerID, id int64) (*domain.Task, error) {
	row := r.db.QueryRowContext(ctx, selectTaskColumns+`
WHERE id=? AND user_id=?`,
		id,
		ownerID,
	)
	return scanTask(row)
}

func (r *TaskRepository) List(ctx context.Context, ownerID int64, filter domain.TaskFilter) ([]domain.Task, error) {
	where := []string{"user_id = ?"}
	args := []any{ownerID}

	switch filter.Status {
	case domain.StatusActive:
		where = append(where, "is_done = 0")
	case domain.StatusCompleted:
		where = append(where, "is_done = 1")
	}

	if search := strings.TrimSpace(filter.Search); search != "" {
		// LIKE folds case for ASCII letters only; "école" will not match "École".
		where = append(where, `title LIKE ? ESCAPE '\'`)
		args = append(args, "%"+escapeLike(search)+"%")
	}

	if category := strings.TrimSpace(filter.Category); category != "" {
		where = append(where, "category = ?")
		args = append(args, category)
	}

	query := fmt.Sprintf("%s\nWHERE %s\n%s", selectTaskColumns, strings.Join(where, " AND "), listOrder)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query tasks: %w", err)
	}
	defer rows.Close()

	tasks := []domain.Task{}
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, *task)
	}

	return tasks, rows.Err()
}

func (r *TaskRepository) Categories(ctx context.Context, ownerID int64) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT DISTINCT category
FROM tasks
WHERE user_id=? AND category != ''
ORDER BY category ASC`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("query categories: %w", err)
	}
	defer rows.Close()

	categories := []string{}
	for rows.Next() {
		var category string
		if err := rows.Scan(&category); err != nil {
			return nil, fmt.Errorf("scan category: %w", err)
		}
		categories = append(categories, category)
	}

	return categories, rows.Err()
}

func (r *TaskRepository) Toggle(ctx context.Context, ownerID, id int64) error {
	res, err := r.db.ExecContext(ctx, `
UPDATE tasks
SET is_done = CASE is_done WHEN 0 THEN 1 ELSE 0 END
WHERE id=? AND user_id=?`,
		id,
		ownerID,
	)
	if err != nil {
		return fmt.Errorf("toggle task: %w", err)
	}
	return expectAffected(res, "toggle task")
}

func (r *TaskRepository) Update(ctx context.Context, ownerID, id int64, title, category string, dueDate *time.Time) error {
	res, err := r.db.ExecContext(ctx, `
UPDATE tasks
SET title=?, category=?, due_date=?
WHERE id=? AND user_id=?`,
		title,
		category,
		nullDate(dueDate),
		id,
		ownerID,
	)
	if err != nil {
		return fmt.Errorf("update task: %w", err)
	}
	return expectAffected(res, "update task")
}

func (r *TaskRepository) Delete(ctx context.Context, ownerID, id int64) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM tasks WHERE id=? AND user_id=?`, id, ownerID)
	if err != nil {
		return fmt.Errorf("delete task: %w", err)
	}
	return expectAffected(res, "delete task")
}

func (r *TaskRepository) Stats(ctx context.Context, ownerID int64, today time.Time) (domain.TaskStats, error) {
	var stats domain.TaskStats
	err := r.db.QueryRowContext(ctx, `
SELECT
	COUNT(*),
	COALESCE(SUM(CASE WHEN is_done = 0 THEN 1 ELSE 0 END), 0),
	COALESCE(SUM(CASE WHEN is_done = 1 THEN 1 ELSE 0 END), 0),
	COALESCE(SUM(CASE WHEN is_done = 0 AND due_date IS NOT NULL AND due_date < ? THEN 1 ELSE 0 END), 0)
FROM tasks
WHERE user_id=?`,
		today.Format(domain.DateLayout),
		ownerID,
	).Scan(&stats.Total, &stats.Active, &stats.Completed, &stats.Overdue)
	if err != nil {
		return domain.TaskStats{}, fmt.Errorf("query task stats: %w", err)
	}
	return stats, nil
}

func expectAffected(res sql.Result, op string) error {
	aff, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s rows affected: %w", op, err)
	}
	if aff == 0 {
		return fmt.Errorf("%s: %w", op, repository.ErrNotFound)
	}
	return nil
}

func scanTask(scanner interface {
	Scan(dest ...any) error
}) (*domain.Task, error) {
	var (
		task      domain.Task
		dueDate   sql.NullString
		isDone    int
		createdAt time.Time
	)

	if err := scanner.Scan(
		&task.ID,
		&task.OwnerID,
		&task.Title,
		&task.Category,
		&dueDate,
		&isDone,
		&createdAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("task: %w", repository.ErrNotFound)
		}
		return nil, fmt.Errorf("scan task: %w", err)
	}

	task.IsDone = isDone != 0
	task.CreatedAt = createdAt.UTC()
	if dueDate.Valid && dueDate.String != "" {
		t, err := time.Parse(domain.DateLayout, dueDate.String)
		if err != nil {
			return nil, fmt.Errorf("parse due date %q: %w", dueDate.String, err)
		}
		task.DueDate = &t
	}

	return &task, nil
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

func nullDate(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.Format(domain.DateLayout)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
