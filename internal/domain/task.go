package domain

import (
	"strings"
	"time"
)

// DateLayout is the wire and storage format of task due dates.
const DateLayout = "2006-01-02"

type StatusFilter string

const (
	StatusAll       StatusFilter = "all"
	StatusActive    StatusFilter = "active"
	StatusCompleted StatusFilter = "completed"
)

// ParseStatusFilter maps a query value onto a known filter, defaulting to all.
func ParseStatusFilter(v string) StatusFilter {
	switch StatusFilter(strings.ToLower(strings.TrimSpace(v))) {
	case StatusActive:
		return StatusActive
	case StatusCompleted:
		return StatusCompleted
	default:
		return StatusAll
	}
}

// Task is a single to-do item owned by exactly one user.
type Task struct {
	ID        int64
	OwnerID   int64
	Title     string
	Category  string
	DueDate   *time.Time
	IsDone    bool
	CreatedAt time.Time
}

// DueDateString renders the due date in DateLayout, or "" when absent.
func (t Task) DueDateString() string {
	if t.DueDate == nil {
		return ""
	}
	return t.DueDate.Format(DateLayout)
}

// Overdue reports whether an open task's due date is before today.
func (t Task) Overdue(today time.Time) bool {
	if t.IsDone || t.DueDate == nil {
		return false
	}
	y, m, d := today.Date()
	return t.DueDate.Before(time.Date(y, m, d, 0, 0, 0, 0, time.UTC))
}

// TaskFilter narrows a task listing.
type TaskFilter struct {
	Status   StatusFilter
	Search   string
	Category string
}

// TaskStats summarizes a user's task list.
type TaskStats struct {
	Total     int
	Active    int
	Completed int
	Overdue   int
}
