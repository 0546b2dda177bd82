package http

import (
	"embed"
	"html/template"
	"net/url"
	"time"

	"github.com/gin-gonic/gin"

	"task-tracker/internal/domain"
)

const appTitle = "Task Manager"

//go:embed templates/*.html
var templateFS embed.FS

var templates = template.Must(template.New("").ParseFS(templateFS, "templates/*.html"))

// pageData is the layout context shared by every page.
type pageData struct {
	AppTitle string
	Title    string
	Username string
	Flash    *Flash
}

type errorView struct {
	pageData
	Heading string
	Message string
}

type taskView struct {
	ID       int64
	Title    string
	Category string
	DueDate  string
	IsDone   bool
	Overdue  bool
}

type filterLink struct {
	Label  string
	URL    string
	Active bool
}

type dashboardView struct {
	pageData
	Tasks          []taskView
	Categories     []string
	Filters        []filterLink
	Show           string
	Search         string
	ActiveCategory string
	Stats          domain.TaskStats
}

func (h *Handler) page(c *gin.Context, title string) pageData {
	data := pageData{
		AppTitle: appTitle,
		Title:    title,
		Flash:    h.popFlash(c),
	}
	if identity, ok := CurrentIdentity(c); ok {
		data.Username = identity.Username
	} else if identity, ok := h.sessionIdentity(c); ok {
		data.Username = identity.Username
	}
	return data
}

func (h *Handler) errorPage(c *gin.Context, heading, message string) errorView {
	return errorView{
		pageData: h.page(c, heading),
		Heading:  heading,
		Message:  message,
	}
}

func newDashboardView(page pageData, tasks []domain.Task, categories []string, filter domain.TaskFilter, stats domain.TaskStats, today time.Time) dashboardView {
	view := dashboardView{
		pageData:       page,
		Tasks:          make([]taskView, len(tasks)),
		Categories:     categories,
		Show:           string(filter.Status),
		Search:         filter.Search,
		ActiveCategory: filter.Category,
		Stats:          stats,
	}
	for i, t := range tasks {
		view.Tasks[i] = taskView{
			ID:       t.ID,
			Title:    t.Title,
			Category: t.Category,
			DueDate:  t.DueDateString(),
			IsDone:   t.IsDone,
			Overdue:  t.Overdue(today),
		}
	}

	for _, s := range []struct {
		status domain.StatusFilter
		label  string
	}{
		{domain.StatusAll, "All"},
		{domain.StatusActive, "Active"},
		{domain.StatusCompleted, "Completed"},
	} {
		q := url.Values{}
		q.Set("show", string(s.status))
		if filter.Search != "" {
			q.Set("search", filter.Search)
		}
		if filter.Category != "" {
			q.Set("category", filter.Category)
		}
		view.Filters = append(view.Filters, filterLink{
			Label:  s.label,
			URL:    "/?" + q.Encode(),
			Active: filter.Status == s.status,
		})
	}
	return view
}
