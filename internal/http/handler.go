package http

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"task-tracker/internal/domain"
	"task-tracker/internal/metrics"
	"task-tracker/internal/service"
)

// Pinger reports whether the backing database is reachable.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// Handler wires HTTP routes to domain services.
type Handler struct {
	users        service.UserService
	tasks        service.TaskService
	sessions     *service.SessionManager
	db           Pinger
	logger       *logrus.Logger
	secureCookie bool
}

func NewHandler(users service.UserService, tasks service.TaskService, sessions *service.SessionManager, db Pinger, logger *logrus.Logger, secureCookie bool) *Handler {
	if logger == nil {
		logger = logrus.New()
	}
	return &Handler{
		users:        users,
		tasks:        tasks,
		sessions:     sessions,
		db:           db,
		logger:       logger,
		secureCookie: secureCookie,
	}
}

func (h *Handler) RegisterRoutes(router *gin.Engine) {
	router.SetHTMLTemplate(templates)
	router.Use(requestLogger(h.logger), metricsMiddleware())

	router.GET("/healthz", h.health)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	router.GET("/register", h.registerPage)
	router.POST("/register", h.register)
	router.GET("/login", h.loginPage)
	router.POST("/login", h.login)
	router.GET("/logout", h.logout)

	authed := router.Group("/", h.requireAuth())
	{
		authed.GET("/", h.dashboard)
		authed.POST("/task/new", h.createTask)
		authed.POST("/task/:id/toggle", h.toggleTask)
		authed.POST("/task/:id/edit", h.editTask)
		authed.POST("/task/:id/delete", h.deleteTask)
	}

	router.NoRoute(h.notFound)
}

type credentialsForm struct {
	Username string `form:"username"`
	Password string `form:"password"`
}

type taskForm struct {
	Title    string `form:"title"`
	Category string `form:"category"`
	DueDate  string `form:"due_date"`
}

func (f taskForm) input() service.TaskInput {
	return service.TaskInput{Title: f.Title, Category: f.Category, DueDate: f.DueDate}
}

func (h *Handler) health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()
	if err := h.db.PingContext(ctx); err != nil {
		h.logger.WithError(err).Warn("health check: database unreachable")
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *Handler) registerPage(c *gin.Context) {
	c.HTML(http.StatusOK, "register.html", h.page(c, "Create account"))
}

func (h *Handler) register(c *gin.Context) {
	var form credentialsForm
	if err := c.ShouldBind(&form); err != nil {
		h.setFlash(c, flashDanger, "Username and password are required.")
		c.Redirect(http.StatusSeeOther, "/register")
		return
	}

	_, err := h.users.Register(c.Request.Context(), form.Username, form.Password)
	switch {
	case err == nil:
	case errors.Is(err, service.ErrPasswordTooLong):
		h.setFlash(c, flashDanger, "Password is too long (at most 72 bytes).")
		c.Redirect(http.StatusSeeOther, "/register")
		return
	case errors.Is(err, service.ErrInvalidInput):
		h.setFlash(c, flashDanger, "Username and password are required.")
		c.Redirect(http.StatusSeeOther, "/register")
		return
	case errors.Is(err, service.ErrDuplicateUsername):
		h.setFlash(c, flashDanger, "Username already taken. Choose another.")
		c.Redirect(http.StatusSeeOther, "/register")
		return
	default:
		h.serverError(c, err)
		return
	}

	metrics.RecordAuth(metrics.AuthRegister)
	h.setFlash(c, flashSuccess, "Registration successful. Please log in.")
	c.Redirect(http.StatusSeeOther, "/login")
}

func (h *Handler) loginPage(c *gin.Context) {
	c.HTML(http.StatusOK, "login.html", h.page(c, "Log in"))
}

func (h *Handler) login(c *gin.Context) {
	var form credentialsForm
	if err := c.ShouldBind(&form); err != nil {
		h.setFlash(c, flashDanger, "Username and password are required.")
		c.Redirect(http.StatusSeeOther, "/login")
		return
	}

	user, err := h.users.Authenticate(c.Request.Context(), form.Username, form.Password)
	if err != nil {
		if !errors.Is(err, service.ErrInvalidCredentials) {
			h.serverError(c, err)
			return
		}
		metrics.RecordAuth(metrics.AuthLoginFailure)
		h.setFlash(c, flashDanger, "Invalid username or password.")
		c.Redirect(http.StatusSeeOther, "/login")
		return
	}

	token, err := h.sessions.Issue(user)
	if err != nil {
		h.serverError(c, err)
		return
	}

	metrics.RecordAuth(metrics.AuthLoginSuccess)
	h.startSession(c, token)
	h.setFlash(c, flashSuccess, "Logged in successfully!")
	c.Redirect(http.StatusSeeOther, "/")
}

func (h *Handler) logout(c *gin.Context) {
	if _, err := c.Cookie(sessionCookie); err == nil {
		metrics.RecordAuth(metrics.AuthLogout)
		h.endSession(c)
	}
	h.setFlash(c, flashInfo, "You have been logged out.")
	c.Redirect(http.StatusSeeOther, "/login")
}

func (h *Handler) dashboard(c *gin.Context) {
	identity, _ := CurrentIdentity(c)
	ctx := c.Request.Context()

	filter := domain.TaskFilter{
		Status:   domain.ParseStatusFilter(c.DefaultQuery("show", string(domain.StatusAll))),
		Search:   c.Query("search"),
		Category: c.Query("category"),
	}

	tasks, err := h.tasks.List(ctx, identity.UserID, filter)
	if err != nil {
		h.serverError(c, err)
		return
	}
	categories, err := h.tasks.Categories(ctx, identity.UserID)
	if err != nil {
		h.serverError(c, err)
		return
	}
	stats, err := h.tasks.Stats(ctx, identity.UserID)
	if err != nil {
		h.serverError(c, err)
		return
	}

	c.HTML(http.StatusOK, "dashboard.html", newDashboardView(h.page(c, "Your tasks"), tasks, categories, filter, stats, time.Now().UTC()))
}

func (h *Handler) createTask(c *gin.Context) {
	identity, _ := CurrentIdentity(c)

	var form taskForm
	if err := c.ShouldBind(&form); err != nil {
		h.formError(c)
		return
	}

	if _, err := h.tasks.Create(c.Request.Context(), identity.UserID, form.input()); err != nil {
		h.taskInputError(c, err)
		return
	}

	metrics.RecordTaskOp("create")
	h.setFlash(c, flashSuccess, "Task added!")
	c.Redirect(http.StatusSeeOther, "/")
}

func (h *Handler) toggleTask(c *gin.Context) {
	identity, _ := CurrentIdentity(c)
	id, ok := taskID(c)
	if !ok {
		h.notFound(c)
		return
	}

	if _, err := h.tasks.Toggle(c.Request.Context(), identity.UserID, id); err != nil {
		h.taskError(c, err)
		return
	}

	metrics.RecordTaskOp("toggle")
	c.Redirect(http.StatusSeeOther, "/")
}

func (h *Handler) editTask(c *gin.Context) {
	identity, _ := CurrentIdentity(c)
	id, ok := taskID(c)
	if !ok {
		h.notFound(c)
		return
	}

	var form taskForm
	if err := c.ShouldBind(&form); err != nil {
		h.formError(c)
		return
	}

	if _, err := h.tasks.Edit(c.Request.Context(), identity.UserID, id, form.input()); err != nil {
		if errors.Is(err, service.ErrInvalidInput) {
			h.taskInputError(c, err)
			return
		}
		h.taskError(c, err)
		return
	}

	metrics.RecordTaskOp("edit")
	h.setFlash(c, flashSuccess, "Task updated.")
	c.Redirect(http.StatusSeeOther, "/")
}

func (h *Handler) deleteTask(c *gin.Context) {
	identity, _ := CurrentIdentity(c)
	id, ok := taskID(c)
	if !ok {
		h.notFound(c)
		return
	}

	if err := h.tasks.Delete(c.Request.Context(), identity.UserID, id); err != nil {
		h.taskError(c, err)
		return
	}

	metrics.RecordTaskOp("delete")
	h.setFlash(c, flashInfo, "Task deleted.")
	c.Redirect(http.StatusSeeOther, "/")
}

func taskID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

// formError handles a task form body that could not be decoded.
func (h *Handler) formError(c *gin.Context) {
	h.setFlash(c, flashDanger, "The form could not be read. Please try again.")
	c.Redirect(http.StatusSeeOther, "/")
}

func (h *Handler) taskInputError(c *gin.Context, err error) {
	if !errors.Is(err, service.ErrInvalidInput) {
		h.serverError(c, err)
		return
	}
	msg := "Task title is required."
	if errors.Is(err, service.ErrInvalidDueDate) {
		msg = "Due date must be a valid date (YYYY-MM-DD)."
	}
	h.setFlash(c, flashDanger, msg)
	c.Redirect(http.StatusSeeOther, "/")
}

func (h *Handler) taskError(c *gin.Context, err error) {
	if errors.Is(err, service.ErrNotFound) {
		h.notFound(c)
		return
	}
	h.serverError(c, err)
}

func (h *Handler) notFound(c *gin.Context) {
	c.HTML(http.StatusNotFound, "error.html", h.errorPage(c, "Not found", "The page you requested does not exist."))
}

func (h *Handler) serverError(c *gin.Context, err error) {
	_ = c.Error(err)
	c.HTML(http.StatusInternalServerError, "error.html", h.errorPage(c, "Something went wrong", "Please try again later."))
}
