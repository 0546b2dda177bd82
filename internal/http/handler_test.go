package http

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"

	"task-tracker/internal/domain"
	"task-tracker/internal/repository/sqlite"
	"task-tracker/internal/service"
)

const testSecret = "handler-test-secret-123456"

type testApp struct {
	server   *httptest.Server
	users    service.UserService
	tasks    service.TaskService
	sessions *service.SessionManager
}

func newTestApp(t *testing.T) *testApp {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := sqlite.Open(filepath.Join(t.TempDir(), "http.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	userRepo := sqlite.NewUserRepository(db)
	taskRepo := sqlite.NewTaskRepository(db)
	if err := sqlite.InitSchema(context.Background(), userRepo, taskRepo); err != nil {
		t.Fatalf("init schema: %v", err)
	}

	users := service.NewUserService(userRepo, bcrypt.MinCost)
	tasks := service.NewTaskService(taskRepo)
	sessions := service.NewSessionManager(testSecret, time.Hour)

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	router := gin.New()
	NewHandler(users, tasks, sessions, db, logger, false).RegisterRoutes(router)

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)

	return &testApp{server: srv, users: users, tasks: tasks, sessions: sessions}
}

// client returns a cookie-carrying client that does not follow redirects.
func (a *testApp) client(t *testing.T) *http.Client {
	t.Helper()
	jar, err := cookiejar.New(nil)
	if err != nil {
		t.Fatalf("cookie jar: %v", err)
	}
	return &http.Client{
		Jar: jar,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

type response struct {
	status   int
	location string
	body     string
}

func do(t *testing.T, c *http.Client, method, target string, form url.Values) response {
	t.Helper()
	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}
	req, err := http.NewRequest(method, target, body)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	resp, err := c.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, target, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return response{status: resp.StatusCode, location: resp.Header.Get("Location"), body: string(raw)}
}

func doRaw(t *testing.T, c *http.Client, target, contentType, body string) response {
	t.Helper()
	resp, err := c.Post(target, contentType, strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST %s: %v", target, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return response{status: resp.StatusCode, location: resp.Header.Get("Location"), body: string(raw)}
}

func (a *testApp) url(path string) string {
	return a.server.URL + path
}

// login registers username and returns a client holding its session cookie.
func (a *testApp) login(t *testing.T, username string) *http.Client {
	t.Helper()
	c := a.client(t)
	creds := url.Values{"username": {username}, "password": {"pw-" + username}}

	if res := do(t, c, http.MethodPost, a.url("/register"), creds); res.status != http.StatusSeeOther || res.location != "/login" {
		t.Fatalf("register %s: %d %q", username, res.status, res.location)
	}
	if res := do(t, c, http.MethodPost, a.url("/login"), creds); res.status != http.StatusSeeOther || res.location != "/" {
		t.Fatalf("login %s: %d %q", username, res.status, res.location)
	}
	return c
}

func (a *testApp) userID(t *testing.T, username string) int64 {
	t.Helper()
	u, err := a.users.Authenticate(context.Background(), username, "pw-"+username)
	if err != nil {
		t.Fatalf("authenticate %s: %v", username, err)
	}
	return u.ID
}

func TestRegisterLoginDashboardFlow(t *testing.T) {
	app := newTestApp(t)
	c := app.client(t)
	creds := url.Values{"username": {"Alice"}, "password": {"secret"}}

	res := do(t, c, http.MethodPost, app.url("/register"), creds)
	if res.status != http.StatusSeeOther || res.location != "/login" {
		t.Fatalf("register: %d %q", res.status, res.location)
	}

	res = do(t, c, http.MethodGet, app.url("/login"), nil)
	if res.status != http.StatusOK || !strings.Contains(res.body, "Registration successful. Please log in.") {
		t.Fatalf("login page missing registration flash: %d", res.status)
	}

	res = do(t, c, http.MethodPost, app.url("/login"), creds)
	if res.status != http.StatusSeeOther || res.location != "/" {
		t.Fatalf("login: %d %q", res.status, res.location)
	}

	res = do(t, c, http.MethodGet, app.url("/"), nil)
	if res.status != http.StatusOK {
		t.Fatalf("dashboard: %d", res.status)
	}
	if !strings.Contains(res.body, "Logged in successfully!") {
		t.Error("dashboard missing login flash")
	}
	if !strings.Contains(res.body, "<strong>alice</strong>") {
		t.Error("dashboard missing normalized username")
	}

	// flash messages are shown once
	res = do(t, c, http.MethodGet, app.url("/"), nil)
	if strings.Contains(res.body, "Logged in successfully!") {
		t.Error("flash shown twice")
	}
}

func TestRegisterDuplicateAndEmpty(t *testing.T) {
	app := newTestApp(t)
	app.login(t, "bob")

	c := app.client(t)
	res := do(t, c, http.MethodPost, app.url("/register"), url.Values{"username": {"BOB"}, "password": {"x"}})
	if res.status != http.StatusSeeOther || res.location != "/register" {
		t.Fatalf("duplicate register: %d %q", res.status, res.location)
	}
	res = do(t, c, http.MethodGet, app.url("/register"), nil)
	if !strings.Contains(res.body, "Username already taken. Choose another.") {
		t.Error("missing duplicate flash")
	}

	res = do(t, c, http.MethodPost, app.url("/register"), url.Values{"username": {"  "}, "password": {"x"}})
	if res.status != http.StatusSeeOther || res.location != "/register" {
		t.Fatalf("empty register: %d %q", res.status, res.location)
	}
	res = do(t, c, http.MethodGet, app.url("/register"), nil)
	if !strings.Contains(res.body, "Username and password are required.") {
		t.Error("missing required flash")
	}
}

func TestLoginFailureSameMessage(t *testing.T) {
	app := newTestApp(t)
	app.login(t, "carol")

	for _, creds := range []url.Values{
		{"username": {"carol"}, "password": {"wrong"}},
		{"username": {"nobody"}, "password": {"wrong"}},
	} {
		c := app.client(t)
		res := do(t, c, http.MethodPost, app.url("/login"), creds)
		if res.status != http.StatusSeeOther || res.location != "/login" {
			t.Fatalf("failed login %v: %d %q", creds, res.status, res.location)
		}
		res = do(t, c, http.MethodGet, app.url("/login"), nil)
		if !strings.Contains(res.body, "Invalid username or password.") {
			t.Errorf("missing invalid credentials flash for %v", creds)
		}
	}
}

func TestProtectedRoutesRedirectToLogin(t *testing.T) {
	app := newTestApp(t)
	c := app.client(t)

	cases := []struct{ method, path string }{
		{http.MethodGet, "/"},
		{http.MethodPost, "/task/new"},
		{http.MethodPost, "/task/1/toggle"},
		{http.MethodPost, "/task/1/edit"},
		{http.MethodPost, "/task/1/delete"},
	}
	for _, tc := range cases {
		res := do(t, c, tc.method, app.url(tc.path), url.Values{})
		if res.status != http.StatusSeeOther || res.location != "/login" {
			t.Errorf("%s %s: %d %q", tc.method, tc.path, res.status, res.location)
		}
	}

	res := do(t, c, http.MethodGet, app.url("/login"), nil)
	if !strings.Contains(res.body, "Please log in first.") {
		t.Error("missing login-required flash")
	}
}

func TestTamperedSessionRedirects(t *testing.T) {
	app := newTestApp(t)
	c := app.login(t, "dave")

	u, _ := url.Parse(app.server.URL)
	cookies := c.Jar.Cookies(u)
	var token string
	for _, ck := range cookies {
		if ck.Name == sessionCookie {
			token = ck.Value
		}
	}
	if token == "" {
		t.Fatal("no session cookie after login")
	}

	forged := app.client(t)
	forged.Jar.SetCookies(u, []*http.Cookie{{Name: sessionCookie, Value: token + "x", Path: "/"}})
	res := do(t, forged, http.MethodGet, app.url("/"), nil)
	if res.status != http.StatusSeeOther || res.location != "/login" {
		t.Fatalf("tampered cookie: %d %q", res.status, res.location)
	}

	other := service.NewSessionManager("a-completely-different-secret", time.Hour)
	alien, err := other.Issue(&domain.User{ID: 1, Username: "dave"})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	forged = app.client(t)
	forged.Jar.SetCookies(u, []*http.Cookie{{Name: sessionCookie, Value: alien, Path: "/"}})
	res = do(t, forged, http.MethodGet, app.url("/"), nil)
	if res.status != http.StatusSeeOther || res.location != "/login" {
		t.Fatalf("foreign-signed cookie: %d %q", res.status, res.location)
	}
}

func TestTaskLifecycle(t *testing.T) {
	app := newTestApp(t)
	c := app.login(t, "erin")
	owner := app.userID(t, "erin")

	res := do(t, c, http.MethodPost, app.url("/task/new"), url.Values{"title": {"Write report"}, "category": {"work"}, "due_date": {"2030-01-02"}})
	if res.status != http.StatusSeeOther || res.location != "/" {
		t.Fatalf("create: %d %q", res.status, res.location)
	}
	res = do(t, c, http.MethodGet, app.url("/"), nil)
	if !strings.Contains(res.body, "Task added!") || !strings.Contains(res.body, "Write report") || !strings.Contains(res.body, "#work") {
		t.Fatalf("dashboard after create missing content")
	}

	list, err := app.tasks.List(context.Background(), owner, domain.TaskFilter{})
	if err != nil || len(list) != 1 {
		t.Fatalf("list: %v %v", list, err)
	}
	id := strconv.FormatInt(list[0].ID, 10)

	res = do(t, c, http.MethodPost, app.url("/task/"+id+"/toggle"), url.Values{})
	if res.status != http.StatusSeeOther || res.location != "/" {
		t.Fatalf("toggle: %d %q", res.status, res.location)
	}
	got, _ := app.tasks.Get(context.Background(), owner, list[0].ID)
	if !got.IsDone {
		t.Fatal("toggle did not mark task done")
	}

	res = do(t, c, http.MethodPost, app.url("/task/"+id+"/edit"), url.Values{"title": {"Rewrite report"}})
	if res.status != http.StatusSeeOther || res.location != "/" {
		t.Fatalf("edit: %d %q", res.status, res.location)
	}
	got, _ = app.tasks.Get(context.Background(), owner, list[0].ID)
	if got.Title != "Rewrite report" || got.Category != "" || got.DueDate != nil {
		t.Fatalf("edit result: %+v", got)
	}

	res = do(t, c, http.MethodPost, app.url("/task/"+id+"/delete"), url.Values{})
	if res.status != http.StatusSeeOther || res.location != "/" {
		t.Fatalf("delete: %d %q", res.status, res.location)
	}
	res = do(t, c, http.MethodGet, app.url("/"), nil)
	if !strings.Contains(res.body, "Task deleted.") || strings.Contains(res.body, "Rewrite report") {
		t.Fatal("dashboard after delete")
	}

	res = do(t, c, http.MethodPost, app.url("/task/"+id+"/delete"), url.Values{})
	if res.status != http.StatusNotFound {
		t.Fatalf("second delete: %d", res.status)
	}
}

func TestCreateTaskValidation(t *testing.T) {
	app := newTestApp(t)
	c := app.login(t, "frank")
	owner := app.userID(t, "frank")

	res := do(t, c, http.MethodPost, app.url("/task/new"), url.Values{"title": {"   "}})
	if res.status != http.StatusSeeOther || res.location != "/" {
		t.Fatalf("blank title: %d %q", res.status, res.location)
	}
	res = do(t, c, http.MethodGet, app.url("/"), nil)
	if !strings.Contains(res.body, "Task title is required.") {
		t.Error("missing title flash")
	}

	do(t, c, http.MethodPost, app.url("/task/new"), url.Values{"title": {"x"}, "due_date": {"tomorrow"}})
	res = do(t, c, http.MethodGet, app.url("/"), nil)
	if !strings.Contains(res.body, "Due date must be a valid date (YYYY-MM-DD).") {
		t.Error("missing due date flash")
	}

	list, _ := app.tasks.List(context.Background(), owner, domain.TaskFilter{})
	if len(list) != 0 {
		t.Fatalf("invalid input persisted %d tasks", len(list))
	}
}

func TestCrossUserTaskAccessIs404(t *testing.T) {
	app := newTestApp(t)
	app.login(t, "alice")
	bob := app.login(t, "bob")
	alice := app.userID(t, "alice")

	task, err := app.tasks.Create(context.Background(), alice, service.TaskInput{Title: "alice secret"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	id := strconv.FormatInt(task.ID, 10)

	for _, action := range []string{"toggle", "edit", "delete"} {
		res := do(t, bob, http.MethodPost, app.url("/task/"+id+"/"+action), url.Values{"title": {"pwned"}})
		if res.status != http.StatusNotFound {
			t.Errorf("%s: status %d, want 404", action, res.status)
		}
		if !strings.Contains(res.body, "Not found") {
			t.Errorf("%s: missing not found page", action)
		}
	}

	got, err := app.tasks.Get(context.Background(), alice, task.ID)
	if err != nil {
		t.Fatalf("task disappeared: %v", err)
	}
	if got.Title != "alice secret" || got.IsDone {
		t.Fatalf("task mutated: %+v", got)
	}

	res := do(t, bob, http.MethodGet, app.url("/"), nil)
	if strings.Contains(res.body, "alice secret") {
		t.Fatal("bob's dashboard shows alice's task")
	}
}

func TestInvalidTaskIDIs404(t *testing.T) {
	app := newTestApp(t)
	c := app.login(t, "gina")

	for _, path := range []string{"/task/abc/toggle", "/task/-1/delete", "/task/0/edit", "/task/99999/toggle"} {
		res := do(t, c, http.MethodPost, app.url(path), url.Values{})
		if res.status != http.StatusNotFound {
			t.Errorf("%s: status %d, want 404", path, res.status)
		}
	}

	res := do(t, c, http.MethodGet, app.url("/no/such/page"), nil)
	if res.status != http.StatusNotFound {
		t.Errorf("unknown route: %d", res.status)
	}
}

func TestDashboardOrderingAndFilters(t *testing.T) {
	app := newTestApp(t)
	c := app.login(t, "hank")
	owner := app.userID(t, "hank")
	ctx := context.Background()

	done, _ := app.tasks.Create(ctx, owner, service.TaskInput{Title: "task-finished"})
	if _, err := app.tasks.Toggle(ctx, owner, done.ID); err != nil {
		t.Fatalf("toggle: %v", err)
	}
	for _, in := range []service.TaskInput{
		{Title: "task-jan5", DueDate: "2024-01-05", Category: "home"},
		{Title: "task-jan1", DueDate: "2024-01-01", Category: "work"},
		{Title: "task-someday"},
	} {
		if _, err := app.tasks.Create(ctx, owner, in); err != nil {
			t.Fatalf("create: %v", err)
		}
	}

	res := do(t, c, http.MethodGet, app.url("/"), nil)
	order := []string{"task-jan1", "task-jan5", "task-someday", "task-finished"}
	last := -1
	for _, title := range order {
		idx := strings.Index(res.body, "<strong>"+title+"</strong>")
		if idx < 0 {
			t.Fatalf("%s missing from dashboard", title)
		}
		if idx < last {
			t.Fatalf("%s rendered out of order", title)
		}
		last = idx
	}
	if !strings.Contains(res.body, "3 active · 1 completed") {
		t.Error("missing stats line")
	}

	res = do(t, c, http.MethodGet, app.url("/?show=completed"), nil)
	if !strings.Contains(res.body, "task-finished") || strings.Contains(res.body, "task-jan1") {
		t.Error("completed filter")
	}

	res = do(t, c, http.MethodGet, app.url("/?show=active&search=JAN"), nil)
	if !strings.Contains(res.body, "task-jan1") || !strings.Contains(res.body, "task-jan5") || strings.Contains(res.body, "task-someday") {
		t.Error("search filter")
	}

	res = do(t, c, http.MethodGet, app.url("/?category=work"), nil)
	if !strings.Contains(res.body, "<strong>task-jan1</strong>") || strings.Contains(res.body, "<strong>task-jan5</strong>") {
		t.Error("category filter")
	}
}

func TestLogoutClearsSession(t *testing.T) {
	app := newTestApp(t)
	c := app.login(t, "ivy")

	res := do(t, c, http.MethodGet, app.url("/logout"), nil)
	if res.status != http.StatusSeeOther || res.location != "/login" {
		t.Fatalf("logout: %d %q", res.status, res.location)
	}
	res = do(t, c, http.MethodGet, app.url("/login"), nil)
	if !strings.Contains(res.body, "You have been logged out.") {
		t.Error("missing logout flash")
	}
	res = do(t, c, http.MethodGet, app.url("/"), nil)
	if res.status != http.StatusSeeOther || res.location != "/login" {
		t.Fatalf("dashboard after logout: %d %q", res.status, res.location)
	}

	// logging out without a session is harmless
	res = do(t, app.client(t), http.MethodGet, app.url("/logout"), nil)
	if res.status != http.StatusSeeOther {
		t.Fatalf("anonymous logout: %d", res.status)
	}
}

func TestHealthAndMetrics(t *testing.T) {
	app := newTestApp(t)
	c := app.client(t)

	res := do(t, c, http.MethodGet, app.url("/healthz"), nil)
	if res.status != http.StatusOK || !strings.Contains(res.body, `"ok"`) {
		t.Fatalf("healthz: %d %s", res.status, res.body)
	}

	res = do(t, c, http.MethodGet, app.url("/metrics"), nil)
	if res.status != http.StatusOK || !strings.Contains(res.body, "tasktracker_http_requests_total") {
		t.Fatalf("metrics: %d", res.status)
	}
}

func TestSessionForMissingUserRedirects(t *testing.T) {
	app := newTestApp(t)

	token, err := app.sessions.Issue(&domain.User{ID: 4242, Username: "ghost"})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	u, _ := url.Parse(app.server.URL)
	c := app.client(t)
	c.Jar.SetCookies(u, []*http.Cookie{{Name: sessionCookie, Value: token, Path: "/"}})

	res := do(t, c, http.MethodGet, app.url("/"), nil)
	if res.status != http.StatusSeeOther || res.location != "/login" {
		t.Fatalf("session for missing user: %d %q", res.status, res.location)
	}
	for _, ck := range c.Jar.Cookies(u) {
		if ck.Name == sessionCookie {
			t.Fatal("stale session cookie was not cleared")
		}
	}
}

func TestRegisterOverlongPassword(t *testing.T) {
	app := newTestApp(t)
	c := app.client(t)

	res := do(t, c, http.MethodPost, app.url("/register"), url.Values{"username": {"long"}, "password": {strings.Repeat("p", 73)}})
	if res.status != http.StatusSeeOther || res.location != "/register" {
		t.Fatalf("register: %d %q", res.status, res.location)
	}
	res = do(t, c, http.MethodGet, app.url("/register"), nil)
	if !strings.Contains(res.body, "Password is too long (at most 72 bytes).") {
		t.Error("missing password length flash")
	}
	if strings.Contains(res.body, "Username and password are required.") {
		t.Error("password length reported as missing field")
	}
}

func TestMalformedFormBodies(t *testing.T) {
	app := newTestApp(t)
	c := app.login(t, "kim")
	owner := app.userID(t, "kim")
	task, err := app.tasks.Create(context.Background(), owner, service.TaskInput{Title: "keep me"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	const form = "application/x-www-form-urlencoded"
	id := strconv.FormatInt(task.ID, 10)
	for _, path := range []string{"/task/new", "/task/" + id + "/edit"} {
		res := doRaw(t, c, app.url(path), form, "title=%zz")
		if res.status != http.StatusSeeOther || res.location != "/" {
			t.Fatalf("%s: %d %q", path, res.status, res.location)
		}
		res = do(t, c, http.MethodGet, app.url("/"), nil)
		if !strings.Contains(res.body, "The form could not be read. Please try again.") {
			t.Errorf("%s: missing form error flash", path)
		}
	}

	list, _ := app.tasks.List(context.Background(), owner, domain.TaskFilter{})
	if len(list) != 1 || list[0].Title != "keep me" {
		t.Fatalf("malformed bodies changed tasks: %+v", list)
	}

	anon := app.client(t)
	res := doRaw(t, anon, app.url("/login"), form, "username=%zz")
	if res.status != http.StatusSeeOther || res.location != "/login" {
		t.Fatalf("login: %d %q", res.status, res.location)
	}
	res = do(t, anon, http.MethodGet, app.url("/login"), nil)
	if !strings.Contains(res.body, "Username and password are required.") {
		t.Error("missing login form flash")
	}
}

type failingPinger struct{}

func (failingPinger) PingContext(context.Context) error {
	return errors.New("disk I/O error at /var/lib/secret.db")
}

func TestHealthHidesDatabaseError(t *testing.T) {
	gin.SetMode(gin.TestMode)
	var logs bytes.Buffer
	logger := logrus.New()
	logger.SetOutput(&logs)

	router := gin.New()
	NewHandler(nil, nil, service.NewSessionManager(testSecret, time.Hour), failingPinger{}, logger, false).RegisterRoutes(router)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "secret.db") || !strings.Contains(rec.Body.String(), `"unavailable"`) {
		t.Fatalf("body = %s", rec.Body.String())
	}
	if !strings.Contains(logs.String(), "secret.db") {
		t.Error("database error was not logged")
	}
}
