package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"testing"

	"taskdesk/internal/audit"
	"taskdesk/internal/auth"
	"taskdesk/internal/cache"
	"taskdesk/internal/models"
	"taskdesk/internal/store"
)

type testEnv struct {
	handler      http.Handler
	service      *Service
	store        *store.Store
	managerToken string
	lawyerToken  string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	st, err := store.Open(store.DialectSQLite, filepath.Join(t.TempDir(), "taskdesk.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	issuer := auth.NewIssuer("test-secret")
	svc := NewService(st, cache.New(100), nil, audit.NewRecorder(st), issuer, []string{"boss@example.com"})
	srv := NewServer(svc, nil, "")

	ctx := context.Background()
	manager, err := svc.Register(ctx, "boss@example.com", "Boss", "password123")
	if err != nil {
		t.Fatalf("register manager: %v", err)
	}
	lawyer, err := svc.Register(ctx, "dana@example.com", "Dana", "password123")
	if err != nil {
		t.Fatalf("register lawyer: %v", err)
	}

	return &testEnv{
		handler:      srv.Handler(),
		service:      svc,
		store:        st,
		managerToken: manager.Token,
		lawyerToken:  lawyer.Token,
	}
}

func (e *testEnv) do(t *testing.T, method, path, token, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return v
}

const createBody = `{
	"title": "Draft contract",
	"category": "legal",
	"assigned_to": "Shani",
	"assigned_to_email": "office@x.co",
	"created_by": "Haim",
	"priority": "normal"
}`

func (e *testEnv) createTask(t *testing.T, body string) *models.Task {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/api/tasks", e.managerToken, body)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create: expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	task := decode[*models.Task](t, rec)
	return task
}

func TestCreateTaskEndToEnd(t *testing.T) {
	e := newTestEnv(t)
	task := e.createTask(t, createBody)

	if task.ID == "" {
		t.Fatal("expected generated id")
	}
	if task.TaskID != task.ID {
		t.Fatalf("expected task_id equal to id, got %q vs %q", task.TaskID, task.ID)
	}
	if task.Status != models.TaskStatusNew {
		t.Fatalf("expected status new, got %s", task.Status)
	}
	if task.AssignedEmail != "office@x.co" {
		t.Fatalf("expected assigned email mapped, got %q", task.AssignedEmail)
	}
}

func TestListEmptyStoreReturnsEmptyArray(t *testing.T) {
	e := newTestEnv(t)
	rec := e.do(t, http.MethodGet, "/api/tasks", e.managerToken, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if got := strings.TrimSpace(rec.Body.String()); got != "[]" {
		t.Fatalf("expected [], got %s", got)
	}
}

func TestCreateValidationRejectsBeforeStore(t *testing.T) {
	e := newTestEnv(t)

	missing := strings.Replace(createBody, `"priority": "normal"`, `"priority": ""`, 1)
	rec := e.do(t, http.MethodPost, "/api/tasks", e.managerToken, missing)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	body := decode[errorBody](t, rec)
	if !strings.Contains(body.Error, "priority") {
		t.Fatalf("expected error naming priority, got %q", body.Error)
	}
	if body.Status != http.StatusBadRequest {
		t.Fatalf("expected status echoed in body, got %d", body.Status)
	}

	badEmail := strings.Replace(createBody, "office@x.co", "not-an-email", 1)
	rec = e.do(t, http.MethodPost, "/api/tasks", e.managerToken, badEmail)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad email, got %d", rec.Code)
	}

	// Nothing reached the store.
	tasks, err := e.store.ListTasks(context.Background(), store.ListFilter{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(tasks) != 0 {
		t.Fatalf("expected empty store after rejected creates, got %d", len(tasks))
	}
}

func TestCreateInvalidJSON(t *testing.T) {
	e := newTestEnv(t)
	rec := e.do(t, http.MethodPost, "/api/tasks", e.managerToken, "{not json")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestGetTask(t *testing.T) {
	e := newTestEnv(t)
	task := e.createTask(t, createBody)

	rec := e.do(t, http.MethodGet, "/api/tasks/"+task.ID, e.managerToken, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	got := decode[*models.Task](t, rec)
	if got.ID != task.ID {
		t.Fatalf("expected task %s, got %s", task.ID, got.ID)
	}

	rec = e.do(t, http.MethodGet, "/api/tasks/unknown-id", e.managerToken, "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	body := decode[errorBody](t, rec)
	if body.Status != http.StatusNotFound {
		t.Fatalf("expected JSON error envelope, got %s", rec.Body.String())
	}
}

func TestUpdateTaskViaPut(t *testing.T) {
	e := newTestEnv(t)
	task := e.createTask(t, createBody)

	rec := e.do(t, http.MethodPut, "/api/tasks/"+task.ID, e.managerToken,
		`{"title": "Draft contract v2", "due_date": "2030-06-01"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	updated := decode[*models.Task](t, rec)
	if updated.Title != "Draft contract v2" {
		t.Fatalf("title not updated: %q", updated.Title)
	}
	if updated.DueDate == nil {
		t.Fatal("expected due_date mapped to deadline and stored")
	}
}

func TestPostWithIDActsAsUpdate(t *testing.T) {
	e := newTestEnv(t)
	task := e.createTask(t, createBody)

	rec := e.do(t, http.MethodPost, "/api/tasks", e.managerToken,
		`{"id": "`+task.ID+`", "title": "Renamed"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for POST-as-update, got %d: %s", rec.Code, rec.Body.String())
	}
	updated := decode[*models.Task](t, rec)
	if updated.Title != "Renamed" {
		t.Fatalf("expected renamed task, got %q", updated.Title)
	}
}

func TestLawyerMayOnlyUpdateOwnTasks(t *testing.T) {
	e := newTestEnv(t)
	// Assigned to the lawyer herself.
	own := e.createTask(t, strings.Replace(createBody, "office@x.co", "dana@example.com", 1))
	other := e.createTask(t, createBody)

	rec := e.do(t, http.MethodPut, "/api/tasks/"+own.ID, e.lawyerToken, `{"title": "mine"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected lawyer to update own task, got %d", rec.Code)
	}

	rec = e.do(t, http.MethodPut, "/api/tasks/"+other.ID, e.lawyerToken, `{"title": "not mine"}`)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for someone else's task, got %d", rec.Code)
	}
}

func TestDeleteRequiresManager(t *testing.T) {
	e := newTestEnv(t)
	task := e.createTask(t, createBody)

	rec := e.do(t, http.MethodDelete, "/api/tasks/"+task.ID, e.lawyerToken, "")
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for lawyer delete, got %d", rec.Code)
	}

	rec = e.do(t, http.MethodDelete, "/api/tasks/"+task.ID, e.managerToken, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for manager delete, got %d", rec.Code)
	}

	rec = e.do(t, http.MethodGet, "/api/tasks/"+task.ID, e.managerToken, "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 after delete, got %d", rec.Code)
	}
}

func TestCompleteReturnResubmitFlow(t *testing.T) {
	e := newTestEnv(t)
	task := e.createTask(t, createBody)

	rec := e.do(t, http.MethodPost, "/api/tasks/"+task.ID+"/return", e.managerToken,
		`{"reason": "missing signature"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("return: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	returned := decode[*models.Task](t, rec)
	if returned.Status != models.TaskStatusReturned || returned.ReturnCount != 1 {
		t.Fatalf("unexpected returned task: %+v", returned)
	}

	rec = e.do(t, http.MethodPost, "/api/tasks/"+task.ID+"/resubmit", e.managerToken,
		`{"response": "signed now"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("resubmit: expected 200, got %d", rec.Code)
	}
	resubmitted := decode[*models.Task](t, rec)
	if resubmitted.Status != models.TaskStatusNew {
		t.Fatalf("expected new after resubmit, got %s", resubmitted.Status)
	}

	rec = e.do(t, http.MethodPost, "/api/tasks/"+task.ID+"/complete", e.managerToken,
		`{"details": "filed"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("complete: expected 200, got %d", rec.Code)
	}
	done := decode[*models.Task](t, rec)
	if done.Status != models.TaskStatusDone || done.CompletionDetails != "filed" {
		t.Fatalf("unexpected completed task: %+v", done)
	}

	// A completed task cannot be returned.
	rec = e.do(t, http.MethodPost, "/api/tasks/"+task.ID+"/return", e.managerToken,
		`{"reason": "too late"}`)
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 for return after done, got %d", rec.Code)
	}
}

func TestFilterRoutes(t *testing.T) {
	e := newTestEnv(t)
	e.createTask(t, createBody)
	e.createTask(t, strings.Replace(createBody, "Shani", "Noa", 1))

	rec := e.do(t, http.MethodGet, "/api/tasks/assignee/Noa", e.managerToken, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	tasks := decode[[]*models.Task](t, rec)
	if len(tasks) != 1 || tasks[0].AssignedTo != "Noa" {
		t.Fatalf("expected only Noa's task, got %d", len(tasks))
	}

	rec = e.do(t, http.MethodGet, "/api/tasks/status/new", e.managerToken, "")
	tasks = decode[[]*models.Task](t, rec)
	if len(tasks) != 2 {
		t.Fatalf("expected 2 new tasks, got %d", len(tasks))
	}

	rec = e.do(t, http.MethodGet, "/api/tasks?assignee=Noa&status=new", e.managerToken, "")
	tasks = decode[[]*models.Task](t, rec)
	if len(tasks) != 1 {
		t.Fatalf("expected query filters combined, got %d", len(tasks))
	}
}

func TestStatsEndpoints(t *testing.T) {
	e := newTestEnv(t)
	task := e.createTask(t, createBody)
	e.createTask(t, createBody)
	if _, err := e.service.CompleteTask(context.Background(), task.ID, "ok"); err != nil {
		t.Fatalf("complete: %v", err)
	}

	rec := e.do(t, http.MethodGet, "/api/stats", e.managerToken, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	stats := decode[*models.TaskStats](t, rec)
	if stats.Total != 2 || stats.Completed != 1 || stats.New != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}

	rec = e.do(t, http.MethodGet, "/api/stats/user/Shani", e.managerToken, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	userStats := decode[*models.UserStats](t, rec)
	if userStats.TotalTasks != 2 || userStats.CompletedTasks != 1 {
		t.Fatalf("unexpected user stats: %+v", userStats)
	}
}

func TestStatsCacheInvalidatedByMutation(t *testing.T) {
	e := newTestEnv(t)
	e.createTask(t, createBody)

	rec := e.do(t, http.MethodGet, "/api/stats", e.managerToken, "")
	stats := decode[*models.TaskStats](t, rec)
	if stats.Total != 1 {
		t.Fatalf("expected 1 task, got %+v", stats)
	}

	// Another create must bust the cached aggregate.
	e.createTask(t, createBody)
	rec = e.do(t, http.MethodGet, "/api/stats", e.managerToken, "")
	stats = decode[*models.TaskStats](t, rec)
	if stats.Total != 2 {
		t.Fatalf("expected cache invalidated, got %+v", stats)
	}
}

func TestAuthRequired(t *testing.T) {
	e := newTestEnv(t)
	for _, path := range []string{"/api/tasks", "/api/stats"} {
		rec := e.do(t, http.MethodGet, path, "", "")
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("%s: expected 401 without token, got %d", path, rec.Code)
		}
	}
	rec := e.do(t, http.MethodGet, "/api/tasks", "garbage-token", "")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for bad token, got %d", rec.Code)
	}
}

func TestRegisterLoginRefresh(t *testing.T) {
	e := newTestEnv(t)

	rec := e.do(t, http.MethodPost, "/api/auth/register", "",
		`{"email": "new@example.com", "name": "New", "password": "password123"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("register: expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	result := decode[*AuthResult](t, rec)
	if result.Token == "" || result.User.Role != models.RoleLawyer {
		t.Fatalf("unexpected register result: %+v", result)
	}

	// Duplicate email.
	rec = e.do(t, http.MethodPost, "/api/auth/register", "",
		`{"email": "new@example.com", "name": "New", "password": "password123"}`)
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 for duplicate email, got %d", rec.Code)
	}

	// Manager allow-list drives the role.
	manager, err := e.service.Login(context.Background(), "boss@example.com", "password123")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if manager.User.Role != models.RoleOfficeManager {
		t.Fatalf("expected office_manager role, got %s", manager.User.Role)
	}

	rec = e.do(t, http.MethodPost, "/api/auth/login", "",
		`{"email": "new@example.com", "password": "wrong-password"}`)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for wrong password, got %d", rec.Code)
	}

	rec = e.do(t, http.MethodPost, "/api/auth/refresh", result.Token, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("refresh: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	refreshed := decode[*AuthResult](t, rec)
	if refreshed.Token == "" {
		t.Fatal("expected fresh token")
	}
}

func TestRegisterValidation(t *testing.T) {
	e := newTestEnv(t)
	rec := e.do(t, http.MethodPost, "/api/auth/register", "",
		`{"email": "bad", "name": "X", "password": "password123"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad email, got %d", rec.Code)
	}
	rec = e.do(t, http.MethodPost, "/api/auth/register", "",
		`{"email": "ok@example.com", "name": "X", "password": "short"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for short password, got %d", rec.Code)
	}
}

func TestHealthAndReady(t *testing.T) {
	e := newTestEnv(t)
	rec := e.do(t, http.MethodGet, "/health", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("health: expected 200, got %d", rec.Code)
	}
	rec = e.do(t, http.MethodGet, "/ready", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("ready: expected 200, got %d", rec.Code)
	}
}

func TestCORSHeadersAndPreflight(t *testing.T) {
	e := newTestEnv(t)
	rec := e.do(t, http.MethodGet, "/health", "", "")
	if rec.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Fatal("expected CORS header on responses")
	}

	req := httptest.NewRequest(http.MethodOptions, "/api/tasks", nil)
	pre := httptest.NewRecorder()
	e.handler.ServeHTTP(pre, req)
	if pre.Code != http.StatusNoContent {
		t.Fatalf("expected 204 preflight, got %d", pre.Code)
	}
}

// --- Legacy /exec ---

func TestExecGetTasksEnvelope(t *testing.T) {
	e := newTestEnv(t)
	e.createTask(t, createBody)

	rec := e.do(t, http.MethodGet, "/exec?action=getTasks", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	env := decode[map[string]any](t, rec)
	if env["status"] != "success" {
		t.Fatalf("expected success envelope, got %v", env)
	}
	data, ok := env["data"].([]any)
	if !ok || len(data) != 1 {
		t.Fatalf("expected 1 task in data, got %v", env["data"])
	}
}

func TestExecJSONPCallback(t *testing.T) {
	e := newTestEnv(t)
	rec := e.do(t, http.MethodGet, "/exec?action=getStats&callback=handleStats", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/javascript" {
		t.Fatalf("expected application/javascript, got %q", ct)
	}
	body := rec.Body.String()
	if !strings.HasPrefix(body, "handleStats(") || !strings.HasSuffix(body, ");") {
		t.Fatalf("expected JSONP wrapping, got %q", body)
	}
}

func TestExecRejectsBadCallbackName(t *testing.T) {
	e := newTestEnv(t)
	rec := e.do(t, http.MethodGet, "/exec?action=getStats&callback=alert(1)//", "", "")
	if ct := rec.Header().Get("Content-Type"); ct == "application/javascript" {
		t.Fatal("invalid callback must not produce javascript")
	}
}

func TestExecUnknownAction(t *testing.T) {
	e := newTestEnv(t)
	rec := e.do(t, http.MethodGet, "/exec?action=dropTables", "", "")
	env := decode[map[string]any](t, rec)
	if env["status"] != "error" {
		t.Fatalf("expected error envelope, got %v", env)
	}
}

func TestExecFormCreate(t *testing.T) {
	e := newTestEnv(t)
	form := url.Values{
		"title":             {"From the intake form"},
		"category":          {"admin"},
		"assigned_to":       {"Shani"},
		"assigned_to_email": {"office@x.co"},
		"created_by":        {"Haim"},
		"created_by_email":  {"haim@x.co"},
		"priority":          {"urgent"},
		"notes":             {"dropped on the floor"},
	}
	req := httptest.NewRequest(http.MethodPost, "/exec", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	env := decode[map[string]any](t, rec)
	if env["status"] != "success" {
		t.Fatalf("expected success, got %v", env)
	}
	data := env["data"].(map[string]any)
	if !strings.HasPrefix(data["task_id"].(string), "TASK-") {
		t.Fatalf("expected legacy TASK- id, got %v", data["task_id"])
	}
	if data["secretary_notes"] != nil && data["secretary_notes"] != "" {
		t.Fatalf("notes field must be dropped, got %v", data["secretary_notes"])
	}
}

func TestExecUpdateAndCompleteViaGet(t *testing.T) {
	e := newTestEnv(t)
	task := e.createTask(t, createBody)

	rec := e.do(t, http.MethodGet, "/exec?action=updateTask&id="+task.ID+"&status=in-progress", "", "")
	env := decode[map[string]any](t, rec)
	if env["status"] != "success" {
		t.Fatalf("expected success, got %v", env)
	}

	rec = e.do(t, http.MethodGet, "/exec?action=markCompleted&id="+task.ID+"&details=done+by+phone", "", "")
	env = decode[map[string]any](t, rec)
	if env["status"] != "success" {
		t.Fatalf("expected success, got %v", env)
	}
	data := env["data"].(map[string]any)
	if data["status"] != string(models.TaskStatusDone) {
		t.Fatalf("expected done, got %v", data["status"])
	}
}
