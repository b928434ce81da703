// Package httpapi serves the TaskDesk REST API and the legacy /exec
// endpoint. The Service layer sits between the handlers and the store,
// owning caching, notifications and the audit trail; the Server maps
// service results onto HTTP.
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"time"

	"taskdesk/internal/adapter"
	"taskdesk/internal/audit"
	"taskdesk/internal/auth"
	"taskdesk/internal/cache"
	"taskdesk/internal/models"
	"taskdesk/internal/notify"
	"taskdesk/internal/store"
)

// Cache lifetimes per key class.
const (
	taskListTTL  = 5 * time.Minute
	taskTTL      = 2 * time.Minute
	statsTTL     = time.Minute
	userStatsTTL = 2 * time.Minute
)

// ErrForbidden is returned when the caller's role does not allow the
// operation.
var ErrForbidden = errors.New("forbidden")

// Service implements the API operations over the store.
type Service struct {
	store    *store.Store
	cache    *cache.Cache
	queue    *notify.Queue
	auditor  *audit.Recorder
	issuer   *auth.Issuer
	managers []string
}

// NewService wires the service. queue and auditor may be nil.
func NewService(st *store.Store, c *cache.Cache, q *notify.Queue, a *audit.Recorder, issuer *auth.Issuer, managerEmails []string) *Service {
	return &Service{
		store:    st,
		cache:    c,
		queue:    q,
		auditor:  a,
		issuer:   issuer,
		managers: managerEmails,
	}
}

// Store exposes the underlying store for health checks.
func (s *Service) Store() *store.Store { return s.store }

func (s *Service) invalidateTaskCaches() {
	if s.cache == nil {
		return
	}
	s.cache.InvalidateByTag("tasks")
	s.cache.InvalidateByTag("stats")
}

func (s *Service) enqueue(event notify.Event, task *models.Task, extra string) {
	if s.queue != nil {
		s.queue.Enqueue(event, task, extra)
	}
}

// --- Tasks ---

// CreateTask validates a frontend-shaped payload and inserts the task.
// The created task's task_id mirrors its id.
func (s *Service) CreateTask(ctx context.Context, payload map[string]any) (*models.Task, error) {
	return s.createTask(ctx, payload, false)
}

// CreateLegacyTask is CreateTask with a generated TASK-... task_id, for
// the /exec intake path.
func (s *Service) CreateLegacyTask(ctx context.Context, payload map[string]any) (*models.Task, error) {
	return s.createTask(ctx, payload, true)
}

func (s *Service) createTask(ctx context.Context, payload map[string]any, legacy bool) (*models.Task, error) {
	if err := adapter.ValidateCreate(payload); err != nil {
		return nil, err
	}
	mapped := adapter.MapFrontendToStore(payload)
	task, err := taskFromPayload(mapped)
	if err != nil {
		return nil, err
	}
	insert := s.store.CreateTask
	if legacy {
		insert = s.store.CreateLegacyTask
	}
	if err := insert(ctx, task); err != nil {
		s.auditor.Record(ctx, "task.create", payload, "error", "", err.Error())
		return nil, err
	}
	s.invalidateTaskCaches()
	s.enqueue(notify.EventCreated, task, "")
	s.auditor.Record(ctx, "task.create", payload, "ok", task.TaskID, "")
	return task, nil
}

// taskFromPayload builds a Task from store-column-named fields.
func taskFromPayload(m map[string]any) (*models.Task, error) {
	str := func(key string) string {
		v, _ := m[key].(string)
		return v
	}
	task := &models.Task{
		Title:          str("title"),
		Description:    str("description"),
		Category:       models.TaskCategory(str("category")),
		Priority:       models.TaskPriority(str("priority")),
		AssignedTo:     str("assigned_to"),
		AssignedEmail:  str("assigned_email"),
		CreatedBy:      str("created_by"),
		SecretaryNotes: str("secretary_notes"),
	}
	if raw := str("deadline"); raw != "" {
		due, err := parseDeadline(raw)
		if err != nil {
			return nil, &adapter.ValidationError{Field: "due_date", Reason: err.Error()}
		}
		task.DueDate = &due
	}
	return task, nil
}

// parseDeadline accepts either a bare date or a full RFC3339 timestamp.
func parseDeadline(raw string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	if t, err := time.Parse("2006-01-02", raw); err == nil {
		// End of day, so a task due today is not instantly overdue.
		return t.Add(24*time.Hour - time.Second), nil
	}
	return time.Time{}, fmt.Errorf("unrecognized date %q", raw)
}

// ListTasks returns tasks, cached per filter combination.
func (s *Service) ListTasks(ctx context.Context, f store.ListFilter) ([]*models.Task, error) {
	key := fmt.Sprintf("tasks:%s:%s", f.Status, f.Assignee)
	if s.cache != nil {
		if v := s.cache.Get(key); v != nil {
			return v.([]*models.Task), nil
		}
	}
	tasks, err := s.store.ListTasks(ctx, f)
	if err != nil {
		return nil, err
	}
	if s.cache != nil {
		s.cache.Set(key, tasks, taskListTTL, "tasks")
	}
	return tasks, nil
}

// GetTask returns one task by uuid or task_id, cached briefly.
func (s *Service) GetTask(ctx context.Context, id string) (*models.Task, error) {
	key := "task:" + id
	if s.cache != nil {
		if v := s.cache.Get(key); v != nil {
			return v.(*models.Task), nil
		}
	}
	task, err := s.store.GetTask(ctx, id)
	if err != nil {
		return nil, err
	}
	if s.cache != nil {
		s.cache.Set(key, task, taskTTL, "tasks", "task:"+task.ID)
	}
	return task, nil
}

// UpdateTask applies a frontend-shaped partial update.
func (s *Service) UpdateTask(ctx context.Context, id string, payload map[string]any) (*models.Task, error) {
	patch := adapter.MapFrontendToStore(payload)
	delete(patch, "id")
	delete(patch, "task_id")
	task, err := s.store.UpdateTask(ctx, id, patch)
	if err != nil {
		s.auditor.Record(ctx, "task.update", payload, "error", id, err.Error())
		return nil, err
	}
	s.invalidateTaskCaches()
	s.auditor.Record(ctx, "task.update", payload, "ok", task.TaskID, "")
	return task, nil
}

// CompleteTask marks a task done and notifies its creator chain.
func (s *Service) CompleteTask(ctx context.Context, id, details string) (*models.Task, error) {
	task, err := s.store.CompleteTask(ctx, id, details)
	if err != nil {
		s.auditor.Record(ctx, "task.complete", id, "error", id, err.Error())
		return nil, err
	}
	s.invalidateTaskCaches()
	s.enqueue(notify.EventCompleted, task, details)
	s.auditor.Record(ctx, "task.complete", id, "ok", task.TaskID, "")
	return task, nil
}

// ReturnTask sends a task back for completion.
func (s *Service) ReturnTask(ctx context.Context, id, reason string) (*models.Task, error) {
	task, err := s.store.ReturnTask(ctx, id, reason)
	if err != nil {
		s.auditor.Record(ctx, "task.return", id, "error", id, err.Error())
		return nil, err
	}
	s.invalidateTaskCaches()
	s.enqueue(notify.EventReturned, task, reason)
	s.auditor.Record(ctx, "task.return", id, "ok", task.TaskID, "")
	return task, nil
}

// ResubmitTask moves a returned task back to new.
func (s *Service) ResubmitTask(ctx context.Context, id, response string) (*models.Task, error) {
	task, err := s.store.ResubmitTask(ctx, id, response)
	if err != nil {
		s.auditor.Record(ctx, "task.resubmit", id, "error", id, err.Error())
		return nil, err
	}
	s.invalidateTaskCaches()
	s.enqueue(notify.EventResubmitted, task, response)
	s.auditor.Record(ctx, "task.resubmit", id, "ok", task.TaskID, "")
	return task, nil
}

// DeleteTask removes a task.
func (s *Service) DeleteTask(ctx context.Context, id string) error {
	if err := s.store.DeleteTask(ctx, id); err != nil {
		s.auditor.Record(ctx, "task.delete", id, "error", id, err.Error())
		return err
	}
	s.invalidateTaskCaches()
	s.auditor.Record(ctx, "task.delete", id, "ok", id, "")
	return nil
}

// Stats returns status aggregates, cached for a minute.
func (s *Service) Stats(ctx context.Context) (*models.TaskStats, error) {
	if s.cache != nil {
		if v := s.cache.Get("stats"); v != nil {
			return v.(*models.TaskStats), nil
		}
	}
	stats, err := s.store.Stats(ctx)
	if err != nil {
		return nil, err
	}
	if s.cache != nil {
		s.cache.Set("stats", stats, statsTTL, "stats")
	}
	return stats, nil
}

// UserStats returns per-assignee aggregates.
func (s *Service) UserStats(ctx context.Context, assignee string) (*models.UserStats, error) {
	key := "stats:user:" + assignee
	if s.cache != nil {
		if v := s.cache.Get(key); v != nil {
			return v.(*models.UserStats), nil
		}
	}
	stats, err := s.store.UserStats(ctx, assignee)
	if err != nil {
		return nil, err
	}
	if s.cache != nil {
		s.cache.Set(key, stats, userStatsTTL, "stats")
	}
	return stats, nil
}

// --- Auth ---

// AuthResult is returned by Register, Login and Refresh.
type AuthResult struct {
	Token string       `json:"token"`
	User  *models.User `json:"user"`
}

// Register creates a user. The role comes from the manager allow-list,
// never from the request.
func (s *Service) Register(ctx context.Context, email, name, password string) (*AuthResult, error) {
	if !adapter.ValidEmail(email) {
		return nil, &adapter.ValidationError{Field: "email", Reason: "not a valid email address"}
	}
	if len(password) < 8 {
		return nil, &adapter.ValidationError{Field: "password", Reason: "must be at least 8 characters"}
	}
	if name == "" {
		return nil, &adapter.ValidationError{Field: "name", Reason: "required"}
	}
	hash, err := auth.HashPassword(password)
	if err != nil {
		return nil, err
	}
	user := &models.User{
		Email:        email,
		Name:         name,
		PasswordHash: hash,
		Role:         auth.ResolveRole(email, s.managers),
	}
	if err := s.store.CreateUser(ctx, user); err != nil {
		return nil, err
	}
	s.auditor.Record(ctx, "auth.register", email, "ok", "", "")
	return s.issueFor(ctx, user)
}

// Login checks credentials and issues a token.
func (s *Service) Login(ctx context.Context, email, password string) (*AuthResult, error) {
	user, err := s.store.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, store.ErrUserNotFound) {
			return nil, auth.ErrBadCredentials
		}
		return nil, err
	}
	if !user.IsActive {
		return nil, auth.ErrBadCredentials
	}
	if err := auth.CheckPassword(user.PasswordHash, password); err != nil {
		s.auditor.Record(ctx, "auth.login", email, "denied", "", "")
		return nil, err
	}
	if err := s.store.UpdateLastLogin(ctx, user.ID); err != nil {
		return nil, err
	}
	s.auditor.Record(ctx, "auth.login", email, "ok", "", "")
	return s.issueFor(ctx, user)
}

// Refresh exchanges a valid token for a fresh one.
func (s *Service) Refresh(ctx context.Context, token string) (*AuthResult, error) {
	claims, err := s.issuer.Verify(token)
	if err != nil {
		return nil, err
	}
	user, err := s.store.GetUserByEmail(ctx, claims.Email)
	if err != nil {
		if errors.Is(err, store.ErrUserNotFound) {
			return nil, auth.ErrInvalidToken
		}
		return nil, err
	}
	if !user.IsActive {
		return nil, auth.ErrInvalidToken
	}
	return s.issueFor(ctx, user)
}

func (s *Service) issueFor(_ context.Context, user *models.User) (*AuthResult, error) {
	token, _, err := s.issuer.Issue(user)
	if err != nil {
		return nil, err
	}
	return &AuthResult{Token: token, User: user}, nil
}

// VerifyToken validates a bearer token for the middleware.
func (s *Service) VerifyToken(token string) (*auth.Claims, error) {
	return s.issuer.Verify(token)
}

// AuthorizeTaskWrite checks whether claims may mutate the given task.
// Office managers may touch anything; others only their own tasks.
func (s *Service) AuthorizeTaskWrite(ctx context.Context, claims *auth.Claims, id string) error {
	if claims == nil {
		return ErrForbidden
	}
	if claims.Role == models.RoleOfficeManager {
		return nil
	}
	task, err := s.store.GetTask(ctx, id)
	if err != nil {
		return err
	}
	if task.AssignedEmail == claims.Email && auth.CanAccess(claims.Role, "own_tasks", "update") {
		return nil
	}
	return ErrForbidden
}
