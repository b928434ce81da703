// Package store persists tasks, users and audit records through
// database/sql. Two dialects are supported behind the same
// implementation: embedded sqlite (the default) and postgres for a
// hosted deployment. Queries are written with ? placeholders and
// rebound to $n for postgres.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"taskdesk/internal/models"
)

var (
	// ErrTaskNotFound is returned when no task matches the given id.
	ErrTaskNotFound = errors.New("task not found")
	// ErrUserNotFound is returned when no user matches the given email.
	ErrUserNotFound = errors.New("user not found")
	// ErrDuplicateEmail is returned when registering an email that exists.
	ErrDuplicateEmail = errors.New("email already registered")
	// ErrInvalidTransition is returned when a status change breaks the
	// lifecycle rules.
	ErrInvalidTransition = errors.New("invalid status transition")
)

// Dialect names the SQL flavor a Store speaks.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)

// Store wraps the database handle.
type Store struct {
	db      *sql.DB
	dialect Dialect
	now     func() time.Time
	randInt func(n int) int
}

// Open connects to the database and runs migrations. For sqlite, dsn is
// a file path; for postgres, a connection string.
func Open(dialect Dialect, dsn string) (*Store, error) {
	var db *sql.DB
	var err error
	switch dialect {
	case DialectSQLite:
		db, err = sql.Open("sqlite", dsn+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)")
		if err == nil {
			// modernc sqlite is single-writer; serialize access.
			db.SetMaxOpenConns(1)
		}
	case DialectPostgres:
		db, err = sql.Open("pgx", dsn)
	default:
		return nil, fmt.Errorf("unknown dialect %q", dialect)
	}
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	s := &Store{db: db, dialect: dialect, now: time.Now, randInt: rand.Intn}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// Close closes the underlying handle.
func (s *Store) Close() error { return s.db.Close() }

// Ping checks connectivity for the readiness probe.
func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

// rebind converts ? placeholders to $n for postgres.
func (s *Store) rebind(query string) string {
	if s.dialect != DialectPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *Store) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS tasks (
			id TEXT PRIMARY KEY,
			task_id TEXT NOT NULL UNIQUE,
			title TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			category TEXT NOT NULL,
			priority TEXT NOT NULL DEFAULT 'normal',
			status TEXT NOT NULL DEFAULT 'new',
			assigned_to TEXT NOT NULL,
			assigned_email TEXT NOT NULL,
			created_by TEXT NOT NULL,
			deadline TEXT,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL,
			secretary_notes TEXT NOT NULL DEFAULT '',
			completion_details TEXT NOT NULL DEFAULT '',
			completion_date TEXT NOT NULL DEFAULT '',
			completion_time TEXT NOT NULL DEFAULT '',
			return_count INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status)`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_assigned ON tasks(assigned_to)`,
		`CREATE TABLE IF NOT EXISTS users (
			id TEXT PRIMARY KEY,
			email TEXT NOT NULL UNIQUE,
			name TEXT NOT NULL,
			password_hash TEXT NOT NULL,
			role TEXT NOT NULL,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL,
			last_login TEXT,
			is_active INTEGER NOT NULL DEFAULT 1
		)`,
		`CREATE TABLE IF NOT EXISTS audit_log (
			id TEXT PRIMARY KEY,
			action TEXT NOT NULL,
			inputs_hash TEXT NOT NULL,
			outcome TEXT NOT NULL,
			task_id TEXT NOT NULL DEFAULT '',
			details TEXT NOT NULL DEFAULT '',
			ts TEXT NOT NULL
		)`,
	}
	if s.dialect == DialectPostgres {
		for i := range stmts {
			stmts[i] = strings.ReplaceAll(stmts[i],
				"is_active INTEGER NOT NULL DEFAULT 1",
				"is_active BOOLEAN NOT NULL DEFAULT TRUE")
		}
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("exec migration: %w", err)
		}
	}
	return nil
}

// --- Tasks ---

// NewTaskID builds the human-readable identifier the legacy intake
// generates, TASK-<timestamp>-<4 random digits>.
func (s *Store) NewTaskID() string {
	return fmt.Sprintf("TASK-%s-%04d", s.now().UTC().Format("20060102150405"), s.randInt(10000))
}

// CreateTask inserts a task, filling id, timestamps and defaulting
// status to new and priority to normal. An empty task_id mirrors the
// row id, the shape the REST clients expect.
func (s *Store) CreateTask(ctx context.Context, t *models.Task) error {
	return s.createTask(ctx, t, false)
}

// CreateLegacyTask inserts a task with a generated TASK-... task_id,
// the shape the spreadsheet-era intake produced.
func (s *Store) CreateLegacyTask(ctx context.Context, t *models.Task) error {
	return s.createTask(ctx, t, true)
}

func (s *Store) createTask(ctx context.Context, t *models.Task, legacyID bool) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	generatedTaskID := false
	if t.TaskID == "" {
		if legacyID {
			t.TaskID = s.NewTaskID()
			generatedTaskID = true
		} else {
			t.TaskID = t.ID
		}
	}
	if t.Status == "" {
		t.Status = models.TaskStatusNew
	}
	if t.Priority == "" {
		t.Priority = models.PriorityNormal
	}
	now := s.now().UTC()
	t.CreatedAt = now
	t.UpdatedAt = now

	for attempt := 0; ; attempt++ {
		_, err := s.db.ExecContext(ctx, s.rebind(`INSERT INTO tasks
			(id, task_id, title, description, category, priority, status,
			 assigned_to, assigned_email, created_by, deadline, created_at,
			 updated_at, secretary_notes, completion_details, completion_date,
			 completion_time, return_count)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
			t.ID, t.TaskID, t.Title, t.Description, string(t.Category),
			string(t.Priority), string(t.Status), t.AssignedTo, t.AssignedEmail,
			t.CreatedBy, nullTime(t.DueDate), formatTime(now), formatTime(now),
			t.SecretaryNotes, t.CompletionDetails, t.CompletionDate,
			t.CompletionTime, t.ReturnCount)
		if err == nil {
			return nil
		}
		// Same-second creates can collide on the random task_id suffix.
		if generatedTaskID && attempt < 3 && isUniqueViolation(err) {
			t.TaskID = s.NewTaskID()
			continue
		}
		return fmt.Errorf("insert task: %w", err)
	}
}

func isUniqueViolation(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE") || strings.Contains(msg, "duplicate")
}

const taskColumns = `id, task_id, title, description, category, priority, status,
	assigned_to, assigned_email, created_by, deadline, created_at, updated_at,
	secretary_notes, completion_details, completion_date, completion_time, return_count`

func scanTask(row interface{ Scan(...any) error }) (*models.Task, error) {
	var t models.Task
	var deadline sql.NullString
	var createdAt, updatedAt string
	err := row.Scan(&t.ID, &t.TaskID, &t.Title, &t.Description, &t.Category,
		&t.Priority, &t.Status, &t.AssignedTo, &t.AssignedEmail, &t.CreatedBy,
		&deadline, &createdAt, &updatedAt, &t.SecretaryNotes,
		&t.CompletionDetails, &t.CompletionDate, &t.CompletionTime, &t.ReturnCount)
	if err != nil {
		return nil, err
	}
	t.CreatedAt = parseTime(createdAt)
	t.UpdatedAt = parseTime(updatedAt)
	if deadline.Valid && deadline.String != "" {
		d := parseTime(deadline.String)
		t.DueDate = &d
	}
	return &t, nil
}

// GetTask fetches a task by uuid or by its human-readable task_id.
func (s *Store) GetTask(ctx context.Context, id string) (*models.Task, error) {
	row := s.db.QueryRowContext(ctx,
		s.rebind(`SELECT `+taskColumns+` FROM tasks WHERE id = ? OR task_id = ?`), id, id)
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrTaskNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select task: %w", err)
	}
	return t, nil
}

// ListFilter narrows ListTasks. Zero values mean no filtering.
type ListFilter struct {
	Status   models.TaskStatus
	Assignee string
}

// ListTasks returns tasks newest first, optionally filtered.
func (s *Store) ListTasks(ctx context.Context, f ListFilter) ([]*models.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks`
	var conds []string
	var args []any
	if f.Status != "" {
		conds = append(conds, "status = ?")
		args = append(args, string(f.Status))
	}
	if f.Assignee != "" {
		conds = append(conds, "assigned_to = ?")
		args = append(args, f.Assignee)
	}
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY created_at DESC"

	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("select tasks: %w", err)
	}
	defer rows.Close()

	tasks := []*models.Task{}
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

// updatableColumns are the columns UpdateTask accepts in a patch.
var updatableColumns = map[string]bool{
	"title": true, "description": true, "category": true, "priority": true,
	"status": true, "assigned_to": true, "assigned_email": true,
	"deadline": true, "secretary_notes": true, "completion_details": true,
	"completion_date": true, "completion_time": true,
}

// UpdateTask applies a partial update. Unknown keys in the patch are
// ignored; status changes go through the transition check.
func (s *Store) UpdateTask(ctx context.Context, id string, patch map[string]any) (*models.Task, error) {
	current, err := s.GetTask(ctx, id)
	if err != nil {
		return nil, err
	}

	if raw, ok := patch["status"]; ok {
		next, _ := raw.(string)
		if !models.CanTransition(current.Status, models.TaskStatus(next)) {
			return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current.Status, next)
		}
	}

	cols := make([]string, 0, len(patch))
	for k := range patch {
		if updatableColumns[k] {
			cols = append(cols, k)
		}
	}
	if len(cols) == 0 {
		return current, nil
	}
	sort.Strings(cols)

	sets := make([]string, 0, len(cols)+1)
	args := make([]any, 0, len(cols)+2)
	for _, c := range cols {
		sets = append(sets, c+" = ?")
		args = append(args, patch[c])
	}
	sets = append(sets, "updated_at = ?")
	args = append(args, formatTime(s.now().UTC()))
	args = append(args, current.ID)

	_, err = s.db.ExecContext(ctx,
		s.rebind("UPDATE tasks SET "+strings.Join(sets, ", ")+" WHERE id = ?"), args...)
	if err != nil {
		return nil, fmt.Errorf("update task: %w", err)
	}
	return s.GetTask(ctx, current.ID)
}

// SetStatus transitions a task to the given status, enforcing the
// lifecycle rules.
func (s *Store) SetStatus(ctx context.Context, id string, status models.TaskStatus) (*models.Task, error) {
	return s.UpdateTask(ctx, id, map[string]any{"status": string(status)})
}

// CompleteTask marks a task done and records the completion details
// with the local date and time split out the way the legacy reports
// expect them.
func (s *Store) CompleteTask(ctx context.Context, id, details string) (*models.Task, error) {
	now := s.now()
	return s.UpdateTask(ctx, id, map[string]any{
		"status":             string(models.TaskStatusDone),
		"completion_details": details,
		"completion_date":    now.Format("2006-01-02"),
		"completion_time":    now.Format("15:04:05"),
	})
}

// ReturnTask sends a task back for completion, incrementing its return
// counter and recording the reason.
func (s *Store) ReturnTask(ctx context.Context, id, reason string) (*models.Task, error) {
	current, err := s.GetTask(ctx, id)
	if err != nil {
		return nil, err
	}
	if !models.CanTransition(current.Status, models.TaskStatusReturned) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current.Status, models.TaskStatusReturned)
	}
	_, err = s.db.ExecContext(ctx, s.rebind(`UPDATE tasks
		SET status = ?, secretary_notes = ?, return_count = return_count + 1, updated_at = ?
		WHERE id = ?`),
		string(models.TaskStatusReturned), reason, formatTime(s.now().UTC()), current.ID)
	if err != nil {
		return nil, fmt.Errorf("return task: %w", err)
	}
	return s.GetTask(ctx, current.ID)
}

// ResubmitTask moves a returned task back to new, appending the
// assignee's response to the notes.
func (s *Store) ResubmitTask(ctx context.Context, id, response string) (*models.Task, error) {
	current, err := s.GetTask(ctx, id)
	if err != nil {
		return nil, err
	}
	if current.Status != models.TaskStatusReturned {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current.Status, models.TaskStatusNew)
	}
	notes := current.SecretaryNotes
	if response != "" {
		if notes != "" {
			notes += "\n"
		}
		notes += "response: " + response
	}
	_, err = s.db.ExecContext(ctx, s.rebind(`UPDATE tasks
		SET status = ?, secretary_notes = ?, updated_at = ?
		WHERE id = ?`),
		string(models.TaskStatusNew), notes, formatTime(s.now().UTC()), current.ID)
	if err != nil {
		return nil, fmt.Errorf("resubmit task: %w", err)
	}
	return s.GetTask(ctx, current.ID)
}

// DeleteTask removes a task permanently.
func (s *Store) DeleteTask(ctx context.Context, id string) error {
	current, err := s.GetTask(ctx, id)
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, s.rebind(`DELETE FROM tasks WHERE id = ?`), current.ID); err != nil {
		return fmt.Errorf("delete task: %w", err)
	}
	return nil
}

// ExpireOverdue marks every new or in-progress task whose deadline has
// passed as expired, returning the affected tasks.
func (s *Store) ExpireOverdue(ctx context.Context) ([]*models.Task, error) {
	cutoff := formatTime(s.now().UTC())
	rows, err := s.db.QueryContext(ctx, s.rebind(`SELECT `+taskColumns+` FROM tasks
		WHERE status IN (?, ?) AND deadline IS NOT NULL AND deadline != '' AND deadline < ?`),
		string(models.TaskStatusNew), string(models.TaskStatusInProgress), cutoff)
	if err != nil {
		return nil, fmt.Errorf("select overdue: %w", err)
	}
	defer rows.Close()

	var overdue []*models.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan overdue: %w", err)
		}
		overdue = append(overdue, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, t := range overdue {
		_, err := s.db.ExecContext(ctx, s.rebind(`UPDATE tasks SET status = ?, updated_at = ? WHERE id = ?`),
			string(models.TaskStatusExpired), cutoff, t.ID)
		if err != nil {
			return nil, fmt.Errorf("expire task %s: %w", t.ID, err)
		}
		t.Status = models.TaskStatusExpired
	}
	return overdue, nil
}

// Stats aggregates task counts by status.
func (s *Store) Stats(ctx context.Context) (*models.TaskStats, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM tasks GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("select stats: %w", err)
	}
	defer rows.Close()

	var stats models.TaskStats
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("scan stats: %w", err)
		}
		stats.Total += count
		switch models.TaskStatus(status) {
		case models.TaskStatusNew:
			stats.New = count
		case models.TaskStatusInProgress:
			stats.InProgress = count
		case models.TaskStatusDone:
			stats.Completed = count
		case models.TaskStatusCancelled:
			stats.Cancelled = count
		case models.TaskStatusExpired:
			stats.Expired = count
		case models.TaskStatusReturned:
			stats.Returned = count
		}
	}
	return &stats, rows.Err()
}

// UserStats aggregates task counts for one assignee.
func (s *Store) UserStats(ctx context.Context, assignee string) (*models.UserStats, error) {
	rows, err := s.db.QueryContext(ctx,
		s.rebind(`SELECT status, COUNT(*) FROM tasks WHERE assigned_to = ? GROUP BY status`), assignee)
	if err != nil {
		return nil, fmt.Errorf("select user stats: %w", err)
	}
	defer rows.Close()

	stats := models.UserStats{Assignee: assignee}
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("scan user stats: %w", err)
		}
		stats.TotalTasks += count
		switch models.TaskStatus(status) {
		case models.TaskStatusDone:
			stats.CompletedTasks += count
		case models.TaskStatusNew, models.TaskStatusInProgress, models.TaskStatusReturned:
			stats.PendingTasks += count
		}
	}
	return &stats, rows.Err()
}

// --- Users ---

// CreateUser inserts a user, filling id and timestamps.
func (s *Store) CreateUser(ctx context.Context, u *models.User) error {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	now := s.now().UTC()
	u.CreatedAt = now
	u.UpdatedAt = now
	u.IsActive = true

	_, err := s.db.ExecContext(ctx, s.rebind(`INSERT INTO users
		(id, email, name, password_hash, role, created_at, updated_at, last_login, is_active)
		VALUES (?, ?, ?, ?, ?, ?, ?, NULL, ?)`),
		u.ID, strings.ToLower(u.Email), u.Name, u.PasswordHash, u.Role,
		formatTime(now), formatTime(now), u.IsActive)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateEmail
		}
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

// GetUserByEmail fetches a user by email, case-insensitive.
func (s *Store) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`SELECT
		id, email, name, password_hash, role, created_at, updated_at, last_login, is_active
		FROM users WHERE email = ?`), strings.ToLower(email))

	var u models.User
	var createdAt, updatedAt string
	var lastLogin sql.NullString
	err := row.Scan(&u.ID, &u.Email, &u.Name, &u.PasswordHash, &u.Role,
		&createdAt, &updatedAt, &lastLogin, &u.IsActive)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select user: %w", err)
	}
	u.CreatedAt = parseTime(createdAt)
	u.UpdatedAt = parseTime(updatedAt)
	if lastLogin.Valid && lastLogin.String != "" {
		t := parseTime(lastLogin.String)
		u.LastLogin = &t
	}
	return &u, nil
}

// UpdateLastLogin stamps the user's last_login.
func (s *Store) UpdateLastLogin(ctx context.Context, id string) error {
	now := formatTime(s.now().UTC())
	_, err := s.db.ExecContext(ctx,
		s.rebind(`UPDATE users SET last_login = ?, updated_at = ? WHERE id = ?`), now, now, id)
	if err != nil {
		return fmt.Errorf("update last login: %w", err)
	}
	return nil
}

// --- Audit ---

// WriteAudit appends an audit record.
func (s *Store) WriteAudit(ctx context.Context, e *models.AuditEntry) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = s.now().UTC()
	}
	_, err := s.db.ExecContext(ctx, s.rebind(`INSERT INTO audit_log
		(id, action, inputs_hash, outcome, task_id, details, ts)
		VALUES (?, ?, ?, ?, ?, ?, ?)`),
		e.ID, e.Action, e.InputsHash, e.Outcome, e.TaskID, e.Details, formatTime(e.Timestamp))
	if err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}

// --- Time helpers ---

// timeLayout is RFC3339 with fixed-width nanoseconds. RFC3339Nano
// trims trailing zeros, which breaks lexical ordering; ORDER BY
// created_at and the deadline sweep compare these columns as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string { return t.UTC().Format(timeLayout) }

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}
