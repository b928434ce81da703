// Package models defines the core domain types for TaskDesk.
package models

import "time"

// TaskStatus represents the current state of a task.
type TaskStatus string

const (
	TaskStatusNew        TaskStatus = "new"
	TaskStatusInProgress TaskStatus = "in-progress"
	TaskStatusDone       TaskStatus = "done"
	TaskStatusReturned   TaskStatus = "returned-for-completion"
	TaskStatusCancelled  TaskStatus = "cancelled"
	TaskStatusExpired    TaskStatus = "expired"
)

// TaskPriority represents the urgency of a task.
type TaskPriority string

const (
	PriorityNormal     TaskPriority = "normal"
	PriorityUrgent     TaskPriority = "urgent"
	PriorityVeryUrgent TaskPriority = "very-urgent"
)

// TaskCategory classifies the kind of office work a task covers.
type TaskCategory string

const (
	CategoryLegal     TaskCategory = "legal"
	CategoryTechnical TaskCategory = "technical"
	CategoryBilling   TaskCategory = "billing"
	CategoryMeeting   TaskCategory = "meeting"
	CategoryAdmin     TaskCategory = "admin"
	CategoryOther     TaskCategory = "other"
)

// Priorities lists every valid priority value.
var Priorities = []TaskPriority{PriorityNormal, PriorityUrgent, PriorityVeryUrgent}

// Categories lists every valid category value.
var Categories = []TaskCategory{
	CategoryLegal, CategoryTechnical, CategoryBilling,
	CategoryMeeting, CategoryAdmin, CategoryOther,
}

// Statuses lists every valid status value.
var Statuses = []TaskStatus{
	TaskStatusNew, TaskStatusInProgress, TaskStatusDone,
	TaskStatusReturned, TaskStatusCancelled, TaskStatusExpired,
}

// Task is a unit of office work tracked through a status lifecycle.
// JSON field names follow the frontend shape: assigned_to_email and
// due_date are the wire aliases for the stored assigned_email and
// deadline columns.
type Task struct {
	ID                string       `json:"id"`
	TaskID            string       `json:"task_id"`
	Title             string       `json:"title"`
	Description       string       `json:"description,omitempty"`
	Category          TaskCategory `json:"category"`
	Priority          TaskPriority `json:"priority"`
	Status            TaskStatus   `json:"status"`
	AssignedTo        string       `json:"assigned_to"`
	AssignedEmail     string       `json:"assigned_to_email"`
	CreatedBy         string       `json:"created_by"`
	DueDate           *time.Time   `json:"due_date,omitempty"`
	CreatedAt         time.Time    `json:"created_at"`
	UpdatedAt         time.Time    `json:"updated_at"`
	SecretaryNotes    string       `json:"secretary_notes,omitempty"`
	CompletionDetails string       `json:"completion_details,omitempty"`
	CompletionDate    string       `json:"completion_date,omitempty"`
	CompletionTime    string       `json:"completion_time,omitempty"`
	ReturnCount       int          `json:"return_count"`
}

// IsActive reports whether the task still belongs to the dashboard's
// "active" partition. done and cancelled form the completed partition.
func (t *Task) IsActive() bool {
	return t.Status != TaskStatusDone && t.Status != TaskStatusCancelled
}

// IsTerminal reports whether API-driven transitions out of the status
// are forbidden. returned-for-completion is not terminal: the resubmit
// loop moves it back to new.
func (s TaskStatus) IsTerminal() bool {
	return s == TaskStatusDone || s == TaskStatusCancelled || s == TaskStatusExpired
}

// CanTransition reports whether a task may move from one status to
// another. Transitions are one-directional except the return cycle:
// new/in-progress -> returned-for-completion -> new.
func CanTransition(from, to TaskStatus) bool {
	if from == to {
		return true
	}
	switch from {
	case TaskStatusNew:
		return to == TaskStatusInProgress || to == TaskStatusDone ||
			to == TaskStatusReturned || to == TaskStatusCancelled || to == TaskStatusExpired
	case TaskStatusInProgress:
		return to == TaskStatusDone || to == TaskStatusReturned ||
			to == TaskStatusCancelled || to == TaskStatusExpired
	case TaskStatusReturned:
		return to == TaskStatusNew || to == TaskStatusCancelled
	default:
		return false
	}
}

// User represents an account in the system.
type User struct {
	ID           string     `json:"id"`
	Email        string     `json:"email"`
	Name         string     `json:"name"`
	PasswordHash string     `json:"-"`
	Role         string     `json:"role"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	LastLogin    *time.Time `json:"last_login,omitempty"`
	IsActive     bool       `json:"is_active"`
}

// User roles. Office managers hold full visibility and update rights
// over all tasks; everyone else is a regular user.
const (
	RoleOfficeManager = "office_manager"
	RoleLawyer        = "lawyer"
)

// TaskStats aggregates task counts by status.
type TaskStats struct {
	Total      int `json:"total"`
	New        int `json:"new"`
	InProgress int `json:"in_progress"`
	Completed  int `json:"completed"`
	Cancelled  int `json:"cancelled"`
	Expired    int `json:"expired"`
	Returned   int `json:"returned"`
}

// UserStats aggregates task counts for a single assignee.
type UserStats struct {
	Assignee       string `json:"assignee"`
	TotalTasks     int    `json:"total_tasks"`
	CompletedTasks int    `json:"completed_tasks"`
	PendingTasks   int    `json:"pending_tasks"`
}

// AuditEntry records a state-mutating action for the audit trail.
type AuditEntry struct {
	ID         string    `json:"id"`
	Action     string    `json:"action"`
	InputsHash string    `json:"inputs_hash"`
	Outcome    string    `json:"outcome"`
	TaskID     string    `json:"task_id,omitempty"`
	Details    string    `json:"details,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}
