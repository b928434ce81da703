// Package adapter translates between the frontend JSON field names and
// the store's column names. The two grew apart historically: the client
// sends assigned_to_email and due_date while the store persists
// assigned_email and deadline, and two client fields have no column at
// all and are dropped on the way in.
package adapter

import (
	"fmt"
	"regexp"

	"taskdesk/internal/models"
)

// ValidationError names the offending field so handlers can return a
// 400 without touching the store.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid field %s: %s", e.Field, e.Reason)
}

var emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// requiredFields are checked in order; the first missing one names the
// validation error.
var requiredFields = []string{
	"title", "category", "assigned_to", "assigned_to_email", "created_by", "priority",
}

// droppedFields are accepted from the client but have no store column.
// They vanish silently; this is long-standing behavior the clients
// depend on not erroring.
var droppedFields = map[string]bool{
	"created_by_email": true,
	"notes":            true,
}

// renameIn maps frontend names to store column names.
var renameIn = map[string]string{
	"assigned_to_email": "assigned_email",
	"due_date":          "deadline",
}

// renameOut is the inverse mapping applied when rows leave the store.
var renameOut = map[string]string{
	"assigned_email": "assigned_to_email",
	"deadline":       "due_date",
}

// MapFrontendToStore rewrites a frontend payload into store column
// names. Fields without a column are dropped, everything else passes
// through unchanged.
func MapFrontendToStore(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		if droppedFields[k] {
			continue
		}
		if col, ok := renameIn[k]; ok {
			out[col] = v
			continue
		}
		out[k] = v
	}
	return out
}

// MapStoreToFrontend rewrites a store row into the frontend shape and
// mirrors the row id into task_id when the row carries none, so legacy
// clients that key on task_id keep working.
func MapStoreToFrontend(in map[string]any) map[string]any {
	out := make(map[string]any, len(in)+1)
	for k, v := range in {
		if name, ok := renameOut[k]; ok {
			out[name] = v
			continue
		}
		out[k] = v
	}
	if _, ok := out["task_id"]; !ok {
		if id, ok := out["id"]; ok {
			out["task_id"] = id
		}
	}
	return out
}

// ValidateCreate checks a frontend create payload before any store
// call: required fields present and non-empty, email well-formed,
// priority one of the known values.
func ValidateCreate(in map[string]any) error {
	for _, f := range requiredFields {
		v, ok := in[f]
		if !ok {
			return &ValidationError{Field: f, Reason: "required"}
		}
		s, isStr := v.(string)
		if !isStr || s == "" {
			return &ValidationError{Field: f, Reason: "required"}
		}
	}

	email := in["assigned_to_email"].(string)
	if !emailPattern.MatchString(email) {
		return &ValidationError{Field: "assigned_to_email", Reason: "not a valid email address"}
	}

	priority := in["priority"].(string)
	if !validPriority(priority) {
		return &ValidationError{Field: "priority", Reason: fmt.Sprintf("unknown priority %q", priority)}
	}

	if cat, ok := in["category"].(string); ok && !validCategory(cat) {
		return &ValidationError{Field: "category", Reason: fmt.Sprintf("unknown category %q", cat)}
	}
	return nil
}

func validPriority(p string) bool {
	for _, known := range models.Priorities {
		if p == string(known) {
			return true
		}
	}
	return false
}

func validCategory(c string) bool {
	for _, known := range models.Categories {
		if c == string(known) {
			return true
		}
	}
	return false
}

// ValidEmail reports whether s looks like an email address.
func ValidEmail(s string) bool {
	return emailPattern.MatchString(s)
}
