package httpapi

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"regexp"

	"taskdesk/internal/models"
	"taskdesk/internal/store"
)

// The /exec endpoint reproduces the spreadsheet-era web app contract:
// every operation is a GET with an action query parameter, responses
// are status/message envelopes, and a callback parameter switches the
// response to JSONP for the file:// dashboards that cannot use CORS.
// Tasks are addressed by their stable id or task_id; the old row-number
// addressing is gone.

var callbackPattern = regexp.MustCompile(`^[A-Za-z_$][A-Za-z0-9_$.]*$`)

type legacyEnvelope struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
}

func legacyOK(data any) legacyEnvelope {
	return legacyEnvelope{Status: "success", Data: data}
}

func legacyErr(msg string) legacyEnvelope {
	return legacyEnvelope{Status: "error", Message: msg}
}

// writeLegacy renders the envelope as JSON, or as a JSONP call when a
// valid callback name was supplied.
func writeLegacy(w http.ResponseWriter, r *http.Request, env legacyEnvelope) {
	callback := r.URL.Query().Get("callback")
	if callback == "" {
		writeJSON(w, http.StatusOK, env)
		return
	}
	if !callbackPattern.MatchString(callback) {
		writeJSON(w, http.StatusOK, legacyErr("invalid callback name"))
		return
	}
	data, err := json.Marshal(env)
	if err != nil {
		log.Printf("encode legacy response: %v", err)
		return
	}
	w.Header().Set("Content-Type", "application/javascript")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "%s(%s);", callback, data)
}

func (s *Server) handleExec(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.execAction(w, r)
	case http.MethodPost:
		s.execCreate(w, r)
	default:
		writeLegacy(w, r, legacyErr("method not allowed"))
	}
}

func (s *Server) execAction(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	action := q.Get("action")
	ctx := r.Context()

	switch action {
	case "getTasks":
		tasks, err := s.service.ListTasks(ctx, store.ListFilter{})
		if err != nil {
			writeLegacy(w, r, legacyErr(err.Error()))
			return
		}
		if tasks == nil {
			tasks = []*models.Task{}
		}
		writeLegacy(w, r, legacyOK(tasks))

	case "getStats":
		stats, err := s.service.Stats(ctx)
		if err != nil {
			writeLegacy(w, r, legacyErr(err.Error()))
			return
		}
		writeLegacy(w, r, legacyOK(stats))

	case "getUserTasks":
		user := q.Get("user")
		if user == "" {
			writeLegacy(w, r, legacyErr("user parameter required"))
			return
		}
		tasks, err := s.service.ListTasks(ctx, store.ListFilter{Assignee: user})
		if err != nil {
			writeLegacy(w, r, legacyErr(err.Error()))
			return
		}
		if tasks == nil {
			tasks = []*models.Task{}
		}
		writeLegacy(w, r, legacyOK(tasks))

	case "getUserStats":
		user := q.Get("user")
		if user == "" {
			writeLegacy(w, r, legacyErr("user parameter required"))
			return
		}
		stats, err := s.service.UserStats(ctx, user)
		if err != nil {
			writeLegacy(w, r, legacyErr(err.Error()))
			return
		}
		writeLegacy(w, r, legacyOK(stats))

	case "updateTask":
		id := q.Get("id")
		if id == "" {
			writeLegacy(w, r, legacyErr("id parameter required"))
			return
		}
		payload := map[string]any{}
		for _, field := range []string{"title", "description", "category", "priority", "status", "assigned_to", "assigned_to_email", "due_date", "secretary_notes"} {
			if v := q.Get(field); v != "" {
				payload[field] = v
			}
		}
		task, err := s.service.UpdateTask(ctx, id, payload)
		if err != nil {
			writeLegacy(w, r, legacyErr(err.Error()))
			return
		}
		writeLegacy(w, r, legacyOK(task))

	case "markCompleted":
		id := q.Get("id")
		if id == "" {
			writeLegacy(w, r, legacyErr("id parameter required"))
			return
		}
		task, err := s.service.CompleteTask(ctx, id, q.Get("details"))
		if err != nil {
			writeLegacy(w, r, legacyErr(err.Error()))
			return
		}
		writeLegacy(w, r, legacyOK(task))

	case "returnTask":
		id := q.Get("id")
		if id == "" {
			writeLegacy(w, r, legacyErr("id parameter required"))
			return
		}
		task, err := s.service.ReturnTask(ctx, id, q.Get("reason"))
		if err != nil {
			writeLegacy(w, r, legacyErr(err.Error()))
			return
		}
		writeLegacy(w, r, legacyOK(task))

	case "resubmitTask":
		id := q.Get("id")
		if id == "" {
			writeLegacy(w, r, legacyErr("id parameter required"))
			return
		}
		task, err := s.service.ResubmitTask(ctx, id, q.Get("response"))
		if err != nil {
			writeLegacy(w, r, legacyErr(err.Error()))
			return
		}
		writeLegacy(w, r, legacyOK(task))

	case "":
		writeLegacy(w, r, legacyErr("action parameter required"))
	default:
		writeLegacy(w, r, legacyErr("unknown action: "+action))
	}
}

// execCreate accepts a form-encoded task creation, the shape the legacy
// intake form posts.
func (s *Server) execCreate(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeLegacy(w, r, legacyErr("invalid form data"))
		return
	}
	payload := map[string]any{}
	for _, field := range []string{"title", "description", "category", "priority", "assigned_to", "assigned_to_email", "created_by", "created_by_email", "due_date", "notes"} {
		if v := r.PostFormValue(field); v != "" {
			payload[field] = v
		}
	}
	task, err := s.service.CreateLegacyTask(r.Context(), payload)
	if err != nil {
		writeLegacy(w, r, legacyErr(err.Error()))
		return
	}
	writeLegacy(w, r, legacyOK(task))
}
