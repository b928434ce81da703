package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"taskdesk/internal/adapter"
	"taskdesk/internal/auth"
	"taskdesk/internal/metrics"
	"taskdesk/internal/models"
	"taskdesk/internal/store"
)

// Version is stamped at build time.
var Version = "dev"

// Server provides the HTTP API for TaskDesk.
type Server struct {
	service *Service
	metrics *metrics.Metrics
	addr    string
	server  *http.Server
}

// NewServer creates a new HTTP server. m may be nil.
func NewServer(service *Service, m *metrics.Metrics, addr string) *Server {
	return &Server{service: service, metrics: m, addr: addr}
}

// Handler builds the route table. Exposed for tests.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/api/tasks", s.instrument("/api/tasks", s.requireAuth(s.handleTasks)))
	mux.HandleFunc("/api/tasks/", s.instrument("/api/tasks/{id}", s.requireAuth(s.handleTaskByID)))
	mux.HandleFunc("/api/stats", s.instrument("/api/stats", s.requireAuth(s.handleStats)))
	mux.HandleFunc("/api/stats/user/", s.instrument("/api/stats/user/{name}", s.requireAuth(s.handleUserStats)))

	mux.HandleFunc("/api/auth/register", s.instrument("/api/auth/register", s.handleRegister))
	mux.HandleFunc("/api/auth/login", s.instrument("/api/auth/login", s.handleLogin))
	mux.HandleFunc("/api/auth/refresh", s.instrument("/api/auth/refresh", s.handleRefresh))

	// Legacy spreadsheet-era endpoint, unauthenticated by design of its
	// original clients.
	mux.HandleFunc("/exec", s.instrument("/exec", s.handleExec))

	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/ready", s.handleReady)
	if s.metrics != nil {
		mux.Handle("/metrics", s.metrics.Handler())
	}

	return withCORS(mux)
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         s.addr,
		Handler:      s.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	log.Printf("Starting TaskDesk daemon on %s", s.addr)
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// --- Middleware ---

func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// statusRecorder captures the response code for metrics.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) instrument(route string, next http.HandlerFunc) http.HandlerFunc {
	if s.metrics == nil {
		return next
	}
	return func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next(rec, r)
		s.metrics.ObserveRequest(r.Method, route, rec.status, time.Since(start))
	}
}

type claimsKey struct{}

// requireAuth validates the bearer token and stashes the claims in the
// request context.
func (s *Server) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		claims, err := s.service.VerifyToken(strings.TrimPrefix(header, "Bearer "))
		if err != nil {
			writeError(w, http.StatusUnauthorized, err.Error())
			return
		}
		ctx := context.WithValue(r.Context(), claimsKey{}, claims)
		next(w, r.WithContext(ctx))
	}
}

func claimsFrom(r *http.Request) *auth.Claims {
	claims, _ := r.Context().Value(claimsKey{}).(*auth.Claims)
	return claims
}

// --- Response helpers ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("encode response: %v", err)
	}
}

type errorBody struct {
	Error  string `json:"error"`
	Status int    `json:"status"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorBody{Error: msg, Status: status})
}

// writeServiceError maps service and store errors to status codes.
func writeServiceError(w http.ResponseWriter, err error) {
	var verr *adapter.ValidationError
	switch {
	case errors.As(err, &verr):
		writeError(w, http.StatusBadRequest, verr.Error())
	case errors.Is(err, store.ErrTaskNotFound), errors.Is(err, store.ErrUserNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, store.ErrInvalidTransition):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, store.ErrDuplicateEmail):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, auth.ErrBadCredentials):
		writeError(w, http.StatusUnauthorized, err.Error())
	case errors.Is(err, auth.ErrInvalidToken), errors.Is(err, auth.ErrExpiredToken):
		writeError(w, http.StatusUnauthorized, err.Error())
	case errors.Is(err, ErrForbidden):
		writeError(w, http.StatusForbidden, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

// --- Task handlers ---

func (s *Server) handleTasks(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.listTasks(w, r)
	case http.MethodPost:
		s.createOrUpdateTask(w, r)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *Server) listTasks(w http.ResponseWriter, r *http.Request) {
	filter := store.ListFilter{
		Status:   models.TaskStatus(r.URL.Query().Get("status")),
		Assignee: r.URL.Query().Get("assignee"),
	}
	tasks, err := s.service.ListTasks(r.Context(), filter)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if tasks == nil {
		tasks = []*models.Task{}
	}
	writeJSON(w, http.StatusOK, tasks)
}

// createOrUpdateTask handles POST /api/tasks. A payload carrying an id
// is an update; the original clients used this shape before the PUT
// route existed and still send it.
func (s *Server) createOrUpdateTask(w http.ResponseWriter, r *http.Request) {
	var payload map[string]any
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}

	if id, ok := payload["id"].(string); ok && id != "" {
		if err := s.service.AuthorizeTaskWrite(r.Context(), claimsFrom(r), id); err != nil {
			writeServiceError(w, err)
			return
		}
		task, err := s.service.UpdateTask(r.Context(), id, payload)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, task)
		return
	}

	claims := claimsFrom(r)
	if claims != nil && !auth.CanAccess(claims.Role, "tasks", "create") {
		writeError(w, http.StatusForbidden, "forbidden")
		return
	}
	task, err := s.service.CreateTask(r.Context(), payload)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, task)
}

// handleTaskByID handles /api/tasks/{id}[/{action}] plus the
// /api/tasks/assignee/{name} and /api/tasks/status/{status} lists.
func (s *Server) handleTaskByID(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/tasks/")
	parts := strings.Split(path, "/")
	if len(parts) == 0 || parts[0] == "" {
		writeError(w, http.StatusBadRequest, "task id required")
		return
	}

	head := parts[0]
	rest := ""
	if len(parts) > 1 {
		rest = parts[1]
	}

	switch {
	case head == "assignee" && rest != "" && r.Method == http.MethodGet:
		s.listByFilter(w, r, store.ListFilter{Assignee: rest})
	case head == "status" && rest != "" && r.Method == http.MethodGet:
		s.listByFilter(w, r, store.ListFilter{Status: models.TaskStatus(rest)})
	case rest == "" && r.Method == http.MethodGet:
		s.getTask(w, r, head)
	case rest == "" && r.Method == http.MethodPut:
		s.updateTask(w, r, head)
	case rest == "" && r.Method == http.MethodDelete:
		s.deleteTask(w, r, head)
	case rest == "complete" && r.Method == http.MethodPost:
		s.completeTask(w, r, head)
	case rest == "return" && r.Method == http.MethodPost:
		s.returnTask(w, r, head)
	case rest == "resubmit" && r.Method == http.MethodPost:
		s.resubmitTask(w, r, head)
	default:
		writeError(w, http.StatusNotFound, "not found")
	}
}

func (s *Server) listByFilter(w http.ResponseWriter, r *http.Request, f store.ListFilter) {
	tasks, err := s.service.ListTasks(r.Context(), f)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if tasks == nil {
		tasks = []*models.Task{}
	}
	writeJSON(w, http.StatusOK, tasks)
}

func (s *Server) getTask(w http.ResponseWriter, r *http.Request, id string) {
	task, err := s.service.GetTask(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (s *Server) updateTask(w http.ResponseWriter, r *http.Request, id string) {
	var payload map[string]any
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if err := s.service.AuthorizeTaskWrite(r.Context(), claimsFrom(r), id); err != nil {
		writeServiceError(w, err)
		return
	}
	task, err := s.service.UpdateTask(r.Context(), id, payload)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (s *Server) deleteTask(w http.ResponseWriter, r *http.Request, id string) {
	claims := claimsFrom(r)
	if claims == nil || claims.Role != models.RoleOfficeManager {
		writeError(w, http.StatusForbidden, "only office managers may delete tasks")
		return
	}
	if err := s.service.DeleteTask(r.Context(), id); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

type completeRequest struct {
	Details string `json:"details"`
}

func (s *Server) completeTask(w http.ResponseWriter, r *http.Request, id string) {
	var req completeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if err := s.service.AuthorizeTaskWrite(r.Context(), claimsFrom(r), id); err != nil {
		writeServiceError(w, err)
		return
	}
	task, err := s.service.CompleteTask(r.Context(), id, req.Details)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

type returnRequest struct {
	Reason string `json:"reason"`
}

func (s *Server) returnTask(w http.ResponseWriter, r *http.Request, id string) {
	var req returnRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	claims := claimsFrom(r)
	if claims == nil || claims.Role != models.RoleOfficeManager {
		writeError(w, http.StatusForbidden, "only office managers may return tasks")
		return
	}
	task, err := s.service.ReturnTask(r.Context(), id, req.Reason)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

type resubmitRequest struct {
	Response string `json:"response"`
}

func (s *Server) resubmitTask(w http.ResponseWriter, r *http.Request, id string) {
	var req resubmitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if err := s.service.AuthorizeTaskWrite(r.Context(), claimsFrom(r), id); err != nil {
		writeServiceError(w, err)
		return
	}
	task, err := s.service.ResubmitTask(r.Context(), id, req.Response)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

// --- Stats handlers ---

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	stats, err := s.service.Stats(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleUserStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	name := strings.TrimPrefix(r.URL.Path, "/api/stats/user/")
	if name == "" {
		writeError(w, http.StatusBadRequest, "user name required")
		return
	}
	stats, err := s.service.UserStats(r.Context(), name)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// --- Auth handlers ---

type registerRequest struct {
	Email    string `json:"email"`
	Name     string `json:"name"`
	Password string `json:"password"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	result, err := s.service.Register(r.Context(), req.Email, req.Name, req.Password)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	result, err := s.service.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	header := r.Header.Get("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		writeError(w, http.StatusUnauthorized, "missing bearer token")
		return
	}
	result, err := s.service.Refresh(r.Context(), strings.TrimPrefix(header, "Bearer "))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// --- Health ---

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": Version,
		"time":    time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if err := s.service.Store().Ping(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, "database unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
