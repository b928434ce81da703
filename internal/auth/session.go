package auth

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"taskdesk/internal/models"
)

// ErrNotAuthenticated is returned when no usable session exists.
var ErrNotAuthenticated = errors.New("not authenticated, run 'taskdesk login'")

// expiryBuffer treats tokens this close to expiry as already expired so
// in-flight requests don't race the deadline.
const expiryBuffer = 5 * time.Minute

// refreshLead is how long before expiry the refresh timer fires.
const refreshLead = 300 * time.Second

// minRefreshDelay is the floor for the refresh timer.
const minRefreshDelay = time.Minute

// Credentials is the on-disk session payload.
type Credentials struct {
	Token     string       `json:"token"`
	ExpiresAt time.Time    `json:"expires_at"`
	User      *models.User `json:"user"`
}

// RefreshFunc exchanges a valid token for a fresh one.
type RefreshFunc func(token string) (*Credentials, error)

// Session persists CLI credentials to disk and keeps them fresh with a
// background refresh timer.
type Session struct {
	mu    sync.Mutex
	path  string
	creds *Credentials
	timer *time.Timer
	now   func() time.Time
}

// NewSession creates a session persisted at path. An empty path places
// the file under the user config dir.
func NewSession(path string) (*Session, error) {
	if path == "" {
		dir, err := os.UserConfigDir()
		if err != nil {
			return nil, fmt.Errorf("resolve config dir: %w", err)
		}
		path = filepath.Join(dir, "taskdesk", "session.json")
	}
	s := &Session{path: path, now: time.Now}
	s.load()
	return s, nil
}

// load reads persisted credentials. A missing or corrupt file leaves
// the session empty.
func (s *Session) load() {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return
	}
	var creds Credentials
	if err := json.Unmarshal(data, &creds); err != nil {
		return
	}
	s.creds = &creds
}

// Save persists credentials with 0600 permissions and arms the refresh
// timer when a refresh function was registered via StartAutoRefresh.
func (s *Session) Save(creds *Credentials) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.creds = creds

	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("create session dir: %w", err)
	}
	data, err := json.MarshalIndent(creds, "", "  ")
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	if err := os.WriteFile(s.path, data, 0o600); err != nil {
		return fmt.Errorf("write session: %w", err)
	}
	return nil
}

// Clear forgets the session and removes the file.
func (s *Session) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.creds = nil
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove session: %w", err)
	}
	return nil
}

// Token returns the stored token, or ErrNotAuthenticated when the
// session is missing or within the expiry buffer.
func (s *Session) Token() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.validLocked() {
		return "", ErrNotAuthenticated
	}
	return s.creds.Token, nil
}

// User returns the stored user, or nil when not authenticated.
func (s *Session) User() *models.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.validLocked() {
		return nil
	}
	return s.creds.User
}

// IsAuthenticated reports whether a usable session exists.
func (s *Session) IsAuthenticated() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.validLocked()
}

func (s *Session) validLocked() bool {
	return s.creds != nil && s.creds.Token != "" &&
		s.now().Before(s.creds.ExpiresAt.Add(-expiryBuffer))
}

// StartAutoRefresh arms a timer that calls refresh shortly before the
// token expires. A failed refresh clears the session: the next command
// will demand a fresh login rather than fail with a stale token.
func (s *Session) StartAutoRefresh(refresh RefreshFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.armLocked(refresh)
}

// StopAutoRefresh cancels the refresh timer.
func (s *Session) StopAutoRefresh() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

func (s *Session) armLocked(refresh RefreshFunc) {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	if s.creds == nil || s.creds.Token == "" {
		return
	}
	delay := s.creds.ExpiresAt.Sub(s.now()) - refreshLead
	if delay < minRefreshDelay {
		delay = minRefreshDelay
	}
	s.timer = time.AfterFunc(delay, func() {
		s.refreshNow(refresh)
	})
}

func (s *Session) refreshNow(refresh RefreshFunc) {
	s.mu.Lock()
	creds := s.creds
	s.mu.Unlock()
	if creds == nil {
		return
	}

	fresh, err := refresh(creds.Token)
	if err != nil {
		// Forced logout on failed refresh.
		_ = s.Clear()
		return
	}
	if err := s.Save(fresh); err != nil {
		return
	}
	s.mu.Lock()
	s.armLocked(refresh)
	s.mu.Unlock()
}
