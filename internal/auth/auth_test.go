package auth

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"taskdesk/internal/models"
)

func testUser() *models.User {
	return &models.User{
		ID:    "u-1",
		Email: "dana@example.com",
		Name:  "Dana",
		Role:  models.RoleLawyer,
	}
}

func TestIssueAndVerify(t *testing.T) {
	issuer := NewIssuer("secret")
	token, expires, err := issuer.Issue(testUser())
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if until := time.Until(expires); until < 23*time.Hour || until > 25*time.Hour {
		t.Fatalf("expected ~24h expiry, got %s", until)
	}

	claims, err := issuer.Verify(token)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if claims.Subject != "u-1" || claims.Email != "dana@example.com" || claims.Role != models.RoleLawyer {
		t.Fatalf("unexpected claims: %+v", claims)
	}
}

func TestVerifyRejectsWrongSecret(t *testing.T) {
	token, _, err := NewIssuer("secret-a").Issue(testUser())
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := NewIssuer("secret-b").Verify(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestVerifyRejectsExpired(t *testing.T) {
	issuer := NewIssuer("secret")
	issuer.now = func() time.Time { return time.Now().Add(-48 * time.Hour) }
	token, _, err := issuer.Issue(testUser())
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	fresh := NewIssuer("secret")
	if _, err := fresh.Verify(token); !errors.Is(err, ErrExpiredToken) {
		t.Fatalf("expected ErrExpiredToken, got %v", err)
	}
}

func TestVerifyGarbage(t *testing.T) {
	if _, err := NewIssuer("secret").Verify("not.a.token"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestPasswordHashing(t *testing.T) {
	hash, err := HashPassword("hunter2")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if hash == "hunter2" {
		t.Fatal("hash must not equal plaintext")
	}
	if err := CheckPassword(hash, "hunter2"); err != nil {
		t.Fatalf("expected match, got %v", err)
	}
	if err := CheckPassword(hash, "wrong"); !errors.Is(err, ErrBadCredentials) {
		t.Fatalf("expected ErrBadCredentials, got %v", err)
	}
}

func TestResolveRole(t *testing.T) {
	managers := []string{"Boss@Example.com"}
	if got := ResolveRole("boss@example.COM", managers); got != models.RoleOfficeManager {
		t.Fatalf("expected office_manager, got %s", got)
	}
	if got := ResolveRole("dana@example.com", managers); got != models.RoleLawyer {
		t.Fatalf("expected lawyer, got %s", got)
	}
}

func TestCanAccess(t *testing.T) {
	cases := []struct {
		role, resource, action string
		want                   bool
	}{
		{models.RoleOfficeManager, "tasks", "delete", true},
		{models.RoleOfficeManager, "anything", "anything", true},
		{models.RoleLawyer, "tasks", "read", true},
		{models.RoleLawyer, "tasks", "create", true},
		{models.RoleLawyer, "tasks", "delete", false},
		{models.RoleLawyer, "own_tasks", "update", true},
		{models.RoleLawyer, "own_tasks", "delete", false},
		{models.RoleLawyer, "users", "read", false},
		{"stranger", "tasks", "read", false},
	}
	for _, tc := range cases {
		if got := CanAccess(tc.role, tc.resource, tc.action); got != tc.want {
			t.Errorf("CanAccess(%s, %s, %s) = %v, want %v", tc.role, tc.resource, tc.action, got, tc.want)
		}
	}
}

func TestSessionSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.json")
	s, err := NewSession(path)
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	if s.IsAuthenticated() {
		t.Fatal("fresh session must not be authenticated")
	}

	creds := &Credentials{
		Token:     "tok",
		ExpiresAt: time.Now().Add(24 * time.Hour),
		User:      testUser(),
	}
	if err := s.Save(creds); err != nil {
		t.Fatalf("save: %v", err)
	}

	reloaded, err := NewSession(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if !reloaded.IsAuthenticated() {
		t.Fatal("expected persisted session to authenticate")
	}
	token, err := reloaded.Token()
	if err != nil || token != "tok" {
		t.Fatalf("expected token tok, got %q err %v", token, err)
	}
	if u := reloaded.User(); u == nil || u.Email != "dana@example.com" {
		t.Fatalf("expected persisted user, got %+v", u)
	}
}

func TestSessionExpiryBuffer(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.json")
	s, err := NewSession(path)
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	// Valid for 2 more minutes: inside the 5-minute buffer, so treated
	// as expired.
	if err := s.Save(&Credentials{Token: "tok", ExpiresAt: time.Now().Add(2 * time.Minute)}); err != nil {
		t.Fatalf("save: %v", err)
	}
	if s.IsAuthenticated() {
		t.Fatal("token inside the expiry buffer must not authenticate")
	}
	if _, err := s.Token(); !errors.Is(err, ErrNotAuthenticated) {
		t.Fatalf("expected ErrNotAuthenticated, got %v", err)
	}
}

func TestSessionClear(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.json")
	s, err := NewSession(path)
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	if err := s.Save(&Credentials{Token: "tok", ExpiresAt: time.Now().Add(time.Hour)}); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := s.Clear(); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if s.IsAuthenticated() {
		t.Fatal("cleared session must not authenticate")
	}
	// Clearing twice is fine.
	if err := s.Clear(); err != nil {
		t.Fatalf("second clear: %v", err)
	}
}

func TestFailedRefreshClearsSession(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.json")
	s, err := NewSession(path)
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	if err := s.Save(&Credentials{Token: "tok", ExpiresAt: time.Now().Add(time.Hour)}); err != nil {
		t.Fatalf("save: %v", err)
	}

	s.refreshNow(func(string) (*Credentials, error) {
		return nil, errors.New("server says no")
	})
	if s.IsAuthenticated() {
		t.Fatal("failed refresh must clear the session")
	}
}

func TestSuccessfulRefreshReplacesCredentials(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.json")
	s, err := NewSession(path)
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	if err := s.Save(&Credentials{Token: "old", ExpiresAt: time.Now().Add(time.Hour), User: testUser()}); err != nil {
		t.Fatalf("save: %v", err)
	}

	s.refreshNow(func(token string) (*Credentials, error) {
		if token != "old" {
			t.Fatalf("expected refresh to receive the old token, got %q", token)
		}
		return &Credentials{Token: "new", ExpiresAt: time.Now().Add(24 * time.Hour), User: testUser()}, nil
	})
	s.StopAutoRefresh()

	token, err := s.Token()
	if err != nil || token != "new" {
		t.Fatalf("expected refreshed token, got %q err %v", token, err)
	}
}
