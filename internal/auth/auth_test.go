package auth

import (
	"errors"
	"sync"
	"testing"
	"time"
)

type memStore struct {
	mu       sync.Mutex
	users    map[string]User
	sessions map[string]Session
}

func newMemStore() *memStore {
	return &memStore{users: map[string]User{}, sessions: map[string]Session{}}
}

func (m *memStore) CreateUser(u User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[u.Username]; ok {
		return ErrUserExists
	}
	m.users[u.Username] = u
	return nil
}

func (m *memStore) GetUserByUsername(name string) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[name]
	if !ok {
		return nil, ErrUserNotFound
	}
	return &u, nil
}

func (m *memStore) UpdateUser(u User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[u.Username] = u
	return nil
}

func (m *memStore) CountUsers() (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.users), nil
}

func (m *memStore) CreateSession(s Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.Token] = s
	return nil
}

func (m *memStore) GetSession(token string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[token]
	if !ok {
		return nil, ErrInvalidToken
	}
	return &s, nil
}

func (m *memStore) DeleteSession(token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, token)
	return nil
}

func (m *memStore) DeleteUserSessions(userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, s := range m.sessions {
		if s.UserID == userID {
			delete(m.sessions, k)
		}
	}
	return nil
}

func (m *memStore) CleanExpiredSessions(now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for k, s := range m.sessions {
		if now.After(s.ExpiresAt) {
			delete(m.sessions, k)
			n++
		}
	}
	return n, nil
}

func newTestManager(t *testing.T) (*Manager, *memStore, *time.Time) {
	t.Helper()
	store := newMemStore()
	m := NewManager(store, time.Hour)
	now := time.Unix(1700000000, 0)
	m.now = func() time.Time { return now }
	return m, store, &now
}

func TestInitializeAdminOnce(t *testing.T) {
	m, _, _ := newTestManager(t)

	password, err := m.InitializeAdmin()
	if err != nil {
		t.Fatalf("InitializeAdmin() error = %v", err)
	}
	if len(password) != 22 {
		t.Fatalf("generated password %q has length %d, want 22", password, len(password))
	}
	again, err := m.InitializeAdmin()
	if err != nil || again != "" {
		t.Fatalf("second InitializeAdmin() = %q, %v; want no-op", again, err)
	}

	session, err := m.Login(AdminUsername, password)
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	if !session.IsAdmin {
		t.Fatalf("admin session IsAdmin = false")
	}
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	m, _, _ := newTestManager(t)
	if _, err := m.CreateUser("ta", "correct horse"); err != nil {
		t.Fatalf("CreateUser() error = %v", err)
	}
	if _, err := m.Login("ta", "wrong password"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("Login() wrong password error = %v", err)
	}
	if _, err := m.Login("nobody", "correct horse"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("Login() unknown user error = %v", err)
	}
}

func TestCreateUserValidation(t *testing.T) {
	m, _, _ := newTestManager(t)
	if _, err := m.CreateUser("ta", "short"); !errors.Is(err, ErrWeakPassword) {
		t.Fatalf("CreateUser() short password error = %v", err)
	}
	if _, err := m.CreateUser("  ", "long enough"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("CreateUser() blank name error = %v", err)
	}
	if _, err := m.CreateUser("ta", "long enough"); err != nil {
		t.Fatalf("CreateUser() error = %v", err)
	}
	if _, err := m.CreateUser("ta", "long enough"); !errors.Is(err, ErrUserExists) {
		t.Fatalf("CreateUser() duplicate error = %v", err)
	}
}

func TestValidateSession(t *testing.T) {
	m, store, now := newTestManager(t)
	if _, err := m.CreateUser("ta", "correct horse"); err != nil {
		t.Fatalf("CreateUser() error = %v", err)
	}
	session, err := m.Login("ta", "correct horse")
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}

	got, err := m.ValidateSession(session.Token)
	if err != nil || got.Username != "ta" {
		t.Fatalf("ValidateSession() = %+v, %v", got, err)
	}

	// served from the cache while the row is gone
	delete(store.sessions, session.Token)
	if _, err := m.ValidateSession(session.Token); err != nil {
		t.Fatalf("cached ValidateSession() error = %v", err)
	}

	*now = now.Add(2 * time.Hour)
	if _, err := m.ValidateSession(session.Token); err == nil {
		t.Fatalf("ValidateSession() accepted an expired session")
	}
	if _, err := m.ValidateSession(""); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("ValidateSession(\"\") error = %v", err)
	}
}

func TestValidateSessionExpiredInStore(t *testing.T) {
	m, store, now := newTestManager(t)
	store.sessions["tok"] = Session{Token: "tok", UserID: "u", ExpiresAt: now.Add(-time.Second)}
	if _, err := m.ValidateSession("tok"); !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("ValidateSession() error = %v, want ErrTokenExpired", err)
	}
	if _, ok := store.sessions["tok"]; ok {
		t.Fatalf("expired session not deleted")
	}
}

func TestLogout(t *testing.T) {
	m, _, _ := newTestManager(t)
	m.CreateUser("ta", "correct horse")
	session, _ := m.Login("ta", "correct horse")

	if err := m.Logout(session.Token); err != nil {
		t.Fatalf("Logout() error = %v", err)
	}
	if _, err := m.ValidateSession(session.Token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("ValidateSession() after logout error = %v", err)
	}
}

func TestResetPasswordRevokesSessions(t *testing.T) {
	m, _, _ := newTestManager(t)
	m.CreateUser("ta", "correct horse")
	session, _ := m.Login("ta", "correct horse")

	if err := m.ResetPassword("ta", "battery staple"); err != nil {
		t.Fatalf("ResetPassword() error = %v", err)
	}
	if _, err := m.ValidateSession(session.Token); err == nil {
		t.Fatalf("old session survived a password reset")
	}
	if _, err := m.Login("ta", "correct horse"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("old password still accepted")
	}
	if _, err := m.Login("ta", "battery staple"); err != nil {
		t.Fatalf("Login() with new password error = %v", err)
	}
	if err := m.ResetPassword("ghost", "battery staple"); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("ResetPassword() unknown user error = %v", err)
	}
}

func TestCleanupExpiredSessions(t *testing.T) {
	m, store, now := newTestManager(t)
	store.sessions["old"] = Session{Token: "old", ExpiresAt: now.Add(-time.Minute)}
	store.sessions["new"] = Session{Token: "new", ExpiresAt: now.Add(time.Minute)}

	n, err := m.CleanupExpiredSessions()
	if err != nil || n != 1 {
		t.Fatalf("CleanupExpiredSessions() = %d, %v; want 1", n, err)
	}
}

func TestSessionCache(t *testing.T) {
	c := NewSessionCache(2, time.Minute)
	now := time.Unix(1700000000, 0)
	c.Set(Session{Token: "a", UserID: "u1", ExpiresAt: now.Add(time.Hour)})
	c.Set(Session{Token: "b", UserID: "u2", ExpiresAt: now.Add(time.Second)})
	c.Set(Session{})

	if _, ok := c.Get("a", now); !ok {
		t.Fatalf("Get(a) missed")
	}
	if _, ok := c.Get("b", now.Add(2*time.Second)); ok {
		t.Fatalf("Get(b) returned an expired session")
	}
	c.Set(Session{Token: "c", UserID: "u1", ExpiresAt: now.Add(time.Hour)})
	c.DeleteByUserID("u1")
	if c.Len() != 0 {
		t.Fatalf("Len() = %d after DeleteByUserID, want 0", c.Len())
	}
}
