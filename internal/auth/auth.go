// Package auth guards the recording catalogue. Curators sign in with a
// username and password and receive a bearer token; only admin tokens may
// change recordings.
package auth

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrInvalidCredentials = errors.New("auth: invalid credentials")
	ErrUserNotFound       = errors.New("auth: user not found")
	ErrUserExists         = errors.New("auth: user already exists")
	ErrInvalidToken       = errors.New("auth: invalid token")
	ErrTokenExpired       = errors.New("auth: token expired")
	ErrWeakPassword       = errors.New("auth: password too short")
)

// AdminUsername is the account InitializeAdmin creates.
const AdminUsername = "admin"

// MinPasswordLength applies to every password set through the Manager.
const MinPasswordLength = 8

const defaultSessionDuration = 24 * time.Hour

type User struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"-"`
	IsAdmin      bool      `json:"isAdmin"`
	CreatedAt    time.Time `json:"createdAt"`
	LastLogin    time.Time `json:"lastLogin,omitempty"`
}

type Session struct {
	Token     string    `json:"token"`
	UserID    string    `json:"userId"`
	Username  string    `json:"username"`
	IsAdmin   bool      `json:"isAdmin"`
	CreatedAt time.Time `json:"createdAt"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Store persists users and sessions. *storage.Store implements it.
type Store interface {
	CreateUser(user User) error
	GetUserByUsername(username string) (*User, error)
	UpdateUser(user User) error
	CountUsers() (int, error)

	CreateSession(session Session) error
	GetSession(token string) (*Session, error)
	DeleteSession(token string) error
	DeleteUserSessions(userID string) error
	CleanExpiredSessions(now time.Time) (int64, error)
}

type Manager struct {
	store           Store
	sessionDuration time.Duration
	cache           *SessionCache
	now             func() time.Time
}

// NewManager returns a Manager issuing sessions valid for sessionDuration
// (24h when zero).
func NewManager(store Store, sessionDuration time.Duration) *Manager {
	if sessionDuration <= 0 {
		sessionDuration = defaultSessionDuration
	}
	return &Manager{
		store:           store,
		sessionDuration: sessionDuration,
		cache:           NewSessionCache(DefaultCacheSize, DefaultCacheTTL),
		now:             time.Now,
	}
}

// GeneratePassword returns a random 22 character password.
func GeneratePassword() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("auth: generate password: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("auth: hash password: %w", err)
	}
	return string(hash), nil
}

func VerifyPassword(password, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// GenerateToken returns 32 random bytes, hex encoded.
func GenerateToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("auth: generate token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// InitializeAdmin creates the admin account when the user table is empty
// and returns its generated password. It returns "" when users exist.
func (m *Manager) InitializeAdmin() (string, error) {
	count, err := m.store.CountUsers()
	if err != nil {
		return "", err
	}
	if count > 0 {
		return "", nil
	}

	password, err := GeneratePassword()
	if err != nil {
		return "", err
	}
	if _, err := m.createUser(AdminUsername, password, true); err != nil {
		return "", err
	}
	return password, nil
}

// CreateUser adds a non-admin account.
func (m *Manager) CreateUser(username, password string) (*User, error) {
	return m.createUser(username, password, false)
}

func (m *Manager) createUser(username, password string, isAdmin bool) (*User, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return nil, ErrInvalidCredentials
	}
	if len(password) < MinPasswordLength {
		return nil, ErrWeakPassword
	}
	if _, err := m.store.GetUserByUsername(username); err == nil {
		return nil, ErrUserExists
	} else if !errors.Is(err, ErrUserNotFound) {
		return nil, err
	}

	hash, err := HashPassword(password)
	if err != nil {
		return nil, err
	}
	user := User{
		ID:           uuid.NewString(),
		Username:     username,
		PasswordHash: hash,
		IsAdmin:      isAdmin,
		CreatedAt:    m.now(),
	}
	if err := m.store.CreateUser(user); err != nil {
		return nil, err
	}
	return &user, nil
}

// Login checks the credentials and opens a session.
func (m *Manager) Login(username, password string) (*Session, error) {
	user, err := m.store.GetUserByUsername(strings.TrimSpace(username))
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	if !VerifyPassword(password, user.PasswordHash) {
		return nil, ErrInvalidCredentials
	}

	now := m.now()
	user.LastLogin = now
	if err := m.store.UpdateUser(*user); err != nil {
		return nil, err
	}

	token, err := GenerateToken()
	if err != nil {
		return nil, err
	}
	session := Session{
		Token:     token,
		UserID:    user.ID,
		Username:  user.Username,
		IsAdmin:   user.IsAdmin,
		CreatedAt: now,
		ExpiresAt: now.Add(m.sessionDuration),
	}
	if err := m.store.CreateSession(session); err != nil {
		return nil, err
	}
	m.cache.Set(session)
	return &session, nil
}

func (m *Manager) Logout(token string) error {
	m.cache.Delete(token)
	return m.store.DeleteSession(token)
}

// ValidateSession resolves a bearer token, serving repeat lookups from the
// cache.
func (m *Manager) ValidateSession(token string) (*Session, error) {
	if token == "" {
		return nil, ErrInvalidToken
	}
	now := m.now()
	if session, ok := m.cache.Get(token, now); ok {
		return &session, nil
	}

	session, err := m.store.GetSession(token)
	if err != nil {
		return nil, err
	}
	if now.After(session.ExpiresAt) {
		_ = m.store.DeleteSession(token)
		return nil, ErrTokenExpired
	}
	m.cache.Set(*session)
	return session, nil
}

// ResetPassword replaces a user's password and revokes their sessions.
func (m *Manager) ResetPassword(username, newPassword string) error {
	if len(newPassword) < MinPasswordLength {
		return ErrWeakPassword
	}
	user, err := m.store.GetUserByUsername(username)
	if err != nil {
		return err
	}
	hash, err := HashPassword(newPassword)
	if err != nil {
		return err
	}
	user.PasswordHash = hash
	if err := m.store.UpdateUser(*user); err != nil {
		return err
	}
	m.cache.DeleteByUserID(user.ID)
	return m.store.DeleteUserSessions(user.ID)
}

// CleanupExpiredSessions drops expired sessions and returns how many were
// removed.
func (m *Manager) CleanupExpiredSessions() (int64, error) {
	return m.store.CleanExpiredSessions(m.now())
}
