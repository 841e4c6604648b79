package server

import (
	"encoding/json"
	"errors"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/treefix50/classreplay/internal/auth"
)

func (s *Server) handleAuthLogin(w http.ResponseWriter, r *http.Request) {
	if s.auth == nil {
		writeError(w, http.StatusNotImplemented, "authentication not available")
		return
	}
	if ok, wait := s.limiter.Allow(clientIP(r)); !ok {
		w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
		writeError(w, http.StatusTooManyRequests, "too many login attempts")
		return
	}

	var payload struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "bad request")
		return
	}
	if strings.TrimSpace(payload.Username) == "" || payload.Password == "" {
		writeError(w, http.StatusBadRequest, "username and password are required")
		return
	}

	session, err := s.auth.Login(payload.Username, payload.Password)
	if errors.Is(err, auth.ErrInvalidCredentials) {
		s.log.Warn().Str("username", payload.Username).Str("remote", clientIP(r)).Msg("login failed")
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}
	if err != nil {
		s.log.Error().Err(err).Msg("login")
		writeError(w, http.StatusInternalServerError, errInternal)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

func (s *Server) handleAuthLogout(w http.ResponseWriter, r *http.Request) {
	if s.auth == nil {
		writeError(w, http.StatusNotImplemented, "authentication not available")
		return
	}
	token := extractToken(r)
	if token == "" {
		writeError(w, http.StatusUnauthorized, "missing authorization token")
		return
	}
	if err := s.auth.Logout(token); err != nil {
		writeError(w, http.StatusInternalServerError, errInternal)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleAuthSession(w http.ResponseWriter, r *http.Request) {
	session, status := s.authenticate(r)
	if session == nil {
		writeError(w, status, http.StatusText(status))
		return
	}
	writeJSON(w, http.StatusOK, session)
}

// requireAdmin lets the request through only with a valid admin token.
func (s *Server) requireAdmin(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		session, status := s.authenticate(r)
		if session == nil {
			writeError(w, status, http.StatusText(status))
			return
		}
		if !session.IsAdmin {
			writeError(w, http.StatusForbidden, "admin access required")
			return
		}
		if s.store == nil {
			writeError(w, http.StatusNotImplemented, "storage not available")
			return
		}
		next(w, r)
	}
}

// authenticate resolves the bearer token. On failure the session is nil and
// status says why.
func (s *Server) authenticate(r *http.Request) (*auth.Session, int) {
	if s.auth == nil {
		return nil, http.StatusNotImplemented
	}
	token := extractToken(r)
	if token == "" {
		return nil, http.StatusUnauthorized
	}
	session, err := s.auth.ValidateSession(token)
	switch {
	case errors.Is(err, auth.ErrInvalidToken), errors.Is(err, auth.ErrTokenExpired):
		return nil, http.StatusUnauthorized
	case err != nil:
		s.log.Error().Err(err).Msg("validate session")
		return nil, http.StatusInternalServerError
	}
	return session, http.StatusOK
}

// extractToken reads "Authorization: Bearer <token>".
func extractToken(r *http.Request) string {
	scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
