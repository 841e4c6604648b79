// Package server exposes replay sessions and the recording catalogue over
// HTTP, with a WebSocket stream of snapshots per session.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/treefix50/classreplay/internal/auth"
	"github.com/treefix50/classreplay/internal/media"
	"github.com/treefix50/classreplay/internal/replay"
	"github.com/treefix50/classreplay/internal/timeline"
)

const (
	defaultIdleTimeout   = 30 * time.Minute
	defaultReapInterval  = time.Minute
	defaultLoginInterval = time.Second
	defaultMaxSessions   = 256
	shutdownTimeout      = 3 * time.Second
)

// RecordingStore is the catalogue the server reads recordings and their
// logs from. *storage.Store implements it.
type RecordingStore interface {
	SaveRecording(r replay.Recording) error
	GetRecording(id string) (*replay.Recording, error)
	ListRecordings() ([]replay.Recording, error)
	DeleteRecording(id string) error
	AppendEntries(recordingID string, entries []replay.Entry) error
	ListEntries(recordingID string, until int64) ([]replay.Entry, error)
	CountEntries(recordingID string) (int, error)
	Ping(ctx context.Context) error
}

// MediaFactory returns the adapter factory for one session. The params let
// it fall back to the session length when the media cannot be probed.
type MediaFactory func(p replay.Params) media.Factory

// HeadlessMedia builds headless elements whose length comes from probe,
// or from the session bounds when probing is unavailable or fails.
func HeadlessMedia(probe media.ProbeFunc, opts media.HeadlessOptions) MediaFactory {
	return func(p replay.Params) media.Factory {
		o := opts
		o.Duration = float64(p.Duration()) / 1000
		return media.HeadlessFactory(probe, o)
	}
}

type Options struct {
	Addr        string
	CORSEnabled bool
	Logger      zerolog.Logger

	TickInterval   time.Duration
	DriftTolerance time.Duration
	SeekCooldown   time.Duration

	IdleTimeout   time.Duration
	ReapInterval  time.Duration
	LoginInterval time.Duration

	// MaxSessions caps the open replay sessions. POST /replays answers 503
	// once it is reached. Zero means the default and negative disables the cap.
	MaxSessions int

	Now       func() time.Time
	NewTicker func(time.Duration) timeline.Ticker
}

type Server struct {
	opts     Options
	log      zerolog.Logger
	store    RecordingStore
	auth     *auth.Manager
	media    MediaFactory
	sessions *registry
	limiter  *RateLimiter
	http     *http.Server

	reapStop  chan struct{}
	closeOnce sync.Once
}

// New wires the routes and starts the idle-session reaper. authManager may
// be nil, in which case recording writes are refused.
func New(store RecordingStore, authManager *auth.Manager, factory MediaFactory, opts Options) *Server {
	if opts.IdleTimeout <= 0 {
		opts.IdleTimeout = defaultIdleTimeout
	}
	if opts.ReapInterval <= 0 {
		opts.ReapInterval = defaultReapInterval
	}
	if opts.LoginInterval <= 0 {
		opts.LoginInterval = defaultLoginInterval
	}
	if opts.MaxSessions == 0 {
		opts.MaxSessions = defaultMaxSessions
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if factory == nil {
		factory = HeadlessMedia(nil, media.HeadlessOptions{})
	}

	s := &Server{
		opts:     opts,
		log:      opts.Logger,
		store:    store,
		auth:     authManager,
		media:    factory,
		sessions: newRegistry(opts.MaxSessions),
		limiter:  NewRateLimiter(opts.LoginInterval),
		reapStop: make(chan struct{}),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)

	mux.HandleFunc("POST /auth/login", s.handleAuthLogin)
	mux.HandleFunc("POST /auth/logout", s.handleAuthLogout)
	mux.HandleFunc("GET /auth/session", s.handleAuthSession)

	mux.HandleFunc("GET /recordings", s.handleListRecordings)
	mux.HandleFunc("POST /recordings", s.requireAdmin(s.handleCreateRecording))
	mux.HandleFunc("GET /recordings/{id}", s.handleGetRecording)
	mux.HandleFunc("DELETE /recordings/{id}", s.requireAdmin(s.handleDeleteRecording))
	mux.HandleFunc("GET /recordings/{id}/entries", s.handleListEntries)
	mux.HandleFunc("POST /recordings/{id}/entries", s.requireAdmin(s.handleAppendEntries))

	mux.HandleFunc("POST /replays", s.handleCreateReplay)
	mux.HandleFunc("GET /replays/{id}", s.handleGetReplay)
	mux.HandleFunc("DELETE /replays/{id}", s.handleDeleteReplay)
	mux.HandleFunc("POST /replays/{id}/toggle", s.handleToggle)
	mux.HandleFunc("POST /replays/{id}/scrub/begin", s.handleBeginScrub)
	mux.HandleFunc("POST /replays/{id}/scrub", s.handleScrub)
	mux.HandleFunc("POST /replays/{id}/scrub/end", s.handleEndScrub)
	mux.HandleFunc("GET /replays/{id}/stream", s.handleStream)

	s.http = &http.Server{
		Addr:              opts.Addr,
		Handler:           logMiddleware(mux, s.log, opts.CORSEnabled),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go s.runReapTicker(time.NewTicker(opts.ReapInterval), s.reapStop)
	return s
}

// Handler returns the routed handler, for tests and embedding.
func (s *Server) Handler() http.Handler { return s.http.Handler }

// Start serves until Close. It returns nil after a clean shutdown.
func (s *Server) Start() error {
	s.log.Info().Str("addr", s.opts.Addr).Msg("http server listening")
	if err := s.http.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Close stops the reaper, tears down every session and shuts the listener
// down.
func (s *Server) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.reapStop)
		if n := s.sessions.closeAll(); n > 0 {
			s.log.Info().Int("sessions", n).Msg("closed replay sessions on shutdown")
		}
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		err = s.http.Shutdown(ctx)
	})
	return err
}

func (s *Server) runReapTicker(ticker *time.Ticker, stop <-chan struct{}) {
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.reapIdle()
		case <-stop:
			return
		}
	}
}

// reapIdle closes sessions nobody streamed or controlled for IdleTimeout.
func (s *Server) reapIdle() int {
	cutoff := s.opts.Now().Add(-s.opts.IdleTimeout)
	reaped := 0
	for _, sess := range s.sessions.list() {
		if sess.LastActive().After(cutoff) {
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		n, err := sess.Subscribers(ctx)
		cancel()
		if err == nil && n > 0 {
			continue
		}
		if s.sessions.remove(sess.ID()) != nil {
			sess.Close()
			reaped++
		}
	}
	if reaped > 0 {
		s.log.Info().Int("reaped", reaped).Int("remaining", s.sessions.len()).Msg("idle replay sessions closed")
	}
	return reaped
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := http.StatusOK
	body := map[string]any{
		"status":   "ok",
		"sessions": s.sessions.len(),
	}
	if s.store != nil {
		if err := s.store.Ping(r.Context()); err != nil {
			status = http.StatusServiceUnavailable
			body["status"] = "degraded"
			body["database"] = err.Error()
		}
	}
	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

const (
	errInternal = "internal error"
	errNotFound = "not found"

	errTooManySessions = "too many replay sessions"
)
