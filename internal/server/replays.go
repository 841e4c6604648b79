package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/treefix50/classreplay/internal/replay"
	"github.com/treefix50/classreplay/internal/storage"
	"github.com/treefix50/classreplay/internal/telemetry"
)

type createReplayRequest struct {
	StartTime   numeric `json:"startTime"`
	EndTime     numeric `json:"endTime"`
	URL         string  `json:"url"`
	RecordingID string  `json:"recordingId"`
}

// numeric holds a timestamp sent either as a JSON number or as a string.
type numeric string

func (n *numeric) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*n = numeric(s)
		return nil
	}
	*n = numeric(b)
	return nil
}

type replayResponse struct {
	ID          string          `json:"id"`
	RecordingID string          `json:"recordingId,omitempty"`
	Params      replay.Params   `json:"params"`
	Snapshot    replay.Snapshot `json:"snapshot"`
	Clock       string          `json:"clock"`
	MediaError  string          `json:"mediaError,omitempty"`
}

type controlResponse struct {
	Applied  bool            `json:"applied"`
	Snapshot replay.Snapshot `json:"snapshot"`
}

// handleCreateReplay opens a session from explicit bounds or from a stored
// recording. Anything that does not describe a playable replay is a 404:
// there is no such replay.
func (s *Server) handleCreateReplay(w http.ResponseWriter, r *http.Request) {
	ctx, span := telemetry.Tracer().Start(r.Context(), "replay.open")
	defer span.End()

	if s.sessions.full() {
		span.SetStatus(codes.Error, "session limit reached")
		writeError(w, http.StatusServiceUnavailable, errTooManySessions)
		return
	}

	var req createReplayRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad request")
		return
	}

	var (
		params  replay.Params
		entries []replay.Entry
		err     error
	)
	if req.RecordingID != "" {
		params, entries, err = s.recordingParams(req.RecordingID)
	} else {
		params, err = replay.ParseParams(string(req.StartTime), string(req.EndTime), req.URL)
	}
	switch {
	case errors.Is(err, replay.ErrInvalidParams), errors.Is(err, storage.ErrNotFound):
		span.SetStatus(codes.Error, err.Error())
		writeError(w, http.StatusNotFound, "replay not found")
		return
	case err != nil:
		span.RecordError(err)
		s.log.Error().Err(err).Msg("load replay parameters")
		writeError(w, http.StatusInternalServerError, errInternal)
		return
	}

	id := uuid.NewString()
	span.SetAttributes(
		attribute.String("replay.id", id),
		attribute.Int64("replay.duration_ms", params.Duration()),
		attribute.Int("replay.entries", len(entries)),
	)

	sess, err := replay.Open(ctx, id, params, s.media(params), replay.Options{
		TickInterval:   s.opts.TickInterval,
		DriftTolerance: s.opts.DriftTolerance,
		SeekCooldown:   s.opts.SeekCooldown,
		Entries:        entries,
		Logger:         s.log,
		Now:            s.opts.Now,
		NewTicker:      s.opts.NewTicker,
	})
	if err != nil {
		span.RecordError(err)
		s.log.Error().Err(err).Msg("open replay session")
		writeError(w, http.StatusInternalServerError, errInternal)
		return
	}
	if !s.sessions.add(sess) {
		sess.Close()
		span.SetStatus(codes.Error, "session limit reached")
		writeError(w, http.StatusServiceUnavailable, errTooManySessions)
		return
	}

	resp, err := describe(ctx, sess)
	if err != nil {
		writeError(w, http.StatusNotFound, "replay not found")
		return
	}
	resp.RecordingID = req.RecordingID
	writeJSON(w, http.StatusCreated, resp)
}

func (s *Server) recordingParams(id string) (replay.Params, []replay.Entry, error) {
	if s.store == nil {
		return replay.Params{}, nil, storage.ErrNotFound
	}
	rec, err := s.store.GetRecording(id)
	if err != nil {
		return replay.Params{}, nil, err
	}
	params := rec.Params()
	if err := params.Validate(); err != nil {
		return replay.Params{}, nil, err
	}
	entries, err := s.store.ListEntries(id, -1)
	if err != nil {
		return replay.Params{}, nil, err
	}
	return params, entries, nil
}

func (s *Server) handleGetReplay(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	resp, err := describe(r.Context(), sess)
	if err != nil {
		s.sessionGone(w, sess, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleDeleteReplay(w http.ResponseWriter, r *http.Request) {
	_, span := telemetry.Tracer().Start(r.Context(), "replay.close")
	defer span.End()

	sess := s.sessions.remove(r.PathValue("id"))
	if sess == nil {
		writeError(w, http.StatusNotFound, "replay not found")
		return
	}
	sess.Close()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleToggle(w http.ResponseWriter, r *http.Request) {
	s.control(w, r, "toggle", func(ctx context.Context, sess *replay.Session, _ int64) (bool, error) {
		return sess.Toggle(ctx)
	})
}

func (s *Server) handleBeginScrub(w http.ResponseWriter, r *http.Request) {
	s.control(w, r, "scrub.begin", func(ctx context.Context, sess *replay.Session, _ int64) (bool, error) {
		return sess.BeginScrub(ctx)
	})
}

func (s *Server) handleScrub(w http.ResponseWriter, r *http.Request) {
	s.controlValue(w, r, "scrub", func(ctx context.Context, sess *replay.Session, v int64) (bool, error) {
		return sess.Scrub(ctx, v)
	})
}

func (s *Server) handleEndScrub(w http.ResponseWriter, r *http.Request) {
	s.controlValue(w, r, "scrub.end", func(ctx context.Context, sess *replay.Session, v int64) (bool, error) {
		return sess.EndScrub(ctx, v)
	})
}

type controlFunc func(ctx context.Context, sess *replay.Session, value int64) (bool, error)

// controlValue reads {"value": ms} before applying fn.
func (s *Server) controlValue(w http.ResponseWriter, r *http.Request, name string, fn controlFunc) {
	var body struct {
		Value *int64 `json:"value"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Value == nil {
		writeError(w, http.StatusBadRequest, "value is required")
		return
	}
	s.apply(w, r, name, *body.Value, fn)
}

func (s *Server) control(w http.ResponseWriter, r *http.Request, name string, fn controlFunc) {
	s.apply(w, r, name, 0, fn)
}

func (s *Server) apply(w http.ResponseWriter, r *http.Request, name string, value int64, fn controlFunc) {
	ctx, span := telemetry.Tracer().Start(r.Context(), "replay."+name)
	defer span.End()

	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	span.SetAttributes(attribute.String("replay.id", sess.ID()))

	applied, err := fn(ctx, sess, value)
	if err != nil {
		s.sessionGone(w, sess, err)
		return
	}
	snap, err := sess.Snapshot(ctx)
	if err != nil {
		s.sessionGone(w, sess, err)
		return
	}
	span.SetAttributes(attribute.Bool("replay.applied", applied))
	writeJSON(w, http.StatusOK, controlResponse{Applied: applied, Snapshot: snap})
}

func (s *Server) session(w http.ResponseWriter, r *http.Request) (*replay.Session, bool) {
	sess, ok := s.sessions.get(r.PathValue("id"))
	if !ok {
		writeError(w, http.StatusNotFound, "replay not found")
		return nil, false
	}
	return sess, true
}

// sessionGone answers for a session that closed under the request.
func (s *Server) sessionGone(w http.ResponseWriter, sess *replay.Session, err error) {
	if errors.Is(err, replay.ErrSessionClosed) {
		s.sessions.remove(sess.ID())
		writeError(w, http.StatusNotFound, "replay not found")
		return
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		writeError(w, http.StatusServiceUnavailable, "request cancelled")
		return
	}
	s.log.Error().Err(err).Str("session", sess.ID()).Msg("replay request failed")
	writeError(w, http.StatusInternalServerError, errInternal)
}

func describe(ctx context.Context, sess *replay.Session) (replayResponse, error) {
	snap, err := sess.Snapshot(ctx)
	if err != nil {
		return replayResponse{}, err
	}
	mediaErr, err := sess.MediaError(ctx)
	if err != nil {
		return replayResponse{}, err
	}
	return replayResponse{
		ID:         sess.ID(),
		Params:     sess.Params(),
		Snapshot:   snap,
		Clock:      replay.FormatClock(snap.CurrentTime) + " / " + replay.FormatClock(snap.Duration),
		MediaError: mediaErr,
	}, nil
}
