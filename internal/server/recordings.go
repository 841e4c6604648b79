package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/treefix50/classreplay/internal/replay"
	"github.com/treefix50/classreplay/internal/storage"
)

// Bounds for one POST /recordings/{id}/entries.
const (
	maxEntriesPerRequest = 10000
	maxEntriesBodyBytes  = 8 << 20
)

type recordingResponse struct {
	replay.Recording
	Entries int    `json:"entries"`
	Length  string `json:"length"`
}

func (s *Server) handleListRecordings(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeJSON(w, http.StatusOK, []recordingResponse{})
		return
	}
	recordings, err := s.store.ListRecordings()
	if err != nil {
		s.log.Error().Err(err).Msg("list recordings")
		writeError(w, http.StatusInternalServerError, errInternal)
		return
	}
	out := make([]recordingResponse, 0, len(recordings))
	for _, rec := range recordings {
		resp, err := s.recordingResponse(rec)
		if err != nil {
			s.log.Error().Err(err).Str("recording", rec.ID).Msg("count entries")
			writeError(w, http.StatusInternalServerError, errInternal)
			return
		}
		out = append(out, resp)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetRecording(w http.ResponseWriter, r *http.Request) {
	rec, ok := s.recording(w, r.PathValue("id"))
	if !ok {
		return
	}
	resp, err := s.recordingResponse(*rec)
	if err != nil {
		writeError(w, http.StatusInternalServerError, errInternal)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleCreateRecording(w http.ResponseWriter, r *http.Request) {
	var rec replay.Recording
	if err := json.NewDecoder(r.Body).Decode(&rec); err != nil {
		writeError(w, http.StatusBadRequest, "bad request")
		return
	}
	rec.MediaURL = strings.TrimSpace(rec.MediaURL)
	if err := rec.Params().Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	rec.CreatedAt = s.opts.Now()
	if err := s.store.SaveRecording(rec); err != nil {
		s.log.Error().Err(err).Msg("save recording")
		writeError(w, http.StatusInternalServerError, errInternal)
		return
	}
	s.log.Info().Str("recording", rec.ID).Int64("duration_ms", rec.Params().Duration()).Msg("recording saved")
	writeJSON(w, http.StatusCreated, recordingResponse{Recording: rec, Length: replay.FormatClock(rec.Params().Duration())})
}

func (s *Server) handleDeleteRecording(w http.ResponseWriter, r *http.Request) {
	err := s.store.DeleteRecording(r.PathValue("id"))
	switch {
	case errors.Is(err, storage.ErrNotFound):
		writeError(w, http.StatusNotFound, errNotFound)
	case err != nil:
		s.log.Error().Err(err).Msg("delete recording")
		writeError(w, http.StatusInternalServerError, errInternal)
	default:
		w.WriteHeader(http.StatusNoContent)
	}
}

// handleListEntries returns the log; ?until=ms keeps only what happened in
// the first ms of the class.
func (s *Server) handleListEntries(w http.ResponseWriter, r *http.Request) {
	until := int64(-1)
	if v := r.URL.Query().Get("until"); v != "" {
		parsed, err := strconv.ParseInt(v, 10, 64)
		if err != nil || parsed < 0 {
			writeError(w, http.StatusBadRequest, "until must be a non-negative integer")
			return
		}
		until = parsed
	}
	id := r.PathValue("id")
	if _, ok := s.recording(w, id); !ok {
		return
	}
	entries, err := s.store.ListEntries(id, until)
	if err != nil {
		s.log.Error().Err(err).Msg("list entries")
		writeError(w, http.StatusInternalServerError, errInternal)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleAppendEntries(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxEntriesBodyBytes)
	var entries []replay.Entry
	if err := json.NewDecoder(r.Body).Decode(&entries); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		writeError(w, http.StatusBadRequest, "bad request")
		return
	}
	if len(entries) > maxEntriesPerRequest {
		writeError(w, http.StatusRequestEntityTooLarge, "too many entries")
		return
	}
	for _, e := range entries {
		if e.Kind != replay.EntryChat && e.Kind != replay.EntryWhiteboard {
			writeError(w, http.StatusBadRequest, "unknown entry kind "+strconv.Quote(e.Kind))
			return
		}
	}

	err := s.store.AppendEntries(r.PathValue("id"), entries)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		writeError(w, http.StatusNotFound, errNotFound)
	case err != nil:
		s.log.Error().Err(err).Msg("append entries")
		writeError(w, http.StatusInternalServerError, errInternal)
	default:
		writeJSON(w, http.StatusCreated, map[string]int{"appended": len(entries)})
	}
}

func (s *Server) recording(w http.ResponseWriter, id string) (*replay.Recording, bool) {
	if s.store == nil {
		writeError(w, http.StatusNotFound, errNotFound)
		return nil, false
	}
	rec, err := s.store.GetRecording(id)
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, http.StatusNotFound, errNotFound)
		return nil, false
	}
	if err != nil {
		s.log.Error().Err(err).Msg("get recording")
		writeError(w, http.StatusInternalServerError, errInternal)
		return nil, false
	}
	return rec, true
}

func (s *Server) recordingResponse(rec replay.Recording) (recordingResponse, error) {
	n, err := s.store.CountEntries(rec.ID)
	if err != nil {
		return recordingResponse{}, err
	}
	return recordingResponse{Recording: rec, Entries: n, Length: replay.FormatClock(rec.Params().Duration())}, nil
}
