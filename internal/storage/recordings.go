package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/treefix50/classreplay/internal/replay"
)

// SaveRecording inserts or replaces a recording's metadata. Its log is
// left alone.
func (s *Store) SaveRecording(r replay.Recording) error {
	if s == nil || s.db == nil {
		return errNoDB
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}
	_, err := s.db.Exec(`
		INSERT INTO recordings (id, title, start_time, end_time, media_url, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title=excluded.title,
			start_time=excluded.start_time,
			end_time=excluded.end_time,
			media_url=excluded.media_url
	`, r.ID, r.Title, r.StartTime, r.EndTime, r.MediaURL, r.CreatedAt.Unix())
	if err != nil {
		return fmt.Errorf("storage: save recording %s: %w", r.ID, err)
	}
	return nil
}

func (s *Store) GetRecording(id string) (*replay.Recording, error) {
	if s == nil || s.db == nil {
		return nil, errNoDB
	}
	row := s.db.QueryRow(`
		SELECT id, title, start_time, end_time, media_url, created_at
		FROM recordings
		WHERE id = ?
	`, id)
	r, err := scanRecording(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// ListRecordings returns every recording, newest class first.
func (s *Store) ListRecordings() ([]replay.Recording, error) {
	if s == nil || s.db == nil {
		return nil, errNoDB
	}
	rows, err := s.db.Query(`
		SELECT id, title, start_time, end_time, media_url, created_at
		FROM recordings
		ORDER BY start_time DESC, id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	recordings := []replay.Recording{}
	for rows.Next() {
		r, err := scanRecording(rows)
		if err != nil {
			return nil, err
		}
		recordings = append(recordings, r)
	}
	return recordings, rows.Err()
}

// DeleteRecording removes a recording and, by cascade, its log.
func (s *Store) DeleteRecording(id string) error {
	if s == nil || s.db == nil {
		return errNoDB
	}
	res, err := s.db.Exec(`DELETE FROM recordings WHERE id = ?`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// AppendEntries adds log entries to a recording in one transaction.
func (s *Store) AppendEntries(recordingID string, entries []replay.Entry) (err error) {
	if s == nil || s.db == nil {
		return errNoDB
	}
	if len(entries) == 0 {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var exists int
	if err = tx.QueryRow(`SELECT COUNT(*) FROM recordings WHERE id = ?`, recordingID).Scan(&exists); err != nil {
		return err
	}
	if exists == 0 {
		err = ErrNotFound
		return err
	}

	stmt, err := tx.Prepare(`
		INSERT INTO recording_entries (recording_id, at, kind, author, payload)
		VALUES (?, ?, ?, ?, ?)
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, e := range entries {
		if _, err = stmt.Exec(recordingID, e.At, e.Kind, e.Author, e.Payload); err != nil {
			return fmt.Errorf("storage: append entry at %d: %w", e.At, err)
		}
	}
	return tx.Commit()
}

// ListEntries returns a recording's log in time order. A non-negative
// until keeps only entries at most until milliseconds after the start.
func (s *Store) ListEntries(recordingID string, until int64) ([]replay.Entry, error) {
	if s == nil || s.db == nil {
		return nil, errNoDB
	}
	rows, err := s.db.Query(`
		SELECT e.at, e.kind, e.author, e.payload
		FROM recording_entries e
		JOIN recordings r ON r.id = e.recording_id
		WHERE e.recording_id = ? AND (? < 0 OR e.at - r.start_time <= ?)
		ORDER BY e.at, e.id
	`, recordingID, until, until)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := []replay.Entry{}
	for rows.Next() {
		var e replay.Entry
		if err := rows.Scan(&e.At, &e.Kind, &e.Author, &e.Payload); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (s *Store) CountEntries(recordingID string) (int, error) {
	if s == nil || s.db == nil {
		return 0, errNoDB
	}
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM recording_entries WHERE recording_id = ?`, recordingID).Scan(&n)
	return n, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecording(row rowScanner) (replay.Recording, error) {
	var r replay.Recording
	var createdAt int64
	if err := row.Scan(&r.ID, &r.Title, &r.StartTime, &r.EndTime, &r.MediaURL, &createdAt); err != nil {
		return replay.Recording{}, err
	}
	r.CreatedAt = time.Unix(createdAt, 0)
	return r, nil
}
