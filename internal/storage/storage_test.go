package storage

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/treefix50/classreplay/internal/auth"
	"github.com/treefix50/classreplay/internal/replay"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	store, err := Open(":memory:", Options{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() {
		_ = store.Close()
	})
	return store
}

func testRecording(id string, start int64) replay.Recording {
	return replay.Recording{
		ID:        id,
		Title:     "Lesson " + id,
		StartTime: start,
		EndTime:   start + 60000,
		MediaURL:  "https://cdn/" + id + ".m3u8",
		CreatedAt: time.Unix(1700000000, 0),
	}
}

func TestMigrateSchema(t *testing.T) {
	store := newTestStore(t)

	// a second run is a no-op
	if err := store.MigrateSchema(); err != nil {
		t.Fatalf("MigrateSchema() error = %v", err)
	}

	rows, err := store.db.Query(`SELECT name FROM sqlite_master WHERE type = 'table'`)
	if err != nil {
		t.Fatalf("query sqlite_master: %v", err)
	}
	found := map[string]bool{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			t.Fatalf("scan sqlite_master: %v", err)
		}
		found[name] = true
	}
	rows.Close()

	for _, table := range []string{"schema_migrations", "recordings", "recording_entries", "auth_users", "auth_sessions"} {
		if !found[table] {
			t.Fatalf("expected table %q to exist", table)
		}
	}

	var version int
	if err := store.db.QueryRow(`SELECT MAX(version) FROM schema_migrations`).Scan(&version); err != nil {
		t.Fatalf("query schema_migrations: %v", err)
	}
	if version != SchemaVersion() {
		t.Fatalf("unexpected schema version: got %d want %d", version, SchemaVersion())
	}
}

func TestOpenFileBacked(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "replay.db")
	store, err := Open(path, Options{BusyTimeout: time.Second})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if err := store.SaveRecording(testRecording("a", 1700000000000)); err != nil {
		t.Fatalf("SaveRecording() error = %v", err)
	}
	store.Close()

	reopened, err := Open(path, Options{})
	if err != nil {
		t.Fatalf("reopen error = %v", err)
	}
	defer reopened.Close()
	if _, err := reopened.GetRecording("a"); err != nil {
		t.Fatalf("GetRecording() after reopen error = %v", err)
	}
}

func TestSaveAndGetRecording(t *testing.T) {
	store := newTestStore(t)
	rec := testRecording("r1", 1700000000000)

	if err := store.SaveRecording(rec); err != nil {
		t.Fatalf("SaveRecording() error = %v", err)
	}
	got, err := store.GetRecording("r1")
	if err != nil {
		t.Fatalf("GetRecording() error = %v", err)
	}
	if got.ID != rec.ID || got.Title != rec.Title || got.StartTime != rec.StartTime ||
		got.EndTime != rec.EndTime || got.MediaURL != rec.MediaURL || !got.CreatedAt.Equal(rec.CreatedAt) {
		t.Fatalf("GetRecording() = %+v, want %+v", *got, rec)
	}

	rec.Title = "Renamed"
	if err := store.SaveRecording(rec); err != nil {
		t.Fatalf("SaveRecording() update error = %v", err)
	}
	got, _ = store.GetRecording("r1")
	if got.Title != "Renamed" {
		t.Fatalf("Title = %q after update", got.Title)
	}

	if _, err := store.GetRecording("missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("GetRecording(missing) error = %v, want ErrNotFound", err)
	}
}

func TestSaveRecordingRejectsBadTimes(t *testing.T) {
	store := newTestStore(t)
	if err := store.SaveRecording(testRecording("bad", 0)); err == nil {
		t.Fatalf("SaveRecording() accepted a zero start time")
	}
}

func TestListRecordingsNewestFirst(t *testing.T) {
	store := newTestStore(t)
	if got, err := store.ListRecordings(); err != nil || len(got) != 0 {
		t.Fatalf("ListRecordings() on empty store = %v, %v", got, err)
	}
	for i, id := range []string{"old", "new", "mid"} {
		start := []int64{1000, 3000, 2000}[i]
		if err := store.SaveRecording(testRecording(id, start)); err != nil {
			t.Fatalf("SaveRecording(%s) error = %v", id, err)
		}
	}

	got, err := store.ListRecordings()
	if err != nil {
		t.Fatalf("ListRecordings() error = %v", err)
	}
	if len(got) != 3 || got[0].ID != "new" || got[1].ID != "mid" || got[2].ID != "old" {
		t.Fatalf("ListRecordings() order = %v", got)
	}
}

func TestEntries(t *testing.T) {
	store := newTestStore(t)
	start := int64(1700000000000)
	store.SaveRecording(testRecording("r1", start))

	err := store.AppendEntries("r1", []replay.Entry{
		{At: start + 3000, Kind: replay.EntryChat, Author: "kim", Payload: "hi"},
		{At: start + 1000, Kind: replay.EntryWhiteboard, Payload: `{"stroke":1}`},
		{At: start + 2000, Kind: replay.EntryChat, Author: "lee", Payload: "hello"},
	})
	if err != nil {
		t.Fatalf("AppendEntries() error = %v", err)
	}

	all, err := store.ListEntries("r1", -1)
	if err != nil {
		t.Fatalf("ListEntries() error = %v", err)
	}
	if len(all) != 3 || all[0].At != start+1000 || all[2].Author != "kim" {
		t.Fatalf("ListEntries() = %+v", all)
	}

	upTo, err := store.ListEntries("r1", 2000)
	if err != nil {
		t.Fatalf("ListEntries(until) error = %v", err)
	}
	if len(upTo) != 2 {
		t.Fatalf("ListEntries(2000) returned %d entries, want 2", len(upTo))
	}

	if n, err := store.CountEntries("r1"); err != nil || n != 3 {
		t.Fatalf("CountEntries() = %d, %v", n, err)
	}
}

func TestAppendEntriesUnknownRecording(t *testing.T) {
	store := newTestStore(t)
	err := store.AppendEntries("ghost", []replay.Entry{{At: 1, Kind: replay.EntryChat}})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("AppendEntries() error = %v, want ErrNotFound", err)
	}
	if err := store.AppendEntries("ghost", nil); err != nil {
		t.Fatalf("AppendEntries(nil) error = %v", err)
	}
}

func TestDeleteRecordingCascades(t *testing.T) {
	store := newTestStore(t)
	start := int64(1700000000000)
	store.SaveRecording(testRecording("r1", start))
	store.AppendEntries("r1", []replay.Entry{{At: start, Kind: replay.EntryChat}})

	if err := store.DeleteRecording("r1"); err != nil {
		t.Fatalf("DeleteRecording() error = %v", err)
	}
	if n, _ := store.CountEntries("r1"); n != 0 {
		t.Fatalf("CountEntries() after delete = %d, want 0", n)
	}
	if err := store.DeleteRecording("r1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("second DeleteRecording() error = %v, want ErrNotFound", err)
	}
}

func TestAuthStore(t *testing.T) {
	store := newTestStore(t)
	now := time.Unix(1700000000, 0)

	user := auth.User{ID: "u1", Username: "admin", PasswordHash: "hash", IsAdmin: true, CreatedAt: now}
	if err := store.CreateUser(user); err != nil {
		t.Fatalf("CreateUser() error = %v", err)
	}
	if err := store.CreateUser(user); err == nil {
		t.Fatalf("CreateUser() accepted a duplicate")
	}
	got, err := store.GetUserByUsername("admin")
	if err != nil {
		t.Fatalf("GetUserByUsername() error = %v", err)
	}
	if !got.IsAdmin || !got.LastLogin.IsZero() || !got.CreatedAt.Equal(now) {
		t.Fatalf("GetUserByUsername() = %+v", got)
	}
	if _, err := store.GetUserByUsername("nobody"); !errors.Is(err, auth.ErrUserNotFound) {
		t.Fatalf("GetUserByUsername(nobody) error = %v", err)
	}

	got.LastLogin = now.Add(time.Hour)
	if err := store.UpdateUser(*got); err != nil {
		t.Fatalf("UpdateUser() error = %v", err)
	}
	if n, _ := store.CountUsers(); n != 1 {
		t.Fatalf("CountUsers() = %d, want 1", n)
	}

	for _, s := range []auth.Session{
		{Token: "live", UserID: "u1", Username: "admin", IsAdmin: true, CreatedAt: now, ExpiresAt: now.Add(time.Hour)},
		{Token: "stale", UserID: "u1", Username: "admin", CreatedAt: now, ExpiresAt: now.Add(-time.Hour)},
	} {
		if err := store.CreateSession(s); err != nil {
			t.Fatalf("CreateSession() error = %v", err)
		}
	}
	sess, err := store.GetSession("live")
	if err != nil || !sess.IsAdmin || !sess.ExpiresAt.Equal(now.Add(time.Hour)) {
		t.Fatalf("GetSession() = %+v, %v", sess, err)
	}

	removed, err := store.CleanExpiredSessions(now)
	if err != nil || removed != 1 {
		t.Fatalf("CleanExpiredSessions() = %d, %v; want 1", removed, err)
	}
	if err := store.DeleteUserSessions("u1"); err != nil {
		t.Fatalf("DeleteUserSessions() error = %v", err)
	}
	if _, err := store.GetSession("live"); !errors.Is(err, auth.ErrInvalidToken) {
		t.Fatalf("GetSession() after delete error = %v", err)
	}
}

func TestNilStore(t *testing.T) {
	var store *Store
	if err := store.SaveRecording(replay.Recording{}); err == nil {
		t.Fatalf("SaveRecording() on nil store succeeded")
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close() on nil store error = %v", err)
	}
}

var _ auth.Store = (*Store)(nil)
