package replay

import (
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"
)

// ErrInvalidParams means a session cannot be opened. Callers surface it as
// not found; it is never retried.
var ErrInvalidParams = errors.New("replay: invalid session parameters")

// Params are the session entry parameters. StartTime and EndTime are
// absolute timestamps in milliseconds.
type Params struct {
	StartTime int64  `json:"startTime"`
	EndTime   int64  `json:"endTime"`
	MediaURL  string `json:"url"`
}

// Duration is |EndTime - StartTime| in milliseconds.
func (p Params) Duration() int64 {
	d := p.EndTime - p.StartTime
	if d < 0 {
		return -d
	}
	return d
}

func (p Params) Validate() error {
	if p.StartTime <= 0 || p.EndTime <= 0 {
		return fmt.Errorf("%w: start and end timestamps are required", ErrInvalidParams)
	}
	if strings.TrimSpace(p.MediaURL) == "" {
		return fmt.Errorf("%w: media url is required", ErrInvalidParams)
	}
	if !isRemoteMedia(p.MediaURL) {
		return fmt.Errorf("%w: media url %q must be an absolute http(s) url", ErrInvalidParams, p.MediaURL)
	}
	return nil
}

// isRemoteMedia accepts absolute http and https URLs with a host. Local
// files and ffmpeg protocol URLs (file:, concat:, pipe:) are refused.
func isRemoteMedia(raw string) bool {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Host == "" {
		return false
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
		return true
	}
	return false
}

// ParseParams reads raw route/query values.
func ParseParams(startTime, endTime, mediaURL string) (Params, error) {
	start, err := strconv.ParseInt(strings.TrimSpace(startTime), 10, 64)
	if err != nil {
		return Params{}, fmt.Errorf("%w: start time %q", ErrInvalidParams, startTime)
	}
	end, err := strconv.ParseInt(strings.TrimSpace(endTime), 10, 64)
	if err != nil {
		return Params{}, fmt.Errorf("%w: end time %q", ErrInvalidParams, endTime)
	}
	p := Params{StartTime: start, EndTime: end, MediaURL: strings.TrimSpace(mediaURL)}
	if err := p.Validate(); err != nil {
		return Params{}, err
	}
	return p, nil
}

// Recording is a captured classroom session.
type Recording struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	StartTime int64     `json:"startTime"`
	EndTime   int64     `json:"endTime"`
	MediaURL  string    `json:"url"`
	CreatedAt time.Time `json:"createdAt"`
}

func (r Recording) Params() Params {
	return Params{StartTime: r.StartTime, EndTime: r.EndTime, MediaURL: r.MediaURL}
}

// Entry kinds found in a recording's log.
const (
	EntryChat       = "chat"
	EntryWhiteboard = "whiteboard"
)

// Entry is one item of the time-indexed whiteboard/chat log. At is an
// absolute timestamp in milliseconds.
type Entry struct {
	At      int64  `json:"at"`
	Kind    string `json:"kind"`
	Author  string `json:"author,omitempty"`
	Payload string `json:"payload"`
}

// Journal answers how many log entries happened at or before a timeline
// position.
type Journal struct {
	offsets []int64
}

// NewJournal indexes entries relative to startTime.
func NewJournal(startTime int64, entries []Entry) *Journal {
	offsets := make([]int64, 0, len(entries))
	for _, e := range entries {
		offsets = append(offsets, e.At-startTime)
	}
	sort.Slice(offsets, func(i, j int) bool { return offsets[i] < offsets[j] })
	return &Journal{offsets: offsets}
}

// Seen returns the number of entries with offset <= elapsed.
func (j *Journal) Seen(elapsed int64) int {
	if j == nil {
		return 0
	}
	return sort.Search(len(j.offsets), func(i int) bool { return j.offsets[i] > elapsed })
}

func (j *Journal) Len() int {
	if j == nil {
		return 0
	}
	return len(j.offsets)
}
