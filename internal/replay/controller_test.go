package replay

import (
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/treefix50/classreplay/internal/media"
	"github.com/treefix50/classreplay/internal/timeline"
)

type fakeAdapter struct {
	phase     media.Phase
	duration  float64
	current   float64
	calls     []string
	seeks     []float64
	inited    string
	initErr   error
	destroyed bool
}

func (f *fakeAdapter) Init(id string) error { f.inited = id; return f.initErr }
func (f *fakeAdapter) Destroy() error       { f.destroyed = true; return nil }
func (f *fakeAdapter) Play()                { f.calls = append(f.calls, "play") }
func (f *fakeAdapter) Pause()               { f.calls = append(f.calls, "pause") }
func (f *fakeAdapter) SeekTo(s float64) {
	f.calls = append(f.calls, "seek")
	f.seeks = append(f.seeks, s)
	f.current = s
}
func (f *fakeAdapter) Duration() float64    { return f.duration }
func (f *fakeAdapter) CurrentTime() float64 { return f.current }
func (f *fakeAdapter) Phase() media.Phase   { return f.phase }

type silentTicker struct{ ch chan time.Time }

func (s silentTicker) C() <-chan time.Time { return s.ch }
func (s silentTicker) Stop()               {}

type testRig struct {
	store   *Store
	ctrl    *Controller
	clock   *timeline.Clock
	adapter *fakeAdapter
	now     time.Time
	snaps   []Snapshot
}

func newRig(t *testing.T, durationMs int64, attach bool) *testRig {
	t.Helper()
	r := &testRig{now: time.Unix(1700000000, 0)}
	r.store = NewStore()
	r.store.Subscribe(func(s Snapshot) { r.snaps = append(r.snaps, s) })
	r.ctrl = NewController(r.store, NewJournal(0, []Entry{{At: 1000}, {At: 5000}}), zerolog.Nop(), ControllerConfig{
		DriftTolerance: 500 * time.Millisecond,
		SeekCooldown:   time.Second,
		Now:            func() time.Time { return r.now },
	})
	r.clock = timeline.New(30*time.Millisecond, r.ctrl.HandleTick, 0, durationMs, timeline.Options{
		Now: func() time.Time { return r.now },
		NewTicker: func(time.Duration) timeline.Ticker {
			return silentTicker{ch: make(chan time.Time)}
		},
	})
	r.ctrl.BindClock(r.clock)
	t.Cleanup(r.clock.Dispose)

	if attach {
		r.adapter = &fakeAdapter{phase: media.PhasePaused, duration: float64(durationMs) / 1000}
		r.ctrl.Attach(r.adapter)
	}
	return r
}

func (r *testRig) last() Snapshot {
	return r.snaps[len(r.snaps)-1]
}

func TestControllerNoopWithoutAdapter(t *testing.T) {
	r := newRig(t, 60000, false)
	before := len(r.snaps)

	if r.ctrl.Toggle() {
		t.Fatalf("Toggle() = true without adapter")
	}
	if r.ctrl.BeginScrub() || r.ctrl.Scrub(100) || r.ctrl.EndScrub(100) {
		t.Fatalf("scrub controls applied without adapter")
	}
	if got := r.clock.State(); got != timeline.StateIdle {
		t.Fatalf("clock state = %s, want idle", got)
	}
	if len(r.snaps) != before {
		t.Fatalf("store changed without adapter: %d new snapshots", len(r.snaps)-before)
	}
	if cover := r.last().Cover; cover != CoverLoading {
		t.Fatalf("Cover = %s, want loading", cover)
	}
	if r.last().Duration != 60000 {
		t.Fatalf("Duration = %d, want 60000", r.last().Duration)
	}
}

func TestControllerToggleDrivesClockAndMedia(t *testing.T) {
	r := newRig(t, 60000, true)

	if !r.ctrl.Toggle() {
		t.Fatalf("Toggle() = false")
	}
	if r.clock.State() != timeline.StateStarted {
		t.Fatalf("clock state = %s, want started", r.clock.State())
	}
	if !r.last().IsPlaying {
		t.Fatalf("IsPlaying = false after starting")
	}

	r.ctrl.Toggle()
	if r.clock.State() != timeline.StatePaused {
		t.Fatalf("clock state = %s, want paused", r.clock.State())
	}
	if r.last().IsPlaying {
		t.Fatalf("IsPlaying = true after pausing")
	}

	want := []string{"play", "pause"}
	if len(r.adapter.calls) != 2 || r.adapter.calls[0] != want[0] || r.adapter.calls[1] != want[1] {
		t.Fatalf("adapter calls = %v, want %v", r.adapter.calls, want)
	}
}

func TestControllerToggleFromEndedRestarts(t *testing.T) {
	r := newRig(t, 1000, true)
	r.clock.SeekTo(1000)
	r.clock.Start()
	if r.clock.State() != timeline.StateEnded {
		t.Fatalf("clock state = %s, want ended", r.clock.State())
	}
	r.adapter.calls = nil
	r.adapter.seeks = nil

	r.ctrl.Toggle()

	if r.clock.State() != timeline.StateStarted {
		t.Fatalf("clock state = %s, want started", r.clock.State())
	}
	if r.clock.Elapsed() != 0 {
		t.Fatalf("elapsed = %d, want 0", r.clock.Elapsed())
	}
	if len(r.adapter.seeks) != 1 || r.adapter.seeks[0] != 0 {
		t.Fatalf("adapter seeks = %v, want [0]", r.adapter.seeks)
	}
	if got := r.adapter.calls[len(r.adapter.calls)-1]; got != "play" {
		t.Fatalf("last adapter call = %s, want play", got)
	}
}

func TestControllerTickBroadcastsProgress(t *testing.T) {
	r := newRig(t, 60000, true)
	r.ctrl.Toggle()

	r.ctrl.HandleTick(timeline.Progress{Elapsed: 2000, Progress: 2000, Duration: 60000})
	snap := r.last()
	if snap.CurrentTime != 2000 || snap.Progress != 2000 {
		t.Fatalf("snapshot = %+v, want currentTime/progress 2000", snap)
	}
	if snap.SeenEntries != 1 {
		t.Fatalf("SeenEntries = %d, want 1", snap.SeenEntries)
	}
}

func TestControllerSeekForwarding(t *testing.T) {
	r := newRig(t, 60000, true)
	r.adapter.duration = 30

	r.clock.SeekTo(12000)
	r.clock.SeekTo(45000)

	if len(r.adapter.seeks) != 1 || r.adapter.seeks[0] != 12 {
		t.Fatalf("adapter seeks = %v, want [12]", r.adapter.seeks)
	}
	if r.last().CurrentTime != 45000 {
		t.Fatalf("CurrentTime = %d, want 45000", r.last().CurrentTime)
	}
}

func TestControllerScrubSequence(t *testing.T) {
	r := newRig(t, 60000, true)
	r.ctrl.Toggle()
	r.now = r.now.Add(5 * time.Second)
	r.clock.SeekTo(5000)

	if !r.ctrl.BeginScrub() {
		t.Fatalf("BeginScrub() = false")
	}
	if r.clock.State() != timeline.StatePaused {
		t.Fatalf("clock state during drag = %s, want paused", r.clock.State())
	}
	if r.last().IsPlaying {
		t.Fatalf("IsPlaying = true during drag")
	}

	r.ctrl.Scrub(20000)
	r.ctrl.Scrub(90000)
	if r.clock.State() != timeline.StatePaused || r.clock.Elapsed() != 5000 {
		t.Fatalf("Scrub touched the clock: %s at %d", r.clock.State(), r.clock.Elapsed())
	}
	if r.last().CurrentTime != 60000 {
		t.Fatalf("CurrentTime = %d, want clamped 60000", r.last().CurrentTime)
	}

	r.adapter.calls = nil
	r.adapter.seeks = nil
	r.ctrl.EndScrub(20000)

	if r.clock.State() != timeline.StateStarted || r.clock.Elapsed() != 20000 {
		t.Fatalf("after release: %s at %d, want started at 20000", r.clock.State(), r.clock.Elapsed())
	}
	if len(r.adapter.calls) != 2 || r.adapter.calls[0] != "seek" || r.adapter.calls[1] != "play" {
		t.Fatalf("adapter calls = %v, want [seek play]", r.adapter.calls)
	}
	if r.adapter.seeks[0] != 20 {
		t.Fatalf("adapter seek = %v, want 20", r.adapter.seeks[0])
	}
	if r.ctrl.Scrubbing() {
		t.Fatalf("Scrubbing() = true after release")
	}
}

func TestControllerCorrectsDrift(t *testing.T) {
	r := newRig(t, 60000, true)
	r.ctrl.Toggle()
	r.ctrl.HandleMediaEvent(media.PhaseChanged{Phase: media.PhasePlaying})
	r.adapter.seeks = nil

	// within tolerance
	r.adapter.current = 9.7
	r.ctrl.HandleTick(timeline.Progress{Elapsed: 10000, Progress: 10000})
	if len(r.adapter.seeks) != 0 {
		t.Fatalf("seeked within tolerance: %v", r.adapter.seeks)
	}

	// beyond tolerance
	r.adapter.current = 8
	r.ctrl.HandleTick(timeline.Progress{Elapsed: 10030, Progress: 10030})
	if len(r.adapter.seeks) != 1 || r.adapter.seeks[0] != 10.03 {
		t.Fatalf("adapter seeks = %v, want [10.03]", r.adapter.seeks)
	}

	// still drifting, but inside the cooldown
	r.adapter.current = 2
	r.ctrl.HandleTick(timeline.Progress{Elapsed: 10060, Progress: 10060})
	if len(r.adapter.seeks) != 1 {
		t.Fatalf("seeked inside cooldown: %v", r.adapter.seeks)
	}

	r.now = r.now.Add(2 * time.Second)
	r.ctrl.HandleTick(timeline.Progress{Elapsed: 10090, Progress: 10090})
	if len(r.adapter.seeks) != 2 {
		t.Fatalf("no correction after cooldown: %v", r.adapter.seeks)
	}
	if r.ctrl.Corrections() != 2 {
		t.Fatalf("Corrections() = %d, want 2", r.ctrl.Corrections())
	}
}

func TestControllerNoCorrectionUnlessPlaying(t *testing.T) {
	r := newRig(t, 60000, true)
	r.adapter.current = 0

	// clock paused
	r.ctrl.HandleMediaEvent(media.PhaseChanged{Phase: media.PhasePlaying})
	r.ctrl.HandleTick(timeline.Progress{Elapsed: 10000, Progress: 10000})

	// media buffering
	r.ctrl.Toggle()
	r.ctrl.HandleMediaEvent(media.PhaseChanged{Phase: media.PhaseWaiting})
	r.ctrl.HandleTick(timeline.Progress{Elapsed: 20000, Progress: 20000})

	// past the media's end
	r.ctrl.HandleMediaEvent(media.PhaseChanged{Phase: media.PhasePlaying})
	r.adapter.duration = 15
	r.ctrl.HandleTick(timeline.Progress{Elapsed: 20000, Progress: 20000})

	if r.ctrl.Corrections() != 0 {
		t.Fatalf("Corrections() = %d, want 0", r.ctrl.Corrections())
	}
}

func TestControllerMediaEvents(t *testing.T) {
	r := newRig(t, 60000, true)

	r.ctrl.HandleMediaEvent(media.PhaseChanged{Phase: media.PhaseLoading})
	if r.last().Cover != CoverLoading || r.last().Phase != media.PhaseLoading {
		t.Fatalf("snapshot = %+v, want loading", r.last())
	}
	r.ctrl.HandleMediaEvent(media.FirstScreenReady{})
	r.ctrl.HandleMediaEvent(media.PhaseChanged{Phase: media.PhasePaused})
	snap := r.last()
	if !snap.FirstScreenReady || snap.Cover != CoverPlay {
		t.Fatalf("snapshot = %+v, want ready with play cover", snap)
	}

	r.ctrl.Toggle()
	r.ctrl.HandleMediaEvent(media.PhaseChanged{Phase: media.PhasePlaying})
	if r.last().Cover != CoverNone {
		t.Fatalf("Cover = %s while playing, want none", r.last().Cover)
	}
}

func TestControllerEventOrderingTolerance(t *testing.T) {
	// a phase event may arrive before or after the tick of the same instant
	for _, phaseFirst := range []bool{true, false} {
		r := newRig(t, 60000, true)
		r.ctrl.Toggle()
		if phaseFirst {
			r.ctrl.HandleMediaEvent(media.PhaseChanged{Phase: media.PhasePlaying})
			r.ctrl.HandleTick(timeline.Progress{Elapsed: 30, Progress: 30})
		} else {
			r.ctrl.HandleTick(timeline.Progress{Elapsed: 30, Progress: 30})
			r.ctrl.HandleMediaEvent(media.PhaseChanged{Phase: media.PhasePlaying})
		}
		snap := r.last()
		if snap.Phase != media.PhasePlaying || snap.CurrentTime != 30 || !snap.IsPlaying {
			t.Fatalf("phaseFirst=%v snapshot = %+v", phaseFirst, snap)
		}
	}
}

func TestControllerDetach(t *testing.T) {
	r := newRig(t, 60000, true)
	a := r.ctrl.Detach()
	if a != r.adapter {
		t.Fatalf("Detach() returned %v", a)
	}
	if r.ctrl.Toggle() {
		t.Fatalf("Toggle() = true after Detach")
	}
	before := len(r.snaps)
	r.clock.SeekTo(100)
	if len(r.snaps) != before {
		t.Fatalf("clock events still reach the controller after Detach")
	}
}
