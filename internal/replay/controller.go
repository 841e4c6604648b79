package replay

import (
	"math"
	"time"

	"github.com/rs/zerolog"

	"github.com/treefix50/classreplay/internal/media"
	"github.com/treefix50/classreplay/internal/timeline"
)

const (
	DefaultDriftTolerance = 500 * time.Millisecond
	DefaultSeekCooldown   = time.Second
)

// ControllerConfig tunes drift correction.
type ControllerConfig struct {
	// DriftTolerance is the largest clock/media divergence left alone while
	// playing.
	DriftTolerance time.Duration
	// SeekCooldown is the minimum wall time between two seeks the
	// controller issues to the media.
	SeekCooldown time.Duration
	Now          func() time.Time
}

// Controller reconciles the virtual clock with the media adapter and is the
// only writer of the Store. The clock is the master: the media follows it.
// All methods must run on the session's event loop.
type Controller struct {
	cfg     ControllerConfig
	store   *Store
	journal *Journal
	log     zerolog.Logger

	clock       *timeline.Clock
	unsubscribe func()
	adapter     media.Adapter

	phase       media.Phase
	firstScreen bool
	playing     bool
	scrubbing   bool
	current     int64
	progress    int64

	lastSeek    time.Time
	corrections int
}

func NewController(store *Store, journal *Journal, log zerolog.Logger, cfg ControllerConfig) *Controller {
	if cfg.DriftTolerance <= 0 {
		cfg.DriftTolerance = DefaultDriftTolerance
	}
	if cfg.SeekCooldown < 0 {
		cfg.SeekCooldown = 0
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Controller{
		cfg:     cfg,
		store:   store,
		journal: journal,
		log:     log,
		phase:   media.PhaseInit,
	}
}

// BindClock subscribes to the clock's events and publishes the first
// snapshot with the session duration.
func (c *Controller) BindClock(clock *timeline.Clock) {
	if c.unsubscribe != nil {
		c.unsubscribe()
	}
	c.clock = clock
	c.unsubscribe = clock.Subscribe(c.HandleClockEvent)
	c.current = clock.Elapsed()
	c.progress = c.current
	c.commit()
}

// Attach hands the controller a constructed adapter. Until then every
// control is a no-op.
func (c *Controller) Attach(a media.Adapter) {
	c.adapter = a
	if a != nil {
		c.phase = a.Phase()
	}
	c.commit()
}

// Detach forgets the adapter and the clock subscription and returns the
// adapter so the caller can destroy it.
func (c *Controller) Detach() media.Adapter {
	a := c.adapter
	c.adapter = nil
	if c.unsubscribe != nil {
		c.unsubscribe()
		c.unsubscribe = nil
	}
	return a
}

func (c *Controller) Ready() bool {
	return c.adapter != nil && c.clock != nil
}

// Corrections returns how many drift-correcting seeks were issued.
func (c *Controller) Corrections() int { return c.corrections }

// HandleTick publishes the clock position and corrects media drift.
func (c *Controller) HandleTick(p timeline.Progress) {
	c.current = p.Elapsed
	c.progress = p.Progress
	c.correctDrift(p.Elapsed)
	c.commit()
}

// HandleClockEvent drives the media from clock seeks and transitions.
func (c *Controller) HandleClockEvent(ev timeline.Event) {
	switch ev := ev.(type) {
	case timeline.SeekChanged:
		c.current = ev.Elapsed
		c.progress = ev.Elapsed
		if a := c.adapter; a != nil {
			seconds := float64(ev.Elapsed) / 1000
			// seeks past the media's end are dropped
			if seconds < a.Duration() {
				a.SeekTo(seconds)
				c.lastSeek = c.cfg.Now()
			}
		}
	case timeline.StateChanged:
		c.playing = ev.State == timeline.StateStarted
		if a := c.adapter; a != nil {
			if c.playing {
				a.Play()
			} else {
				a.Pause()
			}
		}
	}
	c.commit()
}

// HandleMediaEvent records adapter phase and readiness.
func (c *Controller) HandleMediaEvent(ev media.Event) {
	switch ev := ev.(type) {
	case media.PhaseChanged:
		c.phase = ev.Phase
	case media.FirstScreenReady:
		c.firstScreen = true
	}
	c.commit()
}

// Toggle is the play/pause control. Returns false when the media is not
// ready yet.
func (c *Controller) Toggle() bool {
	if !c.Ready() {
		return false
	}
	switch c.clock.State() {
	case timeline.StateIdle, timeline.StatePaused:
		c.clock.Start()
	case timeline.StateStarted:
		c.clock.Stop()
	case timeline.StateEnded:
		c.clock.SeekTo(0)
		c.clock.Start()
	}
	return true
}

// BeginScrub freezes playback while the user drags the scrub bar.
func (c *Controller) BeginScrub() bool {
	if !c.Ready() {
		return false
	}
	c.scrubbing = true
	c.clock.Stop()
	if c.playing {
		c.playing = false
		c.commit()
	}
	return true
}

// Scrub previews a drag position without touching either clock.
func (c *Controller) Scrub(ms int64) bool {
	if !c.Ready() {
		return false
	}
	ms = clampMs(ms, c.clock.Duration())
	c.current = ms
	c.progress = ms
	c.commit()
	return true
}

// EndScrub resumes playback from the released position.
func (c *Controller) EndScrub(ms int64) bool {
	if !c.Ready() {
		return false
	}
	c.scrubbing = false
	c.clock.SeekTo(ms)
	c.clock.Start()
	return true
}

func (c *Controller) Scrubbing() bool { return c.scrubbing }

func (c *Controller) correctDrift(elapsed int64) {
	a := c.adapter
	if a == nil || !c.playing || c.phase != media.PhasePlaying {
		return
	}
	seconds := float64(elapsed) / 1000
	if seconds >= a.Duration() {
		return
	}
	drift := time.Duration(math.Abs(seconds-a.CurrentTime()) * float64(time.Second))
	if drift <= c.cfg.DriftTolerance {
		return
	}
	now := c.cfg.Now()
	if !c.lastSeek.IsZero() && now.Sub(c.lastSeek) < c.cfg.SeekCooldown {
		return
	}
	a.SeekTo(seconds)
	c.lastSeek = now
	c.corrections++
	c.log.Debug().
		Int64("elapsed_ms", elapsed).
		Dur("drift", drift).
		Msg("corrective seek")
}

func (c *Controller) commit() {
	var duration int64
	if c.clock != nil {
		duration = c.clock.Duration()
	}
	c.store.Commit(Snapshot{
		Phase:            c.phase,
		CurrentTime:      c.current,
		Progress:         c.progress,
		IsPlaying:        c.playing,
		Duration:         duration,
		FirstScreenReady: c.firstScreen,
		Cover:            coverFor(c.adapter != nil, c.playing, c.phase),
		SeenEntries:      c.journal.Seen(c.current),
	})
}

func clampMs(ms, max int64) int64 {
	if ms < 0 {
		return 0
	}
	if ms > max {
		return max
	}
	return ms
}
