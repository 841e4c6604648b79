// Package timeline implements the virtual clock that drives a replay.
//
// The clock knows nothing about media. It produces elapsed-time ticks between
// zero and the session duration and reports seeks and state transitions to
// its listeners.
package timeline

import "time"

// DefaultInterval is used when New receives a non-positive interval.
const DefaultInterval = 30 * time.Millisecond

// Scheduler serializes callbacks onto the goroutine that owns the clock.
// *eventloop.Loop satisfies it.
type Scheduler interface {
	Post(fn func()) bool
}

// Ticker is the tick source. The default wraps time.Ticker.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

// Options carries the clock's collaborators. Zero values fall back to real
// time and an inline scheduler; an inline scheduler runs ticks on the ticker
// goroutine, so callers that also drive the clock from elsewhere must pass
// a real Scheduler.
type Options struct {
	Scheduler Scheduler
	Now       func() time.Time
	NewTicker func(time.Duration) Ticker
}

// Clock is a fixed-interval timeline. All methods must be called from the
// Scheduler's goroutine.
type Clock struct {
	interval  time.Duration
	startTime int64
	endTime   int64
	duration  time.Duration
	onTick    func(Progress)

	sched     Scheduler
	now       func() time.Time
	newTicker func(time.Duration) Ticker

	state     State
	pos       time.Duration
	lastTick  time.Time
	gen       uint64
	stop      chan struct{}
	listeners []*listener
	disposed  bool
}

type listener struct {
	fn func(Event)
}

// New builds an idle clock spanning |endTime - startTime| milliseconds.
func New(interval time.Duration, onTick func(Progress), startTime, endTime int64, opts Options) *Clock {
	if interval <= 0 {
		interval = DefaultInterval
	}
	span := endTime - startTime
	if span < 0 {
		span = -span
	}
	c := &Clock{
		interval:  interval,
		startTime: startTime,
		endTime:   endTime,
		duration:  time.Duration(span) * time.Millisecond,
		onTick:    onTick,
		sched:     opts.Scheduler,
		now:       opts.Now,
		newTicker: opts.NewTicker,
		state:     StateIdle,
	}
	if c.sched == nil {
		c.sched = inlineScheduler{}
	}
	if c.now == nil {
		c.now = time.Now
	}
	if c.newTicker == nil {
		c.newTicker = newStdTicker
	}
	return c
}

func (c *Clock) State() State            { return c.state }
func (c *Clock) Interval() time.Duration { return c.interval }
func (c *Clock) StartTime() int64        { return c.startTime }
func (c *Clock) EndTime() int64          { return c.endTime }

// Duration returns the timeline length in milliseconds.
func (c *Clock) Duration() int64 { return c.duration.Milliseconds() }

// Elapsed returns the current position in milliseconds.
func (c *Clock) Elapsed() int64 { return c.pos.Milliseconds() }

// Subscribe registers fn for SeekChanged and StateChanged events. The
// returned func detaches it.
func (c *Clock) Subscribe(fn func(Event)) func() {
	if fn == nil || c.disposed {
		return func() {}
	}
	l := &listener{fn: fn}
	c.listeners = append(c.listeners, l)
	return func() {
		for i, existing := range c.listeners {
			if existing == l {
				c.listeners = append(c.listeners[:i:i], c.listeners[i+1:]...)
				return
			}
		}
	}
}

// Start begins ticking. It does nothing when already started, when the
// timeline is empty, or when the clock ended and has not been seeked back.
func (c *Clock) Start() {
	if c.disposed || c.state == StateStarted || c.duration <= 0 {
		return
	}
	if c.pos >= c.duration {
		if c.state != StateEnded {
			c.setState(StateEnded)
		}
		return
	}
	c.lastTick = c.now()
	c.startTicker()
	c.setState(StateStarted)
}

// Stop pauses a started clock and keeps the elapsed time.
func (c *Clock) Stop() {
	if c.disposed || c.state != StateStarted {
		return
	}
	c.stopTicker()
	c.setState(StatePaused)
}

// SeekTo moves the position to ms clamped into [0, Duration]. The running
// state is left alone.
func (c *Clock) SeekTo(ms int64) {
	if c.disposed {
		return
	}
	c.pos = c.clamp(time.Duration(ms) * time.Millisecond)
	if c.state == StateStarted {
		c.lastTick = c.now()
	}
	c.emit(SeekChanged{Elapsed: c.pos.Milliseconds()})
}

// Dispose cancels the tick source and drops every listener. The clock is
// inert afterwards.
func (c *Clock) Dispose() {
	if c.disposed {
		return
	}
	c.stopTicker()
	c.listeners = nil
	c.onTick = nil
	c.disposed = true
}

func (c *Clock) tick(gen uint64) {
	if c.disposed || gen != c.gen || c.state != StateStarted {
		return
	}
	now := c.now()
	delta := now.Sub(c.lastTick)
	if delta < 0 {
		delta = 0
	}
	c.lastTick = now
	c.pos = c.clamp(c.pos + delta)

	if c.pos >= c.duration {
		c.stopTicker()
		c.state = StateEnded
		c.notifyTick()
		c.emit(StateChanged{State: StateEnded})
		return
	}
	c.notifyTick()
}

func (c *Clock) notifyTick() {
	if c.onTick == nil {
		return
	}
	ms := c.pos.Milliseconds()
	c.onTick(Progress{Elapsed: ms, Progress: ms, Duration: c.duration.Milliseconds()})
}

func (c *Clock) setState(s State) {
	if c.state == s {
		return
	}
	c.state = s
	c.emit(StateChanged{State: s})
}

func (c *Clock) emit(ev Event) {
	listeners := append([]*listener(nil), c.listeners...)
	for _, l := range listeners {
		l.fn(ev)
	}
}

func (c *Clock) clamp(d time.Duration) time.Duration {
	if d < 0 {
		return 0
	}
	if d > c.duration {
		return c.duration
	}
	return d
}

// startTicker bumps the generation so ticks queued by an earlier source are
// ignored once they reach the scheduler.
func (c *Clock) startTicker() {
	c.stopTicker()
	c.gen++
	gen := c.gen
	stop := make(chan struct{})
	c.stop = stop
	t := c.newTicker(c.interval)
	sched := c.sched

	go func() {
		defer t.Stop()
		for {
			select {
			case <-t.C():
				if !sched.Post(func() { c.tick(gen) }) {
					return
				}
			case <-stop:
				return
			}
		}
	}()
}

func (c *Clock) stopTicker() {
	if c.stop == nil {
		return
	}
	close(c.stop)
	c.stop = nil
	c.gen++
}

type inlineScheduler struct{}

func (inlineScheduler) Post(fn func()) bool {
	fn()
	return true
}

type stdTicker struct {
	t *time.Ticker
}

func newStdTicker(d time.Duration) Ticker {
	return stdTicker{t: time.NewTicker(d)}
}

func (s stdTicker) C() <-chan time.Time { return s.t.C }
func (s stdTicker) Stop()               { s.t.Stop() }
