package replay

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/treefix50/classreplay/internal/eventloop"
	"github.com/treefix50/classreplay/internal/media"
	"github.com/treefix50/classreplay/internal/timeline"
)

// DefaultElementID is the element the adapter binds when none is given.
const DefaultElementID = "player"

// ErrSessionClosed is returned by every Session method after Close.
var ErrSessionClosed = errors.New("replay: session closed")

// Options configure a Session.
type Options struct {
	TickInterval   time.Duration
	DriftTolerance time.Duration
	SeekCooldown   time.Duration
	ElementID      string
	Entries        []Entry
	Logger         zerolog.Logger
	Now            func() time.Time
	NewTicker      func(time.Duration) timeline.Ticker
}

// Session owns every entity of one replay: event loop, store, clock,
// controller and media adapter. They are created together by Open and torn
// down together by Close.
type Session struct {
	id     string
	params Params
	log    zerolog.Logger
	now    func() time.Time

	loop  *eventloop.Loop
	store *Store
	clock *timeline.Clock
	ctrl  *Controller

	// loop-owned
	closed    bool
	attachErr error

	cancel     context.CancelFunc
	closeOnce  sync.Once
	done       chan struct{}
	lastActive atomic.Int64
}

// Open validates params, builds the session on a fresh event loop and starts
// constructing the media adapter in the background. Controls are no-ops
// until the adapter is attached.
func Open(ctx context.Context, id string, params Params, factory media.Factory, opts Options) (*Session, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.ElementID == "" {
		opts.ElementID = DefaultElementID
	}

	attachCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s := &Session{
		id:     id,
		params: params,
		log:    opts.Logger.With().Str("session", id).Logger(),
		loop:   eventloop.New(),
		now:    opts.Now,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	s.touch(opts.Now())

	err := s.loop.Call(ctx, func() {
		s.store = NewStore()
		s.ctrl = NewController(s.store, NewJournal(params.StartTime, opts.Entries), s.log, ControllerConfig{
			DriftTolerance: opts.DriftTolerance,
			SeekCooldown:   opts.SeekCooldown,
			Now:            opts.Now,
		})
		s.clock = timeline.New(opts.TickInterval, s.ctrl.HandleTick, params.StartTime, params.EndTime, timeline.Options{
			Scheduler: s.loop,
			Now:       opts.Now,
			NewTicker: opts.NewTicker,
		})
		s.ctrl.BindClock(s.clock)
	})
	if err != nil {
		cancel()
		s.loop.Close()
		return nil, err
	}

	go s.attach(attachCtx, factory, opts.ElementID)

	s.log.Info().
		Int64("start_time", params.StartTime).
		Int64("end_time", params.EndTime).
		Int64("duration_ms", params.Duration()).
		Str("media_url", params.MediaURL).
		Msg("replay session opened")
	return s, nil
}

func (s *Session) attach(ctx context.Context, factory media.Factory, elementID string) {
	cb := media.Forward(func(ev media.Event) {
		s.loop.Post(func() {
			if !s.closed {
				s.ctrl.HandleMediaEvent(ev)
			}
		})
	})

	a, err := factory(ctx, s.params.MediaURL, cb)
	if err != nil {
		s.log.Error().Err(err).Msg("media adapter unavailable")
		s.loop.Post(func() { s.attachErr = err })
		return
	}

	posted := s.loop.Post(func() {
		if s.closed {
			_ = a.Destroy()
			return
		}
		if err := a.Init(elementID); err != nil {
			s.attachErr = err
			s.log.Error().Err(err).Msg("media element init failed")
			_ = a.Destroy()
			return
		}
		s.ctrl.Attach(a)
	})
	if !posted {
		_ = a.Destroy()
	}
}

func (s *Session) ID() string            { return s.id }
func (s *Session) Params() Params        { return s.params }
func (s *Session) Done() <-chan struct{} { return s.done }

// LastActive is the time of the most recent control or subscription.
func (s *Session) LastActive() time.Time {
	return time.Unix(0, s.lastActive.Load())
}

func (s *Session) touch(t time.Time) {
	s.lastActive.Store(t.UnixNano())
}

// Snapshot returns the current snapshot.
func (s *Session) Snapshot(ctx context.Context) (Snapshot, error) {
	var snap Snapshot
	err := s.call(ctx, func() {
		snap, _ = s.store.Current()
	})
	return snap, err
}

// MediaError reports why the adapter could not be constructed or bound, or
// "" when it is fine so far.
func (s *Session) MediaError(ctx context.Context) (string, error) {
	var msg string
	err := s.call(ctx, func() {
		if s.attachErr != nil {
			msg = s.attachErr.Error()
		}
	})
	return msg, err
}

func (s *Session) Toggle(ctx context.Context) (bool, error) {
	return s.control(ctx, s.ctrl.Toggle)
}

func (s *Session) BeginScrub(ctx context.Context) (bool, error) {
	return s.control(ctx, s.ctrl.BeginScrub)
}

func (s *Session) Scrub(ctx context.Context, ms int64) (bool, error) {
	return s.control(ctx, func() bool { return s.ctrl.Scrub(ms) })
}

func (s *Session) EndScrub(ctx context.Context, ms int64) (bool, error) {
	return s.control(ctx, func() bool { return s.ctrl.EndScrub(ms) })
}

// Subscribe attaches fn to the store. fn runs on the session's event loop
// and must not block.
func (s *Session) Subscribe(ctx context.Context, fn Handler) (Handle, error) {
	var h Handle
	err := s.call(ctx, func() { h = s.store.Subscribe(fn) })
	if err == nil {
		s.touch(s.now())
	}
	return h, err
}

// Unsubscribe detaches one subscription. It does not wait.
func (s *Session) Unsubscribe(h Handle) {
	s.loop.Post(func() {
		if !s.closed {
			s.store.Remove(h)
		}
	})
}

// Subscribers returns the number of store subscribers.
func (s *Session) Subscribers(ctx context.Context) (int, error) {
	var n int
	err := s.call(ctx, func() { n = s.store.Subscribers() })
	return n, err
}

// Close tears the session down: media listeners and element first, then the
// tick source, then store subscribers, then the event loop. Safe to call
// more than once.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.cancel()
		_ = s.loop.Call(context.Background(), func() {
			s.closed = true
			if a := s.ctrl.Detach(); a != nil {
				if err := a.Destroy(); err != nil {
					s.log.Warn().Err(err).Msg("media destroy failed")
				}
			}
			s.clock.Dispose()
			s.store.Unsubscribe()
		})
		s.loop.Close()
		close(s.done)
		s.log.Info().Msg("replay session closed")
	})
}

func (s *Session) control(ctx context.Context, fn func() bool) (bool, error) {
	var applied bool
	err := s.call(ctx, func() { applied = fn() })
	if err == nil {
		s.touch(s.now())
	}
	return applied, err
}

func (s *Session) call(ctx context.Context, fn func()) error {
	var closed bool
	err := s.loop.Call(ctx, func() {
		if s.closed {
			closed = true
			return
		}
		fn()
	})
	if errors.Is(err, eventloop.ErrClosed) || (err == nil && closed) {
		return ErrSessionClosed
	}
	return err
}
