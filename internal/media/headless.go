package media

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
)

var (
	ErrDestroyed      = errors.New("media: element destroyed")
	ErrAlreadyBound   = errors.New("media: element already bound")
	ErrMissingElement = errors.New("media: element id is required")
	ErrUnknownLength  = errors.New("media: duration unknown")
)

// HeadlessOptions tune the simulated element.
type HeadlessOptions struct {
	// Duration of the media in seconds.
	Duration float64
	// LoadDelay is how long Init stays in the loading phase.
	LoadDelay time.Duration
	// SeekDelay is how long a seek keeps the element in the waiting phase.
	SeekDelay time.Duration
	Now       func() time.Time
}

// Headless models a media element without decoding anything: it loads after
// LoadDelay, plays against the wall clock, spends SeekDelay in the waiting
// phase on every seek and ends at Duration. It is safe for concurrent use.
// Callbacks are invoked with the element's lock held and must not call back
// into it.
type Headless struct {
	mu   sync.Mutex
	url  string
	cb   Callbacks
	opts HeadlessOptions

	elementID string
	phase     Phase
	loaded    bool
	destroyed bool
	wantPlay  bool
	seeking   bool

	position float64
	anchor   time.Time

	loadTimer *time.Timer
	seekTimer *time.Timer
	endTimer  *time.Timer
	seekSeq   uint64
	endSeq    uint64
}

// NewHeadless returns an element in the init phase.
func NewHeadless(mediaURL string, cb Callbacks, opts HeadlessOptions) *Headless {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Headless{
		url:   mediaURL,
		cb:    cb,
		opts:  opts,
		phase: PhaseInit,
	}
}

func (h *Headless) URL() string { return h.url }

func (h *Headless) Init(elementID string) error {
	if strings.TrimSpace(elementID) == "" {
		return ErrMissingElement
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.destroyed {
		return ErrDestroyed
	}
	if h.elementID != "" {
		return ErrAlreadyBound
	}
	h.elementID = elementID
	h.setPhase(PhaseLoading)
	h.loadTimer = time.AfterFunc(h.opts.LoadDelay, h.finishLoad)
	return nil
}

func (h *Headless) finishLoad() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.destroyed || h.loaded {
		return
	}
	h.loaded = true
	if h.cb.OnFirstScreenReady != nil {
		h.cb.OnFirstScreenReady()
	}
	if h.seeking {
		return
	}
	if h.wantPlay {
		h.startPlaying()
		return
	}
	h.setPhase(PhasePaused)
}

func (h *Headless) Destroy() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.destroyed {
		return nil
	}
	h.destroyed = true
	for _, t := range []*time.Timer{h.loadTimer, h.seekTimer, h.endTimer} {
		if t != nil {
			t.Stop()
		}
	}
	h.cb = Callbacks{}
	return nil
}

func (h *Headless) Play() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.destroyed {
		return
	}
	h.wantPlay = true
	if !h.loaded || h.seeking || h.phase == PhasePlaying {
		return
	}
	if h.position >= h.opts.Duration {
		h.position = 0
	}
	h.startPlaying()
}

func (h *Headless) Pause() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.destroyed {
		return
	}
	h.wantPlay = false
	if !h.loaded || h.seeking {
		return
	}
	if h.phase == PhasePlaying {
		h.position = h.currentLocked()
		h.cancelEnd()
		h.setPhase(PhasePaused)
	}
}

func (h *Headless) SeekTo(seconds float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.destroyed {
		return
	}
	h.position = h.clamp(seconds)
	h.anchor = h.opts.Now()
	if !h.loaded {
		return
	}
	h.cancelEnd()
	if h.seekTimer != nil {
		h.seekTimer.Stop()
	}
	h.seeking = true
	h.seekSeq++
	seq := h.seekSeq
	h.setPhase(PhaseWaiting)
	h.seekTimer = time.AfterFunc(h.opts.SeekDelay, func() { h.finishSeek(seq) })
}

func (h *Headless) finishSeek(seq uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.destroyed || seq != h.seekSeq {
		return
	}
	h.seeking = false
	if h.wantPlay {
		h.startPlaying()
		return
	}
	if h.position >= h.opts.Duration {
		h.setPhase(PhaseEnded)
		return
	}
	h.setPhase(PhasePaused)
}

// Duration reports zero until the element has loaded.
func (h *Headless) Duration() float64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.loaded {
		return 0
	}
	return h.opts.Duration
}

func (h *Headless) CurrentTime() float64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.currentLocked()
}

func (h *Headless) Phase() Phase {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.phase
}

func (h *Headless) currentLocked() float64 {
	if h.phase != PhasePlaying {
		return h.position
	}
	return h.clamp(h.position + h.opts.Now().Sub(h.anchor).Seconds())
}

func (h *Headless) startPlaying() {
	h.anchor = h.opts.Now()
	h.setPhase(PhasePlaying)
	h.cancelEnd()
	remaining := time.Duration((h.opts.Duration - h.position) * float64(time.Second))
	if remaining < 0 {
		remaining = 0
	}
	h.endSeq++
	seq := h.endSeq
	h.endTimer = time.AfterFunc(remaining, func() { h.finishPlayback(seq) })
}

func (h *Headless) finishPlayback(seq uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.destroyed || seq != h.endSeq || h.phase != PhasePlaying {
		return
	}
	h.position = h.opts.Duration
	h.wantPlay = false
	h.setPhase(PhaseEnded)
}

func (h *Headless) cancelEnd() {
	h.endSeq++
	if h.endTimer != nil {
		h.endTimer.Stop()
		h.endTimer = nil
	}
}

func (h *Headless) setPhase(p Phase) {
	if h.phase == p {
		return
	}
	h.phase = p
	if h.cb.OnPhaseChanged != nil {
		h.cb.OnPhaseChanged(p)
	}
}

func (h *Headless) clamp(s float64) float64 {
	if s < 0 {
		return 0
	}
	if s > h.opts.Duration {
		return h.opts.Duration
	}
	return s
}

// ProbeFunc returns the media length in seconds.
type ProbeFunc func(ctx context.Context, mediaURL string) (float64, error)

// HeadlessFactory builds Headless elements. probe may be nil; when it is nil
// or fails, opts.Duration is used as long as it is positive.
func HeadlessFactory(probe ProbeFunc, opts HeadlessOptions) Factory {
	return func(ctx context.Context, mediaURL string, cb Callbacks) (Adapter, error) {
		o := opts
		if probe != nil {
			seconds, err := probe(ctx, mediaURL)
			switch {
			case err == nil && seconds > 0:
				o.Duration = seconds
			case o.Duration <= 0 && err != nil:
				return nil, fmt.Errorf("media: probe %s: %w", mediaURL, err)
			}
		}
		if o.Duration <= 0 {
			return nil, ErrUnknownLength
		}
		return NewHeadless(mediaURL, cb, o), nil
	}
}
