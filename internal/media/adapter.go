// Package media defines the contract between the replay core and a media
// element, and ships a headless element used for server-side sessions.
package media

import "context"

// Phase is the media element's readiness/activity classification.
type Phase string

const (
	PhaseInit    Phase = "init"
	PhaseLoading Phase = "loading"
	PhasePlaying Phase = "playing"
	PhasePaused  Phase = "paused"
	PhaseWaiting Phase = "waiting"
	PhaseEnded   Phase = "ended"
)

// Idle reports whether the phase offers the play button: paused, ended or
// waiting.
func (p Phase) Idle() bool {
	switch p {
	case PhasePaused, PhaseEnded, PhaseWaiting:
		return true
	}
	return false
}

// Loading reports whether the element is not ready yet.
func (p Phase) Loading() bool {
	return p == PhaseInit || p == PhaseLoading
}

// Adapter wraps a concrete media element. Commands are asynchronous: Play,
// Pause and SeekTo may take effect later, and the adapter alone knows the
// actual phase. Times are in seconds.
type Adapter interface {
	// Init binds the element identified by elementID and starts loading.
	Init(elementID string) error
	// Destroy releases the element. No callbacks fire afterwards.
	Destroy() error

	Play()
	Pause()
	SeekTo(seconds float64)
	Duration() float64
	CurrentTime() float64
	Phase() Phase
}

// Callbacks are invoked from the adapter's own goroutines.
type Callbacks struct {
	OnPhaseChanged     func(Phase)
	OnFirstScreenReady func()
}

// Factory constructs an adapter for mediaURL. It may block while the media
// is probed.
type Factory func(ctx context.Context, mediaURL string, cb Callbacks) (Adapter, error)

// Event is what the replay controller consumes from an adapter. The set of
// implementations is closed: PhaseChanged and FirstScreenReady.
type Event interface {
	mediaEvent()
}

type PhaseChanged struct {
	Phase Phase
}

type FirstScreenReady struct{}

func (PhaseChanged) mediaEvent()     {}
func (FirstScreenReady) mediaEvent() {}

// Forward builds Callbacks that convert adapter notifications into Events
// and hand them to fn.
func Forward(fn func(Event)) Callbacks {
	return Callbacks{
		OnPhaseChanged: func(p Phase) {
			fn(PhaseChanged{Phase: p})
		},
		OnFirstScreenReady: func() {
			fn(FirstScreenReady{})
		},
	}
}
