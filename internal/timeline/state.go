package timeline

// State is the lifecycle state of a Clock. The intended transitions:
//
// idle    -> started
// started -> paused | ended
// paused  -> started | ended
// ended   -> started (only after SeekTo moved elapsed below the duration)
//
// Only the Clock's own operations move between states.
type State string

const (
	StateIdle    State = "idle"
	StateStarted State = "started"
	StatePaused  State = "paused"
	StateEnded   State = "ended"
)

// Progress is the payload handed to the tick callback.
type Progress struct {
	// Elapsed is the position on the timeline in milliseconds.
	Elapsed int64 `json:"elapsed"`
	// Progress is the scrub position in milliseconds; it tracks Elapsed.
	Progress int64 `json:"progress"`
	// Duration is the total timeline length in milliseconds.
	Duration int64 `json:"duration"`
}

// Event is emitted to listeners registered with Subscribe. The set of
// implementations is closed: SeekChanged and StateChanged.
type Event interface {
	timelineEvent()
}

// SeekChanged is emitted synchronously by SeekTo with the clamped position.
type SeekChanged struct {
	Elapsed int64
}

// StateChanged is emitted on every state transition.
type StateChanged struct {
	State State
}

func (SeekChanged) timelineEvent()  {}
func (StateChanged) timelineEvent() {}
