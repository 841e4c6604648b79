package replay

import (
	"fmt"

	"github.com/treefix50/classreplay/internal/media"
)

// Cover is what a renderer draws over the player.
type Cover string

const (
	// CoverLoading shows a loading indicator instead of transport controls.
	CoverLoading Cover = "loading"
	// CoverPlay shows the play button.
	CoverPlay Cover = "play"
	// CoverNone leaves the player uncovered.
	CoverNone Cover = "none"
)

// Snapshot is the full replay state handed to subscribers. It is a value:
// every update produces a new one.
type Snapshot struct {
	Phase            media.Phase `json:"phase"`
	CurrentTime      int64       `json:"currentTime"`
	Progress         int64       `json:"progress"`
	IsPlaying        bool        `json:"isPlaying"`
	Duration         int64       `json:"duration"`
	FirstScreenReady bool        `json:"isFirstScreenReady"`
	Cover            Cover       `json:"cover"`
	SeenEntries      int         `json:"seenEntries"`
}

// DefaultSnapshot is the state of a freshly initialized store.
func DefaultSnapshot() Snapshot {
	return Snapshot{
		Phase: media.PhaseInit,
		Cover: CoverLoading,
	}
}

// coverFor mirrors the player cover: loading while the media is not ready,
// nothing while playing, the play button when the media is idle.
func coverFor(attached, playing bool, phase media.Phase) Cover {
	switch {
	case !attached || phase.Loading():
		return CoverLoading
	case playing:
		return CoverNone
	case phase.Idle():
		return CoverPlay
	default:
		return CoverNone
	}
}

// FormatClock renders milliseconds as mm:ss. Minutes keep counting past 59.
func FormatClock(ms int64) string {
	if ms < 0 {
		ms = 0
	}
	total := ms / 1000
	return fmt.Sprintf("%02d:%02d", total/60, total%60)
}
