package playback

import (
	"github.com/osa030/tilawa/internal/app/resolver"
	"github.com/osa030/tilawa/internal/domain/verse"
)

// EventType represents a sequencer event type.
type EventType int

const (
	EventStarted        EventType = iota // Unlock gate fired
	EventSessionLoaded                   // New session installed
	EventStateChanged                    // State transition
	EventIndexChanged                    // Current verse moved without playing
	EventVerseStarted                    // Play request accepted by the output
	EventVerseEnded                      // Output finished the current reference
	EventChapterEnded                    // No further auto-advance
	EventPlaybackFailed                  // Output rejected or aborted playback
	EventRateChanged                     // Playback rate updated
)

// String returns the string representation of the event type.
func (e EventType) String() string {
	switch e {
	case EventStarted:
		return "started"
	case EventSessionLoaded:
		return "session_loaded"
	case EventStateChanged:
		return "state_changed"
	case EventIndexChanged:
		return "index_changed"
	case EventVerseStarted:
		return "verse_started"
	case EventVerseEnded:
		return "verse_ended"
	case EventChapterEnded:
		return "chapter_ended"
	case EventPlaybackFailed:
		return "playback_failed"
	case EventRateChanged:
		return "rate_changed"
	default:
		return "unknown"
	}
}

// Source tells what caused an event.
type Source int

const (
	SourceCommand Source = iota // A caller invoked a sequencer method
	SourceSignal                // The output reported completion or failure
)

// Event represents a sequencer event.
type Event struct {
	Type      EventType
	Source    Source
	State     State
	SessionID string
	Index     int
	Verse     *verse.Verse   // Current verse (nil when no session)
	Scope     resolver.Scope // Scope of the started reference
	Fallback  bool           // Chapter ended after whole-chapter audio
	Rate      float64
	Err       error
}
