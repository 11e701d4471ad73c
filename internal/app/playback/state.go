// Package playback provides the verse playback sequencer.
package playback

// State represents the sequencer state.
type State int

const (
	StateIdle    State = iota // No session loaded or playback not started
	StateReady                // Session loaded and started, nothing playing
	StatePlaying              // A verse (or fallback chapter) is playing
	StatePaused               // Playback paused in place
	StateEnded                // Chapter finished, no further auto-advance
	StateErrored              // Last play request failed; recovers on next command
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateReady:
		return "ready"
	case StatePlaying:
		return "playing"
	case StatePaused:
		return "paused"
	case StateEnded:
		return "ended"
	case StateErrored:
		return "errored"
	default:
		return "unknown"
	}
}
