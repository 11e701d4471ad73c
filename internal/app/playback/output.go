package playback

import "context"

// Ticket identifies one play request. Signals carrying a ticket that is no
// longer active are discarded.
type Ticket struct {
	Generation uint64 // Session generation the request belongs to
	Seq        uint64 // Request sequence number
	Index      int    // Verse index being played
}

// IsZero reports whether the ticket is unset.
func (t Ticket) IsZero() bool {
	return t.Seq == 0
}

// Request is a play request for the native output.
type Request struct {
	URL    string
	Rate   float64
	Ticket Ticket
}

// Signal is emitted by the output when a started request ends.
type Signal struct {
	Ticket Ticket
	Err    error // nil on natural completion
}

// Output is the native audio output.
type Output interface {
	// Play replaces the attached source with req.URL and starts it at req.Rate.
	// A non-nil error means the output refused to start.
	Play(ctx context.Context, req Request) error
	// Pause pauses the attached source in place.
	Pause() error
	// Resume continues a paused source.
	Resume() error
	// Stop halts the attached source and rewinds it to the start.
	Stop() error
	// SetRate changes the rate of the attached source without interrupting it.
	SetRate(rate float64) error
	// Signals delivers completion and failure signals for started requests.
	Signals() <-chan Signal
}
