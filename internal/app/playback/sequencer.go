package playback

import (
	"context"
	"math"
	"sync"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/tilawa/internal/app/resolver"
	"github.com/osa030/tilawa/internal/domain/verse"
)

// Errors
var (
	ErrNotStarted       = errors.New("playback not started")
	ErrAlreadyStarted   = errors.New("playback already started")
	ErrNoSession        = errors.New("no verses loaded")
	ErrEmptySession     = errors.New("session has no verses")
	ErrPlayPending      = errors.New("play request already pending")
	ErrNotPlaying       = errors.New("not playing")
	ErrNotPaused        = errors.New("not paused")
	ErrInvalidRate      = errors.New("playback rate must be positive")
	ErrPlaybackRejected = errors.New("playback rejected")
)

// Resolver resolves the audio reference for a verse.
type Resolver interface {
	Resolve(v verse.Verse, reciterID string, chapterID int) resolver.AudioReference
}

// Config holds sequencer configuration.
type Config struct {
	Rate        float64 // Initial playback rate
	EventBuffer int     // Event channel capacity
}

// Status is a read-only snapshot of the sequencer.
type Status struct {
	State         State
	Started       bool
	SessionID     string
	Selection     verse.Selection
	Index         int // -1 when no session is loaded
	Count         int
	Verse         *verse.Verse
	PerVerseAudio bool
	Rate          float64
	Pending       bool
	LastError     error
}

// Sequencer tracks the current verse, drives the output and reacts to its
// completion signals.
type Sequencer struct {
	mu sync.Mutex

	resolver Resolver
	output   Output

	// Session state
	session    *Session
	generation uint64
	index      int
	state      State
	started    bool
	rate       float64

	// Request tracking
	seq     uint64
	pending bool
	issued  Ticket // In-flight request
	active  Ticket // Request attached to the output
	lastErr error

	// Events
	eventCh chan Event
	closed  bool

	ctx    context.Context
	cancel context.CancelFunc
}

// NewSequencer creates a new sequencer.
func NewSequencer(config Config, res Resolver, output Output) *Sequencer {
	if config.Rate <= 0 {
		config.Rate = 1.0
	}
	if config.EventBuffer <= 0 {
		config.EventBuffer = 32
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Sequencer{
		resolver: res,
		output:   output,
		state:    StateIdle,
		rate:     config.Rate,
		eventCh:  make(chan Event, config.EventBuffer),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Events returns the event channel.
func (s *Sequencer) Events() <-chan Event {
	return s.eventCh
}

// Start fires the one-way unlock gate. Playback commands fail with
// ErrNotStarted until it has been called.
func (s *Sequencer) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return ErrAlreadyStarted
	}
	s.started = true
	zlog.Info().Msg("playback: unlocked")

	s.sendEventLocked(s.eventLocked(EventStarted, SourceCommand))
	if s.session != nil && s.state == StateIdle {
		s.setStateLocked(StateReady, SourceCommand)
	}
	return nil
}

// Load installs a new session. Any attached or starting audio is halted
// first and every outstanding ticket becomes stale.
func (s *Sequencer) Load(session *Session) error {
	if session == nil || session.Len() == 0 {
		return ErrEmptySession
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.attachedLocked() || s.pending {
		if err := s.output.Stop(); err != nil {
			zlog.Warn().Msgf("playback: failed to halt output before session swap: %v", err)
		}
	}

	s.generation++
	s.session = session
	s.index = 0
	s.active = Ticket{}
	s.issued = Ticket{}
	s.lastErr = nil

	sel := session.Selection()
	zlog.Info().Msgf("playback: session loaded: session_id=%s chapter=%d reciter=%s verses=%d per_verse_audio=%t",
		session.ID(), sel.ChapterID, sel.ReciterID, session.Len(), session.PerVerseAudio())

	s.sendEventLocked(s.eventLocked(EventSessionLoaded, SourceCommand))
	if s.started {
		s.setStateLocked(StateReady, SourceCommand)
	} else {
		s.setStateLocked(StateIdle, SourceCommand)
	}
	return nil
}

// Play resumes a paused verse in place, otherwise plays the current verse
// from its start. It reports whether it resumed.
func (s *Sequencer) Play(ctx context.Context) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkLocked(); err != nil {
		return false, err
	}
	if s.state == StatePaused && !s.pending {
		if err := s.output.Resume(); err != nil {
			s.failLocked(errors.Wrap(err, "failed to resume output"), SourceCommand)
			return true, s.lastErr
		}
		s.setStateLocked(StatePlaying, SourceCommand)
		return true, nil
	}
	s.recoverLocked()
	return false, s.playCurrentLocked(ctx, SourceCommand)
}

// PlayCurrent plays the current verse from its start.
func (s *Sequencer) PlayCurrent(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkLocked(); err != nil {
		return err
	}
	s.recoverLocked()
	return s.playCurrentLocked(ctx, SourceCommand)
}

// Pause pauses the playing verse in place.
func (s *Sequencer) Pause() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkLocked(); err != nil {
		return err
	}
	if s.pending {
		return ErrPlayPending
	}
	s.recoverLocked()
	if s.state != StatePlaying {
		return ErrNotPlaying
	}

	if err := s.output.Pause(); err != nil {
		return errors.Wrap(err, "failed to pause output")
	}
	s.setStateLocked(StatePaused, SourceCommand)
	return nil
}

// Resume continues a paused verse from where it stopped.
func (s *Sequencer) Resume() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkLocked(); err != nil {
		return err
	}
	if s.pending {
		return ErrPlayPending
	}
	s.recoverLocked()
	if s.state != StatePaused {
		return ErrNotPaused
	}

	if err := s.output.Resume(); err != nil {
		s.failLocked(errors.Wrap(err, "failed to resume output"), SourceCommand)
		return s.lastErr
	}
	s.setStateLocked(StatePlaying, SourceCommand)
	return nil
}

// Stop halts playback and rewinds the output. The current index is kept.
func (s *Sequencer) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkLocked(); err != nil {
		return err
	}

	if err := s.output.Stop(); err != nil {
		zlog.Warn().Msgf("playback: failed to stop output: %v", err)
	}
	s.active = Ticket{}
	s.issued = Ticket{}
	s.lastErr = nil
	s.setStateLocked(StateReady, SourceCommand)
	return nil
}

// Next moves to the next verse. It reports false when already at the last
// verse, which is not an error.
func (s *Sequencer) Next(ctx context.Context) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.moveLocked(ctx, s.index+1, false)
}

// Previous moves to the previous verse. It reports false when already at the
// first verse.
func (s *Sequencer) Previous(ctx context.Context) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.moveLocked(ctx, s.index-1, false)
}

// Seek moves to the verse at index and plays it. Out-of-range indexes are
// ignored.
func (s *Sequencer) Seek(ctx context.Context, index int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.moveLocked(ctx, index, true)
}

// SetRate stores the playback rate and applies it to attached audio.
func (s *Sequencer) SetRate(rate float64) error {
	if rate <= 0 || math.IsNaN(rate) || math.IsInf(rate, 0) {
		return ErrInvalidRate
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.rate = rate
	if s.attachedLocked() {
		if err := s.output.SetRate(rate); err != nil {
			zlog.Warn().Msgf("playback: failed to apply rate %.2f: %v", rate, err)
		}
	}

	e := s.eventLocked(EventRateChanged, SourceCommand)
	s.sendEventLocked(e)
	return nil
}

// Snapshot returns the current status.
func (s *Sequencer) Snapshot() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Status{
		State:     s.state,
		Started:   s.started,
		Index:     -1,
		Rate:      s.rate,
		Pending:   s.pending,
		LastError: s.lastErr,
	}
	if s.session != nil {
		st.SessionID = s.session.ID()
		st.Selection = s.session.Selection()
		st.Index = s.index
		st.Count = s.session.Len()
		st.PerVerseAudio = s.session.PerVerseAudio()
		if v, ok := s.session.Verse(s.index); ok {
			st.Verse = &v
		}
	}
	return st
}

// HandleCompletion reacts to the output finishing a reference naturally.
// Signals for tickets that are no longer active are discarded.
func (s *Sequencer) HandleCompletion(ctx context.Context, t Ticket) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.isActiveLocked(t) {
		zlog.Debug().Msgf("playback: discarding stale completion: generation=%d seq=%d index=%d",
			t.Generation, t.Seq, t.Index)
		return
	}

	s.active = Ticket{}
	s.sendEventLocked(s.eventLocked(EventVerseEnded, SourceSignal))

	if !s.session.PerVerseAudio() {
		// The fallback reference spanned the whole chapter.
		s.endChapterLocked(true)
		return
	}

	if s.index < s.session.Len()-1 {
		s.index++
		if err := s.playCurrentLocked(ctx, SourceSignal); err != nil {
			zlog.Warn().Msgf("playback: auto-advance to index %d failed: %v", s.index, err)
		}
		return
	}
	s.endChapterLocked(false)
}

// HandleFailure reacts to the output aborting an attached reference.
func (s *Sequencer) HandleFailure(t Ticket, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if t.IsZero() || t != s.active || !s.attachedLocked() {
		zlog.Debug().Msgf("playback: discarding stale failure: seq=%d error=%v", t.Seq, err)
		return
	}

	s.active = Ticket{}
	s.failLocked(errors.Wrap(err, "playback aborted"), SourceSignal)
}

// Run consumes output signals until ctx is cancelled or the sequencer closes.
func (s *Sequencer) Run(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			zlog.Error().Msgf("playback: signal loop panicked: %v", r)
			zlog.Info().Msg("playback: restarting signal loop")
			go s.Run(ctx)
		}
	}()

	signals := s.output.Signals()
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.ctx.Done():
			return
		case sig, ok := <-signals:
			if !ok {
				return
			}
			if sig.Err != nil {
				s.HandleFailure(sig.Ticket, sig.Err)
			} else {
				s.HandleCompletion(ctx, sig.Ticket)
			}
		}
	}
}

// Close stops the output and releases resources.
func (s *Sequencer) Close() {
	s.cancel()

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	if s.attachedLocked() {
		_ = s.output.Stop()
	}
	s.closed = true
	close(s.eventCh)
}

// checkLocked verifies the unlock gate and the session.
// Must be called with lock held.
func (s *Sequencer) checkLocked() error {
	if !s.started {
		return ErrNotStarted
	}
	if s.session == nil {
		return ErrNoSession
	}
	return nil
}

// recoverLocked moves an errored sequencer back to Ready.
// Must be called with lock held.
func (s *Sequencer) recoverLocked() {
	if s.state == StateErrored {
		s.lastErr = nil
		s.setStateLocked(StateReady, SourceCommand)
	}
}

// attachedLocked reports whether the output holds a started source.
// Must be called with lock held.
func (s *Sequencer) attachedLocked() bool {
	return !s.active.IsZero() && (s.state == StatePlaying || s.state == StatePaused)
}

// isActiveLocked reports whether t is the ticket currently playing.
// Must be called with lock held.
func (s *Sequencer) isActiveLocked(t Ticket) bool {
	return !t.IsZero() && t == s.active && s.state == StatePlaying
}

// moveLocked sets the current index and plays it when mid-playback or when
// play is set.
// Must be called with lock held.
func (s *Sequencer) moveLocked(ctx context.Context, target int, play bool) (bool, error) {
	if err := s.checkLocked(); err != nil {
		return false, err
	}
	if target < 0 || target >= s.session.Len() {
		return false, nil
	}
	if s.pending {
		return false, ErrPlayPending
	}
	s.recoverLocked()

	midPlayback := s.state == StatePlaying || s.state == StatePaused
	s.index = target
	s.sendEventLocked(s.eventLocked(EventIndexChanged, SourceCommand))

	if !midPlayback && !play {
		return true, nil
	}
	return true, s.playCurrentLocked(ctx, SourceCommand)
}

// playCurrentLocked issues a play request for the current verse.
// Must be called with lock held. The lock is released while the output
// starts, so the result is applied only if the request is still current.
func (s *Sequencer) playCurrentLocked(ctx context.Context, source Source) error {
	if s.pending {
		return ErrPlayPending
	}

	v, _ := s.session.Verse(s.index)
	sel := s.session.Selection()
	ref := s.resolver.Resolve(v, sel.ReciterID, sel.ChapterID)

	s.seq++
	ticket := Ticket{Generation: s.generation, Seq: s.seq, Index: s.index}
	s.issued = ticket
	s.active = Ticket{}
	s.pending = true
	req := Request{URL: ref.URL, Rate: s.rate, Ticket: ticket}

	zlog.Debug().Msgf("playback: play request: seq=%d index=%d scope=%s url=%s rate=%.2f",
		ticket.Seq, ticket.Index, ref.Scope, ref.URL, req.Rate)

	s.mu.Unlock()
	err := s.output.Play(ctx, req)
	s.mu.Lock()

	s.pending = false
	if s.issued != ticket {
		// Superseded by Stop or Load while the output was starting.
		if err == nil {
			if stopErr := s.output.Stop(); stopErr != nil {
				zlog.Warn().Msgf("playback: failed to halt superseded request: %v", stopErr)
			}
		}
		zlog.Debug().Msgf("playback: discarding superseded play result: seq=%d", ticket.Seq)
		return nil
	}
	s.issued = Ticket{}

	if err != nil {
		s.failLocked(errors.Wrapf(err, "failed to play verse %d", v.Ordinal), source)
		return s.lastErr
	}

	s.active = ticket
	s.lastErr = nil
	s.setStateLocked(StatePlaying, source)

	e := s.eventLocked(EventVerseStarted, source)
	e.Scope = ref.Scope
	s.sendEventLocked(e)
	zlog.Info().Msgf("playback: playing verse: index=%d ordinal=%d scope=%s", s.index, v.Ordinal, ref.Scope)
	return nil
}

// failLocked records a rejection and enters Errored.
// Must be called with lock held.
func (s *Sequencer) failLocked(err error, source Source) {
	s.lastErr = errors.Mark(err, ErrPlaybackRejected)
	zlog.Warn().Msgf("playback: %v", s.lastErr)

	s.setStateLocked(StateErrored, source)
	e := s.eventLocked(EventPlaybackFailed, source)
	e.Err = s.lastErr
	s.sendEventLocked(e)
}

// endChapterLocked enters Ended.
// Must be called with lock held.
func (s *Sequencer) endChapterLocked(fallback bool) {
	s.setStateLocked(StateEnded, SourceSignal)
	e := s.eventLocked(EventChapterEnded, SourceSignal)
	e.Fallback = fallback
	s.sendEventLocked(e)
	zlog.Info().Msgf("playback: chapter ended: index=%d fallback=%t", s.index, fallback)
}

// setStateLocked changes the state and emits EventStateChanged.
// Must be called with lock held.
func (s *Sequencer) setStateLocked(st State, source Source) {
	if s.state == st {
		return
	}
	zlog.Debug().Msgf("playback: state %s -> %s", s.state, st)
	s.state = st
	s.sendEventLocked(s.eventLocked(EventStateChanged, source))
}

// eventLocked builds an event populated from the current state.
// Must be called with lock held.
func (s *Sequencer) eventLocked(t EventType, source Source) Event {
	e := Event{
		Type:   t,
		Source: source,
		State:  s.state,
		Index:  -1,
		Rate:   s.rate,
	}
	if s.session != nil {
		e.SessionID = s.session.ID()
		e.Index = s.index
		if v, ok := s.session.Verse(s.index); ok {
			e.Verse = &v
		}
	}
	return e
}

// sendEventLocked sends an event without blocking.
// Must be called with lock held.
func (s *Sequencer) sendEventLocked(e Event) {
	if s.closed {
		return
	}
	select {
	case s.eventCh <- e:
	case <-s.ctx.Done():
	default:
		// Channel full, drop event
	}
}
