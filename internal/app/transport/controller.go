// Package transport provides the command surface of the player. Every command
// returns a Result instead of failing, and publishes a status notification.
package transport

import (
	"context"
	"strings"
	"sync"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/tilawa/internal/app/notification"
	"github.com/osa030/tilawa/internal/app/playback"
	"github.com/osa030/tilawa/internal/app/resolver"
	"github.com/osa030/tilawa/internal/app/verses"
	"github.com/osa030/tilawa/internal/domain/verse"
	"github.com/osa030/tilawa/internal/infra/config"
)

// Result codes.
const (
	CodeOK                  = "ok"
	CodeNotStarted          = "not_started"
	CodeAlreadyStarted      = "already_started"
	CodeNoSession           = "no_session"
	CodePlayPending         = "play_pending"
	CodeNotPlaying          = "not_playing"
	CodeInvalidRate         = "invalid_rate"
	CodeInvalidChapter      = "invalid_chapter"
	CodeUnknownReciter      = "unknown_reciter"
	CodeFetchFailed         = "fetch_failed"
	CodePlaybackRejected    = "playback_rejected"
	CodeAtBoundary          = "at_boundary"
	CodeAmbienceUnavailable = "ambience_unavailable"
	CodeSuperseded          = "superseded"
	CodeInternal            = "internal"
)

// Result is the outcome of a command.
type Result struct {
	OK      bool
	Code    string
	Message string
}

// VerseStore fetches and holds sessions.
type VerseStore interface {
	Fetch(ctx context.Context, sel verse.Selection) (*playback.Session, error)
	Commit(session *playback.Session)
	Chapters(ctx context.Context) ([]verse.Chapter, error)
}

// Ambience is the background loop.
type Ambience interface {
	Toggle() (bool, error)
	Enabled() bool
}

// Notifier publishes status notifications.
type Notifier interface {
	Broadcast(n *notification.Notification)
}

// Status is the player status shown by the UI.
type Status struct {
	playback.Status
	Requested verse.Selection // Latest selection, possibly still loading
	Loading   bool
	Ambience  bool
}

// Controller dispatches UI commands to the sequencer.
type Controller struct {
	cfg      *config.Config
	seq      *playback.Sequencer
	store    VerseStore
	ambience Ambience
	notifier Notifier

	mu         sync.Mutex
	requested  verse.Selection
	committed  verse.Selection
	fetchToken uint64
	loading    bool
}

// NewController creates a new controller. ambience may be nil.
func NewController(cfg *config.Config, seq *playback.Sequencer, store VerseStore, ambience Ambience, notifier Notifier) *Controller {
	sel := verse.Selection{
		ChapterID: cfg.Content.DefaultChapter,
		ReciterID: cfg.Content.DefaultReciter,
	}
	return &Controller{
		cfg:       cfg,
		seq:       seq,
		store:     store,
		ambience:  ambience,
		notifier:  notifier,
		requested: sel,
		committed: sel,
	}
}

// Init loads the default chapter and warms the chapter list.
func (c *Controller) Init(ctx context.Context) Result {
	if _, err := c.store.Chapters(ctx); err != nil {
		zlog.Warn().Msgf("transport: chapter list unavailable: %v", err)
	}
	c.mu.Lock()
	sel := c.requested
	c.mu.Unlock()
	return c.selectSession(ctx, sel)
}

// Start fires the unlock gate.
func (c *Controller) Start() Result {
	if err := c.seq.Start(); err != nil {
		return c.fail("start", err)
	}
	return c.succeed(c.cfg.FormatMessage(CodeOK))
}

// Play plays the current verse, or resumes it when paused.
func (c *Controller) Play(ctx context.Context) Result {
	if _, err := c.seq.Play(ctx); err != nil {
		return c.fail("play", err)
	}
	st := c.seq.Snapshot()
	return c.succeed(c.playingMessage(scopeOf(st), ordinal(st)))
}

// Pause pauses the playing verse.
func (c *Controller) Pause() Result {
	if err := c.seq.Pause(); err != nil {
		return c.fail("pause", err)
	}
	return c.succeed(c.cfg.FormatMessage("paused", ordinal(c.seq.Snapshot())))
}

// Stop halts playback and rewinds.
func (c *Controller) Stop() Result {
	if err := c.seq.Stop(); err != nil {
		return c.fail("stop", err)
	}
	return c.succeed(c.cfg.FormatMessage("stopped"))
}

// Next moves to the next verse.
func (c *Controller) Next(ctx context.Context) Result {
	moved, err := c.seq.Next(ctx)
	return c.moved("next", moved, err)
}

// Previous moves to the previous verse.
func (c *Controller) Previous(ctx context.Context) Result {
	moved, err := c.seq.Previous(ctx)
	return c.moved("previous", moved, err)
}

// Seek plays the verse at the 0-based index.
func (c *Controller) Seek(ctx context.Context, index int) Result {
	moved, err := c.seq.Seek(ctx, index)
	return c.moved("seek", moved, err)
}

// SetRate changes the playback rate.
func (c *Controller) SetRate(rate float64) Result {
	if err := c.seq.SetRate(rate); err != nil {
		return c.fail("set_rate", err)
	}
	return c.succeed(c.cfg.FormatMessage("rate_changed", rate))
}

// SelectChapter loads chapter n for the current reciter.
func (c *Controller) SelectChapter(ctx context.Context, n int) Result {
	if !verse.ValidChapter(n) {
		return c.reject(CodeInvalidChapter)
	}
	c.mu.Lock()
	sel := verse.Selection{ChapterID: n, ReciterID: c.requested.ReciterID}
	c.mu.Unlock()
	return c.selectSession(ctx, sel)
}

// SelectReciter reloads the current chapter for reciterID.
func (c *Controller) SelectReciter(ctx context.Context, reciterID string) Result {
	reciterID = strings.TrimSpace(reciterID)
	if !c.cfg.IsKnownReciter(reciterID) {
		return c.reject(CodeUnknownReciter)
	}
	c.mu.Lock()
	sel := verse.Selection{ChapterID: c.requested.ChapterID, ReciterID: reciterID}
	c.mu.Unlock()
	return c.selectSession(ctx, sel)
}

// ToggleAmbience switches the background loop. It requires Start.
func (c *Controller) ToggleAmbience() Result {
	if !c.seq.Snapshot().Started {
		return c.reject(CodeNotStarted)
	}
	if c.ambience == nil {
		return c.reject(CodeAmbienceUnavailable)
	}
	on, err := c.ambience.Toggle()
	if err != nil {
		zlog.Warn().Msgf("transport: ambience toggle failed: %v", err)
		return c.reject(CodeAmbienceUnavailable)
	}
	if on {
		return c.succeed(c.cfg.FormatMessage("ambience_on"))
	}
	return c.succeed(c.cfg.FormatMessage("ambience_off"))
}

// Status returns the current status.
func (c *Controller) Status() Status {
	c.mu.Lock()
	st := Status{
		Status:    c.seq.Snapshot(),
		Requested: c.requested,
		Loading:   c.loading,
	}
	c.mu.Unlock()
	if c.ambience != nil {
		st.Ambience = c.ambience.Enabled()
	}
	return st
}

// Chapters returns the chapter metadata list.
func (c *Controller) Chapters(ctx context.Context) ([]verse.Chapter, Result) {
	chapters, err := c.store.Chapters(ctx)
	if err != nil {
		zlog.Warn().Msgf("transport: chapters: %v", err)
		return nil, Result{OK: false, Code: CodeFetchFailed, Message: c.cfg.GetMessage(CodeFetchFailed)}
	}
	return chapters, Result{OK: true, Code: CodeOK, Message: c.cfg.GetMessage(CodeOK)}
}

// selectSession fetches sel and installs it unless a newer selection was
// made while fetching. A failed fetch keeps the current session.
func (c *Controller) selectSession(ctx context.Context, sel verse.Selection) Result {
	c.mu.Lock()
	c.fetchToken++
	token := c.fetchToken
	c.requested = sel
	c.loading = true
	c.mu.Unlock()

	c.publish("loading", c.cfg.FormatMessage("loading", sel.ChapterID, sel.ReciterID))

	session, err := c.store.Fetch(ctx, sel)

	c.mu.Lock()
	if token != c.fetchToken {
		c.mu.Unlock()
		zlog.Debug().Msgf("transport: discarding superseded fetch: chapter=%d reciter=%s", sel.ChapterID, sel.ReciterID)
		return Result{OK: false, Code: CodeSuperseded, Message: c.cfg.GetMessage(CodeSuperseded)}
	}
	c.loading = false
	if err != nil {
		c.requested = c.committed
		c.mu.Unlock()
		return c.fail("select", err)
	}
	c.store.Commit(session)
	if err := c.seq.Load(session); err != nil {
		c.requested = c.committed
		c.mu.Unlock()
		return c.fail("select", err)
	}
	c.committed = sel
	c.mu.Unlock()

	code := "loaded_fallback"
	if session.PerVerseAudio() {
		code = "loaded_per_verse"
	}
	return c.succeed(c.cfg.FormatMessage(code, sel.ChapterID, session.Len()))
}

// Run turns output-driven sequencer events into notifications until ctx is
// cancelled or the event channel closes. Command results are published by
// the commands themselves.
func (c *Controller) Run(ctx context.Context) {
	events := c.seq.Events()
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			if e.Source != playback.SourceSignal {
				continue
			}
			c.handleEvent(e)
		}
	}
}

func (c *Controller) handleEvent(e playback.Event) {
	switch e.Type {
	case playback.EventVerseStarted:
		ord := 0
		if e.Verse != nil {
			ord = e.Verse.Ordinal
		}
		c.publish(e.Type.String(), c.playingMessage(e.Scope, ord))
	case playback.EventChapterEnded:
		if e.Fallback {
			c.publish(e.Type.String(), c.cfg.FormatMessage("fallback_ended"))
		} else {
			c.publish(e.Type.String(), c.cfg.FormatMessage("chapter_ended"))
		}
	case playback.EventPlaybackFailed:
		cause := ""
		if e.Err != nil {
			cause = e.Err.Error()
		}
		c.publish(e.Type.String(), c.cfg.FormatMessage("playback_failed", cause))
	}
}

func (c *Controller) moved(op string, moved bool, err error) Result {
	if err != nil {
		return c.fail(op, err)
	}
	if !moved {
		// Clamped at the sequence bounds; not an error.
		r := Result{OK: true, Code: CodeAtBoundary, Message: c.cfg.GetMessage(CodeAtBoundary)}
		c.publish(r.Code, r.Message)
		return r
	}
	st := c.seq.Snapshot()
	if st.State == playback.StatePlaying {
		return c.succeed(c.playingMessage(scopeOf(st), ordinal(st)))
	}
	return c.succeed(c.cfg.FormatMessage("selected", ordinal(st)))
}

func (c *Controller) playingMessage(scope resolver.Scope, ord int) string {
	if scope == resolver.ScopeChapter {
		return c.cfg.FormatMessage("fallback_started")
	}
	return c.cfg.FormatMessage("verse_started", ord)
}

func (c *Controller) succeed(msg string) Result {
	r := Result{OK: true, Code: CodeOK, Message: msg}
	c.publish(r.Code, r.Message)
	return r
}

func (c *Controller) reject(code string) Result {
	r := Result{OK: false, Code: code, Message: c.cfg.GetMessage(code)}
	c.publish(r.Code, r.Message)
	return r
}

func (c *Controller) fail(op string, err error) Result {
	code := codeFor(err)
	msg := c.cfg.GetMessage(code)
	if code == CodePlaybackRejected || code == CodeInternal {
		msg = msg + ": " + errors.UnwrapAll(err).Error()
	}
	zlog.Info().Msgf("transport: %s rejected: code=%s error=%v", op, code, err)
	r := Result{OK: false, Code: code, Message: msg}
	c.publish(r.Code, r.Message)
	return r
}

// publish broadcasts a notification carrying the current status.
func (c *Controller) publish(code, msg string) {
	if c.notifier == nil {
		return
	}
	st := c.Status()
	n := &notification.Notification{
		Code:          code,
		Message:       msg,
		State:         st.State.String(),
		Started:       st.Started,
		ChapterID:     st.Requested.ChapterID,
		ReciterID:     st.Requested.ReciterID,
		Index:         st.Index,
		Count:         st.Count,
		PerVerseAudio: st.PerVerseAudio,
		Rate:          st.Rate,
		Ambience:      st.Ambience,
	}
	if st.Verse != nil {
		n.Ordinal = st.Verse.Ordinal
		n.Text = st.Verse.Text
		n.Translation = st.Verse.Translation
	}
	c.notifier.Broadcast(n)
}

// codeFor maps an error onto a result code.
func codeFor(err error) string {
	switch {
	case errors.Is(err, playback.ErrNotStarted):
		return CodeNotStarted
	case errors.Is(err, playback.ErrAlreadyStarted):
		return CodeAlreadyStarted
	case errors.Is(err, playback.ErrNoSession), errors.Is(err, playback.ErrEmptySession):
		return CodeNoSession
	case errors.Is(err, playback.ErrPlayPending):
		return CodePlayPending
	case errors.Is(err, playback.ErrNotPlaying), errors.Is(err, playback.ErrNotPaused):
		return CodeNotPlaying
	case errors.Is(err, playback.ErrInvalidRate):
		return CodeInvalidRate
	case errors.Is(err, playback.ErrPlaybackRejected):
		return CodePlaybackRejected
	case errors.Is(err, verses.ErrFetchFailed):
		return CodeFetchFailed
	default:
		return CodeInternal
	}
}

// ordinal returns the display ordinal of the current verse, or 0.
func ordinal(st playback.Status) int {
	if st.Verse == nil {
		return 0
	}
	return st.Verse.Ordinal
}

// scopeOf reports the scope the current session plays with.
func scopeOf(st playback.Status) resolver.Scope {
	if st.PerVerseAudio {
		return resolver.ScopeVerse
	}
	return resolver.ScopeChapter
}
