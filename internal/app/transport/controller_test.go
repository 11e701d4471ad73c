package transport

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/creasty/defaults"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osa030/tilawa/internal/app/notification"
	"github.com/osa030/tilawa/internal/app/playback"
	"github.com/osa030/tilawa/internal/app/resolver"
	"github.com/osa030/tilawa/internal/app/verses"
	"github.com/osa030/tilawa/internal/domain/verse"
	"github.com/osa030/tilawa/internal/infra/config"
)

type fakeOutput struct {
	mu      sync.Mutex
	plays   []playback.Request
	playErr error
	signals chan playback.Signal
}

func (f *fakeOutput) Play(ctx context.Context, req playback.Request) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.plays = append(f.plays, req)
	return f.playErr
}
func (f *fakeOutput) Pause() error                     { return nil }
func (f *fakeOutput) Resume() error                    { return nil }
func (f *fakeOutput) Stop() error                      { return nil }
func (f *fakeOutput) SetRate(rate float64) error       { return nil }
func (f *fakeOutput) Signals() <-chan playback.Signal { return f.signals }

func (f *fakeOutput) lastPlay() playback.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.plays[len(f.plays)-1]
}

// fakeStore serves sessions built from a fixed verse count per chapter.
// A chapter listed in gates blocks its fetch until the gate is closed.
type fakeStore struct {
	mu        sync.Mutex
	withAudio bool
	fail      map[int]bool
	gates     map[int]chan struct{}
	committed *playback.Session
}

func (f *fakeStore) Fetch(ctx context.Context, sel verse.Selection) (*playback.Session, error) {
	f.mu.Lock()
	gate := f.gates[sel.ChapterID]
	fail := f.fail[sel.ChapterID]
	withAudio := f.withAudio
	f.mu.Unlock()

	if gate != nil {
		<-gate
	}
	if fail {
		return nil, errors.Mark(errors.New("provider offline"), verses.ErrFetchFailed)
	}
	list := make([]verse.Verse, 3)
	for i := range list {
		list[i] = verse.Verse{Ordinal: i + 1, Text: "ayah"}
		if withAudio {
			list[i].AudioSource = "https://cdn.example.org/" + sel.ReciterID + ".mp3"
		}
	}
	return playback.NewSession(sel, list)
}

func (f *fakeStore) Commit(session *playback.Session) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.committed = session
}

func (f *fakeStore) Chapters(ctx context.Context) ([]verse.Chapter, error) {
	return []verse.Chapter{{Number: 1, EnglishName: "Al-Faatiha", AyahCount: 7}}, nil
}

type fakeAmbience struct {
	on  bool
	err error
}

func (f *fakeAmbience) Toggle() (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	f.on = !f.on
	return f.on, nil
}
func (f *fakeAmbience) Enabled() bool { return f.on }

type recordingNotifier struct {
	mu  sync.Mutex
	got []*notification.Notification
}

func (r *recordingNotifier) Broadcast(n *notification.Notification) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, n)
}

func (r *recordingNotifier) codes() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	codes := make([]string, 0, len(r.got))
	for _, n := range r.got {
		codes = append(codes, n.Code)
	}
	return codes
}

type fixture struct {
	ctrl     *Controller
	seq      *playback.Sequencer
	output   *fakeOutput
	store    *fakeStore
	ambience *fakeAmbience
	notifier *recordingNotifier
}

func newFixture(t *testing.T, withAudio bool) *fixture {
	t.Helper()
	cfg := &config.Config{}
	require.NoError(t, defaults.Set(cfg))
	cfg.Content.Reciters = []string{"ar.alafasy", "ar.husary"}

	output := &fakeOutput{signals: make(chan playback.Signal, 8)}
	seq := playback.NewSequencer(playback.Config{Rate: 1}, resolver.New(resolver.Config{}), output)
	t.Cleanup(seq.Close)

	f := &fixture{
		seq:      seq,
		output:   output,
		store:    &fakeStore{withAudio: withAudio, fail: map[int]bool{}, gates: map[int]chan struct{}{}},
		ambience: &fakeAmbience{},
		notifier: &recordingNotifier{},
	}
	f.ctrl = NewController(cfg, seq, f.store, f.ambience, f.notifier)
	return f
}

func TestController_CommandsBeforeStart(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()

	r := f.ctrl.Init(ctx)
	require.True(t, r.OK, r.Message)
	assert.Equal(t, "Chapter 1 ready: 3 verses with per-verse audio", r.Message)

	tests := []struct {
		name string
		run  func() Result
	}{
		{"play", func() Result { return f.ctrl.Play(ctx) }},
		{"pause", f.ctrl.Pause},
		{"stop", f.ctrl.Stop},
		{"next", func() Result { return f.ctrl.Next(ctx) }},
		{"previous", func() Result { return f.ctrl.Previous(ctx) }},
		{"seek", func() Result { return f.ctrl.Seek(ctx, 1) }},
		{"ambience", f.ctrl.ToggleAmbience},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := tt.run()
			assert.False(t, r.OK)
			assert.Equal(t, CodeNotStarted, r.Code)
			assert.Equal(t, "Press START first", r.Message)
		})
	}
	assert.Empty(t, f.output.plays)
	assert.Equal(t, 0, f.ctrl.Status().Index)
}

func TestController_PlaybackFlow(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()

	require.True(t, f.ctrl.Init(ctx).OK)
	require.True(t, f.ctrl.Start().OK)

	r := f.ctrl.Start()
	assert.Equal(t, CodeAlreadyStarted, r.Code)

	r = f.ctrl.Play(ctx)
	require.True(t, r.OK, r.Message)
	assert.Equal(t, "Playing verse 1", r.Message)
	assert.Equal(t, playback.StatePlaying, f.ctrl.Status().State)

	r = f.ctrl.Pause()
	require.True(t, r.OK)
	assert.Equal(t, "Paused at verse 1", r.Message)

	// Play while paused resumes in place.
	r = f.ctrl.Play(ctx)
	require.True(t, r.OK)
	assert.Len(t, f.output.plays, 1)

	r = f.ctrl.Next(ctx)
	require.True(t, r.OK)
	assert.Equal(t, "Playing verse 2", r.Message)
	assert.Equal(t, 1, f.output.lastPlay().Ticket.Index)

	r = f.ctrl.SetRate(1.5)
	require.True(t, r.OK)
	assert.Equal(t, "Playback rate 1.50x", r.Message)

	r = f.ctrl.SetRate(0)
	assert.Equal(t, CodeInvalidRate, r.Code)

	r = f.ctrl.Stop()
	require.True(t, r.OK)
	assert.Equal(t, playback.StateReady, f.ctrl.Status().State)
	assert.Equal(t, 1, f.ctrl.Status().Index)
}

func TestController_Boundaries(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	require.True(t, f.ctrl.Init(ctx).OK)
	require.True(t, f.ctrl.Start().OK)

	r := f.ctrl.Previous(ctx)
	assert.True(t, r.OK)
	assert.Equal(t, CodeAtBoundary, r.Code)

	r = f.ctrl.Next(ctx)
	assert.True(t, r.OK)
	assert.Equal(t, "Verse 2 selected", r.Message)
	assert.Empty(t, f.output.plays, "moving while ready does not play")

	r = f.ctrl.Seek(ctx, 2)
	assert.True(t, r.OK)
	assert.Equal(t, "Playing verse 3", r.Message)
	require.Len(t, f.output.plays, 1)
	assert.Equal(t, 2, f.output.lastPlay().Ticket.Index)

	r = f.ctrl.Next(ctx)
	assert.Equal(t, CodeAtBoundary, r.Code)

	r = f.ctrl.Seek(ctx, 99)
	assert.Equal(t, CodeAtBoundary, r.Code)
	assert.Equal(t, 2, f.ctrl.Status().Index)
}

func TestController_NoSession(t *testing.T) {
	f := newFixture(t, true)
	require.True(t, f.ctrl.Start().OK)

	r := f.ctrl.Play(context.Background())
	assert.False(t, r.OK)
	assert.Equal(t, CodeNoSession, r.Code)

	r = f.ctrl.Next(context.Background())
	assert.Equal(t, CodeNoSession, r.Code)
}

func TestController_FallbackMode(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()

	r := f.ctrl.Init(ctx)
	require.True(t, r.OK)
	assert.Equal(t, "Chapter 1 ready: 3 verses, whole-chapter audio only", r.Message)

	require.True(t, f.ctrl.Start().OK)
	r = f.ctrl.Play(ctx)
	require.True(t, r.OK)
	assert.Equal(t, "Playing the whole chapter", r.Message)
	assert.Equal(t, "https://cdn.islamic.network/quran/audio-surah/128/alafasy/1.mp3", f.output.lastPlay().URL)
}

func TestController_Selection(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	require.True(t, f.ctrl.Init(ctx).OK)

	r := f.ctrl.SelectChapter(ctx, 0)
	assert.Equal(t, CodeInvalidChapter, r.Code)
	r = f.ctrl.SelectChapter(ctx, 115)
	assert.Equal(t, CodeInvalidChapter, r.Code)

	r = f.ctrl.SelectReciter(ctx, "ar.unknown")
	assert.Equal(t, CodeUnknownReciter, r.Code)

	r = f.ctrl.SelectChapter(ctx, 36)
	require.True(t, r.OK)
	r = f.ctrl.SelectReciter(ctx, "ar.husary")
	require.True(t, r.OK)

	st := f.ctrl.Status()
	assert.Equal(t, verse.Selection{ChapterID: 36, ReciterID: "ar.husary"}, st.Selection)
	assert.Equal(t, st.Selection, st.Requested)
	assert.Equal(t, st.SessionID, f.store.committed.ID())
}

func TestController_FetchFailureKeepsSession(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	require.True(t, f.ctrl.Init(ctx).OK)
	before := f.ctrl.Status()

	f.store.fail[2] = true
	r := f.ctrl.SelectChapter(ctx, 2)
	assert.False(t, r.OK)
	assert.Equal(t, CodeFetchFailed, r.Code)

	after := f.ctrl.Status()
	assert.Equal(t, before.SessionID, after.SessionID)
	assert.Equal(t, 1, after.Requested.ChapterID)
	assert.False(t, after.Loading)
}

func TestController_SupersededFetchDiscarded(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()

	gate := make(chan struct{})
	f.store.gates[2] = gate

	slow := make(chan Result, 1)
	go func() { slow <- f.ctrl.SelectChapter(ctx, 2) }()

	require.Eventually(t, func() bool {
		return f.ctrl.Status().Requested.ChapterID == 2
	}, time.Second, 5*time.Millisecond)

	r := f.ctrl.SelectChapter(ctx, 3)
	require.True(t, r.OK)

	close(gate)
	r = <-slow
	assert.False(t, r.OK)
	assert.Equal(t, CodeSuperseded, r.Code)

	st := f.ctrl.Status()
	assert.Equal(t, 3, st.Selection.ChapterID)
	assert.Equal(t, 3, st.Requested.ChapterID)
}

func TestController_PlaybackRejected(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	require.True(t, f.ctrl.Init(ctx).OK)
	require.True(t, f.ctrl.Start().OK)

	f.output.playErr = errors.New("audio source returned http 404")
	r := f.ctrl.Play(ctx)
	assert.False(t, r.OK)
	assert.Equal(t, CodePlaybackRejected, r.Code)
	assert.Contains(t, r.Message, "http 404")
	assert.Equal(t, playback.StateErrored, f.ctrl.Status().State)

	// The next command recovers.
	f.output.playErr = nil
	r = f.ctrl.Play(ctx)
	assert.True(t, r.OK)
}

func TestController_Ambience(t *testing.T) {
	f := newFixture(t, true)
	require.True(t, f.ctrl.Start().OK)

	r := f.ctrl.ToggleAmbience()
	require.True(t, r.OK)
	assert.Equal(t, "Ambience on", r.Message)
	assert.True(t, f.ctrl.Status().Ambience)

	r = f.ctrl.ToggleAmbience()
	assert.Equal(t, "Ambience off", r.Message)

	f.ambience.err = errors.New("no file")
	r = f.ctrl.ToggleAmbience()
	assert.Equal(t, CodeAmbienceUnavailable, r.Code)

	f.ctrl.ambience = nil
	r = f.ctrl.ToggleAmbience()
	assert.Equal(t, CodeAmbienceUnavailable, r.Code)
}

func TestController_RunPublishesSignalEvents(t *testing.T) {
	f := newFixture(t, true)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go f.seq.Run(ctx)
	go f.ctrl.Run(ctx)

	require.True(t, f.ctrl.Init(ctx).OK)
	require.True(t, f.ctrl.Start().OK)
	require.True(t, f.ctrl.Play(ctx).OK)

	f.output.signals <- playback.Signal{Ticket: f.output.lastPlay().Ticket}

	require.Eventually(t, func() bool {
		return f.ctrl.Status().Index == 1 && f.ctrl.Status().State == playback.StatePlaying
	}, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool {
		for _, c := range f.notifier.codes() {
			if c == "verse_started" {
				return true
			}
		}
		return false
	}, time.Second, 5*time.Millisecond)

	f.output.signals <- playback.Signal{Ticket: f.output.lastPlay().Ticket, Err: errors.New("stream reset")}
	require.Eventually(t, func() bool {
		codes := f.notifier.codes()
		return len(codes) > 0 && codes[len(codes)-1] == "playback_failed"
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, playback.StateErrored, f.ctrl.Status().State)
}

func TestController_Chapters(t *testing.T) {
	f := newFixture(t, true)
	chapters, r := f.ctrl.Chapters(context.Background())
	require.True(t, r.OK)
	assert.Len(t, chapters, 1)
}

func TestCodeFor(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{playback.ErrNotStarted, CodeNotStarted},
		{errors.Wrap(playback.ErrNoSession, "play"), CodeNoSession},
		{playback.ErrNotPaused, CodeNotPlaying},
		{errors.Mark(errors.New("404"), playback.ErrPlaybackRejected), CodePlaybackRejected},
		{errors.Mark(errors.New("offline"), verses.ErrFetchFailed), CodeFetchFailed},
		{errors.New("boom"), CodeInternal},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, codeFor(tt.err))
		})
	}
}
