package audio

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/gopxl/beep/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osa030/tilawa/internal/app/playback"
)

func drain(t *testing.T, s beep.Streamer) int {
	t.Helper()
	buf := make([][2]float64, 512)
	total := 0
	for i := 0; i < 10000; i++ {
		n, ok := s.Stream(buf)
		total += n
		if !ok {
			return total
		}
	}
	t.Fatal("stream did not end")
	return total
}

func TestResampleRatio(t *testing.T) {
	tests := []struct {
		name     string
		rate     float64
		from, to beep.SampleRate
		want     float64
	}{
		{"same rate", 1.0, 44100, 44100, 1.0},
		{"faster", 1.5, 44100, 44100, 1.5},
		{"source at 22050", 1.0, 22050, 44100, 0.5},
		{"slower 48k source", 0.75, 48000, 44100, 0.75 * 48000 / 44100},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, resampleRatio(tt.rate, tt.from, tt.to), 1e-9)
		})
	}
}

func TestVolumeExponent(t *testing.T) {
	exp, silent := volumeExponent(0.12)
	assert.False(t, silent)
	assert.InDelta(t, 0.12, math.Pow(2, exp), 1e-9)

	exp, silent = volumeExponent(1)
	assert.False(t, silent)
	assert.Equal(t, 0.0, exp)

	_, silent = volumeExponent(0)
	assert.True(t, silent)
}

func TestOutput_StreamEmitsCompletion(t *testing.T) {
	o := NewOutput(OutputConfig{})
	ticket := playback.Ticket{Generation: 2, Seq: 5, Index: 3}

	s := o.newStream(beep.Silence(2000), 44100, 44100, nil, playback.Request{URL: "x", Rate: 1, Ticket: ticket})
	drain(t, s.ctrl)

	select {
	case sig := <-o.Signals():
		assert.Equal(t, ticket, sig.Ticket)
		assert.NoError(t, sig.Err)
	default:
		t.Fatal("expected completion signal")
	}
}

func TestOutput_StreamEmitsDecodeError(t *testing.T) {
	o := NewOutput(OutputConfig{})
	ticket := playback.Ticket{Generation: 1, Seq: 1}
	streamErr := errors.New("connection reset")

	s := o.newStream(beep.Silence(100), 44100, 44100, func() error { return streamErr }, playback.Request{Rate: 2, Ticket: ticket})
	drain(t, s.ctrl)

	sig := <-o.Signals()
	assert.Equal(t, ticket, sig.Ticket)
	assert.ErrorIs(t, sig.Err, streamErr)
}

func TestOutput_FasterRateShortensStream(t *testing.T) {
	o := NewOutput(OutputConfig{})
	normal := o.newStream(beep.Silence(8000), 44100, 44100, nil, playback.Request{Rate: 1, Ticket: playback.Ticket{Seq: 1}})
	fast := o.newStream(beep.Silence(8000), 44100, 44100, nil, playback.Request{Rate: 2, Ticket: playback.Ticket{Seq: 2}})

	assert.Less(t, drain(t, fast.ctrl), drain(t, normal.ctrl))
}

func TestOutput_PlayRejections(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/missing.mp3":
			http.NotFound(w, r)
		default:
			fmt.Fprint(w, "not an mp3 stream")
		}
	}))
	defer server.Close()

	o := NewOutput(OutputConfig{HTTPClient: server.Client()})
	ctx := context.Background()

	err := o.Play(ctx, playback.Request{URL: server.URL + "/missing.mp3", Rate: 1, Ticket: playback.Ticket{Seq: 1}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")

	err = o.Play(ctx, playback.Request{URL: server.URL + "/garbage.mp3", Rate: 1, Ticket: playback.Ticket{Seq: 2}})
	require.Error(t, err)

	err = o.Play(ctx, playback.Request{URL: server.URL + "/ok.mp3", Rate: 0})
	require.Error(t, err)

	err = o.Play(ctx, playback.Request{URL: "http://127.0.0.1:0/unreachable.mp3", Rate: 1})
	require.Error(t, err)
}

func TestOutput_NoSourceAttached(t *testing.T) {
	o := NewOutput(OutputConfig{})
	assert.Error(t, o.Pause())
	assert.Error(t, o.Resume())
	assert.NoError(t, o.Stop())
	assert.NoError(t, o.SetRate(1.25))
	assert.Error(t, o.SetRate(0))
}

func TestAmbience_Unavailable(t *testing.T) {
	a := NewAmbience(AmbienceConfig{Volume: 0.12})
	assert.False(t, a.Available())

	on, err := a.Toggle()
	assert.False(t, on)
	assert.True(t, errors.Is(err, ErrNoAmbience))
	assert.False(t, a.Enabled())
	assert.NoError(t, a.Close())
}

func TestAmbience_MissingFile(t *testing.T) {
	a := NewAmbience(AmbienceConfig{File: "/nonexistent/ambience.mp3", Volume: 0.12})
	assert.True(t, a.Available())

	_, err := a.Toggle()
	assert.Error(t, err)
	assert.False(t, a.Enabled())
}
