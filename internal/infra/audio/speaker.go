// Package audio provides the native audio output and the ambience loop on top
// of the local sound device.
package audio

import (
	"math"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/gopxl/beep/v2"
	"github.com/gopxl/beep/v2/speaker"
	zlog "github.com/rs/zerolog/log"
)

// SpeakerBufferSize is the device buffer length.
const SpeakerBufferSize = 250 * time.Millisecond

var (
	speakerMu   sync.Mutex
	speakerRate beep.SampleRate
)

// initSpeaker initializes the shared speaker once. Later calls return the
// sample rate the device was opened with.
func initSpeaker(sampleRate beep.SampleRate) (beep.SampleRate, error) {
	speakerMu.Lock()
	defer speakerMu.Unlock()

	if speakerRate != 0 {
		return speakerRate, nil
	}
	if err := speaker.Init(sampleRate, sampleRate.N(SpeakerBufferSize)); err != nil {
		return 0, errors.Wrap(err, "failed to initialize speaker")
	}
	speakerRate = sampleRate
	zlog.Debug().Msgf("speaker initialized: sample_rate=%d buffer=%v", sampleRate, SpeakerBufferSize)
	return speakerRate, nil
}

// resampleRatio maps a playback rate onto a resampler ratio for a source
// decoded at from and played at to.
func resampleRatio(rate float64, from, to beep.SampleRate) float64 {
	return rate * float64(from) / float64(to)
}

// volumeExponent converts a linear 0..1 volume into an effects.Volume
// exponent with base 2. Zero means silent.
func volumeExponent(linear float64) (exp float64, silent bool) {
	if linear <= 0 {
		return 0, true
	}
	if linear > 1 {
		linear = 1
	}
	return math.Log2(linear), false
}
