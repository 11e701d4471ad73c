package audio

import (
	"os"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/gopxl/beep/v2"
	"github.com/gopxl/beep/v2/effects"
	"github.com/gopxl/beep/v2/mp3"
	"github.com/gopxl/beep/v2/speaker"
	zlog "github.com/rs/zerolog/log"
)

// ErrNoAmbience is returned when no ambience file is configured.
var ErrNoAmbience = errors.New("ambience file not configured")

// AmbienceConfig represents ambience configuration.
type AmbienceConfig struct {
	File            string
	Volume          float64
	SampleRate      int
	ResampleQuality int
}

// Ambience loops a background sound under the recitation.
type Ambience struct {
	cfg AmbienceConfig

	mu    sync.Mutex
	ctrl  *beep.Ctrl
	close func()
}

// NewAmbience creates a new ambience player.
func NewAmbience(cfg AmbienceConfig) *Ambience {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 44100
	}
	if cfg.ResampleQuality <= 0 {
		cfg.ResampleQuality = 4
	}
	return &Ambience{cfg: cfg}
}

// Available reports whether an ambience file is configured.
func (a *Ambience) Available() bool {
	return a.cfg.File != ""
}

// Enabled reports whether the loop is playing.
func (a *Ambience) Enabled() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.ctrl != nil
}

// Toggle switches the loop on or off and returns the new state.
func (a *Ambience) Toggle() (bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.ctrl != nil {
		a.stopLocked()
		zlog.Info().Msg("ambience off")
		return false, nil
	}
	if !a.Available() {
		return false, ErrNoAmbience
	}
	if err := a.startLocked(); err != nil {
		return false, err
	}
	zlog.Info().Msgf("ambience on: file=%s volume=%.2f", a.cfg.File, a.cfg.Volume)
	return true, nil
}

func (a *Ambience) startLocked() error {
	f, err := os.Open(a.cfg.File)
	if err != nil {
		return errors.Wrap(err, "failed to open ambience file")
	}
	decoded, format, err := mp3.Decode(f)
	if err != nil {
		f.Close()
		return errors.Wrap(err, "failed to decode ambience file")
	}

	dstRate, err := initSpeaker(beep.SampleRate(a.cfg.SampleRate))
	if err != nil {
		decoded.Close()
		return err
	}

	exp, silent := volumeExponent(a.cfg.Volume)
	volume := &effects.Volume{
		Streamer: beep.Resample(a.cfg.ResampleQuality, format.SampleRate, dstRate, beep.Loop(-1, decoded)),
		Base:     2,
		Volume:   exp,
		Silent:   silent,
	}
	a.ctrl = &beep.Ctrl{Streamer: volume}
	a.close = func() { decoded.Close() }
	speaker.Play(a.ctrl)
	return nil
}

func (a *Ambience) stopLocked() {
	speaker.Lock()
	a.ctrl.Streamer = nil
	speaker.Unlock()
	a.ctrl = nil
	if a.close != nil {
		a.close()
		a.close = nil
	}
}

// Close stops the loop if it is playing.
func (a *Ambience) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.ctrl != nil {
		a.stopLocked()
	}
	return nil
}
