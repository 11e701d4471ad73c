package audio

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/gopxl/beep/v2"
	"github.com/gopxl/beep/v2/mp3"
	"github.com/gopxl/beep/v2/speaker"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/tilawa/internal/app/playback"
)

// signalBuffer is the capacity of the signal channel.
const signalBuffer = 16

// OutputConfig represents output configuration.
type OutputConfig struct {
	SampleRate      int
	ResampleQuality int
	HTTPClient      *http.Client
}

// Output plays one HTTP-streamed MP3 at a time on the speaker.
type Output struct {
	sampleRate beep.SampleRate
	quality    int
	httpClient *http.Client
	signals    chan playback.Signal

	mu      sync.Mutex
	current *stream
}

// stream is one attached source.
type stream struct {
	ticket    playback.Ticket
	srcRate   beep.SampleRate
	resampler *beep.Resampler
	ctrl      *beep.Ctrl
	closer    func()
}

// NewOutput creates a new output. The speaker is opened on the first Play.
func NewOutput(cfg OutputConfig) *Output {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 44100
	}
	if cfg.ResampleQuality <= 0 {
		cfg.ResampleQuality = 4
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{
			Transport: &http.Transport{
				ResponseHeaderTimeout: 15 * time.Second,
				DisableCompression:    true,
			},
		}
	}
	return &Output{
		sampleRate: beep.SampleRate(cfg.SampleRate),
		quality:    cfg.ResampleQuality,
		httpClient: cfg.HTTPClient,
		signals:    make(chan playback.Signal, signalBuffer),
	}
}

// Signals delivers completion and failure signals.
func (o *Output) Signals() <-chan playback.Signal {
	return o.signals
}

// Play fetches req.URL, decodes it and attaches it to the speaker.
// The previous source, if any, is detached first.
func (o *Output) Play(ctx context.Context, req playback.Request) error {
	if req.Rate <= 0 {
		return errors.Newf("invalid rate: %v", req.Rate)
	}

	// The body outlives the request context; ctx only bounds the setup.
	streamCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	stopSetup := context.AfterFunc(ctx, cancel)
	defer stopSetup()

	decoded, format, err := o.open(streamCtx, req.URL)
	if err != nil {
		cancel()
		return err
	}

	dstRate, err := initSpeaker(o.sampleRate)
	if err != nil {
		decoded.Close()
		cancel()
		return err
	}

	s := o.newStream(decoded, format.SampleRate, dstRate, decoded.Err, req)
	s.closer = func() {
		cancel()
		if err := decoded.Close(); err != nil {
			zlog.Debug().Msgf("audio: close stream: %v", err)
		}
	}

	o.mu.Lock()
	prev := o.current
	o.current = s
	o.mu.Unlock()

	o.detach(prev)
	speaker.Play(s.ctrl)
	zlog.Debug().Msgf("audio: playing url=%s rate=%.2f ticket=%+v", req.URL, req.Rate, req.Ticket)
	return nil
}

// open performs the GET and decodes the MP3 header.
func (o *Output) open(ctx context.Context, url string) (beep.StreamSeekCloser, beep.Format, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, beep.Format{}, errors.Wrap(err, "failed to create request")
	}

	resp, err := o.httpClient.Do(httpReq)
	if err != nil {
		return nil, beep.Format{}, errors.Wrap(err, "failed to fetch audio")
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, beep.Format{}, errors.Newf("audio source returned http %d", resp.StatusCode)
	}

	decoded, format, err := mp3.Decode(resp.Body)
	if err != nil {
		resp.Body.Close()
		return nil, beep.Format{}, errors.Wrap(err, "failed to decode audio")
	}
	return decoded, format, nil
}

// newStream builds the pipeline src -> resampler -> completion callback -> ctrl.
// errFn reports a decode error once src has run out.
func (o *Output) newStream(src beep.Streamer, srcRate, dstRate beep.SampleRate, errFn func() error, req playback.Request) *stream {
	resampler := beep.ResampleRatio(o.quality, resampleRatio(req.Rate, srcRate, dstRate), src)
	ticket := req.Ticket

	// Runs on the speaker goroutine with the speaker lock held.
	done := beep.Callback(func() {
		var err error
		if errFn != nil {
			err = errFn()
		}
		o.emit(playback.Signal{Ticket: ticket, Err: err})
	})

	return &stream{
		ticket:    ticket,
		srcRate:   srcRate,
		resampler: resampler,
		ctrl:      &beep.Ctrl{Streamer: beep.Seq(resampler, done)},
	}
}

func (o *Output) emit(sig playback.Signal) {
	select {
	case o.signals <- sig:
	default:
		zlog.Warn().Msgf("audio: signal dropped, channel full: ticket=%+v", sig.Ticket)
	}
}

// Pause pauses the attached source in place.
func (o *Output) Pause() error {
	return o.setPaused(true)
}

// Resume continues a paused source.
func (o *Output) Resume() error {
	return o.setPaused(false)
}

func (o *Output) setPaused(paused bool) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.current == nil {
		return errors.New("no source attached")
	}
	speaker.Lock()
	o.current.ctrl.Paused = paused
	speaker.Unlock()
	return nil
}

// Stop detaches the current source. The next Play starts from the beginning.
func (o *Output) Stop() error {
	o.mu.Lock()
	s := o.current
	o.current = nil
	o.mu.Unlock()

	o.detach(s)
	return nil
}

// SetRate changes the rate of the attached source without interrupting it.
func (o *Output) SetRate(rate float64) error {
	if rate <= 0 {
		return errors.Newf("invalid rate: %v", rate)
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.current == nil {
		return nil
	}

	speakerMu.Lock()
	dstRate := speakerRate
	speakerMu.Unlock()

	speaker.Lock()
	o.current.resampler.SetRatio(resampleRatio(rate, o.current.srcRate, dstRate))
	speaker.Unlock()
	return nil
}

// Close detaches the current source.
func (o *Output) Close() error {
	return o.Stop()
}

// detach silences s so that its completion callback never runs.
func (o *Output) detach(s *stream) {
	if s == nil {
		return
	}
	speaker.Lock()
	s.ctrl.Streamer = nil
	speaker.Unlock()
	if s.closer != nil {
		s.closer()
	}
	zlog.Debug().Msgf("audio: detached ticket=%+v", s.ticket)
}
