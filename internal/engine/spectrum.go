package engine

import (
	"context"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/murkandloam/the-gloaming-sub000/internal/protocol"
)

// positionSource reports the playback position the spectrum reader follows.
type positionSource interface {
	PositionTelemetry() (time.Duration, bool)
}

// spectrumReader drives the visualization telemetry: an independent second
// reader over the same media file as playback, offset by a configurable
// lookahead to compensate for downstream output latency. It shares no state
// with the playback path beyond the published position, so it can never
// stall or desynchronize the playback clock.
type spectrumReader struct {
	cfg     Config
	backend Backend
	emitter Emitter
	source  positionSource
	logger  zerolog.Logger

	lookahead atomic.Int64 // nanoseconds

	mu       sync.Mutex
	path     string
	analyzer Analyzer
}

func newSpectrumReader(cfg Config, backend Backend, emitter Emitter, source positionSource, logger zerolog.Logger) *spectrumReader {
	return &spectrumReader{
		cfg:     cfg,
		backend: backend,
		emitter: emitter,
		source:  source,
		logger:  logger.With().Str("component", "spectrum").Logger(),
	}
}

// setSource redirects the reader to a new media file. Called from the
// control loop on load and promotion; only the cheap bookkeeping happens
// here, the new analyzer is opened lazily on the reader goroutine.
func (r *spectrumReader) setSource(path string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if path == r.path {
		return
	}
	r.closeAnalyzerLocked()
	r.path = path
}

func (r *spectrumReader) clearSource() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closeAnalyzerLocked()
	r.path = ""
}

func (r *spectrumReader) closeAnalyzerLocked() {
	if r.analyzer != nil {
		if err := r.analyzer.Close(); err != nil {
			r.logger.Debug().Err(err).Msg("analyzer close failed")
		}
		r.analyzer = nil
	}
}

func (r *spectrumReader) setLookahead(d time.Duration) {
	r.lookahead.Store(int64(d))
}

func (r *spectrumReader) run(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.SpectrumInterval)
	defer ticker.Stop()
	defer r.clearSource()

	for {
		select {
		case <-ticker.C:
			r.sample()
		case <-ctx.Done():
			return
		}
	}
}

// sample reads one window at position+lookahead and emits band magnitudes.
// Any failure skips the frame; playback is never affected.
func (r *spectrumReader) sample() {
	pos, playing := r.source.PositionTelemetry()
	if !playing {
		return
	}

	r.mu.Lock()
	path := r.path
	analyzer := r.analyzer
	r.mu.Unlock()

	if path == "" {
		return
	}
	if analyzer == nil {
		opened, err := r.backend.OpenAnalyzer(path)
		if err != nil {
			r.logger.Debug().Str("path", path).Err(err).Msg("analyzer open failed")
			return
		}
		r.mu.Lock()
		if r.path == path {
			r.analyzer = opened
			analyzer = opened
		} else {
			// Source changed while we were opening; discard.
			r.mu.Unlock()
			_ = opened.Close()
			return
		}
		r.mu.Unlock()
	}

	at := pos + time.Duration(r.lookahead.Load())
	samples, err := analyzer.SampleWindow(at, r.cfg.SpectrumWindow)
	if err != nil || len(samples) == 0 {
		return
	}

	bands := bandMagnitudes(samples, analyzer.SampleRate(), r.cfg.SpectrumBands)
	r.emitter.Emit(protocol.SpectrumEvent(bands))
}

// bandMagnitudes reduces a sample window to log-spaced band magnitudes in
// [0,1], using a Hann window and per-band Goertzel filters.
func bandMagnitudes(samples []float64, sampleRate, nBands int) []float64 {
	if nBands <= 0 || sampleRate <= 0 {
		return nil
	}

	windowed := make([]float64, len(samples))
	n := float64(len(samples) - 1)
	if n < 1 {
		n = 1
	}
	for i, s := range samples {
		w := 0.5 * (1 - math.Cos(2*math.Pi*float64(i)/n))
		windowed[i] = s * w
	}

	// Log-spaced band centers from 50Hz up to the lesser of 16kHz and
	// Nyquist.
	low := 50.0
	high := math.Min(16000.0, float64(sampleRate)/2)
	if high <= low {
		high = float64(sampleRate) / 2
	}
	ratio := math.Pow(high/low, 1/float64(nBands))

	bands := make([]float64, nBands)
	freq := low
	for b := 0; b < nBands; b++ {
		center := freq * math.Sqrt(ratio)
		bands[b] = goertzel(windowed, sampleRate, center)
		freq *= ratio
	}

	// Normalize to the loudest band so the host gets stable [0,1] values.
	peak := 0.0
	for _, v := range bands {
		if v > peak {
			peak = v
		}
	}
	if peak > 0 {
		for i := range bands {
			bands[i] /= peak
		}
	}
	return bands
}

// goertzel computes the normalized magnitude of a single frequency bin.
func goertzel(samples []float64, sampleRate int, freq float64) float64 {
	if len(samples) == 0 {
		return 0
	}
	omega := 2 * math.Pi * freq / float64(sampleRate)
	coeff := 2 * math.Cos(omega)

	var s0, s1, s2 float64
	for _, x := range samples {
		s0 = x + coeff*s1 - s2
		s2 = s1
		s1 = s0
	}
	power := s1*s1 + s2*s2 - coeff*s1*s2
	if power < 0 {
		power = 0
	}
	return math.Sqrt(power) / float64(len(samples))
}
