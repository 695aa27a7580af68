package engine

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gopxl/beep/v2"
	"github.com/gopxl/beep/v2/flac"
	"github.com/gopxl/beep/v2/mp3"
	"github.com/gopxl/beep/v2/vorbis"
	"github.com/gopxl/beep/v2/wav"
)

// BeepBackend binds the opaque decode capability to gopxl/beep decoders.
// One Open per playback slot, one OpenAnalyzer per spectrum source: two
// readers, one score.
type BeepBackend struct{}

func NewBeepBackend() *BeepBackend {
	return &BeepBackend{}
}

func decodeFile(path string) (*os.File, beep.StreamSeekCloser, beep.Format, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, beep.Format{}, err
	}

	var (
		streamer beep.StreamSeekCloser
		format   beep.Format
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".mp3":
		streamer, format, err = mp3.Decode(f)
	case ".wav":
		streamer, format, err = wav.Decode(f)
	case ".flac":
		streamer, format, err = flac.Decode(f)
	case ".ogg", ".oga":
		streamer, format, err = vorbis.Decode(f)
	default:
		err = fmt.Errorf("unsupported media container %q", filepath.Ext(path))
	}
	if err != nil {
		_ = f.Close()
		return nil, nil, beep.Format{}, err
	}
	return f, streamer, format, nil
}

func (b *BeepBackend) Open(path string) (Handle, error) {
	f, streamer, format, err := decodeFile(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	return &beepHandle{file: f, streamer: streamer, format: format}, nil
}

func (b *BeepBackend) OpenAnalyzer(path string) (Analyzer, error) {
	f, streamer, format, err := decodeFile(path)
	if err != nil {
		return nil, fmt.Errorf("open analyzer %s: %w", path, err)
	}
	return &beepAnalyzer{file: f, streamer: streamer, format: format}, nil
}

// beepHandle is a decoded playback asset. The streamer is rendered by the
// speaker output; Probe and Duration only touch decoder metadata, so they
// stay safe alongside rendering.
type beepHandle struct {
	file     *os.File
	streamer beep.StreamSeekCloser
	format   beep.Format

	closeOnce sync.Once
	closeErr  error
}

func (h *beepHandle) Probe() error {
	// Decoding already succeeded in Open; a non-positive length means the
	// container header lied and the asset is not renderable.
	if h.streamer.Len() <= 0 {
		return fmt.Errorf("asset has no decodable samples")
	}
	return nil
}

func (h *beepHandle) Duration() (time.Duration, error) {
	n := h.streamer.Len()
	if n < 0 {
		return 0, fmt.Errorf("asset length unknown")
	}
	return h.format.SampleRate.D(n), nil
}

func (h *beepHandle) Close() error {
	h.closeOnce.Do(func() {
		h.closeErr = h.streamer.Close()
		if err := h.file.Close(); err != nil && h.closeErr == nil {
			h.closeErr = err
		}
	})
	return h.closeErr
}

// beepAnalyzer is the independent visualization reader.
type beepAnalyzer struct {
	mu       sync.Mutex
	file     *os.File
	streamer beep.StreamSeekCloser
	format   beep.Format
	buf      [][2]float64
}

func (a *beepAnalyzer) SampleRate() int {
	return int(a.format.SampleRate)
}

func (a *beepAnalyzer) SampleWindow(at time.Duration, n int) ([]float64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	target := a.format.SampleRate.N(at)
	if target < 0 {
		target = 0
	}
	if total := a.streamer.Len(); total >= 0 && target >= total {
		return nil, nil
	}
	if err := a.streamer.Seek(target); err != nil {
		return nil, fmt.Errorf("analyzer seek: %w", err)
	}

	if cap(a.buf) < n {
		a.buf = make([][2]float64, n)
	}
	buf := a.buf[:n]
	got, _ := a.streamer.Stream(buf)

	mono := make([]float64, got)
	for i := 0; i < got; i++ {
		mono[i] = (buf[i][0] + buf[i][1]) / 2
	}
	return mono, nil
}

func (a *beepAnalyzer) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	err := a.streamer.Close()
	if ferr := a.file.Close(); ferr != nil && err == nil {
		err = ferr
	}
	return err
}
