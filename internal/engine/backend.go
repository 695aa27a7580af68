package engine

import "time"

// The decode and output capability of the platform is opaque to the state
// machine. The production binding lives in beep_backend.go; tests substitute
// fakes so promotion and generation semantics can be driven deterministically.

// Handle is a decode handle for a single media asset.
type Handle interface {
	// Probe verifies the asset is decodable. Blocking; the engine calls it
	// off the control loop.
	Probe() error

	// Duration resolves the asset's total duration. Blocking and potentially
	// slow (full-file scan for some containers). The engine caches the
	// result once; a live asset is never re-queried mid-playback.
	Duration() (time.Duration, error)

	Close() error
}

// Backend opens decode handles and analysis readers.
type Backend interface {
	Open(path string) (Handle, error)

	// OpenAnalyzer opens an independent second reader over the same asset,
	// used by spectrum telemetry. It shares nothing with the playback
	// handle, so analysis can never stall the playback clock.
	OpenAnalyzer(path string) (Analyzer, error)
}

// Analyzer reads raw sample windows for visualization.
type Analyzer interface {
	// SampleWindow returns n mono samples starting at the given offset.
	// Short reads near end-of-asset return the available prefix.
	SampleWindow(at time.Duration, n int) ([]float64, error)
	SampleRate() int
	Close() error
}

// Output renders decode handles to the audio device. It holds at most two
// items: the one being rendered and an optional gapless successor. When the
// rendered item drains and a successor is queued, output continues into it
// without letting the device buffer empty, then reports the transition via
// the end callback.
type Output interface {
	// Play starts rendering h from its beginning, replacing whatever was
	// rendering before.
	Play(h Handle) error

	// QueueNext chains h to start the instant the current item drains.
	QueueNext(h Handle) error

	// ClearNext discards a queued successor without touching the current
	// item.
	ClearNext()

	// SkipNext cuts the current item and starts the queued successor
	// immediately. Returns false if nothing was queued.
	SkipNext() bool

	Pause()
	Resume()

	// Stop halts rendering and discards both items.
	Stop()

	Seek(pos time.Duration) error
	Position() time.Duration
	SetVolume(level float64)

	// SetEndFunc registers the callback invoked whenever the current item
	// finishes naturally. It fires after output has already rolled into the
	// queued successor (if any), so the transition itself is gapless.
	SetEndFunc(fn func())
}
