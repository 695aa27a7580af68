package engine

import "time"

// Config centralizes the engine-side tunables.
type Config struct {
	// TickInterval is the position telemetry period while playing.
	// ~40ms gives the UI a ~25Hz position signal.
	TickInterval time.Duration

	// SpectrumInterval is the spectrum telemetry period.
	SpectrumInterval time.Duration

	// SpectrumBands is the number of log-spaced frequency bands reported.
	SpectrumBands int

	// SpectrumWindow is the number of mono samples analyzed per frame.
	SpectrumWindow int

	// MaxLookahead clamps the spectrum reader offset. Lookahead compensates
	// for downstream output latency in visualizations.
	MaxLookahead time.Duration
}

// DefaultConfig returns the standard engine tuning.
func DefaultConfig() Config {
	return Config{
		TickInterval:     40 * time.Millisecond,
		SpectrumInterval: 40 * time.Millisecond,
		SpectrumBands:    16,
		SpectrumWindow:   2048,
		MaxLookahead:     500 * time.Millisecond,
	}
}
