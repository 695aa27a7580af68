package engine

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sine(freq float64, sampleRate, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = math.Sin(2 * math.Pi * freq * float64(i) / float64(sampleRate))
	}
	return out
}

func TestBandMagnitudesPeaksAtToneBand(t *testing.T) {
	const sampleRate = 44100
	tests := []struct {
		name string
		freq float64
	}{
		{name: "LowTone", freq: 110},
		{name: "MidTone", freq: 1000},
		{name: "HighTone", freq: 8000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bands := bandMagnitudes(sine(tt.freq, sampleRate, 2048), sampleRate, 16)
			require.Len(t, bands, 16)

			// The band containing the tone normalizes to 1.
			peak, peakIdx := 0.0, -1
			for i, v := range bands {
				if v > peak {
					peak, peakIdx = v, i
				}
			}
			assert.InDelta(t, 1.0, peak, 1e-9)

			// Band centers are log-spaced over [50, 16000]; the peak index
			// must match where the tone falls.
			expected := int(math.Log(tt.freq/50) / math.Log(16000.0/50) * 16)
			assert.InDelta(t, expected, peakIdx, 1)
		})
	}
}

func TestBandMagnitudesSilenceIsFlat(t *testing.T) {
	bands := bandMagnitudes(make([]float64, 2048), 44100, 16)
	require.Len(t, bands, 16)
	for _, v := range bands {
		assert.Zero(t, v)
	}
}

func TestBandMagnitudesDegenerateInputs(t *testing.T) {
	assert.Nil(t, bandMagnitudes(nil, 44100, 0))
	assert.Nil(t, bandMagnitudes(sine(440, 44100, 64), 0, 8))

	// A single-sample window carries no spectral content but must still
	// produce a full, finite band vector.
	bands := bandMagnitudes([]float64{0.5}, 44100, 8)
	require.Len(t, bands, 8)
	for _, v := range bands {
		assert.False(t, math.IsNaN(v))
		assert.GreaterOrEqual(t, v, 0.0)
		assert.LessOrEqual(t, v, 1.0)
	}
}

func TestGoertzelMatchesToneEnergy(t *testing.T) {
	samples := sine(1000, 44100, 2048)
	onTone := goertzel(samples, 44100, 1000)
	offTone := goertzel(samples, 44100, 5000)
	assert.Greater(t, onTone, offTone*10, "tone bin should dominate a distant bin")
}
