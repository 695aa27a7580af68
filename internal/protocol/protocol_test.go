package protocol

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() zerolog.Logger {
	return zerolog.Nop()
}

func TestEventSurvivesArbitrarySplit(t *testing.T) {
	// A message must parse exactly once no matter where the transport
	// chunks it: never zero, never two.
	wire, err := EncodeEvent(TrackChangedEvent("trk2", 183.4))
	require.NoError(t, err)

	for split := 0; split <= len(wire); split++ {
		dec := NewEventStreamDecoder(testLogger(), nil)

		events := dec.Feed(wire[:split])
		events = append(events, dec.Feed(wire[split:])...)

		require.Len(t, events, 1, "split at byte %d", split)
		assert.Equal(t, EventTrackChanged, events[0].Event)
		assert.Equal(t, "trk2", events[0].ID)
		assert.InDelta(t, 183.4, events[0].Duration, 1e-9)
	}
}

func TestDecoderByteAtATime(t *testing.T) {
	wire, err := EncodeEvent(StateEvent(true, 12.5, 200))
	require.NoError(t, err)

	dec := NewEventStreamDecoder(testLogger(), nil)
	var events []Event
	for _, b := range wire {
		events = append(events, dec.Feed([]byte{b})...)
	}

	require.Len(t, events, 1)
	assert.True(t, events[0].Playing)
	assert.InDelta(t, 12.5, events[0].Position, 1e-9)
}

func TestDecoderCoalescedMessages(t *testing.T) {
	first, err := EncodeEvent(TrackEndedEvent("trk1"))
	require.NoError(t, err)
	second, err := EncodeEvent(TrackChangedEvent("trk2", 99))
	require.NoError(t, err)

	dec := NewEventStreamDecoder(testLogger(), nil)
	events := dec.Feed(append(first, second...))

	require.Len(t, events, 2)
	assert.Equal(t, EventTrackEnded, events[0].Event)
	assert.Equal(t, EventTrackChanged, events[1].Event)
}

func TestMalformedLineDroppedParsingContinues(t *testing.T) {
	good, err := EncodeEvent(PreloadedEvent("trk9"))
	require.NoError(t, err)

	dropped := 0
	dec := NewEventStreamDecoder(testLogger(), func() { dropped++ })

	chunk := []byte("{not json at all\n")
	chunk = append(chunk, []byte(`{"noDiscriminator":true}`+"\n")...)
	chunk = append(chunk, good...)

	events := dec.Feed(chunk)

	require.Len(t, events, 1)
	assert.Equal(t, "trk9", events[0].ID)
	assert.Equal(t, 2, dropped)
}

func TestOversizedLineResyncsAtNextNewline(t *testing.T) {
	dec := &EventStreamDecoder{dec: NewStreamDecoder(64), logger: testLogger()}

	// Stream a giant unterminated line, then a valid message.
	junk := make([]byte, 200)
	for i := range junk {
		junk[i] = 'x'
	}
	require.Empty(t, dec.Feed(junk))

	good, err := EncodeEvent(ReadyEvent())
	require.NoError(t, err)
	events := dec.Feed(append([]byte("tail\n"), good...))

	require.Len(t, events, 1)
	assert.Equal(t, EventReady, events[0].Event)
}

func TestCommandRoundTripSemantics(t *testing.T) {
	tests := []struct {
		name  string
		cmd   Command
		check func(t *testing.T, got Command)
	}{
		{
			name: "LoadCarriesIdentityAndPath",
			cmd:  LoadCommand("trk1", "/music/a.flac"),
			check: func(t *testing.T, got Command) {
				assert.Equal(t, "trk1", got.ID)
				assert.Equal(t, "/music/a.flac", got.Path)
			},
		},
		{
			name: "SeekToZeroIsValid",
			cmd:  SeekCommand(0),
			check: func(t *testing.T, got Command) {
				assert.Equal(t, CmdSeek, got.Cmd)
				assert.Zero(t, got.Position)
			},
		},
		{
			name: "VolumeZeroIsValid",
			cmd:  VolumeCommand(0),
			check: func(t *testing.T, got Command) {
				assert.Equal(t, CmdVolume, got.Cmd)
				assert.Zero(t, got.Level)
			},
		},
		{
			name: "SetLookaheadCarriesSeconds",
			cmd:  SetLookaheadCommand(0.25),
			check: func(t *testing.T, got Command) {
				assert.InDelta(t, 0.25, got.Seconds, 1e-9)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wire, err := EncodeCommand(tt.cmd)
			require.NoError(t, err)
			assert.Equal(t, byte('\n'), wire[len(wire)-1])

			got, err := DecodeCommand(wire[:len(wire)-1])
			require.NoError(t, err)
			assert.Equal(t, tt.cmd.Cmd, got.Cmd)
			tt.check(t, got)
		})
	}
}

func TestEncodeRejectsEmptyDiscriminator(t *testing.T) {
	_, err := EncodeCommand(Command{})
	assert.Error(t, err)

	_, err = EncodeEvent(Event{})
	assert.Error(t, err)
}

func TestCommandDecoderDropsEventShapedLines(t *testing.T) {
	// An event record on the command channel has no cmd discriminator and
	// must be rejected, not half-parsed.
	wire, err := EncodeEvent(ReadyEvent())
	require.NoError(t, err)

	dropped := 0
	dec := NewCommandStreamDecoder(testLogger(), func() { dropped++ })
	cmds := dec.Feed(wire)

	assert.Empty(t, cmds)
	assert.Equal(t, 1, dropped)
}
