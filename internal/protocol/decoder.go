package protocol

import (
	"bytes"

	"github.com/rs/zerolog"
)

// DefaultMaxLineSize bounds the partial-line buffer. A peer that streams an
// unterminated line past this limit has lost framing; the buffered bytes are
// discarded and decoding resyncs at the next newline.
const DefaultMaxLineSize = 64 * 1024

// StreamDecoder reassembles an arbitrarily chunked byte stream into complete
// newline-delimited lines. Trailing bytes after the last newline are retained
// across Feed calls, so a message is never split or duplicated regardless of
// how the transport chunks its reads.
type StreamDecoder struct {
	buf         []byte
	maxLineSize int
	overflowing bool
}

// NewStreamDecoder creates a stream decoder. maxLineSize <= 0 selects
// DefaultMaxLineSize.
func NewStreamDecoder(maxLineSize int) *StreamDecoder {
	if maxLineSize <= 0 {
		maxLineSize = DefaultMaxLineSize
	}
	return &StreamDecoder{maxLineSize: maxLineSize}
}

// Feed appends a chunk and returns every complete line it closes, without
// the trailing newline. Returned slices are copies and remain valid after
// subsequent Feed calls.
func (d *StreamDecoder) Feed(chunk []byte) [][]byte {
	d.buf = append(d.buf, chunk...)

	var lines [][]byte
	for {
		idx := bytes.IndexByte(d.buf, '\n')
		if idx < 0 {
			break
		}
		line := d.buf[:idx]
		if d.overflowing {
			// Tail of an oversized line; already reported, drop the rest.
			d.overflowing = false
		} else if len(line) > 0 {
			lines = append(lines, append([]byte(nil), line...))
		}
		d.buf = d.buf[idx+1:]
	}

	if len(d.buf) > d.maxLineSize {
		d.buf = d.buf[:0]
		d.overflowing = true
	}
	return lines
}

// Pending returns the number of buffered bytes awaiting a newline.
func (d *StreamDecoder) Pending() int {
	return len(d.buf)
}

// EventStreamDecoder is the host-side typed decoder: it splits the engine's
// output stream into lines and parses each into an Event. Malformed lines
// are dropped with a local diagnostic; they never interrupt parsing and
// never propagate to the host as errors.
type EventStreamDecoder struct {
	dec    *StreamDecoder
	logger zerolog.Logger
	onDrop func()
}

// NewEventStreamDecoder creates a typed event decoder. onDrop, if non-nil,
// is invoked once per dropped malformed line (metrics hook).
func NewEventStreamDecoder(logger zerolog.Logger, onDrop func()) *EventStreamDecoder {
	return &EventStreamDecoder{
		dec:    NewStreamDecoder(0),
		logger: logger,
		onDrop: onDrop,
	}
}

// Feed consumes a raw chunk and returns the events completed by it.
func (d *EventStreamDecoder) Feed(chunk []byte) []Event {
	var events []Event
	for _, line := range d.dec.Feed(chunk) {
		ev, err := DecodeEvent(line)
		if err != nil {
			d.logger.Debug().Err(err).Bytes("line", truncateLine(line)).Msg("dropping malformed event line")
			if d.onDrop != nil {
				d.onDrop()
			}
			continue
		}
		events = append(events, ev)
	}
	return events
}

// CommandStreamDecoder is the engine-side counterpart for host→engine
// traffic, with the same drop-and-continue discipline.
type CommandStreamDecoder struct {
	dec    *StreamDecoder
	logger zerolog.Logger
	onDrop func()
}

func NewCommandStreamDecoder(logger zerolog.Logger, onDrop func()) *CommandStreamDecoder {
	return &CommandStreamDecoder{
		dec:    NewStreamDecoder(0),
		logger: logger,
		onDrop: onDrop,
	}
}

// Feed consumes a raw chunk and returns the commands completed by it.
func (d *CommandStreamDecoder) Feed(chunk []byte) []Command {
	var cmds []Command
	for _, line := range d.dec.Feed(chunk) {
		cmd, err := DecodeCommand(line)
		if err != nil {
			d.logger.Debug().Err(err).Bytes("line", truncateLine(line)).Msg("dropping malformed command line")
			if d.onDrop != nil {
				d.onDrop()
			}
			continue
		}
		cmds = append(cmds, cmd)
	}
	return cmds
}

func truncateLine(line []byte) []byte {
	const max = 256
	if len(line) <= max {
		return line
	}
	return line[:max]
}
