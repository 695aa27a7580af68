// Package protocol implements the wire codec between the host controller
// and the audio-rendering engine process. Each message is a single
// newline-terminated JSON record carrying a discriminator field: "cmd" for
// host→engine traffic, "event" for engine→host traffic. The stream decoder
// reassembles arbitrarily chunked bytes into discrete messages.
package protocol

import (
	"encoding/json"
	"fmt"
)

// CommandType discriminates host→engine messages.
type CommandType string

const (
	CmdLoad         CommandType = "load"
	CmdPreload      CommandType = "preload"
	CmdPlay         CommandType = "play"
	CmdPause        CommandType = "pause"
	CmdStop         CommandType = "stop"
	CmdSeek         CommandType = "seek"
	CmdVolume       CommandType = "volume"
	CmdPlayNext     CommandType = "playNext"
	CmdSetLookahead CommandType = "setLookahead"
	CmdQuit         CommandType = "quit"
)

// EventType discriminates engine→host messages.
type EventType string

const (
	EventReady        EventType = "ready"
	EventLoaded       EventType = "loaded"
	EventPreloaded    EventType = "preloaded"
	EventState        EventType = "state"
	EventTrackEnded   EventType = "trackEnded"
	EventTrackChanged EventType = "trackChanged"
	EventError        EventType = "error"
	EventClosed       EventType = "closed"
	EventSpectrum     EventType = "spectrum"
)

// Command is a host→engine message. Only the fields relevant to Cmd are
// populated; commands are fire-and-forget with no correlation ids.
type Command struct {
	Cmd      CommandType `json:"cmd"`
	ID       string      `json:"id,omitempty"`
	Path     string      `json:"path,omitempty"`
	Position float64     `json:"position,omitempty"`
	Level    float64     `json:"level,omitempty"`
	Seconds  float64     `json:"seconds,omitempty"`
}

// Event is an engine→host message. Positions and durations are seconds.
type Event struct {
	Event    EventType `json:"event"`
	ID       string    `json:"id,omitempty"`
	Duration float64   `json:"duration,omitempty"`
	Playing  bool      `json:"playing,omitempty"`
	Position float64   `json:"position,omitempty"`
	Message  string    `json:"message,omitempty"`
	Context  string    `json:"context,omitempty"`
	ExitCode int       `json:"exitCode,omitempty"`
	Bands    []float64 `json:"bands,omitempty"`
}

// Command constructors.

func LoadCommand(id, path string) Command {
	return Command{Cmd: CmdLoad, ID: id, Path: path}
}

func PreloadCommand(id, path string) Command {
	return Command{Cmd: CmdPreload, ID: id, Path: path}
}

func PlayCommand() Command  { return Command{Cmd: CmdPlay} }
func PauseCommand() Command { return Command{Cmd: CmdPause} }
func StopCommand() Command  { return Command{Cmd: CmdStop} }
func QuitCommand() Command  { return Command{Cmd: CmdQuit} }

func SeekCommand(positionSeconds float64) Command {
	return Command{Cmd: CmdSeek, Position: positionSeconds}
}

func VolumeCommand(level float64) Command {
	return Command{Cmd: CmdVolume, Level: level}
}

func PlayNextCommand() Command { return Command{Cmd: CmdPlayNext} }

func SetLookaheadCommand(seconds float64) Command {
	return Command{Cmd: CmdSetLookahead, Seconds: seconds}
}

// Event constructors.

func ReadyEvent() Event { return Event{Event: EventReady} }

func LoadedEvent(id string, durationSeconds float64) Event {
	return Event{Event: EventLoaded, ID: id, Duration: durationSeconds}
}

func PreloadedEvent(id string) Event {
	return Event{Event: EventPreloaded, ID: id}
}

func StateEvent(playing bool, positionSeconds, durationSeconds float64) Event {
	return Event{Event: EventState, Playing: playing, Position: positionSeconds, Duration: durationSeconds}
}

func TrackEndedEvent(id string) Event {
	return Event{Event: EventTrackEnded, ID: id}
}

func TrackChangedEvent(id string, durationSeconds float64) Event {
	return Event{Event: EventTrackChanged, ID: id, Duration: durationSeconds}
}

func ErrorEvent(message, context string) Event {
	return Event{Event: EventError, Message: message, Context: context}
}

func ClosedEvent(exitCode int) Event {
	return Event{Event: EventClosed, ExitCode: exitCode}
}

func SpectrumEvent(bands []float64) Event {
	return Event{Event: EventSpectrum, Bands: bands}
}

// EncodeCommand serializes a command to one line-terminated wire message.
func EncodeCommand(cmd Command) ([]byte, error) {
	if cmd.Cmd == "" {
		return nil, fmt.Errorf("encode command: empty discriminator")
	}
	data, err := json.Marshal(cmd)
	if err != nil {
		return nil, fmt.Errorf("encode command %q: %w", cmd.Cmd, err)
	}
	return append(data, '\n'), nil
}

// EncodeEvent serializes an event to one line-terminated wire message.
func EncodeEvent(ev Event) ([]byte, error) {
	if ev.Event == "" {
		return nil, fmt.Errorf("encode event: empty discriminator")
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("encode event %q: %w", ev.Event, err)
	}
	return append(data, '\n'), nil
}

// DecodeCommand parses a single complete line into a command.
func DecodeCommand(line []byte) (Command, error) {
	var cmd Command
	if err := json.Unmarshal(line, &cmd); err != nil {
		return Command{}, fmt.Errorf("decode command: %w", err)
	}
	if cmd.Cmd == "" {
		return Command{}, fmt.Errorf("decode command: missing cmd discriminator")
	}
	return cmd, nil
}

// DecodeEvent parses a single complete line into an event.
func DecodeEvent(line []byte) (Event, error) {
	var ev Event
	if err := json.Unmarshal(line, &ev); err != nil {
		return Event{}, fmt.Errorf("decode event: %w", err)
	}
	if ev.Event == "" {
		return Event{}, fmt.Errorf("decode event: missing event discriminator")
	}
	return ev, nil
}
