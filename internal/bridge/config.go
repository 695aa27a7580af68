// Package bridge is the host side of the playback transport: it supervises
// the audio-rendering subprocess, feeds it typed commands over the wire
// codec, and fans decoded events out to listeners.
package bridge

import "time"

// Config centralizes the host-side tunables.
type Config struct {
	// EngineBinary is the executable spawned as the rendering process. An
	// empty value selects the running executable, which re-enters in engine
	// mode via EngineArgs.
	EngineBinary string

	// EngineArgs are passed to the spawned process.
	EngineArgs []string

	// ShutdownGrace is how long after sending quit the supervisor waits for
	// a voluntary exit before force-terminating. Abrupt termination can
	// leave output hardware in an inconsistent state, hence the two phases.
	ShutdownGrace time.Duration

	// DispatchBuffer sizes the event fan-out queue.
	DispatchBuffer int

	// SubscriberSendTimeout bounds each websocket event write.
	SubscriberSendTimeout time.Duration
}

// DefaultConfig returns the standard host tuning.
func DefaultConfig() Config {
	return Config{
		EngineArgs:            []string{"--engine-server"},
		ShutdownGrace:         500 * time.Millisecond,
		DispatchBuffer:        256,
		SubscriberSendTimeout: 5 * time.Second,
	}
}
