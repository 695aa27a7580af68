package bridge

import (
	"github.com/rs/zerolog"
)

// Bridge bundles the host-side playback transport: the process supervisor,
// the typed command surface, and the websocket event fan-out. It is an
// explicit context object passed to whoever needs playback; nothing in this
// package holds package-level state.
type Bridge struct {
	Supervisor  *Supervisor
	Controller  *Controller
	Broadcaster *EventBroadcaster
}

// New wires up a bridge from the given configuration. Call Start to spawn
// the engine and Shutdown to tear it down.
func New(cfg Config, logger zerolog.Logger) *Bridge {
	sup := NewSupervisor(cfg, logger)
	return &Bridge{
		Supervisor:  sup,
		Controller:  NewController(sup, logger),
		Broadcaster: NewEventBroadcaster(cfg, sup, logger),
	}
}

// Start spawns the engine process.
func (b *Bridge) Start() error {
	return b.Supervisor.Start()
}

// Shutdown performs the graceful-then-forced engine teardown.
func (b *Bridge) Shutdown() {
	b.Supervisor.Stop()
}
