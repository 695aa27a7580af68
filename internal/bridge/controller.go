package bridge

import (
	"errors"

	"github.com/rs/zerolog"

	"github.com/murkandloam/the-gloaming-sub000/internal/protocol"
)

// ErrEngineNotReady is returned when a command is issued before the engine
// has announced readiness, or after it has exited. Commands are never
// queued; callers retry once a fresh ready event arrives.
var ErrEngineNotReady = errors.New("engine not ready")

// Controller is the typed command surface over the supervisor's raw send.
// Every method is fire-and-forget: a nil return means the command reached
// the engine's stdin, not that it took effect.
type Controller struct {
	sup    *Supervisor
	logger zerolog.Logger
}

// NewController wraps a supervisor with the typed command vocabulary.
func NewController(sup *Supervisor, logger zerolog.Logger) *Controller {
	return &Controller{
		sup:    sup,
		logger: logger.With().Str("component", "playback-controller").Logger(),
	}
}

func (c *Controller) send(cmd protocol.Command) error {
	if !c.sup.IsReady() {
		metricCommandsDropped.Inc()
		c.logger.Debug().Str("cmd", string(cmd.Cmd)).Msg("dropping command, engine not ready")
		return ErrEngineNotReady
	}
	return c.sup.Send(cmd)
}

// Load replaces the active track. The engine discards both slots, so any
// in-flight preload is implicitly cancelled.
func (c *Controller) Load(trackID, path string) error {
	return c.send(protocol.LoadCommand(trackID, path))
}

// Preload stages the next track for gapless rollover.
func (c *Controller) Preload(trackID, path string) error {
	return c.send(protocol.PreloadCommand(trackID, path))
}

// Play starts or resumes rendering of the loaded track.
func (c *Controller) Play() error {
	return c.send(protocol.PlayCommand())
}

// Pause suspends rendering, keeping position.
func (c *Controller) Pause() error {
	return c.send(protocol.PauseCommand())
}

// Stop halts rendering and rewinds to the start of the loaded track.
func (c *Controller) Stop() error {
	return c.send(protocol.StopCommand())
}

// Seek repositions within the current track. Negative positions are clamped
// here; the engine additionally clamps to track duration.
func (c *Controller) Seek(positionSeconds float64) error {
	if positionSeconds < 0 {
		positionSeconds = 0
	}
	return c.send(protocol.SeekCommand(positionSeconds))
}

// SetVolume adjusts output gain. Levels outside [0, 1] are clamped.
func (c *Controller) SetVolume(level float64) error {
	if level < 0 {
		level = 0
	} else if level > 1 {
		level = 1
	}
	return c.send(protocol.VolumeCommand(level))
}

// SkipToPreloaded promotes the preloaded track immediately, as a manual
// skip rather than a natural track end.
func (c *Controller) SkipToPreloaded() error {
	return c.send(protocol.PlayNextCommand())
}

// SetSpectrumLookahead tunes how far ahead of the play position the
// spectrum analyzer samples, compensating for output latency.
func (c *Controller) SetSpectrumLookahead(seconds float64) error {
	return c.send(protocol.SetLookaheadCommand(seconds))
}

// Quit asks the engine to exit voluntarily. Prefer Supervisor.Stop, which
// follows up with force-termination if the engine stalls.
func (c *Controller) Quit() error {
	return c.send(protocol.QuitCommand())
}
