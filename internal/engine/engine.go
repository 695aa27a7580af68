// Package engine implements the playback state machine resident in the
// audio-rendering process: the two-slot queue (current, preloaded), gapless
// promotion on end-of-track or manual skip, and position/spectrum telemetry.
package engine

import (
	"context"
	"fmt"
	"os"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/murkandloam/the-gloaming-sub000/internal/protocol"
)

type playState int

const (
	stateIdle playState = iota
	stateLoading
	stateReady
	statePlaying
	statePaused
)

func (s playState) String() string {
	switch s {
	case stateIdle:
		return "idle"
	case stateLoading:
		return "loading"
	case stateReady:
		return "ready"
	case statePlaying:
		return "playing"
	case statePaused:
		return "paused"
	default:
		return "unknown"
	}
}

// Emitter delivers events to the host. Implementations must be safe for
// concurrent use; the control loop and the spectrum reader both emit.
type Emitter interface {
	Emit(ev protocol.Event)
}

// slot is one of the two playback queue positions. The generation tag is
// compared by every asynchronous completion before it is allowed to mutate
// state; a completion whose generation no longer names a live slot is
// discarded.
type slot struct {
	trackID     string
	path        string
	handle      Handle
	duration    time.Duration
	hasDuration bool
	playable    bool
	generation  uint64

	// resolving is true while the resolve goroutine still owns the handle.
	// A slot discarded mid-resolution leaves handle cleanup to the final
	// resolution completion.
	resolving bool

	// awaitingChange marks a slot promoted to current before its duration
	// resolved; trackChanged is deferred until the duration arrives.
	awaitingChange bool
}

func (s *slot) durationSeconds() float64 {
	return s.duration.Seconds()
}

// Engine is the playback state machine. All state mutation is serialized
// onto one control goroutine; public methods and asynchronous completions
// post closures to it.
type Engine struct {
	cfg     Config
	logger  zerolog.Logger
	backend Backend
	output  Output
	emitter Emitter

	tasks chan func()
	done  chan struct{}

	genCounter  uint64
	current     *slot
	preloaded   *slot
	state       playState
	volume      float64
	pendingSeek time.Duration

	// Published for the spectrum reader, which runs off the control loop.
	telemetryPos     atomic.Int64 // nanoseconds
	telemetryPlaying atomic.Bool

	spectrum *spectrumReader
}

// New creates an engine bound to the given capability implementations.
func New(cfg Config, backend Backend, output Output, emitter Emitter, logger zerolog.Logger) *Engine {
	e := &Engine{
		cfg:     cfg,
		logger:  logger,
		backend: backend,
		output:  output,
		emitter: emitter,
		tasks:   make(chan func(), 64),
		done:    make(chan struct{}),
		volume:  1.0,
	}
	e.spectrum = newSpectrumReader(cfg, backend, emitter, e, logger)
	return e
}

// Run executes the control loop until the context is cancelled or Quit is
// received. It owns the two playback slots exclusively.
func (e *Engine) Run(ctx context.Context) {
	e.output.SetEndFunc(func() {
		e.post(e.onTrackDrained)
	})

	go e.tickLoop(ctx)
	go e.spectrum.run(ctx)

	for {
		select {
		case task := <-e.tasks:
			task()
		case <-ctx.Done():
			e.shutdown()
			return
		case <-e.done:
			e.shutdown()
			return
		}
	}
}

// Quit requests control loop termination.
func (e *Engine) Quit() {
	e.post(func() {
		select {
		case <-e.done:
		default:
			close(e.done)
		}
	})
}

// HandleCommand dispatches a decoded wire command onto the control loop.
// Safe to call from the transport reader goroutine.
func (e *Engine) HandleCommand(cmd protocol.Command) {
	switch cmd.Cmd {
	case protocol.CmdLoad:
		id, path := cmd.ID, cmd.Path
		e.post(func() { e.load(id, path) })
	case protocol.CmdPreload:
		id, path := cmd.ID, cmd.Path
		e.post(func() { e.preload(id, path) })
	case protocol.CmdPlay:
		e.post(e.play)
	case protocol.CmdPause:
		e.post(e.pause)
	case protocol.CmdStop:
		e.post(e.stop)
	case protocol.CmdSeek:
		pos := cmd.Position
		e.post(func() { e.seek(pos) })
	case protocol.CmdVolume:
		level := cmd.Level
		e.post(func() { e.setVolume(level) })
	case protocol.CmdPlayNext:
		e.post(e.playNext)
	case protocol.CmdSetLookahead:
		seconds := cmd.Seconds
		e.post(func() { e.setLookahead(seconds) })
	case protocol.CmdQuit:
		e.Quit()
	default:
		e.logger.Warn().Str("cmd", string(cmd.Cmd)).Msg("unknown command ignored")
	}
}

func (e *Engine) post(task func()) {
	select {
	case e.tasks <- task:
	case <-e.done:
	}
}

// PositionTelemetry reports the last published playback position and whether
// the machine is in the playing state. Used by the spectrum reader.
func (e *Engine) PositionTelemetry() (time.Duration, bool) {
	return time.Duration(e.telemetryPos.Load()), e.telemetryPlaying.Load()
}

// --- control loop operations -------------------------------------------------

func (e *Engine) load(id, path string) {
	if _, err := os.Stat(path); err != nil {
		e.logger.Warn().Str("track", id).Str("path", path).Err(err).Msg("load target missing")
		e.emitter.Emit(protocol.ErrorEvent("file not found", path))
		return
	}

	// A new load resets the decode queue to a single item: halt whatever is
	// rendering, drop the preloaded slot, and discard any resolution in
	// flight for either slot.
	e.output.Stop()
	e.discardSlot(e.preloaded)
	e.preloaded = nil
	e.discardSlot(e.current)
	e.spectrum.clearSource()
	e.pendingSeek = 0

	e.genCounter++
	cur := &slot{
		trackID:    id,
		path:       path,
		generation: e.genCounter,
		resolving:  true,
	}
	e.current = cur
	e.setState(stateLoading)

	go e.resolve(cur.generation, id, path)
}

func (e *Engine) preload(id, path string) {
	if _, err := os.Stat(path); err != nil {
		e.logger.Warn().Str("track", id).Str("path", path).Err(err).Msg("preload target missing")
		e.emitter.Emit(protocol.ErrorEvent("file not found", path))
		return
	}

	// Replacing an earlier preload invalidates its generation and unchains
	// it from the output.
	e.output.ClearNext()
	e.discardSlot(e.preloaded)

	e.genCounter++
	pre := &slot{
		trackID:    id,
		path:       path,
		generation: e.genCounter,
		resolving:  true,
	}
	e.preloaded = pre

	// With nothing current the preloaded track sits at the head of the
	// decode queue; it still only starts on promotion or an explicit load.
	go e.resolve(pre.generation, id, path)
}

// resolve runs off the control loop. It posts two completions: playable
// status first, duration second. The duration completion is final and owns
// stale-handle cleanup.
func (e *Engine) resolve(gen uint64, id, path string) {
	h, err := e.backend.Open(path)
	if err == nil {
		err = h.Probe()
		if err != nil {
			_ = h.Close()
			h = nil
		}
	}
	if err != nil {
		e.post(func() { e.onResolveFailed(gen, id, err) })
		return
	}

	e.post(func() { e.onPlayable(gen, h) })

	d, derr := h.Duration()
	e.post(func() { e.onDuration(gen, h, d, derr) })
}

func (e *Engine) slotByGeneration(gen uint64) *slot {
	if e.current != nil && e.current.generation == gen {
		return e.current
	}
	if e.preloaded != nil && e.preloaded.generation == gen {
		return e.preloaded
	}
	return nil
}

func (e *Engine) onResolveFailed(gen uint64, id string, err error) {
	s := e.slotByGeneration(gen)
	if s == nil {
		e.logger.Debug().Uint64("generation", gen).Msg("discarding stale resolution failure")
		return
	}
	s.resolving = false
	e.logger.Warn().Str("track", id).Err(err).Msg("asset resolution failed")
	e.emitter.Emit(protocol.ErrorEvent(fmt.Sprintf("asset resolution failed: %v", err), s.path))

	if s == e.current {
		e.current = nil
		e.setState(stateIdle)
	} else {
		e.preloaded = nil
	}
}

func (e *Engine) onPlayable(gen uint64, h Handle) {
	s := e.slotByGeneration(gen)
	if s == nil {
		// Stale; the final duration completion closes the handle.
		e.logger.Debug().Uint64("generation", gen).Msg("discarding stale playable completion")
		return
	}
	s.handle = h
	s.playable = true

	if s == e.preloaded {
		// Preload readiness is reported as soon as playable status
		// resolves; duration may still be pending.
		e.emitter.Emit(protocol.PreloadedEvent(s.trackID))
		if e.state == statePlaying || e.state == statePaused {
			if err := e.output.QueueNext(h); err != nil {
				e.logger.Warn().Str("track", s.trackID).Err(err).Msg("failed to queue preloaded track")
			}
		}
	}
}

func (e *Engine) onDuration(gen uint64, h Handle, d time.Duration, err error) {
	s := e.slotByGeneration(gen)
	if s == nil {
		e.logger.Debug().Uint64("generation", gen).Msg("discarding stale duration completion")
		_ = h.Close()
		return
	}
	s.resolving = false

	if err != nil {
		e.logger.Warn().Str("track", s.trackID).Err(err).Msg("duration resolution failed")
		e.emitter.Emit(protocol.ErrorEvent(fmt.Sprintf("duration resolution failed: %v", err), s.path))
		if s.awaitingChange {
			// The track is already audible; report the rollover with an
			// unknown duration rather than withholding it forever.
			s.awaitingChange = false
			e.emitter.Emit(protocol.TrackChangedEvent(s.trackID, 0))
			return
		}
		if s == e.current && e.state == stateLoading {
			e.discardSlot(e.current)
			e.current = nil
			e.setState(stateIdle)
		}
		return
	}

	// Captured exactly once; never re-read from the live asset later.
	s.duration = d
	s.hasDuration = true

	if s == e.current {
		if e.state == stateLoading {
			e.setState(stateReady)
			e.emitter.Emit(protocol.LoadedEvent(s.trackID, s.durationSeconds()))
		}
		if s.awaitingChange {
			s.awaitingChange = false
			e.emitter.Emit(protocol.TrackChangedEvent(s.trackID, s.durationSeconds()))
		}
	}
}

func (e *Engine) play() {
	switch e.state {
	case statePaused:
		e.output.Resume()
		e.setState(statePlaying)
	case stateReady:
		if e.current == nil || e.current.handle == nil {
			e.logger.Warn().Msg("play with no resolved track")
			return
		}
		if err := e.output.Play(e.current.handle); err != nil {
			e.emitter.Emit(protocol.ErrorEvent(fmt.Sprintf("playback start failed: %v", err), e.current.path))
			return
		}
		e.output.SetVolume(e.volume)
		if e.pendingSeek > 0 {
			if err := e.output.Seek(e.pendingSeek); err != nil {
				e.logger.Warn().Dur("position", e.pendingSeek).Err(err).Msg("deferred seek failed")
			}
			e.pendingSeek = 0
		}
		if e.preloaded != nil && e.preloaded.handle != nil {
			if err := e.output.QueueNext(e.preloaded.handle); err != nil {
				e.logger.Warn().Str("track", e.preloaded.trackID).Err(err).Msg("failed to queue preloaded track")
			}
		}
		e.spectrum.setSource(e.current.path)
		e.setState(statePlaying)
	case statePlaying:
		// Already playing.
	default:
		e.logger.Debug().Str("state", e.state.String()).Msg("play ignored in current state")
	}
}

func (e *Engine) pause() {
	if e.state != statePlaying {
		return
	}
	e.output.Pause()
	e.setState(statePaused)
	e.emitState(false)
}

func (e *Engine) stop() {
	if e.state != statePlaying && e.state != statePaused {
		return
	}
	e.output.Stop()
	e.pendingSeek = 0
	if e.current != nil {
		e.setState(stateReady)
	} else {
		e.setState(stateIdle)
	}
	e.emitState(false)
}

func (e *Engine) seek(positionSeconds float64) {
	if e.current == nil {
		e.logger.Debug().Msg("seek with no current track")
		return
	}
	if positionSeconds < 0 {
		positionSeconds = 0
	}
	if e.current.hasDuration && positionSeconds > e.current.durationSeconds() {
		positionSeconds = e.current.durationSeconds()
	}
	pos := time.Duration(positionSeconds * float64(time.Second))

	switch e.state {
	case statePlaying, statePaused:
		if err := e.output.Seek(pos); err != nil {
			e.emitter.Emit(protocol.ErrorEvent(fmt.Sprintf("seek failed: %v", err), e.current.path))
			return
		}
	default:
		// Not rendering yet; applied when playback starts.
		e.pendingSeek = pos
	}

	// Exactly one state report at the new position, even while paused:
	// callers keep a displayed position accurate without requiring
	// playback.
	e.telemetryPos.Store(int64(pos))
	e.emitter.Emit(protocol.StateEvent(e.state == statePlaying, positionSeconds, e.currentDurationSeconds()))
}

func (e *Engine) setVolume(level float64) {
	if level < 0 {
		level = 0
	} else if level > 1 {
		level = 1
	}
	e.volume = level
	e.output.SetVolume(level)
}

func (e *Engine) setLookahead(seconds float64) {
	d := time.Duration(seconds * float64(time.Second))
	if d < 0 {
		d = 0
	}
	if d > e.cfg.MaxLookahead {
		d = e.cfg.MaxLookahead
	}
	e.spectrum.setLookahead(d)
}

// playNext is the manual skip. Unlike natural end it does not emit
// trackEnded for the skipped track; clients tell "finished" from "skipped"
// by that difference.
func (e *Engine) playNext() {
	if e.preloaded == nil || !e.preloaded.playable || e.preloaded.handle == nil {
		if e.preloaded != nil {
			e.logger.Warn().Str("track", e.preloaded.trackID).Msg("skip before preload resolved; dropping both slots")
		}
		e.output.Stop()
		e.discardSlot(e.preloaded)
		e.preloaded = nil
		e.discardSlot(e.current)
		e.current = nil
		e.spectrum.clearSource()
		e.setState(stateIdle)
		return
	}

	if !e.output.SkipNext() {
		// Successor was never queued (e.g. machine was stopped); start it
		// directly.
		if err := e.output.Play(e.preloaded.handle); err != nil {
			e.emitter.Emit(protocol.ErrorEvent(fmt.Sprintf("skip failed: %v", err), e.preloaded.path))
			return
		}
		e.output.SetVolume(e.volume)
	}
	e.promote()
}

// onTrackDrained handles natural end-of-track. Output has already rolled
// into the queued successor when one exists, so the audible transition is
// complete before any bookkeeping here runs.
func (e *Engine) onTrackDrained() {
	if e.state != statePlaying || e.current == nil {
		e.logger.Debug().Str("state", e.state.String()).Msg("ignoring stale end-of-track notification")
		return
	}
	e.emitter.Emit(protocol.TrackEndedEvent(e.current.trackID))
	e.promote()
}

// promote moves the preloaded slot into current. The cached duration moves
// with it; duration is never re-queried from the live asset.
func (e *Engine) promote() {
	if e.preloaded == nil || !e.preloaded.playable || e.preloaded.handle == nil {
		e.output.Stop()
		e.discardSlot(e.preloaded)
		e.preloaded = nil
		e.discardSlot(e.current)
		e.current = nil
		e.spectrum.clearSource()
		e.setState(stateIdle)
		return
	}

	old := e.current
	e.current = e.preloaded
	e.preloaded = nil
	e.pendingSeek = 0
	e.discardSlot(old)

	e.spectrum.setSource(e.current.path)
	e.setState(statePlaying)

	if e.current.hasDuration {
		e.emitter.Emit(protocol.TrackChangedEvent(e.current.trackID, e.current.durationSeconds()))
	} else {
		// Duration is mandatory before the promotion is reported; defer
		// trackChanged until the resolution completion lands.
		e.current.awaitingChange = true
	}
}

// --- helpers -----------------------------------------------------------------

func (e *Engine) setState(s playState) {
	if e.state == s {
		return
	}
	e.logger.Debug().Str("from", e.state.String()).Str("to", s.String()).Msg("state transition")
	e.state = s
	e.telemetryPlaying.Store(s == statePlaying)
}

func (e *Engine) currentDurationSeconds() float64 {
	if e.current == nil || !e.current.hasDuration {
		return 0
	}
	return e.current.durationSeconds()
}

func (e *Engine) emitState(playing bool) {
	pos := e.output.Position()
	e.telemetryPos.Store(int64(pos))
	e.emitter.Emit(protocol.StateEvent(playing, pos.Seconds(), e.currentDurationSeconds()))
}

// discardSlot invalidates a slot. Handles owned by an in-flight resolve
// goroutine are closed by its final completion instead.
func (e *Engine) discardSlot(s *slot) {
	if s == nil {
		return
	}
	if !s.resolving && s.handle != nil {
		if err := s.handle.Close(); err != nil {
			e.logger.Debug().Str("track", s.trackID).Err(err).Msg("handle close failed")
		}
	}
	s.handle = nil
	s.playable = false
}

func (e *Engine) tickLoop(ctx context.Context) {
	ticker := time.NewTicker(e.cfg.TickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			e.post(e.tick)
		case <-ctx.Done():
			return
		case <-e.done:
			return
		}
	}
}

// tick emits periodic position telemetry; it runs only while playing.
func (e *Engine) tick() {
	if e.state != statePlaying {
		return
	}
	e.emitState(true)
}

func (e *Engine) shutdown() {
	e.output.Stop()
	e.discardSlot(e.preloaded)
	e.preloaded = nil
	e.discardSlot(e.current)
	e.current = nil
	e.setState(stateIdle)
}
