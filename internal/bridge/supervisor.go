package bridge

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/murkandloam/the-gloaming-sub000/internal/protocol"
)

// ErrEngineNotRunning is returned by Send when no engine process is alive.
var ErrEngineNotRunning = errors.New("engine process not running")

// EventListener receives every event decoded from the engine, in order, on
// the supervisor's dispatch goroutine.
type EventListener func(ev protocol.Event)

// Supervisor owns the lifecycle of the audio-rendering subprocess: spawn,
// readiness tracking, event decoding, crash/exit handling, and graceful-
// then-forced shutdown. The host is expected to construct exactly one per
// session and respawn via Start after a closed event.
type Supervisor struct {
	cfg    Config
	logger zerolog.Logger

	running  int32 // atomic; spawn-once guard
	ready    int32 // atomic; latched by the ready event
	stopping int32 // atomic; suppresses crash accounting during shutdown

	mutex        sync.RWMutex
	cmd          *exec.Cmd
	stdin        io.WriteCloser
	stdinMu      sync.Mutex
	lastExitCode int
	lastExitTime time.Time

	listenerMu sync.RWMutex
	listeners  []EventListener

	events      chan protocol.Event
	processDone chan struct{}
}

// NewSupervisor creates a supervisor; it does not spawn anything yet.
func NewSupervisor(cfg Config, logger zerolog.Logger) *Supervisor {
	return &Supervisor{
		cfg:    cfg,
		logger: logger.With().Str("component", "engine-supervisor").Logger(),
	}
}

// AddListener registers an event listener. Listeners added after Start still
// receive subsequent events.
func (s *Supervisor) AddListener(fn EventListener) {
	s.listenerMu.Lock()
	defer s.listenerMu.Unlock()
	s.listeners = append(s.listeners, fn)
}

// IsReady reports whether the engine has confirmed readiness. Commands
// issued before that are intentionally lost.
func (s *Supervisor) IsReady() bool {
	return atomic.LoadInt32(&s.ready) == 1
}

// IsRunning reports whether an engine process is currently alive.
func (s *Supervisor) IsRunning() bool {
	return atomic.LoadInt32(&s.running) == 1
}

// LastExitInfo returns the last engine exit code and when it happened.
func (s *Supervisor) LastExitInfo() (exitCode int, exitTime time.Time) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.lastExitCode, s.lastExitTime
}

// Start spawns the engine process. A second Start while one is active or
// spawning is a no-op. A spawn failure surfaces both as the returned error
// and as a closed event, so event-driven consumers see a consistent story.
func (s *Supervisor) Start() error {
	if !atomic.CompareAndSwapInt32(&s.running, 0, 1) {
		s.logger.Debug().Msg("start ignored, engine already active")
		return nil
	}
	atomic.StoreInt32(&s.ready, 0)
	atomic.StoreInt32(&s.stopping, 0)

	binary := s.cfg.EngineBinary
	if binary == "" {
		exe, err := os.Executable()
		if err != nil {
			atomic.StoreInt32(&s.running, 0)
			return fmt.Errorf("resolve engine binary: %w", err)
		}
		binary = exe
	}

	cmd := exec.Command(binary, s.cfg.EngineArgs...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		atomic.StoreInt32(&s.running, 0)
		return fmt.Errorf("engine stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		atomic.StoreInt32(&s.running, 0)
		return fmt.Errorf("engine stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		atomic.StoreInt32(&s.running, 0)
		return fmt.Errorf("engine stderr pipe: %w", err)
	}

	metricEngineSpawns.Inc()
	if err := cmd.Start(); err != nil {
		atomic.StoreInt32(&s.running, 0)
		s.logger.Error().Err(err).Str("binary", binary).Msg("engine spawn failed")
		s.notifySpawnFailure()
		return fmt.Errorf("spawn engine process: %w", err)
	}

	// Per-spawn channels are captured as locals and handed to the goroutines
	// directly: a respawn reassigns the fields, and the previous spawn's
	// goroutines must keep operating on their own channels.
	events := make(chan protocol.Event, s.cfg.DispatchBuffer)
	processDone := make(chan struct{})

	s.mutex.Lock()
	s.cmd = cmd
	s.stdin = stdin
	s.events = events
	s.processDone = processDone
	s.mutex.Unlock()

	s.logger.Info().Int("pid", cmd.Process.Pid).Str("binary", binary).Msg("engine process started")

	go s.dispatchLoop(events, processDone)

	var readers sync.WaitGroup
	readers.Add(2)
	go func() {
		defer readers.Done()
		s.readEvents(stdout, events)
	}()
	go func() {
		defer readers.Done()
		s.readDiagnostics(stderr)
	}()
	go s.waitForExit(cmd, &readers, events, processDone)

	return nil
}

// notifySpawnFailure delivers a synthetic closed event outside the normal
// pipeline, since no dispatch goroutine exists for a process that never
// spawned.
func (s *Supervisor) notifySpawnFailure() {
	recordEngineExit(true)
	ev := protocol.ClosedEvent(-1)
	s.listenerMu.RLock()
	listeners := append([]EventListener(nil), s.listeners...)
	s.listenerMu.RUnlock()
	for _, fn := range listeners {
		fn(ev)
	}
}

// readEvents decodes the protocol channel. Malformed lines are dropped by
// the codec with a diagnostic; they never interrupt the stream.
func (s *Supervisor) readEvents(stdout io.Reader, events chan<- protocol.Event) {
	dec := protocol.NewEventStreamDecoder(s.logger, metricParseErrors.Inc)
	buf := make([]byte, 4096)
	for {
		n, err := stdout.Read(buf)
		if n > 0 {
			for _, ev := range dec.Feed(buf[:n]) {
				s.handleEvent(ev, events)
			}
		}
		if err != nil {
			if err != io.EOF {
				s.logger.Debug().Err(err).Msg("event stream closed")
			}
			return
		}
	}
}

// readDiagnostics forwards the engine's stderr, which carries free-form log
// text only; protocol messages never appear there.
func (s *Supervisor) readDiagnostics(stderr io.Reader) {
	scanner := bufio.NewScanner(stderr)
	scanner.Buffer(make([]byte, 0, 64*1024), 256*1024)
	for scanner.Scan() {
		s.logger.Debug().Str("stream", "engine-stderr").Msg(scanner.Text())
	}
}

func (s *Supervisor) handleEvent(ev protocol.Event, events chan<- protocol.Event) {
	recordEventReceived(ev)
	if ev.Event == protocol.EventReady {
		atomic.StoreInt32(&s.ready, 1)
		s.logger.Info().Msg("engine confirmed ready")
	}
	select {
	case events <- ev:
	default:
		// A wedged listener must not back-pressure the decoder.
		s.logger.Warn().Str("event", string(ev.Event)).Msg("event dispatch queue full, dropping")
	}
}

func (s *Supervisor) dispatchLoop(events <-chan protocol.Event, done <-chan struct{}) {
	for {
		select {
		case ev := <-events:
			s.dispatch(ev)
		case <-done:
			// Drain what the reader already queued, then stop.
			for {
				select {
				case ev := <-events:
					s.dispatch(ev)
				default:
					return
				}
			}
		}
	}
}

func (s *Supervisor) dispatch(ev protocol.Event) {
	s.listenerMu.RLock()
	listeners := append([]EventListener(nil), s.listeners...)
	s.listenerMu.RUnlock()
	for _, fn := range listeners {
		fn(ev)
	}
}

func (s *Supervisor) waitForExit(cmd *exec.Cmd, readers *sync.WaitGroup, events chan protocol.Event, processDone chan struct{}) {
	readers.Wait()
	err := cmd.Wait()

	exitCode := 0
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			exitCode = exitErr.ExitCode()
		} else {
			exitCode = -1
		}
	}

	s.mutex.Lock()
	s.lastExitCode = exitCode
	s.lastExitTime = time.Now()
	s.mutex.Unlock()

	atomic.StoreInt32(&s.ready, 0)
	atomic.StoreInt32(&s.running, 0)

	crashed := exitCode != 0 && atomic.LoadInt32(&s.stopping) == 0
	recordEngineExit(crashed)
	if crashed {
		s.logger.Error().Int("exit_code", exitCode).Msg("engine process crashed")
	} else {
		s.logger.Info().Int("exit_code", exitCode).Msg("engine process exited")
	}

	// closed is the last event consumers see; it must trail any events still
	// queued for dispatch, so it goes through the same channel.
	select {
	case events <- protocol.ClosedEvent(exitCode):
	default:
		s.dispatch(protocol.ClosedEvent(exitCode))
	}
	close(processDone)
}

// Send encodes one command onto the engine's stdin. Fire-and-forget; there
// is no response correlation.
func (s *Supervisor) Send(cmd protocol.Command) error {
	if atomic.LoadInt32(&s.running) == 0 {
		return ErrEngineNotRunning
	}
	data, err := protocol.EncodeCommand(cmd)
	if err != nil {
		return err
	}

	s.mutex.RLock()
	stdin := s.stdin
	s.mutex.RUnlock()
	if stdin == nil {
		return ErrEngineNotRunning
	}

	s.stdinMu.Lock()
	_, err = stdin.Write(data)
	s.stdinMu.Unlock()
	if err != nil {
		return fmt.Errorf("write command %q: %w", cmd.Cmd, err)
	}
	metricCommandsSent.WithLabelValues(string(cmd.Cmd)).Inc()
	return nil
}

// Stop performs the two-phase shutdown: send quit, give the engine the
// grace period to wind down its output hardware, then force-terminate.
func (s *Supervisor) Stop() {
	if atomic.LoadInt32(&s.running) == 0 {
		return
	}
	atomic.StoreInt32(&s.stopping, 1)

	s.mutex.RLock()
	cmd := s.cmd
	processDone := s.processDone
	s.mutex.RUnlock()
	if processDone == nil {
		return
	}

	if err := s.Send(protocol.QuitCommand()); err != nil {
		s.logger.Warn().Err(err).Msg("quit command failed, terminating directly")
	}

	select {
	case <-processDone:
		s.logger.Info().Msg("engine exited gracefully")
		return
	case <-time.After(s.cfg.ShutdownGrace):
	}

	s.logger.Warn().Dur("grace", s.cfg.ShutdownGrace).Msg("engine did not exit in time, force terminating")
	if cmd != nil && cmd.Process != nil {
		if err := cmd.Process.Kill(); err != nil {
			s.logger.Error().Err(err).Msg("engine kill failed")
		}
	}

	select {
	case <-processDone:
	case <-time.After(2 * time.Second):
		s.logger.Error().Msg("engine still not reaped after kill")
	}
}
