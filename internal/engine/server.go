package engine

import (
	"context"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/rs/zerolog"

	"github.com/murkandloam/the-gloaming-sub000/internal/logging"
	"github.com/murkandloam/the-gloaming-sub000/internal/protocol"
)

// StreamEmitter writes events to the protocol channel. Serialized with a
// mutex because the control loop and the spectrum reader both emit.
type StreamEmitter struct {
	mu     sync.Mutex
	w      io.Writer
	logger zerolog.Logger
}

func NewStreamEmitter(w io.Writer, logger zerolog.Logger) *StreamEmitter {
	return &StreamEmitter{w: w, logger: logger}
}

func (s *StreamEmitter) Emit(ev protocol.Event) {
	data, err := protocol.EncodeEvent(ev)
	if err != nil {
		s.logger.Error().Err(err).Str("event", string(ev.Event)).Msg("event encode failed")
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.w.Write(data); err != nil {
		s.logger.Warn().Err(err).Str("event", string(ev.Event)).Msg("event write failed")
	}
}

// RunEngineServer is the audio subprocess entry: commands arrive on stdin,
// events leave on stdout, diagnostics go to stderr only. Called from main()
// when the engine-server mode flag is detected.
func RunEngineServer() error {
	logger := logging.GetSubsystemLogger("engine-server")
	logger.Info().Msg("starting engine server subprocess")

	emitter := NewStreamEmitter(os.Stdout, logger)
	eng := New(DefaultConfig(), NewBeepBackend(), NewBeepOutput(), emitter, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		logger.Info().Str("signal", sig.String()).Msg("received shutdown signal")
		cancel()
	}()

	go func() {
		dec := protocol.NewCommandStreamDecoder(logger, nil)
		buf := make([]byte, 4096)
		for {
			n, err := os.Stdin.Read(buf)
			if n > 0 {
				for _, cmd := range dec.Feed(buf[:n]) {
					eng.HandleCommand(cmd)
				}
			}
			if err != nil {
				if err != io.EOF {
					logger.Warn().Err(err).Msg("command stream read failed")
				}
				// Host went away; treat like quit.
				eng.Quit()
				return
			}
		}
	}()

	emitter.Emit(protocol.ReadyEvent())
	logger.Info().Bool("audio_available", AudioAvailable).Msg("engine server ready")

	eng.Run(ctx)
	logger.Info().Msg("engine server stopped")
	return nil
}
