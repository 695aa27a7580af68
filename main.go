// Package gloaming is the host side of the gapless playback transport: it
// supervises the audio engine subprocess and exposes playback control over
// HTTP and websocket. The same binary re-enters as the engine when started
// with --engine-server.
package gloaming

import (
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/murkandloam/the-gloaming-sub000/internal/bridge"
	"github.com/murkandloam/the-gloaming-sub000/internal/engine"
	"github.com/murkandloam/the-gloaming-sub000/internal/logging"
)

// EngineServerFlag selects engine mode on the shared binary.
const EngineServerFlag = "--engine-server"

func Main() {
	for _, arg := range os.Args[1:] {
		if arg == EngineServerFlag {
			if err := engine.RunEngineServer(); err != nil {
				logger := logging.GetSubsystemLogger("engine-server")
				logger.Error().Err(err).Msg("engine server failed")
				os.Exit(1)
			}
			return
		}
	}
	runHost()
}

func runHost() {
	logger := logging.GetSubsystemLogger("host")

	cfg := bridge.DefaultConfig()
	if bin := os.Getenv("GLOAMING_ENGINE_BINARY"); bin != "" {
		cfg.EngineBinary = bin
	}

	b := bridge.New(cfg, logging.GetDefaultLogger())
	if err := b.Start(); err != nil {
		logger.Error().Err(err).Msg("failed to start playback engine")
		os.Exit(1)
	}

	addr := os.Getenv("GLOAMING_HTTP_ADDR")
	if addr == "" {
		addr = ":8080"
	}

	server := &http.Server{
		Addr:              addr,
		Handler:           NewRouter(b),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info().Str("addr", addr).Msg("web server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("web server failed")
			os.Exit(1)
		}
	}()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	<-sigs
	logger.Info().Msg("shutting down")

	_ = server.Close()
	b.Shutdown()
}
