package bridge

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/murkandloam/the-gloaming-sub000/internal/protocol"
)

// fakeEngine spawns a supervisor over /bin/sh running the given script, with
// a listener that records every dispatched event.
func fakeEngine(t *testing.T, script string, grace time.Duration) (*Supervisor, chan protocol.Event) {
	t.Helper()

	cfg := DefaultConfig()
	cfg.EngineBinary = "/bin/sh"
	cfg.EngineArgs = []string{"-c", script}
	cfg.ShutdownGrace = grace

	sup := NewSupervisor(cfg, zerolog.Nop())
	events := make(chan protocol.Event, 64)
	sup.AddListener(func(ev protocol.Event) {
		events <- ev
	})
	return sup, events
}

func waitEvent(t *testing.T, events chan protocol.Event, typ protocol.EventType) protocol.Event {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case ev := <-events:
			if ev.Event == typ {
				return ev
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %q event", typ)
		}
	}
}

func waitReady(t *testing.T, sup *Supervisor) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !sup.IsReady() {
		if time.Now().After(deadline) {
			t.Fatal("engine never became ready")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestStartLatchesReadyFromEventStream(t *testing.T) {
	sup, events := fakeEngine(t, `printf '%s\n' '{"event":"ready"}'; sleep 10`, 200*time.Millisecond)

	require.NoError(t, sup.Start())
	defer sup.Stop()

	waitEvent(t, events, protocol.EventReady)
	assert.True(t, sup.IsReady())
	assert.True(t, sup.IsRunning())
}

func TestStartIsIdempotentWhileRunning(t *testing.T) {
	sup, _ := fakeEngine(t, `printf '%s\n' '{"event":"ready"}'; sleep 10`, 200*time.Millisecond)

	require.NoError(t, sup.Start())
	defer sup.Stop()
	waitReady(t, sup)

	// Second start while alive must not spawn another process.
	require.NoError(t, sup.Start())
	assert.True(t, sup.IsReady())
}

func TestSpawnFailureReturnsErrorAndEmitsClosed(t *testing.T) {
	cfg := DefaultConfig()
	cfg.EngineBinary = "/nonexistent/engine-binary"

	sup := NewSupervisor(cfg, zerolog.Nop())
	events := make(chan protocol.Event, 8)
	sup.AddListener(func(ev protocol.Event) { events <- ev })

	err := sup.Start()
	require.Error(t, err)
	assert.False(t, sup.IsRunning())

	ev := waitEvent(t, events, protocol.EventClosed)
	assert.Equal(t, -1, ev.ExitCode)
}

func TestCrashEmitsClosedWithExitCode(t *testing.T) {
	sup, events := fakeEngine(t, `printf '%s\n' '{"event":"ready"}'; exit 3`, 200*time.Millisecond)

	require.NoError(t, sup.Start())

	ev := waitEvent(t, events, protocol.EventClosed)
	assert.Equal(t, 3, ev.ExitCode)
	assert.False(t, sup.IsReady(), "readiness must drop on exit")
	assert.False(t, sup.IsRunning())

	exitCode, exitTime := sup.LastExitInfo()
	assert.Equal(t, 3, exitCode)
	assert.False(t, exitTime.IsZero())
}

func TestMalformedStdoutLinesAreDroppedNotFatal(t *testing.T) {
	script := `printf '%s\n' '{"event":"ready"}' 'not json at all' '{"noDiscriminator":true}' '{"event":"loaded","id":"t1","duration":12.5}'; sleep 10`
	sup, events := fakeEngine(t, script, 200*time.Millisecond)

	require.NoError(t, sup.Start())
	defer sup.Stop()

	waitEvent(t, events, protocol.EventReady)
	ev := waitEvent(t, events, protocol.EventLoaded)
	assert.Equal(t, "t1", ev.ID)
	assert.InDelta(t, 12.5, ev.Duration, 1e-9)
}

func TestStderrNeverParsedAsProtocol(t *testing.T) {
	script := `printf '%s\n' '{"event":"loaded","id":"bogus"}' 1>&2; printf '%s\n' '{"event":"ready"}'; sleep 10`
	sup, events := fakeEngine(t, script, 200*time.Millisecond)

	require.NoError(t, sup.Start())
	defer sup.Stop()

	waitEvent(t, events, protocol.EventReady)
	select {
	case ev := <-events:
		assert.NotEqual(t, protocol.EventLoaded, ev.Event, "stderr line must not reach the event stream")
	case <-time.After(200 * time.Millisecond):
	}
}

func TestGracefulShutdownOnQuit(t *testing.T) {
	script := `printf '%s\n' '{"event":"ready"}'
while read line; do
  case "$line" in *quit*) exit 0;; esac
done`
	sup, events := fakeEngine(t, script, 2*time.Second)

	require.NoError(t, sup.Start())
	waitReady(t, sup)

	start := time.Now()
	sup.Stop()
	assert.Less(t, time.Since(start), 2*time.Second, "quit-aware engine should exit inside the grace period")

	ev := waitEvent(t, events, protocol.EventClosed)
	assert.Equal(t, 0, ev.ExitCode)
}

func TestStopForceKillsUnresponsiveEngine(t *testing.T) {
	// Engine never reads stdin and never exits on its own.
	sup, events := fakeEngine(t, `printf '%s\n' '{"event":"ready"}'; sleep 30`, 100*time.Millisecond)

	require.NoError(t, sup.Start())
	waitReady(t, sup)

	start := time.Now()
	sup.Stop()
	assert.Less(t, time.Since(start), 5*time.Second)

	waitEvent(t, events, protocol.EventClosed)
	assert.False(t, sup.IsRunning())
}

func TestRespawnFromClosedListenerIsSafe(t *testing.T) {
	// The documented recovery path: a listener reacts to closed by calling
	// Start again. Each spawn's exit plumbing must stay tied to its own
	// process, so back-to-back crashes and respawns deliver one clean closed
	// event per exit.
	cfg := DefaultConfig()
	cfg.EngineBinary = "/bin/sh"
	cfg.EngineArgs = []string{"-c", `printf '%s\n' '{"event":"ready"}'; exit 7`}
	cfg.ShutdownGrace = 100 * time.Millisecond

	sup := NewSupervisor(cfg, zerolog.Nop())

	const respawns = 3
	closed := make(chan protocol.Event, 16)
	var spawned int32
	sup.AddListener(func(ev protocol.Event) {
		if ev.Event != protocol.EventClosed {
			return
		}
		closed <- ev
		if atomic.AddInt32(&spawned, 1) < respawns {
			assert.NoError(t, sup.Start())
		}
	})

	require.NoError(t, sup.Start())

	for i := 0; i < respawns; i++ {
		select {
		case ev := <-closed:
			assert.Equal(t, 7, ev.ExitCode)
		case <-time.After(3 * time.Second):
			t.Fatalf("closed event %d never arrived", i+1)
		}
	}
}

func TestSendFailsWhenNotRunning(t *testing.T) {
	sup := NewSupervisor(DefaultConfig(), zerolog.Nop())
	err := sup.Send(protocol.PlayCommand())
	assert.ErrorIs(t, err, ErrEngineNotRunning)
}

func TestControllerRejectsCommandsBeforeReady(t *testing.T) {
	// Engine stays silent, so readiness never latches.
	sup, _ := fakeEngine(t, `sleep 10`, 100*time.Millisecond)
	ctrl := NewController(sup, zerolog.Nop())

	require.NoError(t, sup.Start())
	defer sup.Stop()

	assert.ErrorIs(t, ctrl.Play(), ErrEngineNotReady)
	assert.ErrorIs(t, ctrl.Load("t1", "/tmp/a.mp3"), ErrEngineNotReady)
	assert.ErrorIs(t, ctrl.Seek(10), ErrEngineNotReady)
}

func TestControllerSendsAfterReady(t *testing.T) {
	// Engine echoes each received command back as an error event so the test
	// can observe what actually crossed the pipe.
	script := `printf '%s\n' '{"event":"ready"}'
while read line; do
  printf '{"event":"error","message":"%s"}\n' "$(printf '%s' "$line" | tr -d '"{}\\')"
done`
	sup, events := fakeEngine(t, script, 200*time.Millisecond)
	ctrl := NewController(sup, zerolog.Nop())

	require.NoError(t, sup.Start())
	defer sup.Stop()
	waitReady(t, sup)

	require.NoError(t, ctrl.Play())
	ev := waitEvent(t, events, protocol.EventError)
	assert.Contains(t, ev.Message, "play")
}

func TestControllerClampsVolumeAndSeek(t *testing.T) {
	script := `printf '%s\n' '{"event":"ready"}'; while read line; do :; done`
	sup, _ := fakeEngine(t, script, 200*time.Millisecond)
	ctrl := NewController(sup, zerolog.Nop())

	require.NoError(t, sup.Start())
	defer sup.Stop()
	waitReady(t, sup)

	// Out-of-range values are clamped host-side before encoding; the send
	// itself must succeed.
	assert.NoError(t, ctrl.SetVolume(2.5))
	assert.NoError(t, ctrl.SetVolume(-1))
	assert.NoError(t, ctrl.Seek(-30))
}
