package bridge

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/murkandloam/the-gloaming-sub000/internal/protocol"
)

func newTestBroadcaster(t *testing.T) *EventBroadcaster {
	t.Helper()
	sup := NewSupervisor(DefaultConfig(), zerolog.Nop())
	return NewEventBroadcaster(DefaultConfig(), sup, zerolog.Nop())
}

func (b *EventBroadcaster) subscriberCount() int {
	b.mutex.RLock()
	defer b.mutex.RUnlock()
	return len(b.subscribers)
}

func TestSnapshotTracksEngineEventSequence(t *testing.T) {
	b := newTestBroadcaster(t)

	b.onEngineEvent(protocol.ReadyEvent())
	snap := b.Snapshot()
	assert.True(t, snap.Ready)
	assert.Empty(t, snap.TrackID)

	b.onEngineEvent(protocol.LoadedEvent("trk1", 181))
	snap = b.Snapshot()
	assert.Equal(t, "trk1", snap.TrackID)
	assert.InDelta(t, 181.0, snap.Duration, 1e-9)
	assert.Zero(t, snap.Position)
	assert.False(t, snap.Playing)

	b.onEngineEvent(protocol.StateEvent(true, 42.5, 181))
	snap = b.Snapshot()
	assert.True(t, snap.Playing)
	assert.InDelta(t, 42.5, snap.Position, 1e-9)

	// Gapless rollover: identity and duration switch, position rewinds.
	b.onEngineEvent(protocol.TrackChangedEvent("trk2", 200))
	snap = b.Snapshot()
	assert.Equal(t, "trk2", snap.TrackID)
	assert.InDelta(t, 200.0, snap.Duration, 1e-9)
	assert.Zero(t, snap.Position)
	assert.True(t, snap.Playing, "rollover does not interrupt playback")

	// Engine exit resets everything; clients must wait for a fresh ready.
	b.onEngineEvent(protocol.ClosedEvent(1))
	assert.Equal(t, PlaybackSnapshot{}, b.Snapshot())
}

func TestBroadcastPrunesSubscriberWithCancelledContext(t *testing.T) {
	b := newTestBroadcaster(t)
	logger := zerolog.Nop()

	dead, cancel := context.WithCancel(context.Background())
	cancel()

	// writeTo rejects a cancelled context before touching the connection,
	// so a nil conn stands in for the socket.
	b.Subscribe("gone", nil, dead, &logger)

	// The initial snapshot send already prunes it.
	require.Eventually(t, func() bool { return b.subscriberCount() == 0 },
		time.Second, 5*time.Millisecond, "cancelled subscriber should be pruned by its snapshot send")

	// Re-insert directly to drive the broadcast pruning path as well.
	b.mutex.Lock()
	b.subscribers["gone"] = &eventSubscriber{ctx: dead, logger: &logger}
	b.mutex.Unlock()

	b.onEngineEvent(protocol.ReadyEvent())

	assert.Zero(t, b.subscriberCount(), "broadcast must remove subscribers whose context is cancelled")
}

func TestUnsubscribeRemovesSubscription(t *testing.T) {
	b := newTestBroadcaster(t)
	logger := zerolog.Nop()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	b.Subscribe("c1", nil, ctx, &logger)
	b.Unsubscribe("c1")
	assert.Zero(t, b.subscriberCount())

	// Unsubscribing an unknown id is a no-op.
	b.Unsubscribe("c1")
	assert.Zero(t, b.subscriberCount())
}
