package bridge

import (
	"context"
	"strings"
	"sync"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/rs/zerolog"

	"github.com/murkandloam/the-gloaming-sub000/internal/protocol"
)

// eventSubscriber is one websocket connection receiving playback events.
type eventSubscriber struct {
	conn   *websocket.Conn
	ctx    context.Context
	logger *zerolog.Logger
}

// PlaybackSnapshot is the last-known playback state, sent to every new
// subscriber so a client attaching mid-track starts consistent.
type PlaybackSnapshot struct {
	TrackID  string  `json:"trackId,omitempty"`
	Playing  bool    `json:"playing"`
	Position float64 `json:"position"`
	Duration float64 `json:"duration"`
	Ready    bool    `json:"ready"`
}

// EventBroadcaster fans engine events out to websocket subscribers and
// maintains the playback snapshot. It registers itself as a supervisor
// listener; all state mutation happens on the dispatch goroutine.
type EventBroadcaster struct {
	cfg    Config
	logger zerolog.Logger

	mutex       sync.RWMutex
	subscribers map[string]*eventSubscriber
	snapshot    PlaybackSnapshot
}

// NewEventBroadcaster creates a broadcaster and wires it into the
// supervisor's event stream.
func NewEventBroadcaster(cfg Config, sup *Supervisor, logger zerolog.Logger) *EventBroadcaster {
	b := &EventBroadcaster{
		cfg:         cfg,
		logger:      logger.With().Str("component", "playback-events").Logger(),
		subscribers: make(map[string]*eventSubscriber),
	}
	sup.AddListener(b.onEngineEvent)
	return b
}

// Subscribe adds a websocket connection. An existing subscription under the
// same connection id is replaced without closing the shared connection.
func (b *EventBroadcaster) Subscribe(connectionID string, conn *websocket.Conn, ctx context.Context, logger *zerolog.Logger) {
	b.mutex.Lock()
	if _, exists := b.subscribers[connectionID]; exists {
		b.logger.Debug().Str("connectionID", connectionID).Msg("replacing existing event subscription")
		delete(b.subscribers, connectionID)
	}
	b.subscribers[connectionID] = &eventSubscriber{conn: conn, ctx: ctx, logger: logger}
	count := len(b.subscribers)
	snapshot := b.snapshot
	b.mutex.Unlock()

	metricEventSubscribers.Set(float64(count))
	b.logger.Debug().Str("connectionID", connectionID).Msg("event subscription added")

	go b.sendSnapshot(connectionID, snapshot)
}

// Unsubscribe removes a websocket connection.
func (b *EventBroadcaster) Unsubscribe(connectionID string) {
	b.mutex.Lock()
	delete(b.subscribers, connectionID)
	count := len(b.subscribers)
	b.mutex.Unlock()

	metricEventSubscribers.Set(float64(count))
	b.logger.Debug().Str("connectionID", connectionID).Msg("event subscription removed")
}

// Snapshot returns the current playback snapshot.
func (b *EventBroadcaster) Snapshot() PlaybackSnapshot {
	b.mutex.RLock()
	defer b.mutex.RUnlock()
	return b.snapshot
}

// onEngineEvent updates the snapshot and relays the event. Runs on the
// supervisor dispatch goroutine, so snapshot updates are ordered exactly as
// the engine emitted them.
func (b *EventBroadcaster) onEngineEvent(ev protocol.Event) {
	b.mutex.Lock()
	switch ev.Event {
	case protocol.EventReady:
		b.snapshot = PlaybackSnapshot{Ready: true}
	case protocol.EventLoaded:
		b.snapshot.TrackID = ev.ID
		b.snapshot.Duration = ev.Duration
		b.snapshot.Position = 0
		b.snapshot.Playing = false
	case protocol.EventState:
		b.snapshot.Playing = ev.Playing
		b.snapshot.Position = ev.Position
		b.snapshot.Duration = ev.Duration
	case protocol.EventTrackChanged:
		b.snapshot.TrackID = ev.ID
		b.snapshot.Duration = ev.Duration
		b.snapshot.Position = 0
	case protocol.EventClosed:
		b.snapshot = PlaybackSnapshot{}
	}
	b.mutex.Unlock()

	b.broadcast(ev)
}

// sendSnapshot delivers the initial state to a newly attached subscriber.
func (b *EventBroadcaster) sendSnapshot(connectionID string, snapshot PlaybackSnapshot) {
	b.mutex.RLock()
	subscriber, exists := b.subscribers[connectionID]
	b.mutex.RUnlock()
	if !exists {
		return
	}

	payload := struct {
		Event string           `json:"event"`
		State PlaybackSnapshot `json:"state"`
	}{Event: "snapshot", State: snapshot}

	if !b.writeTo(subscriber, payload) {
		b.Unsubscribe(connectionID)
	}
}

// broadcast relays one engine event to every subscriber, pruning the ones
// whose writes fail.
func (b *EventBroadcaster) broadcast(ev protocol.Event) {
	b.mutex.RLock()
	subscribersCopy := make(map[string]*eventSubscriber, len(b.subscribers))
	for id, sub := range b.subscribers {
		subscribersCopy[id] = sub
	}
	b.mutex.RUnlock()

	var failed []string
	for connectionID, subscriber := range subscribersCopy {
		if !b.writeTo(subscriber, ev) {
			failed = append(failed, connectionID)
		}
	}

	if len(failed) > 0 {
		b.mutex.Lock()
		for _, connectionID := range failed {
			delete(b.subscribers, connectionID)
			b.logger.Warn().Str("connectionID", connectionID).Msg("removed failed event subscriber")
		}
		count := len(b.subscribers)
		b.mutex.Unlock()
		metricEventSubscribers.Set(float64(count))
	}
}

func (b *EventBroadcaster) writeTo(subscriber *eventSubscriber, payload any) bool {
	if subscriber.ctx.Err() != nil {
		return false
	}

	ctx, cancel := context.WithTimeout(subscriber.ctx, b.cfg.SubscriberSendTimeout)
	defer cancel()

	if err := wsjson.Write(ctx, subscriber.conn, payload); err != nil {
		if strings.Contains(err.Error(), "use of closed network connection") ||
			strings.Contains(err.Error(), "connection reset by peer") ||
			strings.Contains(err.Error(), "context canceled") {
			subscriber.logger.Debug().Err(err).Msg("websocket closed during event send")
		} else {
			subscriber.logger.Warn().Err(err).Msg("failed to send event to subscriber")
		}
		return false
	}
	return true
}
