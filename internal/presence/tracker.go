// Package presence tracks volatile per-contact reachability. Nothing here is
// persisted except the last-seen timestamp; a restart starts every contact
// offline with zero signal until fresh presence events arrive.
package presence

import (
	"context"
	"sync"
	"time"

	"github.com/meshtalk/meshtalk/internal/bus"
	"github.com/meshtalk/meshtalk/internal/mesh"
	"go.uber.org/zap"
)

// Status is a contact's current reachability.
type Status struct {
	Online         bool
	SignalStrength int
	ViaMesh        bool
}

// SeenRecorder persists the moment a contact was last observed online.
type SeenRecorder interface {
	TouchContactSeen(id string, ts int64) error
}

// Tracker consumes mesh.presence events and holds the in-memory presence map.
type Tracker struct {
	mu     sync.RWMutex
	byPeer map[string]Status

	bus    *bus.Bus
	seen   SeenRecorder
	logger *zap.Logger
	cancel context.CancelFunc
}

// NewTracker creates an empty presence tracker.
func NewTracker(b *bus.Bus, seen SeenRecorder, logger *zap.Logger) *Tracker {
	return &Tracker{
		byPeer: make(map[string]Status),
		bus:    b,
		seen:   seen,
		logger: logger,
	}
}

// Start subscribes to presence events on the bus.
func (t *Tracker) Start(ctx context.Context) {
	ctx, t.cancel = context.WithCancel(ctx)
	ch, unsub := t.bus.Subscribe("mesh.presence", 256)

	go func() {
		defer unsub()
		for {
			select {
			case evt := <-ch:
				pe, ok := evt.Payload.(mesh.PresenceEvent)
				if !ok {
					continue
				}
				t.Apply(pe)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop stops the tracker.
func (t *Tracker) Stop() {
	if t.cancel != nil {
		t.cancel()
	}
}

// Apply records a presence event. An offline-to-online transition updates the
// contact's persisted last-seen timestamp.
func (t *Tracker) Apply(evt mesh.PresenceEvent) {
	t.mu.Lock()
	prev := t.byPeer[evt.PeerID]
	next := Status{Online: evt.Online, SignalStrength: evt.SignalStrength, ViaMesh: evt.ViaMesh}
	if !next.Online {
		next.SignalStrength = 0
		next.ViaMesh = false
	}
	t.byPeer[evt.PeerID] = next
	t.mu.Unlock()

	if !prev.Online && next.Online && t.seen != nil {
		if err := t.seen.TouchContactSeen(evt.PeerID, time.Now().UnixMilli()); err != nil {
			t.logger.Warn("failed to record last seen", zap.Error(err), zap.String("peer_id", evt.PeerID))
		}
	}

	t.bus.Publish(bus.Event{
		Kind:      bus.KindContactPresence,
		Timestamp: time.Now(),
		Payload:   Change{PeerID: evt.PeerID, Status: next},
	})
}

// Get returns a contact's current status. Unknown peers are offline.
func (t *Tracker) Get(peerID string) Status {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.byPeer[peerID]
}

// Snapshot returns a copy of the presence map.
func (t *Tracker) Snapshot() map[string]Status {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[string]Status, len(t.byPeer))
	for k, v := range t.byPeer {
		out[k] = v
	}
	return out
}

// Change is the payload for contact.presence events.
type Change struct {
	PeerID string
	Status Status
}
