package presence

import (
	"context"
	"testing"
	"time"

	"github.com/meshtalk/meshtalk/internal/bus"
	"github.com/meshtalk/meshtalk/internal/mesh"
	"go.uber.org/zap"
)

type seenRecorder struct {
	touched []string
}

func (r *seenRecorder) TouchContactSeen(id string, _ int64) error {
	r.touched = append(r.touched, id)
	return nil
}

func TestApplyOnlineRecordsSeen(t *testing.T) {
	rec := &seenRecorder{}
	tr := NewTracker(bus.New(), rec, zap.NewNop())

	tr.Apply(mesh.PresenceEvent{PeerID: "c1", Online: true, SignalStrength: 3, ViaMesh: true})

	got := tr.Get("c1")
	if !got.Online || got.SignalStrength != 3 || !got.ViaMesh {
		t.Errorf("status = %+v, want online strength 3 via mesh", got)
	}
	if len(rec.touched) != 1 || rec.touched[0] != "c1" {
		t.Errorf("touched = %v, want [c1]", rec.touched)
	}
}

func TestApplyOnlineTwiceRecordsSeenOnce(t *testing.T) {
	rec := &seenRecorder{}
	tr := NewTracker(bus.New(), rec, zap.NewNop())

	tr.Apply(mesh.PresenceEvent{PeerID: "c1", Online: true, SignalStrength: 3})
	tr.Apply(mesh.PresenceEvent{PeerID: "c1", Online: true, SignalStrength: 5})

	if len(rec.touched) != 1 {
		t.Errorf("touched %d times, want 1 (only on offline->online transition)", len(rec.touched))
	}
	if got := tr.Get("c1"); got.SignalStrength != 5 {
		t.Errorf("strength = %d, want 5", got.SignalStrength)
	}
}

func TestOfflineResetsSignal(t *testing.T) {
	tr := NewTracker(bus.New(), nil, zap.NewNop())

	tr.Apply(mesh.PresenceEvent{PeerID: "c1", Online: true, SignalStrength: 4, ViaMesh: true})
	tr.Apply(mesh.PresenceEvent{PeerID: "c1", Online: false, SignalStrength: 4, ViaMesh: true})

	got := tr.Get("c1")
	if got.Online || got.SignalStrength != 0 || got.ViaMesh {
		t.Errorf("status = %+v, want offline with zero signal", got)
	}
}

func TestUnknownPeerIsOffline(t *testing.T) {
	tr := NewTracker(bus.New(), nil, zap.NewNop())
	if got := tr.Get("stranger"); got.Online {
		t.Errorf("status = %+v, want offline", got)
	}
}

func TestTrackerConsumesBusEvents(t *testing.T) {
	b := bus.New()
	tr := NewTracker(b, nil, zap.NewNop())
	tr.Start(context.Background())
	defer tr.Stop()

	out, unsub := b.Subscribe("contact.presence", 10)
	defer unsub()

	b.Publish(bus.Event{
		Kind:      bus.KindMeshPresence,
		Timestamp: time.Now(),
		Payload:   mesh.PresenceEvent{PeerID: "c1", Online: true, SignalStrength: 2},
	})

	select {
	case evt := <-out:
		ch, ok := evt.Payload.(Change)
		if !ok {
			t.Fatalf("payload type = %T, want Change", evt.Payload)
		}
		if ch.PeerID != "c1" || !ch.Status.Online {
			t.Errorf("change = %+v, want c1 online", ch)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for contact.presence event")
	}
}
