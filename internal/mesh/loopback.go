package mesh

import (
	"context"
	"sync"
)

// Loopback is an in-memory Transport for tests and for running the daemon
// without radio hardware. Sends are recorded; inbound traffic, presence and
// link changes are injected by the test or demo driver.
type Loopback struct {
	mu       sync.Mutex
	local    Identity
	sent     []SentEnvelope
	failWith error

	incoming chan Envelope
	presence chan PresenceEvent
	links    chan LinkState
}

// SentEnvelope records one SendToPeer call.
type SentEnvelope struct {
	PeerID   string
	Envelope Envelope
}

// NewLoopback creates a loopback transport with the given local identity.
func NewLoopback(local Identity) *Loopback {
	return &Loopback{
		local:    local,
		incoming: make(chan Envelope, 64),
		presence: make(chan PresenceEvent, 64),
		links:    make(chan LinkState, 8),
	}
}

// SendToPeer records the envelope, honoring a configured failure and the
// caller's context.
func (l *Loopback) SendToPeer(ctx context.Context, peerID string, env Envelope) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.failWith != nil {
		return l.failWith
	}
	l.sent = append(l.sent, SentEnvelope{PeerID: peerID, Envelope: env})
	return nil
}

// Incoming implements Transport.
func (l *Loopback) Incoming() <-chan Envelope { return l.incoming }

// Presence implements Transport.
func (l *Loopback) Presence() <-chan PresenceEvent { return l.presence }

// Links implements Transport.
func (l *Loopback) Links() <-chan LinkState { return l.links }

// LocalIdentity implements Transport.
func (l *Loopback) LocalIdentity() Identity { return l.local }

// Deliver injects an inbound envelope as if received from the mesh.
func (l *Loopback) Deliver(env Envelope) { l.incoming <- env }

// AnnouncePresence injects a presence event.
func (l *Loopback) AnnouncePresence(evt PresenceEvent) { l.presence <- evt }

// SetLink injects a link state change.
func (l *Loopback) SetLink(state LinkState) { l.links <- state }

// FailWith makes subsequent sends return err; nil restores success.
func (l *Loopback) FailWith(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.failWith = err
}

// Sent returns a copy of all recorded sends.
func (l *Loopback) Sent() []SentEnvelope {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]SentEnvelope, len(l.sent))
	copy(out, l.sent)
	return out
}
