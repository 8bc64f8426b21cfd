// Package mesh defines the boundary to the external mesh-transport component.
// Peer discovery, link establishment and multi-hop forwarding all live on the
// far side of the Transport interface; this package only moves envelopes and
// presence across it.
package mesh

import "context"

// Message envelope kinds on the wire.
const (
	EnvelopeText   = "text"
	EnvelopeImage  = "image"
	EnvelopeSystem = "system"
)

// Attachment is a raw media payload carried inside an envelope.
type Attachment struct {
	Data             []byte
	OriginalFileName string
}

// Envelope is the wire-level message the core exchanges with the transport.
// Hops counts intermediate relays traversed on the way in; 0 means a direct
// link.
type Envelope struct {
	ID          string
	SenderID    string
	Content     string
	Kind        string
	Hops        int
	Attachments []Attachment
}

// PresenceEvent reports a peer's reachability as observed by the transport.
type PresenceEvent struct {
	PeerID         string
	Online         bool
	SignalStrength int // 0..5
	ViaMesh        bool
}

// Identity is the local peer identity owned by the transport.
type Identity struct {
	ID          string
	DisplayName string
}

// LinkState reports the transport's own connectivity.
type LinkState int

const (
	LinkDown LinkState = iota
	LinkUp
)

// Transport is the contract the external mesh component must satisfy.
// SendToPeer resolution (ack or error) is the only liveness signal for a
// single delivery attempt; callers bound it with a context deadline.
type Transport interface {
	SendToPeer(ctx context.Context, peerID string, env Envelope) error
	Incoming() <-chan Envelope
	Presence() <-chan PresenceEvent
	Links() <-chan LinkState
	LocalIdentity() Identity
}
