package bus

import "time"

// Event kinds published across the daemon. Subscribers filter by namespace
// prefix, so subscribing to "message." matches both message.received and
// message.status_changed.
const (
	KindMessageReceived      = "message.received"
	KindMessageStatusChanged = "message.status_changed"
	KindChatUpdated          = "chat.updated"
	KindContactAdded         = "contact.added"
	KindContactRemoved       = "contact.removed"
	KindContactPresence      = "contact.presence"
	KindOutboxEnqueued       = "outbox.enqueued"
	KindMeshMessage          = "mesh.message"
	KindMeshPresence         = "mesh.presence"
	KindLinkStatusChanged    = "link.status_changed"
)

// Event represents a domain event published on the bus.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}
