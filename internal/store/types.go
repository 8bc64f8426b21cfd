package store

// Chat kinds.
const (
	ChatDirect = "direct"
	ChatGroup  = "group"
)

// Message kinds.
const (
	KindText   = "text"
	KindImage  = "image"
	KindSystem = "system"
)

// Delivery statuses for a message.
const (
	StatusSending   = "sending"
	StatusDelivered = "delivered"
	StatusFailed    = "failed"
)

// Contact represents a known peer. Presence (online, signal strength, mesh
// connectivity) is volatile and lives in the presence tracker, not here.
type Contact struct {
	ID        string
	Nickname  string
	Avatar    []byte
	DateAdded int64
	LastSeen  int64 // 0 = never seen online
}

// Chat represents a direct or group conversation.
type Chat struct {
	ID                 string
	Kind               string
	Name               string
	DateCreated        int64
	LastMessageAt      int64
	LastMessagePreview string
	LastMessageSender  string
	UnreadCount        int
	IsMuted            bool
}

// Message represents a single chat message. ID is author-assigned and is the
// deduplication key for inbound reconciliation.
type Message struct {
	ID          string
	ChatID      string
	SenderID    string
	Content     string
	Kind        string
	Status      string
	IsRead      bool
	ViaMesh     bool
	Hops        int
	Timestamp   int64
	Attachments []Attachment
}

// Attachment is a media payload owned by exactly one message.
type Attachment struct {
	ID               string
	MessageID        string
	Position         int
	OriginalName     string
	OriginalSize     int64
	Data             []byte
	Thumbnail        []byte
	Width            int
	Height           int
	CompressionLevel int
	IsUploaded       bool
	IsDownloaded     bool
	TransferProgress float64
}

// OutboxEntry is a queued delivery attempt for a locally-originated message.
type OutboxEntry struct {
	MessageID     string
	ChatID        string
	Attempts      int
	LastAttemptAt int64
	CreatedAt     int64
}
