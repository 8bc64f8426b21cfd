package chat

import "errors"

// Validation errors, rejected synchronously before any persistence.
var (
	ErrEmptyMessage        = errors.New("message is empty")
	ErrMessageTooLong      = errors.New("message exceeds maximum length")
	ErrImageTooLarge       = errors.New("image exceeds maximum size")
	ErrNoParticipants      = errors.New("group needs at least one participant")
	ErrTooManyParticipants = errors.New("group exceeds maximum participants")
	ErrDirectChatImmutable = errors.New("direct chats cannot be modified")
)

// Identity exchange errors. A structurally invalid payload surfaces as
// identity.ErrInvalidFormat; these two cover payloads that are valid but
// rejected.
var (
	ErrCannotAddSelf        = errors.New("cannot add own identity as a contact")
	ErrContactAlreadyExists = errors.New("contact already exists")
)

// Lookup errors.
var (
	ErrContactNotFound = errors.New("contact not found")
	ErrChatNotFound    = errors.New("chat not found")
	ErrMessageNotFound = errors.New("message not found")
	ErrNotRetryable    = errors.New("message is not in a failed state")
)
