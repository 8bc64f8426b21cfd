// Package chat is the façade over contacts, chats and messages. It owns
// validation, chat lifecycle and read tracking, and hands delivery off to the
// outbox queue drained by the delivery engine.
package chat

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/meshtalk/meshtalk/internal/bus"
	"github.com/meshtalk/meshtalk/internal/config"
	"github.com/meshtalk/meshtalk/internal/identity"
	"github.com/meshtalk/meshtalk/internal/presence"
	"github.com/meshtalk/meshtalk/internal/store"
	"go.uber.org/zap"
)

// ContactView is a contact joined with its volatile presence.
type ContactView struct {
	store.Contact
	Presence presence.Status
}

// Service orchestrates the chat domain. The local peer identity is injected
// at construction; there is no ambient current-user state.
type Service struct {
	db      *store.DB
	bus     *bus.Bus
	tracker *presence.Tracker
	limits  config.Limits
	logger  *zap.Logger

	local identity.Payload

	mu         sync.RWMutex
	activeChat string
}

// NewService creates the chat service.
func NewService(db *store.DB, b *bus.Bus, tracker *presence.Tracker, limits config.Limits, local identity.Payload, logger *zap.Logger) *Service {
	return &Service{
		db:      db,
		bus:     b,
		tracker: tracker,
		limits:  limits,
		logger:  logger,
		local:   local,
	}
}

// LocalIdentity returns the injected local peer identity.
func (s *Service) LocalIdentity() identity.Payload {
	return s.local
}

// ExchangePayload returns the local identity encoded for out-of-band exchange.
func (s *Service) ExchangePayload() ([]byte, error) {
	return identity.Encode(s.local)
}

// ExchangeQR returns the local identity rendered as a PNG QR code.
func (s *Service) ExchangeQR() ([]byte, error) {
	return identity.EncodeQR(s.local)
}

// SetActiveChat records which chat the user is currently viewing. Messages
// arriving for the active chat do not count as unread.
func (s *Service) SetActiveChat(chatID string) {
	s.mu.Lock()
	s.activeChat = chatID
	s.mu.Unlock()
}

// ActiveChat returns the currently viewed chat id ("" when none).
func (s *Service) ActiveChat() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.activeChat
}

// AddContact decodes an identity exchange payload and creates the contact.
// Outcomes are exhaustive: success, identity.ErrInvalidFormat,
// ErrCannotAddSelf or ErrContactAlreadyExists.
func (s *Service) AddContact(payload []byte) (*store.Contact, error) {
	p, err := identity.Decode(payload)
	if err != nil {
		return nil, err
	}
	if p.ID == s.local.ID {
		return nil, ErrCannotAddSelf
	}
	existing, err := s.db.GetContact(p.ID)
	if err != nil {
		return nil, fmt.Errorf("lookup contact: %w", err)
	}
	if existing != nil {
		return nil, ErrContactAlreadyExists
	}

	c := &store.Contact{ID: p.ID, Nickname: p.Nickname, DateAdded: time.Now().UnixMilli()}
	if err := s.db.InsertContact(c); err != nil {
		return nil, fmt.Errorf("insert contact: %w", err)
	}
	s.logger.Info("contact added", zap.String("contact_id", c.ID), zap.String("nickname", c.Nickname))
	s.publish(bus.KindContactAdded, c.ID)
	return c, nil
}

// RemoveContact deletes a contact. Chats survive; the contact just disappears
// from their participant sets.
func (s *Service) RemoveContact(id string) error {
	c, err := s.db.GetContact(id)
	if err != nil {
		return fmt.Errorf("lookup contact: %w", err)
	}
	if c == nil {
		return ErrContactNotFound
	}
	if err := s.db.DeleteContact(id); err != nil {
		return fmt.Errorf("delete contact: %w", err)
	}
	s.publish(bus.KindContactRemoved, id)
	return nil
}

// Contacts returns all contacts, nickname-sorted, joined with live presence.
func (s *Service) Contacts() ([]ContactView, error) {
	contacts, err := s.db.ListContacts()
	if err != nil {
		return nil, err
	}
	return s.withPresence(contacts), nil
}

// SearchContacts returns contacts whose nickname contains the query.
func (s *Service) SearchContacts(query string) ([]ContactView, error) {
	contacts, err := s.db.SearchContacts(query)
	if err != nil {
		return nil, err
	}
	return s.withPresence(contacts), nil
}

// CreateDirect returns the direct chat with a contact, creating it on first
// use. Idempotent: repeated calls return the same chat.
func (s *Service) CreateDirect(contactID string) (*store.Chat, error) {
	contact, err := s.db.GetContact(contactID)
	if err != nil {
		return nil, fmt.Errorf("lookup contact: %w", err)
	}
	if contact == nil {
		return nil, ErrContactNotFound
	}

	existing, err := s.db.GetDirectChatByContact(contactID)
	if err != nil {
		return nil, fmt.Errorf("lookup direct chat: %w", err)
	}
	if existing != nil {
		return existing, nil
	}

	chat := &store.Chat{ID: uuid.NewString(), Kind: store.ChatDirect, DateCreated: time.Now().UnixMilli()}
	if err := s.db.InsertChat(chat, []string{contactID}); err != nil {
		return nil, fmt.Errorf("insert chat: %w", err)
	}
	s.publish(bus.KindChatUpdated, chat.ID)
	return chat, nil
}

// CreateGroup creates a group chat with 1..maxGroupParticipants known contacts.
func (s *Service) CreateGroup(name string, participantIDs []string) (*store.Chat, error) {
	if len(participantIDs) == 0 {
		return nil, ErrNoParticipants
	}
	if len(participantIDs) > s.limits.MaxGroupParticipants {
		return nil, ErrTooManyParticipants
	}
	for _, id := range participantIDs {
		c, err := s.db.GetContact(id)
		if err != nil {
			return nil, fmt.Errorf("lookup contact: %w", err)
		}
		if c == nil {
			return nil, fmt.Errorf("%w: %s", ErrContactNotFound, id)
		}
	}

	chat := &store.Chat{ID: uuid.NewString(), Kind: store.ChatGroup, Name: name, DateCreated: time.Now().UnixMilli()}
	if err := s.db.InsertChat(chat, participantIDs); err != nil {
		return nil, fmt.Errorf("insert chat: %w", err)
	}
	s.publish(bus.KindChatUpdated, chat.ID)
	return chat, nil
}

// SendText validates and persists an outgoing text message with status
// Sending, enqueues it for delivery and returns immediately. The delivery
// engine reports the outcome through message.status_changed events.
func (s *Service) SendText(chatID, content string) (*store.Message, error) {
	if strings.TrimSpace(content) == "" {
		return nil, ErrEmptyMessage
	}
	if len(content) > s.limits.MaxMessageLength {
		return nil, ErrMessageTooLong
	}
	return s.sendMessage(chatID, &store.Message{
		ID:       uuid.NewString(),
		SenderID: s.local.ID,
		Content:  content,
		Kind:     store.KindText,
		Status:   store.StatusSending,
	})
}

// SendImage validates and persists an outgoing image message.
func (s *Service) SendImage(chatID string, data []byte, fileName string) (*store.Message, error) {
	if len(data) == 0 {
		return nil, ErrEmptyMessage
	}
	if int64(len(data)) > s.limits.MaxImageSize {
		return nil, ErrImageTooLarge
	}
	return s.sendMessage(chatID, &store.Message{
		ID:       uuid.NewString(),
		SenderID: s.local.ID,
		Kind:     store.KindImage,
		Status:   store.StatusSending,
		Attachments: []store.Attachment{{
			ID:           uuid.NewString(),
			OriginalName: fileName,
			OriginalSize: int64(len(data)),
			Data:         data,
			IsDownloaded: true,
		}},
	})
}

func (s *Service) sendMessage(chatID string, msg *store.Message) (*store.Message, error) {
	chat, err := s.db.GetChat(chatID)
	if err != nil {
		return nil, fmt.Errorf("lookup chat: %w", err)
	}
	if chat == nil {
		return nil, ErrChatNotFound
	}

	msg.ChatID = chatID
	msg.Timestamp = time.Now().UnixMilli()
	if err := s.db.AppendOutgoing(msg); err != nil {
		return nil, fmt.Errorf("append outgoing: %w", err)
	}

	now := time.Now()
	s.bus.Publish(bus.Event{Kind: bus.KindMessageReceived, Timestamp: now, Payload: *msg})
	s.bus.Publish(bus.Event{Kind: bus.KindChatUpdated, Timestamp: now, Payload: chatID})
	s.bus.Publish(bus.Event{Kind: bus.KindOutboxEnqueued, Timestamp: now, Payload: msg.ID})
	return msg, nil
}

// RetryMessage re-queues a permanently failed outgoing message. This is the
// single manual escape hatch once automatic attempts are exhausted.
func (s *Service) RetryMessage(messageID string) error {
	msg, err := s.db.GetMessage(messageID)
	if err != nil {
		return fmt.Errorf("lookup message: %w", err)
	}
	if msg == nil {
		return ErrMessageNotFound
	}
	if msg.SenderID != s.local.ID || msg.Status != store.StatusFailed {
		return ErrNotRetryable
	}

	if err := s.db.SetMessageStatus(messageID, store.StatusSending); err != nil {
		return fmt.Errorf("reset status: %w", err)
	}
	if err := s.db.EnqueueOutbox(messageID, msg.ChatID); err != nil {
		return fmt.Errorf("enqueue: %w", err)
	}
	now := time.Now()
	s.bus.Publish(bus.Event{Kind: bus.KindOutboxEnqueued, Timestamp: now, Payload: messageID})
	return nil
}

// Chats returns chats ordered by most recent activity.
func (s *Service) Chats(limit, offset int) ([]store.Chat, error) {
	return s.db.ListChats(limit, offset)
}

// Chat returns one chat by id.
func (s *Service) Chat(chatID string) (*store.Chat, error) {
	chat, err := s.db.GetChat(chatID)
	if err != nil {
		return nil, err
	}
	if chat == nil {
		return nil, ErrChatNotFound
	}
	return chat, nil
}

// Messages returns one page of a chat's history, oldest-first, paginated from
// the newest end.
func (s *Service) Messages(chatID string, limit, offset int) ([]store.Message, error) {
	return s.db.ListMessages(chatID, limit, offset)
}

// Search returns messages containing the query, newest first. Empty chatID
// searches all chats.
func (s *Service) Search(query, chatID string, limit int) ([]store.Message, error) {
	return s.db.SearchMessages(query, chatID, limit)
}

// MarkRead resets a chat's unread state in one unit of work.
func (s *Service) MarkRead(chatID string) error {
	chat, err := s.db.GetChat(chatID)
	if err != nil {
		return fmt.Errorf("lookup chat: %w", err)
	}
	if chat == nil {
		return ErrChatNotFound
	}
	if err := s.db.MarkChatRead(chatID); err != nil {
		return fmt.Errorf("mark read: %w", err)
	}
	s.publish(bus.KindChatUpdated, chatID)
	return nil
}

// MuteChat toggles a chat's muted flag.
func (s *Service) MuteChat(chatID string, muted bool) error {
	if err := s.db.SetChatMuted(chatID, muted); err != nil {
		return fmt.Errorf("set muted: %w", err)
	}
	s.publish(bus.KindChatUpdated, chatID)
	return nil
}

// DeleteChat removes a chat with all its messages and attachments.
func (s *Service) DeleteChat(chatID string) error {
	if err := s.db.DeleteChat(chatID); err != nil {
		return fmt.Errorf("delete chat: %w", err)
	}
	s.mu.Lock()
	if s.activeChat == chatID {
		s.activeChat = ""
	}
	s.mu.Unlock()
	s.publish(bus.KindChatUpdated, chatID)
	return nil
}

// RenameGroup renames a group chat. Direct chats have no name of their own.
func (s *Service) RenameGroup(chatID, name string) error {
	chat, err := s.groupChat(chatID)
	if err != nil {
		return err
	}
	if err := s.db.RenameChat(chat.ID, name); err != nil {
		return fmt.Errorf("rename chat: %w", err)
	}
	s.publish(bus.KindChatUpdated, chatID)
	return nil
}

// AddGroupParticipant adds a known contact to a group chat.
func (s *Service) AddGroupParticipant(chatID, contactID string) error {
	chat, err := s.groupChat(chatID)
	if err != nil {
		return err
	}
	contact, err := s.db.GetContact(contactID)
	if err != nil {
		return fmt.Errorf("lookup contact: %w", err)
	}
	if contact == nil {
		return ErrContactNotFound
	}
	count, err := s.db.ParticipantCount(chat.ID)
	if err != nil {
		return fmt.Errorf("count participants: %w", err)
	}
	if count >= s.limits.MaxGroupParticipants {
		return ErrTooManyParticipants
	}
	if err := s.db.AddParticipant(chat.ID, contactID); err != nil {
		return fmt.Errorf("add participant: %w", err)
	}
	s.publish(bus.KindChatUpdated, chatID)
	return nil
}

// RemoveGroupParticipant removes a contact from a group chat.
func (s *Service) RemoveGroupParticipant(chatID, contactID string) error {
	chat, err := s.groupChat(chatID)
	if err != nil {
		return err
	}
	count, err := s.db.ParticipantCount(chat.ID)
	if err != nil {
		return fmt.Errorf("count participants: %w", err)
	}
	if count <= 1 {
		return ErrNoParticipants
	}
	if err := s.db.RemoveParticipant(chat.ID, contactID); err != nil {
		return fmt.Errorf("remove participant: %w", err)
	}
	s.publish(bus.KindChatUpdated, chatID)
	return nil
}

// Participants returns a chat's members joined with live presence.
func (s *Service) Participants(chatID string) ([]ContactView, error) {
	ids, err := s.db.ParticipantIDs(chatID)
	if err != nil {
		return nil, err
	}
	var out []ContactView
	for _, id := range ids {
		c, err := s.db.GetContact(id)
		if err != nil {
			return nil, err
		}
		if c == nil {
			continue
		}
		out = append(out, ContactView{Contact: *c, Presence: s.presenceOf(id)})
	}
	return out, nil
}

func (s *Service) groupChat(chatID string) (*store.Chat, error) {
	chat, err := s.db.GetChat(chatID)
	if err != nil {
		return nil, fmt.Errorf("lookup chat: %w", err)
	}
	if chat == nil {
		return nil, ErrChatNotFound
	}
	if chat.Kind != store.ChatGroup {
		return nil, ErrDirectChatImmutable
	}
	return chat, nil
}

func (s *Service) withPresence(contacts []store.Contact) []ContactView {
	out := make([]ContactView, 0, len(contacts))
	for _, c := range contacts {
		out = append(out, ContactView{Contact: c, Presence: s.presenceOf(c.ID)})
	}
	return out
}

func (s *Service) presenceOf(id string) presence.Status {
	if s.tracker == nil {
		return presence.Status{}
	}
	return s.tracker.Get(id)
}

func (s *Service) publish(kind string, payload any) {
	s.bus.Publish(bus.Event{Kind: kind, Timestamp: time.Now(), Payload: payload})
}
