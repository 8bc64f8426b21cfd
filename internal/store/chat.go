package store

import (
	"database/sql"
	"fmt"
	"time"
)

// InsertChat creates a chat together with its participant set in one
// transaction.
func (db *DB) InsertChat(c *Chat, participantIDs []string) error {
	if c.DateCreated == 0 {
		c.DateCreated = time.Now().UnixMilli()
	}
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`
		INSERT INTO chats (id, kind, name, date_created, last_message_at, last_message_preview, last_message_sender, unread_count, is_muted)
		VALUES (?, ?, ?, ?, 0, '', '', 0, 0)`,
		c.ID, c.Kind, c.Name, c.DateCreated); err != nil {
		return fmt.Errorf("insert chat: %w", err)
	}
	for _, id := range participantIDs {
		if _, err := tx.Exec(`INSERT INTO chat_participants (chat_id, contact_id) VALUES (?, ?)`, c.ID, id); err != nil {
			return fmt.Errorf("insert participant %q: %w", id, err)
		}
	}
	return tx.Commit()
}

// GetChat returns a chat by id, or nil when absent.
func (db *DB) GetChat(id string) (*Chat, error) {
	var c Chat
	err := db.QueryRow(`
		SELECT id, kind, name, date_created, last_message_at, last_message_preview, last_message_sender, unread_count, is_muted
		FROM chats WHERE id = ?`, id).
		Scan(&c.ID, &c.Kind, &c.Name, &c.DateCreated, &c.LastMessageAt, &c.LastMessagePreview, &c.LastMessageSender, &c.UnreadCount, &c.IsMuted)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// GetDirectChatByContact returns the direct chat whose single participant is
// the given contact, or nil when no such chat exists. At most one can exist;
// CreateDirect in the chat service relies on this lookup for idempotency.
func (db *DB) GetDirectChatByContact(contactID string) (*Chat, error) {
	var c Chat
	err := db.QueryRow(`
		SELECT c.id, c.kind, c.name, c.date_created, c.last_message_at, c.last_message_preview, c.last_message_sender, c.unread_count, c.is_muted
		FROM chats c
		JOIN chat_participants p ON p.chat_id = c.id
		WHERE c.kind = 'direct' AND p.contact_id = ?
		LIMIT 1`, contactID).
		Scan(&c.ID, &c.Kind, &c.Name, &c.DateCreated, &c.LastMessageAt, &c.LastMessagePreview, &c.LastMessageSender, &c.UnreadCount, &c.IsMuted)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// ListChats returns chats sorted by last message timestamp descending.
func (db *DB) ListChats(limit, offset int) ([]Chat, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.Query(`
		SELECT id, kind, name, date_created, last_message_at, last_message_preview, last_message_sender, unread_count, is_muted
		FROM chats
		ORDER BY last_message_at DESC, date_created DESC
		LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var chats []Chat
	for rows.Next() {
		var c Chat
		if err := rows.Scan(&c.ID, &c.Kind, &c.Name, &c.DateCreated, &c.LastMessageAt, &c.LastMessagePreview, &c.LastMessageSender, &c.UnreadCount, &c.IsMuted); err != nil {
			return nil, err
		}
		chats = append(chats, c)
	}
	return chats, rows.Err()
}

// ParticipantIDs returns the contact ids participating in a chat.
func (db *DB) ParticipantIDs(chatID string) ([]string, error) {
	rows, err := db.Query(`SELECT contact_id FROM chat_participants WHERE chat_id = ? ORDER BY contact_id`, chatID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ParticipantCount returns the number of contacts in a chat.
func (db *DB) ParticipantCount(chatID string) (int, error) {
	var count int
	err := db.QueryRow(`SELECT COUNT(*) FROM chat_participants WHERE chat_id = ?`, chatID).Scan(&count)
	return count, err
}

// AddParticipant adds a contact to a chat's participant set.
func (db *DB) AddParticipant(chatID, contactID string) error {
	_, err := db.Exec(`INSERT INTO chat_participants (chat_id, contact_id) VALUES (?, ?)`, chatID, contactID)
	return err
}

// RemoveParticipant removes a contact from a chat's participant set.
func (db *DB) RemoveParticipant(chatID, contactID string) error {
	_, err := db.Exec(`DELETE FROM chat_participants WHERE chat_id = ? AND contact_id = ?`, chatID, contactID)
	return err
}

// RenameChat updates a chat's display name.
func (db *DB) RenameChat(chatID, name string) error {
	_, err := db.Exec(`UPDATE chats SET name = ? WHERE id = ?`, name, chatID)
	return err
}

// SetChatMuted toggles a chat's muted flag.
func (db *DB) SetChatMuted(chatID string, muted bool) error {
	_, err := db.Exec(`UPDATE chats SET is_muted = ? WHERE id = ?`, muted, chatID)
	return err
}

// DeleteChat removes a chat; messages, attachments and participant rows
// cascade away.
func (db *DB) DeleteChat(chatID string) error {
	_, err := db.Exec(`DELETE FROM chats WHERE id = ?`, chatID)
	return err
}

// ChatCount returns the total number of chats.
func (db *DB) ChatCount() (int64, error) {
	var count int64
	err := db.QueryRow(`SELECT COUNT(*) FROM chats`).Scan(&count)
	return count, err
}
