package store

import (
	"database/sql"
	"fmt"
	"time"
)

const previewLen = 100

// AppendMessage persists a message and updates the owning chat's denormalized
// last-message fields in a single transaction. The insert is keyed on the
// author-assigned message id: a duplicate id is a no-op that leaves the chat
// summary and unread count untouched and reports inserted=false.
//
// countUnread must be true only when the message came from another peer and
// its chat is not the currently active one.
func (db *DB) AppendMessage(m *Message, countUnread bool) (inserted bool, err error) {
	tx, err := db.Begin()
	if err != nil {
		return false, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	inserted, err = appendInTx(tx, m, countUnread)
	if err != nil {
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit: %w", err)
	}
	return inserted, nil
}

// AppendOutgoing persists a locally-originated message and enqueues it on the
// outbox as one unit of work, so a crash can never leave a message visible
// without a pending delivery attempt.
func (db *DB) AppendOutgoing(m *Message) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	inserted, err := appendInTx(tx, m, false)
	if err != nil {
		return err
	}
	if !inserted {
		return fmt.Errorf("message %q already exists", m.ID)
	}
	now := time.Now().UnixMilli()
	if _, err := tx.Exec(`
		INSERT INTO outbox (message_id, chat_id, attempts, last_attempt_at, created_at)
		VALUES (?, ?, 0, 0, ?)`,
		m.ID, m.ChatID, now); err != nil {
		return fmt.Errorf("enqueue outbox: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func appendInTx(tx *sql.Tx, m *Message, countUnread bool) (bool, error) {
	if m.Timestamp == 0 {
		m.Timestamp = time.Now().UnixMilli()
	}
	now := time.Now().UnixMilli()

	res, err := tx.Exec(`
		INSERT INTO messages (id, chat_id, sender_id, content, kind, status, is_read, via_mesh, hops, timestamp, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING`,
		m.ID, m.ChatID, m.SenderID, m.Content, m.Kind, m.Status, m.IsRead, m.ViaMesh, m.Hops, m.Timestamp, now)
	if err != nil {
		return false, fmt.Errorf("insert message: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return false, nil
	}

	for i := range m.Attachments {
		a := &m.Attachments[i]
		a.MessageID = m.ID
		a.Position = i
		if _, err := tx.Exec(`
			INSERT INTO attachments (id, message_id, position, original_name, original_size, data, thumbnail, width, height, compression_level, is_uploaded, is_downloaded, transfer_progress)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			a.ID, a.MessageID, a.Position, a.OriginalName, a.OriginalSize, a.Data, a.Thumbnail, a.Width, a.Height, a.CompressionLevel, a.IsUploaded, a.IsDownloaded, a.TransferProgress); err != nil {
			return false, fmt.Errorf("insert attachment %q: %w", a.ID, err)
		}
	}

	unreadDelta := 0
	if countUnread {
		unreadDelta = 1
	}
	if _, err := tx.Exec(`
		UPDATE chats SET
			last_message_at = ?,
			last_message_preview = ?,
			last_message_sender = ?,
			unread_count = unread_count + ?
		WHERE id = ?`,
		m.Timestamp, preview(m), m.SenderID, unreadDelta, m.ChatID); err != nil {
		return false, fmt.Errorf("update chat summary: %w", err)
	}
	return true, nil
}

// GetMessage returns a message by id with its attachments, or nil when absent.
func (db *DB) GetMessage(id string) (*Message, error) {
	var m Message
	err := db.QueryRow(`
		SELECT id, chat_id, sender_id, content, kind, status, is_read, via_mesh, hops, timestamp
		FROM messages WHERE id = ?`, id).
		Scan(&m.ID, &m.ChatID, &m.SenderID, &m.Content, &m.Kind, &m.Status, &m.IsRead, &m.ViaMesh, &m.Hops, &m.Timestamp)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	m.Attachments, err = db.ListAttachments(id)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// ListMessages returns one page of a chat's messages in oldest-first order.
// Pagination starts from the newest end: offset 0 is the most recent page.
func (db *DB) ListMessages(chatID string, limit, offset int) ([]Message, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.Query(`
		SELECT id, chat_id, sender_id, content, kind, status, is_read, via_mesh, hops, timestamp
		FROM messages
		WHERE chat_id = ?
		ORDER BY timestamp DESC, id DESC
		LIMIT ? OFFSET ?`, chatID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	msgs, err := scanMessages(rows)
	if err != nil {
		return nil, err
	}
	// Flip the newest-first page into chronological order.
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

// SetMessageStatus updates a message's delivery status.
func (db *DB) SetMessageStatus(id, status string) error {
	_, err := db.Exec(`UPDATE messages SET status = ? WHERE id = ?`, status, id)
	return err
}

// MarkChatRead resets a chat's unread counter and marks every unread message
// read, atomically.
func (db *DB) MarkChatRead(chatID string) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`UPDATE messages SET is_read = 1 WHERE chat_id = ? AND is_read = 0`, chatID); err != nil {
		return fmt.Errorf("mark messages read: %w", err)
	}
	if _, err := tx.Exec(`UPDATE chats SET unread_count = 0 WHERE id = ?`, chatID); err != nil {
		return fmt.Errorf("reset unread count: %w", err)
	}
	return tx.Commit()
}

// MessageCount returns the total number of messages.
func (db *DB) MessageCount() (int64, error) {
	var count int64
	err := db.QueryRow(`SELECT COUNT(*) FROM messages`).Scan(&count)
	return count, err
}

func scanMessages(rows *sql.Rows) ([]Message, error) {
	var msgs []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.ChatID, &m.SenderID, &m.Content, &m.Kind, &m.Status, &m.IsRead, &m.ViaMesh, &m.Hops, &m.Timestamp); err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

func preview(m *Message) string {
	text := m.Content
	if m.Kind == KindImage && text == "" {
		text = "[image]"
	}
	if len(text) <= previewLen {
		return text
	}
	return text[:previewLen]
}
