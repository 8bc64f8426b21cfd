package store

import "time"

// EnqueueOutbox puts a message on the retry queue with a fresh attempt count.
// Used for manual retry of a permanently failed message; the initial enqueue
// happens inside AppendOutgoing.
func (db *DB) EnqueueOutbox(messageID, chatID string) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO outbox (message_id, chat_id, attempts, last_attempt_at, created_at)
		VALUES (?, ?, 0, 0, ?)
		ON CONFLICT(message_id) DO UPDATE SET attempts = 0, last_attempt_at = 0`,
		messageID, chatID, now)
	return err
}

// PendingOutbox returns every queued entry in enqueue order.
func (db *DB) PendingOutbox() ([]OutboxEntry, error) {
	rows, err := db.Query(`
		SELECT message_id, chat_id, attempts, last_attempt_at, created_at
		FROM outbox ORDER BY created_at ASC`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var entries []OutboxEntry
	for rows.Next() {
		var e OutboxEntry
		if err := rows.Scan(&e.MessageID, &e.ChatID, &e.Attempts, &e.LastAttemptAt, &e.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// BumpOutboxAttempt records a failed delivery pass for a queued entry.
func (db *DB) BumpOutboxAttempt(messageID string, ts int64) error {
	_, err := db.Exec(`UPDATE outbox SET attempts = attempts + 1, last_attempt_at = ? WHERE message_id = ?`, ts, messageID)
	return err
}

// RemoveOutbox drops an entry from the retry queue.
func (db *DB) RemoveOutbox(messageID string) error {
	_, err := db.Exec(`DELETE FROM outbox WHERE message_id = ?`, messageID)
	return err
}

// OutboxDepth returns the number of queued entries.
func (db *DB) OutboxDepth() (int64, error) {
	var count int64
	err := db.QueryRow(`SELECT COUNT(*) FROM outbox`).Scan(&count)
	return count, err
}
