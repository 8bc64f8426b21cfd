package store

// SearchMessages returns messages whose content contains the query,
// case-insensitively, newest first. An empty chatID searches every chat.
func (db *DB) SearchMessages(query, chatID string, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 50
	}

	q := `
		SELECT id, chat_id, sender_id, content, kind, status, is_read, via_mesh, hops, timestamp
		FROM messages
		WHERE content LIKE ? ESCAPE '\'`
	args := []any{"%" + escapeLike(query) + "%"}
	if chatID != "" {
		q += ` AND chat_id = ?`
		args = append(args, chatID)
	}
	q += ` ORDER BY timestamp DESC, id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := db.Query(q, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	return scanMessages(rows)
}
