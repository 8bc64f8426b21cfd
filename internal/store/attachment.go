package store

// ListAttachments returns a message's attachments in their original order.
func (db *DB) ListAttachments(messageID string) ([]Attachment, error) {
	rows, err := db.Query(`
		SELECT id, message_id, position, original_name, original_size, data, thumbnail,
		       COALESCE(width, 0), COALESCE(height, 0), compression_level,
		       is_uploaded, is_downloaded, transfer_progress
		FROM attachments
		WHERE message_id = ?
		ORDER BY position`, messageID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var attachments []Attachment
	for rows.Next() {
		var a Attachment
		if err := rows.Scan(&a.ID, &a.MessageID, &a.Position, &a.OriginalName, &a.OriginalSize,
			&a.Data, &a.Thumbnail, &a.Width, &a.Height, &a.CompressionLevel,
			&a.IsUploaded, &a.IsDownloaded, &a.TransferProgress); err != nil {
			return nil, err
		}
		attachments = append(attachments, a)
	}
	return attachments, rows.Err()
}

// SetAttachmentProgress updates an attachment's transfer bookkeeping.
func (db *DB) SetAttachmentProgress(id string, progress float64, uploaded, downloaded bool) error {
	_, err := db.Exec(`
		UPDATE attachments SET transfer_progress = ?, is_uploaded = ?, is_downloaded = ?
		WHERE id = ?`, progress, uploaded, downloaded, id)
	return err
}
