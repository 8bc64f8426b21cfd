package store

import (
	"database/sql"
	"strings"
	"time"
)

// InsertContact adds a new contact. The caller is responsible for checking
// uniqueness first; a duplicate id fails on the primary key.
func (db *DB) InsertContact(c *Contact) error {
	if c.DateAdded == 0 {
		c.DateAdded = time.Now().UnixMilli()
	}
	_, err := db.Exec(`
		INSERT INTO contacts (id, nickname, avatar, date_added, last_seen)
		VALUES (?, ?, ?, ?, ?)`,
		c.ID, c.Nickname, c.Avatar, c.DateAdded, nullableTS(c.LastSeen))
	return err
}

// GetContact returns a contact by id, or nil when absent.
func (db *DB) GetContact(id string) (*Contact, error) {
	var c Contact
	var lastSeen sql.NullInt64
	err := db.QueryRow(`SELECT id, nickname, avatar, date_added, last_seen FROM contacts WHERE id = ?`, id).
		Scan(&c.ID, &c.Nickname, &c.Avatar, &c.DateAdded, &lastSeen)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	c.LastSeen = lastSeen.Int64
	return &c, nil
}

// DeleteContact removes a contact. Participant rows cascade away, so the
// contact disappears from every chat's participant set without deleting the
// chats or their messages.
func (db *DB) DeleteContact(id string) error {
	_, err := db.Exec(`DELETE FROM contacts WHERE id = ?`, id)
	return err
}

// ListContacts returns all contacts sorted by nickname.
func (db *DB) ListContacts() ([]Contact, error) {
	rows, err := db.Query(`
		SELECT id, nickname, avatar, date_added, last_seen
		FROM contacts ORDER BY nickname COLLATE NOCASE, id`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	return scanContacts(rows)
}

// SearchContacts returns contacts whose nickname contains the query,
// case-insensitively, sorted by nickname.
func (db *DB) SearchContacts(query string) ([]Contact, error) {
	rows, err := db.Query(`
		SELECT id, nickname, avatar, date_added, last_seen
		FROM contacts
		WHERE nickname LIKE ? ESCAPE '\'
		ORDER BY nickname COLLATE NOCASE, id`,
		"%"+escapeLike(query)+"%")
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	return scanContacts(rows)
}

// TouchContactSeen records the moment a contact was last observed online.
func (db *DB) TouchContactSeen(id string, ts int64) error {
	_, err := db.Exec(`UPDATE contacts SET last_seen = ? WHERE id = ?`, ts, id)
	return err
}

// ContactCount returns the total number of contacts.
func (db *DB) ContactCount() (int64, error) {
	var count int64
	err := db.QueryRow(`SELECT COUNT(*) FROM contacts`).Scan(&count)
	return count, err
}

func scanContacts(rows *sql.Rows) ([]Contact, error) {
	var contacts []Contact
	for rows.Next() {
		var c Contact
		var lastSeen sql.NullInt64
		if err := rows.Scan(&c.ID, &c.Nickname, &c.Avatar, &c.DateAdded, &lastSeen); err != nil {
			return nil, err
		}
		c.LastSeen = lastSeen.Int64
		contacts = append(contacts, c)
	}
	return contacts, rows.Err()
}

func nullableTS(ts int64) any {
	if ts == 0 {
		return nil
	}
	return ts
}

// escapeLike neutralizes LIKE metacharacters so user queries match literally.
func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
