package session

import (
	"database/sql"
	"fmt"
	"time"
)

// Store persists transcripts in the sqlite schema created by telemetry.InitDB.
type Store struct {
	db *sql.DB
}

// NewStore creates a Store over db.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Save writes t, replacing any earlier copy.
func (s *Store) Save(t *Transcript) error {
	entries := t.Entries()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(
		"INSERT OR REPLACE INTO transcripts (id, feature, start_time) VALUES (?, ?, ?)",
		t.ID, t.Feature, t.StartTime,
	)
	if err != nil {
		return fmt.Errorf("failed to save transcript: %w", err)
	}

	if _, err := tx.Exec("DELETE FROM transcript_entries WHERE transcript_id = ?", t.ID); err != nil {
		return fmt.Errorf("failed to clear entries: %w", err)
	}

	for i, e := range entries {
		_, err = tx.Exec(
			"INSERT INTO transcript_entries (transcript_id, position, sender, text, timestamp) VALUES (?, ?, ?, ?, ?)",
			t.ID, i, string(e.Sender), e.Text, e.Timestamp,
		)
		if err != nil {
			return fmt.Errorf("failed to save entry %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Load reads the transcript with id.
func (s *Store) Load(id string) (*Transcript, error) {
	var feature string
	var startTime time.Time

	err := s.db.QueryRow("SELECT feature, start_time FROM transcripts WHERE id = ?", id).
		Scan(&feature, &startTime)
	if err != nil {
		return nil, fmt.Errorf("transcript not found: %w", err)
	}

	rows, err := s.db.Query(
		"SELECT sender, text, timestamp FROM transcript_entries WHERE transcript_id = ? ORDER BY position",
		id,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load entries: %w", err)
	}
	defer rows.Close()

	t := &Transcript{ID: id, Feature: feature, StartTime: startTime}
	for rows.Next() {
		var e Entry
		var sender string
		if err := rows.Scan(&sender, &e.Text, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan entry: %w", err)
		}
		e.Sender = Sender(sender)
		t.entries = append(t.entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read entries: %w", err)
	}

	return t, nil
}
