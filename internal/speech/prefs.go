package speech

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
)

const keySpeechOutput = "speech_output_enabled"

// Preferences persists user speech settings in the preferences table.
type Preferences struct {
	db *sql.DB

	// Default applies until the user stores a choice.
	Default bool
}

// NewPreferences creates Preferences over the schema created by telemetry.InitDB.
// Speech output starts enabled.
func NewPreferences(db *sql.DB) *Preferences {
	return &Preferences{db: db, Default: true}
}

// SpeechOutputEnabled reports whether replies are spoken aloud.
func (p *Preferences) SpeechOutputEnabled(ctx context.Context) (bool, error) {
	var raw string
	err := p.db.QueryRowContext(ctx, "SELECT value FROM preferences WHERE key = ?", keySpeechOutput).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return p.Default, nil
	}
	if err != nil {
		return p.Default, fmt.Errorf("failed to read preference: %w", err)
	}
	enabled, err := strconv.ParseBool(raw)
	if err != nil {
		return p.Default, fmt.Errorf("invalid %s value %q: %w", keySpeechOutput, raw, err)
	}
	return enabled, nil
}

// SetSpeechOutput stores the speech output toggle.
func (p *Preferences) SetSpeechOutput(ctx context.Context, enabled bool) error {
	_, err := p.db.ExecContext(ctx,
		"INSERT OR REPLACE INTO preferences (key, value) VALUES (?, ?)",
		keySpeechOutput, strconv.FormatBool(enabled),
	)
	if err != nil {
		return fmt.Errorf("failed to save preference: %w", err)
	}
	return nil
}
