package store

import (
	"context"
	"database/sql"

	"github.com/pkg/errors"
)

// SavePreferences appends a new preferences row for the user. The latest row wins.
func (s *SQLiteStore) SavePreferences(ctx context.Context, prefs Preferences) (*Preferences, error) {
	now := s.now()
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO user_preferences (user_id, preferences, expertise_domains, timestamp) VALUES (?, ?, ?, ?)",
		prefs.UserID, prefs.Preferences, prefs.ExpertiseDomains, formatTime(now))
	if err != nil {
		return nil, errors.Wrap(err, "inserting preferences")
	}
	prefs.UpdatedAt = now.UTC()
	return &prefs, nil
}

// GetPreferences returns the user's latest preferences, or nil, nil when none were saved.
func (s *SQLiteStore) GetPreferences(ctx context.Context, userID int64) (*Preferences, error) {
	var (
		prefs     = Preferences{UserID: userID}
		timestamp string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT preferences, expertise_domains, timestamp
		FROM user_preferences
		WHERE user_id = ?
		ORDER BY timestamp DESC, id DESC
		LIMIT 1`, userID).Scan(&prefs.Preferences, &prefs.ExpertiseDomains, &timestamp)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "scanning preferences")
	}
	if prefs.UpdatedAt, err = parseTime(timestamp); err != nil {
		return nil, err
	}
	return &prefs, nil
}
