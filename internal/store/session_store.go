package store

import (
	"context"
	"fmt"

	"github.com/nhle/mailcache/internal/model"
)

// UpsertSession inserts or replaces a user session row.
func (s *SQLiteStore) UpsertSession(ctx context.Context, session model.UserSession) error {
	if session.UserID == "" {
		return fmt.Errorf("upserting session: empty user id")
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO sessions (
			user_id, username, host, capabilities, last_activity
		) VALUES (?, ?, ?, ?, ?)`,
		session.UserID, session.Username, session.Host,
		session.Capabilities, session.LastActivity.UTC(),
	)
	if err != nil {
		return fmt.Errorf("upserting session %s: %w", session.UserID, err)
	}

	return nil
}

// GetSessions retrieves all known sessions, most recently active first.
func (s *SQLiteStore) GetSessions(ctx context.Context) ([]model.UserSession, error) {
	rows, err := s.db.QueryxContext(ctx, `
		SELECT user_id, username, host, capabilities, last_activity
		FROM sessions ORDER BY last_activity DESC`)
	if err != nil {
		return nil, fmt.Errorf("querying sessions: %w", err)
	}
	defer rows.Close()

	var sessions []model.UserSession
	for rows.Next() {
		var sess model.UserSession
		err := rows.Scan(
			&sess.UserID, &sess.Username, &sess.Host,
			&sess.Capabilities, &sess.LastActivity,
		)
		if err != nil {
			return nil, fmt.Errorf("scanning session row: %w", err)
		}
		sessions = append(sessions, sess)
	}

	return sessions, rows.Err()
}

// DeleteSession removes a session row by user ID.
func (s *SQLiteStore) DeleteSession(ctx context.Context, userID string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM sessions WHERE user_id = ?", userID)
	if err != nil {
		return fmt.Errorf("deleting session %s: %w", userID, err)
	}
	return nil
}
