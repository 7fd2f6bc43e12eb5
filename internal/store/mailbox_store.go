package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nhle/mailcache/internal/model"
)

// UpsertMailboxes inserts or replaces a batch of cached mailboxes.
func (s *SQLiteStore) UpsertMailboxes(ctx context.Context, mailboxes []model.Mailbox) error {
	if len(mailboxes) == 0 {
		return nil
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PreparexContext(ctx, `
		INSERT OR REPLACE INTO mailboxes (
			id, user_id, name, parent_id, role,
			sort_order, total_emails, unread_emails, synced_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing mailbox upsert: %w", err)
	}
	defer stmt.Close()

	for _, m := range mailboxes {
		if m.UserID == "" {
			return fmt.Errorf("upserting mailbox %s: empty user id", m.ID)
		}
		_, err := stmt.ExecContext(ctx,
			m.ID, m.UserID, m.Name, m.ParentID, m.Role,
			m.SortOrder, m.TotalEmails, m.UnreadEmails, m.SyncedAt.UTC(),
		)
		if err != nil {
			return fmt.Errorf("upserting mailbox %s: %w", m.ID, err)
		}
	}

	return tx.Commit()
}

// GetMailboxes retrieves all cached mailboxes of one user, in the
// server-suggested order.
func (s *SQLiteStore) GetMailboxes(ctx context.Context, userID string) ([]model.Mailbox, error) {
	if userID == "" {
		return nil, fmt.Errorf("listing mailboxes: empty user id")
	}

	rows, err := s.db.QueryxContext(ctx, `
		SELECT id, user_id, name, parent_id, role,
			sort_order, total_emails, unread_emails, synced_at
		FROM mailboxes WHERE user_id = ?
		ORDER BY sort_order, name`, userID)
	if err != nil {
		return nil, fmt.Errorf("querying mailboxes: %w", err)
	}
	defer rows.Close()

	var mailboxes []model.Mailbox
	for rows.Next() {
		var m model.Mailbox
		err := rows.Scan(
			&m.ID, &m.UserID, &m.Name, &m.ParentID, &m.Role,
			&m.SortOrder, &m.TotalEmails, &m.UnreadEmails, &m.SyncedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scanning mailbox row: %w", err)
		}
		mailboxes = append(mailboxes, m)
	}

	return mailboxes, rows.Err()
}

// UpsertThreads inserts or replaces a batch of cached threads.
func (s *SQLiteStore) UpsertThreads(ctx context.Context, threads []model.Thread) error {
	if len(threads) == 0 {
		return nil
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PreparexContext(ctx, `
		INSERT OR REPLACE INTO threads (id, user_id, email_ids, synced_at)
		VALUES (?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing thread upsert: %w", err)
	}
	defer stmt.Close()

	for _, t := range threads {
		if t.UserID == "" {
			return fmt.Errorf("upserting thread %s: empty user id", t.ID)
		}
		emailIDs, err := json.Marshal(t.EmailIDs)
		if err != nil {
			return fmt.Errorf("marshaling email ids for thread %s: %w", t.ID, err)
		}
		_, err = stmt.ExecContext(ctx, t.ID, t.UserID, string(emailIDs), t.SyncedAt.UTC())
		if err != nil {
			return fmt.Errorf("upserting thread %s: %w", t.ID, err)
		}
	}

	return tx.Commit()
}

// GetThreadByID retrieves a single cached thread, or nil if it is not cached.
func (s *SQLiteStore) GetThreadByID(ctx context.Context, userID, id string) (*model.Thread, error) {
	rows, err := s.db.QueryxContext(ctx,
		"SELECT id, user_id, email_ids, synced_at FROM threads WHERE user_id = ? AND id = ?",
		userID, id,
	)
	if err != nil {
		return nil, fmt.Errorf("getting thread %s: %w", id, err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, rows.Err()
	}

	var (
		t        model.Thread
		emailIDs string
	)
	if err := rows.Scan(&t.ID, &t.UserID, &emailIDs, &t.SyncedAt); err != nil {
		return nil, fmt.Errorf("scanning thread row: %w", err)
	}
	if emailIDs != "" {
		if err := json.Unmarshal([]byte(emailIDs), &t.EmailIDs); err != nil {
			return nil, fmt.Errorf("unmarshaling email ids: %w", err)
		}
	}

	return &t, nil
}
