package store

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/nhle/mailcache/internal/model"
)

// GetSyncState retrieves the sync cursor for one (user, account,
// mailbox), or nil if no sync has happened yet. An empty mailboxID
// addresses the account-wide Email collection row.
func (s *SQLiteStore) GetSyncState(
	ctx context.Context,
	userID, accountID, mailboxID string,
) (*model.SyncState, error) {
	rows, err := s.db.QueryxContext(ctx, `
		SELECT user_id, account_id, mailbox_id, state, position, last_sync_at
		FROM sync_state
		WHERE user_id = ? AND account_id = ? AND mailbox_id = ?`,
		userID, accountID, mailboxID,
	)
	if err != nil {
		return nil, fmt.Errorf("getting sync state: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, rows.Err()
	}

	var st model.SyncState
	err = rows.Scan(
		&st.UserID, &st.AccountID, &st.MailboxID,
		&st.State, &st.Position, &st.LastSyncAt,
	)
	if err != nil {
		return nil, fmt.Errorf("scanning sync state row: %w", err)
	}

	return &st, nil
}

// GetSyncStates retrieves every sync cursor of one user.
func (s *SQLiteStore) GetSyncStates(ctx context.Context, userID string) ([]model.SyncState, error) {
	if userID == "" {
		return nil, fmt.Errorf("listing sync states: empty user id")
	}

	rows, err := s.db.QueryxContext(ctx, `
		SELECT user_id, account_id, mailbox_id, state, position, last_sync_at
		FROM sync_state WHERE user_id = ?
		ORDER BY account_id, mailbox_id`, userID)
	if err != nil {
		return nil, fmt.Errorf("querying sync states: %w", err)
	}
	defer rows.Close()

	var states []model.SyncState
	for rows.Next() {
		var st model.SyncState
		err := rows.Scan(
			&st.UserID, &st.AccountID, &st.MailboxID,
			&st.State, &st.Position, &st.LastSyncAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scanning sync state row: %w", err)
		}
		states = append(states, st)
	}

	return states, rows.Err()
}

// SetSyncState inserts or replaces a sync cursor.
func (s *SQLiteStore) SetSyncState(ctx context.Context, state model.SyncState) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if err := setSyncStateTx(ctx, tx, state); err != nil {
		return err
	}

	return tx.Commit()
}

// setSyncStateTx writes a sync cursor inside an open transaction.
func setSyncStateTx(ctx context.Context, tx *sqlx.Tx, state model.SyncState) error {
	if state.UserID == "" {
		return fmt.Errorf("setting sync state: empty user id")
	}
	if state.AccountID == "" {
		return fmt.Errorf("setting sync state: empty account id")
	}

	_, err := tx.ExecContext(ctx, `
		INSERT OR REPLACE INTO sync_state (
			user_id, account_id, mailbox_id, state, position, last_sync_at
		) VALUES (?, ?, ?, ?, ?, ?)`,
		state.UserID, state.AccountID, state.MailboxID,
		state.State, state.Position, state.LastSyncAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("setting sync state for %s/%s: %w", state.AccountID, state.MailboxID, err)
	}

	return nil
}
