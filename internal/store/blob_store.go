package store

import (
	"context"
	"fmt"

	"github.com/nhle/mailcache/internal/model"
)

// PutBlob caches an attachment body.
func (s *SQLiteStore) PutBlob(ctx context.Context, blob model.Blob) error {
	if blob.UserID == "" {
		return fmt.Errorf("putting blob %s: empty user id", blob.BlobID)
	}
	if blob.BlobID == "" {
		return fmt.Errorf("putting blob for user %s: empty blob id", blob.UserID)
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO blobs (
			blob_id, user_id, type, name, size, data, synced_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		blob.BlobID, blob.UserID, blob.Type, blob.Name,
		blob.Size, blob.Data, blob.SyncedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("putting blob %s: %w", blob.BlobID, err)
	}

	return nil
}

// GetBlob retrieves a cached attachment body, or nil on a cache miss.
func (s *SQLiteStore) GetBlob(ctx context.Context, userID, blobID string) (*model.Blob, error) {
	rows, err := s.db.QueryxContext(ctx, `
		SELECT blob_id, user_id, type, name, size, data, synced_at
		FROM blobs WHERE user_id = ? AND blob_id = ?`,
		userID, blobID,
	)
	if err != nil {
		return nil, fmt.Errorf("getting blob %s: %w", blobID, err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, rows.Err()
	}

	var b model.Blob
	err = rows.Scan(&b.BlobID, &b.UserID, &b.Type, &b.Name, &b.Size, &b.Data, &b.SyncedAt)
	if err != nil {
		return nil, fmt.Errorf("scanning blob row: %w", err)
	}

	return &b, nil
}
