package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/nhle/mailcache/internal/model"
)

// emailColumns is the column list of the emails table in schema order,
// shared by every query that feeds scanEmail.
const emailColumns = `id, user_id, thread_id, mailbox_ids, keywords, size,
	received_at, sent_at, from_list, to_list, cc_list, from_text,
	subject, preview, has_attachment, attachments, synced_at`

// UpsertEmails inserts or replaces a batch of cached emails together
// with their mailbox membership rows.
func (s *SQLiteStore) UpsertEmails(ctx context.Context, emails []model.Email) error {
	if len(emails) == 0 {
		return nil
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if err := upsertEmailsTx(ctx, tx, emails); err != nil {
		return err
	}

	return tx.Commit()
}

// SaveEmailPage writes a fetched page and its advanced sync cursor in
// one transaction.
func (s *SQLiteStore) SaveEmailPage(
	ctx context.Context,
	emails []model.Email,
	cursor model.SyncState,
) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if err := upsertEmailsTx(ctx, tx, emails); err != nil {
		return err
	}
	if err := setSyncStateTx(ctx, tx, cursor); err != nil {
		return err
	}

	return tx.Commit()
}

// ApplyEmailChanges applies a server delta and advances the collection
// state in one transaction.
func (s *SQLiteStore) ApplyEmailChanges(
	ctx context.Context,
	upserts []model.Email,
	destroyedIDs []string,
	state model.SyncState,
) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if err := upsertEmailsTx(ctx, tx, upserts); err != nil {
		return err
	}
	if err := deleteEmailsTx(ctx, tx, state.UserID, destroyedIDs); err != nil {
		return err
	}
	if err := setSyncStateTx(ctx, tx, state); err != nil {
		return err
	}

	return tx.Commit()
}

// DeleteEmails removes the given emails and their membership rows from
// one user's partition.
func (s *SQLiteStore) DeleteEmails(ctx context.Context, userID string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if err := deleteEmailsTx(ctx, tx, userID, ids); err != nil {
		return err
	}

	return tx.Commit()
}

// GetEmails retrieves one page of a mailbox listing, most recent first.
func (s *SQLiteStore) GetEmails(ctx context.Context, q EmailQuery) ([]model.Email, error) {
	if q.UserID == "" {
		return nil, fmt.Errorf("listing emails: empty user id")
	}
	if q.MailboxID == "" {
		return nil, fmt.Errorf("listing emails: empty mailbox id")
	}

	conditions := []string{"m.user_id = ?", "m.mailbox_id = ?"}
	args := []interface{}{q.UserID, q.MailboxID}

	if q.Before != nil {
		conditions = append(conditions, "m.received_at < ?")
		args = append(args, q.Before.UTC())
	}
	if q.After != nil {
		conditions = append(conditions, "m.received_at >= ?")
		args = append(args, q.After.UTC())
	}

	query := "SELECT " + prefixedEmailColumns("e") + `
		FROM emails e
		JOIN email_mailboxes m ON m.user_id = e.user_id AND m.email_id = e.id
		WHERE ` + strings.Join(conditions, " AND ") + `
		ORDER BY m.received_at DESC, e.id DESC`

	if q.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", q.Limit)
	}
	if q.Offset > 0 {
		query += fmt.Sprintf(" OFFSET %d", q.Offset)
	}

	rows, err := s.db.QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying emails: %w", err)
	}
	defer rows.Close()

	var emails []model.Email
	for rows.Next() {
		e, err := scanEmail(rows)
		if err != nil {
			return nil, err
		}
		emails = append(emails, e)
	}

	return emails, rows.Err()
}

// GetEmailByID retrieves a single cached email, or nil if it is not cached.
func (s *SQLiteStore) GetEmailByID(ctx context.Context, userID, id string) (*model.Email, error) {
	query := "SELECT " + emailColumns + " FROM emails WHERE user_id = ? AND id = ?"

	rows, err := s.db.QueryxContext(ctx, query, userID, id)
	if err != nil {
		return nil, fmt.Errorf("getting email %s: %w", id, err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, rows.Err()
	}

	e, err := scanEmail(rows)
	if err != nil {
		return nil, fmt.Errorf("getting email %s: %w", id, err)
	}
	return &e, nil
}

// CountMailboxEmails reports how many messages of a mailbox are cached
// for a user, without materializing any rows.
func (s *SQLiteStore) CountMailboxEmails(ctx context.Context, userID, mailboxID string) (int, error) {
	if userID == "" {
		return 0, fmt.Errorf("counting emails: empty user id")
	}

	var count int
	err := s.db.GetContext(ctx, &count,
		"SELECT COUNT(*) FROM email_mailboxes WHERE user_id = ? AND mailbox_id = ?",
		userID, mailboxID,
	)
	if err != nil {
		return 0, fmt.Errorf("counting emails in mailbox %s: %w", mailboxID, err)
	}

	return count, nil
}

// SearchEmails finds cached messages whose subject, sender, or preview
// contains the query text, newest first.
func (s *SQLiteStore) SearchEmails(ctx context.Context, q SearchQuery) ([]model.Email, error) {
	if q.UserID == "" {
		return nil, fmt.Errorf("searching emails: empty user id")
	}

	pattern := "%" + escapeLike(q.Text) + "%"
	conditions := []string{
		"e.user_id = ?",
		`(LOWER(e.subject) LIKE ? ESCAPE '\'
			OR LOWER(e.from_text) LIKE ? ESCAPE '\'
			OR LOWER(e.preview) LIKE ? ESCAPE '\')`,
	}
	args := []interface{}{q.UserID, pattern, pattern, pattern}

	if q.MailboxID != "" {
		conditions = append(conditions,
			"e.id IN (SELECT email_id FROM email_mailboxes WHERE user_id = ? AND mailbox_id = ?)")
		args = append(args, q.UserID, q.MailboxID)
	}

	query := "SELECT " + prefixedEmailColumns("e") + `
		FROM emails e
		WHERE ` + strings.Join(conditions, " AND ") + `
		ORDER BY e.received_at DESC, e.id DESC`

	if q.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", q.Limit)
	}

	rows, err := s.db.QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("searching emails: %w", err)
	}
	defer rows.Close()

	var emails []model.Email
	for rows.Next() {
		e, err := scanEmail(rows)
		if err != nil {
			return nil, err
		}
		emails = append(emails, e)
	}

	return emails, rows.Err()
}

// upsertEmailsTx writes email rows and rebuilds their mailbox
// membership rows inside an open transaction. Rows without an owning
// user are rejected before anything is written.
func upsertEmailsTx(ctx context.Context, tx *sqlx.Tx, emails []model.Email) error {
	if len(emails) == 0 {
		return nil
	}

	emailQuery := `
		INSERT OR REPLACE INTO emails (` + emailColumns + `) VALUES (
			?, ?, ?, ?, ?, ?,
			?, ?, ?, ?, ?, ?,
			?, ?, ?, ?, ?
		)`

	emailStmt, err := tx.PreparexContext(ctx, emailQuery)
	if err != nil {
		return fmt.Errorf("preparing email upsert: %w", err)
	}
	defer emailStmt.Close()

	clearStmt, err := tx.PreparexContext(ctx,
		"DELETE FROM email_mailboxes WHERE user_id = ? AND email_id = ?")
	if err != nil {
		return fmt.Errorf("preparing membership delete: %w", err)
	}
	defer clearStmt.Close()

	memberStmt, err := tx.PreparexContext(ctx, `
		INSERT OR REPLACE INTO email_mailboxes (user_id, mailbox_id, email_id, received_at)
		VALUES (?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing membership insert: %w", err)
	}
	defer memberStmt.Close()

	for _, e := range emails {
		if e.UserID == "" {
			return fmt.Errorf("upserting email %s: empty user id", e.ID)
		}
		if e.ID == "" {
			return fmt.Errorf("upserting email for user %s: empty id", e.UserID)
		}

		mailboxIDs, err := json.Marshal(e.MailboxIDs)
		if err != nil {
			return fmt.Errorf("marshaling mailbox ids for email %s: %w", e.ID, err)
		}
		keywords, err := json.Marshal(e.Keywords)
		if err != nil {
			return fmt.Errorf("marshaling keywords for email %s: %w", e.ID, err)
		}
		fromList, err := json.Marshal(e.From)
		if err != nil {
			return fmt.Errorf("marshaling from list for email %s: %w", e.ID, err)
		}
		toList, err := json.Marshal(e.To)
		if err != nil {
			return fmt.Errorf("marshaling to list for email %s: %w", e.ID, err)
		}
		ccList, err := json.Marshal(e.Cc)
		if err != nil {
			return fmt.Errorf("marshaling cc list for email %s: %w", e.ID, err)
		}
		attachments, err := json.Marshal(e.Attachments)
		if err != nil {
			return fmt.Errorf("marshaling attachments for email %s: %w", e.ID, err)
		}

		var sentAt interface{}
		if !e.SentAt.IsZero() {
			sentAt = e.SentAt.UTC()
		}

		_, err = emailStmt.ExecContext(ctx,
			e.ID, e.UserID, e.ThreadID, string(mailboxIDs), string(keywords), e.Size,
			e.ReceivedAt.UTC(), sentAt, string(fromList), string(toList), string(ccList),
			fromText(e.From), e.Subject, e.Preview, boolToInt(e.HasAttachment),
			string(attachments), e.SyncedAt.UTC(),
		)
		if err != nil {
			return fmt.Errorf("upserting email %s: %w", e.ID, err)
		}

		// Rebuild membership rows from the canonical set so the
		// listing index always agrees with mailbox_ids.
		if _, err := clearStmt.ExecContext(ctx, e.UserID, e.ID); err != nil {
			return fmt.Errorf("clearing membership for email %s: %w", e.ID, err)
		}
		for _, mailboxID := range sortedMailboxIDs(e.MailboxIDs) {
			_, err := memberStmt.ExecContext(ctx,
				e.UserID, mailboxID, e.ID, e.ReceivedAt.UTC())
			if err != nil {
				return fmt.Errorf("inserting membership %s/%s: %w", mailboxID, e.ID, err)
			}
		}
	}

	return nil
}

// deleteEmailsTx removes email rows and their membership rows inside an
// open transaction.
func deleteEmailsTx(ctx context.Context, tx *sqlx.Tx, userID string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	if userID == "" {
		return fmt.Errorf("deleting emails: empty user id")
	}

	clearStmt, err := tx.PreparexContext(ctx,
		"DELETE FROM email_mailboxes WHERE user_id = ? AND email_id = ?")
	if err != nil {
		return fmt.Errorf("preparing membership delete: %w", err)
	}
	defer clearStmt.Close()

	emailStmt, err := tx.PreparexContext(ctx,
		"DELETE FROM emails WHERE user_id = ? AND id = ?")
	if err != nil {
		return fmt.Errorf("preparing email delete: %w", err)
	}
	defer emailStmt.Close()

	for _, id := range ids {
		if _, err := clearStmt.ExecContext(ctx, userID, id); err != nil {
			return fmt.Errorf("deleting membership for email %s: %w", id, err)
		}
		if _, err := emailStmt.ExecContext(ctx, userID, id); err != nil {
			return fmt.Errorf("deleting email %s: %w", id, err)
		}
	}

	return nil
}

// scanEmail scans an email row from a sqlx result.
func scanEmail(rows interface{ Scan(dest ...interface{}) error }) (model.Email, error) {
	var (
		e             model.Email
		mailboxIDs    string
		keywords      string
		fromList      string
		toList        string
		ccList        string
		fromCol       string
		attachments   string
		sentAt        *time.Time
		hasAttachment int
	)

	err := rows.Scan(
		&e.ID, &e.UserID, &e.ThreadID, &mailboxIDs, &keywords, &e.Size,
		&e.ReceivedAt, &sentAt, &fromList, &toList, &ccList, &fromCol,
		&e.Subject, &e.Preview, &hasAttachment, &attachments, &e.SyncedAt,
	)
	if err != nil {
		return model.Email{}, fmt.Errorf("scanning email row: %w", err)
	}

	if sentAt != nil {
		e.SentAt = *sentAt
	}
	e.HasAttachment = hasAttachment != 0

	for _, col := range []struct {
		raw  string
		dest interface{}
		name string
	}{
		{mailboxIDs, &e.MailboxIDs, "mailbox_ids"},
		{keywords, &e.Keywords, "keywords"},
		{fromList, &e.From, "from_list"},
		{toList, &e.To, "to_list"},
		{ccList, &e.Cc, "cc_list"},
		{attachments, &e.Attachments, "attachments"},
	} {
		if col.raw == "" {
			continue
		}
		if err := json.Unmarshal([]byte(col.raw), col.dest); err != nil {
			return model.Email{}, fmt.Errorf("unmarshaling %s: %w", col.name, err)
		}
	}

	e.MailboxIDList = sortedMailboxIDs(e.MailboxIDs)

	return e, nil
}

// prefixedEmailColumns qualifies every email column with a table alias
// for queries that join against the membership table.
func prefixedEmailColumns(alias string) string {
	cols := strings.Split(emailColumns, ",")
	for i, c := range cols {
		cols[i] = alias + "." + strings.TrimSpace(c)
	}
	return strings.Join(cols, ", ")
}

// sortedMailboxIDs flattens a membership set to a sorted slice of the
// ids mapped to true.
func sortedMailboxIDs(set map[string]bool) []string {
	ids := make([]string, 0, len(set))
	for id, in := range set {
		if in {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return nil
	}
	sort.Strings(ids)
	return ids
}

// fromText renders an address list as a single searchable string.
func fromText(addrs []model.EmailAddress) string {
	parts := make([]string, 0, len(addrs))
	for _, a := range addrs {
		if a.Name != "" {
			parts = append(parts, fmt.Sprintf("%s <%s>", a.Name, a.Email))
		} else {
			parts = append(parts, a.Email)
		}
	}
	return strings.Join(parts, ", ")
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// escapeLike escapes LIKE wildcards so query text matches literally.
func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}
