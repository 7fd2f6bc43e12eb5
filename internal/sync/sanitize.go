package sync

import (
	"regexp"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/nhle/mailcache/internal/jmap"
	"github.com/nhle/mailcache/internal/model"
)

const (
	// maxSubjectLen and maxPreviewLen bound the text cached per email so
	// a hostile server cannot bloat the local database.
	maxSubjectLen = 1000
	maxPreviewLen = 500

	// maxQueryLen bounds search input; maxSearchResults bounds output.
	maxQueryLen      = 100
	maxSearchResults = 30
)

var htmlTagPattern = regexp.MustCompile(`<[^>]*>`)

var entityReplacer = strings.NewReplacer(
	"&amp;", "&",
	"&lt;", "<",
	"&gt;", ">",
	"&quot;", `"`,
	"&#39;", "'",
	"&nbsp;", " ",
)

// stripMarkup converts HTML-ish text to plain text: block and break
// tags become newlines, all other tags are removed, and common
// entities are decoded.
func stripMarkup(s string) string {
	if s == "" {
		return s
	}

	replacements := []struct{ from, to string }{
		{"<br>", "\n"},
		{"<br/>", "\n"},
		{"<br />", "\n"},
		{"</p>", "\n"},
		{"</div>", "\n"},
		{"</li>", "\n"},
	}
	for _, r := range replacements {
		s = strings.ReplaceAll(s, r.from, r.to)
	}

	s = htmlTagPattern.ReplaceAllString(s, "")
	s = entityReplacer.Replace(s)

	for strings.Contains(s, "\n\n\n") {
		s = strings.ReplaceAll(s, "\n\n\n", "\n\n")
	}

	return strings.TrimSpace(s)
}

// truncateRunes caps s at max runes without splitting a character.
func truncateRunes(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	return string([]rune(s)[:max])
}

// sanitizeQuery normalizes free-form search input: surrounding
// whitespace is dropped, matching is case-insensitive, and the query
// is capped at maxQueryLen runes.
func sanitizeQuery(q string) string {
	q = strings.ToLower(strings.TrimSpace(q))
	return truncateRunes(q, maxQueryLen)
}

// buildCachedEmail validates a server record and converts it into a
// cache row stamped with the owning user. Records missing an id,
// thread id, or receive date are rejected with a ValidationError so a
// broken page never reaches the database.
func buildCachedEmail(raw jmap.Email, userID string, syncedAt time.Time) (model.Email, error) {
	if raw.ID == "" {
		return model.Email{}, &ValidationError{Field: "id", Message: "server record has no id"}
	}
	if raw.ThreadID == "" {
		return model.Email{}, &ValidationError{Field: "thread_id", Message: "email " + raw.ID + " has no thread id"}
	}
	if raw.ReceivedAt.IsZero() {
		return model.Email{}, &ValidationError{Field: "received_at", Message: "email " + raw.ID + " has no receive date"}
	}

	email := model.Email{
		ID:            raw.ID,
		ThreadID:      raw.ThreadID,
		UserID:        userID,
		MailboxIDs:    raw.MailboxIDs,
		Keywords:      raw.Keywords,
		Size:          raw.Size,
		ReceivedAt:    raw.ReceivedAt.UTC(),
		From:          raw.From,
		To:            raw.To,
		Cc:            raw.Cc,
		Subject:       truncateRunes(stripMarkup(raw.Subject), maxSubjectLen),
		Preview:       truncateRunes(stripMarkup(raw.Preview), maxPreviewLen),
		HasAttachment: raw.HasAttachment,
		Attachments:   raw.Attachments,
		SyncedAt:      syncedAt,
	}
	if !raw.SentAt.IsZero() {
		email.SentAt = raw.SentAt.UTC()
	}
	ids := make([]string, 0, len(email.MailboxIDs))
	for id, in := range email.MailboxIDs {
		if in {
			ids = append(ids, id)
		}
	}
	if len(ids) > 0 {
		sort.Strings(ids)
		email.MailboxIDList = ids
	}
	return email, nil
}
