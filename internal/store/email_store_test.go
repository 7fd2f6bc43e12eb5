package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/nhle/mailcache/internal/model"
	"github.com/nhle/mailcache/internal/store"
	"github.com/nhle/mailcache/tests/testutil"
)

var baseTime = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

// testEmail builds a cached email owned by userID, received at base
// time plus the given offset in minutes.
func testEmail(userID, id string, minutes int, mailboxes ...string) model.Email {
	set := make(map[string]bool, len(mailboxes))
	for _, m := range mailboxes {
		set[m] = true
	}
	received := baseTime.Add(time.Duration(minutes) * time.Minute)
	return model.Email{
		ID:         id,
		ThreadID:   "thread-" + id,
		UserID:     userID,
		MailboxIDs: set,
		Keywords:   map[string]bool{"$seen": true},
		Size:       2048,
		ReceivedAt: received,
		From: []model.EmailAddress{
			{Name: "Alice Example", Email: "alice@example.com"},
		},
		To: []model.EmailAddress{
			{Name: "Bob", Email: "bob@example.com"},
		},
		Subject:  "Subject " + id,
		Preview:  "Preview text for " + id,
		SyncedAt: baseTime,
	}
}

func TestUpsertAndGetEmails(t *testing.T) {
	s := testutil.NewTestStore(t)
	ctx := context.Background()

	want := testEmail("user_aaaa0001", "m1", 0, "inbox", "flagged")
	want.SentAt = baseTime.Add(-time.Hour)

	if err := s.UpsertEmails(ctx, []model.Email{want}); err != nil {
		t.Fatalf("UpsertEmails: %v", err)
	}

	got, err := s.GetEmailByID(ctx, "user_aaaa0001", "m1")
	if err != nil {
		t.Fatalf("GetEmailByID: %v", err)
	}
	if got == nil {
		t.Fatal("GetEmailByID returned nil for cached email")
	}

	// The flat list is derived from the membership set on read.
	want.MailboxIDList = []string{"flagged", "inbox"}
	if diff := cmp.Diff(want, *got); diff != "" {
		t.Errorf("email roundtrip mismatch (-want +got):\n%s", diff)
	}
}

func TestGetEmailByIDMissing(t *testing.T) {
	s := testutil.NewTestStore(t)

	got, err := s.GetEmailByID(context.Background(), "user_aaaa0001", "absent")
	if err != nil {
		t.Fatalf("GetEmailByID: %v", err)
	}
	if got != nil {
		t.Errorf("GetEmailByID = %+v, want nil for uncached id", got)
	}
}

func TestGetEmailsIsolatedByUser(t *testing.T) {
	s := testutil.NewTestStore(t)
	ctx := context.Background()

	emails := []model.Email{
		testEmail("user_aaaa0001", "a1", 0, "inbox"),
		testEmail("user_aaaa0001", "a2", 1, "inbox"),
		testEmail("user_bbbb0002", "b1", 2, "inbox"),
	}
	if err := s.UpsertEmails(ctx, emails); err != nil {
		t.Fatalf("UpsertEmails: %v", err)
	}

	got, err := s.GetEmails(ctx, store.EmailQuery{
		UserID:    "user_aaaa0001",
		MailboxID: "inbox",
	})
	if err != nil {
		t.Fatalf("GetEmails: %v", err)
	}

	if len(got) != 2 {
		t.Fatalf("got %d emails, want 2", len(got))
	}
	for _, e := range got {
		if e.UserID != "user_aaaa0001" {
			t.Errorf("listing leaked email %s owned by %s", e.ID, e.UserID)
		}
	}
}

func TestUpsertEmailsIdempotent(t *testing.T) {
	s := testutil.NewTestStore(t)
	ctx := context.Background()

	page := []model.Email{
		testEmail("user_aaaa0001", "m1", 0, "inbox"),
		testEmail("user_aaaa0001", "m2", 1, "inbox"),
	}

	for i := 0; i < 2; i++ {
		if err := s.UpsertEmails(ctx, page); err != nil {
			t.Fatalf("UpsertEmails pass %d: %v", i+1, err)
		}
	}

	count, err := s.CountMailboxEmails(ctx, "user_aaaa0001", "inbox")
	if err != nil {
		t.Fatalf("CountMailboxEmails: %v", err)
	}
	if count != 2 {
		t.Errorf("count after duplicate upsert = %d, want 2", count)
	}
}

func TestUpsertEmailsRejectsMissingUser(t *testing.T) {
	s := testutil.NewTestStore(t)
	ctx := context.Background()

	good := testEmail("user_aaaa0001", "m1", 0, "inbox")
	bad := testEmail("", "m2", 1, "inbox")

	if err := s.UpsertEmails(ctx, []model.Email{good, bad}); err == nil {
		t.Fatal("UpsertEmails accepted an email without an owning user")
	}

	// The whole batch rolls back, including the valid row.
	count, err := s.CountMailboxEmails(ctx, "user_aaaa0001", "inbox")
	if err != nil {
		t.Fatalf("CountMailboxEmails: %v", err)
	}
	if count != 0 {
		t.Errorf("count after rejected batch = %d, want 0", count)
	}
}

func TestMembershipFollowsMailboxSet(t *testing.T) {
	s := testutil.NewTestStore(t)
	ctx := context.Background()

	e := testEmail("user_aaaa0001", "m1", 0, "inbox", "flagged")
	if err := s.UpsertEmails(ctx, []model.Email{e}); err != nil {
		t.Fatalf("UpsertEmails: %v", err)
	}

	for _, mailbox := range []string{"inbox", "flagged"} {
		count, err := s.CountMailboxEmails(ctx, "user_aaaa0001", mailbox)
		if err != nil {
			t.Fatalf("CountMailboxEmails(%s): %v", mailbox, err)
		}
		if count != 1 {
			t.Errorf("count in %s = %d, want 1", mailbox, count)
		}
	}

	// Moving the message must update the derived membership rows too.
	e.MailboxIDs = map[string]bool{"archive": true}
	if err := s.UpsertEmails(ctx, []model.Email{e}); err != nil {
		t.Fatalf("UpsertEmails after move: %v", err)
	}

	cases := []struct {
		mailbox string
		want    int
	}{
		{"inbox", 0},
		{"flagged", 0},
		{"archive", 1},
	}
	for _, tc := range cases {
		count, err := s.CountMailboxEmails(ctx, "user_aaaa0001", tc.mailbox)
		if err != nil {
			t.Fatalf("CountMailboxEmails(%s): %v", tc.mailbox, err)
		}
		if count != tc.want {
			t.Errorf("count in %s after move = %d, want %d", tc.mailbox, count, tc.want)
		}
	}

	got, err := s.GetEmailByID(ctx, "user_aaaa0001", "m1")
	if err != nil {
		t.Fatalf("GetEmailByID: %v", err)
	}
	if diff := cmp.Diff([]string{"archive"}, got.MailboxIDList); diff != "" {
		t.Errorf("derived mailbox list mismatch (-want +got):\n%s", diff)
	}
}

func TestGetEmailsOrderAndPaging(t *testing.T) {
	s := testutil.NewTestStore(t)
	ctx := context.Background()

	var page []model.Email
	for i := 0; i < 5; i++ {
		page = append(page, testEmail("user_aaaa0001", string(rune('a'+i)), i, "inbox"))
	}
	if err := s.UpsertEmails(ctx, page); err != nil {
		t.Fatalf("UpsertEmails: %v", err)
	}

	got, err := s.GetEmails(ctx, store.EmailQuery{
		UserID:    "user_aaaa0001",
		MailboxID: "inbox",
		Limit:     2,
		Offset:    1,
	})
	if err != nil {
		t.Fatalf("GetEmails: %v", err)
	}

	var ids []string
	for _, e := range got {
		ids = append(ids, e.ID)
	}
	// Newest first: e, d, c, b, a. Offset 1 limit 2 selects d, c.
	if diff := cmp.Diff([]string{"d", "c"}, ids); diff != "" {
		t.Errorf("page mismatch (-want +got):\n%s", diff)
	}
}

func TestGetEmailsDateBounds(t *testing.T) {
	s := testutil.NewTestStore(t)
	ctx := context.Background()

	var page []model.Email
	for i := 0; i < 4; i++ {
		page = append(page, testEmail("user_aaaa0001", string(rune('a'+i)), i*60, "inbox"))
	}
	if err := s.UpsertEmails(ctx, page); err != nil {
		t.Fatalf("UpsertEmails: %v", err)
	}

	after := baseTime.Add(30 * time.Minute)
	before := baseTime.Add(150 * time.Minute)
	got, err := s.GetEmails(ctx, store.EmailQuery{
		UserID:    "user_aaaa0001",
		MailboxID: "inbox",
		After:     &after,
		Before:    &before,
	})
	if err != nil {
		t.Fatalf("GetEmails: %v", err)
	}

	var ids []string
	for _, e := range got {
		ids = append(ids, e.ID)
	}
	// Received at +60m and +120m fall inside the half-open range.
	if diff := cmp.Diff([]string{"c", "b"}, ids); diff != "" {
		t.Errorf("bounded range mismatch (-want +got):\n%s", diff)
	}
}

func TestGetEmailsRequiresUser(t *testing.T) {
	s := testutil.NewTestStore(t)

	_, err := s.GetEmails(context.Background(), store.EmailQuery{MailboxID: "inbox"})
	if err == nil {
		t.Fatal("GetEmails accepted a query without a user id")
	}
}

func TestSearchEmails(t *testing.T) {
	s := testutil.NewTestStore(t)
	ctx := context.Background()

	quarterly := testEmail("user_aaaa0001", "m1", 0, "inbox")
	quarterly.Subject = "Quarterly Budget Review"
	quarterly.Preview = "Numbers attached for the next planning round."

	standup := testEmail("user_aaaa0001", "m2", 1, "inbox")
	standup.Subject = "Standup notes"
	standup.From = []model.EmailAddress{{Name: "Carol Budgetson", Email: "carol@example.com"}}

	archived := testEmail("user_aaaa0001", "m3", 2, "archive")
	archived.Subject = "Old budget spreadsheet"

	other := testEmail("user_bbbb0002", "m4", 3, "inbox")
	other.Subject = "budget leak check"

	if err := s.UpsertEmails(ctx, []model.Email{quarterly, standup, archived, other}); err != nil {
		t.Fatalf("UpsertEmails: %v", err)
	}

	cases := []struct {
		name string
		q    store.SearchQuery
		want []string
	}{
		{
			name: "subject and sender, all mailboxes",
			q:    store.SearchQuery{UserID: "user_aaaa0001", Text: "budget"},
			want: []string{"m3", "m2", "m1"},
		},
		{
			name: "scoped to one mailbox",
			q:    store.SearchQuery{UserID: "user_aaaa0001", MailboxID: "inbox", Text: "budget"},
			want: []string{"m2", "m1"},
		},
		{
			name: "preview match",
			q:    store.SearchQuery{UserID: "user_aaaa0001", Text: "planning round"},
			want: []string{"m1"},
		},
		{
			name: "limit applies",
			q:    store.SearchQuery{UserID: "user_aaaa0001", Text: "budget", Limit: 1},
			want: []string{"m3"},
		},
		{
			name: "no match",
			q:    store.SearchQuery{UserID: "user_aaaa0001", Text: "zzzz"},
			want: nil,
		},
	}

	for _, tc := range cases {
		got, err := s.SearchEmails(ctx, tc.q)
		if err != nil {
			t.Fatalf("%s: SearchEmails: %v", tc.name, err)
		}
		var ids []string
		for _, e := range got {
			ids = append(ids, e.ID)
		}
		if diff := cmp.Diff(tc.want, ids); diff != "" {
			t.Errorf("%s: result mismatch (-want +got):\n%s", tc.name, diff)
		}
	}
}

func TestSearchEmailsEscapesWildcards(t *testing.T) {
	s := testutil.NewTestStore(t)
	ctx := context.Background()

	literal := testEmail("user_aaaa0001", "m1", 0, "inbox")
	literal.Subject = "sale: 100% off shipping"
	plain := testEmail("user_aaaa0001", "m2", 1, "inbox")
	plain.Subject = "totally unrelated"

	if err := s.UpsertEmails(ctx, []model.Email{literal, plain}); err != nil {
		t.Fatalf("UpsertEmails: %v", err)
	}

	got, err := s.SearchEmails(ctx, store.SearchQuery{UserID: "user_aaaa0001", Text: "100%"})
	if err != nil {
		t.Fatalf("SearchEmails: %v", err)
	}
	if len(got) != 1 || got[0].ID != "m1" {
		t.Errorf("wildcard query matched %d emails, want exactly the literal one", len(got))
	}
}

func TestSaveEmailPageCommitsCursorWithPage(t *testing.T) {
	s := testutil.NewTestStore(t)
	ctx := context.Background()

	page := []model.Email{
		testEmail("user_aaaa0001", "m1", 0, "inbox"),
		testEmail("user_aaaa0001", "m2", 1, "inbox"),
	}
	cursor := model.SyncState{
		UserID:     "user_aaaa0001",
		AccountID:  "acct-1",
		MailboxID:  "inbox",
		State:      "s-42",
		Position:   2,
		LastSyncAt: baseTime,
	}

	if err := s.SaveEmailPage(ctx, page, cursor); err != nil {
		t.Fatalf("SaveEmailPage: %v", err)
	}

	got, err := s.GetSyncState(ctx, "user_aaaa0001", "acct-1", "inbox")
	if err != nil {
		t.Fatalf("GetSyncState: %v", err)
	}
	if got == nil {
		t.Fatal("cursor missing after SaveEmailPage")
	}
	if diff := cmp.Diff(cursor, *got); diff != "" {
		t.Errorf("cursor mismatch (-want +got):\n%s", diff)
	}
}

func TestSaveEmailPageRollsBackCursorOnBadPage(t *testing.T) {
	s := testutil.NewTestStore(t)
	ctx := context.Background()

	page := []model.Email{
		testEmail("user_aaaa0001", "m1", 0, "inbox"),
		testEmail("", "m2", 1, "inbox"), // no owning user
	}
	cursor := model.SyncState{
		UserID:     "user_aaaa0001",
		AccountID:  "acct-1",
		MailboxID:  "inbox",
		State:      "s-42",
		Position:   2,
		LastSyncAt: baseTime,
	}

	if err := s.SaveEmailPage(ctx, page, cursor); err == nil {
		t.Fatal("SaveEmailPage accepted a page with an unowned email")
	}

	// Neither the page nor the cursor may survive.
	count, err := s.CountMailboxEmails(ctx, "user_aaaa0001", "inbox")
	if err != nil {
		t.Fatalf("CountMailboxEmails: %v", err)
	}
	if count != 0 {
		t.Errorf("emails cached after failed page write: %d", count)
	}

	st, err := s.GetSyncState(ctx, "user_aaaa0001", "acct-1", "inbox")
	if err != nil {
		t.Fatalf("GetSyncState: %v", err)
	}
	if st != nil {
		t.Errorf("cursor advanced after failed page write: %+v", st)
	}
}

func TestApplyEmailChanges(t *testing.T) {
	s := testutil.NewTestStore(t)
	ctx := context.Background()

	initial := []model.Email{
		testEmail("user_aaaa0001", "m1", 0, "inbox"),
		testEmail("user_aaaa0001", "m2", 1, "inbox"),
	}
	if err := s.UpsertEmails(ctx, initial); err != nil {
		t.Fatalf("UpsertEmails: %v", err)
	}

	updated := testEmail("user_aaaa0001", "m2", 1, "inbox")
	updated.Subject = "Edited subject"
	created := testEmail("user_aaaa0001", "m3", 2, "inbox")
	state := model.SyncState{
		UserID:     "user_aaaa0001",
		AccountID:  "acct-1",
		State:      "s-43",
		LastSyncAt: baseTime,
	}

	err := s.ApplyEmailChanges(ctx, []model.Email{updated, created}, []string{"m1"}, state)
	if err != nil {
		t.Fatalf("ApplyEmailChanges: %v", err)
	}

	if got, _ := s.GetEmailByID(ctx, "user_aaaa0001", "m1"); got != nil {
		t.Error("destroyed email m1 still cached")
	}
	got, err := s.GetEmailByID(ctx, "user_aaaa0001", "m2")
	if err != nil || got == nil {
		t.Fatalf("GetEmailByID(m2): %v, %v", got, err)
	}
	if got.Subject != "Edited subject" {
		t.Errorf("updated subject = %q, want %q", got.Subject, "Edited subject")
	}

	st, err := s.GetSyncState(ctx, "user_aaaa0001", "acct-1", "")
	if err != nil {
		t.Fatalf("GetSyncState: %v", err)
	}
	if st == nil || st.State != "s-43" {
		t.Errorf("collection state = %+v, want state s-43", st)
	}
}
