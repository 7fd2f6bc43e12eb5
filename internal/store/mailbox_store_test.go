package store_test

import (
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/nhle/mailcache/internal/model"
	"github.com/nhle/mailcache/tests/testutil"
)

func TestMailboxRoundtrip(t *testing.T) {
	s := testutil.NewTestStore(t)
	ctx := context.Background()

	want := []model.Mailbox{
		{
			ID: "mb-inbox", UserID: "user_aaaa0001", Name: "Inbox",
			Role: model.RoleInbox, SortOrder: 1,
			TotalEmails: 120, UnreadEmails: 3, SyncedAt: baseTime,
		},
		{
			ID: "mb-work", UserID: "user_aaaa0001", Name: "Work",
			ParentID: "mb-inbox", SortOrder: 2, SyncedAt: baseTime,
		},
	}
	other := model.Mailbox{
		ID: "mb-inbox", UserID: "user_bbbb0002", Name: "Inbox",
		Role: model.RoleInbox, SyncedAt: baseTime,
	}

	if err := s.UpsertMailboxes(ctx, append(want, other)); err != nil {
		t.Fatalf("UpsertMailboxes: %v", err)
	}

	got, err := s.GetMailboxes(ctx, "user_aaaa0001")
	if err != nil {
		t.Fatalf("GetMailboxes: %v", err)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("mailboxes mismatch (-want +got):\n%s", diff)
	}

	// Counts refresh on re-upsert of the same mailbox id.
	want[0].UnreadEmails = 0
	if err := s.UpsertMailboxes(ctx, want[:1]); err != nil {
		t.Fatalf("UpsertMailboxes refresh: %v", err)
	}
	got, err = s.GetMailboxes(ctx, "user_aaaa0001")
	if err != nil {
		t.Fatalf("GetMailboxes: %v", err)
	}
	if len(got) != 2 || got[0].UnreadEmails != 0 {
		t.Errorf("refreshed mailboxes = %+v", got)
	}
}

func TestUpsertMailboxesRejectsMissingUser(t *testing.T) {
	s := testutil.NewTestStore(t)

	err := s.UpsertMailboxes(context.Background(), []model.Mailbox{{ID: "mb-1", Name: "X"}})
	if err == nil {
		t.Fatal("UpsertMailboxes accepted a mailbox without an owning user")
	}
}

func TestThreadRoundtrip(t *testing.T) {
	s := testutil.NewTestStore(t)
	ctx := context.Background()

	want := model.Thread{
		ID:       "thread-1",
		UserID:   "user_aaaa0001",
		EmailIDs: []string{"m1", "m2", "m3"},
		SyncedAt: baseTime,
	}
	if err := s.UpsertThreads(ctx, []model.Thread{want}); err != nil {
		t.Fatalf("UpsertThreads: %v", err)
	}

	got, err := s.GetThreadByID(ctx, "user_aaaa0001", "thread-1")
	if err != nil {
		t.Fatalf("GetThreadByID: %v", err)
	}
	if got == nil {
		t.Fatal("GetThreadByID returned nil for cached thread")
	}
	if diff := cmp.Diff(want, *got); diff != "" {
		t.Errorf("thread mismatch (-want +got):\n%s", diff)
	}

	// Another user's partition does not see it.
	miss, err := s.GetThreadByID(ctx, "user_bbbb0002", "thread-1")
	if err != nil {
		t.Fatalf("GetThreadByID: %v", err)
	}
	if miss != nil {
		t.Errorf("thread leaked across users: %+v", miss)
	}
}
