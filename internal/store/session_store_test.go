package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/nhle/mailcache/internal/model"
	"github.com/nhle/mailcache/tests/testutil"
)

func TestSessionsOrderedByActivity(t *testing.T) {
	s := testutil.NewTestStore(t)
	ctx := context.Background()

	older := model.UserSession{
		UserID: "user_aaaa0001", Username: "alice", Host: "mail.example.com",
		LastActivity: baseTime,
	}
	newer := model.UserSession{
		UserID: "user_bbbb0002", Username: "bob", Host: "mail.example.com",
		Capabilities: `{"maxSizeUpload":50000000}`,
		LastActivity: baseTime.Add(time.Hour),
	}
	for _, sess := range []model.UserSession{older, newer} {
		if err := s.UpsertSession(ctx, sess); err != nil {
			t.Fatalf("UpsertSession(%s): %v", sess.UserID, err)
		}
	}

	got, err := s.GetSessions(ctx)
	if err != nil {
		t.Fatalf("GetSessions: %v", err)
	}
	if diff := cmp.Diff([]model.UserSession{newer, older}, got); diff != "" {
		t.Errorf("sessions mismatch (-want +got):\n%s", diff)
	}
}

func TestUpsertSessionBumpsActivity(t *testing.T) {
	s := testutil.NewTestStore(t)
	ctx := context.Background()

	sess := model.UserSession{
		UserID: "user_aaaa0001", Username: "alice", Host: "mail.example.com",
		LastActivity: baseTime,
	}
	if err := s.UpsertSession(ctx, sess); err != nil {
		t.Fatalf("UpsertSession: %v", err)
	}

	sess.LastActivity = baseTime.Add(30 * time.Minute)
	if err := s.UpsertSession(ctx, sess); err != nil {
		t.Fatalf("UpsertSession update: %v", err)
	}

	got, err := s.GetSessions(ctx)
	if err != nil {
		t.Fatalf("GetSessions: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d sessions, want 1", len(got))
	}
	if !got[0].LastActivity.Equal(sess.LastActivity) {
		t.Errorf("last activity = %v, want %v", got[0].LastActivity, sess.LastActivity)
	}
}

func TestDeleteSession(t *testing.T) {
	s := testutil.NewTestStore(t)
	ctx := context.Background()

	sess := model.UserSession{
		UserID: "user_aaaa0001", Username: "alice", Host: "mail.example.com",
		LastActivity: baseTime,
	}
	if err := s.UpsertSession(ctx, sess); err != nil {
		t.Fatalf("UpsertSession: %v", err)
	}
	if err := s.DeleteSession(ctx, "user_aaaa0001"); err != nil {
		t.Fatalf("DeleteSession: %v", err)
	}

	got, err := s.GetSessions(ctx)
	if err != nil {
		t.Fatalf("GetSessions: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("sessions after delete = %+v, want none", got)
	}
}
