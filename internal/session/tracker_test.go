package session

import (
	"context"
	"testing"
	"time"

	"github.com/nhle/mailcache/internal/model"
	"github.com/nhle/mailcache/tests/testutil"
)

var trackerBase = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

// newTestTracker returns a tracker with a controllable clock.
func newTestTracker(t *testing.T, timeout time.Duration) (*Tracker, *time.Time) {
	t.Helper()
	now := trackerBase
	tr := NewTracker(testutil.NewTestStore(t), timeout)
	tr.now = func() time.Time { return now }
	return tr, &now
}

func TestCurrentUserPicksMostRecent(t *testing.T) {
	tr, now := newTestTracker(t, DefaultTimeout)
	ctx := context.Background()

	if err := tr.Register(ctx, model.UserSession{
		UserID: "user_aaaa0001", Username: "alice", Host: "mail.example.com",
	}); err != nil {
		t.Fatalf("Register: %v", err)
	}

	*now = now.Add(10 * time.Minute)
	if err := tr.Register(ctx, model.UserSession{
		UserID: "user_bbbb0002", Username: "bob", Host: "mail.example.com",
	}); err != nil {
		t.Fatalf("Register: %v", err)
	}

	got, err := tr.CurrentUser(ctx)
	if err != nil {
		t.Fatalf("CurrentUser: %v", err)
	}
	if got == nil || got.UserID != "user_bbbb0002" {
		t.Errorf("CurrentUser = %+v, want user_bbbb0002", got)
	}

	// Activity on the older account makes it current again.
	*now = now.Add(time.Minute)
	if err := tr.Touch(ctx, "user_aaaa0001"); err != nil {
		t.Fatalf("Touch: %v", err)
	}
	got, err = tr.CurrentUser(ctx)
	if err != nil {
		t.Fatalf("CurrentUser: %v", err)
	}
	if got == nil || got.UserID != "user_aaaa0001" {
		t.Errorf("CurrentUser after touch = %+v, want user_aaaa0001", got)
	}
}

func TestCurrentUserExpiresLazily(t *testing.T) {
	tr, now := newTestTracker(t, 2*time.Hour)
	ctx := context.Background()

	if err := tr.Register(ctx, model.UserSession{
		UserID: "user_aaaa0001", Username: "alice", Host: "mail.example.com",
	}); err != nil {
		t.Fatalf("Register: %v", err)
	}

	// Just inside the timeout the session is still current.
	*now = now.Add(2 * time.Hour)
	got, err := tr.CurrentUser(ctx)
	if err != nil {
		t.Fatalf("CurrentUser: %v", err)
	}
	if got == nil {
		t.Fatal("session expired exactly at the timeout boundary")
	}

	// Past the timeout the row is gone, and stays gone even if the
	// clock is rolled back afterwards.
	*now = now.Add(time.Second)
	got, err = tr.CurrentUser(ctx)
	if err != nil {
		t.Fatalf("CurrentUser: %v", err)
	}
	if got != nil {
		t.Fatalf("CurrentUser past timeout = %+v, want nil", got)
	}

	*now = trackerBase
	got, err = tr.CurrentUser(ctx)
	if err != nil {
		t.Fatalf("CurrentUser: %v", err)
	}
	if got != nil {
		t.Errorf("expired session row was not deleted: %+v", got)
	}
}

func TestTouchPreservesSessionDetails(t *testing.T) {
	tr, now := newTestTracker(t, DefaultTimeout)
	ctx := context.Background()

	if err := tr.Register(ctx, model.UserSession{
		UserID:       "user_aaaa0001",
		Username:     "alice",
		Host:         "mail.example.com",
		Capabilities: `{"maxSizeUpload":50000000}`,
	}); err != nil {
		t.Fatalf("Register: %v", err)
	}

	*now = now.Add(time.Hour)
	if err := tr.Touch(ctx, "user_aaaa0001"); err != nil {
		t.Fatalf("Touch: %v", err)
	}

	got, err := tr.CurrentUser(ctx)
	if err != nil {
		t.Fatalf("CurrentUser: %v", err)
	}
	if got == nil {
		t.Fatal("CurrentUser returned nil")
	}
	if got.Username != "alice" || got.Host != "mail.example.com" || got.Capabilities == "" {
		t.Errorf("Touch dropped session details: %+v", got)
	}
	if !got.LastActivity.Equal(trackerBase.Add(time.Hour)) {
		t.Errorf("last activity = %v, want %v", got.LastActivity, trackerBase.Add(time.Hour))
	}
}

func TestTouchCreatesMinimalRow(t *testing.T) {
	tr, _ := newTestTracker(t, DefaultTimeout)
	ctx := context.Background()

	if err := tr.Touch(ctx, "user_cccc0003"); err != nil {
		t.Fatalf("Touch: %v", err)
	}

	got, err := tr.CurrentUser(ctx)
	if err != nil {
		t.Fatalf("CurrentUser: %v", err)
	}
	if got == nil || got.UserID != "user_cccc0003" {
		t.Errorf("CurrentUser = %+v, want the touched user", got)
	}
}

func TestCurrentUserNoSessions(t *testing.T) {
	tr, _ := newTestTracker(t, DefaultTimeout)

	got, err := tr.CurrentUser(context.Background())
	if err != nil {
		t.Fatalf("CurrentUser: %v", err)
	}
	if got != nil {
		t.Errorf("CurrentUser on empty table = %+v, want nil", got)
	}
}

func TestForgetRemovesSession(t *testing.T) {
	tr, _ := newTestTracker(t, DefaultTimeout)
	ctx := context.Background()

	if err := tr.Register(ctx, model.UserSession{
		UserID: "user_aaaa0001", Username: "alice", Host: "mail.example.com",
	}); err != nil {
		t.Fatalf("Register: %v", err)
	}

	if err := tr.Forget(ctx, "user_aaaa0001"); err != nil {
		t.Fatalf("Forget: %v", err)
	}
	got, err := tr.CurrentUser(ctx)
	if err != nil {
		t.Fatalf("CurrentUser: %v", err)
	}
	if got != nil {
		t.Errorf("CurrentUser after Forget = %+v, want nil", got)
	}

	// Forgetting an unknown user is not an error.
	if err := tr.Forget(ctx, "user_dddd0004"); err != nil {
		t.Fatalf("Forget unknown user: %v", err)
	}
}
