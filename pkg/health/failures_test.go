package health

import (
	"context"
	"testing"
	"time"

	"aurora-hq/stratus/pkg/accounts"
	"aurora-hq/stratus/pkg/store"
)

func testTracker(t *testing.T) (*FailureTracker, *Registry, *store.MemoryStore, *fakeClock) {
	t.Helper()
	r, ms, clock, _ := testRig(t)
	tracker := NewFailureTracker(ms, r, TrackerConfig{
		Window:          5 * time.Minute,
		Threshold:       3,
		DisableDuration: 5 * time.Minute,
	})
	return tracker, r, ms, clock
}

func TestRecordAndEscalate_Threshold(t *testing.T) {
	ctx := context.Background()
	tracker, r, ms, _ := testTracker(t)
	acct := testAccount("f1")
	seedAccount(t, ms, acct)

	for i := 1; i <= 2; i++ {
		count, escalated := tracker.RecordAndEscalate(ctx, acct)
		if count != int64(i) || escalated {
			t.Fatalf("RecordAndEscalate() #%d = %d, %v, want %d, false", i, count, escalated, i)
		}
	}

	count, escalated := tracker.RecordAndEscalate(ctx, acct)
	if count != 3 || !escalated {
		t.Fatalf("RecordAndEscalate() #3 = %d, %v, want 3, true", count, escalated)
	}

	status, _ := ms.HGet(ctx, store.AccountKey("claude", "f1"), accounts.FieldStatus)
	if status != string(accounts.StatusTempError) {
		t.Fatalf("status = %q, want temp_error", status)
	}
	if r.IsHealthy(ctx, acct) {
		t.Fatal("escalated account must be unhealthy")
	}

	// Escalation clears the rolling counter.
	if got := tracker.FailureCount(ctx, acct); got != 0 {
		t.Fatalf("FailureCount() after escalation = %d, want 0", got)
	}
}

func TestMarkTempError_Idempotent(t *testing.T) {
	ctx := context.Background()
	tracker, _, ms, _ := testTracker(t)
	acct := testAccount("f2")
	seedAccount(t, ms, acct)

	if !tracker.MarkTempError(ctx, acct) {
		t.Fatal("first MarkTempError() = false, want true")
	}
	if tracker.MarkTempError(ctx, acct) {
		t.Fatal("second MarkTempError() = true, want no-op on already temp_error")
	}
}

func TestMarkTempError_LockContention(t *testing.T) {
	ctx := context.Background()
	tracker, _, ms, _ := testTracker(t)
	acct := testAccount("f3")
	seedAccount(t, ms, acct)

	// Simulate a concurrent escalation holding the lock.
	lockKey := store.TempErrorLockKey("claude", "f3")
	if ok, err := ms.AcquireLock(ctx, lockKey, "other-process", 10*time.Second); err != nil || !ok {
		t.Fatalf("AcquireLock() = %v, %v", ok, err)
	}

	if tracker.MarkTempError(ctx, acct) {
		t.Fatal("MarkTempError() must not double-fire while the lock is held")
	}

	status, err := ms.HGet(ctx, store.AccountKey("claude", "f3"), accounts.FieldStatus)
	if err != nil || status != string(accounts.StatusActive) {
		t.Fatalf("status = %q, %v, want untouched active", status, err)
	}
}

// cancelAwareStore fails lock release when its context is already
// canceled, the way a networked backend does.
type cancelAwareStore struct {
	store.Store
}

func (s *cancelAwareStore) ReleaseLock(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.Store.ReleaseLock(ctx, key)
}

func TestMarkTempError_LockReleasedOnCanceledContext(t *testing.T) {
	r, ms, _, _ := testRig(t)
	acct := testAccount("f6")
	seedAccount(t, ms, acct)

	tracker := NewFailureTracker(&cancelAwareStore{Store: ms}, r, TrackerConfig{
		Window:          5 * time.Minute,
		Threshold:       3,
		DisableDuration: 5 * time.Minute,
	})

	// The caller disconnected before the escalation section ran.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if !tracker.MarkTempError(ctx, acct) {
		t.Fatal("MarkTempError() = false, want escalation to proceed")
	}

	held, err := ms.Exists(context.Background(), store.TempErrorLockKey("claude", "f6"))
	if err != nil {
		t.Fatalf("Exists() error = %v", err)
	}
	if held {
		t.Fatal("escalation lock survived a canceled request; concurrent escalations would stall until the lock TTL")
	}
}

func TestFailureWindow_Expiry(t *testing.T) {
	ctx := context.Background()
	tracker, _, ms, clock := testTracker(t)
	acct := testAccount("f4")
	seedAccount(t, ms, acct)

	tracker.RecordFailure(ctx, acct)
	tracker.RecordFailure(ctx, acct)
	if got := tracker.FailureCount(ctx, acct); got != 2 {
		t.Fatalf("FailureCount() = %d, want 2", got)
	}

	// Counter expires a fixed window after the first failure.
	clock.Advance(6 * time.Minute)
	if got := tracker.FailureCount(ctx, acct); got != 0 {
		t.Fatalf("FailureCount() after window = %d, want 0", got)
	}

	// The next failure starts a fresh window.
	if count := tracker.RecordFailure(ctx, acct); count != 1 {
		t.Fatalf("RecordFailure() after window = %d, want 1", count)
	}
}

func TestClearFailures(t *testing.T) {
	ctx := context.Background()
	tracker, _, ms, _ := testTracker(t)
	acct := testAccount("f5")
	seedAccount(t, ms, acct)

	tracker.RecordFailure(ctx, acct)
	tracker.ClearFailures(ctx, acct)
	if got := tracker.FailureCount(ctx, acct); got != 0 {
		t.Fatalf("FailureCount() after clear = %d, want 0", got)
	}
}
