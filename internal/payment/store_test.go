package payment

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestClaimLifecycle(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()

	v, err := s.Claim(ctx, "pay_1")
	if err != nil {
		t.Fatalf("first claim: %v", err)
	}
	if v.Status != StatusVerifying || v.Attempts != 1 {
		t.Fatalf("first claim state: %+v", v)
	}

	if _, err := s.Claim(ctx, "pay_1"); !errors.Is(err, ErrAlreadyInProgress) {
		t.Fatalf("claim while verifying: %v", err)
	}

	if err := s.Complete(ctx, "pay_1", StatusVerified, "u-1"); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if _, err := s.Claim(ctx, "pay_1"); !errors.Is(err, ErrAlreadyVerified) {
		t.Fatalf("claim after verified: %v", err)
	}
	v, _ = s.Get(ctx, "pay_1")
	if v.UserID != "u-1" || v.Status != StatusVerified {
		t.Fatalf("terminal record: %+v", v)
	}
}

func TestFailedClaimIncrementsAttempts(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()

	if _, err := s.Claim(ctx, "pay_2"); err != nil {
		t.Fatal(err)
	}
	if err := s.Complete(ctx, "pay_2", StatusFailed, ""); err != nil {
		t.Fatal(err)
	}
	v, err := s.Claim(ctx, "pay_2")
	if err != nil {
		t.Fatalf("reclaim after failed: %v", err)
	}
	if v.Attempts != 2 || v.Status != StatusVerifying {
		t.Fatalf("reclaim state: %+v", v)
	}
}

func TestCompleteRequiresActiveClaim(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()

	if err := s.Complete(ctx, "missing", StatusVerified, "u-1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("complete without record: %v", err)
	}
	if _, err := s.Claim(ctx, "pay_3"); err != nil {
		t.Fatal(err)
	}
	if err := s.Complete(ctx, "pay_3", StatusVerified, "u-1"); err != nil {
		t.Fatal(err)
	}
	// A second completion must not flip a terminal record.
	if err := s.Complete(ctx, "pay_3", StatusFailed, "u-1"); err == nil {
		t.Fatal("terminal record overwritten")
	}
}

func TestReleaseReopensClaim(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()

	if _, err := s.Claim(ctx, "pay_4"); err != nil {
		t.Fatal(err)
	}
	if err := s.Release(ctx, "pay_4"); err != nil {
		t.Fatal(err)
	}
	v, _ := s.Get(ctx, "pay_4")
	if v.Status != StatusPending {
		t.Fatalf("release did not reopen: %+v", v)
	}
	if _, err := s.Claim(ctx, "pay_4"); err != nil {
		t.Fatalf("reclaim after release: %v", err)
	}
}

func TestReleaseStaleCutoff(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()

	old := time.Now().Add(-30 * time.Minute)
	s.SetClock(func() time.Time { return old })
	if _, err := s.Claim(ctx, "pay_old"); err != nil {
		t.Fatal(err)
	}
	s.SetClock(time.Now)
	if _, err := s.Claim(ctx, "pay_fresh"); err != nil {
		t.Fatal(err)
	}

	n, err := s.ReleaseStale(ctx, 10*time.Minute)
	if err != nil || n != 1 {
		t.Fatalf("ReleaseStale = %d, %v", n, err)
	}
	if v, _ := s.Get(ctx, "pay_old"); v.Status != StatusPending {
		t.Fatalf("stale claim not released: %+v", v)
	}
	if v, _ := s.Get(ctx, "pay_fresh"); v.Status != StatusVerifying {
		t.Fatalf("fresh claim released: %+v", v)
	}
}
