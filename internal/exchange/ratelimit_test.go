package exchange

import (
	"context"
	"testing"
	"time"
)

func TestWeightLimiterAllowsWithinHeadroom(t *testing.T) {
	t.Parallel()
	wl := NewWeightLimiter(100, 60)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if err := wl.Wait(ctx, 50); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := wl.CurrentWeight(); got != 50 {
		t.Fatalf("current weight = %d, want 50", got)
	}
}

func TestWeightLimiterThrottlesPast85Percent(t *testing.T) {
	t.Parallel()
	wl := NewWeightLimiter(100, 60)
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	if err := wl.Wait(context.Background(), 80); err != nil {
		t.Fatalf("unexpected error on first request: %v", err)
	}
	// 80 + 10 = 90 > 85% of 100, should block until context deadline.
	err := wl.Wait(ctx, 10)
	if err == nil {
		t.Fatalf("expected throttling to block until context deadline")
	}
}

func TestWeightLimiterPurgesOldRequests(t *testing.T) {
	t.Parallel()
	wl := NewWeightLimiter(100, 1) // 1 second window
	ctx := context.Background()

	if err := wl.Wait(ctx, 50); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	time.Sleep(1100 * time.Millisecond)
	if got := wl.CurrentWeight(); got != 0 {
		t.Fatalf("weight after window expiry = %d, want 0", got)
	}
}

func TestWeightLimiterUtilizationPct(t *testing.T) {
	t.Parallel()
	wl := NewWeightLimiter(200, 60)
	ctx := context.Background()
	wl.Wait(ctx, 100)
	if got := wl.UtilizationPct(); got != 50 {
		t.Fatalf("utilization = %v, want 50", got)
	}
}
