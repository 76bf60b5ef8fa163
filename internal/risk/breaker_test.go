package risk

import (
	"io"
	"log/slog"
	"testing"

	"github.com/nvega-systems/perp-scalper/internal/config"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testCircuitConfig() config.CircuitConfig {
	return config.CircuitConfig{
		MaxDailyLossPct:      0.03,
		MaxDrawdownPct:       0.10,
		MaxConsecutiveLosses: 5,
		MaxDailyTrades:       50,
		MaxLatencyMs:         500.0,
		CooldownBars:         10,
		PauseBarsAfterStreak: 60,
	}
}

func TestBreakerOKWithNoActivity(t *testing.T) {
	t.Parallel()
	b := NewBreaker(testCircuitConfig(), testLogger())
	ok, reason := b.Check()
	if !ok || reason != "OK" {
		t.Fatalf("expected OK with no activity, got (%v, %q)", ok, reason)
	}
}

func TestBreakerHaltsOnDailyLoss(t *testing.T) {
	t.Parallel()
	b := NewBreaker(testCircuitConfig(), testLogger())
	b.UpdateBalance(10000)
	b.RecordTrade(-400) // 4% of peak balance, exceeds 3% threshold
	ok, reason := b.Check()
	if ok {
		t.Fatalf("expected halt on daily loss breach")
	}
	if reason == "" {
		t.Fatalf("expected a halt reason")
	}
	if !b.IsHalted() {
		t.Fatalf("IsHalted should report true after a halting check")
	}
}

func TestBreakerHaltsOnConsecutiveLossesUntilPauseElapses(t *testing.T) {
	t.Parallel()
	cfg := testCircuitConfig()
	cfg.PauseBarsAfterStreak = 3
	b := NewBreaker(cfg, testLogger())
	b.UpdateBalance(10000)
	for i := 0; i < 5; i++ {
		b.RecordTrade(-1)
	}
	ok, reason := b.Check()
	if ok {
		t.Fatalf("expected halt after reaching max consecutive losses")
	}
	if reason == "" {
		t.Fatalf("expected a halt reason")
	}

	// advance bars past the pause window; streak no longer blocks on its own.
	for i := 0; i < 4; i++ {
		b.OnBar()
	}
	ok, _ = b.Check()
	if !ok {
		t.Fatalf("expected trading to resume after the pause window elapses")
	}
}

func TestBreakerHaltsOnDailyTradeLimit(t *testing.T) {
	t.Parallel()
	cfg := testCircuitConfig()
	cfg.MaxDailyTrades = 2
	b := NewBreaker(cfg, testLogger())
	b.UpdateBalance(10000)
	b.RecordTrade(1)
	b.RecordTrade(1)
	ok, _ := b.Check()
	if ok {
		t.Fatalf("expected halt on daily trade limit")
	}
}

func TestBreakerHaltsOnLatency(t *testing.T) {
	t.Parallel()
	cfg := testCircuitConfig()
	cfg.MaxLatencyMs = 100
	b := NewBreaker(cfg, testLogger())
	b.UpdateBalance(10000)
	for i := 0; i < 10; i++ {
		b.RecordLatency(200)
	}
	ok, reason := b.Check()
	if ok {
		t.Fatalf("expected halt on latency degradation")
	}
	if reason == "" {
		t.Fatalf("expected a halt reason")
	}
}

func TestBreakerResetDailyClearsState(t *testing.T) {
	t.Parallel()
	b := NewBreaker(testCircuitConfig(), testLogger())
	b.UpdateBalance(10000)
	b.RecordTrade(-400)
	b.Check()
	if !b.IsHalted() {
		t.Fatalf("expected halted before reset")
	}
	b.ResetDaily()
	if b.IsHalted() {
		t.Fatalf("expected not halted immediately after reset")
	}
}

func TestBreakerStaysHaltedAfterConditionClearsWithoutReset(t *testing.T) {
	t.Parallel()
	b := NewBreaker(testCircuitConfig(), testLogger())
	b.UpdateBalance(10000)
	b.UpdateBalance(8900) // 11% drawdown from peak, exceeds 10% threshold
	ok, reason := b.Check()
	if ok {
		t.Fatalf("expected halt on max drawdown breach")
	}

	// Balance recovers above peak; drawdown condition no longer holds, but
	// the halt must stick until ResetDaily.
	b.UpdateBalance(20000)
	ok, gotReason := b.Check()
	if ok {
		t.Fatalf("expected breaker to remain halted after the drawdown condition cleared")
	}
	if gotReason != reason {
		t.Fatalf("halt reason changed across checks: got %q, want %q", gotReason, reason)
	}

	b.ResetDaily()
	ok, _ = b.Check()
	if !ok {
		t.Fatalf("expected trading to resume after ResetDaily")
	}
}

func TestBreakerLatencyHaltStaysHaltedUntilReset(t *testing.T) {
	t.Parallel()
	cfg := testCircuitConfig()
	cfg.MaxLatencyMs = 100
	b := NewBreaker(cfg, testLogger())
	b.UpdateBalance(10000)
	for i := 0; i < 60; i++ {
		b.RecordLatency(200)
	}
	ok, _ := b.Check()
	if ok {
		t.Fatalf("expected halt on latency degradation")
	}

	// Flush the rolling window with fast samples; latency recovers, but the
	// halt must not clear on its own.
	for i := 0; i < 60; i++ {
		b.RecordLatency(1)
	}
	ok, _ = b.Check()
	if ok {
		t.Fatalf("expected breaker to remain halted after latency recovered without a reset")
	}
}

func TestRecordLatencyTrimsWindow(t *testing.T) {
	t.Parallel()
	b := NewBreaker(testCircuitConfig(), testLogger())
	for i := 0; i < 250; i++ {
		b.RecordLatency(1)
	}
	// The 201st sample trims the window to the last 100; the remaining 49
	// samples are appended after that, leaving 149.
	if len(b.state.latencySamplesMs) != 149 {
		t.Fatalf("latency window not trimmed: len=%d, want 149", len(b.state.latencySamplesMs))
	}
}
