// Package risk implements position sizing and the global circuit breaker
// that halts trading when the account crosses a hard loss, drawdown,
// streak, trade-count, or latency threshold.
package risk

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/nvega-systems/perp-scalper/internal/config"
)

// breakerState holds the mutable counters the circuit breaker checks
// against. It resets at each daily boundary via ResetDaily.
type breakerState struct {
	dailyPnL           float64
	dailyTrades        int
	consecutiveLosses  int
	peakBalance        float64
	currentBalance     float64
	sessionStartTs     time.Time
	latencySamplesMs   []float64
	pauseUntilBarCount int // set after a consecutive-loss halt; re-arms after N bars
}

func (s *breakerState) avgLatencyMs() float64 {
	n := len(s.latencySamplesMs)
	if n == 0 {
		return 0
	}
	window := s.latencySamplesMs
	if n > 50 {
		window = s.latencySamplesMs[n-50:]
	}
	var total float64
	for _, v := range window {
		total += v
	}
	return total / float64(len(window))
}

// Breaker is a global trading-halt gate. Must be checked before every new
// order submission; once halted it stays halted until ResetDaily or the
// configured pause-after-streak window elapses.
type Breaker struct {
	cfg    config.CircuitConfig
	logger *slog.Logger

	mu          sync.Mutex
	state       breakerState
	barCount    int
	halted      bool
	haltReason  string
}

// NewBreaker builds a circuit breaker from the configured thresholds.
func NewBreaker(cfg config.CircuitConfig, logger *slog.Logger) *Breaker {
	return &Breaker{
		cfg:    cfg,
		logger: logger.With("component", "circuit_breaker"),
		state:  breakerState{sessionStartTs: time.Now()},
	}
}

// Check runs the five ordered halt conditions — daily loss, max drawdown,
// consecutive losses, daily trade count, latency degradation — and returns
// (canTrade, reason). Call before every entry.
func (b *Breaker) Check() (bool, string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := &b.state

	// Once halted, stay halted until ResetDaily — except a STREAK halt,
	// which is the one condition that re-arms itself after
	// PauseBarsAfterStreak bars without waiting for the daily reset.
	if b.halted && !strings.HasPrefix(b.haltReason, "STREAK:") {
		return false, b.haltReason
	}

	if s.peakBalance > 0 {
		dailyLoss := -s.dailyPnL / s.peakBalance
		if dailyLoss >= b.cfg.MaxDailyLossPct {
			return b.halt(fmt.Sprintf("DAILY_LOSS:%.1f%%", dailyLoss*100))
		}
	}

	if s.peakBalance > 0 && s.currentBalance > 0 {
		dd := (s.peakBalance - s.currentBalance) / s.peakBalance
		if dd >= b.cfg.MaxDrawdownPct {
			return b.halt(fmt.Sprintf("MAX_DD:%.1f%%", dd*100))
		}
	}

	if s.consecutiveLosses >= b.cfg.MaxConsecutiveLosses {
		if b.barCount < s.pauseUntilBarCount {
			return b.halt(fmt.Sprintf("STREAK:%d", s.consecutiveLosses))
		}
		// pause window elapsed: the streak itself no longer blocks trading,
		// but it still counts until a winning trade clears it.
	}

	if s.dailyTrades >= b.cfg.MaxDailyTrades {
		return b.halt(fmt.Sprintf("TRADE_LIMIT:%d", s.dailyTrades))
	}

	if avg := s.avgLatencyMs(); avg > b.cfg.MaxLatencyMs {
		return b.halt(fmt.Sprintf("LATENCY:%.0fms", avg))
	}

	b.halted = false
	b.haltReason = ""
	return true, "OK"
}

func (b *Breaker) halt(reason string) (bool, string) {
	b.halted = true
	b.haltReason = reason
	b.logger.Error("circuit breaker halted trading", "reason", reason)
	return false, reason
}

// IsHalted reports the breaker's last-checked state without recomputing it.
func (b *Breaker) IsHalted() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.halted
}

// HaltReason returns the reason string from the last halt, if any.
func (b *Breaker) HaltReason() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.haltReason
}

// RecordTrade updates daily PnL, trade count, and the consecutive-loss
// streak. Call after every trade close. A loss that completes the streak
// threshold re-arms the pause window for PauseBarsAfterStreak bars.
func (b *Breaker) RecordTrade(pnl float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := &b.state

	s.dailyPnL += pnl
	s.dailyTrades++
	if pnl > 0 {
		s.consecutiveLosses = 0
	} else {
		s.consecutiveLosses++
		if s.consecutiveLosses >= b.cfg.MaxConsecutiveLosses {
			s.pauseUntilBarCount = b.barCount + b.cfg.PauseBarsAfterStreak
		}
	}
}

// UpdateBalance records the current account balance and tracks the
// session's peak balance for drawdown calculation.
func (b *Breaker) UpdateBalance(balance float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state.currentBalance = balance
	if balance > b.state.peakBalance {
		b.state.peakBalance = balance
	}
}

// RecordLatency appends an order round-trip latency sample, trimming the
// window once it grows past 200 samples to keep the last 100.
func (b *Breaker) RecordLatency(latencyMs float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := &b.state
	s.latencySamplesMs = append(s.latencySamplesMs, latencyMs)
	if len(s.latencySamplesMs) > 200 {
		s.latencySamplesMs = append([]float64(nil), s.latencySamplesMs[len(s.latencySamplesMs)-100:]...)
	}
}

// OnBar advances the breaker's bar counter, used to re-arm the
// consecutive-loss pause window after PauseBarsAfterStreak bars.
func (b *Breaker) OnBar() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.barCount++
}

// ResetDaily clears the daily PnL, trade count, streak, and halt state.
// Call at the session boundary (00:00 UTC).
func (b *Breaker) ResetDaily() {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := &b.state
	s.dailyPnL = 0
	s.dailyTrades = 0
	s.consecutiveLosses = 0
	s.pauseUntilBarCount = 0
	b.halted = false
	b.haltReason = ""
	s.sessionStartTs = time.Now()
	b.logger.Info("circuit breaker daily reset")
}
