// Package accounting tracks per-symbol net futures positions and realized
// P&L from fills, feeding the circuit breaker's daily-loss and
// consecutive-loss checks.
//
// Unlike a binary market's separate YES/NO legs, a perpetual future has one
// signed quantity per symbol: positive is long, negative is short. Average
// entry price only moves while a fill adds to the existing side; a fill that
// reduces or flips the position realizes P&L on the portion it closes.
package accounting

import (
	"math"
	"sync"
	"time"

	"github.com/nvega-systems/perp-scalper/pkg/types"
)

// Position is the current net holding in one symbol.
type Position struct {
	Symbol        string
	Qty           float64 // positive = long, negative = short, 0 = flat
	AvgEntryPrice float64
	RealizedPnL   float64
	UnrealizedPnL float64
	LastUpdated   time.Time
}

// Fill is one execution applied to the ledger.
type Fill struct {
	Symbol    string
	Side      types.Side
	Price     float64
	Qty       float64
	Timestamp time.Time
}

// Ledger tracks positions across every traded symbol. Safe for concurrent use.
type Ledger struct {
	mu        sync.RWMutex
	positions map[string]*Position
}

// NewLedger returns an empty ledger.
func NewLedger() *Ledger {
	return &Ledger{positions: make(map[string]*Position)}
}

// OnFill applies one fill to the symbol's position and returns the P&L
// realized by this fill (0 if it only added to the position).
func (l *Ledger) OnFill(fill Fill) float64 {
	l.mu.Lock()
	defer l.mu.Unlock()

	pos, ok := l.positions[fill.Symbol]
	if !ok {
		pos = &Position{Symbol: fill.Symbol}
		l.positions[fill.Symbol] = pos
	}

	signedQty := fill.Qty
	if fill.Side == types.Sell {
		signedQty = -fill.Qty
	}

	realized := applyFill(pos, signedQty, fill.Price)
	pos.LastUpdated = fill.Timestamp
	return realized
}

func applyFill(pos *Position, signedQty, price float64) float64 {
	if pos.Qty == 0 || sameSign(pos.Qty, signedQty) {
		totalCost := pos.AvgEntryPrice*math.Abs(pos.Qty) + price*math.Abs(signedQty)
		pos.Qty += signedQty
		if pos.Qty != 0 {
			pos.AvgEntryPrice = totalCost / math.Abs(pos.Qty)
		} else {
			pos.AvgEntryPrice = 0
		}
		return 0
	}

	direction := 1.0
	if pos.Qty < 0 {
		direction = -1.0
	}
	closingQty := math.Min(math.Abs(signedQty), math.Abs(pos.Qty))
	realized := closingQty * (price - pos.AvgEntryPrice) * direction
	pos.RealizedPnL += realized

	newQty := pos.Qty + signedQty
	pos.Qty = newQty
	if math.Abs(signedQty) > closingQty {
		// The fill closed the old position and opened a new one on the
		// other side, so the fresh leg's entry price is this fill's price.
		pos.AvgEntryPrice = price
	} else if pos.Qty == 0 {
		pos.AvgEntryPrice = 0
	}
	return realized
}

func sameSign(a, b float64) bool {
	return (a > 0 && b > 0) || (a < 0 && b < 0)
}

// UpdateMarkToMarket recomputes unrealized P&L for a symbol against the
// current mark price. No-op if the symbol has no tracked position.
func (l *Ledger) UpdateMarkToMarket(symbol string, markPrice float64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	pos, ok := l.positions[symbol]
	if !ok {
		return
	}
	pos.UnrealizedPnL = pos.Qty * (markPrice - pos.AvgEntryPrice)
}

// Snapshot returns a copy of the symbol's position (zero value if untracked).
func (l *Ledger) Snapshot(symbol string) Position {
	l.mu.RLock()
	defer l.mu.RUnlock()
	pos, ok := l.positions[symbol]
	if !ok {
		return Position{Symbol: symbol}
	}
	return *pos
}

// NetExposureUSD returns the dollar notional of the symbol's open position.
func (l *Ledger) NetExposureUSD(symbol string, markPrice float64) float64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	pos, ok := l.positions[symbol]
	if !ok {
		return 0
	}
	return math.Abs(pos.Qty) * markPrice
}

// TotalRealizedPnL sums realized P&L across every tracked symbol.
func (l *Ledger) TotalRealizedPnL() float64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	total := 0.0
	for _, pos := range l.positions {
		total += pos.RealizedPnL
	}
	return total
}
