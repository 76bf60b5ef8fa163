// Package dispatcher wires the market-data and user-data feeds into the
// aggregator, signal engine, risk checks, and order submission. It is the
// single consumer of every event the transport layer produces: one goroutine
// routes aggTrade, bookTicker, order, and account events in the order they
// arrive, so no two symbols' state is ever touched concurrently from this
// loop.
//
// Two background goroutines run alongside the event loop: an orphan sweep
// that reconciles PENDING_SUBMIT orders against the REST API every 10
// seconds, and a daily scheduler that resets the circuit breaker's counters
// at 00:00:05 UTC.
package dispatcher

import (
	"context"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nvega-systems/perp-scalper/internal/accounting"
	"github.com/nvega-systems/perp-scalper/internal/aggregator"
	"github.com/nvega-systems/perp-scalper/internal/config"
	"github.com/nvega-systems/perp-scalper/internal/exchange"
	"github.com/nvega-systems/perp-scalper/internal/indicators"
	"github.com/nvega-systems/perp-scalper/internal/oms"
	"github.com/nvega-systems/perp-scalper/internal/risk"
	"github.com/nvega-systems/perp-scalper/internal/signalengine"
	"github.com/nvega-systems/perp-scalper/internal/transport"
	"github.com/nvega-systems/perp-scalper/pkg/types"
)

// orphanSweepInterval is how often PENDING_SUBMIT orders are reconciled
// against the REST API.
const orphanSweepInterval = 10 * time.Second

// terminalOrderMaxAge bounds how long a FILLED/CANCELED/REJECTED order stays
// in the OMS's map before CleanupTerminal evicts it.
const terminalOrderMaxAge = 24 * time.Hour

// minQtyFloor is the absolute floor below which an order is skipped even if
// no per-symbol minimum is configured.
const minQtyFloor = 0.001

// trailingState tracks the favorable excursion of one symbol's open position
// since entry, feeding indicators.TrailingStop on every price update.
type trailingState struct {
	entryPrice float64
	sideIsLong bool
	highest    float64
	lowest     float64
	stop       float64
}

// Dispatcher is the event-routing orchestrator: one instance per process,
// one aggregator and one signal engine per configured trading pair.
type Dispatcher struct {
	cfg    *config.Config
	logger *slog.Logger

	client     *exchange.Client
	marketFeed *transport.MarketFeed
	userFeed   *transport.UserFeed
	monitor    *oms.Monitor
	breaker    *risk.Breaker
	ledger     *accounting.Ledger

	aggregators map[string]*aggregator.VolumeBarAggregator
	engines     map[string]*signalengine.Engine
	lastTradeTs map[string]time.Time
	trailing    map[string]*trailingState

	balanceUSD float64

	winCount     int
	lossCount    int
	totalWinUSD  float64
	totalLossUSD float64

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// New wires every component for the configured trading pairs. client is
// used both as the REST order-submission handle and, via its
// ListenKeyProvider/OrderFetcher methods, by the user feed and orphan sweep.
func New(cfg *config.Config, logger *slog.Logger, client *exchange.Client) *Dispatcher {
	logger = logger.With("component", "dispatcher")

	d := &Dispatcher{
		cfg:         cfg,
		logger:      logger,
		client:      client,
		monitor:     oms.New(logger),
		breaker:     risk.NewBreaker(cfg.Circuit, logger),
		ledger:      accounting.NewLedger(),
		aggregators: make(map[string]*aggregator.VolumeBarAggregator),
		engines:     make(map[string]*signalengine.Engine),
		lastTradeTs: make(map[string]time.Time),
		trailing:    make(map[string]*trailingState),
	}

	for _, symbol := range cfg.Instruments.TradingPairs {
		d.aggregators[symbol] = aggregator.New(cfg.VolumeBar.ThresholdUSD)
		d.engines[symbol] = signalengine.New(cfg)
	}

	d.marketFeed = transport.NewMarketFeed(cfg.Exchange.WSBase(), cfg.Instruments.TradingPairs, cfg.Dispatcher.QueueCapacity, logger)
	d.userFeed = transport.NewUserFeed(cfg.Exchange.WSBase(), client, cfg.Dispatcher.QueueCapacity, logger)
	d.monitor.RegisterFillCallback(d.onFill)

	return d
}

// Start launches the two WebSocket feeds, the event loop, and the two
// background tasks. It returns immediately; call Stop to tear everything
// down.
func (d *Dispatcher) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	d.cancel = cancel

	d.wg.Add(5)
	go func() {
		defer d.wg.Done()
		if err := d.marketFeed.Run(ctx); err != nil && ctx.Err() == nil {
			d.logger.Error("market feed stopped unexpectedly", "error", err)
		}
	}()
	go func() {
		defer d.wg.Done()
		if err := d.userFeed.Run(ctx); err != nil && ctx.Err() == nil {
			d.logger.Error("user feed stopped unexpectedly", "error", err)
		}
	}()
	go func() {
		defer d.wg.Done()
		d.runEventLoop(ctx)
	}()
	go func() {
		defer d.wg.Done()
		d.orphanChecker(ctx)
	}()
	go func() {
		defer d.wg.Done()
		d.dailyResetScheduler(ctx)
	}()
}

// Stop cancels every goroutine Start launched and waits for them (and any
// in-flight order submissions) to exit.
func (d *Dispatcher) Stop() {
	if d.cancel != nil {
		d.cancel()
	}
	d.wg.Wait()
}

func (d *Dispatcher) runEventLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case trade := <-d.marketFeed.TradeEvents():
			d.onAggTrade(ctx, trade)
		case ticker := <-d.marketFeed.BookTickerEvents():
			d.onBookTicker(ticker)
		case order := <-d.userFeed.OrderUpdateEvents():
			d.onOrderUpdate(order)
		case account := <-d.userFeed.AccountUpdateEvents():
			d.onAccountUpdate(account)
		}
	}
}

// onAggTrade feeds one print into its symbol's volume bar, and on bar
// completion runs the full entry pipeline: signal generation, circuit
// breaker check, cooldown gate, position sizing, regime haircut, minimum-size
// floor, and order construction.
func (d *Dispatcher) onAggTrade(ctx context.Context, trade types.Trade) {
	agg, ok := d.aggregators[trade.Symbol]
	if !ok {
		return
	}

	price, _ := trade.Price.Float64()
	qty, _ := trade.Qty.Float64()

	d.updateTrailingStop(trade.Symbol, price)

	bar, complete := agg.OnTrade(price, qty, trade.IsBuyerMaker, trade.EventTimeMs)
	if !complete {
		return
	}
	d.breaker.OnBar()

	eng := d.engines[trade.Symbol]
	signal, fired := eng.OnVolumeBar(bar)
	if !fired {
		return
	}

	if canTrade, reason := d.breaker.Check(); !canTrade {
		d.logger.Warn("entry blocked by circuit breaker", "symbol", trade.Symbol, "reason", reason)
		return
	}

	// The reference engine compares a wall-clock elapsed time against a bar
	// count scaled by 0.5s/bar; that mismatch is preserved deliberately.
	cooldown := time.Duration(float64(d.cfg.Circuit.CooldownBars) * 0.5 * float64(time.Second))
	if last, seen := d.lastTradeTs[trade.Symbol]; seen && time.Since(last) < cooldown {
		return
	}

	orderQty := d.computeQty(signal, price)
	if signal.Regime == types.RegimeVolatile {
		orderQty /= 2
	}

	minQty := minQtyFloor
	if configured, ok := d.cfg.Instruments.MinOrderQty[trade.Symbol]; ok && configured > minQty {
		minQty = configured
	}
	if orderQty <= minQty {
		d.logger.Debug("entry skipped, below minimum size", "symbol", trade.Symbol, "qty", orderQty)
		return
	}
	orderQty = roundQty(orderQty, d.cfg.Instruments.SizePrecision[trade.Symbol])

	order := &types.ManagedOrder{
		ClientID: "DS-" + uuid.New().String(),
		Symbol:   trade.Symbol,
		Side:     signal.Side,
		Type:     types.OrderTypeMarket,
		Qty:      orderQty,
		State:    types.PendingSubmit,
		Tags: map[string]string{
			"entry_reason": signal.EntryReason,
			"regime":       string(signal.Regime),
		},
	}

	d.monitor.OnOrderSubmitted(order)
	d.lastTradeTs[trade.Symbol] = time.Now()

	d.wg.Add(1)
	go d.submitOrder(ctx, order)
}

// submitOrder places the order via REST. The OMS's eventual state (NEW,
// FILLED, ...) arrives over the user-data stream, not from this call's
// response — the ack here only confirms the venue accepted the request.
func (d *Dispatcher) submitOrder(ctx context.Context, order *types.ManagedOrder) {
	defer d.wg.Done()
	start := time.Now()
	ack, err := d.client.CreateOrder(ctx, order.Symbol, order.Side, order.Type, order.Qty, order.Price, order.ClientID, "GTC")
	d.breaker.RecordLatency(float64(time.Since(start).Milliseconds()))
	if err != nil {
		d.logger.Error("order submission failed", "client_id", order.ClientID, "error", err)
		return
	}
	d.logger.Info("order acked", "client_id", ack.ClientID, "status", ack.Status, "exchange_id", ack.ExchangeID)
}

// computeQty sizes the entry per the configured sizing model. Kelly sizing
// needs a trade history to estimate win rate and win/loss size; until one
// exists it falls back to the ATR-based default so an empty session can
// still trade.
func (d *Dispatcher) computeQty(signal types.Signal, price float64) float64 {
	if d.cfg.Risk.SizingModel == "kelly" {
		if qty := d.kellyQty(signal, price); qty > 0 {
			return qty
		}
	}
	return risk.DynamicPositionSize(
		d.balanceUSD, signal.ATR, price,
		d.cfg.Risk.RiskPerTradePct, d.cfg.Risk.ATRStopMultiplier, d.cfg.Risk.MaxPositionPct,
		d.cfg.Instruments.Leverage,
	)
}

func (d *Dispatcher) kellyQty(signal types.Signal, price float64) float64 {
	total := d.winCount + d.lossCount
	if total == 0 {
		return 0
	}
	winRate := float64(d.winCount) / float64(total)
	var avgWin, avgLoss float64
	if d.winCount > 0 {
		avgWin = d.totalWinUSD / float64(d.winCount)
	}
	if d.lossCount > 0 {
		avgLoss = d.totalLossUSD / float64(d.lossCount)
	}

	riskBudget := risk.KellyPositionSize(d.balanceUSD, winRate, avgWin, avgLoss, d.cfg.Risk.KellyFraction, d.cfg.Risk.KellyMaxRiskPct)
	stopDistance := signal.ATR * d.cfg.Risk.ATRStopMultiplier
	if stopDistance <= 0 {
		return 0
	}
	qty := riskBudget / stopDistance

	maxQty := (d.balanceUSD * d.cfg.Risk.MaxPositionPct * float64(d.cfg.Instruments.Leverage)) / price
	if qty > maxQty {
		qty = maxQty
	}
	return qty
}

// updateTrailingStop tracks the favorable excursion since entry for whatever
// position the ledger currently holds in this symbol, and evaluates the
// ATR-based trailing stop on every price tick. The stop level itself is
// advisory bookkeeping here; nothing in this repo auto-fires a stop order
// against the venue.
func (d *Dispatcher) updateTrailingStop(symbol string, price float64) {
	pos := d.ledger.Snapshot(symbol)
	if pos.Qty == 0 {
		delete(d.trailing, symbol)
		return
	}

	ts, ok := d.trailing[symbol]
	if !ok || ts.sideIsLong != (pos.Qty > 0) || ts.entryPrice != pos.AvgEntryPrice {
		ts = &trailingState{entryPrice: pos.AvgEntryPrice, sideIsLong: pos.Qty > 0, highest: price, lowest: price}
		d.trailing[symbol] = ts
	}
	if price > ts.highest {
		ts.highest = price
	}
	if price < ts.lowest {
		ts.lowest = price
	}

	eng, ok := d.engines[symbol]
	if !ok {
		return
	}
	atr := eng.LastATR()
	if atr <= 0 {
		return
	}

	active, newStop := indicators.TrailingStop(
		ts.sideIsLong, ts.highest, ts.lowest, atr, ts.entryPrice,
		d.cfg.Risk.TrailingActivateATR, d.cfg.Risk.TrailingDistanceATR, ts.stop,
	)
	if active {
		ts.stop = newStop
	}
}

func (d *Dispatcher) onBookTicker(ticker types.BookTicker) {
	eng, ok := d.engines[ticker.Symbol]
	if !ok {
		return
	}
	bidQty, _ := ticker.BidQty.Float64()
	askQty, _ := ticker.AskQty.Float64()
	eng.UpdateOBI(bidQty, askQty)

	bidPrice, _ := ticker.BidPrice.Float64()
	askPrice, _ := ticker.AskPrice.Float64()
	mid := (bidPrice + askPrice) / 2
	d.ledger.UpdateMarkToMarket(ticker.Symbol, mid)
	d.updateTrailingStop(ticker.Symbol, mid)
}

func (d *Dispatcher) onOrderUpdate(raw types.WSOrderUpdateObj) {
	filledQty, _ := strconv.ParseFloat(raw.FilledQty, 64)
	avgFillPrice, _ := strconv.ParseFloat(raw.AvgFillPrice, 64)
	d.monitor.OnUserDataUpdate(types.OrderUpdate{
		ClientID:     raw.ClientOrderID,
		Status:       raw.Status,
		FilledQty:    filledQty,
		AvgFillPrice: avgFillPrice,
		ExchangeID:   raw.ExchangeID,
	})
}

func (d *Dispatcher) onAccountUpdate(data types.WSAccountUpdateObj) {
	for _, entry := range data.Balances {
		if entry.Asset != "USDT" {
			continue
		}
		balance, err := strconv.ParseFloat(entry.WalletBalance, 64)
		if err != nil {
			d.logger.Warn("unparsable wallet balance", "raw", entry.WalletBalance)
			continue
		}
		d.balanceUSD = balance
		d.breaker.UpdateBalance(balance)
	}
}

// onFill runs synchronously inside the OMS's FILLED transition (which this
// dispatcher only ever triggers from its own event loop), so it needs no
// locking of its own. It is what actually closes the gap the reference
// engine leaves open: realized P&L from each fill feeds the circuit
// breaker's consecutive-loss and daily-loss checks, not just the balance
// reported on the account stream.
func (d *Dispatcher) onFill(order *types.ManagedOrder) {
	before := d.ledger.Snapshot(order.Symbol)
	realized := d.ledger.OnFill(accounting.Fill{
		Symbol:    order.Symbol,
		Side:      order.Side,
		Price:     order.AvgFillPrice,
		Qty:       order.FilledQty,
		Timestamp: time.Now(),
	})
	// Only a fill that reduces or flips an open position closes a trade;
	// opening fills are not fed to the breaker.
	if before.Qty != 0 && (before.Qty > 0) != (order.Side == types.Buy) {
		d.breaker.RecordTrade(realized)
	}

	switch {
	case realized > 0:
		d.winCount++
		d.totalWinUSD += realized
	case realized < 0:
		d.lossCount++
		d.totalLossUSD += -realized
	}
}

func (d *Dispatcher) orphanChecker(ctx context.Context) {
	ticker := time.NewTicker(orphanSweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.monitor.CheckOrphans(ctx, d.client)
			d.monitor.CleanupTerminal(terminalOrderMaxAge)
		}
	}
}

// dailyResetScheduler wakes at the next 00:00:05 UTC boundary (five seconds
// past midnight, so it never races a last trade of the prior session) and
// resets the circuit breaker's daily counters, then reschedules for the
// following day.
func (d *Dispatcher) dailyResetScheduler(ctx context.Context) {
	for {
		now := time.Now().UTC()
		next := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 5, 0, time.UTC)
		if !next.After(now) {
			next = next.Add(24 * time.Hour)
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Until(next)):
			d.breaker.ResetDaily()
		}
	}
}

func roundQty(qty float64, precision int) float64 {
	if precision <= 0 {
		return float64(int64(qty))
	}
	mult := 1.0
	for i := 0; i < precision; i++ {
		mult *= 10
	}
	return float64(int64(qty*mult)) / mult
}
