// Package oms tracks every order through its lifecycle via the user-data
// stream and recovers orders that never received a confirming update.
package oms

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/nvega-systems/perp-scalper/pkg/types"
)

// orphanTimeout is how long an order may sit in PENDING_SUBMIT with no
// user-stream confirmation before the orphan sweep probes it via REST.
const orphanTimeout = 5 * time.Second

// maxRetries is how many REST probes an orphaned order gets before it is
// logged as permanently orphaned.
const maxRetries = 3

var terminalStates = map[types.OrderState]bool{
	types.Filled:   true,
	types.Canceled: true,
	types.Rejected: true,
	types.Expired:  true,
}

var statusMap = map[string]types.OrderState{
	"NEW":              types.New,
	"PARTIALLY_FILLED": types.PartiallyFilled,
	"FILLED":           types.Filled,
	"CANCELED":         types.Canceled,
	"REJECTED":         types.Rejected,
	"EXPIRED":          types.Expired,
}

// OrderFetcher is the subset of the REST client the orphan sweep needs.
// Returning (nil, nil) means the venue has no record of the order.
type OrderFetcher interface {
	GetOrder(ctx context.Context, symbol, clientOrderID string) (*types.OrderUpdate, error)
}

// Monitor is the order management system: a map of client-order-id to
// ManagedOrder plus the orphan-recovery sweep. Safe for concurrent use.
type Monitor struct {
	logger *slog.Logger

	mu            sync.Mutex
	orders        map[string]*types.ManagedOrder
	fillCallbacks []func(*types.ManagedOrder)
}

// New builds an empty order monitor.
func New(logger *slog.Logger) *Monitor {
	return &Monitor{
		logger: logger.With("component", "oms"),
		orders: make(map[string]*types.ManagedOrder),
	}
}

// RegisterFillCallback adds a callback invoked synchronously whenever an
// order transitions to FILLED.
func (m *Monitor) RegisterFillCallback(cb func(*types.ManagedOrder)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fillCallbacks = append(m.fillCallbacks, cb)
}

// OnOrderSubmitted registers a freshly-submitted order in PENDING_SUBMIT.
func (m *Monitor) OnOrderSubmitted(order *types.ManagedOrder) {
	m.mu.Lock()
	defer m.mu.Unlock()
	order.State = types.PendingSubmit
	order.SubmitTs = time.Now().UnixNano()
	m.orders[order.ClientID] = order
	m.logger.Info("order submitted", "client_id", order.ClientID, "side", order.Side, "qty", order.Qty, "symbol", order.Symbol)
}

// OnUserDataUpdate applies an ORDER_TRADE_UPDATE event to the matching
// order. Updates for an order already in a terminal state are ignored.
// Fill callbacks run synchronously (not in a new goroutine) once the
// order reaches FILLED, matching the reference monitor's synchronous
// dispatch — callbacks must not block.
func (m *Monitor) OnUserDataUpdate(update types.OrderUpdate) {
	m.mu.Lock()
	order, ok := m.orders[update.ClientID]
	if !ok {
		m.mu.Unlock()
		m.logger.Warn("unknown order update", "client_id", update.ClientID)
		return
	}
	if terminalStates[order.State] {
		m.mu.Unlock()
		m.logger.Warn("update for terminal order ignored", "client_id", update.ClientID, "state", order.State, "status", update.Status)
		return
	}

	newState, ok := statusMap[update.Status]
	if !ok {
		m.mu.Unlock()
		m.logger.Warn("unknown order status", "client_id", update.ClientID, "status", update.Status)
		return
	}

	prevState := order.State
	order.State = newState
	order.FilledQty = update.FilledQty
	order.AvgFillPrice = update.AvgFillPrice
	order.ExchangeID = update.ExchangeID
	order.LastUpdateTs = time.Now().UnixNano()

	callbacks := append([]func(*types.ManagedOrder){}, m.fillCallbacks...)
	m.mu.Unlock()

	m.logger.Info("order state transition", "client_id", update.ClientID,
		"from", prevState, "to", newState, "filled", order.FilledQty, "qty", order.Qty)

	if newState == types.Filled {
		for _, cb := range callbacks {
			cb(order)
		}
	}
}

// CheckOrphans sweeps every order stuck in PENDING_SUBMIT past
// orphanTimeout, plus every already-ORPHANED order still under maxRetries,
// and probes the REST API for its true state. Orders the venue has no
// record of, and orders whose probe itself fails, are marked ORPHANED and
// retried up to maxRetries times before being logged as permanently lost.
func (m *Monitor) CheckOrphans(ctx context.Context, fetcher OrderFetcher) {
	now := time.Now()

	m.mu.Lock()
	var stuck []*types.ManagedOrder
	for _, order := range m.orders {
		switch order.State {
		case types.PendingSubmit:
		case types.Orphaned:
			if order.RetryCount >= maxRetries {
				continue
			}
		default:
			continue
		}
		age := now.Sub(time.Unix(0, order.SubmitTs))
		if age < orphanTimeout {
			continue
		}
		stuck = append(stuck, order)
	}
	m.mu.Unlock()

	for _, order := range stuck {
		age := now.Sub(time.Unix(0, order.SubmitTs))
		m.logger.Warn("orphan detected", "client_id", order.ClientID, "age", age)

		resp, err := fetcher.GetOrder(ctx, order.Symbol, order.ClientID)
		if err != nil {
			m.logger.Error("orphan check failed", "client_id", order.ClientID, "error", err)
		} else if resp != nil {
			m.OnUserDataUpdate(*resp)
			continue
		}

		m.mu.Lock()
		order.State = types.Orphaned
		order.RetryCount++
		if order.RetryCount >= maxRetries {
			m.logger.Error("order permanently orphaned", "client_id", order.ClientID, "retry_count", order.RetryCount)
		}
		m.mu.Unlock()
	}
}

// GetActiveOrders returns every non-terminal order, optionally filtered to
// one symbol (empty string means all symbols). A permanently orphaned order
// (ORPHANED with RetryCount at or past maxRetries) is excluded even though
// ORPHANED itself isn't a terminal state, since it's no longer being
// retried and no longer represents open exposure the caller should act on.
func (m *Monitor) GetActiveOrders(symbol string) []*types.ManagedOrder {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*types.ManagedOrder
	for _, o := range m.orders {
		if terminalStates[o.State] {
			continue
		}
		if o.State == types.Orphaned && o.RetryCount >= maxRetries {
			continue
		}
		if symbol != "" && o.Symbol != symbol {
			continue
		}
		out = append(out, o)
	}
	return out
}

// CleanupTerminal removes terminal-state orders whose last update is older
// than maxAge, bounding the monitor's memory growth over a long session.
func (m *Monitor) CleanupTerminal(maxAge time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	for coid, o := range m.orders {
		if !terminalStates[o.State] {
			continue
		}
		if now.Sub(time.Unix(0, o.LastUpdateTs)) > maxAge {
			delete(m.orders, coid)
		}
	}
}
