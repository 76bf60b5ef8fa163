// Package types defines shared data structures used across all packages.
//
// This is the common vocabulary for the scalping engine — trade/book events,
// volume bars, signals, managed orders, and WebSocket wire payloads. It has no
// dependencies on internal packages, so it can be imported by any layer.
package types

import (
	"encoding/json"

	"github.com/shopspring/decimal"
)

// ————————————————————————————————————————————————————————————————————————
// Core enums
// ————————————————————————————————————————————————————————————————————————

// Side represents the direction of an order or signal: BUY or SELL.
type Side string

const (
	Buy  Side = "BUY"
	Sell Side = "SELL"
)

// OrderType enumerates the order lifecycles the OMS understands.
type OrderType string

const (
	OrderTypeMarket OrderType = "MARKET"
	OrderTypeLimit  OrderType = "LIMIT"
)

// SignalType enumerates the entries the Signal Engine can emit.
type SignalType string

const (
	SignalNone           SignalType = "NONE"
	BreakoutLong         SignalType = "BREAKOUT_LONG"
	BreakoutShort        SignalType = "BREAKOUT_SHORT"
	MeanRevLong          SignalType = "MEAN_REV_LONG"
	MeanRevShort         SignalType = "MEAN_REV_SHORT"
	SweepLong            SignalType = "SWEEP_LONG"
	SweepShort           SignalType = "SWEEP_SHORT"
)

// MarketRegime is a coarse label derived from ATR percentile and EMA dispersion.
type MarketRegime string

const (
	RegimeChoppy    MarketRegime = "CHOPPY"
	RegimeTrending  MarketRegime = "TRENDING"
	RegimeVolatile  MarketRegime = "VOLATILE"
)

// EntryMode selects which pattern families the Signal Engine will consider.
type EntryMode string

const (
	EntryBreakout EntryMode = "breakout"
	EntryMeanRev  EntryMode = "mean_rev"
	EntryHybrid   EntryMode = "hybrid"
)

// OrderState is the lifecycle state of a ManagedOrder. The OMS package treats
// FILLED, CANCELED, REJECTED and EXPIRED as terminal and ignores updates for
// an order already in one of them; this type only names the states.
type OrderState string

const (
	PendingSubmit    OrderState = "PENDING_SUBMIT"
	New              OrderState = "NEW"
	PartiallyFilled  OrderState = "PARTIALLY_FILLED"
	Filled           OrderState = "FILLED"
	PendingCancel    OrderState = "PENDING_CANCEL"
	Canceled         OrderState = "CANCELED"
	Rejected         OrderState = "REJECTED"
	Expired          OrderState = "EXPIRED"
	Orphaned         OrderState = "ORPHANED"
)

// ————————————————————————————————————————————————————————————————————————
// Market data
// ————————————————————————————————————————————————————————————————————————

// Trade is one aggregated-trade print from the market-data stream.
// Price and quantity arrive on the wire as decimal strings; Trade keeps them
// as decimal.Decimal end to end so no precision is lost before the point a
// computation actually needs a float64.
type Trade struct {
	Symbol       string
	Price        decimal.Decimal
	Qty          decimal.Decimal
	IsBuyerMaker bool
	TradeID      int64 // monotonic per-instrument, strictly increasing by 1 under normal operation
	EventTimeMs  int64
	RecvTimeNs   int64 // wall-clock receive timestamp, Unix nanoseconds
}

// BookTicker is a best-bid/best-ask top-of-book update.
type BookTicker struct {
	Symbol     string
	BidPrice   decimal.Decimal
	BidQty     decimal.Decimal
	AskPrice   decimal.Decimal
	AskQty     decimal.Decimal
	RecvTimeNs int64
}

// Bar is a notional-synchronized OHLCV+CVD volume bar.
type Bar struct {
	Open, High, Low, Close float64
	Volume                 float64
	BuyVolume              float64
	SellVolume             float64
	TickCount              int
	TsStart, TsEnd         int64
}

// CVD is the derived cumulative-volume-delta for a single bar.
func (b Bar) CVD() float64 { return b.BuyVolume - b.SellVolume }

// ————————————————————————————————————————————————————————————————————————
// Signals
// ————————————————————————————————————————————————————————————————————————

// Signal is the output of the Signal Engine's on_volume_bar operation.
type Signal struct {
	Type        SignalType
	Regime      MarketRegime
	Side        Side
	Confidence  float64
	ATR         float64
	EntryReason string
}

// ————————————————————————————————————————————————————————————————————————
// Orders
// ————————————————————————————————————————————————————————————————————————

// ManagedOrder is the OMS's internal record of one order across its lifecycle.
type ManagedOrder struct {
	ClientID      string
	ExchangeID    int64 // 0 until assigned
	Symbol        string
	Side          Side
	Type          OrderType
	Qty           float64
	Price         float64 // 0 for market orders
	State         OrderState
	FilledQty     float64
	AvgFillPrice  float64
	SubmitTs      int64 // wall-clock Unix nanoseconds (not a monotonic reading)
	LastUpdateTs  int64 // wall-clock Unix nanoseconds (not a monotonic reading)
	RetryCount    int
	Tags          map[string]string // SL/TP/ENTRY metadata
}

// OrderUpdate is the normalized shape of an ORDER_TRADE_UPDATE payload,
// already unwrapped from the "o" envelope described in the wire interface.
type OrderUpdate struct {
	ClientID     string
	Status       string // raw venue status string, e.g. "NEW", "FILLED"
	FilledQty    float64
	AvgFillPrice float64
	ExchangeID   int64
}

// AccountBalance is one entry of the "a.B" balance array in an ACCOUNT_UPDATE.
type AccountBalance struct {
	Asset         string
	WalletBalance float64
}

// ————————————————————————————————————————————————————————————————————————
// WebSocket wire payloads
// ————————————————————————————————————————————————————————————————————————
// These map 1:1 to the venue's combined-stream JSON. Field names match the
// wire exactly (single-letter Binance-style keys) so unmarshalling needs no
// translation layer.

// WSAggTrade is the raw "aggTrade" stream payload.
type WSAggTrade struct {
	EventType string `json:"e"`
	EventTime int64  `json:"E"`
	Symbol    string `json:"s"`
	TradeID   int64  `json:"a"`
	Price     string `json:"p"`
	Qty       string `json:"q"`
	IsBuyerMM bool   `json:"m"`
}

// WSBookTicker is the raw "bookTicker" stream payload.
type WSBookTicker struct {
	Symbol   string `json:"s"`
	BidPrice string `json:"b"`
	BidQty   string `json:"B"`
	AskPrice string `json:"a"`
	AskQty   string `json:"A"`
}

// WSCombinedEnvelope wraps every message on the combined-stream market URL.
type WSCombinedEnvelope struct {
	Stream string          `json:"stream"`
	Data   jsonRawDeferred `json:"data"`
}

// jsonRawDeferred keeps the "data" object undecoded so callers can
// re-unmarshal Data into a concrete type once the stream name is known.
type jsonRawDeferred = json.RawMessage

// WSUserEnvelope wraps every message on the authenticated user-data stream.
type WSUserEnvelope struct {
	EventType string `json:"e"`
}

// WSOrderTradeUpdate is the "ORDER_TRADE_UPDATE" user-stream event.
type WSOrderTradeUpdate struct {
	EventType string           `json:"e"`
	Order     WSOrderUpdateObj `json:"o"`
}

// WSOrderUpdateObj is the nested "o" object of an ORDER_TRADE_UPDATE.
type WSOrderUpdateObj struct {
	ClientOrderID string `json:"c"`
	Status        string `json:"X"`
	FilledQty     string `json:"z"`
	AvgFillPrice  string `json:"ap"`
	ExchangeID    int64  `json:"i"`
}

// WSAccountUpdate is the "ACCOUNT_UPDATE" user-stream event.
type WSAccountUpdate struct {
	EventType string            `json:"e"`
	Data      WSAccountUpdateObj `json:"a"`
}

// WSAccountUpdateObj is the nested "a" object of an ACCOUNT_UPDATE.
type WSAccountUpdateObj struct {
	Balances []WSBalanceEntry `json:"B"`
}

// WSBalanceEntry is one entry of an ACCOUNT_UPDATE's balance list.
type WSBalanceEntry struct {
	Asset         string `json:"a"`
	WalletBalance string `json:"wb"`
}

// ListenKeyResponse is the REST response body for POST/PUT /listenKey.
type ListenKeyResponse struct {
	ListenKey string `json:"listenKey"`
}
