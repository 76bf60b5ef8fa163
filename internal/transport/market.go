// Package transport implements the venue's two WebSocket feeds: the public
// combined-stream market feed (aggTrade + bookTicker, one connection for all
// configured trading pairs) and the authenticated user-data feed (order and
// account updates, bound to a rotating session key).
//
// Both feeds auto-reconnect for as long as their Run context stays open. The
// market feed backs off exponentially (1s up to 60s, reset to 1s only after
// a connection that stayed up longer than 60s); the user feed always waits a
// fixed 2s before retrying, since a
// drop there is usually a listenKey expiry rather than a network fault.
package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"github.com/nvega-systems/perp-scalper/pkg/types"
)

const (
	marketHeartbeat      = 15 * time.Second
	marketReadTimeout    = 60 * time.Second
	marketReconnectStart = 1 * time.Second
	marketReconnectMax   = 60 * time.Second
	writeTimeout         = 10 * time.Second
)

// MarketFeed streams aggTrade and bookTicker events for a set of symbols
// over one combined-stream connection.
type MarketFeed struct {
	url    string
	conn   *websocket.Conn
	connMu sync.Mutex

	lastTradeIDMu sync.Mutex
	lastTradeID   map[string]int64 // symbol -> last seen aggTrade id

	tradeCh chan types.Trade
	bookCh  chan types.BookTicker

	logger *slog.Logger
}

// NewMarketFeed builds a combined-stream URL from wsBase and the given
// symbols (each contributing a "<symbol>@aggTrade" and "<symbol>@bookTicker"
// stream name) and returns a feed ready to Run. queueCapacity sizes both
// event channels, matching the dispatcher's bounded event queue: a producer
// that fills it blocks rather than drops, since the front end tolerates a
// brief stall far better than it tolerates a silently missing trade.
func NewMarketFeed(wsBase string, symbols []string, queueCapacity int, logger *slog.Logger) *MarketFeed {
	streams := make([]string, 0, len(symbols)*2)
	for _, s := range symbols {
		lower := strings.ToLower(s)
		streams = append(streams, lower+"@aggTrade", lower+"@bookTicker")
	}
	url := fmt.Sprintf("%s/stream?streams=%s", strings.TrimRight(wsBase, "/"), strings.Join(streams, "/"))

	return &MarketFeed{
		url:         url,
		lastTradeID: make(map[string]int64),
		tradeCh:     make(chan types.Trade, queueCapacity),
		bookCh:      make(chan types.BookTicker, queueCapacity),
		logger:      logger.With("component", "ws_market"),
	}
}

// TradeEvents returns a read-only channel of normalized aggTrade prints.
func (f *MarketFeed) TradeEvents() <-chan types.Trade { return f.tradeCh }

// BookTickerEvents returns a read-only channel of top-of-book updates.
func (f *MarketFeed) BookTickerEvents() <-chan types.BookTicker { return f.bookCh }

// Run connects and maintains the market feed with exponential backoff. The
// backoff returns to its floor only when the previous connection stayed up
// longer than marketReconnectMax; a connection that drops sooner, even one
// that opened successfully, keeps the doubled delay. Blocks until ctx is
// cancelled.
func (f *MarketFeed) Run(ctx context.Context) error {
	backoff := marketReconnectStart

	for {
		connectedAt := time.Now()
		err := f.connectAndRead(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		// A connection that survived a while before dropping indicates the
		// link itself was fine; don't let an old backoff linger.
		if time.Since(connectedAt) > marketReconnectMax {
			backoff = marketReconnectStart
		}

		f.logger.Warn("market stream disconnected, reconnecting", "error", err, "backoff", backoff)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}

		backoff *= 2
		if backoff > marketReconnectMax {
			backoff = marketReconnectMax
		}
	}
}

func (f *MarketFeed) connectAndRead(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, f.url, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}

	f.connMu.Lock()
	f.conn = conn
	f.connMu.Unlock()

	defer func() {
		f.connMu.Lock()
		conn.Close()
		f.conn = nil
		f.connMu.Unlock()
	}()

	f.logger.Info("market stream connected")

	pingCtx, pingCancel := context.WithCancel(ctx)
	defer pingCancel()
	go f.pingLoop(pingCtx)

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		conn.SetReadDeadline(time.Now().Add(marketReadTimeout))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}
		f.dispatchMessage(ctx, msg)
	}
}

// pingLoop sends unsolicited pongs on the heartbeat cadence the venue
// expects from a long-lived combined-stream connection.
func (f *MarketFeed) pingLoop(ctx context.Context) {
	ticker := time.NewTicker(marketHeartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			f.connMu.Lock()
			conn := f.conn
			f.connMu.Unlock()
			if conn == nil {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteMessage(websocket.PongMessage, nil); err != nil {
				f.logger.Warn("heartbeat failed", "error", err)
				return
			}
		}
	}
}

func (f *MarketFeed) dispatchMessage(ctx context.Context, data []byte) {
	var envelope types.WSCombinedEnvelope
	if err := json.Unmarshal(data, &envelope); err != nil {
		f.logger.Debug("ignoring non-json market message", "data", string(data))
		return
	}

	recvTimeNs := time.Now().UnixNano()

	switch {
	case strings.Contains(envelope.Stream, "aggTrade"):
		var raw types.WSAggTrade
		if err := json.Unmarshal(envelope.Data, &raw); err != nil {
			f.logger.Error("unmarshal aggTrade", "error", err)
			return
		}
		f.checkSequenceGap(raw.Symbol, raw.TradeID)

		price, _ := decimal.NewFromString(raw.Price)
		qty, _ := decimal.NewFromString(raw.Qty)
		trade := types.Trade{
			Symbol:       raw.Symbol,
			Price:        price,
			Qty:          qty,
			IsBuyerMaker: raw.IsBuyerMM,
			TradeID:      raw.TradeID,
			EventTimeMs:  raw.EventTime,
			RecvTimeNs:   recvTimeNs,
		}
		select {
		case f.tradeCh <- trade:
		case <-ctx.Done():
		}

	case strings.Contains(envelope.Stream, "bookTicker"):
		var raw types.WSBookTicker
		if err := json.Unmarshal(envelope.Data, &raw); err != nil {
			f.logger.Error("unmarshal bookTicker", "error", err)
			return
		}
		bidPrice, _ := decimal.NewFromString(raw.BidPrice)
		bidQty, _ := decimal.NewFromString(raw.BidQty)
		askPrice, _ := decimal.NewFromString(raw.AskPrice)
		askQty, _ := decimal.NewFromString(raw.AskQty)
		ticker := types.BookTicker{
			Symbol:     raw.Symbol,
			BidPrice:   bidPrice,
			BidQty:     bidQty,
			AskPrice:   askPrice,
			AskQty:     askQty,
			RecvTimeNs: recvTimeNs,
		}
		select {
		case f.bookCh <- ticker:
		case <-ctx.Done():
		}

	default:
		f.logger.Debug("unknown market stream", "stream", envelope.Stream)
	}
}

// checkSequenceGap warns, non-fatally, when an aggTrade id skips ahead of
// the last one seen for this symbol. A gap means the stream dropped prints
// (under a brief disconnect, a slow consumer, or a venue-side gap) but does
// not itself justify tearing down the connection.
func (f *MarketFeed) checkSequenceGap(symbol string, tradeID int64) {
	f.lastTradeIDMu.Lock()
	defer f.lastTradeIDMu.Unlock()

	last, ok := f.lastTradeID[symbol]
	if ok && tradeID > last+1 {
		f.logger.Warn("aggTrade sequence gap", "symbol", symbol, "last_id", last, "id", tradeID, "gap", tradeID-last-1)
	}
	f.lastTradeID[symbol] = tradeID
}
