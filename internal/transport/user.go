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

	"github.com/nvega-systems/perp-scalper/pkg/types"
)

const (
	userReadTimeout        = 60 * time.Second
	userReconnectDelay     = 2 * time.Second
	listenKeyAcquireRetry  = 2 * time.Second
	listenKeyRenewInterval = 30 * time.Minute
)

// ListenKeyProvider is the subset of the REST client the user feed needs to
// open and keep alive its session key.
type ListenKeyProvider interface {
	AcquireListenKey(ctx context.Context) (string, error)
	RenewListenKey(ctx context.Context, listenKey string) error
}

// UserFeed streams order and account updates on the authenticated user-data
// stream. Unlike MarketFeed it reconnects on a fixed delay rather than a
// backoff: a drop here is almost always the session key expiring, which a
// fresh AcquireListenKey call resolves immediately rather than needing time
// to recover from.
type UserFeed struct {
	wsBase   string
	provider ListenKeyProvider

	conn   *websocket.Conn
	connMu sync.Mutex

	orderCh   chan types.WSOrderUpdateObj
	accountCh chan types.WSAccountUpdateObj

	logger *slog.Logger
}

// NewUserFeed builds a user-data feed against wsBase using provider to
// acquire and renew the session key. queueCapacity sizes both event channels,
// matching the dispatcher's bounded event queue: a producer that fills it
// blocks rather than drops an order or account update.
func NewUserFeed(wsBase string, provider ListenKeyProvider, queueCapacity int, logger *slog.Logger) *UserFeed {
	return &UserFeed{
		wsBase:    wsBase,
		provider:  provider,
		orderCh:   make(chan types.WSOrderUpdateObj, queueCapacity),
		accountCh: make(chan types.WSAccountUpdateObj, queueCapacity),
		logger:    logger.With("component", "ws_user"),
	}
}

// OrderUpdateEvents returns a read-only channel of ORDER_TRADE_UPDATE payloads.
func (f *UserFeed) OrderUpdateEvents() <-chan types.WSOrderUpdateObj { return f.orderCh }

// AccountUpdateEvents returns a read-only channel of ACCOUNT_UPDATE payloads.
func (f *UserFeed) AccountUpdateEvents() <-chan types.WSAccountUpdateObj { return f.accountCh }

// Run acquires a session key, connects, and keeps reconnecting on a fixed
// delay for as long as ctx stays open. Each connection attempt acquires a
// fresh listenKey, since a prior one may have expired while disconnected.
func (f *UserFeed) Run(ctx context.Context) error {
	for {
		listenKey, err := f.provider.AcquireListenKey(ctx)
		if err != nil {
			f.logger.Warn("acquire listen key failed, retrying", "error", err)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(listenKeyAcquireRetry):
				continue
			}
		}

		renewCtx, renewCancel := context.WithCancel(ctx)
		go f.renewLoop(renewCtx, listenKey)

		err = f.connectAndRead(ctx, listenKey)
		renewCancel()

		if ctx.Err() != nil {
			return ctx.Err()
		}
		f.logger.Warn("user stream disconnected, reconnecting", "error", err)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(userReconnectDelay):
		}
	}
}

// renewLoop periodically extends the session key's TTL so a live connection
// is never torn down by expiry while still in use.
func (f *UserFeed) renewLoop(ctx context.Context, listenKey string) {
	ticker := time.NewTicker(listenKeyRenewInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := f.provider.RenewListenKey(ctx, listenKey); err != nil {
				f.logger.Warn("renew listen key failed", "error", err)
				continue
			}
			f.logger.Debug("listen key renewed")
		}
	}
}

func (f *UserFeed) connectAndRead(ctx context.Context, listenKey string) error {
	url := fmt.Sprintf("%s/ws/%s", strings.TrimRight(f.wsBase, "/"), listenKey)
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
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

	f.logger.Info("user stream connected")

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		conn.SetReadDeadline(time.Now().Add(userReadTimeout))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}
		if expired := f.dispatchMessage(ctx, msg); expired {
			return fmt.Errorf("listen key expired")
		}
	}
}

// dispatchMessage routes one user-stream event by its "e" discriminator.
// It returns true when the venue reports the session key has expired, which
// forces the caller to reconnect with a freshly acquired key.
func (f *UserFeed) dispatchMessage(ctx context.Context, data []byte) (expired bool) {
	var envelope types.WSUserEnvelope
	if err := json.Unmarshal(data, &envelope); err != nil {
		f.logger.Debug("ignoring non-json user message", "data", string(data))
		return false
	}

	switch envelope.EventType {
	case "ORDER_TRADE_UPDATE":
		var evt types.WSOrderTradeUpdate
		if err := json.Unmarshal(data, &evt); err != nil {
			f.logger.Error("unmarshal order update", "error", err)
			return false
		}
		select {
		case f.orderCh <- evt.Order:
		case <-ctx.Done():
		}

	case "ACCOUNT_UPDATE":
		var evt types.WSAccountUpdate
		if err := json.Unmarshal(data, &evt); err != nil {
			f.logger.Error("unmarshal account update", "error", err)
			return false
		}
		select {
		case f.accountCh <- evt.Data:
		case <-ctx.Done():
		}

	case "listenKeyExpired":
		f.logger.Warn("listen key expired, forcing reconnect")
		return true

	default:
		f.logger.Debug("unknown user stream event", "type", envelope.EventType)
	}
	return false
}
