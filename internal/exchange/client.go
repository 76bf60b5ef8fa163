// Package exchange implements the venue's REST handle: order
// submission/lookup, leverage configuration, session-key (listenKey)
// acquisition/renewal, and a sliding-window API weight limiter.
//
// Every request is weight-limited via WeightLimiter, automatically retried
// on 5xx errors, and HMAC-signed (except public endpoints). Mutating
// methods return a fake success without making a network call when dryRun
// is set, matching the teacher's dry-run short-circuit pattern.
package exchange

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/nvega-systems/perp-scalper/internal/config"
	"github.com/nvega-systems/perp-scalper/pkg/types"
)

// Request weights, in the venue's accounting units. Order creation costs
// the most and an order lookup more than a cancel; cancel, leverage and
// listenKey operations are cheap.
const (
	weightGetOrder    = 2
	weightCreateOrder = 4
	weightCancelOrder = 1
	weightSetLeverage = 1
	weightListenKey   = 1
)

// Client is the REST handle the OMS and transport layer use for order
// lookups, order submission, leverage changes, and listenKey management.
type Client struct {
	http    *resty.Client
	rl      *WeightLimiter
	apiKey  string
	secret  string
	dryRun  bool
	logger  *slog.Logger
}

// NewClient builds a REST client from exchange and rate-limit configuration.
func NewClient(cfg *config.Config, logger *slog.Logger) *Client {
	httpClient := resty.New().
		SetBaseURL(cfg.Exchange.RestBase()).
		SetTimeout(10 * time.Second).
		SetRetryCount(3).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(5 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			return r.StatusCode() >= 500
		}).
		SetHeader("Content-Type", "application/json")

	if cfg.Exchange.APIKey != "" {
		httpClient.SetHeader("X-API-KEY", cfg.Exchange.APIKey)
	}

	return &Client{
		http:   httpClient,
		rl:     NewWeightLimiter(cfg.RateLimit.MaxWeight, cfg.RateLimit.WindowSec),
		apiKey: cfg.Exchange.APIKey,
		secret: cfg.Exchange.APISecret,
		dryRun: cfg.DryRun,
		logger: logger.With("component", "exchange_client"),
	}
}

// signedQuery builds a query string with timestamp and signature appended,
// per the venue's HMAC auth scheme.
func (c *Client) signedQuery(params url.Values) string {
	params.Set("timestamp", strconv.FormatInt(time.Now().UnixMilli(), 10))
	raw := params.Encode()
	params.Set("signature", sign(c.secret, raw))
	return params.Encode()
}

// GetOrder looks up an order by client order id. It returns (nil, nil) when
// the venue has no record of the order, matching the OMS orphan-sweep
// contract in internal/oms.
func (c *Client) GetOrder(ctx context.Context, symbol, clientOrderID string) (*types.OrderUpdate, error) {
	if err := c.rl.Wait(ctx, weightGetOrder); err != nil {
		return nil, err
	}

	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("origClientOrderId", clientOrderID)
	query := c.signedQuery(params)

	var result struct {
		ClientOrderID string `json:"clientOrderId"`
		Status        string `json:"status"`
		ExecutedQty   string `json:"executedQty"`
		AvgPrice      string `json:"avgPrice"`
		OrderID       int64  `json:"orderId"`
	}
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryString(query).
		SetResult(&result).
		Get("/fapi/v1/order")
	if err != nil {
		return nil, fmt.Errorf("get order: %w", err)
	}
	if resp.StatusCode() == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("get order: status %d: %s", resp.StatusCode(), resp.String())
	}

	filledQty, _ := strconv.ParseFloat(result.ExecutedQty, 64)
	avgPrice, _ := strconv.ParseFloat(result.AvgPrice, 64)
	return &types.OrderUpdate{
		ClientID:     result.ClientOrderID,
		Status:       result.Status,
		FilledQty:    filledQty,
		AvgFillPrice: avgPrice,
		ExchangeID:   result.OrderID,
	}, nil
}

// CreateOrder submits a new order and returns the ack with its exchange
// order id. price is ignored for market orders.
func (c *Client) CreateOrder(ctx context.Context, symbol string, side types.Side, orderType types.OrderType, qty, price float64, clientID, timeInForce string) (*types.OrderUpdate, error) {
	if c.dryRun {
		c.logger.Info("dry-run: would submit order", "client_id", clientID, "symbol", symbol, "side", side, "qty", qty)
		return &types.OrderUpdate{ClientID: clientID, Status: "NEW", ExchangeID: 0}, nil
	}
	if err := c.rl.Wait(ctx, weightCreateOrder); err != nil {
		return nil, err
	}

	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("side", string(side))
	params.Set("type", string(orderType))
	params.Set("quantity", strconv.FormatFloat(qty, 'f', -1, 64))
	params.Set("newClientOrderId", clientID)
	if orderType == types.OrderTypeLimit {
		params.Set("price", strconv.FormatFloat(price, 'f', -1, 64))
		params.Set("timeInForce", timeInForce)
	}
	query := c.signedQuery(params)

	var result struct {
		ClientOrderID string `json:"clientOrderId"`
		Status        string `json:"status"`
		OrderID       int64  `json:"orderId"`
	}
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(query).
		SetHeader("Content-Type", "application/x-www-form-urlencoded").
		SetResult(&result).
		Post("/fapi/v1/order")
	if err != nil {
		return nil, fmt.Errorf("create order: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("create order: status %d: %s", resp.StatusCode(), resp.String())
	}

	return &types.OrderUpdate{ClientID: result.ClientOrderID, Status: result.Status, ExchangeID: result.OrderID}, nil
}

// CancelOrder cancels a single order by client order id.
func (c *Client) CancelOrder(ctx context.Context, symbol, clientOrderID string) error {
	if c.dryRun {
		c.logger.Info("dry-run: would cancel order", "client_id", clientOrderID)
		return nil
	}
	if err := c.rl.Wait(ctx, weightCancelOrder); err != nil {
		return err
	}

	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("origClientOrderId", clientOrderID)
	query := c.signedQuery(params)

	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryString(query).
		Delete("/fapi/v1/order")
	if err != nil {
		return fmt.Errorf("cancel order: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return fmt.Errorf("cancel order: status %d: %s", resp.StatusCode(), resp.String())
	}
	return nil
}

// SetLeverage configures the leverage for one symbol.
func (c *Client) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	if c.dryRun {
		c.logger.Info("dry-run: would set leverage", "symbol", symbol, "leverage", leverage)
		return nil
	}
	if err := c.rl.Wait(ctx, weightSetLeverage); err != nil {
		return err
	}

	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("leverage", strconv.Itoa(leverage))
	query := c.signedQuery(params)

	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(query).
		SetHeader("Content-Type", "application/x-www-form-urlencoded").
		Post("/fapi/v1/leverage")
	if err != nil {
		return fmt.Errorf("set leverage: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return fmt.Errorf("set leverage: status %d: %s", resp.StatusCode(), resp.String())
	}
	return nil
}

// AcquireListenKey obtains a fresh user-data stream session key.
func (c *Client) AcquireListenKey(ctx context.Context) (string, error) {
	if err := c.rl.Wait(ctx, weightListenKey); err != nil {
		return "", err
	}
	var result types.ListenKeyResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&result).
		Post("/fapi/v1/listenKey")
	if err != nil {
		return "", fmt.Errorf("acquire listen key: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return "", fmt.Errorf("acquire listen key: status %d: %s", resp.StatusCode(), resp.String())
	}
	return result.ListenKey, nil
}

// RenewListenKey extends the TTL of an existing session key.
func (c *Client) RenewListenKey(ctx context.Context, listenKey string) error {
	if err := c.rl.Wait(ctx, weightListenKey); err != nil {
		return err
	}
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("listenKey", listenKey).
		Put("/fapi/v1/listenKey")
	if err != nil {
		return fmt.Errorf("renew listen key: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return fmt.Errorf("renew listen key: status %d: %s", resp.StatusCode(), resp.String())
	}
	return nil
}
