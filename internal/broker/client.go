package broker

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"time"

	"mt5-signal-relay/internal/config"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// OrderRequest carries the parameters for opening one order leg.
type OrderRequest struct {
	Symbol     string  `json:"symbol"`
	Direction  string  `json:"direction"`
	Volume     float64 `json:"volume"`
	EntryPrice float64 `json:"entry_price"`
	StopLoss   float64 `json:"stop_loss"`
	TakeProfit float64 `json:"take_profit"`
}

// ClientInterface defines the execution capability consumed by the relay.
// All calls are synchronous and may fail; a failure means "this action did
// not execute" and is never escalated beyond the caller.
type ClientInterface interface {
	Ping() error
	OpenOrder(req OrderRequest) (int64, error)
	UpdateOrder(orderID int64, newStopLoss, newTakeProfit *float64) error
	UpdateBreakEven(orderID int64, explicitStopLoss *float64) (float64, error)
	CloseOrder(orderID int64) error
	OpenPositionIDs() (map[int64]struct{}, error)
	AccountBalance() (float64, error)
}

// Client talks to a MetaTrader 5 REST bridge (the HTTP gateway running next
// to the terminal) for a single broker account.
// It implements the ClientInterface.
type Client struct {
	client    *resty.Client
	accountID int64
	logger    *zap.Logger
	limiter   *rate.Limiter
}

// ensure Client implements the interface
var _ ClientInterface = (*Client)(nil)

// NewClient creates a REST bridge client bound to one account. The session
// is long-lived and reused across messages.
func NewClient(acct config.Account, logger *zap.Logger) *Client {
	client := resty.New().
		SetBaseURL(acct.BridgeURL).
		SetHeader("X-Account", strconv.FormatInt(acct.ID, 10)).
		SetHeader("X-Password", acct.Password).
		SetHeader("X-Server", acct.Server)

	rateLimit := acct.RateLimit
	if rateLimit <= 0 {
		rateLimit = 10
	}
	burst := acct.RateLimitBurst
	if burst <= 0 {
		burst = 5
	}
	limiter := rate.NewLimiter(rate.Limit(rateLimit), burst)

	return &Client{
		client:    client,
		accountID: acct.ID,
		logger:    logger.With(zap.Int64("account_id", acct.ID)),
		limiter:   limiter,
	}
}

// doRequest handles the actual request execution with rate limiting and retry logic.
func (c *Client) doRequest(ctx context.Context, method, url string, req *resty.Request) (*resty.Response, error) {
	var resp *resty.Response
	var err error
	const maxRetries = 3

	for i := 0; i < maxRetries; i++ {
		// Wait for the rate limiter
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter wait failed: %w", err)
		}

		c.logger.Debug("Executing request", zap.String("method", method), zap.String("url", c.client.BaseURL+url))
		resp, err = req.Execute(method, url)

		if err == nil && !resp.IsError() {
			return resp, nil // Success
		}

		// Analyze error and decide whether to retry
		shouldRetry := false
		var retryAfter time.Duration

		if resp != nil {
			statusCode := resp.StatusCode()
			if statusCode == http.StatusTooManyRequests {
				shouldRetry = true
				retryAfterHeader := resp.Header().Get("Retry-After")
				if seconds, err := strconv.Atoi(retryAfterHeader); err == nil {
					retryAfter = time.Duration(seconds) * time.Second
				}
			} else if statusCode >= 500 { // Bridge/terminal errors
				shouldRetry = true
			}
		} else { // Network or other client-side errors
			shouldRetry = true
		}

		if !shouldRetry {
			return nil, fmt.Errorf("request failed with status %s: %s", resp.Status(), resp.String())
		}

		if retryAfter == 0 {
			// Exponential backoff: 1s, 2s, 4s
			retryAfter = time.Duration(math.Pow(2, float64(i))) * time.Second
		}

		c.logger.Warn("Request failed, retrying...",
			zap.Int("attempt", i+1),
			zap.Duration("retry_after", retryAfter),
			zap.Error(err),
		)

		select {
		case <-time.After(retryAfter):
			continue
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	return nil, fmt.Errorf("request failed after %d attempts: %w", maxRetries, err)
}

// Ping checks connectivity to the bridge. Useful at startup before any
// signal arrives.
func (c *Client) Ping() error {
	req := c.client.R()
	ctx := context.Background()

	if _, err := c.doRequest(ctx, "GET", "/ping", req); err != nil {
		return fmt.Errorf("failed to ping bridge: %w", err)
	}
	return nil
}

// openOrderResponse is the bridge's answer to a successful order placement.
type openOrderResponse struct {
	OrderID int64 `json:"order_id"`
}

// OpenOrder places a new order and returns the broker order id (ticket).
func (c *Client) OpenOrder(orderReq OrderRequest) (int64, error) {
	req := c.client.R().
		SetBody(orderReq).
		SetResult(&openOrderResponse{})
	ctx := context.Background()

	resp, err := c.doRequest(ctx, "POST", "/orders", req)
	if err != nil {
		c.logger.Error("Failed to open order",
			zap.String("symbol", orderReq.Symbol),
			zap.String("direction", orderReq.Direction),
			zap.Error(err),
		)
		return 0, fmt.Errorf("failed to open order: %w", err)
	}

	result := resp.Result().(*openOrderResponse)
	c.logger.Info("Order placed",
		zap.Int64("order_id", result.OrderID),
		zap.String("symbol", orderReq.Symbol),
		zap.Float64("take_profit", orderReq.TakeProfit),
	)
	return result.OrderID, nil
}

// UpdateOrder modifies the stop loss and/or take profit of an open order.
// A nil value leaves the corresponding field untouched on the broker side.
func (c *Client) UpdateOrder(orderID int64, newStopLoss, newTakeProfit *float64) error {
	body := map[string]interface{}{}
	if newStopLoss != nil {
		body["stop_loss"] = *newStopLoss
	}
	if newTakeProfit != nil {
		body["take_profit"] = *newTakeProfit
	}

	req := c.client.R().SetBody(body)
	ctx := context.Background()

	if _, err := c.doRequest(ctx, "PATCH", fmt.Sprintf("/orders/%d", orderID), req); err != nil {
		c.logger.Error("Failed to update order", zap.Int64("order_id", orderID), zap.Error(err))
		return fmt.Errorf("failed to update order %d: %w", orderID, err)
	}
	return nil
}

// breakEvenResponse reports the stop loss value the bridge actually applied.
type breakEvenResponse struct {
	StopLoss float64 `json:"stop_loss"`
}

// UpdateBreakEven moves an order's stop loss to break even. When
// explicitStopLoss is nil the bridge uses the position's entry price.
// Returns the stop loss value that was applied.
func (c *Client) UpdateBreakEven(orderID int64, explicitStopLoss *float64) (float64, error) {
	body := map[string]interface{}{}
	if explicitStopLoss != nil {
		body["stop_loss"] = *explicitStopLoss
	}

	req := c.client.R().
		SetBody(body).
		SetResult(&breakEvenResponse{})
	ctx := context.Background()

	resp, err := c.doRequest(ctx, "POST", fmt.Sprintf("/orders/%d/breakeven", orderID), req)
	if err != nil {
		c.logger.Error("Failed to move order to break even", zap.Int64("order_id", orderID), zap.Error(err))
		return 0, fmt.Errorf("failed to move order %d to break even: %w", orderID, err)
	}

	result := resp.Result().(*breakEvenResponse)
	c.logger.Info("Stop loss moved to break even",
		zap.Int64("order_id", orderID),
		zap.Float64("stop_loss", result.StopLoss),
	)
	return result.StopLoss, nil
}

// CloseOrder closes an open position.
func (c *Client) CloseOrder(orderID int64) error {
	req := c.client.R()
	ctx := context.Background()

	if _, err := c.doRequest(ctx, "DELETE", fmt.Sprintf("/orders/%d", orderID), req); err != nil {
		c.logger.Error("Failed to close order", zap.Int64("order_id", orderID), zap.Error(err))
		return fmt.Errorf("failed to close order %d: %w", orderID, err)
	}
	c.logger.Info("Order closed", zap.Int64("order_id", orderID))
	return nil
}

// position is one live position as reported by the bridge.
type position struct {
	Ticket int64 `json:"ticket"`
}

// OpenPositionIDs fetches the set of live position tickets for the account.
func (c *Client) OpenPositionIDs() (map[int64]struct{}, error) {
	var positions []position

	req := c.client.R().
		SetResult(&positions).
		SetHeader("Content-Type", "application/json")
	ctx := context.Background()

	resp, err := c.doRequest(ctx, "GET", "/positions", req)
	if err != nil {
		return nil, fmt.Errorf("failed to list open positions: %w", err)
	}

	result := resp.Result().(*[]position)
	ids := make(map[int64]struct{}, len(*result))
	for _, p := range *result {
		ids[p.Ticket] = struct{}{}
	}
	return ids, nil
}

// accountResponse carries the account state we care about.
type accountResponse struct {
	Balance float64 `json:"balance"`
}

// AccountBalance returns the current account balance.
func (c *Client) AccountBalance() (float64, error) {
	req := c.client.R().
		SetResult(&accountResponse{})
	ctx := context.Background()

	resp, err := c.doRequest(ctx, "GET", "/account", req)
	if err != nil {
		return 0, fmt.Errorf("failed to get account balance: %w", err)
	}

	result := resp.Result().(*accountResponse)
	return result.Balance, nil
}
