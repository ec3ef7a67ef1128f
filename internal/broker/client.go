// Package broker talks to the upstream brokerage. The REST client submits
// orders and reads account state; the stream client consumes asynchronous
// order updates over WebSocket.
package broker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker"

	"proptrader/internal/config"
	"proptrader/pkg/types"
)

// ErrUnavailable is returned while the circuit breaker is open after a run
// of upstream failures.
var ErrUnavailable = errors.New("broker: upstream unavailable")

// Client is the brokerage surface the rest of the system depends on.
type Client interface {
	GetAccount(ctx context.Context) (*types.Account, error)
	SubmitOrder(ctx context.Context, req types.OrderRequest) (*types.Order, error)
	GetPositions(ctx context.Context) ([]types.Position, error)
	GetPosition(ctx context.Context, symbol string) (*types.Position, error)
	CancelAllOrders(ctx context.Context) error
	CloseAllPositions(ctx context.Context) error
}

// apiError is the broker's JSON error body.
type apiError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// RESTClient is the live implementation of Client against an Alpaca-style
// trading API.
type RESTClient struct {
	http    *resty.Client
	breaker *gobreaker.CircuitBreaker
	log     *slog.Logger
}

// NewRESTClient builds a client from broker configuration.
func NewRESTClient(cfg config.BrokerConfig, log *slog.Logger) *RESTClient {
	httpClient := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(cfg.Timeout).
		SetHeader("APCA-API-KEY-ID", cfg.APIKey).
		SetHeader("APCA-API-SECRET-KEY", cfg.SecretKey).
		SetRetryCount(3).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(5 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			return err != nil || r.StatusCode() >= 500
		})

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "broker",
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("broker breaker state change", "from", from.String(), "to", to.String())
		},
	})

	return &RESTClient{http: httpClient, breaker: breaker, log: log}
}

// call runs one request through the breaker and decodes the success body
// into out (when non-nil).
func (c *RESTClient) call(ctx context.Context, method, path string, body, out any) error {
	_, err := c.breaker.Execute(func() (any, error) {
		// Decode the body as JSON even when the broker omits the
		// Content-Type header.
		req := c.http.R().SetContext(ctx).
			SetError(&apiError{}).
			ForceContentType("application/json")
		if body != nil {
			req.SetBody(body)
		}
		if out != nil {
			req.SetResult(out)
		}
		resp, err := req.Execute(method, path)
		if err != nil {
			return nil, fmt.Errorf("broker: %s %s: %w", method, path, err)
		}
		if resp.IsError() {
			apiErr, _ := resp.Error().(*apiError)
			if apiErr != nil && apiErr.Message != "" {
				return nil, fmt.Errorf("broker: %s %s: %s (http %d)",
					method, path, apiErr.Message, resp.StatusCode())
			}
			return nil, fmt.Errorf("broker: %s %s: http %d", method, path, resp.StatusCode())
		}
		return nil, nil
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return err
}

// GetAccount fetches the account snapshot.
func (c *RESTClient) GetAccount(ctx context.Context) (*types.Account, error) {
	var acct types.Account
	if err := c.call(ctx, resty.MethodGet, "/v2/account", nil, &acct); err != nil {
		return nil, err
	}
	return &acct, nil
}

type orderBody struct {
	Symbol        string `json:"symbol"`
	Qty           string `json:"qty"`
	Side          string `json:"side"`
	Type          string `json:"type"`
	TimeInForce   string `json:"time_in_force"`
	LimitPrice    string `json:"limit_price,omitempty"`
	StopPrice     string `json:"stop_price,omitempty"`
	ClientOrderID string `json:"client_order_id,omitempty"`
}

// SubmitOrder places one order and returns the broker's acknowledgement.
func (c *RESTClient) SubmitOrder(ctx context.Context, req types.OrderRequest) (*types.Order, error) {
	body := orderBody{
		Symbol:        req.Symbol,
		Qty:           req.Qty.String(),
		Side:          string(req.Side),
		Type:          string(req.Type),
		TimeInForce:   string(req.TimeInForce),
		ClientOrderID: req.ClientOrderID,
	}
	if req.LimitPrice.IsPositive() {
		body.LimitPrice = req.LimitPrice.StringFixed(2)
	}
	if req.StopPrice.IsPositive() {
		body.StopPrice = req.StopPrice.StringFixed(2)
	}

	var order types.Order
	if err := c.call(ctx, resty.MethodPost, "/v2/orders", body, &order); err != nil {
		return nil, err
	}
	c.log.Info("order submitted",
		"symbol", req.Symbol, "side", req.Side, "qty", req.Qty.String(),
		"type", req.Type, "order_id", order.OrderID)
	return &order, nil
}

// GetPositions lists all open positions.
func (c *RESTClient) GetPositions(ctx context.Context) ([]types.Position, error) {
	var positions []types.Position
	if err := c.call(ctx, resty.MethodGet, "/v2/positions", nil, &positions); err != nil {
		return nil, err
	}
	return positions, nil
}

// GetPosition fetches one position; ErrUnavailable or a decode error aside,
// a missing position surfaces as a broker 404 error.
func (c *RESTClient) GetPosition(ctx context.Context, symbol string) (*types.Position, error) {
	var pos types.Position
	if err := c.call(ctx, resty.MethodGet, "/v2/positions/"+symbol, nil, &pos); err != nil {
		return nil, err
	}
	return &pos, nil
}

// CancelAllOrders cancels every open order.
func (c *RESTClient) CancelAllOrders(ctx context.Context) error {
	return c.call(ctx, resty.MethodDelete, "/v2/orders", nil, nil)
}

// CloseAllPositions liquidates every open position. Used by the panic path.
func (c *RESTClient) CloseAllPositions(ctx context.Context) error {
	return c.call(ctx, resty.MethodDelete, "/v2/positions", nil, nil)
}

var _ Client = (*RESTClient)(nil)

// fallbackFillPrice picks the synthetic fill price for dry-run orders.
func fallbackFillPrice(req types.OrderRequest) decimal.Decimal {
	if req.LimitPrice.IsPositive() {
		return req.LimitPrice
	}
	if req.StopPrice.IsPositive() {
		return req.StopPrice
	}
	return decimal.Zero
}
