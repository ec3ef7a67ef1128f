package broker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"proptrader/pkg/types"
)

// DryRunClient simulates the brokerage in memory. Orders fill instantly at
// the limit price (or last known mark for market orders) and positions are
// tracked so exit logic behaves as it would live.
type DryRunClient struct {
	mu        sync.Mutex
	equity    decimal.Decimal
	cash      decimal.Decimal
	positions map[string]*types.Position
	marks     map[string]decimal.Decimal
	log       *slog.Logger
}

// NewDryRunClient builds a simulator starting with the given equity.
func NewDryRunClient(startingEquity decimal.Decimal, log *slog.Logger) *DryRunClient {
	return &DryRunClient{
		equity:    startingEquity,
		cash:      startingEquity,
		positions: make(map[string]*types.Position),
		marks:     make(map[string]decimal.Decimal),
		log:       log,
	}
}

// SetMark records a last-seen price used to fill market orders.
func (c *DryRunClient) SetMark(symbol string, price decimal.Decimal) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.marks[symbol] = price
}

func (c *DryRunClient) GetAccount(ctx context.Context) (*types.Account, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return &types.Account{
		ID:             "dry-run",
		Status:         "ACTIVE",
		Equity:         c.equity,
		Cash:           c.cash,
		BuyingPower:    c.cash,
		PortfolioValue: c.equity,
	}, nil
}

func (c *DryRunClient) SubmitOrder(ctx context.Context, req types.OrderRequest) (*types.Order, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	price := fallbackFillPrice(req)
	if price.IsZero() {
		price = c.marks[req.Symbol]
	}
	if price.IsZero() {
		return nil, fmt.Errorf("broker: dry run has no price for %s", req.Symbol)
	}

	notional := price.Mul(req.Qty)
	switch req.Side {
	case types.SideBuy:
		c.cash = c.cash.Sub(notional)
		pos := c.positions[req.Symbol]
		if pos == nil {
			pos = &types.Position{Symbol: req.Symbol, Side: "long", AvgEntryPrice: price}
			c.positions[req.Symbol] = pos
		} else {
			total := pos.AvgEntryPrice.Mul(pos.Qty).Add(notional)
			pos.AvgEntryPrice = total.Div(pos.Qty.Add(req.Qty))
		}
		pos.Qty = pos.Qty.Add(req.Qty)
		pos.CurrentPrice = price
		pos.MarketValue = pos.Qty.Mul(price)
	case types.SideSell:
		c.cash = c.cash.Add(notional)
		if pos := c.positions[req.Symbol]; pos != nil {
			pos.Qty = pos.Qty.Sub(req.Qty)
			if pos.Qty.Sign() <= 0 {
				delete(c.positions, req.Symbol)
			}
		}
	}

	order := &types.Order{
		OrderID:        "dry_" + uuid.NewString(),
		ClientOrderID:  req.ClientOrderID,
		Symbol:         req.Symbol,
		Qty:            req.Qty,
		Side:           req.Side,
		Type:           req.Type,
		Status:         "filled",
		SubmittedAt:    time.Now(),
		FilledAvgPrice: price,
	}
	c.log.Info("dry-run fill",
		"symbol", req.Symbol, "side", req.Side, "qty", req.Qty.String(), "price", price.String())
	return order, nil
}

func (c *DryRunClient) GetPositions(ctx context.Context) ([]types.Position, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]types.Position, 0, len(c.positions))
	for _, p := range c.positions {
		out = append(out, *p)
	}
	return out, nil
}

func (c *DryRunClient) GetPosition(ctx context.Context, symbol string) (*types.Position, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.positions[symbol]
	if !ok {
		return nil, fmt.Errorf("broker: no position in %s", symbol)
	}
	cp := *p
	return &cp, nil
}

func (c *DryRunClient) CancelAllOrders(ctx context.Context) error {
	return nil
}

func (c *DryRunClient) CloseAllPositions(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for sym, pos := range c.positions {
		mark := c.marks[sym]
		if mark.IsZero() {
			mark = pos.AvgEntryPrice
		}
		c.cash = c.cash.Add(mark.Mul(pos.Qty))
		delete(c.positions, sym)
	}
	c.log.Warn("dry-run closed all positions")
	return nil
}

var _ Client = (*DryRunClient)(nil)
