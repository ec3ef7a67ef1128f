// Package types defines shared data structures used across all packages.
//
// This package is the common vocabulary for the trading core: signals, order
// sides and statuses, broker wire types, and trade-update stream payloads.
// It has no dependencies on internal packages, so it can be imported by any
// layer.
package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// Side represents the direction of an order: buy or sell.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// OrderType enumerates the broker order types the router can emit.
type OrderType string

const (
	OrderMarket    OrderType = "market"
	OrderLimit     OrderType = "limit"
	OrderStop      OrderType = "stop"
	OrderStopLimit OrderType = "stop_limit"
)

// TimeInForce enumerates supported order lifetimes.
type TimeInForce string

const (
	TIFDay TimeInForce = "day"
	TIFGTC TimeInForce = "gtc"
	TIFIOC TimeInForce = "ioc"
)

// TradeStatus is the lifecycle state of a ledger trade.
// Transitions only move forward: pending → submitted → terminal.
type TradeStatus string

const (
	StatusPending   TradeStatus = "pending"
	StatusSubmitted TradeStatus = "submitted"
	StatusFilled    TradeStatus = "filled"
	StatusPartial   TradeStatus = "partial"
	StatusCancelled TradeStatus = "cancelled"
	StatusRejected  TradeStatus = "rejected"
	StatusError     TradeStatus = "error"
)

// Terminal reports whether a trade in this status can never change again.
// Partial fills are non-terminal: the broker may still complete or cancel them.
func (s TradeStatus) Terminal() bool {
	switch s {
	case StatusFilled, StatusCancelled, StatusRejected, StatusError:
		return true
	}
	return false
}

// CanTransitionTo reports whether the status machine permits moving from s
// to next. Re-applying the same status is allowed so duplicate fill events
// stay idempotent.
func (s TradeStatus) CanTransitionTo(next TradeStatus) bool {
	if s == next {
		return true
	}
	switch s {
	case StatusPending:
		return true
	case StatusSubmitted:
		return next != StatusPending
	case StatusPartial:
		return next == StatusFilled || next == StatusCancelled || next == StatusError
	}
	return false
}

// Action is what a strategy or webhook wants done with a ticker.
type Action string

const (
	ActionBuy  Action = "buy"
	ActionSell Action = "sell"
	ActionHold Action = "hold"
)

// Signal is the in-memory trade intent produced by a strategy or a webhook.
// A zero Price means "market, price unknown".
type Signal struct {
	Action       Action
	Ticker       string
	Price        decimal.Decimal
	Quantity     decimal.Decimal
	Confidence   float64 // 0..1, strategy conviction
	Reason       string
	StrategyName string
	WebhookID    string // set when the signal came through the webhook ingress
}

// IsActionable reports whether the signal asks for an order (buy or sell).
func (s Signal) IsActionable() bool {
	return s.Action == ActionBuy || s.Action == ActionSell
}

// HasPrice reports whether the signal carries an intended price.
func (s Signal) HasPrice() bool {
	return s.Price.IsPositive()
}

// Bar is one OHLCV candle. Strategies receive bars ordered oldest-first.
type Bar struct {
	Symbol    string
	Timeframe string
	Timestamp time.Time
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
}

// Broker wire types. These mirror the upstream REST API shapes; the broker
// client decodes into them and the rest of the system never sees raw JSON.

// Account is the broker account snapshot.
type Account struct {
	ID               string          `json:"id"`
	Status           string          `json:"status"`
	BuyingPower      decimal.Decimal `json:"buying_power"`
	Equity           decimal.Decimal `json:"equity"`
	Cash             decimal.Decimal `json:"cash"`
	PortfolioValue   decimal.Decimal `json:"portfolio_value"`
	PatternDayTrader bool            `json:"pattern_day_trader"`
}

// OrderRequest is a single order submission.
type OrderRequest struct {
	Symbol        string
	Qty           decimal.Decimal
	Side          Side
	Type          OrderType
	TimeInForce   TimeInForce
	LimitPrice    decimal.Decimal // required for limit / stop_limit
	StopPrice     decimal.Decimal // required for stop / stop_limit
	ClientOrderID string          // routing tag for rebate attribution
}

// Order is the broker's view of a submitted order.
type Order struct {
	OrderID        string          `json:"id"`
	ClientOrderID  string          `json:"client_order_id"`
	Symbol         string          `json:"symbol"`
	Qty            decimal.Decimal `json:"qty"`
	Side           Side            `json:"side"`
	Type           OrderType       `json:"type"`
	Status         string          `json:"status"`
	SubmittedAt    time.Time       `json:"submitted_at"`
	FilledAvgPrice decimal.Decimal `json:"filled_avg_price"`
}

// Filled reports whether the broker already reported an average fill price.
func (o Order) Filled() bool {
	return o.Status == "filled" || o.FilledAvgPrice.IsPositive()
}

// Position is one open broker position.
type Position struct {
	Symbol         string          `json:"symbol"`
	Qty            decimal.Decimal `json:"qty"`
	Side           string          `json:"side"`
	AvgEntryPrice  decimal.Decimal `json:"avg_entry_price"`
	CurrentPrice   decimal.Decimal `json:"current_price"`
	MarketValue    decimal.Decimal `json:"market_value"`
	UnrealizedPL   decimal.Decimal `json:"unrealized_pl"`
	UnrealizedPLPC decimal.Decimal `json:"unrealized_plpc"`
}

// Trade-update stream payloads.

// UpdateEvent is the event kind on the broker's trade_updates stream.
type UpdateEvent string

const (
	EventFill        UpdateEvent = "fill"
	EventPartialFill UpdateEvent = "partial_fill"
	EventRejected    UpdateEvent = "rejected"
	EventCanceled    UpdateEvent = "canceled"
	EventSuspended   UpdateEvent = "suspended"
)

// TradeUpdate is one message from the trade_updates stream.
type TradeUpdate struct {
	Event UpdateEvent `json:"event"`
	Order UpdateOrder `json:"order"`
}

// UpdateOrder is the order fragment carried by a TradeUpdate.
type UpdateOrder struct {
	ID             string          `json:"id"`
	FilledAvgPrice decimal.Decimal `json:"filled_avg_price"`
	FilledQty      decimal.Decimal `json:"filled_qty"`
}
