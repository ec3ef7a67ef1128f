// Package ledger is the append-only persistence layer for the trading core.
//
// Everything the system knows about money lives here: Trade rows (the audit
// trail of every order attempt), risk configuration, prop-firm account
// definitions, strategy definitions, OHLCV bars, and the webhook audit log.
//
// Trades are append-only. A row is inserted once and afterwards only a small
// set of execution-result fields may change, along a forward-only status
// machine. Derived state (account equity, cost basis, daily P&L) is always
// computed by aggregating trades at read time, never mutated in place.
package ledger

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"proptrader/pkg/types"
)

// NewTradeID generates a prefixed unique trade ID, e.g. "trd_1756200000123_9f3a21bc".
func NewTradeID() string {
	return fmt.Sprintf("trd_%d_%s", time.Now().UnixMilli(), uuid.NewString()[:8])
}

// NewWebhookID generates a prefixed unique webhook event ID.
func NewWebhookID() string {
	return fmt.Sprintf("wh_%d_%s", time.Now().UnixMilli(), uuid.NewString()[:8])
}

// NewStrategyID generates a prefixed unique strategy definition ID.
func NewStrategyID() string {
	return fmt.Sprintf("stg_%d_%s", time.Now().UnixMilli(), uuid.NewString()[:8])
}

// NewAccountID generates a prefixed unique broker credential ID.
func NewAccountID() string {
	return fmt.Sprintf("acct_%d_%s", time.Now().UnixMilli(), uuid.NewString()[:8])
}

// Trade is the immutable record of one order attempt for one account.
// Core fields (trade_id, symbol, side, quantity, created_at) are never
// modified after the row reaches a terminal status.
type Trade struct {
	TradeID   string            `gorm:"primaryKey;size:64"`
	Symbol    string            `gorm:"size:20;index"`
	Side      types.Side        `gorm:"size:10"`
	Quantity  decimal.Decimal   `gorm:"type:decimal(15,6)"`
	OrderType types.OrderType   `gorm:"size:20;default:market"`
	Status    types.TradeStatus `gorm:"size:20;index;default:pending"`

	// Pricing
	RequestedPrice decimal.NullDecimal `gorm:"type:decimal(15,6)"`
	FillPrice      decimal.NullDecimal `gorm:"type:decimal(15,6)"`
	CostBasis      decimal.NullDecimal `gorm:"type:decimal(15,6)"`                     // per-share, set once on fill
	RealizedPnL    decimal.NullDecimal `gorm:"column:realized_pnl;type:decimal(15,2)"` // set only on sells
	Commission     decimal.Decimal     `gorm:"type:decimal(10,4)"`

	// Source tracking
	Strategy      string `gorm:"size:100;index"`
	WebhookID     string `gorm:"size:64"`
	BrokerOrderID string `gorm:"size:128;index"`

	// Broker info
	BrokerType      string `gorm:"size:30;default:alpaca"`
	BrokerAccountID string `gorm:"size:64;index"`

	// Risk check result
	RiskApproved bool
	RiskReason   string `gorm:"size:200"`

	ErrorMessage string

	CreatedAt time.Time `gorm:"index"`
	UpdatedAt time.Time
}

// RiskConfig holds the process-wide trading limits. Exactly one row is
// active at a time; the risk gate reads it before every trade.
type RiskConfig struct {
	ID       uint   `gorm:"primaryKey;autoIncrement"`
	Name     string `gorm:"size:100;uniqueIndex"`
	IsActive bool

	MaxDailyDrawdownPct decimal.Decimal `gorm:"type:decimal(5,2)"`
	MaxTotalDrawdownPct decimal.Decimal `gorm:"type:decimal(5,2)"`
	MaxPositionSizePct  decimal.Decimal `gorm:"type:decimal(5,2)"`
	MaxOpenPositions    int
	MaxDailyTrades      int
	DailyLossLimit      decimal.Decimal `gorm:"type:decimal(15,2)"`

	KillSwitchActive bool

	CreatedAt time.Time
	UpdatedAt time.Time
}

// DefaultRiskConfig returns the bootstrap limits used when the ledger has no
// risk configuration yet.
func DefaultRiskConfig() RiskConfig {
	return RiskConfig{
		Name:                "default",
		IsActive:            true,
		MaxDailyDrawdownPct: decimal.NewFromInt(5),
		MaxTotalDrawdownPct: decimal.NewFromInt(10),
		MaxPositionSizePct:  decimal.NewFromInt(5),
		MaxOpenPositions:    10,
		MaxDailyTrades:      50,
		DailyLossLimit:      decimal.NewFromInt(1000),
	}
}

// AccountPhase is the prop-firm challenge lifecycle stage.
type AccountPhase string

const (
	PhaseEvaluation   AccountPhase = "evaluation"
	PhaseVerification AccountPhase = "verification"
	PhaseFunded       AccountPhase = "funded"
	PhaseSuspended    AccountPhase = "suspended"
	PhaseFailed       AccountPhase = "failed"
)

// PropFirmAccount is one external funded-trader challenge account.
// P&L and equity are never stored: they are derived from the Trade table
// through the account's broker_account_id link.
type PropFirmAccount struct {
	ID   uint   `gorm:"primaryKey;autoIncrement"`
	Name string `gorm:"size:100"`
	Firm string `gorm:"size:30"`

	AccountNumber   string `gorm:"size:64"`
	BrokerAccountID string `gorm:"size:64;index"`

	Phase    AccountPhase `gorm:"size:20;default:evaluation"`
	IsActive bool

	AccountSize decimal.Decimal `gorm:"type:decimal(15,2)"`

	// Firm-specific limits
	MaxDailyDrawdownPct decimal.Decimal `gorm:"type:decimal(5,2)"`
	MaxTotalDrawdownPct decimal.Decimal `gorm:"type:decimal(5,2)"`
	ProfitTargetPct     decimal.Decimal `gorm:"type:decimal(5,2)"`
	ProfitSplitPct      decimal.Decimal `gorm:"type:decimal(5,2)"`
	MinTradingDays      int

	TradingDaysCompleted int
	ChallengeStartDate   *time.Time
	ChallengeEndDate     *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// ProfitTargetAmount is the dollar profit needed to pass the current phase.
func (a PropFirmAccount) ProfitTargetAmount() decimal.Decimal {
	return a.AccountSize.Mul(a.ProfitTargetPct).Div(decimal.NewFromInt(100))
}

// CurrentEquity is account size plus realized P&L.
func (a PropFirmAccount) CurrentEquity(totalPnL decimal.Decimal) decimal.Decimal {
	return a.AccountSize.Add(totalPnL)
}

// TotalDrawdownPct is the current drawdown as a percentage of account size.
// Zero when the account is at or above its starting size.
func (a PropFirmAccount) TotalDrawdownPct(totalPnL decimal.Decimal) decimal.Decimal {
	if totalPnL.Sign() >= 0 || a.AccountSize.Sign() <= 0 {
		return decimal.Zero
	}
	return totalPnL.Abs().Div(a.AccountSize).Mul(decimal.NewFromInt(100))
}

// ProgressPct is progress toward the profit target (0-100+).
func (a PropFirmAccount) ProgressPct(totalPnL decimal.Decimal) decimal.Decimal {
	target := a.ProfitTargetAmount()
	if target.Sign() <= 0 {
		return decimal.Zero
	}
	return totalPnL.Div(target).Mul(decimal.NewFromInt(100))
}

// IsPassing reports whether the account is in a passing state: not failed
// and total drawdown strictly inside the firm's limit.
func (a PropFirmAccount) IsPassing(totalPnL decimal.Decimal) bool {
	if a.Phase == PhaseFailed {
		return false
	}
	return a.TotalDrawdownPct(totalPnL).LessThan(a.MaxTotalDrawdownPct)
}

// CheckCompliance checks the account against firm rules.
func (a PropFirmAccount) CheckCompliance(totalPnL decimal.Decimal) (bool, string) {
	if a.Phase == PhaseFailed {
		return false, "Account has failed the challenge"
	}
	dd := a.TotalDrawdownPct(totalPnL)
	if dd.GreaterThanOrEqual(a.MaxTotalDrawdownPct) {
		return false, fmt.Sprintf("Total drawdown %s%% exceeds limit %s%%",
			dd.StringFixed(2), a.MaxTotalDrawdownPct.String())
	}
	return true, "Account in compliance"
}

// StrategyConfig is a trading strategy definition. Parameters live in the
// database, not in code: the runner constructs the concrete strategy from
// CustomParams["strategy_type"] plus the row's limits.
type StrategyConfig struct {
	ID         uint   `gorm:"primaryKey;autoIncrement"`
	StrategyID string `gorm:"size:64;uniqueIndex"`
	Name       string `gorm:"size:100"`
	IsActive   bool

	AssetClass string   `gorm:"size:20;default:stocks"`
	Timeframe  string   `gorm:"size:5;default:1d"`
	Symbols    []string `gorm:"serializer:json"`

	// Linked prop-firm accounts (broker_account_id values) this strategy
	// trades on. Empty means the default broker account.
	AccountNumbers []string `gorm:"serializer:json"`

	PositionSizePct decimal.Decimal `gorm:"type:decimal(5,2)"`
	MaxPositions    int
	StopLossPct     decimal.Decimal `gorm:"type:decimal(5,2)"`
	TakeProfitPct   decimal.Decimal `gorm:"type:decimal(5,2)"`

	AIModel               string          `gorm:"size:30;default:none"`
	AIConfidenceThreshold decimal.Decimal `gorm:"type:decimal(3,2)"`

	CustomParams map[string]any `gorm:"serializer:json"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

// BrokerCredential stores an external broker connection with encrypted API
// keys. Decrypted keys are never persisted or logged.
type BrokerCredential struct {
	ID          uint   `gorm:"primaryKey;autoIncrement"`
	AccountID   string `gorm:"size:64;uniqueIndex"`
	BrokerType  string `gorm:"size:30;default:alpaca"`
	DisplayName string `gorm:"size:100"`
	Mode        string `gorm:"size:10;default:paper"`
	Status      string `gorm:"size:10;default:active"`

	EncryptedAPIKey    string
	EncryptedSecretKey string
	BaseURL            string

	// Snapshot fields refreshed on sync, informational only.
	BuyingPower  decimal.Decimal `gorm:"type:decimal(15,2)"`
	Equity       decimal.Decimal `gorm:"type:decimal(15,2)"`
	Cash         decimal.Decimal `gorm:"type:decimal(15,2)"`
	LastSyncedAt *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// OHLCVBar is one stored price candle. (symbol, timeframe, timestamp) is unique.
type OHLCVBar struct {
	ID        uint      `gorm:"primaryKey;autoIncrement"`
	Symbol    string    `gorm:"size:20;index;uniqueIndex:idx_bar_key"`
	Timeframe string    `gorm:"size:5;uniqueIndex:idx_bar_key"`
	Timestamp time.Time `gorm:"uniqueIndex:idx_bar_key"`

	Open   decimal.Decimal `gorm:"type:decimal(15,6)"`
	High   decimal.Decimal `gorm:"type:decimal(15,6)"`
	Low    decimal.Decimal `gorm:"type:decimal(15,6)"`
	Close  decimal.Decimal `gorm:"type:decimal(15,6)"`
	Volume int64

	Source string `gorm:"size:30;default:alpaca"`
}

// WebhookStatus is the processing state of an ingress webhook event.
type WebhookStatus string

const (
	WebhookReceived   WebhookStatus = "received"
	WebhookValidated  WebhookStatus = "validated"
	WebhookDispatched WebhookStatus = "dispatched"
	WebhookRejected   WebhookStatus = "rejected"
	WebhookError      WebhookStatus = "error"
)

// WebhookEvent is the append-only audit log of every ingress request,
// valid or not.
type WebhookEvent struct {
	ID        uint          `gorm:"primaryKey;autoIncrement"`
	WebhookID string        `gorm:"size:64;uniqueIndex"`
	Source    string        `gorm:"size:50;default:tradingview"`
	Payload   string        // raw request body
	Status    WebhookStatus `gorm:"size:20;default:received"`

	// Parsed signal fields, populated on successful validation.
	Ticker   string `gorm:"size:20"`
	Action   string `gorm:"size:10"`
	Quantity string `gorm:"size:20"`
	Strategy string `gorm:"size:100"`

	ErrorMessage string
	IPAddress    string `gorm:"size:45"`

	CreatedAt time.Time
}
