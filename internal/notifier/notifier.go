// Package notifier sends Discord webhook alerts for trade executions and
// system events. Delivery is best effort: notification failures are logged
// and never propagate into the trading path.
package notifier

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"

	"proptrader/pkg/types"
)

// Discord embed colors.
const (
	colorBuy      = 0x00FF00
	colorSell     = 0xFF0000
	colorInfo     = 0x3498DB
	colorWarning  = 0xF1C40F
	colorError    = 0xE74C3C
	colorCritical = 0x992D22
	colorPass     = 0x2ECC71
)

// Level classifies a system alert.
type Level string

const (
	LevelInfo     Level = "INFO"
	LevelWarning  Level = "WARNING"
	LevelError    Level = "ERROR"
	LevelCritical Level = "CRITICAL"
)

func (l Level) color() int {
	switch l {
	case LevelWarning:
		return colorWarning
	case LevelError:
		return colorError
	case LevelCritical:
		return colorCritical
	default:
		return colorInfo
	}
}

type embed struct {
	Title       string  `json:"title"`
	Description string  `json:"description,omitempty"`
	Color       int     `json:"color"`
	Fields      []field `json:"fields,omitempty"`
	Timestamp   string  `json:"timestamp"`
}

type field struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline"`
}

type payload struct {
	Embeds []embed `json:"embeds"`
}

// Notifier posts embeds to a Discord webhook. A nil or URL-less Notifier is
// valid and drops every message, so callers never need to branch.
type Notifier struct {
	client     *resty.Client
	webhookURL string
	log        *slog.Logger
}

// New builds a Notifier. An empty webhookURL disables delivery.
func New(webhookURL string, log *slog.Logger) *Notifier {
	client := resty.New().
		SetTimeout(10 * time.Second).
		SetRetryCount(2).
		SetRetryWaitTime(1 * time.Second)
	return &Notifier{client: client, webhookURL: webhookURL, log: log}
}

func (n *Notifier) send(e embed) {
	if n == nil || n.webhookURL == "" {
		return
	}
	e.Timestamp = time.Now().UTC().Format(time.RFC3339)
	resp, err := n.client.R().
		SetHeader("Content-Type", "application/json").
		SetBody(payload{Embeds: []embed{e}}).
		Post(n.webhookURL)
	if err != nil {
		n.log.Warn("discord notification failed", "error", err)
		return
	}
	if resp.IsError() {
		n.log.Warn("discord notification rejected", "status", resp.StatusCode())
	}
}

// TradeExecuted announces a filled trade.
func (n *Notifier) TradeExecuted(symbol string, side types.Side, qty, price decimal.Decimal, strategy, account string) {
	color := colorBuy
	if side == types.SideSell {
		color = colorSell
	}
	fields := []field{
		{Name: "Symbol", Value: symbol, Inline: true},
		{Name: "Side", Value: string(side), Inline: true},
		{Name: "Quantity", Value: qty.String(), Inline: true},
		{Name: "Price", Value: "$" + price.StringFixed(2), Inline: true},
	}
	if strategy != "" {
		fields = append(fields, field{Name: "Strategy", Value: strategy, Inline: true})
	}
	if account != "" {
		fields = append(fields, field{Name: "Account", Value: account, Inline: true})
	}
	n.send(embed{
		Title:  fmt.Sprintf("Trade Executed: %s %s", side, symbol),
		Color:  color,
		Fields: fields,
	})
}

// SystemAlert announces an operational event at the given severity.
func (n *Notifier) SystemAlert(level Level, title, message string) {
	n.send(embed{
		Title:       fmt.Sprintf("[%s] %s", level, title),
		Description: message,
		Color:       level.color(),
	})
}

// DrawdownWarning fires when an account approaches its drawdown limit.
func (n *Notifier) DrawdownWarning(account string, drawdownPct, limitPct decimal.Decimal) {
	n.send(embed{
		Title: "Drawdown Warning",
		Description: fmt.Sprintf("Account %s at %s%% drawdown (limit %s%%)",
			account, drawdownPct.StringFixed(2), limitPct.String()),
		Color: colorWarning,
	})
}

// AccountFailed announces a prop-firm challenge failure.
func (n *Notifier) AccountFailed(account, reason string) {
	n.send(embed{
		Title:       "Account FAILED",
		Description: fmt.Sprintf("Account %s failed the challenge: %s", account, reason),
		Color:       colorCritical,
	})
}

// ProfitTargetReached announces a passed phase and halted trading.
func (n *Notifier) ProfitTargetReached(account string, pnl decimal.Decimal) {
	n.send(embed{
		Title: "Profit Target Reached",
		Description: fmt.Sprintf("Account %s hit its profit target (P&L $%s). Trading halted pending review.",
			account, pnl.StringFixed(2)),
		Color: colorPass,
	})
}

// DailyReport is the end-of-day summary.
func (n *Notifier) DailyReport(trades, filled int, realizedPnL decimal.Decimal, openSymbols []string) {
	color := colorPass
	if realizedPnL.Sign() < 0 {
		color = colorError
	}
	open := "none"
	if len(openSymbols) > 0 {
		open = fmt.Sprintf("%v", openSymbols)
	}
	n.send(embed{
		Title: "End of Day Report",
		Color: color,
		Fields: []field{
			{Name: "Trades", Value: fmt.Sprintf("%d (%d filled)", trades, filled), Inline: true},
			{Name: "Realized P&L", Value: "$" + realizedPnL.StringFixed(2), Inline: true},
			{Name: "Open Positions", Value: open, Inline: false},
		},
	})
}
