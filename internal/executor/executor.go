// Package executor turns approved signals into broker orders and ledger
// rows. One signal becomes one block order at the broker; the fill is then
// prorated across the participating prop-firm accounts by equity weight,
// materializing one Trade row per account plus rejection stubs for accounts
// the risk gate dropped.
package executor

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"proptrader/internal/broker"
	"proptrader/internal/ledger"
	"proptrader/internal/notifier"
	"proptrader/internal/risk"
	"proptrader/pkg/types"
)

// maxRoutingTagLen is the broker's client_order_id length cap.
const maxRoutingTagLen = 48

// Gate is the risk decision surface the executor calls per account.
type Gate interface {
	Check(ctx context.Context, sig types.Signal, brokerAccountID string) risk.Decision
}

// Ledger is the slice of the store the executor writes.
type Ledger interface {
	CreateTrade(t *ledger.Trade) error
	UpdateTrade(tradeID string, p ledger.TradePatch) (*ledger.Trade, error)
	CostBasis(symbol, brokerAccountID string) (decimal.Decimal, bool, error)
	TotalRealizedPnL(brokerAccountID string) (decimal.Decimal, error)
	ActiveAccounts() ([]ledger.PropFirmAccount, error)
	TradesByBrokerOrderID(orderID string) ([]ledger.Trade, error)
}

// Executor is the block order router.
type Executor struct {
	store    Ledger
	broker   broker.Client
	gate     Gate
	notifier *notifier.Notifier

	ibTag string
	log   *slog.Logger
}

// New builds an Executor. ibTag prefixes every routing tag for rebate
// attribution.
func New(store Ledger, brokerClient broker.Client, gate Gate, n *notifier.Notifier, ibTag string, log *slog.Logger) *Executor {
	return &Executor{
		store:    store,
		broker:   brokerClient,
		gate:     gate,
		notifier: n,
		ibTag:    ibTag,
		log:      log.With("component", "executor"),
	}
}

// blockAccount is one candidate account with its live equity for weighting.
type blockAccount struct {
	brokerAccountID string
	name            string
	equity          decimal.Decimal
}

// Execute routes one validated signal and returns the created trade IDs.
// Per-account gate rejections are recorded as qty=0 stubs; survivors share
// a single broker order whose fill is prorated by account equity.
func (e *Executor) Execute(ctx context.Context, sig types.Signal, sc *ledger.StrategyConfig) ([]string, error) {
	if !sig.IsActionable() {
		return nil, nil
	}

	candidates, err := e.resolveAccounts(sc)
	if err != nil {
		return nil, fmt.Errorf("executor: resolve accounts: %w", err)
	}

	var tradeIDs []string
	approved := make([]blockAccount, 0, len(candidates))
	for _, acct := range candidates {
		decision := e.gate.Check(ctx, sig, acct.brokerAccountID)
		if decision.Approved {
			approved = append(approved, acct)
			continue
		}
		if id := e.recordRejection(sig, acct, decision.Reason); id != "" {
			tradeIDs = append(tradeIDs, id)
		}
	}
	if len(approved) == 0 {
		e.log.Warn("no account passed the risk gate", "symbol", sig.Ticker, "action", sig.Action)
		return tradeIDs, nil
	}

	req := e.buildOrder(sig)
	order, err := e.broker.SubmitOrder(ctx, req)
	if err != nil {
		e.recordSubmitFailure(sig, approved, req, err)
		return tradeIDs, fmt.Errorf("executor: submit block order: %w", err)
	}

	return append(tradeIDs, e.distributeFill(sig, approved, order)...), nil
}

// resolveAccounts maps the strategy's linked account numbers to active
// prop-firm accounts with live equity. With no linked accounts the block
// is a single default (global) account.
func (e *Executor) resolveAccounts(sc *ledger.StrategyConfig) ([]blockAccount, error) {
	if sc == nil || len(sc.AccountNumbers) == 0 {
		return []blockAccount{{brokerAccountID: "", name: "default"}}, nil
	}

	wanted := make(map[string]bool, len(sc.AccountNumbers))
	for _, id := range sc.AccountNumbers {
		wanted[id] = true
	}

	active, err := e.store.ActiveAccounts()
	if err != nil {
		return nil, err
	}

	var out []blockAccount
	for _, acct := range active {
		if !wanted[acct.BrokerAccountID] {
			continue
		}
		pnl, err := e.store.TotalRealizedPnL(acct.BrokerAccountID)
		if err != nil {
			e.log.Warn("account pnl unavailable, weighting by size only",
				"account", acct.Name, "error", err)
			pnl = decimal.Zero
		}
		out = append(out, blockAccount{
			brokerAccountID: acct.BrokerAccountID,
			name:            acct.Name,
			equity:          acct.CurrentEquity(pnl),
		})
	}
	if len(out) == 0 {
		// Linked accounts exist but none are active: trade the default
		// account rather than silently dropping the signal? No. An
		// inactive challenge account must not leak orders anywhere.
		return nil, fmt.Errorf("no active account among %v", sc.AccountNumbers)
	}
	return out, nil
}

// buildOrder chooses the order type for the block.
//
// Buys with a known intended price go out as limits 1% above it to cap
// slippage. Panic and stop-loss sells go to market, everything must fill.
// Other priced sells limit 1% below. Anything unpriced is a market order.
func (e *Executor) buildOrder(sig types.Signal) types.OrderRequest {
	req := types.OrderRequest{
		Symbol:        sig.Ticker,
		Qty:           sig.Quantity,
		TimeInForce:   types.TIFDay,
		ClientOrderID: e.routingTag(sig.StrategyName),
	}

	reason := strings.ToLower(sig.Reason)
	urgent := strings.Contains(reason, "panic") || strings.Contains(reason, "stop")

	switch {
	case sig.Action == types.ActionBuy && sig.HasPrice():
		req.Side = types.SideBuy
		req.Type = types.OrderLimit
		req.LimitPrice = sig.Price.Mul(decimal.NewFromFloat(1.01))
	case sig.Action == types.ActionSell && urgent:
		req.Side = types.SideSell
		req.Type = types.OrderMarket
	case sig.Action == types.ActionSell && sig.HasPrice():
		req.Side = types.SideSell
		req.Type = types.OrderLimit
		req.LimitPrice = sig.Price.Mul(decimal.NewFromFloat(0.99))
	default:
		if sig.Action == types.ActionSell {
			req.Side = types.SideSell
		} else {
			req.Side = types.SideBuy
		}
		req.Type = types.OrderMarket
	}
	return req
}

// routingTag builds "{IB_TAG}-{STRAT[:10]}-{UUID[:8]}" capped at 48 chars.
func (e *Executor) routingTag(strategyName string) string {
	strat := strings.ToUpper(strategyName)
	strat = strings.ReplaceAll(strat, " ", "_")
	if len(strat) > 10 {
		strat = strat[:10]
	}
	if strat == "" {
		strat = "MANUAL"
	}
	tag := fmt.Sprintf("%s-%s-%s", e.ibTag, strat, uuid.NewString()[:8])
	if len(tag) > maxRoutingTagLen {
		tag = tag[:maxRoutingTagLen]
	}
	return tag
}

// recordRejection persists a qty=0 stub so the audit trail shows which
// accounts were dropped and why. Returns the stub's trade ID.
func (e *Executor) recordRejection(sig types.Signal, acct blockAccount, reason string) string {
	t := &ledger.Trade{
		Symbol:          sig.Ticker,
		Side:            sideFor(sig.Action),
		Quantity:        decimal.Zero,
		Status:          types.StatusRejected,
		RequestedPrice:  nullable(sig.Price),
		Strategy:        sig.StrategyName,
		WebhookID:       sig.WebhookID,
		BrokerAccountID: acct.brokerAccountID,
		RiskApproved:    false,
		RiskReason:      reason,
	}
	if err := e.store.CreateTrade(t); err != nil {
		e.log.Error("recording rejection stub", "symbol", sig.Ticker, "error", err)
		return ""
	}
	return t.TradeID
}

// recordSubmitFailure writes error-status rows for every approved account
// when the broker refuses the block order.
func (e *Executor) recordSubmitFailure(sig types.Signal, accounts []blockAccount, req types.OrderRequest, submitErr error) {
	for _, acct := range accounts {
		t := &ledger.Trade{
			Symbol:          sig.Ticker,
			Side:            req.Side,
			Quantity:        decimal.Zero,
			OrderType:       req.Type,
			Status:          types.StatusError,
			RequestedPrice:  nullable(sig.Price),
			Strategy:        sig.StrategyName,
			WebhookID:       sig.WebhookID,
			BrokerAccountID: acct.brokerAccountID,
			RiskApproved:    true,
			RiskReason:      "All risk checks passed",
			ErrorMessage:    submitErr.Error(),
		}
		if err := e.store.CreateTrade(t); err != nil {
			e.log.Error("recording submit failure", "symbol", sig.Ticker, "error", err)
		}
	}
	e.notifier.SystemAlert(notifier.LevelError, "Order submission failed",
		fmt.Sprintf("%s %s %s: %v", sig.Action, sig.Quantity.String(), sig.Ticker, submitErr))
}

// distributeFill prorates the master order across accounts by equity
// weight and persists one Trade per account, returning the trade IDs.
func (e *Executor) distributeFill(sig types.Signal, accounts []blockAccount, order *types.Order) []string {
	parts := prorate(sig.Quantity, accounts)
	tradeIDs := make([]string, 0, len(accounts))

	status := types.StatusSubmitted
	if order.Filled() {
		status = types.StatusFilled
	}

	for i, acct := range accounts {
		qty := parts[i]
		t := &ledger.Trade{
			Symbol:          sig.Ticker,
			Side:            order.Side,
			Quantity:        qty,
			OrderType:       order.Type,
			Status:          status,
			RequestedPrice:  nullable(sig.Price),
			Strategy:        sig.StrategyName,
			WebhookID:       sig.WebhookID,
			BrokerOrderID:   order.OrderID,
			BrokerAccountID: acct.brokerAccountID,
			RiskApproved:    true,
			RiskReason:      "All risk checks passed",
		}
		if status == types.StatusFilled {
			t.FillPrice = nullable(order.FilledAvgPrice)
			e.applyCostBasis(t, order.FilledAvgPrice)
		}
		if err := e.store.CreateTrade(t); err != nil {
			e.log.Error("persisting block trade", "symbol", sig.Ticker, "account", acct.name, "error", err)
			continue
		}
		tradeIDs = append(tradeIDs, t.TradeID)
		e.log.Info("block trade recorded",
			"trade_id", t.TradeID, "symbol", t.Symbol, "side", t.Side,
			"qty", qty.String(), "account", acct.name, "status", status)

		if status == types.StatusFilled {
			e.notifier.TradeExecuted(t.Symbol, t.Side, qty, order.FilledAvgPrice, t.Strategy, acct.name)
		}
	}
	return tradeIDs
}

// applyCostBasis sets cost basis on a buy and realized P&L on a sell,
// using the weighted average of the account's prior filled buys. The
// mutation happens before the row's first insert; later stream updates go
// through UpdateTrade.
func (e *Executor) applyCostBasis(t *ledger.Trade, fillPrice decimal.Decimal) {
	if t.Side == types.SideBuy {
		t.CostBasis = nullable(fillPrice)
		return
	}

	basis, ok, err := e.store.CostBasis(t.Symbol, t.BrokerAccountID)
	if err != nil {
		e.log.Error("cost basis lookup", "symbol", t.Symbol, "error", err)
		return
	}
	if !ok {
		e.log.Warn("sell without prior buys, realized pnl recorded as zero",
			"symbol", t.Symbol, "account", t.BrokerAccountID)
		t.RealizedPnL = nullable(decimal.Zero)
		return
	}
	t.CostBasis = nullable(basis)
	t.RealizedPnL = nullable(fillPrice.Sub(basis).Mul(t.Quantity))
}

// prorate splits a block quantity across accounts by equity weight,
// multiplying before dividing so exact ratios stay exact. The last account
// absorbs the rounding remainder, keeping the parts summing to the block
// total. When total equity is zero (fresh accounts, missing data) the
// split is uniform.
func prorate(total decimal.Decimal, accounts []blockAccount) []decimal.Decimal {
	totalEquity := decimal.Zero
	for _, a := range accounts {
		if a.equity.IsPositive() {
			totalEquity = totalEquity.Add(a.equity)
		}
	}

	parts := make([]decimal.Decimal, len(accounts))
	allocated := decimal.Zero
	for i, a := range accounts {
		if i == len(accounts)-1 {
			parts[i] = total.Sub(allocated)
			break
		}
		if totalEquity.IsZero() {
			parts[i] = total.Div(decimal.NewFromInt(int64(len(accounts))))
		} else {
			eq := a.equity
			if eq.Sign() < 0 {
				eq = decimal.Zero
			}
			parts[i] = total.Mul(eq).Div(totalEquity)
		}
		allocated = allocated.Add(parts[i])
	}
	return parts
}

func sideFor(action types.Action) types.Side {
	if action == types.ActionSell {
		return types.SideSell
	}
	return types.SideBuy
}

func nullable(d decimal.Decimal) decimal.NullDecimal {
	return decimal.NewNullDecimal(d)
}

// ListenTradeUpdates consumes the broker stream until ctx is cancelled,
// applying each update to the ledger.
func (e *Executor) ListenTradeUpdates(ctx context.Context, updates <-chan types.TradeUpdate) {
	for {
		select {
		case <-ctx.Done():
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			e.ApplyTradeUpdate(update)
		}
	}
}

// ApplyTradeUpdate reconciles one stream event with the block's ledger
// rows. Fills set the fill price, prorate the broker-reported filled
// quantity across the block by each row's share, and re-run cost basis and
// P&L. Terminal broker verdicts set the matching status and raise a
// warning. Updates for unknown orders are ignored: the submit may not have
// persisted yet and the event will be re-derived from order state later.
func (e *Executor) ApplyTradeUpdate(update types.TradeUpdate) {
	trades, err := e.store.TradesByBrokerOrderID(update.Order.ID)
	if err != nil {
		e.log.Error("loading trades for update", "order_id", update.Order.ID, "error", err)
		return
	}
	if len(trades) == 0 {
		e.log.Debug("update for unknown order ignored", "order_id", update.Order.ID, "event", update.Event)
		return
	}

	switch update.Event {
	case types.EventFill, types.EventPartialFill:
		e.applyFill(trades, update)
	case types.EventRejected, types.EventCanceled, types.EventSuspended:
		e.applyTerminal(trades, update)
	default:
		e.log.Debug("ignoring trade update event", "event", update.Event)
	}
}

func (e *Executor) applyFill(trades []ledger.Trade, update types.TradeUpdate) {
	status := types.StatusFilled
	if update.Event == types.EventPartialFill {
		status = types.StatusPartial
	}
	fillPrice := update.Order.FilledAvgPrice

	totalQty := decimal.Zero
	for _, t := range trades {
		totalQty = totalQty.Add(t.Quantity)
	}

	// Prorate the broker-reported filled quantity by each row's share of
	// the block, multiplying before dividing for exactness. The last row
	// absorbs the rounding remainder.
	var filledParts []decimal.Decimal
	if update.Order.FilledQty.IsPositive() && totalQty.IsPositive() {
		filledParts = make([]decimal.Decimal, len(trades))
		allocated := decimal.Zero
		for i, t := range trades {
			if i == len(trades)-1 {
				filledParts[i] = update.Order.FilledQty.Sub(allocated)
				break
			}
			filledParts[i] = update.Order.FilledQty.Mul(t.Quantity).Div(totalQty)
			allocated = allocated.Add(filledParts[i])
		}
	}

	for i, t := range trades {
		patch := ledger.TradePatch{Status: &status, FillPrice: &fillPrice}
		if filledParts != nil {
			patch.Quantity = &filledParts[i]
		}

		if status == types.StatusFilled {
			if t.Side == types.SideBuy {
				patch.CostBasis = &fillPrice
			} else {
				basis, ok, err := e.store.CostBasis(t.Symbol, t.BrokerAccountID)
				if err == nil && ok {
					patch.CostBasis = &basis
					qty := t.Quantity
					if patch.Quantity != nil {
						qty = *patch.Quantity
					}
					pnl := fillPrice.Sub(basis).Mul(qty)
					patch.RealizedPnL = &pnl
				}
			}
		}

		updated, err := e.store.UpdateTrade(t.TradeID, patch)
		if err != nil {
			e.log.Error("applying fill update", "trade_id", t.TradeID, "error", err)
			continue
		}
		e.log.Info("fill update applied",
			"trade_id", updated.TradeID, "status", updated.Status,
			"fill_price", fillPrice.String())

		if status == types.StatusFilled {
			e.notifier.TradeExecuted(updated.Symbol, updated.Side, updated.Quantity, fillPrice, updated.Strategy, updated.BrokerAccountID)
		}
	}
}

func (e *Executor) applyTerminal(trades []ledger.Trade, update types.TradeUpdate) {
	var status types.TradeStatus
	switch update.Event {
	case types.EventRejected:
		status = types.StatusRejected
	case types.EventCanceled:
		status = types.StatusCancelled
	default:
		status = types.StatusError
	}

	for _, t := range trades {
		if _, err := e.store.UpdateTrade(t.TradeID, ledger.TradePatch{Status: &status}); err != nil {
			e.log.Error("applying terminal update", "trade_id", t.TradeID, "error", err)
		}
	}
	e.notifier.SystemAlert(notifier.LevelWarning, "Order "+string(update.Event),
		fmt.Sprintf("Broker reported %s for order %s at %s",
			update.Event, update.Order.ID, time.Now().Format(time.RFC3339)))
}
