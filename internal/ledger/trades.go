package ledger

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"proptrader/pkg/types"
)

// CreateTrade inserts a new trade row. The trade ID is generated when empty.
func (s *Store) CreateTrade(t *Trade) error {
	if t.TradeID == "" {
		t.TradeID = NewTradeID()
	}
	if t.Status == "" {
		t.Status = types.StatusPending
	}
	if err := s.db.Create(t).Error; err != nil {
		return fmt.Errorf("ledger: create trade: %w", err)
	}
	return nil
}

// Trade loads one trade by ID.
func (s *Store) Trade(tradeID string) (*Trade, error) {
	var t Trade
	err := s.db.First(&t, "trade_id = ?", tradeID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("ledger: load trade %s: %w", tradeID, err)
	}
	return &t, nil
}

// TradesByBrokerOrderID returns every trade in the block that shares one
// broker order. A block order materializes one row per account, all
// carrying the same broker_order_id.
func (s *Store) TradesByBrokerOrderID(orderID string) ([]Trade, error) {
	var trades []Trade
	err := s.db.Where("broker_order_id = ?", orderID).
		Order("created_at asc").Find(&trades).Error
	if err != nil {
		return nil, fmt.Errorf("ledger: trades by order %s: %w", orderID, err)
	}
	return trades, nil
}

// TradePatch is the set of fields an update may touch after insert.
// Everything else on a Trade is append-only.
type TradePatch struct {
	Status        *types.TradeStatus
	Quantity      *decimal.Decimal
	FillPrice     *decimal.Decimal
	CostBasis     *decimal.Decimal
	RealizedPnL   *decimal.Decimal
	Commission    *decimal.Decimal
	BrokerOrderID *string
	RiskApproved  *bool
	RiskReason    *string
	ErrorMessage  *string
}

// UpdateTrade applies an execution-result patch to a trade.
//
// Status only moves forward; a duplicate of the current status is accepted
// so repeated fill events from the stream are idempotent. Quantity may only
// change while the trade is still live (partial-fill adjustments). A patch
// against a terminal trade is rejected unless it is a pure no-op replay.
func (s *Store) UpdateTrade(tradeID string, p TradePatch) (*Trade, error) {
	t, err := s.Trade(tradeID)
	if err != nil {
		return nil, err
	}

	if p.Status != nil && !t.Status.CanTransitionTo(*p.Status) {
		return nil, fmt.Errorf("%w: %s -> %s for %s",
			ErrInvalidTransition, t.Status, *p.Status, tradeID)
	}

	if t.Status.Terminal() {
		if !patchIsReplay(t, p) {
			return nil, fmt.Errorf("%w: %s in status %s", ErrImmutableTrade, tradeID, t.Status)
		}
		return t, nil
	}

	if p.Status != nil {
		t.Status = *p.Status
	}
	if p.Quantity != nil {
		t.Quantity = *p.Quantity
	}
	if p.FillPrice != nil {
		t.FillPrice = decimal.NewNullDecimal(*p.FillPrice)
	}
	if p.CostBasis != nil {
		t.CostBasis = decimal.NewNullDecimal(*p.CostBasis)
	}
	if p.RealizedPnL != nil {
		t.RealizedPnL = decimal.NewNullDecimal(*p.RealizedPnL)
	}
	if p.Commission != nil {
		t.Commission = *p.Commission
	}
	if p.BrokerOrderID != nil {
		t.BrokerOrderID = *p.BrokerOrderID
	}
	if p.RiskApproved != nil {
		t.RiskApproved = *p.RiskApproved
	}
	if p.RiskReason != nil {
		t.RiskReason = *p.RiskReason
	}
	if p.ErrorMessage != nil {
		t.ErrorMessage = *p.ErrorMessage
	}

	if err := s.db.Save(t).Error; err != nil {
		return nil, fmt.Errorf("ledger: update trade %s: %w", tradeID, err)
	}
	return t, nil
}

// patchIsReplay reports whether a patch against a terminal trade carries no
// new information (same status, same fill values). Duplicate fill events are
// common on reconnect and must not error.
func patchIsReplay(t *Trade, p TradePatch) bool {
	if p.Status != nil && *p.Status != t.Status {
		return false
	}
	if p.Quantity != nil && !p.Quantity.Equal(t.Quantity) {
		return false
	}
	if p.FillPrice != nil && (!t.FillPrice.Valid || !p.FillPrice.Equal(t.FillPrice.Decimal)) {
		return false
	}
	if p.CostBasis != nil && (!t.CostBasis.Valid || !p.CostBasis.Equal(t.CostBasis.Decimal)) {
		return false
	}
	if p.RealizedPnL != nil && (!t.RealizedPnL.Valid || !p.RealizedPnL.Equal(t.RealizedPnL.Decimal)) {
		return false
	}
	return p.BrokerOrderID == nil && p.ErrorMessage == nil
}

// accountScope narrows a trade query to one broker account when the ID is
// set. Trades recorded before multi-account support have an empty
// broker_account_id and are treated as one global pool.
func accountScope(db *gorm.DB, brokerAccountID string) *gorm.DB {
	if brokerAccountID != "" {
		return db.Where("broker_account_id = ?", brokerAccountID)
	}
	return db
}

// filledBuys returns filled buy trades for a symbol, oldest first.
func (s *Store) filledBuys(symbol, brokerAccountID string) ([]Trade, error) {
	var trades []Trade
	q := s.db.Where("symbol = ? AND side = ? AND status = ?",
		symbol, types.SideBuy, types.StatusFilled).Order("created_at asc")
	if err := accountScope(q, brokerAccountID).Find(&trades).Error; err != nil {
		return nil, fmt.Errorf("ledger: filled buys for %s: %w", symbol, err)
	}
	return trades, nil
}

// CostBasis returns the quantity-weighted average fill price across all
// filled buys of a symbol. The bool is false when no filled buys exist.
func (s *Store) CostBasis(symbol, brokerAccountID string) (decimal.Decimal, bool, error) {
	buys, err := s.filledBuys(symbol, brokerAccountID)
	if err != nil {
		return decimal.Zero, false, err
	}
	totalQty := decimal.Zero
	totalCost := decimal.Zero
	for _, b := range buys {
		if !b.FillPrice.Valid {
			continue
		}
		totalQty = totalQty.Add(b.Quantity)
		totalCost = totalCost.Add(b.FillPrice.Decimal.Mul(b.Quantity))
	}
	if totalQty.Sign() <= 0 {
		return decimal.Zero, false, nil
	}
	return totalCost.Div(totalQty), true, nil
}

// DailyRealizedPnL sums realized P&L over filled trades created today.
func (s *Store) DailyRealizedPnL(now time.Time, brokerAccountID string) (decimal.Decimal, error) {
	var trades []Trade
	q := s.db.Where("status = ? AND created_at >= ?", types.StatusFilled, startOfDay(now))
	if err := accountScope(q, brokerAccountID).Find(&trades).Error; err != nil {
		return decimal.Zero, fmt.Errorf("ledger: daily pnl: %w", err)
	}
	total := decimal.Zero
	for _, t := range trades {
		if t.RealizedPnL.Valid {
			total = total.Add(t.RealizedPnL.Decimal)
		}
	}
	return total, nil
}

// TotalRealizedPnL sums realized P&L over all filled trades of an account.
func (s *Store) TotalRealizedPnL(brokerAccountID string) (decimal.Decimal, error) {
	var trades []Trade
	q := s.db.Where("status = ?", types.StatusFilled)
	if err := accountScope(q, brokerAccountID).Find(&trades).Error; err != nil {
		return decimal.Zero, fmt.Errorf("ledger: total pnl: %w", err)
	}
	total := decimal.Zero
	for _, t := range trades {
		if t.RealizedPnL.Valid {
			total = total.Add(t.RealizedPnL.Decimal)
		}
	}
	return total, nil
}

// DailyTradeCount counts trades created today, regardless of outcome.
// Rejected attempts count toward the daily limit.
func (s *Store) DailyTradeCount(now time.Time) (int, error) {
	var count int64
	err := s.db.Model(&Trade{}).
		Where("created_at >= ?", startOfDay(now)).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("ledger: daily trade count: %w", err)
	}
	return int(count), nil
}

// OpenPositionSymbols approximates the set of currently open symbols from
// the ledger: symbols with filled buys and no filled sells. Used as a
// fallback when the broker position feed is unavailable.
func (s *Store) OpenPositionSymbols() ([]string, error) {
	var bought []string
	err := s.db.Model(&Trade{}).Distinct("symbol").
		Where("side = ? AND status = ?", types.SideBuy, types.StatusFilled).
		Pluck("symbol", &bought).Error
	if err != nil {
		return nil, fmt.Errorf("ledger: open symbols: %w", err)
	}
	var sold []string
	err = s.db.Model(&Trade{}).Distinct("symbol").
		Where("side = ? AND status = ?", types.SideSell, types.StatusFilled).
		Pluck("symbol", &sold).Error
	if err != nil {
		return nil, fmt.Errorf("ledger: open symbols: %w", err)
	}
	soldSet := make(map[string]bool, len(sold))
	for _, sym := range sold {
		soldSet[sym] = true
	}
	open := make([]string, 0, len(bought))
	for _, sym := range bought {
		if !soldSet[sym] {
			open = append(open, sym)
		}
	}
	return open, nil
}

// StrategyOutcomes returns the realized P&L of resolved sell trades for a
// strategy, newest first, capped at limit. Used for Kelly history and the
// allocator's expectancy score.
func (s *Store) StrategyOutcomes(strategy string, limit int) ([]decimal.Decimal, error) {
	var trades []Trade
	err := s.db.Where("strategy = ? AND side = ? AND status = ? AND realized_pnl IS NOT NULL",
		strategy, types.SideSell, types.StatusFilled).
		Order("created_at desc").Limit(limit).Find(&trades).Error
	if err != nil {
		return nil, fmt.Errorf("ledger: outcomes for %s: %w", strategy, err)
	}
	out := make([]decimal.Decimal, 0, len(trades))
	for _, t := range trades {
		if t.RealizedPnL.Valid {
			out = append(out, t.RealizedPnL.Decimal)
		}
	}
	return out, nil
}

// RecentTrades returns the newest trades, for the API and EOD reporting.
func (s *Store) RecentTrades(limit int) ([]Trade, error) {
	var trades []Trade
	if err := s.db.Order("created_at desc").Limit(limit).Find(&trades).Error; err != nil {
		return nil, fmt.Errorf("ledger: recent trades: %w", err)
	}
	return trades, nil
}

// TradesToday returns all trades created today, oldest first.
func (s *Store) TradesToday(now time.Time) ([]Trade, error) {
	var trades []Trade
	err := s.db.Where("created_at >= ?", startOfDay(now)).
		Order("created_at asc").Find(&trades).Error
	if err != nil {
		return nil, fmt.Errorf("ledger: trades today: %w", err)
	}
	return trades, nil
}
