package ledger

import (
	"fmt"
	"time"

	"gorm.io/gorm/clause"

	"proptrader/pkg/types"
)

// UpsertBars stores candles, replacing any row with the same
// (symbol, timeframe, timestamp) key. Re-ingesting a feed is safe.
func (s *Store) UpsertBars(bars []OHLCVBar) error {
	if len(bars) == 0 {
		return nil
	}
	err := s.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "symbol"}, {Name: "timeframe"}, {Name: "timestamp"},
		},
		DoUpdates: clause.AssignmentColumns([]string{"open", "high", "low", "close", "volume"}),
	}).Create(&bars).Error
	if err != nil {
		return fmt.Errorf("ledger: upsert bars: %w", err)
	}
	return nil
}

// RecentBars loads the newest limit bars for a symbol and returns them in
// ascending time order, ready for indicator computation.
func (s *Store) RecentBars(symbol, timeframe string, limit int) ([]types.Bar, error) {
	var rows []OHLCVBar
	err := s.db.Where("symbol = ? AND timeframe = ?", symbol, timeframe).
		Order("timestamp desc").Limit(limit).Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("ledger: bars for %s: %w", symbol, err)
	}
	bars := make([]types.Bar, len(rows))
	for i, r := range rows {
		bars[len(rows)-1-i] = types.Bar{
			Symbol:    r.Symbol,
			Timeframe: r.Timeframe,
			Timestamp: r.Timestamp,
			Open:      r.Open.InexactFloat64(),
			High:      r.High.InexactFloat64(),
			Low:       r.Low.InexactFloat64(),
			Close:     r.Close.InexactFloat64(),
			Volume:    float64(r.Volume),
		}
	}
	return bars, nil
}

// BarCount reports how many bars are stored for a symbol and timeframe.
func (s *Store) BarCount(symbol, timeframe string) (int, error) {
	var count int64
	err := s.db.Model(&OHLCVBar{}).
		Where("symbol = ? AND timeframe = ?", symbol, timeframe).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("ledger: bar count for %s: %w", symbol, err)
	}
	return int(count), nil
}

// LatestBarTime returns the newest stored bar timestamp for a symbol, or
// the zero time when none exist.
func (s *Store) LatestBarTime(symbol, timeframe string) (time.Time, error) {
	var row OHLCVBar
	err := s.db.Where("symbol = ? AND timeframe = ?", symbol, timeframe).
		Order("timestamp desc").First(&row).Error
	if err != nil {
		return time.Time{}, nil
	}
	return row.Timestamp, nil
}
