package strategy

import (
	"testing"

	"github.com/shopspring/decimal"

	"proptrader/internal/ledger"
	"proptrader/pkg/types"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

// barsFromCloses builds daily bars with high slightly above close and a
// constant volume unless overridden.
func barsFromCloses(closes []float64) []types.Bar {
	bars := make([]types.Bar, len(closes))
	for i, c := range closes {
		bars[i] = types.Bar{
			Symbol: "TEST", Timeframe: "1d",
			Open: c, High: c + 0.1, Low: c - 0.1, Close: c,
			Volume: 1000,
		}
	}
	return bars
}

// momentumEntryBars is a mild sawtooth uptrend ending in a volume breakout:
// RSI sits mid-range, the last close clears the prior high, and the last
// bar's volume is 5x the average.
func momentumEntryBars() []types.Bar {
	closes := make([]float64, 40)
	for i := range closes {
		closes[i] = 100 + 0.1*float64(i)
		if i%2 == 1 {
			closes[i] += 0.5
		}
	}
	bars := barsFromCloses(closes)
	bars[len(bars)-1].Volume = 5000
	return bars
}

func TestFromConfig(t *testing.T) {
	t.Parallel()

	tests := []struct {
		kind string
		want string
	}{
		{"momentum_breakout", "momentum_breakout"},
		{"mean_reversion", "mean_reversion"},
		{"sector_rotation", "sector_rotation"},
		{"smart_dca", "smart_dca"},
	}
	for _, tt := range tests {
		sc := ledger.StrategyConfig{
			Name:         "My " + tt.kind,
			CustomParams: map[string]any{"strategy_type": tt.kind},
		}
		strat, err := FromConfig(sc)
		if err != nil {
			t.Fatalf("FromConfig(%s): %v", tt.kind, err)
		}
		if strat.Name() != tt.want {
			t.Errorf("name = %q, want %q", strat.Name(), tt.want)
		}
	}

	// The row name resolves the type when no selector is set.
	if _, err := FromConfig(ledger.StrategyConfig{Name: "smart_dca"}); err != nil {
		t.Errorf("name fallback: %v", err)
	}

	if _, err := FromConfig(ledger.StrategyConfig{Name: "mystery"}); err == nil {
		t.Error("unknown strategy type must error")
	}
}

func TestMomentumBreakoutEntry(t *testing.T) {
	t.Parallel()

	s := NewMomentumBreakout(nil)
	bars := momentumEntryBars()

	sig := s.GenerateSignal("AAPL", bars)
	if sig.Action != types.ActionBuy {
		t.Fatalf("action = %s (%s), want buy", sig.Action, sig.Reason)
	}
	// The signal price is the last close.
	if !sig.Price.Equal(decimal.NewFromFloat(bars[len(bars)-1].Close)) {
		t.Errorf("price = %s, want last close %v", sig.Price, bars[len(bars)-1].Close)
	}
	if sig.Confidence <= 0 || sig.Confidence > 0.95 {
		t.Errorf("confidence = %v, want (0, 0.95]", sig.Confidence)
	}
	if sig.StrategyName != "momentum_breakout" {
		t.Errorf("strategy name = %q", sig.StrategyName)
	}
}

func TestMomentumBreakoutNoVolumeSurge(t *testing.T) {
	t.Parallel()

	s := NewMomentumBreakout(nil)
	bars := momentumEntryBars()
	bars[len(bars)-1].Volume = 1000 // no surge

	if sig := s.GenerateSignal("AAPL", bars); sig.Action != types.ActionHold {
		t.Errorf("action = %s, want hold without volume surge", sig.Action)
	}
}

func TestMomentumBreakoutInsufficientData(t *testing.T) {
	t.Parallel()

	s := NewMomentumBreakout(nil)
	if sig := s.GenerateSignal("AAPL", barsFromCloses([]float64{100, 101})); sig.Action != types.ActionHold {
		t.Errorf("action = %s, want hold on short history", sig.Action)
	}
}

func TestStandardExitLadder(t *testing.T) {
	t.Parallel()

	s := NewMomentumBreakout(nil) // stop 3%, TP 6%
	bars := momentumEntryBars()

	tests := []struct {
		name       string
		entry      string
		current    string
		wantAction types.Action
		wantSubstr string
	}{
		{"stop loss", "100", "96.9", types.ActionSell, "Stop loss"},
		{"take profit", "100", "106.1", types.ActionSell, "Take profit"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			sig := s.CheckExit("AAPL", dec(tt.entry), dec(tt.current), bars)
			if sig.Action != tt.wantAction {
				t.Fatalf("action = %s (%s), want %s", sig.Action, sig.Reason, tt.wantAction)
			}
		})
	}
}

func TestMomentumExitOnEMACrossUnder(t *testing.T) {
	t.Parallel()

	s := NewMomentumBreakout(nil)
	// Rising series then a sharp last-bar drop: close falls below EMA9
	// while entry P&L is still inside the stop/TP band.
	closes := make([]float64, 40)
	for i := range closes {
		closes[i] = 100 + 0.5*float64(i)
	}
	closes[39] = closes[38] - 2

	sig := s.CheckExit("AAPL", dec("117"), decimal.NewFromFloat(closes[39]), barsFromCloses(closes))
	if sig.Action != types.ActionSell {
		t.Fatalf("action = %s (%s), want sell on EMA cross-under", sig.Action, sig.Reason)
	}
}

func TestMomentumPositionSize(t *testing.T) {
	t.Parallel()

	s := NewMomentumBreakout(nil)
	// risk 2% of 100k = $2000; stop distance 3% of $100 = $3 -> 666 shares.
	got := s.CalculatePositionSize("AAPL", dec("100"), dec("100000"))
	if !got.Equal(dec("666")) {
		t.Errorf("size = %s, want 666", got)
	}

	// Tiny equity still buys at least one share.
	if got := s.CalculatePositionSize("AAPL", dec("100"), dec("10")); !got.Equal(dec("1")) {
		t.Errorf("floor size = %s, want 1", got)
	}
}

func TestMeanReversionEntry(t *testing.T) {
	t.Parallel()

	s := NewMeanReversion(nil)

	// Strong 200-bar uptrend then a 4-bar washout: still above SMA200 but
	// statistically oversold.
	closes := make([]float64, 200)
	for i := 0; i < 196; i++ {
		closes[i] = 100 + 0.5*float64(i)
	}
	closes[196], closes[197], closes[198], closes[199] = 190, 183, 176, 170

	sig := s.GenerateSignal("JNJ", barsFromCloses(closes))
	if sig.Action != types.ActionBuy {
		t.Fatalf("action = %s (%s), want buy", sig.Action, sig.Reason)
	}
	if !sig.Price.Equal(dec("170")) {
		t.Errorf("price = %s, want 170", sig.Price)
	}

	// The same washout below SMA200 (long-term downtrend) is not bought.
	for i := range closes {
		closes[i] = 300 - closes[i]/2
	}
	if sig := s.GenerateSignal("JNJ", barsFromCloses(closes)); sig.Action == types.ActionBuy {
		t.Error("bought a washout in a downtrend")
	}
}

func TestMeanReversionExitOnRecovery(t *testing.T) {
	t.Parallel()

	s := NewMeanReversion(nil)
	// Close back above SMA20 means the reversion played out.
	closes := make([]float64, 60)
	for i := range closes {
		closes[i] = 100
	}
	closes[59] = 103

	sig := s.CheckExit("JNJ", dec("101"), dec("103"), barsFromCloses(closes))
	if sig.Action != types.ActionSell {
		t.Fatalf("action = %s (%s), want sell on mean recovery", sig.Action, sig.Reason)
	}
}

func TestSectorRotationEntryAndSizing(t *testing.T) {
	t.Parallel()

	s := NewSectorRotation(nil)

	closes := make([]float64, 250)
	for i := range closes {
		closes[i] = 100 + 0.5*float64(i)
	}
	sig := s.GenerateSignal("XLK", barsFromCloses(closes))
	if sig.Action != types.ActionBuy {
		t.Fatalf("action = %s (%s), want buy in strong uptrend", sig.Action, sig.Reason)
	}

	// Equal split across 5 sectors: $20k at $50 -> 400 shares.
	if got := s.CalculatePositionSize("XLK", dec("50"), dec("100000")); !got.Equal(dec("400")) {
		t.Errorf("size = %s, want 400", got)
	}

	// Flat series has no momentum.
	flat := make([]float64, 250)
	for i := range flat {
		flat[i] = 100
	}
	if sig := s.GenerateSignal("XLK", barsFromCloses(flat)); sig.Action != types.ActionHold {
		t.Errorf("action = %s, want hold without momentum", sig.Action)
	}
}

func TestSmartDCA(t *testing.T) {
	t.Parallel()

	s := NewSmartDCA(nil)

	// Dip below SMA50 triggers a buy.
	closes := make([]float64, 60)
	for i := range closes {
		closes[i] = 100
	}
	closes[59] = 90
	sig := s.GenerateSignal("VOO", barsFromCloses(closes))
	if sig.Action != types.ActionBuy {
		t.Fatalf("action = %s (%s), want buy on dip", sig.Action, sig.Reason)
	}

	// Elevated price holds.
	for i := range closes {
		closes[i] = 100 + 0.5*float64(i)
	}
	if sig := s.GenerateSignal("VOO", barsFromCloses(closes)); sig.Action != types.ActionHold {
		t.Errorf("action = %s, want hold when elevated", sig.Action)
	}

	// Fixed $500 per dip: $90 share price -> 5 shares.
	if got := s.CalculatePositionSize("VOO", dec("90"), dec("100000")); !got.Equal(dec("5")) {
		t.Errorf("size = %s, want 5", got)
	}
	// One share unaffordable -> 0.
	if got := s.CalculatePositionSize("BRK.A", dec("700000"), dec("100000")); !got.IsZero() {
		t.Errorf("size = %s, want 0 when unaffordable", got)
	}

	// DCA never exits, even far through a normal stop.
	exit := s.CheckExit("VOO", dec("100"), dec("50"), barsFromCloses(closes))
	if exit.Action != types.ActionHold {
		t.Errorf("exit action = %s, want hold always", exit.Action)
	}
}
