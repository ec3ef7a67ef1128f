package indicators

import (
	"math"
	"math/rand"
	"testing"
)

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestSMA(t *testing.T) {
	t.Parallel()

	values := []float64{1, 2, 3, 4, 5}
	got := SMA(values, 3)

	want := []float64{0, 0, 2, 3, 4}
	for i := range want {
		if !almostEqual(got[i], want[i]) {
			t.Errorf("SMA[%d] = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestSMAShortSeries(t *testing.T) {
	t.Parallel()

	got := SMA([]float64{1, 2}, 5)
	for i, v := range got {
		if v != 0 {
			t.Errorf("SMA[%d] = %v, want 0 for short series", i, v)
		}
	}
}

func TestEMASeededWithFirstValue(t *testing.T) {
	t.Parallel()

	values := []float64{10, 12, 14}
	got := EMA(values, 3)
	if got[0] != 10 {
		t.Errorf("EMA[0] = %v, want 10", got[0])
	}
	// k = 0.5: 12*0.5 + 10*0.5 = 11
	if !almostEqual(got[1], 11) {
		t.Errorf("EMA[1] = %v, want 11", got[1])
	}
}

func TestRSIBounds(t *testing.T) {
	t.Parallel()

	r := rand.New(rand.NewSource(7))
	values := make([]float64, 200)
	values[0] = 100
	for i := 1; i < len(values); i++ {
		values[i] = values[i-1] * (1 + (r.Float64()-0.5)*0.04)
	}

	got := RSI(values, 14)
	for i, v := range got {
		if v < 0 || v > 100 {
			t.Fatalf("RSI[%d] = %v outside [0,100]", i, v)
		}
	}
	// Warmup positions are neutral.
	for i := 0; i < 14; i++ {
		if got[i] != 50 {
			t.Errorf("RSI[%d] = %v, want neutral 50 during warmup", i, got[i])
		}
	}
}

func TestRSIExtremes(t *testing.T) {
	t.Parallel()

	up := make([]float64, 30)
	for i := range up {
		up[i] = float64(100 + i)
	}
	got := RSI(up, 14)
	if got[len(got)-1] != 100 {
		t.Errorf("monotonic rise RSI = %v, want 100", got[len(got)-1])
	}

	down := make([]float64, 30)
	for i := range down {
		down[i] = float64(100 - i)
	}
	got = RSI(down, 14)
	if got[len(got)-1] != 0 {
		t.Errorf("monotonic fall RSI = %v, want 0", got[len(got)-1])
	}
}

func TestBollingerBandsOrdering(t *testing.T) {
	t.Parallel()

	r := rand.New(rand.NewSource(11))
	values := make([]float64, 100)
	values[0] = 50
	for i := 1; i < len(values); i++ {
		values[i] = values[i-1] + (r.Float64()-0.5)*2
	}

	middle, upper, lower := BollingerBands(values, 20, 2)
	for i := 19; i < len(values); i++ {
		if !(lower[i] <= middle[i] && middle[i] <= upper[i]) {
			t.Fatalf("band ordering violated at %d: %v %v %v", i, lower[i], middle[i], upper[i])
		}
	}
}

func TestZScoreFlatSeries(t *testing.T) {
	t.Parallel()

	values := []float64{5, 5, 5, 5, 5, 5}
	got := ZScore(values, 3)
	for i, v := range got {
		if v != 0 {
			t.Errorf("ZScore[%d] = %v, want 0 for flat series", i, v)
		}
	}
}

func TestATRNonNegative(t *testing.T) {
	t.Parallel()

	r := rand.New(rand.NewSource(3))
	n := 100
	high := make([]float64, n)
	low := make([]float64, n)
	closes := make([]float64, n)
	price := 100.0
	for i := 0; i < n; i++ {
		price *= 1 + (r.Float64()-0.5)*0.03
		high[i] = price * 1.01
		low[i] = price * 0.99
		closes[i] = price
	}

	got := ATR(high, low, closes, 14)
	for i, v := range got {
		if v < 0 {
			t.Fatalf("ATR[%d] = %v, want >= 0", i, v)
		}
	}
	if got[n-1] == 0 {
		t.Error("ATR should be positive after warmup")
	}
}

func TestMACDHistogramIdentity(t *testing.T) {
	t.Parallel()

	values := make([]float64, 60)
	for i := range values {
		values[i] = 100 + math.Sin(float64(i)/5)*10
	}
	macd, signal, hist := MACD(values, 12, 26, 9)
	for i := range values {
		if !almostEqual(hist[i], macd[i]-signal[i]) {
			t.Fatalf("histogram[%d] != macd - signal", i)
		}
	}
}

func TestVWAPConstantPrice(t *testing.T) {
	t.Parallel()

	n := 10
	high := make([]float64, n)
	low := make([]float64, n)
	closes := make([]float64, n)
	volume := make([]float64, n)
	for i := 0; i < n; i++ {
		high[i], low[i], closes[i] = 50, 50, 50
		volume[i] = float64(100 * (i + 1))
	}
	got := VWAP(high, low, closes, volume)
	for i, v := range got {
		if !almostEqual(v, 50) {
			t.Errorf("VWAP[%d] = %v, want 50", i, v)
		}
	}
}

func TestROC(t *testing.T) {
	t.Parallel()

	values := []float64{100, 110, 121}
	got := ROC(values, 1)
	if !almostEqual(got[1], 10) {
		t.Errorf("ROC[1] = %v, want 10", got[1])
	}
	if !almostEqual(got[2], 10) {
		t.Errorf("ROC[2] = %v, want 10", got[2])
	}
}

func TestAnnualizedVolatility(t *testing.T) {
	t.Parallel()

	flat := make([]float64, 50)
	for i := range flat {
		flat[i] = 100
	}
	if v := AnnualizedVolatility(flat, 20); v != 0 {
		t.Errorf("flat series vol = %v, want 0", v)
	}

	r := rand.New(rand.NewSource(5))
	noisy := make([]float64, 50)
	noisy[0] = 100
	for i := 1; i < len(noisy); i++ {
		noisy[i] = noisy[i-1] * (1 + (r.Float64()-0.5)*0.06)
	}
	if v := AnnualizedVolatility(noisy, 20); v <= 0 {
		t.Errorf("noisy series vol = %v, want > 0", v)
	}
}

func TestHighestLowest(t *testing.T) {
	t.Parallel()

	values := []float64{3, 9, 1, 7, 5}
	if got := Highest(values, 3); got != 7 {
		t.Errorf("Highest = %v, want 7", got)
	}
	if got := Lowest(values, 3); got != 1 {
		t.Errorf("Lowest = %v, want 1", got)
	}
	if got := Highest(values, 10); got != 0 {
		t.Errorf("Highest short series = %v, want 0", got)
	}
}
