// Package indicators computes technical indicators over bar series.
//
// Every function takes an ascending-time slice and returns a slice of the
// same length. Positions before the warmup window hold a neutral padding
// value (zero, or 50 for RSI) so callers can index results by bar position
// without offset bookkeeping.
package indicators

import "math"

// SMA returns the simple moving average of values over period.
func SMA(values []float64, period int) []float64 {
	out := make([]float64, len(values))
	if period <= 0 || len(values) < period {
		return out
	}
	sum := 0.0
	for i, v := range values {
		sum += v
		if i >= period {
			sum -= values[i-period]
		}
		if i >= period-1 {
			out[i] = sum / float64(period)
		}
	}
	return out
}

// EMA returns the exponential moving average of values over period,
// seeded with the first value.
func EMA(values []float64, period int) []float64 {
	out := make([]float64, len(values))
	if period <= 0 || len(values) == 0 {
		return out
	}
	k := 2.0 / float64(period+1)
	out[0] = values[0]
	for i := 1; i < len(values); i++ {
		out[i] = values[i]*k + out[i-1]*(1-k)
	}
	return out
}

// RSI returns the relative strength index over period using Wilder
// smoothing. Warmup positions hold the neutral value 50.
func RSI(values []float64, period int) []float64 {
	out := make([]float64, len(values))
	for i := range out {
		out[i] = 50
	}
	if period <= 0 || len(values) <= period {
		return out
	}

	avgGain, avgLoss := 0.0, 0.0
	for i := 1; i <= period; i++ {
		diff := values[i] - values[i-1]
		if diff > 0 {
			avgGain += diff
		} else {
			avgLoss -= diff
		}
	}
	avgGain /= float64(period)
	avgLoss /= float64(period)
	out[period] = rsiValue(avgGain, avgLoss)

	for i := period + 1; i < len(values); i++ {
		diff := values[i] - values[i-1]
		gain, loss := 0.0, 0.0
		if diff > 0 {
			gain = diff
		} else {
			loss = -diff
		}
		avgGain = (avgGain*float64(period-1) + gain) / float64(period)
		avgLoss = (avgLoss*float64(period-1) + loss) / float64(period)
		out[i] = rsiValue(avgGain, avgLoss)
	}
	return out
}

func rsiValue(avgGain, avgLoss float64) float64 {
	if avgLoss == 0 {
		if avgGain == 0 {
			return 50
		}
		return 100
	}
	rs := avgGain / avgLoss
	return 100 - 100/(1+rs)
}

// BollingerBands returns the middle (SMA), upper, and lower bands using
// stdDev standard deviations over period.
func BollingerBands(values []float64, period int, stdDev float64) (middle, upper, lower []float64) {
	middle = SMA(values, period)
	upper = make([]float64, len(values))
	lower = make([]float64, len(values))
	if period <= 0 || len(values) < period {
		return middle, upper, lower
	}
	for i := period - 1; i < len(values); i++ {
		variance := 0.0
		for j := i - period + 1; j <= i; j++ {
			d := values[j] - middle[i]
			variance += d * d
		}
		sd := math.Sqrt(variance / float64(period))
		upper[i] = middle[i] + stdDev*sd
		lower[i] = middle[i] - stdDev*sd
	}
	return middle, upper, lower
}

// ZScore returns how many standard deviations each value sits from its
// rolling mean over period. Zero where the window has no variance.
func ZScore(values []float64, period int) []float64 {
	out := make([]float64, len(values))
	mean := SMA(values, period)
	if period <= 0 || len(values) < period {
		return out
	}
	for i := period - 1; i < len(values); i++ {
		variance := 0.0
		for j := i - period + 1; j <= i; j++ {
			d := values[j] - mean[i]
			variance += d * d
		}
		sd := math.Sqrt(variance / float64(period))
		if sd > 0 {
			out[i] = (values[i] - mean[i]) / sd
		}
	}
	return out
}

// ATR returns the average true range over period using Wilder smoothing.
func ATR(high, low, closes []float64, period int) []float64 {
	n := len(closes)
	out := make([]float64, n)
	if period <= 0 || n == 0 || len(high) != n || len(low) != n {
		return out
	}
	tr := make([]float64, n)
	tr[0] = high[0] - low[0]
	for i := 1; i < n; i++ {
		hl := high[i] - low[i]
		hc := math.Abs(high[i] - closes[i-1])
		lc := math.Abs(low[i] - closes[i-1])
		tr[i] = math.Max(hl, math.Max(hc, lc))
	}
	if n < period {
		return out
	}
	sum := 0.0
	for i := 0; i < period; i++ {
		sum += tr[i]
	}
	out[period-1] = sum / float64(period)
	for i := period; i < n; i++ {
		out[i] = (out[i-1]*float64(period-1) + tr[i]) / float64(period)
	}
	return out
}

// MACD returns the MACD line (fast EMA minus slow EMA), its signal EMA,
// and the histogram.
func MACD(values []float64, fast, slow, signal int) (macd, signalLine, histogram []float64) {
	fastEMA := EMA(values, fast)
	slowEMA := EMA(values, slow)
	macd = make([]float64, len(values))
	for i := range values {
		macd[i] = fastEMA[i] - slowEMA[i]
	}
	signalLine = EMA(macd, signal)
	histogram = make([]float64, len(values))
	for i := range values {
		histogram[i] = macd[i] - signalLine[i]
	}
	return macd, signalLine, histogram
}

// VWAP returns the cumulative volume-weighted average price over the
// whole series, using the typical price (H+L+C)/3.
func VWAP(high, low, closes, volume []float64) []float64 {
	n := len(closes)
	out := make([]float64, n)
	cumPV, cumV := 0.0, 0.0
	for i := 0; i < n; i++ {
		typical := (high[i] + low[i] + closes[i]) / 3
		cumPV += typical * volume[i]
		cumV += volume[i]
		if cumV > 0 {
			out[i] = cumPV / cumV
		}
	}
	return out
}

// ROC returns the rate of change over period as a percentage.
func ROC(values []float64, period int) []float64 {
	out := make([]float64, len(values))
	if period <= 0 {
		return out
	}
	for i := period; i < len(values); i++ {
		if values[i-period] != 0 {
			out[i] = (values[i] - values[i-period]) / values[i-period] * 100
		}
	}
	return out
}

// AnnualizedVolatility returns the annualized standard deviation of daily
// log returns over the trailing period, as a fraction (0.25 = 25%).
func AnnualizedVolatility(closes []float64, period int) float64 {
	if len(closes) < period+1 || period < 2 {
		return 0
	}
	rets := make([]float64, 0, period)
	for i := len(closes) - period; i < len(closes); i++ {
		if closes[i-1] > 0 && closes[i] > 0 {
			rets = append(rets, math.Log(closes[i]/closes[i-1]))
		}
	}
	if len(rets) < 2 {
		return 0
	}
	mean := 0.0
	for _, r := range rets {
		mean += r
	}
	mean /= float64(len(rets))
	variance := 0.0
	for _, r := range rets {
		d := r - mean
		variance += d * d
	}
	variance /= float64(len(rets) - 1)
	return math.Sqrt(variance) * math.Sqrt(252)
}

// Highest returns the maximum of the last period values, or 0 when the
// series is shorter than period.
func Highest(values []float64, period int) float64 {
	if len(values) < period || period <= 0 {
		return 0
	}
	max := values[len(values)-period]
	for _, v := range values[len(values)-period:] {
		if v > max {
			max = v
		}
	}
	return max
}

// Lowest returns the minimum of the last period values, or 0 when the
// series is shorter than period.
func Lowest(values []float64, period int) float64 {
	if len(values) < period || period <= 0 {
		return 0
	}
	min := values[len(values)-period]
	for _, v := range values[len(values)-period:] {
		if v < min {
			min = v
		}
	}
	return min
}
