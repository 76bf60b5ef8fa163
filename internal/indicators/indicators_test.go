package indicators

import "testing"

func TestEMAInsufficientData(t *testing.T) {
	t.Parallel()
	prices := []float64{100, 101, 102}
	got := EMA(prices, 10)
	if got != 102 {
		t.Fatalf("EMA with insufficient data = %v, want last price 102", got)
	}
}

func TestEMAConverges(t *testing.T) {
	t.Parallel()
	prices := make([]float64, 200)
	for i := range prices {
		prices[i] = 100
	}
	got := EMA(prices, 9)
	if got < 99.999 || got > 100.001 {
		t.Fatalf("EMA of flat series = %v, want ~100", got)
	}
}

func TestRSISentinelOnWarmup(t *testing.T) {
	t.Parallel()
	got := RSI([]float64{1, 2, 3}, 14)
	if got != 50.0 {
		t.Fatalf("RSI warmup sentinel = %v, want 50", got)
	}
}

func TestRSIAllGains(t *testing.T) {
	t.Parallel()
	prices := make([]float64, 20)
	for i := range prices {
		prices[i] = float64(100 + i)
	}
	got := RSI(prices, 14)
	if got != 100.0 {
		t.Fatalf("RSI with zero losses = %v, want 100", got)
	}
}

func TestRSIBounded(t *testing.T) {
	t.Parallel()
	prices := []float64{100, 102, 99, 105, 98, 110, 95, 108, 97, 112, 96, 115, 94, 118, 93}
	got := RSI(prices, 14)
	if got < 0 || got > 100 {
		t.Fatalf("RSI out of bounds: %v", got)
	}
}

func TestATREmptyAndSingle(t *testing.T) {
	t.Parallel()
	if got := ATR(nil, nil, nil, 14); got != 0 {
		t.Fatalf("ATR on empty input = %v, want 0", got)
	}
	got := ATR([]float64{105}, []float64{95}, []float64{100}, 14)
	if got != 10 {
		t.Fatalf("ATR single bar = %v, want high-low=10", got)
	}
}

func TestATRWarmupUsesSimpleMean(t *testing.T) {
	t.Parallel()
	highs := []float64{105, 106, 107}
	lows := []float64{95, 96, 97}
	closes := []float64{100, 101, 102}
	got := ATR(highs, lows, closes, 14)
	if got <= 0 {
		t.Fatalf("ATR warmup branch = %v, want positive", got)
	}
}

func TestBollingerInsufficientData(t *testing.T) {
	t.Parallel()
	upper, mid, lower := Bollinger([]float64{100, 101}, 20, 2.0)
	if upper != 101 || mid != 101 || lower != 101 {
		t.Fatalf("Bollinger insufficient data = (%v,%v,%v), want all 101", upper, mid, lower)
	}
}

func TestBollingerOrdering(t *testing.T) {
	t.Parallel()
	closes := []float64{100, 102, 98, 103, 97, 104, 96, 105, 95, 106, 94, 107, 93, 108, 92, 109, 91, 110, 90, 111}
	upper, mid, lower := Bollinger(closes, 20, 2.0)
	if !(lower < mid && mid < upper) {
		t.Fatalf("Bollinger band ordering broken: lower=%v mid=%v upper=%v", lower, mid, upper)
	}
}

func TestSqueezeFlatSeriesNoCrash(t *testing.T) {
	t.Parallel()
	closes := make([]float64, 100)
	for i := range closes {
		closes[i] = 100
	}
	_ = Squeeze(closes, 20, 2.0, 60)
}

func TestSqueezeInsufficientHistory(t *testing.T) {
	t.Parallel()
	closes := []float64{100, 101, 102}
	if Squeeze(closes, 20, 2.0, 60) {
		t.Fatalf("Squeeze on insufficient history should be false")
	}
}

func TestVWAPFallsBackToLastClose(t *testing.T) {
	t.Parallel()
	closes := []float64{100, 101}
	volumes := []float64{10, 10}
	got := VWAP(closes, volumes, 20)
	if got != 101 {
		t.Fatalf("VWAP insufficient data = %v, want last close 101", got)
	}
}

func TestVWAPWeighted(t *testing.T) {
	t.Parallel()
	closes := []float64{100, 200}
	volumes := []float64{1, 1}
	got := VWAP(closes, volumes, 2)
	if got != 150 {
		t.Fatalf("VWAP = %v, want 150", got)
	}
}

func TestRVOLInsufficientHistory(t *testing.T) {
	t.Parallel()
	if got := RVOL([]float64{1, 2}, 20); got != 0 {
		t.Fatalf("RVOL insufficient history = %v, want 0", got)
	}
}

func TestRVOLAboveAverage(t *testing.T) {
	t.Parallel()
	volumes := []float64{10, 10, 10, 10, 10, 30}
	got := RVOL(volumes, 5)
	if got != 3 {
		t.Fatalf("RVOL = %v, want 3", got)
	}
}

func TestOBIBalanced(t *testing.T) {
	t.Parallel()
	if got := OBI(100, 100); got != 0 {
		t.Fatalf("OBI balanced book = %v, want 0", got)
	}
}

func TestOBIEmptyBook(t *testing.T) {
	t.Parallel()
	if got := OBI(0, 0); got != 0 {
		t.Fatalf("OBI empty book = %v, want 0", got)
	}
}

func TestOBISkewedLong(t *testing.T) {
	t.Parallel()
	got := OBI(300, 100)
	if got <= 0 {
		t.Fatalf("OBI skewed toward bid = %v, want positive", got)
	}
}

func TestTrailingStopLongActivatesAndRatchets(t *testing.T) {
	t.Parallel()
	active, stop := TrailingStop(true, 110, 90, 2.0, 100, 2.0, 1.0, 0)
	if !active {
		t.Fatalf("expected trailing stop to activate once unrealized >= activate threshold")
	}
	if stop != 108 {
		t.Fatalf("long trailing stop = %v, want 108 (highest 110 - 1*ATR 2)", stop)
	}

	// price pulls back; stop must never retreat below its previous value.
	active, stop2 := TrailingStop(true, 105, 90, 2.0, 100, 2.0, 1.0, stop)
	if !active || stop2 != 108 {
		t.Fatalf("long trailing stop ratcheted down: got %v, want to hold at 108", stop2)
	}
}

func TestTrailingStopShortActivatesAndRatchets(t *testing.T) {
	t.Parallel()
	active, stop := TrailingStop(false, 110, 90, 2.0, 100, 2.0, 1.0, 0)
	if !active {
		t.Fatalf("expected short trailing stop to activate")
	}
	if stop != 92 {
		t.Fatalf("short trailing stop = %v, want 92 (lowest 90 + 1*ATR 2)", stop)
	}
}

func TestTrailingStopNotYetActive(t *testing.T) {
	t.Parallel()
	active, stop := TrailingStop(true, 101, 99, 2.0, 100, 2.0, 1.0, 5)
	if active {
		t.Fatalf("trailing stop should not activate before unrealized gain reaches threshold")
	}
	if stop != 5 {
		t.Fatalf("inactive trailing stop must pass prevStop through unchanged, got %v", stop)
	}
}
