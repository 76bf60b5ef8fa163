package signalengine

import (
	"testing"

	"github.com/nvega-systems/perp-scalper/internal/config"
	"github.com/nvega-systems/perp-scalper/pkg/types"
)

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Indicators = config.IndicatorsConfig{
		EMAFast: 9, EMAMedium: 21, EMATrend: 50,
		RSIPeriod: 14, ATRPeriod: 14,
		BBPeriod: 20, BBStd: 2.0, BBSqueezeLookback: 60,
		VWAPPeriod: 20, RVOLPeriod: 20,
	}
	cfg.Entry = config.EntryConfig{
		RSILongMin: 45.0, RSILongMax: 68.0,
		RSIShortMin: 32.0, RSIShortMax: 55.0,
		RVOLThreshold: 1.3, MinEMASpreadPct: 0.0005, MinATRPct: 0.001,
		Mode: "hybrid",
	}
	return cfg
}

func TestOnVolumeBarReturnsNothingDuringWarmup(t *testing.T) {
	t.Parallel()
	eng := New(testConfig())
	bar := types.Bar{Open: 100, High: 101, Low: 99, Close: 100, Volume: 10}
	_, fired := eng.OnVolumeBar(bar)
	if fired {
		t.Fatalf("expected no signal during warmup")
	}
}

func TestOnVolumeBarNoCrashOnLongRun(t *testing.T) {
	t.Parallel()
	eng := New(testConfig())
	price := 100.0
	for i := 0; i < 500; i++ {
		// deterministic oscillation, no randomness allowed in this harness
		price += float64((i%7)-3) * 0.5
		bar := types.Bar{
			Open: price, High: price + 1, Low: price - 1, Close: price,
			Volume: 10 + float64(i%5), BuyVolume: 6, SellVolume: 4,
		}
		eng.OnVolumeBar(bar)
	}
}

func TestUpdateOBIAndCVD(t *testing.T) {
	t.Parallel()
	eng := New(testConfig())
	eng.UpdateOBI(300, 100)
	if eng.latestOBI <= 0 {
		t.Fatalf("expected positive OBI after bid-heavy book update")
	}
	cum := eng.UpdateCVD(10, false)
	if cum != 10 {
		t.Fatalf("CVD after single buy = %v, want 10", cum)
	}
	cum = eng.UpdateCVD(4, true)
	if cum != 6 {
		t.Fatalf("CVD after buy 10 sell 4 = %v, want 6", cum)
	}
}

func TestDetectRegimeDefaultsTrendingOnShortHistory(t *testing.T) {
	t.Parallel()
	regime := DetectRegime([]float64{1, 2, 3}, 100, 10, 10, 10)
	if regime != types.RegimeTrending {
		t.Fatalf("regime with short ATR history = %v, want TRENDING", regime)
	}
}

func TestDetectRegimeChoppyOnConvergedEMAsAndLowATR(t *testing.T) {
	t.Parallel()
	hist := make([]float64, 100)
	for i := range hist {
		hist[i] = 10.0
	}
	hist[len(hist)-1] = 1.0 // current ATR far below the rest of the distribution
	regime := DetectRegime(hist, 10000, 100.0, 100.001, 100.002)
	if regime != types.RegimeChoppy {
		t.Fatalf("regime = %v, want CHOPPY", regime)
	}
}

func TestDetectRegimeVolatileOnHighATRPercentile(t *testing.T) {
	t.Parallel()
	hist := make([]float64, 100)
	for i := range hist {
		hist[i] = 1.0
	}
	hist[len(hist)-1] = 100.0
	regime := DetectRegime(hist, 100, 10, 50, 90)
	if regime != types.RegimeVolatile {
		t.Fatalf("regime = %v, want VOLATILE", regime)
	}
}

func TestSweepDetectorNoneOnInsufficientHistory(t *testing.T) {
	t.Parallel()
	d := NewSweepDetector(20, 2.0, 3)
	got := d.Detect([]float64{1, 2}, []float64{1, 2}, []float64{1, 2}, []float64{1, 2}, 1)
	if got != types.SignalNone {
		t.Fatalf("expected SignalNone on insufficient history, got %v", got)
	}
}

func TestSweepDetectorShortSweep(t *testing.T) {
	t.Parallel()
	d := NewSweepDetector(5, 1.5, 1)
	n := 6
	highs := make([]float64, n)
	lows := make([]float64, n)
	closes := make([]float64, n)
	volumes := make([]float64, n)
	for i := 0; i < n-1; i++ {
		highs[i] = 105
		lows[i] = 95
		closes[i] = 100
		volumes[i] = 10
	}
	// final bar wicks above the swing high then closes back under it, on a volume spike.
	highs[n-1] = 110
	lows[n-1] = 99
	closes[n-1] = 103
	volumes[n-1] = 50

	got := d.Detect(highs, lows, closes, volumes, 10)
	if got != types.SweepShort {
		t.Fatalf("expected SWEEP_SHORT, got %v", got)
	}
}
