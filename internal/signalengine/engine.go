// Package signalengine turns completed volume bars into trade signals.
//
// Engine.OnVolumeBar runs an ordered filter pipeline — warmup gate,
// indicator computation, regime classification, minimum-volatility gate,
// liquidity-sweep probe, trend-bias gate, pattern detection, RSI
// confirmation, volume confirmation, confidence scoring — where the
// previous-bar snapshot used by crossover/mean-reversion detection is saved
// on every exit path past the warmup gate, matching the reference engine's
// save-before-every-return discipline.
package signalengine

import (
	"github.com/nvega-systems/perp-scalper/internal/config"
	"github.com/nvega-systems/perp-scalper/internal/indicators"
	"github.com/nvega-systems/perp-scalper/pkg/types"
)

// Engine holds one instrument's rolling indicator history and previous-bar
// state. It is single-owner: the dispatcher must route all bars for one
// instrument to the same Engine from one goroutine.
type Engine struct {
	cfg *config.Config

	closes  *ringBuffer
	highs   *ringBuffer
	lows    *ringBuffer
	volumes *ringBuffer
	atrHist *ringBuffer

	barCount int

	prevEMAFast   float64
	prevEMAMedium float64
	prevClose     float64
	prevBBUpper   float64
	prevBBLower   float64
	wasSqueezed   bool

	sweep *SweepDetector
	cvd   *CVDTracker

	latestOBI float64
	lastATR   float64
}

// New builds an Engine sized per cfg.WarmupBufferCapacity(), with the
// liquidity-sweep detector's lookback/reversal/spike parameters taken from
// the spec's defaults (20-bar lookback, 2x volume spike, 3-bar reversal
// confirmation).
func New(cfg *config.Config) *Engine {
	capacity := cfg.WarmupBufferCapacity()
	return &Engine{
		cfg:     cfg,
		closes:  newRingBuffer(capacity),
		highs:   newRingBuffer(capacity),
		lows:    newRingBuffer(capacity),
		volumes: newRingBuffer(capacity),
		atrHist: newRingBuffer(200),
		sweep:   NewSweepDetector(20, 2.0, 3),
		cvd:     NewCVDTracker(100),
	}
}

// UpdateOBI records the latest order-book imbalance, used as a confidence
// tiebreaker when a standard signal is generated.
func (e *Engine) UpdateOBI(bidQty, askQty float64) {
	e.latestOBI = indicators.OBI(bidQty, askQty)
}

// UpdateCVD folds one trade into the rolling CVD window.
func (e *Engine) UpdateCVD(qty float64, isBuyerMaker bool) float64 {
	return e.cvd.Update(qty, isBuyerMaker)
}

// LastATR returns the ATR computed on the most recently processed bar, for
// callers (the trailing-stop check) that need current volatility between
// signal-bearing bars.
func (e *Engine) LastATR() float64 {
	return e.lastATR
}

// OnVolumeBar processes one completed bar and returns a Signal, or false if
// no signal fires this bar.
func (e *Engine) OnVolumeBar(bar types.Bar) (types.Signal, bool) {
	cfg := e.cfg
	ind := cfg.Indicators

	e.closes.Push(bar.Close)
	e.highs.Push(bar.High)
	e.lows.Push(bar.Low)
	e.volumes.Push(bar.Volume)
	e.barCount++

	if e.barCount < ind.BBSqueezeLookback+ind.BBPeriod {
		return types.Signal{}, false
	}

	c := e.closes.Contiguous()
	h := e.highs.Contiguous()
	l := e.lows.Contiguous()
	v := e.volumes.Contiguous()

	emaFast := indicators.EMA(c, ind.EMAFast)
	emaMedium := indicators.EMA(c, ind.EMAMedium)
	emaTrend := indicators.EMA(c, ind.EMATrend)
	vwap := indicators.VWAP(c, v, ind.VWAPPeriod)
	rsi := indicators.RSI(c, ind.RSIPeriod)
	atr := indicators.ATR(h, l, c, ind.ATRPeriod)
	bbUpper, _, bbLower := indicators.Bollinger(c, ind.BBPeriod, ind.BBStd)
	isSqueeze := indicators.Squeeze(c, ind.BBPeriod, ind.BBStd, ind.BBSqueezeLookback)
	rvol := indicators.RVOL(v, ind.RVOLPeriod)

	e.atrHist.Push(atr)
	e.lastATR = atr

	regime := DetectRegime(e.atrHist.Contiguous(), bar.Close, emaFast, emaMedium, emaTrend)
	if regime == types.RegimeChoppy {
		e.savePrevState(emaFast, emaMedium, bar.Close, bbUpper, bbLower, isSqueeze)
		return types.Signal{}, false
	}

	close := bar.Close

	if close > 0 && (atr/close) < cfg.Entry.MinATRPct {
		e.savePrevState(emaFast, emaMedium, close, bbUpper, bbLower, isSqueeze)
		return types.Signal{}, false
	}

	avgVol := 0.0
	if len(v) >= 20 {
		avgVol = mean(v[len(v)-20:])
	}
	if sweepType := e.sweep.Detect(h, l, c, v, avgVol); sweepType != types.SignalNone {
		side := types.Buy
		reason := "liquidity_sweep_buy"
		if sweepType == types.SweepShort {
			side = types.Sell
			reason = "liquidity_sweep_sell"
		}
		sig := types.Signal{Type: sweepType, Regime: regime, Side: side, Confidence: 0.7, ATR: atr, EntryReason: reason}
		e.savePrevState(emaFast, emaMedium, close, bbUpper, bbLower, isSqueeze)
		return sig, true
	}

	biasLong := close > vwap && close > emaTrend && emaFast > emaMedium &&
		absF(emaFast-emaMedium)/close >= cfg.Entry.MinEMASpreadPct
	biasShort := close < vwap && close < emaTrend && emaFast < emaMedium &&
		absF(emaFast-emaMedium)/close >= cfg.Entry.MinEMASpreadPct

	if !biasLong && !biasShort {
		e.savePrevState(emaFast, emaMedium, close, bbUpper, bbLower, isSqueeze)
		return types.Signal{}, false
	}

	signalType := e.detectPattern(close, biasLong, biasShort, emaFast, emaMedium, bbUpper, bbLower, isSqueeze, cfg.Entry.Mode)
	if signalType == types.SignalNone {
		e.savePrevState(emaFast, emaMedium, close, bbUpper, bbLower, isSqueeze)
		return types.Signal{}, false
	}

	isLong := signalType == types.BreakoutLong || signalType == types.MeanRevLong
	if isLong {
		if rsi < cfg.Entry.RSILongMin || rsi > cfg.Entry.RSILongMax {
			e.savePrevState(emaFast, emaMedium, close, bbUpper, bbLower, isSqueeze)
			return types.Signal{}, false
		}
	} else {
		if rsi < cfg.Entry.RSIShortMin || rsi > cfg.Entry.RSIShortMax {
			e.savePrevState(emaFast, emaMedium, close, bbUpper, bbLower, isSqueeze)
			return types.Signal{}, false
		}
	}

	if rvol < cfg.Entry.RVOLThreshold {
		e.savePrevState(emaFast, emaMedium, close, bbUpper, bbLower, isSqueeze)
		return types.Signal{}, false
	}

	confidence := 0.6
	if e.latestOBI > 0.3 && isLong {
		confidence += 0.15
	} else if e.latestOBI < -0.3 && !isLong {
		confidence += 0.15
	}

	side := types.Sell
	reason := "mean_rev_short"
	if isLong {
		side = types.Buy
	}
	switch signalType {
	case types.BreakoutLong:
		reason = "breakout_long"
	case types.BreakoutShort:
		reason = "breakout_short"
	case types.MeanRevLong:
		reason = "mean_rev_long"
	}

	sig := types.Signal{Type: signalType, Regime: regime, Side: side, Confidence: confidence, ATR: atr, EntryReason: reason}
	e.savePrevState(emaFast, emaMedium, close, bbUpper, bbLower, isSqueeze)
	return sig, true
}

// detectPattern looks for an EMA crossover breakout (while coming out of a
// squeeze) or a Bollinger mean-reversion bounce, gated by the configured
// entry mode.
func (e *Engine) detectPattern(close float64, biasLong, biasShort bool, emaFast, emaMedium, bbUpper, bbLower float64, isSqueeze bool, mode string) types.SignalType {
	hadCrossUp := e.prevEMAFast > 0 && e.prevEMAFast <= e.prevEMAMedium && emaFast > emaMedium
	hadCrossDown := e.prevEMAFast > 0 && e.prevEMAFast >= e.prevEMAMedium && emaFast < emaMedium

	if mode == string(types.EntryBreakout) || mode == string(types.EntryHybrid) {
		if e.wasSqueezed {
			if biasLong && close > bbUpper && (hadCrossUp || emaFast > emaMedium) {
				return types.BreakoutLong
			}
			if biasShort && close < bbLower && (hadCrossDown || emaFast < emaMedium) {
				return types.BreakoutShort
			}
		}
	}

	if mode == string(types.EntryMeanRev) || mode == string(types.EntryHybrid) {
		if e.prevClose > 0 && e.prevBBLower > 0 {
			if biasLong && e.prevClose < e.prevBBLower && close > bbLower && hadCrossUp {
				return types.MeanRevLong
			}
			if biasShort && e.prevClose > e.prevBBUpper && close < bbUpper && hadCrossDown {
				return types.MeanRevShort
			}
		}
	}

	return types.SignalNone
}

func (e *Engine) savePrevState(emaFast, emaMedium, close, bbUpper, bbLower float64, squeezed bool) {
	e.prevEMAFast = emaFast
	e.prevEMAMedium = emaMedium
	e.prevClose = close
	e.prevBBUpper = bbUpper
	e.prevBBLower = bbLower
	e.wasSqueezed = squeezed
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var total float64
	for _, x := range xs {
		total += x
	}
	return total / float64(len(xs))
}

func absF(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}
