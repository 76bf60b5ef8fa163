// Package config defines all configuration for the scalping engine.
// Config is loaded from a YAML file (default: configs/config.yaml) with
// sensitive fields overridable via SCALP_* environment variables.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// Config is the top-level configuration. Maps directly to the YAML file structure.
type Config struct {
	DryRun      bool              `mapstructure:"dry_run"`
	Exchange    ExchangeConfig    `mapstructure:"exchange"`
	Instruments InstrumentsConfig `mapstructure:"instruments"`
	VolumeBar   VolumeBarConfig   `mapstructure:"volume_bar"`
	Indicators  IndicatorsConfig  `mapstructure:"indicators"`
	Entry       EntryConfig       `mapstructure:"entry"`
	Risk        RiskConfig        `mapstructure:"risk"`
	Circuit     CircuitConfig     `mapstructure:"circuit"`
	RateLimit   RateLimitConfig   `mapstructure:"rate_limit"`
	Dispatcher  DispatcherConfig  `mapstructure:"dispatcher"`
	Logging     LoggingConfig     `mapstructure:"logging"`
}

// ExchangeConfig holds venue endpoints and authentication.
type ExchangeConfig struct {
	RestBaseURL  string `mapstructure:"rest_base_url"`
	WSBaseURL    string `mapstructure:"ws_base_url"`
	UseTestnet   bool   `mapstructure:"use_testnet"`
	TestnetRest  string `mapstructure:"testnet_rest_url"`
	TestnetWS    string `mapstructure:"testnet_ws_url"`
	APIKey       string `mapstructure:"api_key"`
	APISecret    string `mapstructure:"api_secret"`
}

// RestBase returns the REST base URL honoring the testnet flag, matching the
// Python original's rest_base/ws_base properties.
func (e ExchangeConfig) RestBase() string {
	if e.UseTestnet && e.TestnetRest != "" {
		return e.TestnetRest
	}
	return e.RestBaseURL
}

// WSBase returns the WebSocket base URL honoring the testnet flag.
func (e ExchangeConfig) WSBase() string {
	if e.UseTestnet && e.TestnetWS != "" {
		return e.TestnetWS
	}
	return e.WSBaseURL
}

// InstrumentsConfig names the trading pairs streamed and traded, plus
// per-instrument sizing precision and leverage.
type InstrumentsConfig struct {
	TradingPairs []string `mapstructure:"trading_pairs"`
	Leverage     int      `mapstructure:"leverage"`
	// SizePrecision maps symbol -> number of decimals to round order quantity to.
	SizePrecision map[string]int `mapstructure:"size_precision"`
	// MinOrderQty maps symbol -> minimum tradeable quantity.
	MinOrderQty map[string]float64 `mapstructure:"min_order_qty"`
}

// VolumeBarConfig tunes the notional-bucketed bar aggregator.
type VolumeBarConfig struct {
	ThresholdUSD float64 `mapstructure:"threshold_usd"`
}

// IndicatorsConfig sets the lookback periods for every indicator kernel.
type IndicatorsConfig struct {
	EMAFast           int     `mapstructure:"ema_fast"`
	EMAMedium         int     `mapstructure:"ema_medium"`
	EMATrend          int     `mapstructure:"ema_trend"`
	RSIPeriod         int     `mapstructure:"rsi_period"`
	ATRPeriod         int     `mapstructure:"atr_period"`
	BBPeriod          int     `mapstructure:"bb_period"`
	BBStd             float64 `mapstructure:"bb_std"`
	BBSqueezeLookback int     `mapstructure:"bb_squeeze_lookback"`
	VWAPPeriod        int     `mapstructure:"vwap_period"`
	RVOLPeriod        int     `mapstructure:"rvol_period"`
}

// EntryConfig tunes the multi-layer entry filter in the Signal Engine.
type EntryConfig struct {
	RSILongMin      float64 `mapstructure:"rsi_long_min"`
	RSILongMax      float64 `mapstructure:"rsi_long_max"`
	RSIShortMin     float64 `mapstructure:"rsi_short_min"`
	RSIShortMax     float64 `mapstructure:"rsi_short_max"`
	RVOLThreshold   float64 `mapstructure:"rvol_threshold"`
	MinEMASpreadPct float64 `mapstructure:"min_ema_spread_pct"`
	MinATRPct       float64 `mapstructure:"min_atr_pct"`
	Mode            string  `mapstructure:"entry_mode"` // breakout | mean_rev | hybrid
}

// RiskConfig controls position sizing.
type RiskConfig struct {
	SizingModel           string  `mapstructure:"sizing_model"` // "atr" (default) | "kelly"
	RiskPerTradePct       float64 `mapstructure:"risk_per_trade_pct"`
	ATRStopMultiplier     float64 `mapstructure:"atr_sl_multiplier"`
	ATRTakeProfitMult     float64 `mapstructure:"atr_tp_multiplier"`
	TrailingActivateATR   float64 `mapstructure:"trailing_activate_atr"`
	TrailingDistanceATR   float64 `mapstructure:"trailing_distance_atr"`
	MaxPositionPct        float64 `mapstructure:"max_position_pct"`
	KellyFraction         float64 `mapstructure:"kelly_fraction"`
	KellyMaxRiskPct       float64 `mapstructure:"kelly_max_risk_pct"`
}

// CircuitConfig sets the global circuit-breaker thresholds.
type CircuitConfig struct {
	MaxDailyLossPct       float64 `mapstructure:"max_daily_loss_pct"`
	MaxDrawdownPct        float64 `mapstructure:"max_drawdown_pct"`
	MaxConsecutiveLosses  int     `mapstructure:"max_consecutive_losses"`
	MaxDailyTrades        int     `mapstructure:"max_daily_trades"`
	MaxLatencyMs          float64 `mapstructure:"max_latency_ms"`
	CooldownBars          int     `mapstructure:"cooldown_bars"`
	PauseBarsAfterStreak  int     `mapstructure:"pause_bars_after_streak"`
}

// RateLimitConfig sizes the sliding-window API weight budget.
type RateLimitConfig struct {
	MaxWeight    int `mapstructure:"api_weight_limit"`
	WindowSec    int `mapstructure:"api_weight_window_sec"`
}

// DispatcherConfig sizes the single event queue and dispatcher behavior.
type DispatcherConfig struct {
	QueueCapacity int `mapstructure:"queue_capacity"`
}

// LoggingConfig controls the structured logger.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // "json" | "text"
}

// Load reads config from a YAML file with env var overrides.
// Sensitive fields use env vars: SCALP_API_KEY, SCALP_API_SECRET.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("SCALP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if key := os.Getenv("SCALP_API_KEY"); key != "" {
		cfg.Exchange.APIKey = key
	}
	if secret := os.Getenv("SCALP_API_SECRET"); secret != "" {
		cfg.Exchange.APISecret = secret
	}
	if os.Getenv("SCALP_DRY_RUN") == "true" || os.Getenv("SCALP_DRY_RUN") == "1" {
		cfg.DryRun = true
	}

	cfg.applyDefaults()

	return &cfg, nil
}

// applyDefaults fills zero-valued fields with the defaults the original
// engine shipped with, so a minimal YAML file still produces a runnable config.
func (c *Config) applyDefaults() {
	if len(c.Instruments.TradingPairs) == 0 {
		c.Instruments.TradingPairs = []string{"BTCUSDT"}
	}
	if c.Instruments.Leverage == 0 {
		c.Instruments.Leverage = 10
	}
	if c.VolumeBar.ThresholdUSD == 0 {
		c.VolumeBar.ThresholdUSD = 50_000.0
	}
	ind := &c.Indicators
	if ind.EMAFast == 0 {
		ind.EMAFast = 9
	}
	if ind.EMAMedium == 0 {
		ind.EMAMedium = 21
	}
	if ind.EMATrend == 0 {
		ind.EMATrend = 50
	}
	if ind.RSIPeriod == 0 {
		ind.RSIPeriod = 14
	}
	if ind.ATRPeriod == 0 {
		ind.ATRPeriod = 14
	}
	if ind.BBPeriod == 0 {
		ind.BBPeriod = 20
	}
	if ind.BBStd == 0 {
		ind.BBStd = 2.0
	}
	if ind.BBSqueezeLookback == 0 {
		ind.BBSqueezeLookback = 60
	}
	if ind.VWAPPeriod == 0 {
		ind.VWAPPeriod = 20
	}
	if ind.RVOLPeriod == 0 {
		ind.RVOLPeriod = 20
	}
	ef := &c.Entry
	if ef.RSILongMin == 0 {
		ef.RSILongMin = 45.0
	}
	if ef.RSILongMax == 0 {
		ef.RSILongMax = 68.0
	}
	if ef.RSIShortMin == 0 {
		ef.RSIShortMin = 32.0
	}
	if ef.RSIShortMax == 0 {
		ef.RSIShortMax = 55.0
	}
	if ef.RVOLThreshold == 0 {
		ef.RVOLThreshold = 1.3
	}
	if ef.MinEMASpreadPct == 0 {
		ef.MinEMASpreadPct = 0.0005
	}
	if ef.MinATRPct == 0 {
		ef.MinATRPct = 0.001
	}
	if ef.Mode == "" {
		ef.Mode = "hybrid"
	}
	r := &c.Risk
	if r.SizingModel == "" {
		r.SizingModel = "atr"
	}
	if r.RiskPerTradePct == 0 {
		r.RiskPerTradePct = 0.01
	}
	if r.ATRStopMultiplier == 0 {
		r.ATRStopMultiplier = 2.0
	}
	if r.ATRTakeProfitMult == 0 {
		r.ATRTakeProfitMult = 4.0
	}
	if r.TrailingActivateATR == 0 {
		r.TrailingActivateATR = 2.0
	}
	if r.TrailingDistanceATR == 0 {
		r.TrailingDistanceATR = 1.0
	}
	if r.MaxPositionPct == 0 {
		r.MaxPositionPct = 0.25
	}
	if r.KellyFraction == 0 {
		r.KellyFraction = 0.25
	}
	if r.KellyMaxRiskPct == 0 {
		r.KellyMaxRiskPct = 0.02
	}
	cb := &c.Circuit
	if cb.MaxDailyLossPct == 0 {
		cb.MaxDailyLossPct = 0.03
	}
	if cb.MaxDrawdownPct == 0 {
		cb.MaxDrawdownPct = 0.10
	}
	if cb.MaxConsecutiveLosses == 0 {
		cb.MaxConsecutiveLosses = 5
	}
	if cb.MaxDailyTrades == 0 {
		cb.MaxDailyTrades = 50
	}
	if cb.MaxLatencyMs == 0 {
		cb.MaxLatencyMs = 500.0
	}
	if cb.CooldownBars == 0 {
		cb.CooldownBars = 10
	}
	if cb.PauseBarsAfterStreak == 0 {
		cb.PauseBarsAfterStreak = 60
	}
	rl := &c.RateLimit
	if rl.MaxWeight == 0 {
		rl.MaxWeight = 2400
	}
	if rl.WindowSec == 0 {
		rl.WindowSec = 60
	}
	if c.Dispatcher.QueueCapacity == 0 {
		c.Dispatcher.QueueCapacity = 10_000
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
}

// Validate checks all required fields and value ranges.
func (c *Config) Validate() error {
	if c.Exchange.RestBaseURL == "" && c.Exchange.TestnetRest == "" {
		return fmt.Errorf("exchange.rest_base_url is required")
	}
	if c.Exchange.WSBaseURL == "" && c.Exchange.TestnetWS == "" {
		return fmt.Errorf("exchange.ws_base_url is required")
	}
	if !c.DryRun && c.Exchange.APIKey == "" {
		return fmt.Errorf("exchange.api_key is required (set SCALP_API_KEY) unless dry_run is true")
	}
	if len(c.Instruments.TradingPairs) == 0 {
		return fmt.Errorf("instruments.trading_pairs must not be empty")
	}
	if c.VolumeBar.ThresholdUSD <= 0 {
		return fmt.Errorf("volume_bar.threshold_usd must be > 0")
	}
	if c.Indicators.BBPeriod <= 0 || c.Indicators.BBSqueezeLookback <= 0 {
		return fmt.Errorf("indicators.bb_period and bb_squeeze_lookback must be > 0")
	}
	switch c.Entry.Mode {
	case "breakout", "mean_rev", "hybrid":
	default:
		return fmt.Errorf("entry.entry_mode must be one of: breakout, mean_rev, hybrid")
	}
	switch c.Risk.SizingModel {
	case "atr", "kelly":
	default:
		return fmt.Errorf("risk.sizing_model must be one of: atr, kelly")
	}
	if c.Dispatcher.QueueCapacity < 10_000 {
		return fmt.Errorf("dispatcher.queue_capacity must be >= 10000 (backpressure requirement)")
	}
	return nil
}

// WarmupBufferCapacity returns the circular-buffer capacity the Signal
// Engine needs for close/high/low/volume history, per the per-instrument
// engine state sizing rule: max(ema_trend, bb_period, atr_period) + bb_squeeze_lookback + 50.
func (c *Config) WarmupBufferCapacity() int {
	ind := c.Indicators
	maxPeriod := ind.EMATrend
	if ind.BBPeriod > maxPeriod {
		maxPeriod = ind.BBPeriod
	}
	if ind.ATRPeriod > maxPeriod {
		maxPeriod = ind.ATRPeriod
	}
	return maxPeriod + ind.BBSqueezeLookback + 50
}
