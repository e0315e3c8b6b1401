package domain

import (
	"errors"
	"fmt"
	"time"
)

// DirectionMode selects how a cluster signal maps to a trade side.
type DirectionMode string

const (
	DirectionInverse  DirectionMode = "inverse"
	DirectionMomentum DirectionMode = "momentum"
	DirectionHybrid   DirectionMode = "hybrid"
)

// RSISmoothing selects the RSI averaging method.
type RSISmoothing string

const (
	RSIWilder RSISmoothing = "wilder"
	RSISimple RSISmoothing = "simple"
)

// VWAPPrice selects the per-bar price fed into the VWAP accumulator.
type VWAPPrice string

const (
	VWAPTypical VWAPPrice = "typical"
	VWAPClose   VWAPPrice = "close"
)

// RiskMode selects the lot-sizing method.
type RiskMode string

const (
	RiskDynamicPct RiskMode = "dynamic_pct"
	RiskStaticPct  RiskMode = "static_pct"
	RiskFixedLots  RiskMode = "fixed_lots"
)

// EngineConfig is one engine's full parameter set, loaded from
// strategies.yaml and treated as immutable for the process lifetime.
type EngineConfig struct {
	Name    string `yaml:"name"`
	ID      int    `yaml:"id"`
	Enabled bool   `yaml:"enabled"`

	// Cluster detection.
	TSeconds      int  `yaml:"t_seconds"`
	KUnique       int  `yaml:"k_unique"`
	RefractorySec int  `yaml:"refractory"`
	EvictOnSignal bool `yaml:"evict_on_signal"`

	// Direction decision.
	DirectionMode     DirectionMode `yaml:"direction_mode"`
	RSIPeriod         int           `yaml:"rsi_period"`
	RSISmoothing      RSISmoothing  `yaml:"rsi_smoothing"`
	RSIOverbought     float64       `yaml:"rsi_overbought"`
	RSIOversold       float64       `yaml:"rsi_oversold"`
	VWAPBandPct       float64       `yaml:"vwap_band_pct"`
	VWAPPrice         VWAPPrice     `yaml:"vwap_price"`
	HybridAnySignal   bool          `yaml:"hybrid_any_signal"` // either momentum condition alone confirms

	// Order lifecycle.
	LimitOffset    float64 `yaml:"limit_offset"`
	PendingTTLSec  int     `yaml:"pending_ttl"`
	CooldownSec    int     `yaml:"cooldown"`
	ExpiryCooldown int     `yaml:"expiry_cooldown"`
	MaxPositions   int     `yaml:"max_positions"`

	// Stops and exits.
	ATRPeriod     int     `yaml:"atr_period"`
	ATREntryMult  float64 `yaml:"atr_entry_mult"`
	ATRTrailMult  float64 `yaml:"atr_trail_mult"`
	TrailLookback int     `yaml:"trail_lookback"`
	TrailStartR   float64 `yaml:"trail_start_r"`
	BreakevenR    float64 `yaml:"breakeven_r"`
	TPr           float64 `yaml:"tp_r"`
	UseTP         bool    `yaml:"use_tp"`
	HoldMinutes   int     `yaml:"hold_minutes"`
	UseTimeExit   bool    `yaml:"use_time_exit"`
	SLDistance    float64 `yaml:"sl_distance"` // fixed fallback when ATR is unavailable

	// Sizing. RiskPercent is in percent of the base balance (1.0 = 1%),
	// not a fraction.
	RiskMode          RiskMode `yaml:"risk_mode"`
	RiskPercent       float64  `yaml:"risk_percent"`
	FixedLots         float64  `yaml:"fixed_lots"`
	StaticBaseBalance float64  `yaml:"static_base_balance"`
}

// Window returns the cluster window as a duration.
func (c *EngineConfig) Window() time.Duration { return time.Duration(c.TSeconds) * time.Second }

// Refractory returns the same-side signal suppression interval.
func (c *EngineConfig) Refractory() time.Duration {
	return time.Duration(c.RefractorySec) * time.Second
}

// PendingTTL returns the pending-order time-to-live.
func (c *EngineConfig) PendingTTL() time.Duration {
	return time.Duration(c.PendingTTLSec) * time.Second
}

// Cooldown returns the post-fill cooldown.
func (c *EngineConfig) Cooldown() time.Duration { return time.Duration(c.CooldownSec) * time.Second }

// CooldownAfterExpiry returns the shorter cooldown applied after a pending
// order expires unfilled. Falls back to Cooldown when unset.
func (c *EngineConfig) CooldownAfterExpiry() time.Duration {
	if c.ExpiryCooldown > 0 {
		return time.Duration(c.ExpiryCooldown) * time.Second
	}
	return c.Cooldown()
}

// MaxHold returns the time-exit age, or 0 when time exits are disabled.
func (c *EngineConfig) MaxHold() time.Duration {
	if !c.UseTimeExit || c.HoldMinutes <= 0 {
		return 0
	}
	return time.Duration(c.HoldMinutes) * time.Minute
}

// Validate checks the fields without defaults. Fields with sane zero values
// are left alone.
func (c *EngineConfig) Validate() error {
	switch {
	case c.Name == "":
		return &ConfigError{Field: "name", Err: errors.New("required")}
	case c.ID <= 0:
		return &ConfigError{Field: "id", Err: fmt.Errorf("must be positive, got %d", c.ID)}
	case c.TSeconds <= 0:
		return &ConfigError{Field: "t_seconds", Err: fmt.Errorf("must be positive, got %d", c.TSeconds)}
	case c.KUnique < 2:
		return &ConfigError{Field: "k_unique", Err: fmt.Errorf("must be >= 2, got %d", c.KUnique)}
	case c.PendingTTLSec <= 0:
		return &ConfigError{Field: "pending_ttl", Err: fmt.Errorf("must be positive, got %d", c.PendingTTLSec)}
	}
	switch c.DirectionMode {
	case DirectionInverse, DirectionMomentum, DirectionHybrid:
	default:
		return &ConfigError{Field: "direction_mode", Err: fmt.Errorf("unknown mode %q", c.DirectionMode)}
	}
	if c.DirectionMode == DirectionHybrid {
		if c.RSIPeriod <= 1 {
			return &ConfigError{Field: "rsi_period", Err: fmt.Errorf("must be > 1, got %d", c.RSIPeriod)}
		}
		if c.RSIOversold >= c.RSIOverbought {
			return &ConfigError{Field: "rsi_oversold", Err: errors.New("must be below rsi_overbought")}
		}
	}
	switch c.RiskMode {
	case RiskDynamicPct, RiskStaticPct:
		if c.RiskPercent <= 0 {
			return &ConfigError{Field: "risk_percent", Err: errors.New("must be positive")}
		}
		if c.RiskMode == RiskStaticPct && c.StaticBaseBalance <= 0 {
			return &ConfigError{Field: "static_base_balance", Err: errors.New("must be positive")}
		}
	case RiskFixedLots:
		if c.FixedLots <= 0 {
			return &ConfigError{Field: "fixed_lots", Err: errors.New("must be positive")}
		}
	default:
		return &ConfigError{Field: "risk_mode", Err: fmt.Errorf("unknown mode %q", c.RiskMode)}
	}
	if c.ATREntryMult <= 0 && c.SLDistance <= 0 {
		return &ConfigError{Field: "sl_distance", Err: errors.New("need atr_entry_mult or sl_distance")}
	}
	return nil
}

// ApplyDefaults fills optional fields the loader leaves at zero.
func (c *EngineConfig) ApplyDefaults() {
	if c.RSISmoothing == "" {
		c.RSISmoothing = RSIWilder
	}
	if c.VWAPPrice == "" {
		c.VWAPPrice = VWAPTypical
	}
	if c.MaxPositions <= 0 {
		c.MaxPositions = 1
	}
	if c.TrailLookback <= 0 {
		c.TrailLookback = 22
	}
	if c.ATRPeriod <= 0 {
		c.ATRPeriod = 14
	}
}
