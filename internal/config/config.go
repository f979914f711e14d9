// Package config provides configuration management for the lifecycle engine.
// The loaded Config is a pure value object: read once at process start and
// treated as immutable for the life of the process. Any runtime change
// requires restarting the monitor, which avoids mid-position semantic drift.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	yaml "gopkg.in/yaml.v3"
)

// Defaults applied by normalize() when fields are unset.
const (
	defaultStopLossMultiple  = 2.0
	defaultProfitTargetFrac  = 0.5
	defaultDeltaTolerance    = 0.05
	defaultEntryScore        = 90.0
	defaultIdleInterval      = time.Minute
	defaultOpenInterval      = 5 * time.Second
	defaultOrderFillTimeout  = 2 * time.Minute
	defaultRiskFreeRate      = 0.05
)

// Config represents the complete application configuration.
type Config struct {
	Environment EnvironmentConfig `yaml:"environment"`
	Broker      BrokerConfig      `yaml:"broker"`
	Schedule    ScheduleConfig    `yaml:"schedule"`
	Strategy    StrategyConfig    `yaml:"strategy"`
	Risk        RiskConfig        `yaml:"risk"`
	Storage     StorageConfig     `yaml:"storage"`
	Dashboard   DashboardConfig   `yaml:"dashboard"`
}

// EnvironmentConfig defines the environment settings.
type EnvironmentConfig struct {
	Mode     string `yaml:"mode"`      // paper | live
	LogLevel string `yaml:"log_level"` // debug | info | warn | error
}

// BrokerConfig defines broker API settings.
type BrokerConfig struct {
	APIKey      string `yaml:"api_key"`
	APIEndpoint string `yaml:"api_endpoint"`
	AccountID   string `yaml:"account_id"`
}

// StrategyConfig defines the strangle strategy parameters.
type StrategyConfig struct {
	Symbol      string      `yaml:"symbol"`
	Quantity    int         `yaml:"quantity"`
	Entry       EntryConfig `yaml:"entry"`
	Exit        ExitConfig  `yaml:"exit"`
	RiskFreeRate float64    `yaml:"risk_free_rate"`
}

// EntryConfig defines the thresholds behind the entry criteria gate.
type EntryConfig struct {
	DeltaTarget      float64 `yaml:"delta_target"`       // e.g. 0.10 for 10 delta
	DeltaTolerance   float64 `yaml:"delta_tolerance"`    // max |delta - target| for strike selection
	MinPremium       float64 `yaml:"min_premium"`        // per-leg bid floor
	MaxSpreadPct     float64 `yaml:"max_spread_pct"`     // underlying bid/ask spread bound, fraction of mid
	MinBuyingPower   float64 `yaml:"min_buying_power"`   // dollars
	MaxNetDelta      float64 `yaml:"max_net_delta"`      // net position delta imbalance bound
	IVMin            float64 `yaml:"iv_min"`             // sane-band floor, decimal
	IVMax            float64 `yaml:"iv_max"`             // sane-band ceiling, decimal
	StrikeBufferPct  float64 `yaml:"strike_buffer_pct"`  // min strike distance from spot, fraction of spot
	ScoreThreshold   float64 `yaml:"score_threshold"`    // may_enter gate, 0-100
}

// ExitConfig defines the exit trigger thresholds.
type ExitConfig struct {
	StopLossMultiple     float64 `yaml:"stop_loss_multiple"`     // loss as multiple of credit
	ProfitTargetFraction float64 `yaml:"profit_target_fraction"` // gain as fraction of credit
	VegaCap              float64 `yaml:"vega_cap"`               // entry cap; explosion trips at 1.5x
	StrikeBufferPct      float64 `yaml:"strike_buffer_pct"`      // breach distance, fraction of strike
}

// RiskConfig bounds position sizing.
type RiskConfig struct {
	MaxContracts int     `yaml:"max_contracts"`
	MaxDailyLoss float64 `yaml:"max_daily_loss"`
}

// ScheduleConfig defines the trading clock: entry window, the two exit
// cutoffs, and the per-phase polling cadence. All clock fields are "HH:MM"
// in the configured timezone (default America/New_York).
type ScheduleConfig struct {
	Timezone             string `yaml:"timezone"`
	EntryWindowStart     string `yaml:"entry_window_start"`     // e.g. "09:45"
	EntryWindowEnd       string `yaml:"entry_window_end"`       // e.g. "12:00"
	RecommendedExit      string `yaml:"recommended_exit"`       // soft cutoff, e.g. "15:30"
	FinalExit            string `yaml:"final_exit"`             // hard cutoff, e.g. "15:58"
	ForceRecommendedExit bool   `yaml:"force_recommended_exit"` // soft cutoff closes instead of warning
	IdleInterval         string `yaml:"idle_interval"`          // polling cadence with no position
	OpenInterval         string `yaml:"open_interval"`          // polling cadence with a live position
	OrderFillTimeout     string `yaml:"order_fill_timeout"`
}

// StorageConfig defines storage settings for position data.
type StorageConfig struct {
	Path string `yaml:"path"`
}

// DashboardConfig defines the HTTP status server settings.
type DashboardConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// Load reads and parses the configuration file from the specified path.
func Load(configPath string) (*Config, error) {
	if configPath == "" {
		configPath = "config.yaml"
	}

	data, err := os.ReadFile(configPath) // #nosec G304 -- configPath is a user-provided config file path
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	var config Config
	dec := yaml.NewDecoder(strings.NewReader(expanded))
	dec.KnownFields(true)
	if err := dec.Decode(&config); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	config.normalize()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &config, nil
}

// Validate checks that all configuration values are valid and consistent.
// A validation failure is a fatal startup error, never retried.
func (c *Config) Validate() error {
	if c.Environment.Mode != "paper" && c.Environment.Mode != "live" {
		return fmt.Errorf("environment.mode must be 'paper' or 'live'")
	}
	if c.Environment.Mode == "live" {
		if c.Broker.APIKey == "" {
			return fmt.Errorf("broker.api_key is required in live mode")
		}
		if c.Broker.AccountID == "" {
			return fmt.Errorf("broker.account_id is required in live mode")
		}
	}

	if c.Strategy.Symbol == "" {
		return fmt.Errorf("strategy.symbol is required")
	}
	if c.Strategy.Quantity <= 0 {
		return fmt.Errorf("strategy.quantity must be > 0")
	}
	if c.Strategy.RiskFreeRate < 0 || c.Strategy.RiskFreeRate > 0.25 {
		return fmt.Errorf("strategy.risk_free_rate must be in [0, 0.25]")
	}

	e := c.Strategy.Entry
	if e.DeltaTarget <= 0 || e.DeltaTarget >= 0.5 {
		return fmt.Errorf("strategy.entry.delta_target must be in (0, 0.5)")
	}
	if e.DeltaTolerance <= 0 || e.DeltaTolerance >= 0.5 {
		return fmt.Errorf("strategy.entry.delta_tolerance must be in (0, 0.5)")
	}
	if e.MinPremium < 0 {
		return fmt.Errorf("strategy.entry.min_premium must be >= 0")
	}
	if e.MaxSpreadPct <= 0 || e.MaxSpreadPct >= 1 {
		return fmt.Errorf("strategy.entry.max_spread_pct must be in (0, 1)")
	}
	if e.MaxNetDelta <= 0 {
		return fmt.Errorf("strategy.entry.max_net_delta must be > 0")
	}
	if e.IVMin < 0 || e.IVMax <= e.IVMin {
		return fmt.Errorf("strategy.entry.iv band must satisfy 0 <= iv_min < iv_max")
	}
	if e.StrikeBufferPct <= 0 || e.StrikeBufferPct >= 1 {
		return fmt.Errorf("strategy.entry.strike_buffer_pct must be in (0, 1)")
	}
	if e.ScoreThreshold <= 0 || e.ScoreThreshold > 100 {
		return fmt.Errorf("strategy.entry.score_threshold must be in (0, 100]")
	}

	x := c.Strategy.Exit
	if x.StopLossMultiple <= 0 {
		return fmt.Errorf("strategy.exit.stop_loss_multiple must be > 0")
	}
	if x.ProfitTargetFraction <= 0 || x.ProfitTargetFraction >= 1 {
		return fmt.Errorf("strategy.exit.profit_target_fraction must be in (0, 1)")
	}
	if x.VegaCap <= 0 {
		return fmt.Errorf("strategy.exit.vega_cap must be > 0")
	}
	if x.StrikeBufferPct <= 0 || x.StrikeBufferPct >= 1 {
		return fmt.Errorf("strategy.exit.strike_buffer_pct must be in (0, 1)")
	}

	if c.Risk.MaxContracts <= 0 {
		return fmt.Errorf("risk.max_contracts must be > 0")
	}
	if c.Strategy.Quantity > c.Risk.MaxContracts {
		return fmt.Errorf("strategy.quantity (%d) must be <= risk.max_contracts (%d)",
			c.Strategy.Quantity, c.Risk.MaxContracts)
	}

	loc := c.Location()
	clocks := []struct {
		name  string
		value string
	}{
		{"schedule.entry_window_start", c.Schedule.EntryWindowStart},
		{"schedule.entry_window_end", c.Schedule.EntryWindowEnd},
		{"schedule.recommended_exit", c.Schedule.RecommendedExit},
		{"schedule.final_exit", c.Schedule.FinalExit},
	}
	parsed := make([]time.Time, len(clocks))
	for i, cl := range clocks {
		t, err := time.ParseInLocation("15:04", cl.value, loc)
		if err != nil {
			return fmt.Errorf("%s invalid: %w", cl.name, err)
		}
		parsed[i] = t
	}
	if !parsed[0].Before(parsed[1]) {
		return fmt.Errorf("schedule entry window invalid: start must be before end")
	}
	if !parsed[2].Before(parsed[3]) {
		return fmt.Errorf("schedule.recommended_exit must be before schedule.final_exit")
	}
	if !parsed[1].Before(parsed[3]) {
		return fmt.Errorf("schedule.entry_window_end must be before schedule.final_exit")
	}

	for _, d := range []struct {
		name  string
		value string
	}{
		{"schedule.idle_interval", c.Schedule.IdleInterval},
		{"schedule.open_interval", c.Schedule.OpenInterval},
		{"schedule.order_fill_timeout", c.Schedule.OrderFillTimeout},
	} {
		if _, err := time.ParseDuration(d.value); err != nil {
			return fmt.Errorf("%s invalid: %w", d.name, err)
		}
	}

	if c.Dashboard.Enabled && (c.Dashboard.Port <= 0 || c.Dashboard.Port > 65535) {
		return fmt.Errorf("dashboard.port must be a valid TCP port")
	}

	return nil
}

// IsPaperTrading returns true if the bot is configured for paper trading.
func (c *Config) IsPaperTrading() bool {
	return c.Environment.Mode == "paper"
}

// Location returns the configured timezone, falling back to New York and
// finally to a DST-agnostic fixed offset for minimal containers.
func (c *Config) Location() *time.Location {
	tz := c.Schedule.Timezone
	if tz == "" {
		tz = "America/New_York"
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		if fallback, err2 := time.LoadLocation("America/New_York"); err2 == nil {
			return fallback
		}
		return time.FixedZone("ET", -5*60*60)
	}
	return loc
}

// IdleInterval returns the polling cadence while no position is open.
func (c *Config) IdleInterval() time.Duration {
	return parseDurationOr(c.Schedule.IdleInterval, defaultIdleInterval)
}

// OpenInterval returns the polling cadence while a position is live. It is
// much shorter than the idle cadence: a stale read with short options live
// is the riskier failure.
func (c *Config) OpenInterval() time.Duration {
	return parseDurationOr(c.Schedule.OpenInterval, defaultOpenInterval)
}

// OrderFillTimeout returns how long to wait for an order to resolve.
func (c *Config) OrderFillTimeout() time.Duration {
	return parseDurationOr(c.Schedule.OrderFillTimeout, defaultOrderFillTimeout)
}

// InsideEntryWindow reports whether now falls inside the configured entry
// window on a weekday.
func (c *Config) InsideEntryWindow(now time.Time) bool {
	loc := c.Location()
	today := now.In(loc)
	if today.Weekday() == time.Saturday || today.Weekday() == time.Sunday {
		return false
	}
	start := c.clockToday(c.Schedule.EntryWindowStart, today, loc)
	end := c.clockToday(c.Schedule.EntryWindowEnd, today, loc)
	// Inclusive start, exclusive end
	return !today.Before(start) && today.Before(end)
}

// RecommendedExitAt returns today's soft cutoff instant.
func (c *Config) RecommendedExitAt(now time.Time) time.Time {
	loc := c.Location()
	return c.clockToday(c.Schedule.RecommendedExit, now.In(loc), loc)
}

// FinalExitAt returns today's hard cutoff instant.
func (c *Config) FinalExitAt(now time.Time) time.Time {
	loc := c.Location()
	return c.clockToday(c.Schedule.FinalExit, now.In(loc), loc)
}

func (c *Config) clockToday(clock string, today time.Time, loc *time.Location) time.Time {
	t, err := time.ParseInLocation("15:04", clock, loc)
	if err != nil {
		// Validate() rejects unparseable clocks; this is a safety net only.
		t = time.Date(0, 1, 1, 15, 58, 0, 0, loc)
	}
	return time.Date(today.Year(), today.Month(), today.Day(), t.Hour(), t.Minute(), 0, 0, loc)
}

func (c *Config) normalize() {
	if c.Strategy.Exit.StopLossMultiple == 0 {
		c.Strategy.Exit.StopLossMultiple = defaultStopLossMultiple
	}
	if c.Strategy.Exit.ProfitTargetFraction == 0 {
		c.Strategy.Exit.ProfitTargetFraction = defaultProfitTargetFrac
	}
	if c.Strategy.Entry.DeltaTolerance == 0 {
		c.Strategy.Entry.DeltaTolerance = defaultDeltaTolerance
	}
	if c.Strategy.Entry.ScoreThreshold == 0 {
		c.Strategy.Entry.ScoreThreshold = defaultEntryScore
	}
	if c.Strategy.RiskFreeRate == 0 {
		c.Strategy.RiskFreeRate = defaultRiskFreeRate
	}
	if c.Schedule.IdleInterval == "" {
		c.Schedule.IdleInterval = defaultIdleInterval.String()
	}
	if c.Schedule.OpenInterval == "" {
		c.Schedule.OpenInterval = defaultOpenInterval.String()
	}
	if c.Schedule.OrderFillTimeout == "" {
		c.Schedule.OrderFillTimeout = defaultOrderFillTimeout.String()
	}
}

func parseDurationOr(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
