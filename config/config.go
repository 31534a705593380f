// Package config loads and validates engine configuration from YAML and flags.
package config

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/swaybot/sway/internal/domain"
)

// Settings holds the tunable trading parameters. Unlike Config, settings can
// be mutated at runtime through the engine surface.
type Settings struct {
	SentimentBoundaries domain.SentimentBoundaries `yaml:"sentiment_boundaries" json:"sentiment_boundaries"`
	// SentimentMultipliers per-bucket sizing multipliers for variable sizing,
	// as a fraction of balance (0.05 means 5%).
	SentimentMultipliers map[domain.SentimentBucket]decimal.Decimal `yaml:"sentiment_multipliers" json:"sentiment_multipliers"`
	SizingMethod         domain.SizingMethod                        `yaml:"sizing_method" json:"sizing_method"`
	// StrategicPercent percent of balance fixed once per 24h trading period.
	StrategicPercent decimal.Decimal `yaml:"strategic_percent" json:"strategic_percent"`
	// MinProfitPercent profitability gate for closing opposing trades.
	MinProfitPercent decimal.Decimal `yaml:"min_profit_percent" json:"min_profit_percent"`
	// Cooldown minimum elapsed time between two trade attempts.
	Cooldown time.Duration `yaml:"cooldown" json:"cooldown"`
	// MinSentimentChange hysteresis guard: index must move at least this
	// many points since the last executed trade.
	MinSentimentChange float64 `yaml:"min_sentiment_change" json:"min_sentiment_change"`
	// MonitorMode disables live execution while still running full cycles.
	MonitorMode bool `yaml:"monitor_mode" json:"monitor_mode"`

	// Mode selects the decision strategy: "sentiment" trades on any
	// non-neutral bucket, "allocation" rebalances toward a target split.
	Mode string `yaml:"mode" json:"mode"`
	// AllocationThreshold pivot index at which allocation mode targets an
	// even base/quote split. Each point of index above it shifts a point of
	// allocation toward quote.
	AllocationThreshold float64 `yaml:"allocation_threshold" json:"allocation_threshold"`
	// MinTradeSize smallest quote notional worth executing.
	MinTradeSize decimal.Decimal `yaml:"min_trade_size" json:"min_trade_size"`
}

const (
	ModeSentiment  = "sentiment"
	ModeAllocation = "allocation"
)

// Validate checks settings invariants.
func (s *Settings) Validate() error {
	if err := s.SentimentBoundaries.Validate(); err != nil {
		return err
	}
	if err := s.SizingMethod.Validate(); err != nil {
		return err
	}
	if s.Mode != ModeSentiment && s.Mode != ModeAllocation {
		return fmt.Errorf("unsupported mode: %s", s.Mode)
	}
	if s.AllocationThreshold < 0 || s.AllocationThreshold > 100 {
		return fmt.Errorf("allocation_threshold must be within [0,100], got %.2f", s.AllocationThreshold)
	}
	if s.MinProfitPercent.IsNegative() {
		return fmt.Errorf("min_profit_percent must not be negative, got %s", s.MinProfitPercent)
	}
	if s.Cooldown < 0 {
		return fmt.Errorf("cooldown must not be negative, got %s", s.Cooldown)
	}
	if s.SizingMethod == domain.SizingStrategic &&
		(s.StrategicPercent.LessThanOrEqual(decimal.Zero) || s.StrategicPercent.GreaterThan(decimal.NewFromInt(100))) {
		return fmt.Errorf("strategic_percent must be within (0,100], got %s", s.StrategicPercent)
	}
	for bucket, m := range s.SentimentMultipliers {
		if m.IsNegative() {
			return fmt.Errorf("sentiment multiplier for %s must not be negative", bucket)
		}
	}
	return nil
}

// DefaultSettings returns the settings used when the YAML document omits them.
func DefaultSettings() Settings {
	return Settings{
		SentimentBoundaries: domain.SentimentBoundaries{25, 45, 55, 75},
		SentimentMultipliers: map[domain.SentimentBucket]decimal.Decimal{
			domain.SentimentExtremeFear:  decimal.NewFromFloat(0.10),
			domain.SentimentFear:         decimal.NewFromFloat(0.05),
			domain.SentimentGreed:        decimal.NewFromFloat(0.05),
			domain.SentimentExtremeGreed: decimal.NewFromFloat(0.10),
		},
		SizingMethod:        domain.SizingVariable,
		StrategicPercent:    decimal.NewFromInt(5),
		MinProfitPercent:    decimal.NewFromFloat(0.2),
		Cooldown:            30 * time.Minute,
		MinSentimentChange:  3,
		Mode:                ModeSentiment,
		AllocationThreshold: 50,
		MinTradeSize:        decimal.NewFromInt(1),
	}
}

// Config is the static process configuration, constructed once at startup.
type Config struct {
	Pair   domain.Pair `yaml:"pair"`
	Wallet string      `yaml:"wallet"`
	// TipAccount relay account receiving the bundle tip payment.
	TipAccount string `yaml:"tip_account"`

	// Timeframe cycle alignment boundary: 15m, 1h or 4h.
	Timeframe time.Duration `yaml:"timeframe"`
	// SettleDelay added after each aligned boundary before the cycle fires.
	SettleDelay time.Duration `yaml:"settle_delay"`

	SentimentURL string `yaml:"sentiment_url"`
	PriceURL     string `yaml:"price_url"`
	QuoteURL     string `yaml:"quote_url"`
	RelayURL     string `yaml:"relay_url"`
	RPCURL       string `yaml:"rpc_url"`

	// MaxTipLamports upper bound on the relay tip.
	MaxTipLamports decimal.Decimal `yaml:"max_tip_lamports"`
	// StaticTipFloorLamports fallback when the live tip-floor estimate fails.
	StaticTipFloorLamports decimal.Decimal `yaml:"static_tip_floor_lamports"`

	// ConfirmPollInterval fixed interval between bundle status polls.
	ConfirmPollInterval time.Duration `yaml:"confirm_poll_interval"`
	// ConfirmPollAttempts bounded number of status polls before timeout.
	ConfirmPollAttempts int `yaml:"confirm_poll_attempts"`

	// LegRetries bounded retries per leg for retryable failures.
	LegRetries int `yaml:"leg_retries"`
	// LegRetryDelay fixed delay between leg retries.
	LegRetryDelay time.Duration `yaml:"leg_retry_delay"`

	SnapshotPath  string `yaml:"snapshot_path"`
	AuditLogPath  string `yaml:"audit_log_path"`
	JournalDir    string `yaml:"journal_dir"`
	DashboardAddr string `yaml:"dashboard_addr"`

	Settings Settings `yaml:"settings"`
}

var supportedTimeframes = map[time.Duration]struct{}{
	15 * time.Minute: {},
	time.Hour:        {},
	4 * time.Hour:    {},
}

// Get parses flags and loads configuration from the YAML file.
func Get() (Config, error) {
	path := flag.String("config", "config.yaml", "path to yaml config")
	flag.Parse()

	return Load(*path)
}

// Load reads, defaults and validates the configuration document.
func Load(path string) (Config, error) {
	payload, err := os.ReadFile(path)
	if err != nil {
		return Config{}, errors.Wrapf(err, "read config %s", path)
	}

	cfg := Config{
		Timeframe:              time.Hour,
		SettleDelay:            45 * time.Second,
		ConfirmPollInterval:    2 * time.Second,
		ConfirmPollAttempts:    30,
		LegRetries:             3,
		LegRetryDelay:          5 * time.Second,
		MaxTipLamports:         decimal.NewFromInt(1_000_000),
		StaticTipFloorLamports: decimal.NewFromInt(10_000),
		SnapshotPath:           "./state/snapshot.json",
		AuditLogPath:           "./state/trades.csv",
		JournalDir:             "./state/journal",
		Settings:               DefaultSettings(),
	}
	if err := yaml.Unmarshal(payload, &cfg); err != nil {
		return Config{}, errors.Wrap(err, "decode config yaml")
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks static configuration invariants.
func (c *Config) Validate() error {
	if c.Pair.Base.Symbol == "" || c.Pair.Quote.Symbol == "" {
		return fmt.Errorf("pair base and quote symbols are required")
	}
	if c.Wallet == "" {
		return fmt.Errorf("wallet address is required")
	}
	if _, ok := supportedTimeframes[c.Timeframe]; !ok {
		return fmt.Errorf("unsupported timeframe %s, want 15m, 1h or 4h", c.Timeframe)
	}
	if c.ConfirmPollAttempts < 1 {
		return fmt.Errorf("confirm_poll_attempts must be at least 1")
	}
	if c.LegRetries < 0 {
		return fmt.Errorf("leg_retries must not be negative")
	}
	if c.MaxTipLamports.LessThan(c.StaticTipFloorLamports) {
		return fmt.Errorf("max_tip_lamports must not be below static_tip_floor_lamports")
	}

	return errors.Wrap(c.Settings.Validate(), "settings")
}
