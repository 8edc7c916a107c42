// Package config defines the top-level configuration for the arbitrage paper
// trader and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by ARBITER_* environment variables. It is
// built once at startup and passed by value to the components that need it.
type Config struct {
	Account    AccountConfig    `toml:"account"`
	Postgres   PostgresConfig   `toml:"postgres"`
	Redis      RedisConfig      `toml:"redis"`
	S3         S3Config         `toml:"s3"`
	Venues     VenuesConfig     `toml:"venues"`
	Detect     DetectConfig     `toml:"detect"`
	Carry      CarryConfig      `toml:"carry"`
	Cross      CrossConfig      `toml:"cross_exchange"`
	Triangular TriangularConfig `toml:"triangular"`
	Scoring    ScoringConfig    `toml:"scoring"`
	Reranker   RerankerConfig   `toml:"reranker"`
	Risk       RiskConfig       `toml:"risk"`
	Paper      PaperConfig      `toml:"paper"`
	Close      CloseConfig      `toml:"close"`
	Scheduler  SchedulerConfig  `toml:"scheduler"`
	Server     ServerConfig     `toml:"server"`
	Notify     NotifyConfig     `toml:"notify"`
	Store      string           `toml:"store"`
	LogLevel   string           `toml:"log_level"`
}

// AccountConfig seeds the paper account on first start.
type AccountConfig struct {
	ID                 string  `toml:"id"`
	StartingBalanceUSD float64 `toml:"starting_balance_usd"`
	MinNotional        float64 `toml:"min_notional"`
	MaxNotional        float64 `toml:"max_notional"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters. Redis is optional; without
// it the tick lock, usage counter and quote cache fall back to in-process
// implementations.
type RedisConfig struct {
	Enabled    bool   `toml:"enabled"`
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds S3-compatible object storage parameters for tick reports.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	Prefix         string `toml:"prefix"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// VenueEndpoint is the quote gateway for one venue. When APISecret is set,
// requests are HMAC-signed.
type VenueEndpoint struct {
	BaseURL   string `toml:"base_url"`
	APIKey    string `toml:"api_key"`
	APISecret string `toml:"api_secret"`
}

// VenuesConfig configures market data access.
type VenuesConfig struct {
	Endpoints         map[string]VenueEndpoint `toml:"endpoints"`
	RequestsPerSecond float64                  `toml:"requests_per_second"`
	Burst             int                      `toml:"burst"`
	BreakerFailures   int                      `toml:"breaker_failures"`
	BreakerCooldown   duration                 `toml:"breaker_cooldown"`
	QuoteCacheTTL     duration                 `toml:"quote_cache_ttl"`
}

// DetectConfig holds settings shared by all detectors.
type DetectConfig struct {
	IdempotencyWindow duration `toml:"idempotency_window"`
	QuoteTimeout      duration `toml:"quote_timeout"`
	MaxConcurrency    int      `toml:"max_concurrency"`
}

// CarryConfig configures the spot/perp funding carry detector.
type CarryConfig struct {
	Enabled            bool     `toml:"enabled"`
	Venues             []string `toml:"venues"`
	Symbols            []string `toml:"symbols"`
	PeriodsPerDay      float64  `toml:"periods_per_day"`
	HoldingHours       float64  `toml:"holding_hours"`
	Lookback           duration `toml:"lookback"`
	TotalCostsBps      float64  `toml:"total_costs_bps"`
	MinNetEdgeBps      float64  `toml:"min_net_edge_bps"`
	BreakEvenMaxHours  float64  `toml:"break_even_max_hours"`
	WatchlistMaxHours  float64  `toml:"watchlist_max_hours"`
	ConfidenceScaleBps float64  `toml:"confidence_scale_bps"`
}

// CrossConfig configures the cross-exchange spread detector. SymbolMap maps a
// canonical symbol to its venue-specific names; venues absent from the map use
// the canonical name.
type CrossConfig struct {
	Enabled            bool                         `toml:"enabled"`
	Venues             []string                     `toml:"venues"`
	Symbols            []string                     `toml:"symbols"`
	SymbolMap          map[string]map[string]string `toml:"symbol_map"`
	FeeBpsPerLeg       float64                      `toml:"fee_bps_per_leg"`
	SlippageBpsPerLeg  float64                      `toml:"slippage_bps_per_leg"`
	TransferBufferBps  float64                      `toml:"transfer_buffer_bps"`
	MinNetEdgeBps      float64                      `toml:"min_net_edge_bps"`
	ConfidenceScaleBps float64                      `toml:"confidence_scale_bps"`
}

// CostsBps returns the round-trip cost assumption for a cross-exchange trade.
func (c CrossConfig) CostsBps() float64 {
	return 2*c.FeeBpsPerLeg + 2*c.SlippageBpsPerLeg + c.TransferBufferBps
}

// TriangularLegConfig is one conversion in a triangular path.
type TriangularLegConfig struct {
	Symbol string `toml:"symbol"`
	Side   string `toml:"side"`
}

// TriangularPath is a configured home -> A -> B -> home cycle.
type TriangularPath struct {
	Name  string                `toml:"name"`
	Venue string                `toml:"venue"`
	Home  string                `toml:"home"`
	Legs  []TriangularLegConfig `toml:"legs"`
}

// TriangularConfig configures the triangular cycle detector.
type TriangularConfig struct {
	Enabled            bool             `toml:"enabled"`
	Paths              []TriangularPath `toml:"paths"`
	FixedCostsBps      float64          `toml:"fixed_costs_bps"`
	MinNetEdgeBps      float64          `toml:"min_net_edge_bps"`
	LegTimeout         duration         `toml:"leg_timeout"`
	ConfidenceScaleBps float64          `toml:"confidence_scale_bps"`
}

// ScoringConfig configures candidate ranking and the learned model.
type ScoringConfig struct {
	CandidateCount    int      `toml:"candidate_count"`
	ExecutePerTick    int      `toml:"execute_per_tick"`
	CandidateLookback duration `toml:"candidate_lookback"`
	MaxQuoteAge       duration `toml:"max_quote_age"`
	RidgeLambda       float64  `toml:"ridge_lambda"`
	MinSamples        int      `toml:"min_samples"`
	TrainingWindow    duration `toml:"training_window"`
	RetrainInterval   duration `toml:"retrain_interval"`
}

// RerankerConfig configures the optional external re-ranker. An empty APIKey
// disables it.
type RerankerConfig struct {
	URL         string   `toml:"url"`
	APIKey      string   `toml:"api_key"`
	Model       string   `toml:"model"`
	Timeout     duration `toml:"timeout"`
	PerTick     int      `toml:"per_tick"`
	DailyBudget int      `toml:"daily_budget"`
}

// Enabled reports whether the re-ranker has a credential and endpoint.
func (r RerankerConfig) Enabled() bool {
	return r.APIKey != "" && r.URL != ""
}

// RiskConfig holds position limits and notional sizing tiers.
type RiskConfig struct {
	MaxOpenPositions   int     `toml:"max_open_positions"`
	MaxOpenedPerHour   int     `toml:"max_opened_per_hour"`
	MaxOpenPerSymbol   int     `toml:"max_open_per_symbol"`
	FastBreakEvenHours float64 `toml:"fast_break_even_hours"`
	SlowBreakEvenHours float64 `toml:"slow_break_even_hours"`
	HighConfidence     float64 `toml:"high_confidence"`
	MidConfidence      float64 `toml:"mid_confidence"`
}

// PaperConfig holds the fill simulator assumptions.
type PaperConfig struct {
	SlippageRate float64 `toml:"slippage_rate"`
	FeeRate      float64 `toml:"fee_rate"`
}

// CloseConfig holds exit thresholds, as fractions of notional.
type CloseConfig struct {
	TakeProfitPct float64 `toml:"take_profit_pct"`
	StopLossPct   float64 `toml:"stop_loss_pct"`
}

// SchedulerConfig controls the in-process tick loop used by `serve`.
type SchedulerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Interval    duration `toml:"interval"`
	TickTimeout duration `toml:"tick_timeout"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// ServerConfig holds HTTP server parameters. An empty APIKey disables auth.
type ServerConfig struct {
	Enabled bool   `toml:"enabled"`
	Port    int    `toml:"port"`
	APIKey  string `toml:"api_key"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// Defaults returns a Config populated with reasonable default values.
func Defaults() Config {
	return Config{
		Account: AccountConfig{
			ID:                 "paper",
			StartingBalanceUSD: 10_000,
			MinNotional:        100,
			MaxNotional:        1_000,
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "arbiter",
			User:          "arbiter",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  1,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			PoolSize:   10,
			MaxRetries: 3,
		},
		S3: S3Config{
			Region:         "us-east-1",
			Prefix:         "ticks",
			UseSSL:         true,
			ForcePathStyle: true,
		},
		Venues: VenuesConfig{
			Endpoints:         map[string]VenueEndpoint{},
			RequestsPerSecond: 10,
			Burst:             5,
			BreakerFailures:   5,
			BreakerCooldown:   duration{30 * time.Second},
			QuoteCacheTTL:     duration{2 * time.Second},
		},
		Detect: DetectConfig{
			IdempotencyWindow: duration{5 * time.Minute},
			QuoteTimeout:      duration{3 * time.Second},
			MaxConcurrency:    8,
		},
		Carry: CarryConfig{
			Enabled:            true,
			PeriodsPerDay:      3,
			HoldingHours:       24,
			Lookback:           duration{15 * time.Minute},
			TotalCostsBps:      16,
			MinNetEdgeBps:      10,
			BreakEvenMaxHours:  48,
			WatchlistMaxHours:  72,
			ConfidenceScaleBps: 50,
		},
		Cross: CrossConfig{
			Enabled:            true,
			SymbolMap:          map[string]map[string]string{},
			FeeBpsPerLeg:       10,
			SlippageBpsPerLeg:  2,
			TransferBufferBps:  5,
			MinNetEdgeBps:      5,
			ConfidenceScaleBps: 30,
		},
		Triangular: TriangularConfig{
			Enabled:            true,
			FixedCostsBps:      22.5,
			MinNetEdgeBps:      -5,
			LegTimeout:         duration{2 * time.Second},
			ConfidenceScaleBps: 20,
		},
		Scoring: ScoringConfig{
			CandidateCount:    20,
			ExecutePerTick:    3,
			CandidateLookback: duration{10 * time.Minute},
			MaxQuoteAge:       duration{2 * time.Minute},
			RidgeLambda:       1.0,
			MinSamples:        30,
			TrainingWindow:    duration{30 * 24 * time.Hour},
			RetrainInterval:   duration{6 * time.Hour},
		},
		Reranker: RerankerConfig{
			Timeout:     duration{3 * time.Second},
			PerTick:     3,
			DailyBudget: 50,
		},
		Risk: RiskConfig{
			MaxOpenPositions:   20,
			MaxOpenedPerHour:   10,
			MaxOpenPerSymbol:   2,
			FastBreakEvenHours: 12,
			SlowBreakEvenHours: 24,
			HighConfidence:     0.7,
			MidConfidence:      0.4,
		},
		Paper: PaperConfig{
			SlippageRate: 0.0005,
			FeeRate:      0.001,
		},
		Close: CloseConfig{
			TakeProfitPct: 0.004,
			StopLossPct:   0.006,
		},
		Scheduler: SchedulerConfig{
			Enabled:     true,
			Interval:    duration{time.Minute},
			TickTimeout: duration{45 * time.Second},
		},
		Server: ServerConfig{
			Enabled: true,
			Port:    8000,
		},
		Notify: NotifyConfig{
			Events: []string{"position_opened", "position_closed", "tick_failed"},
		},
		Store:    "postgres",
		LogLevel: "info",
	}
}

// validStores enumerates the accepted values for Config.Store.
var validStores = map[string]bool{
	"postgres": true,
	"memory":   true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validStores[strings.ToLower(c.Store)] {
		errs = append(errs, fmt.Sprintf("unknown store %q (valid: postgres, memory)", c.Store))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Account
	if c.Account.ID == "" {
		errs = append(errs, "account: id must not be empty")
	}
	if c.Account.StartingBalanceUSD < 0 {
		errs = append(errs, "account: starting_balance_usd must be >= 0")
	}
	if c.Account.MinNotional <= 0 {
		errs = append(errs, "account: min_notional must be > 0")
	}
	if c.Account.MaxNotional < c.Account.MinNotional {
		errs = append(errs, "account: max_notional must be >= min_notional")
	}

	// Postgres
	if strings.EqualFold(c.Store, "postgres") {
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			if c.Postgres.Host == "" {
				errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
			}
			if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
				errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
			}
			if c.Postgres.Database == "" {
				errs = append(errs, "postgres: database must not be empty")
			}
		}
		if c.Postgres.PoolMaxConns < 1 {
			errs = append(errs, "postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
		}
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	}

	// S3
	if c.S3.Enabled {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
	}

	// Venues
	if c.Venues.RequestsPerSecond <= 0 {
		errs = append(errs, "venues: requests_per_second must be > 0")
	}
	for _, v := range c.referencedVenues() {
		ep, ok := c.Venues.Endpoints[v]
		if !ok || ep.BaseURL == "" {
			errs = append(errs, fmt.Sprintf("venues: endpoint for %q must have a base_url", v))
		}
	}

	// Detectors
	if c.Detect.IdempotencyWindow.Duration <= 0 {
		errs = append(errs, "detect: idempotency_window must be > 0")
	}
	if c.Carry.Enabled {
		if c.Carry.PeriodsPerDay <= 0 {
			errs = append(errs, "carry: periods_per_day must be > 0")
		}
		if c.Carry.BreakEvenMaxHours > c.Carry.WatchlistMaxHours {
			errs = append(errs, "carry: break_even_max_hours must not exceed watchlist_max_hours")
		}
	}
	if c.Cross.Enabled && len(c.Cross.Venues) > 0 && len(c.Cross.Venues) < 2 {
		errs = append(errs, "cross_exchange: at least two venues are required")
	}
	if c.Triangular.Enabled {
		for _, p := range c.Triangular.Paths {
			if len(p.Legs) != 3 {
				errs = append(errs, fmt.Sprintf("triangular: path %q must have exactly 3 legs", p.Name))
			}
			for _, l := range p.Legs {
				if l.Side != "buy" && l.Side != "sell" {
					errs = append(errs, fmt.Sprintf("triangular: path %q leg %s side must be buy or sell", p.Name, l.Symbol))
				}
			}
		}
	}

	// Scoring
	if c.Scoring.CandidateCount < 1 {
		errs = append(errs, "scoring: candidate_count must be >= 1")
	}
	if c.Scoring.ExecutePerTick < 0 {
		errs = append(errs, "scoring: execute_per_tick must be >= 0")
	}
	if c.Scoring.MaxQuoteAge.Duration < 0 {
		errs = append(errs, "scoring: max_quote_age must be >= 0")
	}
	if c.Scoring.RidgeLambda < 0 {
		errs = append(errs, "scoring: ridge_lambda must be >= 0")
	}

	// Risk
	if c.Risk.MaxOpenPositions < 1 {
		errs = append(errs, "risk: max_open_positions must be >= 1")
	}
	if c.Risk.MaxOpenPerSymbol < 1 {
		errs = append(errs, "risk: max_open_per_symbol must be >= 1")
	}

	// Paper
	if c.Paper.SlippageRate < 0 || c.Paper.SlippageRate >= 1 {
		errs = append(errs, "paper: slippage_rate must be in [0, 1)")
	}
	if c.Paper.FeeRate < 0 || c.Paper.FeeRate >= 1 {
		errs = append(errs, "paper: fee_rate must be in [0, 1)")
	}

	// Close
	if c.Close.TakeProfitPct <= 0 || c.Close.StopLossPct <= 0 {
		errs = append(errs, "close: take_profit_pct and stop_loss_pct must be > 0")
	}

	// Scheduler
	if c.Scheduler.Enabled && c.Scheduler.Interval.Duration <= 0 {
		errs = append(errs, "scheduler: interval must be > 0")
	}
	if c.Scheduler.TickTimeout.Duration <= 0 {
		errs = append(errs, "scheduler: tick_timeout must be > 0")
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// referencedVenues returns every venue named by an enabled detector.
func (c *Config) referencedVenues() []string {
	seen := make(map[string]bool)
	var out []string
	add := func(v string) {
		if v != "" && !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	if c.Carry.Enabled {
		for _, v := range c.Carry.Venues {
			add(v)
		}
	}
	if c.Cross.Enabled {
		for _, v := range c.Cross.Venues {
			add(v)
		}
	}
	if c.Triangular.Enabled {
		for _, p := range c.Triangular.Paths {
			add(p.Venue)
		}
	}
	return out
}
