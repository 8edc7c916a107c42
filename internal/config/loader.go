package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies ARBITER_* environment variable overrides, and
// returns the final Config. An empty path skips the file and uses defaults.
// The returned Config has NOT been validated; the caller should invoke
// Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known ARBITER_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Account ──
	setStr(&cfg.Account.ID, "ARBITER_ACCOUNT_ID")
	setFloat64(&cfg.Account.StartingBalanceUSD, "ARBITER_ACCOUNT_STARTING_BALANCE_USD")
	setFloat64(&cfg.Account.MinNotional, "ARBITER_ACCOUNT_MIN_NOTIONAL")
	setFloat64(&cfg.Account.MaxNotional, "ARBITER_ACCOUNT_MAX_NOTIONAL")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "ARBITER_POSTGRES_DSN")
	setStr(&cfg.Postgres.DSN, "DATABASE_URL") // compatibility alias
	setStr(&cfg.Postgres.Host, "ARBITER_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "ARBITER_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "ARBITER_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "ARBITER_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "ARBITER_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "ARBITER_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "ARBITER_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "ARBITER_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "ARBITER_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "ARBITER_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "ARBITER_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "ARBITER_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "ARBITER_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "ARBITER_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "ARBITER_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "ARBITER_REDIS_TLS_ENABLED")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "ARBITER_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "ARBITER_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "ARBITER_S3_REGION")
	setStr(&cfg.S3.Bucket, "ARBITER_S3_BUCKET")
	setStr(&cfg.S3.Prefix, "ARBITER_S3_PREFIX")
	setStr(&cfg.S3.AccessKey, "ARBITER_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "ARBITER_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "ARBITER_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "ARBITER_S3_FORCE_PATH_STYLE")

	// ── Detectors ──
	setBool(&cfg.Carry.Enabled, "ARBITER_CARRY_ENABLED")
	setStringSlice(&cfg.Carry.Venues, "ARBITER_CARRY_VENUES")
	setStringSlice(&cfg.Carry.Symbols, "ARBITER_CARRY_SYMBOLS")
	setFloat64(&cfg.Carry.HoldingHours, "ARBITER_CARRY_HOLDING_HOURS")
	setFloat64(&cfg.Carry.MinNetEdgeBps, "ARBITER_CARRY_MIN_NET_EDGE_BPS")
	setBool(&cfg.Cross.Enabled, "ARBITER_CROSS_EXCHANGE_ENABLED")
	setStringSlice(&cfg.Cross.Venues, "ARBITER_CROSS_EXCHANGE_VENUES")
	setStringSlice(&cfg.Cross.Symbols, "ARBITER_CROSS_EXCHANGE_SYMBOLS")
	setFloat64(&cfg.Cross.MinNetEdgeBps, "ARBITER_CROSS_EXCHANGE_MIN_NET_EDGE_BPS")
	setBool(&cfg.Triangular.Enabled, "ARBITER_TRIANGULAR_ENABLED")
	setFloat64(&cfg.Triangular.MinNetEdgeBps, "ARBITER_TRIANGULAR_MIN_NET_EDGE_BPS")
	setDuration(&cfg.Detect.IdempotencyWindow, "ARBITER_DETECT_IDEMPOTENCY_WINDOW")
	setDuration(&cfg.Detect.QuoteTimeout, "ARBITER_DETECT_QUOTE_TIMEOUT")

	// ── Scoring / re-ranker ──
	setInt(&cfg.Scoring.CandidateCount, "ARBITER_SCORING_CANDIDATE_COUNT")
	setInt(&cfg.Scoring.ExecutePerTick, "ARBITER_SCORING_EXECUTE_PER_TICK")
	setDuration(&cfg.Scoring.MaxQuoteAge, "ARBITER_SCORING_MAX_QUOTE_AGE")
	setFloat64(&cfg.Scoring.RidgeLambda, "ARBITER_SCORING_RIDGE_LAMBDA")
	setInt(&cfg.Scoring.MinSamples, "ARBITER_SCORING_MIN_SAMPLES")
	setStr(&cfg.Reranker.URL, "ARBITER_RERANKER_URL")
	setStr(&cfg.Reranker.APIKey, "ARBITER_RERANKER_API_KEY")
	setStr(&cfg.Reranker.Model, "ARBITER_RERANKER_MODEL")
	setDuration(&cfg.Reranker.Timeout, "ARBITER_RERANKER_TIMEOUT")
	setInt(&cfg.Reranker.PerTick, "ARBITER_RERANKER_PER_TICK")
	setInt(&cfg.Reranker.DailyBudget, "ARBITER_RERANKER_DAILY_BUDGET")

	// ── Risk / paper / close ──
	setInt(&cfg.Risk.MaxOpenPositions, "ARBITER_RISK_MAX_OPEN_POSITIONS")
	setInt(&cfg.Risk.MaxOpenedPerHour, "ARBITER_RISK_MAX_OPENED_PER_HOUR")
	setInt(&cfg.Risk.MaxOpenPerSymbol, "ARBITER_RISK_MAX_OPEN_PER_SYMBOL")
	setFloat64(&cfg.Paper.SlippageRate, "ARBITER_PAPER_SLIPPAGE_RATE")
	setFloat64(&cfg.Paper.FeeRate, "ARBITER_PAPER_FEE_RATE")
	setFloat64(&cfg.Close.TakeProfitPct, "ARBITER_CLOSE_TAKE_PROFIT_PCT")
	setFloat64(&cfg.Close.StopLossPct, "ARBITER_CLOSE_STOP_LOSS_PCT")

	// ── Scheduler ──
	setBool(&cfg.Scheduler.Enabled, "ARBITER_SCHEDULER_ENABLED")
	setDuration(&cfg.Scheduler.Interval, "ARBITER_SCHEDULER_INTERVAL")
	setDuration(&cfg.Scheduler.TickTimeout, "ARBITER_SCHEDULER_TICK_TIMEOUT")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "ARBITER_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "ARBITER_SERVER_PORT")
	setStr(&cfg.Server.APIKey, "ARBITER_SERVER_API_KEY")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "ARBITER_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "ARBITER_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "ARBITER_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "ARBITER_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Store, "ARBITER_STORE")
	setStr(&cfg.LogLevel, "ARBITER_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
