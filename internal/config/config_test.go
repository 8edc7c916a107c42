package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultsValidateInMemoryMode(t *testing.T) {
	cfg := Defaults()
	cfg.Store = "memory"
	require.NoError(t, cfg.Validate())
}

func TestValidateCollectsEveryProblem(t *testing.T) {
	cfg := Defaults()
	cfg.Store = "sqlite"
	cfg.LogLevel = "trace"
	cfg.Account.MaxNotional = 1
	cfg.Paper.FeeRate = 2
	cfg.Scoring.MaxQuoteAge.Duration = -time.Second

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown store "sqlite"`)
	assert.Contains(t, err.Error(), `unknown log_level "trace"`)
	assert.Contains(t, err.Error(), "max_notional must be >= min_notional")
	assert.Contains(t, err.Error(), "fee_rate must be in [0, 1)")
	assert.Contains(t, err.Error(), "max_quote_age must be >= 0")
}

func TestValidateRequiresEndpointsForReferencedVenues(t *testing.T) {
	cfg := Defaults()
	cfg.Store = "memory"
	cfg.Cross.Venues = []string{"binance", "okx"}
	cfg.Venues.Endpoints = map[string]VenueEndpoint{"binance": {BaseURL: "http://binance"}}

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), `endpoint for "okx"`)
	assert.NotContains(t, err.Error(), `endpoint for "binance"`)
}

func TestValidateTriangularPathShape(t *testing.T) {
	cfg := Defaults()
	cfg.Store = "memory"
	cfg.Venues.Endpoints["binance"] = VenueEndpoint{BaseURL: "http://binance"}
	cfg.Triangular.Paths = []TriangularPath{{
		Name:  "usdt-btc-eth",
		Venue: "binance",
		Home:  "USDT",
		Legs:  []TriangularLegConfig{{Symbol: "BTCUSDT", Side: "buy"}, {Symbol: "ETHBTC", Side: "long"}},
	}}

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exactly 3 legs")
	assert.Contains(t, err.Error(), "side must be buy or sell")
}

func TestLoadMergesFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "arbiter.toml")
	body := `
store = "memory"

[carry]
symbols = ["BTCUSDT"]
holding_hours = 12
lookback = "10m"

[venues.endpoints.binance]
base_url = "http://binance.local"
api_key = "venue-secret"
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	t.Setenv("ARBITER_RERANKER_API_KEY", "rk-123")
	t.Setenv("ARBITER_RISK_MAX_OPEN_POSITIONS", "7")
	t.Setenv("ARBITER_SCORING_MAX_QUOTE_AGE", "45s")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "memory", cfg.Store)
	assert.Equal(t, []string{"BTCUSDT"}, cfg.Carry.Symbols)
	assert.Equal(t, 12.0, cfg.Carry.HoldingHours)
	assert.Equal(t, 10*time.Minute, cfg.Carry.Lookback.Duration)
	assert.Equal(t, 3.0, cfg.Carry.PeriodsPerDay, "unset keys keep defaults")
	assert.Equal(t, "http://binance.local", cfg.Venues.Endpoints["binance"].BaseURL)
	assert.Equal(t, "rk-123", cfg.Reranker.APIKey)
	assert.Equal(t, 7, cfg.Risk.MaxOpenPositions)
	assert.Equal(t, 45*time.Second, cfg.Scoring.MaxQuoteAge.Duration)
}

func TestRedactedConfigMasksSecrets(t *testing.T) {
	cfg := Defaults()
	cfg.Postgres.Password = "pw"
	cfg.Reranker.APIKey = "rk"
	cfg.Venues.Endpoints["okx"] = VenueEndpoint{BaseURL: "http://okx", APIKey: "k", APISecret: "s"}

	out := RedactedConfig(&cfg)

	assert.Equal(t, "***", out.Postgres.Password)
	assert.Equal(t, "***", out.Reranker.APIKey)
	assert.Equal(t, "***", out.Venues.Endpoints["okx"].APIKey)
	assert.Equal(t, "***", out.Venues.Endpoints["okx"].APISecret)
	assert.Equal(t, "k", cfg.Venues.Endpoints["okx"].APIKey)
	assert.Equal(t, "", out.Server.APIKey, "empty secrets stay empty")
}

func TestCrossCostsBps(t *testing.T) {
	assert.InDelta(t, 29.0, Defaults().Cross.CostsBps(), 1e-9)
}
