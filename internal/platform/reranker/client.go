// Package reranker is the HTTP client for the external candidate re-ranker.
// The service receives a feature vector and answers with a score on the same
// lower-is-better scale as the internal scorers.
package reranker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sony/gobreaker"
)

// ErrDisabled is returned by New when no API key is configured.
var ErrDisabled = errors.New("reranker: disabled")

// Config configures the client.
type Config struct {
	URL             string
	APIKey          string
	Model           string
	Timeout         time.Duration
	FeatureNames    []string
	BreakerFailures uint32
	BreakerCooldown time.Duration
}

// Client calls the re-ranker behind a circuit breaker.
type Client struct {
	cfg        Config
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker
}

type scoreRequest struct {
	Model        string    `json:"model,omitempty"`
	Features     []float64 `json:"features"`
	FeatureNames []string  `json:"feature_names,omitempty"`
}

type scoreResponse struct {
	Score *float64 `json:"score"`
}

// New creates a Client. It returns ErrDisabled when the credential or URL is
// missing.
func New(cfg Config) (*Client, error) {
	if cfg.APIKey == "" || cfg.URL == "" {
		return nil, ErrDisabled
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 3 * time.Second
	}
	if cfg.BreakerFailures == 0 {
		cfg.BreakerFailures = 3
	}
	if cfg.BreakerCooldown <= 0 {
		cfg.BreakerCooldown = time.Minute
	}
	failures := cfg.BreakerFailures
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    "reranker",
			Timeout: cfg.BreakerCooldown,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= failures
			},
		}),
	}, nil
}

// Score asks the re-ranker for a score.
func (c *Client) Score(ctx context.Context, features []float64) (float64, error) {
	res, err := c.breaker.Execute(func() (interface{}, error) {
		return c.score(ctx, features)
	})
	if err != nil {
		return 0, fmt.Errorf("reranker: score: %w", err)
	}
	return res.(float64), nil
}

func (c *Client) score(ctx context.Context, features []float64) (float64, error) {
	body, err := json.Marshal(scoreRequest{
		Model:        c.cfg.Model,
		Features:     features,
		FeatureNames: c.cfg.FeatureNames,
	})
	if err != nil {
		return 0, fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return 0, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(msg))
	}

	var out scoreResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return 0, fmt.Errorf("decode response: %w", err)
	}
	if out.Score == nil {
		return 0, errors.New("response has no score")
	}
	return *out.Score, nil
}

// State reports the breaker state.
func (c *Client) State() string {
	return c.breaker.State().String()
}
