package reranker

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDisabledWithoutKey(t *testing.T) {
	_, err := New(Config{URL: "http://localhost"})
	assert.ErrorIs(t, err, ErrDisabled)
}

func TestScore(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))

		var req scoreRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, []float64{1, 2, 3}, req.Features)
		assert.Equal(t, "ranker-v1", req.Model)

		_, _ = w.Write([]byte(`{"score": -4.5}`))
	}))
	defer srv.Close()

	c, err := New(Config{URL: srv.URL, APIKey: "secret", Model: "ranker-v1"})
	require.NoError(t, err)

	got, err := c.Score(context.Background(), []float64{1, 2, 3})
	require.NoError(t, err)
	assert.Equal(t, -4.5, got)
}

func TestScoreMissingField(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c, err := New(Config{URL: srv.URL, APIKey: "k"})
	require.NoError(t, err)
	_, err = c.Score(context.Background(), []float64{1})
	assert.Error(t, err)
}

func TestScoreTimeoutAndBreaker(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(time.Second):
		}
		w.WriteHeader(http.StatusGatewayTimeout)
	}))
	defer srv.Close()

	c, err := New(Config{URL: srv.URL, APIKey: "k", BreakerFailures: 2, BreakerCooldown: time.Minute})
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		_, err := c.Score(ctx, []float64{1})
		cancel()
		require.Error(t, err)
	}
	assert.Equal(t, "open", c.State())

	_, err = c.Score(context.Background(), []float64{1})
	assert.Error(t, err)
}
