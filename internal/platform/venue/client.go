// Package venue is the REST client for per-venue quote gateways. Each gateway
// exposes top-of-book and carry (spot, perp, funding) quotes for a symbol.
package venue

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/indijan/arbiter/internal/crypto"
	"github.com/indijan/arbiter/internal/domain"
)

// Client talks to one venue's quote gateway.
type Client struct {
	name       string
	baseURL    string
	apiKey     string
	auth       *crypto.HMACAuth
	httpClient *http.Client
}

// NewClient creates a quote client for venue name rooted at baseURL.
func NewClient(name, baseURL, apiKey string) *Client {
	return &Client{
		name:    name,
		baseURL: baseURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// WithSecret enables HMAC request signing with the client's API key.
func (c *Client) WithSecret(secret string) *Client {
	if secret != "" {
		c.auth = &crypto.HMACAuth{Key: c.apiKey, Secret: secret}
	}
	return c
}

// Name returns the venue this client serves.
func (c *Client) Name() string { return c.name }

// GetQuote returns the best bid/ask for symbol.
func (c *Client) GetQuote(ctx context.Context, symbol string) (domain.Quote, error) {
	var resp quoteResponse
	if err := c.get(ctx, "/v1/quote", symbol, &resp); err != nil {
		return domain.Quote{}, fmt.Errorf("venue %s: quote %s: %w", c.name, symbol, err)
	}
	q := domain.Quote{
		Venue:  c.name,
		Symbol: symbol,
		Bid:    resp.Bid,
		Ask:    resp.Ask,
		TS:     fromMillis(resp.TS),
	}
	if !q.Valid() {
		return q, fmt.Errorf("venue %s: quote %s bid=%v ask=%v: %w", c.name, symbol, q.Bid, q.Ask, domain.ErrInvalidQuote)
	}
	return q, nil
}

// GetCarryQuote returns spot and perp top-of-book plus the funding rate.
func (c *Client) GetCarryQuote(ctx context.Context, symbol string) (domain.CarryQuote, error) {
	var resp carryResponse
	if err := c.get(ctx, "/v1/carry", symbol, &resp); err != nil {
		return domain.CarryQuote{}, fmt.Errorf("venue %s: carry %s: %w", c.name, symbol, err)
	}
	q := domain.CarryQuote{
		Venue:       c.name,
		Symbol:      symbol,
		SpotBid:     resp.SpotBid,
		SpotAsk:     resp.SpotAsk,
		PerpBid:     resp.PerpBid,
		PerpAsk:     resp.PerpAsk,
		FundingRate: resp.FundingRate,
		TS:          fromMillis(resp.TS),
	}
	if !q.Valid() {
		return q, fmt.Errorf("venue %s: carry %s: %w", c.name, symbol, domain.ErrInvalidQuote)
	}
	return q, nil
}

// get issues a GET and decodes the JSON body into dst. Every transport or
// status failure wraps domain.ErrQuoteUnavailable.
func (c *Client) get(ctx context.Context, path, symbol string, dst any) error {
	pathAndQuery := path + "?" + url.Values{"symbol": {symbol}}.Encode()
	u := c.baseURL + pathAndQuery

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	switch {
	case c.auth != nil:
		for k, v := range c.auth.Headers(http.MethodGet, pathAndQuery) {
			req.Header.Set(k, v)
		}
	case c.apiKey != "":
		req.Header.Set(crypto.HeaderAPIKey, c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %v: %w", err, domain.ErrQuoteUnavailable)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %v: %w", err, domain.ErrQuoteUnavailable)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var e errorResponse
		_ = json.Unmarshal(body, &e)
		if e.Error == "" {
			e.Error = http.StatusText(resp.StatusCode)
		}
		return fmt.Errorf("status %d: %s: %w", resp.StatusCode, e.Error, domain.ErrQuoteUnavailable)
	}

	if err := json.Unmarshal(body, dst); err != nil {
		return fmt.Errorf("decode: %v: %w", err, domain.ErrQuoteUnavailable)
	}
	return nil
}

func fromMillis(ms int64) time.Time {
	if ms <= 0 {
		return time.Now().UTC()
	}
	return time.UnixMilli(ms).UTC()
}

// Router dispatches MarketDataProvider calls to the client for each venue.
type Router struct {
	clients map[string]*Client
}

// NewRouter builds a Router over the given clients, keyed by venue name.
func NewRouter(clients ...*Client) *Router {
	m := make(map[string]*Client, len(clients))
	for _, c := range clients {
		m[c.Name()] = c
	}
	return &Router{clients: m}
}

func (r *Router) client(venue string) (*Client, error) {
	c, ok := r.clients[venue]
	if !ok {
		return nil, fmt.Errorf("venue %s: not configured: %w", venue, domain.ErrQuoteUnavailable)
	}
	return c, nil
}

// GetQuote implements domain.MarketDataProvider.
func (r *Router) GetQuote(ctx context.Context, venue, symbol string) (domain.Quote, error) {
	c, err := r.client(venue)
	if err != nil {
		return domain.Quote{}, err
	}
	return c.GetQuote(ctx, symbol)
}

// GetCarryQuote implements domain.MarketDataProvider.
func (r *Router) GetCarryQuote(ctx context.Context, venue, symbol string) (domain.CarryQuote, error) {
	c, err := r.client(venue)
	if err != nil {
		return domain.CarryQuote{}, err
	}
	return c.GetCarryQuote(ctx, symbol)
}

var _ domain.MarketDataProvider = (*Router)(nil)
