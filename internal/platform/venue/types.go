package venue

// --------------------------------------------------------------------------
// Quote gateway DTOs
// --------------------------------------------------------------------------

// quoteResponse is the top-of-book payload returned by GET /v1/quote.
type quoteResponse struct {
	Symbol string  `json:"symbol"`
	Bid    float64 `json:"bid"`
	Ask    float64 `json:"ask"`
	TS     int64   `json:"ts"` // unix milliseconds
}

// carryResponse is the spot + perp payload returned by GET /v1/carry.
type carryResponse struct {
	Symbol      string  `json:"symbol"`
	SpotBid     float64 `json:"spot_bid"`
	SpotAsk     float64 `json:"spot_ask"`
	PerpBid     float64 `json:"perp_bid"`
	PerpAsk     float64 `json:"perp_ask"`
	FundingRate float64 `json:"funding_rate"`
	TS          int64   `json:"ts"` // unix milliseconds
}

// errorResponse is returned with non-2xx status codes.
type errorResponse struct {
	Error string `json:"error"`
}
