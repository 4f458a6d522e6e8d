package models

import "encoding/json"

// Market labels used in price responses.
const (
	MarketSpot    = "spot"
	MarketFutures = "futures"
)

// Error codes returned in ErrorResponse.Error.
const (
	ErrUnauthorized       = "unauthorized"
	ErrMissingBinanceKeys = "missing_binance_keys"
	ErrMissingDate        = "missing_date"
	ErrInvalidDate        = "invalid_date"
	ErrBinance            = "binance_error"
	ErrProxyException     = "proxy_exception"
)

type PriceResponse struct {
	Type   string  `json:"type"`
	Symbol string  `json:"symbol"`
	Price  float64 `json:"price"`
}

type BalanceResponse struct {
	Asset  string  `json:"asset"`
	Free   float64 `json:"free"`
	Locked float64 `json:"locked"`
	Total  float64 `json:"total"`
}

// FuturesBalanceResponse wraps the upstream balance array unchanged.
type FuturesBalanceResponse struct {
	Balances json.RawMessage `json:"balances"`
}

type HedgeVolumeResponse struct {
	Date                   string  `json:"date"`
	SpotHedgeVolumeUSDT    float64 `json:"spotHedgeVolumeUSDT"`
	FuturesHedgeVolumeUSDT float64 `json:"futuresHedgeVolumeUSDT"`
}

type IndexResponse struct {
	OK     bool     `json:"ok"`
	Routes []string `json:"routes"`
}

// ErrorResponse is the body of every failed request. Data carries the
// upstream body for binance_error.
type ErrorResponse struct {
	Error   string      `json:"error"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}
