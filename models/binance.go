package models

import "strings"

// BinanceTickerPrice is the payload of /api/v3/ticker/price and
// /fapi/v1/ticker/price for a single symbol.
type BinanceTickerPrice struct {
	Symbol string `json:"symbol"`
	Price  string `json:"price"`
}

// BinanceAccountBalance is one entry of the spot account balances list.
type BinanceAccountBalance struct {
	Asset  string `json:"asset"`
	Free   string `json:"free"`
	Locked string `json:"locked"`
}

// BinanceAccount is the subset of /api/v3/account the proxy reads.
type BinanceAccount struct {
	CanTrade bool                    `json:"canTrade"`
	Balances []BinanceAccountBalance `json:"balances"`
}

// Balance returns the entry for asset, matched case-insensitively.
func (a BinanceAccount) Balance(asset string) (BinanceAccountBalance, bool) {
	for _, b := range a.Balances {
		if strings.EqualFold(b.Asset, asset) {
			return b, true
		}
	}
	return BinanceAccountBalance{}, false
}
