// Package aggregate sums trade quote quantities from Binance trade history
// responses.
package aggregate

import (
	"encoding/json"
	"strings"

	"github.com/shopspring/decimal"
)

// QuoteQtyField is the trade field holding the quote currency value.
const QuoteQtyField = "quoteQty"

// Precision is the number of decimals volumes are reported with.
const Precision = 2

// Sum describes one aggregation pass.
type Sum struct {
	Total   decimal.Decimal
	Records int
	Skipped int
	// IsList is false when the payload was not a JSON array, e.g. an
	// upstream error object.
	IsList bool
}

// Rounded returns Total rounded half away from zero to Precision decimals.
func (s Sum) Rounded() float64 {
	return Round(s.Total)
}

// SumQuoteQty adds the quoteQty field over a JSON array of trades. Records
// whose field is missing, null or not numeric contribute zero. A payload that
// is not an array yields a zero Sum.
func SumQuoteQty(raw json.RawMessage) Sum {
	var records []json.RawMessage
	if err := json.Unmarshal(raw, &records); err != nil || records == nil {
		return Sum{Total: decimal.Zero}
	}

	sum := Sum{Total: decimal.Zero, IsList: true, Records: len(records)}
	for _, rec := range records {
		v, ok := quoteQty(rec)
		if !ok {
			sum.Skipped++
			continue
		}
		sum.Total = sum.Total.Add(v)
	}
	return sum
}

func quoteQty(rec json.RawMessage) (decimal.Decimal, bool) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(rec, &fields); err != nil {
		return decimal.Zero, false
	}
	raw, ok := fields[QuoteQtyField]
	if !ok {
		return decimal.Zero, false
	}
	return parseNumber(raw)
}

// parseNumber accepts a JSON number or a string holding one.
func parseNumber(raw json.RawMessage) (decimal.Decimal, bool) {
	text := strings.TrimSpace(string(raw))
	if strings.HasPrefix(text, `"`) {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return decimal.Zero, false
		}
		text = strings.TrimSpace(s)
	}
	if text == "" || text == "null" || text == "true" || text == "false" {
		return decimal.Zero, false
	}
	d, err := decimal.NewFromString(text)
	if err != nil {
		return decimal.Zero, false
	}
	return d, true
}

// Round rounds d half away from zero to Precision decimals.
func Round(d decimal.Decimal) float64 {
	return d.Round(Precision).InexactFloat64()
}
