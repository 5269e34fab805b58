package market

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// BookTicker is one best-bid/offer event from the all-market ticker
// stream.
type BookTicker struct {
	Symbol    string
	UpdateID  int64
	BestBid   decimal.Decimal
	BidQty    decimal.Decimal
	BestAsk   decimal.Decimal
	AskQty    decimal.Decimal
	EventTime time.Time
}

// Combined streams wrap every event in {"stream": ..., "data": ...};
// the single-stream endpoints deliver the event bare.
type streamEnvelope struct {
	Stream string          `json:"stream"`
	Data   json.RawMessage `json:"data"`
}

type bookTickerWire struct {
	Event     string          `json:"e"`
	UpdateID  int64           `json:"u"`
	Symbol    string          `json:"s"`
	BidPrice  decimal.Decimal `json:"b"`
	BidQty    decimal.Decimal `json:"B"`
	AskPrice  decimal.Decimal `json:"a"`
	AskQty    decimal.Decimal `json:"A"`
	EventTime int64           `json:"E"`
}

// ParseBookTicker decodes a bookTicker event, unwrapping the combined
// stream envelope when present. Events of other types and events with
// an empty book side are rejected.
func ParseBookTicker(raw []byte) (BookTicker, bool) {
	var env streamEnvelope
	if err := json.Unmarshal(raw, &env); err == nil && len(env.Data) > 0 {
		raw = env.Data
	}
	var w bookTickerWire
	if err := json.Unmarshal(raw, &w); err != nil {
		return BookTicker{}, false
	}
	if w.Event != "" && w.Event != "bookTicker" {
		return BookTicker{}, false
	}
	if w.Symbol == "" || w.BidPrice.Sign() <= 0 || w.AskPrice.Sign() <= 0 {
		return BookTicker{}, false
	}
	t := BookTicker{
		Symbol:   w.Symbol,
		UpdateID: w.UpdateID,
		BestBid:  w.BidPrice,
		BidQty:   w.BidQty,
		BestAsk:  w.AskPrice,
		AskQty:   w.AskQty,
	}
	if w.EventTime > 0 {
		t.EventTime = time.UnixMilli(w.EventTime).UTC()
	}
	return t, true
}
