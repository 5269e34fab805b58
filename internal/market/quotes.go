package market

import (
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// Quote is an immutable top-of-book snapshot for one symbol. TickSize
// is merged in from the symbol filters so pricing code gets everything
// it needs in one value.
type Quote struct {
	Symbol     string
	BestBid    decimal.Decimal
	BestAsk    decimal.Decimal
	BidQty     decimal.Decimal
	AskQty     decimal.Decimal
	TickSize   decimal.Decimal
	ObservedAt time.Time
}

// Valid reports whether both sides of the book are quoted.
func (q Quote) Valid() bool {
	return q.BestBid.Sign() > 0 && q.BestAsk.Sign() > 0
}

// Age returns how long ago the quote was observed.
func (q Quote) Age() time.Duration {
	if q.ObservedAt.IsZero() {
		return 0
	}
	return time.Since(q.ObservedAt)
}

// QuoteCache holds the latest best bid/offer per symbol, last write
// wins. Reads never block on the stream; a missing symbol is reported,
// not waited for.
type QuoteCache struct {
	mu     sync.RWMutex
	quotes map[string]Quote
	ticks  map[string]decimal.Decimal
}

func NewQuoteCache() *QuoteCache {
	return &QuoteCache{
		quotes: make(map[string]Quote),
		ticks:  make(map[string]decimal.Decimal),
	}
}

// SetTick seeds the tick size merged into every snapshot for the
// symbol, including snapshots already stored.
func (c *QuoteCache) SetTick(symbol string, tick decimal.Decimal) {
	symbol = strings.ToUpper(symbol)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ticks[symbol] = tick
	if q, ok := c.quotes[symbol]; ok {
		q.TickSize = tick
		c.quotes[symbol] = q
	}
}

// Update stores the BBO from a ticker event.
func (c *QuoteCache) Update(t BookTicker) {
	symbol := strings.ToUpper(t.Symbol)
	if symbol == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.quotes[symbol] = Quote{
		Symbol:     symbol,
		BestBid:    t.BestBid,
		BestAsk:    t.BestAsk,
		BidQty:     t.BidQty,
		AskQty:     t.AskQty,
		TickSize:   c.ticks[symbol],
		ObservedAt: time.Now().UTC(),
	}
}

// Quote returns the latest snapshot for the symbol.
func (c *QuoteCache) Quote(symbol string) (Quote, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	q, ok := c.quotes[strings.ToUpper(symbol)]
	return q, ok
}

// Symbols returns every symbol with a stored quote.
func (c *QuoteCache) Symbols() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.quotes))
	for s := range c.quotes {
		out = append(out, s)
	}
	return out
}
