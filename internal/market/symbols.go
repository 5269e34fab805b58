package market

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"aster-fleet-bot/internal/aster/rest"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Filters are the per-symbol trading constraints resolved from
// exchange info.
type Filters struct {
	Symbol            string
	TickSize          decimal.Decimal
	StepSize          decimal.Decimal
	MinQty            decimal.Decimal
	MaxQty            decimal.Decimal
	MinNotional       decimal.Decimal
	PricePrecision    int
	QuantityPrecision int
}

// InfoSource supplies exchange metadata, normally *rest.Client.
type InfoSource interface {
	ExchangeInfo(ctx context.Context) (rest.ExchangeInfo, error)
}

// SymbolCache resolves and caches per-symbol filters. A lookup miss
// triggers a refresh, rate-limited so unknown symbols cannot hammer
// the endpoint.
type SymbolCache struct {
	source InfoSource
	log    *zap.Logger

	mu            sync.RWMutex
	filters       map[string]Filters
	lastRefresh   time.Time
	refreshWindow time.Duration
}

func NewSymbolCache(source InfoSource, log *zap.Logger) *SymbolCache {
	return &SymbolCache{
		source:        source,
		log:           log,
		filters:       make(map[string]Filters),
		refreshWindow: 30 * time.Second,
	}
}

// Warmup preloads filters for every listed symbol.
func (c *SymbolCache) Warmup(ctx context.Context) error {
	return c.refresh(ctx)
}

// Filters returns the constraints for a symbol, refreshing the cache
// on a miss.
func (c *SymbolCache) Filters(ctx context.Context, symbol string) (Filters, error) {
	symbol = strings.ToUpper(symbol)
	if f, ok := c.lookup(symbol); ok {
		return f, nil
	}
	if c.shouldRefresh() {
		if err := c.refresh(ctx); err != nil {
			return Filters{}, err
		}
	}
	if f, ok := c.lookup(symbol); ok {
		return f, nil
	}
	return Filters{}, fmt.Errorf("symbol %s not listed", symbol)
}

// TickSize is a convenience lookup for pricing code.
func (c *SymbolCache) TickSize(ctx context.Context, symbol string) (decimal.Decimal, error) {
	f, err := c.Filters(ctx, symbol)
	if err != nil {
		return decimal.Zero, err
	}
	if f.TickSize.IsZero() {
		return decimal.Zero, fmt.Errorf("symbol %s has no tick size", symbol)
	}
	return f.TickSize, nil
}

// Symbols returns every cached symbol.
func (c *SymbolCache) Symbols() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.filters))
	for s := range c.filters {
		out = append(out, s)
	}
	return out
}

func (c *SymbolCache) lookup(symbol string) (Filters, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	f, ok := c.filters[symbol]
	return f, ok
}

func (c *SymbolCache) shouldRefresh() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.lastRefresh.IsZero() {
		return true
	}
	return time.Since(c.lastRefresh) >= c.refreshWindow
}

func (c *SymbolCache) refresh(ctx context.Context) error {
	info, err := c.source.ExchangeInfo(ctx)
	if err != nil {
		return fmt.Errorf("exchange info: %w", err)
	}
	parsed := make(map[string]Filters, len(info.Symbols))
	for _, s := range info.Symbols {
		f := filtersFromInfo(s)
		parsed[strings.ToUpper(f.Symbol)] = f
	}
	c.mu.Lock()
	c.filters = parsed
	c.lastRefresh = time.Now().UTC()
	c.mu.Unlock()
	if c.log != nil {
		c.log.Debug("symbol filters refreshed", zap.Int("symbols", len(parsed)))
	}
	return nil
}

func filtersFromInfo(s rest.SymbolInfo) Filters {
	f := Filters{
		Symbol:            s.Symbol,
		PricePrecision:    s.PricePrecision,
		QuantityPrecision: s.QuantityPrecision,
	}
	for _, flt := range s.Filters {
		switch flt.FilterType {
		case "PRICE_FILTER":
			f.TickSize = flt.TickSize
		case "LOT_SIZE":
			f.StepSize = flt.StepSize
			f.MinQty = flt.MinQty
			f.MaxQty = flt.MaxQty
		case "MIN_NOTIONAL":
			f.MinNotional = flt.Notional
		}
	}
	// Some listings omit the explicit filters; fall back to the
	// precision fields.
	if f.TickSize.IsZero() && s.PricePrecision > 0 {
		f.TickSize = decimal.New(1, -int32(s.PricePrecision))
	}
	if f.StepSize.IsZero() && s.QuantityPrecision > 0 {
		f.StepSize = decimal.New(1, -int32(s.QuantityPrecision))
	}
	return f
}
