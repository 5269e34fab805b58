package market

import (
	"context"
	"errors"
	"testing"
	"time"

	"aster-fleet-bot/internal/aster/rest"

	"go.uber.org/zap"
)

type fakeInfoSource struct {
	info  rest.ExchangeInfo
	err   error
	calls int
}

func (f *fakeInfoSource) ExchangeInfo(ctx context.Context) (rest.ExchangeInfo, error) {
	f.calls++
	return f.info, f.err
}

func testExchangeInfo(t *testing.T) rest.ExchangeInfo {
	t.Helper()
	return rest.ExchangeInfo{Symbols: []rest.SymbolInfo{
		{
			Symbol:            "ETHUSDT",
			Status:            "TRADING",
			PricePrecision:    2,
			QuantityPrecision: 3,
			Filters: []rest.SymbolFilter{
				{FilterType: "PRICE_FILTER", TickSize: dec(t, "0.01")},
				{FilterType: "LOT_SIZE", StepSize: dec(t, "0.001"), MinQty: dec(t, "0.001"), MaxQty: dec(t, "10000")},
				{FilterType: "MIN_NOTIONAL", Notional: dec(t, "5")},
			},
		},
		{
			Symbol:            "BTCUSDT",
			Status:            "TRADING",
			PricePrecision:    1,
			QuantityPrecision: 3,
		},
	}}
}

func TestSymbolCacheWarmup(t *testing.T) {
	src := &fakeInfoSource{info: testExchangeInfo(t)}
	c := NewSymbolCache(src, zap.NewNop())
	if err := c.Warmup(context.Background()); err != nil {
		t.Fatalf("warmup: %v", err)
	}
	if src.calls != 1 {
		t.Fatalf("expected one fetch, got %d", src.calls)
	}

	f, err := c.Filters(context.Background(), "ethusdt")
	if err != nil {
		t.Fatalf("filters: %v", err)
	}
	if f.TickSize.String() != "0.01" {
		t.Fatalf("expected tick 0.01, got %s", f.TickSize)
	}
	if f.StepSize.String() != "0.001" {
		t.Fatalf("expected step 0.001, got %s", f.StepSize)
	}
	if f.MinNotional.String() != "5" {
		t.Fatalf("expected min notional 5, got %s", f.MinNotional)
	}
	if src.calls != 1 {
		t.Fatalf("expected cached lookup, got %d fetches", src.calls)
	}
}

func TestSymbolCachePrecisionFallback(t *testing.T) {
	src := &fakeInfoSource{info: testExchangeInfo(t)}
	c := NewSymbolCache(src, zap.NewNop())
	f, err := c.Filters(context.Background(), "BTCUSDT")
	if err != nil {
		t.Fatalf("filters: %v", err)
	}
	if f.TickSize.String() != "0.1" {
		t.Fatalf("expected tick derived from price precision, got %s", f.TickSize)
	}
	if f.StepSize.String() != "0.001" {
		t.Fatalf("expected step derived from quantity precision, got %s", f.StepSize)
	}
}

func TestSymbolCacheUnknownSymbol(t *testing.T) {
	src := &fakeInfoSource{info: testExchangeInfo(t)}
	c := NewSymbolCache(src, zap.NewNop())
	if _, err := c.Filters(context.Background(), "DOGEUSDT"); err == nil {
		t.Fatalf("expected error for unlisted symbol")
	}
	if src.calls != 1 {
		t.Fatalf("expected one refresh attempt, got %d", src.calls)
	}
	// A second miss inside the refresh window must not refetch.
	if _, err := c.Filters(context.Background(), "DOGEUSDT"); err == nil {
		t.Fatalf("expected error for unlisted symbol")
	}
	if src.calls != 1 {
		t.Fatalf("expected refresh window to suppress refetch, got %d", src.calls)
	}
}

func TestSymbolCacheRefreshAfterWindow(t *testing.T) {
	src := &fakeInfoSource{info: testExchangeInfo(t)}
	c := NewSymbolCache(src, zap.NewNop())
	c.refreshWindow = time.Millisecond
	if err := c.Warmup(context.Background()); err != nil {
		t.Fatalf("warmup: %v", err)
	}
	time.Sleep(5 * time.Millisecond)
	if _, err := c.Filters(context.Background(), "DOGEUSDT"); err == nil {
		t.Fatalf("expected error for unlisted symbol")
	}
	if src.calls != 2 {
		t.Fatalf("expected refetch after window, got %d", src.calls)
	}
}

func TestSymbolCacheSourceError(t *testing.T) {
	src := &fakeInfoSource{err: errors.New("boom")}
	c := NewSymbolCache(src, zap.NewNop())
	if err := c.Warmup(context.Background()); err == nil {
		t.Fatalf("expected warmup error")
	}
	if _, err := c.TickSize(context.Background(), "ETHUSDT"); err == nil {
		t.Fatalf("expected lookup error")
	}
}
