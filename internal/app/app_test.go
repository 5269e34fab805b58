package app

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"aster-fleet-bot/internal/account"
	"aster-fleet-bot/internal/alerts"
	"aster-fleet-bot/internal/aster/ws"
	"aster-fleet-bot/internal/config"
	"aster-fleet-bot/internal/market"
	"aster-fleet-bot/internal/metrics"
	"aster-fleet-bot/internal/state"
	"aster-fleet-bot/internal/trade"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type memoryStore struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newMemoryStore() *memoryStore {
	return &memoryStore{data: make(map[string][]byte)}
}

func (m *memoryStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *memoryStore) Set(_ context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = append([]byte(nil), value...)
	return nil
}

func (m *memoryStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

func (m *memoryStore) List(_ context.Context, prefix string) (map[string][]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string][]byte)
	for k, v := range m.data {
		if strings.HasPrefix(k, prefix) {
			out[k] = append([]byte(nil), v...)
		}
	}
	return out, nil
}

func (m *memoryStore) Close() error { return nil }

func newTestApp() *App {
	log := zap.NewNop()
	return &App{
		cfg:     &config.Config{},
		log:     log,
		store:   newMemoryStore(),
		quotes:  market.NewQuoteCache(),
		symbols: market.NewSymbolCache(nil, log),
		stream:  ws.NewStream(ws.Options{URL: "ws://127.0.0.1:0"}, log),
		met:     metrics.NewNoop(),
		alerts:  alerts.NewTelegram(config.TelegramConfig{}, log),
		closer:  trade.NewController(nil, nil, log, nil),
		live:    make(map[string]liveTrade),
	}
}

func activeTrade(id, symbol string) *trade.Trade {
	return &trade.Trade{
		TradeID:  id,
		Symbol:   symbol,
		Side:     trade.SideBuy,
		Quantity: decimal.RequireFromString("0.1"),
		Status:   trade.StatusActive,
		Entry: trade.OrderLeg{
			Role:    trade.RoleEntry,
			OrderID: 11,
			Price:   decimal.RequireFromString("3000"),
			Status:  trade.LegFilled,
		},
		TakeProfits: []trade.OrderLeg{{Role: trade.RoleTakeProfit, OrderID: 12, Status: trade.LegPlaced}},
		StopLoss:    trade.OrderLeg{Role: trade.RoleStopLoss, OrderID: 13, Status: trade.LegPlaced},
		Metadata:    map[string]string{},
	}
}

func TestNewBuildsFleet(t *testing.T) {
	disabled := false
	cfg := &config.Config{
		State:   config.StateConfig{SQLitePath: filepath.Join(t.TempDir(), "state.db")},
		NATS:    config.NATSConfig{Enabled: &disabled},
		Metrics: config.MetricsConfig{Enabled: &disabled},
		REST:    config.RESTConfig{BaseURL: "http://127.0.0.1:0", Timeout: time.Second},
		Stream:  config.StreamConfig{URL: "ws://127.0.0.1:0"},
		Accounts: []config.AccountConfig{
			{ID: "live1", APIKey: "k", APISecret: "s", Quantity: "0.25"},
			{ID: "sim1", Simulation: true},
		},
	}
	a, err := New(cfg, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	defer a.store.Close()
	if a.bus != nil {
		t.Fatal("bus listener built with nats disabled")
	}
	if a.prom != nil {
		t.Fatal("prometheus built with metrics disabled")
	}
	if len(a.accounts) != 2 {
		t.Fatalf("expected 2 account specs, got %d", len(a.accounts))
	}
	if !a.accounts[0].Quantity.Equal(decimal.RequireFromString("0.25")) {
		t.Fatalf("quantity not parsed: %s", a.accounts[0].Quantity)
	}
	if len(a.fleet) != 1 || a.fleet[0].id != "live1" {
		t.Fatalf("expected one live account, got %d", len(a.fleet))
	}
}

func TestNewRejectsBadQuantity(t *testing.T) {
	disabled := false
	cfg := &config.Config{
		State:    config.StateConfig{SQLitePath: filepath.Join(t.TempDir(), "state.db")},
		NATS:     config.NATSConfig{Enabled: &disabled},
		Metrics:  config.MetricsConfig{Enabled: &disabled},
		Accounts: []config.AccountConfig{{ID: "x", APIKey: "k", APISecret: "s", Quantity: "lots"}},
	}
	if _, err := New(cfg, zap.NewNop()); err == nil {
		t.Fatal("expected quantity parse error")
	}
}

func TestObserveTradeRecordLifecycle(t *testing.T) {
	a := newTestApp()
	ctx := context.Background()

	tr := activeTrade("t1", "ETHUSDT")
	tr.Status = trade.StatusEntryPlaced
	a.observeTrade("acct1", tr)

	rec, ok, err := state.LoadTradeRecord(ctx, a.store, "t1")
	if err != nil || !ok {
		t.Fatalf("record not saved: ok=%v err=%v", ok, err)
	}
	if rec.Status != string(trade.StatusEntryPlaced) || rec.AccountID != "acct1" {
		t.Fatalf("unexpected record %+v", rec)
	}

	tr.Status = trade.StatusActive
	a.observeTrade("acct1", tr)
	rec, _, _ = state.LoadTradeRecord(ctx, a.store, "t1")
	if rec.Status != string(trade.StatusActive) {
		t.Fatalf("status not updated, got %s", rec.Status)
	}
	if rec.EntryOrderID != 11 || len(rec.ExitOrderIDs) != 2 {
		t.Fatalf("order ids not captured: %+v", rec)
	}
	a.liveMu.Lock()
	_, live := a.live["t1"]
	a.liveMu.Unlock()
	if !live {
		t.Fatal("active trade not tracked")
	}

	tr.Status = trade.StatusCompleted
	a.observeTrade("acct1", tr)
	if _, ok, _ := state.LoadTradeRecord(ctx, a.store, "t1"); ok {
		t.Fatal("terminal trade record not deleted")
	}
	a.liveMu.Lock()
	_, live = a.live["t1"]
	a.liveMu.Unlock()
	if live {
		t.Fatal("terminal trade still tracked")
	}
}

func TestCompleteTradesOnFlatPosition(t *testing.T) {
	a := newTestApp()
	mine := activeTrade("t1", "ETHUSDT")
	other := activeTrade("t2", "BTCUSDT")
	sibling := activeTrade("t3", "ETHUSDT")
	a.rememberLive("acct1", mine)
	a.rememberLive("acct1", other)
	a.rememberLive("acct2", sibling)

	a.onAccountUpdate("acct1", account.AccountUpdate{
		Positions: []account.PositionUpdate{
			{Symbol: "ETHUSDT", Amount: decimal.Zero},
			{Symbol: "BTCUSDT", Amount: decimal.RequireFromString("0.5")},
		},
	})

	if mine.Status != trade.StatusCompleted {
		t.Fatalf("trade not completed, status %s", mine.Status)
	}
	if mine.ClosedAt.IsZero() {
		t.Fatal("closed time not set")
	}
	if other.Status != trade.StatusActive {
		t.Fatal("open position trade must stay active")
	}
	if sibling.Status != trade.StatusActive {
		t.Fatal("other account's trade must stay active")
	}
	a.liveMu.Lock()
	_, stillLive := a.live["t1"]
	n := len(a.live)
	a.liveMu.Unlock()
	if stillLive || n != 2 {
		t.Fatalf("completed trade still tracked: live=%v n=%d", stillLive, n)
	}
}

func TestRecordReconnectStorm(t *testing.T) {
	a := newTestApp()
	base := time.Now()
	for i := 0; i < stormThreshold-1; i++ {
		if _, storm := a.recordReconnect(base.Add(time.Duration(i) * time.Second)); storm {
			t.Fatalf("storm before threshold at reconnect %d", i+1)
		}
	}
	count, storm := a.recordReconnect(base.Add(5 * time.Second))
	if !storm || count != stormThreshold {
		t.Fatalf("expected storm at %d reconnects, got storm=%v count=%d", stormThreshold, storm, count)
	}
	if _, storm := a.recordReconnect(base.Add(6 * time.Second)); storm {
		t.Fatal("second alert inside suppression window")
	}
	later := base.Add(stormWindow + time.Hour)
	for i := 0; i < stormThreshold-1; i++ {
		if _, storm := a.recordReconnect(later.Add(time.Duration(i) * time.Second)); storm {
			t.Fatalf("storm before threshold after re-arm at reconnect %d", i+1)
		}
	}
	if _, storm := a.recordReconnect(later.Add(5 * time.Second)); !storm {
		t.Fatal("storm alert did not re-arm after window passed")
	}
}

func TestRestorePaused(t *testing.T) {
	a := newTestApp()
	ctx := context.Background()
	a.restorePaused(ctx)
	if a.isPaused() {
		t.Fatal("paused without a stored flag")
	}
	if err := a.store.Set(ctx, pausedKey, []byte("1")); err != nil {
		t.Fatal(err)
	}
	a.restorePaused(ctx)
	if !a.isPaused() {
		t.Fatal("stored pause not restored")
	}
}
