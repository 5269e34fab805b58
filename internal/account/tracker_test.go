package account

import (
	"context"
	"encoding/json"
	"testing"

	"aster-fleet-bot/internal/aster/rest"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type fakeRestSource struct {
	balances  []rest.Balance
	positions []rest.Position
	orders    []rest.OrderResponse
}

func (f *fakeRestSource) Balances(ctx context.Context) ([]rest.Balance, error) {
	return f.balances, nil
}

func (f *fakeRestSource) Positions(ctx context.Context, symbol string) ([]rest.Position, error) {
	return f.positions, nil
}

func (f *fakeRestSource) OpenOrders(ctx context.Context, symbol string) ([]rest.OrderResponse, error) {
	return f.orders, nil
}

func d(t *testing.T, s string) decimal.Decimal {
	t.Helper()
	v, err := decimal.NewFromString(s)
	if err != nil {
		t.Fatalf("bad decimal %q: %v", s, err)
	}
	return v
}

func TestTrackerOrderLifecycle(t *testing.T) {
	tr := NewTracker(nil, zap.NewNop())
	var seen []OrderUpdate
	tr.OnOrderUpdate(func(u OrderUpdate) { seen = append(seen, u) })

	newOrder := `{"e":"ORDER_TRADE_UPDATE","E":1,"o":{"s":"ETHUSDT","i":7,"X":"NEW","S":"BUY","q":"0.1","p":"3000"}}`
	tr.HandleMessage(json.RawMessage(newOrder))
	if _, ok := tr.OpenOrder(7); !ok {
		t.Fatalf("expected open order tracked")
	}

	filled := `{"e":"ORDER_TRADE_UPDATE","E":2,"o":{"s":"ETHUSDT","i":7,"X":"FILLED","S":"BUY","q":"0.1","p":"3000","ap":"3000","z":"0.1"}}`
	tr.HandleMessage(json.RawMessage(filled))
	if _, ok := tr.OpenOrder(7); ok {
		t.Fatalf("expected terminal order evicted")
	}
	if len(seen) != 2 {
		t.Fatalf("expected 2 observer calls, got %d", len(seen))
	}
	if !seen[1].Filled() {
		t.Fatalf("expected second update filled, got %+v", seen[1])
	}
}

func TestTrackerAccountUpdates(t *testing.T) {
	tr := NewTracker(nil, zap.NewNop())

	open := `{"e":"ACCOUNT_UPDATE","E":1,"a":{"m":"ORDER","B":[{"a":"USDT","wb":"500"}],"P":[{"s":"ETHUSDT","pa":"0.1","ep":"3000","ps":"BOTH"}]}}`
	tr.HandleMessage(json.RawMessage(open))
	if p, ok := tr.Position("ETHUSDT"); !ok || p.Amount.String() != "0.1" {
		t.Fatalf("expected position 0.1, got %+v ok=%v", p, ok)
	}
	if b, ok := tr.Balance("USDT"); !ok || b.String() != "500" {
		t.Fatalf("expected balance 500, got %s ok=%v", b, ok)
	}

	flat := `{"e":"ACCOUNT_UPDATE","E":2,"a":{"m":"ORDER","P":[{"s":"ETHUSDT","pa":"0","ps":"BOTH"}]}}`
	tr.HandleMessage(json.RawMessage(flat))
	if _, ok := tr.Position("ETHUSDT"); ok {
		t.Fatalf("expected flat position removed")
	}
}

func TestTrackerIgnoresJunk(t *testing.T) {
	tr := NewTracker(nil, zap.NewNop())
	tr.HandleMessage(json.RawMessage(`garbage`))
	tr.HandleMessage(json.RawMessage(`{"e":"MARGIN_CALL"}`))
	s := tr.Snapshot()
	if len(s.Balances) != 0 || len(s.Positions) != 0 || len(s.Orders) != 0 {
		t.Fatalf("expected untouched state, got %+v", s)
	}
}

func TestTrackerReconcile(t *testing.T) {
	src := &fakeRestSource{
		balances: []rest.Balance{{Asset: "USDT", Balance: d(t, "1000.5")}},
		positions: []rest.Position{
			{Symbol: "ETHUSDT", PositionAmt: d(t, "0.1"), EntryPrice: d(t, "3000")},
			{Symbol: "BTCUSDT", PositionAmt: decimal.Zero},
		},
		orders: []rest.OrderResponse{
			{OrderID: 11, Symbol: "ETHUSDT", Status: rest.StatusNew, Price: d(t, "2990")},
		},
	}
	tr := NewTracker(src, zap.NewNop())
	if err := tr.Reconcile(context.Background()); err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	s := tr.Snapshot()
	if len(s.Positions) != 1 {
		t.Fatalf("expected flat positions skipped, got %+v", s.Positions)
	}
	if b := s.Balances["USDT"]; b.String() != "1000.5" {
		t.Fatalf("expected balance 1000.5, got %s", b)
	}
	if o, ok := s.Orders[11]; !ok || o.Price.String() != "2990" {
		t.Fatalf("expected open order 11, got %+v", s.Orders)
	}
}

func TestTrackerReconcileRequiresRest(t *testing.T) {
	tr := NewTracker(nil, zap.NewNop())
	if err := tr.Reconcile(context.Background()); err == nil {
		t.Fatalf("expected error without rest client")
	}
}
