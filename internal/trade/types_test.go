package trade

import (
	"encoding/json"
	"testing"
	"time"
)

func TestSideOpposite(t *testing.T) {
	if SideBuy.Opposite() != SideSell || SideSell.Opposite() != SideBuy {
		t.Fatalf("sides should mirror")
	}
	if Side("HOLD").Valid() {
		t.Fatalf("unknown side should not validate")
	}
}

func TestTradeSnapshotExactStrings(t *testing.T) {
	created := time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)
	tr := &Trade{
		TradeID:  "t-1",
		Symbol:   "ETHUSDT",
		Side:     SideBuy,
		Quantity: d("0.100"),
		Status:   StatusActive,
		Entry: OrderLeg{
			Role:     RoleEntry,
			OrderID:  42,
			Price:    d("3000.00"),
			Quantity: d("0.100"),
			Status:   LegFilled,
			PlacedAt: created,
			FilledAt: created.Add(time.Second),
		},
		TakeProfits: []OrderLeg{
			{Role: RoleTakeProfit, OrderID: 43, Price: d("3015.00"), Quantity: d("0.05"), Status: LegPlaced},
			{Role: RoleTakeProfit, Price: d("3030.00"), Quantity: d("0.05"), Status: LegFailed,
				Err: Errf(ErrVenueRejected, "rejected: would immediately match")},
		},
		StopLoss:  OrderLeg{Role: RoleStopLoss, OrderID: 44, Price: d("2985.00"), Quantity: d("0.100"), Status: LegPlaced},
		TPLegs:    []TPLeg{{Percent: d("0.5"), Fraction: d("0.5")}, {Percent: d("1.0"), Fraction: d("0.5")}},
		SLPercent: d("0.5"),
		CreatedAt: created,
		Metadata:  map[string]string{"source": "nats"},
	}

	snap := tr.Snapshot()
	if snap["quantity"] != "0.1" {
		t.Fatalf("expected quantity string 0.1, got %v", snap["quantity"])
	}
	if snap["closed_at"] != "" {
		t.Fatalf("open trade should render an empty close time, got %v", snap["closed_at"])
	}
	entry := snap["entry"].(map[string]any)
	if entry["order_id"] != int64(42) {
		t.Fatalf("expected entry order id 42, got %v", entry["order_id"])
	}
	tps := snap["take_profits"].([]map[string]any)
	if len(tps) != 2 {
		t.Fatalf("expected 2 tp snapshots, got %d", len(tps))
	}
	if _, ok := tps[0]["error"]; ok {
		t.Fatalf("placed leg should carry no error")
	}
	if tps[1]["error_kind"] != string(ErrVenueRejected) {
		t.Fatalf("expected error kind on failed leg, got %v", tps[1]["error_kind"])
	}

	// Snapshots feed logs and persistence, so all prices must survive
	// a JSON round trip as strings.
	raw, err := json.Marshal(snap)
	if err != nil {
		t.Fatalf("snapshot should marshal: %v", err)
	}
	var back map[string]any
	if err := json.Unmarshal(raw, &back); err != nil {
		t.Fatalf("snapshot should round-trip: %v", err)
	}
	if back["sl_percent"] != "0.5" {
		t.Fatalf("expected sl_percent \"0.5\", got %v", back["sl_percent"])
	}
}

func TestLegStatusTerminal(t *testing.T) {
	for _, s := range []LegStatus{LegFilled, LegCancelled, LegFailed} {
		if !s.Terminal() {
			t.Fatalf("%s should be terminal", s)
		}
	}
	if LegPending.Terminal() || LegPlaced.Terminal() {
		t.Fatalf("pending and placed legs are live")
	}
}
