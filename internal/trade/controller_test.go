package trade

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"
)

func tradeRequest() TradeRequest {
	return TradeRequest{
		Symbol:          "ETHUSDT",
		Side:            SideBuy,
		Quantity:        d("0.1"),
		TP:              EqualSplitTP(d("0.5"), d("1.0")),
		SLPercent:       d("0.5"),
		TickSize:        d("0.01"),
		StepSize:        d("0.001"),
		TicksDistance:   0,
		MaxRetries:      3,
		FillTimeout:     30 * time.Millisecond,
		PollInterval:    5 * time.Millisecond,
		MaxChasePercent: d("1"),
	}
}

func instantFillVenue(avg string) *scriptedVenue {
	v := &scriptedVenue{}
	v.onQuery = func(orderID int64) (OrderState, error) {
		return OrderState{OrderID: orderID, Filled: true, Terminal: true, AvgPrice: d(avg)}, nil
	}
	return v
}

func TestCreateTradeFullLifecycle(t *testing.T) {
	v := instantFillVenue("3000.00")
	c := NewController(v, &staticQuotes{}, zap.NewNop(), nil)

	var seen []Status
	c.OnTransition(func(_ context.Context, tr *Trade) {
		seen = append(seen, tr.Status)
	})

	tr, err := c.CreateTrade(context.Background(), tradeRequest(), Quote{BestBid: d("3000.00"), BestAsk: d("3000.05")})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tr.Status != StatusActive {
		t.Fatalf("expected %s, got %s", StatusActive, tr.Status)
	}
	if tr.TradeID == "" {
		t.Fatalf("trade must carry an id")
	}
	if tr.Entry.Status != LegFilled || !tr.Entry.Price.Equal(d("3000.00")) {
		t.Fatalf("expected entry filled at 3000.00, got %s at %s", tr.Entry.Status, tr.Entry.Price)
	}
	if len(tr.TakeProfits) != 2 {
		t.Fatalf("expected 2 take-profit legs, got %d", len(tr.TakeProfits))
	}
	if !tr.TakeProfits[0].Price.Equal(d("3015.00")) || !tr.TakeProfits[1].Price.Equal(d("3030.00")) {
		t.Fatalf("unexpected tp prices %s, %s", tr.TakeProfits[0].Price, tr.TakeProfits[1].Price)
	}
	if !tr.TakeProfits[0].Quantity.Equal(d("0.05")) || !tr.TakeProfits[1].Quantity.Equal(d("0.05")) {
		t.Fatalf("unexpected tp quantities %s, %s", tr.TakeProfits[0].Quantity, tr.TakeProfits[1].Quantity)
	}
	if !tr.StopLoss.Price.Equal(d("2985.00")) {
		t.Fatalf("expected sl 2985.00, got %s", tr.StopLoss.Price)
	}

	want := []Status{StatusEntryPlaced, StatusEntryFilled, StatusActive}
	if len(seen) != len(want) {
		t.Fatalf("expected transitions %v, got %v", want, seen)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Fatalf("expected transitions %v, got %v", want, seen)
		}
	}
	// One entry, two take-profits, one stop.
	if len(v.submitted()) != 4 {
		t.Fatalf("expected 4 submits, got %d", len(v.submitted()))
	}
}

func TestCreateTradeValidationFailsBeforeVenue(t *testing.T) {
	v := &scriptedVenue{}
	c := NewController(v, &staticQuotes{}, zap.NewNop(), nil)

	req := tradeRequest()
	req.Quantity = d("0")
	tr, err := c.CreateTrade(context.Background(), req, Quote{BestBid: d("3000.00"), BestAsk: d("3000.05")})
	if KindOf(err) != ErrValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
	if tr.Status != StatusFailed {
		t.Fatalf("expected %s, got %s", StatusFailed, tr.Status)
	}
	if len(v.submitted()) != 0 {
		t.Fatalf("invalid request must not reach the venue, got %d submits", len(v.submitted()))
	}
	if tr.Metadata["error"] == "" {
		t.Fatalf("failure reason should land in metadata")
	}
}

func TestCreateTradeRequiresTakeProfit(t *testing.T) {
	c := NewController(&scriptedVenue{}, &staticQuotes{}, zap.NewNop(), nil)

	req := tradeRequest()
	req.TP = TPConfig{}
	_, err := c.CreateTrade(context.Background(), req, Quote{BestBid: d("3000.00"), BestAsk: d("3000.05")})
	if KindOf(err) != ErrValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestCreateTradeEntryTimeoutCancels(t *testing.T) {
	v := &scriptedVenue{}
	quotes := &staticQuotes{q: Quote{BestBid: d("3000.00"), BestAsk: d("3000.05")}}
	c := NewController(v, quotes, zap.NewNop(), nil)

	req := tradeRequest()
	req.MaxRetries = 0
	tr, err := c.CreateTrade(context.Background(), req, Quote{BestBid: d("3000.00"), BestAsk: d("3000.05")})
	if err != nil {
		t.Fatalf("a timed-out entry is an outcome, not an error: %v", err)
	}
	if tr.Status != StatusCancelled {
		t.Fatalf("expected %s, got %s", StatusCancelled, tr.Status)
	}
	if !strings.Contains(tr.Metadata["error"], "after 1 attempts") {
		t.Fatalf("unexpected reason %q", tr.Metadata["error"])
	}
	if tr.ClosedAt.IsZero() {
		t.Fatalf("cancelled trade should carry a close time")
	}
	// Entry only; no exits for an unfilled entry.
	if len(v.submitted()) != 1 {
		t.Fatalf("expected 1 submit, got %d", len(v.submitted()))
	}
}

func TestCreateTradeEntryRejectedGoesCancelled(t *testing.T) {
	v := &scriptedVenue{}
	v.onSubmit = func(int, OrderSpec) (OrderAck, error) {
		return OrderAck{}, errors.New("rejected: reduce only violation")
	}
	c := NewController(v, &staticQuotes{}, zap.NewNop(), nil)

	var seen []Status
	c.OnTransition(func(_ context.Context, tr *Trade) {
		seen = append(seen, tr.Status)
	})

	tr, err := c.CreateTrade(context.Background(), tradeRequest(), Quote{BestBid: d("3000.00"), BestAsk: d("3000.05")})
	if err != nil {
		t.Fatalf("rejection is an outcome, not an error: %v", err)
	}
	if tr.Status != StatusCancelled {
		t.Fatalf("expected %s, got %s", StatusCancelled, tr.Status)
	}
	// Never placed, so the trade skips ENTRY_PLACED entirely.
	if len(seen) != 1 || seen[0] != StatusCancelled {
		t.Fatalf("expected a single transition to CANCELLED, got %v", seen)
	}
}

func TestCreateTradeAllExitsFailed(t *testing.T) {
	v := &scriptedVenue{}
	v.onQuery = func(orderID int64) (OrderState, error) {
		return OrderState{OrderID: orderID, Filled: true, Terminal: true, AvgPrice: d("3000.00")}, nil
	}
	v.onSubmit = func(count int, spec OrderSpec) (OrderAck, error) {
		if spec.ReduceOnly || spec.ClosePosition {
			return OrderAck{}, errors.New("rejected: exceeds position")
		}
		v.nextID++
		return OrderAck{OrderID: v.nextID}, nil
	}
	c := NewController(v, &staticQuotes{}, zap.NewNop(), nil)

	tr, err := c.CreateTrade(context.Background(), tradeRequest(), Quote{BestBid: d("3000.00"), BestAsk: d("3000.05")})
	if err != nil {
		t.Fatalf("exit failures report on the trade, not as an error: %v", err)
	}
	if tr.Status != StatusFailed {
		t.Fatalf("expected %s, got %s", StatusFailed, tr.Status)
	}
	if !strings.Contains(tr.Metadata["error"], "unprotected") {
		t.Fatalf("unexpected reason %q", tr.Metadata["error"])
	}
	if tr.StopLoss.Status != LegFailed {
		t.Fatalf("expected failed stop, got %s", tr.StopLoss.Status)
	}
}

func TestCreateTradePartialExitStaysActive(t *testing.T) {
	v := &scriptedVenue{}
	v.onQuery = func(orderID int64) (OrderState, error) {
		return OrderState{OrderID: orderID, Filled: true, Terminal: true, AvgPrice: d("3000.00")}, nil
	}
	v.onSubmit = func(count int, spec OrderSpec) (OrderAck, error) {
		if spec.Type == OrderLimit && spec.Price.Equal(d("3030.00")) {
			return OrderAck{}, errors.New("rejected: would immediately match")
		}
		v.nextID++
		return OrderAck{OrderID: v.nextID}, nil
	}
	c := NewController(v, &staticQuotes{}, zap.NewNop(), nil)

	tr, err := c.CreateTrade(context.Background(), tradeRequest(), Quote{BestBid: d("3000.00"), BestAsk: d("3000.05")})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tr.Status != StatusActive {
		t.Fatalf("one good leg keeps the trade active, got %s", tr.Status)
	}
	if tr.Metadata["exit_failures"] != "1/3" {
		t.Fatalf("expected exit_failures 1/3, got %q", tr.Metadata["exit_failures"])
	}
}

func TestMarkClosed(t *testing.T) {
	c := NewController(instantFillVenue("3000.00"), &staticQuotes{}, zap.NewNop(), nil)

	tr, err := c.CreateTrade(context.Background(), tradeRequest(), Quote{BestBid: d("3000.00"), BestAsk: d("3000.05")})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	c.MarkClosed(context.Background(), tr)
	if tr.Status != StatusCompleted {
		t.Fatalf("expected %s, got %s", StatusCompleted, tr.Status)
	}
	if tr.ClosedAt.IsZero() {
		t.Fatalf("completed trade should carry a close time")
	}

	other := &Trade{Status: StatusPending}
	c.MarkClosed(context.Background(), other)
	if other.Status != StatusPending {
		t.Fatalf("only active trades complete, got %s", other.Status)
	}
}
