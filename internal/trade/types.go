package trade

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Side is the direction of the entry. Every exit leg trades the
// opposite side.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

func (s Side) Valid() bool {
	return s == SideBuy || s == SideSell
}

func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// Status is the trade lifecycle state. It only moves forward.
type Status string

const (
	StatusPending     Status = "PENDING"
	StatusEntryPlaced Status = "ENTRY_PLACED"
	StatusEntryFilled Status = "ENTRY_FILLED"
	StatusActive      Status = "ACTIVE"
	StatusCompleted   Status = "COMPLETED"
	StatusCancelled   Status = "CANCELLED"
	StatusFailed      Status = "FAILED"
)

// Terminal reports whether the trade record is immutable. ACTIVE is
// not terminal; an external position close still moves it to
// COMPLETED.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusCancelled, StatusFailed:
		return true
	}
	return false
}

type LegRole string

const (
	RoleEntry      LegRole = "entry"
	RoleTakeProfit LegRole = "take_profit"
	RoleStopLoss   LegRole = "stop_loss"
)

type LegStatus string

const (
	LegPending   LegStatus = "PENDING"
	LegPlaced    LegStatus = "PLACED"
	LegFilled    LegStatus = "FILLED"
	LegCancelled LegStatus = "CANCELLED"
	LegFailed    LegStatus = "FAILED"
)

func (s LegStatus) Terminal() bool {
	switch s {
	case LegFilled, LegCancelled, LegFailed:
		return true
	}
	return false
}

// OrderLeg is one order within a trade. A leg is written only by the
// component that submitted it.
type OrderLeg struct {
	Role          LegRole         `json:"role"`
	OrderID       int64           `json:"order_id,omitempty"`
	ClientOrderID string          `json:"client_order_id,omitempty"`
	Price         decimal.Decimal `json:"price"`
	Quantity      decimal.Decimal `json:"quantity"`
	Status        LegStatus       `json:"status"`
	Err           *Error          `json:"error,omitempty"`
	PlacedAt      time.Time       `json:"placed_at"`
	FilledAt      time.Time       `json:"filled_at"`
}

// Placed reports whether the venue ever accepted an order for this leg.
func (l OrderLeg) Placed() bool {
	return l.OrderID != 0
}

func (l OrderLeg) snapshot() map[string]any {
	m := map[string]any{
		"role":     string(l.Role),
		"price":    l.Price.String(),
		"quantity": l.Quantity.String(),
		"status":   string(l.Status),
	}
	if l.OrderID != 0 {
		m["order_id"] = l.OrderID
	}
	if l.ClientOrderID != "" {
		m["client_order_id"] = l.ClientOrderID
	}
	if l.Err != nil {
		m["error"] = l.Err.Message
		m["error_kind"] = string(l.Err.Kind)
	}
	if !l.PlacedAt.IsZero() {
		m["placed_at"] = l.PlacedAt.Format(time.RFC3339Nano)
	}
	if !l.FilledAt.IsZero() {
		m["filled_at"] = l.FilledAt.Format(time.RFC3339Nano)
	}
	return m
}

// Trade is the aggregate record of one lifecycle run. It is owned by
// the invocation that created it and never mutated once terminal.
type Trade struct {
	TradeID     string            `json:"trade_id"`
	Symbol      string            `json:"symbol"`
	Side        Side              `json:"side"`
	Quantity    decimal.Decimal   `json:"quantity"`
	Status      Status            `json:"status"`
	Entry       OrderLeg          `json:"entry"`
	TakeProfits []OrderLeg        `json:"take_profits"`
	StopLoss    OrderLeg          `json:"stop_loss"`
	TPLegs      []TPLeg           `json:"tp_legs"`
	SLPercent   decimal.Decimal   `json:"sl_percent"`
	CreatedAt   time.Time         `json:"created_at"`
	FilledAt    time.Time         `json:"filled_at"`
	ClosedAt    time.Time         `json:"closed_at"`
	Metadata    map[string]string `json:"metadata"`
}

// Snapshot renders the trade for logging or persistence. Decimal
// values come out as exact strings, never floats.
func (t *Trade) Snapshot() map[string]any {
	tps := make([]map[string]any, len(t.TakeProfits))
	for i, leg := range t.TakeProfits {
		tps[i] = leg.snapshot()
	}
	legs := make([]map[string]string, len(t.TPLegs))
	for i, leg := range t.TPLegs {
		legs[i] = map[string]string{
			"percent":  leg.Percent.String(),
			"fraction": leg.Fraction.String(),
		}
	}
	return map[string]any{
		"trade_id":     t.TradeID,
		"symbol":       t.Symbol,
		"side":         string(t.Side),
		"status":       string(t.Status),
		"quantity":     t.Quantity.String(),
		"sl_percent":   t.SLPercent.String(),
		"tp_legs":      legs,
		"created_at":   timeString(t.CreatedAt),
		"filled_at":    timeString(t.FilledAt),
		"closed_at":    timeString(t.ClosedAt),
		"entry":        t.Entry.snapshot(),
		"take_profits": tps,
		"stop_loss":    t.StopLoss.snapshot(),
		"metadata":     t.Metadata,
	}
}

func timeString(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(time.RFC3339Nano)
}

// Quote is the top of book at one instant.
type Quote struct {
	BestBid decimal.Decimal
	BestAsk decimal.Decimal
}

type OrderType string

const (
	OrderLimit      OrderType = "LIMIT"
	OrderStopMarket OrderType = "STOP_MARKET"
	OrderMarket     OrderType = "MARKET"
)

// OrderSpec describes one order to the venue. PostOnly limit orders
// must rest as makers or die; ClosePosition orders flatten whatever is
// open and carry no quantity.
type OrderSpec struct {
	Symbol        string
	Side          Side
	Type          OrderType
	Quantity      decimal.Decimal
	Price         decimal.Decimal
	StopPrice     decimal.Decimal
	PostOnly      bool
	ReduceOnly    bool
	ClosePosition bool
}

// OrderAck is the venue's synchronous acceptance of an order.
type OrderAck struct {
	OrderID       int64
	ClientOrderID string
}

// OrderState is the venue's current view of an order.
type OrderState struct {
	OrderID     int64
	Filled      bool
	Terminal    bool
	AvgPrice    decimal.Decimal
	ExecutedQty decimal.Decimal
}

// Venue is the trading capability the engines drive. Implementations
// must return an error matching ErrUnknownOrder when a cancel or query
// names an order the venue no longer knows, so the fill race can be
// told apart from a hard failure.
type Venue interface {
	SubmitOrder(ctx context.Context, spec OrderSpec) (OrderAck, error)
	CancelOrder(ctx context.Context, symbol string, orderID int64) error
	QueryOrder(ctx context.Context, symbol string, orderID int64) (OrderState, error)
}

// QuoteSource supplies a fresh top of book for retry pricing.
type QuoteSource interface {
	Quote(ctx context.Context, symbol string) (Quote, error)
}
