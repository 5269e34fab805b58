package account

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"aster-fleet-bot/internal/aster/rest"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// RestSource is the reconcile surface of the venue REST client.
type RestSource interface {
	Balances(ctx context.Context) ([]rest.Balance, error)
	Positions(ctx context.Context, symbol string) ([]rest.Position, error)
	OpenOrders(ctx context.Context, symbol string) ([]rest.OrderResponse, error)
}

// State is a point-in-time view of one account.
type State struct {
	Balances  map[string]decimal.Decimal
	Positions map[string]PositionUpdate
	Orders    map[int64]OrderUpdate
}

// Tracker folds user-data events into per-account state and forwards
// the typed updates to registered observers. Terminal orders leave the
// open-order map on arrival, so the map stays bounded by what actually
// rests on the venue.
type Tracker struct {
	rest RestSource
	log  *zap.Logger

	mu        sync.RWMutex
	balances  map[string]decimal.Decimal
	positions map[string]PositionUpdate
	orders    map[int64]OrderUpdate
	onOrder   func(OrderUpdate)
	onAccount func(AccountUpdate)
}

func NewTracker(restSource RestSource, log *zap.Logger) *Tracker {
	return &Tracker{
		rest:      restSource,
		log:       log,
		balances:  make(map[string]decimal.Decimal),
		positions: make(map[string]PositionUpdate),
		orders:    make(map[int64]OrderUpdate),
	}
}

// OnOrderUpdate registers the order observer. Register before the
// stream starts.
func (t *Tracker) OnOrderUpdate(fn func(OrderUpdate)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onOrder = fn
}

// OnAccountUpdate registers the balance/position observer.
func (t *Tracker) OnAccountUpdate(fn func(AccountUpdate)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onAccount = fn
}

// HandleMessage is the user-data stream handler.
func (t *Tracker) HandleMessage(msg json.RawMessage) {
	var head struct {
		Event string `json:"e"`
	}
	if err := json.Unmarshal(msg, &head); err != nil {
		if t.log != nil {
			t.log.Debug("user event decode failed", zap.Error(err))
		}
		return
	}
	switch head.Event {
	case "ORDER_TRADE_UPDATE":
		if u, ok := ParseOrderUpdate(msg); ok {
			t.applyOrderUpdate(u)
		}
	case "ACCOUNT_UPDATE":
		if u, ok := ParseAccountUpdate(msg); ok {
			t.applyAccountUpdate(u)
		}
	}
}

func (t *Tracker) applyOrderUpdate(u OrderUpdate) {
	t.mu.Lock()
	if u.Terminal() {
		delete(t.orders, u.OrderID)
	} else {
		t.orders[u.OrderID] = u
	}
	fn := t.onOrder
	t.mu.Unlock()
	if fn != nil {
		fn(u)
	}
}

func (t *Tracker) applyAccountUpdate(u AccountUpdate) {
	t.mu.Lock()
	for _, b := range u.Balances {
		t.balances[b.Asset] = b.WalletBalance
	}
	for _, p := range u.Positions {
		key := positionKey(p.Symbol, p.PositionSide)
		if p.Amount.IsZero() {
			delete(t.positions, key)
			continue
		}
		t.positions[key] = p
	}
	fn := t.onAccount
	t.mu.Unlock()
	if fn != nil {
		fn(u)
	}
}

// Reconcile replaces the tracked state with a fresh REST snapshot.
func (t *Tracker) Reconcile(ctx context.Context) error {
	if t.rest == nil {
		return errors.New("rest client is required")
	}
	balances, err := t.rest.Balances(ctx)
	if err != nil {
		return err
	}
	positions, err := t.rest.Positions(ctx, "")
	if err != nil {
		return err
	}
	orders, err := t.rest.OpenOrders(ctx, "")
	if err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.balances = make(map[string]decimal.Decimal, len(balances))
	for _, b := range balances {
		t.balances[b.Asset] = b.Balance
	}
	t.positions = make(map[string]PositionUpdate)
	for _, p := range positions {
		if !p.Open() {
			continue
		}
		t.positions[positionKey(p.Symbol, p.PositionSide)] = PositionUpdate{
			Symbol:        p.Symbol,
			Amount:        p.PositionAmt,
			EntryPrice:    p.EntryPrice,
			UnrealizedPnL: p.UnrealizedProfit,
			PositionSide:  p.PositionSide,
		}
	}
	t.orders = make(map[int64]OrderUpdate, len(orders))
	for _, o := range orders {
		t.orders[o.OrderID] = OrderUpdate{
			Symbol:        o.Symbol,
			OrderID:       o.OrderID,
			ClientOrderID: o.ClientOrderID,
			Side:          o.Side,
			Type:          o.Type,
			TimeInForce:   o.TimeInForce,
			Status:        o.Status,
			Price:         o.Price,
			StopPrice:     o.StopPrice,
			OrigQty:       o.OrigQty,
			FilledQty:     o.ExecutedQty,
			ReduceOnly:    o.ReduceOnly,
			ClosePosition: o.ClosePosition,
			PositionSide:  o.PositionSide,
		}
	}
	return nil
}

// Snapshot returns a deep copy of the tracked state.
func (t *Tracker) Snapshot() State {
	t.mu.RLock()
	defer t.mu.RUnlock()
	s := State{
		Balances:  make(map[string]decimal.Decimal, len(t.balances)),
		Positions: make(map[string]PositionUpdate, len(t.positions)),
		Orders:    make(map[int64]OrderUpdate, len(t.orders)),
	}
	for k, v := range t.balances {
		s.Balances[k] = v
	}
	for k, v := range t.positions {
		s.Positions[k] = v
	}
	for k, v := range t.orders {
		s.Orders[k] = v
	}
	return s
}

// Position returns the one-way position for a symbol.
func (t *Tracker) Position(symbol string) (PositionUpdate, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	p, ok := t.positions[positionKey(symbol, "")]
	return p, ok
}

func (t *Tracker) Balance(asset string) (decimal.Decimal, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	b, ok := t.balances[asset]
	return b, ok
}

func (t *Tracker) OpenOrder(orderID int64) (OrderUpdate, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	o, ok := t.orders[orderID]
	return o, ok
}

// Hedge-mode positions are tracked per side; one-way positions under
// the bare symbol.
func positionKey(symbol, side string) string {
	if side == "" || side == "BOTH" {
		return symbol
	}
	return symbol + "|" + side
}
