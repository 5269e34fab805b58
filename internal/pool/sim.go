package pool

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"aster-fleet-bot/internal/exec"
	"aster-fleet-bot/internal/trade"
)

// simVenue acknowledges and tracks orders locally so simulated
// accounts never reach the wire. Entries (non-reducing limit or market
// orders) fill instantly at their own price; exit legs rest until
// cancelled, the way they would on the real book.
type simVenue struct {
	log *zap.Logger

	mu     sync.Mutex
	nextID int64
	orders map[int64]trade.OrderState
}

func newSimVenue(log *zap.Logger) *simVenue {
	return &simVenue{log: log, orders: make(map[int64]trade.OrderState)}
}

func (v *simVenue) SubmitOrder(_ context.Context, spec trade.OrderSpec) (trade.OrderAck, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.nextID++
	id := v.nextID

	entry := !spec.ReduceOnly && !spec.ClosePosition && spec.Type != trade.OrderStopMarket
	st := trade.OrderState{OrderID: id}
	if entry {
		st.Filled = true
		st.Terminal = true
		st.AvgPrice = spec.Price
		st.ExecutedQty = spec.Quantity
	}
	v.orders[id] = st
	v.log.Debug("simulated order",
		zap.Int64("order_id", id),
		zap.String("symbol", spec.Symbol),
		zap.String("type", string(spec.Type)),
		zap.Bool("filled", st.Filled))
	return trade.OrderAck{OrderID: id, ClientOrderID: exec.NewClientOrderID()}, nil
}

func (v *simVenue) CancelOrder(_ context.Context, _ string, orderID int64) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	st, ok := v.orders[orderID]
	if !ok || st.Terminal {
		return fmt.Errorf("simulated order %d: %w", orderID, trade.ErrUnknownOrder)
	}
	st.Terminal = true
	v.orders[orderID] = st
	return nil
}

func (v *simVenue) QueryOrder(_ context.Context, _ string, orderID int64) (trade.OrderState, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	st, ok := v.orders[orderID]
	if !ok {
		return trade.OrderState{}, fmt.Errorf("simulated order %d: %w", orderID, trade.ErrUnknownOrder)
	}
	return st, nil
}
