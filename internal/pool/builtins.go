package pool

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"aster-fleet-bot/internal/aster/rest"
	"aster-fleet-bot/internal/trade"
)

// The built-ins below are the everyday fleet operations, each a fixed
// closure over the generic fan-out.

func (p *Pool) AccountInfo(ctx context.Context) ([]Result[rest.AccountInfo], error) {
	return Fanout(ctx, p, func(ctx context.Context, s *Session) (rest.AccountInfo, error) {
		return s.REST().Account(ctx)
	})
}

func (p *Pool) Positions(ctx context.Context, symbol string) ([]Result[[]rest.Position], error) {
	return Fanout(ctx, p, func(ctx context.Context, s *Session) ([]rest.Position, error) {
		return s.REST().Positions(ctx, symbol)
	})
}

func (p *Pool) Balances(ctx context.Context) ([]Result[[]rest.Balance], error) {
	return Fanout(ctx, p, func(ctx context.Context, s *Session) ([]rest.Balance, error) {
		return s.REST().Balances(ctx)
	})
}

func (p *Pool) OpenOrders(ctx context.Context, symbol string) ([]Result[[]rest.OrderResponse], error) {
	return Fanout(ctx, p, func(ctx context.Context, s *Session) ([]rest.OrderResponse, error) {
		return s.REST().OpenOrders(ctx, symbol)
	})
}

// PlaceOrders submits the same order spec on every account.
func (p *Pool) PlaceOrders(ctx context.Context, spec trade.OrderSpec) ([]Result[trade.OrderAck], error) {
	return Fanout(ctx, p, func(ctx context.Context, s *Session) (trade.OrderAck, error) {
		return s.Venue().SubmitOrder(ctx, spec)
	})
}

// PlaceOrdersEach submits one spec per account, aligned by pool order.
func (p *Pool) PlaceOrdersEach(ctx context.Context, specs []trade.OrderSpec) ([]Result[trade.OrderAck], error) {
	return FanoutEach(ctx, p, specs, func(ctx context.Context, s *Session, spec trade.OrderSpec) (trade.OrderAck, error) {
		return s.Venue().SubmitOrder(ctx, spec)
	})
}

// CancelOrders cancels one order per account, aligned by pool order.
// The cancelled order ID is echoed back in the result value.
func (p *Pool) CancelOrders(ctx context.Context, symbol string, orderIDs []int64) ([]Result[int64], error) {
	return FanoutEach(ctx, p, orderIDs, func(ctx context.Context, s *Session, orderID int64) (int64, error) {
		return orderID, s.Venue().CancelOrder(ctx, symbol, orderID)
	})
}

// PlaceBBO prices a maker order off the given quote and submits it on
// every account.
func (p *Pool) PlaceBBO(ctx context.Context, symbol string, side trade.Side, quantity decimal.Decimal, quote trade.Quote, tick decimal.Decimal, ticksDistance int) ([]Result[trade.OrderAck], error) {
	price, err := trade.EntryPrice(quote, side, tick, ticksDistance)
	if err != nil {
		return nil, err
	}
	return p.PlaceOrders(ctx, trade.OrderSpec{
		Symbol:   symbol,
		Side:     side,
		Type:     trade.OrderLimit,
		Quantity: quantity,
		Price:    price,
		PostOnly: true,
	})
}

// ClosedPosition reports what one account flattened.
type ClosedPosition struct {
	Symbol    string
	Quantity  decimal.Decimal
	Cancelled int
}

// ClosePositions cancels every open order on the symbol, then sends a
// reduce-only market order against whatever position remains, per
// account.
func (p *Pool) ClosePositions(ctx context.Context, symbol string) ([]Result[ClosedPosition], error) {
	return Fanout(ctx, p, func(ctx context.Context, s *Session) (ClosedPosition, error) {
		closed := ClosedPosition{Symbol: symbol}

		orders, err := s.REST().OpenOrders(ctx, symbol)
		if err != nil {
			return closed, err
		}
		for _, o := range orders {
			if err := s.Venue().CancelOrder(ctx, symbol, o.OrderID); err != nil {
				// An order that filled or expired mid-flight is fine;
				// the position sweep below picks up the consequences.
				if !errors.Is(err, trade.ErrUnknownOrder) {
					s.log.Warn("cancel during close failed",
						zap.String("symbol", symbol),
						zap.Int64("order_id", o.OrderID),
						zap.Error(err))
				}
				continue
			}
			closed.Cancelled++
		}

		positions, err := s.REST().Positions(ctx, symbol)
		if err != nil {
			return closed, err
		}
		for _, pos := range positions {
			if !pos.Open() {
				continue
			}
			side := trade.SideSell
			if pos.PositionAmt.Sign() < 0 {
				side = trade.SideBuy
			}
			qty := pos.PositionAmt.Abs()
			if _, err := s.Venue().SubmitOrder(ctx, trade.OrderSpec{
				Symbol:     symbol,
				Side:       side,
				Type:       trade.OrderMarket,
				Quantity:   qty,
				ReduceOnly: true,
			}); err != nil {
				return closed, err
			}
			closed.Quantity = closed.Quantity.Add(qty)
		}
		return closed, nil
	})
}

// TradePlan parameterizes a fleet-wide trade run. Quantities, when
// set, override the request quantity per account and must align with
// pool order. Observe, when set, sees every status transition of every
// account's trade.
type TradePlan struct {
	Request    trade.TradeRequest
	Quantities []decimal.Decimal
	Quote      trade.Quote
	Quotes     trade.QuoteSource
	Observe    func(accountID string, t *trade.Trade)
}

type staticQuoteSource struct {
	q trade.Quote
}

func (s staticQuoteSource) Quote(context.Context, string) (trade.Quote, error) {
	return s.q, nil
}

// CreateTrades runs one full trade lifecycle per account,
// concurrently. Each account gets its own controller over its own
// session; one account's outcome never touches another's.
func (p *Pool) CreateTrades(ctx context.Context, plan TradePlan) ([]Result[*trade.Trade], error) {
	sessions, err := p.snapshot()
	if err != nil {
		return nil, err
	}
	if len(plan.Quantities) > 0 && len(plan.Quantities) != len(sessions) {
		return nil, fmt.Errorf("%d quantities for %d accounts", len(plan.Quantities), len(sessions))
	}
	quotes := plan.Quotes
	if quotes == nil {
		quotes = staticQuoteSource{q: plan.Quote}
	}
	return runAll(ctx, sessions, func(ctx context.Context, i int, s *Session) (*trade.Trade, error) {
		req := plan.Request
		if len(plan.Quantities) > 0 {
			req.Quantity = plan.Quantities[i]
		}
		ctrl := trade.NewController(s.Venue(), quotes, s.log, p.met)
		if plan.Observe != nil {
			ctrl.OnTransition(func(_ context.Context, t *trade.Trade) {
				plan.Observe(s.ID(), t)
			})
		}
		t, err := ctrl.CreateTrade(ctx, req, plan.Quote)
		if t != nil && t.Status.Terminal() {
			s.releaseTrade(ctx, t)
		}
		return t, err
	}), nil
}
