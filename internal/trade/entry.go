package trade

import (
	"context"
	"errors"
	"time"

	"aster-fleet-bot/internal/metrics"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	defaultFillTimeout  = time.Second
	defaultPollInterval = 200 * time.Millisecond
)

// EntryParams drives one maker-entry sequence. Quantity is fixed for
// the whole sequence; only the price moves between attempts.
type EntryParams struct {
	Symbol          string
	Side            Side
	Quantity        decimal.Decimal
	TickSize        decimal.Decimal
	InitialQuote    Quote
	TicksDistance   int
	MaxRetries      int
	FillTimeout     time.Duration
	PollInterval    time.Duration
	MaxChasePercent decimal.Decimal
}

func (p EntryParams) fillTimeout() time.Duration {
	if p.FillTimeout <= 0 {
		return defaultFillTimeout
	}
	return p.FillTimeout
}

func (p EntryParams) pollInterval() time.Duration {
	if p.PollInterval <= 0 {
		return defaultPollInterval
	}
	return p.PollInterval
}

type EntryEngine struct {
	venue  Venue
	quotes QuoteSource
	log    *zap.Logger
	met    *metrics.Metrics
}

func NewEntryEngine(venue Venue, quotes QuoteSource, log *zap.Logger, met *metrics.Metrics) *EntryEngine {
	if met == nil {
		met = metrics.NewNoop()
	}
	return &EntryEngine{venue: venue, quotes: quotes, log: log, met: met}
}

// PlaceEntry prices off the touch, waits for a fill, and on timeout
// cancels and chases with a fresh quote. The chase is bounded by
// MaxRetries additional submissions and by MaxChasePercent deviation
// from the first attempt's reference price. The returned leg is
// terminal; failures ride on it as data.
func (e *EntryEngine) PlaceEntry(ctx context.Context, p EntryParams) OrderLeg {
	leg := OrderLeg{Role: RoleEntry, Quantity: p.Quantity, Status: LegPending}
	window := p.fillTimeout()
	attempts := p.MaxRetries + 1
	quote := p.InitialQuote
	var firstRef decimal.Decimal

	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			e.met.EntryRetries.Inc()
			fresh, err := e.quotes.Quote(ctx, p.Symbol)
			if err != nil {
				e.log.Warn("quote refresh failed",
					zap.String("symbol", p.Symbol),
					zap.Int("attempt", attempt+1),
					zap.Error(err))
				if !sleepFor(ctx, p.pollInterval()) {
					leg.Status = LegFailed
					leg.Err = Wrap(ErrAccount, ctx.Err())
					return leg
				}
				continue
			}
			quote = fresh
		}

		ref := referencePrice(quote, p.Side)
		if attempt == 0 {
			firstRef = ref
		} else if dev := chaseDeviation(firstRef, ref); dev.GreaterThan(p.MaxChasePercent) {
			e.met.ChaseAborts.Inc()
			leg.Status = LegCancelled
			leg.Err = Errf(ErrChaseExceeded, "price moved %s%% from first reference %s, exceeds %s%% limit",
				dev.Round(3), firstRef, p.MaxChasePercent)
			return leg
		}

		price, err := EntryPrice(quote, p.Side, p.TickSize, p.TicksDistance)
		if err != nil {
			leg.Status = LegFailed
			leg.Err = Wrap(ErrValidation, err)
			return leg
		}

		ack, err := e.venue.SubmitOrder(ctx, OrderSpec{
			Symbol:   p.Symbol,
			Side:     p.Side,
			Type:     OrderLimit,
			Quantity: p.Quantity,
			Price:    price,
			PostOnly: true,
		})
		if err != nil {
			// Synchronous rejection is terminal; unfilled is the only
			// state worth retrying.
			e.met.OrdersRejected.Inc()
			leg.Status = LegFailed
			leg.Err = Wrap(ErrVenueRejected, err)
			return leg
		}
		e.met.OrdersPlaced.Inc()
		leg.OrderID = ack.OrderID
		leg.ClientOrderID = ack.ClientOrderID
		leg.Price = price
		leg.PlacedAt = time.Now().UTC()
		leg.Status = LegPlaced
		e.log.Info("entry attempt placed",
			zap.String("symbol", p.Symbol),
			zap.String("side", string(p.Side)),
			zap.Int64("order_id", ack.OrderID),
			zap.String("price", price.String()),
			zap.Int("attempt", attempt+1),
			zap.Int("attempts", attempts))

		state, outcome, err := e.awaitFill(ctx, p.Symbol, ack.OrderID, window, p.pollInterval())
		if err != nil {
			leg.Status = LegFailed
			leg.Err = Wrap(ErrAccount, err)
			return leg
		}
		switch outcome {
		case fillDone:
			return e.filled(&leg, state)
		case fillDead:
			// A post-only order that would have crossed comes back
			// expired; no cancel needed, chase with a fresh quote.
			leg.Err = Errf(ErrFillTimeout, "order %d died unfilled", ack.OrderID)
			e.log.Info("entry attempt expired", zap.Int64("order_id", ack.OrderID))
			continue
		}

		cancelErr := e.venue.CancelOrder(ctx, p.Symbol, ack.OrderID)
		if cancelErr != nil {
			if errors.Is(cancelErr, ErrUnknownOrder) {
				// Cancel lost the race against the fill. Re-query to
				// confirm before calling it a success.
				requeried, qerr := e.venue.QueryOrder(ctx, p.Symbol, ack.OrderID)
				if qerr == nil && requeried.Filled {
					e.log.Info("entry filled during cancel race", zap.Int64("order_id", ack.OrderID))
					return e.filled(&leg, requeried)
				}
				// The venue no longer has the order live and it did
				// not fill; treat like a completed cancel.
			} else {
				leg.Status = LegFailed
				leg.Err = Errf(ErrVenueRejected, "cancel order %d: %v", ack.OrderID, cancelErr)
				return leg
			}
		} else {
			e.met.OrdersCancelled.Inc()
		}
		leg.Err = Errf(ErrFillTimeout, "order %d not filled within %s", ack.OrderID, window)
		e.log.Info("entry attempt timed out",
			zap.Int64("order_id", ack.OrderID),
			zap.Duration("window", window),
			zap.Int("retries_left", attempts-attempt-1))
	}

	leg.Status = LegCancelled
	leg.Err = Errf(ErrRetryExhausted, "entry not filled after %d attempts", attempts)
	return leg
}

func (e *EntryEngine) filled(leg *OrderLeg, state OrderState) OrderLeg {
	leg.Status = LegFilled
	if state.AvgPrice.Sign() > 0 {
		leg.Price = state.AvgPrice
	}
	leg.FilledAt = time.Now().UTC()
	leg.Err = nil
	e.met.OrdersFilled.Inc()
	e.log.Info("entry filled",
		zap.Int64("order_id", leg.OrderID),
		zap.String("fill_price", leg.Price.String()))
	return *leg
}

type fillOutcome int

const (
	fillTimedOut fillOutcome = iota
	fillDone
	fillDead
)

// awaitFill polls until the order fills, dies, or the attempt window
// closes. Transient query errors are tolerated; the window is the only
// clock that ends the wait.
func (e *EntryEngine) awaitFill(ctx context.Context, symbol string, orderID int64, window, poll time.Duration) (OrderState, fillOutcome, error) {
	deadline := time.NewTimer(window)
	defer deadline.Stop()
	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	for {
		state, err := e.venue.QueryOrder(ctx, symbol, orderID)
		if err != nil {
			if ctx.Err() != nil {
				return OrderState{}, fillTimedOut, ctx.Err()
			}
			e.log.Warn("order status query failed", zap.Int64("order_id", orderID), zap.Error(err))
		} else {
			if state.Filled {
				return state, fillDone, nil
			}
			if state.Terminal {
				return state, fillDead, nil
			}
		}
		select {
		case <-ctx.Done():
			return OrderState{}, fillTimedOut, ctx.Err()
		case <-deadline.C:
			return OrderState{}, fillTimedOut, nil
		case <-ticker.C:
		}
	}
}

func referencePrice(q Quote, side Side) decimal.Decimal {
	if side == SideBuy {
		return q.BestBid
	}
	return q.BestAsk
}

// chaseDeviation is the percent move from the first attempt's
// reference. A non-positive reference reports zero deviation.
func chaseDeviation(first, current decimal.Decimal) decimal.Decimal {
	if first.Sign() <= 0 {
		return decimal.Zero
	}
	return current.Sub(first).Abs().Div(first).Mul(decimal.NewFromInt(100))
}

func sleepFor(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
