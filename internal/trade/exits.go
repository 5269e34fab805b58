package trade

import (
	"context"
	"sync"
	"time"

	"aster-fleet-bot/internal/metrics"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// ExitParams describes the full exit set for a filled position: one
// stop and up to maxTakeProfitLegs take-profits splitting Quantity.
type ExitParams struct {
	Symbol    string
	Side      Side // side of the position being exited
	Quantity  decimal.Decimal
	FillPrice decimal.Decimal
	TickSize  decimal.Decimal
	StepSize  decimal.Decimal
	Legs      []TPLeg
	SLPercent decimal.Decimal
}

type ExitEngine struct {
	venue Venue
	log   *zap.Logger
	met   *metrics.Metrics
}

func NewExitEngine(venue Venue, log *zap.Logger, met *metrics.Metrics) *ExitEngine {
	if met == nil {
		met = metrics.NewNoop()
	}
	return &ExitEngine{venue: venue, log: log, met: met}
}

// ExitResult carries every leg with its own outcome. Legs are
// independent: one rejection never unwinds its siblings.
type ExitResult struct {
	TakeProfits []OrderLeg
	StopLoss    OrderLeg
}

func (r ExitResult) PlacedCount() int {
	n := 0
	if r.StopLoss.Status == LegPlaced {
		n++
	}
	for _, l := range r.TakeProfits {
		if l.Status == LegPlaced {
			n++
		}
	}
	return n
}

func (r ExitResult) FailedCount() int {
	n := 0
	if r.StopLoss.Status == LegFailed {
		n++
	}
	for _, l := range r.TakeProfits {
		if l.Status == LegFailed {
			n++
		}
	}
	return n
}

// PlaceExits prices every leg off the fill, then submits them all
// concurrently. Pricing errors fail fast before anything reaches the
// venue; submission errors are captured per leg.
func (e *ExitEngine) PlaceExits(ctx context.Context, p ExitParams) (ExitResult, error) {
	tpPrices, slPrice, err := ComputeExitPrices(p.FillPrice, p.Side, p.Legs, p.SLPercent, p.TickSize)
	if err != nil {
		return ExitResult{}, err
	}
	quantities := allocateQuantities(p.Quantity, p.Legs, p.StepSize)
	exitSide := p.Side.Opposite()

	res := ExitResult{
		TakeProfits: make([]OrderLeg, len(p.Legs)),
		StopLoss: OrderLeg{
			Role:     RoleStopLoss,
			Price:    slPrice,
			Quantity: p.Quantity,
			Status:   LegPending,
		},
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		e.submitLeg(ctx, &res.StopLoss, OrderSpec{
			Symbol:        p.Symbol,
			Side:          exitSide,
			Type:          OrderStopMarket,
			StopPrice:     slPrice,
			ClosePosition: true,
		})
	}()

	for i := range p.Legs {
		leg := &res.TakeProfits[i]
		leg.Role = RoleTakeProfit
		leg.Price = tpPrices[i]
		leg.Quantity = quantities[i]
		leg.Status = LegPending
		if leg.Quantity.Sign() <= 0 {
			leg.Status = LegFailed
			leg.Err = Errf(ErrValidation, "allocated quantity rounds to zero at step %s", p.StepSize)
			e.met.ExitLegsFailed.Inc()
			continue
		}
		wg.Add(1)
		go func(leg *OrderLeg) {
			defer wg.Done()
			e.submitLeg(ctx, leg, OrderSpec{
				Symbol:     p.Symbol,
				Side:       exitSide,
				Type:       OrderLimit,
				Quantity:   leg.Quantity,
				Price:      leg.Price,
				PostOnly:   true,
				ReduceOnly: true,
			})
		}(leg)
	}
	wg.Wait()
	return res, nil
}

// submitLeg writes only the leg it was handed; concurrent siblings
// never share a pointer.
func (e *ExitEngine) submitLeg(ctx context.Context, leg *OrderLeg, spec OrderSpec) {
	ack, err := e.venue.SubmitOrder(ctx, spec)
	if err != nil {
		leg.Status = LegFailed
		leg.Err = Wrap(ErrVenueRejected, err)
		e.met.ExitLegsFailed.Inc()
		e.log.Warn("exit leg rejected",
			zap.String("symbol", spec.Symbol),
			zap.String("role", string(leg.Role)),
			zap.String("price", leg.Price.String()),
			zap.Error(err))
		return
	}
	leg.OrderID = ack.OrderID
	leg.ClientOrderID = ack.ClientOrderID
	leg.PlacedAt = time.Now().UTC()
	leg.Status = LegPlaced
	e.met.ExitLegsPlaced.Inc()
	e.log.Info("exit leg placed",
		zap.String("symbol", spec.Symbol),
		zap.String("role", string(leg.Role)),
		zap.Int64("order_id", ack.OrderID),
		zap.String("price", leg.Price.String()))
}

// allocateQuantities splits total across legs by fraction. Every leg
// but the last floors to the step so the venue accepts it; the last
// leg takes the remainder, keeping the sum exactly equal to total.
func allocateQuantities(total decimal.Decimal, legs []TPLeg, step decimal.Decimal) []decimal.Decimal {
	out := make([]decimal.Decimal, len(legs))
	if len(legs) == 0 {
		return out
	}
	remaining := total
	for i, leg := range legs {
		if i == len(legs)-1 {
			out[i] = remaining
			break
		}
		q := total.Mul(leg.Fraction)
		if step.Sign() > 0 {
			q = q.Div(step).Floor().Mul(step)
		}
		if q.Sign() < 0 {
			q = decimal.Zero
		}
		out[i] = q
		remaining = remaining.Sub(q)
	}
	return out
}
