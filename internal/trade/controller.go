package trade

import (
	"context"
	"fmt"
	"time"

	"aster-fleet-bot/internal/metrics"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// TradeRequest is everything needed to run one trade end to end.
type TradeRequest struct {
	Symbol          string
	Side            Side
	Quantity        decimal.Decimal
	TP              TPConfig
	SLPercent       decimal.Decimal
	TickSize        decimal.Decimal
	StepSize        decimal.Decimal
	TicksDistance   int
	MaxRetries      int
	FillTimeout     time.Duration
	PollInterval    time.Duration
	MaxChasePercent decimal.Decimal
}

// Controller runs the trade lifecycle: validate, work the entry,
// fan out the exits, and settle on a terminal or ACTIVE status.
type Controller struct {
	entry        *EntryEngine
	exits        *ExitEngine
	log          *zap.Logger
	met          *metrics.Metrics
	onTransition func(context.Context, *Trade)
}

func NewController(venue Venue, quotes QuoteSource, log *zap.Logger, met *metrics.Metrics) *Controller {
	if met == nil {
		met = metrics.NewNoop()
	}
	return &Controller{
		entry: NewEntryEngine(venue, quotes, log, met),
		exits: NewExitEngine(venue, log, met),
		log:   log,
		met:   met,
	}
}

// OnTransition registers a callback fired after every status change,
// with the trade in its post-transition shape. Used for persistence
// and alerting; the controller does not wait on it being useful.
func (c *Controller) OnTransition(fn func(context.Context, *Trade)) {
	c.onTransition = fn
}

// CreateTrade runs one trade to its resting state. The returned error
// is non-nil only for validation failures; venue trouble after
// validation is reported on the trade itself.
func (c *Controller) CreateTrade(ctx context.Context, req TradeRequest, quote Quote) (*Trade, error) {
	t := &Trade{
		TradeID:   uuid.NewString(),
		Symbol:    req.Symbol,
		Side:      req.Side,
		Quantity:  req.Quantity,
		Status:    StatusPending,
		SLPercent: req.SLPercent,
		CreatedAt: time.Now().UTC(),
		Metadata: map[string]string{
			"best_bid":          quote.BestBid.String(),
			"best_ask":          quote.BestAsk.String(),
			"tick_size":         req.TickSize.String(),
			"ticks_distance":    fmt.Sprintf("%d", req.TicksDistance),
			"max_retries":       fmt.Sprintf("%d", req.MaxRetries),
			"fill_timeout":      req.FillTimeout.String(),
			"max_chase_percent": req.MaxChasePercent.String(),
		},
	}
	sm := NewStateMachine()

	legs, err := c.validate(req)
	if err != nil {
		t.Metadata["error"] = err.Error()
		c.transition(ctx, t, sm, EventValidationFailed)
		c.met.TradesFailed.Inc()
		c.log.Warn("trade rejected",
			zap.String("trade_id", t.TradeID),
			zap.String("symbol", req.Symbol),
			zap.Error(err))
		return t, err
	}
	t.TPLegs = legs

	c.log.Info("trade accepted",
		zap.String("trade_id", t.TradeID),
		zap.String("symbol", req.Symbol),
		zap.String("side", string(req.Side)),
		zap.String("quantity", req.Quantity.String()),
		zap.Int("tp_legs", len(legs)))

	entry := c.entry.PlaceEntry(ctx, EntryParams{
		Symbol:          req.Symbol,
		Side:            req.Side,
		Quantity:        req.Quantity,
		TickSize:        req.TickSize,
		InitialQuote:    quote,
		TicksDistance:   req.TicksDistance,
		MaxRetries:      req.MaxRetries,
		FillTimeout:     req.FillTimeout,
		PollInterval:    req.PollInterval,
		MaxChasePercent: req.MaxChasePercent,
	})
	t.Entry = entry
	if entry.Placed() {
		c.transition(ctx, t, sm, EventEntryPlaced)
	}
	if entry.Status != LegFilled {
		if entry.Err != nil {
			t.Metadata["error"] = entry.Err.Error()
		}
		if entry.Placed() {
			c.transition(ctx, t, sm, EventEntryCancelled)
		} else {
			c.transition(ctx, t, sm, EventEntryRejected)
		}
		c.met.TradesCancelled.Inc()
		t.ClosedAt = time.Now().UTC()
		c.log.Info("trade cancelled before fill",
			zap.String("trade_id", t.TradeID),
			zap.String("reason", string(KindOf(entry.Err))))
		return t, nil
	}
	t.FilledAt = entry.FilledAt
	c.transition(ctx, t, sm, EventEntryFilled)

	res, err := c.exits.PlaceExits(ctx, ExitParams{
		Symbol:    req.Symbol,
		Side:      req.Side,
		Quantity:  req.Quantity,
		FillPrice: entry.Price,
		TickSize:  req.TickSize,
		StepSize:  req.StepSize,
		Legs:      legs,
		SLPercent: req.SLPercent,
	})
	if err != nil {
		t.Metadata["error"] = err.Error()
		c.transition(ctx, t, sm, EventExitsFailed)
		c.met.TradesFailed.Inc()
		t.ClosedAt = time.Now().UTC()
		c.log.Error("exit pricing failed with position open",
			zap.String("trade_id", t.TradeID),
			zap.Error(err))
		return t, nil
	}
	t.TakeProfits = res.TakeProfits
	t.StopLoss = res.StopLoss

	placed := res.PlacedCount()
	failed := res.FailedCount()
	if placed == 0 {
		t.Metadata["error"] = Errf(ErrTotalExit, "all %d exit legs failed, position unprotected", failed).Error()
		c.transition(ctx, t, sm, EventExitsFailed)
		c.met.TradesFailed.Inc()
		t.ClosedAt = time.Now().UTC()
		c.log.Error("all exit legs failed",
			zap.String("trade_id", t.TradeID),
			zap.String("symbol", req.Symbol),
			zap.Int("failed", failed))
		return t, nil
	}
	if failed > 0 {
		// Recorded before the transition so observers see the degraded
		// coverage on the ACTIVE callback.
		t.Metadata["exit_failures"] = fmt.Sprintf("%d/%d", failed, failed+placed)
	}
	c.transition(ctx, t, sm, EventExitsPlaced)
	c.met.TradesActive.Inc()
	if failed > 0 {
		c.log.Warn("trade active with partial exit coverage",
			zap.String("trade_id", t.TradeID),
			zap.String("kind", string(ErrPartialExit)),
			zap.Int("placed", placed),
			zap.Int("failed", failed))
	} else {
		c.log.Info("trade active",
			zap.String("trade_id", t.TradeID),
			zap.String("symbol", req.Symbol),
			zap.Int("exit_legs", placed))
	}
	return t, nil
}

// MarkClosed moves an ACTIVE trade to COMPLETED once the position is
// observed flat. The caller owns detecting that externally.
func (c *Controller) MarkClosed(ctx context.Context, t *Trade) {
	if t.Status != StatusActive {
		return
	}
	sm := &StateMachine{State: t.Status}
	c.transition(ctx, t, sm, EventPositionClosed)
	t.ClosedAt = time.Now().UTC()
	c.log.Info("trade completed", zap.String("trade_id", t.TradeID))
}

func (c *Controller) validate(req TradeRequest) ([]TPLeg, error) {
	if req.Symbol == "" {
		return nil, Errf(ErrValidation, "symbol is required")
	}
	if !req.Side.Valid() {
		return nil, Errf(ErrValidation, "side must be BUY or SELL, got %q", req.Side)
	}
	if req.Quantity.Sign() <= 0 {
		return nil, Errf(ErrValidation, "quantity must be positive, got %s", req.Quantity)
	}
	if req.TickSize.Sign() <= 0 {
		return nil, Errf(ErrValidation, "tick size must be positive, got %s", req.TickSize)
	}
	if req.SLPercent.Sign() <= 0 {
		return nil, Errf(ErrValidation, "stop-loss percent must be positive, got %s", req.SLPercent)
	}
	if req.TicksDistance < 0 {
		return nil, Errf(ErrValidation, "ticks distance must not be negative, got %d", req.TicksDistance)
	}
	if req.MaxRetries < 0 {
		return nil, Errf(ErrValidation, "max retries must not be negative, got %d", req.MaxRetries)
	}
	legs, err := req.TP.Normalize()
	if err != nil {
		return nil, err
	}
	if len(legs) == 0 {
		return nil, Errf(ErrValidation, "at least one take-profit level is required")
	}
	return legs, nil
}

func (c *Controller) transition(ctx context.Context, t *Trade, sm *StateMachine, ev Event) {
	prev := t.Status
	t.Status = sm.Apply(ev)
	if t.Status == prev {
		return
	}
	c.log.Debug("trade status",
		zap.String("trade_id", t.TradeID),
		zap.String("from", string(prev)),
		zap.String("to", string(t.Status)))
	if c.onTransition != nil {
		c.onTransition(ctx, t)
	}
}
