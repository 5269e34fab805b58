package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"aster-fleet-bot/internal/aster/rest"
	"aster-fleet-bot/internal/market"
	"aster-fleet-bot/internal/metrics"
	"aster-fleet-bot/internal/pool"
	"aster-fleet-bot/internal/trade"
)

// QuoteSource yields the cached top of book, normally
// *market.QuoteCache.
type QuoteSource interface {
	Quote(symbol string) (market.Quote, bool)
}

// BookSource fetches a depth snapshot for symbols the stream has not
// quoted yet, normally *rest.Client.
type BookSource interface {
	Depth(ctx context.Context, symbol string, limit int) (rest.Depth, error)
}

// FilterSource resolves per-symbol trading filters, normally
// *market.SymbolCache.
type FilterSource interface {
	Filters(ctx context.Context, symbol string) (market.Filters, error)
}

// Defaults seed every trade request the bus builds. Messages carry the
// what, the deploy config carries the how-hard-to-try.
type Defaults struct {
	MaxRetries      int
	FillTimeout     time.Duration
	PollInterval    time.Duration
	MaxChasePercent decimal.Decimal
}

type HandlerOptions struct {
	Sessions *pool.SessionCache
	Quotes   QuoteSource
	Books    BookSource
	Symbols  FilterSource
	Entry    Defaults
	// Accounts is the fallback fleet for messages that name none.
	Accounts []AccountSpec
	// AllowedSymbols restricts processing; empty allows everything.
	AllowedSymbols []string
	// Observe, when set, sees every trade status transition.
	Observe func(accountID string, t *trade.Trade)
	// Paused, when set and true, drops trade and order commands.
	// Close commands always run so a paused bot can still flatten.
	Paused func() bool
}

// Handler turns decoded bus messages into pool operations. It is safe
// for concurrent use; sessions are shared through the cache.
type Handler struct {
	sessions *pool.SessionCache
	quotes   QuoteSource
	books    BookSource
	symbols  FilterSource
	entry    Defaults
	accounts []AccountSpec
	allowed  map[string]struct{}
	observe  func(accountID string, t *trade.Trade)
	paused   func() bool
	log      *zap.Logger
	met      *metrics.Metrics
}

func NewHandler(opts HandlerOptions, log *zap.Logger, met *metrics.Metrics) *Handler {
	if met == nil {
		met = metrics.NewNoop()
	}
	allowed := make(map[string]struct{}, len(opts.AllowedSymbols))
	for _, s := range opts.AllowedSymbols {
		allowed[NormalizeSymbol(s)] = struct{}{}
	}
	return &Handler{
		sessions: opts.Sessions,
		quotes:   opts.Quotes,
		books:    opts.Books,
		symbols:  opts.Symbols,
		entry:    opts.Entry,
		accounts: opts.Accounts,
		allowed:  allowed,
		observe:  opts.Observe,
		paused:   opts.Paused,
		log:      log,
		met:      met,
	}
}

func (h *Handler) isPaused() bool {
	return h.paused != nil && h.paused()
}

// Handle processes one raw bus payload. Bad messages are logged and
// dropped; nothing a message contains can take the subscription down.
func (h *Handler) Handle(ctx context.Context, data []byte) {
	h.met.BusSignals.Inc()
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		h.log.Error("bus: undecodable message", zap.Error(err), zap.Int("bytes", len(data)))
		return
	}
	if m.Kind() == KindHeartbeat {
		h.log.Info("bus: heartbeat",
			zap.String("status", m.Status),
			zap.String("timestamp", m.Timestamp),
			zap.String("note", m.Note),
			zap.Int("accounts_loaded", m.AccountsLoaded))
		return
	}
	symbol := NormalizeSymbol(m.Symbol)
	if symbol == "" {
		h.log.Warn("bus: message without symbol", zap.String("type", m.Type))
		return
	}
	if len(h.allowed) > 0 {
		if _, ok := h.allowed[symbol]; !ok {
			h.log.Debug("bus: symbol not allowed", zap.String("symbol", symbol))
			return
		}
	}
	switch m.Kind() {
	case KindOrder:
		h.handleOrder(ctx, symbol, m)
	case KindClose:
		h.handleClose(ctx, symbol, m)
	default:
		h.handleTrade(ctx, symbol, m)
	}
}

func (h *Handler) handleTrade(ctx context.Context, symbol string, m Message) {
	if h.isPaused() {
		h.log.Warn("bus: paused, trade dropped", zap.String("symbol", symbol))
		return
	}
	side, err := parseSide(m.Side)
	if err != nil {
		h.dropped(symbol, err)
		return
	}
	tp, err := m.takeProfit()
	if err != nil {
		h.dropped(symbol, err)
		return
	}
	if m.SLPercent.Sign() <= 0 {
		h.dropped(symbol, fmt.Errorf("sl_percent %s must be positive", m.SLPercent))
		return
	}
	cfgs, qtys := h.sized(m, h.fleet(m))
	if len(cfgs) == 0 {
		h.log.Warn("bus: trade with no usable accounts", zap.String("symbol", symbol))
		return
	}
	filters, err := h.symbols.Filters(ctx, symbol)
	if err != nil {
		h.log.Error("bus: symbol filters unavailable", zap.String("symbol", symbol), zap.Error(err))
		return
	}
	quote, err := h.quote(ctx, symbol)
	if err != nil {
		h.log.Error("bus: no market data", zap.String("symbol", symbol), zap.Error(err))
		return
	}
	pl, err := h.sessions.Pool(cfgs)
	if err != nil {
		h.log.Error("bus: pool build failed", zap.String("symbol", symbol), zap.Error(err))
		return
	}
	defer pl.Close()

	h.log.Info("bus: trade command",
		zap.String("symbol", symbol),
		zap.String("side", string(side)),
		zap.Int("accounts", len(cfgs)),
		zap.String("bid", quote.BestBid.String()),
		zap.String("ask", quote.BestAsk.String()),
		zap.String("sl_percent", m.SLPercent.String()),
		zap.Int("ticks_distance", m.TicksDistance))

	results, err := pl.CreateTrades(ctx, pool.TradePlan{
		Request: trade.TradeRequest{
			Symbol:          symbol,
			Side:            side,
			TP:              tp,
			SLPercent:       m.SLPercent,
			TickSize:        filters.TickSize,
			StepSize:        filters.StepSize,
			TicksDistance:   m.TicksDistance,
			MaxRetries:      h.entry.MaxRetries,
			FillTimeout:     h.entry.FillTimeout,
			PollInterval:    h.entry.PollInterval,
			MaxChasePercent: h.entry.MaxChasePercent,
		},
		Quantities: qtys,
		Quote:      quote,
		Quotes:     liveQuotes{h},
		Observe:    h.observe,
	})
	if err != nil {
		h.log.Error("bus: trade batch failed", zap.String("symbol", symbol), zap.Error(err))
		return
	}
	active := 0
	for _, r := range results {
		switch {
		case r.Err != nil:
			h.log.Error("bus: trade errored", zap.String("account", r.AccountID), zap.Error(r.Err))
		case r.Value != nil && r.Value.Status == trade.StatusActive:
			active++
		case r.Value != nil:
			h.log.Warn("bus: trade not active",
				zap.String("account", r.AccountID),
				zap.String("trade_id", r.Value.TradeID),
				zap.String("status", string(r.Value.Status)))
		}
	}
	h.log.Info("bus: trade batch done",
		zap.String("symbol", symbol),
		zap.Int("active", active),
		zap.Int("failed", len(results)-active))
}

func (h *Handler) handleOrder(ctx context.Context, symbol string, m Message) {
	if h.isPaused() {
		h.log.Warn("bus: paused, order dropped", zap.String("symbol", symbol))
		return
	}
	side, err := parseSide(m.Side)
	if err != nil {
		h.dropped(symbol, err)
		return
	}
	base := trade.OrderSpec{
		Symbol:     symbol,
		Side:       side,
		ReduceOnly: m.ReduceOnly,
		PostOnly:   strings.EqualFold(m.TimeInForce, "gtx"),
	}
	switch strings.ToLower(m.OrderType) {
	case "limit":
		if m.Price == nil {
			h.dropped(symbol, fmt.Errorf("limit order requires price"))
			return
		}
		base.Type = trade.OrderLimit
		base.Price = *m.Price
	case "market":
		base.Type = trade.OrderMarket
	case "stop_market":
		if m.StopPrice == nil {
			h.dropped(symbol, fmt.Errorf("stop_market order requires stop_price"))
			return
		}
		base.Type = trade.OrderStopMarket
		base.StopPrice = *m.StopPrice
	case "bbo":
		filters, err := h.symbols.Filters(ctx, symbol)
		if err != nil {
			h.log.Error("bus: symbol filters unavailable", zap.String("symbol", symbol), zap.Error(err))
			return
		}
		quote, err := h.quote(ctx, symbol)
		if err != nil {
			h.log.Error("bus: no market data", zap.String("symbol", symbol), zap.Error(err))
			return
		}
		price, err := trade.EntryPrice(quote, side, filters.TickSize, m.TicksDistance)
		if err != nil {
			h.dropped(symbol, err)
			return
		}
		base.Type = trade.OrderLimit
		base.Price = price
	default:
		h.dropped(symbol, fmt.Errorf("unsupported order type %q", m.OrderType))
		return
	}
	cfgs, qtys := h.sized(m, h.fleet(m))
	if len(cfgs) == 0 {
		h.log.Warn("bus: order with no usable accounts", zap.String("symbol", symbol))
		return
	}
	pl, err := h.sessions.Pool(cfgs)
	if err != nil {
		h.log.Error("bus: pool build failed", zap.String("symbol", symbol), zap.Error(err))
		return
	}
	defer pl.Close()

	specs := make([]trade.OrderSpec, len(cfgs))
	for i := range specs {
		specs[i] = base
		specs[i].Quantity = qtys[i]
	}
	results, err := pl.PlaceOrdersEach(ctx, specs)
	if err != nil {
		h.log.Error("bus: order batch failed", zap.String("symbol", symbol), zap.Error(err))
		return
	}
	placed := 0
	for _, r := range results {
		if r.Err != nil {
			h.log.Error("bus: order failed", zap.String("account", r.AccountID), zap.Error(r.Err))
			continue
		}
		placed++
		h.log.Info("bus: order placed",
			zap.String("account", r.AccountID),
			zap.Int64("order_id", r.Value.OrderID))
	}
	h.log.Info("bus: order batch done",
		zap.String("symbol", symbol),
		zap.String("type", strings.ToLower(m.OrderType)),
		zap.Int("placed", placed),
		zap.Int("failed", len(results)-placed))
}

func (h *Handler) handleClose(ctx context.Context, symbol string, m Message) {
	specs := h.fleet(m)
	if len(specs) == 0 {
		h.log.Warn("bus: close_position with no accounts", zap.String("symbol", symbol))
		return
	}
	cfgs := make([]pool.AccountConfig, len(specs))
	for i, a := range specs {
		cfgs[i] = poolConfig(a)
	}
	pl, err := h.sessions.Pool(cfgs)
	if err != nil {
		h.log.Error("bus: pool build failed", zap.String("symbol", symbol), zap.Error(err))
		return
	}
	defer pl.Close()

	results, err := pl.ClosePositions(ctx, symbol)
	if err != nil {
		h.log.Error("bus: close batch failed", zap.String("symbol", symbol), zap.Error(err))
		return
	}
	closed, cancelled, failed := 0, 0, 0
	for _, r := range results {
		if r.Err != nil {
			failed++
			h.log.Error("bus: close failed", zap.String("account", r.AccountID), zap.Error(r.Err))
			continue
		}
		cancelled += r.Value.Cancelled
		if r.Value.Quantity.Sign() > 0 {
			closed++
			h.log.Info("bus: position closed",
				zap.String("account", r.AccountID),
				zap.String("quantity", r.Value.Quantity.String()))
		}
	}
	h.log.Info("bus: close batch done",
		zap.String("symbol", symbol),
		zap.Int("accounts", len(results)),
		zap.Int("positions_closed", closed),
		zap.Int("orders_cancelled", cancelled),
		zap.Int("failed", failed))
}

func (h *Handler) dropped(symbol string, err error) {
	h.log.Error("bus: message dropped", zap.String("symbol", symbol), zap.Error(err))
}

// fleet picks the message accounts when present, else the configured
// fallback.
func (h *Handler) fleet(m Message) []AccountSpec {
	if len(m.Accounts) > 0 {
		return m.Accounts
	}
	return h.accounts
}

// sized resolves one quantity per account: the account entry first,
// then the message default. Accounts with neither are dropped.
func (h *Handler) sized(m Message, specs []AccountSpec) ([]pool.AccountConfig, []decimal.Decimal) {
	cfgs := make([]pool.AccountConfig, 0, len(specs))
	qtys := make([]decimal.Decimal, 0, len(specs))
	for _, a := range specs {
		qty := a.Quantity
		if qty.Sign() <= 0 {
			qty = m.Quantity
		}
		if qty.Sign() <= 0 {
			h.log.Warn("bus: account has no quantity, skipped", zap.String("account", a.ID))
			continue
		}
		cfgs = append(cfgs, poolConfig(a))
		qtys = append(qtys, qty)
	}
	return cfgs, qtys
}

func poolConfig(a AccountSpec) pool.AccountConfig {
	return pool.AccountConfig{
		ID:         a.ID,
		Key:        a.APIKey,
		Secret:     a.APISecret,
		Simulation: a.Simulation,
	}
}

// quote returns the freshest top of book: stream cache first, REST
// depth for symbols the stream has not seen yet.
func (h *Handler) quote(ctx context.Context, symbol string) (trade.Quote, error) {
	if q, ok := h.quotes.Quote(symbol); ok && q.Valid() {
		return trade.Quote{BestBid: q.BestBid, BestAsk: q.BestAsk}, nil
	}
	d, err := h.books.Depth(ctx, symbol, 5)
	if err != nil {
		return trade.Quote{}, fmt.Errorf("depth %s: %w", symbol, err)
	}
	q := trade.Quote{BestBid: d.BestBid(), BestAsk: d.BestAsk()}
	if q.BestBid.Sign() <= 0 || q.BestAsk.Sign() <= 0 {
		return trade.Quote{}, fmt.Errorf("order book for %s is empty", symbol)
	}
	return q, nil
}

// liveQuotes adapts the handler's cache-then-REST lookup to the entry
// engine's refresh interface.
type liveQuotes struct{ h *Handler }

func (s liveQuotes) Quote(ctx context.Context, symbol string) (trade.Quote, error) {
	return s.h.quote(ctx, symbol)
}
