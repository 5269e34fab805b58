package pool

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"aster-fleet-bot/internal/aster/rest"
	"aster-fleet-bot/internal/exec"
	"aster-fleet-bot/internal/metrics"
	"aster-fleet-bot/internal/state"
	"aster-fleet-bot/internal/trade"
)

// Defaults are the connection settings an AccountConfig inherits when
// it does not carry its own.
type Defaults struct {
	BaseURL    string
	Timeout    time.Duration
	RecvWindow int64
}

// SessionCache builds and reuses authenticated sessions process-wide,
// so every command message over the same account hits a warm client.
// Rotated credentials hash to a new key; the stale entry is simply
// never asked for again.
type SessionCache struct {
	defaults Defaults
	store    state.Store
	log      *zap.Logger
	met      *metrics.Metrics

	mu       sync.Mutex
	sessions map[string]*Session
}

func NewSessionCache(defaults Defaults, store state.Store, log *zap.Logger, met *metrics.Metrics) *SessionCache {
	if met == nil {
		met = metrics.NewNoop()
	}
	return &SessionCache{
		defaults: defaults,
		store:    store,
		log:      log,
		met:      met,
		sessions: make(map[string]*Session),
	}
}

// Pool builds a pool over the given accounts, reusing cached sessions.
func (c *SessionCache) Pool(cfgs []AccountConfig) (*Pool, error) {
	if len(cfgs) == 0 {
		return nil, errors.New("accounts list cannot be empty")
	}
	seen := make(map[string]struct{}, len(cfgs))
	sessions := make([]*Session, 0, len(cfgs))
	for _, cfg := range cfgs {
		if cfg.ID == "" {
			return nil, errors.New("account id cannot be empty")
		}
		if _, dup := seen[cfg.ID]; dup {
			return nil, fmt.Errorf("duplicate account id %q", cfg.ID)
		}
		seen[cfg.ID] = struct{}{}
		sessions = append(sessions, c.Session(cfg))
	}
	return newPool(sessions, c.log, c.met), nil
}

// Session returns the cached session for the account, building one on
// first sight of the credential set.
func (c *SessionCache) Session(cfg AccountConfig) *Session {
	key := sessionKey(cfg)
	c.mu.Lock()
	defer c.mu.Unlock()
	if s, ok := c.sessions[key]; ok {
		return s
	}
	s := c.build(cfg)
	c.sessions[key] = s
	return s
}

func (c *SessionCache) build(cfg AccountConfig) *Session {
	log := c.log.With(zap.String("account", cfg.ID))
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = c.defaults.BaseURL
	}
	recvWindow := cfg.RecvWindow
	if recvWindow == 0 {
		recvWindow = c.defaults.RecvWindow
	}
	client := rest.New(rest.Options{
		BaseURL:    baseURL,
		Timeout:    c.defaults.Timeout,
		APIKey:     cfg.Key,
		APISecret:  cfg.Secret,
		RecvWindow: recvWindow,
	}, log)
	ex := exec.New(client, c.store, log)

	s := &Session{cfg: cfg, rest: client, exec: ex, log: log}
	if cfg.Simulation {
		s.venue = newSimVenue(log)
	} else {
		s.venue = &venueAdapter{exec: ex}
	}
	return s
}

func sessionKey(cfg AccountConfig) string {
	sum := sha256.Sum256([]byte(cfg.Key + ":" + cfg.Secret))
	return cfg.ID + ":" + hex.EncodeToString(sum[:])[:16]
}

// Session is one authenticated handle to the venue. Order flow goes
// through Venue so simulated accounts stay off the wire; account-state
// reads go straight to REST.
type Session struct {
	cfg   AccountConfig
	rest  *rest.Client
	exec  *exec.Executor
	venue trade.Venue
	log   *zap.Logger
}

func (s *Session) ID() string {
	return s.cfg.ID
}

func (s *Session) Simulated() bool {
	return s.cfg.Simulation
}

func (s *Session) REST() *rest.Client {
	return s.rest
}

func (s *Session) Venue() trade.Venue {
	return s.venue
}

// releaseTrade drops the idempotency mappings for a terminal trade's
// orders. Live trades keep theirs until the position resolves.
func (s *Session) releaseTrade(ctx context.Context, t *trade.Trade) {
	s.exec.Forget(ctx, t.Entry.ClientOrderID)
	for _, leg := range t.TakeProfits {
		s.exec.Forget(ctx, leg.ClientOrderID)
	}
	s.exec.Forget(ctx, t.StopLoss.ClientOrderID)
}

// venueAdapter maps the trading capability onto the signed REST
// executor.
type venueAdapter struct {
	exec *exec.Executor
}

func (v *venueAdapter) SubmitOrder(ctx context.Context, spec trade.OrderSpec) (trade.OrderAck, error) {
	req, err := orderRequest(spec)
	if err != nil {
		return trade.OrderAck{}, err
	}
	resp, err := v.exec.PlaceOrder(ctx, req)
	if err != nil {
		return trade.OrderAck{}, err
	}
	clientID := resp.ClientOrderID
	if clientID == "" {
		clientID = req.ClientOrderID
	}
	return trade.OrderAck{OrderID: resp.OrderID, ClientOrderID: clientID}, nil
}

func (v *venueAdapter) CancelOrder(ctx context.Context, symbol string, orderID int64) error {
	_, err := v.exec.CancelOrder(ctx, symbol, orderID)
	if err == nil {
		return nil
	}
	if rest.IsUnknownOrder(err) {
		return fmt.Errorf("%v: %w", err, trade.ErrUnknownOrder)
	}
	return err
}

func (v *venueAdapter) QueryOrder(ctx context.Context, symbol string, orderID int64) (trade.OrderState, error) {
	resp, err := v.exec.GetOrder(ctx, symbol, orderID)
	if err != nil {
		if rest.IsUnknownOrder(err) {
			return trade.OrderState{}, fmt.Errorf("%v: %w", err, trade.ErrUnknownOrder)
		}
		return trade.OrderState{}, err
	}
	return trade.OrderState{
		OrderID:     resp.OrderID,
		Filled:      resp.Filled(),
		Terminal:    resp.Terminal(),
		AvgPrice:    resp.FillPrice(),
		ExecutedQty: resp.ExecutedQty,
	}, nil
}

func orderRequest(spec trade.OrderSpec) (rest.OrderRequest, error) {
	req := rest.OrderRequest{
		Symbol:        spec.Symbol,
		Side:          string(spec.Side),
		Quantity:      spec.Quantity,
		Price:         spec.Price,
		StopPrice:     spec.StopPrice,
		ReduceOnly:    spec.ReduceOnly,
		ClosePosition: spec.ClosePosition,
		ClientOrderID: exec.NewClientOrderID(),
	}
	switch spec.Type {
	case trade.OrderLimit:
		req.Type = rest.OrderTypeLimit
		req.TimeInForce = rest.TifGTC
		if spec.PostOnly {
			req.TimeInForce = rest.TifGTX
		}
	case trade.OrderStopMarket:
		req.Type = rest.OrderTypeStopMarket
	case trade.OrderMarket:
		req.Type = rest.OrderTypeMarket
	default:
		return rest.OrderRequest{}, fmt.Errorf("unsupported order type %q", spec.Type)
	}
	return req, nil
}
