package exec

import (
	"context"
	"strconv"
	"strings"
	"sync"

	"aster-fleet-bot/internal/aster/rest"
	"aster-fleet-bot/internal/state"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const orderKeyPrefix = "order:"

// VenueClient is the slice of the venue REST surface the executor
// drives. Transient-error retries live inside the client, not here.
type VenueClient interface {
	PlaceOrder(ctx context.Context, req rest.OrderRequest) (rest.OrderResponse, error)
	CancelOrder(ctx context.Context, symbol string, orderID int64) (rest.OrderResponse, error)
	GetOrder(ctx context.Context, symbol string, orderID int64) (rest.OrderResponse, error)
}

// Executor places orders idempotently. A request carrying a client
// order ID that was already placed (in this process or a previous one)
// is resolved to the existing venue order instead of being re-sent.
type Executor struct {
	rest  VenueClient
	store state.Store
	log   *zap.Logger

	mu    sync.Mutex
	cache map[string]int64
}

func New(rest VenueClient, store state.Store, log *zap.Logger) *Executor {
	return &Executor{
		rest:  rest,
		store: store,
		log:   log,
		cache: make(map[string]int64),
	}
}

// NewClientOrderID returns a fresh venue-safe client order ID. The
// venue caps the field at 36 characters.
func NewClientOrderID() string {
	raw := strings.ReplaceAll(uuid.New().String(), "-", "")
	return "fleet-" + raw[:30]
}

func (e *Executor) PlaceOrder(ctx context.Context, req rest.OrderRequest) (rest.OrderResponse, error) {
	if req.ClientOrderID == "" {
		return e.rest.PlaceOrder(ctx, req)
	}
	cacheKey := orderKeyPrefix + req.ClientOrderID
	if orderID, ok := e.cachedOrderID(ctx, cacheKey); ok {
		// Return the live order, not the placement-time snapshot; it
		// may have filled or been cancelled since.
		return e.rest.GetOrder(ctx, req.Symbol, orderID)
	}
	resp, err := e.rest.PlaceOrder(ctx, req)
	if err != nil {
		return rest.OrderResponse{}, err
	}
	e.remember(ctx, cacheKey, resp.OrderID)
	return resp, nil
}

func (e *Executor) CancelOrder(ctx context.Context, symbol string, orderID int64) (rest.OrderResponse, error) {
	return e.rest.CancelOrder(ctx, symbol, orderID)
}

func (e *Executor) GetOrder(ctx context.Context, symbol string, orderID int64) (rest.OrderResponse, error) {
	return e.rest.GetOrder(ctx, symbol, orderID)
}

func (e *Executor) cachedOrderID(ctx context.Context, cacheKey string) (int64, bool) {
	e.mu.Lock()
	if orderID, ok := e.cache[cacheKey]; ok {
		e.mu.Unlock()
		return orderID, true
	}
	e.mu.Unlock()
	if e.store == nil {
		return 0, false
	}
	raw, ok, err := e.store.Get(ctx, cacheKey)
	if err != nil {
		e.log.Warn("failed to read order id from store", zap.Error(err))
		return 0, false
	}
	if !ok {
		return 0, false
	}
	orderID, err := strconv.ParseInt(string(raw), 10, 64)
	if err != nil {
		e.log.Warn("corrupt order id in store", zap.String("key", cacheKey), zap.Error(err))
		return 0, false
	}
	e.mu.Lock()
	e.cache[cacheKey] = orderID
	e.mu.Unlock()
	return orderID, true
}

func (e *Executor) remember(ctx context.Context, cacheKey string, orderID int64) {
	e.mu.Lock()
	e.cache[cacheKey] = orderID
	e.mu.Unlock()
	if e.store == nil {
		return
	}
	if err := e.store.Set(ctx, cacheKey, []byte(strconv.FormatInt(orderID, 10))); err != nil {
		e.log.Warn("failed to persist order id", zap.Error(err))
	}
}

// Forget drops the idempotency mapping for a client order ID. Called
// once a trade is terminal so the store does not grow without bound.
func (e *Executor) Forget(ctx context.Context, clientOrderID string) {
	if clientOrderID == "" {
		return
	}
	cacheKey := orderKeyPrefix + clientOrderID
	e.mu.Lock()
	delete(e.cache, cacheKey)
	e.mu.Unlock()
	if e.store == nil {
		return
	}
	if err := e.store.Delete(ctx, cacheKey); err != nil {
		e.log.Warn("failed to delete order id", zap.Error(err))
	}
}
