package pool

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"aster-fleet-bot/internal/metrics"
)

// ErrClosed is returned by every operation on a pool after Close.
var ErrClosed = errors.New("account pool is closed")

// AccountConfig identifies one venue account. BaseURL and RecvWindow
// override the cache defaults when set.
type AccountConfig struct {
	ID         string
	Key        string
	Secret     string
	BaseURL    string
	RecvWindow int64
	Simulation bool
}

// Result carries one account's outcome from a pooled operation. A
// failed account never disturbs its siblings; the error lives here.
type Result[T any] struct {
	AccountID string
	Value     T
	Err       error
}

func (r Result[T]) OK() bool {
	return r.Err == nil
}

// Pool runs operations across a fixed, ordered set of account
// sessions. Construction rejects empty and duplicate account sets;
// Close is terminal.
type Pool struct {
	log *zap.Logger
	met *metrics.Metrics

	mu       sync.Mutex
	sessions []*Session
	closed   bool
}

func newPool(sessions []*Session, log *zap.Logger, met *metrics.Metrics) *Pool {
	if met == nil {
		met = metrics.NewNoop()
	}
	return &Pool{sessions: sessions, log: log, met: met}
}

// Size returns the number of accounts in the pool.
func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.sessions)
}

// IDs returns the account IDs in pool order.
func (p *Pool) IDs() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.sessions))
	for i, s := range p.sessions {
		out[i] = s.ID()
	}
	return out
}

// Close marks the pool unusable. Sessions stay alive in their cache
// for the next pool built over the same accounts.
func (p *Pool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
}

func (p *Pool) snapshot() ([]*Session, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, ErrClosed
	}
	out := make([]*Session, len(p.sessions))
	copy(out, p.sessions)
	return out, nil
}

// Fanout runs fn once per account, all accounts concurrently. Results
// come back in pool order, every account awaited, errors and panics
// captured at the account boundary.
func Fanout[T any](ctx context.Context, p *Pool, fn func(ctx context.Context, s *Session) (T, error)) ([]Result[T], error) {
	sessions, err := p.snapshot()
	if err != nil {
		return nil, err
	}
	return runAll(ctx, sessions, func(ctx context.Context, _ int, s *Session) (T, error) {
		return fn(ctx, s)
	}), nil
}

// FanoutEach is Fanout with one argument per account, aligned by pool
// order. The argument count must match the account count exactly.
func FanoutEach[A, T any](ctx context.Context, p *Pool, args []A, fn func(ctx context.Context, s *Session, arg A) (T, error)) ([]Result[T], error) {
	sessions, err := p.snapshot()
	if err != nil {
		return nil, err
	}
	if len(args) != len(sessions) {
		return nil, fmt.Errorf("%d per-account values for %d accounts", len(args), len(sessions))
	}
	return runAll(ctx, sessions, func(ctx context.Context, i int, s *Session) (T, error) {
		return fn(ctx, s, args[i])
	}), nil
}

func runAll[T any](ctx context.Context, sessions []*Session, fn func(ctx context.Context, i int, s *Session) (T, error)) []Result[T] {
	results := make([]Result[T], len(sessions))
	var wg sync.WaitGroup
	for i, s := range sessions {
		wg.Add(1)
		go func(i int, s *Session) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					results[i] = Result[T]{AccountID: s.ID(), Err: fmt.Errorf("account %s: panic: %v", s.ID(), r)}
				}
			}()
			v, err := fn(ctx, i, s)
			results[i] = Result[T]{AccountID: s.ID(), Value: v, Err: err}
		}(i, s)
	}
	wg.Wait()
	return results
}
