// Package timescale captures streamed top-of-book quotes into a
// TimescaleDB hypertable for offline analysis. Capture is best effort:
// a full queue drops ticks rather than slowing the quote path.
package timescale

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"aster-fleet-bot/internal/config"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const writeTimeout = 3 * time.Second

// Tick is one best-bid-offer observation.
type Tick struct {
	Time   time.Time
	Symbol string
	Bid    decimal.Decimal
	Ask    decimal.Decimal
	BidQty decimal.Decimal
	AskQty decimal.Decimal
}

type Writer struct {
	db         *sql.DB
	log        *zap.Logger
	ticks      chan Tick
	flushEvery time.Duration
	started    atomic.Bool
	dropped    atomic.Uint64
}

// New connects and prepares the capture table. Returns (nil, nil) when
// capture is disabled; a nil *Writer accepts and discards all calls.
func New(cfg config.CaptureConfig, log *zap.Logger) (*Writer, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, errors.New("capture dsn is required")
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	bufferSize := cfg.BufferSize
	if bufferSize <= 0 {
		bufferSize = 256
	}
	flushEvery := cfg.FlushEvery
	if flushEvery <= 0 {
		flushEvery = 5 * time.Second
	}
	writer := &Writer{
		db:         db,
		log:        log,
		ticks:      make(chan Tick, bufferSize),
		flushEvery: flushEvery,
	}
	if err := writer.ensureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return writer, nil
}

func (w *Writer) Start(ctx context.Context) {
	if w == nil {
		return
	}
	if !w.started.CompareAndSwap(false, true) {
		return
	}
	go w.run(ctx)
}

func (w *Writer) Close() error {
	if w == nil || w.db == nil {
		return nil
	}
	return w.db.Close()
}

// Enqueue queues one tick for the next flush. Never blocks.
func (w *Writer) Enqueue(tick Tick) {
	if w == nil {
		return
	}
	select {
	case w.ticks <- tick:
		return
	default:
		if w.dropped.Add(1) == 1 && w.log != nil {
			w.log.Warn("capture queue full, dropping ticks")
		}
	}
}

func (w *Writer) run(ctx context.Context) {
	ticker := time.NewTicker(w.flushEvery)
	defer ticker.Stop()
	batch := make([]Tick, 0, cap(w.ticks))
	for {
		select {
		case <-ctx.Done():
			w.flush(context.Background(), batch)
			return
		case tick := <-w.ticks:
			batch = append(batch, tick)
			if len(batch) == cap(batch) {
				w.flush(ctx, batch)
				batch = batch[:0]
			}
		case <-ticker.C:
			if len(batch) > 0 {
				w.flush(ctx, batch)
				batch = batch[:0]
			}
		}
	}
}

func (w *Writer) ensureSchema(ctx context.Context) error {
	if w.db == nil {
		return errors.New("capture db not initialized")
	}
	if err := w.exec(ctx, `CREATE TABLE IF NOT EXISTS market_bbo (
		ts TIMESTAMPTZ NOT NULL,
		symbol TEXT NOT NULL,
		bid NUMERIC NOT NULL,
		ask NUMERIC NOT NULL,
		bid_qty NUMERIC NOT NULL,
		ask_qty NUMERIC NOT NULL
	)`); err != nil {
		return err
	}
	if err := w.exec(ctx, "CREATE INDEX IF NOT EXISTS market_bbo_symbol_ts_idx ON market_bbo (symbol, ts DESC)"); err != nil {
		return err
	}
	if err := w.exec(ctx, "CREATE EXTENSION IF NOT EXISTS timescaledb"); err != nil {
		if w.log != nil {
			w.log.Warn("timescaledb extension ensure failed", zap.Error(err))
		}
		return nil
	}
	if err := w.exec(ctx, "SELECT create_hypertable('market_bbo', 'ts', if_not_exists => TRUE)"); err != nil && w.log != nil {
		w.log.Warn("market_bbo hypertable create failed", zap.Error(err))
	}
	return nil
}

func (w *Writer) flush(ctx context.Context, batch []Tick) {
	if w.db == nil || len(batch) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	var sb strings.Builder
	sb.WriteString("INSERT INTO market_bbo (ts, symbol, bid, ask, bid_qty, ask_qty) VALUES ")
	args := make([]any, 0, len(batch)*6)
	for i, tick := range batch {
		if i > 0 {
			sb.WriteByte(',')
		}
		base := i * 6
		fmt.Fprintf(&sb, "($%d,$%d,$%d,$%d,$%d,$%d)", base+1, base+2, base+3, base+4, base+5, base+6)
		args = append(args, tick.Time, tick.Symbol, tick.Bid, tick.Ask, tick.BidQty, tick.AskQty)
	}
	if _, err := w.db.ExecContext(ctx, sb.String(), args...); err != nil && w.log != nil {
		w.log.Warn("capture insert failed", zap.Error(err), zap.Int("rows", len(batch)))
	}
}

func (w *Writer) exec(ctx context.Context, query string) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	_, err := w.db.ExecContext(ctx, query)
	return err
}
