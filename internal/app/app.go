package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"aster-fleet-bot/internal/account"
	"aster-fleet-bot/internal/alerts"
	"aster-fleet-bot/internal/aster/rest"
	"aster-fleet-bot/internal/aster/ws"
	"aster-fleet-bot/internal/bus"
	"aster-fleet-bot/internal/config"
	"aster-fleet-bot/internal/market"
	"aster-fleet-bot/internal/metrics"
	"aster-fleet-bot/internal/pool"
	"aster-fleet-bot/internal/state"
	"aster-fleet-bot/internal/state/sqlite"
	"aster-fleet-bot/internal/timescale"
	"aster-fleet-bot/internal/trade"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type App struct {
	cfg      *config.Config
	log      *zap.Logger
	store    state.Store
	public   *rest.Client
	quotes   *market.QuoteCache
	symbols  *market.SymbolCache
	stream   *ws.Stream
	sessions *pool.SessionCache
	bus      *bus.Listener
	prom     *metrics.Prometheus
	met      *metrics.Metrics
	alerts   *alerts.Telegram
	capture  *timescale.Writer

	// closer only ever runs MarkClosed; it never touches the venue.
	closer   *trade.Controller
	accounts []bus.AccountSpec
	fleet    []*liveAccount

	liveMu sync.Mutex
	live   map[string]liveTrade

	opsMu          sync.RWMutex
	paused         bool
	operatorWarned bool

	stormMu    sync.Mutex
	sawConnect bool
	reconnects []time.Time
	stormUntil time.Time
}

// liveAccount is one real account's private surface: a signed REST
// client, the user data stream, and the state tracked from it.
// Simulated accounts have none of this.
type liveAccount struct {
	id      string
	rest    *rest.Client
	tracker *account.Tracker
	stream  *ws.UserStream
}

// liveTrade pairs an active trade with the account that holds it, so a
// position reported flat can be routed back to the right record.
type liveTrade struct {
	accountID string
	t         *trade.Trade
}

const (
	// The all-market ticker carries every symbol's best bid and ask
	// over one socket, so the whole fleet shares a single market feed.
	allMarketTickerPath = "/ws/!bookTicker"

	warmupTimeout = 30 * time.Second
)

func New(cfg *config.Config, log *zap.Logger) (*App, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.State.SQLitePath), 0o755); err != nil {
		return nil, err
	}
	store, err := sqlite.New(cfg.State.SQLitePath)
	if err != nil {
		return nil, err
	}
	met := metrics.NewNoop()
	var prom *metrics.Prometheus
	if cfg.Metrics.EnabledValue() {
		prom = metrics.NewPrometheus()
		met = prom.Metrics
	}
	capture, err := timescale.New(cfg.Capture, log)
	if err != nil {
		return nil, err
	}
	public := rest.New(rest.Options{
		BaseURL:    cfg.REST.BaseURL,
		Timeout:    cfg.REST.Timeout,
		RecvWindow: cfg.REST.RecvWindow,
	}, log)
	sessions := pool.NewSessionCache(pool.Defaults{
		BaseURL:    cfg.REST.BaseURL,
		Timeout:    cfg.REST.Timeout,
		RecvWindow: cfg.REST.RecvWindow,
	}, store, log, met)

	a := &App{
		cfg:      cfg,
		log:      log,
		store:    store,
		public:   public,
		quotes:   market.NewQuoteCache(),
		symbols:  market.NewSymbolCache(public, log),
		sessions: sessions,
		prom:     prom,
		met:      met,
		alerts:   alerts.NewTelegram(cfg.Telegram, log),
		capture:  capture,
		closer:   trade.NewController(nil, nil, log, met),
		live:     make(map[string]liveTrade),
	}
	a.stream = ws.NewStream(ws.Options{
		URL:            strings.TrimRight(cfg.Stream.URL, "/") + allMarketTickerPath,
		ReconnectDelay: cfg.Stream.ReconnectDelay,
		PingInterval:   cfg.Stream.HeartbeatInterval,
		SessionMaxAge:  cfg.Stream.SessionMaxAge,
	}, log)

	for _, acc := range cfg.Accounts {
		spec := bus.AccountSpec{
			ID:         acc.ID,
			APIKey:     acc.APIKey,
			APISecret:  acc.APISecret,
			Simulation: acc.Simulation,
		}
		if acc.Quantity != "" {
			qty, err := decimal.NewFromString(acc.Quantity)
			if err != nil {
				return nil, fmt.Errorf("account %q quantity: %w", acc.ID, err)
			}
			spec.Quantity = qty
		}
		a.accounts = append(a.accounts, spec)

		if acc.Simulation {
			continue
		}
		session := sessions.Session(pool.AccountConfig{ID: acc.ID, Key: acc.APIKey, Secret: acc.APISecret})
		accLog := log.With(zap.String("account", acc.ID))
		tracker := account.NewTracker(session.REST(), accLog)
		id := acc.ID
		tracker.OnAccountUpdate(func(u account.AccountUpdate) {
			a.onAccountUpdate(id, u)
		})
		a.fleet = append(a.fleet, &liveAccount{
			id:      acc.ID,
			rest:    session.REST(),
			tracker: tracker,
			stream: ws.NewUserStream(session.REST(), ws.UserStreamOptions{
				BaseURL:        cfg.Stream.URL,
				ReconnectDelay: cfg.Stream.ReconnectDelay,
				PingInterval:   cfg.Stream.HeartbeatInterval,
				SessionMaxAge:  cfg.Stream.SessionMaxAge,
			}, accLog),
		})
	}

	if cfg.NATS.EnabledValue() {
		handler := bus.NewHandler(bus.HandlerOptions{
			Sessions: sessions,
			Quotes:   a.quotes,
			Books:    public,
			Symbols:  a.symbols,
			Entry: bus.Defaults{
				MaxRetries:      cfg.Entry.MaxRetries,
				FillTimeout:     cfg.Entry.FillTimeout,
				PollInterval:    cfg.Entry.PollInterval,
				MaxChasePercent: decimal.NewFromFloat(cfg.Entry.MaxChasePercent),
			},
			Accounts: a.accounts,
			Observe:  a.observeTrade,
			Paused:   a.isPaused,
		}, log, met)
		a.bus = bus.NewListener(cfg.NATS.URL, cfg.NATS.Subject, handler, log)
	}
	return a, nil
}

func (a *App) Run(ctx context.Context) error {
	defer a.store.Close()
	defer a.capture.Close()

	a.warmup(ctx)
	a.restorePaused(ctx)
	a.reportUnresolved(ctx)
	for _, acc := range a.fleet {
		a.prepareAccount(ctx, acc)
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	errc := make(chan error, 4+len(a.fleet))
	var wg sync.WaitGroup
	start := func(name string, fn func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(runCtx); err != nil && !errors.Is(err, context.Canceled) {
				select {
				case errc <- fmt.Errorf("%s: %w", name, err):
				default:
				}
			}
		}()
	}

	// OnState must be registered before the stream starts dialing.
	a.stream.OnState(func(st ws.State) { a.onStreamState(runCtx, st) })
	start("quote stream", func(ctx context.Context) error {
		return a.stream.Run(ctx, a.onQuoteMessage)
	})
	for _, acc := range a.fleet {
		acc := acc
		start("user stream "+acc.id, func(ctx context.Context) error {
			return acc.stream.Run(ctx, acc.tracker.HandleMessage)
		})
	}
	if a.bus != nil {
		start("signal bus", a.bus.Run)
	}
	if a.prom != nil {
		start("metrics server", a.serveMetrics)
	}
	a.capture.Start(runCtx)
	a.startOperator(runCtx)

	a.log.Info("fleet bot running",
		zap.Int("accounts", len(a.accounts)),
		zap.Int("user_streams", len(a.fleet)),
		zap.Bool("bus", a.bus != nil),
		zap.Bool("paused", a.isPaused()))

	var runErr error
	select {
	case <-ctx.Done():
		runErr = ctx.Err()
	case err := <-errc:
		a.log.Error("component failed, shutting down", zap.Error(err))
		runErr = err
	}
	cancel()
	wg.Wait()
	return runErr
}

// warmup loads symbol filters and seeds the quote cache with tick
// sizes. Failure is survivable; filters are fetched again on demand.
func (a *App) warmup(ctx context.Context) {
	warmCtx, cancel := context.WithTimeout(ctx, warmupTimeout)
	defer cancel()
	if err := a.symbols.Warmup(warmCtx); err != nil {
		a.log.Warn("symbol warmup failed", zap.Error(err))
		return
	}
	symbols := a.symbols.Symbols()
	for _, sym := range symbols {
		f, err := a.symbols.Filters(warmCtx, sym)
		if err != nil || f.TickSize.IsZero() {
			continue
		}
		a.quotes.SetTick(sym, f.TickSize)
	}
	a.log.Info("symbol filters loaded", zap.Int("symbols", len(symbols)))
}

// reportUnresolved surfaces trades a previous run left in flight. The
// venue still holds their exit orders; the operator decides what to do
// with them.
func (a *App) reportUnresolved(ctx context.Context) {
	records, err := state.ListTradeRecords(ctx, a.store)
	if err != nil {
		a.log.Warn("trade record scan failed", zap.Error(err))
		return
	}
	for _, rec := range records {
		a.log.Warn("unresolved trade from previous run",
			zap.String("trade_id", rec.TradeID),
			zap.String("account", rec.AccountID),
			zap.String("symbol", rec.Symbol),
			zap.String("status", rec.Status))
	}
}

// prepareAccount puts one account into a known shape: one-way position
// mode and a reconciled snapshot. Errors are logged, not fatal; one
// broken account must not keep the rest of the fleet down.
func (a *App) prepareAccount(ctx context.Context, acc *liveAccount) {
	dual, err := acc.rest.HedgeMode(ctx)
	if err != nil {
		a.log.Warn("position mode check failed", zap.String("account", acc.id), zap.Error(err))
	} else if dual {
		if err := acc.rest.SetHedgeMode(ctx, false); err != nil {
			a.log.Warn("one-way mode switch failed", zap.String("account", acc.id), zap.Error(err))
		} else {
			a.log.Info("switched to one-way position mode", zap.String("account", acc.id))
		}
	}
	if err := acc.tracker.Reconcile(ctx); err != nil {
		a.log.Warn("account reconcile failed", zap.String("account", acc.id), zap.Error(err))
		return
	}
	snap := acc.tracker.Snapshot()
	a.log.Info("account reconciled",
		zap.String("account", acc.id),
		zap.Int("open_orders", len(snap.Orders)),
		zap.Int("positions", len(snap.Positions)))
}

func (a *App) serveMetrics(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.Handle(a.cfg.Metrics.Path, a.prom.Handler())
	srv := &http.Server{Addr: a.cfg.Metrics.Address, Handler: mux}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	a.log.Info("metrics listening", zap.String("address", a.cfg.Metrics.Address))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
