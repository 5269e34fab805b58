package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"aster-fleet-bot/internal/aster/rest"
	"aster-fleet-bot/internal/config"
	"aster-fleet-bot/internal/logging"
	"aster-fleet-bot/internal/market"

	"go.uber.org/zap"
)

// Command verify is a read-only preflight: it checks venue
// connectivity, symbol filters, the live book, and each configured
// account's credentials. It never places or cancels an order.

const (
	defaultBaseURL    = "https://fapi.asterdex.com"
	defaultTimeout    = 10 * time.Second
	defaultEnvFile    = ".env"
	defaultDepthLimit = 5
)

func main() {
	configPath := flag.String("config", "", "optional config path for REST and account settings")
	symbolFlag := flag.String("symbol", "", "symbol to inspect (default ASTER_VERIFY_SYMBOL or ETHUSDT)")
	accounts := flag.Bool("accounts", false, "also check every configured account (requires -config)")
	flag.Parse()

	if err := config.LoadEnv(defaultEnvFile); err != nil {
		fatal(err)
	}

	logCfg := config.LoggingConfig{Level: "warn"}
	baseURL := defaultBaseURL
	timeout := defaultTimeout
	recvWindow := int64(0)
	var cfg *config.Config
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			fatal(err)
		}
		cfg = loaded
		logCfg = cfg.Log
		if cfg.REST.BaseURL != "" {
			baseURL = cfg.REST.BaseURL
		}
		if cfg.REST.Timeout > 0 {
			timeout = cfg.REST.Timeout
		}
		recvWindow = cfg.REST.RecvWindow
	}

	log := logging.New(logCfg)
	defer func() { _ = log.Sync() }()

	symbol := strings.TrimSpace(*symbolFlag)
	if symbol == "" {
		symbol = strings.TrimSpace(os.Getenv("ASTER_VERIFY_SYMBOL"))
	}
	if symbol == "" {
		symbol = "ETHUSDT"
	}
	symbol = strings.ToUpper(symbol)

	ctx := context.Background()
	public := rest.New(rest.Options{BaseURL: baseURL, Timeout: timeout}, log)
	symbols := market.NewSymbolCache(public, log)
	if err := symbols.Warmup(ctx); err != nil {
		fatal(err)
	}
	fmt.Printf("venue: %s\n", baseURL)
	fmt.Printf("symbols listed: %d\n", len(symbols.Symbols()))

	filters, err := symbols.Filters(ctx, symbol)
	if err != nil {
		fatal(err)
	}
	fmt.Printf("%s filters: tick_size=%s step_size=%s min_qty=%s min_notional=%s\n",
		symbol, filters.TickSize, filters.StepSize, filters.MinQty, filters.MinNotional)

	depth, err := public.Depth(ctx, symbol, defaultDepthLimit)
	if err != nil {
		fatal(err)
	}
	bid, ask := depth.BestBid(), depth.BestAsk()
	if bid.Sign() <= 0 || ask.Sign() <= 0 {
		fatal(fmt.Errorf("order book for %s is empty", symbol))
	}
	fmt.Printf("%s book: bid=%s ask=%s spread=%s\n", symbol, bid, ask, ask.Sub(bid))

	if premium, err := public.PremiumIndex(ctx, symbol); err == nil {
		fmt.Printf("%s mark=%s funding_rate=%s\n", symbol, premium.MarkPrice, premium.LastFundingRate)
	}

	if !*accounts {
		return
	}
	if cfg == nil {
		fatal(errors.New("-accounts requires -config"))
	}
	if len(cfg.Accounts) == 0 {
		fatal(errors.New("no accounts configured"))
	}
	failures := 0
	for _, acc := range cfg.Accounts {
		if acc.Simulation {
			fmt.Printf("account %s: simulated, nothing to check\n", acc.ID)
			continue
		}
		if !checkAccount(ctx, baseURL, timeout, recvWindow, acc, log) {
			failures++
		}
	}
	if failures > 0 {
		fatal(fmt.Errorf("%d account checks failed", failures))
	}
}

// checkAccount exercises the signed endpoints the bot depends on and
// prints what it finds. It returns false when the credentials do not
// work.
func checkAccount(ctx context.Context, baseURL string, timeout time.Duration, recvWindow int64, acc config.AccountConfig, log *zap.Logger) bool {
	client := rest.New(rest.Options{
		BaseURL:    baseURL,
		Timeout:    timeout,
		APIKey:     acc.APIKey,
		APISecret:  acc.APISecret,
		RecvWindow: recvWindow,
	}, log)

	info, err := client.Account(ctx)
	if err != nil {
		fmt.Printf("account %s: credential check failed: %v\n", acc.ID, err)
		return false
	}
	fmt.Printf("account %s: can_trade=%t wallet=%s available=%s\n",
		acc.ID, info.CanTrade, info.TotalWalletBalance, info.AvailableBalance)

	balances, err := client.Balances(ctx)
	if err != nil {
		fmt.Printf("account %s: balance check failed: %v\n", acc.ID, err)
		return false
	}
	for _, b := range balances {
		if b.Balance.IsZero() {
			continue
		}
		fmt.Printf("account %s: %s balance=%s available=%s\n", acc.ID, b.Asset, b.Balance, b.AvailableBalance)
	}

	positions, err := client.Positions(ctx, "")
	if err != nil {
		fmt.Printf("account %s: position check failed: %v\n", acc.ID, err)
		return false
	}
	open := 0
	for _, p := range positions {
		if !p.Open() {
			continue
		}
		open++
		fmt.Printf("account %s: position %s amt=%s entry=%s upnl=%s\n",
			acc.ID, p.Symbol, p.PositionAmt, p.EntryPrice, p.UnrealizedProfit)
	}

	orders, err := client.OpenOrders(ctx, "")
	if err != nil {
		fmt.Printf("account %s: open order check failed: %v\n", acc.ID, err)
		return false
	}
	fmt.Printf("account %s: open_positions=%d open_orders=%d\n", acc.ID, open, len(orders))

	dual, err := client.HedgeMode(ctx)
	if err != nil {
		fmt.Printf("account %s: position mode check failed: %v\n", acc.ID, err)
		return false
	}
	mode := "one-way"
	if dual {
		mode = "hedge (bot will switch to one-way on startup)"
	}
	fmt.Printf("account %s: position_mode=%s\n", acc.ID, mode)
	return true
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}
