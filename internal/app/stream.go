package app

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"aster-fleet-bot/internal/aster/ws"
	"aster-fleet-bot/internal/market"
	"aster-fleet-bot/internal/timescale"

	"go.uber.org/zap"
)

// Reconnect churn worth telling the operator about.
const (
	stormWindow    = 10 * time.Minute
	stormThreshold = 5
)

// onQuoteMessage is the hot path: every ticker event lands here, feeds
// the quote cache, and is queued for capture.
func (a *App) onQuoteMessage(raw json.RawMessage) {
	a.met.StreamMessages.Inc()
	tick, ok := market.ParseBookTicker(raw)
	if !ok {
		return
	}
	a.quotes.Update(tick)
	at := tick.EventTime
	if at.IsZero() {
		at = time.Now().UTC()
	}
	a.capture.Enqueue(timescale.Tick{
		Time:   at,
		Symbol: tick.Symbol,
		Bid:    tick.BestBid,
		Ask:    tick.BestAsk,
		BidQty: tick.BidQty,
		AskQty: tick.AskQty,
	})
}

// onStreamState watches the quote stream for reconnect churn. The
// first connect is plain startup; repeated connects inside the storm
// window page the operator, at most once per window.
func (a *App) onStreamState(ctx context.Context, st ws.State) {
	if st != ws.StateConnected {
		return
	}
	a.stormMu.Lock()
	first := !a.sawConnect
	a.sawConnect = true
	a.stormMu.Unlock()
	if first {
		return
	}
	a.met.StreamReconnects.Inc()
	count, storm := a.recordReconnect(time.Now())
	if !storm {
		return
	}
	a.log.Warn("quote stream reconnecting repeatedly",
		zap.Int("reconnects", count),
		zap.Duration("window", stormWindow))
	if err := a.alerts.Send(ctx, fmt.Sprintf("Quote stream unstable: %d reconnects in %s", count, stormWindow)); err != nil {
		a.log.Warn("alert send failed", zap.Error(err))
	}
}

func (a *App) recordReconnect(now time.Time) (int, bool) {
	a.stormMu.Lock()
	defer a.stormMu.Unlock()
	keep := a.reconnects[:0]
	for _, ts := range a.reconnects {
		if now.Sub(ts) <= stormWindow {
			keep = append(keep, ts)
		}
	}
	a.reconnects = append(keep, now)
	if len(a.reconnects) < stormThreshold || now.Before(a.stormUntil) {
		return len(a.reconnects), false
	}
	a.stormUntil = now.Add(stormWindow)
	return len(a.reconnects), true
}
