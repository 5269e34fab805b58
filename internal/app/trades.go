package app

import (
	"context"
	"fmt"

	"aster-fleet-bot/internal/account"
	"aster-fleet-bot/internal/state"
	"aster-fleet-bot/internal/trade"

	"go.uber.org/zap"
)

// observeTrade sees every status change of every account's trades,
// whether driven by the signal bus or by position close detection. It
// keeps the crash visibility record current and raises the alerts
// worth a phone buzz.
func (a *App) observeTrade(accountID string, t *trade.Trade) {
	ctx := context.Background()
	if t.Status.Terminal() {
		a.forgetLive(t.TradeID)
		if err := state.DeleteTradeRecord(ctx, a.store, t.TradeID); err != nil {
			a.log.Warn("trade record delete failed", zap.String("trade_id", t.TradeID), zap.Error(err))
		}
		if t.Status == trade.StatusFailed {
			reason := t.Metadata["error"]
			if reason == "" {
				reason = "unknown"
			}
			if err := a.alerts.Send(ctx, fmt.Sprintf("Trade failed on %s: %s %s %s: %s", accountID, t.Symbol, t.Side, t.Quantity, reason)); err != nil {
				a.log.Warn("alert send failed", zap.Error(err))
			}
		}
		return
	}
	if err := state.SaveTradeRecord(ctx, a.store, tradeRecord(accountID, t)); err != nil {
		a.log.Warn("trade record save failed", zap.String("trade_id", t.TradeID), zap.Error(err))
	}
	if t.Status != trade.StatusActive {
		return
	}
	a.rememberLive(accountID, t)
	if frac := t.Metadata["exit_failures"]; frac != "" {
		if err := a.alerts.Send(ctx, fmt.Sprintf("Trade active with partial exits on %s: %s %s, %s legs failed", accountID, t.Symbol, t.TradeID, frac)); err != nil {
			a.log.Warn("alert send failed", zap.Error(err))
		}
	}
}

// tradeRecord flattens a trade into its persisted snapshot.
func tradeRecord(accountID string, t *trade.Trade) state.TradeRecord {
	exits := make([]int64, 0, len(t.TakeProfits)+1)
	for _, leg := range t.TakeProfits {
		if leg.OrderID != 0 {
			exits = append(exits, leg.OrderID)
		}
	}
	if t.StopLoss.OrderID != 0 {
		exits = append(exits, t.StopLoss.OrderID)
	}
	return state.TradeRecord{
		TradeID:      t.TradeID,
		AccountID:    accountID,
		Symbol:       t.Symbol,
		Side:         string(t.Side),
		Status:       string(t.Status),
		Quantity:     t.Quantity.String(),
		EntryPrice:   t.Entry.Price.String(),
		EntryOrderID: t.Entry.OrderID,
		ExitOrderIDs: exits,
	}
}

func (a *App) rememberLive(accountID string, t *trade.Trade) {
	a.liveMu.Lock()
	defer a.liveMu.Unlock()
	a.live[t.TradeID] = liveTrade{accountID: accountID, t: t}
}

func (a *App) forgetLive(tradeID string) {
	a.liveMu.Lock()
	defer a.liveMu.Unlock()
	delete(a.live, tradeID)
}

// onAccountUpdate runs on the account's user stream goroutine. A
// position reported at zero means an exit filled and the venue
// auto-cancelled the surviving reduce-only siblings, so completion
// here is record keeping, not order management.
func (a *App) onAccountUpdate(accountID string, u account.AccountUpdate) {
	for _, p := range u.Positions {
		if !p.Amount.IsZero() {
			continue
		}
		a.completeTrades(accountID, p.Symbol)
	}
}

// completeTrades moves this account's active trades on the symbol to
// completed.
func (a *App) completeTrades(accountID, symbol string) {
	a.liveMu.Lock()
	matches := make([]liveTrade, 0, 1)
	for _, lt := range a.live {
		if lt.accountID == accountID && lt.t.Symbol == symbol {
			matches = append(matches, lt)
		}
	}
	a.liveMu.Unlock()
	for _, lt := range matches {
		a.closer.MarkClosed(context.Background(), lt.t)
		if lt.t.Status == trade.StatusCompleted {
			a.observeTrade(lt.accountID, lt.t)
		}
	}
}
