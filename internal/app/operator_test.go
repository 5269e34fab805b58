package app

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"aster-fleet-bot/internal/alerts"
	"aster-fleet-bot/internal/bus"
	"aster-fleet-bot/internal/pool"
	"aster-fleet-bot/internal/state"

	"go.uber.org/zap"
)

func TestParseOperatorCommand(t *testing.T) {
	cmd, args, ok := parseOperatorCommand("/status now")
	if !ok || cmd != "status" || len(args) != 1 || args[0] != "now" {
		t.Fatalf("unexpected parse: %q %v %v", cmd, args, ok)
	}
	cmd, _, ok = parseOperatorCommand(" /PAUSE ")
	if !ok || cmd != "pause" {
		t.Fatalf("case folding failed: %q %v", cmd, ok)
	}
	cmd, _, ok = parseOperatorCommand("/close@fleetbot ETHUSDT")
	if !ok || cmd != "close" {
		t.Fatalf("bot suffix not stripped: %q %v", cmd, ok)
	}
	if _, _, ok := parseOperatorCommand("status"); ok {
		t.Fatal("text without slash must not parse")
	}
	if _, _, ok := parseOperatorCommand("   "); ok {
		t.Fatal("blank text must not parse")
	}
}

func TestOperatorPauseResumeAudit(t *testing.T) {
	a := newTestApp()
	ctx := context.Background()
	meta := operatorMeta{UpdateID: 9, UserID: 7, Username: "ops", ChatID: 123, Raw: "/pause"}

	resp, err := a.handleOperatorCommand(ctx, "pause", nil, meta)
	if err != nil || resp != "trading paused" {
		t.Fatalf("pause: %q %v", resp, err)
	}
	if !a.isPaused() {
		t.Fatal("pause flag not set")
	}
	if raw, ok, _ := a.store.Get(ctx, pausedKey); !ok || string(raw) != "1" {
		t.Fatalf("pause not persisted: %q ok=%v", raw, ok)
	}

	resp, err = a.handleOperatorCommand(ctx, "pause", nil, meta)
	if err != nil || resp != "trading already paused" {
		t.Fatalf("second pause: %q %v", resp, err)
	}

	resp, err = a.handleOperatorCommand(ctx, "resume", nil, meta)
	if err != nil || resp != "trading resumed" {
		t.Fatalf("resume: %q %v", resp, err)
	}
	if a.isPaused() {
		t.Fatal("resume left trading paused")
	}
	if raw, _, _ := a.store.Get(ctx, pausedKey); string(raw) != "0" {
		t.Fatalf("resume not persisted: %q", raw)
	}

	resp, err = a.handleOperatorCommand(ctx, "resume", nil, meta)
	if err != nil || resp != "trading already active" {
		t.Fatalf("second resume: %q %v", resp, err)
	}

	audits, err := a.store.List(ctx, "ops:audit:")
	if err != nil {
		t.Fatal(err)
	}
	if len(audits) != 4 {
		t.Fatalf("expected 4 audit events, got %d", len(audits))
	}
	for _, payload := range audits {
		var event operatorAuditEvent
		if err := json.Unmarshal(payload, &event); err != nil {
			t.Fatalf("audit not decodable: %v", err)
		}
		if event.UserID != 7 || event.ChatID != 123 {
			t.Fatalf("audit missing identity: %+v", event)
		}
	}
}

func TestOperatorStatusListsOpenTrades(t *testing.T) {
	a := newTestApp()
	ctx := context.Background()
	a.accounts = []bus.AccountSpec{{ID: "live1"}, {ID: "sim1", Simulation: true}}
	rec := state.TradeRecord{
		TradeID:   "t1",
		AccountID: "live1",
		Symbol:    "ETHUSDT",
		Side:      "BUY",
		Status:    "ACTIVE",
		Quantity:  "0.1",
	}
	if err := state.SaveTradeRecord(ctx, a.store, rec); err != nil {
		t.Fatal(err)
	}
	status := a.operatorStatus(ctx)
	for _, want := range []string{
		"paused: false",
		"accounts: 2 (1 simulated)",
		"open_trades: 1",
		"ETHUSDT BUY ACTIVE",
	} {
		if !strings.Contains(status, want) {
			t.Fatalf("status missing %q:\n%s", want, status)
		}
	}
}

func TestHandleOperatorUpdateAuth(t *testing.T) {
	a := newTestApp()
	ctx := context.Background()
	update := func(chat, user int64, text string) alerts.Update {
		return alerts.Update{
			UpdateID: 1,
			Message: &alerts.Message{
				Text: text,
				From: &alerts.User{ID: user},
				Chat: &alerts.Chat{ID: chat},
			},
		}
	}
	sess := operatorSession{chatID: 123, allowed: map[int64]struct{}{7: {}}}

	a.handleOperatorUpdate(ctx, sess, update(999, 7, "/pause"))
	if a.isPaused() {
		t.Fatal("foreign chat must be ignored")
	}
	a.handleOperatorUpdate(ctx, sess, update(123, 8, "/pause"))
	if a.isPaused() {
		t.Fatal("unlisted user must be ignored")
	}
	a.handleOperatorUpdate(ctx, sess, update(123, 7, "not a command"))
	if a.isPaused() {
		t.Fatal("plain text must be ignored")
	}
	a.handleOperatorUpdate(ctx, sess, alerts.Update{UpdateID: 2})
	if a.isPaused() {
		t.Fatal("update without message must be ignored")
	}
	a.handleOperatorUpdate(ctx, sess, update(123, 7, "/pause"))
	if !a.isPaused() {
		t.Fatal("allowed operator pause must apply")
	}
	if sess.allows(99) {
		t.Fatal("unlisted user must not be allowed")
	}
	open := operatorSession{chatID: 123}
	if !open.allows(99) {
		t.Fatal("empty allowlist must admit chat members")
	}
}

func TestOperatorCloseSweepsFleet(t *testing.T) {
	var closeOrders int
	mux := http.NewServeMux()
	mux.HandleFunc("/fapi/v1/openOrders", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[{"orderId":5,"symbol":"ETHUSDT","status":"NEW"}]`))
	})
	mux.HandleFunc("/fapi/v2/positionRisk", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[{"symbol":"ETHUSDT","positionAmt":"0.4","entryPrice":"3000","positionSide":"BOTH"}]`))
	})
	mux.HandleFunc("/fapi/v1/order", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			closeOrders++
			w.Write([]byte(`{"orderId":9,"symbol":"ETHUSDT","status":"NEW"}`))
			return
		}
		w.Write([]byte(`{"orderId":5,"symbol":"ETHUSDT","status":"CANCELED"}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	a := newTestApp()
	a.sessions = pool.NewSessionCache(pool.Defaults{BaseURL: srv.URL}, nil, zap.NewNop(), nil)
	a.accounts = []bus.AccountSpec{{ID: "live1", APIKey: "k", APISecret: "s"}}

	resp, err := a.handleOperatorCommand(context.Background(), "close", []string{"eth_usdt"}, operatorMeta{UpdateID: 4, Raw: "/close eth_usdt"})
	if err != nil {
		t.Fatal(err)
	}
	if closeOrders != 1 {
		t.Fatalf("expected one close order, got %d", closeOrders)
	}
	if !strings.Contains(resp, "ETHUSDT") || !strings.Contains(resp, "1 positions closed") {
		t.Fatalf("unexpected reply %q", resp)
	}
	if !strings.Contains(resp, "1 orders cancelled") {
		t.Fatalf("cancel count missing from %q", resp)
	}
	audits, err := a.store.List(context.Background(), "ops:audit:")
	if err != nil {
		t.Fatal(err)
	}
	if len(audits) != 1 {
		t.Fatalf("close not audited, got %d events", len(audits))
	}

	if _, err := a.handleOperatorCommand(context.Background(), "close", nil, operatorMeta{}); err == nil {
		t.Fatal("close without a symbol must error")
	}
}
