package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"aster-fleet-bot/internal/alerts"
	"aster-fleet-bot/internal/bus"
	"aster-fleet-bot/internal/pool"
	"aster-fleet-bot/internal/state"

	"go.uber.org/zap"
)

const (
	operatorOffsetKey = "telegram:operator:last_update_id"
	pausedKey         = "ops:paused"
)

type operatorMeta struct {
	UpdateID int64
	UserID   int64
	Username string
	ChatID   int64
	Raw      string
}

// audit seeds an event with the command provenance; the caller fills
// in action-specific fields.
func (m operatorMeta) audit(action string) operatorAuditEvent {
	return operatorAuditEvent{
		UpdateID: m.UpdateID,
		Time:     time.Now().UTC(),
		Action:   action,
		Command:  m.Raw,
		UserID:   m.UserID,
		Username: m.Username,
		ChatID:   m.ChatID,
	}
}

type operatorAuditEvent struct {
	UpdateID     int64     `json:"update_id"`
	Time         time.Time `json:"time"`
	Action       string    `json:"action"`
	Command      string    `json:"command"`
	UserID       int64     `json:"user_id"`
	Username     string    `json:"username,omitempty"`
	ChatID       int64     `json:"chat_id"`
	Symbol       string    `json:"symbol,omitempty"`
	PausedBefore bool      `json:"paused_before"`
	PausedAfter  bool      `json:"paused_after"`
}

// operatorSession is the resolved polling setup: which chat to obey,
// who inside it may drive the bot, and how long each poll holds.
type operatorSession struct {
	chatID  int64
	allowed map[int64]struct{}
	poll    time.Duration
}

// allows reports whether the sender may drive the bot. An empty
// allowlist admits everyone in the operator chat.
func (s operatorSession) allows(userID int64) bool {
	if len(s.allowed) == 0 {
		return true
	}
	_, ok := s.allowed[userID]
	return ok
}

func (a *App) startOperator(ctx context.Context) {
	if a.cfg == nil || a.alerts == nil || a.log == nil {
		return
	}
	tg := a.cfg.Telegram
	if !tg.OperatorEnabled {
		return
	}
	if !a.alerts.Enabled() {
		a.log.Warn("telegram operator disabled: alerts not configured")
		return
	}
	chatID, err := strconv.ParseInt(strings.TrimSpace(tg.ChatID), 10, 64)
	if err != nil {
		a.log.Warn("telegram operator disabled: invalid chat_id", zap.Error(err))
		return
	}
	sess := operatorSession{
		chatID:  chatID,
		allowed: make(map[int64]struct{}, len(tg.OperatorAllowedUserIDs)),
		poll:    tg.OperatorPollInterval,
	}
	if sess.poll <= 0 {
		sess.poll = 3 * time.Second
	}
	for _, id := range tg.OperatorAllowedUserIDs {
		sess.allowed[id] = struct{}{}
	}
	go a.operatorLoop(ctx, sess)
}

func (a *App) operatorLoop(ctx context.Context, sess operatorSession) {
	offset := a.loadOperatorOffset(ctx)
	for ctx.Err() == nil {
		updates, err := a.alerts.GetUpdates(ctx, offset, sess.poll)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			a.logOperatorError(err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(sess.poll):
			}
			continue
		}
		if a.operatorWarned {
			a.log.Info("telegram operator recovered")
			a.operatorWarned = false
		}
		for _, upd := range updates {
			// Offset advances before handling so a crash cannot
			// replay a command like /close on restart.
			if upd.UpdateID >= offset {
				offset = upd.UpdateID + 1
				a.saveOperatorOffset(ctx, offset)
			}
			a.handleOperatorUpdate(ctx, sess, upd)
		}
	}
}

func (a *App) handleOperatorUpdate(ctx context.Context, sess operatorSession, upd alerts.Update) {
	msg := upd.Message
	if msg == nil || msg.Chat == nil || msg.From == nil {
		return
	}
	if msg.Chat.ID != sess.chatID || !sess.allows(msg.From.ID) {
		return
	}
	cmd, args, ok := parseOperatorCommand(msg.Text)
	if !ok {
		return
	}
	meta := operatorMeta{
		UpdateID: upd.UpdateID,
		UserID:   msg.From.ID,
		Username: msg.From.Username,
		ChatID:   msg.Chat.ID,
		Raw:      msg.Text,
	}
	resp, err := a.handleOperatorCommand(ctx, cmd, args, meta)
	if err != nil {
		resp = fmt.Sprintf("command failed: %v", err)
	}
	if resp == "" {
		return
	}
	if err := a.alerts.Send(ctx, resp); err != nil {
		a.log.Warn("operator response failed", zap.Error(err))
	}
}

func parseOperatorCommand(text string) (string, []string, bool) {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return "", nil, false
	}
	name, isCmd := strings.CutPrefix(fields[0], "/")
	if !isCmd {
		return "", nil, false
	}
	// Group chats address commands as /close@botname.
	name, _, _ = strings.Cut(name, "@")
	if name == "" {
		return "", nil, false
	}
	return strings.ToLower(name), fields[1:], true
}

func (a *App) handleOperatorCommand(ctx context.Context, cmd string, args []string, meta operatorMeta) (string, error) {
	switch cmd {
	case "status":
		return a.operatorStatus(ctx), nil
	case "pause":
		return a.operatorSetPaused(ctx, meta, true), nil
	case "resume":
		return a.operatorSetPaused(ctx, meta, false), nil
	case "close":
		if len(args) != 1 {
			return "", errors.New("usage: /close SYMBOL")
		}
		return a.operatorClose(ctx, args[0], meta)
	case "help":
		return operatorHelpText(), nil
	default:
		return operatorHelpText(), nil
	}
}

// operatorSetPaused handles /pause and /resume. The reply reports the
// pre-toggle state so repeating a command says so instead of lying
// about a change.
func (a *App) operatorSetPaused(ctx context.Context, meta operatorMeta, pause bool) string {
	before := a.isPaused()
	action := "resume"
	if pause {
		action = "pause"
	}
	ev := meta.audit(action)
	ev.PausedBefore = before
	ev.PausedAfter = a.setPaused(ctx, pause)
	a.auditOperatorEvent(ctx, ev)
	switch {
	case pause && before:
		return "trading already paused"
	case pause:
		return "trading paused"
	case before:
		return "trading resumed"
	default:
		return "trading already active"
	}
}

// operatorClose flattens the symbol on every configured account, the
// same sweep a close_position signal runs. The pause flag does not
// gate it; closing risk must always work.
func (a *App) operatorClose(ctx context.Context, rawSymbol string, meta operatorMeta) (string, error) {
	symbol := bus.NormalizeSymbol(rawSymbol)
	if symbol == "" {
		return "", errors.New("usage: /close SYMBOL")
	}
	if len(a.accounts) == 0 {
		return "", errors.New("no accounts configured")
	}
	cfgs := make([]pool.AccountConfig, len(a.accounts))
	for i, acc := range a.accounts {
		cfgs[i] = pool.AccountConfig{
			ID:         acc.ID,
			Key:        acc.APIKey,
			Secret:     acc.APISecret,
			Simulation: acc.Simulation,
		}
	}
	pl, err := a.sessions.Pool(cfgs)
	if err != nil {
		return "", err
	}
	defer pl.Close()
	results, err := pl.ClosePositions(ctx, symbol)
	if err != nil {
		return "", err
	}
	closed, cancelled, failed := 0, 0, 0
	for _, r := range results {
		if r.Err != nil {
			failed++
			a.log.Error("operator close failed", zap.String("account", r.AccountID), zap.Error(r.Err))
			continue
		}
		cancelled += r.Value.Cancelled
		if r.Value.Quantity.Sign() > 0 {
			closed++
		}
	}
	ev := meta.audit("close")
	ev.Symbol = symbol
	a.auditOperatorEvent(ctx, ev)
	return fmt.Sprintf("%s: %d positions closed, %d orders cancelled, %d accounts failed", symbol, closed, cancelled, failed), nil
}

func (a *App) operatorStatus(ctx context.Context) string {
	streamState := "unknown"
	if a.stream != nil {
		streamState = string(a.stream.State())
	}
	sims := 0
	for _, acc := range a.accounts {
		if acc.Simulation {
			sims++
		}
	}
	lines := []string{
		fmt.Sprintf("paused: %t", a.isPaused()),
		fmt.Sprintf("stream: %s", streamState),
		fmt.Sprintf("symbols: %d", len(a.symbols.Symbols())),
		fmt.Sprintf("accounts: %d (%d simulated)", len(a.accounts), sims),
	}
	records, err := state.ListTradeRecords(ctx, a.store)
	if err != nil {
		lines = append(lines, fmt.Sprintf("open_trades: unavailable (%v)", err))
		return strings.Join(lines, "\n")
	}
	lines = append(lines, fmt.Sprintf("open_trades: %d", len(records)))
	for _, rec := range records {
		lines = append(lines, fmt.Sprintf("%s %s %s qty %s on %s", rec.Symbol, rec.Side, rec.Status, rec.Quantity, rec.AccountID))
	}
	return strings.Join(lines, "\n")
}

func operatorHelpText() string {
	return strings.Join([]string{
		"commands:",
		"/status - pause flag, stream state, open trades",
		"/pause - stop taking trade and order signals",
		"/resume - take signals again",
		"/close SYMBOL - flatten the symbol on every account",
	}, "\n")
}

func (a *App) isPaused() bool {
	a.opsMu.RLock()
	defer a.opsMu.RUnlock()
	return a.paused
}

// setPaused flips the flag and persists it so a pause survives a
// restart.
func (a *App) setPaused(ctx context.Context, paused bool) bool {
	a.opsMu.Lock()
	a.paused = paused
	a.opsMu.Unlock()
	val := []byte("0")
	if paused {
		val = []byte("1")
	}
	if err := a.store.Set(ctx, pausedKey, val); err != nil {
		a.log.Warn("pause state save failed", zap.Error(err))
	}
	return paused
}

func (a *App) restorePaused(ctx context.Context) {
	raw, ok, err := a.store.Get(ctx, pausedKey)
	if err != nil || !ok {
		return
	}
	if string(raw) != "1" {
		return
	}
	a.opsMu.Lock()
	a.paused = true
	a.opsMu.Unlock()
	a.log.Warn("trading paused from previous run")
}

// logOperatorError warns once per outage; operatorLoop resets the
// latch when polling recovers.
func (a *App) logOperatorError(err error) {
	if a.log == nil || a.operatorWarned {
		return
	}
	a.operatorWarned = true
	a.log.Warn("telegram operator failed", zap.Error(err))
}

func (a *App) loadOperatorOffset(ctx context.Context) int64 {
	if a.store == nil {
		return 0
	}
	raw, ok, err := a.store.Get(ctx, operatorOffsetKey)
	if err != nil || !ok {
		return 0
	}
	val, err := strconv.ParseInt(string(raw), 10, 64)
	if err != nil || val < 0 {
		return 0
	}
	return val
}

func (a *App) saveOperatorOffset(ctx context.Context, offset int64) {
	if a.store == nil {
		return
	}
	_ = a.store.Set(ctx, operatorOffsetKey, []byte(strconv.FormatInt(offset, 10)))
}

func (a *App) auditOperatorEvent(ctx context.Context, event operatorAuditEvent) {
	if a.store == nil {
		return
	}
	key := fmt.Sprintf("ops:audit:%d:%d", time.Now().UTC().UnixNano(), event.UpdateID)
	payload, err := json.Marshal(event)
	if err != nil {
		return
	}
	_ = a.store.Set(ctx, key, payload)
}
