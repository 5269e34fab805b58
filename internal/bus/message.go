// Package bus consumes signal messages from NATS and turns them into
// fleet operations: full trade lifecycles, plain order batches, and
// position closes across the configured accounts.
package bus

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"aster-fleet-bot/internal/trade"
)

// Kind classifies a bus message. Anything that is not a heartbeat,
// order, or close request is treated as a trade command, which is also
// the default when the field is absent.
type Kind string

const (
	KindTrade     Kind = "trade"
	KindOrder     Kind = "order"
	KindClose     Kind = "close_position"
	KindHeartbeat Kind = "heartbeat"
)

// AccountSpec names one account a message (or the config fallback)
// wants an operation executed on. Quantity may be zero when the
// message carries a shared default.
type AccountSpec struct {
	ID         string          `json:"id"`
	APIKey     string          `json:"api_key"`
	APISecret  string          `json:"api_secret"`
	Quantity   decimal.Decimal `json:"quantity"`
	Simulation bool            `json:"simulation"`
}

// Message is the wire shape of every bus signal. One struct covers all
// kinds; which fields matter depends on Type. Decimal fields accept
// both JSON numbers and strings.
type Message struct {
	Type   string `json:"type"`
	Symbol string `json:"symbol"`
	Side   string `json:"side"`

	// Trade fields. Exactly one of the three take-profit shapes.
	TPPercent     *decimal.Decimal  `json:"tp_percent"`
	TPPercents    []decimal.Decimal `json:"tp_percents"`
	TPLevels      []trade.TPLeg     `json:"tp_levels"`
	SLPercent     decimal.Decimal   `json:"sl_percent"`
	TicksDistance int               `json:"ticks_distance"`

	// Quantity is the shared default; per-account entries override it.
	Quantity decimal.Decimal `json:"quantity"`
	Accounts []AccountSpec   `json:"accounts"`

	// Order fields.
	OrderType   string           `json:"order_type"`
	Price       *decimal.Decimal `json:"price"`
	StopPrice   *decimal.Decimal `json:"stop_price"`
	ReduceOnly  bool             `json:"reduce_only"`
	TimeInForce string           `json:"time_in_force"`

	// Heartbeat fields.
	Status         string `json:"status"`
	Timestamp      string `json:"timestamp"`
	Note           string `json:"message"`
	AccountsLoaded int    `json:"accounts_loaded"`
}

// Kind maps the type field to a dispatch kind. Unknown and missing
// types fall back to trade for compatibility with older producers.
func (m Message) Kind() Kind {
	switch Kind(m.Type) {
	case KindOrder, KindClose, KindHeartbeat:
		return Kind(m.Type)
	default:
		return KindTrade
	}
}

// NormalizeSymbol folds the symbol spellings producers use into the
// venue form: upper case, no underscore or slash separators.
func NormalizeSymbol(s string) string {
	s = strings.ReplaceAll(s, "_", "")
	s = strings.ReplaceAll(s, "/", "")
	return strings.ToUpper(s)
}

func parseSide(s string) (trade.Side, error) {
	side := trade.Side(strings.ToUpper(s))
	if !side.Valid() {
		return "", fmt.Errorf("unknown side %q", s)
	}
	return side, nil
}

// takeProfit resolves the wire shapes into a take-profit config.
// Exactly one shape must be present.
func (m Message) takeProfit() (trade.TPConfig, error) {
	set := 0
	if m.TPPercent != nil {
		set++
	}
	if len(m.TPPercents) > 0 {
		set++
	}
	if len(m.TPLevels) > 0 {
		set++
	}
	if set == 0 {
		return trade.TPConfig{}, errors.New("one of tp_percent, tp_percents, tp_levels is required")
	}
	if set > 1 {
		return trade.TPConfig{}, errors.New("tp_percent, tp_percents and tp_levels are mutually exclusive")
	}
	switch {
	case m.TPPercent != nil:
		return trade.SingleTP(*m.TPPercent), nil
	case len(m.TPPercents) > 0:
		return trade.EqualSplitTP(m.TPPercents...), nil
	default:
		return trade.WeightedTP(m.TPLevels...), nil
	}
}
