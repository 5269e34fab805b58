package account

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// OrderUpdate is one ORDER_TRADE_UPDATE event.
type OrderUpdate struct {
	Symbol        string
	OrderID       int64
	ClientOrderID string
	Side          string
	Type          string
	TimeInForce   string
	ExecType      string
	Status        string
	Price         decimal.Decimal
	StopPrice     decimal.Decimal
	AvgPrice      decimal.Decimal
	OrigQty       decimal.Decimal
	LastFilledQty decimal.Decimal
	FilledQty     decimal.Decimal
	LastPrice     decimal.Decimal
	RealizedPnL   decimal.Decimal
	ReduceOnly    bool
	ClosePosition bool
	PositionSide  string
	EventTime     time.Time
	TradeTime     time.Time
}

// Filled reports whether the order is fully executed.
func (u OrderUpdate) Filled() bool {
	return u.Status == "FILLED"
}

// Terminal reports whether the order can no longer execute.
func (u OrderUpdate) Terminal() bool {
	switch u.Status {
	case "FILLED", "CANCELED", "REJECTED", "EXPIRED":
		return true
	}
	return false
}

// ExitLeg reports whether the order reduces or closes a position.
func (u OrderUpdate) ExitLeg() bool {
	return u.ReduceOnly || u.ClosePosition
}

type BalanceUpdate struct {
	Asset         string
	WalletBalance decimal.Decimal
	CrossWallet   decimal.Decimal
	Change        decimal.Decimal
}

type PositionUpdate struct {
	Symbol        string
	Amount        decimal.Decimal
	EntryPrice    decimal.Decimal
	UnrealizedPnL decimal.Decimal
	MarginType    string
	PositionSide  string
}

// AccountUpdate is one ACCOUNT_UPDATE event: the balances and
// positions the venue says changed, plus why.
type AccountUpdate struct {
	Reason    string
	EventTime time.Time
	Balances  []BalanceUpdate
	Positions []PositionUpdate
}

// Wire structs declare every venue key whose casing collides with one
// we decode ("ap"/"AP", "t"/"T"); encoding/json falls back to
// case-insensitive tag matching and a later colliding key would
// silently overwrite the field otherwise.

type orderUpdateWire struct {
	Event     string          `json:"e"`
	EventTime int64           `json:"E"`
	TxTime    int64           `json:"T"`
	Order     orderDetailWire `json:"o"`
}

type orderDetailWire struct {
	Symbol          string          `json:"s"`
	ClientOrderID   string          `json:"c"`
	Side            string          `json:"S"`
	Type            string          `json:"o"`
	TimeInForce     string          `json:"f"`
	OrigQty         decimal.Decimal `json:"q"`
	Price           decimal.Decimal `json:"p"`
	AvgPrice        decimal.Decimal `json:"ap"`
	StopPrice       decimal.Decimal `json:"sp"`
	ExecType        string          `json:"x"`
	Status          string          `json:"X"`
	OrderID         int64           `json:"i"`
	LastFilledQty   decimal.Decimal `json:"l"`
	FilledQty       decimal.Decimal `json:"z"`
	LastPrice       decimal.Decimal `json:"L"`
	TradeTime       int64           `json:"T"`
	TradeID         int64           `json:"t"`
	ReduceOnly      bool            `json:"R"`
	ClosePosition   bool            `json:"cp"`
	PositionSide    string          `json:"ps"`
	RealizedPnL     decimal.Decimal `json:"rp"`
	ActivationPrice decimal.Decimal `json:"AP"`
}

type accountUpdateWire struct {
	Event     string `json:"e"`
	EventTime int64  `json:"E"`
	TxTime    int64  `json:"T"`
	Data      struct {
		Reason    string         `json:"m"`
		Balances  []balanceWire  `json:"B"`
		Positions []positionWire `json:"P"`
	} `json:"a"`
}

type balanceWire struct {
	Asset         string          `json:"a"`
	WalletBalance decimal.Decimal `json:"wb"`
	CrossWallet   decimal.Decimal `json:"cw"`
	Change        decimal.Decimal `json:"bc"`
}

type positionWire struct {
	Symbol        string          `json:"s"`
	Amount        decimal.Decimal `json:"pa"`
	EntryPrice    decimal.Decimal `json:"ep"`
	UnrealizedPnL decimal.Decimal `json:"up"`
	MarginType    string          `json:"mt"`
	PositionSide  string          `json:"ps"`
}

// ParseOrderUpdate decodes an ORDER_TRADE_UPDATE event.
func ParseOrderUpdate(raw []byte) (OrderUpdate, bool) {
	var w orderUpdateWire
	if err := json.Unmarshal(raw, &w); err != nil {
		return OrderUpdate{}, false
	}
	if w.Event != "ORDER_TRADE_UPDATE" || w.Order.Symbol == "" {
		return OrderUpdate{}, false
	}
	u := OrderUpdate{
		Symbol:        w.Order.Symbol,
		OrderID:       w.Order.OrderID,
		ClientOrderID: w.Order.ClientOrderID,
		Side:          w.Order.Side,
		Type:          w.Order.Type,
		TimeInForce:   w.Order.TimeInForce,
		ExecType:      w.Order.ExecType,
		Status:        w.Order.Status,
		Price:         w.Order.Price,
		StopPrice:     w.Order.StopPrice,
		AvgPrice:      w.Order.AvgPrice,
		OrigQty:       w.Order.OrigQty,
		LastFilledQty: w.Order.LastFilledQty,
		FilledQty:     w.Order.FilledQty,
		LastPrice:     w.Order.LastPrice,
		RealizedPnL:   w.Order.RealizedPnL,
		ReduceOnly:    w.Order.ReduceOnly,
		ClosePosition: w.Order.ClosePosition,
		PositionSide:  w.Order.PositionSide,
	}
	if w.EventTime > 0 {
		u.EventTime = time.UnixMilli(w.EventTime).UTC()
	}
	if w.Order.TradeTime > 0 {
		u.TradeTime = time.UnixMilli(w.Order.TradeTime).UTC()
	}
	return u, true
}

// ParseAccountUpdate decodes an ACCOUNT_UPDATE event.
func ParseAccountUpdate(raw []byte) (AccountUpdate, bool) {
	var w accountUpdateWire
	if err := json.Unmarshal(raw, &w); err != nil {
		return AccountUpdate{}, false
	}
	if w.Event != "ACCOUNT_UPDATE" {
		return AccountUpdate{}, false
	}
	u := AccountUpdate{Reason: w.Data.Reason}
	if w.EventTime > 0 {
		u.EventTime = time.UnixMilli(w.EventTime).UTC()
	}
	for _, b := range w.Data.Balances {
		u.Balances = append(u.Balances, BalanceUpdate{
			Asset:         b.Asset,
			WalletBalance: b.WalletBalance,
			CrossWallet:   b.CrossWallet,
			Change:        b.Change,
		})
	}
	for _, p := range w.Data.Positions {
		u.Positions = append(u.Positions, PositionUpdate{
			Symbol:        p.Symbol,
			Amount:        p.Amount,
			EntryPrice:    p.EntryPrice,
			UnrealizedPnL: p.UnrealizedPnL,
			MarginType:    p.MarginType,
			PositionSide:  p.PositionSide,
		})
	}
	return u, true
}
