package rest

import (
	"net/url"

	"github.com/shopspring/decimal"
)

const (
	SideBuy  = "BUY"
	SideSell = "SELL"

	OrderTypeLimit      = "LIMIT"
	OrderTypeMarket     = "MARKET"
	OrderTypeStopMarket = "STOP_MARKET"

	// TifGTX is the venue's post-only flavor: the order is rejected if
	// it would cross the book instead of resting as a maker.
	TifGTC = "GTC"
	TifGTX = "GTX"
	TifIOC = "IOC"

	PositionBoth  = "BOTH"
	PositionLong  = "LONG"
	PositionShort = "SHORT"

	StatusNew             = "NEW"
	StatusPartiallyFilled = "PARTIALLY_FILLED"
	StatusFilled          = "FILLED"
	StatusCanceled        = "CANCELED"
	StatusRejected        = "REJECTED"
	StatusExpired         = "EXPIRED"
)

type OrderRequest struct {
	Symbol        string
	Side          string
	PositionSide  string
	Type          string
	TimeInForce   string
	Quantity      decimal.Decimal
	Price         decimal.Decimal
	StopPrice     decimal.Decimal
	ReduceOnly    bool
	ClosePosition bool
	ClientOrderID string
}

func (r OrderRequest) values() url.Values {
	v := url.Values{}
	v.Set("symbol", r.Symbol)
	v.Set("side", r.Side)
	v.Set("type", r.Type)
	if r.PositionSide != "" {
		v.Set("positionSide", r.PositionSide)
	}
	if r.TimeInForce != "" {
		v.Set("timeInForce", r.TimeInForce)
	}
	// closePosition orders carry no quantity; the venue flattens
	// whatever is open.
	if r.ClosePosition {
		v.Set("closePosition", "true")
	} else if !r.Quantity.IsZero() {
		v.Set("quantity", r.Quantity.String())
	}
	if !r.Price.IsZero() {
		v.Set("price", r.Price.String())
	}
	if !r.StopPrice.IsZero() {
		v.Set("stopPrice", r.StopPrice.String())
	}
	if r.ReduceOnly && !r.ClosePosition {
		v.Set("reduceOnly", "true")
	}
	if r.ClientOrderID != "" {
		v.Set("newClientOrderId", r.ClientOrderID)
	}
	return v
}

type OrderResponse struct {
	OrderID       int64           `json:"orderId"`
	ClientOrderID string          `json:"clientOrderId"`
	Symbol        string          `json:"symbol"`
	Side          string          `json:"side"`
	PositionSide  string          `json:"positionSide"`
	Type          string          `json:"type"`
	TimeInForce   string          `json:"timeInForce"`
	Status        string          `json:"status"`
	Price         decimal.Decimal `json:"price"`
	AvgPrice      decimal.Decimal `json:"avgPrice"`
	OrigQty       decimal.Decimal `json:"origQty"`
	ExecutedQty   decimal.Decimal `json:"executedQty"`
	StopPrice     decimal.Decimal `json:"stopPrice"`
	ReduceOnly    bool            `json:"reduceOnly"`
	ClosePosition bool            `json:"closePosition"`
	UpdateTime    int64           `json:"updateTime"`
}

// Filled reports whether the order is fully executed.
func (o OrderResponse) Filled() bool {
	return o.Status == StatusFilled
}

// Terminal reports whether the order can no longer execute.
func (o OrderResponse) Terminal() bool {
	switch o.Status {
	case StatusFilled, StatusCanceled, StatusRejected, StatusExpired:
		return true
	}
	return false
}

// FillPrice prefers the venue's average fill price and falls back to
// the limit price for venues that leave avgPrice zero on maker fills.
func (o OrderResponse) FillPrice() decimal.Decimal {
	if !o.AvgPrice.IsZero() {
		return o.AvgPrice
	}
	return o.Price
}

type AccountInfo struct {
	CanTrade                bool            `json:"canTrade"`
	TotalWalletBalance      decimal.Decimal `json:"totalWalletBalance"`
	TotalUnrealizedProfit   decimal.Decimal `json:"totalUnrealizedProfit"`
	TotalMarginBalance      decimal.Decimal `json:"totalMarginBalance"`
	TotalInitialMargin      decimal.Decimal `json:"totalInitialMargin"`
	TotalMaintMargin        decimal.Decimal `json:"totalMaintMargin"`
	AvailableBalance        decimal.Decimal `json:"availableBalance"`
	MaxWithdrawAmount       decimal.Decimal `json:"maxWithdrawAmount"`
	UpdateTime              int64           `json:"updateTime"`
}

type Balance struct {
	Asset              string          `json:"asset"`
	Balance            decimal.Decimal `json:"balance"`
	CrossWalletBalance decimal.Decimal `json:"crossWalletBalance"`
	AvailableBalance   decimal.Decimal `json:"availableBalance"`
}

type Position struct {
	Symbol           string          `json:"symbol"`
	PositionAmt      decimal.Decimal `json:"positionAmt"`
	EntryPrice       decimal.Decimal `json:"entryPrice"`
	MarkPrice        decimal.Decimal `json:"markPrice"`
	UnrealizedProfit decimal.Decimal `json:"unRealizedProfit"`
	LiquidationPrice decimal.Decimal `json:"liquidationPrice"`
	Leverage         decimal.Decimal `json:"leverage"`
	PositionSide     string          `json:"positionSide"`
}

// Open reports whether the position has nonzero size.
func (p Position) Open() bool {
	return !p.PositionAmt.IsZero()
}

type ExchangeInfo struct {
	Symbols []SymbolInfo `json:"symbols"`
}

type SymbolInfo struct {
	Symbol            string         `json:"symbol"`
	Status            string         `json:"status"`
	BaseAsset         string         `json:"baseAsset"`
	QuoteAsset        string         `json:"quoteAsset"`
	PricePrecision    int            `json:"pricePrecision"`
	QuantityPrecision int            `json:"quantityPrecision"`
	Filters           []SymbolFilter `json:"filters"`
}

type SymbolFilter struct {
	FilterType string          `json:"filterType"`
	TickSize   decimal.Decimal `json:"tickSize"`
	MinPrice   decimal.Decimal `json:"minPrice"`
	MaxPrice   decimal.Decimal `json:"maxPrice"`
	StepSize   decimal.Decimal `json:"stepSize"`
	MinQty     decimal.Decimal `json:"minQty"`
	MaxQty     decimal.Decimal `json:"maxQty"`
	Notional   decimal.Decimal `json:"notional"`
}

type Depth struct {
	LastUpdateID int64                `json:"lastUpdateId"`
	EventTime    int64                `json:"E"`
	TradeTime    int64                `json:"T"`
	Bids         [][2]decimal.Decimal `json:"bids"`
	Asks         [][2]decimal.Decimal `json:"asks"`
}

// BestBid returns the top bid price, zero when the book side is empty.
func (d Depth) BestBid() decimal.Decimal {
	if len(d.Bids) == 0 {
		return decimal.Zero
	}
	return d.Bids[0][0]
}

// BestAsk returns the top ask price, zero when the book side is empty.
func (d Depth) BestAsk() decimal.Decimal {
	if len(d.Asks) == 0 {
		return decimal.Zero
	}
	return d.Asks[0][0]
}

type PremiumIndex struct {
	Symbol          string          `json:"symbol"`
	MarkPrice       decimal.Decimal `json:"markPrice"`
	IndexPrice      decimal.Decimal `json:"indexPrice"`
	LastFundingRate decimal.Decimal `json:"lastFundingRate"`
	NextFundingTime int64           `json:"nextFundingTime"`
	Time            int64           `json:"time"`
}
