package rest

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
)

func (c *Client) PlaceOrder(ctx context.Context, req OrderRequest) (OrderResponse, error) {
	var resp OrderResponse
	body, err := c.do(ctx, http.MethodPost, "/fapi/v1/order", req.values(), authSigned)
	if err != nil {
		return resp, err
	}
	return resp, decode(body, &resp)
}

func (c *Client) CancelOrder(ctx context.Context, symbol string, orderID int64) (OrderResponse, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("orderId", strconv.FormatInt(orderID, 10))
	var resp OrderResponse
	body, err := c.do(ctx, http.MethodDelete, "/fapi/v1/order", params, authSigned)
	if err != nil {
		return resp, err
	}
	return resp, decode(body, &resp)
}

func (c *Client) GetOrder(ctx context.Context, symbol string, orderID int64) (OrderResponse, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("orderId", strconv.FormatInt(orderID, 10))
	var resp OrderResponse
	err := c.get(ctx, "/fapi/v1/order", params, authSigned, &resp)
	return resp, err
}

func (c *Client) OpenOrders(ctx context.Context, symbol string) ([]OrderResponse, error) {
	params := url.Values{}
	if symbol != "" {
		params.Set("symbol", symbol)
	}
	var resp []OrderResponse
	err := c.get(ctx, "/fapi/v1/openOrders", params, authSigned, &resp)
	return resp, err
}

func (c *Client) Account(ctx context.Context) (AccountInfo, error) {
	var resp AccountInfo
	err := c.get(ctx, "/fapi/v2/account", nil, authSigned, &resp)
	return resp, err
}

func (c *Client) Balances(ctx context.Context) ([]Balance, error) {
	var resp []Balance
	err := c.get(ctx, "/fapi/v2/balance", nil, authSigned, &resp)
	return resp, err
}

func (c *Client) Positions(ctx context.Context, symbol string) ([]Position, error) {
	params := url.Values{}
	if symbol != "" {
		params.Set("symbol", symbol)
	}
	var resp []Position
	err := c.get(ctx, "/fapi/v2/positionRisk", params, authSigned, &resp)
	return resp, err
}

// HedgeMode reports whether the account is in dual position-side mode.
func (c *Client) HedgeMode(ctx context.Context) (bool, error) {
	var resp struct {
		DualSidePosition bool `json:"dualSidePosition"`
	}
	err := c.get(ctx, "/fapi/v1/positionSide/dual", nil, authSigned, &resp)
	return resp.DualSidePosition, err
}

func (c *Client) SetHedgeMode(ctx context.Context, dual bool) error {
	params := url.Values{}
	params.Set("dualSidePosition", strconv.FormatBool(dual))
	_, err := c.do(ctx, http.MethodPost, "/fapi/v1/positionSide/dual", params, authSigned)
	return err
}

func (c *Client) ExchangeInfo(ctx context.Context) (ExchangeInfo, error) {
	var resp ExchangeInfo
	err := c.get(ctx, "/fapi/v1/exchangeInfo", nil, authNone, &resp)
	return resp, err
}

var depthLimits = map[int]bool{5: true, 10: true, 20: true, 50: true, 100: true, 500: true, 1000: true}

func (c *Client) Depth(ctx context.Context, symbol string, limit int) (Depth, error) {
	var resp Depth
	if limit == 0 {
		limit = 5
	}
	if !depthLimits[limit] {
		return resp, fmt.Errorf("invalid depth limit %d", limit)
	}
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("limit", strconv.Itoa(limit))
	err := c.get(ctx, "/fapi/v1/depth", params, authNone, &resp)
	return resp, err
}

func (c *Client) PremiumIndex(ctx context.Context, symbol string) (PremiumIndex, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	var resp PremiumIndex
	err := c.get(ctx, "/fapi/v1/premiumIndex", params, authNone, &resp)
	return resp, err
}

// Listen keys authenticate with the API key header only; the venue
// does not require a signature on the user-stream endpoints.

func (c *Client) CreateListenKey(ctx context.Context) (string, error) {
	var resp struct {
		ListenKey string `json:"listenKey"`
	}
	body, err := c.do(ctx, http.MethodPost, "/fapi/v1/listenKey", nil, authKey)
	if err != nil {
		return "", err
	}
	if err := decode(body, &resp); err != nil {
		return "", err
	}
	return resp.ListenKey, nil
}

func (c *Client) KeepAliveListenKey(ctx context.Context) error {
	_, err := c.do(ctx, http.MethodPut, "/fapi/v1/listenKey", nil, authKey)
	return err
}

func (c *Client) CloseListenKey(ctx context.Context) error {
	_, err := c.do(ctx, http.MethodDelete, "/fapi/v1/listenKey", nil, authKey)
	return err
}
