package net

import (
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hati/internal/common"
	"hati/internal/engine"
)

func wireSymbol() *common.Symbol {
	return &common.Symbol{
		Name:        "BTC/USD",
		TickSize:    decimal.RequireFromString("0.01"),
		LotSize:     decimal.RequireFromString("0.001"),
		FeeCurrency: "USD",
	}
}

func TestParseRequest(t *testing.T) {
	req, err := ParseRequest([]byte(`{"type":"new_order","client_order_id":"c1","symbol":"BTC/USD","side":"buy","order_type":"limit","price":"100.00","quantity":"1.5"}`))
	require.NoError(t, err)
	assert.Equal(t, MsgNewOrder, req.Type)
	assert.Equal(t, "c1", req.ClientOrderID)

	order, err := req.NewOrderRequest()
	require.NoError(t, err)
	assert.Equal(t, common.Buy, order.Side)
	assert.Equal(t, common.LimitOrder, order.Type)
	assert.True(t, order.HasPrice)
	assert.True(t, order.Price.Equal(decimal.RequireFromString("100.00")))
	assert.True(t, order.Quantity.Equal(decimal.RequireFromString("1.5")))
}

func TestParseRequestRejectsBadEnvelope(t *testing.T) {
	_, err := ParseRequest([]byte(`{"type":"mystery"}`))
	assert.ErrorIs(t, err, ErrInvalidMessageType)

	_, err = ParseRequest([]byte(`not json`))
	assert.ErrorIs(t, err, ErrInvalidMessageType)
}

func TestNewOrderRequestFieldValidation(t *testing.T) {
	base := Request{Type: MsgNewOrder, Symbol: "BTC/USD", Side: "buy", OrderType: "limit", Price: "100", Quantity: "1"}

	bad := base
	bad.Side = "hold"
	_, err := bad.NewOrderRequest()
	assert.ErrorIs(t, err, common.ErrMalformedOrder)

	bad = base
	bad.OrderType = "stop"
	_, err = bad.NewOrderRequest()
	assert.ErrorIs(t, err, common.ErrMalformedOrder)

	bad = base
	bad.Quantity = "lots"
	_, err = bad.NewOrderRequest()
	assert.ErrorIs(t, err, common.ErrMalformedOrder)

	bad = base
	bad.Price = "1,00"
	_, err = bad.NewOrderRequest()
	assert.ErrorIs(t, err, common.ErrMalformedOrder)

	// A market order simply omits the price.
	market := base
	market.OrderType = "market"
	market.Price = ""
	order, err := market.NewOrderRequest()
	require.NoError(t, err)
	assert.False(t, order.HasPrice)
}

func TestMarshalTradeEvent(t *testing.T) {
	b, err := MarshalEvent(wireSymbol(), common.Event{
		Kind: common.EventTrade,
		Trade: &common.Trade{
			ID:          7,
			Symbol:      "BTC/USD",
			Price:       10000,
			Quantity:    1000,
			Aggressor:   common.Buy,
			MakerFee:    decimal.RequireFromString("0.0010"),
			TakerFee:    decimal.RequireFromString("0.0020"),
			FeeCurrency: "USD",
			Timestamp:   42,
			Seq:         9,
		},
	})
	require.NoError(t, err)

	var msg map[string]any
	require.NoError(t, json.Unmarshal(b, &msg))
	assert.Equal(t, "trade", msg["type"])
	assert.Equal(t, "BTC/USD", msg["symbol"])
	assert.Equal(t, float64(7), msg["trade_id"])
	assert.Equal(t, "100", msg["price"])
	assert.Equal(t, "1", msg["quantity"])
	assert.Equal(t, "buy", msg["aggressor_side"])
	assert.Equal(t, "0.001", msg["maker_fee"])
	assert.Equal(t, "0.002", msg["taker_fee"])
	assert.Equal(t, "USD", msg["fee_currency"])
	assert.Equal(t, float64(9), msg["seq"])
}

func TestMarshalBookDeltaSplitsSides(t *testing.T) {
	b, err := MarshalEvent(wireSymbol(), common.Event{
		Kind: common.EventBookDelta,
		Delta: &common.BookDelta{
			Symbol: "BTC/USD",
			Entries: []common.DeltaEntry{
				{Side: common.Sell, Price: 10000, Qty: 0},
				{Side: common.Buy, Price: 9900, Qty: 1500},
			},
			Seq: 3,
		},
	})
	require.NoError(t, err)

	var msg struct {
		Type string      `json:"type"`
		Bids [][2]string `json:"bids"`
		Asks [][2]string `json:"asks"`
	}
	require.NoError(t, json.Unmarshal(b, &msg))
	assert.Equal(t, "orderbook_update", msg.Type)
	assert.Equal(t, [][2]string{{"99", "1.5"}}, msg.Bids)
	assert.Equal(t, [][2]string{{"100", "0"}}, msg.Asks)
}

func TestMarshalBBOWithEmptySide(t *testing.T) {
	b, err := MarshalEvent(wireSymbol(), common.Event{
		Kind: common.EventBBO,
		BBO: &common.BBO{
			Symbol:   "BTC/USD",
			HasBid:   true,
			BidPrice: 9900,
			BidQty:   1000,
			Seq:      4,
		},
	})
	require.NoError(t, err)

	var msg map[string]any
	require.NoError(t, json.Unmarshal(b, &msg))
	assert.Equal(t, "bbo_update", msg["type"])
	assert.Equal(t, "99", msg["best_bid"])
	assert.Equal(t, "1", msg["best_bid_qty"])
	assert.Nil(t, msg["best_ask"])
	_, hasSpread := msg["spread"]
	assert.False(t, hasSpread)
}

func TestMarshalBBOSpread(t *testing.T) {
	b, err := MarshalEvent(wireSymbol(), common.Event{
		Kind: common.EventBBO,
		BBO: &common.BBO{
			Symbol: "BTC/USD",
			HasBid: true, BidPrice: 9900, BidQty: 1000,
			HasAsk: true, AskPrice: 10000, AskQty: 2000,
		},
	})
	require.NoError(t, err)

	var msg map[string]any
	require.NoError(t, json.Unmarshal(b, &msg))
	assert.Equal(t, "1", msg["spread"])
}

func TestMarshalAckAndReject(t *testing.T) {
	sym := wireSymbol()
	b, err := MarshalAck(sym, engine.Ack{
		OrderID:      "abc",
		Symbol:       "BTC/USD",
		Status:       common.StatusPartiallyFilled,
		FilledQty:    500,
		RemainingQty: 1500,
		Seq:          12,
	})
	require.NoError(t, err)

	var ack map[string]any
	require.NoError(t, json.Unmarshal(b, &ack))
	assert.Equal(t, "ack", ack["type"])
	assert.Equal(t, "partially_filled", ack["status"])
	assert.Equal(t, "0.5", ack["filled_quantity"])
	assert.Equal(t, "1.5", ack["remaining_quantity"])

	b, err = MarshalReject(Request{Type: MsgCancel, OrderID: "abc"}, common.ErrUnknownOrder)
	require.NoError(t, err)
	var rej map[string]any
	require.NoError(t, json.Unmarshal(b, &rej))
	assert.Equal(t, "reject", rej["type"])
	assert.Equal(t, "UnknownOrder", rej["reason"])
}
