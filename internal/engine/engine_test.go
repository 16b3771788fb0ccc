package engine

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tomb "gopkg.in/tomb.v2"

	"hati/internal/common"
	"hati/internal/feed"
	"hati/internal/fees"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	sym := testSymbol()
	sched := fees.NewSchedule()
	sched.Set(sym.Name, testRates())
	eng, err := New([]*common.Symbol{sym}, sched, feed.NewHub(0), 64)
	require.NoError(t, err)

	tb := &tomb.Tomb{}
	eng.Start(tb)
	t.Cleanup(func() {
		tb.Kill(nil)
		_ = tb.Wait()
	})
	return eng
}

func limitReq(side common.Side, price, qty string) NewOrderRequest {
	return NewOrderRequest{
		Symbol:   "BTC/USD",
		Side:     side,
		Type:     common.LimitOrder,
		Price:    decimal.RequireFromString(price),
		HasPrice: true,
		Quantity: decimal.RequireFromString(qty),
	}
}

func TestAdmissionRejects(t *testing.T) {
	eng := newTestEngine(t)

	cases := []struct {
		name string
		req  NewOrderRequest
		want error
	}{
		{
			name: "unknown symbol",
			req: NewOrderRequest{
				Symbol: "DOGE/USD", Side: common.Buy, Type: common.LimitOrder,
				Price: decimal.RequireFromString("1"), HasPrice: true,
				Quantity: decimal.RequireFromString("1"),
			},
			want: common.ErrUnknownSymbol,
		},
		{
			name: "market order with price",
			req: NewOrderRequest{
				Symbol: "BTC/USD", Side: common.Buy, Type: common.MarketOrder,
				Price: decimal.RequireFromString("100"), HasPrice: true,
				Quantity: decimal.RequireFromString("1"),
			},
			want: common.ErrMalformedOrder,
		},
		{
			name: "limit order without price",
			req: NewOrderRequest{
				Symbol: "BTC/USD", Side: common.Buy, Type: common.LimitOrder,
				Quantity: decimal.RequireFromString("1"),
			},
			want: common.ErrMalformedOrder,
		},
		{
			name: "price off tick grid",
			req:  limitReq(common.Buy, "100.005", "1"),
			want: common.ErrMalformedOrder,
		},
		{
			name: "quantity off lot grid",
			req:  limitReq(common.Buy, "100.00", "0.0005"),
			want: common.ErrMalformedOrder,
		},
		{
			name: "negative price",
			req:  limitReq(common.Buy, "-100.00", "1"),
			want: common.ErrMalformedOrder,
		},
		{
			name: "zero quantity",
			req:  limitReq(common.Buy, "100.00", "0"),
			want: common.ErrMalformedOrder,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := eng.NewOrder(tc.req)
			assert.ErrorIs(t, err, tc.want)
		})
	}
}

func TestEngineRoutesAndCancelsWithoutSymbol(t *testing.T) {
	eng := newTestEngine(t)

	ack, err := eng.NewOrder(limitReq(common.Buy, "99.00", "1"))
	require.NoError(t, err)
	require.NotEmpty(t, ack.OrderID)
	assert.Equal(t, common.StatusNew, ack.Status)

	// Cancel by id alone: routed via the ownership map.
	cancelAck, err := eng.CancelOrder("", ack.OrderID)
	require.NoError(t, err)
	assert.Equal(t, common.StatusCancelled, cancelAck.Status)

	// The routing entry is pruned, so an unhinted repeat is unknown.
	_, err = eng.CancelOrder("", ack.OrderID)
	assert.ErrorIs(t, err, common.ErrUnknownOrder)

	// With the symbol hint the engine still remembers it terminated.
	_, err = eng.CancelOrder("BTC/USD", ack.OrderID)
	assert.ErrorIs(t, err, common.ErrAlreadyTerminal)
}

func TestEngineEndToEndCross(t *testing.T) {
	eng := newTestEngine(t)

	sellAck, err := eng.NewOrder(limitReq(common.Sell, "100.00", "1"))
	require.NoError(t, err)

	buyAck, err := eng.NewOrder(limitReq(common.Buy, "100.00", "1"))
	require.NoError(t, err)
	assert.Equal(t, common.StatusFilled, buyAck.Status)
	assert.Equal(t, lots("1"), buyAck.FilledQty)

	// Both orders are gone; cancels report them terminated.
	_, err = eng.CancelOrder("BTC/USD", sellAck.OrderID)
	assert.ErrorIs(t, err, common.ErrAlreadyTerminal)

	snap, err := eng.Query("BTC/USD", 10)
	require.NoError(t, err)
	assert.Empty(t, snap.Bids)
	assert.Empty(t, snap.Asks)
}

func TestEngineDeterministicOrderIDs(t *testing.T) {
	a := newTestEngine(t)
	b := newTestEngine(t)

	ackA, err := a.NewOrder(limitReq(common.Buy, "99.00", "1"))
	require.NoError(t, err)
	ackB, err := b.NewOrder(limitReq(common.Buy, "99.00", "1"))
	require.NoError(t, err)
	assert.Equal(t, ackA.OrderID, ackB.OrderID)
}

func TestEngineQueryUnknownSymbol(t *testing.T) {
	eng := newTestEngine(t)
	_, err := eng.Query("DOGE/USD", 10)
	assert.ErrorIs(t, err, common.ErrUnknownSymbol)
}
