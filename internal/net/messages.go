package net

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"hati/internal/common"
	"hati/internal/engine"
)

var (
	ErrInvalidMessageType = errors.New("invalid message type")
	ErrInvalidSide        = errors.New("invalid side")
	ErrInvalidOrderType   = errors.New("invalid order type")
)

// Request message types on the command wire, one JSON object per line.
const (
	MsgNewOrder = "new_order"
	MsgCancel   = "cancel"
	MsgQuery    = "query"
)

// Request is the command envelope. Price and quantity travel as decimal
// strings; the engine owns the grid.
type Request struct {
	Type          string `json:"type"`
	ClientOrderID string `json:"client_order_id,omitempty"`
	Symbol        string `json:"symbol,omitempty"`
	Side          string `json:"side,omitempty"`
	OrderType     string `json:"order_type,omitempty"`
	Price         string `json:"price,omitempty"`
	Quantity      string `json:"quantity,omitempty"`
	OrderID       string `json:"order_id,omitempty"`
	Depth         int    `json:"depth,omitempty"`
}

func ParseRequest(line []byte) (Request, error) {
	var req Request
	if err := json.Unmarshal(line, &req); err != nil {
		return Request{}, fmt.Errorf("%w: %v", ErrInvalidMessageType, err)
	}
	switch req.Type {
	case MsgNewOrder, MsgCancel, MsgQuery:
		return req, nil
	default:
		return Request{}, fmt.Errorf("%w: %q", ErrInvalidMessageType, req.Type)
	}
}

// NewOrderRequest maps the wire command into engine form. Field-level
// problems are malformed orders, not protocol errors: the envelope was
// fine, the order was not.
func (r Request) NewOrderRequest() (engine.NewOrderRequest, error) {
	out := engine.NewOrderRequest{
		ClientOrderID: r.ClientOrderID,
		Symbol:        r.Symbol,
	}

	switch r.Side {
	case "buy":
		out.Side = common.Buy
	case "sell":
		out.Side = common.Sell
	default:
		return out, fmt.Errorf("%w: side %q", common.ErrMalformedOrder, r.Side)
	}

	switch r.OrderType {
	case "limit":
		out.Type = common.LimitOrder
	case "market":
		out.Type = common.MarketOrder
	case "ioc":
		out.Type = common.IOCOrder
	case "fok":
		out.Type = common.FOKOrder
	default:
		return out, fmt.Errorf("%w: order type %q", common.ErrMalformedOrder, r.OrderType)
	}

	qty, err := decimal.NewFromString(r.Quantity)
	if err != nil {
		return out, fmt.Errorf("%w: quantity %q", common.ErrMalformedOrder, r.Quantity)
	}
	out.Quantity = qty

	if r.Price != "" {
		px, err := decimal.NewFromString(r.Price)
		if err != nil {
			return out, fmt.Errorf("%w: price %q", common.ErrMalformedOrder, r.Price)
		}
		out.Price = px
		out.HasPrice = true
	}
	return out, nil
}

// AckResponse acknowledges an accepted command.
type AckResponse struct {
	Type              string `json:"type"`
	OrderID           string `json:"order_id,omitempty"`
	ClientOrderID     string `json:"client_order_id,omitempty"`
	Symbol            string `json:"symbol"`
	Status            string `json:"status"`
	FilledQuantity    string `json:"filled_quantity"`
	RemainingQuantity string `json:"remaining_quantity"`
	Seq               uint64 `json:"seq"`
	Reason            string `json:"reason,omitempty"`
}

func MarshalAck(sym *common.Symbol, ack engine.Ack) ([]byte, error) {
	return json.Marshal(AckResponse{
		Type:              "ack",
		OrderID:           ack.OrderID,
		ClientOrderID:     ack.ClientOrderID,
		Symbol:            ack.Symbol,
		Status:            ack.Status.String(),
		FilledQuantity:    sym.QtyString(ack.FilledQty),
		RemainingQuantity: sym.QtyString(ack.RemainingQty),
		Seq:               ack.Seq,
		Reason:            ack.Reason,
	})
}

// RejectResponse carries the taxonomy reason for a refused command.
type RejectResponse struct {
	Type          string `json:"type"`
	ClientOrderID string `json:"client_order_id,omitempty"`
	OrderID       string `json:"order_id,omitempty"`
	Symbol        string `json:"symbol,omitempty"`
	Reason        string `json:"reason"`
	Detail        string `json:"detail,omitempty"`
}

func MarshalReject(req Request, err error) ([]byte, error) {
	reason := common.RejectReason(err)
	if errors.Is(err, ErrInvalidMessageType) {
		reason = "MalformedOrder"
	}
	return json.Marshal(RejectResponse{
		Type:          "reject",
		ClientOrderID: req.ClientOrderID,
		OrderID:       req.OrderID,
		Symbol:        req.Symbol,
		Reason:        reason,
		Detail:        err.Error(),
	})
}

// SnapshotResponse answers a query with the top levels per side.
type SnapshotResponse struct {
	Type      string      `json:"type"`
	Symbol    string      `json:"symbol"`
	Bids      [][2]string `json:"bids"`
	Asks      [][2]string `json:"asks"`
	BestBid   *string     `json:"best_bid"`
	BestAsk   *string     `json:"best_ask"`
	LastSeq   uint64      `json:"last_seq"`
	Timestamp int64       `json:"timestamp"`
}

func MarshalSnapshot(sym *common.Symbol, snap *engine.Snapshot) ([]byte, error) {
	resp := SnapshotResponse{
		Type:      "snapshot",
		Symbol:    snap.Symbol,
		Bids:      renderLadder(sym, snap.Bids),
		Asks:      renderLadder(sym, snap.Asks),
		LastSeq:   snap.LastSeq,
		Timestamp: snap.Timestamp,
	}
	if snap.BBO.HasBid {
		s := sym.PriceString(snap.BBO.BidPrice)
		resp.BestBid = &s
	}
	if snap.BBO.HasAsk {
		s := sym.PriceString(snap.BBO.AskPrice)
		resp.BestAsk = &s
	}
	return json.Marshal(resp)
}

func renderLadder(sym *common.Symbol, levels []common.PriceQty) [][2]string {
	out := make([][2]string, 0, len(levels))
	for _, l := range levels {
		out = append(out, [2]string{sym.PriceString(l.Price), sym.QtyString(l.Qty)})
	}
	return out
}

// Market-data event payloads, per channel.

type tradeMessage struct {
	Type          string `json:"type"`
	Symbol        string `json:"symbol"`
	TradeID       uint64 `json:"trade_id"`
	Price         string `json:"price"`
	Quantity      string `json:"quantity"`
	AggressorSide string `json:"aggressor_side"`
	MakerFee      string `json:"maker_fee"`
	TakerFee      string `json:"taker_fee"`
	FeeCurrency   string `json:"fee_currency"`
	Timestamp     int64  `json:"timestamp"`
	Seq           uint64 `json:"seq"`
}

type orderbookMessage struct {
	Type      string      `json:"type"`
	Symbol    string      `json:"symbol"`
	Snapshot  bool        `json:"snapshot,omitempty"`
	Bids      [][2]string `json:"bids"`
	Asks      [][2]string `json:"asks"`
	Timestamp int64       `json:"timestamp"`
	Seq       uint64      `json:"seq"`
}

type bboMessage struct {
	Type       string  `json:"type"`
	Symbol     string  `json:"symbol"`
	BestBid    *string `json:"best_bid"`
	BestBidQty *string `json:"best_bid_qty"`
	BestAsk    *string `json:"best_ask"`
	BestAskQty *string `json:"best_ask_qty"`
	Spread     *string `json:"spread,omitempty"`
	Timestamp  int64   `json:"timestamp"`
	Seq        uint64  `json:"seq"`
}

// MarshalEvent renders one stamped event as its wire message.
func MarshalEvent(sym *common.Symbol, ev common.Event) ([]byte, error) {
	switch ev.Kind {
	case common.EventTrade:
		t := ev.Trade
		return json.Marshal(tradeMessage{
			Type:          "trade",
			Symbol:        t.Symbol,
			TradeID:       t.ID,
			Price:         sym.PriceString(t.Price),
			Quantity:      sym.QtyString(t.Quantity),
			AggressorSide: t.Aggressor.String(),
			MakerFee:      t.MakerFee.String(),
			TakerFee:      t.TakerFee.String(),
			FeeCurrency:   t.FeeCurrency,
			Timestamp:     t.Timestamp,
			Seq:           t.Seq,
		})

	case common.EventBookDelta:
		d := ev.Delta
		msg := orderbookMessage{
			Type:      "orderbook_update",
			Symbol:    d.Symbol,
			Bids:      [][2]string{},
			Asks:      [][2]string{},
			Timestamp: d.Timestamp,
			Seq:       d.Seq,
		}
		for _, e := range d.Entries {
			entry := [2]string{sym.PriceString(e.Price), sym.QtyString(e.Qty)}
			if e.Side == common.Buy {
				msg.Bids = append(msg.Bids, entry)
			} else {
				msg.Asks = append(msg.Asks, entry)
			}
		}
		return json.Marshal(msg)

	case common.EventBookSnapshot:
		s := ev.Snapshot
		return json.Marshal(orderbookMessage{
			Type:      "orderbook_update",
			Symbol:    s.Symbol,
			Snapshot:  true,
			Bids:      renderLadder(sym, s.Bids),
			Asks:      renderLadder(sym, s.Asks),
			Timestamp: s.Timestamp,
			Seq:       s.Seq,
		})

	case common.EventBBO:
		b := ev.BBO
		msg := bboMessage{
			Type:      "bbo_update",
			Symbol:    b.Symbol,
			Timestamp: b.Timestamp,
			Seq:       b.Seq,
		}
		if b.HasBid {
			px := sym.PriceString(b.BidPrice)
			qty := sym.QtyString(b.BidQty)
			msg.BestBid, msg.BestBidQty = &px, &qty
		}
		if b.HasAsk {
			px := sym.PriceString(b.AskPrice)
			qty := sym.QtyString(b.AskQty)
			msg.BestAsk, msg.BestAskQty = &px, &qty
		}
		if b.HasBid && b.HasAsk {
			spread := sym.PriceDecimal(b.AskPrice).Sub(sym.PriceDecimal(b.BidPrice)).String()
			msg.Spread = &spread
		}
		return json.Marshal(msg)
	}
	return nil, fmt.Errorf("unknown event kind %d", ev.Kind)
}
