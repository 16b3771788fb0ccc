package engine

import (
	"github.com/tidwall/btree"

	"hati/internal/common"
)

type priceLevels = btree.BTreeG[*priceLevel]

// OrderBook holds the two price-ordered sides of one symbol. Bids are
// sorted greatest first and asks least first, so Min() on either tree is
// the best price and an ascend walks from best toward worse.
type OrderBook struct {
	bids *priceLevels
	asks *priceLevels
}

func NewOrderBook() *OrderBook {
	// Sorted greatest first.
	bids := btree.NewBTreeG(func(a, b *priceLevel) bool {
		return a.price > b.price
	})
	// Sorted least first.
	asks := btree.NewBTreeG(func(a, b *priceLevel) bool {
		return a.price < b.price
	})
	return &OrderBook{bids: bids, asks: asks}
}

func (book *OrderBook) side(s common.Side) *priceLevels {
	if s == common.Buy {
		return book.bids
	}
	return book.asks
}

func (book *OrderBook) bestBid() (*priceLevel, bool) {
	return book.bids.MinMut()
}

func (book *OrderBook) bestAsk() (*priceLevel, bool) {
	return book.asks.MinMut()
}

// insert rests an order on its own side, creating the level on first
// touch. Returns the level the order now queues on.
func (book *OrderBook) insert(o *common.Order) *priceLevel {
	levels := book.side(o.Side)
	level, ok := levels.GetMut(&priceLevel{price: o.LimitPrice})
	if !ok {
		level = newPriceLevel(o.LimitPrice)
		levels.Set(level)
	}
	level.append(o)
	return level
}

// removeLevel evicts an emptied level from its side.
func (book *OrderBook) removeLevel(side common.Side, level *priceLevel) {
	book.side(side).Delete(level)
}

// crossed reports a bid at or through the best ask. A crossed book after
// a completed matching cycle is an engine bug, not a recoverable state.
func (book *OrderBook) crossed() bool {
	bid, bidOk := book.bids.Min()
	ask, askOk := book.asks.Min()
	return bidOk && askOk && bid.price >= ask.price
}

// bbo reads the current top of book. Stamps are left to the sequencer.
func (book *OrderBook) bbo(symbol string) common.BBO {
	out := common.BBO{Symbol: symbol}
	if bid, ok := book.bids.Min(); ok {
		out.HasBid = true
		out.BidPrice = bid.price
		out.BidQty = bid.totalQty
	}
	if ask, ok := book.asks.Min(); ok {
		out.HasAsk = true
		out.AskPrice = ask.price
		out.AskQty = ask.totalQty
	}
	return out
}

// depth renders the top levels of one side, best first.
func (book *OrderBook) depth(s common.Side, n int) []common.PriceQty {
	out := make([]common.PriceQty, 0, n)
	book.side(s).Scan(func(level *priceLevel) bool {
		if n > 0 && len(out) >= n {
			return false
		}
		out = append(out, common.PriceQty{Price: level.price, Qty: level.totalQty})
		return true
	})
	return out
}
