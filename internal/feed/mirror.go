package feed

import (
	"github.com/tidwall/btree"

	"hati/internal/common"
)

// mirrorLevel is one aggregate level in the sequencer's depth mirror.
type mirrorLevel struct {
	price common.Price
	qty   common.Qty
}

// depthMirror rebuilds the book's aggregate ladder from the delta stream.
// It exists so a new subscriber's snapshot can be rendered under the same
// lock that stamps and publishes deltas, leaving no window for a missed
// update between snapshot and stream.
type depthMirror struct {
	bids *btree.BTreeG[*mirrorLevel]
	asks *btree.BTreeG[*mirrorLevel]
}

func newDepthMirror() *depthMirror {
	bids := btree.NewBTreeG(func(a, b *mirrorLevel) bool {
		return a.price > b.price
	})
	asks := btree.NewBTreeG(func(a, b *mirrorLevel) bool {
		return a.price < b.price
	})
	return &depthMirror{bids: bids, asks: asks}
}

func (m *depthMirror) side(s common.Side) *btree.BTreeG[*mirrorLevel] {
	if s == common.Buy {
		return m.bids
	}
	return m.asks
}

func (m *depthMirror) apply(delta *common.BookDelta) {
	for _, e := range delta.Entries {
		tr := m.side(e.Side)
		probe := &mirrorLevel{price: e.Price}
		if e.Qty == 0 {
			tr.Delete(probe)
			continue
		}
		if level, ok := tr.GetMut(probe); ok {
			level.qty = e.Qty
		} else {
			tr.Set(&mirrorLevel{price: e.Price, qty: e.Qty})
		}
	}
}

func (m *depthMirror) ladder(s common.Side) []common.PriceQty {
	var out []common.PriceQty
	m.side(s).Scan(func(level *mirrorLevel) bool {
		out = append(out, common.PriceQty{Price: level.price, Qty: level.qty})
		return true
	})
	return out
}
