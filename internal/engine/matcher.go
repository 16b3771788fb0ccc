package engine

import (
	"fmt"

	"hati/internal/common"
	"hati/internal/fees"
)

// How many terminated order ids each matcher remembers, to tell a cancel
// for a dead order apart from a cancel for an id it never saw.
const terminalMemory = 4096

// Matcher applies incoming commands to one symbol's book under strict
// price-time priority. It is not safe for concurrent use; the owning
// symbol engine serializes every call.
type Matcher struct {
	sym     *common.Symbol
	rates   fees.Rates
	book    *OrderBook
	index   *orderIndex
	seen    *terminalRing
	tradeID uint64
	now     func() int64
}

func NewMatcher(sym *common.Symbol, rates fees.Rates, now func() int64) *Matcher {
	return &Matcher{
		sym:   sym,
		rates: rates,
		book:  NewOrderBook(),
		index: newOrderIndex(),
		seen:  newTerminalRing(terminalMemory),
		now:   now,
	}
}

func (m *Matcher) Book() *OrderBook { return m.book }

// Outcome is everything one command produced: the post-command state of
// the subject order, fills in emission order, the book diff, and the ids
// of orders that left the book.
type Outcome struct {
	Order      *common.Order
	Trades     []*common.Trade
	Delta      *common.BookDelta
	Terminated []string
	Reason     string
	Err        error
}

// Submit runs the incoming order to completion per its type semantics.
func (m *Matcher) Submit(o *common.Order) Outcome {
	o.Timestamp = m.now()

	// FOK is two-phase: a non-mutating feasibility scan, then plain IOC
	// execution which by construction fills in full. A short scan leaves
	// the book untouched.
	if o.OrderType == common.FOKOrder && m.available(o) < o.Quantity {
		o.Status = common.StatusRejected
		m.seen.add(o.ID)
		return Outcome{Order: o, Err: common.ErrInsufficientLiquidity}
	}

	out := Outcome{Order: o}
	touched := newDeltaTracker()
	out.Trades, out.Terminated = m.sweep(o, touched)

	switch o.OrderType {
	case common.LimitOrder:
		if o.Quantity > 0 {
			level := m.book.insert(o)
			m.index.add(o, level)
			touched.touch(o.Side, o.LimitPrice)
		}
	case common.MarketOrder:
		// The walk only stops short when the opposing side ran dry.
		if o.Quantity > 0 {
			if len(out.Trades) > 0 {
				o.Status = common.StatusFilled
			} else {
				o.Status = common.StatusCancelled
			}
			out.Reason = common.ReasonNoLiquidity
		}
	case common.IOCOrder, common.FOKOrder:
		if o.Quantity > 0 {
			o.Status = common.StatusCancelled
		}
	}

	if o.Status.Terminal() {
		m.seen.add(o.ID)
		out.Terminated = append(out.Terminated, o.ID)
	}
	out.Delta = m.buildDelta(touched, o.Timestamp)
	return out
}

// Cancel removes a resting order. Unknown ids and ids remembered as
// terminated are reported distinctly; neither mutates state.
func (m *Matcher) Cancel(id string) Outcome {
	e, ok := m.index.lookup(id)
	if !ok {
		if m.seen.has(id) {
			return Outcome{Err: fmt.Errorf("%w: %s", common.ErrAlreadyTerminal, id)}
		}
		return Outcome{Err: fmt.Errorf("%w: %s", common.ErrUnknownOrder, id)}
	}

	o := e.order
	now := m.now()
	e.level.cancel(o)
	o.Status = common.StatusCancelled
	m.index.remove(id)
	m.seen.add(id)
	if e.level.empty() {
		m.book.removeLevel(o.Side, e.level)
	}

	touched := newDeltaTracker()
	touched.touch(o.Side, o.LimitPrice)
	return Outcome{
		Order:      o,
		Delta:      m.buildDelta(touched, now),
		Terminated: []string{id},
	}
}

// sweep walks the opposing side from the best level toward worse, lifting
// liquidity in FIFO order within each level. Makers always set the price,
// so any improvement accrues to the taker. Priced types stop strictly
// before a level through their limit; market orders run until the side is
// exhausted.
func (m *Matcher) sweep(o *common.Order, touched *deltaTracker) ([]*common.Trade, []string) {
	var trades []*common.Trade
	var terminated []string

	opposing := m.book.side(o.Side.Opposite())
	for o.Quantity > 0 {
		level, ok := opposing.MinMut()
		if !ok {
			break
		}
		if o.OrderType.Priced() && throughLimit(o.Side, level.price, o.LimitPrice) {
			break
		}

		for o.Quantity > 0 {
			maker := level.head()
			if maker == nil {
				break
			}
			q := min(o.Quantity, maker.Quantity)
			maker.Fill(q)
			o.Fill(q)
			level.reduce(q)
			trades = append(trades, m.newTrade(o, maker, level.price, q))

			if maker.Quantity == 0 {
				level.popHead()
				m.index.remove(maker.ID)
				m.seen.add(maker.ID)
				terminated = append(terminated, maker.ID)
			}
		}

		touched.touch(o.Side.Opposite(), level.price)
		if level.empty() {
			opposing.Delete(level)
		}
	}
	return trades, terminated
}

// available sums opposing liquidity strictly within the limit, stopping
// early once the requested quantity is covered. Read-only.
func (m *Matcher) available(o *common.Order) common.Qty {
	var sum common.Qty
	m.book.side(o.Side.Opposite()).Scan(func(level *priceLevel) bool {
		if throughLimit(o.Side, level.price, o.LimitPrice) {
			return false
		}
		sum += level.totalQty
		return sum < o.Quantity
	})
	return sum
}

// throughLimit reports whether an opposing level is priced worse than the
// taker's limit.
func throughLimit(taker common.Side, levelPrice, limit common.Price) bool {
	if taker == common.Buy {
		return levelPrice > limit
	}
	return levelPrice < limit
}

func (m *Matcher) newTrade(taker, maker *common.Order, price common.Price, q common.Qty) *common.Trade {
	m.tradeID++
	return &common.Trade{
		ID:           m.tradeID,
		Symbol:       m.sym.Name,
		Price:        price,
		Quantity:     q,
		MakerOrderID: maker.ID,
		TakerOrderID: taker.ID,
		Aggressor:    taker.Side,
		MakerFee:     m.rates.Maker,
		TakerFee:     m.rates.Taker,
		FeeCurrency:  m.rates.Currency,
		Timestamp:    taker.Timestamp,
	}
}

// buildDelta reads back the current aggregate of every touched level; a
// vanished level reads as zero, which signals removal downstream.
func (m *Matcher) buildDelta(touched *deltaTracker, ts int64) *common.BookDelta {
	if len(touched.keys) == 0 {
		return nil
	}
	delta := &common.BookDelta{Symbol: m.sym.Name, Timestamp: ts}
	for _, k := range touched.keys {
		var qty common.Qty
		if level, ok := m.book.side(k.side).Get(&priceLevel{price: k.price}); ok {
			qty = level.totalQty
		}
		delta.Entries = append(delta.Entries, common.DeltaEntry{Side: k.side, Price: k.price, Qty: qty})
	}
	return delta
}

// deltaTracker records touched (side, price) pairs in first-touch order.
type deltaKey struct {
	side  common.Side
	price common.Price
}

type deltaTracker struct {
	keys []deltaKey
	set  map[deltaKey]struct{}
}

func newDeltaTracker() *deltaTracker {
	return &deltaTracker{set: make(map[deltaKey]struct{})}
}

func (d *deltaTracker) touch(side common.Side, price common.Price) {
	k := deltaKey{side: side, price: price}
	if _, ok := d.set[k]; ok {
		return
	}
	d.set[k] = struct{}{}
	d.keys = append(d.keys, k)
}

// terminalRing is a bounded memory of terminated order ids, backing the
// AlreadyTerminal cancel response. Oldest entries fall out first.
type terminalRing struct {
	ids []string
	pos int
	set map[string]struct{}
}

func newTerminalRing(n int) *terminalRing {
	return &terminalRing{ids: make([]string, n), set: make(map[string]struct{}, n)}
}

func (r *terminalRing) add(id string) {
	if _, ok := r.set[id]; ok {
		return
	}
	if old := r.ids[r.pos]; old != "" {
		delete(r.set, old)
	}
	r.ids[r.pos] = id
	r.set[id] = struct{}{}
	r.pos = (r.pos + 1) % len(r.ids)
}

func (r *terminalRing) has(id string) bool {
	_, ok := r.set[id]
	return ok
}
