package engine

import "hati/internal/common"

// priceLevel is a FIFO queue of resting orders at one price. Orders are
// appended at the tail as they arrive, so slice order is submission
// order. Cancels are lazy: the entry stays in place, its quantity is
// taken out of the live counters and its status turns terminal; dead
// entries are skipped and discarded the next time the head is taken. This keeps cancel O(1) without disturbing
// the queue.
type priceLevel struct {
	price    common.Price
	orders   []*common.Order
	totalQty common.Qty // Aggregate live quantity at this price
	live     int        // Live order count; the level is evicted at zero
}

func newPriceLevel(price common.Price) *priceLevel {
	return &priceLevel{price: price}
}

// append adds a new resting order at the tail.
func (l *priceLevel) append(o *common.Order) {
	l.orders = append(l.orders, o)
	l.totalQty += o.Quantity
	l.live++
}

// head returns the oldest live order, discarding any dead entries in
// front of it. Returns nil when the level holds no live orders.
func (l *priceLevel) head() *common.Order {
	for len(l.orders) > 0 {
		o := l.orders[0]
		if o.Resting() {
			return o
		}
		l.orders[0] = nil
		l.orders = l.orders[1:]
	}
	return nil
}

// popHead removes the head after it has been exhausted by a fill.
func (l *priceLevel) popHead() {
	l.orders[0] = nil
	l.orders = l.orders[1:]
	l.live--
}

// reduce accounts a partial fill of the head.
func (l *priceLevel) reduce(q common.Qty) {
	l.totalQty -= q
}

// cancel takes the order's quantity out of the aggregate. The entry
// stays in the queue; once its status turns terminal head() skips it.
func (l *priceLevel) cancel(o *common.Order) {
	l.totalQty -= o.Quantity
	l.live--
}

func (l *priceLevel) empty() bool {
	return l.live == 0
}
