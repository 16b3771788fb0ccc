package common

import "fmt"

type Order struct {
	ID            string      // Engine-assigned uuid
	ClientOrderID string      // Caller supplied correlation id
	Symbol        string      // Instrument this order trades
	Side          Side        // Order side
	OrderType     OrderType   // Matching semantics
	LimitPrice    Price       // Limit price in ticks; meaningful when OrderType.Priced()
	Quantity      Qty         // Remaining quantity in lots
	TotalQuantity Qty         // Total volume requested in lots
	Seq           uint64      // Submission sequence within the symbol; the time key
	Status        OrderStatus // Current lifecycle state
	Timestamp     int64       // Engine-local monotonic nanos at admission into the book
}

// Fill decrements the remaining quantity and advances the status. The
// caller guarantees q is at most the remaining quantity.
func (o *Order) Fill(q Qty) {
	o.Quantity -= q
	if o.Quantity == 0 {
		o.Status = StatusFilled
	} else {
		o.Status = StatusPartiallyFilled
	}
}

// Filled is the executed quantity so far.
func (o *Order) Filled() Qty {
	return o.TotalQuantity - o.Quantity
}

// Resting reports whether the order may sit on the book: live quantity
// and a non-terminal status. Resting orders are always limit orders.
func (o *Order) Resting() bool {
	return o.Quantity > 0 && !o.Status.Terminal()
}

func (o *Order) String() string {
	return fmt.Sprintf("%s %s %s %s qty=%d/%d px=%d seq=%d status=%s",
		o.ID, o.Symbol, o.Side, o.OrderType,
		o.Quantity, o.TotalQuantity, o.LimitPrice, o.Seq, o.Status)
}
