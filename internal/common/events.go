package common

// Event kinds carried on the market-data channels.
type EventKind int

const (
	EventTrade EventKind = iota
	EventBookDelta
	EventBookSnapshot
	EventBBO
)

// PriceQty is one aggregate book level.
type PriceQty struct {
	Price Price
	Qty   Qty
}

// DeltaEntry is one changed level; Qty zero signals level removal.
type DeltaEntry struct {
	Side  Side
	Price Price
	Qty   Qty
}

// BookDelta is the compact diff emitted after each command that changed
// the book.
type BookDelta struct {
	Symbol    string
	Entries   []DeltaEntry
	Timestamp int64
	Seq       uint64
}

// BookSnapshot is a full view of both sides, sent to a new orderbook subscriber
// and periodically thereafter.
type BookSnapshot struct {
	Symbol    string
	Bids      []PriceQty
	Asks      []PriceQty
	Timestamp int64
	Seq       uint64
}

// BBO is the top of book. HasBid/HasAsk distinguish an empty side from a
// price of zero ticks (which cannot occur, but the wire needs nulls).
type BBO struct {
	Symbol    string
	BidPrice  Price
	BidQty    Qty
	AskPrice  Price
	AskQty    Qty
	HasBid    bool
	HasAsk    bool
	Timestamp int64
	Seq       uint64
}

// Equal compares top-of-book content, ignoring stamps. Used to decide
// whether a bbo_update is due.
func (b BBO) Equal(other BBO) bool {
	return b.HasBid == other.HasBid && b.HasAsk == other.HasAsk &&
		b.BidPrice == other.BidPrice && b.BidQty == other.BidQty &&
		b.AskPrice == other.AskPrice && b.AskQty == other.AskQty
}

// Event is the tagged union fanned out to subscribers. Exactly one of the
// pointers matching Kind is set.
type Event struct {
	Kind     EventKind
	Trade    *Trade
	Delta    *BookDelta
	Snapshot *BookSnapshot
	BBO      *BBO
}

// Seq returns the stamped sequence number of whichever payload is set.
func (e Event) Seq() uint64 {
	switch e.Kind {
	case EventTrade:
		return e.Trade.Seq
	case EventBookDelta:
		return e.Delta.Seq
	case EventBookSnapshot:
		return e.Snapshot.Seq
	case EventBBO:
		return e.BBO.Seq
	}
	return 0
}
