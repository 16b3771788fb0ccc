package engine

import "hati/internal/common"

// indexEntry is the handle for one resting order: the order itself plus
// the level it queues on, enough to cancel without searching the book.
type indexEntry struct {
	order *common.Order
	level *priceLevel
}

// orderIndex maps order ids to their resting location. Entries exist
// exactly while the order rests: created when it first rests, removed
// when it leaves the book for any reason.
type orderIndex struct {
	entries map[string]indexEntry
}

func newOrderIndex() *orderIndex {
	return &orderIndex{entries: make(map[string]indexEntry)}
}

func (idx *orderIndex) add(o *common.Order, level *priceLevel) {
	idx.entries[o.ID] = indexEntry{order: o, level: level}
}

func (idx *orderIndex) lookup(id string) (indexEntry, bool) {
	e, ok := idx.entries[id]
	return e, ok
}

func (idx *orderIndex) remove(id string) {
	delete(idx.entries, id)
}

func (idx *orderIndex) size() int {
	return len(idx.entries)
}
