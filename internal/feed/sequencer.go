// Package feed stamps engine output with per-symbol sequence numbers and
// fans it out to market-data subscribers. One Sequencer per symbol; the
// owning symbol engine is the only publisher, so events carry a strictly
// increasing, gap-free sequence matching command order.
package feed

import (
	"sync"

	"github.com/rs/zerolog/log"

	"hati/internal/common"
)

// Channel names match the external interface: orderbook carries deltas
// plus snapshots, trades carries fills, bbo carries top-of-book changes.
// The firehose channel sees every stamped event and backs the journal.
type Channel string

const (
	ChannelOrderbook Channel = "orderbook"
	ChannelTrades    Channel = "trades"
	ChannelBBO       Channel = "bbo"
	ChannelFirehose  Channel = "firehose"
)

// KnownChannel reports whether name is a subscribable channel.
func KnownChannel(name string) bool {
	switch Channel(name) {
	case ChannelOrderbook, ChannelTrades, ChannelBBO, ChannelFirehose:
		return true
	}
	return false
}

// Batch is the ordered output of one command: fills first, then the book
// diff, plus the resulting top of book for change detection.
type Batch struct {
	Trades    []*common.Trade
	Delta     *common.BookDelta
	BBO       common.BBO
	Timestamp int64
}

// Subscriber receives events on C. A subscriber that falls behind its
// buffer is dropped: C is closed and no further events arrive. The engine
// never blocks on a slow consumer.
type Subscriber struct {
	C       <-chan common.Event
	ch      chan common.Event
	channel Channel
	closed  bool
}

type Sequencer struct {
	mu      sync.Mutex
	symbol  string
	seq     uint64
	subs    map[*Subscriber]struct{}
	mirror  *depthMirror
	lastBBO common.BBO
	hasBBO  bool

	// A full snapshot is re-emitted on the orderbook channel every
	// snapshotEvery deltas; zero disables periodic snapshots.
	snapshotEvery int
	sinceSnapshot int
}

func NewSequencer(symbol string, snapshotEvery int) *Sequencer {
	return &Sequencer{
		symbol:        symbol,
		subs:          make(map[*Subscriber]struct{}),
		mirror:        newDepthMirror(),
		snapshotEvery: snapshotEvery,
	}
}

// Publish stamps the batch and fans it out. Events are sequenced in the
// order the matcher produced them: trades, then the delta, then a bbo
// update if the top changed. Returns the last sequence number assigned,
// which is the engine's position for acks.
func (s *Sequencer) Publish(b Batch) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, t := range b.Trades {
		s.seq++
		t.Seq = s.seq
		s.dispatch(common.Event{Kind: common.EventTrade, Trade: t})
	}

	if b.Delta != nil {
		s.seq++
		b.Delta.Seq = s.seq
		s.mirror.apply(b.Delta)
		s.dispatch(common.Event{Kind: common.EventBookDelta, Delta: b.Delta})

		if s.snapshotEvery > 0 {
			s.sinceSnapshot++
			if s.sinceSnapshot >= s.snapshotEvery {
				s.sinceSnapshot = 0
				s.dispatch(common.Event{Kind: common.EventBookSnapshot, Snapshot: s.snapshot(b.Timestamp)})
			}
		}
	}

	if !s.hasBBO || !b.BBO.Equal(s.lastBBO) {
		s.hasBBO = true
		s.lastBBO = b.BBO
		s.seq++
		bbo := b.BBO
		bbo.Seq = s.seq
		bbo.Timestamp = b.Timestamp
		s.dispatch(common.Event{Kind: common.EventBBO, BBO: &bbo})
	}

	return s.seq
}

// LastSeq is the most recently assigned sequence number.
func (s *Sequencer) LastSeq() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.seq
}

// Subscribe attaches a consumer to one channel. Orderbook subscribers
// receive a full snapshot first, stamped with the current sequence, so
// the delta that follows is exactly snapshot seq + 1.
func (s *Sequencer) Subscribe(channel Channel, buffer int) *Subscriber {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan common.Event, buffer)
	sub := &Subscriber{C: ch, ch: ch, channel: channel}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.subs[sub] = struct{}{}
	if channel == ChannelOrderbook {
		sub.ch <- common.Event{Kind: common.EventBookSnapshot, Snapshot: s.snapshot(0)}
	}
	return sub
}

// Unsubscribe detaches and closes the subscriber. Safe to call after the
// sequencer already dropped it.
func (s *Sequencer) Unsubscribe(sub *Subscriber) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.drop(sub)
}

func (s *Sequencer) drop(sub *Subscriber) {
	if sub.closed {
		return
	}
	sub.closed = true
	delete(s.subs, sub)
	close(sub.ch)
}

// dispatch routes one stamped event. Slow subscribers are dropped rather
// than blocking the engine.
func (s *Sequencer) dispatch(ev common.Event) {
	want := channelFor(ev.Kind)
	for sub := range s.subs {
		if sub.channel != want && sub.channel != ChannelFirehose {
			continue
		}
		select {
		case sub.ch <- ev:
		default:
			log.Warn().
				Str("symbol", s.symbol).
				Str("channel", string(sub.channel)).
				Uint64("seq", ev.Seq()).
				Msg("dropping slow subscriber")
			s.drop(sub)
		}
	}
}

func channelFor(kind common.EventKind) Channel {
	switch kind {
	case common.EventTrade:
		return ChannelTrades
	case common.EventBBO:
		return ChannelBBO
	default:
		return ChannelOrderbook
	}
}

func (s *Sequencer) snapshot(ts int64) *common.BookSnapshot {
	return &common.BookSnapshot{
		Symbol:    s.symbol,
		Bids:      s.mirror.ladder(common.Buy),
		Asks:      s.mirror.ladder(common.Sell),
		Timestamp: ts,
		Seq:       s.seq,
	}
}
