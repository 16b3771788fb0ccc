package engine

import (
	"errors"
	"time"

	"github.com/rs/zerolog/log"
	tomb "gopkg.in/tomb.v2"

	"hati/internal/common"
	"hati/internal/feed"
	"hati/internal/fees"
)

// errCrossedBook halts the symbol engine: a crossed book after a
// completed matching cycle means the matcher is wrong.
var errCrossedBook = errors.New("crossed book after matching")

type cmdKind int

const (
	cmdSubmit cmdKind = iota
	cmdCancel
	cmdQuery
)

type command struct {
	kind    cmdKind
	order   *common.Order
	orderID string
	depth   int
	reply   chan response
}

type response struct {
	ack  Ack
	snap *Snapshot
	err  error
}

// Ack reports the outcome of a command together with the engine's
// sequence position after its events were published.
type Ack struct {
	OrderID       string
	ClientOrderID string
	Symbol        string
	Status        common.OrderStatus
	FilledQty     common.Qty
	RemainingQty  common.Qty
	Seq           uint64
	Reason        string
}

// Snapshot is an immutable view of the top depth levels per side.
type Snapshot struct {
	Symbol    string
	Bids      []common.PriceQty
	Asks      []common.PriceQty
	BBO       common.BBO
	LastSeq   uint64
	Timestamp int64
}

// SymbolEngine is the single logical writer for one symbol. It owns the
// matcher (and through it the book and index) outright; commands are
// serialized through a bounded inbox and each command's events are
// published atomically before its ack is released.
type SymbolEngine struct {
	sym        *common.Symbol
	matcher    *Matcher
	inbox      chan command
	seqr       *feed.Sequencer
	lastSeq    uint64
	submitSeq  uint64
	start      time.Time
	onTerminal func(ids []string)
	t          *tomb.Tomb
}

func NewSymbolEngine(sym *common.Symbol, rates fees.Rates, seqr *feed.Sequencer, inboxSize int, onTerminal func(ids []string)) *SymbolEngine {
	se := &SymbolEngine{
		sym:        sym,
		inbox:      make(chan command, inboxSize),
		seqr:       seqr,
		start:      time.Now(),
		onTerminal: onTerminal,
	}
	se.matcher = NewMatcher(sym, rates, se.nowNanos)
	return se
}

// nowNanos is the engine-local monotonic clock. Never wall time: event
// ordering must survive clock adjustments.
func (e *SymbolEngine) nowNanos() int64 {
	return int64(time.Since(e.start))
}

func (e *SymbolEngine) Start(t *tomb.Tomb) {
	e.t = t
	t.Go(e.run)
}

func (e *SymbolEngine) run() error {
	log.Info().Str("symbol", e.sym.Name).Msg("symbol engine running")
	for {
		select {
		case <-e.t.Dying():
			return nil
		case cmd := <-e.inbox:
			resp := e.process(cmd)
			cmd.reply <- resp
			if e.matcher.book.crossed() {
				log.Error().Str("symbol", e.sym.Name).Msg("crossed book detected, halting")
				return errCrossedBook
			}
		}
	}
}

func (e *SymbolEngine) process(cmd command) response {
	switch cmd.kind {
	case cmdSubmit:
		o := cmd.order
		e.submitSeq++
		o.Seq = e.submitSeq
		out := e.matcher.Submit(o)
		if out.Err != nil {
			// Rejected before mutating the book; no events to publish.
			return response{ack: e.ack(o, out), err: out.Err}
		}
		e.publish(out)
		return response{ack: e.ack(o, out)}

	case cmdCancel:
		out := e.matcher.Cancel(cmd.orderID)
		if out.Err != nil {
			return response{err: out.Err}
		}
		e.publish(out)
		o := out.Order
		return response{ack: Ack{
			OrderID:       o.ID,
			ClientOrderID: o.ClientOrderID,
			Symbol:        e.sym.Name,
			Status:        o.Status,
			FilledQty:     o.Filled(),
			RemainingQty:  0,
			Seq:           e.lastSeq,
		}}

	case cmdQuery:
		book := e.matcher.book
		return response{snap: &Snapshot{
			Symbol:    e.sym.Name,
			Bids:      book.depth(common.Buy, cmd.depth),
			Asks:      book.depth(common.Sell, cmd.depth),
			BBO:       book.bbo(e.sym.Name),
			LastSeq:   e.lastSeq,
			Timestamp: e.nowNanos(),
		}}
	}
	return response{err: errors.New("unknown command kind")}
}

// publish hands the command's events to the sequencer in matcher order
// and records the resulting sequence position.
func (e *SymbolEngine) publish(out Outcome) {
	if len(out.Trades) > 0 || out.Delta != nil {
		var ts int64
		if out.Order != nil {
			ts = out.Order.Timestamp
		}
		if out.Delta != nil {
			ts = out.Delta.Timestamp
		}
		e.lastSeq = e.seqr.Publish(feed.Batch{
			Trades:    out.Trades,
			Delta:     out.Delta,
			BBO:       e.matcher.book.bbo(e.sym.Name),
			Timestamp: ts,
		})
	}
	if e.onTerminal != nil && len(out.Terminated) > 0 {
		e.onTerminal(out.Terminated)
	}
}

func (e *SymbolEngine) ack(o *common.Order, out Outcome) Ack {
	return Ack{
		OrderID:       o.ID,
		ClientOrderID: o.ClientOrderID,
		Symbol:        e.sym.Name,
		Status:        o.Status,
		FilledQty:     o.Filled(),
		RemainingQty:  o.Quantity,
		Seq:           e.lastSeq,
		Reason:        out.Reason,
	}
}

// Submit routes a new order through the inbox and waits for its ack.
// A full inbox fails fast with Backpressure; the caller may retry.
func (e *SymbolEngine) Submit(o *common.Order) (Ack, error) {
	cmd := command{kind: cmdSubmit, order: o, reply: make(chan response, 1)}
	if err := e.enqueue(cmd); err != nil {
		return Ack{}, err
	}
	resp, err := e.await(cmd)
	if err != nil {
		return Ack{}, err
	}
	return resp.ack, resp.err
}

// Cancel routes a cancel through the inbox and waits for its ack.
func (e *SymbolEngine) Cancel(orderID string) (Ack, error) {
	cmd := command{kind: cmdCancel, orderID: orderID, reply: make(chan response, 1)}
	if err := e.enqueue(cmd); err != nil {
		return Ack{}, err
	}
	resp, err := e.await(cmd)
	if err != nil {
		return Ack{}, err
	}
	return resp.ack, resp.err
}

// Query returns an immutable snapshot of the top depth levels per side,
// served from the writer loop so it is consistent with the event stream.
func (e *SymbolEngine) Query(depth int) (*Snapshot, error) {
	cmd := command{kind: cmdQuery, depth: depth, reply: make(chan response, 1)}
	if err := e.enqueue(cmd); err != nil {
		return nil, err
	}
	resp, err := e.await(cmd)
	if err != nil {
		return nil, err
	}
	return resp.snap, resp.err
}

func (e *SymbolEngine) enqueue(cmd command) error {
	select {
	case e.inbox <- cmd:
		return nil
	default:
		return common.ErrBackpressure
	}
}

func (e *SymbolEngine) await(cmd command) (response, error) {
	select {
	case resp := <-cmd.reply:
		return resp, nil
	case <-e.t.Dying():
		return response{}, common.ErrEngineStopped
	}
}
