// Package engine implements the matching core: per-symbol order books,
// price-time priority matching for the four order types, and the
// single-writer symbol engines that serialize commands and emit the
// sequenced event stream.
package engine

import (
	"encoding/binary"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	tomb "gopkg.in/tomb.v2"

	"hati/internal/common"
	"hati/internal/feed"
	"hati/internal/fees"
)

// Engine hosts one symbol engine per configured symbol and performs
// admission before a command reaches a matcher. There is no shared
// mutable state between symbols on the matching path; the only cross
// symbol structure is the order-id ownership map used to route cancels
// that arrive without a symbol.
type Engine struct {
	symbols map[string]*common.Symbol
	engines map[string]*SymbolEngine

	ownersMu sync.RWMutex
	owners   map[string]string // order id -> symbol

	admitSeq atomic.Uint64
}

// Order ids are name-based uuids over the admission counter, so a
// startup replay of the same command log reassigns the same ids and the
// event stream reproduces bit for bit.
var orderIDNamespace = uuid.MustParse("8f6f3e5a-1d2c-4b7e-9a42-5f0d6c1b9e77")

func (e *Engine) nextID() string {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], e.admitSeq.Add(1))
	return uuid.NewSHA1(orderIDNamespace, b[:]).String()
}

func New(symbols []*common.Symbol, schedule *fees.Schedule, hub *feed.Hub, inboxSize int) (*Engine, error) {
	e := &Engine{
		symbols: make(map[string]*common.Symbol),
		engines: make(map[string]*SymbolEngine),
		owners:  make(map[string]string),
	}
	for _, sym := range symbols {
		rates, ok := schedule.Rates(sym.Name)
		if !ok {
			return nil, fmt.Errorf("no fee schedule for symbol %s", sym.Name)
		}
		e.symbols[sym.Name] = sym
		e.engines[sym.Name] = NewSymbolEngine(sym, rates, hub.Register(sym.Name), inboxSize, e.forget)
	}
	return e, nil
}

func (e *Engine) Start(t *tomb.Tomb) {
	for _, se := range e.engines {
		se.Start(t)
	}
}

// Symbol resolves a symbol definition, for wire-level decimal rendering.
func (e *Engine) Symbol(name string) (*common.Symbol, bool) {
	sym, ok := e.symbols[name]
	return sym, ok
}

// Symbols lists the hosted symbol definitions.
func (e *Engine) Symbols() []*common.Symbol {
	out := make([]*common.Symbol, 0, len(e.symbols))
	for _, sym := range e.symbols {
		out = append(out, sym)
	}
	return out
}

// NewOrderRequest is a validated-transport command. Price and Quantity
// arrive as exact decimals; admission moves them onto the symbol's
// tick and lot grids.
type NewOrderRequest struct {
	ClientOrderID string
	Symbol        string
	Side          common.Side
	Type          common.OrderType
	Price         decimal.Decimal
	HasPrice      bool
	Quantity      decimal.Decimal
}

// NewOrder admits, routes, and matches an order, returning its ack.
// Admission failures reject before any matcher state is touched.
func (e *Engine) NewOrder(req NewOrderRequest) (Ack, error) {
	sym, ok := e.symbols[req.Symbol]
	if !ok {
		return Ack{}, fmt.Errorf("%w: %s", common.ErrUnknownSymbol, req.Symbol)
	}
	o, err := e.admit(sym, req)
	if err != nil {
		return Ack{}, err
	}

	e.remember(o.ID, sym.Name)
	ack, err := e.engines[sym.Name].Submit(o)
	if err != nil {
		// Rejected or never reached the matcher; either way the order
		// is not resting, so drop the routing entry.
		e.forget([]string{o.ID})
	}
	return ack, err
}

func (e *Engine) admit(sym *common.Symbol, req NewOrderRequest) (*common.Order, error) {
	switch req.Side {
	case common.Buy, common.Sell:
	default:
		return nil, fmt.Errorf("%w: bad side", common.ErrMalformedOrder)
	}
	switch req.Type {
	case common.LimitOrder, common.MarketOrder, common.IOCOrder, common.FOKOrder:
	default:
		return nil, fmt.Errorf("%w: bad order type", common.ErrMalformedOrder)
	}

	if req.Type == common.MarketOrder && req.HasPrice {
		return nil, fmt.Errorf("%w: market order carries a price", common.ErrMalformedOrder)
	}
	if req.Type.Priced() && !req.HasPrice {
		return nil, fmt.Errorf("%w: %s order missing a price", common.ErrMalformedOrder, req.Type)
	}

	qty, err := sym.QtyToLots(req.Quantity)
	if err != nil {
		return nil, err
	}
	var ticks common.Price
	if req.HasPrice {
		if ticks, err = sym.PriceToTicks(req.Price); err != nil {
			return nil, err
		}
	}

	return &common.Order{
		ID:            e.nextID(),
		ClientOrderID: req.ClientOrderID,
		Symbol:        sym.Name,
		Side:          req.Side,
		OrderType:     req.Type,
		LimitPrice:    ticks,
		Quantity:      qty,
		TotalQuantity: qty,
		Status:        common.StatusNew,
	}, nil
}

// CancelOrder cancels by order id. When the caller knows the symbol
// (the wire carries it) the cancel routes directly and a terminated
// order is reported AlreadyTerminal; otherwise routing falls back to
// the ownership map and an unknown id is simply UnknownOrder.
func (e *Engine) CancelOrder(symbol, orderID string) (Ack, error) {
	name := symbol
	if name == "" {
		var ok bool
		if name, ok = e.owner(orderID); !ok {
			return Ack{}, fmt.Errorf("%w: %s", common.ErrUnknownOrder, orderID)
		}
	}
	se, ok := e.engines[name]
	if !ok {
		return Ack{}, fmt.Errorf("%w: %s", common.ErrUnknownSymbol, name)
	}
	return se.Cancel(orderID)
}

// Query returns a consistent snapshot of the top depth levels per side.
func (e *Engine) Query(symbol string, depth int) (*Snapshot, error) {
	se, ok := e.engines[symbol]
	if !ok {
		return nil, fmt.Errorf("%w: %s", common.ErrUnknownSymbol, symbol)
	}
	return se.Query(depth)
}

// LogBooks logs the top of every hosted book.
func (e *Engine) LogBooks() {
	for name, se := range e.engines {
		snap, err := se.Query(1)
		if err != nil {
			log.Error().Err(err).Str("symbol", name).Msg("unable to query book")
			continue
		}
		log.Info().
			Str("symbol", name).
			Bool("hasBid", snap.BBO.HasBid).
			Int64("bestBid", int64(snap.BBO.BidPrice)).
			Bool("hasAsk", snap.BBO.HasAsk).
			Int64("bestAsk", int64(snap.BBO.AskPrice)).
			Uint64("lastSeq", snap.LastSeq).
			Msg("book top")
	}
}

func (e *Engine) remember(orderID, symbol string) {
	e.ownersMu.Lock()
	defer e.ownersMu.Unlock()
	e.owners[orderID] = symbol
}

func (e *Engine) owner(orderID string) (string, bool) {
	e.ownersMu.RLock()
	defer e.ownersMu.RUnlock()
	name, ok := e.owners[orderID]
	return name, ok
}

// forget prunes routing entries for orders that left their book. Called
// from each symbol's writer loop after the owning command completes.
func (e *Engine) forget(ids []string) {
	e.ownersMu.Lock()
	defer e.ownersMu.Unlock()
	for _, id := range ids {
		delete(e.owners, id)
	}
}
