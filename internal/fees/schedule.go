// Package fees holds the per-symbol fee schedule. The schedule is a pure
// table: same inputs give the same outputs for the life of the session.
// It is built once at startup and snapshotted into each symbol engine, so
// the matching hot path never takes a lock to price a fill.
package fees

import (
	"fmt"

	"github.com/shopspring/decimal"

	"hati/internal/common"
)

// Rates are the fee rates for one symbol.
type Rates struct {
	Maker    decimal.Decimal
	Taker    decimal.Decimal
	Currency string
}

// Rate returns the rate for the given liquidity role.
func (r Rates) Rate(role common.Liquidity) decimal.Decimal {
	if role == common.Maker {
		return r.Maker
	}
	return r.Taker
}

type Schedule struct {
	rates map[string]Rates
}

func NewSchedule() *Schedule {
	return &Schedule{rates: make(map[string]Rates)}
}

// Set registers the rates for a symbol. Startup only; not safe once
// symbol engines are running.
func (s *Schedule) Set(symbol string, r Rates) {
	s.rates[symbol] = r
}

// Lookup resolves (symbol, role) to (rate, fee currency).
func (s *Schedule) Lookup(symbol string, role common.Liquidity) (decimal.Decimal, string, error) {
	r, ok := s.rates[symbol]
	if !ok {
		return decimal.Decimal{}, "", fmt.Errorf("%w: %s", common.ErrUnknownSymbol, symbol)
	}
	return r.Rate(role), r.Currency, nil
}

// Rates returns the full row for a symbol, for snapshotting into its
// engine.
func (s *Schedule) Rates(symbol string) (Rates, bool) {
	r, ok := s.rates[symbol]
	return r, ok
}
