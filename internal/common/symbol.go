package common

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Symbol describes one tradable instrument: its price and quantity grid
// plus the fee rates consulted at trade emission. Instances are read-only
// after startup and shared freely.
type Symbol struct {
	Name        string
	TickSize    decimal.Decimal
	LotSize     decimal.Decimal
	MakerFee    decimal.Decimal
	TakerFee    decimal.Decimal
	FeeCurrency string
}

// PriceToTicks converts an external decimal price onto the tick grid.
// Non-positive prices and prices off the grid are malformed.
func (s *Symbol) PriceToTicks(d decimal.Decimal) (Price, error) {
	if !d.IsPositive() {
		return 0, fmt.Errorf("%w: price %s must be positive", ErrMalformedOrder, d)
	}
	q := d.Div(s.TickSize)
	if !q.IsInteger() {
		return 0, fmt.Errorf("%w: price %s not a multiple of tick %s", ErrMalformedOrder, d, s.TickSize)
	}
	return Price(q.IntPart()), nil
}

// QtyToLots converts an external decimal quantity onto the lot grid.
func (s *Symbol) QtyToLots(d decimal.Decimal) (Qty, error) {
	if !d.IsPositive() {
		return 0, fmt.Errorf("%w: quantity %s must be positive", ErrMalformedOrder, d)
	}
	q := d.Div(s.LotSize)
	if !q.IsInteger() {
		return 0, fmt.Errorf("%w: quantity %s not a multiple of lot %s", ErrMalformedOrder, d, s.LotSize)
	}
	return Qty(q.IntPart()), nil
}

// PriceDecimal renders ticks back to the external decimal price.
func (s *Symbol) PriceDecimal(p Price) decimal.Decimal {
	return s.TickSize.Mul(decimal.NewFromInt(int64(p)))
}

// QtyDecimal renders lots back to the external decimal quantity.
func (s *Symbol) QtyDecimal(q Qty) decimal.Decimal {
	return s.LotSize.Mul(decimal.NewFromInt(int64(q)))
}

func (s *Symbol) PriceString(p Price) string {
	return s.PriceDecimal(p).String()
}

func (s *Symbol) QtyString(q Qty) string {
	return s.QtyDecimal(q).String()
}
