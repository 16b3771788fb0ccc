package common

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Trade records one fill between a resting maker and an incoming taker.
// The price is always the maker's resting price; fee rates are captured
// at emission and never recomputed.
type Trade struct {
	ID           uint64 // Monotonic per symbol
	Symbol       string
	Price        Price
	Quantity     Qty
	MakerOrderID string
	TakerOrderID string
	Aggressor    Side // Taker side
	MakerFee     decimal.Decimal
	TakerFee     decimal.Decimal
	FeeCurrency  string
	Timestamp    int64
	Seq          uint64
}

func (t Trade) String() string {
	return fmt.Sprintf("trade %d %s px=%d qty=%d maker=%s taker=%s aggressor=%s seq=%d",
		t.ID, t.Symbol, t.Price, t.Quantity, t.MakerOrderID, t.TakerOrderID, t.Aggressor, t.Seq)
}
