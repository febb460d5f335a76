package models

import (
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// PriceLevel is a single resting price/quantity pair on one side of the book.
type PriceLevel struct {
	Price    decimal.Decimal `json:"price"`
	Quantity decimal.Decimal `json:"quantity"`
}

// NewPriceLevel validates that price and quantity are non-negative.
func NewPriceLevel(price, quantity decimal.Decimal) (PriceLevel, error) {
	if price.IsNegative() {
		return PriceLevel{}, fmt.Errorf("negative price: %s", price)
	}
	if quantity.IsNegative() {
		return PriceLevel{}, fmt.Errorf("negative quantity: %s", quantity)
	}
	return PriceLevel{Price: price, Quantity: quantity}, nil
}

// Notional returns price * quantity. Derived, never stored.
func (l PriceLevel) Notional() decimal.Decimal {
	return l.Price.Mul(l.Quantity)
}

// OrderBookSnapshot is the canonical normalized view of one venue order book
// at a point in time. Bids are strictly descending by price, asks strictly
// ascending, and the book is never crossed. Construct via NewOrderBookSnapshot
// so the invariants hold for every instance in the system.
type OrderBookSnapshot struct {
	Venue          string       `json:"venue"`
	Instrument     string       `json:"instrument"`
	Timestamp      time.Time    `json:"timestamp"`
	LocalTimestamp time.Time    `json:"local_timestamp"`
	SequenceID     int64        `json:"sequence_id"`
	Bids           []PriceLevel `json:"bids"`
	Asks           []PriceLevel `json:"asks"`
	DepthLevels    int          `json:"depth_levels"`
}

// NewOrderBookSnapshot sorts both sides, drops zero-quantity levels, and
// rejects crossed books. The input slices are not retained.
func NewOrderBookSnapshot(venue, instrument string, ts, localTS time.Time, seq int64, bids, asks []PriceLevel) (*OrderBookSnapshot, error) {
	if venue == "" || instrument == "" {
		return nil, fmt.Errorf("venue and instrument are required")
	}

	b := compactLevels(bids)
	a := compactLevels(asks)

	sort.Slice(b, func(i, j int) bool { return b[i].Price.GreaterThan(b[j].Price) })
	sort.Slice(a, func(i, j int) bool { return a[i].Price.LessThan(a[j].Price) })

	if err := checkStrictOrder(b, true); err != nil {
		return nil, fmt.Errorf("bids: %w", err)
	}
	if err := checkStrictOrder(a, false); err != nil {
		return nil, fmt.Errorf("asks: %w", err)
	}

	if len(b) > 0 && len(a) > 0 && !b[0].Price.LessThan(a[0].Price) {
		return nil, fmt.Errorf("crossed book: best_bid=%s best_ask=%s", b[0].Price, a[0].Price)
	}

	depth := len(b)
	if len(a) > depth {
		depth = len(a)
	}

	return &OrderBookSnapshot{
		Venue:          venue,
		Instrument:     instrument,
		Timestamp:      ts,
		LocalTimestamp: localTS,
		SequenceID:     seq,
		Bids:           b,
		Asks:           a,
		DepthLevels:    depth,
	}, nil
}

func compactLevels(in []PriceLevel) []PriceLevel {
	out := make([]PriceLevel, 0, len(in))
	for _, l := range in {
		if l.Quantity.IsPositive() {
			out = append(out, l)
		}
	}
	return out
}

func checkStrictOrder(levels []PriceLevel, descending bool) error {
	for i := 1; i < len(levels); i++ {
		prev, cur := levels[i-1].Price, levels[i].Price
		if descending && !cur.LessThan(prev) {
			return fmt.Errorf("not strictly descending at level %d: %s then %s", i, prev, cur)
		}
		if !descending && !cur.GreaterThan(prev) {
			return fmt.Errorf("not strictly ascending at level %d: %s then %s", i, prev, cur)
		}
	}
	return nil
}

// IsValid reports whether both sides carry at least one level.
func (s *OrderBookSnapshot) IsValid() bool {
	return len(s.Bids) > 0 && len(s.Asks) > 0
}

// BestBid returns the highest bid price, or false when the side is empty.
func (s *OrderBookSnapshot) BestBid() (decimal.Decimal, bool) {
	if len(s.Bids) == 0 {
		return decimal.Decimal{}, false
	}
	return s.Bids[0].Price, true
}

// BestAsk returns the lowest ask price, or false when the side is empty.
func (s *OrderBookSnapshot) BestAsk() (decimal.Decimal, bool) {
	if len(s.Asks) == 0 {
		return decimal.Decimal{}, false
	}
	return s.Asks[0].Price, true
}

// MidPrice returns (best_bid + best_ask) / 2, or false when either side is empty.
func (s *OrderBookSnapshot) MidPrice() (decimal.Decimal, bool) {
	bid, okB := s.BestBid()
	ask, okA := s.BestAsk()
	if !okB || !okA {
		return decimal.Decimal{}, false
	}
	return bid.Add(ask).Div(decimal.NewFromInt(2)), true
}

// SpreadBps returns the bid-ask spread in basis points of mid, or false when
// the book has an empty side.
func (s *OrderBookSnapshot) SpreadBps() (decimal.Decimal, bool) {
	bid, okB := s.BestBid()
	ask, okA := s.BestAsk()
	if !okB || !okA {
		return decimal.Decimal{}, false
	}
	mid := bid.Add(ask).Div(decimal.NewFromInt(2))
	if !mid.IsPositive() {
		return decimal.Decimal{}, false
	}
	return ask.Sub(bid).Div(mid).Mul(decimal.NewFromInt(10000)), true
}
