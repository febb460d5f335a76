package metrics

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/bitspectre/surveil/internal/models"
)

// DepthBands are the supported basis-point bands around mid.
var DepthBands = []int{5, 10, 25}

// DefaultImbalanceBand is the band used for the depth imbalance ratio.
const DefaultImbalanceBand = 10

// DepthCalculator computes notional depth within basis-point bands of mid and
// the bid/ask imbalance at a reference band.
type DepthCalculator struct {
	referenceBand int
}

// NewDepthCalculator creates a calculator with the given imbalance reference
// band, which must be one of DepthBands.
func NewDepthCalculator(referenceBand int) (*DepthCalculator, error) {
	valid := false
	for _, b := range DepthBands {
		if b == referenceBand {
			valid = true
			break
		}
	}
	if !valid {
		return nil, fmt.Errorf("reference band %d not in %v", referenceBand, DepthBands)
	}
	return &DepthCalculator{referenceBand: referenceBand}, nil
}

// Calculate sums notional within each band on each side. Because levels are
// sorted, accumulation stops at the first out-of-band level.
func (c *DepthCalculator) Calculate(snapshot *models.OrderBookSnapshot) (*models.DepthMetrics, error) {
	if !snapshot.IsValid() {
		return nil, fmt.Errorf("invalid snapshot %s/%s: bids=%d asks=%d",
			snapshot.Venue, snapshot.Instrument, len(snapshot.Bids), len(snapshot.Asks))
	}

	mid, ok := snapshot.MidPrice()
	if !ok || !mid.IsPositive() {
		return nil, fmt.Errorf("non-positive mid price for %s/%s", snapshot.Venue, snapshot.Instrument)
	}

	type bandDepth struct{ bid, ask, total decimal.Decimal }
	byBand := make(map[int]bandDepth, len(DepthBands))

	for _, bps := range DepthBands {
		bid := depthWithinBand(snapshot.Bids, mid, bps, true)
		ask := depthWithinBand(snapshot.Asks, mid, bps, false)
		byBand[bps] = bandDepth{bid: bid, ask: ask, total: bid.Add(ask)}
	}

	ref := byBand[c.referenceBand]

	return &models.DepthMetrics{
		Depth5BpsBid:    byBand[5].bid,
		Depth5BpsAsk:    byBand[5].ask,
		Depth5BpsTotal:  byBand[5].total,
		Depth10BpsBid:   byBand[10].bid,
		Depth10BpsAsk:   byBand[10].ask,
		Depth10BpsTotal: byBand[10].total,
		Depth25BpsBid:   byBand[25].bid,
		Depth25BpsAsk:   byBand[25].ask,
		Depth25BpsTotal: byBand[25].total,
		Imbalance:       imbalanceRatio(ref.bid, ref.ask),
	}, nil
}

// depthWithinBand sums notional for levels whose price lies within
// mid * (1 ± bps/10000). Bids accumulate down from mid, asks up.
func depthWithinBand(levels []models.PriceLevel, mid decimal.Decimal, bps int, bid bool) decimal.Decimal {
	frac := decimal.NewFromInt(int64(bps)).Div(tenK)
	total := decimal.Zero

	if bid {
		threshold := mid.Mul(decimal.NewFromInt(1).Sub(frac))
		for _, l := range levels {
			if l.Price.LessThan(threshold) {
				break
			}
			total = total.Add(l.Notional())
		}
		return total
	}

	threshold := mid.Mul(decimal.NewFromInt(1).Add(frac))
	for _, l := range levels {
		if l.Price.GreaterThan(threshold) {
			break
		}
		total = total.Add(l.Notional())
	}
	return total
}

// imbalanceRatio is (bid - ask) / (bid + ask), zero when both sides are empty.
func imbalanceRatio(bid, ask decimal.Decimal) decimal.Decimal {
	total := bid.Add(ask)
	if total.IsZero() {
		return decimal.Zero
	}
	return bid.Sub(ask).Div(total)
}
