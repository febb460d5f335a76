package metrics

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/bitspectre/surveil/internal/models"
)

var (
	two  = decimal.NewFromInt(2)
	tenK = decimal.NewFromInt(10000)
)

// SpreadCalculator computes bid-ask spread metrics from order book snapshots.
// When z-score tracking is enabled it owns one rolling tracker for spread_bps.
type SpreadCalculator struct {
	zscore *ZScoreCalculator
}

// NewSpreadCalculator creates a calculator. Pass a nil tracker to disable
// z-scores.
func NewSpreadCalculator(zscore *ZScoreCalculator) *SpreadCalculator {
	return &SpreadCalculator{zscore: zscore}
}

// Calculate derives spread metrics from one snapshot.
//
//	mid        = (best_bid + best_ask) / 2
//	spread_abs = best_ask - best_bid
//	spread_bps = spread_abs / mid * 10000
func (c *SpreadCalculator) Calculate(snapshot *models.OrderBookSnapshot) (*models.SpreadMetrics, error) {
	if !snapshot.IsValid() {
		return nil, fmt.Errorf("invalid snapshot %s/%s: bids=%d asks=%d",
			snapshot.Venue, snapshot.Instrument, len(snapshot.Bids), len(snapshot.Asks))
	}

	bid, _ := snapshot.BestBid()
	ask, _ := snapshot.BestAsk()

	mid := bid.Add(ask).Div(two)
	if !mid.IsPositive() {
		return nil, fmt.Errorf("non-positive mid price %s for %s/%s", mid, snapshot.Venue, snapshot.Instrument)
	}

	spreadAbs := ask.Sub(bid)
	spreadBps := spreadAbs.Div(mid).Mul(tenK)

	var zscore *decimal.Decimal
	if c.zscore != nil {
		zscore = c.zscore.AddSample(spreadBps, snapshot.Timestamp)
	}

	return &models.SpreadMetrics{
		SpreadAbs: spreadAbs,
		SpreadBps: spreadBps,
		MidPrice:  mid,
		ZScore:    zscore,
	}, nil
}

// ResetZScore clears the spread z-score window.
func (c *SpreadCalculator) ResetZScore(reason string) {
	if c.zscore != nil {
		c.zscore.Reset(reason)
	}
}

// ZScoreStatus returns the tracker warmup snapshot, or nil when disabled.
func (c *SpreadCalculator) ZScoreStatus() *ZScoreStatus {
	if c.zscore == nil {
		return nil
	}
	st := c.zscore.Status()
	return &st
}
