package metrics

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/bitspectre/surveil/internal/models"
)

// BasisCalculator computes the perp-vs-spot basis. The z-score tracks the
// magnitude of basis_bps: the sign stays on the raw metric while the tracker
// watches how unusual the deviation is.
type BasisCalculator struct {
	zscore *ZScoreCalculator
}

// NewBasisCalculator creates a calculator. Pass a nil tracker to disable
// z-scores.
func NewBasisCalculator(zscore *ZScoreCalculator) *BasisCalculator {
	return &BasisCalculator{zscore: zscore}
}

// Calculate derives basis metrics from a perpetual snapshot and its spot
// counterpart.
//
//	basis_abs = perp_mid - spot_mid
//	basis_bps = basis_abs / spot_mid * 10000
func (c *BasisCalculator) Calculate(perp, spot *models.OrderBookSnapshot) (*models.BasisMetrics, error) {
	if !perp.IsValid() {
		return nil, fmt.Errorf("invalid perp snapshot %s/%s", perp.Venue, perp.Instrument)
	}
	if !spot.IsValid() {
		return nil, fmt.Errorf("invalid spot snapshot %s/%s", spot.Venue, spot.Instrument)
	}

	perpMid, _ := perp.MidPrice()
	spotMid, _ := spot.MidPrice()
	if !spotMid.IsPositive() {
		return nil, fmt.Errorf("non-positive spot mid %s for %s", spotMid, spot.Instrument)
	}

	basisAbs := perpMid.Sub(spotMid)
	basisBps := basisAbs.Div(spotMid).Mul(tenK)

	var zscore *decimal.Decimal
	if c.zscore != nil {
		zscore = c.zscore.AddSample(basisBps.Abs(), perp.Timestamp)
	}

	return &models.BasisMetrics{
		BasisAbs: basisAbs,
		BasisBps: basisBps,
		PerpMid:  perpMid,
		SpotMid:  spotMid,
		ZScore:   zscore,
	}, nil
}

// ResetZScore clears the basis z-score window.
func (c *BasisCalculator) ResetZScore(reason string) {
	if c.zscore != nil {
		c.zscore.Reset(reason)
	}
}

// ZScoreStatus returns the tracker warmup snapshot, or nil when disabled.
func (c *BasisCalculator) ZScoreStatus() *ZScoreStatus {
	if c.zscore == nil {
		return nil
	}
	st := c.zscore.Status()
	return &st
}
