package metrics

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/bitspectre/surveil/internal/models"
)

// ImbalanceCalculator computes bid/ask balance at three scopes: top-of-book
// by quantity, and volume-weighted across the top 5 and top 10 levels by
// notional. Each ratio lies in [-1, 1]; positive means bid-heavy.
type ImbalanceCalculator struct{}

// NewImbalanceCalculator creates a calculator.
func NewImbalanceCalculator() *ImbalanceCalculator {
	return &ImbalanceCalculator{}
}

// Calculate derives the three imbalance ratios from one snapshot.
func (c *ImbalanceCalculator) Calculate(snapshot *models.OrderBookSnapshot) (*models.ImbalanceMetrics, error) {
	if !snapshot.IsValid() {
		return nil, fmt.Errorf("invalid snapshot %s/%s: bids=%d asks=%d",
			snapshot.Venue, snapshot.Instrument, len(snapshot.Bids), len(snapshot.Asks))
	}

	top := imbalanceRatio(snapshot.Bids[0].Quantity, snapshot.Asks[0].Quantity)

	return &models.ImbalanceMetrics{
		TopOfBook: top,
		Top5:      notionalImbalance(snapshot, 5),
		Top10:     notionalImbalance(snapshot, 10),
	}, nil
}

func notionalImbalance(snapshot *models.OrderBookSnapshot, levels int) decimal.Decimal {
	return imbalanceRatio(
		sumNotional(snapshot.Bids, levels),
		sumNotional(snapshot.Asks, levels),
	)
}

func sumNotional(levels []models.PriceLevel, n int) decimal.Decimal {
	if n > len(levels) {
		n = len(levels)
	}
	total := decimal.Zero
	for _, l := range levels[:n] {
		total = total.Add(l.Notional())
	}
	return total
}
