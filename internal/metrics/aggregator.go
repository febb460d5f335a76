package metrics

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/bitspectre/surveil/internal/models"
)

// AggregatorConfig tunes one instrument's calculator set.
type AggregatorConfig struct {
	UseZScore        bool
	ZScoreWindow     int
	ZScoreMinSamples int
	ZScoreMinStd     decimal.Decimal
	ImbalanceBand    int
}

// DefaultAggregatorConfig returns the standard tuning.
func DefaultAggregatorConfig() AggregatorConfig {
	return AggregatorConfig{
		UseZScore:        true,
		ZScoreWindow:     DefaultZScoreWindow,
		ZScoreMinSamples: DefaultZScoreMinSamples,
		ZScoreMinStd:     DefaultZScoreMinStd,
		ImbalanceBand:    DefaultImbalanceBand,
	}
}

// Aggregator is the per-instrument facade over the spread, depth, imbalance
// and basis calculators, owning one z-score tracker per z-scored metric.
type Aggregator struct {
	spread    *SpreadCalculator
	depth     *DepthCalculator
	imbalance *ImbalanceCalculator
	basis     *BasisCalculator
}

// NewAggregator builds the calculator set for one instrument.
func NewAggregator(cfg AggregatorConfig) (*Aggregator, error) {
	depth, err := NewDepthCalculator(cfg.ImbalanceBand)
	if err != nil {
		return nil, fmt.Errorf("depth calculator: %w", err)
	}

	newTracker := func() *ZScoreCalculator {
		if !cfg.UseZScore {
			return nil
		}
		opts := []ZScoreOption{}
		if cfg.ZScoreMinSamples > 0 {
			opts = append(opts, WithMinSamples(cfg.ZScoreMinSamples))
		}
		if cfg.ZScoreMinStd.IsPositive() {
			opts = append(opts, WithMinStd(cfg.ZScoreMinStd))
		}
		return NewZScoreCalculator(cfg.ZScoreWindow, opts...)
	}

	return &Aggregator{
		spread:    NewSpreadCalculator(newTracker()),
		depth:     depth,
		imbalance: NewImbalanceCalculator(),
		basis:     NewBasisCalculator(newTracker()),
	}, nil
}

// CalculateAll produces a fully populated metrics record from the instrument's
// snapshot. spot may be nil; basis is then absent.
func (a *Aggregator) CalculateAll(snapshot, spot *models.OrderBookSnapshot) (*models.AggregatedMetrics, error) {
	spread, err := a.spread.Calculate(snapshot)
	if err != nil {
		return nil, fmt.Errorf("spread: %w", err)
	}

	depth, err := a.depth.Calculate(snapshot)
	if err != nil {
		return nil, fmt.Errorf("depth: %w", err)
	}

	imbalance, err := a.imbalance.Calculate(snapshot)
	if err != nil {
		return nil, fmt.Errorf("imbalance: %w", err)
	}

	out := &models.AggregatedMetrics{
		Venue:      snapshot.Venue,
		Instrument: snapshot.Instrument,
		Timestamp:  snapshot.Timestamp,
		Spread:     *spread,
		Depth:      *depth,
		Imbalance:  *imbalance,
		SequenceID: snapshot.SequenceID,
	}

	if spot != nil {
		basis, err := a.basis.Calculate(snapshot, spot)
		if err != nil {
			return nil, fmt.Errorf("basis: %w", err)
		}
		out.Basis = basis
	}

	return out, nil
}

// ResetAllZScores clears every z-score window owned by this instrument.
// Called on gap detection; all trackers re-enter warmup together.
func (a *Aggregator) ResetAllZScores(reason string) {
	a.spread.ResetZScore(reason)
	a.basis.ResetZScore(reason)
}

// ZScoreStatuses returns the warmup snapshot per z-scored metric.
func (a *Aggregator) ZScoreStatuses() map[string]ZScoreStatus {
	out := make(map[string]ZScoreStatus, 2)
	if st := a.spread.ZScoreStatus(); st != nil {
		out["spread_bps"] = *st
	}
	if st := a.basis.ZScoreStatus(); st != nil {
		out["basis_bps"] = *st
	}
	return out
}
