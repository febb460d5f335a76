package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// SpreadMetrics holds spread measures computed from one snapshot.
// ZScore is nil during warmup and flat markets; never NaN, never a sentinel.
type SpreadMetrics struct {
	SpreadAbs decimal.Decimal  `json:"spread_abs"`
	SpreadBps decimal.Decimal  `json:"spread_bps"`
	MidPrice  decimal.Decimal  `json:"mid_price"`
	ZScore    *decimal.Decimal `json:"zscore,omitempty"`
}

// DepthMetrics holds notional depth at the configured basis-point bands plus
// the imbalance at the reference band.
type DepthMetrics struct {
	Depth5BpsBid   decimal.Decimal `json:"depth_5bps_bid"`
	Depth5BpsAsk   decimal.Decimal `json:"depth_5bps_ask"`
	Depth5BpsTotal decimal.Decimal `json:"depth_5bps_total"`

	Depth10BpsBid   decimal.Decimal `json:"depth_10bps_bid"`
	Depth10BpsAsk   decimal.Decimal `json:"depth_10bps_ask"`
	Depth10BpsTotal decimal.Decimal `json:"depth_10bps_total"`

	Depth25BpsBid   decimal.Decimal `json:"depth_25bps_bid"`
	Depth25BpsAsk   decimal.Decimal `json:"depth_25bps_ask"`
	Depth25BpsTotal decimal.Decimal `json:"depth_25bps_total"`

	Imbalance decimal.Decimal `json:"imbalance"`
}

// ImbalanceMetrics holds bid/ask balance ratios at three scopes. Each value
// lies in [-1, 1]; positive means bid-heavy.
type ImbalanceMetrics struct {
	TopOfBook decimal.Decimal `json:"top_of_book"`
	Top5      decimal.Decimal `json:"top5"`
	Top10     decimal.Decimal `json:"top10"`
}

// BasisMetrics holds the perp-vs-spot basis. Present on an AggregatedMetrics
// only when the instrument is a perpetual with a configured spot counterpart
// and a current spot snapshot existed at computation time.
type BasisMetrics struct {
	BasisAbs decimal.Decimal  `json:"basis_abs"`
	BasisBps decimal.Decimal  `json:"basis_bps"`
	PerpMid  decimal.Decimal  `json:"perp_mid"`
	SpotMid  decimal.Decimal  `json:"spot_mid"`
	ZScore   *decimal.Decimal `json:"zscore,omitempty"`
}

// IsPremium reports whether the perp trades above spot.
func (b *BasisMetrics) IsPremium() bool {
	return b.BasisAbs.IsPositive()
}

// AggregatedMetrics is the full per-instrument metrics record published each
// tick by the metrics engine.
type AggregatedMetrics struct {
	Venue      string            `json:"venue"`
	Instrument string            `json:"instrument"`
	Timestamp  time.Time         `json:"timestamp"`
	Spread     SpreadMetrics     `json:"spread"`
	Depth      DepthMetrics      `json:"depth"`
	Imbalance  ImbalanceMetrics  `json:"imbalance"`
	Basis      *BasisMetrics     `json:"basis,omitempty"`
	SequenceID int64             `json:"sequence_id"`
}

// MetricValue extracts a named metric value and its z-score from the record.
// The boolean is false when the metric is absent for this record (e.g. basis
// on an instrument with no spot counterpart).
func (m *AggregatedMetrics) MetricValue(name string) (decimal.Decimal, *decimal.Decimal, bool) {
	switch name {
	case "spread_bps":
		return m.Spread.SpreadBps, m.Spread.ZScore, true
	case "spread_abs":
		return m.Spread.SpreadAbs, nil, true
	case "mid_price":
		return m.Spread.MidPrice, nil, true
	case "basis_bps":
		if m.Basis == nil {
			return decimal.Decimal{}, nil, false
		}
		return m.Basis.BasisBps, m.Basis.ZScore, true
	case "basis_abs":
		if m.Basis == nil {
			return decimal.Decimal{}, nil, false
		}
		return m.Basis.BasisAbs, nil, true
	case "imbalance":
		return m.Depth.Imbalance, nil, true
	case "depth_5bps_total":
		return m.Depth.Depth5BpsTotal, nil, true
	case "depth_10bps_total":
		return m.Depth.Depth10BpsTotal, nil, true
	case "depth_25bps_total":
		return m.Depth.Depth25BpsTotal, nil, true
	default:
		return decimal.Decimal{}, nil, false
	}
}
