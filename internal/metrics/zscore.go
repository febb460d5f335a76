package metrics

import (
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// Default z-score guard parameters. MinSamples blocks emission during warmup;
// MinStd blocks emission in flat markets where the denominator is degenerate.
const (
	DefaultZScoreWindow     = 300
	DefaultZScoreMinSamples = 30
)

// DefaultZScoreMinStd is the smallest standard deviation considered
// statistically meaningful.
var DefaultZScoreMinStd = decimal.New(1, -4)

// ZScoreStatus is an observability snapshot of a tracker's warmup state.
type ZScoreStatus struct {
	SamplesCollected int              `json:"samples_collected"`
	SamplesRequired  int              `json:"samples_required"`
	Ready            bool             `json:"ready"`
	Mean             *decimal.Decimal `json:"mean,omitempty"`
	Std              *decimal.Decimal `json:"std,omitempty"`
}

// ZScoreCalculator maintains a bounded rolling window of samples for one
// (venue, instrument, metric) series and emits standardized deviations once
// warm. A z-score is returned iff the window holds at least minSamples and
// the sample standard deviation is at least minStd; otherwise nil.
//
// Not safe for concurrent use; each series is owned by a single task.
type ZScoreCalculator struct {
	windowSize int
	minSamples int
	minStd     decimal.Decimal

	samples    []decimal.Decimal
	lastSample time.Time
}

// ZScoreOption customizes a calculator.
type ZScoreOption func(*ZScoreCalculator)

// WithMinSamples overrides the warmup sample requirement.
func WithMinSamples(n int) ZScoreOption {
	return func(z *ZScoreCalculator) { z.minSamples = n }
}

// WithMinStd overrides the flat-market guard.
func WithMinStd(s decimal.Decimal) ZScoreOption {
	return func(z *ZScoreCalculator) { z.minStd = s }
}

// NewZScoreCalculator creates a tracker with the given rolling window size.
func NewZScoreCalculator(windowSize int, opts ...ZScoreOption) *ZScoreCalculator {
	if windowSize <= 0 {
		windowSize = DefaultZScoreWindow
	}
	z := &ZScoreCalculator{
		windowSize: windowSize,
		minSamples: DefaultZScoreMinSamples,
		minStd:     DefaultZScoreMinStd,
		samples:    make([]decimal.Decimal, 0, windowSize),
	}
	for _, opt := range opts {
		opt(z)
	}
	return z
}

// AddSample appends a value to the window and returns the z-score of that
// value against the updated window, or nil during warmup or when the market
// is flat.
func (z *ZScoreCalculator) AddSample(value decimal.Decimal, ts time.Time) *decimal.Decimal {
	z.samples = append(z.samples, value)
	if len(z.samples) > z.windowSize {
		z.samples = z.samples[len(z.samples)-z.windowSize:]
	}
	z.lastSample = ts

	if len(z.samples) < z.minSamples {
		return nil
	}

	mean, std := meanStd(z.samples)
	if std.LessThan(z.minStd) {
		return nil
	}

	score := value.Sub(mean).Div(std)
	return &score
}

// Reset clears the window. Called on gap detection or regime change; emitting
// a z-score from stale pre-gap samples is a correctness failure.
func (z *ZScoreCalculator) Reset(reason string) {
	if len(z.samples) > 0 {
		log.Debug().
			Str("reason", reason).
			Int("samples_dropped", len(z.samples)).
			Msg("zscore buffer reset")
	}
	z.samples = z.samples[:0]
}

// SampleCount returns the current window population.
func (z *ZScoreCalculator) SampleCount() int {
	return len(z.samples)
}

// Ready reports whether the tracker has passed warmup.
func (z *ZScoreCalculator) Ready() bool {
	return len(z.samples) >= z.minSamples
}

// Status returns the warmup snapshot. Mean and Std are populated only when
// the tracker is ready.
func (z *ZScoreCalculator) Status() ZScoreStatus {
	st := ZScoreStatus{
		SamplesCollected: len(z.samples),
		SamplesRequired:  z.minSamples,
		Ready:            z.Ready(),
	}
	if st.Ready {
		mean, std := meanStd(z.samples)
		st.Mean = &mean
		st.Std = &std
	}
	return st
}

// meanStd returns the sample mean and sample standard deviation (n-1
// denominator). A single-element window has zero deviation.
func meanStd(samples []decimal.Decimal) (decimal.Decimal, decimal.Decimal) {
	n := int64(len(samples))
	sum := decimal.Zero
	for _, s := range samples {
		sum = sum.Add(s)
	}
	mean := sum.Div(decimal.NewFromInt(n))

	if n < 2 {
		return mean, decimal.Zero
	}

	sumSq := decimal.Zero
	for _, s := range samples {
		d := s.Sub(mean)
		sumSq = sumSq.Add(d.Mul(d))
	}
	variance := sumSq.Div(decimal.NewFromInt(n - 1))
	return mean, sqrt(variance)
}

// sqrt computes a decimal square root by Newton's method. Converges well
// within 64 iterations at the package division precision.
func sqrt(d decimal.Decimal) decimal.Decimal {
	if d.Sign() <= 0 {
		return decimal.Zero
	}

	guess := d.Div(decimal.NewFromInt(2))
	if guess.IsZero() {
		guess = d
	}
	two := decimal.NewFromInt(2)
	for i := 0; i < 64; i++ {
		next := guess.Add(d.Div(guess)).Div(two)
		if next.Sub(guess).Abs().LessThan(decimal.New(1, -18)) {
			return next
		}
		guess = next
	}
	return guess
}
