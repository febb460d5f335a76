package metrics

import (
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestZScore_WarmupReturnsNil(t *testing.T) {
	z := NewZScoreCalculator(300)
	now := time.Now().UTC()

	for i := 0; i < DefaultZScoreMinSamples-1; i++ {
		got := z.AddSample(decimal.NewFromInt(int64(i)), now)
		assert.Nil(t, got, "sample %d still in warmup", i)
	}
	assert.False(t, z.Ready())

	// the MIN_SAMPLES-th observation is the first that can emit
	got := z.AddSample(decimal.NewFromInt(100), now)
	assert.NotNil(t, got)
	assert.True(t, z.Ready())
}

func TestZScore_FlatMarketReturnsNil(t *testing.T) {
	z := NewZScoreCalculator(300)
	now := time.Now().UTC()

	for i := 0; i < 50; i++ {
		got := z.AddSample(dec("1.5"), now)
		assert.Nil(t, got, "flat series must never emit")
	}

	st := z.Status()
	assert.True(t, st.Ready)
	require.NotNil(t, st.Std)
	assert.True(t, st.Std.LessThan(DefaultZScoreMinStd))
}

func TestZScore_KnownValue(t *testing.T) {
	z := NewZScoreCalculator(300, WithMinSamples(5))
	now := time.Now().UTC()

	// samples 1..9: mean 5, sample std sqrt(60/8) = 2.7386...
	for i := 1; i <= 9; i++ {
		z.AddSample(decimal.NewFromInt(int64(i)), now)
	}
	got := z.AddSample(decimal.NewFromInt(10), now)
	require.NotNil(t, got)

	// window 1..10: mean 5.5, sample std sqrt(82.5/9) ≈ 3.02765
	f, _ := got.Float64()
	assert.InDelta(t, (10.0-5.5)/3.0276503540974917, f, 1e-9)
}

func TestZScore_WindowTrimsOldSamples(t *testing.T) {
	z := NewZScoreCalculator(10, WithMinSamples(5))
	now := time.Now().UTC()

	for i := 0; i < 100; i++ {
		z.AddSample(decimal.NewFromInt(int64(i)), now)
	}
	assert.Equal(t, 10, z.SampleCount())

	// window is 91..100 after the next sample
	got := z.AddSample(decimal.NewFromInt(100), now)
	require.NotNil(t, got)
	st := z.Status()
	require.NotNil(t, st.Mean)
	f, _ := st.Mean.Float64()
	assert.InDelta(t, 95.5, f, 1e-9)
}

func TestZScore_ResetReentersWarmup(t *testing.T) {
	z := NewZScoreCalculator(300)
	now := time.Now().UTC()

	for i := 0; i < 40; i++ {
		z.AddSample(decimal.NewFromInt(int64(i)), now)
	}
	require.True(t, z.Ready())

	z.Reset("gap_detected")
	assert.Equal(t, 0, z.SampleCount())
	assert.False(t, z.Ready())

	// the next MIN_SAMPLES-1 calls must all return nil
	for i := 0; i < DefaultZScoreMinSamples-1; i++ {
		got := z.AddSample(decimal.NewFromInt(int64(i)), now)
		assert.Nil(t, got, "post-reset sample %d must be absent", i)
	}
}

func TestZScore_StatusDuringWarmup(t *testing.T) {
	z := NewZScoreCalculator(300)
	now := time.Now().UTC()

	for i := 0; i < 10; i++ {
		z.AddSample(decimal.NewFromInt(int64(i)), now)
	}

	st := z.Status()
	assert.Equal(t, 10, st.SamplesCollected)
	assert.Equal(t, DefaultZScoreMinSamples, st.SamplesRequired)
	assert.False(t, st.Ready)
	assert.Nil(t, st.Mean)
	assert.Nil(t, st.Std)
}

func TestSqrt(t *testing.T) {
	tests := []struct {
		in   string
		want float64
	}{
		{"4", 2},
		{"2", 1.4142135623730951},
		{"0.0001", 0.01},
		{"1000000", 1000},
		{"0", 0},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("sqrt(%s)", tt.in), func(t *testing.T) {
			f, _ := sqrt(dec(tt.in)).Float64()
			assert.InDelta(t, tt.want, f, 1e-9)
		})
	}
}
