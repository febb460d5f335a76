package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAlertCondition_Evaluate(t *testing.T) {
	tests := []struct {
		name      string
		cond      AlertCondition
		value     string
		threshold string
		want      bool
	}{
		{"gt true", ConditionGT, "3.5", "3.0", true},
		{"gt false equal", ConditionGT, "3.0", "3.0", false},
		{"lt true", ConditionLT, "-1", "0", true},
		{"abs_gt negative value", ConditionAbsGT, "-5", "3", true},
		{"abs_gt within", ConditionAbsGT, "-2", "3", false},
		{"abs_lt true", ConditionAbsLT, "-0.5", "1", true},
		{"unknown", AlertCondition("ge"), "5", "1", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.cond.Evaluate(dec(tt.value), dec(tt.threshold))
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNewAlert_InitialState(t *testing.T) {
	now := time.Now().UTC()
	a, err := NewAlert("spread_warning", PriorityP2, SeverityWarning,
		"binance", "BTC-USDT-PERP", "spread_bps", dec("3.5"), dec("3.0"), ConditionGT, now)
	require.NoError(t, err)

	assert.NotEmpty(t, a.AlertID)
	assert.True(t, a.IsActive())
	assert.True(t, a.PeakValue.Equal(dec("3.5")))
	assert.Equal(t, "spread_warning:BTC-USDT-PERP:binance", a.ConditionKey())
}

func TestNewAlert_RejectsInvalidCondition(t *testing.T) {
	_, err := NewAlert("x", PriorityP2, SeverityWarning, "v", "i", "m",
		dec("1"), dec("1"), AlertCondition("between"), time.Now())
	assert.Error(t, err)
}

func TestAlert_UpdatePeak_UpwardKeepsMostExtreme(t *testing.T) {
	now := time.Now().UTC()
	a, err := NewAlert("spread_warning", PriorityP2, SeverityWarning,
		"binance", "BTC-USDT-PERP", "spread_bps", dec("3.5"), dec("3.0"), ConditionGT, now)
	require.NoError(t, err)

	assert.False(t, a.UpdatePeak(dec("3.2"), now.Add(time.Second)))
	assert.True(t, a.PeakValue.Equal(dec("3.5")))

	assert.True(t, a.UpdatePeak(dec("4.1"), now.Add(2*time.Second)))
	assert.True(t, a.PeakValue.Equal(dec("4.1")))
}

func TestAlert_UpdatePeak_DownwardKeepsSmallest(t *testing.T) {
	now := time.Now().UTC()
	a, err := NewAlert("depth_collapse", PriorityP1, SeverityCritical,
		"binance", "BTC-USDT-PERP", "depth_10bps_total", dec("90000"), dec("100000"), ConditionLT, now)
	require.NoError(t, err)

	assert.True(t, a.UpdatePeak(dec("80000"), now.Add(time.Second)))
	assert.True(t, a.PeakValue.Equal(dec("80000")))
	assert.False(t, a.UpdatePeak(dec("85000"), now.Add(2*time.Second)))
}

func TestAlert_Escalate(t *testing.T) {
	now := time.Now().UTC()
	a, err := NewAlert("spread_warning", PriorityP2, SeverityWarning,
		"binance", "BTC-USDT-PERP", "spread_bps", dec("3.5"), dec("3.0"), ConditionGT, now)
	require.NoError(t, err)

	at := now.Add(305 * time.Second)
	require.NoError(t, a.Escalate(PriorityP1, at))

	assert.Equal(t, PriorityP1, a.Priority)
	assert.True(t, a.Escalated)
	require.NotNil(t, a.OriginalPriority)
	assert.Equal(t, PriorityP2, *a.OriginalPriority)
	require.NotNil(t, a.EscalatedAt)
	assert.Equal(t, at, *a.EscalatedAt)

	assert.Error(t, a.Escalate(PriorityP1, at.Add(time.Minute)))
}

func TestAlert_Resolve(t *testing.T) {
	now := time.Now().UTC()
	a, err := NewAlert("spread_warning", PriorityP2, SeverityWarning,
		"binance", "BTC-USDT-PERP", "spread_bps", dec("3.5"), dec("3.0"), ConditionGT, now)
	require.NoError(t, err)

	val := dec("1.1")
	at := now.Add(90 * time.Second)
	require.NoError(t, a.Resolve(at, ResolutionAuto, &val))

	assert.False(t, a.IsActive())
	require.NotNil(t, a.DurationSeconds)
	assert.Equal(t, int64(90), *a.DurationSeconds)
	assert.Equal(t, ResolutionAuto, *a.ResolutionType)

	assert.Error(t, a.Resolve(at.Add(time.Second), ResolutionManual, nil))
}

func TestGapMarker_Validation(t *testing.T) {
	now := time.Now().UTC()
	g, err := NewGapMarker("binance", "BTC-USDT-PERP", now, now.Add(6*time.Second), GapTime)
	require.NoError(t, err)
	assert.InDelta(t, 6.0, g.DurationSeconds, 0.001)

	_, err = NewGapMarker("binance", "BTC-USDT-PERP", now, now.Add(-time.Second), GapTime)
	assert.Error(t, err)
}

func TestHealthStatus_Healthy(t *testing.T) {
	h := &HealthStatus{State: StateConnected, LagMs: 100, GapsLastHour: 0}
	assert.True(t, h.Healthy())

	h.GapsLastHour = 5
	assert.False(t, h.Healthy())

	h.GapsLastHour = 0
	h.LagMs = 1500
	assert.False(t, h.Healthy())

	h.LagMs = 10
	h.State = StateDegraded
	assert.False(t, h.Healthy())
}
