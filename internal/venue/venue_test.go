package venue

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bitspectre/surveil/internal/models"
)

func TestDetectSequenceGap_ForwardNeverGaps(t *testing.T) {
	now := time.Now().UTC()

	assert.Nil(t, DetectSequenceGap("binance", "BTC-USDT-PERP", 100, 101, now))
	// large forward jumps are routine on top-N depth streams
	assert.Nil(t, DetectSequenceGap("binance", "BTC-USDT-PERP", 100, 100000, now))
}

func TestDetectSequenceGap_Backwards(t *testing.T) {
	now := time.Now().UTC()
	gap := DetectSequenceGap("binance", "BTC-USDT-PERP", 200, 150, now)

	require.NotNil(t, gap)
	assert.Equal(t, models.GapSequenceBackwards, gap.Reason)
	assert.Equal(t, "binance", gap.Venue)
	assert.Equal(t, "BTC-USDT-PERP", gap.Instrument)
	assert.Equal(t, now, gap.GapStart)
	assert.Equal(t, now, gap.GapEnd)
	assert.Zero(t, gap.DurationSeconds)
	require.NotNil(t, gap.SequenceIDBefore)
	require.NotNil(t, gap.SequenceIDAfter)
	assert.Equal(t, int64(200), *gap.SequenceIDBefore)
	assert.Equal(t, int64(150), *gap.SequenceIDAfter)
}

func TestDetectSequenceGap_Duplicate(t *testing.T) {
	gap := DetectSequenceGap("okx", "ETH-USDT", 42, 42, time.Now().UTC())
	require.NotNil(t, gap)
	assert.Equal(t, models.GapSequenceDuplicate, gap.Reason)
}

func TestReconnectDelay_ExponentialWithCapAndJitter(t *testing.T) {
	base := 5 * time.Second

	for attempt, wantBase := range []time.Duration{
		5 * time.Second,
		10 * time.Second,
		20 * time.Second,
		40 * time.Second,
		60 * time.Second, // capped
		60 * time.Second,
	} {
		d := ReconnectDelay(base, attempt)
		assert.GreaterOrEqual(t, d, wantBase, "attempt %d", attempt)
		assert.LessOrEqual(t, d, wantBase+wantBase/10, "attempt %d", attempt)
	}
}

func TestReconnectDelay_HugeAttemptStaysCapped(t *testing.T) {
	d := ReconnectDelay(5*time.Second, 62)
	assert.GreaterOrEqual(t, d, maxReconnectDelay)
	assert.LessOrEqual(t, d, maxReconnectDelay+maxReconnectDelay/10)
}

func TestHealthTracker_GapWindow(t *testing.T) {
	h := NewHealthTracker("binance")
	now := time.Now().UTC()

	h.RecordGap(now.Add(-2 * time.Hour))
	h.RecordGap(now.Add(-59 * time.Minute))
	h.RecordGap(now.Add(-time.Minute))

	assert.Equal(t, 2, h.GapsLastHour(now))
}

func TestHealthTracker_SnapshotNoConns(t *testing.T) {
	h := NewHealthTracker("okx")
	now := time.Now().UTC()

	status := h.Snapshot(now)
	assert.Equal(t, "okx", status.Venue)
	assert.Equal(t, models.StateDisconnected, status.State)
	assert.Nil(t, status.LastMessageAt)
	assert.False(t, status.Healthy())
}

func TestHealthTracker_DegradesOnGapCount(t *testing.T) {
	h := NewHealthTracker("binance")
	now := time.Now().UTC()
	for i := 0; i < 5; i++ {
		h.RecordGap(now.Add(-time.Duration(i) * time.Minute))
	}

	c := NewConn("test", ConnConfig{URL: "ws://unused"})
	c.state = models.StateConnected
	c.lastMessageNs.Store(now.UnixNano())

	status := h.Snapshot(now, c)
	assert.Equal(t, models.StateDegraded, status.State)
	assert.Equal(t, 5, status.GapsLastHour)
	assert.False(t, status.Healthy())
}

func TestHealthTracker_WeakestStateWins(t *testing.T) {
	h := NewHealthTracker("binance")
	now := time.Now().UTC()

	a := NewConn("a", ConnConfig{URL: "ws://unused"})
	a.state = models.StateConnected
	b := NewConn("b", ConnConfig{URL: "ws://unused"})
	b.state = models.StateReconnecting

	status := h.Snapshot(now, a, b)
	assert.Equal(t, models.StateReconnecting, status.State)
}

func TestConn_WriteJSONBeforeConnect(t *testing.T) {
	c := NewConn("test", ConnConfig{URL: "ws://unused"})
	err := c.WriteJSON(map[string]string{"op": "ping"})
	assert.ErrorIs(t, err, ErrNotConnected)
}
