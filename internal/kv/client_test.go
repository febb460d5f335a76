package kv

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bitspectre/surveil/internal/models"
)

func testSnapshot(t *testing.T) *models.OrderBookSnapshot {
	t.Helper()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	s, err := models.NewOrderBookSnapshot("binance", "BTC-USDT-PERP", now, now, 42,
		[]models.PriceLevel{{Price: decimal.RequireFromString("50000"), Quantity: decimal.RequireFromString("1")}},
		[]models.PriceLevel{{Price: decimal.RequireFromString("50001"), Quantity: decimal.RequireFromString("2")}},
	)
	require.NoError(t, err)
	return s
}

func TestKeyLayout(t *testing.T) {
	assert.Equal(t, "orderbook:binance:BTC-USDT-PERP", OrderbookKey("binance", "BTC-USDT-PERP"))
	assert.Equal(t, "zscore:okx:BTC-USDT-PERP:spread_bps", ZScoreKey("okx", "BTC-USDT-PERP", "spread_bps"))
	assert.Equal(t, "alert:abc", AlertKey("abc"))
	assert.Equal(t, "alerts:by_priority:P1", AlertsByPriorityKey("P1"))
	assert.Equal(t, "alerts:by_instrument:BTC-USDT-PERP", AlertsByInstrumentKey("BTC-USDT-PERP"))
	assert.Equal(t, "health:binance", HealthKey("binance"))
}

func TestSetOrderbook(t *testing.T) {
	db, mock := redismock.NewClientMock()
	client := NewClientFromRedis(db, DefaultTTLConfig())

	snap := testSnapshot(t)
	data, err := json.Marshal(snap)
	require.NoError(t, err)

	mock.ExpectSet("orderbook:binance:BTC-USDT-PERP", data, 60*time.Second).SetVal("OK")

	require.NoError(t, client.SetOrderbook(context.Background(), snap))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetOrderbook_RoundTrip(t *testing.T) {
	db, mock := redismock.NewClientMock()
	client := NewClientFromRedis(db, DefaultTTLConfig())

	snap := testSnapshot(t)
	data, err := json.Marshal(snap)
	require.NoError(t, err)

	mock.ExpectGet("orderbook:binance:BTC-USDT-PERP").SetVal(string(data))

	got, err := client.GetOrderbook(context.Background(), "binance", "BTC-USDT-PERP")
	require.NoError(t, err)
	require.NotNil(t, got)

	assert.Equal(t, snap.Venue, got.Venue)
	assert.Equal(t, snap.SequenceID, got.SequenceID)
	assert.True(t, got.Bids[0].Price.Equal(snap.Bids[0].Price))
	assert.True(t, got.Asks[0].Quantity.Equal(snap.Asks[0].Quantity))
	assert.True(t, got.Timestamp.Equal(snap.Timestamp))
}

func TestGetOrderbook_MissingIsNil(t *testing.T) {
	db, mock := redismock.NewClientMock()
	client := NewClientFromRedis(db, DefaultTTLConfig())

	mock.ExpectGet("orderbook:binance:BTC-USDT-PERP").RedisNil()

	got, err := client.GetOrderbook(context.Background(), "binance", "BTC-USDT-PERP")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestTicker_RoundTrip(t *testing.T) {
	db, mock := redismock.NewClientMock()
	client := NewClientFromRedis(db, DefaultTTLConfig())

	mark := decimal.RequireFromString("50002.5")
	tick := &models.TickerSnapshot{
		Venue:      "binance",
		Instrument: "BTC-USDT-PERP",
		Timestamp:  time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
		LastPrice:  decimal.RequireFromString("50001"),
		MarkPrice:  &mark,
	}
	data, err := json.Marshal(tick)
	require.NoError(t, err)

	mock.ExpectSet("ticker:binance:BTC-USDT-PERP", data, 60*time.Second).SetVal("OK")
	require.NoError(t, client.SetTicker(context.Background(), tick))

	mock.ExpectGet("ticker:binance:BTC-USDT-PERP").SetVal(string(data))
	got, err := client.GetTicker(context.Background(), "binance", "BTC-USDT-PERP")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.True(t, got.LastPrice.Equal(tick.LastPrice))
	require.NotNil(t, got.MarkPrice)
	assert.True(t, got.MarkPrice.Equal(mark))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetTicker_MissingIsNil(t *testing.T) {
	db, mock := redismock.NewClientMock()
	client := NewClientFromRedis(db, DefaultTTLConfig())

	mock.ExpectGet("ticker:binance:BTC-USDT-PERP").RedisNil()

	got, err := client.GetTicker(context.Background(), "binance", "BTC-USDT-PERP")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestPushZScoreSample_PipelinedAtomically(t *testing.T) {
	db, mock := redismock.NewClientMock()
	client := NewClientFromRedis(db, DefaultTTLConfig())

	key := "zscore:binance:BTC-USDT-PERP:spread_bps"
	mock.ExpectTxPipeline()
	mock.ExpectRPush(key, "1.25").SetVal(1)
	mock.ExpectLTrim(key, -300, -1).SetVal("OK")
	mock.ExpectExpire(key, 10*time.Minute).SetVal(true)
	mock.ExpectTxPipelineExec()

	err := client.PushZScoreSample(context.Background(), "binance", "BTC-USDT-PERP", "spread_bps",
		decimal.RequireFromString("1.25"), 300)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveAlert_ActiveJoinsIndexes(t *testing.T) {
	db, mock := redismock.NewClientMock()
	client := NewClientFromRedis(db, DefaultTTLConfig())

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	alert, err := models.NewAlert("spread_warning", models.PriorityP2, models.SeverityWarning,
		"binance", "BTC-USDT-PERP", "spread_bps",
		decimal.RequireFromString("3.5"), decimal.RequireFromString("3.0"), models.ConditionGT, now)
	require.NoError(t, err)

	data, err := json.Marshal(alert)
	require.NoError(t, err)

	mock.ExpectTxPipeline()
	mock.ExpectSet(AlertKey(alert.AlertID), data, 0).SetVal("OK")
	mock.ExpectSAdd(KeyAlertsActive, alert.AlertID).SetVal(1)
	mock.ExpectSAdd("alerts:by_priority:P2", alert.AlertID).SetVal(1)
	mock.ExpectSAdd("alerts:by_instrument:BTC-USDT-PERP", alert.AlertID).SetVal(1)
	mock.ExpectTxPipelineExec()

	require.NoError(t, client.SaveAlert(context.Background(), alert))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveAlert_ResolvedLeavesIndexes(t *testing.T) {
	db, mock := redismock.NewClientMock()
	client := NewClientFromRedis(db, DefaultTTLConfig())

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	alert, err := models.NewAlert("spread_warning", models.PriorityP2, models.SeverityWarning,
		"binance", "BTC-USDT-PERP", "spread_bps",
		decimal.RequireFromString("3.5"), decimal.RequireFromString("3.0"), models.ConditionGT, now)
	require.NoError(t, err)
	require.NoError(t, alert.Resolve(now.Add(time.Minute), models.ResolutionAuto, nil))

	data, err := json.Marshal(alert)
	require.NoError(t, err)

	mock.ExpectTxPipeline()
	mock.ExpectSet(AlertKey(alert.AlertID), data, 0).SetVal("OK")
	mock.ExpectSRem(KeyAlertsActive, alert.AlertID).SetVal(1)
	mock.ExpectSRem("alerts:by_priority:P2", alert.AlertID).SetVal(1)
	mock.ExpectSRem("alerts:by_instrument:BTC-USDT-PERP", alert.AlertID).SetVal(1)
	mock.ExpectTxPipelineExec()

	require.NoError(t, client.SaveAlert(context.Background(), alert))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetActiveAlerts_SkipsDanglingEntries(t *testing.T) {
	db, mock := redismock.NewClientMock()
	client := NewClientFromRedis(db, DefaultTTLConfig())

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	alert, err := models.NewAlert("spread_warning", models.PriorityP2, models.SeverityWarning,
		"binance", "BTC-USDT-PERP", "spread_bps",
		decimal.RequireFromString("3.5"), decimal.RequireFromString("3.0"), models.ConditionGT, now)
	require.NoError(t, err)
	data, err := json.Marshal(alert)
	require.NoError(t, err)

	mock.ExpectSMembers(KeyAlertsActive).SetVal([]string{alert.AlertID, "gone"})
	mock.ExpectGet(AlertKey(alert.AlertID)).SetVal(string(data))
	mock.ExpectGet(AlertKey("gone")).RedisNil()

	alerts, err := client.GetActiveAlerts(context.Background())
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	assert.Equal(t, alert.AlertID, alerts[0].AlertID)
}

func TestPublish_Envelope(t *testing.T) {
	db, mock := redismock.NewClientMock()
	client := NewClientFromRedis(db, DefaultTTLConfig())

	env := UpdateEnvelope{Venue: "binance", Instrument: "BTC-USDT-PERP", Timestamp: 1234}
	data, err := json.Marshal(env)
	require.NoError(t, err)

	mock.ExpectPublish(ChannelOrderbook, data).SetVal(1)

	require.NoError(t, client.Publish(context.Background(), ChannelOrderbook, env))
	assert.NoError(t, mock.ExpectationsWereMet())
}
