package binance

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const futuresDepthFrame = `{
	"e": "depthUpdate",
	"E": 1700000000123,
	"s": "BTCUSDT",
	"U": 157,
	"u": 160,
	"b": [["50000.10", "1.5"], ["49999.90", "2.0"]],
	"a": [["50000.50", "0.8"], ["50001.00", "3.2"]]
}`

func TestNormalizeFuturesDepth(t *testing.T) {
	snap, err := normalizeFuturesDepth([]byte(futuresDepthFrame), "BTC-USDT-PERP")
	require.NoError(t, err)

	assert.Equal(t, "binance", snap.Venue)
	assert.Equal(t, "BTC-USDT-PERP", snap.Instrument)
	assert.Equal(t, int64(160), snap.SequenceID)
	assert.Equal(t, time.UnixMilli(1700000000123).UTC(), snap.Timestamp)

	best, ok := snap.BestBid()
	require.True(t, ok)
	assert.True(t, best.Equal(decimal.RequireFromString("50000.10")))

	ask, ok := snap.BestAsk()
	require.True(t, ok)
	assert.True(t, ask.Equal(decimal.RequireFromString("50000.50")))
}

func TestNormalizeFuturesDepth_WrongEventType(t *testing.T) {
	_, err := normalizeFuturesDepth([]byte(`{"e":"aggTrade","s":"BTCUSDT"}`), "BTC-USDT-PERP")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unexpected event type")
}

func TestNormalizeFuturesDepth_BadPrice(t *testing.T) {
	frame := `{"e":"depthUpdate","E":1,"s":"BTCUSDT","u":2,"b":[["oops","1"]],"a":[]}`
	_, err := normalizeFuturesDepth([]byte(frame), "BTC-USDT-PERP")
	require.Error(t, err)
}

func TestNormalizeSpotDepth(t *testing.T) {
	frame := `{
		"lastUpdateId": 8765,
		"bids": [["50000.00", "1.0"]],
		"asks": [["50001.00", "2.0"]]
	}`
	before := time.Now().UTC()
	snap, err := normalizeSpotDepth([]byte(frame), "BTC-USDT")
	require.NoError(t, err)

	assert.Equal(t, "binance", snap.Venue)
	assert.Equal(t, "BTC-USDT", snap.Instrument)
	assert.Equal(t, int64(8765), snap.SequenceID)
	assert.False(t, snap.Timestamp.Before(before))
	assert.Equal(t, snap.Timestamp, snap.LocalTimestamp)
}

func TestNormalizeSpotDepth_Empty(t *testing.T) {
	_, err := normalizeSpotDepth([]byte(`{}`), "BTC-USDT")
	require.Error(t, err)
}

func TestNormalizeTicker_WithMarkPrice(t *testing.T) {
	msg := &tickerMessage{
		EventType: "24hrTicker",
		EventTime: 1700000001000,
		Symbol:    "BTCUSDT",
		LastPrice: "50123.45",
		High:      "51000",
		Low:       "49000",
		Volume:    "12345.6",
		QuoteVol:  "617000000",
	}
	mark := &markPriceMessage{
		EventType:       "markPriceUpdate",
		Symbol:          "BTCUSDT",
		MarkPrice:       "50120.00",
		IndexPrice:      "50118.50",
		FundingRate:     "0.0001",
		NextFundingTime: 1700028800000,
	}

	ticker, err := normalizeTicker(msg, mark, "BTC-USDT-PERP")
	require.NoError(t, err)

	assert.Equal(t, "BTC-USDT-PERP", ticker.Instrument)
	assert.True(t, ticker.LastPrice.Equal(decimal.RequireFromString("50123.45")))
	require.NotNil(t, ticker.MarkPrice)
	assert.True(t, ticker.MarkPrice.Equal(decimal.RequireFromString("50120.00")))
	require.NotNil(t, ticker.FundingRate)
	assert.True(t, ticker.FundingRate.Equal(decimal.RequireFromString("0.0001")))
	require.NotNil(t, ticker.NextFundingTime)
	assert.Equal(t, time.UnixMilli(1700028800000).UTC(), *ticker.NextFundingTime)
}

func TestNormalizeTicker_NoMark(t *testing.T) {
	msg := &tickerMessage{
		EventTime: 1700000001000,
		LastPrice: "3000.1",
		High:      "3100",
		Low:       "2900",
		Volume:    "10",
		QuoteVol:  "30000",
	}
	ticker, err := normalizeTicker(msg, nil, "ETH-USDT")
	require.NoError(t, err)
	assert.Nil(t, ticker.MarkPrice)
	assert.Nil(t, ticker.FundingRate)
	assert.Nil(t, ticker.NextFundingTime)
}

func TestParseLevels_DropsNothing(t *testing.T) {
	levels, err := parseLevels([][2]string{{"1.0", "0"}, {"2.0", "5"}})
	require.NoError(t, err)
	// zero-quantity removal happens at snapshot construction, not here
	assert.Len(t, levels, 2)
}
