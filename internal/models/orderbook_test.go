package models

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func lvl(price, qty string) PriceLevel {
	return PriceLevel{Price: dec(price), Quantity: dec(qty)}
}

func TestNewOrderBookSnapshot_SortsAndDropsZeroQuantity(t *testing.T) {
	now := time.Now().UTC()
	bids := []PriceLevel{
		lvl("49990", "1"),
		lvl("50000", "2"),
		lvl("49995", "0"),
	}
	asks := []PriceLevel{
		lvl("50010", "0.5"),
		lvl("50005", "1"),
	}

	snap, err := NewOrderBookSnapshot("binance", "BTC-USDT-PERP", now, now, 100, bids, asks)
	require.NoError(t, err)

	require.Len(t, snap.Bids, 2)
	assert.True(t, snap.Bids[0].Price.Equal(dec("50000")))
	assert.True(t, snap.Bids[1].Price.Equal(dec("49990")))
	assert.True(t, snap.Asks[0].Price.Equal(dec("50005")))
	assert.Equal(t, 2, snap.DepthLevels)
}

func TestNewOrderBookSnapshot_RejectsCrossedBook(t *testing.T) {
	now := time.Now().UTC()
	_, err := NewOrderBookSnapshot("okx", "BTC-USDT-SPOT", now, now, 1,
		[]PriceLevel{lvl("50010", "1")},
		[]PriceLevel{lvl("50005", "1")},
	)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "crossed book")
}

func TestNewOrderBookSnapshot_RejectsDuplicatePriceLevels(t *testing.T) {
	now := time.Now().UTC()
	_, err := NewOrderBookSnapshot("binance", "BTC-USDT-PERP", now, now, 1,
		[]PriceLevel{lvl("50000", "1"), lvl("50000", "2")},
		[]PriceLevel{lvl("50010", "1")},
	)
	require.Error(t, err)
}

func TestNewOrderBookSnapshot_OneSidedBookAllowed(t *testing.T) {
	now := time.Now().UTC()
	snap, err := NewOrderBookSnapshot("binance", "BTC-USDT-PERP", now, now, 1,
		[]PriceLevel{lvl("50000", "1")}, nil)
	require.NoError(t, err)

	assert.False(t, snap.IsValid())
	_, ok := snap.MidPrice()
	assert.False(t, ok)
	_, ok = snap.BestAsk()
	assert.False(t, ok)
}

func TestOrderBookSnapshot_MidAndSpread(t *testing.T) {
	now := time.Now().UTC()
	snap, err := NewOrderBookSnapshot("binance", "BTC-USDT-PERP", now, now, 1,
		[]PriceLevel{lvl("50000.50", "1")},
		[]PriceLevel{lvl("50000.75", "0.5")},
	)
	require.NoError(t, err)

	mid, ok := snap.MidPrice()
	require.True(t, ok)
	assert.True(t, mid.Equal(dec("50000.625")))

	spread, ok := snap.SpreadBps()
	require.True(t, ok)
	// (0.25 / 50000.625) * 10000
	expected := dec("0.25").Div(dec("50000.625")).Mul(dec("10000"))
	assert.True(t, spread.Equal(expected))
}

func TestNewPriceLevel_RejectsNegatives(t *testing.T) {
	_, err := NewPriceLevel(dec("-1"), dec("1"))
	assert.Error(t, err)
	_, err = NewPriceLevel(dec("1"), dec("-1"))
	assert.Error(t, err)
}

func TestPriceLevel_Notional(t *testing.T) {
	l := lvl("50000", "0.25")
	assert.True(t, l.Notional().Equal(dec("12500")))
}
