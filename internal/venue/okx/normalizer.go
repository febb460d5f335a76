package okx

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/bitspectre/surveil/internal/models"
)

// streamMessage is the envelope OKX wraps around every push on the public
// stream. The channel and instId in arg route the payload; data carries one or
// more events of the channel's shape.
type streamMessage struct {
	Event string `json:"event"`
	Arg   struct {
		Channel string `json:"channel"`
		InstID  string `json:"instId"`
	} `json:"arg"`
	Data []json.RawMessage `json:"data"`
}

// bookData is one books-channel event. Levels are 4-element arrays of
// [price, quantity, deprecated, numOrders]; only the first two matter here.
type bookData struct {
	Asks  [][4]string `json:"asks"`
	Bids  [][4]string `json:"bids"`
	TS    string      `json:"ts"`
	SeqID int64       `json:"seqId"`
}

// tickerData is one tickers-channel event.
type tickerData struct {
	Last    string `json:"last"`
	High24h string `json:"high24h"`
	Low24h  string `json:"low24h"`
	Vol24h  string `json:"vol24h"`
	VolCcy  string `json:"volCcy24h"`
	TS      string `json:"ts"`
}

// markPriceData is one mark-price-channel event.
type markPriceData struct {
	MarkPx string `json:"markPx"`
	TS     string `json:"ts"`
}

func parseLevels(raw [][4]string) ([]models.PriceLevel, error) {
	out := make([]models.PriceLevel, 0, len(raw))
	for _, lvl := range raw {
		price, err := decimal.NewFromString(lvl[0])
		if err != nil {
			return nil, fmt.Errorf("bad price %q: %w", lvl[0], err)
		}
		qty, err := decimal.NewFromString(lvl[1])
		if err != nil {
			return nil, fmt.Errorf("bad quantity %q: %w", lvl[1], err)
		}
		out = append(out, models.PriceLevel{Price: price, Quantity: qty})
	}
	return out, nil
}

func parseMillis(ts string) (time.Time, error) {
	ms, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("bad timestamp %q: %w", ts, err)
	}
	return time.UnixMilli(ms).UTC(), nil
}

// normalizeBook converts one books-channel event. instrument is the canonical
// id resolved from the envelope's instId.
func normalizeBook(raw json.RawMessage, instrument string) (*models.OrderBookSnapshot, error) {
	var data bookData
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("parse book data: %w", err)
	}

	bids, err := parseLevels(data.Bids)
	if err != nil {
		return nil, fmt.Errorf("bids: %w", err)
	}
	asks, err := parseLevels(data.Asks)
	if err != nil {
		return nil, fmt.Errorf("asks: %w", err)
	}
	ts, err := parseMillis(data.TS)
	if err != nil {
		return nil, err
	}

	return models.NewOrderBookSnapshot("okx", instrument, ts, time.Now().UTC(), data.SeqID, bids, asks)
}

// normalizeTicker converts one tickers-channel event, merging in the latest
// mark price when the instrument has one.
func normalizeTicker(raw json.RawMessage, mark *markPriceData, instrument string) (*models.TickerSnapshot, error) {
	var data tickerData
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("parse ticker data: %w", err)
	}

	last, err := decimal.NewFromString(data.Last)
	if err != nil {
		return nil, fmt.Errorf("bad last %q: %w", data.Last, err)
	}
	high, err := decimal.NewFromString(data.High24h)
	if err != nil {
		return nil, fmt.Errorf("bad high24h %q: %w", data.High24h, err)
	}
	low, err := decimal.NewFromString(data.Low24h)
	if err != nil {
		return nil, fmt.Errorf("bad low24h %q: %w", data.Low24h, err)
	}
	vol, err := decimal.NewFromString(data.Vol24h)
	if err != nil {
		return nil, fmt.Errorf("bad vol24h %q: %w", data.Vol24h, err)
	}
	volCcy, err := decimal.NewFromString(data.VolCcy)
	if err != nil {
		return nil, fmt.Errorf("bad volCcy24h %q: %w", data.VolCcy, err)
	}
	ts, err := parseMillis(data.TS)
	if err != nil {
		return nil, err
	}

	ticker := &models.TickerSnapshot{
		Venue:        "okx",
		Instrument:   instrument,
		Timestamp:    ts,
		LastPrice:    last,
		High24h:      high,
		Low24h:       low,
		Volume24h:    vol,
		Volume24hUSD: volCcy,
	}

	if mark != nil {
		markPx, err := decimal.NewFromString(mark.MarkPx)
		if err != nil {
			return nil, fmt.Errorf("bad markPx %q: %w", mark.MarkPx, err)
		}
		ticker.MarkPrice = &markPx
	}

	return ticker, nil
}
