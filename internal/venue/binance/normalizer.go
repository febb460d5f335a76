package binance

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/bitspectre/surveil/internal/models"
)

// futuresDepthMessage is the futures diff-depth stream payload. The symbol
// travels in the message, and "u" is the venue's monotone final update id.
type futuresDepthMessage struct {
	EventType string      `json:"e"`
	EventTime int64       `json:"E"`
	Symbol    string      `json:"s"`
	FinalID   int64       `json:"u"`
	Bids      [][2]string `json:"b"`
	Asks      [][2]string `json:"a"`
}

// spotDepthMessage is the spot partial-depth payload. No symbol and no server
// timestamp: the instrument comes from the subscription context and local
// receipt time stands in for event time.
type spotDepthMessage struct {
	LastUpdateID int64       `json:"lastUpdateId"`
	Bids         [][2]string `json:"bids"`
	Asks         [][2]string `json:"asks"`
}

// tickerMessage is the 24hr rolling ticker stream payload.
type tickerMessage struct {
	EventType string `json:"e"`
	EventTime int64  `json:"E"`
	Symbol    string `json:"s"`
	LastPrice string `json:"c"`
	High      string `json:"h"`
	Low       string `json:"l"`
	Volume    string `json:"v"`
	QuoteVol  string `json:"q"`
}

// markPriceMessage is the futures mark-price stream payload.
type markPriceMessage struct {
	EventType       string `json:"e"`
	Symbol          string `json:"s"`
	MarkPrice       string `json:"p"`
	IndexPrice      string `json:"i"`
	FundingRate     string `json:"r"`
	NextFundingTime int64  `json:"T"`
}

func parseLevels(raw [][2]string) ([]models.PriceLevel, error) {
	out := make([]models.PriceLevel, 0, len(raw))
	for _, pair := range raw {
		price, err := decimal.NewFromString(pair[0])
		if err != nil {
			return nil, fmt.Errorf("bad price %q: %w", pair[0], err)
		}
		qty, err := decimal.NewFromString(pair[1])
		if err != nil {
			return nil, fmt.Errorf("bad quantity %q: %w", pair[1], err)
		}
		out = append(out, models.PriceLevel{Price: price, Quantity: qty})
	}
	return out, nil
}

// normalizeFuturesDepth converts one futures diff-depth message. instrument
// is the canonical id resolved from the message symbol.
func normalizeFuturesDepth(data []byte, instrument string) (*models.OrderBookSnapshot, error) {
	var msg futuresDepthMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("parse futures depth: %w", err)
	}
	if msg.EventType != "depthUpdate" {
		return nil, fmt.Errorf("unexpected event type %q", msg.EventType)
	}

	bids, err := parseLevels(msg.Bids)
	if err != nil {
		return nil, fmt.Errorf("futures bids: %w", err)
	}
	asks, err := parseLevels(msg.Asks)
	if err != nil {
		return nil, fmt.Errorf("futures asks: %w", err)
	}

	ts := time.UnixMilli(msg.EventTime).UTC()
	return models.NewOrderBookSnapshot("binance", instrument, ts, time.Now().UTC(), msg.FinalID, bids, asks)
}

// normalizeSpotDepth converts one spot partial-depth message for the
// instrument the subscription was opened for.
func normalizeSpotDepth(data []byte, instrument string) (*models.OrderBookSnapshot, error) {
	var msg spotDepthMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("parse spot depth: %w", err)
	}
	if msg.LastUpdateID == 0 && len(msg.Bids) == 0 && len(msg.Asks) == 0 {
		return nil, fmt.Errorf("empty spot depth message")
	}

	bids, err := parseLevels(msg.Bids)
	if err != nil {
		return nil, fmt.Errorf("spot bids: %w", err)
	}
	asks, err := parseLevels(msg.Asks)
	if err != nil {
		return nil, fmt.Errorf("spot asks: %w", err)
	}

	now := time.Now().UTC()
	return models.NewOrderBookSnapshot("binance", instrument, now, now, msg.LastUpdateID, bids, asks)
}

// normalizeTicker converts one 24hr ticker message, merging in the latest
// mark-price data when the instrument has one.
func normalizeTicker(msg *tickerMessage, mark *markPriceMessage, instrument string) (*models.TickerSnapshot, error) {
	last, err := decimal.NewFromString(msg.LastPrice)
	if err != nil {
		return nil, fmt.Errorf("bad last price %q: %w", msg.LastPrice, err)
	}
	high, err := decimal.NewFromString(msg.High)
	if err != nil {
		return nil, fmt.Errorf("bad high %q: %w", msg.High, err)
	}
	low, err := decimal.NewFromString(msg.Low)
	if err != nil {
		return nil, fmt.Errorf("bad low %q: %w", msg.Low, err)
	}
	vol, err := decimal.NewFromString(msg.Volume)
	if err != nil {
		return nil, fmt.Errorf("bad volume %q: %w", msg.Volume, err)
	}
	quoteVol, err := decimal.NewFromString(msg.QuoteVol)
	if err != nil {
		return nil, fmt.Errorf("bad quote volume %q: %w", msg.QuoteVol, err)
	}

	ticker := &models.TickerSnapshot{
		Venue:        "binance",
		Instrument:   instrument,
		Timestamp:    time.UnixMilli(msg.EventTime).UTC(),
		LastPrice:    last,
		High24h:      high,
		Low24h:       low,
		Volume24h:    vol,
		Volume24hUSD: quoteVol,
	}

	if mark != nil {
		markPx, err := decimal.NewFromString(mark.MarkPrice)
		if err != nil {
			return nil, fmt.Errorf("bad mark price %q: %w", mark.MarkPrice, err)
		}
		indexPx, err := decimal.NewFromString(mark.IndexPrice)
		if err != nil {
			return nil, fmt.Errorf("bad index price %q: %w", mark.IndexPrice, err)
		}
		funding, err := decimal.NewFromString(mark.FundingRate)
		if err != nil {
			return nil, fmt.Errorf("bad funding rate %q: %w", mark.FundingRate, err)
		}
		ticker.MarkPrice = &markPx
		ticker.IndexPrice = &indexPx
		ticker.FundingRate = &funding
		if mark.NextFundingTime > 0 {
			t := time.UnixMilli(mark.NextFundingTime).UTC()
			ticker.NextFundingTime = &t
		}
	}

	return ticker, nil
}
