package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// TickerSnapshot is the normalized ticker/mark-price view of an instrument.
// Mark, index and funding fields are present only for derivatives.
type TickerSnapshot struct {
	Venue      string    `json:"venue"`
	Instrument string    `json:"instrument"`
	Timestamp  time.Time `json:"timestamp"`

	LastPrice    decimal.Decimal  `json:"last_price"`
	MarkPrice    *decimal.Decimal `json:"mark_price,omitempty"`
	IndexPrice   *decimal.Decimal `json:"index_price,omitempty"`
	Volume24h    decimal.Decimal  `json:"volume_24h"`
	Volume24hUSD decimal.Decimal  `json:"volume_24h_usd"`
	High24h      decimal.Decimal  `json:"high_24h"`
	Low24h       decimal.Decimal  `json:"low_24h"`

	FundingRate     *decimal.Decimal `json:"funding_rate,omitempty"`
	NextFundingTime *time.Time       `json:"next_funding_time,omitempty"`
}
