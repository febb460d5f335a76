package tsdb

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/bitspectre/surveil/internal/models"
)

// SnapshotRow is the denormalized order_book_snapshots row: the raw book as
// JSON plus the headline numbers so time-range queries avoid JSON parsing.
type SnapshotRow struct {
	Venue          string
	Instrument     string
	Timestamp      time.Time
	LocalTimestamp time.Time
	SequenceID     int64

	BestBid   decimal.Decimal
	BestAsk   decimal.Decimal
	MidPrice  decimal.Decimal
	SpreadAbs decimal.Decimal
	SpreadBps decimal.Decimal

	Depth models.DepthMetrics

	BidsJSON []byte
	AsksJSON []byte
}

// NewSnapshotRow builds a row from a snapshot and its computed depth metrics.
// The snapshot must have both sides populated.
func NewSnapshotRow(s *models.OrderBookSnapshot, depth *models.DepthMetrics) (*SnapshotRow, error) {
	if !s.IsValid() {
		return nil, fmt.Errorf("snapshot %s/%s has an empty side", s.Venue, s.Instrument)
	}

	bid, _ := s.BestBid()
	ask, _ := s.BestAsk()
	mid, _ := s.MidPrice()
	spreadBps, _ := s.SpreadBps()

	bidsJSON, err := json.Marshal(s.Bids)
	if err != nil {
		return nil, fmt.Errorf("marshal bids: %w", err)
	}
	asksJSON, err := json.Marshal(s.Asks)
	if err != nil {
		return nil, fmt.Errorf("marshal asks: %w", err)
	}

	return &SnapshotRow{
		Venue:          s.Venue,
		Instrument:     s.Instrument,
		Timestamp:      s.Timestamp,
		LocalTimestamp: s.LocalTimestamp,
		SequenceID:     s.SequenceID,
		BestBid:        bid,
		BestAsk:        ask,
		MidPrice:       mid,
		SpreadAbs:      ask.Sub(bid),
		SpreadBps:      spreadBps,
		Depth:          *depth,
		BidsJSON:       bidsJSON,
		AsksJSON:       asksJSON,
	}, nil
}

const insertSnapshotSQL = `
	INSERT INTO order_book_snapshots (
		venue, instrument, timestamp, local_timestamp, sequence_id,
		best_bid, best_ask, mid_price, spread_abs, spread_bps,
		depth_5bps_bid, depth_5bps_ask, depth_5bps_total,
		depth_10bps_bid, depth_10bps_ask, depth_10bps_total,
		depth_25bps_bid, depth_25bps_ask, depth_25bps_total,
		imbalance, bids_json, asks_json
	) VALUES (
		$1, $2, $3, $4, $5,
		$6, $7, $8, $9, $10,
		$11, $12, $13,
		$14, $15, $16,
		$17, $18, $19,
		$20, $21, $22
	)`

// InsertSnapshots writes a batch of snapshot rows in one transaction.
func (c *Client) InsertSnapshots(ctx context.Context, rows []*SnapshotRow) error {
	if len(rows) == 0 {
		return nil
	}
	return withRetry(ctx, "insert_snapshots", func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, c.timeout)
		defer cancel()

		tx, err := c.db.BeginTxx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin: %w", err)
		}
		defer tx.Rollback()

		stmt, err := tx.PreparexContext(ctx, insertSnapshotSQL)
		if err != nil {
			return fmt.Errorf("prepare: %w", err)
		}
		defer stmt.Close()

		for _, r := range rows {
			_, err := stmt.ExecContext(ctx,
				r.Venue, r.Instrument, r.Timestamp, r.LocalTimestamp, r.SequenceID,
				r.BestBid, r.BestAsk, r.MidPrice, r.SpreadAbs, r.SpreadBps,
				r.Depth.Depth5BpsBid, r.Depth.Depth5BpsAsk, r.Depth.Depth5BpsTotal,
				r.Depth.Depth10BpsBid, r.Depth.Depth10BpsAsk, r.Depth.Depth10BpsTotal,
				r.Depth.Depth25BpsBid, r.Depth.Depth25BpsAsk, r.Depth.Depth25BpsTotal,
				r.Depth.Imbalance, r.BidsJSON, r.AsksJSON,
			)
			if err != nil {
				return fmt.Errorf("insert snapshot %s/%s: %w", r.Venue, r.Instrument, err)
			}
		}
		return tx.Commit()
	})
}
