package tsdb

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// MetricRow is one scalar metric observation.
type MetricRow struct {
	MetricName string
	Venue      string
	Instrument string
	Timestamp  time.Time
	Value      decimal.Decimal
	ZScore     *decimal.Decimal
}

// BasisRow is one basis observation linking the perp and spot legs.
type BasisRow struct {
	PerpInstrument string
	SpotInstrument string
	Venue          string
	Timestamp      time.Time
	PerpMid        decimal.Decimal
	SpotMid        decimal.Decimal
	BasisAbs       decimal.Decimal
	BasisBps       decimal.Decimal
	ZScore         *decimal.Decimal
}

// InsertMetrics writes a batch of metric rows in one transaction.
func (c *Client) InsertMetrics(ctx context.Context, rows []MetricRow) error {
	if len(rows) == 0 {
		return nil
	}
	return withRetry(ctx, "insert_metrics", func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, c.timeout)
		defer cancel()

		tx, err := c.db.BeginTxx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin: %w", err)
		}
		defer tx.Rollback()

		stmt, err := tx.PreparexContext(ctx, `
			INSERT INTO metrics (metric_name, venue, instrument, timestamp, value, zscore)
			VALUES ($1, $2, $3, $4, $5, $6)`)
		if err != nil {
			return fmt.Errorf("prepare: %w", err)
		}
		defer stmt.Close()

		for _, r := range rows {
			if _, err := stmt.ExecContext(ctx,
				r.MetricName, r.Venue, r.Instrument, r.Timestamp, r.Value, r.ZScore,
			); err != nil {
				return fmt.Errorf("insert metric %s %s/%s: %w", r.MetricName, r.Venue, r.Instrument, err)
			}
		}
		return tx.Commit()
	})
}

// InsertBasisMetrics writes a batch of basis rows in one transaction.
func (c *Client) InsertBasisMetrics(ctx context.Context, rows []BasisRow) error {
	if len(rows) == 0 {
		return nil
	}
	return withRetry(ctx, "insert_basis_metrics", func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, c.timeout)
		defer cancel()

		tx, err := c.db.BeginTxx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin: %w", err)
		}
		defer tx.Rollback()

		stmt, err := tx.PreparexContext(ctx, `
			INSERT INTO basis_metrics (
				perp_instrument, spot_instrument, venue, timestamp,
				perp_mid, spot_mid, basis_abs, basis_bps, zscore
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`)
		if err != nil {
			return fmt.Errorf("prepare: %w", err)
		}
		defer stmt.Close()

		for _, r := range rows {
			if _, err := stmt.ExecContext(ctx,
				r.PerpInstrument, r.SpotInstrument, r.Venue, r.Timestamp,
				r.PerpMid, r.SpotMid, r.BasisAbs, r.BasisBps, r.ZScore,
			); err != nil {
				return fmt.Errorf("insert basis %s/%s: %w", r.Venue, r.PerpInstrument, err)
			}
		}
		return tx.Commit()
	})
}
