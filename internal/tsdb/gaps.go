package tsdb

import (
	"context"
	"fmt"
	"time"

	"github.com/bitspectre/surveil/internal/models"
)

// InsertGapMarker records one data discontinuity.
func (c *Client) InsertGapMarker(ctx context.Context, gap *models.GapMarker) error {
	return withRetry(ctx, "insert_gap_marker", func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, c.timeout)
		defer cancel()

		_, err := c.db.ExecContext(ctx, `
			INSERT INTO data_gaps (
				venue, instrument, gap_start, gap_end, duration_seconds,
				reason, sequence_id_before, sequence_id_after
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			gap.Venue, gap.Instrument, gap.GapStart, gap.GapEnd, gap.DurationSeconds,
			gap.Reason, gap.SequenceIDBefore, gap.SequenceIDAfter,
		)
		if err != nil {
			return fmt.Errorf("insert gap %s/%s: %w", gap.Venue, gap.Instrument, err)
		}
		return nil
	})
}

// CountGapsSince returns the number of gaps recorded for a venue after the
// cutoff. Drives the degraded-health predicate.
func (c *Client) CountGapsSince(ctx context.Context, venue string, since time.Time) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var count int
	err := c.db.GetContext(ctx, &count,
		`SELECT COUNT(*) FROM data_gaps WHERE venue = $1 AND gap_start >= $2`,
		venue, since,
	)
	if err != nil {
		return 0, fmt.Errorf("count gaps for %s: %w", venue, err)
	}
	return count, nil
}
