package tsdb

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/bitspectre/surveil/internal/models"
)

// UpsertAlert writes the alert's full state, keyed by alert_id so lifecycle
// transitions overwrite in place. The audit table always shows the latest
// state of each alert.
func (c *Client) UpsertAlert(ctx context.Context, alert *models.Alert) error {
	contextJSON, err := json.Marshal(alert.Context)
	if err != nil {
		return fmt.Errorf("marshal alert context: %w", err)
	}

	return withRetry(ctx, "upsert_alert", func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, c.timeout)
		defer cancel()

		_, err := c.db.ExecContext(ctx, `
			INSERT INTO alerts (
				alert_id, alert_type, priority, severity, venue, instrument,
				trigger_metric, trigger_value, trigger_threshold, trigger_condition,
				zscore_value, zscore_threshold,
				triggered_at, acknowledged_at, resolved_at, duration_seconds,
				peak_value, peak_at,
				escalated, escalated_at, original_priority,
				context, resolution_type, resolution_value, updated_at
			) VALUES (
				$1, $2, $3, $4, $5, $6,
				$7, $8, $9, $10,
				$11, $12,
				$13, $14, $15, $16,
				$17, $18,
				$19, $20, $21,
				$22, $23, $24, NOW()
			)
			ON CONFLICT (alert_id) DO UPDATE SET
				priority = EXCLUDED.priority,
				acknowledged_at = EXCLUDED.acknowledged_at,
				resolved_at = EXCLUDED.resolved_at,
				duration_seconds = EXCLUDED.duration_seconds,
				peak_value = EXCLUDED.peak_value,
				peak_at = EXCLUDED.peak_at,
				escalated = EXCLUDED.escalated,
				escalated_at = EXCLUDED.escalated_at,
				original_priority = EXCLUDED.original_priority,
				resolution_type = EXCLUDED.resolution_type,
				resolution_value = EXCLUDED.resolution_value,
				updated_at = NOW()`,
			alert.AlertID, alert.AlertType, alert.Priority, alert.Severity, alert.Venue, alert.Instrument,
			alert.TriggerMetric, alert.TriggerValue, alert.TriggerThreshold, alert.TriggerCondition,
			alert.ZScoreValue, alert.ZScoreThreshold,
			alert.TriggeredAt, alert.AcknowledgedAt, alert.ResolvedAt, alert.DurationSeconds,
			alert.PeakValue, alert.PeakAt,
			alert.Escalated, alert.EscalatedAt, alert.OriginalPriority,
			contextJSON, alert.ResolutionType, alert.ResolutionValue,
		)
		if err != nil {
			return fmt.Errorf("upsert alert %s: %w", alert.AlertID, err)
		}
		return nil
	})
}
