package alerts

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/bitspectre/surveil/internal/kv"
	"github.com/bitspectre/surveil/internal/models"
)

// KVStore is the slice of the key-value client the alert store needs. It is
// authoritative for active-alert lookup.
type KVStore interface {
	SaveAlert(ctx context.Context, alert *models.Alert) error
	MoveAlertPriority(ctx context.Context, alertID string, from, to models.AlertPriority) error
	GetAlert(ctx context.Context, alertID string) (*models.Alert, error)
	GetActiveAlerts(ctx context.Context) ([]*models.Alert, error)
	GetAlertsByPriority(ctx context.Context, p models.AlertPriority) ([]*models.Alert, error)
	GetAlertsByInstrument(ctx context.Context, instrument string) ([]*models.Alert, error)
	Publish(ctx context.Context, channel string, env kv.UpdateEnvelope) error
}

// TSDBStore is the slice of the time-series client the alert store needs. It
// is authoritative for historical audit.
type TSDBStore interface {
	UpsertAlert(ctx context.Context, alert *models.Alert) error
}

// Store writes alerts to both stores. The KV write is critical: a creation
// that cannot reach the KV store fails. The TSDB upsert retries internally
// and, when still failing, is logged without failing the transition, since
// the audit row will be overwritten by the next state change.
type Store struct {
	kv   KVStore
	tsdb TSDBStore
}

// NewStore wires the dual-store alert persistence.
func NewStore(kvStore KVStore, tsdbStore TSDBStore) *Store {
	return &Store{kv: kvStore, tsdb: tsdbStore}
}

// Save writes the alert to both stores and publishes the lifecycle event.
func (s *Store) Save(ctx context.Context, alert *models.Alert, event string) error {
	if err := s.kv.SaveAlert(ctx, alert); err != nil {
		return fmt.Errorf("save alert %s to kv: %w", alert.AlertID, err)
	}

	if err := s.tsdb.UpsertAlert(ctx, alert); err != nil {
		log.Error().Str("alert_id", alert.AlertID).Err(err).
			Msg("alert audit upsert failed, kv state is current")
	}

	env := kv.UpdateEnvelope{
		Venue:      alert.Venue,
		Instrument: alert.Instrument,
		AlertID:    alert.AlertID,
		AlertType:  alert.AlertType,
		Priority:   string(alert.Priority),
		Event:      event,
	}
	if err := s.kv.Publish(ctx, kv.ChannelAlerts, env); err != nil {
		log.Warn().Str("alert_id", alert.AlertID).Err(err).Msg("alert publish failed")
	}
	return nil
}

// UpdateResolution transitions the alert out of the active state in both
// stores and drops it from the active indexes.
func (s *Store) UpdateResolution(ctx context.Context, alert *models.Alert, at time.Time, rt models.ResolutionType, value *decimal.Decimal) error {
	if err := alert.Resolve(at, rt, value); err != nil {
		return err
	}
	return s.Save(ctx, alert, "resolved")
}

// UpdateEscalation promotes the alert and moves it between priority indexes.
func (s *Store) UpdateEscalation(ctx context.Context, alert *models.Alert, to models.AlertPriority, at time.Time) error {
	from := alert.Priority
	if err := alert.Escalate(to, at); err != nil {
		return err
	}
	if err := s.kv.MoveAlertPriority(ctx, alert.AlertID, from, to); err != nil {
		return fmt.Errorf("move alert %s priority: %w", alert.AlertID, err)
	}
	return s.Save(ctx, alert, "escalated")
}

// UpdatePeak persists a peak change. No-op when the observation is not more
// extreme under the alert's condition direction.
func (s *Store) UpdatePeak(ctx context.Context, alert *models.Alert, value decimal.Decimal, at time.Time) error {
	if !alert.UpdatePeak(value, at) {
		return nil
	}
	return s.Save(ctx, alert, "peak_updated")
}

// GetActiveAlerts returns every active alert.
func (s *Store) GetActiveAlerts(ctx context.Context) ([]*models.Alert, error) {
	return s.kv.GetActiveAlerts(ctx)
}

// GetAlertsByPriority returns the active alerts at one priority.
func (s *Store) GetAlertsByPriority(ctx context.Context, p models.AlertPriority) ([]*models.Alert, error) {
	return s.kv.GetAlertsByPriority(ctx, p)
}

// GetAlertsByInstrument returns the active alerts on one instrument.
func (s *Store) GetAlertsByInstrument(ctx context.Context, instrument string) ([]*models.Alert, error) {
	return s.kv.GetAlertsByInstrument(ctx, instrument)
}

// GetAlertsForEscalationCheck returns active P2 alerts older than threshold
// that have not been escalated yet.
func (s *Store) GetAlertsForEscalationCheck(ctx context.Context, threshold time.Duration, now time.Time) ([]*models.Alert, error) {
	candidates, err := s.kv.GetAlertsByPriority(ctx, models.PriorityP2)
	if err != nil {
		return nil, err
	}
	var due []*models.Alert
	for _, a := range candidates {
		if a.IsActive() && !a.Escalated && now.Sub(a.TriggeredAt) > threshold {
			due = append(due, a)
		}
	}
	return due, nil
}
