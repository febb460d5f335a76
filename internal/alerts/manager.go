package alerts

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/bitspectre/surveil/internal/config"
	"github.com/bitspectre/surveil/internal/models"
	"github.com/bitspectre/surveil/internal/telemetry"
)

const (
	defaultEscalationAfter = 300 * time.Second
	// EscalationCheckInterval is the cadence of the escalation scan.
	EscalationCheckInterval = 30 * time.Second
)

// Manager owns the alert lifecycle: evaluation, persistence gating,
// throttling, deduplication, auto-resolution and escalation. ProcessMetrics
// is serialized by the caller's single subscriber loop; the escalation loop
// runs concurrently, so internal state is still locked.
type Manager struct {
	cfg         config.AlertsConfig
	store       *Store
	dispatcher  *Dispatcher
	persistence *PersistenceTracker

	mu        sync.Mutex
	lastFired map[string]time.Time
	active    map[string]*models.Alert
}

// NewManager wires the lifecycle engine.
func NewManager(cfg config.AlertsConfig, store *Store, dispatcher *Dispatcher) *Manager {
	return &Manager{
		cfg:         cfg,
		store:       store,
		dispatcher:  dispatcher,
		persistence: NewPersistenceTracker(),
		lastFired:   make(map[string]time.Time),
		active:      make(map[string]*models.Alert),
	}
}

// LoadActiveAlerts seeds the in-memory dedup state from the KV store, so a
// restart does not double-fire conditions that are already active.
func (m *Manager) LoadActiveAlerts(ctx context.Context) error {
	alerts, err := m.store.GetActiveAlerts(ctx)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range alerts {
		key := a.ConditionKey()
		m.active[key] = a
		m.lastFired[key] = a.TriggeredAt
	}
	log.Info().Int("count", len(alerts)).Msg("loaded active alerts")
	return nil
}

func (m *Manager) throttleWindow(def config.AlertDefinition) time.Duration {
	secs := def.ThrottleSeconds
	if secs <= 0 {
		secs = m.cfg.Global.ThrottleSeconds
	}
	return time.Duration(secs) * time.Second
}

// ProcessMetrics runs the per-tick lifecycle flow for one instrument's
// metrics record. Store failures on creation drop that alert and are
// surfaced in the log; the tick continues with the remaining definitions.
func (m *Manager) ProcessMetrics(ctx context.Context, venue, instrument string, metrics *models.AggregatedMetrics, now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	currentConditions := make(map[string]struct{})

	for alertType, def := range m.cfg.Definitions {
		threshold, ok := m.cfg.Threshold(instrument, alertType)
		if !ok {
			continue
		}
		value, zscore, ok := metrics.MetricValue(def.Metric)
		if !ok {
			continue
		}

		key := models.ConditionKey(alertType, instrument, venue)
		result := Evaluate(def, value, zscore, threshold)

		// persistence accumulates or resets on the raw trigger, before any
		// throttle or dedup gating
		m.persistence.Track(key, result.Triggered, now)

		if !result.Triggered {
			if result.SkipReason != SkipNone {
				telemetry.EvaluationSkips.WithLabelValues(string(result.SkipReason)).Inc()
				log.Debug().Str("condition", key).Str("reason", string(result.SkipReason)).
					Msg("alert evaluation skipped")
			}
			continue
		}
		currentConditions[key] = struct{}{}

		if def.PersistenceSeconds > 0 && !m.persistence.IsMet(key, def.PersistenceSeconds, now) {
			telemetry.EvaluationSkips.WithLabelValues(string(SkipPersistence)).Inc()
			continue
		}

		// an already-active condition updates its peak; throttle only gates
		// creation of new alerts
		if existing, ok := m.active[key]; ok {
			if err := m.store.UpdatePeak(ctx, existing, value, now); err != nil {
				log.Error().Str("alert_id", existing.AlertID).Err(err).Msg("peak update failed")
			}
			continue
		}

		if fired, ok := m.lastFired[key]; ok && now.Sub(fired) < m.throttleWindow(def) {
			telemetry.EvaluationSkips.WithLabelValues(string(SkipThrottled)).Inc()
			log.Debug().Str("condition", key).Msg("alert throttled")
			continue
		}

		m.createAlert(ctx, alertType, def, result, venue, instrument, key, now)
	}

	m.resolveCleared(ctx, venue, instrument, metrics, currentConditions, now)
}

func (m *Manager) createAlert(ctx context.Context, alertType string, def config.AlertDefinition, result Result, venue, instrument, key string, now time.Time) {
	alert, err := models.NewAlert(alertType, result.Priority, result.Severity,
		venue, instrument, def.Metric, result.Value, result.Threshold, def.Condition, now)
	if err != nil {
		log.Error().Str("condition", key).Err(err).Msg("alert construction failed")
		return
	}
	alert.ZScoreValue = result.ZScore
	alert.ZScoreThreshold = result.ZScoreThreshold

	if err := m.store.Save(ctx, alert, "triggered"); err != nil {
		log.Error().Str("condition", key).Err(err).Msg("alert creation failed, condition stays armed")
		return
	}

	m.lastFired[key] = now
	m.active[key] = alert
	m.persistence.Clear(key)

	telemetry.AlertsFired.WithLabelValues(alertType, string(alert.Priority)).Inc()
	telemetry.ActiveAlerts.WithLabelValues(string(alert.Priority)).Inc()
	m.dispatcher.Dispatch(ctx, alert)

	log.Warn().
		Str("alert_id", alert.AlertID).
		Str("condition", key).
		Str("priority", string(alert.Priority)).
		Str("value", alert.TriggerValue.String()).
		Msg("alert fired")
}

// resolveCleared auto-resolves active alerts on this venue+instrument whose
// condition did not hold this tick. Alerts on other venues and instruments
// are untouched; their own ticks decide their fate.
func (m *Manager) resolveCleared(ctx context.Context, venue, instrument string, metrics *models.AggregatedMetrics, current map[string]struct{}, now time.Time) {
	if !m.cfg.Global.AutoResolve {
		return
	}

	for key, alert := range m.active {
		if alert.Venue != venue || alert.Instrument != instrument {
			continue
		}
		if _, stillMet := current[key]; stillMet {
			continue
		}

		var resolutionValue *decimal.Decimal
		if v, _, ok := metrics.MetricValue(alert.TriggerMetric); ok {
			resolutionValue = &v
		}

		if err := m.store.UpdateResolution(ctx, alert, now, models.ResolutionAuto, resolutionValue); err != nil {
			log.Error().Str("alert_id", alert.AlertID).Err(err).Msg("auto-resolve failed")
			continue
		}
		delete(m.active, key)

		telemetry.AlertsResolved.WithLabelValues(alert.AlertType, string(models.ResolutionAuto)).Inc()
		telemetry.ActiveAlerts.WithLabelValues(string(alert.Priority)).Dec()
		m.dispatcher.DispatchResolution(ctx, alert)

		log.Info().
			Str("alert_id", alert.AlertID).
			Str("condition", key).
			Int64("duration_seconds", *alert.DurationSeconds).
			Msg("alert auto-resolved")
	}
}

// escalationRule returns the promotion target and age threshold for P2.
func (m *Manager) escalationRule() (models.AlertPriority, time.Duration) {
	to := models.PriorityP1
	after := defaultEscalationAfter
	if p, ok := m.cfg.Priorities[models.PriorityP2]; ok && p.Escalation != nil {
		if p.Escalation.To != "" {
			to = p.Escalation.To
		}
		if p.Escalation.AfterSeconds > 0 {
			after = time.Duration(p.Escalation.AfterSeconds) * time.Second
		}
	}
	return to, after
}

// EscalateOverdue promotes active P2 alerts older than the escalation
// threshold. Called by the periodic escalation loop.
func (m *Manager) EscalateOverdue(ctx context.Context, now time.Time) {
	to, after := m.escalationRule()

	m.mu.Lock()
	defer m.mu.Unlock()

	for key, alert := range m.active {
		if alert.Priority != models.PriorityP2 || alert.Escalated {
			continue
		}
		if now.Sub(alert.TriggeredAt) <= after {
			continue
		}

		from := alert.Priority
		if err := m.store.UpdateEscalation(ctx, alert, to, now); err != nil {
			log.Error().Str("alert_id", alert.AlertID).Err(err).Msg("escalation failed")
			continue
		}

		telemetry.AlertsEscalated.WithLabelValues(alert.AlertType).Inc()
		telemetry.ActiveAlerts.WithLabelValues(string(from)).Dec()
		telemetry.ActiveAlerts.WithLabelValues(string(to)).Inc()
		m.dispatcher.DispatchEscalation(ctx, alert)

		log.Warn().
			Str("alert_id", alert.AlertID).
			Str("condition", key).
			Str("from", string(from)).
			Str("to", string(to)).
			Msg("alert escalated")
	}
}

// RunEscalationLoop runs EscalateOverdue on a ticker until ctx ends.
func (m *Manager) RunEscalationLoop(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = EscalationCheckInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			m.EscalateOverdue(ctx, now.UTC())
		}
	}
}
