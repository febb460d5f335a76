package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// AlertCondition is the comparison operator of an alert rule.
type AlertCondition string

const (
	ConditionGT    AlertCondition = "gt"
	ConditionLT    AlertCondition = "lt"
	ConditionAbsGT AlertCondition = "abs_gt"
	ConditionAbsLT AlertCondition = "abs_lt"
)

// Evaluate applies the operator to value against threshold.
func (c AlertCondition) Evaluate(value, threshold decimal.Decimal) bool {
	switch c {
	case ConditionGT:
		return value.GreaterThan(threshold)
	case ConditionLT:
		return value.LessThan(threshold)
	case ConditionAbsGT:
		return value.Abs().GreaterThan(threshold)
	case ConditionAbsLT:
		return value.Abs().LessThan(threshold)
	default:
		return false
	}
}

// IsUpward reports whether the condition fires on large magnitudes. It drives
// the peak replacement rule: upward conditions track the largest |value| seen,
// downward conditions the smallest.
func (c AlertCondition) IsUpward() bool {
	return c == ConditionGT || c == ConditionAbsGT
}

// Valid reports whether the operator is one of the four known conditions.
func (c AlertCondition) Valid() bool {
	switch c {
	case ConditionGT, ConditionLT, ConditionAbsGT, ConditionAbsLT:
		return true
	}
	return false
}

// AlertPriority orders operator attention. P1 is critical.
type AlertPriority string

const (
	PriorityP1 AlertPriority = "P1"
	PriorityP2 AlertPriority = "P2"
	PriorityP3 AlertPriority = "P3"
)

// AlertSeverity classifies impact independent of priority.
type AlertSeverity string

const (
	SeverityCritical AlertSeverity = "critical"
	SeverityWarning  AlertSeverity = "warning"
	SeverityInfo     AlertSeverity = "info"
)

// ResolutionType records how an alert left the active state.
type ResolutionType string

const (
	ResolutionAuto    ResolutionType = "auto"
	ResolutionManual  ResolutionType = "manual"
	ResolutionTimeout ResolutionType = "timeout"
)

// Alert is a lifecycle-managed anomaly record. It is owned by the alert
// service and mutated only through the documented transitions: UpdatePeak,
// Escalate, Resolve.
type Alert struct {
	AlertID   string        `json:"alert_id" db:"alert_id"`
	AlertType string        `json:"alert_type" db:"alert_type"`
	Priority  AlertPriority `json:"priority" db:"priority"`
	Severity  AlertSeverity `json:"severity" db:"severity"`

	Venue      string `json:"venue" db:"venue"`
	Instrument string `json:"instrument" db:"instrument"`

	TriggerMetric    string          `json:"trigger_metric" db:"trigger_metric"`
	TriggerValue     decimal.Decimal `json:"trigger_value" db:"trigger_value"`
	TriggerThreshold decimal.Decimal `json:"trigger_threshold" db:"trigger_threshold"`
	TriggerCondition AlertCondition  `json:"trigger_condition" db:"trigger_condition"`

	ZScoreValue     *decimal.Decimal `json:"zscore_value,omitempty" db:"zscore_value"`
	ZScoreThreshold *decimal.Decimal `json:"zscore_threshold,omitempty" db:"zscore_threshold"`

	TriggeredAt     time.Time  `json:"triggered_at" db:"triggered_at"`
	AcknowledgedAt  *time.Time `json:"acknowledged_at,omitempty" db:"acknowledged_at"`
	ResolvedAt      *time.Time `json:"resolved_at,omitempty" db:"resolved_at"`
	DurationSeconds *int64     `json:"duration_seconds,omitempty" db:"duration_seconds"`

	PeakValue decimal.Decimal `json:"peak_value" db:"peak_value"`
	PeakAt    time.Time       `json:"peak_at" db:"peak_at"`

	Escalated        bool           `json:"escalated" db:"escalated"`
	EscalatedAt      *time.Time     `json:"escalated_at,omitempty" db:"escalated_at"`
	OriginalPriority *AlertPriority `json:"original_priority,omitempty" db:"original_priority"`

	ResolutionType  *ResolutionType  `json:"resolution_type,omitempty" db:"resolution_type"`
	ResolutionValue *decimal.Decimal `json:"resolution_value,omitempty" db:"resolution_value"`

	Context map[string]string `json:"context,omitempty" db:"-"`
}

// NewAlert constructs an active alert with a fresh id. The initial peak is the
// trigger value.
func NewAlert(alertType string, priority AlertPriority, severity AlertSeverity, venue, instrument, metric string, value, threshold decimal.Decimal, condition AlertCondition, now time.Time) (*Alert, error) {
	if !condition.Valid() {
		return nil, fmt.Errorf("invalid alert condition: %q", condition)
	}
	if alertType == "" || venue == "" || instrument == "" {
		return nil, fmt.Errorf("alert_type, venue and instrument are required")
	}
	return &Alert{
		AlertID:          uuid.NewString(),
		AlertType:        alertType,
		Priority:         priority,
		Severity:         severity,
		Venue:            venue,
		Instrument:       instrument,
		TriggerMetric:    metric,
		TriggerValue:     value,
		TriggerThreshold: threshold,
		TriggerCondition: condition,
		TriggeredAt:      now,
		PeakValue:        value,
		PeakAt:           now,
	}, nil
}

// ConditionKey identifies the condition an alert watches:
// "alert_type:instrument:venue". Dedup, throttling and persistence all key on it.
func (a *Alert) ConditionKey() string {
	return ConditionKey(a.AlertType, a.Instrument, a.Venue)
}

// ConditionKey composes the canonical condition key.
func ConditionKey(alertType, instrument, venue string) string {
	return alertType + ":" + instrument + ":" + venue
}

// IsActive reports whether the alert has not been resolved.
func (a *Alert) IsActive() bool {
	return a.ResolvedAt == nil
}

// UpdatePeak replaces the peak when the new observation is more extreme under
// the condition's direction. Returns true when the peak changed.
func (a *Alert) UpdatePeak(value decimal.Decimal, at time.Time) bool {
	if a.TriggerCondition.IsUpward() {
		if value.Abs().GreaterThan(a.PeakValue.Abs()) {
			a.PeakValue = value
			a.PeakAt = at
			return true
		}
		return false
	}
	if value.Abs().LessThan(a.PeakValue.Abs()) {
		a.PeakValue = value
		a.PeakAt = at
		return true
	}
	return false
}

// Escalate promotes the alert to a higher priority, recording the original.
// Escalating an already-escalated or resolved alert is rejected.
func (a *Alert) Escalate(to AlertPriority, at time.Time) error {
	if a.Escalated {
		return fmt.Errorf("alert %s already escalated", a.AlertID)
	}
	if !a.IsActive() {
		return fmt.Errorf("alert %s is resolved", a.AlertID)
	}
	orig := a.Priority
	a.OriginalPriority = &orig
	a.Priority = to
	a.Escalated = true
	a.EscalatedAt = &at
	return nil
}

// Resolve transitions the alert out of the active state and derives
// duration_seconds from the trigger time.
func (a *Alert) Resolve(at time.Time, rt ResolutionType, value *decimal.Decimal) error {
	if !a.IsActive() {
		return fmt.Errorf("alert %s already resolved", a.AlertID)
	}
	a.ResolvedAt = &at
	dur := int64(at.Sub(a.TriggeredAt).Seconds())
	a.DurationSeconds = &dur
	a.ResolutionType = &rt
	a.ResolutionValue = value
	return nil
}
