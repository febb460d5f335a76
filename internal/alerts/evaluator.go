package alerts

import (
	"github.com/shopspring/decimal"

	"github.com/bitspectre/surveil/internal/config"
	"github.com/bitspectre/surveil/internal/models"
)

// SkipReason explains why an evaluation did not trigger. These are expected
// outcomes carried as values, never errors.
type SkipReason string

const (
	SkipNone            SkipReason = ""
	SkipDisabled        SkipReason = "alert_disabled"
	SkipZScoreWarmup    SkipReason = "zscore_warmup"
	SkipConfigError     SkipReason = "config_error"
	SkipPersistence     SkipReason = "persistence_unmet"
	SkipThrottled       SkipReason = "throttled"
	SkipDuplicateActive SkipReason = "duplicate_active"
)

// Result is the outcome of evaluating one alert definition against one metric
// observation.
type Result struct {
	Triggered  bool
	SkipReason SkipReason

	Priority models.AlertPriority
	Severity models.AlertSeverity

	Value           decimal.Decimal
	Threshold       decimal.Decimal
	ZScore          *decimal.Decimal
	ZScoreThreshold *decimal.Decimal
}

func skipped(reason SkipReason, value decimal.Decimal) Result {
	return Result{SkipReason: reason, Value: value}
}

// Evaluate applies the dual gate: the raw condition against the threshold,
// and, when the definition requires it, |z| against the z-score bound. An
// absent z-score during warmup is expected and suppresses the trigger.
func Evaluate(def config.AlertDefinition, value decimal.Decimal, zscore *decimal.Decimal, threshold config.AlertThreshold) Result {
	if !def.IsEnabled() {
		return skipped(SkipDisabled, value)
	}

	if !def.Condition.Evaluate(value, threshold.Threshold.Decimal) {
		return Result{Value: value}
	}

	var zBound *decimal.Decimal
	if def.RequiresZScore {
		if zscore == nil {
			return skipped(SkipZScoreWarmup, value)
		}
		if threshold.ZScore == nil {
			return skipped(SkipConfigError, value)
		}
		b := threshold.ZScore.Decimal
		zBound = &b
		if !zscore.Abs().GreaterThan(b) {
			return Result{Value: value, ZScore: zscore, ZScoreThreshold: zBound}
		}
	}

	return Result{
		Triggered:       true,
		Priority:        def.DefaultPriority,
		Severity:        def.DefaultSeverity,
		Value:           value,
		Threshold:       threshold.Threshold.Decimal,
		ZScore:          zscore,
		ZScoreThreshold: zBound,
	}
}

// EvaluateWithPersistence wraps Evaluate and additionally suppresses the
// trigger when the definition requires persistence that has not yet been met.
func EvaluateWithPersistence(def config.AlertDefinition, value decimal.Decimal, zscore *decimal.Decimal, threshold config.AlertThreshold, persistenceMet bool) Result {
	r := Evaluate(def, value, zscore, threshold)
	if r.Triggered && def.PersistenceSeconds > 0 && !persistenceMet {
		r.Triggered = false
		r.SkipReason = SkipPersistence
	}
	return r
}
