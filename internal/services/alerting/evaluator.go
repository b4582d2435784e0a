package alerting

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/hydrosense/aquamon/internal/model"
)

// Store persists alerts under the invariant of at most one Active alert per
// (device, parameter). A breach while one is already active refreshes it.
type Store interface {
	// UpsertActive creates an Active alert or, when one already exists for
	// (DeviceID, Parameter), updates its current value, severity and
	// threshold. Returns the stored alert and whether it was newly created.
	UpsertActive(ctx context.Context, a model.Alert) (model.Alert, bool, error)

	// ListAlerts returns alerts matching the filter, newest first.
	ListAlerts(ctx context.Context, f model.AlertFilter) ([]model.Alert, error)
}

// Limits holds the warning and critical bands for one parameter. A value
// outside [CritMin, CritMax] is critical, outside [WarnMin, WarnMax] a
// warning, otherwise nominal.
type Limits struct {
	WarnMin float64 `json:"warn_min"`
	WarnMax float64 `json:"warn_max"`
	CritMin float64 `json:"crit_min"`
	CritMax float64 `json:"crit_max"`
}

// Classify maps a value to a severity and the threshold it breached.
func (l Limits) Classify(v float64) (model.AlertSeverity, float64, bool) {
	switch {
	case v < l.CritMin:
		return model.SeverityCritical, l.CritMin, true
	case v > l.CritMax:
		return model.SeverityCritical, l.CritMax, true
	case v < l.WarnMin:
		return model.SeverityWarning, l.WarnMin, true
	case v > l.WarnMax:
		return model.SeverityWarning, l.WarnMax, true
	}
	return "", 0, false
}

// DefaultThresholds are the potable-water bands used when no thresholds file
// is configured.
func DefaultThresholds() map[model.Parameter]Limits {
	return map[model.Parameter]Limits{
		model.ParamPH:        {WarnMin: 6.5, WarnMax: 8.5, CritMin: 6.0, CritMax: 9.0},
		model.ParamTDS:       {WarnMin: 0, WarnMax: 500, CritMin: 0, CritMax: 1000},
		model.ParamTurbidity: {WarnMin: 0, WarnMax: 5, CritMin: 0, CritMax: 50},
	}
}

// Evaluator turns a validated reading into zero or more alert upserts. It
// never resolves alerts; readings back in range leave any Active alert for
// the resolution workflow downstream.
type Evaluator struct {
	store      Store
	thresholds map[model.Parameter]Limits
	log        *logrus.Entry
}

func NewEvaluator(store Store, thresholds map[model.Parameter]Limits, log *logrus.Entry) *Evaluator {
	if thresholds == nil {
		thresholds = DefaultThresholds()
	}
	return &Evaluator{store: store, thresholds: thresholds, log: log}
}

// Evaluate compares every present parameter of the reading against its bands
// and upserts one Active alert per breach. Absent parameters (flagged invalid
// by the device) are skipped.
func (e *Evaluator) Evaluate(ctx context.Context, r *model.SensorReading) ([]model.Alert, error) {
	var raised []model.Alert
	for _, p := range model.Parameters {
		v, ok := r.Value(p)
		if !ok {
			continue
		}
		limits, ok := e.thresholds[p]
		if !ok {
			continue
		}
		severity, threshold, breached := limits.Classify(v)
		if !breached {
			continue
		}
		alert, created, err := e.store.UpsertActive(ctx, model.Alert{
			DeviceID:       r.DeviceID,
			Parameter:      p,
			Severity:       severity,
			Status:         model.AlertActive,
			CurrentValue:   v,
			ThresholdValue: threshold,
			CreatedAt:      r.ReceivedAt,
			UpdatedAt:      r.ReceivedAt,
		})
		if err != nil {
			return raised, fmt.Errorf("upsert alert %s/%s: %w", r.DeviceID, p, err)
		}
		e.log.WithFields(logrus.Fields{
			"device_id": r.DeviceID,
			"parameter": p,
			"severity":  severity,
			"value":     v,
			"threshold": threshold,
			"created":   created,
		}).Warn("threshold breach")
		raised = append(raised, alert)
	}
	return raised, nil
}

// Alerts lists alerts for the read API and digest jobs.
func (e *Evaluator) Alerts(ctx context.Context, f model.AlertFilter) ([]model.Alert, error) {
	return e.store.ListAlerts(ctx, f)
}
