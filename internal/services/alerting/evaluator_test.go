package alerting

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hydrosense/aquamon/internal/model"
)

func testLog() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}

func f64(v float64) *float64 { return &v }

func reading(deviceID string, ph, tds, turbidity *float64) *model.SensorReading {
	now := time.Now().UTC()
	return &model.SensorReading{
		DeviceID:   deviceID,
		PH:         ph,
		TDS:        tds,
		Turbidity:  turbidity,
		Timestamp:  now,
		ReceivedAt: now,
	}
}

func TestClassify(t *testing.T) {
	limits := DefaultThresholds()[model.ParamPH] // warn 6.5-8.5, crit 6.0-9.0

	cases := []struct {
		value    float64
		severity model.AlertSeverity
		breached bool
	}{
		{7.0, "", false},
		{6.5, "", false},
		{8.5, "", false},
		{6.2, model.SeverityWarning, true},
		{8.8, model.SeverityWarning, true},
		{5.9, model.SeverityCritical, true},
		{9.3, model.SeverityCritical, true},
	}
	for _, tc := range cases {
		severity, _, breached := limits.Classify(tc.value)
		assert.Equal(t, tc.breached, breached, "value %v", tc.value)
		assert.Equal(t, tc.severity, severity, "value %v", tc.value)
	}
}

func TestEvaluateNominalRaisesNothing(t *testing.T) {
	store := NewMemoryStore()
	e := NewEvaluator(store, nil, testLog())

	raised, err := e.Evaluate(context.Background(), reading("D1", f64(7.2), f64(180), f64(1.1)))
	require.NoError(t, err)
	assert.Empty(t, raised)
}

func TestEvaluateSingleActiveAlertPerParameter(t *testing.T) {
	store := NewMemoryStore()
	e := NewEvaluator(store, nil, testLog())
	ctx := context.Background()

	raised, err := e.Evaluate(ctx, reading("D3", f64(9.3), f64(180), f64(1.1)))
	require.NoError(t, err)
	require.Len(t, raised, 1)
	assert.Equal(t, model.SeverityCritical, raised[0].Severity)
	assert.Equal(t, 9.3, raised[0].CurrentValue)
	assert.Equal(t, 9.0, raised[0].ThresholdValue)

	// Repeated breach refreshes the same alert.
	raised, err = e.Evaluate(ctx, reading("D3", f64(9.4), f64(180), f64(1.1)))
	require.NoError(t, err)
	require.Len(t, raised, 1)

	active, err := store.ListAlerts(ctx, model.AlertFilter{Status: model.AlertActive})
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, 9.4, active[0].CurrentValue)
}

func TestEvaluateSeverityEscalatesOnRefresh(t *testing.T) {
	store := NewMemoryStore()
	e := NewEvaluator(store, nil, testLog())
	ctx := context.Background()

	_, err := e.Evaluate(ctx, reading("D3", f64(8.8), f64(180), f64(1.1)))
	require.NoError(t, err)
	_, err = e.Evaluate(ctx, reading("D3", f64(9.3), f64(180), f64(1.1)))
	require.NoError(t, err)

	active, err := store.ListAlerts(ctx, model.AlertFilter{Status: model.AlertActive})
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, model.SeverityCritical, active[0].Severity)
}

func TestEvaluateMultipleParameters(t *testing.T) {
	store := NewMemoryStore()
	e := NewEvaluator(store, nil, testLog())

	raised, err := e.Evaluate(context.Background(), reading("D4", f64(9.3), f64(1500), f64(1.1)))
	require.NoError(t, err)
	require.Len(t, raised, 2)
}

func TestEvaluateSkipsAbsentParameters(t *testing.T) {
	store := NewMemoryStore()
	e := NewEvaluator(store, nil, testLog())

	// Turbidity was flagged invalid upstream, so it is absent here even
	// though the raw value would have breached.
	raised, err := e.Evaluate(context.Background(), reading("D5", f64(7.0), f64(180), nil))
	require.NoError(t, err)
	assert.Empty(t, raised)
}

func TestEvaluateDoesNotAutoResolve(t *testing.T) {
	store := NewMemoryStore()
	e := NewEvaluator(store, nil, testLog())
	ctx := context.Background()

	_, err := e.Evaluate(ctx, reading("D6", f64(9.3), f64(180), f64(1.1)))
	require.NoError(t, err)
	// Back in range: the existing alert stays active for the resolution
	// workflow, untouched.
	_, err = e.Evaluate(ctx, reading("D6", f64(7.0), f64(180), f64(1.1)))
	require.NoError(t, err)

	active, err := store.ListAlerts(ctx, model.AlertFilter{Status: model.AlertActive})
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, 9.3, active[0].CurrentValue)
}

func TestLoadThresholdsValidation(t *testing.T) {
	_, err := LoadThresholds("does-not-exist.json")
	require.Error(t, err)
}
