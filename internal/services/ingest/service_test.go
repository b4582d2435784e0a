package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hydrosense/aquamon/internal/metrics"
	"github.com/hydrosense/aquamon/internal/model"
	"github.com/hydrosense/aquamon/internal/services/alerting"
	"github.com/hydrosense/aquamon/internal/services/registry"
)

func testLog() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}

// fakeReadingStore records stored readings in memory.
type fakeReadingStore struct {
	mu       sync.Mutex
	readings []model.SensorReading
	failWith error
}

func (f *fakeReadingStore) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.readings)
}

func (f *fakeReadingStore) StoreReading(_ context.Context, r *model.SensorReading) error {
	if f.failWith != nil {
		return f.failWith
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.readings = append(f.readings, *r)
	return nil
}

type fakePublisher struct {
	topic   string
	qos     byte
	payload []byte
	err     error
}

func (f *fakePublisher) Publish(topic string, qos byte, payload []byte) error {
	if f.err != nil {
		return f.err
	}
	f.topic, f.qos, f.payload = topic, qos, payload
	return nil
}

type fixture struct {
	svc      *Service
	devices  *registry.MemoryStore
	alerts   *alerting.MemoryStore
	readings *fakeReadingStore
	pub      *fakePublisher
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	devices := registry.NewMemoryStore()
	alerts := alerting.NewMemoryStore()
	store := &fakeReadingStore{}
	pub := &fakePublisher{}

	reg := registry.New(devices, testLog())
	eval := alerting.NewEvaluator(alerts, nil, testLog())
	met := metrics.New(prometheus.NewRegistry())
	svc := NewService(reg, store, eval, pub, testLog(), met)
	return &fixture{svc: svc, devices: devices, alerts: alerts, readings: store, pub: pub}
}

func dataPayloadJSON(t *testing.T, ph, tds, turbidity float64, ts time.Time) []byte {
	t.Helper()
	b, err := json.Marshal(map[string]interface{}{
		"ph": ph, "tds": tds, "turbidity": turbidity,
		"timestamp": ts.Format(time.RFC3339),
	})
	require.NoError(t, err)
	return b
}

func TestHandleDataNominalAutoRegisters(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	f.svc.HandleData(ctx, "D1", dataPayloadJSON(t, 7.2, 180, 1.1, now), now)

	d, err := f.devices.GetDevice(ctx, "D1")
	require.NoError(t, err)
	assert.Equal(t, model.RegistrationPending, d.RegistrationStatus)
	assert.Equal(t, model.StatusOnline, d.ConnectivityStatus)
	require.NotNil(t, d.LastSeen)

	require.Len(t, f.readings.readings, 1)

	active, err := f.alerts.ListAlerts(ctx, model.AlertFilter{Status: model.AlertActive})
	require.NoError(t, err)
	assert.Empty(t, active, "nominal values must not raise alerts")
}

func TestHandleDataCriticalBreachUpsertsSingleAlert(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	f.svc.HandleData(ctx, "D3", dataPayloadJSON(t, 9.3, 180, 1.1, now), now)
	f.svc.HandleData(ctx, "D3", dataPayloadJSON(t, 9.4, 180, 1.1, now.Add(time.Minute)), now.Add(time.Minute))

	active, err := f.alerts.ListAlerts(ctx, model.AlertFilter{Status: model.AlertActive})
	require.NoError(t, err)
	require.Len(t, active, 1, "second breach must update, not duplicate")
	assert.Equal(t, model.ParamPH, active[0].Parameter)
	assert.Equal(t, model.SeverityCritical, active[0].Severity)
	assert.Equal(t, 9.4, active[0].CurrentValue)
}

func TestHandleDataRejectedReadingNeverEvaluated(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	now := time.Now().UTC()

	// Out-of-range pH: must not be stored and must not reach the evaluator.
	f.svc.HandleData(ctx, "D1", dataPayloadJSON(t, 15.0, 180, 1.1, now), now)

	assert.Empty(t, f.readings.readings)
	active, err := f.alerts.ListAlerts(ctx, model.AlertFilter{})
	require.NoError(t, err)
	assert.Empty(t, active)
	_, err = f.devices.GetDevice(ctx, "D1")
	assert.ErrorIs(t, err, registry.ErrDeviceNotFound, "rejected message must not register the device")
}

func TestHandleDataPersistenceFailureSkipsEvaluation(t *testing.T) {
	f := newFixture(t)
	f.readings.failWith = errors.New("store unavailable")
	ctx := context.Background()
	now := time.Now().UTC()

	f.svc.HandleData(ctx, "D3", dataPayloadJSON(t, 9.3, 180, 1.1, now), now)

	active, err := f.alerts.ListAlerts(ctx, model.AlertFilter{})
	require.NoError(t, err)
	assert.Empty(t, active, "alerts are only raised for stored readings")
}

func TestHandleRegisterMergesMetadata(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	now := time.Now().UTC()

	payload := []byte(`{"name":"Intake Pond","mac_address":"AA:BB:CC:DD:EE:FF","firmware_version":"1.4.2"}`)
	f.svc.HandleRegister(ctx, "D5", payload, now)

	d, err := f.devices.GetDevice(ctx, "D5")
	require.NoError(t, err)
	assert.Equal(t, "Intake Pond", d.Name)
	assert.Equal(t, "AA:BB:CC:DD:EE:FF", d.MACAddress)
	assert.Equal(t, "1.4.2", d.FirmwareVersion)
	assert.Equal(t, model.StatusOnline, d.ConnectivityStatus)

	// Second announcement fills the IP without clobbering the rest.
	f.svc.HandleRegister(ctx, "D5", []byte(`{"ip_address":"10.0.0.9"}`), now.Add(time.Minute))
	d, err = f.devices.GetDevice(ctx, "D5")
	require.NoError(t, err)
	assert.Equal(t, "Intake Pond", d.Name)
	assert.Equal(t, "10.0.0.9", d.IPAddress)
}

func TestHandleStatusLWTMarksOffline(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	now := time.Now().UTC()

	f.svc.HandlePresence(ctx, "D2", now)
	f.svc.HandleStatus(ctx, "D2", []byte(`{"status":"offline"}`), now.Add(time.Minute))

	d, err := f.devices.GetDevice(ctx, "D2")
	require.NoError(t, err)
	assert.Equal(t, model.StatusOffline, d.ConnectivityStatus)
	require.NotNil(t, d.OfflineSince)
}

func TestHandleStatusUnknownDeviceAutoRegisters(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	now := time.Now().UTC()

	f.svc.HandleStatus(ctx, "D7", []byte(`{"status":"online"}`), now)

	d, err := f.devices.GetDevice(ctx, "D7")
	require.NoError(t, err)
	assert.Equal(t, model.RegistrationPending, d.RegistrationStatus)
	assert.Equal(t, model.StatusOnline, d.ConnectivityStatus)
}

func TestHandleStatusBadPayloadDropped(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	now := time.Now().UTC()

	f.svc.HandleStatus(ctx, "D8", []byte(`{"status":"sleeping"}`), now)
	_, err := f.devices.GetDevice(ctx, "D8")
	assert.ErrorIs(t, err, registry.ErrDeviceNotFound)
}

func TestPublishCommand(t *testing.T) {
	f := newFixture(t)

	err := f.svc.PublishCommand("D1", map[string]string{"action": "calibrate"})
	require.NoError(t, err)
	assert.Equal(t, "devices/D1/commands", f.pub.topic)
	assert.Equal(t, byte(1), f.pub.qos)
	assert.JSONEq(t, `{"action":"calibrate"}`, string(f.pub.payload))
}

func TestPublishCommandSurfacesFailure(t *testing.T) {
	f := newFixture(t)
	f.pub.err = errors.New("not connected")

	err := f.svc.PublishCommand("D1", map[string]string{"action": "reboot"})
	require.Error(t, err)
}
