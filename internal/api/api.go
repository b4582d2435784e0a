package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/hydrosense/aquamon/internal/model"
)

// DeviceReader exposes registry records to the dashboard layer.
type DeviceReader interface {
	Device(ctx context.Context, deviceID string) (*model.Device, error)
	Devices(ctx context.Context) ([]model.Device, error)
}

// ReadingQuerier serves time-ranged reading queries.
type ReadingQuerier interface {
	QueryRange(ctx context.Context, deviceID string, from, to time.Time) ([]model.SensorReading, error)
}

// AlertLister serves filtered alert listings for the alert UI and digests.
type AlertLister interface {
	Alerts(ctx context.Context, f model.AlertFilter) ([]model.Alert, error)
}

// CommandPublisher forwards a command to a device's command topic.
type CommandPublisher interface {
	PublishCommand(deviceID string, command interface{}) error
}

// Server is the HTTP surface consumed by external collaborators (dashboard,
// reports, digest jobs): read-only queries plus the one write path, command
// publish. The engine's hard logic lives elsewhere.
type Server struct {
	devices  DeviceReader
	readings ReadingQuerier
	alerts   AlertLister
	commands CommandPublisher
	health   Health
	log      *logrus.Entry
}

func NewServer(devices DeviceReader, readings ReadingQuerier, alerts AlertLister, commands CommandPublisher, health Health, gatherer prometheus.Gatherer, log *logrus.Entry) http.Handler {
	s := &Server{devices: devices, readings: readings, alerts: alerts, commands: commands, health: health, log: log}

	r := mux.NewRouter()
	r.HandleFunc("/healthz", s.handleHealthz).Methods(http.MethodGet)
	r.HandleFunc("/readyz", s.handleReadyz).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	v1 := r.PathPrefix("/api/v1").Subrouter()
	v1.HandleFunc("/devices", s.handleListDevices).Methods(http.MethodGet)
	v1.HandleFunc("/devices/{deviceId}", s.handleGetDevice).Methods(http.MethodGet)
	v1.HandleFunc("/devices/{deviceId}/readings", s.handleReadings).Methods(http.MethodGet)
	v1.HandleFunc("/devices/{deviceId}/commands", s.handlePublishCommand).Methods(http.MethodPost)
	v1.HandleFunc("/alerts", s.handleListAlerts).Methods(http.MethodGet)

	return r
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
