package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/hydrosense/aquamon/internal/model"
	"github.com/hydrosense/aquamon/internal/services/registry"
)

func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	devices, err := s.devices.Devices(r.Context())
	if err != nil {
		s.log.WithError(err).Error("list devices failed")
		writeError(w, http.StatusInternalServerError, "failed to list devices")
		return
	}
	if devices == nil {
		devices = []model.Device{}
	}
	writeJSON(w, http.StatusOK, devices)
}

func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["deviceId"]
	device, err := s.devices.Device(r.Context(), id)
	if errors.Is(err, registry.ErrDeviceNotFound) {
		writeError(w, http.StatusNotFound, "device not found")
		return
	}
	if err != nil {
		s.log.WithError(err).WithField("device_id", id).Error("get device failed")
		writeError(w, http.StatusInternalServerError, "failed to get device")
		return
	}
	writeJSON(w, http.StatusOK, device)
}

func (s *Server) handleReadings(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["deviceId"]

	to := time.Now().UTC()
	from := to.Add(-24 * time.Hour)
	if v := r.URL.Query().Get("from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "from must be RFC3339")
			return
		}
		from = t
	}
	if v := r.URL.Query().Get("to"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "to must be RFC3339")
			return
		}
		to = t
	}
	if !from.Before(to) {
		writeError(w, http.StatusBadRequest, "from must be before to")
		return
	}

	readings, err := s.readings.QueryRange(r.Context(), id, from, to)
	if err != nil {
		s.log.WithError(err).WithField("device_id", id).Error("readings query failed")
		writeError(w, http.StatusInternalServerError, "failed to query readings")
		return
	}
	if readings == nil {
		readings = []model.SensorReading{}
	}
	writeJSON(w, http.StatusOK, readings)
}

// handlePublishCommand forwards a JSON command body to the device's command
// topic at QoS 1. Publish failure maps to 502: the request was well-formed
// but the engine could not get it to the broker.
func (s *Server) handlePublishCommand(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["deviceId"]
	if _, err := s.devices.Device(r.Context(), id); err != nil {
		if errors.Is(err, registry.ErrDeviceNotFound) {
			writeError(w, http.StatusNotFound, "device not found")
			return
		}
		s.log.WithError(err).WithField("device_id", id).Error("command target lookup failed")
		writeError(w, http.StatusInternalServerError, "failed to look up device")
		return
	}

	var cmd json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&cmd); err != nil {
		writeError(w, http.StatusBadRequest, "body must be valid JSON")
		return
	}

	if err := s.commands.PublishCommand(id, cmd); err != nil {
		s.log.WithError(err).WithField("device_id", id).Error("command publish failed")
		writeError(w, http.StatusBadGateway, "failed to publish command")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued", "device_id": id})
}

func (s *Server) handleListAlerts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := model.AlertFilter{
		DeviceID: q.Get("device_id"),
		Status:   model.AlertStatus(q.Get("status")),
		Severity: model.AlertSeverity(q.Get("severity")),
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		f.Limit = n
	}

	alerts, err := s.alerts.Alerts(r.Context(), f)
	if err != nil {
		s.log.WithError(err).Error("list alerts failed")
		writeError(w, http.StatusInternalServerError, "failed to list alerts")
		return
	}
	if alerts == nil {
		alerts = []model.Alert{}
	}
	writeJSON(w, http.StatusOK, alerts)
}
