package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/hydrosense/aquamon/internal/metrics"
	"github.com/hydrosense/aquamon/internal/model"
	"github.com/hydrosense/aquamon/internal/services/registry"
)

// ReadingStore persists validated readings.
type ReadingStore interface {
	StoreReading(ctx context.Context, r *model.SensorReading) error
}

// AlertSink evaluates a stored reading against thresholds.
type AlertSink interface {
	Evaluate(ctx context.Context, r *model.SensorReading) ([]model.Alert, error)
}

// Publisher sends payloads to the broker; in production this is *broker.Conn.
type Publisher interface {
	Publish(topic string, qos byte, payload []byte) error
}

// Service implements the per-kind message handlers behind the Router and the
// outbound command publish. Failures inside handlers are logged and the
// message abandoned; only PublishCommand surfaces errors to its caller.
type Service struct {
	registry *registry.Registry
	readings ReadingStore
	alerts   AlertSink
	pub      Publisher
	log      *logrus.Entry
	met      *metrics.Metrics
}

func NewService(reg *registry.Registry, readings ReadingStore, alerts AlertSink, pub Publisher, log *logrus.Entry, met *metrics.Metrics) *Service {
	return &Service{registry: reg, readings: readings, alerts: alerts, pub: pub, log: log, met: met}
}

// SetPublisher injects the broker connection once it exists; the connection
// itself is built with the router's subscriptions, so it cannot be passed to
// NewService up front.
func (s *Service) SetPublisher(pub Publisher) { s.pub = pub }

// HandleData validates a sensor reading, registers/touches the device,
// persists the reading and runs threshold evaluation. A persistence failure
// abandons the message before evaluation: alerts are only ever raised for
// readings that made it into the store.
func (s *Service) HandleData(ctx context.Context, deviceID string, payload []byte, now time.Time) {
	reading, verr := ValidateReading(deviceID, payload, now)
	if verr != nil {
		s.met.MessagesDropped.WithLabelValues(verr.Reason).Inc()
		s.log.WithFields(logrus.Fields{"device_id": deviceID, "reason": verr.Reason}).
			Warnf("dropping data message: %s", verr.Detail)
		return
	}

	if err := s.registry.RecordContact(ctx, deviceID, model.RegistrationHints{}, reading.Timestamp); err != nil {
		s.met.MessagesDropped.WithLabelValues("registry_error").Inc()
		s.log.WithError(err).WithField("device_id", deviceID).Error("device contact update failed")
		return
	}

	if err := s.readings.StoreReading(ctx, reading); err != nil {
		s.met.MessagesDropped.WithLabelValues("store_error").Inc()
		s.log.WithError(err).WithField("device_id", deviceID).Error("reading store failed")
		return
	}
	s.met.ReadingsStored.Inc()

	alerts, err := s.alerts.Evaluate(ctx, reading)
	if err != nil {
		s.log.WithError(err).WithField("device_id", deviceID).Error("threshold evaluation failed")
		return
	}
	for _, a := range alerts {
		s.met.AlertsRaised.WithLabelValues(string(a.Severity)).Inc()
	}
}

// registerPayload is the wire shape of a registration announcement.
type registerPayload struct {
	Name            string `json:"name"`
	Type            string `json:"type"`
	MACAddress      string `json:"mac_address"`
	IPAddress       string `json:"ip_address"`
	FirmwareVersion string `json:"firmware_version"`
}

// HandleRegister creates the device if needed and merges whatever metadata
// the announcement carried into the record.
func (s *Service) HandleRegister(ctx context.Context, deviceID string, payload []byte, now time.Time) {
	var p registerPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		s.met.MessagesDropped.WithLabelValues(ReasonDecode).Inc()
		s.log.WithError(err).WithField("device_id", deviceID).Warn("dropping undecodable register message")
		return
	}
	hints := model.RegistrationHints{
		Name:            p.Name,
		Type:            p.Type,
		MACAddress:      p.MACAddress,
		IPAddress:       p.IPAddress,
		FirmwareVersion: p.FirmwareVersion,
	}

	created, err := s.registry.EnsureDevice(ctx, deviceID, hints, now)
	if err != nil {
		s.log.WithError(err).WithField("device_id", deviceID).Error("registration failed")
		return
	}
	if created {
		s.met.DevicesRegistered.Inc()
	} else if err := s.registry.ApplyHints(ctx, deviceID, hints); err != nil {
		s.log.WithError(err).WithField("device_id", deviceID).Warn("metadata update failed")
	}

	if err := s.registry.RecordContact(ctx, deviceID, hints, now); err != nil {
		s.log.WithError(err).WithField("device_id", deviceID).Error("device contact update failed")
	}
}

// HandlePresence treats a heartbeat as proof of life: lastSeen is raised and
// the device flipped online unless it is in maintenance.
func (s *Service) HandlePresence(ctx context.Context, deviceID string, now time.Time) {
	if err := s.registry.RecordContact(ctx, deviceID, model.RegistrationHints{}, now); err != nil {
		s.met.MessagesDropped.WithLabelValues("registry_error").Inc()
		s.log.WithError(err).WithField("device_id", deviceID).Error("heartbeat failed")
	}
}

// statusPayload is the wire shape of a status (incl. LWT) message.
type statusPayload struct {
	Status string `json:"status"`
}

// HandleStatus applies an explicit connectivity transition. The broker
// publishes {"status":"offline"} on the device's behalf when its connection
// drops uncleanly. An unknown device is auto-registered and the transition
// retried once.
func (s *Service) HandleStatus(ctx context.Context, deviceID string, payload []byte, now time.Time) {
	var p statusPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		s.met.MessagesDropped.WithLabelValues(ReasonDecode).Inc()
		s.log.WithError(err).WithField("device_id", deviceID).Warn("dropping undecodable status message")
		return
	}
	status := model.ConnectivityStatus(p.Status)
	if !model.ValidConnectivityStatus(status) {
		s.met.MessagesDropped.WithLabelValues("bad_status").Inc()
		s.log.WithFields(logrus.Fields{"device_id": deviceID, "status": p.Status}).Warn("dropping unknown status value")
		return
	}

	err := s.registry.UpdateStatus(ctx, deviceID, status, now)
	if errors.Is(err, registry.ErrDeviceNotFound) {
		if _, err = s.registry.EnsureDevice(ctx, deviceID, model.RegistrationHints{}, now); err == nil {
			err = s.registry.UpdateStatus(ctx, deviceID, status, now)
		}
	}
	if err != nil {
		s.log.WithError(err).WithFields(logrus.Fields{"device_id": deviceID, "status": status}).Error("status update failed")
		return
	}

	// A status message counts as contact, but must not flip the state the
	// message just set; only lastSeen moves.
	if err := s.registry.UpdateHeartbeat(ctx, deviceID, now); err != nil {
		s.log.WithError(err).WithField("device_id", deviceID).Warn("heartbeat after status failed")
	}
}

// PublishCommand serializes a command and publishes it to the device's
// command topic at QoS 1. This is the one path where failure is surfaced to
// the caller: a command that silently never reaches a device is a
// correctness problem for whoever issued it.
func (s *Service) PublishCommand(deviceID string, command interface{}) error {
	if deviceID == "" {
		return fmt.Errorf("publish command: empty device id")
	}
	if s.pub == nil {
		return fmt.Errorf("publish command: no broker connection")
	}
	b, err := json.Marshal(command)
	if err != nil {
		return fmt.Errorf("publish command: marshal: %w", err)
	}
	topic := fmt.Sprintf("devices/%s/commands", deviceID)
	if err := s.pub.Publish(topic, 1, b); err != nil {
		return fmt.Errorf("publish command to %s: %w", topic, err)
	}
	return nil
}
