package registry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/hydrosense/aquamon/internal/model"
)

var (
	// ErrDeviceNotFound is returned when an operation targets an unknown device.
	ErrDeviceNotFound = errors.New("registry: device not found")
	// ErrDeviceExists is returned by Store.CreateDevice when the id is taken.
	ErrDeviceExists = errors.New("registry: device already exists")
	// ErrMaintenanceUnregistered guards the invariant that an unregistered
	// device can never be put into maintenance.
	ErrMaintenanceUnregistered = errors.New("registry: unregistered device cannot enter maintenance")
)

// Store is the persistence contract for device records. Implementations must
// make each operation atomic: concurrent handlers for the same device resolve
// by last-write-wins on status and by wall-clock maximum on lastSeen.
type Store interface {
	GetDevice(ctx context.Context, deviceID string) (*model.Device, error)
	ListDevices(ctx context.Context) ([]model.Device, error)

	// CreateDevice inserts d, failing with ErrDeviceExists on conflict.
	CreateDevice(ctx context.Context, d *model.Device) error

	// TouchLastSeen raises lastSeen to at if at is newer (out-of-order
	// messages must not regress it). Returns false when the device is unknown.
	TouchLastSeen(ctx context.Context, deviceID string, at time.Time) (bool, error)

	// SetConnectivity applies an explicit status transition. Entering offline
	// stamps offlineSince once; leaving offline clears it; repeating the
	// current status changes nothing. Returns false when the device is unknown.
	SetConnectivity(ctx context.Context, deviceID string, status model.ConnectivityStatus, now time.Time) (bool, error)

	// MarkOnlineAuto is the automatic flip performed by heartbeat/data
	// processing; it skips devices in maintenance.
	MarkOnlineAuto(ctx context.Context, deviceID string, now time.Time) (bool, error)

	// MarkStaleOffline transitions every device that is not offline or in
	// maintenance and whose lastSeen is absent or older than cutoff. Applied
	// as one atomic batch; returns the ids that changed.
	MarkStaleOffline(ctx context.Context, cutoff, now time.Time) ([]string, error)

	// UpdateHints fills in network metadata, keeping existing values where
	// the hint is empty.
	UpdateHints(ctx context.Context, deviceID string, hints model.RegistrationHints) error
}

// Registry is the single source of truth for device identity and
// connectivity. Every ingest path funnels through it.
type Registry struct {
	store Store
	log   *logrus.Entry
}

func New(store Store, log *logrus.Entry) *Registry {
	return &Registry{store: store, log: log}
}

// UpdateHeartbeat raises the device's lastSeen to at. The caller decides what
// to do about ErrDeviceNotFound (normally: EnsureDevice and retry).
func (r *Registry) UpdateHeartbeat(ctx context.Context, deviceID string, at time.Time) error {
	found, err := r.store.TouchLastSeen(ctx, deviceID, at)
	if err != nil {
		return fmt.Errorf("heartbeat %s: %w", deviceID, err)
	}
	if !found {
		return ErrDeviceNotFound
	}
	return nil
}

// UpdateStatus applies an explicit connectivity transition (status messages,
// LWT, admin action). Idempotent: repeating the current status is a quiet
// no-op and leaves offlineSince untouched.
func (r *Registry) UpdateStatus(ctx context.Context, deviceID string, status model.ConnectivityStatus, now time.Time) error {
	if !model.ValidConnectivityStatus(status) {
		return fmt.Errorf("registry: unknown connectivity status %q", status)
	}
	if status == model.StatusMaintenance {
		d, err := r.store.GetDevice(ctx, deviceID)
		if err != nil {
			return err
		}
		if d.RegistrationStatus == model.RegistrationUnregistered {
			return ErrMaintenanceUnregistered
		}
	}
	found, err := r.store.SetConnectivity(ctx, deviceID, status, now)
	if err != nil {
		return fmt.Errorf("set status %s=%s: %w", deviceID, status, err)
	}
	if !found {
		return ErrDeviceNotFound
	}
	return nil
}

// EnsureDevice is the one idempotent auto-registration path shared by the
// data, presence and status handlers. Unknown devices are created as pending
// with "Unknown" placeholders; if a concurrent message wins the create race
// the call degrades to a heartbeat update instead of failing.
func (r *Registry) EnsureDevice(ctx context.Context, deviceID string, hints model.RegistrationHints, now time.Time) (created bool, err error) {
	name := hints.Name
	if name == "" {
		name = "Unknown"
	}
	typ := hints.Type
	if typ == "" {
		typ = "Unknown"
	}
	d := &model.Device{
		DeviceID:           deviceID,
		Name:               name,
		Type:               typ,
		MACAddress:         hints.MACAddress,
		IPAddress:          hints.IPAddress,
		FirmwareVersion:    hints.FirmwareVersion,
		RegistrationStatus: model.RegistrationPending,
		ConnectivityStatus: model.StatusOnline,
		LastSeen:           &now,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	err = r.store.CreateDevice(ctx, d)
	switch {
	case err == nil:
		r.log.WithField("device_id", deviceID).Info("auto-registered device")
		return true, nil
	case errors.Is(err, ErrDeviceExists):
		// Lost the race; the record is there, treat this contact as a heartbeat.
		if _, terr := r.store.TouchLastSeen(ctx, deviceID, now); terr != nil {
			return false, terr
		}
		return false, nil
	default:
		return false, fmt.Errorf("ensure device %s: %w", deviceID, err)
	}
}

// RecordContact handles any accepted message from a device: heartbeat (with
// auto-registration of unknown devices) followed by the automatic online
// flip, which skips devices in maintenance.
func (r *Registry) RecordContact(ctx context.Context, deviceID string, hints model.RegistrationHints, at time.Time) error {
	err := r.UpdateHeartbeat(ctx, deviceID, at)
	if errors.Is(err, ErrDeviceNotFound) {
		if _, err = r.EnsureDevice(ctx, deviceID, hints, at); err != nil {
			return err
		}
		err = r.UpdateHeartbeat(ctx, deviceID, at)
	}
	if err != nil {
		return err
	}
	if _, err := r.store.MarkOnlineAuto(ctx, deviceID, at); err != nil {
		return fmt.Errorf("mark online %s: %w", deviceID, err)
	}
	return nil
}

// ApplyHints merges registration metadata into an existing record.
func (r *Registry) ApplyHints(ctx context.Context, deviceID string, hints model.RegistrationHints) error {
	return r.store.UpdateHints(ctx, deviceID, hints)
}

// Device returns a single device record for the read API.
func (r *Registry) Device(ctx context.Context, deviceID string) (*model.Device, error) {
	return r.store.GetDevice(ctx, deviceID)
}

// Devices lists all device records for the read API.
func (r *Registry) Devices(ctx context.Context) ([]model.Device, error) {
	return r.store.ListDevices(ctx)
}
