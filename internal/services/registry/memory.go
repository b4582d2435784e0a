package registry

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/hydrosense/aquamon/internal/model"
)

// MemoryStore is an in-memory Store used by tests and broker-only
// deployments without Postgres. Semantics mirror the SQL implementation.
type MemoryStore struct {
	mu      sync.RWMutex
	devices map[string]*model.Device
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{devices: make(map[string]*model.Device)}
}

func (s *MemoryStore) GetDevice(_ context.Context, deviceID string) (*model.Device, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.devices[deviceID]
	if !ok {
		return nil, ErrDeviceNotFound
	}
	cp := *d
	return &cp, nil
}

func (s *MemoryStore) ListDevices(_ context.Context) ([]model.Device, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Device, 0, len(s.devices))
	for _, d := range s.devices {
		out = append(out, *d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DeviceID < out[j].DeviceID })
	return out, nil
}

func (s *MemoryStore) CreateDevice(_ context.Context, d *model.Device) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.devices[d.DeviceID]; ok {
		return ErrDeviceExists
	}
	cp := *d
	s.devices[d.DeviceID] = &cp
	return nil
}

func (s *MemoryStore) TouchLastSeen(_ context.Context, deviceID string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.devices[deviceID]
	if !ok {
		return false, nil
	}
	if d.LastSeen == nil || at.After(*d.LastSeen) {
		t := at
		d.LastSeen = &t
	}
	d.UpdatedAt = at
	return true, nil
}

func (s *MemoryStore) SetConnectivity(_ context.Context, deviceID string, status model.ConnectivityStatus, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.devices[deviceID]
	if !ok {
		return false, nil
	}
	if d.ConnectivityStatus == status {
		return true, nil
	}
	if status == model.StatusOffline {
		t := now
		d.OfflineSince = &t
	} else {
		d.OfflineSince = nil
	}
	d.ConnectivityStatus = status
	d.UpdatedAt = now
	return true, nil
}

func (s *MemoryStore) MarkOnlineAuto(_ context.Context, deviceID string, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.devices[deviceID]
	if !ok {
		return false, nil
	}
	if d.ConnectivityStatus == model.StatusMaintenance {
		return false, nil
	}
	if d.ConnectivityStatus != model.StatusOnline {
		d.ConnectivityStatus = model.StatusOnline
		d.OfflineSince = nil
		d.UpdatedAt = now
	}
	return true, nil
}

func (s *MemoryStore) MarkStaleOffline(_ context.Context, cutoff, now time.Time) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var changed []string
	for id, d := range s.devices {
		if d.ConnectivityStatus == model.StatusOffline || d.ConnectivityStatus == model.StatusMaintenance {
			continue
		}
		if d.LastSeen != nil && !d.LastSeen.Before(cutoff) {
			continue
		}
		d.ConnectivityStatus = model.StatusOffline
		t := now
		d.OfflineSince = &t
		d.UpdatedAt = now
		changed = append(changed, id)
	}
	sort.Strings(changed)
	return changed, nil
}

func (s *MemoryStore) UpdateHints(_ context.Context, deviceID string, hints model.RegistrationHints) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.devices[deviceID]
	if !ok {
		return ErrDeviceNotFound
	}
	if hints.Name != "" {
		d.Name = hints.Name
	}
	if hints.Type != "" {
		d.Type = hints.Type
	}
	if hints.MACAddress != "" {
		d.MACAddress = hints.MACAddress
	}
	if hints.IPAddress != "" {
		d.IPAddress = hints.IPAddress
	}
	if hints.FirmwareVersion != "" {
		d.FirmwareVersion = hints.FirmwareVersion
	}
	return nil
}
