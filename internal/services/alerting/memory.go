package alerting

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hydrosense/aquamon/internal/model"
)

// MemoryStore is an in-memory alert Store with the same upsert semantics as
// the SQL implementation. Used by tests and Postgres-less deployments.
type MemoryStore struct {
	mu     sync.RWMutex
	alerts map[string]*model.Alert // by id
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{alerts: make(map[string]*model.Alert)}
}

func (s *MemoryStore) UpsertActive(_ context.Context, a model.Alert) (model.Alert, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.alerts {
		if existing.Status == model.AlertActive &&
			existing.DeviceID == a.DeviceID &&
			existing.Parameter == a.Parameter {
			existing.CurrentValue = a.CurrentValue
			existing.Severity = a.Severity
			existing.ThresholdValue = a.ThresholdValue
			existing.UpdatedAt = a.UpdatedAt
			return *existing, false, nil
		}
	}
	a.ID = uuid.NewString()
	a.Status = model.AlertActive
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now()
	}
	cp := a
	s.alerts[a.ID] = &cp
	return a, true, nil
}

func (s *MemoryStore) ListAlerts(_ context.Context, f model.AlertFilter) ([]model.Alert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.Alert
	for _, a := range s.alerts {
		if f.DeviceID != "" && a.DeviceID != f.DeviceID {
			continue
		}
		if f.Status != "" && a.Status != f.Status {
			continue
		}
		if f.Severity != "" && a.Severity != f.Severity {
			continue
		}
		out = append(out, *a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}
