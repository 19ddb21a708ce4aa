package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"visitcal/internal/model"
)

// Memory is an in-process VisitStore. It is the default for development and
// the backend used by tests; contents are lost on restart.
type Memory struct {
	mu     sync.RWMutex
	visits map[string]model.VisitRecord
	now    func() time.Time
}

func NewMemory() *Memory {
	return &Memory{
		visits: make(map[string]model.VisitRecord),
		now:    time.Now,
	}
}

func (m *Memory) ListScheduled(_ context.Context) ([]model.VisitRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]model.VisitRecord, 0, len(m.visits))
	for _, v := range m.visits {
		if v.Scheduled() {
			out = append(out, clone(v))
		}
	}
	sortVisits(out)
	return out, nil
}

func (m *Memory) List(_ context.Context) ([]model.VisitRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]model.VisitRecord, 0, len(m.visits))
	for _, v := range m.visits {
		out = append(out, clone(v))
	}
	sortVisits(out)
	return out, nil
}

func (m *Memory) Get(_ context.Context, id string) (model.VisitRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	v, ok := m.visits[id]
	if !ok {
		return model.VisitRecord{}, ErrNotFound
	}
	return clone(v), nil
}

func (m *Memory) Create(_ context.Context, v model.VisitRecord) (model.VisitRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if v.ID == "" {
		v.ID = ulid.Make().String()
	}
	now := m.now().UTC()
	v.LastNotifiedOccurrence = nil
	v.CreatedAt = now
	v.UpdatedAt = now
	m.visits[v.ID] = clone(v)
	return v, nil
}

// Update replaces every field except the marker and CreatedAt.
func (m *Memory) Update(_ context.Context, v model.VisitRecord) (model.VisitRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	old, ok := m.visits[v.ID]
	if !ok {
		return model.VisitRecord{}, ErrNotFound
	}
	v.CreatedAt = old.CreatedAt
	v.LastNotifiedOccurrence = old.LastNotifiedOccurrence
	v.UpdatedAt = m.now().UTC()
	m.visits[v.ID] = clone(v)
	return clone(v), nil
}

func (m *Memory) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.visits[id]; !ok {
		return ErrNotFound
	}
	delete(m.visits, id)
	return nil
}

func (m *Memory) CompareAndSetMarker(_ context.Context, id string, expected *time.Time, next time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	v, ok := m.visits[id]
	if !ok {
		return false, ErrNotFound
	}
	if !markersEqual(v.LastNotifiedOccurrence, expected) {
		return false, nil
	}
	marker := model.MarkerTime(next)
	v.LastNotifiedOccurrence = &marker
	m.visits[id] = v
	return true, nil
}

func (m *Memory) ClearMarker(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	v, ok := m.visits[id]
	if !ok {
		return ErrNotFound
	}
	v.LastNotifiedOccurrence = nil
	m.visits[id] = v
	return nil
}

func (m *Memory) Close() error { return nil }

func clone(v model.VisitRecord) model.VisitRecord {
	if v.LastNotifiedOccurrence != nil {
		t := *v.LastNotifiedOccurrence
		v.LastNotifiedOccurrence = &t
	}
	return v
}

func sortVisits(vs []model.VisitRecord) {
	sort.SliceStable(vs, func(i, j int) bool {
		if vs[i].Date != vs[j].Date {
			return vs[i].Date < vs[j].Date
		}
		if vs[i].Time != vs[j].Time {
			return vs[i].Time < vs[j].Time
		}
		return vs[i].ID < vs[j].ID
	})
}
