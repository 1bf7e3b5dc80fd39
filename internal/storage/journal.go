package storage

import (
	"context"
	"sort"
	"sync"

	"github.com/example/driver-console/internal/models"
)

// Journal records driver lifecycle events. Append is idempotent on the
// event id because the stream delivers at least once.
type Journal interface {
	Append(ctx context.Context, rec models.LifecycleRecord) error
	Recent(ctx context.Context, driverID string, limit int) ([]models.LifecycleRecord, error)
}

type MemoryJournal struct {
	mu   sync.RWMutex
	seen map[string]struct{}
	recs []models.LifecycleRecord
}

func NewMemoryJournal() *MemoryJournal {
	return &MemoryJournal{seen: make(map[string]struct{})}
}

func (m *MemoryJournal) Append(ctx context.Context, rec models.LifecycleRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.seen[rec.EventID]; ok {
		return nil
	}
	m.seen[rec.EventID] = struct{}{}
	m.recs = append(m.recs, rec)
	return nil
}

// Recent returns up to limit records for driverID, newest first.
func (m *MemoryJournal) Recent(ctx context.Context, driverID string, limit int) ([]models.LifecycleRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.LifecycleRecord
	for _, r := range m.recs {
		if r.DriverID == driverID {
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].At.After(out[j].At) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
