package declined

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/example/driver-console/internal/observability"
)

// Store persists declined request ids beyond the process lifetime.
type Store interface {
	Load(ctx context.Context) ([]string, error)
	Add(ctx context.Context, id string) error
}

// Set holds the ids of ride requests the driver declined or let expire
// during this session. Membership is answered from memory; a Store, when
// present, is written behind and read once by Restore.
type Set struct {
	mu    sync.RWMutex
	ids   map[string]struct{}
	store Store
	log   *slog.Logger

	// writes tracks store writes still in flight
	writes sync.WaitGroup
}

func NewSet(store Store, log *slog.Logger) *Set {
	if log == nil {
		log = slog.Default()
	}
	return &Set{ids: make(map[string]struct{}), store: store, log: log}
}

// Restore seeds the set from the store. Without a store it is a no-op.
func (s *Set) Restore(ctx context.Context) error {
	if s.store == nil {
		return nil
	}
	ids, err := s.store.Load(ctx)
	if err != nil {
		return err
	}
	s.mu.Lock()
	for _, id := range ids {
		s.ids[id] = struct{}{}
	}
	s.mu.Unlock()
	observability.DeclinedTracked.Set(float64(s.Len()))
	s.log.Info("declined set restored", "count", len(ids))
	return nil
}

func (s *Set) Add(id string) {
	s.mu.Lock()
	_, seen := s.ids[id]
	s.ids[id] = struct{}{}
	s.mu.Unlock()
	if !seen {
		observability.DeclinedTracked.Set(float64(s.Len()))
	}
	if seen || s.store == nil {
		return
	}
	s.writes.Add(1)
	go func() {
		defer s.writes.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := s.store.Add(ctx, id); err != nil {
			s.log.Warn("persist declined id failed", "request_id", id, "error", err)
		}
	}()
}

// Flush waits for pending store writes. Call it before closing the store.
func (s *Set) Flush(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.writes.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Set) Contains(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.ids[id]
	return ok
}

func (s *Set) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.ids)
}
