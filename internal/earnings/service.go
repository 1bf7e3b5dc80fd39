package earnings

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/example/driver-console/internal/models"
	"github.com/example/driver-console/internal/tracker"
)

type Source interface {
	Earnings(ctx context.Context, period models.EarningsPeriod) (models.PeriodEarnings, error)
}

// Service caches the driver's earnings snapshot. A refresh fetches the
// three periods concurrently and replaces the snapshot only when all of
// them succeed.
type Service struct {
	src     Source
	log     *slog.Logger
	timeout time.Duration
	now     func() time.Time

	mu   sync.RWMutex
	snap *models.Earnings
}

func NewService(src Source, timeout time.Duration, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Service{src: src, log: log, timeout: timeout, now: time.Now}
}

func (s *Service) Refresh(ctx context.Context) (models.Earnings, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var out models.Earnings
	g, gctx := errgroup.WithContext(ctx)
	targets := map[models.EarningsPeriod]*models.PeriodEarnings{
		models.PeriodToday: &out.Today,
		models.PeriodWeek:  &out.Week,
		models.PeriodMonth: &out.Month,
	}
	for period, dst := range targets {
		period, dst := period, dst
		g.Go(func() error {
			pe, err := s.src.Earnings(gctx, period)
			if err != nil {
				return fmt.Errorf("earnings %s: %w", period, err)
			}
			*dst = pe
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return models.Earnings{}, err
	}
	out.FetchedAt = s.now()

	s.mu.Lock()
	s.snap = &out
	s.mu.Unlock()
	s.log.Debug("earnings refreshed", "today_total", out.Today.Total, "today_rides", out.Today.Rides)
	return out, nil
}

// Snapshot returns the last successful refresh, if any.
func (s *Service) Snapshot() (models.Earnings, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.snap == nil {
		return models.Earnings{}, false
	}
	return *s.snap, true
}

// Watch refreshes after the driver goes online and after each completed
// trip until events closes or ctx is done.
func (s *Service) Watch(ctx context.Context, events <-chan tracker.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if ev.Type != tracker.EventDriverOnline && ev.Type != tracker.EventTripCompleted {
				continue
			}
			if _, err := s.Refresh(ctx); err != nil {
				s.log.Warn("earnings refresh failed", "trigger", ev.Type, "error", err)
			}
		}
	}
}
