package location

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/example/driver-console/internal/geo"
	"github.com/example/driver-console/internal/models"
)

var ErrInvalidPosition = errors.New("location: coordinates out of range")

type Source interface {
	UpdateLocation(ctx context.Context, pos models.Coordinates) error
}

// Reporter keeps the driver's latest known position and pushes it to the
// ride service on a fixed interval while the driver is online.
type Reporter struct {
	src      Source
	interval time.Duration
	online   func() bool
	log      *slog.Logger

	mu      sync.RWMutex
	latest  *models.Coordinates
	at      time.Time
	lastErr error
}

func NewReporter(src Source, interval time.Duration, online func() bool, log *slog.Logger) *Reporter {
	if log == nil {
		log = slog.Default()
	}
	if interval <= 0 {
		interval = 10 * time.Second
	}
	return &Reporter{src: src, interval: interval, online: online, log: log}
}

func (r *Reporter) Update(pos models.Coordinates) error {
	if !geo.Valid(pos) {
		return ErrInvalidPosition
	}
	r.mu.Lock()
	r.latest = &pos
	r.at = time.Now()
	r.mu.Unlock()
	return nil
}

// Latest returns the most recent position and when it was recorded.
func (r *Reporter) Latest() (models.Coordinates, time.Time, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.latest == nil {
		return models.Coordinates{}, time.Time{}, false
	}
	return *r.latest, r.at, true
}

// PickupDistanceKm is the straight-line distance from the driver to the
// request's pickup point.
func (r *Reporter) PickupDistanceKm(req *models.RideRequest) (float64, bool) {
	if req == nil {
		return 0, false
	}
	pos, _, ok := r.Latest()
	if !ok {
		return 0, false
	}
	return geo.DistanceKm(pos, req.Pickup.Coordinates), true
}

func (r *Reporter) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.push(ctx)
		}
	}
}

// push sends the latest position once per interval. The server expects a
// heartbeat, so an unchanged position is resent.
func (r *Reporter) push(ctx context.Context) {
	if r.online != nil && !r.online() {
		return
	}
	pos, _, ok := r.Latest()
	if !ok {
		return
	}
	cctx, cancel := context.WithTimeout(ctx, r.interval)
	defer cancel()
	err := r.src.UpdateLocation(cctx, pos)

	r.mu.Lock()
	prevErr := r.lastErr
	r.lastErr = err
	r.mu.Unlock()

	if err != nil {
		// log only the first failure of a streak
		if prevErr == nil {
			r.log.Warn("location update failed", "error", err)
		}
		return
	}
	if prevErr != nil {
		r.log.Info("location updates recovered")
	}
}
