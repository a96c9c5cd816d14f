package sweep

import (
	"context"
	"log"
	"time"

	"labreserve-backend/internal/engine"
	"labreserve-backend/internal/store"
)

// Config controls the expiry sweep loop.
type Config struct {
	Enabled  bool
	Interval time.Duration
}

// Service is the background task that demotes stale reservations:
// every tick it expires active reservations whose end time has passed
// and frees their computers. A failed tick is logged and retried on the
// next one; it is never fatal.
type Service struct {
	cfg   Config
	store store.Store
	sink  engine.Sink
	now   func() time.Time
}

// NewService creates the sweep service. now may be nil to use time.Now;
// sink may be nil to skip availability notifications.
func NewService(cfg Config, s store.Store, sink engine.Sink, now func() time.Time) *Service {
	if cfg.Interval <= 0 {
		cfg.Interval = 60 * time.Second
	}
	if now == nil {
		now = time.Now
	}
	return &Service{cfg: cfg, store: s, sink: sink, now: now}
}

// Run starts the sweep loop. It sweeps once immediately, then on every
// interval tick until the context is cancelled.
func (s *Service) Run(ctx context.Context) {
	if !s.cfg.Enabled {
		log.Println("Expiry sweep is disabled. Not starting.")
		return
	}
	log.Printf("Starting expiry sweep (interval %s)...", s.cfg.Interval)

	s.SweepOnce(ctx)

	timer := time.NewTimer(s.cfg.Interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("Expiry sweep shutting down.")
			return
		case <-timer.C:
			s.SweepOnce(ctx)
			timer.Reset(s.cfg.Interval)
		}
	}
}

// SweepOnce performs a single expiry pass. Safe to call concurrently
// with admissions and safe to repeat: an already-expired reservation is
// a no-op.
func (s *Service) SweepOnce(ctx context.Context) {
	freed, err := s.store.ExpireOverdue(ctx, s.now())
	if err != nil {
		log.Printf("Expiry sweep failed, will retry on next tick: %v", err)
		return
	}

	if len(freed) > 0 {
		log.Printf("Expiry sweep freed %d computer(s)", len(freed))
	}
	if s.sink == nil {
		return
	}
	for _, computerID := range freed {
		s.sink.Emit(engine.Event{Type: engine.EventComputerAvailable, ComputerID: computerID})
	}
}
