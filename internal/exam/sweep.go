package exam

import (
	"context"
	"log"
	"time"

	"github.com/certhub/certhub-platform/internal/clock"
)

// Sweeper periodically auto-submits in-progress attempts whose deadline has
// passed. Lazy expiry in View/RecordAnswer/Submit is the correctness
// mechanism; the sweep only settles attempts nobody polls again, so reporting
// doesn't show them in progress forever.
type Sweeper struct {
	svc      *Service
	store    Store
	clk      clock.Clock
	interval time.Duration
	batch    int
}

func NewSweeper(svc *Service, store Store, clk clock.Clock, interval time.Duration) *Sweeper {
	return &Sweeper{svc: svc, store: store, clk: clk, interval: interval, batch: 100}
}

// Run blocks until ctx is done.
func (s *Sweeper) Run(ctx context.Context) {
	t := time.NewTicker(s.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			s.sweep(ctx)
		}
	}
}

func (s *Sweeper) sweep(ctx context.Context) {
	ids, err := s.store.ExpiredInProgress(ctx, s.clk.Now(), s.batch)
	if err != nil {
		log.Printf("sweep: list expired attempts: %v", err)
		return
	}
	for _, id := range ids {
		if _, err := s.svc.Submit(ctx, id, TriggerTimeout); err != nil {
			log.Printf("sweep: auto-submit attempt %s: %v", id, err)
		}
	}
}
