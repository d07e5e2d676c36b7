package jit

import (
	"context"
	"log"
	"time"

	"github.com/halcyon-sec/pamgate/internal/store"
)

// Sweeper periodically expires approved-but-unused requests. It runs
// independently of request handling on its own store handle; each sweep is a
// single batch transaction. The sweeper never blocks a session from starting:
// session start re-checks freshness itself at the moment of use.
type Sweeper struct {
	store    *store.Store
	interval time.Duration
}

// NewSweeper creates a Sweeper. A non-positive interval falls back to one
// minute.
func NewSweeper(st *store.Store, interval time.Duration) *Sweeper {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Sweeper{store: st, interval: interval}
}

// Run sweeps on the configured interval until ctx is cancelled. The ticker is
// always released on return.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep()
		}
	}
}

func (s *Sweeper) sweep() {
	n, err := s.store.ExpireStaleRequests()
	if err != nil {
		log.Printf("jit sweep failed: %v", err)
		return
	}
	if n > 0 {
		log.Printf("jit sweep expired %d request(s)", n)
	}
}
