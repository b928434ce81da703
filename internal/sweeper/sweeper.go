// Package sweeper expires overdue tasks in the background so the
// clients never have to compute deadline state themselves.
package sweeper

import (
	"context"
	"log"
	"sync"
	"time"

	"taskdesk/internal/cache"
	"taskdesk/internal/models"
	"taskdesk/internal/store"
)

// Sweeper runs ExpireOverdue on a fixed interval.
type Sweeper struct {
	store    *store.Store
	cache    *cache.Cache
	interval time.Duration

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a sweeper. c may be nil. A non-positive interval falls
// back to one minute.
func New(st *store.Store, c *cache.Cache, interval time.Duration) *Sweeper {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Sweeper{store: st, cache: c, interval: interval}
}

// Start launches the background loop.
func (s *Sweeper) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.sweep(ctx)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop cancels the loop and waits for it to exit.
func (s *Sweeper) Stop() {
	if s.cancel != nil {
		s.cancel()
		s.wg.Wait()
	}
}

// Sweep runs one pass immediately. Exposed for the CLI and tests.
func (s *Sweeper) Sweep(ctx context.Context) ([]*models.Task, error) {
	expired, err := s.store.ExpireOverdue(ctx)
	if err != nil {
		return nil, err
	}
	if len(expired) > 0 && s.cache != nil {
		s.cache.InvalidateByTag("tasks")
		s.cache.InvalidateByTag("stats")
	}
	return expired, nil
}

func (s *Sweeper) sweep(ctx context.Context) {
	expired, err := s.Sweep(ctx)
	if err != nil {
		log.Printf("sweeper: %v", err)
		return
	}
	for _, t := range expired {
		log.Printf("sweeper: expired %s (%s)", t.TaskID, t.Title)
	}
}
