// Package scheduler periodically crawls sources whose check interval has
// elapsed.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"sitewatch/internal/storage"
)

// Crawler is the single-source crawl operation driven by the scheduler.
type Crawler interface {
	CrawlSource(ctx context.Context, sourceID uuid.UUID) (int, error)
}

// Scheduler runs due-source crawls on a fixed tick. Sources are crawled
// concurrently; each source's crawl is an independent sequential unit.
type Scheduler struct {
	store   storage.Storage
	crawler Crawler
	log     *slog.Logger
	tick    time.Duration
}

// New creates a Scheduler.
func New(store storage.Storage, crawler Crawler, log *slog.Logger, tick time.Duration) *Scheduler {
	return &Scheduler{
		store:   store,
		crawler: crawler,
		log:     log,
		tick:    tick,
	}
}

// Run starts the scheduler loop, blocking until ctx is cancelled. A crawl
// cycle runs immediately on startup, then on every tick.
func (s *Scheduler) Run(ctx context.Context) {
	s.crawlDue(ctx)

	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.crawlDue(ctx)
		}
	}
}

// crawlDue fans out one goroutine per due source and waits for the cycle
// to finish. A failing source only affects itself.
func (s *Scheduler) crawlDue(ctx context.Context) {
	sources, err := s.store.ListDueSources(ctx)
	if err != nil {
		s.log.Error("list due sources", "error", err)
		return
	}
	if len(sources) == 0 {
		return
	}

	s.log.Debug("crawl cycle starting", "sources", len(sources))

	var wg sync.WaitGroup
	for _, src := range sources {
		if ctx.Err() != nil {
			break
		}
		wg.Add(1)
		go func(id uuid.UUID, name string) {
			defer wg.Done()
			count, err := s.crawler.CrawlSource(ctx, id)
			if err != nil {
				s.log.Error("crawl source", "source_id", id, "name", name, "error", err)
				return
			}
			if count > 0 {
				s.log.Info("new items discovered", "source_id", id, "name", name, "count", count)
			}
		}(src.ID, src.Name)
	}
	wg.Wait()

	s.log.Debug("crawl cycle complete")
}
