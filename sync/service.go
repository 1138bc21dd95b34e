package sync

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"basetip/cache"
	"basetip/creator"
	"basetip/observability"
	"basetip/slugindex"
)

// DefaultRefreshInterval paces the periodic invalidation of cached views.
const DefaultRefreshInterval = 5 * time.Minute

// Ledger is the subset of the registry fetcher the service depends on.
type Ledger interface {
	FetchAll(ctx context.Context) ([]creator.Record, error)
	FetchCreator(ctx context.Context, addr common.Address) (creator.Record, error)
	FetchStats(ctx context.Context) (creator.GlobalStats, error)
	ScanRegistrations(ctx context.Context) ([]creator.Record, error)
}

// CreatorList is the merged creator view. Offline marks a list assembled from
// cache after a failed live fetch.
type CreatorList struct {
	Creators []creator.Record
	Offline  bool
}

// Service orchestrates the cache store, slug index, and registry fetchers
// behind cache-first reads with write-through on successful fetches.
type Service struct {
	store   *cache.Store
	index   *slugindex.Index
	ledger  Ledger
	bus     *Bus
	demo    []creator.Record
	refresh time.Duration
	now     func() time.Time
	log     *slog.Logger
	metrics *observability.SyncMetrics
}

// ServiceOption customises a Service.
type ServiceOption func(*Service)

// WithBus shares an externally created invalidation bus.
func WithBus(bus *Bus) ServiceOption {
	return func(s *Service) { s.bus = bus }
}

// WithDemoSet overrides the seeded demo creators.
func WithDemoSet(demo []creator.Record) ServiceOption {
	return func(s *Service) { s.demo = demo }
}

// WithRefreshInterval overrides the periodic invalidation cadence.
func WithRefreshInterval(d time.Duration) ServiceOption {
	return func(s *Service) {
		if d > 0 {
			s.refresh = d
		}
	}
}

// WithServiceClock overrides the time source, for tests.
func WithServiceClock(now func() time.Time) ServiceOption {
	return func(s *Service) { s.now = now }
}

// WithServiceLogger overrides the logger.
func WithServiceLogger(log *slog.Logger) ServiceOption {
	return func(s *Service) {
		if log != nil {
			s.log = log
		}
	}
}

// WithMetrics overrides the metrics sink. Passing nil disables recording.
func WithMetrics(m *observability.SyncMetrics) ServiceOption {
	return func(s *Service) { s.metrics = m }
}

// NewService wires a Service over its collaborators.
func NewService(store *cache.Store, index *slugindex.Index, ledger Ledger, opts ...ServiceOption) *Service {
	s := &Service{
		store:   store,
		index:   index,
		ledger:  ledger,
		bus:     NewBus(),
		refresh: DefaultRefreshInterval,
		now:     time.Now,
		log:     slog.Default(),
		metrics: observability.Sync(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.demo == nil {
		s.demo = creator.DemoSet(s.now())
	}
	return s
}

// Bus exposes the invalidation bus for additional subscribers such as the
// gateway update stream.
func (s *Service) Bus() *Bus {
	if s == nil {
		return nil
	}
	return s.bus
}

// Creators returns the merged creator list. Unless forced, fresh cached
// records short-circuit the live fetch. A failed fetch degrades to whatever
// the cache still holds, flagged Offline.
func (s *Service) Creators(ctx context.Context, force bool) CreatorList {
	if !force {
		if cached := s.store.FreshCreators(ctx); len(cached) > 0 {
			s.metrics.CacheHit()
			return CreatorList{Creators: creator.Merge(cached, s.demo)}
		}
	}

	start := s.now()
	live, err := s.ledger.FetchAll(ctx)
	s.metrics.ObserveFetch("creators", err, s.now().Sub(start))
	if err != nil {
		s.log.Warn("live creator fetch failed, serving cache", "error", err)
		s.metrics.CacheFallback()
		cached := s.store.FreshCreators(ctx)
		for i := range cached {
			cached[i].Source = creator.SourceCache
		}
		return CreatorList{Creators: creator.Merge(cached, s.demo), Offline: true}
	}

	s.storeCreators(ctx, live)
	return CreatorList{Creators: creator.Merge(live, s.demo)}
}

// CreatorBySlug resolves a single creator. Resolution order: slug index with
// a fresh cached profile, a live single fetch, the cache's own slug lookup,
// then the demo set for demo-prefixed slugs.
func (s *Service) CreatorBySlug(ctx context.Context, slug string) (creator.Record, bool) {
	if entry, ok := s.index.Lookup(slug); ok {
		if rec, ok := s.store.CreatorByAddress(ctx, entry.Address); ok {
			s.metrics.CacheHit()
			return rec, true
		}
		start := s.now()
		rec, err := s.ledger.FetchCreator(ctx, entry.Address)
		s.metrics.ObserveFetch("creator", err, s.now().Sub(start))
		if err == nil {
			s.storeCreators(ctx, []creator.Record{rec})
			return rec, true
		}
		s.log.Warn("single creator fetch failed", "slug", slug, "error", err)
	}

	if m, ok := s.store.SlugMapping(ctx, slug); ok {
		if rec, ok := s.store.CreatorByAddress(ctx, m.Address); ok {
			s.metrics.CacheHit()
			return rec, true
		}
	}

	if rec, ok := s.store.CreatorBySlug(ctx, slug); ok {
		s.metrics.CacheHit()
		return rec, true
	}

	if raw, ok := strings.CutPrefix(slug, creator.DemoSlugPrefix); ok {
		for _, rec := range s.demo {
			if rec.Slug == raw {
				rec.Slug = slug
				rec.Source = creator.SourceDemo
				return rec, true
			}
		}
	}
	return creator.Record{}, false
}

// Stats returns the registry aggregate snapshot. The second result reports
// whether the snapshot was served from cache after a failed fetch. When the
// fetch fails and the cache holds no fresh snapshot there is nothing truthful
// to serve, so the fetch error is returned instead of a zero snapshot.
func (s *Service) Stats(ctx context.Context, force bool) (creator.GlobalStats, bool, error) {
	if !force {
		if stats, ok := s.store.FreshGlobalStats(ctx); ok {
			s.metrics.CacheHit()
			return stats, false, nil
		}
	}

	start := s.now()
	stats, err := s.ledger.FetchStats(ctx)
	s.metrics.ObserveFetch("stats", err, s.now().Sub(start))
	if err != nil {
		s.log.Warn("stats fetch failed, serving cache", "error", err)
		s.metrics.CacheFallback()
		cached, ok := s.store.FreshGlobalStats(ctx)
		if !ok {
			return creator.GlobalStats{}, true, fmt.Errorf("fetch stats: %w", err)
		}
		return cached, true, nil
	}

	s.store.PutGlobalStats(ctx, s.store.NextSeq(), stats)
	return stats, false, nil
}

// Backfill seeds the cache from recent registration events. Used at startup
// so slugs resolve before the first full fetch completes.
func (s *Service) Backfill(ctx context.Context) error {
	start := s.now()
	recs, err := s.ledger.ScanRegistrations(ctx)
	s.metrics.ObserveFetch("registrations", err, s.now().Sub(start))
	if err != nil {
		return err
	}
	s.storeCreators(ctx, recs)
	return nil
}

// HandleRegistration absorbs a live registration event: the already-refetched
// profile is written through, then both views are invalidated.
func (s *Service) HandleRegistration(rec creator.Record) {
	ctx := context.Background()
	s.storeCreators(ctx, []creator.Record{rec})
	s.metrics.RegistrationEvent()
	s.bus.Publish(Notice{View: ViewCreators, Creator: &rec})
	s.bus.Publish(Notice{View: ViewStats})
}

// Run drives the periodic refresh loop. It is the sole notice consumer that
// triggers refetches; other subscribers observe notices without acting on the
// cache. Run blocks until the context is cancelled.
func (s *Service) Run(ctx context.Context) {
	sub := s.bus.Subscribe()
	defer s.bus.Unsubscribe(sub)

	ticker := time.NewTicker(s.refresh)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.metrics.SweepRemoved(s.store.SweepExpired(ctx))
			s.bus.Publish(Notice{View: ViewCreators})
			s.bus.Publish(Notice{View: ViewStats})
		case n, ok := <-sub:
			if !ok {
				return
			}
			s.consume(ctx, n)
		}
	}
}

func (s *Service) consume(ctx context.Context, n Notice) {
	switch n.View {
	case ViewCreators:
		// Event notices carry a profile that was already written through.
		if n.Creator == nil {
			s.Creators(ctx, true)
		}
	case ViewStats:
		s.Stats(ctx, true)
	}
}

func (s *Service) storeCreators(ctx context.Context, recs []creator.Record) {
	if len(recs) == 0 {
		return
	}
	seq := s.store.NextSeq()
	for i := range recs {
		recs[i].Slug = s.index.Add(recs[i].Slug, recs[i].Address, recs[i].Name)
		s.store.PutSlugMapping(ctx, seq, cache.Mapping{
			Slug:    recs[i].Slug,
			Address: recs[i].Address,
			Name:    recs[i].Name,
		})
	}
	s.store.PutCreators(ctx, seq, recs)
}
