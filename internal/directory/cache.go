package directory

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/tagentic/gateway/internal/message"
)

// snapshot is one immutable refresh result. Readers get the whole slice
// or nothing; there is never a partially updated view.
type snapshot struct {
	apps        []message.ApplicationInfo
	refreshedAt time.Time
}

// InfoCache serves application display metadata without putting a vendor
// round-trip on the request path. A background loop refreshes all
// applications concurrently and swaps in the new snapshot atomically.
//
// Per-application Info failures do not poison the snapshot: adapters
// degrade to a placeholder instead of erroring, so a flaky vendor shows
// up as "Unknown Application" rather than vanishing from the list.
type InfoCache struct {
	dir           *Directory
	ttl           time.Duration
	log           zerolog.Logger
	refreshErrors prometheus.Counter

	current atomic.Pointer[snapshot]
}

// NewInfoCache builds the cache. refreshErrors may be nil when metrics
// are not wired.
func NewInfoCache(dir *Directory, ttl time.Duration, log zerolog.Logger, refreshErrors prometheus.Counter) *InfoCache {
	if ttl <= 0 {
		ttl = time.Minute
	}
	c := &InfoCache{
		dir:           dir,
		ttl:           ttl,
		log:           log.With().Str("component", "info_cache").Logger(),
		refreshErrors: refreshErrors,
	}
	c.current.Store(&snapshot{})
	return c
}

// Refresh fetches metadata for every application concurrently and
// publishes the result. Results land by index so the published order
// always matches configuration order.
func (c *InfoCache) Refresh(ctx context.Context) error {
	instances := c.dir.Instances()
	apps := make([]message.ApplicationInfo, len(instances))

	g, gctx := errgroup.WithContext(ctx)
	for i, inst := range instances {
		g.Go(func() error {
			info, err := inst.Vendor.Info(gctx)
			if err != nil {
				// Adapters are expected to degrade instead; a hard error
				// here still must not blank the entry.
				c.log.Error().Err(err).Str("application_id", inst.ApplicationID).Msg("fetching application info")
				if c.refreshErrors != nil {
					c.refreshErrors.Inc()
				}
				info = message.ApplicationInfo{
					ApplicationID: inst.ApplicationID,
					Name:          "Unknown Application",
				}
			}
			apps[i] = info
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	c.current.Store(&snapshot{apps: apps, refreshedAt: time.Now()})
	c.log.Debug().Int("applications", len(apps)).Msg("metadata snapshot refreshed")
	return nil
}

// Run refreshes on the TTL interval until ctx is cancelled. The caller
// performs one synchronous Refresh before serving traffic so the first
// snapshot is never empty.
func (c *InfoCache) Run(ctx context.Context) {
	ticker := time.NewTicker(c.ttl)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.Refresh(ctx); err != nil {
				c.log.Error().Err(err).Msg("refreshing metadata snapshot")
			}
		}
	}
}

// Apps returns the current snapshot's application list. The slice is
// shared with the snapshot and must not be mutated.
func (c *InfoCache) Apps() []message.ApplicationInfo {
	return c.current.Load().apps
}

// RefreshedAt reports when the current snapshot was published; zero
// before the first successful refresh.
func (c *InfoCache) RefreshedAt() time.Time {
	return c.current.Load().refreshedAt
}
