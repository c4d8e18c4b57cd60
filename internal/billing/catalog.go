package billing

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/fgb-andu/hustl-entitlements/pkg/entitlement"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"
)

// offeringCache caches the sellable catalog. Concurrent fetches are
// coalesced; the cache is valid until invalidated (identity switch) or a
// forced refresh.
type offeringCache struct {
	gw     entitlement.Gateway
	events *emitter
	maxAge time.Duration

	group singleflight.Group

	mu        sync.Mutex
	gen       uint64
	cached    *entitlement.Offerings
	fetchedAt time.Time
}

func (c *offeringCache) invalidate() {
	c.mu.Lock()
	c.gen++
	c.cached = nil
	c.mu.Unlock()
}

func (c *offeringCache) get(ctx context.Context, force bool) (entitlement.Offerings, error) {
	c.mu.Lock()
	if c.cached != nil && !force {
		out := c.cached.Clone()
		c.mu.Unlock()
		return out, nil
	}
	gen := c.gen
	c.mu.Unlock()

	// The flight runs detached from the caller's context so a caller
	// timeout abandons the wait without killing the fetch; the completed
	// fetch still populates the cache for the next reader. The generation
	// key fences out flights started before an invalidation.
	fetchCtx := context.WithoutCancel(ctx)
	ch := c.group.DoChan(fmt.Sprintf("offerings:%d", gen), func() (interface{}, error) {
		offs, err := c.gw.FetchOfferings(fetchCtx)
		if err != nil {
			c.events.emit(componentCatalog, "fetch_offerings", outcomeError, entitlement.KindOf(err))
			return nil, err
		}
		if err := offs.Validate(); err != nil {
			// A partially populated offering is never served.
			c.events.emit(componentCatalog, "fetch_offerings", outcomeRejected, entitlement.KindCatalogUnavailable)
			return nil, entitlement.NewError(entitlement.KindCatalogUnavailable, "fetch_offerings", err)
		}

		c.mu.Lock()
		if c.gen == gen {
			cached := offs.Clone()
			c.cached = &cached
			c.fetchedAt = time.Now()
		}
		c.mu.Unlock()
		c.events.emit(componentCatalog, "fetch_offerings", outcomeOK, "")
		return offs, nil
	})

	select {
	case <-ctx.Done():
		return entitlement.Offerings{}, entitlement.NewError(entitlement.KindCatalogUnavailable, "fetch_offerings", ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			// Serve the last good catalog when policy allows.
			c.mu.Lock()
			if c.cached != nil && (c.maxAge <= 0 || time.Since(c.fetchedAt) <= c.maxAge) {
				out := c.cached.Clone()
				c.mu.Unlock()
				log.Warn().Err(res.Err).Msg("Catalog refresh failed, serving cached offerings")
				return out, nil
			}
			c.mu.Unlock()
			if entitlement.KindOf(res.Err) == entitlement.KindCatalogUnavailable {
				return entitlement.Offerings{}, res.Err
			}
			return entitlement.Offerings{}, entitlement.NewError(entitlement.KindCatalogUnavailable, "fetch_offerings", res.Err)
		}
		return res.Val.(entitlement.Offerings).Clone(), nil
	}
}
