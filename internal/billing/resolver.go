package billing

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/fgb-andu/hustl-entitlements/internal/billing/snapshot"
	"github.com/fgb-andu/hustl-entitlements/pkg/entitlement"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"
)

// entitlementResolver maintains one cached ownership record per bound
// identity. Invalidation bumps the generation; a read after a known
// mutation therefore always refetches, and flights started before the
// mutation cannot repopulate the cache.
type entitlementResolver struct {
	gw        entitlement.Gateway
	snapshots *snapshot.Store
	events    *emitter
	identity  func() string

	group singleflight.Group

	mu     sync.Mutex
	gen    uint64
	cached *entitlement.OwnershipRecord
}

func (r *entitlementResolver) invalidate() {
	r.mu.Lock()
	r.gen++
	r.cached = nil
	r.mu.Unlock()
}

func (r *entitlementResolver) generation() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.gen
}

// install replaces the cache with a record obtained outside the normal
// fetch path (restore). The write is fenced on the generation observed
// when the operation started: if the identity switched or another
// mutation landed meanwhile, the record is discarded and the next read
// refetches instead.
func (r *entitlementResolver) install(rec entitlement.OwnershipRecord, gen uint64, owner string) bool {
	r.mu.Lock()
	if r.gen != gen {
		r.mu.Unlock()
		return false
	}
	r.gen++
	cached := rec.Clone()
	r.cached = &cached
	r.mu.Unlock()
	r.persist(owner, rec)
	return true
}

func (r *entitlementResolver) get(ctx context.Context, force bool) (entitlement.OwnershipRecord, error) {
	r.mu.Lock()
	if r.cached != nil && !force {
		out := r.cached.Clone()
		r.mu.Unlock()
		return out, nil
	}
	gen := r.gen
	r.mu.Unlock()
	owner := r.identity()

	fetchCtx := context.WithoutCancel(ctx)
	ch := r.group.DoChan(fmt.Sprintf("ownership:%d", gen), func() (interface{}, error) {
		rec, err := r.gw.FetchOwnership(fetchCtx)
		if err != nil {
			r.events.emit(componentResolver, "fetch_ownership", outcomeError, entitlement.KindOf(err))
			return nil, err
		}
		if rec.FetchedAt.IsZero() {
			rec.FetchedAt = time.Now().UTC()
		}

		r.mu.Lock()
		current := r.gen == gen
		if current {
			cached := rec.Clone()
			r.cached = &cached
		}
		r.mu.Unlock()
		// The persist is fenced like the cache install, and keyed by the
		// identity bound when the fetch began: a fetch that straddles an
		// identity switch must not land under the new identity's snapshot.
		if current {
			r.persist(owner, rec)
		}
		r.events.emit(componentResolver, "fetch_ownership", outcomeOK, "")
		return rec, nil
	})

	select {
	case <-ctx.Done():
		return entitlement.OwnershipRecord{}, classify("fetch_ownership", ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return r.degrade(res.Err)
		}
		return res.Val.(entitlement.OwnershipRecord).Clone(), nil
	}
}

// degrade serves the freshest fallback available after a failed fetch:
// the in-memory cache (a forced refresh that failed), then the persisted
// snapshot for the bound identity, then the classified error.
func (r *entitlementResolver) degrade(fetchErr error) (entitlement.OwnershipRecord, error) {
	r.mu.Lock()
	if r.cached != nil {
		out := r.cached.Clone()
		r.mu.Unlock()
		log.Warn().Err(fetchErr).Msg("Ownership refresh failed, serving cached record")
		return out, nil
	}
	r.mu.Unlock()

	if r.snapshots != nil {
		if id := r.identity(); id != "" {
			rec, ok, err := r.snapshots.Load(id)
			if err != nil {
				log.Warn().Err(err).Msg("Ownership snapshot load failed")
			} else if ok {
				log.Warn().Err(fetchErr).Msg("Ownership fetch failed, serving persisted snapshot")
				return rec, nil
			}
		}
	}
	return entitlement.OwnershipRecord{}, classify("fetch_ownership", fetchErr)
}

// persist writes the record to the snapshot store under the identity that
// owned the fetch. Best effort; anonymous sessions are not persisted.
func (r *entitlementResolver) persist(owner string, rec entitlement.OwnershipRecord) {
	if r.snapshots == nil || owner == "" {
		return
	}
	if err := r.snapshots.Save(owner, rec); err != nil {
		log.Warn().Err(err).Msg("Ownership snapshot save failed")
	}
}
