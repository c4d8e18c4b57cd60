package billing

import (
	"context"
	"fmt"
	"time"

	"github.com/fgb-andu/hustl-entitlements/pkg/entitlement"
	"golang.org/x/sync/singleflight"
)

// restoreReconciler re-synchronizes local entitlement state from the
// backend's source of truth. Concurrent restores coalesce into one flight;
// sequential restores converge to the same record (the backend is the
// single source of truth, so restore is idempotent by construction).
type restoreReconciler struct {
	gw       entitlement.Gateway
	resolver *entitlementResolver
	events   *emitter

	group singleflight.Group
}

func (r *restoreReconciler) restore(ctx context.Context) (entitlement.OwnershipRecord, error) {
	// Fence on the resolver generation observed at the start: a restore
	// that races an identity switch must not install the old identity's
	// record into the new identity's cache or snapshot row.
	gen := r.resolver.generation()
	owner := r.resolver.identity()

	restoreCtx := context.WithoutCancel(ctx)
	ch := r.group.DoChan(fmt.Sprintf("restore:%d", gen), func() (interface{}, error) {
		rec, err := r.gw.Restore(restoreCtx)
		if err != nil {
			// A failed restore must not downgrade a user who was already
			// known to be entitled: prior cached state stays untouched.
			r.events.emit(componentRestore, "restore", outcomeError, entitlement.KindOf(err))
			if entitlement.KindOf(err) == entitlement.KindRestoreUnavailable {
				return nil, err
			}
			return nil, entitlement.NewError(entitlement.KindRestoreUnavailable, "restore", err)
		}
		if rec.FetchedAt.IsZero() {
			rec.FetchedAt = time.Now().UTC()
		}

		// Restore exists precisely to repair stale local state, so the
		// cache is repopulated unconditionally (modulo the generation
		// fence) before the result reaches any caller.
		r.resolver.install(rec, gen, owner)
		r.events.emit(componentRestore, "restore", outcomeOK, "")
		return rec, nil
	})

	select {
	case <-ctx.Done():
		// The wait is abandoned; the underlying restore may still complete
		// and repair the cache for the next reader.
		return entitlement.OwnershipRecord{}, entitlement.NewError(entitlement.KindRestoreUnavailable, "restore", ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return entitlement.OwnershipRecord{}, res.Err
		}
		return res.Val.(entitlement.OwnershipRecord).Clone(), nil
	}
}
