// Package mockgateway provides a deterministic in-memory billing gateway
// for development and demos. It sells the hustl catalog, applies purchase
// effects locally, and honors attempt-token idempotency, so the full
// manager stack runs with no backend.
package mockgateway

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/fgb-andu/hustl-entitlements/pkg/entitlement"
)

// packageEffect describes what buying a package grants.
type packageEffect struct {
	premium  time.Duration // premium duration granted, 0 for none
	credits  int64         // task credits added
	product  entitlement.Product
	periodic entitlement.BillingPeriod
}

// Gateway is an in-memory entitlement.Gateway. Safe for concurrent use.
type Gateway struct {
	mu          sync.Mutex
	configured  bool
	userID      string
	subscribers map[string]*subscriberState
	processed   map[string]string // attempt token -> package id
	effects     map[string]packageEffect
	offerings   entitlement.Offerings
	now         func() time.Time
}

type subscriberState struct {
	premiumUntil time.Time
	credits      int64
}

// New builds a gateway selling the standard hustl catalog.
func New() *Gateway {
	g := &Gateway{
		subscribers: make(map[string]*subscriberState),
		processed:   make(map[string]string),
		effects:     make(map[string]packageEffect),
		now:         time.Now,
	}
	g.seedCatalog()
	return g
}

func (g *Gateway) seedCatalog() {
	add := func(pkgID string, effect packageEffect) {
		g.effects[pkgID] = effect
	}

	monthly := entitlement.Product{
		ID:          entitlement.ProductPremiumMonthly,
		Title:       "Hustl Premium (Monthly)",
		AmountCents: 999,
		Currency:    "USD",
		Period:      entitlement.PeriodMonthly,
	}
	yearly := entitlement.Product{
		ID:          entitlement.ProductPremiumYearly,
		Title:       "Hustl Premium (Yearly)",
		AmountCents: 7999,
		Currency:    "USD",
		Period:      entitlement.PeriodYearly,
	}
	credits := func(id string, n int64, cents int64) entitlement.Product {
		return entitlement.Product{
			ID:          id,
			Title:       fmt.Sprintf("%d Task Credits", n),
			AmountCents: cents,
			Currency:    "USD",
			Period:      entitlement.PeriodOneTime,
		}
	}

	add("monthly", packageEffect{premium: 31 * 24 * time.Hour, product: monthly, periodic: entitlement.PeriodMonthly})
	add("yearly", packageEffect{premium: 366 * 24 * time.Hour, product: yearly, periodic: entitlement.PeriodYearly})
	add("credits_10", packageEffect{credits: 10, product: credits(entitlement.ProductTaskCredits10, 10, 499), periodic: entitlement.PeriodOneTime})
	add("credits_50", packageEffect{credits: 50, product: credits(entitlement.ProductTaskCredits50, 50, 1999), periodic: entitlement.PeriodOneTime})
	add("credits_100", packageEffect{credits: 100, product: credits(entitlement.ProductTaskCredits100, 100, 3499), periodic: entitlement.PeriodOneTime})

	packages := make([]entitlement.Package, 0, len(g.effects))
	for _, id := range []string{"monthly", "yearly", "credits_10", "credits_50", "credits_100"} {
		effect := g.effects[id]
		packages = append(packages, entitlement.Package{
			ID:      id,
			Period:  effect.periodic,
			Product: effect.product,
		})
	}

	g.offerings = entitlement.Offerings{
		All: map[string]entitlement.Offering{
			"default": {
				ID:       "default",
				Version:  "1",
				Packages: packages,
			},
		},
		CurrentID: "default",
	}
}

// Configure records the initial identity. The API key is ignored.
func (g *Gateway) Configure(_ context.Context, _ string, appUserID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.configured = true
	g.userID = appUserID
	g.ensureSubscriberLocked(appUserID)
	log.Debug().Str("user_id", appUserID).Msg("Mock billing gateway configured")
	return nil
}

// Identify switches the active subscriber.
func (g *Gateway) Identify(_ context.Context, userID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.userID = userID
	g.ensureSubscriberLocked(userID)
	return nil
}

// Logout returns the gateway to the anonymous subscriber.
func (g *Gateway) Logout(_ context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.userID = ""
	g.ensureSubscriberLocked("")
	return nil
}

// FetchOfferings returns the seeded catalog.
func (g *Gateway) FetchOfferings(_ context.Context) (entitlement.Offerings, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.offerings.Clone(), nil
}

// ExecutePurchase applies the package's effect to the active subscriber.
// A previously processed attempt token returns the current record without
// applying the effect again.
func (g *Gateway) ExecutePurchase(_ context.Context, packageID, attemptToken string) (entitlement.OwnershipRecord, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	effect, ok := g.effects[packageID]
	if !ok {
		return entitlement.OwnershipRecord{}, entitlement.NewError(entitlement.KindProductUnavailable, "mock.execute_purchase",
			fmt.Errorf("unknown package %q", packageID))
	}

	state := g.ensureSubscriberLocked(g.userID)

	if prior, seen := g.processed[attemptToken]; seen {
		if prior != packageID {
			return entitlement.OwnershipRecord{}, entitlement.NewError(entitlement.KindUnknown, "mock.execute_purchase",
				fmt.Errorf("attempt token reused for a different package"))
		}
		return g.recordLocked(state), nil
	}

	now := g.now()
	if effect.premium > 0 {
		base := now
		if state.premiumUntil.After(now) {
			base = state.premiumUntil
		}
		state.premiumUntil = base.Add(effect.premium)
	}
	state.credits += effect.credits

	if attemptToken != "" {
		g.processed[attemptToken] = packageID
	}
	return g.recordLocked(state), nil
}

// FetchOwnership returns the active subscriber's record.
func (g *Gateway) FetchOwnership(_ context.Context) (entitlement.OwnershipRecord, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.recordLocked(g.ensureSubscriberLocked(g.userID)), nil
}

// Restore behaves like FetchOwnership; local state is the source of truth.
func (g *Gateway) Restore(ctx context.Context) (entitlement.OwnershipRecord, error) {
	return g.FetchOwnership(ctx)
}

// GrantPremium marks the given user premium until the given time. Test and
// demo hook.
func (g *Gateway) GrantPremium(userID string, until time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.ensureSubscriberLocked(userID).premiumUntil = until
}

func (g *Gateway) ensureSubscriberLocked(userID string) *subscriberState {
	state, ok := g.subscribers[userID]
	if !ok {
		state = &subscriberState{}
		g.subscribers[userID] = state
	}
	return state
}

func (g *Gateway) recordLocked(state *subscriberState) entitlement.OwnershipRecord {
	now := g.now()
	rec := entitlement.OwnershipRecord{
		Entitlements: make(map[string]entitlement.EntitlementStatus, 2),
		FetchedAt:    now.UTC(),
	}

	if state.premiumUntil.After(now) {
		expires := state.premiumUntil
		rec.Entitlements[entitlement.EntitlementPremium] = entitlement.EntitlementStatus{
			Active:    true,
			ExpiresAt: &expires,
		}
	}
	if state.credits > 0 {
		value := state.credits
		rec.Entitlements[entitlement.EntitlementTaskCredits] = entitlement.EntitlementStatus{
			Active: true,
			Value:  &value,
		}
	}
	return rec
}
