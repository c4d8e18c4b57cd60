package billing

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/fgb-andu/hustl-entitlements/pkg/entitlement"
)

// stubGateway implements entitlement.Gateway for tests. Each method counts
// invocations and delegates to an overridable func, defaulting to a happy
// path with a small fixed catalog and an empty ownership record.
type stubGateway struct {
	configureFn func(ctx context.Context, apiKey, appUserID string) error
	identifyFn  func(ctx context.Context, userID string) error
	logoutFn    func(ctx context.Context) error
	offeringsFn func(ctx context.Context) (entitlement.Offerings, error)
	purchaseFn  func(ctx context.Context, packageID, attemptToken string) (entitlement.OwnershipRecord, error)
	ownershipFn func(ctx context.Context) (entitlement.OwnershipRecord, error)
	restoreFn   func(ctx context.Context) (entitlement.OwnershipRecord, error)

	configureCalls atomic.Int32
	identifyCalls  atomic.Int32
	logoutCalls    atomic.Int32
	offeringsCalls atomic.Int32
	purchaseCalls  atomic.Int32
	ownershipCalls atomic.Int32
	restoreCalls   atomic.Int32
}

func (g *stubGateway) Configure(ctx context.Context, apiKey, appUserID string) error {
	g.configureCalls.Add(1)
	if g.configureFn != nil {
		return g.configureFn(ctx, apiKey, appUserID)
	}
	return nil
}

func (g *stubGateway) Identify(ctx context.Context, userID string) error {
	g.identifyCalls.Add(1)
	if g.identifyFn != nil {
		return g.identifyFn(ctx, userID)
	}
	return nil
}

func (g *stubGateway) Logout(ctx context.Context) error {
	g.logoutCalls.Add(1)
	if g.logoutFn != nil {
		return g.logoutFn(ctx)
	}
	return nil
}

func (g *stubGateway) FetchOfferings(ctx context.Context) (entitlement.Offerings, error) {
	g.offeringsCalls.Add(1)
	if g.offeringsFn != nil {
		return g.offeringsFn(ctx)
	}
	return stubOfferings(), nil
}

func (g *stubGateway) ExecutePurchase(ctx context.Context, packageID, attemptToken string) (entitlement.OwnershipRecord, error) {
	g.purchaseCalls.Add(1)
	if g.purchaseFn != nil {
		return g.purchaseFn(ctx, packageID, attemptToken)
	}
	return stubRecord(true, 0), nil
}

func (g *stubGateway) FetchOwnership(ctx context.Context) (entitlement.OwnershipRecord, error) {
	g.ownershipCalls.Add(1)
	if g.ownershipFn != nil {
		return g.ownershipFn(ctx)
	}
	return entitlement.OwnershipRecord{Entitlements: map[string]entitlement.EntitlementStatus{}}, nil
}

func (g *stubGateway) Restore(ctx context.Context) (entitlement.OwnershipRecord, error) {
	g.restoreCalls.Add(1)
	if g.restoreFn != nil {
		return g.restoreFn(ctx)
	}
	return entitlement.OwnershipRecord{Entitlements: map[string]entitlement.EntitlementStatus{}}, nil
}

func stubOfferings() entitlement.Offerings {
	off := entitlement.Offering{
		ID:      "default",
		Version: "v1",
		Packages: []entitlement.Package{
			{
				ID:     "monthly",
				Period: entitlement.PeriodMonthly,
				Product: entitlement.Product{
					ID:          entitlement.ProductPremiumMonthly,
					Title:       "Premium Monthly",
					AmountCents: 999,
					Currency:    "USD",
					Period:      entitlement.PeriodMonthly,
				},
			},
			{
				ID:     "credits_10",
				Period: entitlement.PeriodOneTime,
				Product: entitlement.Product{
					ID:          entitlement.ProductTaskCredits10,
					Title:       "10 Task Credits",
					AmountCents: 499,
					Currency:    "USD",
					Period:      entitlement.PeriodOneTime,
				},
			},
		},
	}
	return entitlement.Offerings{
		All:       map[string]entitlement.Offering{off.ID: off},
		CurrentID: off.ID,
	}
}

func stubRecord(premium bool, credits int64) entitlement.OwnershipRecord {
	rec := entitlement.OwnershipRecord{
		Entitlements: map[string]entitlement.EntitlementStatus{},
		FetchedAt:    time.Now().UTC(),
	}
	if premium {
		rec.Entitlements[entitlement.EntitlementPremium] = entitlement.EntitlementStatus{Active: true}
	}
	rec.Entitlements[entitlement.EntitlementTaskCredits] = entitlement.EntitlementStatus{Active: credits > 0, Value: &credits}
	return rec
}

func newTestManager(t interface {
	Helper()
	Fatalf(format string, args ...any)
}, cfg Config) *Manager {
	t.Helper()
	m, err := New(context.Background(), cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return m
}
