package mockgateway

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/fgb-andu/hustl-entitlements/pkg/entitlement"
)

func newConfigured(t *testing.T) *Gateway {
	t.Helper()
	g := New()
	if err := g.Configure(context.Background(), "ignored", "user-a"); err != nil {
		t.Fatalf("Configure: %v", err)
	}
	return g
}

func TestCatalogIsValidAndCurrent(t *testing.T) {
	g := newConfigured(t)

	offerings, err := g.FetchOfferings(context.Background())
	if err != nil {
		t.Fatalf("FetchOfferings: %v", err)
	}
	if err := offerings.Validate(); err != nil {
		t.Fatalf("seeded catalog invalid: %v", err)
	}
	current, ok := offerings.Current()
	if !ok {
		t.Fatal("no current offering")
	}
	if len(current.Packages) != 5 {
		t.Fatalf("packages = %d, want 5", len(current.Packages))
	}
}

func TestPurchaseCreditsAccumulate(t *testing.T) {
	g := newConfigured(t)
	ctx := context.Background()

	rec, err := g.ExecutePurchase(ctx, "credits_10", "tok-1")
	if err != nil {
		t.Fatalf("ExecutePurchase: %v", err)
	}
	if got := rec.CreditBalance(); got != 10 {
		t.Fatalf("balance = %d, want 10", got)
	}

	rec, err = g.ExecutePurchase(ctx, "credits_50", "tok-2")
	if err != nil {
		t.Fatalf("ExecutePurchase: %v", err)
	}
	if got := rec.CreditBalance(); got != 60 {
		t.Fatalf("balance = %d, want 60", got)
	}
}

func TestPurchaseIdempotentPerAttemptToken(t *testing.T) {
	g := newConfigured(t)
	ctx := context.Background()

	if _, err := g.ExecutePurchase(ctx, "credits_10", "tok-same"); err != nil {
		t.Fatalf("ExecutePurchase: %v", err)
	}
	rec, err := g.ExecutePurchase(ctx, "credits_10", "tok-same")
	if err != nil {
		t.Fatalf("replayed ExecutePurchase: %v", err)
	}
	if got := rec.CreditBalance(); got != 10 {
		t.Fatalf("balance = %d after replay, want 10", got)
	}
}

func TestPurchasePremiumSetsExpiry(t *testing.T) {
	g := newConfigured(t)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	g.now = func() time.Time { return base }

	rec, err := g.ExecutePurchase(context.Background(), "monthly", "tok-m")
	if err != nil {
		t.Fatalf("ExecutePurchase: %v", err)
	}
	if !rec.PremiumActive(base) {
		t.Fatal("premium should be active right after purchase")
	}
	status := rec.Entitlements[entitlement.EntitlementPremium]
	if status.ExpiresAt == nil || !status.ExpiresAt.After(base.Add(30*24*time.Hour)) {
		t.Fatalf("expiry = %v, want more than 30 days out", status.ExpiresAt)
	}

	// A second period extends from the current expiry, not from now.
	rec, err = g.ExecutePurchase(context.Background(), "monthly", "tok-m2")
	if err != nil {
		t.Fatalf("ExecutePurchase: %v", err)
	}
	status = rec.Entitlements[entitlement.EntitlementPremium]
	if status.ExpiresAt == nil || !status.ExpiresAt.After(base.Add(61*24*time.Hour)) {
		t.Fatalf("stacked expiry = %v, want more than 61 days out", status.ExpiresAt)
	}
}

func TestPurchaseUnknownPackage(t *testing.T) {
	g := newConfigured(t)

	_, err := g.ExecutePurchase(context.Background(), "lifetime", "tok")
	if !errors.Is(err, entitlement.ErrProductUnavailable) {
		t.Fatalf("err = %v, want product unavailable", err)
	}
}

func TestIdentitiesAreIsolated(t *testing.T) {
	g := newConfigured(t)
	ctx := context.Background()

	if _, err := g.ExecutePurchase(ctx, "credits_10", "tok-a"); err != nil {
		t.Fatalf("ExecutePurchase: %v", err)
	}

	if err := g.Identify(ctx, "user-b"); err != nil {
		t.Fatalf("Identify: %v", err)
	}
	rec, err := g.FetchOwnership(ctx)
	if err != nil {
		t.Fatalf("FetchOwnership: %v", err)
	}
	if got := rec.CreditBalance(); got != 0 {
		t.Fatalf("user-b balance = %d, want 0", got)
	}

	if err := g.Identify(ctx, "user-a"); err != nil {
		t.Fatalf("Identify: %v", err)
	}
	rec, err = g.FetchOwnership(ctx)
	if err != nil {
		t.Fatalf("FetchOwnership: %v", err)
	}
	if got := rec.CreditBalance(); got != 10 {
		t.Fatalf("user-a balance = %d, want 10", got)
	}
}

func TestLogoutReturnsToAnonymousSubscriber(t *testing.T) {
	g := newConfigured(t)
	ctx := context.Background()

	if _, err := g.ExecutePurchase(ctx, "credits_10", "tok-a"); err != nil {
		t.Fatalf("ExecutePurchase: %v", err)
	}
	if err := g.Logout(ctx); err != nil {
		t.Fatalf("Logout: %v", err)
	}

	rec, err := g.FetchOwnership(ctx)
	if err != nil {
		t.Fatalf("FetchOwnership: %v", err)
	}
	if got := rec.CreditBalance(); got != 0 {
		t.Fatalf("anonymous balance after logout = %d, want 0", got)
	}

	// Re-identifying brings the user's state back.
	if err := g.Identify(ctx, "user-a"); err != nil {
		t.Fatalf("Identify: %v", err)
	}
	rec, err = g.FetchOwnership(ctx)
	if err != nil {
		t.Fatalf("FetchOwnership: %v", err)
	}
	if got := rec.CreditBalance(); got != 10 {
		t.Fatalf("user-a balance after re-identify = %d, want 10", got)
	}
}

func TestRestoreMatchesOwnership(t *testing.T) {
	g := newConfigured(t)
	ctx := context.Background()
	g.GrantPremium("user-a", time.Now().Add(time.Hour))

	owned, err := g.FetchOwnership(ctx)
	if err != nil {
		t.Fatalf("FetchOwnership: %v", err)
	}
	restored, err := g.Restore(ctx)
	if err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if owned.PremiumActive(time.Now()) != restored.PremiumActive(time.Now()) {
		t.Fatal("restore should agree with ownership")
	}
}
