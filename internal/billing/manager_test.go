package billing

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fgb-andu/hustl-entitlements/internal/billing/snapshot"
	"github.com/fgb-andu/hustl-entitlements/pkg/entitlement"
)

func TestNew_RequiresGateway(t *testing.T) {
	if _, err := New(context.Background(), Config{}); err == nil {
		t.Fatal("New accepted a nil gateway")
	}
}

func TestNew_ConfiguresGatewayOnce(t *testing.T) {
	gw := &stubGateway{}
	m := newTestManager(t, Config{Gateway: gw, APIKey: "pk_test"})
	defer m.Close()

	if got := gw.configureCalls.Load(); got != 1 {
		t.Errorf("configure calls = %d, want 1", got)
	}
}

func TestNew_ConfigureFailureSurfaces(t *testing.T) {
	gw := &stubGateway{
		configureFn: func(ctx context.Context, apiKey, appUserID string) error {
			return entitlement.NewError(entitlement.KindBillingUnavailable, "configure", errors.New("503"))
		},
	}
	_, err := New(context.Background(), Config{Gateway: gw})
	if err == nil {
		t.Fatal("New ignored a configure failure")
	}
	if kind := entitlement.KindOf(err); kind != entitlement.KindBillingUnavailable {
		t.Errorf("error kind = %s, want %s", kind, entitlement.KindBillingUnavailable)
	}
}

func TestBindIdentity_Idempotent(t *testing.T) {
	gw := &stubGateway{}
	m := newTestManager(t, Config{Gateway: gw})
	defer m.Close()

	ctx := context.Background()
	if err := m.BindIdentity(ctx, "u1"); err != nil {
		t.Fatalf("BindIdentity: %v", err)
	}
	if err := m.BindIdentity(ctx, "u1"); err != nil {
		t.Fatalf("BindIdentity (repeat): %v", err)
	}
	m.warmups.Wait()

	if got := gw.identifyCalls.Load(); got != 1 {
		t.Errorf("identify calls = %d, want 1 (rebinding same id must be a no-op)", got)
	}
}

func TestBindIdentity_RejectedByBackend(t *testing.T) {
	gw := &stubGateway{
		identifyFn: func(ctx context.Context, userID string) error {
			return entitlement.NewError(entitlement.KindIdentity, "identify", errors.New("malformed id"))
		},
	}
	m := newTestManager(t, Config{Gateway: gw})
	defer m.Close()

	err := m.BindIdentity(context.Background(), "bad id")
	if !errors.Is(err, entitlement.ErrIdentity) {
		t.Errorf("BindIdentity error = %v, want ErrIdentity", err)
	}
	if m.identityPresent() {
		t.Error("identity should not be bound after a rejected identify")
	}
}

func TestBindIdentity_EmptyUserID(t *testing.T) {
	m := newTestManager(t, Config{Gateway: &stubGateway{}})
	defer m.Close()

	if err := m.BindIdentity(context.Background(), ""); !errors.Is(err, entitlement.ErrIdentity) {
		t.Errorf("BindIdentity(\"\") = %v, want ErrIdentity", err)
	}
}

func TestBindIdentity_TriggersWarmUp(t *testing.T) {
	gw := &stubGateway{}
	m := newTestManager(t, Config{Gateway: gw})
	defer m.Close()

	if err := m.BindIdentity(context.Background(), "u1"); err != nil {
		t.Fatalf("BindIdentity: %v", err)
	}
	m.warmups.Wait()

	if got := gw.offeringsCalls.Load(); got != 1 {
		t.Errorf("offerings calls after bind = %d, want 1 (warm-up)", got)
	}
	if got := gw.ownershipCalls.Load(); got != 1 {
		t.Errorf("ownership calls after bind = %d, want 1 (warm-up)", got)
	}
}

func TestIdentitySwitch_ClearsCaches(t *testing.T) {
	block := make(chan struct{})
	defer close(block)

	phase := make(chan string, 1)
	phase <- "a"
	gw := &stubGateway{
		ownershipFn: func(ctx context.Context) (entitlement.OwnershipRecord, error) {
			select {
			case p := <-phase:
				phase <- p
				if p == "a" {
					return stubRecord(true, 40), nil
				}
			default:
			}
			// Identity B's backend never answers within the test.
			<-block
			return entitlement.OwnershipRecord{}, entitlement.ErrTransientNetwork
		},
	}
	m := newTestManager(t, Config{Gateway: gw})

	ctx := context.Background()
	if err := m.BindIdentity(ctx, "userA"); err != nil {
		t.Fatalf("BindIdentity(A): %v", err)
	}
	m.warmups.Wait()

	if got := m.CreditBalance(ctx); got != 40 {
		t.Fatalf("balance for A = %d, want 40", got)
	}

	// Switch the backend to the hanging phase, then bind B. A read before
	// any network call completes must not see A's cached values.
	<-phase
	phase <- "b"
	if err := m.BindIdentity(ctx, "userB"); err != nil {
		t.Fatalf("BindIdentity(B): %v", err)
	}

	readCtx, cancel := context.WithTimeout(ctx, 100*time.Millisecond)
	defer cancel()
	if got := m.CreditBalance(readCtx); got != 0 {
		t.Errorf("balance right after switching to B = %d, want 0 (no leak from A)", got)
	}
	if m.IsPremiumActive(readCtx) {
		t.Error("premium right after switching to B = true, want false (no leak from A)")
	}
}

func TestIdentitySwitch_StaleFetchNotPersistedForNewUser(t *testing.T) {
	store, err := snapshot.Open(filepath.Join(t.TempDir(), "ownership.db"))
	if err != nil {
		t.Fatalf("snapshot.Open: %v", err)
	}
	defer store.Close()

	release := make(chan struct{})
	entered := make(chan struct{}, 1)
	var calls atomic.Int32
	gw := &stubGateway{
		ownershipFn: func(ctx context.Context) (entitlement.OwnershipRecord, error) {
			if calls.Add(1) == 1 {
				select {
				case entered <- struct{}{}:
				default:
				}
				<-release
				return stubRecord(false, 99), nil
			}
			return entitlement.OwnershipRecord{}, entitlement.NewError(entitlement.KindTransientNetwork, "fetch_ownership", errors.New("timeout"))
		},
	}
	m := newTestManager(t, Config{Gateway: gw, Snapshots: store})
	defer m.Close()

	ctx := context.Background()
	if err := m.BindIdentity(ctx, "userA"); err != nil {
		t.Fatalf("BindIdentity(A): %v", err)
	}

	// userA's warm-up fetch is in flight; switch identities underneath it,
	// then let it complete against the stale generation.
	<-entered
	if err := m.BindIdentity(ctx, "userB"); err != nil {
		t.Fatalf("BindIdentity(B): %v", err)
	}
	close(release)
	m.warmups.Wait()

	// The backend is failing now, so a read for userB degrades through the
	// snapshot store. userA's 99-credit record must not be there.
	if got := m.CreditBalance(ctx); got != 0 {
		t.Errorf("CreditBalance for userB = %d, want 0 (stale fetch persisted under the new identity)", got)
	}
}

func TestUnbindIdentity_ResetsGatewaySession(t *testing.T) {
	var mu sync.Mutex
	current := ""
	gw := &stubGateway{
		identifyFn: func(ctx context.Context, userID string) error {
			mu.Lock()
			current = userID
			mu.Unlock()
			return nil
		},
		logoutFn: func(ctx context.Context) error {
			mu.Lock()
			current = ""
			mu.Unlock()
			return nil
		},
		ownershipFn: func(ctx context.Context) (entitlement.OwnershipRecord, error) {
			mu.Lock()
			defer mu.Unlock()
			if current == "u1" {
				return stubRecord(true, 20), nil
			}
			return entitlement.OwnershipRecord{Entitlements: map[string]entitlement.EntitlementStatus{}}, nil
		},
	}
	m := newTestManager(t, Config{Gateway: gw})
	defer m.Close()

	ctx := context.Background()
	if err := m.BindIdentity(ctx, "u1"); err != nil {
		t.Fatalf("BindIdentity: %v", err)
	}
	m.warmups.Wait()
	if !m.IsPremiumActive(ctx) {
		t.Fatal("premium should be active while u1 is bound")
	}

	m.UnbindIdentity()

	if got := gw.logoutCalls.Load(); got != 1 {
		t.Errorf("gateway logout calls = %d, want 1", got)
	}
	if m.IsPremiumActive(ctx) {
		t.Error("IsPremiumActive after UnbindIdentity = true, want false (anonymous session)")
	}
	if got := m.CreditBalance(ctx); got != 0 {
		t.Errorf("CreditBalance after UnbindIdentity = %d, want 0", got)
	}
}

func TestEntitlementReads_DefaultOnFetchFailure(t *testing.T) {
	var events []Event
	var mu sync.Mutex
	gw := &stubGateway{
		ownershipFn: func(ctx context.Context) (entitlement.OwnershipRecord, error) {
			return entitlement.OwnershipRecord{}, entitlement.NewError(entitlement.KindTransientNetwork, "fetch_ownership", errors.New("dial tcp: connection refused"))
		},
	}
	m := newTestManager(t, Config{
		Gateway: gw,
		EventSink: func(ev Event) {
			mu.Lock()
			events = append(events, ev)
			mu.Unlock()
		},
	})
	defer m.Close()

	ctx := context.Background()
	if m.IsPremiumActive(ctx) {
		t.Error("IsPremiumActive = true on fetch failure, want false")
	}
	if got := m.CreditBalance(ctx); got != 0 {
		t.Errorf("CreditBalance = %d on fetch failure, want 0", got)
	}

	mu.Lock()
	defer mu.Unlock()
	found := false
	for _, ev := range events {
		if ev.Component == componentResolver && ev.ErrorKind == entitlement.KindTransientNetwork {
			found = true
			if ev.IdentityPresent {
				t.Error("event claims identity present for an anonymous session")
			}
		}
	}
	if !found {
		t.Error("no resolver event with kind transient_network was emitted")
	}
}

func TestPremiumActiveWithZeroCredits(t *testing.T) {
	gw := &stubGateway{
		ownershipFn: func(ctx context.Context) (entitlement.OwnershipRecord, error) {
			return stubRecord(true, 0), nil
		},
	}
	m := newTestManager(t, Config{Gateway: gw})
	defer m.Close()

	ctx := context.Background()
	if err := m.BindIdentity(ctx, "u1"); err != nil {
		t.Fatalf("BindIdentity: %v", err)
	}
	m.warmups.Wait()

	if !m.IsPremiumActive(ctx) {
		t.Error("IsPremiumActive = false, want true")
	}
	if got := m.CreditBalance(ctx); got != 0 {
		t.Errorf("CreditBalance = %d, want 0", got)
	}
}

func TestManager_CloseStopsOperations(t *testing.T) {
	m := newTestManager(t, Config{Gateway: &stubGateway{}})
	if err := m.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := m.Close(); err != nil {
		t.Fatalf("Close (repeat): %v", err)
	}

	ctx := context.Background()
	if _, err := m.ListOfferings(ctx, false); !errors.Is(err, ErrClosed) {
		t.Errorf("ListOfferings after Close = %v, want ErrClosed", err)
	}
	if _, err := m.Restore(ctx); !errors.Is(err, ErrClosed) {
		t.Errorf("Restore after Close = %v, want ErrClosed", err)
	}
	if err := m.BindIdentity(ctx, "u1"); !errors.Is(err, ErrClosed) {
		t.Errorf("BindIdentity after Close = %v, want ErrClosed", err)
	}
	if m.IsPremiumActive(ctx) {
		t.Error("IsPremiumActive after Close = true, want safe default false")
	}
	if got := m.CreditBalance(ctx); got != 0 {
		t.Errorf("CreditBalance after Close = %d, want safe default 0", got)
	}
}
