// Package billing implements the entitlement and purchase lifecycle core:
// identity binding, catalog caching, entitlement resolution, purchase
// orchestration and restore reconciliation against a billing gateway.
//
// The package holds no global state. The application's startup sequence
// constructs a Manager with New and tears it down with Close; presentation
// code calls the Manager directly and never talks to the gateway.
package billing

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/fgb-andu/hustl-entitlements/internal/billing/snapshot"
	"github.com/fgb-andu/hustl-entitlements/pkg/entitlement"
	"github.com/rs/zerolog/log"
)

// ErrClosed is returned by operations invoked after Close.
var ErrClosed = errors.New("billing manager is closed")

// warmUpTimeout bounds the fire-and-forget cache warm-up after a bind.
const warmUpTimeout = 30 * time.Second

// Config configures a Manager.
type Config struct {
	// Gateway is the remote commerce backend. Required.
	Gateway entitlement.Gateway

	// APIKey is passed to the gateway during Configure.
	APIKey string

	// Snapshots, when set, persists the last successfully fetched
	// ownership record per identity so entitlement reads can degrade to
	// the last known good state across restarts.
	Snapshots *snapshot.Store

	// CatalogMaxAge bounds how old a cached catalog may be and still be
	// served when a refresh fails. Zero means no bound.
	CatalogMaxAge time.Duration

	// EventSink, when set, receives every observability event in addition
	// to logging and metrics.
	EventSink func(Event)
}

// Manager is the entitlement and purchase lifecycle manager. All methods
// are safe for concurrent use.
type Manager struct {
	gw     entitlement.Gateway
	events *emitter

	catalog   *offeringCache
	resolver  *entitlementResolver
	purchases *purchaseOrchestrator
	restorer  *restoreReconciler

	mu       sync.Mutex
	identity string
	closed   bool

	warmups sync.WaitGroup
}

// New constructs a Manager and configures the gateway. Configuration
// happens exactly once, here; there is no lazy first-use initialization.
func New(ctx context.Context, cfg Config) (*Manager, error) {
	if cfg.Gateway == nil {
		return nil, errors.New("billing: gateway is required")
	}

	m := &Manager{gw: cfg.Gateway}
	m.events = newEmitter(cfg.EventSink, m.identityPresent)
	m.catalog = &offeringCache{gw: cfg.Gateway, maxAge: cfg.CatalogMaxAge, events: m.events}
	m.resolver = &entitlementResolver{
		gw:        cfg.Gateway,
		snapshots: cfg.Snapshots,
		events:    m.events,
		identity:  m.boundIdentity,
	}
	m.purchases = &purchaseOrchestrator{gw: cfg.Gateway, resolver: m.resolver, events: m.events}
	m.restorer = &restoreReconciler{gw: cfg.Gateway, resolver: m.resolver, events: m.events}

	if err := cfg.Gateway.Configure(ctx, cfg.APIKey, ""); err != nil {
		m.events.emit(componentManager, "configure", outcomeError, entitlement.KindOf(err))
		return nil, classify("configure", err)
	}
	m.events.emit(componentManager, "configure", outcomeOK, "")
	return m, nil
}

// Close tears the manager down. In-flight warm-ups are waited for;
// subsequent operations fail with ErrClosed (entitlement reads degrade to
// their safe defaults instead of failing).
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	m.warmups.Wait()
	m.events.emit(componentManager, "close", outcomeOK, "")
	return nil
}

// ListOfferings returns the sellable catalog, cached with single-flight
// fetch semantics.
func (m *Manager) ListOfferings(ctx context.Context, forceRefresh bool) (entitlement.Offerings, error) {
	if m.isClosed() {
		return entitlement.Offerings{}, ErrClosed
	}
	return m.catalog.get(ctx, forceRefresh)
}

// GetOwnership returns the ownership record for the bound identity.
// Unlike IsPremiumActive and CreditBalance this propagates typed errors;
// callers that want the safe-default policy use those instead.
func (m *Manager) GetOwnership(ctx context.Context, forceRefresh bool) (entitlement.OwnershipRecord, error) {
	if m.isClosed() {
		return entitlement.OwnershipRecord{}, ErrClosed
	}
	return m.resolver.get(ctx, forceRefresh)
}

// IsPremiumActive reports whether the premium entitlement is active.
// Never fails: absent, expired or unfetchable records resolve to false and
// the cause is logged. Presentation code needs no fallback of its own.
func (m *Manager) IsPremiumActive(ctx context.Context) bool {
	if m.isClosed() {
		return false
	}
	rec, err := m.resolver.get(ctx, false)
	if err != nil {
		log.Warn().Err(err).Msg("Premium check degraded to default")
		return false
	}
	return rec.PremiumActive(time.Now())
}

// CreditBalance returns the task credit balance, defaulting to 0 under the
// same conditions as IsPremiumActive.
func (m *Manager) CreditBalance(ctx context.Context) int64 {
	if m.isClosed() {
		return 0
	}
	rec, err := m.resolver.get(ctx, false)
	if err != nil {
		log.Warn().Err(err).Msg("Credit balance degraded to default")
		return 0
	}
	return rec.CreditBalance()
}

// Purchase drives one purchase attempt for the given package. At most one
// attempt may be in flight per manager; a concurrent call fails
// immediately with KindAlreadyInProgress.
func (m *Manager) Purchase(ctx context.Context, pkg entitlement.Package) (entitlement.PurchaseOutcome, error) {
	if m.isClosed() {
		return entitlement.PurchaseOutcome{Status: entitlement.StatusFailed, ErrorKind: entitlement.KindUnknown}, ErrClosed
	}
	return m.purchases.purchase(ctx, pkg)
}

// Restore re-synchronizes entitlement state from the backend's source of
// truth. Concurrent calls are coalesced.
func (m *Manager) Restore(ctx context.Context) (entitlement.OwnershipRecord, error) {
	if m.isClosed() {
		return entitlement.OwnershipRecord{}, ErrClosed
	}
	return m.restorer.restore(ctx)
}

func (m *Manager) isClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

func (m *Manager) boundIdentity() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.identity
}

func (m *Manager) identityPresent() bool {
	return m.boundIdentity() != ""
}

// classify wraps a gateway error into the taxonomy, defaulting to
// KindUnknown. Context cancellation maps to the transient kind: the
// attempt token makes a caller-driven retry charge-idempotent.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	kind := entitlement.KindOf(err)
	if kind == entitlement.KindUnknown {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			kind = entitlement.KindTransientNetwork
		}
	}
	return entitlement.NewError(kind, op, err)
}
