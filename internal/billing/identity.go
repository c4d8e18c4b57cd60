package billing

import (
	"context"
	"errors"

	"github.com/fgb-andu/hustl-entitlements/pkg/entitlement"
	"github.com/rs/zerolog/log"
)

// BindIdentity establishes or switches the billing identity for the
// session. Binding the already-bound id is a no-op. Binding a different id
// first invalidates the catalog and entitlement caches so no data leaks
// across users, then identifies with the backend; on success a cache
// warm-up runs in the background.
//
// An identify rejection is reported to the caller and not retried; the
// previous binding (and its now-cold caches) remain in effect.
func (m *Manager) BindIdentity(ctx context.Context, userID string) error {
	if userID == "" {
		return entitlement.NewError(entitlement.KindIdentity, "bind_identity", errors.New("empty user id"))
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	if m.identity == userID {
		m.mu.Unlock()
		return nil
	}
	m.mu.Unlock()

	// Invalidate before the backend call: from this point on, no read may
	// observe the previous user's data.
	m.catalog.invalidate()
	m.resolver.invalidate()

	if err := m.gw.Identify(ctx, userID); err != nil {
		kind := entitlement.KindOf(err)
		if !errors.Is(err, entitlement.ErrIdentity) && !kind.Retryable() {
			kind = entitlement.KindIdentity
		}
		m.events.emit(componentIdentity, "bind", outcomeError, kind)
		return entitlement.NewError(kind, "bind_identity", err)
	}

	m.mu.Lock()
	m.identity = userID
	m.mu.Unlock()
	m.events.emit(componentIdentity, "bind", outcomeOK, "")

	m.warmups.Add(1)
	go func() {
		defer m.warmups.Done()
		m.warmUp()
	}()
	return nil
}

// UnbindIdentity clears the billing identity on logout: the gateway
// session returns to anonymous and all per-identity caches are
// invalidated, so no later read can serve the logged-out user's data.
func (m *Manager) UnbindIdentity() {
	m.mu.Lock()
	had := m.identity != ""
	m.identity = ""
	m.mu.Unlock()

	// Log the gateway out before invalidating: a refetch triggered after
	// the invalidation must already see the anonymous session.
	if err := m.gw.Logout(context.Background()); err != nil {
		log.Warn().Err(err).Msg("Gateway logout failed")
	}

	m.catalog.invalidate()
	m.resolver.invalidate()
	if had {
		m.events.emit(componentIdentity, "unbind", outcomeOK, "")
	}
}

// warmUp populates the catalog and entitlement caches after a bind.
// Failures are logged and independently retryable on the next read; they
// are never fatal to the bind itself.
func (m *Manager) warmUp() {
	ctx, cancel := context.WithTimeout(context.Background(), warmUpTimeout)
	defer cancel()

	if _, err := m.catalog.get(ctx, false); err != nil {
		log.Debug().Err(err).Msg("Catalog warm-up failed")
	}
	if _, err := m.resolver.get(ctx, false); err != nil {
		log.Debug().Err(err).Msg("Entitlement warm-up failed")
	}
}
