package billing

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/fgb-andu/hustl-entitlements/pkg/entitlement"
	"github.com/google/uuid"
)

// attemptState is the purchase attempt state machine. Submitting is the
// only non-terminal state.
type attemptState string

const (
	attemptSubmitting attemptState = "submitting"
	attemptSucceeded  attemptState = "succeeded"
	attemptCancelled  attemptState = "cancelled"
	attemptFailed     attemptState = "failed"
)

// purchaseAttempt tracks one purchase. Owned exclusively by the
// orchestrator and destroyed once the attempt reaches a terminal state and
// its outcome has been delivered.
type purchaseAttempt struct {
	pkg       entitlement.Package
	token     string
	state     attemptState
	startedAt time.Time
}

// purchaseOrchestrator drives purchase attempts. Unlike the caches it
// enforces mutual exclusion rather than coalescing: two concurrent calls
// could target different packages and must not be conflated, so the
// second fails immediately with KindAlreadyInProgress.
type purchaseOrchestrator struct {
	gw       entitlement.Gateway
	resolver *entitlementResolver
	events   *emitter

	mu      sync.Mutex
	current *purchaseAttempt
}

func (o *purchaseOrchestrator) purchase(ctx context.Context, pkg entitlement.Package) (entitlement.PurchaseOutcome, error) {
	if pkg.ID == "" {
		return entitlement.PurchaseOutcome{Status: entitlement.StatusFailed, ErrorKind: entitlement.KindProductUnavailable},
			entitlement.NewError(entitlement.KindProductUnavailable, "purchase", errors.New("package has no id"))
	}

	o.mu.Lock()
	if o.current != nil {
		o.mu.Unlock()
		o.events.emit(componentPurchase, "purchase", outcomeRejected, entitlement.KindAlreadyInProgress)
		getMetrics().recordPurchaseOutcome("rejected")
		return entitlement.PurchaseOutcome{Status: entitlement.StatusFailed, ErrorKind: entitlement.KindAlreadyInProgress},
			entitlement.NewError(entitlement.KindAlreadyInProgress, "purchase", nil)
	}
	attempt := &purchaseAttempt{
		pkg:       pkg,
		token:     uuid.NewString(),
		state:     attemptSubmitting,
		startedAt: time.Now(),
	}
	o.current = attempt
	o.mu.Unlock()

	defer func() {
		o.mu.Lock()
		o.current = nil
		o.mu.Unlock()
	}()

	o.events.emit(componentPurchase, "purchase", "submitting", "")

	rec, err := o.gw.ExecutePurchase(ctx, pkg.ID, attempt.token)

	switch {
	case err == nil:
		attempt.state = attemptSucceeded
		// Invalidate before returning: success reported to the caller must
		// never race a stale entitlement read.
		o.resolver.invalidate()
		o.events.emit(componentPurchase, "purchase", outcomeOK, "")
		getMetrics().recordPurchaseOutcome(string(entitlement.StatusSucceeded))
		out := rec.Clone()
		return entitlement.PurchaseOutcome{
			Status:       entitlement.StatusSucceeded,
			AttemptToken: attempt.token,
			Record:       &out,
		}, nil

	case errors.Is(err, entitlement.ErrAlreadyOwned):
		// The user already holds the entitlement; proceed as if the
		// purchase succeeded rather than punishing them with an error.
		attempt.state = attemptSucceeded
		o.resolver.invalidate()
		o.events.emit(componentPurchase, "purchase", string(entitlement.StatusAlreadyOwned), "")
		getMetrics().recordPurchaseOutcome(string(entitlement.StatusAlreadyOwned))
		return entitlement.PurchaseOutcome{
			Status:       entitlement.StatusAlreadyOwned,
			AttemptToken: attempt.token,
		}, nil

	case errors.Is(err, entitlement.ErrUserCancelled):
		// Neutral outcome: the user changed their mind. Entitlement state
		// is untouched.
		attempt.state = attemptCancelled
		o.events.emit(componentPurchase, "purchase", string(entitlement.StatusCancelled), "")
		getMetrics().recordPurchaseOutcome(string(entitlement.StatusCancelled))
		return entitlement.PurchaseOutcome{
			Status:       entitlement.StatusCancelled,
			AttemptToken: attempt.token,
		}, nil

	default:
		attempt.state = attemptFailed
		wrapped := classify("purchase", err)
		kind := entitlement.KindOf(wrapped)
		o.events.emit(componentPurchase, "purchase", outcomeError, kind)
		getMetrics().recordPurchaseOutcome(string(entitlement.StatusFailed))
		// No automatic retry: the backend is idempotent per
		// identity+package+token, and retrying silently would mask
		// double-charge risk from the caller. The token in the outcome
		// lets the caller retry deliberately.
		return entitlement.PurchaseOutcome{
			Status:       entitlement.StatusFailed,
			AttemptToken: attempt.token,
			ErrorKind:    kind,
		}, wrapped
	}
}
