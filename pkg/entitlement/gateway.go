package entitlement

import "context"

// Gateway is the thin interface to the remote commerce backend. The core
// depends on it but does not implement it; implementations live at the
// edges (REST client, mock).
//
// Every error returned by a Gateway must already be classified into the
// Kind taxonomy (wrap with NewError or the sentinels in this package); the
// core maps anything else to KindUnknown.
type Gateway interface {
	// Configure prepares the gateway with the backend API key and an
	// optional initial user id ("" lets the backend assign an anonymous
	// identity). Called exactly once, by the owning application's startup
	// sequence.
	Configure(ctx context.Context, apiKey, appUserID string) error

	// Identify binds the session to a backend identity for the given
	// local user id.
	Identify(ctx context.Context, userID string) error

	// Logout clears any bound identity, returning the session to the
	// anonymous state. Subsequent fetches must not serve the previously
	// bound user's data.
	Logout(ctx context.Context) error

	// FetchOfferings returns the sellable catalog.
	FetchOfferings(ctx context.Context) (Offerings, error)

	// ExecutePurchase runs one purchase of the given package. The attempt
	// token keys backend idempotency: re-calling with the same token after
	// a transient failure must not double-charge.
	ExecutePurchase(ctx context.Context, packageID, attemptToken string) (OwnershipRecord, error)

	// FetchOwnership returns the current ownership record for the bound
	// identity.
	FetchOwnership(ctx context.Context) (OwnershipRecord, error)

	// Restore re-derives ownership from the backend's source of truth.
	Restore(ctx context.Context) (OwnershipRecord, error)
}

// PurchaseStatus is the terminal classification of one purchase attempt.
type PurchaseStatus string

const (
	// StatusSucceeded means the backend confirmed the purchase.
	StatusSucceeded PurchaseStatus = "succeeded"

	// StatusAlreadyOwned means the user already held the entitlement;
	// treated as success-equivalent, not as a failure.
	StatusAlreadyOwned PurchaseStatus = "already_owned"

	// StatusCancelled means the user dismissed the purchase flow; a
	// neutral outcome, not an error.
	StatusCancelled PurchaseStatus = "cancelled"

	// StatusFailed means the attempt failed; ErrorKind carries the cause.
	StatusFailed PurchaseStatus = "failed"
)

// PurchaseOutcome is the result of one purchase attempt.
type PurchaseOutcome struct {
	Status PurchaseStatus `json:"status"`

	// AttemptToken is the idempotency token used for the attempt. A caller
	// retrying after a transient failure may reuse it to stay
	// charge-idempotent at the backend.
	AttemptToken string `json:"attempt_token,omitempty"`

	// ErrorKind is set when Status is StatusFailed.
	ErrorKind Kind `json:"error_kind,omitempty"`

	// Record is the post-purchase ownership record when the backend
	// returned one.
	Record *OwnershipRecord `json:"record,omitempty"`
}

// SuccessEquivalent reports whether the outcome should be treated as a
// completed purchase by presentation code.
func (o PurchaseOutcome) SuccessEquivalent() bool {
	return o.Status == StatusSucceeded || o.Status == StatusAlreadyOwned
}
