package entitlement

import (
	"errors"
	"fmt"
)

// Kind classifies billing failures into the taxonomy callers program
// against. Raw gateway errors never cross the core boundary; every error
// returned by the core carries exactly one Kind.
type Kind string

const (
	KindIdentity           Kind = "identity_error"
	KindCatalogUnavailable Kind = "catalog_unavailable"
	KindBillingUnavailable Kind = "billing_unavailable"
	KindTransientNetwork   Kind = "transient_network"
	KindUserCancelled      Kind = "user_cancelled"
	KindAlreadyOwned       Kind = "already_owned"
	KindProductUnavailable Kind = "product_unavailable"
	KindAlreadyInProgress  Kind = "already_in_progress"
	KindRestoreUnavailable Kind = "restore_unavailable"
	KindUnknown            Kind = "unknown"
)

// Sentinel errors, matchable with errors.Is.
var (
	ErrIdentity           = errors.New("billing identity rejected")
	ErrCatalogUnavailable = errors.New("catalog unavailable")
	ErrBillingUnavailable = errors.New("billing backend unavailable")
	ErrTransientNetwork   = errors.New("transient network failure")
	ErrUserCancelled      = errors.New("user cancelled the purchase flow")
	ErrAlreadyOwned       = errors.New("entitlement already owned")
	ErrProductUnavailable = errors.New("product unavailable")
	ErrAlreadyInProgress  = errors.New("a purchase is already in progress")
	ErrRestoreUnavailable = errors.New("restore unavailable")
)

var kindSentinels = map[Kind]error{
	KindIdentity:           ErrIdentity,
	KindCatalogUnavailable: ErrCatalogUnavailable,
	KindBillingUnavailable: ErrBillingUnavailable,
	KindTransientNetwork:   ErrTransientNetwork,
	KindUserCancelled:      ErrUserCancelled,
	KindAlreadyOwned:       ErrAlreadyOwned,
	KindProductUnavailable: ErrProductUnavailable,
	KindAlreadyInProgress:  ErrAlreadyInProgress,
	KindRestoreUnavailable: ErrRestoreUnavailable,
}

// Retryable reports whether a caller-driven retry of the failed operation
// is reasonable. The core never retries on its own; this only informs the
// caller's policy.
func (k Kind) Retryable() bool {
	switch k {
	case KindTransientNetwork, KindBillingUnavailable, KindCatalogUnavailable, KindRestoreUnavailable:
		return true
	default:
		return false
	}
}

// BillingError is the structured error for billing operations.
type BillingError struct {
	Kind Kind
	Op   string // operation that failed, e.g. "fetch_offerings"
	Err  error  // underlying cause
}

func (e *BillingError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s failed (%s): %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s failed (%s)", e.Op, e.Kind)
}

func (e *BillingError) Unwrap() error {
	return e.Err
}

// Is matches the sentinel for the error's Kind, so
// errors.Is(err, ErrAlreadyOwned) works regardless of wrapping depth.
func (e *BillingError) Is(target error) bool {
	if target == nil {
		return false
	}
	if s, ok := kindSentinels[e.Kind]; ok && target == s {
		return true
	}
	return errors.Is(e.Err, target)
}

// NewError builds a BillingError with the given classification.
func NewError(kind Kind, op string, err error) *BillingError {
	return &BillingError{Kind: kind, Op: op, Err: err}
}

// KindOf extracts the Kind from an error chain. Unclassified errors map to
// KindUnknown; nil maps to the empty Kind.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var be *BillingError
	if errors.As(err, &be) {
		return be.Kind
	}
	for k, sentinel := range kindSentinels {
		if errors.Is(err, sentinel) {
			return k
		}
	}
	return KindUnknown
}
