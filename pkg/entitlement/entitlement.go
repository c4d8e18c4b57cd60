// Package entitlement defines the domain model shared between the billing
// core and its callers: the sellable catalog, the ownership record the
// backend reports for a user, purchase outcomes, and the error taxonomy
// every gateway implementation maps into.
//
// The package is deliberately dependency-free so that gateway
// implementations, the billing core, and presentation code can all import
// it without cycles.
package entitlement

import "time"

// Entitlement identifiers known to the hustl backend.
const (
	// EntitlementPremium gates the premium subscription features.
	EntitlementPremium = "premium"

	// EntitlementTaskCredits is the consumable task credit counter.
	EntitlementTaskCredits = "task_credits"
)

// Product identifiers in the hustl catalog.
const (
	ProductPremiumMonthly = "hustl_premium_monthly"
	ProductPremiumYearly  = "hustl_premium_yearly"
	ProductTaskCredits10  = "hustl_task_credits_10"
	ProductTaskCredits50  = "hustl_task_credits_50"
	ProductTaskCredits100 = "hustl_task_credits_100"
)

// EntitlementStatus is the backend's view of a single entitlement.
// Boolean entitlements (premium) use Active; numeric entitlements
// (task credits) additionally carry Value.
type EntitlementStatus struct {
	// Active reports whether the entitlement is currently granted.
	Active bool `json:"active"`

	// Value is the numeric value for counter entitlements, nil otherwise.
	Value *int64 `json:"value,omitempty"`

	// ExpiresAt is the expiration timestamp, nil for non-expiring grants.
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// ActiveAt reports whether the entitlement is granted and unexpired at the
// given instant.
func (s EntitlementStatus) ActiveAt(now time.Time) bool {
	if !s.Active {
		return false
	}
	if s.ExpiresAt != nil && !now.Before(*s.ExpiresAt) {
		return false
	}
	return true
}

// OwnershipRecord is the backend's authoritative snapshot of what a user
// owns: a mapping from entitlement identifier to status.
type OwnershipRecord struct {
	// Entitlements maps entitlement identifier to its status.
	Entitlements map[string]EntitlementStatus `json:"entitlements"`

	// FetchedAt is when this snapshot was obtained from the backend.
	FetchedAt time.Time `json:"fetched_at"`
}

// PremiumActive resolves the premium gate from the record. Absent or
// expired entitlements resolve to false; callers never need their own
// fallback logic.
func (r OwnershipRecord) PremiumActive(now time.Time) bool {
	s, ok := r.Entitlements[EntitlementPremium]
	if !ok {
		return false
	}
	return s.ActiveAt(now)
}

// CreditBalance resolves the task credit counter from the record. Absent
// entitlements and missing values resolve to 0; negative backend values
// are clamped to 0.
func (r OwnershipRecord) CreditBalance() int64 {
	s, ok := r.Entitlements[EntitlementTaskCredits]
	if !ok || s.Value == nil {
		return 0
	}
	if *s.Value < 0 {
		return 0
	}
	return *s.Value
}

// Clone returns a deep copy of the record so cached snapshots cannot be
// mutated by callers.
func (r OwnershipRecord) Clone() OwnershipRecord {
	out := OwnershipRecord{FetchedAt: r.FetchedAt}
	if r.Entitlements != nil {
		out.Entitlements = make(map[string]EntitlementStatus, len(r.Entitlements))
		for k, v := range r.Entitlements {
			if v.Value != nil {
				value := *v.Value
				v.Value = &value
			}
			if v.ExpiresAt != nil {
				exp := *v.ExpiresAt
				v.ExpiresAt = &exp
			}
			out.Entitlements[k] = v
		}
	}
	return out
}
