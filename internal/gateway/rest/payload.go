package rest

import (
	"time"

	"github.com/fgb-andu/hustl-entitlements/pkg/entitlement"
)

// Wire shapes for the billing backend's JSON API. They deliberately mirror
// the backend contract rather than the domain types; toOfferings and
// toRecord are the only crossing points.

type identifyRequest struct {
	AppUserID string `json:"app_user_id"`
}

type purchaseRequest struct {
	PackageID string `json:"package_id"`
}

type purchaseResponse struct {
	Status     string              `json:"status"`
	Subscriber *subscriberResponse `json:"subscriber"`
}

type offeringsResponse struct {
	Offerings         []offeringPayload `json:"offerings"`
	CurrentOfferingID string            `json:"current_offering_id,omitempty"`
}

type offeringPayload struct {
	ID       string           `json:"id"`
	Version  string           `json:"version,omitempty"`
	Packages []packagePayload `json:"packages"`
}

type packagePayload struct {
	ID      string         `json:"id"`
	Period  string         `json:"period"`
	Product productPayload `json:"product"`
}

type productPayload struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	AmountCents int64  `json:"amount_cents"`
	Currency    string `json:"currency"`
	Period      string `json:"period"`
}

type subscriberResponse struct {
	Entitlements map[string]entitlementPayload `json:"entitlements"`
}

type entitlementPayload struct {
	Active    bool       `json:"active"`
	Value     *int64     `json:"value,omitempty"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

func (r offeringsResponse) toOfferings() entitlement.Offerings {
	out := entitlement.Offerings{
		All:       make(map[string]entitlement.Offering, len(r.Offerings)),
		CurrentID: r.CurrentOfferingID,
	}
	for _, o := range r.Offerings {
		packages := make([]entitlement.Package, 0, len(o.Packages))
		for _, p := range o.Packages {
			packages = append(packages, entitlement.Package{
				ID:     p.ID,
				Period: entitlement.BillingPeriod(p.Period),
				Product: entitlement.Product{
					ID:          p.Product.ID,
					Title:       p.Product.Title,
					Description: p.Product.Description,
					AmountCents: p.Product.AmountCents,
					Currency:    p.Product.Currency,
					Period:      entitlement.BillingPeriod(p.Product.Period),
				},
			})
		}
		out.All[o.ID] = entitlement.Offering{
			ID:       o.ID,
			Version:  o.Version,
			Packages: packages,
		}
	}
	return out
}

func (r subscriberResponse) toRecord() entitlement.OwnershipRecord {
	rec := entitlement.OwnershipRecord{
		Entitlements: make(map[string]entitlement.EntitlementStatus, len(r.Entitlements)),
		FetchedAt:    time.Now().UTC(),
	}
	for id, e := range r.Entitlements {
		rec.Entitlements[id] = entitlement.EntitlementStatus{
			Active:    e.Active,
			Value:     e.Value,
			ExpiresAt: e.ExpiresAt,
		}
	}
	return rec
}
