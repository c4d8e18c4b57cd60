package entitlement

import "fmt"

// BillingPeriod describes how a package bills.
type BillingPeriod string

const (
	PeriodMonthly BillingPeriod = "monthly"
	PeriodYearly  BillingPeriod = "yearly"
	PeriodOneTime BillingPeriod = "one_time"
)

// Product is an external catalog item. Immutable once fetched; treated as
// read-only reference data.
type Product struct {
	ID          string        `json:"id"`
	Title       string        `json:"title"`
	Description string        `json:"description,omitempty"`
	AmountCents int64         `json:"amount_cents"`
	Currency    string        `json:"currency"`
	Period      BillingPeriod `json:"period"`
}

// Package is one purchasable option bundling a product and billing period.
type Package struct {
	ID      string        `json:"id"`
	Period  BillingPeriod `json:"period"`
	Product Product       `json:"product"`
}

// Offering is a named, versioned bundle of packages currently eligible for
// purchase.
type Offering struct {
	ID       string    `json:"id"`
	Version  string    `json:"version,omitempty"`
	Packages []Package `json:"packages"`
}

// Offerings is the full sellable catalog. At most one offering is current.
type Offerings struct {
	All       map[string]Offering `json:"all"`
	CurrentID string              `json:"current_id,omitempty"`
}

// Current returns the current offering, if one is designated.
func (o Offerings) Current() (Offering, bool) {
	if o.CurrentID == "" {
		return Offering{}, false
	}
	off, ok := o.All[o.CurrentID]
	return off, ok
}

// Validate rejects offerings with missing required fields. Backend payloads
// are closed structures; a partially populated offering is never served.
func (o Offering) Validate() error {
	if o.ID == "" {
		return fmt.Errorf("offering missing id")
	}
	if len(o.Packages) == 0 {
		return fmt.Errorf("offering %q has no packages", o.ID)
	}
	for _, p := range o.Packages {
		if p.ID == "" {
			return fmt.Errorf("offering %q contains a package without id", o.ID)
		}
		if p.Period == "" {
			return fmt.Errorf("package %q missing billing period", p.ID)
		}
		if p.Product.ID == "" {
			return fmt.Errorf("package %q missing product id", p.ID)
		}
		if p.Product.Currency == "" {
			return fmt.Errorf("package %q product %q missing currency", p.ID, p.Product.ID)
		}
	}
	return nil
}

// Validate checks every offering in the set and that CurrentID, when set,
// refers to an offering in the set.
func (o Offerings) Validate() error {
	for id, off := range o.All {
		if id != off.ID {
			return fmt.Errorf("offering keyed as %q carries id %q", id, off.ID)
		}
		if err := off.Validate(); err != nil {
			return err
		}
	}
	if o.CurrentID != "" {
		if _, ok := o.All[o.CurrentID]; !ok {
			return fmt.Errorf("current offering %q not present in catalog", o.CurrentID)
		}
	}
	return nil
}

// DefaultPackage picks the package whose period matches the requested
// billing period, falling back to the first available package when no
// exact match exists. Returns false only for an empty offering.
func (o Offering) DefaultPackage(period BillingPeriod) (Package, bool) {
	for _, p := range o.Packages {
		if p.Period == period {
			return p, true
		}
	}
	if len(o.Packages) > 0 {
		return o.Packages[0], true
	}
	return Package{}, false
}

// Clone returns a deep copy of the catalog so cached state cannot be
// mutated by callers.
func (o Offerings) Clone() Offerings {
	out := Offerings{CurrentID: o.CurrentID}
	if o.All != nil {
		out.All = make(map[string]Offering, len(o.All))
		for id, off := range o.All {
			pkgs := make([]Package, len(off.Packages))
			copy(pkgs, off.Packages)
			off.Packages = pkgs
			out.All[id] = off
		}
	}
	return out
}
