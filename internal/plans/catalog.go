package plans

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/clearpix/billing-backend/pkg/enums"
	pkgerrors "github.com/clearpix/billing-backend/pkg/errors"
)

// ErrUnknownPrice signals a price id absent from the static catalog. Callers
// that would otherwise silently drop revenue-relevant state must propagate it
// so the provider retries the webhook.
var ErrUnknownPrice = errors.New("unknown price id")

// Kind discriminates a resolved catalog entry. Check it before reading
// Plan or Pack.
type Kind string

const (
	KindPlan Kind = "plan"
	KindPack Kind = "pack"
)

// TrialConfig controls trial crediting for a plan. CreditOverride of zero
// means the trial grants the full cycle amount.
type TrialConfig struct {
	Enabled        bool
	CreditOverride int64
}

// Plan describes a recurring subscription tier.
type Plan struct {
	Key                string
	Name               string
	PriceID            string
	PriceAmount        decimal.Decimal
	Interval           enums.BillingInterval
	CreditsPerCycle    int64
	RolloverMultiplier int64
	Trial              TrialConfig
	Expiration         enums.ExpirationPolicy
}

// MaxRollover returns the balance ceiling for the subscription pool.
func (p Plan) MaxRollover() int64 {
	if p.RolloverMultiplier <= 0 {
		return p.CreditsPerCycle
	}
	return p.CreditsPerCycle * p.RolloverMultiplier
}

// TrialCredits returns the amount granted when a trial starts.
func (p Plan) TrialCredits() int64 {
	if p.Trial.CreditOverride > 0 {
		return p.Trial.CreditOverride
	}
	return p.CreditsPerCycle
}

// CreditPack describes a one-time purchase that feeds the purchased pool.
type CreditPack struct {
	Key         string
	Name        string
	PriceID     string
	PriceAmount decimal.Decimal
	Credits     int64
}

// PlanOrPack is the result of a catalog lookup.
type PlanOrPack struct {
	Kind Kind
	Plan *Plan
	Pack *CreditPack
}

// Catalog is the static price table. It is immutable after construction and
// safe for concurrent use.
type Catalog struct {
	byPriceID map[string]PlanOrPack
	plansByKey map[string]*Plan
}

// NewCatalog builds a catalog, rejecting duplicate or empty price ids.
func NewCatalog(planList []Plan, packList []CreditPack) (*Catalog, error) {
	c := &Catalog{
		byPriceID:  make(map[string]PlanOrPack, len(planList)+len(packList)),
		plansByKey: make(map[string]*Plan, len(planList)),
	}
	for i := range planList {
		p := planList[i]
		if p.PriceID == "" || p.Key == "" {
			return nil, fmt.Errorf("plan %q must have a key and price id", p.Name)
		}
		if p.CreditsPerCycle <= 0 {
			return nil, fmt.Errorf("plan %q must grant credits per cycle", p.Key)
		}
		if !p.Expiration.IsValid() {
			return nil, fmt.Errorf("plan %q has invalid expiration policy %q", p.Key, p.Expiration)
		}
		if _, exists := c.byPriceID[p.PriceID]; exists {
			return nil, fmt.Errorf("duplicate price id %q", p.PriceID)
		}
		c.byPriceID[p.PriceID] = PlanOrPack{Kind: KindPlan, Plan: &planList[i]}
		c.plansByKey[p.Key] = &planList[i]
	}
	for i := range packList {
		p := packList[i]
		if p.PriceID == "" || p.Key == "" {
			return nil, fmt.Errorf("pack %q must have a key and price id", p.Name)
		}
		if p.Credits <= 0 {
			return nil, fmt.Errorf("pack %q must grant credits", p.Key)
		}
		if _, exists := c.byPriceID[p.PriceID]; exists {
			return nil, fmt.Errorf("duplicate price id %q", p.PriceID)
		}
		c.byPriceID[p.PriceID] = PlanOrPack{Kind: KindPack, Pack: &packList[i]}
	}
	return c, nil
}

// Resolve looks up a price id. The second return reports whether it is known.
func (c *Catalog) Resolve(priceID string) (PlanOrPack, bool) {
	entry, ok := c.byPriceID[priceID]
	return entry, ok
}

// AssertKnown resolves a price id or fails loudly. Use it wherever silently
// ignoring an unrecognized price would mis-credit the user.
func (c *Catalog) AssertKnown(priceID string) (PlanOrPack, error) {
	entry, ok := c.byPriceID[priceID]
	if !ok {
		return PlanOrPack{}, pkgerrors.Wrap(
			pkgerrors.CodeStateConflict,
			ErrUnknownPrice,
			fmt.Sprintf("price %q not in catalog", priceID),
		)
	}
	return entry, nil
}

// AssertPlan resolves a price id that must be a recurring plan.
func (c *Catalog) AssertPlan(priceID string) (*Plan, error) {
	entry, err := c.AssertKnown(priceID)
	if err != nil {
		return nil, err
	}
	if entry.Kind != KindPlan {
		return nil, pkgerrors.Wrap(
			pkgerrors.CodeStateConflict,
			ErrUnknownPrice,
			fmt.Sprintf("price %q is a credit pack, not a plan", priceID),
		)
	}
	return entry.Plan, nil
}

// PlanByKey returns the plan registered under the given tier key.
func (c *Catalog) PlanByKey(key string) (*Plan, bool) {
	p, ok := c.plansByKey[key]
	return p, ok
}
