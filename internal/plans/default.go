package plans

import (
	"github.com/shopspring/decimal"

	"github.com/clearpix/billing-backend/pkg/enums"
)

// Default returns the production ClearPix price table. Price ids match the
// live Stripe dashboard; test-mode ids are mapped in the environment by
// reusing the same catalog keys.
func Default() *Catalog {
	catalog, err := NewCatalog(
		[]Plan{
			{
				Key:                "basic",
				Name:               "ClearPix Basic",
				PriceID:            "price_clearpix_basic_monthly",
				PriceAmount:        decimal.NewFromFloat(9.99),
				Interval:           enums.BillingIntervalMonth,
				CreditsPerCycle:    200,
				RolloverMultiplier: 3,
				Trial:              TrialConfig{Enabled: true, CreditOverride: 50},
				Expiration:         enums.ExpirationPolicyRollingWindow,
			},
			{
				Key:                "pro",
				Name:               "ClearPix Pro",
				PriceID:            "price_clearpix_pro_monthly",
				PriceAmount:        decimal.NewFromFloat(24.99),
				Interval:           enums.BillingIntervalMonth,
				CreditsPerCycle:    1000,
				RolloverMultiplier: 3,
				Trial:              TrialConfig{Enabled: true, CreditOverride: 50},
				Expiration:         enums.ExpirationPolicyRollingWindow,
			},
			{
				Key:                "studio",
				Name:               "ClearPix Studio",
				PriceID:            "price_clearpix_studio_monthly",
				PriceAmount:        decimal.NewFromFloat(79.99),
				Interval:           enums.BillingIntervalMonth,
				CreditsPerCycle:    5000,
				RolloverMultiplier: 2,
				Trial:              TrialConfig{Enabled: false},
				Expiration:         enums.ExpirationPolicyRollingWindow,
			},
			{
				Key:                "pro_annual",
				Name:               "ClearPix Pro (Annual)",
				PriceID:            "price_clearpix_pro_annual",
				PriceAmount:        decimal.NewFromFloat(249.99),
				Interval:           enums.BillingIntervalYear,
				CreditsPerCycle:    12000,
				RolloverMultiplier: 1,
				Trial:              TrialConfig{Enabled: false},
				Expiration:         enums.ExpirationPolicyCycleEnd,
			},
		},
		[]CreditPack{
			{
				Key:         "pack_100",
				Name:        "100 Credit Pack",
				PriceID:     "price_clearpix_pack_100",
				PriceAmount: decimal.NewFromFloat(4.99),
				Credits:     100,
			},
			{
				Key:         "pack_500",
				Name:        "500 Credit Pack",
				PriceID:     "price_clearpix_pack_500",
				PriceAmount: decimal.NewFromFloat(19.99),
				Credits:     500,
			},
			{
				Key:         "pack_2000",
				Name:        "2000 Credit Pack",
				PriceID:     "price_clearpix_pack_2000",
				PriceAmount: decimal.NewFromFloat(69.99),
				Credits:     2000,
			},
		},
	)
	if err != nil {
		// the default table is compile-time data, a failure here is a bug
		panic(err)
	}
	return catalog
}
