package enums

import "fmt"

// CreditPool distinguishes the two balances kept per profile. Subscription
// credits come from plan cycles and may expire; purchased credits come from
// one-time packs and never do.
type CreditPool string

const (
	CreditPoolSubscription CreditPool = "subscription"
	CreditPoolPurchased    CreditPool = "purchased"
)

var validCreditPools = []CreditPool{
	CreditPoolSubscription,
	CreditPoolPurchased,
}

func (p CreditPool) String() string {
	return string(p)
}

func (p CreditPool) IsValid() bool {
	for _, candidate := range validCreditPools {
		if candidate == p {
			return true
		}
	}
	return false
}

func ParseCreditPool(value string) (CreditPool, error) {
	for _, candidate := range validCreditPools {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid credit pool %q", value)
}
