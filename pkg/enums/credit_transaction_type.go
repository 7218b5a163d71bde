package enums

import "fmt"

// CreditTransactionType labels an entry in the append-only credit ledger.
type CreditTransactionType string

const (
	CreditTransactionTypeGrant        CreditTransactionType = "grant"
	CreditTransactionTypeExpire       CreditTransactionType = "expire"
	CreditTransactionTypeClawback     CreditTransactionType = "clawback"
	CreditTransactionTypeReset        CreditTransactionType = "reset"
	CreditTransactionTypeTrialWarning CreditTransactionType = "trial_warning"
)

var validCreditTransactionTypes = []CreditTransactionType{
	CreditTransactionTypeGrant,
	CreditTransactionTypeExpire,
	CreditTransactionTypeClawback,
	CreditTransactionTypeReset,
	CreditTransactionTypeTrialWarning,
}

func (t CreditTransactionType) String() string {
	return string(t)
}

func (t CreditTransactionType) IsValid() bool {
	for _, candidate := range validCreditTransactionTypes {
		if candidate == t {
			return true
		}
	}
	return false
}

func ParseCreditTransactionType(value string) (CreditTransactionType, error) {
	for _, candidate := range validCreditTransactionTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid credit transaction type %q", value)
}
