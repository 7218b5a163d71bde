package enums

import "fmt"

// ExpirationPolicy controls what happens to unused subscription credits when
// a new cycle is granted.
type ExpirationPolicy string

const (
	ExpirationPolicyNever         ExpirationPolicy = "never"
	ExpirationPolicyCycleEnd      ExpirationPolicy = "cycle_end"
	ExpirationPolicyRollingWindow ExpirationPolicy = "rolling_window"
)

var validExpirationPolicies = []ExpirationPolicy{
	ExpirationPolicyNever,
	ExpirationPolicyCycleEnd,
	ExpirationPolicyRollingWindow,
}

func (p ExpirationPolicy) String() string {
	return string(p)
}

func (p ExpirationPolicy) IsValid() bool {
	for _, candidate := range validExpirationPolicies {
		if candidate == p {
			return true
		}
	}
	return false
}

func ParseExpirationPolicy(value string) (ExpirationPolicy, error) {
	for _, candidate := range validExpirationPolicies {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid expiration policy %q", value)
}
