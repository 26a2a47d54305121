package enums

import "fmt"

// CreditType categorises credits for allocation and expiry.
type CreditType string

const (
	CreditTypePaid        CreditType = "paid"
	CreditTypeFree        CreditType = "free"
	CreditTypeSeasonal    CreditType = "seasonal"
	CreditTypeBonus       CreditType = "bonus"
	CreditTypePromotional CreditType = "promotional"
)

var validCreditTypes = []CreditType{
	CreditTypePaid,
	CreditTypeFree,
	CreditTypeSeasonal,
	CreditTypeBonus,
	CreditTypePromotional,
}

// IsValid reports whether the value matches a known credit type.
func (v CreditType) IsValid() bool {
	for _, candidate := range validCreditTypes {
		if candidate == v {
			return true
		}
	}
	return false
}

// ParseCreditType converts raw input into CreditType.
func ParseCreditType(value string) (CreditType, error) {
	for _, candidate := range validCreditTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid credit type %q", value)
}

// TracksSubBalance reports whether account-level credits of this type are
// kept in the expiring free sub-balance.
func (v CreditType) TracksSubBalance() bool {
	return v == CreditTypeFree
}
