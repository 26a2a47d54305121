package enums

import "fmt"

// LedgerScope tells which balance a ledger row describes.
type LedgerScope string

const (
	LedgerScopeAccount    LedgerScope = "account"
	LedgerScopeAllocation LedgerScope = "allocation"
)

var validLedgerScopes = []LedgerScope{
	LedgerScopeAccount,
	LedgerScopeAllocation,
}

// IsValid reports whether the value matches a known ledger scope.
func (v LedgerScope) IsValid() bool {
	for _, candidate := range validLedgerScopes {
		if candidate == v {
			return true
		}
	}
	return false
}

// ParseLedgerScope converts raw input into LedgerScope.
func ParseLedgerScope(value string) (LedgerScope, error) {
	for _, candidate := range validLedgerScopes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid ledger scope %q", value)
}
