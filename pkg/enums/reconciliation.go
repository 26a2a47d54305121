package enums

import "fmt"

// ReconciliationResource names the record a reconciliation flag points at.
type ReconciliationResource string

const (
	ReconciliationResourceAccount    ReconciliationResource = "account"
	ReconciliationResourceAllocation ReconciliationResource = "allocation"
	// ReconciliationResourceTransfer points at a transfer id whose debit could
	// not be reversed.
	ReconciliationResourceTransfer ReconciliationResource = "transfer"
)

var validReconciliationResources = []ReconciliationResource{
	ReconciliationResourceAccount,
	ReconciliationResourceAllocation,
	ReconciliationResourceTransfer,
}

// IsValid reports whether the value matches a known reconciliation resource.
func (v ReconciliationResource) IsValid() bool {
	for _, candidate := range validReconciliationResources {
		if candidate == v {
			return true
		}
	}
	return false
}

// ParseReconciliationResource converts raw input into ReconciliationResource.
func ParseReconciliationResource(value string) (ReconciliationResource, error) {
	for _, candidate := range validReconciliationResources {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid reconciliation resource %q", value)
}

// ReconciliationStatus tracks manual follow-up of a flag.
type ReconciliationStatus string

const (
	ReconciliationStatusOpen     ReconciliationStatus = "open"
	ReconciliationStatusResolved ReconciliationStatus = "resolved"
)
