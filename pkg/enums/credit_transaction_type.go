package enums

import "fmt"

// TransactionType maps to the transaction_type column of credit_transactions.
type TransactionType string

const (
	TransactionPurchase    TransactionType = "purchase"
	TransactionConsumption TransactionType = "consumption"
	TransactionTransferOut TransactionType = "transfer_out"
	TransactionTransferIn  TransactionType = "transfer_in"
	TransactionAllocation  TransactionType = "allocation"
	TransactionExpiry      TransactionType = "expiry"
	TransactionAdjustment  TransactionType = "adjustment"
)

var validTransactionTypes = []TransactionType{
	TransactionPurchase,
	TransactionConsumption,
	TransactionTransferOut,
	TransactionTransferIn,
	TransactionAllocation,
	TransactionExpiry,
	TransactionAdjustment,
}

// IsValid reports whether the value matches a known transaction type.
func (v TransactionType) IsValid() bool {
	for _, candidate := range validTransactionTypes {
		if candidate == v {
			return true
		}
	}
	return false
}

// ParseTransactionType converts raw input into TransactionType.
func ParseTransactionType(value string) (TransactionType, error) {
	for _, candidate := range validTransactionTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid transaction type %q", value)
}
