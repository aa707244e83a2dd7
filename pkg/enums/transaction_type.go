package enums

import "fmt"

// TransactionType maps to the transaction_type_enum enum in Postgres.
type TransactionType string

const (
	TransactionTypeSaleDelivered TransactionType = "SALE_DELIVERED"
	TransactionTypeSale          TransactionType = "SALE"
	TransactionTypeReturn        TransactionType = "RETURN"
	TransactionTypeAdjustment    TransactionType = "ADJUSTMENT"
)

var validTransactionTypes = []TransactionType{
	TransactionTypeSaleDelivered,
	TransactionTypeSale,
	TransactionTypeReturn,
	TransactionTypeAdjustment,
}

// SaleTransactionTypes lists the types subject to the one-sale-per-order rule.
var SaleTransactionTypes = []TransactionType{
	TransactionTypeSaleDelivered,
	TransactionTypeSale,
}

// IsValid reports whether the value matches the canonical transaction enum.
func (t TransactionType) IsValid() bool {
	for _, candidate := range validTransactionTypes {
		if candidate == t {
			return true
		}
	}
	return false
}

// IsSale reports whether the type counts as a sale for dedup and cash math.
func (t TransactionType) IsSale() bool {
	return t == TransactionTypeSaleDelivered || t == TransactionTypeSale
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
