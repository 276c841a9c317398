package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// PaymentStatus is the state reported by an external payment provider.
type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "pending"
	PaymentStatusSucceeded PaymentStatus = "succeeded"
	PaymentStatusFailed    PaymentStatus = "failed"
	PaymentStatusCancelled PaymentStatus = "cancelled"
)

// Valid reports whether s is a known payment status.
func (s PaymentStatus) Valid() bool {
	switch s {
	case PaymentStatusPending, PaymentStatusSucceeded, PaymentStatusFailed, PaymentStatusCancelled:
		return true
	}
	return false
}

// ParsePaymentStatus converts a provider or stored value into a PaymentStatus.
func ParsePaymentStatus(s string) (PaymentStatus, error) {
	st := PaymentStatus(s)
	if !st.Valid() {
		return "", fmt.Errorf("unknown payment status %q", s)
	}
	return st, nil
}

// LedgerStatus maps a payment status onto the linked wallet transaction.
func (s PaymentStatus) LedgerStatus() TransactionStatus {
	switch s {
	case PaymentStatusSucceeded:
		return TransactionStatusComplete
	case PaymentStatusFailed, PaymentStatusCancelled:
		return TransactionStatusCancelled
	default:
		return TransactionStatusPending
	}
}

// PaymentTransaction is an external payment as reported by its provider.
type PaymentTransaction struct {
	ID                  uuid.UUID       `json:"id"`
	Provider            string          `json:"provider"`
	ExternalID          string          `json:"external_id"`
	Status              PaymentStatus   `json:"status"`
	Value               decimal.Decimal `json:"value"`
	ExchangeRate        decimal.Decimal `json:"exchange_rate"`
	ConvertedValue      decimal.Decimal `json:"converted_value"`
	Currency            string          `json:"currency"`
	Inbound             bool            `json:"inbound"`
	WalletTransactionID *uuid.UUID      `json:"wallet_transaction_id,omitempty"`
	CreatedAt           time.Time       `json:"created_at"`
	UpdatedAt           time.Time       `json:"updated_at"`
}

// Credits returns the converted value rounded down to whole credits.
func (p *PaymentTransaction) Credits() int64 {
	return p.ConvertedValue.Floor().IntPart()
}

// Summary returns the listing form of the payment.
func (p *PaymentTransaction) Summary() PaymentSummary {
	return PaymentSummary{
		ID:       p.ID,
		Provider: p.Provider,
		Status:   p.Status,
		Currency: p.Currency,
		Value:    p.Value.String(),
	}
}
