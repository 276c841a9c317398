package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// TransactionType represents the kind of credit movement.
type TransactionType string

const (
	TransactionTypeFunding    TransactionType = "funding"
	TransactionTypeReward     TransactionType = "reward"
	TransactionTypeWithdrawal TransactionType = "withdrawal"
)

// Valid reports whether t is one of the known transaction types.
func (t TransactionType) Valid() bool {
	switch t {
	case TransactionTypeFunding, TransactionTypeReward, TransactionTypeWithdrawal:
		return true
	}
	return false
}

// ParseTransactionType converts a stored value into a TransactionType.
func ParseTransactionType(s string) (TransactionType, error) {
	t := TransactionType(s)
	if !t.Valid() {
		return "", fmt.Errorf("unknown transaction type %q", s)
	}
	return t, nil
}

// TransactionStatus represents the lifecycle state of a wallet transaction.
type TransactionStatus string

const (
	TransactionStatusPending   TransactionStatus = "pending"
	TransactionStatusCancelled TransactionStatus = "cancelled"
	TransactionStatusComplete  TransactionStatus = "complete"
)

// Valid reports whether s is a known transaction status.
func (s TransactionStatus) Valid() bool {
	switch s {
	case TransactionStatusPending, TransactionStatusCancelled, TransactionStatusComplete:
		return true
	}
	return false
}

// ParseTransactionStatus converts a stored value into a TransactionStatus.
func ParseTransactionStatus(s string) (TransactionStatus, error) {
	st := TransactionStatus(s)
	if !st.Valid() {
		return "", fmt.Errorf("unknown transaction status %q", s)
	}
	return st, nil
}

// WalletTransaction is an entry of the append-only credit log. It is immutable
// once it reaches a terminal status.
type WalletTransaction struct {
	ID                 uuid.UUID         `json:"id"`
	FromWalletID       *uuid.UUID        `json:"from_wallet_id,omitempty"` // nil for pure funding credits
	ToWalletID         uuid.UUID         `json:"to_wallet_id"`
	Value              *int64            `json:"value"` // nil until a payment outcome is applied
	Type               TransactionType   `json:"type"`
	Status             TransactionStatus `json:"status"`
	CreditAllocationID *uuid.UUID        `json:"credit_allocation_id,omitempty"`
	PaymentID          *uuid.UUID        `json:"payment_transaction_id,omitempty"`
	Note               *string           `json:"note,omitempty"`
	CreatedAt          time.Time         `json:"created_at"`
	CompletedAt        *time.Time        `json:"completed_at,omitempty"`
	CancelledAt        *time.Time        `json:"cancelled_at,omitempty"`
}

// IsTerminal returns true if the transaction can no longer change.
func (t *WalletTransaction) IsTerminal() bool {
	return t.Status == TransactionStatusComplete || t.Status == TransactionStatusCancelled
}

// Credits returns the value as counted by balance aggregation: a missing value
// counts as zero, and so does anything not yet complete.
func (t *WalletTransaction) Credits() int64 {
	if t.Status != TransactionStatusComplete || t.Value == nil {
		return 0
	}
	return *t.Value
}

// Touches reports whether walletID is the source or destination.
func (t *WalletTransaction) Touches(walletID uuid.UUID) bool {
	return t.ToWalletID == walletID || (t.FromWalletID != nil && *t.FromWalletID == walletID)
}

// PaymentSummary is the external payment attached to a transfer listing.
type PaymentSummary struct {
	ID       uuid.UUID     `json:"id"`
	Provider string        `json:"provider"`
	Status   PaymentStatus `json:"status"`
	Currency string        `json:"currency"`
	Value    string        `json:"value"`
}

// TransferRecord is a stored transaction joined with its payment, if any.
type TransferRecord struct {
	Transaction WalletTransaction
	Payment     *PaymentSummary
}

// Transfer is a transaction seen from one wallet: Credits is negative when the
// wallet is the source.
type Transfer struct {
	WalletTransaction
	Credits  int64           `json:"credits"`
	Incoming bool            `json:"incoming"`
	Payment  *PaymentSummary `json:"payment,omitempty"`
}

// NewTransfer orients rec relative to walletID.
func NewTransfer(rec TransferRecord, walletID uuid.UUID) Transfer {
	var value int64
	if rec.Transaction.Value != nil {
		value = *rec.Transaction.Value
	}
	incoming := rec.Transaction.ToWalletID == walletID
	if !incoming {
		value = -value
	}
	return Transfer{
		WalletTransaction: rec.Transaction,
		Credits:           value,
		Incoming:          incoming,
		Payment:           rec.Payment,
	}
}
