package domain

import "github.com/google/uuid"

// BalanceChanged is emitted after any committed change to a wallet's balances.
type BalanceChanged struct {
	WalletID uuid.UUID `json:"wallet_id"`
	OwnerID  int64     `json:"owner_id"`
}

// RewardGranted is emitted when a first view creates a pending grant.
type RewardGranted struct {
	GrantID uuid.UUID `json:"grant_id"`
	ViewID  uuid.UUID `json:"view_id"`
}

// PaymentUpdated is emitted when a payment provider reports a new status.
type PaymentUpdated struct {
	PaymentID           uuid.UUID     `json:"payment_id"`
	WalletTransactionID *uuid.UUID    `json:"wallet_transaction_id,omitempty"`
	Status              PaymentStatus `json:"status"`
}
