package domain

import (
	"time"

	"github.com/google/uuid"
)

// Wallet is the single credit account of a platform user. Balances are never
// stored on it; see ProjectBalances.
type Wallet struct {
	ID              uuid.UUID `json:"id"`
	OwnerID         int64     `json:"owner_id"`
	StartingBalance int64     `json:"starting_balance"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// WalletRef identifies a wallet whose balance changed.
type WalletRef struct {
	WalletID uuid.UUID `json:"wallet_id"`
	OwnerID  int64     `json:"owner_id"`
}

// Ref returns the wallet's notification reference.
func (w *Wallet) Ref() WalletRef {
	return WalletRef{WalletID: w.ID, OwnerID: w.OwnerID}
}
