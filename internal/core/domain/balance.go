package domain

import "github.com/google/uuid"

// Balances are the two derived projections of a wallet.
type Balances struct {
	WalletID uuid.UUID `json:"wallet_id"`
	Funding  int64     `json:"funding"`
	Rewards  int64     `json:"rewards"`
}

// ProjectBalances aggregates a wallet's balances from its transaction log and
// allocations. Only complete transactions count.
//
//	funding = starting + funding in - active allocations - rewards drawn from
//	          allocations that are no longer active
//	rewards = rewards in - withdrawals out
//
// Rewards drawn from an active allocation are already covered by its allocated
// amount.
func ProjectBalances(w *Wallet, txs []WalletTransaction, allocs []CreditAllocation) Balances {
	b := Balances{WalletID: w.ID, Funding: w.StartingBalance}

	active := make(map[uuid.UUID]bool, len(allocs))
	for _, a := range allocs {
		if a.WalletID != w.ID {
			continue
		}
		if a.IsActive() {
			active[a.ID] = true
			b.Funding -= a.Allocated
		}
	}

	for i := range txs {
		tx := &txs[i]
		credits := tx.Credits()
		if credits == 0 {
			continue
		}
		outgoing := tx.FromWalletID != nil && *tx.FromWalletID == w.ID
		switch tx.Type {
		case TransactionTypeFunding:
			if tx.ToWalletID == w.ID {
				b.Funding += credits
			}
		case TransactionTypeReward:
			if tx.ToWalletID == w.ID {
				b.Rewards += credits
			}
			if outgoing && (tx.CreditAllocationID == nil || !active[*tx.CreditAllocationID]) {
				b.Funding -= credits
			}
		case TransactionTypeWithdrawal:
			if outgoing {
				b.Rewards -= credits
			}
		}
	}
	return b
}

// Exhausted sums complete reward transactions drawn from an allocation.
func Exhausted(allocationID uuid.UUID, txs []WalletTransaction) int64 {
	var sum int64
	for i := range txs {
		tx := &txs[i]
		if tx.Type == TransactionTypeReward && tx.CreditAllocationID != nil && *tx.CreditAllocationID == allocationID {
			sum += tx.Credits()
		}
	}
	return sum
}
