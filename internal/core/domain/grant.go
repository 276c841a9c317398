package domain

import (
	"fmt"
	"time"

	"credit-ledger/pkg/apperror"

	"github.com/google/uuid"
)

// GrantStatus is the state of a reward grant.
type GrantStatus string

const (
	GrantStatusPending  GrantStatus = "pending"
	GrantStatusComplete GrantStatus = "complete"
	GrantStatusFailed   GrantStatus = "failed"
)

// Valid reports whether s is a known grant status.
func (s GrantStatus) Valid() bool {
	switch s {
	case GrantStatusPending, GrantStatusComplete, GrantStatusFailed:
		return true
	}
	return false
}

// ParseGrantStatus converts a stored value into a GrantStatus.
func ParseGrantStatus(s string) (GrantStatus, error) {
	st := GrantStatus(s)
	if !st.Valid() {
		return "", fmt.Errorf("unknown grant status %q", s)
	}
	return st, nil
}

// RewardGrant records the payout owed for one broadcast view.
//
//	pending -> complete (settled, GrantedAt set)
//	pending -> failed   (terminal failure, FailedAt set)
//
// Non-terminal failures keep the grant pending and only bump FailureCount.
type RewardGrant struct {
	ID                  uuid.UUID   `json:"id"`
	BroadcastViewID     uuid.UUID   `json:"broadcast_view_id"`
	Status              GrantStatus `json:"status"`
	FailureCount        int         `json:"failure_count"`
	WalletTransactionID *uuid.UUID  `json:"wallet_transaction_id,omitempty"`
	GrantedAt           *time.Time  `json:"granted_at,omitempty"`
	FailedAt            *time.Time  `json:"failed_at,omitempty"`
	CreatedAt           time.Time   `json:"created_at"`
}

// NewRewardGrant creates a pending grant for a view.
func NewRewardGrant(viewID uuid.UUID, now time.Time) *RewardGrant {
	return &RewardGrant{
		ID:              uuid.New(),
		BroadcastViewID: viewID,
		Status:          GrantStatusPending,
		CreatedAt:       now,
	}
}

// IsTerminal reports whether the grant is complete or failed.
func (g *RewardGrant) IsTerminal() bool {
	return g.Status != GrantStatusPending
}

// Complete links the settling transaction.
func (g *RewardGrant) Complete(txID uuid.UUID, at time.Time) error {
	if g.IsTerminal() {
		return apperror.ErrGrantClosed()
	}
	g.Status = GrantStatusComplete
	g.WalletTransactionID = &txID
	g.GrantedAt = &at
	return nil
}

// RecordFailure counts a failed settlement attempt. A terminal failure moves
// the grant to failed.
func (g *RewardGrant) RecordFailure(terminal bool, at time.Time) error {
	if g.IsTerminal() {
		return apperror.ErrGrantClosed()
	}
	g.FailureCount++
	g.FailedAt = &at
	if terminal {
		g.Status = GrantStatusFailed
	}
	return nil
}
