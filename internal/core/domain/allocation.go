package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// AllocationStatus represents the lifecycle state of a credit allocation.
type AllocationStatus string

const (
	AllocationStatusActive    AllocationStatus = "active"
	AllocationStatusCancelled AllocationStatus = "cancelled"
	AllocationStatusComplete  AllocationStatus = "complete"
)

// Valid reports whether s is a known allocation status.
func (s AllocationStatus) Valid() bool {
	switch s {
	case AllocationStatusActive, AllocationStatusCancelled, AllocationStatusComplete:
		return true
	}
	return false
}

// ParseAllocationStatus converts a stored value into an AllocationStatus.
func ParseAllocationStatus(s string) (AllocationStatus, error) {
	st := AllocationStatus(s)
	if !st.Valid() {
		return "", fmt.Errorf("unknown allocation status %q", s)
	}
	return st, nil
}

// CreditAllocation reserves part of a wallet's funding balance for one
// campaign publication.
type CreditAllocation struct {
	ID        uuid.UUID        `json:"id"`
	WalletID  uuid.UUID        `json:"wallet_id"`
	Allocated int64            `json:"allocated"`
	Status    AllocationStatus `json:"status"`
	CreatedAt time.Time        `json:"created_at"`
	UpdatedAt time.Time        `json:"updated_at"`
}

// IsActive reports whether the allocation still pays rewards.
func (a *CreditAllocation) IsActive() bool {
	return a.Status == AllocationStatusActive
}

// Remaining returns the unspent part of the allocation given the sum of
// complete rewards already drawn from it.
func (a *CreditAllocation) Remaining(exhausted int64) int64 {
	return a.Allocated - exhausted
}

// Campaign is the advertiser-owned campaign a publication belongs to. It is
// maintained by the campaign service; the ledger only reads it.
type Campaign struct {
	ID        int64      `json:"id"`
	OwnerID   int64      `json:"owner_id"`
	Name      string     `json:"name"`
	DeletedAt *time.Time `json:"-"`
}

// CampaignPublication links a campaign to exactly one credit allocation.
type CampaignPublication struct {
	ID                 uuid.UUID  `json:"id"`
	CampaignID         int64      `json:"campaign_id"`
	CreditAllocationID uuid.UUID  `json:"credit_allocation_id"`
	PublishAfter       time.Time  `json:"publish_after"`
	PublishBefore      *time.Time `json:"publish_before,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
	RemovedAt          *time.Time `json:"removed_at,omitempty"`
}

// PublicationSummary is a publication with its allocation usage.
type PublicationSummary struct {
	CampaignPublication
	AllocationStatus AllocationStatus `json:"allocation_status"`
	Allocated        int64            `json:"allocated"`
	Exhausted        int64            `json:"exhausted"`
}

// Reservation is the result of reserving credits for a new publication.
type Reservation struct {
	Allocation  CreditAllocation    `json:"allocation"`
	Publication CampaignPublication `json:"publication"`
}

// PublicationBroadcast is one addressed delivery of a publication to a
// recipient connection.
type PublicationBroadcast struct {
	ID            uuid.UUID  `json:"id"`
	PublicationID uuid.UUID  `json:"publication_id"`
	ConnectionID  int64      `json:"connection_id"`
	Acknowledged  bool       `json:"acknowledged"`
	SentAt        *time.Time `json:"sent_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}
