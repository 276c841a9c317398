package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	"credit-ledger/pkg/apperror"

	"github.com/google/uuid"
)

// BroadcastView is a deduplicated visit to a broadcast's tracked link, unique
// per (broadcast, ip, device hash).
type BroadcastView struct {
	ID          uuid.UUID `json:"id"`
	BroadcastID uuid.UUID `json:"broadcast_id"`
	IP          string    `json:"ip"`
	DeviceHash  string    `json:"device_hash"`
	ClickCount  int       `json:"click_count"`
	ViewedAt    time.Time `json:"viewed_at"`
	CreatedAt   time.Time `json:"created_at"`
}

// IsFirst reports whether this is the first recorded visit, the only one that
// may trigger a reward.
func (v *BroadcastView) IsFirst() bool {
	return v.ClickCount == 1
}

// Fingerprint derives the stored device hash from the client-supplied device
// hash, the remote address and the user agent.
func Fingerprint(deviceHash, ip, userAgent string) string {
	sum := sha256.Sum256([]byte(deviceHash + ip + userAgent))
	return hex.EncodeToString(sum[:])
}

// ViewOutcome is returned to the tracking caller.
type ViewOutcome struct {
	ViewID       uuid.UUID  `json:"view_id"`
	ClickCount   int        `json:"click_count"`
	RewardQueued bool       `json:"reward_queued"`
	GrantID      *uuid.UUID `json:"grant_id,omitempty"`
}

// SettlementContext is everything a settlement needs to know about a view,
// resolved in one join. Pointer fields are nil when the linked row is gone.
type SettlementContext struct {
	ViewID              uuid.UUID
	BroadcastID         uuid.UUID
	PublicationID       uuid.UUID
	PublicationRemoved  bool
	AllocationID        *uuid.UUID
	SourceWalletID      *uuid.UUID
	SourceOwnerID       *int64
	ConnectionID        *int64
	DestinationWalletID *uuid.UUID
	DestinationOwnerID  *int64
	CampaignID          *int64
	CampaignOwnerID     *int64
}

// Validate returns a parameters error naming the first missing link.
func (c *SettlementContext) Validate() error {
	switch {
	case c.PublicationRemoved:
		return apperror.ErrParameters("publication has been removed")
	case c.CampaignID == nil || c.CampaignOwnerID == nil:
		return apperror.ErrParameters("campaign is missing")
	case c.AllocationID == nil:
		return apperror.ErrParameters("credit allocation is missing")
	case c.SourceWalletID == nil || c.SourceOwnerID == nil:
		return apperror.ErrParameters("source wallet is missing")
	case c.ConnectionID == nil:
		return apperror.ErrParameters("account connection is missing")
	case c.DestinationWalletID == nil || c.DestinationOwnerID == nil:
		return apperror.ErrParameters("destination wallet is missing")
	}
	return nil
}

// Source returns the wallet paying the reward. Call Validate first.
func (c *SettlementContext) Source() WalletRef {
	return WalletRef{WalletID: *c.SourceWalletID, OwnerID: *c.SourceOwnerID}
}

// Destination returns the broadcaster's wallet. Call Validate first.
func (c *SettlementContext) Destination() WalletRef {
	return WalletRef{WalletID: *c.DestinationWalletID, OwnerID: *c.DestinationOwnerID}
}
