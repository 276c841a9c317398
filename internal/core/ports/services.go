package ports

import (
	"context"
	"time"

	"credit-ledger/internal/core/domain"

	"github.com/google/uuid"
)

// SignatureService handles HMAC-SHA256 signing and verification.
type SignatureService interface {
	Sign(secretKey string, payload string) string
	Verify(secretKey string, payload string, signature string) bool
}

// TokenService validates bearer tokens issued by the account service.
type TokenService interface {
	Validate(tokenString string) (*TokenClaims, error)
}

// TokenClaims holds the parsed JWT claims.
type TokenClaims struct {
	OwnerID int64
}

// ClaimStore records one-shot keys, e.g. payment provider event ids.
type ClaimStore interface {
	// Claim returns true if the key was not claimed before.
	Claim(ctx context.Context, key string, ttl time.Duration) (bool, error)
	// Release drops a claim so the key can be processed again.
	Release(ctx context.Context, key string) error
}

// ResponseCache stores serialized responses for replayed client requests.
type ResponseCache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// EventPublisher hands ledger events to the asynchronous delivery queue.
type EventPublisher interface {
	PublishBalanceChanged(ctx context.Context, event domain.BalanceChanged) error
	PublishRewardGranted(ctx context.Context, event domain.RewardGranted) error
	PublishPaymentUpdated(ctx context.Context, event domain.PaymentUpdated) error
}

// LedgerMetrics records ledger outcomes.
type LedgerMetrics interface {
	ReservationRecorded(outcome string)
	SettlementRecorded(outcome string)
	ViewRecorded(first bool)
	PendingFunding(count int)
}

// --- Service Ports (Business Logic) ---

// BalanceService exposes the balance projections.
type BalanceService interface {
	GetBalances(ctx context.Context, ownerID int64) (*domain.Balances, error)
}

// WalletService manages wallets and their transfer history.
type WalletService interface {
	CreateWallet(ctx context.Context, ownerID int64) (*domain.Wallet, error)
	TopUp(ctx context.Context, ownerID int64, idempotencyKey string) (*domain.WalletTransaction, error)
	ListTransfers(ctx context.Context, ownerID int64, page, pageSize int) ([]domain.Transfer, int64, error)
}

// AllocationService reserves and releases credits for campaign publications.
type AllocationService interface {
	Reserve(ctx context.Context, req ReserveRequest) (*domain.Reservation, error)
	Release(ctx context.Context, ownerID int64, allocationID uuid.UUID) error
	ListPublications(ctx context.Context, ownerID int64, campaignID int64) ([]domain.PublicationSummary, error)
	FanOut(ctx context.Context, ownerID int64, publicationID uuid.UUID, connectionIDs []int64) ([]domain.PublicationBroadcast, error)
	MarkSent(ctx context.Context, broadcastIDs []uuid.UUID) (int64, error)
}

// ReserveRequest holds validated input for a publication reservation.
type ReserveRequest struct {
	OwnerID       int64
	CampaignID    int64
	Credits       int64
	PublishAfter  *time.Time // nil = today
	PublishBefore *time.Time
}

// TrackingService records viewer visits.
type TrackingService interface {
	RecordView(ctx context.Context, req ViewRequest) (*domain.ViewOutcome, error)
}

// ViewRequest is an unauthenticated visit to a tracked link.
type ViewRequest struct {
	BroadcastID uuid.UUID
	IP          string
	DeviceHash  string
	UserAgent   string
}

// SettlementService converts qualifying views into reward transactions.
type SettlementService interface {
	Settle(ctx context.Context, viewID uuid.UUID) (*domain.WalletTransaction, error)
}

// PaymentService records provider payments and applies their outcome to the ledger.
type PaymentService interface {
	RecordPayment(ctx context.Context, payment *domain.PaymentTransaction) error
	ApplyPaymentOutcome(ctx context.Context, walletTransactionID, paymentID uuid.UUID) ([]domain.WalletRef, error)
}

// BalanceNotifier delivers balance-changed signals to the notification channel.
type BalanceNotifier interface {
	Notify(ctx context.Context, event domain.BalanceChanged) error
}

// PendingSweeper reports stuck pending funding transactions and requeues
// stuck reward grants.
type PendingSweeper interface {
	Sweep(ctx context.Context) (int, error)
}
