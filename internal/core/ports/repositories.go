package ports

import (
	"context"
	"time"

	"credit-ledger/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// WalletRepository defines persistence operations for wallets.
// Methods accepting pgx.Tx are used inside transaction blocks for pessimistic locking.
type WalletRepository interface {
	// Create inserts the wallet unless the owner already has one. Reports whether a row was written.
	Create(ctx context.Context, wallet *domain.Wallet) (bool, error)
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Wallet, error)
	GetByOwner(ctx context.Context, ownerID int64) (*domain.Wallet, error)
	GetByOwnerForUpdate(ctx context.Context, tx pgx.Tx, ownerID int64) (*domain.Wallet, error)
}

// TransactionRepository defines persistence operations for the wallet transaction log.
type TransactionRepository interface {
	Create(ctx context.Context, tx pgx.Tx, transaction *domain.WalletTransaction) error
	GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*domain.WalletTransaction, error)
	// ApplyOutcome links the payment, sets status and value, and stamps completed_at or cancelled_at.
	ApplyOutcome(ctx context.Context, tx pgx.Tx, id, paymentID uuid.UUID, status domain.TransactionStatus, value int64, at time.Time) error
	ListByWallet(ctx context.Context, walletID uuid.UUID, page, pageSize int) ([]domain.TransferRecord, int64, error)
	ListStalePending(ctx context.Context, olderThan time.Time) ([]domain.WalletTransaction, error)
}

// AllocationRepository defines persistence operations for credit allocations.
type AllocationRepository interface {
	Create(ctx context.Context, tx pgx.Tx, allocation *domain.CreditAllocation) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.CreditAllocation, error)
	GetForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*domain.CreditAllocation, error)
	// Exhausted sums the complete reward transactions drawn from the allocation.
	Exhausted(ctx context.Context, tx pgx.Tx, id uuid.UUID) (int64, error)
	UpdateStatus(ctx context.Context, tx pgx.Tx, id uuid.UUID, status domain.AllocationStatus) error
}

// PublicationRepository defines persistence for campaign publications and their broadcasts.
type PublicationRepository interface {
	Create(ctx context.Context, tx pgx.Tx, publication *domain.CampaignPublication) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.CampaignPublication, error)
	ListByCampaign(ctx context.Context, campaignID int64) ([]domain.PublicationSummary, error)
	RemoveByAllocation(ctx context.Context, tx pgx.Tx, allocationID uuid.UUID, at time.Time) error
	CreateBroadcasts(ctx context.Context, broadcasts []domain.PublicationBroadcast) error
	GetBroadcast(ctx context.Context, id uuid.UUID) (*domain.PublicationBroadcast, error)
	MarkBroadcastsSent(ctx context.Context, ids []uuid.UUID, at time.Time) (int64, error)
}

// CampaignRepository reads campaigns owned by the campaign service.
type CampaignRepository interface {
	GetByID(ctx context.Context, id int64) (*domain.Campaign, error)
}

// ViewRepository defines persistence for deduplicated broadcast views.
type ViewRepository interface {
	// Upsert inserts the view with click_count 1 or increments the existing row,
	// returning the stored view.
	Upsert(ctx context.Context, tx pgx.Tx, view *domain.BroadcastView) (*domain.BroadcastView, error)
	GetSettlementContext(ctx context.Context, tx pgx.Tx, viewID uuid.UUID) (*domain.SettlementContext, error)
}

// RewardGrantRepository defines persistence for reward grants.
type RewardGrantRepository interface {
	// Create inserts the grant unless the view already has one. Reports whether a row was written.
	Create(ctx context.Context, tx pgx.Tx, grant *domain.RewardGrant) (bool, error)
	GetByViewForUpdate(ctx context.Context, tx pgx.Tx, viewID uuid.UUID) (*domain.RewardGrant, error)
	Update(ctx context.Context, tx pgx.Tx, grant *domain.RewardGrant) error
	// ListStalePending returns grants still pending since before olderThan.
	ListStalePending(ctx context.Context, olderThan time.Time) ([]domain.RewardGrant, error)
}

// PaymentRepository defines persistence for external payment records.
type PaymentRepository interface {
	// Upsert stores the payment keyed by (provider, external_id) and sets its ID.
	Upsert(ctx context.Context, payment *domain.PaymentTransaction) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.PaymentTransaction, error)
}

// BalanceRepository reads the balance projections. Nothing is cached.
type BalanceRepository interface {
	GetBalances(ctx context.Context, walletID uuid.UUID) (*domain.Balances, error)
	GetFundingBalance(ctx context.Context, tx pgx.Tx, walletID uuid.UUID) (int64, error)
}

// DBTransactor provides database transaction management.
type DBTransactor interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}
