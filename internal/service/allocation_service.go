package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"credit-ledger/internal/core/domain"
	"credit-ledger/internal/core/ports"
	"credit-ledger/pkg/apperror"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Reservation outcomes reported to metrics.
const (
	outcomeOK                = "ok"
	outcomeInsufficientFunds = "insufficient_funds"
	outcomeRejected          = "rejected"
	outcomeError             = "error"
)

// AllocationServiceImpl implements ports.AllocationService.
type AllocationServiceImpl struct {
	walletRepo      ports.WalletRepository
	allocationRepo  ports.AllocationRepository
	publicationRepo ports.PublicationRepository
	campaignRepo    ports.CampaignRepository
	balanceRepo     ports.BalanceRepository
	events          ports.EventPublisher
	metrics         ports.LedgerMetrics
	transactor      ports.DBTransactor
	minReward       int64
	log             zerolog.Logger
}

// NewAllocationService creates a new AllocationServiceImpl.
func NewAllocationService(
	walletRepo ports.WalletRepository,
	allocationRepo ports.AllocationRepository,
	publicationRepo ports.PublicationRepository,
	campaignRepo ports.CampaignRepository,
	balanceRepo ports.BalanceRepository,
	events ports.EventPublisher,
	metrics ports.LedgerMetrics,
	transactor ports.DBTransactor,
	minReward int64,
	log zerolog.Logger,
) *AllocationServiceImpl {
	return &AllocationServiceImpl{
		walletRepo:      walletRepo,
		allocationRepo:  allocationRepo,
		publicationRepo: publicationRepo,
		campaignRepo:    campaignRepo,
		balanceRepo:     balanceRepo,
		events:          events,
		metrics:         metrics,
		transactor:      transactor,
		minReward:       minReward,
		log:             log,
	}
}

// Reserve sets aside credits from the owner's funding balance for a new
// publication of one of their campaigns. The wallet row stays locked from
// the balance read until the allocation is written, so concurrent reservations
// on one wallet are serialized.
func (s *AllocationServiceImpl) Reserve(ctx context.Context, req ports.ReserveRequest) (*domain.Reservation, error) {
	res, err := s.reserve(ctx, req)
	switch {
	case err == nil:
		s.metrics.ReservationRecorded(outcomeOK)
	case errors.Is(err, apperror.ErrInsufficientFunds()):
		s.metrics.ReservationRecorded(outcomeInsufficientFunds)
	case apperror.IsPrecondition(err), isClientError(err):
		s.metrics.ReservationRecorded(outcomeRejected)
	default:
		s.metrics.ReservationRecorded(outcomeError)
	}
	return res, err
}

func (s *AllocationServiceImpl) reserve(ctx context.Context, req ports.ReserveRequest) (*domain.Reservation, error) {
	if req.Credits < s.minReward {
		return nil, apperror.ErrInvalidAmount()
	}

	now := time.Now().UTC()
	publishAfter := today(now)
	if req.PublishAfter != nil {
		publishAfter = req.PublishAfter.UTC()
	}
	if req.PublishBefore != nil && !req.PublishBefore.After(publishAfter) {
		return nil, apperror.Validation("publish_before must be after publish_after")
	}

	if _, err := s.ownedCampaign(ctx, req.OwnerID, req.CampaignID); err != nil {
		return nil, err
	}

	dbTx, err := s.transactor.Begin(ctx)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("begin tx: %w", err))
	}
	defer dbTx.Rollback(ctx) //nolint:errcheck

	wallet, err := s.walletRepo.GetByOwnerForUpdate(ctx, dbTx, req.OwnerID)
	if err != nil {
		return nil, apperror.ErrDatabaseError(fmt.Errorf("lock wallet: %w", err))
	}
	if wallet == nil {
		return nil, apperror.ErrNotFound("Wallet")
	}

	funding, err := s.balanceRepo.GetFundingBalance(ctx, dbTx, wallet.ID)
	if err != nil {
		return nil, apperror.ErrDatabaseError(fmt.Errorf("read funding balance: %w", err))
	}
	if funding < req.Credits {
		s.log.Info().
			Str("wallet_id", wallet.ID.String()).
			Int64("funding", funding).
			Int64("requested", req.Credits).
			Msg("reservation rejected: insufficient funding")
		return nil, apperror.ErrInsufficientFunds()
	}

	allocation := domain.CreditAllocation{
		ID:        uuid.New(),
		WalletID:  wallet.ID,
		Allocated: req.Credits,
		Status:    domain.AllocationStatusActive,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.allocationRepo.Create(ctx, dbTx, &allocation); err != nil {
		return nil, apperror.ErrDatabaseError(fmt.Errorf("create allocation: %w", err))
	}

	publication := domain.CampaignPublication{
		ID:                 uuid.New(),
		CampaignID:         req.CampaignID,
		CreditAllocationID: allocation.ID,
		PublishAfter:       publishAfter,
		PublishBefore:      req.PublishBefore,
		CreatedAt:          now,
	}
	if err := s.publicationRepo.Create(ctx, dbTx, &publication); err != nil {
		return nil, apperror.ErrDatabaseError(fmt.Errorf("create publication: %w", err))
	}

	if err := dbTx.Commit(ctx); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("commit tx: %w", err))
	}

	s.log.Info().
		Str("allocation_id", allocation.ID.String()).
		Str("wallet_id", wallet.ID.String()).
		Int64("campaign_id", req.CampaignID).
		Int64("allocated", req.Credits).
		Msg("credits reserved")

	notifyBalanceChanged(ctx, s.events, s.log, wallet.Ref())
	return &domain.Reservation{Allocation: allocation, Publication: publication}, nil
}

// Release cancels an active allocation and soft-deletes its publication.
// Rewards already drawn from it stay complete.
func (s *AllocationServiceImpl) Release(ctx context.Context, ownerID int64, allocationID uuid.UUID) error {
	wallet, err := s.walletRepo.GetByOwner(ctx, ownerID)
	if err != nil {
		return apperror.ErrDatabaseError(fmt.Errorf("get wallet: %w", err))
	}
	if wallet == nil {
		return apperror.ErrNotFound("Allocation")
	}

	dbTx, err := s.transactor.Begin(ctx)
	if err != nil {
		return apperror.InternalError(fmt.Errorf("begin tx: %w", err))
	}
	defer dbTx.Rollback(ctx) //nolint:errcheck

	allocation, err := s.allocationRepo.GetForUpdate(ctx, dbTx, allocationID)
	if err != nil {
		return apperror.ErrDatabaseError(fmt.Errorf("lock allocation: %w", err))
	}
	if allocation == nil || allocation.WalletID != wallet.ID {
		return apperror.ErrNotFound("Allocation")
	}
	if !allocation.IsActive() {
		return apperror.ErrAllocationClosed()
	}

	now := time.Now().UTC()
	if err := s.allocationRepo.UpdateStatus(ctx, dbTx, allocation.ID, domain.AllocationStatusCancelled); err != nil {
		return apperror.ErrDatabaseError(fmt.Errorf("cancel allocation: %w", err))
	}
	if err := s.publicationRepo.RemoveByAllocation(ctx, dbTx, allocation.ID, now); err != nil {
		return apperror.ErrDatabaseError(fmt.Errorf("remove publication: %w", err))
	}

	if err := dbTx.Commit(ctx); err != nil {
		return apperror.InternalError(fmt.Errorf("commit tx: %w", err))
	}

	s.log.Info().
		Str("allocation_id", allocation.ID.String()).
		Str("wallet_id", wallet.ID.String()).
		Msg("allocation released")

	notifyBalanceChanged(ctx, s.events, s.log, wallet.Ref())
	return nil
}

// ListPublications returns the live publications of a campaign with their usage.
func (s *AllocationServiceImpl) ListPublications(ctx context.Context, ownerID int64, campaignID int64) ([]domain.PublicationSummary, error) {
	if _, err := s.ownedCampaign(ctx, ownerID, campaignID); err != nil {
		return nil, err
	}

	pubs, err := s.publicationRepo.ListByCampaign(ctx, campaignID)
	if err != nil {
		return nil, apperror.ErrDatabaseError(fmt.Errorf("list publications: %w", err))
	}
	return pubs, nil
}

// FanOut creates one broadcast per recipient connection. Connections already
// holding a broadcast of the publication are left untouched.
func (s *AllocationServiceImpl) FanOut(ctx context.Context, ownerID int64, publicationID uuid.UUID, connectionIDs []int64) ([]domain.PublicationBroadcast, error) {
	if len(connectionIDs) == 0 {
		return nil, apperror.Validation("connection_ids must not be empty")
	}

	pub, err := s.publicationRepo.GetByID(ctx, publicationID)
	if err != nil {
		return nil, apperror.ErrDatabaseError(fmt.Errorf("get publication: %w", err))
	}
	if pub == nil || pub.RemovedAt != nil {
		return nil, apperror.ErrNotFound("Publication")
	}
	if _, err := s.ownedCampaign(ctx, ownerID, pub.CampaignID); err != nil {
		return nil, apperror.ErrNotFound("Publication")
	}

	now := time.Now().UTC()
	seen := make(map[int64]bool, len(connectionIDs))
	broadcasts := make([]domain.PublicationBroadcast, 0, len(connectionIDs))
	for _, connID := range connectionIDs {
		if seen[connID] {
			continue
		}
		seen[connID] = true
		broadcasts = append(broadcasts, domain.PublicationBroadcast{
			ID:            uuid.New(),
			PublicationID: pub.ID,
			ConnectionID:  connID,
			CreatedAt:     now,
		})
	}

	if err := s.publicationRepo.CreateBroadcasts(ctx, broadcasts); err != nil {
		return nil, apperror.ErrDatabaseError(fmt.Errorf("create broadcasts: %w", err))
	}

	s.log.Info().
		Str("publication_id", pub.ID.String()).
		Int("broadcasts", len(broadcasts)).
		Msg("publication fanned out")
	return broadcasts, nil
}

// MarkSent stamps sentAt on the given broadcasts that have not been sent yet.
func (s *AllocationServiceImpl) MarkSent(ctx context.Context, broadcastIDs []uuid.UUID) (int64, error) {
	if len(broadcastIDs) == 0 {
		return 0, nil
	}
	n, err := s.publicationRepo.MarkBroadcastsSent(ctx, broadcastIDs, time.Now().UTC())
	if err != nil {
		return 0, apperror.ErrDatabaseError(fmt.Errorf("mark broadcasts sent: %w", err))
	}
	return n, nil
}

func (s *AllocationServiceImpl) ownedCampaign(ctx context.Context, ownerID, campaignID int64) (*domain.Campaign, error) {
	campaign, err := s.campaignRepo.GetByID(ctx, campaignID)
	if err != nil {
		return nil, apperror.ErrDatabaseError(fmt.Errorf("get campaign: %w", err))
	}
	if campaign == nil || campaign.DeletedAt != nil || campaign.OwnerID != ownerID {
		return nil, apperror.ErrNotFound("Campaign")
	}
	return campaign, nil
}

func today(now time.Time) time.Time {
	y, m, d := now.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func isClientError(err error) bool {
	var appErr *apperror.AppError
	return errors.As(err, &appErr) && appErr.HTTPStatus < 500
}
