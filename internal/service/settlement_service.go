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
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
)

// SettlementServiceImpl implements ports.SettlementService.
type SettlementServiceImpl struct {
	viewRepo       ports.ViewRepository
	allocationRepo ports.AllocationRepository
	grantRepo      ports.RewardGrantRepository
	txRepo         ports.TransactionRepository
	events         ports.EventPublisher
	metrics        ports.LedgerMetrics
	transactor     ports.DBTransactor
	minReward      int64
	log            zerolog.Logger
}

// NewSettlementService creates a new SettlementServiceImpl.
func NewSettlementService(
	viewRepo ports.ViewRepository,
	allocationRepo ports.AllocationRepository,
	grantRepo ports.RewardGrantRepository,
	txRepo ports.TransactionRepository,
	events ports.EventPublisher,
	metrics ports.LedgerMetrics,
	transactor ports.DBTransactor,
	minReward int64,
	log zerolog.Logger,
) *SettlementServiceImpl {
	return &SettlementServiceImpl{
		viewRepo:       viewRepo,
		allocationRepo: allocationRepo,
		grantRepo:      grantRepo,
		txRepo:         txRepo,
		events:         events,
		metrics:        metrics,
		transactor:     transactor,
		minReward:      minReward,
		log:            log,
	}
}

// Settle pays the fixed reward for a first view out of its publication's
// allocation. A failed attempt is recorded on the view's grant: precondition
// failures close it, anything else only bumps its failure count.
func (s *SettlementServiceImpl) Settle(ctx context.Context, viewID uuid.UUID) (*domain.WalletTransaction, error) {
	log := s.log.With().Str("view_id", viewID.String()).Logger()

	txn, refs, err := s.settle(ctx, viewID)
	if err != nil {
		s.metrics.SettlementRecorded(settlementOutcome(err))
		if !errors.Is(err, apperror.ErrGrantClosed()) && !errors.Is(err, apperror.ErrNotFound("")) {
			s.recordFailure(ctx, log, viewID, apperror.IsPrecondition(err))
		}
		return nil, err
	}
	s.metrics.SettlementRecorded(outcomeOK)

	log.Info().
		Str("tx_id", txn.ID.String()).
		Str("allocation_id", txn.CreditAllocationID.String()).
		Int64("value", *txn.Value).
		Msg("reward settled")

	notifyBalanceChanged(ctx, s.events, s.log, refs...)
	return txn, nil
}

func (s *SettlementServiceImpl) settle(ctx context.Context, viewID uuid.UUID) (*domain.WalletTransaction, []domain.WalletRef, error) {
	dbTx, err := s.transactor.Begin(ctx)
	if err != nil {
		return nil, nil, apperror.InternalError(fmt.Errorf("begin tx: %w", err))
	}
	defer dbTx.Rollback(ctx) //nolint:errcheck

	sc, err := s.viewRepo.GetSettlementContext(ctx, dbTx, viewID)
	if err != nil {
		return nil, nil, apperror.ErrDatabaseError(fmt.Errorf("resolve settlement context: %w", err))
	}
	if sc == nil {
		return nil, nil, apperror.ErrNotFound("Broadcast view")
	}
	if err := sc.Validate(); err != nil {
		return nil, nil, err
	}

	// Lock the allocation for the whole check-then-write.
	allocation, err := s.allocationRepo.GetForUpdate(ctx, dbTx, *sc.AllocationID)
	if err != nil {
		return nil, nil, apperror.ErrDatabaseError(fmt.Errorf("lock allocation: %w", err))
	}
	if allocation == nil {
		return nil, nil, apperror.ErrParameters("credit allocation is missing")
	}
	switch allocation.Status {
	case domain.AllocationStatusCancelled:
		return nil, nil, apperror.ErrAllocationClosed()
	case domain.AllocationStatusComplete:
		return nil, nil, apperror.ErrInsufficientFunds()
	}

	now := time.Now().UTC()
	grant, err := s.lockGrant(ctx, dbTx, viewID, now)
	if err != nil {
		return nil, nil, err
	}
	if grant.IsTerminal() {
		return nil, nil, apperror.ErrGrantClosed()
	}

	exhausted, err := s.allocationRepo.Exhausted(ctx, dbTx, allocation.ID)
	if err != nil {
		return nil, nil, apperror.ErrDatabaseError(fmt.Errorf("sum exhausted: %w", err))
	}
	remaining := allocation.Remaining(exhausted)
	if remaining < s.minReward {
		return nil, nil, apperror.ErrInsufficientFunds()
	}

	source, destination := sc.Source(), sc.Destination()
	value := s.minReward
	txn := &domain.WalletTransaction{
		ID:                 uuid.New(),
		FromWalletID:       &source.WalletID,
		ToWalletID:         destination.WalletID,
		Value:              &value,
		Type:               domain.TransactionTypeReward,
		Status:             domain.TransactionStatusComplete,
		CreditAllocationID: &allocation.ID,
		CreatedAt:          now,
		CompletedAt:        &now,
	}
	if err := s.txRepo.Create(ctx, dbTx, txn); err != nil {
		return nil, nil, apperror.ErrDatabaseError(fmt.Errorf("create reward transaction: %w", err))
	}

	if remaining-value < s.minReward {
		if err := s.allocationRepo.UpdateStatus(ctx, dbTx, allocation.ID, domain.AllocationStatusComplete); err != nil {
			return nil, nil, apperror.ErrDatabaseError(fmt.Errorf("complete allocation: %w", err))
		}
	}

	if err := grant.Complete(txn.ID, now); err != nil {
		return nil, nil, err
	}
	if err := s.grantRepo.Update(ctx, dbTx, grant); err != nil {
		return nil, nil, apperror.ErrDatabaseError(fmt.Errorf("update reward grant: %w", err))
	}

	if err := dbTx.Commit(ctx); err != nil {
		return nil, nil, apperror.InternalError(fmt.Errorf("commit tx: %w", err))
	}
	return txn, []domain.WalletRef{source, destination}, nil
}

// lockGrant returns the view's grant locked for update, creating it when the
// view was recorded without one.
func (s *SettlementServiceImpl) lockGrant(ctx context.Context, dbTx pgx.Tx, viewID uuid.UUID, now time.Time) (*domain.RewardGrant, error) {
	grant, err := s.grantRepo.GetByViewForUpdate(ctx, dbTx, viewID)
	if err != nil {
		return nil, apperror.ErrDatabaseError(fmt.Errorf("lock reward grant: %w", err))
	}
	if grant != nil {
		return grant, nil
	}

	grant = domain.NewRewardGrant(viewID, now)
	created, err := s.grantRepo.Create(ctx, dbTx, grant)
	if err != nil {
		return nil, apperror.ErrDatabaseError(fmt.Errorf("create reward grant: %w", err))
	}
	if created {
		return grant, nil
	}
	// A concurrent writer created it first.
	grant, err = s.grantRepo.GetByViewForUpdate(ctx, dbTx, viewID)
	if err != nil {
		return nil, apperror.ErrDatabaseError(fmt.Errorf("lock reward grant: %w", err))
	}
	if grant == nil {
		return nil, apperror.ErrParameters("reward grant is missing")
	}
	return grant, nil
}

// recordFailure notes a failed attempt on the grant in its own transaction,
// since the settlement transaction has been rolled back.
func (s *SettlementServiceImpl) recordFailure(ctx context.Context, log zerolog.Logger, viewID uuid.UUID, terminal bool) {
	dbTx, err := s.transactor.Begin(ctx)
	if err != nil {
		log.Error().Err(err).Msg("record grant failure: begin tx")
		return
	}
	defer dbTx.Rollback(ctx) //nolint:errcheck

	grant, err := s.grantRepo.GetByViewForUpdate(ctx, dbTx, viewID)
	if err != nil {
		log.Error().Err(err).Msg("record grant failure: lock grant")
		return
	}
	if grant == nil || grant.IsTerminal() {
		return
	}
	if err := grant.RecordFailure(terminal, time.Now().UTC()); err != nil {
		return
	}
	if err := s.grantRepo.Update(ctx, dbTx, grant); err != nil {
		log.Error().Err(err).Msg("record grant failure: update grant")
		return
	}
	if err := dbTx.Commit(ctx); err != nil {
		log.Error().Err(err).Msg("record grant failure: commit")
		return
	}

	log.Warn().
		Str("grant_id", grant.ID.String()).
		Str("status", string(grant.Status)).
		Int("failure_count", grant.FailureCount).
		Msg("reward grant failure recorded")
}

func settlementOutcome(err error) string {
	switch {
	case errors.Is(err, apperror.ErrInsufficientFunds()):
		return outcomeInsufficientFunds
	case apperror.IsPrecondition(err), isClientError(err):
		return outcomeRejected
	default:
		return outcomeError
	}
}
