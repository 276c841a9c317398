package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"credit-ledger/internal/core/domain"
	"credit-ledger/internal/core/ports"
	"credit-ledger/pkg/apperror"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	idempotencyTTL  = 24 * time.Hour
	defaultPageSize = 20
	maxPageSize     = 100
	topUpNote       = "wallet top-up"
)

// WalletServiceImpl implements ports.WalletService.
type WalletServiceImpl struct {
	walletRepo      ports.WalletRepository
	txRepo          ports.TransactionRepository
	cache           ports.ResponseCache
	events          ports.EventPublisher
	transactor      ports.DBTransactor
	startingBalance int64
	log             zerolog.Logger
}

// NewWalletService creates a new WalletServiceImpl.
func NewWalletService(
	walletRepo ports.WalletRepository,
	txRepo ports.TransactionRepository,
	cache ports.ResponseCache,
	events ports.EventPublisher,
	transactor ports.DBTransactor,
	startingBalance int64,
	log zerolog.Logger,
) *WalletServiceImpl {
	return &WalletServiceImpl{
		walletRepo:      walletRepo,
		txRepo:          txRepo,
		cache:           cache,
		events:          events,
		transactor:      transactor,
		startingBalance: startingBalance,
		log:             log,
	}
}

// CreateWallet creates the owner's wallet, or returns the existing one.
func (s *WalletServiceImpl) CreateWallet(ctx context.Context, ownerID int64) (*domain.Wallet, error) {
	if ownerID <= 0 {
		return nil, apperror.Validation("owner_id must be positive")
	}

	now := time.Now().UTC()
	wallet := &domain.Wallet{
		ID:              uuid.New(),
		OwnerID:         ownerID,
		StartingBalance: s.startingBalance,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	created, err := s.walletRepo.Create(ctx, wallet)
	if err != nil {
		return nil, apperror.ErrDatabaseError(fmt.Errorf("create wallet: %w", err))
	}
	if !created {
		existing, err := s.walletRepo.GetByOwner(ctx, ownerID)
		if err != nil {
			return nil, apperror.ErrDatabaseError(fmt.Errorf("get wallet: %w", err))
		}
		if existing == nil {
			return nil, apperror.ErrNotFound("Wallet")
		}
		return existing, nil
	}

	s.log.Info().
		Str("wallet_id", wallet.ID.String()).
		Int64("owner_id", ownerID).
		Int64("starting_balance", wallet.StartingBalance).
		Msg("wallet created")

	if wallet.StartingBalance != 0 {
		notifyBalanceChanged(ctx, s.events, s.log, wallet.Ref())
	}
	return wallet, nil
}

// TopUp records a pending funding transaction with no value. It becomes
// spendable only once a payment outcome completes it. A non-empty
// idempotencyKey makes retries return the same transaction.
func (s *WalletServiceImpl) TopUp(ctx context.Context, ownerID int64, idempotencyKey string) (*domain.WalletTransaction, error) {
	cacheKey := ""
	if idempotencyKey != "" {
		cacheKey = fmt.Sprintf("topup:%d:%s", ownerID, idempotencyKey)
		cached, err := s.cache.Get(ctx, cacheKey)
		if err != nil {
			s.log.Warn().Err(err).Str("key", cacheKey).Msg("redis idempotency check failed, creating new top-up")
		}
		if cached != nil {
			var txn domain.WalletTransaction
			if err := json.Unmarshal(cached, &txn); err != nil {
				return nil, apperror.InternalError(fmt.Errorf("unmarshal cached top-up: %w", err))
			}
			return &txn, nil
		}
	}

	wallet, err := s.walletRepo.GetByOwner(ctx, ownerID)
	if err != nil {
		return nil, apperror.ErrDatabaseError(fmt.Errorf("get wallet: %w", err))
	}
	if wallet == nil {
		return nil, apperror.ErrNotFound("Wallet")
	}

	dbTx, err := s.transactor.Begin(ctx)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("begin tx: %w", err))
	}
	defer dbTx.Rollback(ctx) //nolint:errcheck

	note := topUpNote
	txn := &domain.WalletTransaction{
		ID:         uuid.New(),
		ToWalletID: wallet.ID,
		Type:       domain.TransactionTypeFunding,
		Status:     domain.TransactionStatusPending,
		Note:       &note,
		CreatedAt:  time.Now().UTC(),
	}
	if err := s.txRepo.Create(ctx, dbTx, txn); err != nil {
		return nil, apperror.ErrDatabaseError(fmt.Errorf("create top-up: %w", err))
	}

	if err := dbTx.Commit(ctx); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("commit tx: %w", err))
	}

	if cacheKey != "" {
		if resp, err := json.Marshal(txn); err == nil {
			if err := s.cache.Set(ctx, cacheKey, resp, idempotencyTTL); err != nil {
				s.log.Warn().Err(err).Str("key", cacheKey).Msg("failed to cache top-up in redis")
			}
		}
	}

	s.log.Info().
		Str("tx_id", txn.ID.String()).
		Str("wallet_id", wallet.ID.String()).
		Int64("owner_id", ownerID).
		Msg("top-up pending")
	return txn, nil
}

// ListTransfers returns a page of the wallet's transactions, newest first,
// with credits signed from the wallet's point of view.
func (s *WalletServiceImpl) ListTransfers(ctx context.Context, ownerID int64, page, pageSize int) ([]domain.Transfer, int64, error) {
	page, pageSize = normalizePage(page, pageSize)

	wallet, err := s.walletRepo.GetByOwner(ctx, ownerID)
	if err != nil {
		return nil, 0, apperror.ErrDatabaseError(fmt.Errorf("get wallet: %w", err))
	}
	if wallet == nil {
		return nil, 0, apperror.ErrNotFound("Wallet")
	}

	records, total, err := s.txRepo.ListByWallet(ctx, wallet.ID, page, pageSize)
	if err != nil {
		return nil, 0, apperror.ErrDatabaseError(fmt.Errorf("list transfers: %w", err))
	}

	transfers := make([]domain.Transfer, 0, len(records))
	for _, rec := range records {
		transfers = append(transfers, domain.NewTransfer(rec, wallet.ID))
	}
	return transfers, total, nil
}

func normalizePage(page, pageSize int) (int, int) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = defaultPageSize
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	return page, pageSize
}
