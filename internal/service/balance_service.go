package service

import (
	"context"
	"fmt"

	"credit-ledger/internal/core/domain"
	"credit-ledger/internal/core/ports"
	"credit-ledger/pkg/apperror"

	"github.com/rs/zerolog"
)

// BalanceServiceImpl implements ports.BalanceService. Every call re-aggregates
// the transaction log.
type BalanceServiceImpl struct {
	walletRepo  ports.WalletRepository
	balanceRepo ports.BalanceRepository
	log         zerolog.Logger
}

// NewBalanceService creates a new BalanceServiceImpl.
func NewBalanceService(walletRepo ports.WalletRepository, balanceRepo ports.BalanceRepository, log zerolog.Logger) *BalanceServiceImpl {
	return &BalanceServiceImpl{
		walletRepo:  walletRepo,
		balanceRepo: balanceRepo,
		log:         log,
	}
}

// GetBalances returns the owner's funding and reward balances.
func (s *BalanceServiceImpl) GetBalances(ctx context.Context, ownerID int64) (*domain.Balances, error) {
	wallet, err := s.walletRepo.GetByOwner(ctx, ownerID)
	if err != nil {
		return nil, apperror.ErrDatabaseError(fmt.Errorf("get wallet: %w", err))
	}
	if wallet == nil {
		return nil, apperror.ErrNotFound("Wallet")
	}

	balances, err := s.balanceRepo.GetBalances(ctx, wallet.ID)
	if err != nil {
		return nil, apperror.ErrDatabaseError(fmt.Errorf("get balances: %w", err))
	}
	if balances == nil {
		return nil, apperror.ErrNotFound("Wallet")
	}
	return balances, nil
}
