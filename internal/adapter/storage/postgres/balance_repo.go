package postgres

import (
	"context"
	"errors"
	"fmt"

	"credit-ledger/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// BalanceRepo implements ports.BalanceRepository on the vw_funding_balances
// and vw_reward_balances views. Every call re-aggregates the log.
type BalanceRepo struct {
	pool Pool
}

// NewBalanceRepo creates a new BalanceRepo.
func NewBalanceRepo(pool Pool) *BalanceRepo {
	return &BalanceRepo{pool: pool}
}

// GetBalances reads both projections of a wallet.
func (r *BalanceRepo) GetBalances(ctx context.Context, walletID uuid.UUID) (*domain.Balances, error) {
	query := `SELECT f.wallet_id, f.funding, rw.rewards
		FROM vw_funding_balances f
		JOIN vw_reward_balances rw ON rw.wallet_id = f.wallet_id
		WHERE f.wallet_id = $1`

	b := &domain.Balances{}
	err := r.pool.QueryRow(ctx, query, walletID).Scan(&b.WalletID, &b.Funding, &b.Rewards)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get balances: %w", err)
	}
	return b, nil
}

// GetFundingBalance reads the funding projection inside the caller's transaction.
func (r *BalanceRepo) GetFundingBalance(ctx context.Context, tx pgx.Tx, walletID uuid.UUID) (int64, error) {
	query := `SELECT funding FROM vw_funding_balances WHERE wallet_id = $1`

	var funding int64
	err := pick(r.pool, tx).QueryRow(ctx, query, walletID).Scan(&funding)
	if err != nil {
		return 0, fmt.Errorf("get funding balance: %w", err)
	}
	return funding, nil
}
