package postgres

import (
	"context"
	"errors"
	"fmt"

	"credit-ledger/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const allocationColumns = `id, wallet_id, allocated, status, created_at, updated_at`

// AllocationRepo implements ports.AllocationRepository.
type AllocationRepo struct {
	pool Pool
}

// NewAllocationRepo creates a new AllocationRepo.
func NewAllocationRepo(pool Pool) *AllocationRepo {
	return &AllocationRepo{pool: pool}
}

// Create inserts a new allocation within a database transaction.
func (r *AllocationRepo) Create(ctx context.Context, tx pgx.Tx, a *domain.CreditAllocation) error {
	query := `INSERT INTO credit_allocations (` + allocationColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6)`

	_, err := tx.Exec(ctx, query, a.ID, a.WalletID, a.Allocated, a.Status, a.CreatedAt, a.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert credit allocation: %w", err)
	}
	return nil
}

// GetByID fetches an allocation (non-locking read).
func (r *AllocationRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.CreditAllocation, error) {
	query := `SELECT ` + allocationColumns + ` FROM credit_allocations WHERE id = $1`
	return scanAllocation(r.pool.QueryRow(ctx, query, id), "get credit allocation")
}

// GetForUpdate fetches an allocation and locks its row until the transaction
// ends. Settlements serialise on this lock.
func (r *AllocationRepo) GetForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*domain.CreditAllocation, error) {
	query := `SELECT ` + allocationColumns + ` FROM credit_allocations WHERE id = $1 FOR UPDATE`
	return scanAllocation(tx.QueryRow(ctx, query, id), "get credit allocation for update")
}

// Exhausted sums the complete rewards drawn from an allocation.
func (r *AllocationRepo) Exhausted(ctx context.Context, tx pgx.Tx, id uuid.UUID) (int64, error) {
	query := `SELECT COALESCE(SUM(COALESCE(value, 0)), 0)::BIGINT FROM wallet_transactions
		WHERE credit_allocation = $1 AND type = 'reward' AND status = 'complete'`

	var sum int64
	if err := pick(r.pool, tx).QueryRow(ctx, query, id).Scan(&sum); err != nil {
		return 0, fmt.Errorf("sum allocation rewards: %w", err)
	}
	return sum, nil
}

// UpdateStatus moves an allocation to a new status.
func (r *AllocationRepo) UpdateStatus(ctx context.Context, tx pgx.Tx, id uuid.UUID, status domain.AllocationStatus) error {
	query := `UPDATE credit_allocations SET status = $1, updated_at = NOW() WHERE id = $2`

	tag, err := tx.Exec(ctx, query, status, id)
	if err != nil {
		return fmt.Errorf("update allocation status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("credit allocation not found: %s", id)
	}
	return nil
}

func scanAllocation(row pgx.Row, op string) (*domain.CreditAllocation, error) {
	a := &domain.CreditAllocation{}
	err := row.Scan(&a.ID, &a.WalletID, &a.Allocated, &a.Status, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return a, nil
}
