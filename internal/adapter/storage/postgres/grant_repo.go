package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"credit-ledger/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// RewardGrantRepo implements ports.RewardGrantRepository.
type RewardGrantRepo struct {
	pool Pool
}

// NewRewardGrantRepo creates a new RewardGrantRepo.
func NewRewardGrantRepo(pool Pool) *RewardGrantRepo {
	return &RewardGrantRepo{pool: pool}
}

// Create inserts a pending grant. The unique broadcast_view index keeps a
// second grant for the same view from being written.
func (r *RewardGrantRepo) Create(ctx context.Context, tx pgx.Tx, g *domain.RewardGrant) (bool, error) {
	query := `INSERT INTO reward_grants (id, broadcast_view, status, failure_count, wallet_transaction,
			granted_at, failed_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (broadcast_view) DO NOTHING`

	tag, err := tx.Exec(ctx, query,
		g.ID, g.BroadcastViewID, g.Status, g.FailureCount, g.WalletTransactionID,
		g.GrantedAt, g.FailedAt, g.CreatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("insert reward grant: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// GetByViewForUpdate fetches the grant of a view and locks it.
// This MUST be called within a transaction.
func (r *RewardGrantRepo) GetByViewForUpdate(ctx context.Context, tx pgx.Tx, viewID uuid.UUID) (*domain.RewardGrant, error) {
	query := `SELECT id, broadcast_view, status, failure_count, wallet_transaction, granted_at, failed_at, created_at
		FROM reward_grants WHERE broadcast_view = $1 FOR UPDATE`

	g := &domain.RewardGrant{}
	err := tx.QueryRow(ctx, query, viewID).Scan(grantDest(g)...)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get reward grant for update: %w", err)
	}
	return g, nil
}

// Update persists the grant's state after a transition.
func (r *RewardGrantRepo) Update(ctx context.Context, tx pgx.Tx, g *domain.RewardGrant) error {
	query := `UPDATE reward_grants
		SET status = $1, failure_count = $2, wallet_transaction = $3, granted_at = $4, failed_at = $5
		WHERE id = $6`

	tag, err := tx.Exec(ctx, query, g.Status, g.FailureCount, g.WalletTransactionID, g.GrantedAt, g.FailedAt, g.ID)
	if err != nil {
		return fmt.Errorf("update reward grant: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("reward grant not found: %s", g.ID)
	}
	return nil
}

// ListStalePending returns grants still pending since before olderThan.
func (r *RewardGrantRepo) ListStalePending(ctx context.Context, olderThan time.Time) ([]domain.RewardGrant, error) {
	query := `SELECT id, broadcast_view, status, failure_count, wallet_transaction, granted_at, failed_at, created_at
		FROM reward_grants WHERE status = 'pending' AND created_at < $1
		ORDER BY created_at`

	rows, err := r.pool.Query(ctx, query, olderThan)
	if err != nil {
		return nil, fmt.Errorf("list stale pending grants: %w", err)
	}
	defer rows.Close()

	var grants []domain.RewardGrant
	for rows.Next() {
		g := domain.RewardGrant{}
		if err := rows.Scan(grantDest(&g)...); err != nil {
			return nil, fmt.Errorf("scan reward grant row: %w", err)
		}
		grants = append(grants, g)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate reward grant rows: %w", err)
	}
	return grants, nil
}

func grantDest(g *domain.RewardGrant) []any {
	return []any{
		&g.ID, &g.BroadcastViewID, &g.Status, &g.FailureCount, &g.WalletTransactionID,
		&g.GrantedAt, &g.FailedAt, &g.CreatedAt,
	}
}
