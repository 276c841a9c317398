package postgres

import (
	"context"
	"errors"
	"fmt"

	"credit-ledger/internal/core/domain"

	"github.com/jackc/pgx/v5"
)

// CampaignRepo implements ports.CampaignRepository.
type CampaignRepo struct {
	pool Pool
}

// NewCampaignRepo creates a new CampaignRepo.
func NewCampaignRepo(pool Pool) *CampaignRepo {
	return &CampaignRepo{pool: pool}
}

// GetByID fetches a campaign that has not been deleted.
func (r *CampaignRepo) GetByID(ctx context.Context, id int64) (*domain.Campaign, error) {
	query := `SELECT id, owner_id, name, deleted_at FROM campaigns WHERE id = $1 AND deleted_at IS NULL`

	c := &domain.Campaign{}
	err := r.pool.QueryRow(ctx, query, id).Scan(&c.ID, &c.OwnerID, &c.Name, &c.DeletedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get campaign: %w", err)
	}
	return c, nil
}
