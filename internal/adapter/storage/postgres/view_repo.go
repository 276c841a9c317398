package postgres

import (
	"context"
	"errors"
	"fmt"

	"credit-ledger/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// ViewRepo implements ports.ViewRepository.
type ViewRepo struct {
	pool Pool
}

// NewViewRepo creates a new ViewRepo.
func NewViewRepo(pool Pool) *ViewRepo {
	return &ViewRepo{pool: pool}
}

// Upsert records a visit. The unique (broadcast_id, ip, device_hash) index
// makes concurrent first visits collapse into one row with an incremented count.
func (r *ViewRepo) Upsert(ctx context.Context, tx pgx.Tx, v *domain.BroadcastView) (*domain.BroadcastView, error) {
	query := `INSERT INTO broadcast_views (id, broadcast_id, ip, device_hash, click_count, viewed_at, created_at)
		VALUES ($1, $2, $3, $4, 1, $5, $5)
		ON CONFLICT (broadcast_id, ip, device_hash)
		DO UPDATE SET click_count = broadcast_views.click_count + 1, viewed_at = EXCLUDED.viewed_at
		RETURNING id, broadcast_id, ip, device_hash, click_count, viewed_at, created_at`

	out := &domain.BroadcastView{}
	err := pick(r.pool, tx).QueryRow(ctx, query, v.ID, v.BroadcastID, v.IP, v.DeviceHash, v.ViewedAt).Scan(
		&out.ID, &out.BroadcastID, &out.IP, &out.DeviceHash, &out.ClickCount, &out.ViewedAt, &out.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("upsert broadcast view: %w", err)
	}
	return out, nil
}

// GetSettlementContext resolves the chain view -> broadcast -> publication ->
// allocation -> source wallet, connection -> destination wallet and campaign.
// Missing links come back as NULLs.
func (r *ViewRepo) GetSettlementContext(ctx context.Context, tx pgx.Tx, viewID uuid.UUID) (*domain.SettlementContext, error) {
	query := `SELECT v.id, v.broadcast_id, b.publication_id, p.removed_at IS NOT NULL,
			a.id, sw.id, sw.owner_id,
			ac.id, dw.id, dw.owner_id,
			c.id, c.owner_id
		FROM broadcast_views v
		JOIN publication_broadcasts b ON b.id = v.broadcast_id
		JOIN campaign_publications p ON p.id = b.publication_id
		LEFT JOIN credit_allocations a ON a.id = p.credit_allocation
		LEFT JOIN wallets sw ON sw.id = a.wallet_id
		LEFT JOIN account_connections ac ON ac.id = b.connection_id
		LEFT JOIN wallets dw ON dw.owner_id = ac.owner_id
		LEFT JOIN campaigns c ON c.id = p.campaign_id AND c.deleted_at IS NULL
		WHERE v.id = $1`

	sc := &domain.SettlementContext{}
	err := pick(r.pool, tx).QueryRow(ctx, query, viewID).Scan(
		&sc.ViewID, &sc.BroadcastID, &sc.PublicationID, &sc.PublicationRemoved,
		&sc.AllocationID, &sc.SourceWalletID, &sc.SourceOwnerID,
		&sc.ConnectionID, &sc.DestinationWalletID, &sc.DestinationOwnerID,
		&sc.CampaignID, &sc.CampaignOwnerID,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get settlement context: %w", err)
	}
	return sc, nil
}
