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

const publicationColumns = `id, campaign_id, credit_allocation, publish_after, publish_before, created_at, removed_at`

// PublicationRepo implements ports.PublicationRepository.
type PublicationRepo struct {
	pool Pool
}

// NewPublicationRepo creates a new PublicationRepo.
func NewPublicationRepo(pool Pool) *PublicationRepo {
	return &PublicationRepo{pool: pool}
}

// Create inserts a publication within the reservation's transaction.
func (r *PublicationRepo) Create(ctx context.Context, tx pgx.Tx, p *domain.CampaignPublication) error {
	query := `INSERT INTO campaign_publications (` + publicationColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err := tx.Exec(ctx, query,
		p.ID, p.CampaignID, p.CreditAllocationID, p.PublishAfter, p.PublishBefore, p.CreatedAt, p.RemovedAt,
	)
	if err != nil {
		return fmt.Errorf("insert campaign publication: %w", err)
	}
	return nil
}

// GetByID fetches a publication, including removed ones.
func (r *PublicationRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.CampaignPublication, error) {
	query := `SELECT ` + publicationColumns + ` FROM campaign_publications WHERE id = $1`

	p := &domain.CampaignPublication{}
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&p.ID, &p.CampaignID, &p.CreditAllocationID, &p.PublishAfter, &p.PublishBefore, &p.CreatedAt, &p.RemovedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get campaign publication: %w", err)
	}
	return p, nil
}

// ListByCampaign returns the live publications of a campaign with allocation usage.
func (r *PublicationRepo) ListByCampaign(ctx context.Context, campaignID int64) ([]domain.PublicationSummary, error) {
	query := `SELECT p.id, p.campaign_id, p.credit_allocation, p.publish_after, p.publish_before, p.created_at, p.removed_at,
			a.status, a.allocated, a.exhausted
		FROM campaign_publications p
		JOIN vw_credit_allocations a ON a.id = p.credit_allocation
		WHERE p.campaign_id = $1 AND p.removed_at IS NULL
		ORDER BY p.created_at DESC`

	rows, err := r.pool.Query(ctx, query, campaignID)
	if err != nil {
		return nil, fmt.Errorf("list campaign publications: %w", err)
	}
	defer rows.Close()

	var out []domain.PublicationSummary
	for rows.Next() {
		var s domain.PublicationSummary
		err := rows.Scan(
			&s.ID, &s.CampaignID, &s.CreditAllocationID, &s.PublishAfter, &s.PublishBefore, &s.CreatedAt, &s.RemovedAt,
			&s.AllocationStatus, &s.Allocated, &s.Exhausted,
		)
		if err != nil {
			return nil, fmt.Errorf("scan publication row: %w", err)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate publication rows: %w", err)
	}
	return out, nil
}

// RemoveByAllocation soft-deletes the publication bound to an allocation.
func (r *PublicationRepo) RemoveByAllocation(ctx context.Context, tx pgx.Tx, allocationID uuid.UUID, at time.Time) error {
	query := `UPDATE campaign_publications SET removed_at = $1
		WHERE credit_allocation = $2 AND removed_at IS NULL`

	if _, err := tx.Exec(ctx, query, at, allocationID); err != nil {
		return fmt.Errorf("remove campaign publication: %w", err)
	}
	return nil
}

// CreateBroadcasts inserts broadcast rows in one transaction. A connection that
// already received the publication is skipped.
func (r *PublicationRepo) CreateBroadcasts(ctx context.Context, broadcasts []domain.PublicationBroadcast) error {
	dbTx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin broadcast insert: %w", err)
	}
	defer dbTx.Rollback(ctx) //nolint:errcheck

	query := `INSERT INTO publication_broadcasts (id, publication_id, connection_id, acknowledged, sent_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (publication_id, connection_id) DO NOTHING`

	for _, b := range broadcasts {
		_, err := dbTx.Exec(ctx, query, b.ID, b.PublicationID, b.ConnectionID, b.Acknowledged, b.SentAt, b.CreatedAt)
		if err != nil {
			return fmt.Errorf("insert publication broadcast: %w", err)
		}
	}

	if err := dbTx.Commit(ctx); err != nil {
		return fmt.Errorf("commit broadcast insert: %w", err)
	}
	return nil
}

// GetBroadcast fetches a broadcast by ID.
func (r *PublicationRepo) GetBroadcast(ctx context.Context, id uuid.UUID) (*domain.PublicationBroadcast, error) {
	query := `SELECT id, publication_id, connection_id, acknowledged, sent_at, created_at
		FROM publication_broadcasts WHERE id = $1`

	b := &domain.PublicationBroadcast{}
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&b.ID, &b.PublicationID, &b.ConnectionID, &b.Acknowledged, &b.SentAt, &b.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get publication broadcast: %w", err)
	}
	return b, nil
}

// MarkBroadcastsSent stamps sent_at on broadcasts not yet marked.
func (r *PublicationRepo) MarkBroadcastsSent(ctx context.Context, ids []uuid.UUID, at time.Time) (int64, error) {
	query := `UPDATE publication_broadcasts SET sent_at = $1 WHERE id = ANY($2) AND sent_at IS NULL`

	tag, err := r.pool.Exec(ctx, query, at, ids)
	if err != nil {
		return 0, fmt.Errorf("mark broadcasts sent: %w", err)
	}
	return tag.RowsAffected(), nil
}
