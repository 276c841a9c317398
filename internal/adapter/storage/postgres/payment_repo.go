package postgres

import (
	"context"
	"errors"
	"fmt"

	"credit-ledger/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const paymentColumns = `id, provider, external_id, status, value, exchange_rate, converted_value, currency,
	inbound, wallet_transaction, created_at, updated_at`

// PaymentRepo implements ports.PaymentRepository.
type PaymentRepo struct {
	pool Pool
}

// NewPaymentRepo creates a new PaymentRepo.
func NewPaymentRepo(pool Pool) *PaymentRepo {
	return &PaymentRepo{pool: pool}
}

// Upsert stores a provider report. A later report for the same external id
// overwrites status and amounts; the stored id is written back to p.
func (r *PaymentRepo) Upsert(ctx context.Context, p *domain.PaymentTransaction) error {
	query := `INSERT INTO payment_transactions (` + paymentColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (provider, external_id) DO UPDATE SET
			status = EXCLUDED.status,
			value = EXCLUDED.value,
			exchange_rate = EXCLUDED.exchange_rate,
			converted_value = EXCLUDED.converted_value,
			wallet_transaction = COALESCE(EXCLUDED.wallet_transaction, payment_transactions.wallet_transaction),
			updated_at = EXCLUDED.updated_at
		RETURNING id, wallet_transaction`

	err := r.pool.QueryRow(ctx, query,
		p.ID, p.Provider, p.ExternalID, p.Status, p.Value, p.ExchangeRate, p.ConvertedValue, p.Currency,
		p.Inbound, p.WalletTransactionID, p.CreatedAt, p.UpdatedAt,
	).Scan(&p.ID, &p.WalletTransactionID)
	if err != nil {
		return fmt.Errorf("upsert payment transaction: %w", err)
	}
	return nil
}

// GetByID fetches a payment by UUID.
func (r *PaymentRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.PaymentTransaction, error) {
	query := `SELECT ` + paymentColumns + ` FROM payment_transactions WHERE id = $1`

	p := &domain.PaymentTransaction{}
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&p.ID, &p.Provider, &p.ExternalID, &p.Status, &p.Value, &p.ExchangeRate, &p.ConvertedValue, &p.Currency,
		&p.Inbound, &p.WalletTransactionID, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get payment transaction: %w", err)
	}
	return p, nil
}
