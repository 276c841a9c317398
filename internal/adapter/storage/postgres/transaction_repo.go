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

const walletTransactionColumns = `id, from_wallet, to_wallet, value, type, status, credit_allocation,
	payment_transaction, note, created_at, completed_at, cancelled_at`

// TransactionRepo implements ports.TransactionRepository.
type TransactionRepo struct {
	pool Pool
}

// NewTransactionRepo creates a new TransactionRepo.
func NewTransactionRepo(pool Pool) *TransactionRepo {
	return &TransactionRepo{pool: pool}
}

// Create appends a transaction to the log within a database transaction.
func (r *TransactionRepo) Create(ctx context.Context, tx pgx.Tx, t *domain.WalletTransaction) error {
	query := `INSERT INTO wallet_transactions (` + walletTransactionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`

	_, err := tx.Exec(ctx, query,
		t.ID, t.FromWalletID, t.ToWalletID, t.Value, t.Type, t.Status,
		t.CreditAllocationID, t.PaymentID, t.Note,
		t.CreatedAt, t.CompletedAt, t.CancelledAt,
	)
	if err != nil {
		return fmt.Errorf("insert wallet transaction: %w", err)
	}
	return nil
}

// GetByIDForUpdate fetches a transaction with pessimistic locking.
// This MUST be called within a transaction.
func (r *TransactionRepo) GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*domain.WalletTransaction, error) {
	query := `SELECT ` + walletTransactionColumns + ` FROM wallet_transactions WHERE id = $1 FOR UPDATE`

	t := &domain.WalletTransaction{}
	err := tx.QueryRow(ctx, query, id).Scan(transactionDest(t)...)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get wallet transaction for update: %w", err)
	}
	return t, nil
}

// ApplyOutcome links a transaction to its payment, sets its status and value,
// and stamps the matching terminal timestamp.
func (r *TransactionRepo) ApplyOutcome(ctx context.Context, tx pgx.Tx, id, paymentID uuid.UUID, status domain.TransactionStatus, value int64, at time.Time) error {
	query := `UPDATE wallet_transactions
		SET status = $1,
		    value = $2,
		    payment_transaction = $3,
		    completed_at = CASE WHEN $1 = 'complete' THEN $4 ELSE completed_at END,
		    cancelled_at = CASE WHEN $1 = 'cancelled' THEN $4 ELSE cancelled_at END
		WHERE id = $5`

	tag, err := tx.Exec(ctx, query, status, value, paymentID, at, id)
	if err != nil {
		return fmt.Errorf("apply transaction outcome: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("wallet transaction not found: %s", id)
	}
	return nil
}

// ListByWallet returns a page of transactions where the wallet is source or
// destination, newest first, with the linked payment when present.
func (r *TransactionRepo) ListByWallet(ctx context.Context, walletID uuid.UUID, page, pageSize int) ([]domain.TransferRecord, int64, error) {
	var total int64
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM wallet_transactions WHERE to_wallet = $1 OR from_wallet = $1`, walletID,
	).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("count wallet transactions: %w", err)
	}

	offset := (page - 1) * pageSize
	query := `SELECT t.id, t.from_wallet, t.to_wallet, t.value, t.type, t.status, t.credit_allocation,
			t.payment_transaction, t.note, t.created_at, t.completed_at, t.cancelled_at,
			p.id, p.provider, p.status, p.currency, p.value::TEXT
		FROM wallet_transactions t
		LEFT JOIN payment_transactions p ON p.id = t.payment_transaction
		WHERE t.to_wallet = $1 OR t.from_wallet = $1
		ORDER BY t.created_at DESC
		LIMIT $2 OFFSET $3`

	rows, err := r.pool.Query(ctx, query, walletID, pageSize, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list wallet transactions: %w", err)
	}
	defer rows.Close()

	var records []domain.TransferRecord
	for rows.Next() {
		var (
			rec       domain.TransferRecord
			payID     *uuid.UUID
			provider  *string
			payStatus *domain.PaymentStatus
			currency  *string
			payValue  *string
		)
		dest := append(transactionDest(&rec.Transaction), &payID, &provider, &payStatus, &currency, &payValue)
		if err := rows.Scan(dest...); err != nil {
			return nil, 0, fmt.Errorf("scan wallet transaction row: %w", err)
		}
		if payID != nil {
			rec.Payment = &domain.PaymentSummary{ID: *payID}
			if provider != nil {
				rec.Payment.Provider = *provider
			}
			if payStatus != nil {
				rec.Payment.Status = *payStatus
			}
			if currency != nil {
				rec.Payment.Currency = *currency
			}
			if payValue != nil {
				rec.Payment.Value = *payValue
			}
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate wallet transaction rows: %w", err)
	}
	return records, total, nil
}

// ListStalePending returns funding transactions still pending since before olderThan.
func (r *TransactionRepo) ListStalePending(ctx context.Context, olderThan time.Time) ([]domain.WalletTransaction, error) {
	query := `SELECT ` + walletTransactionColumns + ` FROM wallet_transactions
		WHERE status = 'pending' AND type = 'funding' AND created_at < $1
		ORDER BY created_at`

	rows, err := r.pool.Query(ctx, query, olderThan)
	if err != nil {
		return nil, fmt.Errorf("list stale pending transactions: %w", err)
	}
	defer rows.Close()

	var txns []domain.WalletTransaction
	for rows.Next() {
		t := domain.WalletTransaction{}
		if err := rows.Scan(transactionDest(&t)...); err != nil {
			return nil, fmt.Errorf("scan pending transaction row: %w", err)
		}
		txns = append(txns, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pending transaction rows: %w", err)
	}
	return txns, nil
}

func transactionDest(t *domain.WalletTransaction) []any {
	return []any{
		&t.ID, &t.FromWalletID, &t.ToWalletID, &t.Value, &t.Type, &t.Status,
		&t.CreditAllocationID, &t.PaymentID, &t.Note,
		&t.CreatedAt, &t.CompletedAt, &t.CancelledAt,
	}
}
