package postgres

import (
	"context"
	"testing"
	"time"

	"credit-ledger/internal/core/domain"

	"github.com/google/uuid"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestAllocation() *domain.CreditAllocation {
	now := time.Now().UTC().Truncate(time.Microsecond)
	return &domain.CreditAllocation{
		ID:        uuid.New(),
		WalletID:  uuid.New(),
		Allocated: 5000,
		Status:    domain.AllocationStatusActive,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func allocationRow(a *domain.CreditAllocation) *pgxmock.Rows {
	return pgxmock.NewRows([]string{"id", "wallet_id", "allocated", "status", "created_at", "updated_at"}).
		AddRow(a.ID, a.WalletID, a.Allocated, a.Status, a.CreatedAt, a.UpdatedAt)
}

func TestAllocationRepo_Create(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewAllocationRepo(mock)
	a := newTestAllocation()

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO credit_allocations").
		WithArgs(a.ID, a.WalletID, a.Allocated, a.Status, a.CreatedAt, a.UpdatedAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	dbTx, err := mock.Begin(context.Background())
	require.NoError(t, err)

	assert.NoError(t, repo.Create(context.Background(), dbTx, a))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAllocationRepo_GetForUpdate(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewAllocationRepo(mock)
	a := newTestAllocation()

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT .+ FROM credit_allocations WHERE id = \\$1 FOR UPDATE").
		WithArgs(a.ID).
		WillReturnRows(allocationRow(a))

	dbTx, err := mock.Begin(context.Background())
	require.NoError(t, err)

	result, err := repo.GetForUpdate(context.Background(), dbTx, a.ID)
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.Equal(t, int64(5000), result.Allocated)
	assert.True(t, result.IsActive())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAllocationRepo_GetByID_NotFound(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewAllocationRepo(mock)
	id := uuid.New()

	mock.ExpectQuery("SELECT .+ FROM credit_allocations WHERE id").
		WithArgs(id).
		WillReturnRows(pgxmock.NewRows([]string{"id", "wallet_id", "allocated", "status", "created_at", "updated_at"}))

	result, err := repo.GetByID(context.Background(), id)
	assert.NoError(t, err)
	assert.Nil(t, result)
}

func TestAllocationRepo_Exhausted(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewAllocationRepo(mock)
	id := uuid.New()

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT COALESCE\\(SUM\\(COALESCE\\(value, 0\\)\\), 0\\)::BIGINT FROM wallet_transactions").
		WithArgs(id).
		WillReturnRows(pgxmock.NewRows([]string{"sum"}).AddRow(int64(75)))

	dbTx, err := mock.Begin(context.Background())
	require.NoError(t, err)

	sum, err := repo.Exhausted(context.Background(), dbTx, id)
	require.NoError(t, err)
	assert.Equal(t, int64(75), sum)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAllocationRepo_UpdateStatus(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewAllocationRepo(mock)
	id := uuid.New()

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE credit_allocations SET status").
		WithArgs(domain.AllocationStatusComplete, id).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	dbTx, err := mock.Begin(context.Background())
	require.NoError(t, err)

	assert.NoError(t, repo.UpdateStatus(context.Background(), dbTx, id, domain.AllocationStatusComplete))
	assert.NoError(t, mock.ExpectationsWereMet())
}
