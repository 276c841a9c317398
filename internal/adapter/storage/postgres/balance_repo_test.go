package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBalanceRepo_GetBalances(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewBalanceRepo(mock)
	walletID := uuid.New()

	mock.ExpectQuery("SELECT .+ FROM vw_funding_balances f JOIN vw_reward_balances").
		WithArgs(walletID).
		WillReturnRows(pgxmock.NewRows([]string{"wallet_id", "funding", "rewards"}).
			AddRow(walletID, int64(400), int64(75)))

	b, err := repo.GetBalances(context.Background(), walletID)
	require.NoError(t, err)
	require.NotNil(t, b)
	assert.Equal(t, int64(400), b.Funding)
	assert.Equal(t, int64(75), b.Rewards)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBalanceRepo_GetBalances_NoWallet(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewBalanceRepo(mock)
	mock.ExpectQuery("SELECT .+ FROM vw_funding_balances").WillReturnError(pgx.ErrNoRows)

	b, err := repo.GetBalances(context.Background(), uuid.New())
	require.NoError(t, err)
	assert.Nil(t, b)
}

func TestBalanceRepo_GetFundingBalance_InTx(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewBalanceRepo(mock)
	walletID := uuid.New()

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT funding FROM vw_funding_balances WHERE wallet_id = \\$1").
		WithArgs(walletID).
		WillReturnRows(pgxmock.NewRows([]string{"funding"}).AddRow(int64(1000)))
	mock.ExpectQuery("SELECT funding FROM vw_funding_balances").
		WithArgs(walletID).
		WillReturnError(errors.New("connection reset"))

	dbTx, err := mock.Begin(context.Background())
	require.NoError(t, err)

	funding, err := repo.GetFundingBalance(context.Background(), dbTx, walletID)
	require.NoError(t, err)
	assert.Equal(t, int64(1000), funding)

	_, err = repo.GetFundingBalance(context.Background(), dbTx, walletID)
	assert.ErrorContains(t, err, "get funding balance")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCampaignRepo_GetByID(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewCampaignRepo(mock)

	mock.ExpectQuery("SELECT id, owner_id, name, deleted_at FROM campaigns WHERE id = \\$1 AND deleted_at IS NULL").
		WithArgs(int64(10)).
		WillReturnRows(pgxmock.NewRows([]string{"id", "owner_id", "name", "deleted_at"}).
			AddRow(int64(10), int64(1), "Spring launch", (*time.Time)(nil)))
	mock.ExpectQuery("SELECT .+ FROM campaigns").
		WithArgs(int64(11)).
		WillReturnError(pgx.ErrNoRows)

	c, err := repo.GetByID(context.Background(), 10)
	require.NoError(t, err)
	require.NotNil(t, c)
	assert.Equal(t, int64(1), c.OwnerID)
	assert.Nil(t, c.DeletedAt)

	c, err = repo.GetByID(context.Background(), 11)
	require.NoError(t, err)
	assert.Nil(t, c)
	assert.NoError(t, mock.ExpectationsWereMet())
}
