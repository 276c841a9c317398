package service

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"credit-ledger/internal/core/domain"
	"credit-ledger/internal/core/ports/mocks"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

type walletTestDeps struct {
	svc        *WalletServiceImpl
	walletRepo *mocks.MockWalletRepository
	txRepo     *mocks.MockTransactionRepository
	cache      *mocks.MockResponseCache
	events     *mocks.MockEventPublisher
	transactor *mocks.MockDBTransactor
}

func setupWalletService(t *testing.T, startingBalance int64) *walletTestDeps {
	ctrl := gomock.NewController(t)
	d := &walletTestDeps{
		walletRepo: mocks.NewMockWalletRepository(ctrl),
		txRepo:     mocks.NewMockTransactionRepository(ctrl),
		cache:      mocks.NewMockResponseCache(ctrl),
		events:     mocks.NewMockEventPublisher(ctrl),
		transactor: mocks.NewMockDBTransactor(ctrl),
	}
	d.svc = NewWalletService(d.walletRepo, d.txRepo, d.cache, d.events, d.transactor, startingBalance, zerolog.Nop())
	return d
}

func TestWalletService_CreateWallet_New(t *testing.T) {
	d := setupWalletService(t, 100)
	ctx := context.Background()

	d.walletRepo.EXPECT().Create(ctx, gomock.Any()).Return(true, nil)
	d.events.EXPECT().PublishBalanceChanged(ctx, gomock.Any()).
		DoAndReturn(func(_ context.Context, e domain.BalanceChanged) error {
			assert.Equal(t, int64(7), e.OwnerID)
			return nil
		})

	w, err := d.svc.CreateWallet(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, int64(7), w.OwnerID)
	assert.Equal(t, int64(100), w.StartingBalance)
	assert.NotEqual(t, uuid.Nil, w.ID)
}

func TestWalletService_CreateWallet_ZeroStartingBalanceIsSilent(t *testing.T) {
	d := setupWalletService(t, 0)
	ctx := context.Background()

	d.walletRepo.EXPECT().Create(ctx, gomock.Any()).Return(true, nil)

	_, err := d.svc.CreateWallet(ctx, 7)
	require.NoError(t, err)
}

func TestWalletService_CreateWallet_ExistingIsReturned(t *testing.T) {
	d := setupWalletService(t, 100)
	ctx := context.Background()
	existing := &domain.Wallet{ID: uuid.New(), OwnerID: 7, StartingBalance: 50}

	d.walletRepo.EXPECT().Create(ctx, gomock.Any()).Return(false, nil)
	d.walletRepo.EXPECT().GetByOwner(ctx, int64(7)).Return(existing, nil)

	w, err := d.svc.CreateWallet(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, existing, w)
}

func TestWalletService_CreateWallet_InvalidOwner(t *testing.T) {
	d := setupWalletService(t, 0)

	_, err := d.svc.CreateWallet(context.Background(), 0)
	assertAppError(t, err, "LEDGER_003")
}

func TestWalletService_TopUp_CreatesPendingFunding(t *testing.T) {
	d := setupWalletService(t, 0)
	ctx := context.Background()
	tx := &mockTx{}
	wallet := &domain.Wallet{ID: uuid.New(), OwnerID: 7}

	d.cache.EXPECT().Get(ctx, "topup:7:key-1").Return(nil, nil)
	d.walletRepo.EXPECT().GetByOwner(ctx, int64(7)).Return(wallet, nil)
	d.transactor.EXPECT().Begin(ctx).Return(tx, nil)
	d.txRepo.EXPECT().Create(ctx, tx, gomock.Any()).Return(nil)
	d.cache.EXPECT().Set(ctx, "topup:7:key-1", gomock.Any(), idempotencyTTL).Return(nil)

	txn, err := d.svc.TopUp(ctx, 7, "key-1")
	require.NoError(t, err)
	assert.Equal(t, domain.TransactionTypeFunding, txn.Type)
	assert.Equal(t, domain.TransactionStatusPending, txn.Status)
	assert.Equal(t, wallet.ID, txn.ToWalletID)
	assert.Nil(t, txn.FromWalletID)
	assert.Nil(t, txn.Value)
}

func TestWalletService_TopUp_ReplayReturnsCachedTransaction(t *testing.T) {
	d := setupWalletService(t, 0)
	ctx := context.Background()
	cached := domain.WalletTransaction{
		ID:         uuid.New(),
		ToWalletID: uuid.New(),
		Type:       domain.TransactionTypeFunding,
		Status:     domain.TransactionStatusPending,
	}
	raw, err := json.Marshal(cached)
	require.NoError(t, err)

	d.cache.EXPECT().Get(ctx, "topup:7:key-1").Return(raw, nil)

	txn, err := d.svc.TopUp(ctx, 7, "key-1")
	require.NoError(t, err)
	assert.Equal(t, cached.ID, txn.ID)
}

func TestWalletService_TopUp_CacheDownStillCreates(t *testing.T) {
	d := setupWalletService(t, 0)
	ctx := context.Background()
	tx := &mockTx{}
	wallet := &domain.Wallet{ID: uuid.New(), OwnerID: 7}

	d.cache.EXPECT().Get(ctx, gomock.Any()).Return(nil, errors.New("redis down"))
	d.walletRepo.EXPECT().GetByOwner(ctx, int64(7)).Return(wallet, nil)
	d.transactor.EXPECT().Begin(ctx).Return(tx, nil)
	d.txRepo.EXPECT().Create(ctx, tx, gomock.Any()).Return(nil)
	d.cache.EXPECT().Set(ctx, gomock.Any(), gomock.Any(), idempotencyTTL).Return(errors.New("redis down"))

	_, err := d.svc.TopUp(ctx, 7, "key-1")
	require.NoError(t, err)
}

func TestWalletService_TopUp_NoKeySkipsCache(t *testing.T) {
	d := setupWalletService(t, 0)
	ctx := context.Background()
	tx := &mockTx{}

	d.walletRepo.EXPECT().GetByOwner(ctx, int64(7)).Return(&domain.Wallet{ID: uuid.New(), OwnerID: 7}, nil)
	d.transactor.EXPECT().Begin(ctx).Return(tx, nil)
	d.txRepo.EXPECT().Create(ctx, tx, gomock.Any()).Return(nil)

	_, err := d.svc.TopUp(ctx, 7, "")
	require.NoError(t, err)
}

func TestWalletService_TopUp_WalletNotFound(t *testing.T) {
	d := setupWalletService(t, 0)
	ctx := context.Background()

	d.walletRepo.EXPECT().GetByOwner(ctx, int64(7)).Return(nil, nil)

	_, err := d.svc.TopUp(ctx, 7, "")
	assertAppError(t, err, "LEDGER_004")
}

func TestWalletService_ListTransfers_SignsCredits(t *testing.T) {
	d := setupWalletService(t, 0)
	ctx := context.Background()
	wallet := &domain.Wallet{ID: uuid.New(), OwnerID: 7}
	other := uuid.New()

	records := []domain.TransferRecord{
		{Transaction: domain.WalletTransaction{ID: uuid.New(), FromWalletID: &wallet.ID, ToWalletID: other, Value: ptr(int64(25)), Type: domain.TransactionTypeReward}},
		{Transaction: domain.WalletTransaction{ID: uuid.New(), ToWalletID: wallet.ID, Value: ptr(int64(500)), Type: domain.TransactionTypeFunding}},
	}
	d.walletRepo.EXPECT().GetByOwner(ctx, int64(7)).Return(wallet, nil)
	d.txRepo.EXPECT().ListByWallet(ctx, wallet.ID, 1, defaultPageSize).Return(records, int64(2), nil)

	transfers, total, err := d.svc.ListTransfers(ctx, 7, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
	require.Len(t, transfers, 2)
	assert.Equal(t, int64(-25), transfers[0].Credits)
	assert.False(t, transfers[0].Incoming)
	assert.Equal(t, int64(500), transfers[1].Credits)
	assert.True(t, transfers[1].Incoming)
}

func TestNormalizePage(t *testing.T) {
	tests := []struct {
		page, size         int
		wantPage, wantSize int
	}{
		{0, 0, 1, defaultPageSize},
		{-3, 10, 1, 10},
		{2, 500, 2, maxPageSize},
		{4, 50, 4, 50},
	}
	for _, tt := range tests {
		page, size := normalizePage(tt.page, tt.size)
		assert.Equal(t, tt.wantPage, page)
		assert.Equal(t, tt.wantSize, size)
	}
}

func TestBalanceService_GetBalances(t *testing.T) {
	ctrl := gomock.NewController(t)
	walletRepo := mocks.NewMockWalletRepository(ctrl)
	balanceRepo := mocks.NewMockBalanceRepository(ctrl)
	svc := NewBalanceService(walletRepo, balanceRepo, zerolog.Nop())
	ctx := context.Background()
	wallet := &domain.Wallet{ID: uuid.New(), OwnerID: 7}

	t.Run("found", func(t *testing.T) {
		want := &domain.Balances{WalletID: wallet.ID, Funding: 400, Rewards: 75}
		walletRepo.EXPECT().GetByOwner(ctx, int64(7)).Return(wallet, nil)
		balanceRepo.EXPECT().GetBalances(ctx, wallet.ID).Return(want, nil)

		got, err := svc.GetBalances(ctx, 7)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	})

	t.Run("no wallet", func(t *testing.T) {
		walletRepo.EXPECT().GetByOwner(ctx, int64(8)).Return(nil, nil)

		_, err := svc.GetBalances(ctx, 8)
		assertAppError(t, err, "LEDGER_004")
	})

	t.Run("database error", func(t *testing.T) {
		walletRepo.EXPECT().GetByOwner(ctx, int64(7)).Return(wallet, nil)
		balanceRepo.EXPECT().GetBalances(ctx, wallet.ID).Return(nil, errors.New("conn reset"))

		_, err := svc.GetBalances(ctx, 7)
		assertAppError(t, err, "SYS_001")
	})
}
