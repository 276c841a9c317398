package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"credit-ledger/internal/core/domain"
	"credit-ledger/internal/core/ports"
	"credit-ledger/internal/core/ports/mocks"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

type allocationTestDeps struct {
	svc             *AllocationServiceImpl
	walletRepo      *mocks.MockWalletRepository
	allocationRepo  *mocks.MockAllocationRepository
	publicationRepo *mocks.MockPublicationRepository
	campaignRepo    *mocks.MockCampaignRepository
	balanceRepo     *mocks.MockBalanceRepository
	events          *mocks.MockEventPublisher
	metrics         *mocks.MockLedgerMetrics
	transactor      *mocks.MockDBTransactor
}

func setupAllocationService(t *testing.T) *allocationTestDeps {
	ctrl := gomock.NewController(t)
	d := &allocationTestDeps{
		walletRepo:      mocks.NewMockWalletRepository(ctrl),
		allocationRepo:  mocks.NewMockAllocationRepository(ctrl),
		publicationRepo: mocks.NewMockPublicationRepository(ctrl),
		campaignRepo:    mocks.NewMockCampaignRepository(ctrl),
		balanceRepo:     mocks.NewMockBalanceRepository(ctrl),
		events:          mocks.NewMockEventPublisher(ctrl),
		metrics:         mocks.NewMockLedgerMetrics(ctrl),
		transactor:      mocks.NewMockDBTransactor(ctrl),
	}
	d.svc = NewAllocationService(
		d.walletRepo, d.allocationRepo, d.publicationRepo, d.campaignRepo, d.balanceRepo,
		d.events, d.metrics, d.transactor, testMinReward, zerolog.Nop(),
	)
	return d
}

func ownedBy(id, ownerID int64) *domain.Campaign {
	return &domain.Campaign{ID: id, OwnerID: ownerID, Name: "spring launch"}
}

func TestAllocationService_Reserve_Success(t *testing.T) {
	d := setupAllocationService(t)
	ctx := context.Background()
	tx := &mockTx{}
	wallet := &domain.Wallet{ID: uuid.New(), OwnerID: 1}

	d.campaignRepo.EXPECT().GetByID(ctx, int64(10)).Return(ownedBy(10, 1), nil)
	d.transactor.EXPECT().Begin(ctx).Return(tx, nil)
	d.walletRepo.EXPECT().GetByOwnerForUpdate(ctx, tx, int64(1)).Return(wallet, nil)
	d.balanceRepo.EXPECT().GetFundingBalance(ctx, tx, wallet.ID).Return(int64(1000), nil)
	d.allocationRepo.EXPECT().Create(ctx, tx, gomock.Any()).Return(nil)
	d.publicationRepo.EXPECT().Create(ctx, tx, gomock.Any()).Return(nil)
	d.events.EXPECT().PublishBalanceChanged(ctx, domain.BalanceChanged{WalletID: wallet.ID, OwnerID: 1}).Return(nil)
	d.metrics.EXPECT().ReservationRecorded(outcomeOK)

	res, err := d.svc.Reserve(ctx, ports.ReserveRequest{OwnerID: 1, CampaignID: 10, Credits: 600})
	require.NoError(t, err)
	assert.Equal(t, int64(600), res.Allocation.Allocated)
	assert.Equal(t, domain.AllocationStatusActive, res.Allocation.Status)
	assert.Equal(t, wallet.ID, res.Allocation.WalletID)
	assert.Equal(t, res.Allocation.ID, res.Publication.CreditAllocationID)
	assert.Equal(t, int64(10), res.Publication.CampaignID)
	assert.Equal(t, today(time.Now()), res.Publication.PublishAfter)
}

func TestAllocationService_Reserve_InsufficientFunds(t *testing.T) {
	d := setupAllocationService(t)
	ctx := context.Background()
	tx := &mockTx{}
	wallet := &domain.Wallet{ID: uuid.New(), OwnerID: 1}

	d.campaignRepo.EXPECT().GetByID(ctx, int64(10)).Return(ownedBy(10, 1), nil)
	d.transactor.EXPECT().Begin(ctx).Return(tx, nil)
	d.walletRepo.EXPECT().GetByOwnerForUpdate(ctx, tx, int64(1)).Return(wallet, nil)
	d.balanceRepo.EXPECT().GetFundingBalance(ctx, tx, wallet.ID).Return(int64(400), nil)
	d.metrics.EXPECT().ReservationRecorded(outcomeInsufficientFunds)

	_, err := d.svc.Reserve(ctx, ports.ReserveRequest{OwnerID: 1, CampaignID: 10, Credits: 500})
	assertAppError(t, err, "LEDGER_001")
}

func TestAllocationService_Reserve_Rejected(t *testing.T) {
	yesterday := time.Now().UTC().Add(-24 * time.Hour)

	tests := []struct {
		name     string
		req      ports.ReserveRequest
		setup    func(d *allocationTestDeps, ctx context.Context)
		wantCode string
	}{
		{
			name:     "below minimum reward",
			req:      ports.ReserveRequest{OwnerID: 1, CampaignID: 10, Credits: testMinReward - 1},
			wantCode: "LEDGER_003",
		},
		{
			name:     "window ends before it starts",
			req:      ports.ReserveRequest{OwnerID: 1, CampaignID: 10, Credits: 100, PublishBefore: &yesterday},
			wantCode: "LEDGER_003",
		},
		{
			name: "campaign of another owner",
			req:  ports.ReserveRequest{OwnerID: 1, CampaignID: 10, Credits: 100},
			setup: func(d *allocationTestDeps, ctx context.Context) {
				d.campaignRepo.EXPECT().GetByID(ctx, int64(10)).Return(ownedBy(10, 2), nil)
			},
			wantCode: "LEDGER_004",
		},
		{
			name: "deleted campaign",
			req:  ports.ReserveRequest{OwnerID: 1, CampaignID: 10, Credits: 100},
			setup: func(d *allocationTestDeps, ctx context.Context) {
				c := ownedBy(10, 1)
				c.DeletedAt = &yesterday
				d.campaignRepo.EXPECT().GetByID(ctx, int64(10)).Return(c, nil)
			},
			wantCode: "LEDGER_004",
		},
		{
			name: "no wallet",
			req:  ports.ReserveRequest{OwnerID: 1, CampaignID: 10, Credits: 100},
			setup: func(d *allocationTestDeps, ctx context.Context) {
				tx := &mockTx{}
				d.campaignRepo.EXPECT().GetByID(ctx, int64(10)).Return(ownedBy(10, 1), nil)
				d.transactor.EXPECT().Begin(ctx).Return(tx, nil)
				d.walletRepo.EXPECT().GetByOwnerForUpdate(ctx, tx, int64(1)).Return(nil, nil)
			},
			wantCode: "LEDGER_004",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := setupAllocationService(t)
			ctx := context.Background()
			if tt.setup != nil {
				tt.setup(d, ctx)
			}
			d.metrics.EXPECT().ReservationRecorded(outcomeRejected)

			_, err := d.svc.Reserve(ctx, tt.req)
			assertAppError(t, err, tt.wantCode)
		})
	}
}

func TestAllocationService_Reserve_DatabaseError(t *testing.T) {
	d := setupAllocationService(t)
	ctx := context.Background()
	tx := &mockTx{}
	wallet := &domain.Wallet{ID: uuid.New(), OwnerID: 1}

	d.campaignRepo.EXPECT().GetByID(ctx, int64(10)).Return(ownedBy(10, 1), nil)
	d.transactor.EXPECT().Begin(ctx).Return(tx, nil)
	d.walletRepo.EXPECT().GetByOwnerForUpdate(ctx, tx, int64(1)).Return(wallet, nil)
	d.balanceRepo.EXPECT().GetFundingBalance(ctx, tx, wallet.ID).Return(int64(1000), nil)
	d.allocationRepo.EXPECT().Create(ctx, tx, gomock.Any()).Return(errors.New("deadlock detected"))
	d.metrics.EXPECT().ReservationRecorded(outcomeError)

	_, err := d.svc.Reserve(ctx, ports.ReserveRequest{OwnerID: 1, CampaignID: 10, Credits: 100})
	assertAppError(t, err, "SYS_001")
}

func TestAllocationService_Release_Success(t *testing.T) {
	d := setupAllocationService(t)
	ctx := context.Background()
	tx := &mockTx{}
	wallet := &domain.Wallet{ID: uuid.New(), OwnerID: 1}
	alloc := &domain.CreditAllocation{ID: uuid.New(), WalletID: wallet.ID, Allocated: 600, Status: domain.AllocationStatusActive}

	d.walletRepo.EXPECT().GetByOwner(ctx, int64(1)).Return(wallet, nil)
	d.transactor.EXPECT().Begin(ctx).Return(tx, nil)
	d.allocationRepo.EXPECT().GetForUpdate(ctx, tx, alloc.ID).Return(alloc, nil)
	d.allocationRepo.EXPECT().UpdateStatus(ctx, tx, alloc.ID, domain.AllocationStatusCancelled).Return(nil)
	d.publicationRepo.EXPECT().RemoveByAllocation(ctx, tx, alloc.ID, gomock.Any()).Return(nil)
	d.events.EXPECT().PublishBalanceChanged(ctx, gomock.Any()).Return(nil)

	require.NoError(t, d.svc.Release(ctx, 1, alloc.ID))
}

func TestAllocationService_Release_Errors(t *testing.T) {
	walletID := uuid.New()
	allocID := uuid.New()

	tests := []struct {
		name     string
		alloc    *domain.CreditAllocation
		wantCode string
	}{
		{"missing", nil, "LEDGER_004"},
		{"other wallet", &domain.CreditAllocation{ID: allocID, WalletID: uuid.New(), Status: domain.AllocationStatusActive}, "LEDGER_004"},
		{"already cancelled", &domain.CreditAllocation{ID: allocID, WalletID: walletID, Status: domain.AllocationStatusCancelled}, "LEDGER_005"},
		{"complete", &domain.CreditAllocation{ID: allocID, WalletID: walletID, Status: domain.AllocationStatusComplete}, "LEDGER_005"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := setupAllocationService(t)
			ctx := context.Background()
			tx := &mockTx{}

			d.walletRepo.EXPECT().GetByOwner(ctx, int64(1)).Return(&domain.Wallet{ID: walletID, OwnerID: 1}, nil)
			d.transactor.EXPECT().Begin(ctx).Return(tx, nil)
			d.allocationRepo.EXPECT().GetForUpdate(ctx, tx, allocID).Return(tt.alloc, nil)

			err := d.svc.Release(ctx, 1, allocID)
			assertAppError(t, err, tt.wantCode)
		})
	}
}

func TestAllocationService_ListPublications(t *testing.T) {
	d := setupAllocationService(t)
	ctx := context.Background()
	summaries := []domain.PublicationSummary{{AllocationStatus: domain.AllocationStatusActive, Allocated: 600, Exhausted: 50}}

	d.campaignRepo.EXPECT().GetByID(ctx, int64(10)).Return(ownedBy(10, 1), nil)
	d.publicationRepo.EXPECT().ListByCampaign(ctx, int64(10)).Return(summaries, nil)

	got, err := d.svc.ListPublications(ctx, 1, 10)
	require.NoError(t, err)
	assert.Equal(t, summaries, got)
}

func TestAllocationService_FanOut_DedupesConnections(t *testing.T) {
	d := setupAllocationService(t)
	ctx := context.Background()
	pub := &domain.CampaignPublication{ID: uuid.New(), CampaignID: 10}

	d.publicationRepo.EXPECT().GetByID(ctx, pub.ID).Return(pub, nil)
	d.campaignRepo.EXPECT().GetByID(ctx, int64(10)).Return(ownedBy(10, 1), nil)
	d.publicationRepo.EXPECT().CreateBroadcasts(ctx, gomock.Len(2)).Return(nil)

	got, err := d.svc.FanOut(ctx, 1, pub.ID, []int64{20, 21, 20})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, int64(20), got[0].ConnectionID)
	assert.Equal(t, int64(21), got[1].ConnectionID)
	assert.Equal(t, pub.ID, got[0].PublicationID)
}

func TestAllocationService_FanOut_Errors(t *testing.T) {
	ctx := context.Background()
	removedAt := time.Now()

	t.Run("no connections", func(t *testing.T) {
		d := setupAllocationService(t)
		_, err := d.svc.FanOut(ctx, 1, uuid.New(), nil)
		assertAppError(t, err, "LEDGER_003")
	})

	t.Run("removed publication", func(t *testing.T) {
		d := setupAllocationService(t)
		pub := &domain.CampaignPublication{ID: uuid.New(), CampaignID: 10, RemovedAt: &removedAt}
		d.publicationRepo.EXPECT().GetByID(ctx, pub.ID).Return(pub, nil)

		_, err := d.svc.FanOut(ctx, 1, pub.ID, []int64{20})
		assertAppError(t, err, "LEDGER_004")
	})

	t.Run("foreign campaign", func(t *testing.T) {
		d := setupAllocationService(t)
		pub := &domain.CampaignPublication{ID: uuid.New(), CampaignID: 10}
		d.publicationRepo.EXPECT().GetByID(ctx, pub.ID).Return(pub, nil)
		d.campaignRepo.EXPECT().GetByID(ctx, int64(10)).Return(ownedBy(10, 2), nil)

		_, err := d.svc.FanOut(ctx, 1, pub.ID, []int64{20})
		assertAppError(t, err, "LEDGER_004")
	})
}

func TestAllocationService_MarkSent(t *testing.T) {
	d := setupAllocationService(t)
	ctx := context.Background()
	ids := []uuid.UUID{uuid.New(), uuid.New()}

	d.publicationRepo.EXPECT().MarkBroadcastsSent(ctx, ids, gomock.Any()).Return(int64(1), nil)

	n, err := d.svc.MarkSent(ctx, ids)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = d.svc.MarkSent(ctx, nil)
	require.NoError(t, err)
	assert.Zero(t, n)
}
