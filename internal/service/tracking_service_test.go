package service

import (
	"context"
	"errors"
	"testing"

	"credit-ledger/internal/core/domain"
	"credit-ledger/internal/core/ports"
	"credit-ledger/internal/core/ports/mocks"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

type trackingTestDeps struct {
	svc             *TrackingServiceImpl
	publicationRepo *mocks.MockPublicationRepository
	viewRepo        *mocks.MockViewRepository
	grantRepo       *mocks.MockRewardGrantRepository
	events          *mocks.MockEventPublisher
	metrics         *mocks.MockLedgerMetrics
	transactor      *mocks.MockDBTransactor
}

func setupTrackingService(t *testing.T) *trackingTestDeps {
	ctrl := gomock.NewController(t)
	d := &trackingTestDeps{
		publicationRepo: mocks.NewMockPublicationRepository(ctrl),
		viewRepo:        mocks.NewMockViewRepository(ctrl),
		grantRepo:       mocks.NewMockRewardGrantRepository(ctrl),
		events:          mocks.NewMockEventPublisher(ctrl),
		metrics:         mocks.NewMockLedgerMetrics(ctrl),
		transactor:      mocks.NewMockDBTransactor(ctrl),
	}
	d.svc = NewTrackingService(d.publicationRepo, d.viewRepo, d.grantRepo, d.events, d.metrics, d.transactor, zerolog.Nop())
	return d
}

func viewRequest(broadcastID uuid.UUID) ports.ViewRequest {
	return ports.ViewRequest{BroadcastID: broadcastID, IP: "203.0.113.9", DeviceHash: "abc", UserAgent: "Mozilla/5.0"}
}

// storeView mimics the upsert: the returned row carries the given click count.
func storeView(clicks int) func(context.Context, any, *domain.BroadcastView) (*domain.BroadcastView, error) {
	return func(_ context.Context, _ any, v *domain.BroadcastView) (*domain.BroadcastView, error) {
		stored := *v
		stored.ClickCount = clicks
		return &stored, nil
	}
}

func TestTrackingService_RecordView_FirstViewQueuesReward(t *testing.T) {
	d := setupTrackingService(t)
	ctx := context.Background()
	tx := &mockTx{}
	broadcast := &domain.PublicationBroadcast{ID: uuid.New(), PublicationID: uuid.New(), ConnectionID: 20}
	req := viewRequest(broadcast.ID)

	var stored *domain.BroadcastView
	d.publicationRepo.EXPECT().GetBroadcast(ctx, broadcast.ID).Return(broadcast, nil)
	d.transactor.EXPECT().Begin(ctx).Return(tx, nil)
	d.viewRepo.EXPECT().Upsert(ctx, tx, gomock.Any()).
		DoAndReturn(func(_ context.Context, _ any, v *domain.BroadcastView) (*domain.BroadcastView, error) {
			assert.Equal(t, domain.Fingerprint(req.DeviceHash, req.IP, req.UserAgent), v.DeviceHash)
			stored = v
			cp := *v
			cp.ClickCount = 1
			return &cp, nil
		})
	d.grantRepo.EXPECT().Create(ctx, tx, gomock.Any()).Return(true, nil)
	d.metrics.EXPECT().ViewRecorded(true)
	d.events.EXPECT().PublishRewardGranted(ctx, gomock.Any()).
		DoAndReturn(func(_ context.Context, e domain.RewardGranted) error {
			assert.Equal(t, stored.ID, e.ViewID)
			return nil
		})

	out, err := d.svc.RecordView(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, 1, out.ClickCount)
	assert.True(t, out.RewardQueued)
	require.NotNil(t, out.GrantID)
}

func TestTrackingService_RecordView_RepeatViewDoesNotReward(t *testing.T) {
	d := setupTrackingService(t)
	ctx := context.Background()
	tx := &mockTx{}
	broadcast := &domain.PublicationBroadcast{ID: uuid.New()}

	d.publicationRepo.EXPECT().GetBroadcast(ctx, broadcast.ID).Return(broadcast, nil)
	d.transactor.EXPECT().Begin(ctx).Return(tx, nil)
	d.viewRepo.EXPECT().Upsert(ctx, tx, gomock.Any()).DoAndReturn(storeView(3))
	d.metrics.EXPECT().ViewRecorded(false)

	out, err := d.svc.RecordView(ctx, viewRequest(broadcast.ID))
	require.NoError(t, err)
	assert.Equal(t, 3, out.ClickCount)
	assert.False(t, out.RewardQueued)
	assert.Nil(t, out.GrantID)
}

func TestTrackingService_RecordView_PublishFailureKeepsView(t *testing.T) {
	d := setupTrackingService(t)
	ctx := context.Background()
	tx := &mockTx{}
	broadcast := &domain.PublicationBroadcast{ID: uuid.New()}

	d.publicationRepo.EXPECT().GetBroadcast(ctx, broadcast.ID).Return(broadcast, nil)
	d.transactor.EXPECT().Begin(ctx).Return(tx, nil)
	d.viewRepo.EXPECT().Upsert(ctx, tx, gomock.Any()).DoAndReturn(storeView(1))
	d.grantRepo.EXPECT().Create(ctx, tx, gomock.Any()).Return(true, nil)
	d.metrics.EXPECT().ViewRecorded(true)
	d.events.EXPECT().PublishRewardGranted(ctx, gomock.Any()).Return(errors.New("redis unavailable"))

	out, err := d.svc.RecordView(ctx, viewRequest(broadcast.ID))
	require.NoError(t, err)
	assert.False(t, out.RewardQueued)
	assert.NotNil(t, out.GrantID)
}

func TestTrackingService_RecordView_Errors(t *testing.T) {
	ctx := context.Background()

	t.Run("missing ip", func(t *testing.T) {
		d := setupTrackingService(t)
		_, err := d.svc.RecordView(ctx, ports.ViewRequest{BroadcastID: uuid.New()})
		assertAppError(t, err, "LEDGER_003")
	})

	t.Run("unknown broadcast", func(t *testing.T) {
		d := setupTrackingService(t)
		id := uuid.New()
		d.publicationRepo.EXPECT().GetBroadcast(ctx, id).Return(nil, nil)

		_, err := d.svc.RecordView(ctx, viewRequest(id))
		assertAppError(t, err, "LEDGER_004")
	})

	t.Run("upsert fails", func(t *testing.T) {
		d := setupTrackingService(t)
		tx := &mockTx{}
		broadcast := &domain.PublicationBroadcast{ID: uuid.New()}
		d.publicationRepo.EXPECT().GetBroadcast(ctx, broadcast.ID).Return(broadcast, nil)
		d.transactor.EXPECT().Begin(ctx).Return(tx, nil)
		d.viewRepo.EXPECT().Upsert(ctx, tx, gomock.Any()).Return(nil, errors.New("conn reset"))

		_, err := d.svc.RecordView(ctx, viewRequest(broadcast.ID))
		assertAppError(t, err, "SYS_001")
	})
}
