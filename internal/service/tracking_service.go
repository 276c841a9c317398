package service

import (
	"context"
	"fmt"
	"time"

	"credit-ledger/internal/core/domain"
	"credit-ledger/internal/core/ports"
	"credit-ledger/pkg/apperror"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// TrackingServiceImpl implements ports.TrackingService.
type TrackingServiceImpl struct {
	publicationRepo ports.PublicationRepository
	viewRepo        ports.ViewRepository
	grantRepo       ports.RewardGrantRepository
	events          ports.EventPublisher
	metrics         ports.LedgerMetrics
	transactor      ports.DBTransactor
	log             zerolog.Logger
}

// NewTrackingService creates a new TrackingServiceImpl.
func NewTrackingService(
	publicationRepo ports.PublicationRepository,
	viewRepo ports.ViewRepository,
	grantRepo ports.RewardGrantRepository,
	events ports.EventPublisher,
	metrics ports.LedgerMetrics,
	transactor ports.DBTransactor,
	log zerolog.Logger,
) *TrackingServiceImpl {
	return &TrackingServiceImpl{
		publicationRepo: publicationRepo,
		viewRepo:        viewRepo,
		grantRepo:       grantRepo,
		events:          events,
		metrics:         metrics,
		transactor:      transactor,
		log:             log,
	}
}

// RecordView counts a visit to a broadcast link. Visits are deduplicated per
// (broadcast, ip, fingerprint); only the first one creates a reward grant and
// queues its settlement.
func (s *TrackingServiceImpl) RecordView(ctx context.Context, req ports.ViewRequest) (*domain.ViewOutcome, error) {
	if req.BroadcastID == uuid.Nil || req.IP == "" {
		return nil, apperror.Validation("broadcast id and ip are required")
	}

	broadcast, err := s.publicationRepo.GetBroadcast(ctx, req.BroadcastID)
	if err != nil {
		return nil, apperror.ErrDatabaseError(fmt.Errorf("get broadcast: %w", err))
	}
	if broadcast == nil {
		return nil, apperror.ErrNotFound("Broadcast")
	}

	dbTx, err := s.transactor.Begin(ctx)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("begin tx: %w", err))
	}
	defer dbTx.Rollback(ctx) //nolint:errcheck

	now := time.Now().UTC()
	view, err := s.viewRepo.Upsert(ctx, dbTx, &domain.BroadcastView{
		ID:          uuid.New(),
		BroadcastID: broadcast.ID,
		IP:          req.IP,
		DeviceHash:  domain.Fingerprint(req.DeviceHash, req.IP, req.UserAgent),
		ViewedAt:    now,
		CreatedAt:   now,
	})
	if err != nil {
		return nil, apperror.ErrDatabaseError(fmt.Errorf("upsert view: %w", err))
	}

	var grant *domain.RewardGrant
	if view.IsFirst() {
		g := domain.NewRewardGrant(view.ID, now)
		created, err := s.grantRepo.Create(ctx, dbTx, g)
		if err != nil {
			return nil, apperror.ErrDatabaseError(fmt.Errorf("create reward grant: %w", err))
		}
		if created {
			grant = g
		}
	}

	if err := dbTx.Commit(ctx); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("commit tx: %w", err))
	}
	s.metrics.ViewRecorded(view.IsFirst())

	outcome := &domain.ViewOutcome{ViewID: view.ID, ClickCount: view.ClickCount}
	if grant == nil {
		return outcome, nil
	}

	outcome.GrantID = &grant.ID
	err = s.events.PublishRewardGranted(ctx, domain.RewardGranted{GrantID: grant.ID, ViewID: view.ID})
	if err != nil {
		// The grant stays pending until the sweep requeues it.
		s.log.Error().Err(err).
			Str("view_id", view.ID.String()).
			Str("grant_id", grant.ID.String()).
			Msg("failed to queue reward settlement")
		return outcome, nil
	}
	outcome.RewardQueued = true

	s.log.Info().
		Str("view_id", view.ID.String()).
		Str("broadcast_id", broadcast.ID.String()).
		Str("grant_id", grant.ID.String()).
		Msg("first view recorded, reward queued")
	return outcome, nil
}
