package service

import (
	"context"
	"fmt"
	"time"

	"credit-ledger/internal/core/domain"
	"credit-ledger/internal/core/ports"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// PendingSweepService implements ports.PendingSweeper. It reports pending
// funding transactions that have waited too long for their payment outcome
// and never modifies them. Reward grants still pending after requeueAfter are
// queued for settlement again.
type PendingSweepService struct {
	txRepo       ports.TransactionRepository
	grantRepo    ports.RewardGrantRepository
	events       ports.EventPublisher
	metrics      ports.LedgerMetrics
	alertAfter   time.Duration
	requeueAfter time.Duration
	log          zerolog.Logger
}

// NewPendingSweepService creates a new PendingSweepService.
func NewPendingSweepService(
	txRepo ports.TransactionRepository,
	grantRepo ports.RewardGrantRepository,
	events ports.EventPublisher,
	metrics ports.LedgerMetrics,
	alertAfter, requeueAfter time.Duration,
	log zerolog.Logger,
) *PendingSweepService {
	return &PendingSweepService{
		txRepo:       txRepo,
		grantRepo:    grantRepo,
		events:       events,
		metrics:      metrics,
		alertAfter:   alertAfter,
		requeueAfter: requeueAfter,
		log:          log,
	}
}

// Sweep logs every stale pending funding transaction, requeues stale pending
// grants and returns the number of stale records found.
func (s *PendingSweepService) Sweep(ctx context.Context) (int, error) {
	now := time.Now().UTC()
	stale, err := s.txRepo.ListStalePending(ctx, now.Add(-s.alertAfter))
	if err != nil {
		return 0, fmt.Errorf("list stale pending: %w", err)
	}

	for _, txn := range stale {
		s.log.Warn().
			Str("tx_id", txn.ID.String()).
			Str("wallet_id", txn.ToWalletID.String()).
			Time("created_at", txn.CreatedAt).
			Dur("age", now.Sub(txn.CreatedAt)).
			Msg("funding transaction still pending")
	}
	s.metrics.PendingFunding(len(stale))

	grants, err := s.requeueGrants(ctx, now.Add(-s.requeueAfter))
	if err != nil {
		return len(stale), err
	}
	return len(stale) + grants, nil
}

// requeueGrants publishes a settlement task for every grant still pending
// since before cutoff. The publisher dedupes on grant id, so a grant whose
// task is still queued is not settled twice.
func (s *PendingSweepService) requeueGrants(ctx context.Context, cutoff time.Time) (int, error) {
	grants, err := s.grantRepo.ListStalePending(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("list stale pending grants: %w", err)
	}

	var failed int
	for _, g := range grants {
		event := domain.RewardGranted{GrantID: g.ID, ViewID: g.BroadcastViewID}
		if err := s.events.PublishRewardGranted(ctx, event); err != nil {
			failed++
			s.log.Error().Err(err).
				Str("grant_id", g.ID.String()).
				Str("view_id", g.BroadcastViewID.String()).
				Msg("failed to requeue reward settlement")
			continue
		}
		s.log.Info().
			Str("grant_id", g.ID.String()).
			Str("view_id", g.BroadcastViewID.String()).
			Time("created_at", g.CreatedAt).
			Msg("reward settlement requeued")
	}
	if failed > 0 {
		return len(grants), fmt.Errorf("requeue reward grants: %d of %d failed", failed, len(grants))
	}
	return len(grants), nil
}

// ScheduleSweep registers the sweeper on a new cron scheduler. The caller
// starts and stops it.
func ScheduleSweep(sweeper ports.PendingSweeper, schedule string, timeout time.Duration, log zerolog.Logger) (*cron.Cron, error) {
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	_, err := c.AddFunc(schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		n, err := sweeper.Sweep(ctx)
		if err != nil {
			log.Error().Err(err).Msg("pending sweep failed")
			return
		}
		log.Debug().Int("stale", n).Msg("pending sweep finished")
	})
	if err != nil {
		return nil, fmt.Errorf("schedule pending sweep %q: %w", schedule, err)
	}
	return c, nil
}
