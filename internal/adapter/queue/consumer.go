package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"credit-ledger/internal/core/domain"
	"credit-ledger/internal/core/ports"
	"credit-ledger/pkg/apperror"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"
)

// Consumer dispatches ledger tasks to the services that handle them.
type Consumer struct {
	settlement ports.SettlementService
	payments   ports.PaymentService
	notifier   ports.BalanceNotifier
	log        zerolog.Logger
}

// NewConsumer creates the task consumer.
func NewConsumer(
	settlement ports.SettlementService,
	payments ports.PaymentService,
	notifier ports.BalanceNotifier,
	log zerolog.Logger,
) *Consumer {
	return &Consumer{
		settlement: settlement,
		payments:   payments,
		notifier:   notifier,
		log:        log,
	}
}

// Register installs the handlers on mux.
func (c *Consumer) Register(mux *asynq.ServeMux) {
	mux.HandleFunc(TypeRewardGranted, c.HandleRewardGranted)
	mux.HandleFunc(TypePaymentUpdated, c.HandlePaymentUpdated)
	mux.HandleFunc(TypeBalanceChanged, c.HandleBalanceChanged)
}

// HandleRewardGranted settles the reward for a first view.
func (c *Consumer) HandleRewardGranted(ctx context.Context, t *asynq.Task) error {
	var event domain.RewardGranted
	if err := json.Unmarshal(t.Payload(), &event); err != nil {
		return fmt.Errorf("decode %s: %v: %w", t.Type(), err, asynq.SkipRetry)
	}

	log := c.log.With().
		Str("grant_id", event.GrantID.String()).
		Str("view_id", event.ViewID.String()).
		Logger()

	tx, err := c.settlement.Settle(ctx, event.ViewID)
	if err != nil {
		return c.classify(log, "settlement", err)
	}

	log.Info().Str("tx_id", tx.ID.String()).Msg("reward settled")
	return nil
}

// HandlePaymentUpdated applies a provider payment status to its wallet transaction.
func (c *Consumer) HandlePaymentUpdated(ctx context.Context, t *asynq.Task) error {
	var event domain.PaymentUpdated
	if err := json.Unmarshal(t.Payload(), &event); err != nil {
		return fmt.Errorf("decode %s: %v: %w", t.Type(), err, asynq.SkipRetry)
	}

	log := c.log.With().
		Str("payment_id", event.PaymentID.String()).
		Str("status", string(event.Status)).
		Logger()

	if event.WalletTransactionID == nil {
		log.Debug().Msg("payment not linked to a wallet transaction, nothing to apply")
		return nil
	}

	refs, err := c.payments.ApplyPaymentOutcome(ctx, *event.WalletTransactionID, event.PaymentID)
	if err != nil {
		return c.classify(log, "payment outcome", err)
	}

	log.Info().
		Str("tx_id", event.WalletTransactionID.String()).
		Int("wallets", len(refs)).
		Msg("payment outcome applied")
	return nil
}

// HandleBalanceChanged forwards the change to the notification channel.
func (c *Consumer) HandleBalanceChanged(ctx context.Context, t *asynq.Task) error {
	var event domain.BalanceChanged
	if err := json.Unmarshal(t.Payload(), &event); err != nil {
		return fmt.Errorf("decode %s: %v: %w", t.Type(), err, asynq.SkipRetry)
	}

	if err := c.notifier.Notify(ctx, event); err != nil {
		return fmt.Errorf("notify balance changed: %w", err)
	}
	return nil
}

// classify turns precondition and not-found failures into terminal task errors;
// anything else is returned as-is so asynq retries it.
func (c *Consumer) classify(log zerolog.Logger, op string, err error) error {
	if apperror.IsPrecondition(err) || errors.Is(err, apperror.ErrNotFound("")) {
		log.Warn().Err(err).Msgf("%s rejected", op)
		return fmt.Errorf("%s: %w: %w", op, err, asynq.SkipRetry)
	}
	log.Error().Err(err).Msgf("%s failed, will retry", op)
	return fmt.Errorf("%s: %w", op, err)
}
