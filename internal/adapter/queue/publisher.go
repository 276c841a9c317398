package queue

import (
	"context"
	"errors"
	"fmt"

	"credit-ledger/internal/core/domain"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"
)

// Enqueuer is the subset of *asynq.Client used by the publisher.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// Publisher implements ports.EventPublisher on top of asynq.
type Publisher struct {
	client   Enqueuer
	maxRetry int
	log      zerolog.Logger
}

// NewPublisher creates an asynq-backed event publisher.
func NewPublisher(client Enqueuer, maxRetry int, log zerolog.Logger) *Publisher {
	return &Publisher{client: client, maxRetry: maxRetry, log: log}
}

// PublishBalanceChanged enqueues a balance notification for the wallet owner.
func (p *Publisher) PublishBalanceChanged(ctx context.Context, event domain.BalanceChanged) error {
	task, err := NewBalanceChangedTask(event)
	if err != nil {
		return err
	}
	return p.enqueue(ctx, task, asynq.Queue(QueueDefault))
}

// PublishRewardGranted enqueues settlement of a first view. The grant id doubles
// as task id so a redelivered view enqueues nothing new.
func (p *Publisher) PublishRewardGranted(ctx context.Context, event domain.RewardGranted) error {
	task, err := NewRewardGrantedTask(event)
	if err != nil {
		return err
	}
	return p.enqueue(ctx, task,
		asynq.Queue(QueueCritical),
		asynq.TaskID("reward:"+event.GrantID.String()),
	)
}

// PublishPaymentUpdated enqueues application of a payment report. The task id
// keys on payment and status so a replayed report enqueues nothing new.
func (p *Publisher) PublishPaymentUpdated(ctx context.Context, event domain.PaymentUpdated) error {
	task, err := NewPaymentUpdatedTask(event)
	if err != nil {
		return err
	}
	return p.enqueue(ctx, task,
		asynq.Queue(QueueCritical),
		asynq.TaskID(fmt.Sprintf("payment:%s:%s", event.PaymentID, event.Status)),
	)
}

func (p *Publisher) enqueue(ctx context.Context, task *asynq.Task, opts ...asynq.Option) error {
	opts = append(opts, asynq.MaxRetry(p.maxRetry))
	info, err := p.client.EnqueueContext(ctx, task, opts...)
	if err != nil {
		// Same task id already queued: the event is already on its way.
		if errors.Is(err, asynq.ErrTaskIDConflict) {
			p.log.Debug().Str("task_type", task.Type()).Msg("task already enqueued")
			return nil
		}
		return fmt.Errorf("enqueue %s: %w", task.Type(), err)
	}

	p.log.Debug().
		Str("task_type", task.Type()).
		Str("task_id", info.ID).
		Str("queue", info.Queue).
		Msg("task enqueued")
	return nil
}
