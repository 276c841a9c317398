// Package queue delivers ledger events through asynq so each event reaches its
// consumer at least once.
package queue

import (
	"encoding/json"
	"fmt"

	"credit-ledger/internal/core/domain"

	"github.com/hibiken/asynq"
)

// Task types.
const (
	TypeBalanceChanged = "wallet:balance_changed"
	TypeRewardGranted  = "reward:granted"
	TypePaymentUpdated = "payment:updated"
)

// Queue names.
const (
	QueueCritical = "critical"
	QueueDefault  = "default"
)

// Queues is the weighted queue set served by the worker.
var Queues = map[string]int{
	QueueCritical: 6,
	QueueDefault:  3,
}

// NewBalanceChangedTask builds the task announcing a wallet balance change.
func NewBalanceChangedTask(e domain.BalanceChanged) (*asynq.Task, error) {
	payload, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("marshal balance changed: %w", err)
	}
	return asynq.NewTask(TypeBalanceChanged, payload), nil
}

// NewRewardGrantedTask builds the settlement task for a first view.
func NewRewardGrantedTask(e domain.RewardGranted) (*asynq.Task, error) {
	payload, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("marshal reward granted: %w", err)
	}
	return asynq.NewTask(TypeRewardGranted, payload), nil
}

// NewPaymentUpdatedTask builds the task applying a payment status to the ledger.
func NewPaymentUpdatedTask(e domain.PaymentUpdated) (*asynq.Task, error) {
	payload, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("marshal payment updated: %w", err)
	}
	return asynq.NewTask(TypePaymentUpdated, payload), nil
}
