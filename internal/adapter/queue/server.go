package queue

import (
	"context"
	"fmt"

	"credit-ledger/config"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"
)

func redisOpt(cfg config.RedisConfig) asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:     cfg.Addr(),
		Password: cfg.Password,
		DB:       cfg.DB,
	}
}

// NewClient creates an asynq client and verifies connectivity.
func NewClient(cfg config.RedisConfig, log zerolog.Logger) (*asynq.Client, error) {
	client := asynq.NewClient(redisOpt(cfg))
	if err := client.Ping(); err != nil {
		client.Close() //nolint:errcheck
		return nil, fmt.Errorf("pinging asynq redis: %w", err)
	}

	log.Info().Str("addr", cfg.Addr()).Msg("Asynq client connected")
	return client, nil
}

// NewServer creates the asynq worker server.
func NewServer(cfg config.RedisConfig, qcfg config.QueueConfig, log zerolog.Logger) *asynq.Server {
	return asynq.NewServer(redisOpt(cfg), asynq.Config{
		Concurrency:    qcfg.Concurrency,
		Queues:         Queues,
		RetryDelayFunc: asynq.DefaultRetryDelayFunc,
		Logger:         NewLogger(log),
		ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
			retried, _ := asynq.GetRetryCount(ctx)
			maxRetry, _ := asynq.GetMaxRetry(ctx)
			log.Error().
				Err(err).
				Str("task_type", task.Type()).
				Int("retried", retried).
				Int("max_retry", maxRetry).
				Msg("task failed")
		}),
	})
}

// Logger adapts zerolog to asynq.Logger.
type Logger struct {
	log zerolog.Logger
}

// NewLogger wraps log for asynq.
func NewLogger(log zerolog.Logger) *Logger {
	return &Logger{log: log}
}

func (l *Logger) Debug(args ...interface{}) { l.log.Debug().Msg(fmt.Sprint(args...)) }
func (l *Logger) Info(args ...interface{})  { l.log.Info().Msg(fmt.Sprint(args...)) }
func (l *Logger) Warn(args ...interface{})  { l.log.Warn().Msg(fmt.Sprint(args...)) }
func (l *Logger) Error(args ...interface{}) { l.log.Error().Msg(fmt.Sprint(args...)) }
func (l *Logger) Fatal(args ...interface{}) { l.log.Fatal().Msg(fmt.Sprint(args...)) }
