package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"credit-ledger/internal/core/domain"
	"credit-ledger/internal/core/ports"

	"github.com/rs/zerolog"
)

// notifyRetryIntervals are the waits between delivery attempts of one event.
// Once exhausted the error goes back to the queue, which retries the task.
var notifyRetryIntervals = []time.Duration{
	1 * time.Second,
	5 * time.Second,
	15 * time.Second,
}

// SignatureHeader carries the hex HMAC-SHA256 of the request body.
const SignatureHeader = "X-Signature"

// HTTPClient interface for testability.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// BalanceNotification is the JSON body posted to the notification endpoint.
type BalanceNotification struct {
	WalletID  string `json:"wallet_id"`
	OwnerID   int64  `json:"owner_id"`
	Funding   int64  `json:"funding"`
	Rewards   int64  `json:"rewards"`
	Timestamp int64  `json:"timestamp"`
}

// NotifierService implements ports.BalanceNotifier with signed HTTP callbacks.
type NotifierService struct {
	balances   ports.BalanceService
	sigSvc     ports.SignatureService
	httpClient HTTPClient
	url        string
	secret     string
	intervals  []time.Duration
	log        zerolog.Logger
}

// NewNotifierService creates a notifier posting to url. An empty url disables delivery.
func NewNotifierService(
	balances ports.BalanceService,
	sigSvc ports.SignatureService,
	httpClient HTTPClient,
	url string,
	secret string,
	log zerolog.Logger,
) *NotifierService {
	return &NotifierService{
		balances:   balances,
		sigSvc:     sigSvc,
		httpClient: httpClient,
		url:        url,
		secret:     secret,
		intervals:  notifyRetryIntervals,
		log:        log,
	}
}

// Notify posts the wallet's current balances. The balances are read at
// delivery time, so a late notification never carries stale numbers.
func (s *NotifierService) Notify(ctx context.Context, event domain.BalanceChanged) error {
	log := s.log.With().
		Str("wallet_id", event.WalletID.String()).
		Int64("owner_id", event.OwnerID).
		Logger()

	if s.url == "" {
		log.Debug().Msg("notify: no URL configured, skipping")
		return nil
	}

	balances, err := s.balances.GetBalances(ctx, event.OwnerID)
	if err != nil {
		return fmt.Errorf("read balances: %w", err)
	}

	body, err := json.Marshal(BalanceNotification{
		WalletID:  event.WalletID.String(),
		OwnerID:   event.OwnerID,
		Funding:   balances.Funding,
		Rewards:   balances.Rewards,
		Timestamp: time.Now().Unix(),
	})
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}
	signature := s.sigSvc.Sign(s.secret, string(body))

	var lastErr error
	for attempt := 0; attempt <= len(s.intervals); attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(s.intervals[attempt-1]):
			}
		}

		status, err := s.deliver(ctx, body, signature)
		if err == nil {
			log.Debug().Int("attempt", attempt+1).Int("status", status).Msg("notify: delivered")
			return nil
		}
		lastErr = err
		log.Warn().Err(err).Int("attempt", attempt+1).Msg("notify: delivery failed")
	}

	return fmt.Errorf("notify: all attempts failed: %w", lastErr)
}

func (s *NotifierService) deliver(ctx context.Context, body []byte, signature string) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(SignatureHeader, signature)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body) //nolint:errcheck

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp.StatusCode, fmt.Errorf("non-2xx response: %d", resp.StatusCode)
	}
	return resp.StatusCode, nil
}
