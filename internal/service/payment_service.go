package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"credit-ledger/internal/core/domain"
	"credit-ledger/internal/core/ports"
	"credit-ledger/pkg/apperror"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// PaymentServiceImpl implements ports.PaymentService.
type PaymentServiceImpl struct {
	paymentRepo ports.PaymentRepository
	txRepo      ports.TransactionRepository
	walletRepo  ports.WalletRepository
	events      ports.EventPublisher
	transactor  ports.DBTransactor
	log         zerolog.Logger
}

// NewPaymentService creates a new PaymentServiceImpl.
func NewPaymentService(
	paymentRepo ports.PaymentRepository,
	txRepo ports.TransactionRepository,
	walletRepo ports.WalletRepository,
	events ports.EventPublisher,
	transactor ports.DBTransactor,
	log zerolog.Logger,
) *PaymentServiceImpl {
	return &PaymentServiceImpl{
		paymentRepo: paymentRepo,
		txRepo:      txRepo,
		walletRepo:  walletRepo,
		events:      events,
		transactor:  transactor,
		log:         log,
	}
}

// RecordPayment stores a provider payment report and queues its application
// to the ledger. Reports are keyed by (provider, external id), so a replayed
// report only refreshes the stored row.
func (s *PaymentServiceImpl) RecordPayment(ctx context.Context, payment *domain.PaymentTransaction) error {
	payment.Provider = strings.ToLower(strings.TrimSpace(payment.Provider))
	switch {
	case payment.Provider == "" || payment.ExternalID == "":
		return apperror.Validation("provider and external_id are required")
	case !payment.Status.Valid():
		return apperror.Validation("unknown payment status")
	case payment.Value.IsNegative() || payment.ConvertedValue.IsNegative():
		return apperror.ErrInvalidAmount()
	}

	now := time.Now().UTC()
	if payment.ID == uuid.Nil {
		payment.ID = uuid.New()
	}
	if payment.CreatedAt.IsZero() {
		payment.CreatedAt = now
	}
	payment.UpdatedAt = now

	if err := s.paymentRepo.Upsert(ctx, payment); err != nil {
		return apperror.ErrDatabaseError(fmt.Errorf("upsert payment: %w", err))
	}

	event := domain.PaymentUpdated{
		PaymentID:           payment.ID,
		WalletTransactionID: payment.WalletTransactionID,
		Status:              payment.Status,
	}
	if err := s.events.PublishPaymentUpdated(ctx, event); err != nil {
		return apperror.InternalError(fmt.Errorf("publish payment updated: %w", err))
	}

	s.log.Info().
		Str("payment_id", payment.ID.String()).
		Str("provider", payment.Provider).
		Str("external_id", payment.ExternalID).
		Str("status", string(payment.Status)).
		Msg("payment recorded")
	return nil
}

// ApplyPaymentOutcome copies the payment's status and floored converted value
// onto its wallet transaction. It is the only way a pending funding
// transaction becomes complete. The payment must be linked to the funding
// transaction and the transaction may be settled by one payment only.
// Returns the wallets whose balances changed.
func (s *PaymentServiceImpl) ApplyPaymentOutcome(ctx context.Context, walletTransactionID, paymentID uuid.UUID) ([]domain.WalletRef, error) {
	payment, err := s.paymentRepo.GetByID(ctx, paymentID)
	if err != nil {
		return nil, apperror.ErrDatabaseError(fmt.Errorf("get payment: %w", err))
	}
	if payment == nil {
		return nil, apperror.ErrNotFound("Payment")
	}
	if payment.WalletTransactionID == nil || *payment.WalletTransactionID != walletTransactionID {
		return nil, apperror.ErrParameters("payment is not linked to this wallet transaction")
	}

	status := payment.Status.LedgerStatus()
	log := s.log.With().
		Str("tx_id", walletTransactionID.String()).
		Str("payment_id", paymentID.String()).
		Str("status", string(status)).
		Logger()

	dbTx, err := s.transactor.Begin(ctx)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("begin tx: %w", err))
	}
	defer dbTx.Rollback(ctx) //nolint:errcheck

	txn, err := s.txRepo.GetByIDForUpdate(ctx, dbTx, walletTransactionID)
	if err != nil {
		return nil, apperror.ErrDatabaseError(fmt.Errorf("lock wallet transaction: %w", err))
	}
	if txn == nil {
		return nil, apperror.ErrNotFound("Wallet transaction")
	}
	if txn.Type != domain.TransactionTypeFunding {
		return nil, apperror.ErrParameters("payment outcomes apply only to funding transactions")
	}
	if txn.PaymentID != nil && *txn.PaymentID != paymentID {
		return nil, apperror.ErrParameters("wallet transaction is settled by another payment")
	}

	if txn.IsTerminal() {
		if txn.Status != status {
			return nil, apperror.ErrParameters(fmt.Sprintf("wallet transaction already %s", txn.Status))
		}
		// Redelivered outcome: nothing changes.
		log.Debug().Msg("payment outcome already applied")
		return s.touchedWallets(ctx, txn)
	}
	if status == domain.TransactionStatusPending {
		log.Debug().Msg("payment still pending, nothing to apply")
		return nil, nil
	}

	value := payment.Credits()
	if err := s.txRepo.ApplyOutcome(ctx, dbTx, txn.ID, paymentID, status, value, time.Now().UTC()); err != nil {
		return nil, apperror.ErrDatabaseError(fmt.Errorf("apply payment outcome: %w", err))
	}

	if err := dbTx.Commit(ctx); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("commit tx: %w", err))
	}

	refs, err := s.touchedWallets(ctx, txn)
	if err != nil {
		return nil, err
	}

	log.Info().Int64("value", value).Msg("payment outcome applied")
	notifyBalanceChanged(ctx, s.events, s.log, refs...)
	return refs, nil
}

func (s *PaymentServiceImpl) touchedWallets(ctx context.Context, txn *domain.WalletTransaction) ([]domain.WalletRef, error) {
	ids := []uuid.UUID{txn.ToWalletID}
	if txn.FromWalletID != nil && *txn.FromWalletID != txn.ToWalletID {
		ids = append(ids, *txn.FromWalletID)
	}

	refs := make([]domain.WalletRef, 0, len(ids))
	for _, id := range ids {
		wallet, err := s.walletRepo.GetByID(ctx, id)
		if err != nil {
			return nil, apperror.ErrDatabaseError(fmt.Errorf("get wallet: %w", err))
		}
		if wallet == nil {
			return nil, apperror.ErrParameters("wallet transaction references a missing wallet")
		}
		refs = append(refs, wallet.Ref())
	}
	return refs, nil
}
