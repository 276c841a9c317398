package handler

import (
	"strings"

	"credit-ledger/internal/adapter/http/dto"
	"credit-ledger/internal/core/domain"
	"credit-ledger/internal/core/ports"
	"credit-ledger/pkg/apperror"
	"credit-ledger/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// PaymentHandler receives payment provider reports from the payment bridge.
type PaymentHandler struct {
	paymentSvc ports.PaymentService
}

// NewPaymentHandler creates a new PaymentHandler.
func NewPaymentHandler(paymentSvc ports.PaymentService) *PaymentHandler {
	return &PaymentHandler{paymentSvc: paymentSvc}
}

// Webhook handles POST /api/v1/payments/webhook. The outcome is applied to
// the ledger asynchronously, so a recorded report answers 202.
func (h *PaymentHandler) Webhook(c *gin.Context) {
	var req dto.PaymentWebhookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}
	dto.SanitizeStruct(&req)

	payment, err := toPayment(req)
	if err != nil {
		response.Error(c, err)
		return
	}

	if err := h.paymentSvc.RecordPayment(c.Request.Context(), payment); err != nil {
		response.Error(c, err)
		return
	}

	response.Accepted(c, dto.PaymentWebhookResponse{
		PaymentID: payment.ID.String(),
		Status:    string(payment.Status),
	})
}

func toPayment(req dto.PaymentWebhookRequest) (*domain.PaymentTransaction, error) {
	value, err := decimal.NewFromString(req.Value)
	if err != nil {
		return nil, apperror.Validation("invalid value")
	}
	converted, err := decimal.NewFromString(req.ConvertedValue)
	if err != nil {
		return nil, apperror.Validation("invalid converted_value")
	}
	rate := decimal.NewFromInt(1)
	if req.ExchangeRate != "" {
		if rate, err = decimal.NewFromString(req.ExchangeRate); err != nil {
			return nil, apperror.Validation("invalid exchange_rate")
		}
	}

	payment := &domain.PaymentTransaction{
		Provider:       req.Provider,
		ExternalID:     req.ExternalID,
		Status:         domain.PaymentStatus(req.Status),
		Value:          value,
		ExchangeRate:   rate,
		ConvertedValue: converted,
		Currency:       strings.ToUpper(req.Currency),
		Inbound:        req.Inbound,
	}
	if req.WalletTransactionID != nil {
		id, err := uuid.Parse(*req.WalletTransactionID)
		if err != nil {
			return nil, apperror.Validation("invalid wallet_transaction_id")
		}
		payment.WalletTransactionID = &id
	}
	return payment, nil
}
