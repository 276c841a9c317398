package handler

import (
	"credit-ledger/internal/adapter/http/dto"
	"credit-ledger/internal/adapter/http/middleware"
	"credit-ledger/internal/core/ports"
	"credit-ledger/pkg/apperror"
	"credit-ledger/pkg/response"

	"github.com/gin-gonic/gin"
)

// HeaderIdempotencyKey lets clients retry a top-up safely.
const HeaderIdempotencyKey = "Idempotency-Key"

// WalletHandler handles wallet endpoints.
type WalletHandler struct {
	walletSvc  ports.WalletService
	balanceSvc ports.BalanceService
}

// NewWalletHandler creates a new WalletHandler.
func NewWalletHandler(walletSvc ports.WalletService, balanceSvc ports.BalanceService) *WalletHandler {
	return &WalletHandler{walletSvc: walletSvc, balanceSvc: balanceSvc}
}

// Create handles POST /api/v1/wallets.
func (h *WalletHandler) Create(c *gin.Context) {
	ownerID, ok := middleware.OwnerID(c)
	if !ok {
		response.Error(c, apperror.ErrInvalidToken())
		return
	}

	wallet, err := h.walletSvc.CreateWallet(c.Request.Context(), ownerID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, wallet)
}

// GetBalances handles GET /api/v1/wallets/balance.
func (h *WalletHandler) GetBalances(c *gin.Context) {
	ownerID, ok := middleware.OwnerID(c)
	if !ok {
		response.Error(c, apperror.ErrInvalidToken())
		return
	}

	balances, err := h.balanceSvc.GetBalances(c.Request.Context(), ownerID)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.OK(c, dto.BalancesResponse{
		WalletID: balances.WalletID.String(),
		Funding:  balances.Funding,
		Rewards:  balances.Rewards,
	})
}

// TopUp handles POST /api/v1/wallets/topup. The transaction stays pending
// until the payment provider reports its outcome.
func (h *WalletHandler) TopUp(c *gin.Context) {
	ownerID, ok := middleware.OwnerID(c)
	if !ok {
		response.Error(c, apperror.ErrInvalidToken())
		return
	}

	key := c.GetHeader(HeaderIdempotencyKey)
	if len(key) > 128 {
		response.Error(c, apperror.Validation("Idempotency-Key too long"))
		return
	}

	txn, err := h.walletSvc.TopUp(c.Request.Context(), ownerID, key)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, txn)
}

// ListTransfers handles GET /api/v1/wallets/transfers?page=&size=.
func (h *WalletHandler) ListTransfers(c *gin.Context) {
	ownerID, ok := middleware.OwnerID(c)
	if !ok {
		response.Error(c, apperror.ErrInvalidToken())
		return
	}

	q := dto.PageQuery{Page: 1, Size: 20}
	if err := c.ShouldBindQuery(&q); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}

	transfers, total, err := h.walletSvc.ListTransfers(c.Request.Context(), ownerID, q.Page, q.Size)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Paged(c, transfers, response.PageMeta{Page: q.Page, Size: q.Size, Total: total})
}
