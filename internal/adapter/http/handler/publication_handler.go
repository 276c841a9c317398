package handler

import (
	"strconv"

	"credit-ledger/internal/adapter/http/dto"
	"credit-ledger/internal/adapter/http/middleware"
	"credit-ledger/internal/core/ports"
	"credit-ledger/pkg/apperror"
	"credit-ledger/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// PublicationHandler handles credit reservations and publication fan-out.
type PublicationHandler struct {
	allocationSvc ports.AllocationService
}

// NewPublicationHandler creates a new PublicationHandler.
func NewPublicationHandler(allocationSvc ports.AllocationService) *PublicationHandler {
	return &PublicationHandler{allocationSvc: allocationSvc}
}

// Reserve handles POST /api/v1/publications.
func (h *PublicationHandler) Reserve(c *gin.Context) {
	ownerID, ok := middleware.OwnerID(c)
	if !ok {
		response.Error(c, apperror.ErrInvalidToken())
		return
	}

	var req dto.ReserveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}

	reservation, err := h.allocationSvc.Reserve(c.Request.Context(), ports.ReserveRequest{
		OwnerID:       ownerID,
		CampaignID:    req.CampaignID,
		Credits:       req.Credits,
		PublishAfter:  req.PublishAfter,
		PublishBefore: req.PublishBefore,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, reservation)
}

// ListPublications handles GET /api/v1/campaigns/:id/publications.
func (h *PublicationHandler) ListPublications(c *gin.Context) {
	ownerID, ok := middleware.OwnerID(c)
	if !ok {
		response.Error(c, apperror.ErrInvalidToken())
		return
	}

	campaignID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || campaignID <= 0 {
		response.Error(c, apperror.Validation("invalid campaign id"))
		return
	}

	publications, err := h.allocationSvc.ListPublications(c.Request.Context(), ownerID, campaignID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, publications)
}

// Release handles DELETE /api/v1/allocations/:id.
func (h *PublicationHandler) Release(c *gin.Context) {
	ownerID, ok := middleware.OwnerID(c)
	if !ok {
		response.Error(c, apperror.ErrInvalidToken())
		return
	}

	allocationID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.Error(c, apperror.Validation("invalid allocation id"))
		return
	}

	if err := h.allocationSvc.Release(c.Request.Context(), ownerID, allocationID); err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, gin.H{"allocation_id": allocationID, "status": "cancelled"})
}

// FanOut handles POST /api/v1/publications/:id/broadcasts.
func (h *PublicationHandler) FanOut(c *gin.Context) {
	ownerID, ok := middleware.OwnerID(c)
	if !ok {
		response.Error(c, apperror.ErrInvalidToken())
		return
	}

	publicationID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.Error(c, apperror.Validation("invalid publication id"))
		return
	}

	var req dto.FanOutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}

	broadcasts, err := h.allocationSvc.FanOut(c.Request.Context(), ownerID, publicationID, req.ConnectionIDs)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, broadcasts)
}

// MarkSent handles POST /api/v1/broadcasts/sent.
func (h *PublicationHandler) MarkSent(c *gin.Context) {
	var req dto.MarkSentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}

	ids := make([]uuid.UUID, 0, len(req.BroadcastIDs))
	for _, raw := range req.BroadcastIDs {
		id, err := uuid.Parse(raw)
		if err != nil {
			response.Error(c, apperror.Validation("invalid broadcast id"))
			return
		}
		ids = append(ids, id)
	}

	updated, err := h.allocationSvc.MarkSent(c.Request.Context(), ids)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, dto.MarkSentResponse{Updated: updated})
}
