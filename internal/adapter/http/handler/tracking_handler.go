package handler

import (
	"errors"
	"io"

	"credit-ledger/internal/adapter/http/dto"
	"credit-ledger/internal/core/ports"
	"credit-ledger/pkg/apperror"
	"credit-ledger/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// TrackingHandler records visits to broadcast links. It is public.
type TrackingHandler struct {
	trackingSvc ports.TrackingService
}

// NewTrackingHandler creates a new TrackingHandler.
func NewTrackingHandler(trackingSvc ports.TrackingService) *TrackingHandler {
	return &TrackingHandler{trackingSvc: trackingSvc}
}

// RecordView handles POST /api/v1/track/:broadcastId. The body is optional.
func (h *TrackingHandler) RecordView(c *gin.Context) {
	broadcastID, err := uuid.Parse(c.Param("broadcastId"))
	if err != nil {
		response.Error(c, apperror.Validation("invalid broadcast id"))
		return
	}

	var req dto.ViewRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}

	outcome, err := h.trackingSvc.RecordView(c.Request.Context(), ports.ViewRequest{
		BroadcastID: broadcastID,
		IP:          c.ClientIP(),
		DeviceHash:  req.DeviceHash,
		UserAgent:   c.Request.UserAgent(),
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	if outcome.RewardQueued {
		response.Accepted(c, outcome)
		return
	}
	response.OK(c, outcome)
}
