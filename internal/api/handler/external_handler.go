package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/atomikwallet/settlement/internal/domain"
	"github.com/atomikwallet/settlement/internal/service"
)

// ExternalHandler serves the processor-facing endpoints behind the API key.
type ExternalHandler struct {
	betSvc *service.BetService
}

// NewExternalHandler creates an ExternalHandler.
func NewExternalHandler(betSvc *service.BetService) *ExternalHandler {
	return &ExternalHandler{betSvc: betSvc}
}

// GetPendingBets godoc
// GET /api/external/bets/pending?limit=100&processor_id=worker-0 [API key]
// Atomically claims the returned bets for the calling processor.
func (h *ExternalHandler) GetPendingBets(c *gin.Context) {
	limit, err := strconv.ParseInt(c.DefaultQuery("limit", "100"), 10, 64)
	if err != nil || limit < 1 {
		respondError(c, http.StatusBadRequest, "ERR_VALIDATION", "limit must be a positive integer")
		return
	}
	processorID := c.DefaultQuery("processor_id", "processor-unknown")

	resp, err := h.betSvc.ClaimPending(c.Request.Context(), limit, processorID)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "ERR_INTERNAL", "could not claim pending bets")
		return
	}
	c.JSON(http.StatusOK, resp)
}

// UpdateBatch godoc
// POST /api/external/batches/:batchId [API key]
func (h *ExternalHandler) UpdateBatch(c *gin.Context) {
	batchID, err := uuid.Parse(c.Param("batchId"))
	if err != nil {
		respondError(c, http.StatusBadRequest, "ERR_INVALID_BATCH_ID", "invalid batch id")
		return
	}

	var req domain.UpdateBatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "ERR_VALIDATION", err.Error())
		return
	}

	resp, err := h.betSvc.UpdateBatch(c.Request.Context(), batchID, req)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "ERR_INTERNAL", "could not update batch")
		return
	}
	c.JSON(http.StatusOK, resp)
}

// GetBatchSummary godoc
// GET /api/external/batches/:batchId [API key]
func (h *ExternalHandler) GetBatchSummary(c *gin.Context) {
	batchID, err := uuid.Parse(c.Param("batchId"))
	if err != nil {
		respondError(c, http.StatusBadRequest, "ERR_INVALID_BATCH_ID", "invalid batch id")
		return
	}

	sum, err := h.betSvc.GetBatchSummary(c.Request.Context(), batchID)
	if err != nil {
		switch {
		case domain.IsNotFound(err):
			respondError(c, http.StatusNotFound, "ERR_NOT_FOUND", "batch not found")
		default:
			respondError(c, http.StatusInternalServerError, "ERR_INTERNAL", "could not fetch batch")
		}
		return
	}
	respondSuccess(c, http.StatusOK, sum)
}
