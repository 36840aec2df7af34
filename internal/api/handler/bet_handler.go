package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/atomikwallet/settlement/internal/domain"
	"github.com/atomikwallet/settlement/internal/service"
)

// BetHandler serves the public bet endpoints.
type BetHandler struct {
	betSvc *service.BetService
}

// NewBetHandler creates a BetHandler.
func NewBetHandler(betSvc *service.BetService) *BetHandler {
	return &BetHandler{betSvc: betSvc}
}

// PlaceBet godoc
// POST /api/bets
// Body: {"user_wallet":"...","vault_address":"...","stake_amount":50000000,"choice":"heads"}
func (h *BetHandler) PlaceBet(c *gin.Context) {
	var req domain.CreateBetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "ERR_VALIDATION", err.Error())
		return
	}

	bet, err := h.betSvc.PlaceBet(c.Request.Context(), req)
	if err != nil {
		switch {
		case domain.IsValidation(err):
			respondError(c, http.StatusBadRequest, "ERR_VALIDATION", err.Error())
		default:
			respondError(c, http.StatusInternalServerError, "ERR_INTERNAL", "could not place bet")
		}
		return
	}
	respondSuccess(c, http.StatusCreated, bet.ToResponse())
}

// GetBetByID godoc
// GET /api/bets/:id
func (h *BetHandler) GetBetByID(c *gin.Context) {
	betID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		respondError(c, http.StatusBadRequest, "ERR_INVALID_BET_ID", "invalid bet id")
		return
	}

	bet, err := h.betSvc.GetBet(c.Request.Context(), betID)
	if err != nil {
		switch {
		case domain.IsNotFound(err):
			respondError(c, http.StatusNotFound, "ERR_NOT_FOUND", "bet not found")
		default:
			respondError(c, http.StatusInternalServerError, "ERR_INTERNAL", "could not fetch bet")
		}
		return
	}
	respondSuccess(c, http.StatusOK, bet.ToResponse())
}

// GetUserBets godoc
// GET /api/bets/user/:wallet?page=1&limit=20
func (h *BetHandler) GetUserBets(c *gin.Context) {
	wallet := c.Param("wallet")
	if wallet == "" {
		respondError(c, http.StatusBadRequest, "ERR_VALIDATION", "wallet is required")
		return
	}
	page, limit := parsePagination(c)
	offset := (page - 1) * limit

	bets, err := h.betSvc.GetUserBets(c.Request.Context(), wallet, int64(limit), int64(offset))
	if err != nil {
		respondError(c, http.StatusInternalServerError, "ERR_INTERNAL", "could not fetch bets")
		return
	}

	responses := make([]domain.BetResponse, 0, len(bets))
	for i := range bets {
		responses = append(responses, bets[i].ToResponse())
	}
	respondList(c, responses, len(responses), page, limit)
}
