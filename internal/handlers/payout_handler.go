package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"payments-service/internal/middleware"
	"payments-service/internal/services"
	"payments-service/pkg/common"
)

type PayoutHandler struct {
	Payouts *services.PayoutService
}

func NewPayoutHandler(payouts *services.PayoutService) *PayoutHandler {
	return &PayoutHandler{Payouts: payouts}
}

type InitiatePayoutRequest struct {
	RecipientName  string  `json:"recipient_name" binding:"required"`
	RecipientPhone string  `json:"recipient_phone" binding:"required,msisdn"`
	Amount         float64 `json:"amount" binding:"required,gt=0"`
	Reason         string  `json:"reason" binding:"required"`
}

func (h *PayoutHandler) Initiate(c *gin.Context) {
	var req InitiatePayoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	adminID, ok := middleware.UserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
		return
	}

	payout, err := h.Payouts.Initiate(services.InitiatePayoutDTO{
		AdminUserID:    adminID,
		RecipientName:  req.RecipientName,
		RecipientPhone: req.RecipientPhone,
		Amount:         req.Amount,
		Reason:         req.Reason,
		IPAddress:      c.ClientIP(),
	})
	if err != nil {
		writeServiceError(c, err)
		return
	}

	c.JSON(http.StatusCreated, common.NewSuccessResponse(payout, "Payout initiated"))
}

func (h *PayoutHandler) GetByReference(c *gin.Context) {
	status, err := h.Payouts.GetByReference(c.Param("reference"))
	if err != nil {
		writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, common.NewSuccessResponse(status, "success"))
}

func (h *PayoutHandler) List(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))

	result, err := h.Payouts.List(page, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *PayoutHandler) Summary(c *gin.Context) {
	summary, err := h.Payouts.Summary()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, common.NewSuccessResponse(summary, "success"))
}

func (h *PayoutHandler) Cancel(c *gin.Context) {
	actorID, _ := middleware.UserID(c)
	payout, err := h.Payouts.Cancel(c.Param("reference"), actorID)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, common.NewSuccessResponse(payout, "Payout cancelled"))
}
