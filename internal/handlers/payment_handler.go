package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"payments-service/internal/middleware"
	"payments-service/internal/services"
	"payments-service/pkg/common"
)

type PaymentHandler struct {
	Payments *services.PaymentService
}

func NewPaymentHandler(payments *services.PaymentService) *PaymentHandler {
	return &PaymentHandler{Payments: payments}
}

type InitiatePaymentRequest struct {
	Amount        float64 `json:"amount" binding:"required,gt=0"`
	PaymentMethod string  `json:"payment_method" binding:"required,oneof=MPESA PAYSTACK"`
	PhoneNumber   string  `json:"phone_number" binding:"omitempty,msisdn"`
	Email         string  `json:"email" binding:"omitempty,email"`
	Description   string  `json:"description"`
}

func (h *PaymentHandler) Initiate(c *gin.Context) {
	var req InitiatePaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	userID, ok := middleware.UserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
		return
	}

	trx, err := h.Payments.Initiate(services.InitiateTransactionDTO{
		UserID:        userID,
		Amount:        req.Amount,
		PaymentMethod: req.PaymentMethod,
		PhoneNumber:   req.PhoneNumber,
		Email:         req.Email,
		Description:   req.Description,
		IPAddress:     c.ClientIP(),
	})
	if err != nil {
		writeServiceError(c, err)
		return
	}

	c.JSON(http.StatusCreated, common.NewSuccessResponse(trx, "Payment initiated"))
}

func (h *PaymentHandler) GetByReference(c *gin.Context) {
	status, err := h.Payments.GetByReference(c.Param("reference"))
	if err != nil {
		writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, common.NewSuccessResponse(status, "success"))
}

func (h *PaymentHandler) List(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))

	var userID *int64
	if raw := c.Query("user_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid user_id"})
			return
		}
		userID = &id
	}

	result, err := h.Payments.List(userID, page, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *PaymentHandler) Summary(c *gin.Context) {
	var userID *int64
	if raw := c.Query("user_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid user_id"})
			return
		}
		userID = &id
	}

	summary, err := h.Payments.Summary(userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, common.NewSuccessResponse(summary, "success"))
}

// Verify forces an active status check against the provider instead of
// waiting for the callback or the sweep.
func (h *PaymentHandler) Verify(c *gin.Context) {
	status, err := h.Payments.GetByReference(c.Param("reference"))
	if err != nil {
		writeServiceError(c, err)
		return
	}

	if err := h.Payments.VerifyTransaction(c.Request.Context(), status.Transaction.ID); err != nil {
		writeServiceError(c, err)
		return
	}

	refreshed, err := h.Payments.GetByReference(c.Param("reference"))
	if err != nil {
		writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, common.NewSuccessResponse(refreshed, "Verification completed"))
}

func (h *PaymentHandler) Cancel(c *gin.Context) {
	actorID, _ := middleware.UserID(c)
	trx, err := h.Payments.Cancel(c.Param("reference"), actorID)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, common.NewSuccessResponse(trx, "Payment cancelled"))
}

// writeServiceError maps the service error taxonomy onto HTTP statuses.
func writeServiceError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, common.ErrValidation):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, common.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, common.ErrInvalidStateTransition):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, common.ErrImmutableRecord):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
