package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"payments-service/internal/services"
)

type VerificationHandler struct {
	Verification *services.VerificationService
}

func NewVerificationHandler(verification *services.VerificationService) *VerificationHandler {
	return &VerificationHandler{Verification: verification}
}

type VerifyRequest struct {
	Code string `json:"code" binding:"required"`
}

// Verify is public: anyone scanning a document QR code lands here.
func (h *VerificationHandler) Verify(c *gin.Context) {
	var req VerifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "document code is required"})
		return
	}

	result, err := h.Verification.Verify(req.Code, c.ClientIP())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "verification unavailable"})
		return
	}
	c.JSON(http.StatusOK, result)
}
