package handlers

import (
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"payments-service/internal/services"
)

// CallbackHandler terminates provider callbacks. Every authentic callback is
// acknowledged with the provider's expected success shape no matter what the
// reconciler decided; anomalies are logged and audited, never bounced back to
// the provider where they would only trigger redelivery.
type CallbackHandler struct {
	Reconciler *services.ReconcilerService
	Paystack   *services.PaystackService
}

func NewCallbackHandler(reconciler *services.ReconcilerService, paystack *services.PaystackService) *CallbackHandler {
	return &CallbackHandler{Reconciler: reconciler, Paystack: paystack}
}

func (h *CallbackHandler) MpesaSTK(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"status": "error"})
		return
	}

	outcome, err := h.Reconciler.ReconcileMpesaSTK(body)
	if err != nil {
		log.Printf("stk callback: outcome=%s err=%v", outcome, err)
	}
	c.JSON(http.StatusOK, gin.H{"status": "success"})
}

func (h *CallbackHandler) MpesaB2CResult(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"ResultCode": 1, "ResultDesc": "Rejected"})
		return
	}

	outcome, err := h.Reconciler.ReconcileB2CResult(body)
	if err != nil {
		log.Printf("b2c result callback: outcome=%s err=%v", outcome, err)
	}
	c.JSON(http.StatusOK, gin.H{"ResultCode": 0, "ResultDesc": "Accept"})
}

func (h *CallbackHandler) MpesaB2CTimeout(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"ResultCode": 1, "ResultDesc": "Rejected"})
		return
	}

	outcome, err := h.Reconciler.ReconcileB2CTimeout(body)
	if err != nil {
		log.Printf("b2c timeout callback: outcome=%s err=%v", outcome, err)
	}
	c.JSON(http.StatusOK, gin.H{"ResultCode": 0, "ResultDesc": "Accept"})
}

func (h *CallbackHandler) PaystackWebhook(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"status": "error"})
		return
	}

	if !h.Paystack.ValidSignature(body, c.GetHeader("x-paystack-signature")) {
		c.JSON(http.StatusUnauthorized, gin.H{"status": "invalid signature"})
		return
	}

	outcome, err := h.Reconciler.ReconcilePaystackWebhook(body)
	if err != nil {
		log.Printf("paystack webhook: outcome=%s err=%v", outcome, err)
	}
	c.JSON(http.StatusOK, gin.H{"status": "success"})
}
