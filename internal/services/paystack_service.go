package services

import (
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"os"

	"payments-service/pkg/common"
)

const paystackBaseURL = "https://api.paystack.co"

// PaystackService is the outbound Paystack gateway: transaction initialize,
// transaction verify, and webhook signature validation.
type PaystackService struct{}

func NewPaystackService() *PaystackService {
	return &PaystackService{}
}

func (s *PaystackService) secretKey() string {
	return os.Getenv("PAYSTACK_SECRET_KEY")
}

type PaystackInitResult struct {
	AuthorizationURL string `json:"authorization_url"`
	AccessCode       string `json:"access_code"`
	Reference        string `json:"reference"`
}

type PaystackVerifyResult struct {
	Status          string `json:"status"`
	Reference       string `json:"reference"`
	GatewayResponse string `json:"gateway_response"`
	Channel         string `json:"channel"`
	Amount          int64  `json:"amount"`
}

type paystackEnvelope struct {
	Status  bool   `json:"status"`
	Message string `json:"message"`
}

// Initialize starts a Paystack transaction. Amount is converted to minor
// units (kobo/cents) as Paystack expects.
func (s *PaystackService) Initialize(ctx context.Context, email string, amount float64, reference string) (*PaystackInitResult, error) {
	payload := map[string]interface{}{
		"email":     email,
		"amount":    int64(amount) * 100,
		"reference": reference,
	}

	var resp struct {
		paystackEnvelope
		Data PaystackInitResult `json:"data"`
	}
	err := common.Post(ctx, paystackBaseURL+"/transaction/initialize", payload, s.authHeaders(), &resp)
	if err != nil {
		return nil, fmt.Errorf("paystack initialize: %w", err)
	}
	if !resp.Status {
		return nil, fmt.Errorf("paystack initialize: %s: %w", resp.Message, common.ErrProvider)
	}
	return &resp.Data, nil
}

// Verify fetches the current provider-side state of a transaction.
func (s *PaystackService) Verify(ctx context.Context, reference string) (*PaystackVerifyResult, error) {
	var resp struct {
		paystackEnvelope
		Data PaystackVerifyResult `json:"data"`
	}
	err := common.Get(ctx, paystackBaseURL+"/transaction/verify/"+reference, s.authHeaders(), &resp)
	if err != nil {
		return nil, fmt.Errorf("paystack verify: %w", err)
	}
	if !resp.Status {
		return nil, fmt.Errorf("paystack verify: %s: %w", resp.Message, common.ErrProvider)
	}
	return &resp.Data, nil
}

// ValidSignature checks the x-paystack-signature header: HMAC-SHA512 of the
// raw body keyed with the secret key.
func (s *PaystackService) ValidSignature(body []byte, signature string) bool {
	return ValidPaystackSignature(body, signature, s.secretKey())
}

func ValidPaystackSignature(body []byte, signature, secret string) bool {
	if signature == "" {
		return false
	}
	mac := hmac.New(sha512.New, []byte(secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}

func (s *PaystackService) authHeaders() map[string]string {
	return map[string]string{"Authorization": "Bearer " + s.secretKey()}
}
