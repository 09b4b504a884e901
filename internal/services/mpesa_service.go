package services

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"payments-service/pkg/common"
)

const (
	mpesaSandboxURL    = "https://sandbox.safaricom.co.ke"
	mpesaProductionURL = "https://api.safaricom.co.ke"

	mpesaTokenCacheKey = "mpesa:access_token"
	// Daraja tokens live 3600s; refresh with headroom.
	mpesaTokenCacheTTL = 50 * time.Minute
)

// MpesaService is the outbound M-Pesa gateway: OAuth token acquisition (cached
// in Redis), STK push, STK push status query, and B2C payment requests.
type MpesaService struct {
	Redis *redis.Client
}

func NewMpesaService(rdb *redis.Client) *MpesaService {
	return &MpesaService{Redis: rdb}
}

func (s *MpesaService) baseURL() string {
	if os.Getenv("MPESA_ENV") == "production" {
		return mpesaProductionURL
	}
	return mpesaSandboxURL
}

type STKPushResult struct {
	MerchantRequestID   string `json:"MerchantRequestID"`
	CheckoutRequestID   string `json:"CheckoutRequestID"`
	ResponseCode        string `json:"ResponseCode"`
	ResponseDescription string `json:"ResponseDescription"`
	CustomerMessage     string `json:"CustomerMessage"`
}

type STKQueryResult struct {
	ResponseCode        string `json:"ResponseCode"`
	ResponseDescription string `json:"ResponseDescription"`
	MerchantRequestID   string `json:"MerchantRequestID"`
	CheckoutRequestID   string `json:"CheckoutRequestID"`
	ResultCode          string `json:"ResultCode"`
	ResultDesc          string `json:"ResultDesc"`
}

type B2CResult struct {
	ConversationID           string `json:"ConversationID"`
	OriginatorConversationID string `json:"OriginatorConversationID"`
	ResponseCode             string `json:"ResponseCode"`
	ResponseDescription      string `json:"ResponseDescription"`
}

var nonNumericRegex = regexp.MustCompile(`[^0-9]`)

// SanitizeMpesaNumber normalizes a Kenyan mobile number to 2547XXXXXXXX /
// 2541XXXXXXXX form.
func SanitizeMpesaNumber(phone string) (string, error) {
	sanitized := nonNumericRegex.ReplaceAllString(phone, "")

	switch {
	case (strings.HasPrefix(sanitized, "07") || strings.HasPrefix(sanitized, "01")) && len(sanitized) == 10:
		return "254" + sanitized[1:], nil
	case (strings.HasPrefix(sanitized, "7") || strings.HasPrefix(sanitized, "1")) && len(sanitized) == 9:
		return "254" + sanitized, nil
	case strings.HasPrefix(sanitized, "254") && len(sanitized) == 12:
		return sanitized, nil
	}
	return "", fmt.Errorf("invalid M-Pesa phone number %q: %w", phone, common.ErrValidation)
}

// AccessToken returns a Daraja OAuth token, from the Redis cache when one is
// still fresh.
func (s *MpesaService) AccessToken(ctx context.Context) (string, error) {
	// Cache trouble is not fatal; a miss or a Redis error both fall through
	// to the provider.
	if s.Redis != nil {
		if token, err := s.Redis.Get(ctx, mpesaTokenCacheKey).Result(); err == nil && token != "" {
			return token, nil
		}
	}

	credentials := base64.StdEncoding.EncodeToString(
		[]byte(os.Getenv("MPESA_CONSUMER_KEY") + ":" + os.Getenv("MPESA_CONSUMER_SECRET")))

	var resp struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   string `json:"expires_in"`
	}
	url := s.baseURL() + "/oauth/v1/generate?grant_type=client_credentials"
	if err := common.Get(ctx, url, map[string]string{"Authorization": "Basic " + credentials}, &resp); err != nil {
		return "", fmt.Errorf("mpesa token: %w", err)
	}
	if resp.AccessToken == "" {
		return "", fmt.Errorf("mpesa token: empty token in response: %w", common.ErrProvider)
	}

	if s.Redis != nil {
		s.Redis.Set(ctx, mpesaTokenCacheKey, resp.AccessToken, mpesaTokenCacheTTL)
	}
	return resp.AccessToken, nil
}

// STKPush prompts the customer's phone to approve a payment. The returned
// CheckoutRequestID correlates the later callback to the transaction.
func (s *MpesaService) STKPush(ctx context.Context, amount float64, phone, accountRef string) (*STKPushResult, error) {
	token, err := s.AccessToken(ctx)
	if err != nil {
		return nil, err
	}

	shortcode := os.Getenv("MPESA_SHORTCODE")
	timestamp := time.Now().Format("20060102150405")
	password := base64.StdEncoding.EncodeToString(
		[]byte(shortcode + os.Getenv("MPESA_PASSKEY") + timestamp))

	payload := map[string]interface{}{
		"BusinessShortCode": shortcode,
		"Password":          password,
		"Timestamp":         timestamp,
		"TransactionType":   "CustomerPayBillOnline",
		"Amount":            int64(amount),
		"PartyA":            phone,
		"PartyB":            shortcode,
		"PhoneNumber":       phone,
		"CallBackURL":       os.Getenv("MPESA_CALLBACK_URL"),
		"AccountReference":  accountRef,
		"TransactionDesc":   "Portal payment",
	}

	var result STKPushResult
	url := s.baseURL() + "/mpesa/stkpush/v1/processrequest"
	if err := common.Post(ctx, url, payload, bearer(token), &result); err != nil {
		return nil, fmt.Errorf("stk push: %w", err)
	}
	if result.ResponseCode != "0" {
		return &result, fmt.Errorf("stk push rejected: %s: %w", result.ResponseDescription, common.ErrProvider)
	}
	return &result, nil
}

// STKQuery asks Daraja for the status of an earlier STK push. Used by the
// verification sweep for transactions whose callback never arrived.
func (s *MpesaService) STKQuery(ctx context.Context, checkoutRequestID string) (*STKQueryResult, error) {
	token, err := s.AccessToken(ctx)
	if err != nil {
		return nil, err
	}

	shortcode := os.Getenv("MPESA_SHORTCODE")
	timestamp := time.Now().Format("20060102150405")
	password := base64.StdEncoding.EncodeToString(
		[]byte(shortcode + os.Getenv("MPESA_PASSKEY") + timestamp))

	payload := map[string]interface{}{
		"BusinessShortCode": shortcode,
		"Password":          password,
		"Timestamp":         timestamp,
		"CheckoutRequestID": checkoutRequestID,
	}

	var result STKQueryResult
	url := s.baseURL() + "/mpesa/stkpushquery/v1/query"
	if err := common.Post(ctx, url, payload, bearer(token), &result); err != nil {
		return nil, fmt.Errorf("stk query: %w", err)
	}
	return &result, nil
}

// B2CRequest submits a disbursement. Acceptance (ResponseCode 0) only means
// the provider queued it; the outcome arrives on the result URL.
func (s *MpesaService) B2CRequest(ctx context.Context, amount float64, phone, remarks string) (*B2CResult, error) {
	token, err := s.AccessToken(ctx)
	if err != nil {
		return nil, err
	}

	shortcode := os.Getenv("MPESA_B2C_SHORTCODE")
	payload := map[string]interface{}{
		"InitiatorName":      os.Getenv("MPESA_B2C_INITIATOR_NAME"),
		"SecurityCredential": os.Getenv("MPESA_B2C_SECURITY_CREDENTIAL"),
		"CommandID":          "BusinessPayment",
		"Amount":             int64(amount),
		"PartyA":             shortcode,
		"PartyB":             phone,
		"Remarks":            remarks,
		"QueueTimeOutURL":    os.Getenv("MPESA_B2C_TIMEOUT_URL"),
		"ResultURL":          os.Getenv("MPESA_B2C_RESULT_URL"),
		"Occasion":           "Payout",
	}

	var result B2CResult
	url := s.baseURL() + "/mpesa/b2c/v1/paymentrequest"
	if err := common.Post(ctx, url, payload, bearer(token), &result); err != nil {
		return nil, fmt.Errorf("b2c request: %w", err)
	}
	if result.ResponseCode != "0" {
		return &result, fmt.Errorf("b2c rejected: %s: %w", result.ResponseDescription, common.ErrProvider)
	}
	return &result, nil
}

func bearer(token string) map[string]string {
	return map[string]string{"Authorization": "Bearer " + token}
}
