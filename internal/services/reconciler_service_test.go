package services

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"

	"payments-service/internal/models"
	"payments-service/pkg/common"

	"github.com/stretchr/testify/assert"
)

func newTestReconciler() *ReconcilerService {
	ledger := NewLedgerService(testDB)
	audit := NewAuditService(testDB, nil)
	return NewReconcilerService(testDB, ledger, audit)
}

func seedMpesaTransaction(t *testing.T, checkoutID string, amount float64) *models.Transaction {
	t.Helper()
	trx := models.Transaction{
		UserID:        501,
		ReferenceCode: common.GenerateReferenceCode(common.PrefixPayment),
		Amount:        amount,
		PaymentMethod: models.MethodMpesa,
		Status:        models.StatusPending,
		PhoneNumber:   "254712345678",
	}
	if err := testDB.Create(&trx).Error; err != nil {
		t.Fatalf("seed transaction: %v", err)
	}
	if err := testDB.Create(&models.MpesaSTKRequest{
		TransactionID:     trx.ID,
		CheckoutRequestID: &checkoutID,
		Status:            models.RequestProcessing,
	}).Error; err != nil {
		t.Fatalf("seed stk request: %v", err)
	}
	return &trx
}

func stkCallback(checkoutID string, resultCode int, desc string) []byte {
	body := map[string]interface{}{
		"Body": map[string]interface{}{
			"stkCallback": map[string]interface{}{
				"MerchantRequestID": "29115-34620561-1",
				"CheckoutRequestID": checkoutID,
				"ResultCode":        resultCode,
				"ResultDesc":        desc,
			},
		},
	}
	raw, _ := json.Marshal(body)
	return raw
}

func b2cCallback(originatorID, conversationID string, resultCode int, desc string) []byte {
	body := map[string]interface{}{
		"Result": map[string]interface{}{
			"OriginatorConversationID": originatorID,
			"ConversationID":           conversationID,
			"ResultCode":               resultCode,
			"ResultDesc":               desc,
		},
	}
	raw, _ := json.Marshal(body)
	return raw
}

func TestSTKCallbackCompletesTransactionAndPostsCredit(t *testing.T) {
	if testDB == nil {
		t.Skip("Database not configured")
	}
	defer cleanup()

	svc := newTestReconciler()
	trx := seedMpesaTransaction(t, "ws_CO_TEST_A1", 250.00)

	outcome, err := svc.ReconcileMpesaSTK(stkCallback("ws_CO_TEST_A1", 0, "The service request is processed successfully."))
	assert.NoError(t, err)
	assert.Equal(t, OutcomeApplied, outcome)

	var stored models.Transaction
	testDB.First(&stored, trx.ID)
	assert.Equal(t, models.StatusCompleted, stored.Status)
	assert.NotNil(t, stored.CompletedAt)
	assert.NotEmpty(t, stored.CallbackData)

	var entry models.LedgerEntry
	if err := testDB.Where("transaction_id = ?", trx.ID).First(&entry).Error; err != nil {
		t.Fatalf("Expected ledger entry for completed transaction: %v", err)
	}
	assert.Equal(t, models.EntryCredit, entry.EntryType)
	assert.Equal(t, 250.00, entry.Amount)
}

func TestSTKCallbackFailureDoesNotPostLedger(t *testing.T) {
	if testDB == nil {
		t.Skip("Database not configured")
	}
	defer cleanup()

	svc := newTestReconciler()
	trx := seedMpesaTransaction(t, "ws_CO_TEST_F1", 100.00)

	outcome, err := svc.ReconcileMpesaSTK(stkCallback("ws_CO_TEST_F1", 1032, "Request cancelled by user"))
	assert.NoError(t, err)
	assert.Equal(t, OutcomeApplied, outcome)

	var stored models.Transaction
	testDB.First(&stored, trx.ID)
	assert.Equal(t, models.StatusFailed, stored.Status)
	if assert.NotNil(t, stored.FailedReason) {
		assert.Equal(t, "Request cancelled by user", *stored.FailedReason)
	}

	var count int64
	testDB.Model(&models.LedgerEntry{}).Where("transaction_id = ?", trx.ID).Count(&count)
	assert.Equal(t, int64(0), count)
}

func TestDuplicateCallbackIsNoOp(t *testing.T) {
	if testDB == nil {
		t.Skip("Database not configured")
	}
	defer cleanup()

	svc := newTestReconciler()
	trx := seedMpesaTransaction(t, "ws_CO_TEST_B1", 80.00)

	first := stkCallback("ws_CO_TEST_B1", 0, "Success")
	outcome, err := svc.ReconcileMpesaSTK(first)
	assert.NoError(t, err)
	assert.Equal(t, OutcomeApplied, outcome)

	var afterFirst models.Transaction
	testDB.First(&afterFirst, trx.ID)

	// Redelivery of the same terminal outcome.
	outcome, err = svc.ReconcileMpesaSTK(stkCallback("ws_CO_TEST_B1", 0, "Success redelivered"))
	assert.NoError(t, err)
	assert.Equal(t, OutcomeDuplicate, outcome)

	var afterSecond models.Transaction
	testDB.First(&afterSecond, trx.ID)
	assert.Equal(t, models.StatusCompleted, afterSecond.Status)
	// First payload is kept.
	assert.Equal(t, afterFirst.CallbackData, afterSecond.CallbackData)

	var entries int64
	testDB.Model(&models.LedgerEntry{}).Where("transaction_id = ?", trx.ID).Count(&entries)
	assert.Equal(t, int64(1), entries, "duplicate callback must not double-post")
}

func TestConflictingTerminalCallbackRejected(t *testing.T) {
	if testDB == nil {
		t.Skip("Database not configured")
	}
	defer cleanup()

	svc := newTestReconciler()
	trx := seedMpesaTransaction(t, "ws_CO_TEST_C1", 60.00)

	outcome, err := svc.ReconcileMpesaSTK(stkCallback("ws_CO_TEST_C1", 0, "Success"))
	assert.NoError(t, err)
	assert.Equal(t, OutcomeApplied, outcome)

	// Same correlation id, opposite terminal state.
	outcome, err = svc.ReconcileMpesaSTK(stkCallback("ws_CO_TEST_C1", 1037, "Timeout"))
	assert.Equal(t, OutcomeConflict, outcome)
	assert.True(t, errors.Is(err, common.ErrInvalidStateTransition), "got %v", err)

	var stored models.Transaction
	testDB.First(&stored, trx.ID)
	assert.Equal(t, models.StatusCompleted, stored.Status)
}

func TestConflictingCallbackRecordsAuditEntry(t *testing.T) {
	if testDB == nil {
		t.Skip("Database not configured")
	}
	defer cleanup()

	svc := newTestReconciler()
	seedMpesaTransaction(t, "ws_CO_TEST_C2", 75.00)

	_, err := svc.ReconcileMpesaSTK(stkCallback("ws_CO_TEST_C2", 0, "Success"))
	assert.NoError(t, err)

	outcome, err := svc.ReconcileMpesaSTK(stkCallback("ws_CO_TEST_C2", 1037, "Timeout"))
	assert.Equal(t, OutcomeConflict, outcome)
	assert.Error(t, err)

	var entry models.AuditLog
	if err := testDB.Where("action = ?", ActionCallbackConflict).First(&entry).Error; err != nil {
		t.Fatalf("Expected conflict audit entry: %v", err)
	}
	assert.Contains(t, entry.Description, "ws_CO_TEST_C2")
	assert.Contains(t, entry.Metadata, ChannelMpesaSTK)
}

func TestUnknownCorrelationIDIsLoggedNotApplied(t *testing.T) {
	if testDB == nil {
		t.Skip("Database not configured")
	}
	defer cleanup()

	svc := newTestReconciler()
	outcome, err := svc.ReconcileMpesaSTK(stkCallback("ws_CO_UNKNOWN", 0, "Success"))
	assert.Equal(t, OutcomeNotFound, outcome)
	assert.True(t, errors.Is(err, common.ErrNotFound), "got %v", err)

	var logs int64
	testDB.Model(&models.CallbackLog{}).Where("provider = ?", ChannelMpesaSTK).Count(&logs)
	assert.Equal(t, int64(1), logs)

	var entry models.AuditLog
	if err := testDB.Where("action = ?", ActionCallbackAnomaly).First(&entry).Error; err != nil {
		t.Fatalf("Expected anomaly audit entry: %v", err)
	}
	assert.Contains(t, entry.Description, "ws_CO_UNKNOWN")
}

func seedPaystackTransaction(t *testing.T, amount float64) *models.Transaction {
	t.Helper()
	trx := models.Transaction{
		UserID:        502,
		ReferenceCode: common.GenerateReferenceCode(common.PrefixPayment),
		Amount:        amount,
		PaymentMethod: models.MethodPaystack,
		Status:        models.StatusPending,
		Email:         "client@example.com",
	}
	if err := testDB.Create(&trx).Error; err != nil {
		t.Fatalf("seed transaction: %v", err)
	}
	if err := testDB.Create(&models.PaystackTransaction{
		TransactionID: trx.ID,
		Reference:     trx.ReferenceCode,
		Status:        models.RequestProcessing,
	}).Error; err != nil {
		t.Fatalf("seed paystack transaction: %v", err)
	}
	return &trx
}

func paystackEvent(event, reference, gatewayResponse, channel string) []byte {
	raw, _ := json.Marshal(map[string]interface{}{
		"event": event,
		"data": map[string]interface{}{
			"reference":        reference,
			"gateway_response": gatewayResponse,
			"channel":          channel,
		},
	})
	return raw
}

func TestPaystackChargeSuccessCompletesAndPostsCredit(t *testing.T) {
	if testDB == nil {
		t.Skip("Database not configured")
	}
	defer cleanup()

	svc := newTestReconciler()
	trx := seedPaystackTransaction(t, 1500.00)

	outcome, err := svc.ReconcilePaystackWebhook(paystackEvent("charge.success", trx.ReferenceCode, "Successful", "card"))
	assert.NoError(t, err)
	assert.Equal(t, OutcomeApplied, outcome)

	var stored models.Transaction
	testDB.First(&stored, trx.ID)
	assert.Equal(t, models.StatusCompleted, stored.Status)
	assert.NotNil(t, stored.CompletedAt)
	if assert.NotNil(t, stored.ProviderReference) {
		assert.Equal(t, trx.ReferenceCode, *stored.ProviderReference)
	}

	var child models.PaystackTransaction
	testDB.Where("transaction_id = ?", trx.ID).First(&child)
	assert.Equal(t, models.RequestCompleted, child.Status)
	assert.NotNil(t, child.PaidAt)
	if assert.NotNil(t, child.GatewayResponse) {
		assert.Equal(t, "Successful", *child.GatewayResponse)
	}
	if assert.NotNil(t, child.Channel) {
		assert.Equal(t, "card", *child.Channel)
	}

	var entry models.LedgerEntry
	if err := testDB.Where("transaction_id = ?", trx.ID).First(&entry).Error; err != nil {
		t.Fatalf("Expected ledger entry for completed transaction: %v", err)
	}
	assert.Equal(t, models.EntryCredit, entry.EntryType)
	assert.Equal(t, 1500.00, entry.Amount)
}

func TestPaystackChargeFailedDoesNotPostLedger(t *testing.T) {
	if testDB == nil {
		t.Skip("Database not configured")
	}
	defer cleanup()

	svc := newTestReconciler()
	trx := seedPaystackTransaction(t, 900.00)

	// No gateway_response on the event: the failure reason falls back to a
	// generic one.
	outcome, err := svc.ReconcilePaystackWebhook(paystackEvent("charge.failed", trx.ReferenceCode, "", ""))
	assert.NoError(t, err)
	assert.Equal(t, OutcomeApplied, outcome)

	var stored models.Transaction
	testDB.First(&stored, trx.ID)
	assert.Equal(t, models.StatusFailed, stored.Status)
	if assert.NotNil(t, stored.FailedReason) {
		assert.Equal(t, "Payment failed", *stored.FailedReason)
	}

	var child models.PaystackTransaction
	testDB.Where("transaction_id = ?", trx.ID).First(&child)
	assert.Equal(t, models.RequestFailed, child.Status)
	assert.Nil(t, child.PaidAt)

	var count int64
	testDB.Model(&models.LedgerEntry{}).Where("transaction_id = ?", trx.ID).Count(&count)
	assert.Equal(t, int64(0), count)
}

func TestPaystackChargeFailedKeepsGatewayReason(t *testing.T) {
	if testDB == nil {
		t.Skip("Database not configured")
	}
	defer cleanup()

	svc := newTestReconciler()
	trx := seedPaystackTransaction(t, 450.00)

	outcome, err := svc.ReconcilePaystackWebhook(paystackEvent("charge.failed", trx.ReferenceCode, "Insufficient funds", "card"))
	assert.NoError(t, err)
	assert.Equal(t, OutcomeApplied, outcome)

	var stored models.Transaction
	testDB.First(&stored, trx.ID)
	if assert.NotNil(t, stored.FailedReason) {
		assert.Equal(t, "Insufficient funds", *stored.FailedReason)
	}
}

func TestPaystackWebhookIgnoresUnknownEvent(t *testing.T) {
	if testDB == nil {
		t.Skip("Database not configured")
	}
	defer cleanup()

	svc := newTestReconciler()
	raw, _ := json.Marshal(map[string]interface{}{
		"event": "transfer.success",
		"data":  map[string]interface{}{"reference": "DPXXXXXXXX"},
	})
	outcome, err := svc.ReconcilePaystackWebhook(raw)
	assert.NoError(t, err)
	assert.Equal(t, OutcomeIgnored, outcome)
}

func TestB2CTimeoutThenResult(t *testing.T) {
	if testDB == nil {
		t.Skip("Database not configured")
	}
	defer cleanup()

	svc := newTestReconciler()

	originator := "AG_TEST_D1"
	payout := models.Payout{
		AdminUserID:    7,
		RecipientName:  "Jane Client",
		RecipientPhone: "254722000111",
		Amount:         500.00,
		Reason:         "Refund",
		Status:         models.StatusProcessing,
	}
	payout.ReferenceCode = common.GenerateReferenceCode(common.PrefixPayout)
	if err := testDB.Create(&payout).Error; err != nil {
		t.Fatalf("seed payout: %v", err)
	}
	if err := testDB.Create(&models.PayoutRequest{
		PayoutID:                 payout.ID,
		OriginatorConversationID: &originator,
		Status:                   models.RequestProcessing,
	}).Error; err != nil {
		t.Fatalf("seed payout request: %v", err)
	}

	// Queue timeout arrives first: the payout must NOT fail.
	outcome, err := svc.ReconcileB2CTimeout(b2cCallback(originator, "", 1, "Request timed out in queue"))
	assert.NoError(t, err)
	assert.Equal(t, OutcomeApplied, outcome)

	var midPayout models.Payout
	testDB.First(&midPayout, payout.ID)
	assert.Equal(t, models.StatusProcessing, midPayout.Status)

	var midReq models.PayoutRequest
	testDB.Where("payout_id = ?", payout.ID).First(&midReq)
	assert.Equal(t, models.RequestTimedOut, midReq.Status)

	// The late result still settles the payout and posts the debit.
	outcome, err = svc.ReconcileB2CResult(b2cCallback(originator, "AG_CONV_D1", 0, "The service request is processed successfully."))
	assert.NoError(t, err)
	assert.Equal(t, OutcomeApplied, outcome)

	var donePayout models.Payout
	testDB.First(&donePayout, payout.ID)
	assert.Equal(t, models.StatusCompleted, donePayout.Status)

	var entry models.LedgerEntry
	if err := testDB.Where("payout_id = ?", payout.ID).First(&entry).Error; err != nil {
		t.Fatalf("Expected ledger entry for completed payout: %v", err)
	}
	assert.Equal(t, models.EntryDebit, entry.EntryType)
	assert.Equal(t, 500.00, entry.Amount)
}

func TestConcurrentDuplicateCallbacksCreditOnce(t *testing.T) {
	if testDB == nil {
		t.Skip("Database not configured")
	}
	defer cleanup()

	svc := newTestReconciler()
	trx := seedMpesaTransaction(t, "ws_CO_TEST_E1", 40.00)

	const workers = 8
	var wg sync.WaitGroup
	outcomes := make([]ReconcileOutcome, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			raw := stkCallback("ws_CO_TEST_E1", 0, fmt.Sprintf("Delivery %d", n))
			outcomes[n], _ = svc.ReconcileMpesaSTK(raw)
		}(i)
	}
	wg.Wait()

	applied := 0
	for _, o := range outcomes {
		if o == OutcomeApplied {
			applied++
		}
	}
	assert.Equal(t, 1, applied, "exactly one delivery may apply")

	var entries int64
	testDB.Model(&models.LedgerEntry{}).Where("transaction_id = ?", trx.ID).Count(&entries)
	assert.Equal(t, int64(1), entries)

	var stored models.Transaction
	testDB.First(&stored, trx.ID)
	assert.Equal(t, models.StatusCompleted, stored.Status)
}
