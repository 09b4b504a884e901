package services

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"payments-service/internal/metrics"
	"payments-service/internal/models"
	"payments-service/pkg/common"
)

// ReconcileOutcome is what the reconciler did with a callback. Values double
// as metric labels.
type ReconcileOutcome string

const (
	OutcomeApplied   ReconcileOutcome = metrics.OutcomeApplied
	OutcomeDuplicate ReconcileOutcome = metrics.OutcomeDuplicate
	OutcomeConflict  ReconcileOutcome = metrics.OutcomeConflict
	OutcomeNotFound  ReconcileOutcome = metrics.OutcomeNotFound
	OutcomeIgnored   ReconcileOutcome = metrics.OutcomeIgnored
	OutcomeError     ReconcileOutcome = metrics.OutcomeError
)

// Callback channels, used for callback logs and metrics.
const (
	ChannelMpesaSTK   = "mpesa_stk"
	ChannelPaystack   = "paystack"
	ChannelB2CResult  = "b2c_result"
	ChannelB2CTimeout = "b2c_timeout"
)

// ReconcilerService is the sole writer of provider-driven terminal
// transitions. Every reconciliation runs the read-decide-write sequence and
// the ledger post inside one database transaction, with the provider request
// and its parent row-locked, so two callbacks for the same correlation id can
// never both observe PENDING and double-post.
type ReconcilerService struct {
	DB     *gorm.DB
	Ledger *LedgerService
	Audit  *AuditService
}

func NewReconcilerService(db *gorm.DB, ledger *LedgerService, audit *AuditService) *ReconcilerService {
	return &ReconcilerService{DB: db, Ledger: ledger, Audit: audit}
}

// stkCallbackBody is the Daraja STK callback envelope. ResultCode arrives as
// a number from Daraja but as a string from some simulators; json.Number
// takes both.
type stkCallbackBody struct {
	Body struct {
		StkCallback struct {
			MerchantRequestID string      `json:"MerchantRequestID"`
			CheckoutRequestID string      `json:"CheckoutRequestID"`
			ResultCode        json.Number `json:"ResultCode"`
			ResultDesc        string      `json:"ResultDesc"`
		} `json:"stkCallback"`
	} `json:"Body"`
}

// ReconcileMpesaSTK applies an STK push result callback.
func (s *ReconcilerService) ReconcileMpesaSTK(raw []byte) (ReconcileOutcome, error) {
	var payload stkCallbackBody
	if err := json.Unmarshal(raw, &payload); err != nil {
		s.logCallback(ChannelMpesaSTK, "", raw, "malformed payload")
		return OutcomeIgnored, fmt.Errorf("stk callback payload: %v: %w", err, common.ErrValidation)
	}

	cb := payload.Body.StkCallback
	if cb.CheckoutRequestID == "" {
		s.logCallback(ChannelMpesaSTK, "", raw, "missing CheckoutRequestID")
		return OutcomeIgnored, fmt.Errorf("stk callback missing CheckoutRequestID: %w", common.ErrValidation)
	}

	target := models.StatusFailed
	if cb.ResultCode.String() == "0" {
		target = models.StatusCompleted
	}

	outcome, err := s.reconcileTransaction(transactionOutcome{
		channel:       ChannelMpesaSTK,
		correlationID: cb.CheckoutRequestID,
		target:        target,
		reason:        cb.ResultDesc,
		resultCode:    cb.ResultCode.String(),
		raw:           raw,
		lookup: func(tx *gorm.DB) (int64, func(*gorm.DB) error, error) {
			var stk models.MpesaSTKRequest
			err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
				Where("checkout_request_id = ?", cb.CheckoutRequestID).
				First(&stk).Error
			if err != nil {
				return 0, nil, err
			}
			update := func(tx *gorm.DB) error {
				return tx.Model(&models.MpesaSTKRequest{}).Where("id = ?", stk.ID).Updates(map[string]interface{}{
					"status":      childStatus(target),
					"result_code": cb.ResultCode.String(),
					"result_desc": cb.ResultDesc,
				}).Error
			}
			return stk.TransactionID, update, nil
		},
	})
	return outcome, err
}

// PaystackEvent is a parsed Paystack webhook.
type PaystackEvent struct {
	Event string `json:"event"`
	Data  struct {
		Reference       string `json:"reference"`
		GatewayResponse string `json:"gateway_response"`
		Channel         string `json:"channel"`
	} `json:"data"`
}

// ReconcilePaystackWebhook applies a Paystack charge event. Events other than
// charge.success / charge.failed are acknowledged as ignored.
func (s *ReconcilerService) ReconcilePaystackWebhook(raw []byte) (ReconcileOutcome, error) {
	var event PaystackEvent
	if err := json.Unmarshal(raw, &event); err != nil {
		s.logCallback(ChannelPaystack, "", raw, "malformed payload")
		return OutcomeIgnored, fmt.Errorf("paystack webhook payload: %v: %w", err, common.ErrValidation)
	}

	var target string
	switch event.Event {
	case "charge.success":
		target = models.StatusCompleted
	case "charge.failed":
		target = models.StatusFailed
	default:
		s.logCallback(ChannelPaystack, event.Data.Reference, raw, "ignored event "+event.Event)
		metrics.CallbacksReceived.WithLabelValues(ChannelPaystack, metrics.OutcomeIgnored).Inc()
		return OutcomeIgnored, nil
	}

	reason := event.Data.GatewayResponse
	if reason == "" && target == models.StatusFailed {
		reason = "Payment failed"
	}

	return s.reconcileTransaction(transactionOutcome{
		channel:       ChannelPaystack,
		correlationID: event.Data.Reference,
		target:        target,
		reason:        reason,
		raw:           raw,
		lookup: func(tx *gorm.DB) (int64, func(*gorm.DB) error, error) {
			var ptx models.PaystackTransaction
			err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
				Where("reference = ?", event.Data.Reference).
				First(&ptx).Error
			if err != nil {
				return 0, nil, err
			}
			update := func(tx *gorm.DB) error {
				updates := map[string]interface{}{
					"status":           childStatus(target),
					"gateway_response": event.Data.GatewayResponse,
					"channel":          event.Data.Channel,
				}
				if target == models.StatusCompleted {
					updates["paid_at"] = time.Now()
				}
				return tx.Model(&models.PaystackTransaction{}).Where("id = ?", ptx.ID).Updates(updates).Error
			}
			return ptx.TransactionID, update, nil
		},
	})
}

// ReconcileProviderVerify applies the result of an active provider-side
// verification (STK query, Paystack verify) through the same rules as a
// callback. indeterminate result codes are left alone.
func (s *ReconcilerService) ReconcileProviderVerify(trx *models.Transaction, target, reason string, raw []byte) (ReconcileOutcome, error) {
	switch trx.PaymentMethod {
	case models.MethodMpesa:
		var stk models.MpesaSTKRequest
		if err := s.DB.Where("transaction_id = ?", trx.ID).First(&stk).Error; err != nil || stk.CheckoutRequestID == nil {
			return OutcomeNotFound, fmt.Errorf("stk request for transaction %s: %w", trx.ReferenceCode, common.ErrNotFound)
		}
		synthetic := stkCallbackBody{}
		synthetic.Body.StkCallback.CheckoutRequestID = *stk.CheckoutRequestID
		synthetic.Body.StkCallback.ResultDesc = reason
		if target == models.StatusCompleted {
			synthetic.Body.StkCallback.ResultCode = json.Number("0")
		} else {
			synthetic.Body.StkCallback.ResultCode = json.Number("1")
		}
		body, _ := json.Marshal(synthetic)
		return s.ReconcileMpesaSTK(body)
	case models.MethodPaystack:
		event := "charge.failed"
		if target == models.StatusCompleted {
			event = "charge.success"
		}
		body, _ := json.Marshal(map[string]interface{}{
			"event": event,
			"data":  map[string]interface{}{"reference": trx.ReferenceCode, "gateway_response": reason},
		})
		return s.ReconcilePaystackWebhook(body)
	}
	return OutcomeIgnored, fmt.Errorf("payment method %q: %w", trx.PaymentMethod, common.ErrValidation)
}

// b2cResultBody is the Daraja B2C result envelope.
type b2cResultBody struct {
	Result struct {
		ConversationID           string      `json:"ConversationID"`
		OriginatorConversationID string      `json:"OriginatorConversationID"`
		ResultCode               json.Number `json:"ResultCode"`
		ResultDesc               string      `json:"ResultDesc"`
	} `json:"Result"`
}

// ReconcileB2CResult settles a payout from the async B2C result callback.
func (s *ReconcilerService) ReconcileB2CResult(raw []byte) (ReconcileOutcome, error) {
	var payload b2cResultBody
	if err := json.Unmarshal(raw, &payload); err != nil {
		s.logCallback(ChannelB2CResult, "", raw, "malformed payload")
		return OutcomeIgnored, fmt.Errorf("b2c result payload: %v: %w", err, common.ErrValidation)
	}

	result := payload.Result
	if result.OriginatorConversationID == "" {
		s.logCallback(ChannelB2CResult, "", raw, "missing OriginatorConversationID")
		return OutcomeIgnored, fmt.Errorf("b2c result missing OriginatorConversationID: %w", common.ErrValidation)
	}

	target := models.StatusFailed
	if result.ResultCode.String() == "0" {
		target = models.StatusCompleted
	}

	var outcome ReconcileOutcome
	var payout models.Payout
	err := s.DB.Transaction(func(tx *gorm.DB) error {
		var req models.PayoutRequest
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("originator_conversation_id = ?", result.OriginatorConversationID).
			First(&req).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			outcome = OutcomeNotFound
			return fmt.Errorf("b2c result %s: %w", result.OriginatorConversationID, common.ErrNotFound)
		}
		if err != nil {
			return err
		}

		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&payout, req.PayoutID).Error; err != nil {
			return err
		}

		apply, err := models.CheckTransition(payout.Status, target)
		if err != nil {
			outcome = OutcomeConflict
			return fmt.Errorf("payout %s: %w", payout.ReferenceCode, err)
		}
		if !apply {
			outcome = OutcomeDuplicate
			return nil
		}

		code := result.ResultCode.String()
		if err := tx.Model(&models.PayoutRequest{}).Where("id = ?", req.ID).Updates(map[string]interface{}{
			"status":          childStatus(target),
			"conversation_id": result.ConversationID,
			"result_code":     code,
			"result_desc":     result.ResultDesc,
		}).Error; err != nil {
			return err
		}

		updates := map[string]interface{}{
			"status":        target,
			"callback_data": string(raw),
		}
		if target == models.StatusCompleted {
			updates["completed_at"] = time.Now()
			updates["provider_reference"] = result.ConversationID
		} else {
			updates["failed_reason"] = result.ResultDesc
			desc := result.ResultDesc
			payout.FailedReason = &desc
		}
		if err := tx.Model(&models.Payout{}).Where("id = ?", payout.ID).Updates(updates).Error; err != nil {
			return err
		}

		if target == models.StatusCompleted {
			desc := fmt.Sprintf("Payout completed: %s to %s", payout.ReferenceCode, payout.RecipientName)
			if _, err := s.Ledger.PostTx(tx, models.EntryDebit, payout.Amount, desc, LedgerLink{PayoutID: &payout.ID}); err != nil {
				return err
			}
		}

		outcome = OutcomeApplied
		return nil
	})
	if err != nil && outcome == "" {
		outcome = OutcomeError
	}

	s.logCallback(ChannelB2CResult, result.OriginatorConversationID, raw, string(outcome))
	metrics.CallbacksReceived.WithLabelValues(ChannelB2CResult, string(outcome)).Inc()

	if err != nil {
		s.auditCallbackIssue(ChannelB2CResult, result.OriginatorConversationID, outcome)
		return outcome, err
	}
	if outcome == OutcomeApplied {
		if target == models.StatusCompleted {
			metrics.LedgerPosts.WithLabelValues(models.EntryDebit).Inc()
		}
		s.auditPayout(&payout, target)
	}
	return outcome, nil
}

// ReconcileB2CTimeout records a queue-timeout notification. The payout is NOT
// failed: Daraja may still deliver a result, so the record stays PROCESSING
// and the provider request carries a TIMED_OUT sub-status for operators.
func (s *ReconcilerService) ReconcileB2CTimeout(raw []byte) (ReconcileOutcome, error) {
	var payload b2cResultBody
	if err := json.Unmarshal(raw, &payload); err != nil {
		s.logCallback(ChannelB2CTimeout, "", raw, "malformed payload")
		return OutcomeIgnored, fmt.Errorf("b2c timeout payload: %v: %w", err, common.ErrValidation)
	}

	originator := payload.Result.OriginatorConversationID
	var outcome ReconcileOutcome
	err := s.DB.Transaction(func(tx *gorm.DB) error {
		var req models.PayoutRequest
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("originator_conversation_id = ?", originator).
			First(&req).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			outcome = OutcomeNotFound
			return fmt.Errorf("b2c timeout %s: %w", originator, common.ErrNotFound)
		}
		if err != nil {
			return err
		}

		// A settled request keeps its final sub-status.
		if req.Status == models.RequestCompleted || req.Status == models.RequestFailed {
			outcome = OutcomeDuplicate
			return nil
		}

		outcome = OutcomeApplied
		return tx.Model(&models.PayoutRequest{}).Where("id = ?", req.ID).
			Update("status", models.RequestTimedOut).Error
	})
	if err != nil && outcome == "" {
		outcome = OutcomeError
	}

	s.logCallback(ChannelB2CTimeout, originator, raw, string(outcome))
	metrics.CallbacksReceived.WithLabelValues(ChannelB2CTimeout, string(outcome)).Inc()
	if err != nil {
		s.auditCallbackIssue(ChannelB2CTimeout, originator, outcome)
	}
	return outcome, err
}

// transactionOutcome carries everything needed to settle an inbound payment:
// which child record correlates the callback, the target status, and the raw
// payload for first-application audit capture.
type transactionOutcome struct {
	channel       string
	correlationID string
	target        string
	reason        string
	resultCode    string
	raw           []byte
	// lookup locks the provider child and returns the parent transaction id
	// plus an update closure for the child's provider-side fields.
	lookup func(tx *gorm.DB) (int64, func(*gorm.DB) error, error)
}

func (s *ReconcilerService) reconcileTransaction(in transactionOutcome) (ReconcileOutcome, error) {
	var outcome ReconcileOutcome
	var trx models.Transaction

	txErr := s.DB.Transaction(func(tx *gorm.DB) error {
		trxID, updateChild, err := in.lookup(tx)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			outcome = OutcomeNotFound
			return fmt.Errorf("%s callback %s: %w", in.channel, in.correlationID, common.ErrNotFound)
		}
		if err != nil {
			return err
		}

		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&trx, trxID).Error; err != nil {
			return err
		}

		apply, err := models.CheckTransition(trx.Status, in.target)
		if err != nil {
			outcome = OutcomeConflict
			return fmt.Errorf("transaction %s: %w", trx.ReferenceCode, err)
		}
		if !apply {
			// Redelivery of the same terminal outcome. callback_data already
			// holds the first payload; keep it.
			outcome = OutcomeDuplicate
			return nil
		}

		if err := updateChild(tx); err != nil {
			return err
		}

		updates := map[string]interface{}{
			"status":        in.target,
			"callback_data": string(in.raw),
		}
		if in.correlationID != "" {
			updates["provider_reference"] = in.correlationID
		}
		if in.target == models.StatusCompleted {
			updates["completed_at"] = time.Now()
		} else {
			updates["failed_reason"] = in.reason
		}
		if err := tx.Model(&models.Transaction{}).Where("id = ?", trx.ID).Updates(updates).Error; err != nil {
			return err
		}

		if in.target == models.StatusCompleted {
			desc := fmt.Sprintf("Payment completed: %s", trx.ReferenceCode)
			if _, err := s.Ledger.PostTx(tx, models.EntryCredit, trx.Amount, desc, LedgerLink{TransactionID: &trx.ID}); err != nil {
				return err
			}
		}

		outcome = OutcomeApplied
		return nil
	})
	if txErr != nil && outcome == "" {
		outcome = OutcomeError
	}

	s.logCallback(in.channel, in.correlationID, in.raw, string(outcome))
	metrics.CallbacksReceived.WithLabelValues(in.channel, string(outcome)).Inc()

	if txErr != nil {
		s.auditCallbackIssue(in.channel, in.correlationID, outcome)
		return outcome, txErr
	}
	if outcome == OutcomeApplied {
		if in.target == models.StatusCompleted {
			metrics.LedgerPosts.WithLabelValues(models.EntryCredit).Inc()
		}
		s.auditTransaction(&trx, in.target, in.reason)
	}
	return outcome, nil
}

func childStatus(target string) string {
	if target == models.StatusCompleted {
		return models.RequestCompleted
	}
	return models.RequestFailed
}

func (s *ReconcilerService) logCallback(provider, correlationID string, payload []byte, outcome string) {
	entry := models.CallbackLog{
		Provider:      provider,
		CorrelationID: correlationID,
		Payload:       string(payload),
		Outcome:       outcome,
	}
	if err := s.DB.Create(&entry).Error; err != nil {
		log.Printf("callback log write failed (%s): %v", provider, err)
	}
}

// auditCallbackIssue records callbacks the reconciler refused to apply:
// conflicting terminal outcomes, unknown correlation ids, malformed payloads
// and write failures.
func (s *ReconcilerService) auditCallbackIssue(channel, correlationID string, outcome ReconcileOutcome) {
	if s.Audit == nil {
		return
	}
	meta := map[string]interface{}{"channel": channel, "correlation_id": correlationID}
	if outcome == OutcomeConflict {
		s.Audit.Log(nil, ActionCallbackConflict,
			fmt.Sprintf("Conflicting callback on %s: %s", channel, correlationID), meta, "")
		return
	}
	s.Audit.Log(nil, ActionCallbackAnomaly,
		fmt.Sprintf("Callback anomaly on %s (%s): %s", channel, correlationID, outcome), meta, "")
}

func (s *ReconcilerService) auditTransaction(trx *models.Transaction, target, reason string) {
	if s.Audit == nil {
		return
	}
	meta := map[string]interface{}{"transaction_id": trx.ID}
	switch target {
	case models.StatusCompleted:
		s.Audit.Log(&trx.UserID, ActionPaymentCompleted,
			fmt.Sprintf("Payment completed: %s - %.2f", trx.ReferenceCode, trx.Amount), meta, "")
	case models.StatusFailed:
		s.Audit.Log(&trx.UserID, ActionPaymentFailed,
			fmt.Sprintf("Payment failed: %s - %s", trx.ReferenceCode, reason), meta, "")
	}
}

func (s *ReconcilerService) auditPayout(payout *models.Payout, target string) {
	if s.Audit == nil {
		return
	}
	meta := map[string]interface{}{"payout_id": payout.ID}
	switch target {
	case models.StatusCompleted:
		s.Audit.Log(&payout.AdminUserID, ActionPayoutCompleted,
			fmt.Sprintf("Payout completed: %s - %.2f", payout.ReferenceCode, payout.Amount), meta, "")
	case models.StatusFailed:
		reason := ""
		if payout.FailedReason != nil {
			reason = *payout.FailedReason
		}
		s.Audit.Log(&payout.AdminUserID, ActionPayoutFailed,
			fmt.Sprintf("Payout failed: %s - %s", payout.ReferenceCode, reason), meta, "")
	}
}
