package services

import (
	"testing"
	"time"

	"payments-service/internal/models"
	"payments-service/pkg/common"

	"github.com/stretchr/testify/assert"
)

func TestVerifyCompletedPayment(t *testing.T) {
	if testDB == nil {
		t.Skip("Database not configured")
	}
	defer cleanup()

	svc := NewVerificationService(testDB, NewAuditService(testDB, nil))

	now := time.Now()
	code := common.GenerateReferenceCode(common.PrefixPayment)
	testDB.Create(&models.Transaction{
		UserID:        301,
		ReferenceCode: code,
		Amount:        120.00,
		PaymentMethod: models.MethodMpesa,
		Status:        models.StatusCompleted,
		CompletedAt:   &now,
	})

	result, err := svc.Verify(code, "203.0.113.9")
	assert.NoError(t, err)
	assert.True(t, result.Valid)
	assert.Equal(t, DocumentPayment, result.DocumentType)

	var logged models.VerificationLog
	if err := testDB.Where("document_code = ?", code).First(&logged).Error; err != nil {
		t.Fatalf("Expected verification log: %v", err)
	}
	assert.True(t, logged.IsValid)
	assert.Equal(t, "203.0.113.9", logged.IPAddress)
}

func TestVerifyPendingPaymentIsInvalid(t *testing.T) {
	if testDB == nil {
		t.Skip("Database not configured")
	}
	defer cleanup()

	svc := NewVerificationService(testDB, NewAuditService(testDB, nil))

	code := common.GenerateReferenceCode(common.PrefixPayment)
	testDB.Create(&models.Transaction{
		UserID:        302,
		ReferenceCode: code,
		Amount:        75.00,
		PaymentMethod: models.MethodPaystack,
		Status:        models.StatusPending,
	})

	result, err := svc.Verify(code, "")
	assert.NoError(t, err)
	assert.False(t, result.Valid)
}

func TestVerifyContractRequiresSigned(t *testing.T) {
	if testDB == nil {
		t.Skip("Database not configured")
	}
	defer cleanup()

	svc := NewVerificationService(testDB, NewAuditService(testDB, nil))

	draft := common.GenerateReferenceCode(common.PrefixContract)
	testDB.Create(&models.Contract{ReferenceCode: draft, Status: "DRAFT", IssuedBy: "ops"})

	result, err := svc.Verify(draft, "")
	assert.NoError(t, err)
	assert.False(t, result.Valid)

	now := time.Now()
	signed := common.GenerateReferenceCode(common.PrefixContract)
	testDB.Create(&models.Contract{ReferenceCode: signed, Status: models.ContractSigned, IssuedBy: "ops", SignedAt: &now})

	result, err = svc.Verify(signed, "")
	assert.NoError(t, err)
	assert.True(t, result.Valid)
	assert.Equal(t, DocumentContract, result.DocumentType)
}

func TestVerifyUnknownCodeLogsMiss(t *testing.T) {
	if testDB == nil {
		t.Skip("Database not configured")
	}
	defer cleanup()

	svc := NewVerificationService(testDB, NewAuditService(testDB, nil))

	result, err := svc.Verify("DQNOTEXIST", "198.51.100.4")
	assert.NoError(t, err)
	assert.False(t, result.Valid)

	var logged models.VerificationLog
	if err := testDB.Where("document_code = ?", "DQNOTEXIST").First(&logged).Error; err != nil {
		t.Fatalf("Expected verification log for miss: %v", err)
	}
	assert.False(t, logged.IsValid)

	// Lowercase input is normalized before lookup and logging.
	result, err = svc.Verify("zz123", "")
	assert.NoError(t, err)
	assert.False(t, result.Valid)
}
