package services

import (
	"errors"
	"fmt"
	"log"
	"strings"

	"gorm.io/gorm"

	"payments-service/internal/models"
	"payments-service/pkg/common"
)

// Document types reported by the public verification endpoint.
const (
	DocumentPayment  = "payment"
	DocumentPayout   = "payout"
	DocumentQuote    = "quote"
	DocumentInvoice  = "invoice"
	DocumentContract = "contract"
)

// VerificationResult is what the public endpoint returns. Details stays
// deliberately small: the endpoint is unauthenticated.
type VerificationResult struct {
	Valid        bool                   `json:"valid"`
	DocumentType string                 `json:"document_type,omitempty"`
	Details      map[string]interface{} `json:"details,omitempty"`
}

// VerificationService answers "is this reference code a real document" for
// the public QR-code verification page. The two-letter prefix routes the
// lookup; completed transactions and payouts verify, everything else checks
// its own table.
type VerificationService struct {
	DB    *gorm.DB
	Audit *AuditService
}

func NewVerificationService(db *gorm.DB, audit *AuditService) *VerificationService {
	return &VerificationService{DB: db, Audit: audit}
}

// Verify resolves a reference code and logs the attempt either way.
func (s *VerificationService) Verify(code, ipAddress string) (*VerificationResult, error) {
	code = strings.ToUpper(strings.TrimSpace(code))

	result, docType, err := s.lookup(code)
	if err != nil {
		return nil, err
	}

	logEntry := models.VerificationLog{
		DocumentCode: code,
		DocumentType: docType,
		IPAddress:    ipAddress,
		IsValid:      result.Valid,
	}
	if err := s.DB.Create(&logEntry).Error; err != nil {
		log.Printf("verification log for %s: %v", code, err)
	}

	if result.Valid {
		s.Audit.Log(nil, ActionDocumentVerified,
			fmt.Sprintf("Document verified: %s (%s)", code, docType),
			map[string]interface{}{"document_code": code}, ipAddress)
	} else {
		s.Audit.Log(nil, ActionVerificationMiss,
			fmt.Sprintf("Verification miss: %s", code),
			map[string]interface{}{"document_code": code}, ipAddress)
	}
	return result, nil
}

func (s *VerificationService) lookup(code string) (*VerificationResult, string, error) {
	if len(code) < 2 {
		return &VerificationResult{Valid: false}, "", nil
	}

	switch code[:2] {
	case common.PrefixPayment:
		var trx models.Transaction
		if err := s.find(&trx, code); err != nil {
			return s.miss(err, DocumentPayment)
		}
		// Only settled payments verify; a PENDING code proves nothing.
		if trx.Status != models.StatusCompleted {
			return &VerificationResult{Valid: false, DocumentType: DocumentPayment}, DocumentPayment, nil
		}
		return &VerificationResult{
			Valid:        true,
			DocumentType: DocumentPayment,
			Details: map[string]interface{}{
				"reference_code": trx.ReferenceCode,
				"amount":         trx.Amount,
				"completed_at":   trx.CompletedAt,
			},
		}, DocumentPayment, nil

	case common.PrefixPayout:
		var payout models.Payout
		if err := s.find(&payout, code); err != nil {
			return s.miss(err, DocumentPayout)
		}
		if payout.Status != models.StatusCompleted {
			return &VerificationResult{Valid: false, DocumentType: DocumentPayout}, DocumentPayout, nil
		}
		return &VerificationResult{
			Valid:        true,
			DocumentType: DocumentPayout,
			Details: map[string]interface{}{
				"reference_code": payout.ReferenceCode,
				"amount":         payout.Amount,
				"recipient_name": payout.RecipientName,
			},
		}, DocumentPayout, nil

	case common.PrefixQuote:
		var quote models.Quote
		if err := s.find(&quote, code); err != nil {
			return s.miss(err, DocumentQuote)
		}
		return &VerificationResult{
			Valid:        true,
			DocumentType: DocumentQuote,
			Details: map[string]interface{}{
				"reference_code": quote.ReferenceCode,
				"issued_by":      quote.IssuedBy,
				"issued_at":      quote.CreatedAt,
			},
		}, DocumentQuote, nil

	case common.PrefixInvoice:
		var invoice models.Invoice
		if err := s.find(&invoice, code); err != nil {
			return s.miss(err, DocumentInvoice)
		}
		return &VerificationResult{
			Valid:        true,
			DocumentType: DocumentInvoice,
			Details: map[string]interface{}{
				"reference_code": invoice.ReferenceCode,
				"issued_by":      invoice.IssuedBy,
				"issued_at":      invoice.CreatedAt,
			},
		}, DocumentInvoice, nil

	case common.PrefixContract:
		var contract models.Contract
		if err := s.find(&contract, code); err != nil {
			return s.miss(err, DocumentContract)
		}
		if contract.Status != models.ContractSigned {
			return &VerificationResult{Valid: false, DocumentType: DocumentContract}, DocumentContract, nil
		}
		return &VerificationResult{
			Valid:        true,
			DocumentType: DocumentContract,
			Details: map[string]interface{}{
				"reference_code": contract.ReferenceCode,
				"issued_by":      contract.IssuedBy,
				"signed_at":      contract.SignedAt,
			},
		}, DocumentContract, nil
	}

	return &VerificationResult{Valid: false}, "", nil
}

func (s *VerificationService) find(dest interface{}, code string) error {
	return s.DB.Where("reference_code = ?", code).First(dest).Error
}

func (s *VerificationService) miss(err error, docType string) (*VerificationResult, string, error) {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &VerificationResult{Valid: false, DocumentType: docType}, docType, nil
	}
	return nil, docType, err
}
