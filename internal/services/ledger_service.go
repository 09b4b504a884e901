package services

import (
	"errors"
	"fmt"
	"sync"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"payments-service/internal/metrics"
	"payments-service/internal/models"
	"payments-service/pkg/common"
)

// refCreateAttempts bounds the retry loop on reference-code collisions. Codes
// are random, so a second collision in a row is already vanishingly unlikely.
const refCreateAttempts = 5

// LedgerService owns the append-only ledger. Running balance is tracked per
// entry_type stream: a new entry reads the latest entry of its own type and
// adds (CREDIT) or subtracts (DEBIT) its amount. Balances are NOT netted
// across types; that matches the portal's historical ledger files and changing
// it would break reconciliation against them.
type LedgerService struct {
	DB *gorm.DB

	// Serializes the read-latest-then-append critical section per entry type
	// within this process. The row lock inside the transaction covers
	// concurrent writers from other processes.
	creditMu sync.Mutex
	debitMu  sync.Mutex
}

func NewLedgerService(db *gorm.DB) *LedgerService {
	return &LedgerService{DB: db}
}

// LedgerLink optionally ties an entry to its originating record. Both fields
// nil means a manually posted entry.
type LedgerLink struct {
	TransactionID *int64
	PayoutID      *int64
}

// Post appends a new entry in its own transaction.
func (s *LedgerService) Post(entryType string, amount float64, description string, link LedgerLink) (*models.LedgerEntry, error) {
	var entry *models.LedgerEntry
	err := s.DB.Transaction(func(tx *gorm.DB) error {
		var err error
		entry, err = s.PostTx(tx, entryType, amount, description, link)
		return err
	})
	if err != nil {
		return nil, err
	}
	// Counted only after commit; callers composing PostTx into a larger
	// transaction count their own posts the same way.
	metrics.LedgerPosts.WithLabelValues(entryType).Inc()
	return entry, nil
}

// PostTx appends a new entry within an existing transaction. The reconciler
// uses this so that a status flip and its ledger post commit or roll back as
// one unit.
func (s *LedgerService) PostTx(tx *gorm.DB, entryType string, amount float64, description string, link LedgerLink) (*models.LedgerEntry, error) {
	if entryType != models.EntryCredit && entryType != models.EntryDebit {
		return nil, fmt.Errorf("entry type %q: %w", entryType, common.ErrValidation)
	}
	if amount <= 0 {
		return nil, fmt.Errorf("amount must be positive: %w", common.ErrValidation)
	}

	mu := s.streamMu(entryType)
	mu.Lock()
	defer mu.Unlock()

	var last models.LedgerEntry
	balance := amount
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("entry_type = ?", entryType).
		Order("id DESC").
		First(&last).Error
	switch {
	case err == nil:
		if entryType == models.EntryCredit {
			balance = last.BalanceAfter + amount
		} else {
			balance = last.BalanceAfter - amount
		}
	case errors.Is(err, gorm.ErrRecordNotFound):
		// First entry of the stream carries its own amount.
	default:
		return nil, err
	}

	entry := models.LedgerEntry{
		TransactionID: link.TransactionID,
		PayoutID:      link.PayoutID,
		EntryType:     entryType,
		Amount:        amount,
		BalanceAfter:  balance,
		Description:   description,
	}

	for attempt := 0; attempt < refCreateAttempts; attempt++ {
		entry.Reference = common.GenerateReferenceCode(common.PrefixLedger)
		err = tx.Create(&entry).Error
		if err == nil {
			return &entry, nil
		}
		if !errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, err
		}
	}
	return nil, fmt.Errorf("ledger reference collision after %d attempts: %w", refCreateAttempts, err)
}

// List returns entries newest first.
func (s *LedgerService) List(page, limit int) (common.PaginationResult, error) {
	page, limit = common.NormalizePage(page, limit)

	var total int64
	if err := s.DB.Model(&models.LedgerEntry{}).Count(&total).Error; err != nil {
		return common.PaginationResult{}, err
	}

	var entries []models.LedgerEntry
	err := s.DB.Order("created_at DESC, id DESC").
		Offset((page - 1) * limit).
		Limit(limit).
		Find(&entries).Error
	if err != nil {
		return common.PaginationResult{}, err
	}

	return common.PaginateResponse(entries, total, page, limit, ""), nil
}

func (s *LedgerService) streamMu(entryType string) *sync.Mutex {
	if entryType == models.EntryDebit {
		return &s.debitMu
	}
	return &s.creditMu
}
