package services

import (
	"errors"
	"fmt"
	"log"
	"os"
	"testing"

	"payments-service/internal/metrics"
	"payments-service/internal/models"
	"payments-service/pkg/common"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// NOTE: These tests require a running MySQL instance.
// Set DATABASE_URL to run them; without it every DB test skips.

var testDB *gorm.DB

func setup() {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		log.Println("Skipping DB tests: DATABASE_URL not set")
		return
	}

	var err error
	testDB, err = gorm.Open(mysql.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		log.Printf("Failed to connect to database: %v", err)
		return
	}

	// Migrate schemas
	testDB.AutoMigrate(
		&models.Transaction{},
		&models.MpesaSTKRequest{},
		&models.PaystackTransaction{},
		&models.Payout{},
		&models.PayoutRequest{},
		&models.LedgerEntry{},
		&models.CallbackLog{},
		&models.AuditLog{},
		&models.VerificationLog{},
		&models.Quote{},
		&models.Contract{},
		&models.Invoice{},
	)
}

func cleanup() {
	if testDB == nil {
		return
	}
	for _, table := range []string{
		"ledger_entries", "callback_logs", "audit_logs", "verification_logs",
		"mpesa_stk_requests", "paystack_transactions", "payout_requests",
		"transactions", "payouts", "quotes", "contracts", "invoices",
	} {
		testDB.Exec("DELETE FROM " + table)
	}
}

func TestLedgerRunningBalancePerEntryType(t *testing.T) {
	if testDB == nil {
		t.Skip("Database not configured")
	}
	defer cleanup()

	svc := NewLedgerService(testDB)

	first, err := svc.Post(models.EntryCredit, 100.00, "first credit", LedgerLink{})
	if err != nil {
		t.Fatalf("Post failed: %v", err)
	}
	if first.BalanceAfter != 100.00 {
		t.Errorf("Expected first credit balance 100, got %f", first.BalanceAfter)
	}

	second, err := svc.Post(models.EntryCredit, 50.00, "second credit", LedgerLink{})
	if err != nil {
		t.Fatalf("Post failed: %v", err)
	}
	if second.BalanceAfter != 150.00 {
		t.Errorf("Expected credit balance 150, got %f", second.BalanceAfter)
	}

	// Debit stream starts from its own amount, not from the credit stream.
	debit, err := svc.Post(models.EntryDebit, 30.00, "first debit", LedgerLink{})
	if err != nil {
		t.Fatalf("Post failed: %v", err)
	}
	if debit.BalanceAfter != 30.00 {
		t.Errorf("Expected first debit balance 30, got %f", debit.BalanceAfter)
	}

	debit2, err := svc.Post(models.EntryDebit, 10.00, "second debit", LedgerLink{})
	if err != nil {
		t.Fatalf("Post failed: %v", err)
	}
	if debit2.BalanceAfter != 20.00 {
		t.Errorf("Expected debit balance 20, got %f", debit2.BalanceAfter)
	}

	// Credit stream unaffected by debits.
	third, err := svc.Post(models.EntryCredit, 25.00, "third credit", LedgerLink{})
	if err != nil {
		t.Fatalf("Post failed: %v", err)
	}
	if third.BalanceAfter != 175.00 {
		t.Errorf("Expected credit balance 175, got %f", third.BalanceAfter)
	}
}

func TestLedgerRejectsInvalidEntries(t *testing.T) {
	svc := NewLedgerService(testDB)
	if testDB == nil {
		t.Skip("Database not configured")
	}
	defer cleanup()

	if _, err := svc.Post("TRANSFER", 10.00, "bad type", LedgerLink{}); !errors.Is(err, common.ErrValidation) {
		t.Errorf("Expected validation error for bad entry type, got %v", err)
	}
	if _, err := svc.Post(models.EntryCredit, 0, "zero amount", LedgerLink{}); !errors.Is(err, common.ErrValidation) {
		t.Errorf("Expected validation error for zero amount, got %v", err)
	}
	if _, err := svc.Post(models.EntryDebit, -5.00, "negative amount", LedgerLink{}); !errors.Is(err, common.ErrValidation) {
		t.Errorf("Expected validation error for negative amount, got %v", err)
	}
}

func TestLedgerEntriesAreImmutable(t *testing.T) {
	if testDB == nil {
		t.Skip("Database not configured")
	}
	defer cleanup()

	svc := NewLedgerService(testDB)
	entry, err := svc.Post(models.EntryCredit, 75.00, "immutable", LedgerLink{})
	if err != nil {
		t.Fatalf("Post failed: %v", err)
	}

	entry.Amount = 999.00
	if err := testDB.Save(entry).Error; !errors.Is(err, common.ErrImmutableRecord) {
		t.Errorf("Expected immutable record error on update, got %v", err)
	}

	if err := testDB.Delete(&models.LedgerEntry{}, entry.ID).Error; !errors.Is(err, common.ErrImmutableRecord) {
		t.Errorf("Expected immutable record error on delete, got %v", err)
	}

	var stored models.LedgerEntry
	if err := testDB.First(&stored, entry.ID).Error; err != nil {
		t.Fatalf("Entry disappeared: %v", err)
	}
	if stored.Amount != 75.00 {
		t.Errorf("Entry mutated: amount %f", stored.Amount)
	}
}

func TestLedgerReferencesUsePrefix(t *testing.T) {
	if testDB == nil {
		t.Skip("Database not configured")
	}
	defer cleanup()

	svc := NewLedgerService(testDB)
	entry, err := svc.Post(models.EntryCredit, 10.00, "ref check", LedgerLink{})
	if err != nil {
		t.Fatalf("Post failed: %v", err)
	}
	if !common.ValidateReferenceCode(entry.Reference, common.PrefixLedger) {
		t.Errorf("Ledger reference %q invalid", entry.Reference)
	}
}

func TestLedgerPostMetricCountsCommittedEntriesOnly(t *testing.T) {
	if testDB == nil {
		t.Skip("Database not configured")
	}
	defer cleanup()

	svc := NewLedgerService(testDB)
	counter := metrics.LedgerPosts.WithLabelValues(models.EntryCredit)
	before := testutil.ToFloat64(counter)

	// A rolled-back transaction must not move the counter even though the
	// entry was created inside it.
	err := testDB.Transaction(func(tx *gorm.DB) error {
		if _, err := svc.PostTx(tx, models.EntryCredit, 20.00, "rolled back", LedgerLink{}); err != nil {
			t.Fatalf("PostTx failed: %v", err)
		}
		return fmt.Errorf("force rollback")
	})
	if err == nil {
		t.Fatal("Expected transaction to roll back")
	}

	var count int64
	testDB.Model(&models.LedgerEntry{}).Count(&count)
	if count != 0 {
		t.Fatalf("Expected no committed entries, got %d", count)
	}
	if got := testutil.ToFloat64(counter); got != before {
		t.Errorf("Counter moved on rollback: %f -> %f", before, got)
	}

	if _, err := svc.Post(models.EntryCredit, 20.00, "committed", LedgerLink{}); err != nil {
		t.Fatalf("Post failed: %v", err)
	}
	if got := testutil.ToFloat64(counter); got != before+1 {
		t.Errorf("Expected counter %f after commit, got %f", before+1, got)
	}
}

func TestMain(m *testing.M) {
	setup()
	code := m.Run()
	os.Exit(code)
}
