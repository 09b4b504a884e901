package models

import (
	"time"

	"gorm.io/gorm"

	"payments-service/pkg/common"
)

// LedgerEntry is an append-only financial fact. BalanceAfter is the running
// balance of the entry's own type stream at the moment it was written.
// Entries may link back to the originating transaction or payout; manually
// posted entries link to neither.
type LedgerEntry struct {
	ID            int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	TransactionID *int64    `gorm:"column:transaction_id;index" json:"transaction_id"`
	PayoutID      *int64    `gorm:"column:payout_id;index" json:"payout_id"`
	EntryType     string    `gorm:"column:entry_type;size:10;not null;index" json:"entry_type"`
	Amount        float64   `gorm:"column:amount;type:decimal(12,2);not null" json:"amount"`
	BalanceAfter  float64   `gorm:"column:balance_after;type:decimal(12,2);not null" json:"balance_after"`
	Description   string    `gorm:"column:description;type:text" json:"description"`
	Reference     string    `gorm:"column:reference;size:20;not null;uniqueIndex" json:"reference"`
	CreatedAt     time.Time `gorm:"column:created_at;autoCreateTime;index" json:"created_at"`
}

func (LedgerEntry) TableName() string {
	return "ledger_entries"
}

// BeforeUpdate rejects any mutation. The ledger only ever grows.
func (LedgerEntry) BeforeUpdate(tx *gorm.DB) error {
	return common.ErrImmutableRecord
}

func (LedgerEntry) BeforeDelete(tx *gorm.DB) error {
	return common.ErrImmutableRecord
}
