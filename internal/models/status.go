package models

import (
	"fmt"

	"payments-service/pkg/common"
)

// Statuses shared by Transaction and Payout. PROCESSING only occurs on
// payouts, once the B2C request has been accepted by the provider.
const (
	StatusPending    = "PENDING"
	StatusProcessing = "PROCESSING"
	StatusCompleted  = "COMPLETED"
	StatusFailed     = "FAILED"
	StatusCancelled  = "CANCELLED"
)

// Payment methods.
const (
	MethodMpesa    = "MPESA"
	MethodPaystack = "PAYSTACK"
)

// Ledger entry types.
const (
	EntryCredit = "CREDIT"
	EntryDebit  = "DEBIT"
)

// IsTerminalStatus reports whether a record in this status may never change
// status again.
func IsTerminalStatus(status string) bool {
	switch status {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// CheckTransition decides whether a status change may be applied. Providers
// redeliver callbacks, so re-applying the same terminal status is a no-op
// (apply=false, err=nil) rather than an error. A conflicting terminal status
// is rejected: settled financial state never flips.
func CheckTransition(current, target string) (bool, error) {
	if IsTerminalStatus(current) {
		if current == target {
			return false, nil
		}
		return false, fmt.Errorf("%s -> %s: %w", current, target, common.ErrInvalidStateTransition)
	}
	return true, nil
}
