package domain

import (
	"errors"
	"fmt"
	"strings"
)

// Error taxonomy shared by services and handlers. Handlers map these with errors.Is.
var (
	ErrValidation             = errors.New("validation failed")
	ErrAllowlist              = errors.New("destination is not allow-listed")
	ErrBlockedAnomaly         = errors.New("period blocked by anomaly thresholds")
	ErrSignature              = errors.New("rpt signature invalid")
	ErrBankingTransient       = errors.New("banking rail temporarily unavailable")
	ErrBankingRejected        = errors.New("banking rail rejected the release")
	ErrBankingNotDelivered    = errors.New("banking request was not delivered")
	ErrIdempotencyConflict    = errors.New("idempotency key reused with a different payload")
	ErrLedgerIntegrity        = errors.New("ledger integrity violation")
	ErrKMSUnavailable         = errors.New("kms unavailable")
	ErrPersistFailed          = errors.New("rpt persistence failed")
	ErrAlreadyReserved        = errors.New("rpt already reserved by another release")
	ErrReleaseInProgress      = errors.New("release is in progress")
	ErrAwaitingReconciliation = errors.New("release outcome unknown; awaiting reconciliation")
	ErrPeriodNotFound         = errors.New("period not found")
	ErrInvalidPeriodState     = errors.New("invalid period state")
	ErrRPTNotFound            = errors.New("no active rpt for period")
	ErrRPTExpired             = errors.New("rpt expired")
	ErrReleaseNotFound        = errors.New("release not found")
	ErrReleaseNotReviewable   = errors.New("release is not awaiting review")
	ErrReleaseVoided          = errors.New("release was voided by an operator")
	ErrInvalidResolution      = errors.New("invalid review resolution")
	ErrPeriodExists           = errors.New("period already exists")
	ErrWebhookSignature       = errors.New("invalid webhook signature")
	ErrDepositMismatch        = errors.New("deposit reference reused with a different payload")
)

// ValidationError describes a malformed request field.
type ValidationError struct {
	Field  string
	Reason string
}

func NewValidationError(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return e.Field + " " + e.Reason
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// BlockedAnomalyError lists the anomaly components that exceeded their thresholds.
type BlockedAnomalyError struct {
	Breaches []string
}

func (e *BlockedAnomalyError) Error() string {
	return fmt.Sprintf("BLOCKED_ANOMALY: %s", strings.Join(e.Breaches, ", "))
}

func (e *BlockedAnomalyError) Unwrap() error { return ErrBlockedAnomaly }

// LedgerIntegrityError identifies the scope and entry where the chain broke.
type LedgerIntegrityError struct {
	Scope   Scope
	EntryID int64
	Reason  string
}

func (e *LedgerIntegrityError) Error() string {
	return fmt.Sprintf("ledger integrity violation in %s at entry %d: %s", e.Scope, e.EntryID, e.Reason)
}

func (e *LedgerIntegrityError) Unwrap() error { return ErrLedgerIntegrity }
