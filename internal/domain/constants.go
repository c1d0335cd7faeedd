package domain

// Period states.
const (
	PeriodStateOpen           = "OPEN"
	PeriodStateClosing        = "CLOSING"
	PeriodStateBlockedAnomaly = "BLOCKED_ANOMALY"
	PeriodStateReadyRPT       = "READY_RPT"
	PeriodStateReleasing      = "RELEASING"
	PeriodStateReleased       = "RELEASED"

	// RPT token statuses
	RPTStatusPending = "pending"
	RPTStatusActive  = "active"
	RPTStatusExpired = "expired"
	RPTStatusRevoked = "revoked"

	// Payout release (reservation) statuses
	ReleaseStatusReserved    = "RESERVED"
	ReleaseStatusReleased    = "RELEASED"
	ReleaseStatusUnconfirmed = "UNCONFIRMED"
	ReleaseStatusFailed      = "FAILED"
	ReleaseStatusVoided      = "VOIDED"

	// Bank statement line statuses
	StatementStatusUnresolved = "UNRESOLVED"
	StatementStatusMatched    = "MATCHED"

	// Reconciliation match strategies
	MatchStrategyReference  = "REFERENCE"
	MatchStrategyAmountDate = "AMOUNT_DATE"

	// Audit entity types
	AuditEntityPeriod  = "period"
	AuditEntityRelease = "payout_release"
	AuditEntityRPT     = "rpt_token"
)

// Currency is fixed: one AUD account per period.
const Currency = "AUD"
