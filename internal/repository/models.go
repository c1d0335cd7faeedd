package repository

import (
	"github.com/jackc/pgx/v5/pgtype"
)

type Period struct {
	Abn                 string             `json:"abn"`
	TaxType             string             `json:"tax_type"`
	PeriodID            string             `json:"period_id"`
	State               string             `json:"state"`
	AccruedCents        int64              `json:"accrued_cents"`
	CreditedToOwaCents  int64              `json:"credited_to_owa_cents"`
	FinalLiabilityCents int64              `json:"final_liability_cents"`
	MerkleRoot          *string            `json:"merkle_root"`
	RunningBalanceHash  *string            `json:"running_balance_hash"`
	AnomalyVector       []byte             `json:"anomaly_vector"`
	Thresholds          []byte             `json:"thresholds"`
	LedgerHalted        bool               `json:"ledger_halted"`
	LedgerHaltReason    *string            `json:"ledger_halt_reason"`
	CreatedAt           pgtype.Timestamptz `json:"created_at"`
	UpdatedAt           pgtype.Timestamptz `json:"updated_at"`
}

type RptToken struct {
	ID            int64              `json:"id"`
	Abn           string             `json:"abn"`
	TaxType       string             `json:"tax_type"`
	PeriodID      string             `json:"period_id"`
	Payload       []byte             `json:"payload"`
	PayloadC14n   string             `json:"payload_c14n"`
	PayloadSha256 string             `json:"payload_sha256"`
	Signature     string             `json:"signature"`
	Kid           string             `json:"kid"`
	Nonce         string             `json:"nonce"`
	Status        string             `json:"status"`
	ExpiresAt     pgtype.Timestamptz `json:"expires_at"`
	CreatedAt     pgtype.Timestamptz `json:"created_at"`
	UpdatedAt     pgtype.Timestamptz `json:"updated_at"`
}

type OwaLedger struct {
	Abn               string             `json:"abn"`
	TaxType           string             `json:"tax_type"`
	PeriodID          string             `json:"period_id"`
	ID                int64              `json:"id"`
	TransferUuid      pgtype.UUID        `json:"transfer_uuid"`
	AmountCents       int64              `json:"amount_cents"`
	BalanceAfterCents int64              `json:"balance_after_cents"`
	BankReceiptHash   string             `json:"bank_receipt_hash"`
	PrevHash          string             `json:"prev_hash"`
	HashAfter         string             `json:"hash_after"`
	ProviderRef       *string            `json:"provider_ref"`
	ProviderPaidAt    pgtype.Timestamptz `json:"provider_paid_at"`
	CreatedAt         pgtype.Timestamptz `json:"created_at"`
}

type RemittanceDestination struct {
	ID             pgtype.UUID        `json:"id"`
	Abn            string             `json:"abn"`
	Rail           string             `json:"rail"`
	DestinationKey string             `json:"destination_key"`
	Label          string             `json:"label"`
	Details        []byte             `json:"details"`
	CreatedAt      pgtype.Timestamptz `json:"created_at"`
}

type PayoutRelease struct {
	ReleaseUuid      pgtype.UUID        `json:"release_uuid"`
	RptID            int64              `json:"rpt_id"`
	Abn              string             `json:"abn"`
	TaxType          string             `json:"tax_type"`
	PeriodID         string             `json:"period_id"`
	AmountCents      int64              `json:"amount_cents"`
	Reference        string             `json:"reference"`
	Rail             string             `json:"rail"`
	DestinationID    pgtype.UUID        `json:"destination_id"`
	IdempotencyKey   string             `json:"idempotency_key"`
	RequestHash      string             `json:"request_hash"`
	Status           string             `json:"status"`
	FailureReason    *string            `json:"failure_reason"`
	ProviderRef      *string            `json:"provider_ref"`
	ProviderPaidAt   pgtype.Timestamptz `json:"provider_paid_at"`
	LedgerEntryID    *int64             `json:"ledger_entry_id"`
	BankReceiptID    *string            `json:"bank_receipt_id"`
	MatchedBankTxnID *string            `json:"matched_bank_txn_id"`
	MatchStrategy    *string            `json:"match_strategy"`
	MatchedAt        pgtype.Timestamptz `json:"matched_at"`
	CreatedAt        pgtype.Timestamptz `json:"created_at"`
	UpdatedAt        pgtype.Timestamptz `json:"updated_at"`
}

type BankStatementLine struct {
	BankTxnID          string             `json:"bank_txn_id"`
	Abn                string             `json:"abn"`
	StatementDate      pgtype.Date        `json:"statement_date"`
	AmountCents        int64              `json:"amount_cents"`
	Reference          string             `json:"reference"`
	Status             string             `json:"status"`
	MatchStrategy      *string            `json:"match_strategy"`
	MatchedReleaseUuid pgtype.UUID        `json:"matched_release_uuid"`
	ImportedAt         pgtype.Timestamptz `json:"imported_at"`
	UpdatedAt          pgtype.Timestamptz `json:"updated_at"`
}

type AuditLog struct {
	ID         int64              `json:"id"`
	EntityType string             `json:"entity_type"`
	EntityID   string             `json:"entity_id"`
	ActorID    *string            `json:"actor_id"`
	Action     string             `json:"action"`
	PrevState  *string            `json:"prev_state"`
	NextState  *string            `json:"next_state"`
	Metadata   []byte             `json:"metadata"`
	CreatedAt  pgtype.Timestamptz `json:"created_at"`
}

type IdempotencyKey struct {
	IdempotencyKey string             `json:"idempotency_key"`
	RequestHash    string             `json:"request_hash"`
	Method         string             `json:"method"`
	Path           string             `json:"path"`
	InProgress     bool               `json:"in_progress"`
	ResponseStatus int32              `json:"response_status"`
	ResponseBody   []byte             `json:"response_body"`
	ContentType    string             `json:"content_type"`
	CreatedAt      pgtype.Timestamptz `json:"created_at"`
	UpdatedAt      pgtype.Timestamptz `json:"updated_at"`
}
