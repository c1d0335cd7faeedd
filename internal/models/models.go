package models

import (
	"encoding/json"
	"time"

	"github.com/ayo6706/owa-release/internal/domain"
	"github.com/google/uuid"
)

type Period struct {
	ABN                 string               `json:"abn"`
	TaxType             string               `json:"taxType"`
	PeriodID            string               `json:"periodId"`
	State               string               `json:"state"`
	AccruedCents        int64                `json:"accrued_cents"`
	CreditedToOWACents  int64                `json:"credited_to_owa_cents"`
	FinalLiabilityCents int64                `json:"final_liability_cents"`
	MerkleRoot          *string              `json:"merkle_root,omitempty"`
	RunningBalanceHash  *string              `json:"running_balance_hash,omitempty"`
	AnomalyVector       domain.AnomalyVector `json:"anomaly_vector"`
	Thresholds          *domain.Thresholds   `json:"thresholds,omitempty"`
	LedgerHalted        bool                 `json:"ledger_halted"`
	LedgerHaltReason    *string              `json:"ledger_halt_reason,omitempty"`
	CreatedAt           time.Time            `json:"created_at"`
	UpdatedAt           time.Time            `json:"updated_at"`
}

func (p Period) Scope() domain.Scope {
	return domain.Scope{ABN: p.ABN, TaxType: p.TaxType, PeriodID: p.PeriodID}
}

type RPTToken struct {
	ID            int64           `json:"id"`
	ABN           string          `json:"abn"`
	TaxType       string          `json:"taxType"`
	PeriodID      string          `json:"periodId"`
	Payload       json.RawMessage `json:"payload"`
	PayloadC14n   string          `json:"payload_c14n"`
	PayloadSHA256 string          `json:"payload_sha256"`
	Signature     string          `json:"signature"`
	KeyID         string          `json:"kid"`
	Nonce         string          `json:"nonce"`
	Status        string          `json:"status"`
	ExpiresAt     time.Time       `json:"expires_at"`
	CreatedAt     time.Time       `json:"created_at"`
}

// RPTPayload is the signed body of a release payment token.
type RPTPayload struct {
	EntityID           string               `json:"entity_id"`
	PeriodID           string               `json:"period_id"`
	TaxType            string               `json:"tax_type"`
	AmountCents        int64                `json:"amount_cents"`
	MerkleRoot         string               `json:"merkle_root"`
	RunningBalanceHash string               `json:"running_balance_hash"`
	AnomalyVector      domain.AnomalyVector `json:"anomaly_vector"`
	Thresholds         domain.Thresholds    `json:"thresholds"`
	RailID             domain.Rail          `json:"rail_id"`
	Reference          string               `json:"reference"`
	ExpiryTS           string               `json:"expiry_ts"`
	Nonce              string               `json:"nonce"`
	KeyID              string               `json:"kid"`
}

type LedgerEntry struct {
	ID                int64      `json:"id"`
	TransferUUID      uuid.UUID  `json:"transfer_uuid"`
	AmountCents       int64      `json:"amount_cents"`
	BalanceAfterCents int64      `json:"balance_after_cents"`
	BankReceiptHash   string     `json:"bank_receipt_hash"`
	PrevHash          string     `json:"prev_hash"`
	HashAfter         string     `json:"hash_after"`
	ProviderRef       *string    `json:"provider_ref,omitempty"`
	ProviderPaidAt    *time.Time `json:"provider_paid_at,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
}

type Release struct {
	ReleaseUUID      uuid.UUID  `json:"release_uuid"`
	RPTID            int64      `json:"rpt_id"`
	ABN              string     `json:"abn"`
	TaxType          string     `json:"taxType"`
	PeriodID         string     `json:"periodId"`
	AmountCents      int64      `json:"amount_cents"`
	Reference        string     `json:"reference"`
	Rail             string     `json:"rail"`
	DestinationID    uuid.UUID  `json:"destination_id"`
	IdempotencyKey   string     `json:"idempotency_key"`
	Status           string     `json:"status"`
	FailureReason    *string    `json:"failure_reason,omitempty"`
	ProviderRef      *string    `json:"provider_ref,omitempty"`
	ProviderPaidAt   *time.Time `json:"provider_paid_at,omitempty"`
	LedgerEntryID    *int64     `json:"ledger_entry_id,omitempty"`
	BankReceiptID    *string    `json:"bank_receipt_id,omitempty"`
	MatchedBankTxnID *string    `json:"matched_bank_txn_id,omitempty"`
	MatchStrategy    *string    `json:"match_strategy,omitempty"`
	MatchedAt        *time.Time `json:"matched_at,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

type ReleaseReceipt struct {
	ProviderRef string    `json:"provider_ref"`
	PaidAt      time.Time `json:"paid_at"`
}

type LedgerSummary struct {
	ID                int64  `json:"id"`
	AmountCents       int64  `json:"amount_cents"`
	BalanceAfterCents int64  `json:"balance_after_cents"`
	HashAfter         string `json:"hash_after"`
}

// ReleaseResult is the response of a completed release.
type ReleaseResult struct {
	ReleaseUUID uuid.UUID      `json:"release_uuid"`
	Receipt     ReleaseReceipt `json:"receipt"`
	Ledger      LedgerSummary  `json:"ledger"`
	Replayed    bool           `json:"replayed"`
}

type StatementLine struct {
	BankTxnID          string     `json:"bank_txn_id"`
	ABN                string     `json:"abn"`
	StatementDate      time.Time  `json:"statement_date"`
	AmountCents        int64      `json:"amount_cents"`
	Reference          string     `json:"reference"`
	Status             string     `json:"status"`
	MatchStrategy      *string    `json:"match_strategy,omitempty"`
	MatchedReleaseUUID *uuid.UUID `json:"matched_release_uuid,omitempty"`
}

type ImportResult struct {
	Imported   int `json:"imported"`
	Matched    int `json:"matched"`
	Unresolved int `json:"unresolved"`
}

type Destination struct {
	ID             uuid.UUID          `json:"id"`
	ABN            string             `json:"abn"`
	Rail           domain.Rail        `json:"rail"`
	DestinationKey string             `json:"destination_key"`
	Label          string             `json:"label"`
	Details        domain.Destination `json:"details"`
	CreatedAt      time.Time          `json:"created_at"`
}

type ChainStatus struct {
	Valid   bool   `json:"valid"`
	Entries int    `json:"entries"`
	Head    string `json:"head,omitempty"`
	Error   string `json:"error,omitempty"`
}

// EvidenceBundle is the audit view of one period.
type EvidenceBundle struct {
	Period   Period        `json:"period"`
	RPT      *RPTToken     `json:"rpt,omitempty"`
	Ledger   []LedgerEntry `json:"ledger"`
	Chain    ChainStatus   `json:"chain"`
	Releases []Release     `json:"releases"`
}
