package service

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ayo6706/owa-release/internal/canonical"
	"github.com/ayo6706/owa-release/internal/domain"
	"github.com/ayo6706/owa-release/internal/models"
	"github.com/ayo6706/owa-release/internal/repository"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

// depositNamespace derives stable transfer uuids from bank deposit references.
var depositNamespace = uuid.MustParse("6f1c9a52-3d0e-4b8a-9d57-0b2f3c1e7a44")

// WebhookService credits the OWA ledger from signed bank deposit notifications.
type WebhookService struct {
	store   QueryStore
	ledger  *LedgerService
	hmacKey []byte
	skipSig bool
	audit   *AuditService
}

// NewWebhookService creates a new WebhookService instance.
func NewWebhookService(store QueryStore, ledger *LedgerService, hmacKey string, skipSignature bool) *WebhookService {
	return &WebhookService{
		store:   store,
		ledger:  ledger,
		hmacKey: []byte(hmacKey),
		skipSig: skipSignature,
		audit:   NewAuditService(store),
	}
}

// DepositWebhookPayload is the bank's notification of funds landing in the OWA.
type DepositWebhookPayload struct {
	ABN         string `json:"abn"`
	TaxType     string `json:"taxType"`
	PeriodID    string `json:"periodId"`
	AmountCents int64  `json:"amount_cents"`
	Reference   string `json:"reference"` // unique per deposit at the bank
	ProviderRef string `json:"provider_ref,omitempty"`
	PaidAt      string `json:"paid_at,omitempty"`
}

type DepositWebhookResponse struct {
	TransferUUID uuid.UUID            `json:"transfer_uuid"`
	Ledger       models.LedgerSummary `json:"ledger"`
	Replayed     bool                 `json:"replayed"`
}

// DepositTransferUUID is the ledger transfer id a deposit reference maps to.
func DepositTransferUUID(reference string) uuid.UUID {
	return uuid.NewSHA1(depositNamespace, []byte("deposit:"+reference))
}

// HandleDepositWebhook verifies the HMAC signature and appends a credit to the
// period's ledger. A repeated reference returns the entry already written.
func (s *WebhookService) HandleDepositWebhook(ctx context.Context, payload []byte, signature string) (*DepositWebhookResponse, error) {
	if !s.verifyHMAC(payload, signature) {
		return nil, domain.ErrWebhookSignature
	}

	var deposit DepositWebhookPayload
	if err := json.Unmarshal(payload, &deposit); err != nil {
		return nil, domain.NewValidationError("body", "invalid deposit payload: "+err.Error())
	}
	scope := domain.NewScope(deposit.ABN, deposit.TaxType, deposit.PeriodID)
	if err := scope.Validate(); err != nil {
		return nil, err
	}
	deposit.Reference = strings.TrimSpace(deposit.Reference)
	deposit.ProviderRef = strings.TrimSpace(deposit.ProviderRef)
	if deposit.Reference == "" {
		return nil, domain.NewValidationError("reference", "is required")
	}
	if deposit.AmountCents <= 0 {
		return nil, domain.NewValidationError("amount_cents", "must be positive")
	}
	paidAt := time.Now().UTC()
	if deposit.PaidAt != "" {
		parsed, err := time.Parse(time.RFC3339, deposit.PaidAt)
		if err != nil {
			return nil, domain.NewValidationError("paid_at", "must be RFC3339")
		}
		paidAt = parsed.UTC()
	}
	providerRef := deposit.ProviderRef
	if providerRef == "" {
		providerRef = deposit.Reference
	}

	transferUUID := DepositTransferUUID(deposit.Reference)
	receiptHash, err := depositReceiptHash(deposit)
	if err != nil {
		return nil, err
	}
	metadata, err := json.Marshal(map[string]any{
		"reference":    deposit.Reference,
		"amount_cents": deposit.AmountCents,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode metadata: %w", err)
	}

	resp := &DepositWebhookResponse{TransferUUID: transferUUID}
	err = s.store.RunInTx(ctx, func(qtx *repository.Queries) error {
		// Hold the scope lock across the replay check so a concurrent duplicate
		// cannot credit the period twice.
		if err := qtx.AcquireScopeLock(ctx, scope.LockKey()); err != nil {
			return fmt.Errorf("acquire ledger lock: %w", err)
		}
		existing, err := qtx.GetLedgerEntryByTransfer(ctx, repository.ToPgUUID(transferUUID))
		if err == nil {
			if existing.Abn != scope.ABN || existing.TaxType != scope.TaxType || existing.PeriodID != scope.PeriodID || existing.AmountCents != deposit.AmountCents {
				return domain.ErrDepositMismatch
			}
			resp.Ledger = ledgerSummary(toLedgerEntry(existing))
			resp.Replayed = true
			return nil
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("check deposit reference: %w", err)
		}

		period, err := qtx.GetPeriodForUpdate(ctx, periodKey(scope))
		if err != nil {
			return periodLookupErr(err)
		}
		switch period.State {
		case domain.PeriodStateReadyRPT, domain.PeriodStateReleasing, domain.PeriodStateReleased:
			// The issued RPT signs the running balance hash; the chain is frozen from here.
			return fmt.Errorf("%w: period %s is %s and no longer accepts deposits", domain.ErrInvalidPeriodState, scope, period.State)
		}

		entry, err := s.ledger.Append(ctx, qtx, AppendParams{
			Scope:           scope,
			AmountCents:     deposit.AmountCents,
			BankReceiptHash: receiptHash,
			TransferUUID:    transferUUID,
			ProviderRef:     providerRef,
			ProviderPaidAt:  paidAt,
		})
		if err != nil {
			return err
		}

		rows, err := qtx.AddPeriodCredit(ctx, repository.AddPeriodCreditParams{
			CreditedToOwaCents: deposit.AmountCents,
			Abn:                scope.ABN,
			TaxType:            scope.TaxType,
			PeriodID:           scope.PeriodID,
		})
		if err != nil {
			return fmt.Errorf("credit period: %w", err)
		}
		if err := requireExactlyOne(rows, "credit period"); err != nil {
			return err
		}
		if err := s.audit.Write(ctx, qtx, domain.AuditEntityPeriod, scope.String(), "", "deposit_credited", period.State, period.State, metadata); err != nil {
			return err
		}
		resp.Ledger = ledgerSummary(entry)
		return nil
	})
	if err != nil {
		return nil, err
	}

	if !resp.Replayed {
		zap.L().Info("deposit credited to owa",
			zap.String("scope", scope.String()),
			zap.String("reference", deposit.Reference),
			zap.Int64("amount_cents", deposit.AmountCents),
			zap.Int64("ledger_entry_id", resp.Ledger.ID),
		)
	}
	return resp, nil
}

// verifyHMAC verifies the HMAC signature of the payload.
func (s *WebhookService) verifyHMAC(payload []byte, signature string) bool {
	if s.skipSig {
		return true
	}
	if len(s.hmacKey) == 0 {
		return false
	}

	h := hmac.New(sha256.New, s.hmacKey)
	h.Write(payload)
	expectedSig := "sha256=" + hex.EncodeToString(h.Sum(nil))

	// Use hmac.Equal for constant-time comparison
	return hmac.Equal([]byte(strings.TrimSpace(signature)), []byte(expectedSig))
}

func depositReceiptHash(d DepositWebhookPayload) (string, error) {
	c14n, err := canonical.Marshal(map[string]any{
		"reference":    d.Reference,
		"provider_ref": d.ProviderRef,
		"amount_cents": d.AmountCents,
		"paid_at":      d.PaidAt,
	})
	if err != nil {
		return "", fmt.Errorf("hash deposit receipt: %w", err)
	}
	sum := sha256.Sum256(c14n)
	return hex.EncodeToString(sum[:]), nil
}

func ledgerSummary(e models.LedgerEntry) models.LedgerSummary {
	return models.LedgerSummary{
		ID:                e.ID,
		AmountCents:       e.AmountCents,
		BalanceAfterCents: e.BalanceAfterCents,
		HashAfter:         e.HashAfter,
	}
}
