package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/ayo6706/owa-release/internal/domain"
	"github.com/ayo6706/owa-release/internal/models"
	"github.com/ayo6706/owa-release/internal/observability"
	"github.com/ayo6706/owa-release/internal/repository"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

// ChainHash is the ledger link: hex(sha256(prevHash "|" bankReceiptHash "|" balanceAfter)).
// The genesis entry uses an empty prevHash.
func ChainHash(prevHash, bankReceiptHash string, balanceAfterCents int64) string {
	sum := sha256.Sum256([]byte(prevHash + "|" + bankReceiptHash + "|" + strconv.FormatInt(balanceAfterCents, 10)))
	return hex.EncodeToString(sum[:])
}

// VerifyEntries replays entries in id order. It checks that ids start at 1 and are
// contiguous, that each entry links to its predecessor, and that every balance and
// hash recomputes.
func VerifyEntries(scope domain.Scope, entries []models.LedgerEntry) error {
	var (
		prevHash    string
		prevBalance int64
	)
	for i, e := range entries {
		expectedID := int64(i + 1)
		if e.ID != expectedID {
			return &domain.LedgerIntegrityError{Scope: scope, EntryID: e.ID, Reason: fmt.Sprintf("expected id %d", expectedID)}
		}
		if e.PrevHash != prevHash {
			return &domain.LedgerIntegrityError{Scope: scope, EntryID: e.ID, Reason: "prev_hash does not link to predecessor"}
		}
		if e.BalanceAfterCents != prevBalance+e.AmountCents {
			return &domain.LedgerIntegrityError{Scope: scope, EntryID: e.ID, Reason: "balance_after does not match running balance"}
		}
		if ChainHash(prevHash, e.BankReceiptHash, e.BalanceAfterCents) != e.HashAfter {
			return &domain.LedgerIntegrityError{Scope: scope, EntryID: e.ID, Reason: "hash_after mismatch"}
		}
		prevHash = e.HashAfter
		prevBalance = e.BalanceAfterCents
	}
	return nil
}

// MerkleRoot folds the entries' hash_after values pairwise with sha256, duplicating
// the last node on odd levels. An empty ledger yields sha256 of nothing.
func MerkleRoot(hashes []string) (string, error) {
	if len(hashes) == 0 {
		sum := sha256.Sum256(nil)
		return hex.EncodeToString(sum[:]), nil
	}
	level := make([][]byte, 0, len(hashes))
	for _, h := range hashes {
		raw, err := hex.DecodeString(h)
		if err != nil {
			return "", fmt.Errorf("decode leaf %q: %w", h, err)
		}
		level = append(level, raw)
	}
	for len(level) > 1 {
		if len(level)%2 == 1 {
			level = append(level, level[len(level)-1])
		}
		next := make([][]byte, 0, len(level)/2)
		for i := 0; i < len(level); i += 2 {
			sum := sha256.Sum256(append(append([]byte{}, level[i]...), level[i+1]...))
			next = append(next, sum[:])
		}
		level = next
	}
	return hex.EncodeToString(level[0]), nil
}

// LedgerService owns the per-period hash-chained OWA ledger.
type LedgerService struct {
	store QueryStore
}

func NewLedgerService(store QueryStore) *LedgerService {
	return &LedgerService{store: store}
}

// AppendParams describes one ledger movement. AmountCents is positive for a
// credit and negative for a release.
type AppendParams struct {
	Scope           domain.Scope
	AmountCents     int64
	BankReceiptHash string
	TransferUUID    uuid.UUID
	ProviderRef     string
	ProviderPaidAt  time.Time
}

// Append writes the next chained entry inside the caller's transaction.
// Appends are serialized per scope by a transaction-scoped advisory lock, so the
// tail read and the insert see a stable chain. A repeated TransferUUID returns
// the entry already written.
func (s *LedgerService) Append(ctx context.Context, qtx *repository.Queries, p AppendParams) (models.LedgerEntry, error) {
	if p.AmountCents == 0 {
		return models.LedgerEntry{}, domain.NewValidationError("amount_cents", "must be non-zero")
	}
	if p.BankReceiptHash == "" {
		return models.LedgerEntry{}, domain.NewValidationError("bank_receipt_hash", "is required")
	}
	if p.TransferUUID == uuid.Nil {
		p.TransferUUID = uuid.New()
	}

	if err := qtx.AcquireScopeLock(ctx, p.Scope.LockKey()); err != nil {
		return models.LedgerEntry{}, fmt.Errorf("acquire ledger lock: %w", err)
	}

	period, err := qtx.GetPeriod(ctx, periodKey(p.Scope))
	if err != nil {
		return models.LedgerEntry{}, periodLookupErr(err)
	}
	if period.LedgerHalted {
		reason := "scope halted pending investigation"
		if period.LedgerHaltReason != nil {
			reason = "scope halted: " + *period.LedgerHaltReason
		}
		return models.LedgerEntry{}, &domain.LedgerIntegrityError{Scope: p.Scope, Reason: reason}
	}

	existing, err := qtx.GetLedgerEntryByTransfer(ctx, repository.ToPgUUID(p.TransferUUID))
	if err == nil {
		if existing.AmountCents != p.AmountCents {
			return models.LedgerEntry{}, fmt.Errorf("%w: transfer %s already ledgered with amount %d", domain.ErrIdempotencyConflict, p.TransferUUID, existing.AmountCents)
		}
		return toLedgerEntry(existing), nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return models.LedgerEntry{}, fmt.Errorf("check transfer uuid: %w", err)
	}

	var (
		nextID      int64 = 1
		prevHash    string
		prevBalance int64
	)
	tail, err := qtx.GetLedgerTail(ctx, periodKey(p.Scope))
	switch {
	case err == nil:
		// The stored running hash must still describe the tail we are extending.
		if ChainHash(tail.PrevHash, tail.BankReceiptHash, tail.BalanceAfterCents) != tail.HashAfter {
			return models.LedgerEntry{}, &domain.LedgerIntegrityError{Scope: p.Scope, EntryID: tail.ID, Reason: "tail hash mismatch"}
		}
		nextID = tail.ID + 1
		prevHash = tail.HashAfter
		prevBalance = tail.BalanceAfterCents
	case errors.Is(err, pgx.ErrNoRows):
	default:
		return models.LedgerEntry{}, fmt.Errorf("read ledger tail: %w", err)
	}

	balance := prevBalance + p.AmountCents
	hashAfter := ChainHash(prevHash, p.BankReceiptHash, balance)
	row, err := qtx.InsertLedgerEntry(ctx, repository.InsertLedgerEntryParams{
		Abn:               p.Scope.ABN,
		TaxType:           p.Scope.TaxType,
		PeriodID:          p.Scope.PeriodID,
		ID:                nextID,
		TransferUuid:      repository.ToPgUUID(p.TransferUUID),
		AmountCents:       p.AmountCents,
		BalanceAfterCents: balance,
		BankReceiptHash:   p.BankReceiptHash,
		PrevHash:          prevHash,
		HashAfter:         hashAfter,
		ProviderRef:       strPtr(p.ProviderRef),
		ProviderPaidAt:    repository.ToTimestamptz(p.ProviderPaidAt),
	})
	if err != nil {
		return models.LedgerEntry{}, fmt.Errorf("insert ledger entry: %w", err)
	}

	rows, err := qtx.UpdatePeriodRunningHash(ctx, repository.UpdatePeriodRunningHashParams{
		RunningBalanceHash: &hashAfter,
		Abn:                p.Scope.ABN,
		TaxType:            p.Scope.TaxType,
		PeriodID:           p.Scope.PeriodID,
	})
	if err != nil {
		return models.LedgerEntry{}, fmt.Errorf("update running balance hash: %w", err)
	}
	if err := requireExactlyOne(rows, "update running balance hash"); err != nil {
		return models.LedgerEntry{}, err
	}
	return toLedgerEntry(row), nil
}

// Entries returns the scope's ledger in id order.
func (s *LedgerService) Entries(ctx context.Context, scope domain.Scope) ([]models.LedgerEntry, error) {
	rows, err := s.store.Queries().ListLedgerEntries(ctx, periodKey(scope))
	if err != nil {
		return nil, fmt.Errorf("list ledger entries: %w", err)
	}
	out := make([]models.LedgerEntry, 0, len(rows))
	for _, row := range rows {
		out = append(out, toLedgerEntry(row))
	}
	return out, nil
}

// VerifyChain replays the scope's chain. On a mismatch the scope is halted and a
// LedgerIntegrityError is returned; later appends to the scope are refused.
func (s *LedgerService) VerifyChain(ctx context.Context, scope domain.Scope) (models.ChainStatus, error) {
	entries, err := s.Entries(ctx, scope)
	if err != nil {
		return models.ChainStatus{}, err
	}
	status := chainStatus(scope, entries)
	if status.Valid {
		return status, nil
	}

	verifyErr := VerifyEntries(scope, entries)
	observability.IncrementLedgerIntegrityFailure(scope.TaxType)
	zap.L().Error("ledger chain verification failed; halting scope",
		zap.String("scope", scope.String()),
		zap.Error(verifyErr),
	)
	if haltErr := s.halt(ctx, scope, verifyErr.Error()); haltErr != nil {
		zap.L().Error("failed to halt ledger scope", zap.String("scope", scope.String()), zap.Error(haltErr))
	}
	return status, verifyErr
}

func (s *LedgerService) halt(ctx context.Context, scope domain.Scope, reason string) error {
	audit := NewAuditService(s.store)
	return s.store.RunInTx(ctx, func(qtx *repository.Queries) error {
		rows, err := qtx.HaltPeriodLedger(ctx, repository.HaltPeriodLedgerParams{
			LedgerHaltReason: &reason,
			Abn:              scope.ABN,
			TaxType:          scope.TaxType,
			PeriodID:         scope.PeriodID,
		})
		if err != nil {
			return fmt.Errorf("halt period ledger: %w", err)
		}
		if err := requireExactlyOne(rows, "halt period ledger"); err != nil {
			return err
		}
		metadata, err := marshalReasonMetadata(reason)
		if err != nil {
			return err
		}
		return audit.Write(ctx, qtx, domain.AuditEntityPeriod, scope.String(), "", "ledger_halted", "", "", metadata)
	})
}

// VerifyRecent checks every scope with ledger activity since the cutoff. It is
// driven by the integrity worker and returns the number of failing scopes.
func (s *LedgerService) VerifyRecent(ctx context.Context, since time.Time, limit int32) (int, error) {
	scopes, err := s.store.Queries().ListRecentLedgerScopes(ctx, repository.ListRecentLedgerScopesParams{
		CreatedAt: repository.ToTimestamptz(since),
		Limit:     limit,
	})
	if err != nil {
		return 0, fmt.Errorf("list recent ledger scopes: %w", err)
	}
	failures := 0
	for _, key := range scopes {
		if err := ctx.Err(); err != nil {
			return failures, err
		}
		scope := domain.Scope{ABN: key.Abn, TaxType: key.TaxType, PeriodID: key.PeriodID}
		if _, err := s.VerifyChain(ctx, scope); err != nil {
			if errors.Is(err, domain.ErrLedgerIntegrity) {
				failures++
				continue
			}
			return failures, err
		}
	}
	return failures, nil
}
