package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ayo6706/owa-release/internal/banking"
	"github.com/ayo6706/owa-release/internal/canonical"
	"github.com/ayo6706/owa-release/internal/domain"
	"github.com/ayo6706/owa-release/internal/kms"
	"github.com/ayo6706/owa-release/internal/models"
	"github.com/ayo6706/owa-release/internal/observability"
	"github.com/ayo6706/owa-release/internal/repository"
	"github.com/ayo6706/owa-release/internal/resilience"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

const defaultStaleReservationWindow = 2 * time.Minute

// ReleaseService moves an authorized period liability out of the OWA to the ATO
// over a banking rail, at most once per RPT.
type ReleaseService struct {
	store      QueryStore
	signer     kms.Signer
	rails      *banking.Registry
	policy     resilience.Policy
	ledger     *LedgerService
	audit      *AuditService
	staleAfter time.Duration
	now        func() time.Time
}

func NewReleaseService(store QueryStore, signer kms.Signer, rails *banking.Registry, policy resilience.Policy, ledger *LedgerService, staleAfter time.Duration) *ReleaseService {
	if staleAfter <= 0 {
		staleAfter = defaultStaleReservationWindow
	}
	return &ReleaseService{
		store:      store,
		signer:     signer,
		rails:      rails,
		policy:     policy,
		ledger:     ledger,
		audit:      NewAuditService(store),
		staleAfter: staleAfter,
		now:        time.Now,
	}
}

// ReleaseRequest is a caller's instruction to pay a period's liability.
// AmountCents is the ledger movement and must be negative.
type ReleaseRequest struct {
	IdempotencyKey string
	ABN            string
	TaxType        string
	PeriodID       string
	AmountCents    int64
	Destination    domain.Destination
	ActorID        string
}

func (r *ReleaseRequest) normalize() {
	r.IdempotencyKey = strings.TrimSpace(r.IdempotencyKey)
	scope := domain.NewScope(r.ABN, r.TaxType, r.PeriodID)
	r.ABN, r.TaxType, r.PeriodID = scope.ABN, scope.TaxType, scope.PeriodID
	r.Destination.Normalize()
}

func (r ReleaseRequest) scope() domain.Scope {
	return domain.Scope{ABN: r.ABN, TaxType: r.TaxType, PeriodID: r.PeriodID}
}

func (r ReleaseRequest) validate() error {
	if r.IdempotencyKey == "" {
		return domain.NewValidationError("Idempotency-Key", "header is required")
	}
	if err := r.scope().Validate(); err != nil {
		return err
	}
	if r.AmountCents >= 0 {
		return domain.NewValidationError("amountCents", "must be negative")
	}
	return r.Destination.Validate()
}

// hash fingerprints the request body so a reused key with a different payload is detected.
func (r ReleaseRequest) hash() (string, error) {
	c14n, err := canonical.Marshal(map[string]any{
		"abn":         r.ABN,
		"taxType":     r.TaxType,
		"periodId":    r.PeriodID,
		"amountCents": r.AmountCents,
		"destination": r.Destination,
	})
	if err != nil {
		return "", fmt.Errorf("canonicalize release request: %w", err)
	}
	sum := sha256.Sum256(c14n)
	return hex.EncodeToString(sum[:]), nil
}

// Release validates the request, reserves the period's RPT, dispatches to the
// rail under the resilience policy and ledgers the result. Replaying a key whose
// release is ledgered returns the original receipt without calling the bank.
func (s *ReleaseService) Release(ctx context.Context, req ReleaseRequest) (*models.ReleaseResult, error) {
	req.normalize()
	if err := req.validate(); err != nil {
		return nil, err
	}
	requestHash, err := req.hash()
	if err != nil {
		return nil, err
	}

	queries := s.store.Queries()
	existing, err := queries.GetPayoutReleaseByIdempotencyKey(ctx, req.IdempotencyKey)
	if err == nil {
		return s.resume(ctx, existing, req, requestHash)
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("check release idempotency: %w", err)
	}

	token, payload, err := s.authorizedToken(ctx, req)
	if err != nil {
		return nil, err
	}

	destination, err := queries.GetRemittanceDestination(ctx, repository.GetRemittanceDestinationParams{
		Abn:            req.ABN,
		Rail:           string(req.Destination.Rail),
		DestinationKey: req.Destination.Key(),
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s for abn %s", domain.ErrAllowlist, req.Destination.Key(), req.ABN)
		}
		return nil, fmt.Errorf("lookup remittance destination: %w", err)
	}

	reserved, err := s.reserve(ctx, req, requestHash, token, payload, destination)
	if err != nil {
		if errors.Is(err, errConcurrentKey) {
			row, getErr := queries.GetPayoutReleaseByIdempotencyKey(ctx, req.IdempotencyKey)
			if getErr != nil {
				return nil, fmt.Errorf("reload concurrent release: %w", getErr)
			}
			return s.resume(ctx, row, req, requestHash)
		}
		return nil, err
	}

	return s.dispatch(ctx, reserved, req.Destination, req.ActorID)
}

// authorizedToken loads the period's active RPT and checks it authorizes this request.
func (s *ReleaseService) authorizedToken(ctx context.Context, req ReleaseRequest) (repository.RptToken, models.RPTPayload, error) {
	queries := s.store.Queries()
	period, err := queries.GetPeriod(ctx, periodKey(req.scope()))
	if err != nil {
		return repository.RptToken{}, models.RPTPayload{}, periodLookupErr(err)
	}
	if period.State != domain.PeriodStateReadyRPT {
		return repository.RptToken{}, models.RPTPayload{}, fmt.Errorf("%w: release requires %s, period is %s", domain.ErrInvalidPeriodState, domain.PeriodStateReadyRPT, period.State)
	}

	token, err := queries.GetActiveRptToken(ctx, periodKey(req.scope()))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return repository.RptToken{}, models.RPTPayload{}, domain.ErrRPTNotFound
		}
		return repository.RptToken{}, models.RPTPayload{}, fmt.Errorf("get active rpt: %w", err)
	}
	payload, err := verifyToken(ctx, s.signer, token)
	if err != nil {
		zap.L().Error("rpt failed verification", zap.Int64("rpt_id", token.ID), zap.Error(err))
		return repository.RptToken{}, models.RPTPayload{}, err
	}

	expiry, err := time.Parse(time.RFC3339, payload.ExpiryTS)
	if err != nil {
		return repository.RptToken{}, models.RPTPayload{}, fmt.Errorf("%w: malformed expiry_ts", domain.ErrSignature)
	}
	if !s.now().Before(expiry) {
		if _, err := queries.UpdateRptTokenStatus(ctx, repository.UpdateRptTokenStatusParams{
			Status: domain.RPTStatusExpired,
			ID:     token.ID,
		}); err != nil {
			zap.L().Warn("failed to mark rpt expired", zap.Int64("rpt_id", token.ID), zap.Error(err))
		}
		return repository.RptToken{}, models.RPTPayload{}, domain.ErrRPTExpired
	}

	runningHash := ""
	if period.RunningBalanceHash != nil {
		runningHash = *period.RunningBalanceHash
	}
	if payload.RunningBalanceHash != runningHash {
		zap.L().Error("ledger moved since rpt was issued",
			zap.Int64("rpt_id", token.ID),
			zap.String("signed_hash", payload.RunningBalanceHash),
			zap.String("current_hash", runningHash),
		)
		return repository.RptToken{}, models.RPTPayload{}, fmt.Errorf("%w: ledger changed since rpt %d was issued", domain.ErrInvalidPeriodState, token.ID)
	}
	if payload.EntityID != req.ABN || payload.TaxType != req.TaxType || payload.PeriodID != req.PeriodID {
		return repository.RptToken{}, models.RPTPayload{}, fmt.Errorf("%w: payload scope does not match period", domain.ErrSignature)
	}
	if -req.AmountCents != payload.AmountCents {
		return repository.RptToken{}, models.RPTPayload{}, domain.NewValidationError("amountCents", fmt.Sprintf("must equal the authorized amount -%d", payload.AmountCents))
	}
	if req.Destination.Rail != payload.RailID {
		return repository.RptToken{}, models.RPTPayload{}, domain.NewValidationError("destination.rail", fmt.Sprintf("rpt authorizes rail %s", payload.RailID))
	}
	return token, payload, nil
}

var errConcurrentKey = errors.New("idempotency key reserved concurrently")

func (s *ReleaseService) reserve(ctx context.Context, req ReleaseRequest, requestHash string, token repository.RptToken, payload models.RPTPayload, destination repository.RemittanceDestination) (repository.PayoutRelease, error) {
	var reserved repository.PayoutRelease
	err := s.store.RunInTx(ctx, func(qtx *repository.Queries) error {
		var err error
		reserved, err = qtx.InsertPayoutRelease(ctx, repository.InsertPayoutReleaseParams{
			ReleaseUuid:    repository.ToPgUUID(uuid.New()),
			RptID:          token.ID,
			Abn:            req.ABN,
			TaxType:        req.TaxType,
			PeriodID:       req.PeriodID,
			AmountCents:    req.AmountCents,
			Reference:      payload.Reference,
			Rail:           string(req.Destination.Rail),
			DestinationID:  destination.ID,
			IdempotencyKey: req.IdempotencyKey,
			RequestHash:    requestHash,
			Status:         domain.ReleaseStatusReserved,
		})
		if err != nil {
			switch {
			case repository.UniqueViolation(err, "payout_releases_rpt_id_key"):
				return domain.ErrAlreadyReserved
			case repository.UniqueViolation(err, "payout_releases_idempotency_key_key"):
				return errConcurrentKey
			}
			return fmt.Errorf("reserve payout release: %w", err)
		}

		if err := transitionPeriodState(ctx, qtx, s.audit, req.scope(), domain.PeriodStateReleasing, req.ActorID, "release_reserved", nil); err != nil {
			return err
		}
		return s.audit.Write(ctx, qtx, domain.AuditEntityRelease, repository.FromPgUUID(reserved.ReleaseUuid).String(), req.ActorID, "reserved", "", domain.ReleaseStatusReserved, nil)
	})
	if err != nil {
		return repository.PayoutRelease{}, err
	}
	zap.L().Info("release reserved",
		zap.String("release_uuid", repository.FromPgUUID(reserved.ReleaseUuid).String()),
		zap.Int64("rpt_id", reserved.RptID),
		zap.String("rail", reserved.Rail),
	)
	return reserved, nil
}

// resume handles a key that already has a reservation.
func (s *ReleaseService) resume(ctx context.Context, row repository.PayoutRelease, req ReleaseRequest, requestHash string) (*models.ReleaseResult, error) {
	if row.RequestHash != requestHash {
		return nil, fmt.Errorf("%w: key %s", domain.ErrIdempotencyConflict, row.IdempotencyKey)
	}

	switch row.Status {
	case domain.ReleaseStatusReleased:
		result, err := s.releasedResult(ctx, s.store.Queries(), row)
		if err != nil {
			return nil, err
		}
		result.Replayed = true
		observability.IncrementRelease(row.Rail, "replayed")
		return result, nil
	case domain.ReleaseStatusReserved:
		if s.now().Sub(row.UpdatedAt.Time) < s.staleAfter {
			return nil, domain.ErrReleaseInProgress
		}
		return s.resubmit(ctx, row, req)
	case domain.ReleaseStatusUnconfirmed:
		return s.resubmit(ctx, row, req)
	case domain.ReleaseStatusFailed:
		reason := "rejected by rail"
		if row.FailureReason != nil {
			reason = *row.FailureReason
		}
		return nil, fmt.Errorf("%w: %s", domain.ErrBankingRejected, reason)
	case domain.ReleaseStatusVoided:
		return nil, domain.ErrReleaseVoided
	default:
		return nil, fmt.Errorf("release %s has unknown status %q", repository.FromPgUUID(row.ReleaseUuid), row.Status)
	}
}

// resubmit re-dispatches an unconfirmed release only on rails that guarantee a
// repeated key cannot execute twice. Other rails wait for reconciliation.
func (s *ReleaseService) resubmit(ctx context.Context, row repository.PayoutRelease, req ReleaseRequest) (*models.ReleaseResult, error) {
	rail := domain.Rail(row.Rail)
	if !rail.IdempotentResubmit() {
		return nil, domain.ErrAwaitingReconciliation
	}
	zap.L().Info("resubmitting unconfirmed release",
		zap.String("release_uuid", repository.FromPgUUID(row.ReleaseUuid).String()),
		zap.String("rail", row.Rail),
	)
	return s.dispatch(ctx, row, req.Destination, req.ActorID)
}

func (s *ReleaseService) dispatch(ctx context.Context, row repository.PayoutRelease, destination domain.Destination, actorID string) (*models.ReleaseResult, error) {
	releaseID := repository.FromPgUUID(row.ReleaseUuid)
	port, err := s.rails.For(domain.Rail(row.Rail))
	if err != nil {
		return nil, err
	}

	bankReq := banking.Request{
		ABN:         row.Abn,
		TaxType:     row.TaxType,
		PeriodID:    row.PeriodID,
		AmountCents: row.AmountCents,
		Reference:   row.Reference,
		Destination: destination,
		IdemKey:     row.IdempotencyKey,
	}
	receipt, err := resilience.Execute(ctx, s.policy.ForRail(domain.Rail(row.Rail)), row.Rail, func(callCtx context.Context) (banking.Receipt, error) {
		return port.Release(callCtx, bankReq)
	})
	// Outcome writes must land even if the caller has gone away.
	persistCtx := context.WithoutCancel(ctx)
	if err != nil {
		if errors.Is(err, domain.ErrBankingRejected) {
			s.recordOutcome(persistCtx, row, domain.ReleaseStatusFailed, err.Error(), nil, actorID)
			observability.IncrementRelease(row.Rail, "rejected")
			return nil, err
		}
		s.recordOutcome(persistCtx, row, domain.ReleaseStatusUnconfirmed, err.Error(), nil, actorID)
		observability.IncrementRelease(row.Rail, "unconfirmed")
		return nil, err
	}

	receipt = receipt.Normalize()
	if receipt.AmountCents != -row.AmountCents {
		reason := fmt.Sprintf("bank reported %d cents, reservation is for %d", receipt.AmountCents, -row.AmountCents)
		zap.L().Error("bank receipt amount does not match reservation; awaiting reconciliation",
			zap.String("release_uuid", releaseID.String()),
			zap.String("provider_ref", receipt.ProviderRef),
			zap.Int64("receipt_amount_cents", receipt.AmountCents),
			zap.Int64("reserved_amount_cents", -row.AmountCents),
		)
		s.recordOutcome(persistCtx, row, domain.ReleaseStatusUnconfirmed, reason, &receipt, actorID)
		observability.IncrementRelease(row.Rail, "amount_mismatch")
		return nil, fmt.Errorf("%w: provider ref %s: %s", domain.ErrAwaitingReconciliation, receipt.ProviderRef, reason)
	}
	result, err := s.finalize(persistCtx, row, receipt, actorID, "released")
	if err != nil {
		zap.L().Error("bank executed release but ledger finalization failed; awaiting reconciliation",
			zap.String("release_uuid", releaseID.String()),
			zap.String("provider_ref", receipt.ProviderRef),
			zap.Error(err),
		)
		s.recordOutcome(persistCtx, row, domain.ReleaseStatusUnconfirmed, "ledger finalization failed: "+err.Error(), &receipt, actorID)
		observability.IncrementRelease(row.Rail, "unledgered")
		return nil, fmt.Errorf("%w: provider ref %s: %w", domain.ErrAwaitingReconciliation, receipt.ProviderRef, err)
	}

	observability.IncrementRelease(row.Rail, "released")
	zap.L().Info("release completed",
		zap.String("release_uuid", releaseID.String()),
		zap.String("provider_ref", receipt.ProviderRef),
		zap.Int64("ledger_entry_id", result.Ledger.ID),
	)
	return result, nil
}

// finalize ledgers an executed transfer, marks the reservation RELEASED and
// closes the period, all in one transaction. A reservation already RELEASED is
// returned as is.
func (s *ReleaseService) finalize(ctx context.Context, row repository.PayoutRelease, receipt banking.Receipt, actorID, action string) (*models.ReleaseResult, error) {
	receiptHash, err := receipt.Hash()
	if err != nil {
		return nil, err
	}
	scope := domain.Scope{ABN: row.Abn, TaxType: row.TaxType, PeriodID: row.PeriodID}

	var result *models.ReleaseResult
	err = s.store.RunInTx(ctx, func(qtx *repository.Queries) error {
		locked, err := qtx.GetPayoutReleaseForUpdate(ctx, row.ReleaseUuid)
		if err != nil {
			return fmt.Errorf("lock payout release: %w", err)
		}
		if locked.Status == domain.ReleaseStatusReleased {
			result, err = s.releasedResult(ctx, qtx, locked)
			return err
		}
		if locked.Status != domain.ReleaseStatusReserved && locked.Status != domain.ReleaseStatusUnconfirmed {
			return fmt.Errorf("%w: release is %s", domain.ErrReleaseNotReviewable, locked.Status)
		}

		entry, err := s.ledger.Append(ctx, qtx, AppendParams{
			Scope:           scope,
			AmountCents:     locked.AmountCents,
			BankReceiptHash: receiptHash,
			TransferUUID:    repository.FromPgUUID(locked.ReleaseUuid),
			ProviderRef:     receipt.ProviderRef,
			ProviderPaidAt:  receipt.PaidAt,
		})
		if err != nil {
			return err
		}

		ref := receipt.ProviderRef
		entryID := entry.ID
		rows, err := qtx.MarkPayoutReleaseReleased(ctx, repository.MarkPayoutReleaseReleasedParams{
			ProviderRef:    &ref,
			ProviderPaidAt: repository.ToTimestamptz(receipt.PaidAt),
			LedgerEntryID:  &entryID,
			BankReceiptID:  &ref,
			ReleaseUuid:    locked.ReleaseUuid,
		})
		if err != nil {
			return fmt.Errorf("mark payout release released: %w", err)
		}
		if err := requireExactlyOne(rows, "mark payout release released"); err != nil {
			return err
		}

		if err := transitionPeriodState(ctx, qtx, s.audit, scope, domain.PeriodStateReleased, actorID, action, nil); err != nil {
			return err
		}
		metadata, err := json.Marshal(map[string]any{
			"provider_ref":    receipt.ProviderRef,
			"ledger_entry_id": entry.ID,
			"hash_after":      entry.HashAfter,
		})
		if err != nil {
			return fmt.Errorf("encode release metadata: %w", err)
		}
		if err := s.audit.Write(ctx, qtx, domain.AuditEntityRelease, repository.FromPgUUID(locked.ReleaseUuid).String(), actorID, action, locked.Status, domain.ReleaseStatusReleased, metadata); err != nil {
			return err
		}

		result = &models.ReleaseResult{
			ReleaseUUID: repository.FromPgUUID(locked.ReleaseUuid),
			Receipt:     models.ReleaseReceipt{ProviderRef: receipt.ProviderRef, PaidAt: receipt.PaidAt},
			Ledger:      ledgerSummary(entry),
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *ReleaseService) releasedResult(ctx context.Context, q *repository.Queries, row repository.PayoutRelease) (*models.ReleaseResult, error) {
	if row.LedgerEntryID == nil {
		return nil, fmt.Errorf("%w: released without ledger entry", domain.ErrAwaitingReconciliation)
	}
	entry, err := q.GetLedgerEntry(ctx, repository.GetLedgerEntryParams{
		Abn:      row.Abn,
		TaxType:  row.TaxType,
		PeriodID: row.PeriodID,
		ID:       *row.LedgerEntryID,
	})
	if err != nil {
		return nil, fmt.Errorf("load release ledger entry: %w", err)
	}
	result := &models.ReleaseResult{
		ReleaseUUID: repository.FromPgUUID(row.ReleaseUuid),
		Ledger:      ledgerSummary(toLedgerEntry(entry)),
	}
	if row.ProviderRef != nil {
		result.Receipt.ProviderRef = *row.ProviderRef
	}
	if row.ProviderPaidAt.Valid {
		result.Receipt.PaidAt = row.ProviderPaidAt.Time.UTC()
	}
	return result, nil
}

// recordOutcome keeps a failed or unconfirmed reservation visible for review.
// It never touches a RELEASED row.
func (s *ReleaseService) recordOutcome(ctx context.Context, row repository.PayoutRelease, status, reason string, receipt *banking.Receipt, actorID string) {
	releaseID := repository.FromPgUUID(row.ReleaseUuid)
	params := repository.UpdatePayoutReleaseOutcomeParams{
		Status:        status,
		FailureReason: strPtr(reason),
		ReleaseUuid:   row.ReleaseUuid,
	}
	if receipt != nil {
		ref := receipt.ProviderRef
		params.ProviderRef = &ref
		params.ProviderPaidAt = repository.ToTimestamptz(receipt.PaidAt)
	}

	err := s.store.RunInTx(ctx, func(qtx *repository.Queries) error {
		rows, err := qtx.UpdatePayoutReleaseOutcome(ctx, params)
		if err != nil {
			return fmt.Errorf("update payout release outcome: %w", err)
		}
		if rows == 0 {
			return nil
		}
		metadata, err := marshalReasonMetadata(reason)
		if err != nil {
			return err
		}
		return s.audit.Write(ctx, qtx, domain.AuditEntityRelease, releaseID.String(), actorID, "release_"+strings.ToLower(status), row.Status, status, metadata)
	})
	if err != nil {
		zap.L().Error("failed to record release outcome",
			zap.String("release_uuid", releaseID.String()),
			zap.String("status", status),
			zap.Error(err),
		)
		return
	}
	observability.IncrementReviewTransition("queued_" + strings.ToLower(status))
	zap.L().Warn("release queued for review",
		zap.String("release_uuid", releaseID.String()),
		zap.String("status", status),
		zap.String("reason", reason),
	)
}

// GetRelease returns one reservation by id.
func (s *ReleaseService) GetRelease(ctx context.Context, releaseID uuid.UUID) (*models.Release, error) {
	row, err := s.store.Queries().GetPayoutRelease(ctx, repository.ToPgUUID(releaseID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrReleaseNotFound
		}
		return nil, fmt.Errorf("get payout release: %w", err)
	}
	out := toRelease(row)
	return &out, nil
}

var reviewStatuses = []string{domain.ReleaseStatusUnconfirmed, domain.ReleaseStatusFailed}

// ListReviewQueue returns releases waiting for an operator decision.
func (s *ReleaseService) ListReviewQueue(ctx context.Context, limit, offset int32) ([]models.Release, error) {
	limit, offset = clampPage(limit, offset)
	rows, err := s.store.Queries().ListPayoutReleasesByStatuses(ctx, repository.ListPayoutReleasesByStatusesParams{
		Statuses: reviewStatuses,
		Limit:    limit,
		Offset:   offset,
	})
	if err != nil {
		return nil, fmt.Errorf("list review queue: %w", err)
	}
	out := make([]models.Release, 0, len(rows))
	for _, row := range rows {
		out = append(out, toRelease(row))
	}
	return out, nil
}

func (s *ReleaseService) ReviewQueueSize(ctx context.Context) (int64, error) {
	count, err := s.store.Queries().CountPayoutReleasesByStatuses(ctx, reviewStatuses)
	if err != nil {
		return 0, fmt.Errorf("count review queue: %w", err)
	}
	return count, nil
}

type ResolveDecision string

const (
	DecisionConfirmSent ResolveDecision = "confirm_sent"
	DecisionVoid        ResolveDecision = "void"
)

// ResolveReleaseRequest is an operator's verdict on an unconfirmed or failed release.
// ProviderRef falls back to the ref recorded on the reservation; PaidAt defaults to now.
type ResolveReleaseRequest struct {
	ReleaseUUID uuid.UUID
	Decision    ResolveDecision
	Reason      string
	ActorID     string
	ProviderRef string
	PaidAt      time.Time
}

// ResolveRelease applies the operator's decision. confirm_sent ledgers the transfer
// the bank is known to have executed; void abandons the reservation, revokes its
// RPT and reopens the period for a fresh issuance.
func (s *ReleaseService) ResolveRelease(ctx context.Context, req ResolveReleaseRequest) (*models.Release, error) {
	decision := ResolveDecision(strings.ToLower(strings.TrimSpace(string(req.Decision))))
	switch decision {
	case DecisionConfirmSent, DecisionVoid:
	default:
		return nil, domain.ErrInvalidResolution
	}

	row, err := s.store.Queries().GetPayoutRelease(ctx, repository.ToPgUUID(req.ReleaseUUID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrReleaseNotFound
		}
		return nil, fmt.Errorf("get payout release: %w", err)
	}

	switch decision {
	case DecisionConfirmSent:
		if row.Status != domain.ReleaseStatusUnconfirmed {
			return nil, domain.ErrReleaseNotReviewable
		}
		ref := strings.TrimSpace(req.ProviderRef)
		if ref == "" && row.ProviderRef != nil {
			ref = *row.ProviderRef
		}
		if ref == "" {
			return nil, domain.NewValidationError("provider_ref", "is required to confirm a release")
		}
		paidAt := req.PaidAt
		if paidAt.IsZero() {
			paidAt = s.now()
		}
		amount := row.AmountCents
		if amount < 0 {
			amount = -amount
		}
		receipt := banking.Receipt{ProviderRef: ref, PaidAt: paidAt, AmountCents: amount}.Normalize()
		if _, err := s.finalize(ctx, row, receipt, req.ActorID, "manual_review_confirmed"); err != nil {
			return nil, err
		}
	case DecisionVoid:
		if err := s.void(ctx, row, req); err != nil {
			return nil, err
		}
	}

	observability.IncrementReviewTransition(string(decision))
	return s.GetRelease(ctx, req.ReleaseUUID)
}

func (s *ReleaseService) void(ctx context.Context, row repository.PayoutRelease, req ResolveReleaseRequest) error {
	metadata, err := marshalReasonMetadata(req.Reason)
	if err != nil {
		return fmt.Errorf("marshal resolution metadata: %w", err)
	}
	return s.store.RunInTx(ctx, func(qtx *repository.Queries) error {
		locked, err := qtx.GetPayoutReleaseForUpdate(ctx, row.ReleaseUuid)
		if err != nil {
			return fmt.Errorf("lock payout release: %w", err)
		}
		if locked.Status != domain.ReleaseStatusUnconfirmed && locked.Status != domain.ReleaseStatusFailed {
			return domain.ErrReleaseNotReviewable
		}

		rows, err := qtx.UpdatePayoutReleaseOutcome(ctx, repository.UpdatePayoutReleaseOutcomeParams{
			Status:        domain.ReleaseStatusVoided,
			FailureReason: strPtr(req.Reason),
			ReleaseUuid:   locked.ReleaseUuid,
		})
		if err != nil {
			return fmt.Errorf("void payout release: %w", err)
		}
		if err := requireExactlyOne(rows, "void payout release"); err != nil {
			return err
		}

		if _, err := qtx.UpdateRptTokenStatus(ctx, repository.UpdateRptTokenStatusParams{
			Status: domain.RPTStatusRevoked,
			ID:     locked.RptID,
		}); err != nil {
			return fmt.Errorf("revoke rpt: %w", err)
		}
		if err := s.audit.Write(ctx, qtx, domain.AuditEntityRPT, fmt.Sprint(locked.RptID), req.ActorID, "revoked", "", domain.RPTStatusRevoked, metadata); err != nil {
			return err
		}

		scope := domain.Scope{ABN: locked.Abn, TaxType: locked.TaxType, PeriodID: locked.PeriodID}
		if err := transitionPeriodState(ctx, qtx, s.audit, scope, domain.PeriodStateClosing, req.ActorID, "release_voided", metadata); err != nil {
			return err
		}
		return s.audit.Write(ctx, qtx, domain.AuditEntityRelease, repository.FromPgUUID(locked.ReleaseUuid).String(), req.ActorID, "manual_review_voided", locked.Status, domain.ReleaseStatusVoided, metadata)
	})
}

// RecoverStaleReservations moves RESERVED rows older than the stale window to
// UNCONFIRMED: the process that reserved them died mid-dispatch, so whether the
// bank executed is unknown.
func (s *ReleaseService) RecoverStaleReservations(ctx context.Context, batchSize int32) (int, error) {
	cutoff := s.now().Add(-s.staleAfter)
	reason := "reservation went stale during dispatch; outcome unknown"
	metadata, err := marshalReasonMetadata(reason)
	if err != nil {
		return 0, err
	}

	var stale []repository.PayoutRelease
	err = s.store.RunInTx(ctx, func(qtx *repository.Queries) error {
		var err error
		stale, err = qtx.GetStaleReservedReleases(ctx, repository.GetStaleReservedReleasesParams{
			UpdatedAt: repository.ToTimestamptz(cutoff),
			Limit:     batchSize,
		})
		if err != nil {
			return fmt.Errorf("load stale reservations: %w", err)
		}
		for _, row := range stale {
			rows, err := qtx.UpdatePayoutReleaseOutcome(ctx, repository.UpdatePayoutReleaseOutcomeParams{
				Status:        domain.ReleaseStatusUnconfirmed,
				FailureReason: &reason,
				ReleaseUuid:   row.ReleaseUuid,
			})
			if err != nil {
				return fmt.Errorf("mark stale reservation %s unconfirmed: %w", repository.FromPgUUID(row.ReleaseUuid), err)
			}
			if err := requireExactlyOne(rows, "mark stale reservation unconfirmed"); err != nil {
				return err
			}
			if err := s.audit.Write(ctx, qtx, domain.AuditEntityRelease, repository.FromPgUUID(row.ReleaseUuid).String(), "", "recover_stale", domain.ReleaseStatusReserved, domain.ReleaseStatusUnconfirmed, metadata); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	if len(stale) > 0 {
		zap.L().Warn("moved stale reservations to review", zap.Int("count", len(stale)))
	}
	return len(stale), nil
}
