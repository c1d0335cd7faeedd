package service

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ayo6706/owa-release/internal/canonical"
	"github.com/ayo6706/owa-release/internal/domain"
	"github.com/ayo6706/owa-release/internal/kms"
	"github.com/ayo6706/owa-release/internal/models"
	"github.com/ayo6706/owa-release/internal/observability"
	"github.com/ayo6706/owa-release/internal/repository"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const defaultRPTTTL = 24 * time.Hour

// IssuerService gates a closing period on its anomaly vector, signs the release
// payment token and flips the period to READY_RPT.
type IssuerService struct {
	store  QueryStore
	signer kms.Signer
	audit  *AuditService
	ttl    time.Duration
	now    func() time.Time
}

func NewIssuerService(store QueryStore, signer kms.Signer, ttl time.Duration) *IssuerService {
	if ttl <= 0 {
		ttl = defaultRPTTTL
	}
	return &IssuerService{
		store:  store,
		signer: signer,
		audit:  NewAuditService(store),
		ttl:    ttl,
		now:    time.Now,
	}
}

// IssueRequest carries the thresholds the period is gated on. Rail defaults to
// EFT and Reference to "abn-taxType-periodId".
type IssueRequest struct {
	Scope      domain.Scope
	Thresholds domain.Thresholds
	Rail       string
	Reference  string
	ActorID    string
}

type signedPayload struct {
	payload   models.RPTPayload
	c14n      []byte
	sha256    string
	signature string
	expiresAt time.Time
}

// IssueRPT issues a token for a CLOSING period. A breached threshold moves the
// period to BLOCKED_ANOMALY without any signing call. The token only exists once
// the persisting transaction commits; a failure there discards the signature.
func (s *IssuerService) IssueRPT(ctx context.Context, req IssueRequest) (*models.RPTToken, error) {
	req.Scope = domain.NewScope(req.Scope.ABN, req.Scope.TaxType, req.Scope.PeriodID)
	if err := req.Scope.Validate(); err != nil {
		return nil, err
	}

	queries := s.store.Queries()
	row, err := queries.GetPeriod(ctx, periodKey(req.Scope))
	if err != nil {
		return nil, periodLookupErr(err)
	}
	period, err := toPeriod(row)
	if err != nil {
		return nil, err
	}
	if period.State != domain.PeriodStateClosing {
		return nil, fmt.Errorf("%w: issuance requires %s, period is %s", domain.ErrInvalidPeriodState, domain.PeriodStateClosing, period.State)
	}

	entries, err := queries.ListLedgerEntries(ctx, periodKey(req.Scope))
	if err != nil {
		return nil, fmt.Errorf("list ledger entries: %w", err)
	}
	hashes := make([]string, 0, len(entries))
	for _, e := range entries {
		hashes = append(hashes, e.HashAfter)
	}

	signed, err := s.authorize(ctx, period, hashes, req)
	if err != nil {
		var blocked *domain.BlockedAnomalyError
		if errors.As(err, &blocked) {
			s.recordBlock(ctx, req, blocked)
		}
		return nil, err
	}

	token, err := s.persist(ctx, req, signed)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidPeriodState) {
			return nil, err
		}
		zap.L().Error("rpt signed but not persisted; signature discarded",
			zap.String("scope", req.Scope.String()),
			zap.String("nonce", signed.payload.Nonce),
			zap.Error(err),
		)
		return nil, fmt.Errorf("%w: %w", domain.ErrPersistFailed, err)
	}

	observability.IncrementRPTIssued(req.Scope.TaxType)
	zap.L().Info("rpt issued",
		zap.String("scope", req.Scope.String()),
		zap.Int64("rpt_id", token.ID),
		zap.Int64("amount_cents", signed.payload.AmountCents),
		zap.String("kid", token.KeyID),
	)
	return token, nil
}

// authorize runs the anomaly gate and, only if it passes, signs the canonical payload.
func (s *IssuerService) authorize(ctx context.Context, period models.Period, ledgerHashes []string, req IssueRequest) (signedPayload, error) {
	discrepancy := period.FinalLiabilityCents - period.CreditedToOWACents
	if breaches := period.AnomalyVector.Breaches(req.Thresholds, discrepancy); len(breaches) > 0 {
		return signedPayload{}, &domain.BlockedAnomalyError{Breaches: breaches}
	}

	rail := domain.RailEFT
	if strings.TrimSpace(req.Rail) != "" {
		parsed, err := domain.ParseRail(req.Rail)
		if err != nil {
			return signedPayload{}, err
		}
		rail = parsed
	}
	reference := strings.TrimSpace(req.Reference)
	if reference == "" {
		reference = fmt.Sprintf("%s-%s-%s", period.ABN, period.TaxType, period.PeriodID)
	}
	if period.FinalLiabilityCents <= 0 {
		return signedPayload{}, domain.NewValidationError("final_liability_cents", "must be positive to issue an rpt")
	}

	merkleRoot, err := MerkleRoot(ledgerHashes)
	if err != nil {
		return signedPayload{}, fmt.Errorf("compute merkle root: %w", err)
	}
	runningHash := ""
	if period.RunningBalanceHash != nil {
		runningHash = *period.RunningBalanceHash
	}
	expiresAt := s.now().UTC().Add(s.ttl).Truncate(time.Second)

	payload := models.RPTPayload{
		EntityID:           period.ABN,
		PeriodID:           period.PeriodID,
		TaxType:            period.TaxType,
		AmountCents:        period.FinalLiabilityCents,
		MerkleRoot:         merkleRoot,
		RunningBalanceHash: runningHash,
		AnomalyVector:      period.AnomalyVector,
		Thresholds:         req.Thresholds,
		RailID:             rail,
		Reference:          reference,
		ExpiryTS:           expiresAt.Format(time.RFC3339),
		Nonce:              uuid.NewString(),
		KeyID:              s.signer.KeyID(),
	}
	c14n, err := canonical.Marshal(payload)
	if err != nil {
		return signedPayload{}, fmt.Errorf("canonicalize rpt payload: %w", err)
	}
	sum := sha256.Sum256(c14n)

	sig, err := s.signer.Sign(ctx, c14n)
	if err != nil {
		return signedPayload{}, fmt.Errorf("%w: %w", domain.ErrKMSUnavailable, err)
	}

	return signedPayload{
		payload:   payload,
		c14n:      c14n,
		sha256:    hex.EncodeToString(sum[:]),
		signature: base64.StdEncoding.EncodeToString(sig),
		expiresAt: expiresAt,
	}, nil
}

func (s *IssuerService) persist(ctx context.Context, req IssueRequest, signed signedPayload) (*models.RPTToken, error) {
	thresholds, err := json.Marshal(req.Thresholds)
	if err != nil {
		return nil, fmt.Errorf("encode thresholds: %w", err)
	}

	var token repository.RptToken
	err = s.store.RunInTx(ctx, func(qtx *repository.Queries) error {
		if err := transitionPeriodState(ctx, qtx, s.audit, req.Scope, domain.PeriodStateReadyRPT, req.ActorID, "rpt_issued", signed.c14n); err != nil {
			return err
		}

		var err error
		token, err = qtx.InsertRptToken(ctx, repository.InsertRptTokenParams{
			Abn:           req.Scope.ABN,
			TaxType:       req.Scope.TaxType,
			PeriodID:      req.Scope.PeriodID,
			Payload:       signed.c14n,
			PayloadC14n:   string(signed.c14n),
			PayloadSha256: signed.sha256,
			Signature:     signed.signature,
			Kid:           signed.payload.KeyID,
			Nonce:         signed.payload.Nonce,
			Status:        domain.RPTStatusActive,
			ExpiresAt:     repository.ToTimestamptz(signed.expiresAt),
		})
		if err != nil {
			if repository.UniqueViolation(err, "rpt_tokens_one_active_per_period") {
				return fmt.Errorf("%w: period already has an active rpt", domain.ErrInvalidPeriodState)
			}
			return fmt.Errorf("insert rpt token: %w", err)
		}

		merkleRoot := signed.payload.MerkleRoot
		rows, err := qtx.UpdatePeriodIssuance(ctx, repository.UpdatePeriodIssuanceParams{
			MerkleRoot: &merkleRoot,
			Thresholds: thresholds,
			Abn:        req.Scope.ABN,
			TaxType:    req.Scope.TaxType,
			PeriodID:   req.Scope.PeriodID,
		})
		if err != nil {
			return fmt.Errorf("record issuance on period: %w", err)
		}
		if err := requireExactlyOne(rows, "record issuance on period"); err != nil {
			return err
		}

		return s.audit.Write(ctx, qtx, domain.AuditEntityRPT, fmt.Sprint(token.ID), req.ActorID, "issued", "", domain.RPTStatusActive, nil)
	})
	if err != nil {
		return nil, err
	}
	out := toRPTToken(token)
	return &out, nil
}

func (s *IssuerService) recordBlock(ctx context.Context, req IssueRequest, blocked *domain.BlockedAnomalyError) {
	metadata, err := json.Marshal(map[string]any{
		"breaches":   blocked.Breaches,
		"thresholds": req.Thresholds,
	})
	if err != nil {
		zap.L().Error("marshal anomaly block metadata", zap.Error(err))
		return
	}
	if err := s.store.RunInTx(ctx, func(qtx *repository.Queries) error {
		return transitionPeriodState(ctx, qtx, s.audit, req.Scope, domain.PeriodStateBlockedAnomaly, req.ActorID, "anomaly_blocked", metadata)
	}); err != nil {
		zap.L().Error("failed to move period to BLOCKED_ANOMALY", zap.String("scope", req.Scope.String()), zap.Error(err))
		return
	}
	for _, breach := range blocked.Breaches {
		observability.IncrementAnomalyBlock(breach)
	}
	zap.L().Warn("rpt issuance blocked by anomaly gate",
		zap.String("scope", req.Scope.String()),
		zap.Strings("breaches", blocked.Breaches),
	)
}

// verifyToken checks a stored token's digest and signature and decodes its payload.
func verifyToken(ctx context.Context, signer kms.Signer, token repository.RptToken) (models.RPTPayload, error) {
	c14n := []byte(token.PayloadC14n)
	sum := sha256.Sum256(c14n)
	if hex.EncodeToString(sum[:]) != token.PayloadSha256 {
		return models.RPTPayload{}, fmt.Errorf("%w: payload digest mismatch", domain.ErrSignature)
	}
	sig, err := base64.StdEncoding.DecodeString(token.Signature)
	if err != nil {
		return models.RPTPayload{}, fmt.Errorf("%w: decode signature: %w", domain.ErrSignature, err)
	}
	ok, err := signer.Verify(ctx, token.Kid, c14n, sig)
	if err != nil {
		if errors.Is(err, kms.ErrUnknownKey) {
			return models.RPTPayload{}, fmt.Errorf("%w: %w", domain.ErrSignature, err)
		}
		return models.RPTPayload{}, fmt.Errorf("%w: %w", domain.ErrKMSUnavailable, err)
	}
	if !ok {
		return models.RPTPayload{}, fmt.Errorf("%w: signature does not verify", domain.ErrSignature)
	}
	var payload models.RPTPayload
	if err := json.Unmarshal(c14n, &payload); err != nil {
		return models.RPTPayload{}, fmt.Errorf("%w: decode payload: %w", domain.ErrSignature, err)
	}
	return payload, nil
}
