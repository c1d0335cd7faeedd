package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ayo6706/owa-release/internal/domain"
	"github.com/ayo6706/owa-release/internal/models"
	"github.com/ayo6706/owa-release/internal/repository"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

// PeriodLister is the filtered period read model.
type PeriodLister interface {
	ListPeriods(ctx context.Context, filter repository.PeriodFilter) ([]repository.Period, error)
}

// PeriodService administers period lifecycle outside issuance and release.
type PeriodService struct {
	store  QueryStore
	lister PeriodLister
	audit  *AuditService
	now    func() time.Time
}

func NewPeriodService(store QueryStore, lister PeriodLister) *PeriodService {
	return &PeriodService{
		store:  store,
		lister: lister,
		audit:  NewAuditService(store),
		now:    time.Now,
	}
}

type CreatePeriodRequest struct {
	Scope               domain.Scope
	AccruedCents        int64
	FinalLiabilityCents int64
	ActorID             string
}

// CreatePeriod opens a new period.
func (s *PeriodService) CreatePeriod(ctx context.Context, req CreatePeriodRequest) (*models.Period, error) {
	scope := domain.NewScope(req.Scope.ABN, req.Scope.TaxType, req.Scope.PeriodID)
	if err := scope.Validate(); err != nil {
		return nil, err
	}
	if req.AccruedCents < 0 || req.FinalLiabilityCents < 0 {
		return nil, domain.NewValidationError("liability", "amounts must not be negative")
	}

	var row repository.Period
	err := s.store.RunInTx(ctx, func(qtx *repository.Queries) error {
		var err error
		row, err = qtx.CreatePeriod(ctx, repository.CreatePeriodParams{
			Abn:                 scope.ABN,
			TaxType:             scope.TaxType,
			PeriodID:            scope.PeriodID,
			AccruedCents:        req.AccruedCents,
			FinalLiabilityCents: req.FinalLiabilityCents,
		})
		if err != nil {
			if repository.UniqueViolation(err, "periods_pkey") {
				return domain.ErrPeriodExists
			}
			return fmt.Errorf("create period: %w", err)
		}
		return s.audit.Write(ctx, qtx, domain.AuditEntityPeriod, scope.String(), req.ActorID, "created", "", domain.PeriodStateOpen, nil)
	})
	if err != nil {
		return nil, err
	}
	period, err := toPeriod(row)
	if err != nil {
		return nil, err
	}
	return &period, nil
}

func (s *PeriodService) GetPeriod(ctx context.Context, scope domain.Scope) (*models.Period, error) {
	scope = domain.NewScope(scope.ABN, scope.TaxType, scope.PeriodID)
	if err := scope.Validate(); err != nil {
		return nil, err
	}
	row, err := s.store.Queries().GetPeriod(ctx, periodKey(scope))
	if err != nil {
		return nil, periodLookupErr(err)
	}
	period, err := toPeriod(row)
	if err != nil {
		return nil, err
	}
	return &period, nil
}

func (s *PeriodService) ListPeriods(ctx context.Context, filter repository.PeriodFilter) ([]models.Period, error) {
	filter.Limit, filter.Offset = clampPage(filter.Limit, filter.Offset)
	filter.TaxType = strings.ToUpper(strings.TrimSpace(filter.TaxType))
	filter.State = normalizeState(filter.State)
	rows, err := s.lister.ListPeriods(ctx, filter)
	if err != nil {
		return nil, err
	}
	out := make([]models.Period, 0, len(rows))
	for _, row := range rows {
		p, err := toPeriod(row)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

// RecordAnomalyVector stores the upstream scorer's vector. It is only accepted
// before issuance, while the period is OPEN or CLOSING.
func (s *PeriodService) RecordAnomalyVector(ctx context.Context, scope domain.Scope, vector domain.AnomalyVector, actorID string) (*models.Period, error) {
	scope = domain.NewScope(scope.ABN, scope.TaxType, scope.PeriodID)
	if err := scope.Validate(); err != nil {
		return nil, err
	}
	if vector.GapMinutes < 0 {
		return nil, domain.NewValidationError("gap_minutes", "must not be negative")
	}
	encoded, err := json.Marshal(vector)
	if err != nil {
		return nil, fmt.Errorf("encode anomaly vector: %w", err)
	}

	err = s.store.RunInTx(ctx, func(qtx *repository.Queries) error {
		period, err := qtx.GetPeriodForUpdate(ctx, periodKey(scope))
		if err != nil {
			return periodLookupErr(err)
		}
		if period.State != domain.PeriodStateOpen && period.State != domain.PeriodStateClosing {
			return fmt.Errorf("%w: anomaly vector is fixed once the period is %s", domain.ErrInvalidPeriodState, period.State)
		}
		rows, err := qtx.UpdatePeriodAnomalyVector(ctx, repository.UpdatePeriodAnomalyVectorParams{
			AnomalyVector: encoded,
			Abn:           scope.ABN,
			TaxType:       scope.TaxType,
			PeriodID:      scope.PeriodID,
		})
		if err != nil {
			return fmt.Errorf("update anomaly vector: %w", err)
		}
		if err := requireExactlyOne(rows, "update anomaly vector"); err != nil {
			return err
		}
		return s.audit.Write(ctx, qtx, domain.AuditEntityPeriod, scope.String(), actorID, "anomaly_scored", period.State, period.State, encoded)
	})
	if err != nil {
		return nil, err
	}
	return s.GetPeriod(ctx, scope)
}

// ClosePeriodRequest optionally restates the liability as the period closes.
type ClosePeriodRequest struct {
	Scope               domain.Scope
	AccruedCents        *int64
	FinalLiabilityCents *int64
	ActorID             string
}

// ClosePeriod moves an OPEN period to CLOSING, making it eligible for issuance.
// A CLOSING period may be closed again to restate its liability. A READY_RPT
// period can only be reopened for issuance once its RPT has expired or been
// revoked; in-flight and released periods are refused.
func (s *PeriodService) ClosePeriod(ctx context.Context, req ClosePeriodRequest) (*models.Period, error) {
	scope := domain.NewScope(req.Scope.ABN, req.Scope.TaxType, req.Scope.PeriodID)
	if err := scope.Validate(); err != nil {
		return nil, err
	}
	err := s.store.RunInTx(ctx, func(qtx *repository.Queries) error {
		current, err := qtx.GetPeriodForUpdate(ctx, periodKey(scope))
		if err != nil {
			return periodLookupErr(err)
		}
		var active *repository.RptToken
		if current.State == domain.PeriodStateReadyRPT {
			token, err := qtx.GetActiveRptToken(ctx, periodKey(scope))
			switch {
			case err == nil:
				active = &token
			case !errors.Is(err, pgx.ErrNoRows):
				return fmt.Errorf("get active rpt: %w", err)
			}
		}
		expire, err := checkClosable(current.State, active, s.now())
		if err != nil {
			return err
		}
		if expire {
			if _, err := qtx.UpdateRptTokenStatus(ctx, repository.UpdateRptTokenStatusParams{
				Status: domain.RPTStatusExpired,
				ID:     active.ID,
			}); err != nil {
				return fmt.Errorf("expire rpt: %w", err)
			}
		}

		if req.AccruedCents != nil || req.FinalLiabilityCents != nil {
			accrued, final := current.AccruedCents, current.FinalLiabilityCents
			if req.AccruedCents != nil {
				accrued = *req.AccruedCents
			}
			if req.FinalLiabilityCents != nil {
				final = *req.FinalLiabilityCents
			}
			if accrued < 0 || final < 0 {
				return domain.NewValidationError("liability", "amounts must not be negative")
			}
			rows, err := qtx.UpdatePeriodLiability(ctx, repository.UpdatePeriodLiabilityParams{
				AccruedCents:        accrued,
				FinalLiabilityCents: final,
				Abn:                 scope.ABN,
				TaxType:             scope.TaxType,
				PeriodID:            scope.PeriodID,
			})
			if err != nil {
				return fmt.Errorf("update liability: %w", err)
			}
			if err := requireExactlyOne(rows, "update liability"); err != nil {
				return err
			}
		}
		return transitionPeriodState(ctx, qtx, s.audit, scope, domain.PeriodStateClosing, req.ActorID, "closed", nil)
	})
	if err != nil {
		return nil, err
	}
	zap.L().Info("period closed", zap.String("scope", scope.String()))
	return s.GetPeriod(ctx, scope)
}

// checkClosable reports whether a period in state may be closed, and whether
// its still-active but lapsed RPT must be marked expired first.
func checkClosable(state string, active *repository.RptToken, now time.Time) (bool, error) {
	switch state {
	case domain.PeriodStateOpen, domain.PeriodStateClosing:
		return false, nil
	case domain.PeriodStateReadyRPT:
		if active == nil {
			return false, nil
		}
		if active.ExpiresAt.Valid && !now.Before(active.ExpiresAt.Time) {
			return true, nil
		}
		return false, fmt.Errorf("%w: period has an active rpt until %s", domain.ErrInvalidPeriodState, active.ExpiresAt.Time.UTC().Format(time.RFC3339))
	default:
		return false, fmt.Errorf("%w: cannot close a %s period", domain.ErrInvalidPeriodState, state)
	}
}

// Remediate returns a BLOCKED_ANOMALY period to OPEN once the operator has dealt
// with the anomaly; it must then be closed and issued again.
func (s *PeriodService) Remediate(ctx context.Context, scope domain.Scope, reason, actorID string) (*models.Period, error) {
	scope = domain.NewScope(scope.ABN, scope.TaxType, scope.PeriodID)
	if err := scope.Validate(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(reason) == "" {
		return nil, domain.NewValidationError("reason", "is required")
	}
	metadata, err := marshalReasonMetadata(reason)
	if err != nil {
		return nil, err
	}
	err = s.store.RunInTx(ctx, func(qtx *repository.Queries) error {
		period, err := qtx.GetPeriodForUpdate(ctx, periodKey(scope))
		if err != nil {
			return periodLookupErr(err)
		}
		if period.State != domain.PeriodStateBlockedAnomaly {
			return fmt.Errorf("%w: only %s periods can be remediated", domain.ErrInvalidPeriodState, domain.PeriodStateBlockedAnomaly)
		}
		return transitionPeriodState(ctx, qtx, s.audit, scope, domain.PeriodStateOpen, actorID, "remediated", metadata)
	})
	if err != nil {
		return nil, err
	}
	zap.L().Info("period remediated", zap.String("scope", scope.String()), zap.String("reason", reason))
	return s.GetPeriod(ctx, scope)
}
