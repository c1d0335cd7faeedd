package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/ayo6706/owa-release/internal/domain"
	"github.com/ayo6706/owa-release/internal/models"
	"github.com/jackc/pgx/v5"
)

// EvidenceService assembles the audit view of a period.
type EvidenceService struct {
	store  QueryStore
	ledger *LedgerService
}

func NewEvidenceService(store QueryStore, ledger *LedgerService) *EvidenceService {
	return &EvidenceService{store: store, ledger: ledger}
}

// Bundle returns the period, its latest RPT, the full ledger with chain status
// and its releases. A broken chain is reported in Chain rather than as an error.
func (s *EvidenceService) Bundle(ctx context.Context, scope domain.Scope) (*models.EvidenceBundle, error) {
	scope = domain.NewScope(scope.ABN, scope.TaxType, scope.PeriodID)
	if err := scope.Validate(); err != nil {
		return nil, err
	}
	queries := s.store.Queries()

	row, err := queries.GetPeriod(ctx, periodKey(scope))
	if err != nil {
		return nil, periodLookupErr(err)
	}
	period, err := toPeriod(row)
	if err != nil {
		return nil, err
	}
	bundle := &models.EvidenceBundle{Period: period}

	token, err := queries.GetLatestRptToken(ctx, periodKey(scope))
	switch {
	case err == nil:
		t := toRPTToken(token)
		bundle.RPT = &t
	case errors.Is(err, pgx.ErrNoRows):
	default:
		return nil, fmt.Errorf("get latest rpt: %w", err)
	}

	bundle.Ledger, err = s.ledger.Entries(ctx, scope)
	if err != nil {
		return nil, err
	}
	bundle.Chain = chainStatus(scope, bundle.Ledger)

	releases, err := queries.ListPayoutReleasesForPeriod(ctx, periodKey(scope))
	if err != nil {
		return nil, fmt.Errorf("list releases: %w", err)
	}
	bundle.Releases = make([]models.Release, 0, len(releases))
	for _, r := range releases {
		bundle.Releases = append(bundle.Releases, toRelease(r))
	}
	return bundle, nil
}

func chainStatus(scope domain.Scope, entries []models.LedgerEntry) models.ChainStatus {
	status := models.ChainStatus{Valid: true, Entries: len(entries)}
	if len(entries) > 0 {
		status.Head = entries[len(entries)-1].HashAfter
	}
	if err := VerifyEntries(scope, entries); err != nil {
		status.Valid = false
		status.Error = err.Error()
	}
	return status
}
