package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/ayo6706/owa-release/internal/domain"
	"github.com/ayo6706/owa-release/internal/models"
	"github.com/ayo6706/owa-release/internal/observability"
	"github.com/ayo6706/owa-release/internal/repository"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

const defaultMatchWindow = 3 * 24 * time.Hour

// ReconciliationService ingests bank statements and matches their lines to releases.
type ReconciliationService struct {
	store  QueryStore
	window time.Duration
}

// NewReconciliationService creates a reconciliation service. window bounds the
// amount+date fallback match.
func NewReconciliationService(store QueryStore, window time.Duration) *ReconciliationService {
	if window <= 0 {
		window = defaultMatchWindow
	}
	return &ReconciliationService{store: store, window: window}
}

// matchCandidate is a release that could explain a statement line.
type matchCandidate struct {
	ReleaseUUID uuid.UUID
	Reference   string
	ProviderRef string
	Date        time.Time
}

type matchOutcome struct {
	ReleaseUUID uuid.UUID
	Strategy    string
}

// matchLine picks the release a statement line settles. A reference hit (release
// reference or provider ref, case-insensitive) wins outright; without one, the
// unique closest candidate inside the window wins. Ties leave the line unresolved.
func matchLine(reference string, lineDate time.Time, candidates []matchCandidate, window time.Duration) (matchOutcome, bool) {
	ref := strings.TrimSpace(reference)
	if ref != "" {
		var hits []matchCandidate
		for _, c := range candidates {
			if strings.EqualFold(ref, c.Reference) || (c.ProviderRef != "" && strings.EqualFold(ref, c.ProviderRef)) {
				hits = append(hits, c)
			}
		}
		switch len(hits) {
		case 1:
			return matchOutcome{ReleaseUUID: hits[0].ReleaseUUID, Strategy: domain.MatchStrategyReference}, true
		case 0:
		default:
			return matchOutcome{}, false
		}
	}

	best := -1
	bestDist := time.Duration(-1)
	tie := false
	for i, c := range candidates {
		dist := lineDate.Sub(c.Date)
		if dist < 0 {
			dist = -dist
		}
		if dist > window {
			continue
		}
		switch {
		case best == -1 || dist < bestDist:
			best, bestDist, tie = i, dist, false
		case dist == bestDist:
			tie = true
		}
	}
	if best == -1 || tie {
		return matchOutcome{}, false
	}
	return matchOutcome{ReleaseUUID: candidates[best].ReleaseUUID, Strategy: domain.MatchStrategyAmountDate}, true
}

func candidateFromRelease(row repository.PayoutRelease) matchCandidate {
	c := matchCandidate{
		ReleaseUUID: repository.FromPgUUID(row.ReleaseUuid),
		Reference:   row.Reference,
		Date:        calendarDay(row.CreatedAt.Time),
	}
	if row.ProviderRef != nil {
		c.ProviderRef = *row.ProviderRef
	}
	if row.ProviderPaidAt.Valid {
		c.Date = calendarDay(row.ProviderPaidAt.Time)
	}
	return c
}

func calendarDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Ingest upserts the statement lines and matches every unresolved one, in one
// transaction. A line already MATCHED is left as it was.
func (s *ReconciliationService) Ingest(ctx context.Context, lines []StatementInput) (*models.ImportResult, error) {
	result := &models.ImportResult{}
	err := s.store.RunInTx(ctx, func(qtx *repository.Queries) error {
		var pending []repository.BankStatementLine
		for _, line := range lines {
			row, err := qtx.UpsertStatementLine(ctx, repository.UpsertStatementLineParams{
				BankTxnID:     line.BankTxnID,
				Abn:           line.ABN,
				StatementDate: repository.ToDate(line.StatementDate),
				AmountCents:   line.AmountCents,
				Reference:     line.Reference,
			})
			if err != nil {
				if errors.Is(err, pgx.ErrNoRows) {
					continue
				}
				return fmt.Errorf("upsert statement line %s: %w", line.BankTxnID, err)
			}
			result.Imported++
			pending = append(pending, row)
		}

		sort.Slice(pending, func(i, j int) bool {
			a, b := pending[i], pending[j]
			if !a.StatementDate.Time.Equal(b.StatementDate.Time) {
				return a.StatementDate.Time.Before(b.StatementDate.Time)
			}
			return a.BankTxnID < b.BankTxnID
		})

		matched, err := s.matchLines(ctx, qtx, pending)
		if err != nil {
			return err
		}
		result.Matched = matched
		result.Unresolved = len(pending) - matched
		return nil
	})
	if err != nil {
		return nil, err
	}

	zap.L().Info("statement imported",
		zap.Int("imported", result.Imported),
		zap.Int("matched", result.Matched),
		zap.Int("unresolved", result.Unresolved),
	)
	return result, nil
}

// matchLines runs the matcher over lines in order; earlier matches remove their
// release from later candidate sets.
func (s *ReconciliationService) matchLines(ctx context.Context, qtx *repository.Queries, lines []repository.BankStatementLine) (int, error) {
	matched := 0
	for _, line := range lines {
		amount := line.AmountCents
		if amount > 0 {
			amount = -amount
		}
		rows, err := qtx.ListMatchCandidates(ctx, repository.ListMatchCandidatesParams{
			Abn:         line.Abn,
			AmountCents: amount,
		})
		if err != nil {
			return 0, fmt.Errorf("list match candidates for %s: %w", line.BankTxnID, err)
		}
		candidates := make([]matchCandidate, 0, len(rows))
		for _, row := range rows {
			candidates = append(candidates, candidateFromRelease(row))
		}

		outcome, ok := matchLine(line.Reference, calendarDay(line.StatementDate.Time), candidates, s.window)
		if !ok {
			continue
		}

		strategy := outcome.Strategy
		n, err := qtx.MarkStatementLineMatched(ctx, repository.MarkStatementLineMatchedParams{
			MatchStrategy:      &strategy,
			MatchedReleaseUuid: repository.ToPgUUID(outcome.ReleaseUUID),
			BankTxnID:          line.BankTxnID,
		})
		if err != nil {
			return 0, fmt.Errorf("mark statement line %s matched: %w", line.BankTxnID, err)
		}
		if err := requireExactlyOne(n, "mark statement line matched"); err != nil {
			return 0, err
		}
		txnID := line.BankTxnID
		n, err = qtx.MarkPayoutReleaseMatched(ctx, repository.MarkPayoutReleaseMatchedParams{
			MatchedBankTxnID: &txnID,
			MatchStrategy:    &strategy,
			ReleaseUuid:      repository.ToPgUUID(outcome.ReleaseUUID),
		})
		if err != nil {
			return 0, fmt.Errorf("mark release %s matched: %w", outcome.ReleaseUUID, err)
		}
		if err := requireExactlyOne(n, "mark release matched"); err != nil {
			return 0, err
		}

		observability.IncrementStatementMatch(strategy)
		matched++
	}
	return matched, nil
}

// MatchUnresolved re-runs the matcher over unresolved lines, for releases that
// were finalized after their statement arrived.
func (s *ReconciliationService) MatchUnresolved(ctx context.Context, batchSize int32) (int, error) {
	matched := 0
	err := s.store.RunInTx(ctx, func(qtx *repository.Queries) error {
		lines, err := qtx.ClaimUnresolvedStatementLines(ctx, batchSize)
		if err != nil {
			return fmt.Errorf("claim unresolved statement lines: %w", err)
		}
		matched, err = s.matchLines(ctx, qtx, lines)
		return err
	})
	if err != nil {
		return 0, err
	}
	if matched > 0 {
		zap.L().Info("matched previously unresolved statement lines", zap.Int("matched", matched))
	}
	return matched, nil
}

// UnresolvedLines is the triage queue of statement lines nobody could explain.
func (s *ReconciliationService) UnresolvedLines(ctx context.Context, limit, offset int32) ([]models.StatementLine, error) {
	limit, offset = clampPage(limit, offset)
	rows, err := s.store.Queries().ListUnresolvedStatementLines(ctx, repository.ListUnresolvedStatementLinesParams{
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		return nil, fmt.Errorf("list unresolved statement lines: %w", err)
	}
	out := make([]models.StatementLine, 0, len(rows))
	for _, row := range rows {
		out = append(out, toStatementLine(row))
	}
	return out, nil
}

func (s *ReconciliationService) UnresolvedCount(ctx context.Context) (int64, error) {
	count, err := s.store.Queries().CountUnresolvedStatementLines(ctx)
	if err != nil {
		return 0, fmt.Errorf("count unresolved statement lines: %w", err)
	}
	return count, nil
}
