package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/ayo6706/owa-release/internal/domain"
	"github.com/ayo6706/owa-release/internal/repository"
)

var periodTransitions = map[string]map[string]struct{}{
	domain.PeriodStateOpen: {
		domain.PeriodStateClosing: {},
	},
	domain.PeriodStateClosing: {
		domain.PeriodStateReadyRPT:       {},
		domain.PeriodStateBlockedAnomaly: {},
		domain.PeriodStateOpen:           {},
	},
	domain.PeriodStateBlockedAnomaly: {
		domain.PeriodStateOpen: {},
	},
	domain.PeriodStateReadyRPT: {
		domain.PeriodStateReleasing: {},
		domain.PeriodStateClosing:   {},
	},
	domain.PeriodStateReleasing: {
		domain.PeriodStateReleased: {},
		domain.PeriodStateClosing:  {},
	},
	domain.PeriodStateReleased: {},
}

func normalizeState(state string) string {
	return strings.ToUpper(strings.TrimSpace(state))
}

func canTransition(current, next string) bool {
	nextStates, ok := periodTransitions[normalizeState(current)]
	if !ok {
		return false
	}
	_, ok = nextStates[normalizeState(next)]
	return ok
}

// transitionPeriodState locks the period row, checks the move against the state
// machine, applies it and writes the audit row. A no-op move is accepted.
func transitionPeriodState(ctx context.Context, qtx *repository.Queries, audit *AuditService, scope domain.Scope, nextState, actorID, action string, metadata []byte) error {
	period, err := qtx.GetPeriodForUpdate(ctx, periodKey(scope))
	if err != nil {
		return periodLookupErr(err)
	}

	if normalizeState(period.State) == normalizeState(nextState) {
		return nil
	}
	if !canTransition(period.State, nextState) {
		return fmt.Errorf("%w: %s -> %s", domain.ErrInvalidPeriodState, period.State, nextState)
	}

	rows, err := qtx.UpdatePeriodState(ctx, repository.UpdatePeriodStateParams{
		State:    nextState,
		Abn:      scope.ABN,
		TaxType:  scope.TaxType,
		PeriodID: scope.PeriodID,
	})
	if err != nil {
		return fmt.Errorf("update period state: %w", err)
	}
	if err := requireExactlyOne(rows, "update period state"); err != nil {
		return err
	}

	return audit.Write(ctx, qtx, domain.AuditEntityPeriod, scope.String(), actorID, action, period.State, nextState, metadata)
}

func periodKey(scope domain.Scope) repository.PeriodKey {
	return repository.PeriodKey{Abn: scope.ABN, TaxType: scope.TaxType, PeriodID: scope.PeriodID}
}
