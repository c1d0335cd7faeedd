package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ayo6706/owa-release/internal/banking"
	"github.com/ayo6706/owa-release/internal/domain"
	"github.com/ayo6706/owa-release/internal/models"
	"github.com/ayo6706/owa-release/internal/repository"
	"github.com/ayo6706/owa-release/internal/resilience"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// readyPeriod takes a fresh period through deposit, close and issuance, and
// allow-lists the destination.
func readyPeriod(t *testing.T, env *testEnv, scope domain.Scope, deposit, liability int64, reference string, dest domain.Destination) *models.RPTToken {
	t.Helper()
	ctx := context.Background()

	_, err := env.periods.CreatePeriod(ctx, CreatePeriodRequest{Scope: scope, AccruedCents: liability, FinalLiabilityCents: liability})
	require.NoError(t, err)

	body := depositBody(t, scope, deposit, "dep-"+scope.ABN)
	_, err = env.deposits.HandleDepositWebhook(ctx, body, signPayload("secret", body))
	require.NoError(t, err)

	_, err = env.periods.ClosePeriod(ctx, ClosePeriodRequest{Scope: scope})
	require.NoError(t, err)

	token, err := env.issuer.IssueRPT(ctx, IssueRequest{
		Scope:      scope,
		Thresholds: testThresholds(deposit),
		Rail:       string(dest.Rail),
		Reference:  reference,
	})
	require.NoError(t, err)

	_, err = env.destinations.Register(ctx, RegisterDestinationRequest{ABN: scope.ABN, Label: "ATO", Destination: dest})
	require.NoError(t, err)
	return token
}

func releaseRequest(key string, scope domain.Scope, amount int64, dest domain.Destination) ReleaseRequest {
	return ReleaseRequest{
		IdempotencyKey: key,
		ABN:            scope.ABN,
		TaxType:        scope.TaxType,
		PeriodID:       scope.PeriodID,
		AmountCents:    amount,
		Destination:    dest,
	}
}

func TestReleaseEndToEnd(t *testing.T) {
	mock := banking.NewMockPort()
	env := newTestEnv(t, mock)
	ctx := context.Background()
	scope := uniqueScope()

	readyPeriod(t, env, scope, 50000, 20000, "", eftDestination())

	result, err := env.releases.Release(ctx, releaseRequest("rel-1", scope, -20000, eftDestination()))
	require.NoError(t, err)
	assert.False(t, result.Replayed)
	assert.Equal(t, int64(2), result.Ledger.ID)
	assert.Equal(t, int64(-20000), result.Ledger.AmountCents)
	assert.Equal(t, int64(30000), result.Ledger.BalanceAfterCents)
	assert.NotEmpty(t, result.Receipt.ProviderRef)

	bundle, err := env.evidence.Bundle(ctx, scope)
	require.NoError(t, err)
	assert.Equal(t, domain.PeriodStateReleased, bundle.Period.State)
	assert.True(t, bundle.Chain.Valid)
	require.Len(t, bundle.Ledger, 2)

	h0 := bundle.Ledger[0].HashAfter
	assert.Equal(t, int64(50000), bundle.Ledger[0].BalanceAfterCents)
	assert.Equal(t, h0, bundle.Ledger[1].PrevHash)
	assert.Equal(t, ChainHash(h0, bundle.Ledger[1].BankReceiptHash, 30000), bundle.Ledger[1].HashAfter)
	assert.Equal(t, result.ReleaseUUID, bundle.Ledger[1].TransferUUID)

	require.Len(t, bundle.Releases, 1)
	assert.Equal(t, domain.ReleaseStatusReleased, bundle.Releases[0].Status)
	require.NotNil(t, bundle.Releases[0].BankReceiptID)
	assert.Equal(t, result.Receipt.ProviderRef, *bundle.Releases[0].BankReceiptID)
	require.NotNil(t, bundle.RPT)
	assert.Equal(t, domain.RPTStatusActive, bundle.RPT.Status)
}

func TestReleaseReplayDoesNotCallBankTwice(t *testing.T) {
	mock := banking.NewMockPort()
	env := newTestEnv(t, mock)
	ctx := context.Background()
	scope := uniqueScope()

	readyPeriod(t, env, scope, 20000, 20000, "", eftDestination())

	first, err := env.releases.Release(ctx, releaseRequest("rel-replay", scope, -20000, eftDestination()))
	require.NoError(t, err)

	second, err := env.releases.Release(ctx, releaseRequest("rel-replay", scope, -20000, eftDestination()))
	require.NoError(t, err)
	assert.True(t, second.Replayed)
	assert.Equal(t, first.ReleaseUUID, second.ReleaseUUID)
	assert.Equal(t, first.Receipt.ProviderRef, second.Receipt.ProviderRef)
	assert.Equal(t, first.Ledger, second.Ledger)
	assert.Equal(t, 1, mock.Executed())

	_, err = env.releases.Release(ctx, releaseRequest("rel-replay", scope, -19999, eftDestination()))
	assert.ErrorIs(t, err, domain.ErrIdempotencyConflict)

	_, err = env.releases.Release(ctx, releaseRequest("rel-other", scope, -20000, eftDestination()))
	assert.ErrorIs(t, err, domain.ErrInvalidPeriodState)

	entries, err := env.ledger.Entries(ctx, scope)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestReleaseReservesRPTExactlyOnce(t *testing.T) {
	mock := banking.NewMockPort()
	mock.Latency = 50 * time.Millisecond
	env := newTestEnv(t, mock)
	ctx := context.Background()
	scope := uniqueScope()

	readyPeriod(t, env, scope, 20000, 20000, "", eftDestination())

	const workers = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key := "rel-race-" + string(rune('a'+i))
			_, err := env.releases.Release(ctx, releaseRequest(key, scope, -20000, eftDestination()))
			if err == nil {
				mu.Lock()
				successes++
				mu.Unlock()
				return
			}
			if !errors.Is(err, domain.ErrAlreadyReserved) && !errors.Is(err, domain.ErrInvalidPeriodState) {
				t.Errorf("unexpected release error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, successes)
	assert.Equal(t, 1, mock.Executed())
	entries, err := env.ledger.Entries(ctx, scope)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestReleaseGuards(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	scope := uniqueScope()

	readyPeriod(t, env, scope, 20000, 20000, "", eftDestination())

	t.Run("positive amount", func(t *testing.T) {
		_, err := env.releases.Release(ctx, releaseRequest("g-1", scope, 20000, eftDestination()))
		assert.ErrorIs(t, err, domain.ErrValidation)
	})

	t.Run("amount differs from rpt", func(t *testing.T) {
		_, err := env.releases.Release(ctx, releaseRequest("g-2", scope, -100, eftDestination()))
		assert.ErrorIs(t, err, domain.ErrValidation)
	})

	t.Run("destination not allow-listed", func(t *testing.T) {
		dest := eftDestination()
		dest.EFT.AccountNumber = "99999999"
		_, err := env.releases.Release(ctx, releaseRequest("g-3", scope, -20000, dest))
		assert.ErrorIs(t, err, domain.ErrAllowlist)
	})

	t.Run("missing key", func(t *testing.T) {
		_, err := env.releases.Release(ctx, releaseRequest(" ", scope, -20000, eftDestination()))
		assert.ErrorIs(t, err, domain.ErrValidation)
	})

	t.Run("unknown period", func(t *testing.T) {
		other := domain.NewScope(scope.ABN, "PAYGW", scope.PeriodID)
		_, err := env.releases.Release(ctx, releaseRequest("g-4", other, -20000, eftDestination()))
		assert.ErrorIs(t, err, domain.ErrPeriodNotFound)
	})
}

func TestReleaseExpiredRPT(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	scope := uniqueScope()

	readyPeriod(t, env, scope, 20000, 20000, "", eftDestination())
	env.releases.now = func() time.Time { return time.Now().Add(48 * time.Hour) }

	_, err := env.releases.Release(ctx, releaseRequest("exp-1", scope, -20000, eftDestination()))
	assert.ErrorIs(t, err, domain.ErrRPTExpired)

	_, err = env.releases.Release(ctx, releaseRequest("exp-2", scope, -20000, eftDestination()))
	assert.ErrorIs(t, err, domain.ErrRPTNotFound)
}

func TestReleaseTransientFailureQueuesForReview(t *testing.T) {
	port := &stubPort{err: banking.Transient(errors.New("gateway timeout"))}
	env := newTestEnv(t, port)
	ctx := context.Background()
	scope := uniqueScope()

	readyPeriod(t, env, scope, 20000, 20000, "", eftDestination())

	_, err := env.releases.Release(ctx, releaseRequest("rel-unc", scope, -20000, eftDestination()))
	assert.ErrorIs(t, err, domain.ErrBankingTransient)

	queue, err := env.releases.ListReviewQueue(ctx, 10, 0)
	require.NoError(t, err)
	require.Len(t, queue, 1)
	assert.Equal(t, domain.ReleaseStatusUnconfirmed, queue[0].Status)

	// EFT cannot be safely resubmitted: a retry waits for reconciliation.
	_, err = env.releases.Release(ctx, releaseRequest("rel-unc", scope, -20000, eftDestination()))
	assert.ErrorIs(t, err, domain.ErrAwaitingReconciliation)
	assert.Equal(t, 1, port.Calls())

	confirmed, err := env.releases.ResolveRelease(ctx, ResolveReleaseRequest{
		ReleaseUUID: queue[0].ReleaseUUID,
		Decision:    DecisionConfirmSent,
		Reason:      "bank portal shows the transfer",
		ProviderRef: "EFT-PORTAL-1",
		PaidAt:      time.Date(2025, 7, 28, 2, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	assert.Equal(t, domain.ReleaseStatusReleased, confirmed.Status)

	replay, err := env.releases.Release(ctx, releaseRequest("rel-unc", scope, -20000, eftDestination()))
	require.NoError(t, err)
	assert.True(t, replay.Replayed)
	assert.Equal(t, "EFT-PORTAL-1", replay.Receipt.ProviderRef)
	assert.Equal(t, int64(0), replay.Ledger.BalanceAfterCents)
}

func TestReleaseRejectedThenVoided(t *testing.T) {
	port := &stubPort{err: banking.Rejected(errors.New("account closed"))}
	env := newTestEnv(t, port)
	ctx := context.Background()
	scope := uniqueScope()

	readyPeriod(t, env, scope, 20000, 20000, "", eftDestination())

	_, err := env.releases.Release(ctx, releaseRequest("rel-rej", scope, -20000, eftDestination()))
	assert.ErrorIs(t, err, domain.ErrBankingRejected)

	_, err = env.releases.Release(ctx, releaseRequest("rel-rej", scope, -20000, eftDestination()))
	assert.ErrorIs(t, err, domain.ErrBankingRejected)
	assert.Equal(t, 1, port.Calls())

	queue, err := env.releases.ListReviewQueue(ctx, 10, 0)
	require.NoError(t, err)
	require.Len(t, queue, 1)

	voided, err := env.releases.ResolveRelease(ctx, ResolveReleaseRequest{
		ReleaseUUID: queue[0].ReleaseUUID,
		Decision:    DecisionVoid,
		Reason:      "destination account closed",
	})
	require.NoError(t, err)
	assert.Equal(t, domain.ReleaseStatusVoided, voided.Status)

	period, err := env.periods.GetPeriod(ctx, scope)
	require.NoError(t, err)
	assert.Equal(t, domain.PeriodStateClosing, period.State)

	_, err = env.releases.Release(ctx, releaseRequest("rel-rej", scope, -20000, eftDestination()))
	assert.ErrorIs(t, err, domain.ErrReleaseVoided)

	// The period can be issued again after the void.
	_, err = env.issuer.IssueRPT(ctx, IssueRequest{Scope: scope, Thresholds: testThresholds(20000)})
	require.NoError(t, err)
}

func TestReleaseRefusesLedgerMovedSinceIssuance(t *testing.T) {
	mock := banking.NewMockPort()
	env := newTestEnv(t, mock)
	ctx := context.Background()
	scope := uniqueScope()

	readyPeriod(t, env, scope, 20000, 20000, "", eftDestination())
	err := env.store.RunInTx(ctx, func(qtx *repository.Queries) error {
		_, err := env.ledger.Append(ctx, qtx, AppendParams{
			Scope:           scope,
			AmountCents:     100,
			BankReceiptHash: "out-of-band",
			TransferUUID:    uuid.New(),
			ProviderPaidAt:  time.Now(),
		})
		return err
	})
	require.NoError(t, err)

	_, err = env.releases.Release(ctx, releaseRequest("rel-drift", scope, -20000, eftDestination()))
	assert.ErrorIs(t, err, domain.ErrInvalidPeriodState)
	assert.Equal(t, 0, mock.Executed())
}

// hangingPort blocks every call until its context ends.
type hangingPort struct {
	stubPort
}

func (p *hangingPort) Release(ctx context.Context, req banking.Request) (banking.Receipt, error) {
	p.mu.Lock()
	p.calls++
	p.mu.Unlock()
	<-ctx.Done()
	return banking.Receipt{}, ctx.Err()
}

func TestReleaseTimeoutIsNotResentOnEFT(t *testing.T) {
	port := &hangingPort{}
	env := newTestEnv(t, port)
	env.releases.policy = resilience.Policy{Attempts: 3, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond, CallTimeout: 20 * time.Millisecond}
	ctx := context.Background()
	scope := uniqueScope()

	readyPeriod(t, env, scope, 20000, 20000, "", eftDestination())

	_, err := env.releases.Release(ctx, releaseRequest("rel-timeout", scope, -20000, eftDestination()))
	assert.ErrorIs(t, err, domain.ErrBankingTransient)
	assert.Equal(t, 1, port.Calls())

	queue, err := env.releases.ListReviewQueue(ctx, 10, 0)
	require.NoError(t, err)
	require.Len(t, queue, 1)
	assert.Equal(t, domain.ReleaseStatusUnconfirmed, queue[0].Status)
}

// shortPayPort executes the transfer but reports a different amount.
type shortPayPort struct {
	stubPort
	shortBy int64
}

func (p *shortPayPort) Release(ctx context.Context, req banking.Request) (banking.Receipt, error) {
	p.mu.Lock()
	p.calls++
	p.mu.Unlock()
	return banking.Receipt{ProviderRef: "BANK-SHORT", PaidAt: time.Now(), AmountCents: -req.AmountCents - p.shortBy}, nil
}

func TestReleaseReceiptAmountMismatchIsNotLedgered(t *testing.T) {
	port := &shortPayPort{shortBy: 1}
	env := newTestEnv(t, port)
	ctx := context.Background()
	scope := uniqueScope()

	readyPeriod(t, env, scope, 20000, 20000, "", eftDestination())

	_, err := env.releases.Release(ctx, releaseRequest("rel-short", scope, -20000, eftDestination()))
	assert.ErrorIs(t, err, domain.ErrAwaitingReconciliation)
	assert.Equal(t, 1, port.Calls())

	queue, err := env.releases.ListReviewQueue(ctx, 10, 0)
	require.NoError(t, err)
	require.Len(t, queue, 1)
	assert.Equal(t, domain.ReleaseStatusUnconfirmed, queue[0].Status)
	require.NotNil(t, queue[0].ProviderRef)
	assert.Equal(t, "BANK-SHORT", *queue[0].ProviderRef)

	entries, err := env.ledger.Entries(ctx, scope)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}
