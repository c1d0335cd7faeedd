package service

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"testing"

	"github.com/ayo6706/owa-release/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func signPayload(secret string, body []byte) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(body)
	return "sha256=" + hex.EncodeToString(h.Sum(nil))
}

func depositBody(t *testing.T, scope domain.Scope, amount int64, reference string) []byte {
	t.Helper()
	body, err := json.Marshal(DepositWebhookPayload{
		ABN:         scope.ABN,
		TaxType:     scope.TaxType,
		PeriodID:    scope.PeriodID,
		AmountCents: amount,
		Reference:   reference,
		PaidAt:      "2025-07-28T01:00:00Z",
	})
	require.NoError(t, err)
	return body
}

func TestVerifyHMAC(t *testing.T) {
	svc := NewWebhookService(nil, nil, "secret", false)
	body := []byte(`{"reference":"dep-1"}`)

	assert.True(t, svc.verifyHMAC(body, signPayload("secret", body)))
	assert.False(t, svc.verifyHMAC(body, signPayload("other", body)))
	assert.False(t, svc.verifyHMAC(body, ""))
	assert.False(t, svc.verifyHMAC([]byte(`{"reference":"dep-2"}`), signPayload("secret", body)))

	unkeyed := NewWebhookService(nil, nil, "", false)
	assert.False(t, unkeyed.verifyHMAC(body, signPayload("", body)))

	skipped := NewWebhookService(nil, nil, "", true)
	assert.True(t, skipped.verifyHMAC(body, "anything"))
}

func TestDepositTransferUUID_IsStable(t *testing.T) {
	assert.Equal(t, DepositTransferUUID("dep-1"), DepositTransferUUID("dep-1"))
	assert.NotEqual(t, DepositTransferUUID("dep-1"), DepositTransferUUID("dep-2"))
}

func TestHandleDepositWebhookCreditsLedger(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	scope := uniqueScope()

	_, err := env.periods.CreatePeriod(ctx, CreatePeriodRequest{Scope: scope, AccruedCents: 50000, FinalLiabilityCents: 50000})
	require.NoError(t, err)

	body := depositBody(t, scope, 50000, "dep-1")
	resp, err := env.deposits.HandleDepositWebhook(ctx, body, signPayload("secret", body))
	require.NoError(t, err)
	assert.False(t, resp.Replayed)
	assert.Equal(t, int64(1), resp.Ledger.ID)
	assert.Equal(t, int64(50000), resp.Ledger.BalanceAfterCents)

	replay, err := env.deposits.HandleDepositWebhook(ctx, body, signPayload("secret", body))
	require.NoError(t, err)
	assert.True(t, replay.Replayed)
	assert.Equal(t, resp.Ledger, replay.Ledger)

	period, err := env.periods.GetPeriod(ctx, scope)
	require.NoError(t, err)
	assert.Equal(t, int64(50000), period.CreditedToOWACents)
	require.NotNil(t, period.RunningBalanceHash)
	assert.Equal(t, resp.Ledger.HashAfter, *period.RunningBalanceHash)

	entries, err := env.ledger.Entries(ctx, scope)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "", entries[0].PrevHash)
}

func TestHandleDepositWebhookRejects(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	scope := uniqueScope()

	_, err := env.periods.CreatePeriod(ctx, CreatePeriodRequest{Scope: scope, FinalLiabilityCents: 100})
	require.NoError(t, err)

	body := depositBody(t, scope, 100, "dep-sig")
	_, err = env.deposits.HandleDepositWebhook(ctx, body, signPayload("wrong", body))
	assert.ErrorIs(t, err, domain.ErrWebhookSignature)

	_, err = env.deposits.HandleDepositWebhook(ctx, body, signPayload("secret", body))
	require.NoError(t, err)

	changed := depositBody(t, scope, 999, "dep-sig")
	_, err = env.deposits.HandleDepositWebhook(ctx, changed, signPayload("secret", changed))
	assert.ErrorIs(t, err, domain.ErrDepositMismatch)

	unknown := depositBody(t, domain.NewScope(scope.ABN, "PAYGW", scope.PeriodID), 100, "dep-missing")
	_, err = env.deposits.HandleDepositWebhook(ctx, unknown, signPayload("secret", unknown))
	assert.ErrorIs(t, err, domain.ErrPeriodNotFound)

	negative := depositBody(t, scope, -5, "dep-neg")
	_, err = env.deposits.HandleDepositWebhook(ctx, negative, signPayload("secret", negative))
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestHandleDepositWebhookRefusesIssuedPeriod(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	scope := uniqueScope()

	readyPeriod(t, env, scope, 20000, 20000, "", eftDestination())

	late := depositBody(t, scope, 500, "dep-late")
	_, err := env.deposits.HandleDepositWebhook(ctx, late, signPayload("secret", late))
	assert.ErrorIs(t, err, domain.ErrInvalidPeriodState)

	// The original deposit still replays.
	original := depositBody(t, scope, 20000, "dep-"+scope.ABN)
	replay, err := env.deposits.HandleDepositWebhook(ctx, original, signPayload("secret", original))
	require.NoError(t, err)
	assert.True(t, replay.Replayed)

	entries, err := env.ledger.Entries(ctx, scope)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}
