package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ayo6706/owa-release/internal/domain"
	"github.com/ayo6706/owa-release/internal/models"
	"github.com/ayo6706/owa-release/internal/repository"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var issueClock = time.Date(2025, 7, 1, 9, 30, 0, 0, time.UTC)

func newOfflineIssuer(signer *countingSigner) *IssuerService {
	s := NewIssuerService(nil, signer, time.Hour)
	s.now = func() time.Time { return issueClock }
	return s
}

func closingPeriod() models.Period {
	return models.Period{
		ABN:                 "12345678901",
		TaxType:             "GST",
		PeriodID:            "2025-Q1",
		State:               domain.PeriodStateClosing,
		AccruedCents:        20000,
		CreditedToOWACents:  20000,
		FinalLiabilityCents: 20000,
		AnomalyVector: domain.AnomalyVector{
			VarianceRatio:   decimal.RequireFromString("0.1"),
			DupRate:         decimal.Zero,
			GapMinutes:      5,
			DeltaVsBaseline: decimal.RequireFromString("-0.05"),
		},
	}
}

func issueRequest(p models.Period) IssueRequest {
	return IssueRequest{Scope: p.Scope(), Thresholds: testThresholds(0)}
}

func TestAuthorize_BreachNeverSigns(t *testing.T) {
	signer := newCountingSigner()
	issuer := newOfflineIssuer(signer)

	period := closingPeriod()
	period.AnomalyVector.VarianceRatio = decimal.RequireFromString("0.5")
	period.AnomalyVector.GapMinutes = 600

	_, err := issuer.authorize(context.Background(), period, nil, issueRequest(period))
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrBlockedAnomaly)

	var blocked *domain.BlockedAnomalyError
	require.True(t, errors.As(err, &blocked))
	assert.Equal(t, []string{"variance_ratio", "gap_minutes"}, blocked.Breaches)
	assert.Equal(t, 0, signer.Signs())
}

func TestAuthorize_LiabilityGapBlocks(t *testing.T) {
	signer := newCountingSigner()
	issuer := newOfflineIssuer(signer)

	period := closingPeriod()
	period.CreditedToOWACents = 15000

	_, err := issuer.authorize(context.Background(), period, nil, issueRequest(period))
	assert.ErrorIs(t, err, domain.ErrBlockedAnomaly)
	assert.Equal(t, 0, signer.Signs())
}

func TestAuthorize_SignsCanonicalPayload(t *testing.T) {
	signer := newCountingSigner()
	issuer := newOfflineIssuer(signer)
	period := closingPeriod()
	hashes := []string{ChainHash("", "r0", 20000)}

	signed, err := issuer.authorize(context.Background(), period, hashes, issueRequest(period))
	require.NoError(t, err)
	assert.Equal(t, 1, signer.Signs())

	assert.Equal(t, int64(20000), signed.payload.AmountCents)
	assert.Equal(t, domain.RailEFT, signed.payload.RailID)
	assert.Equal(t, "12345678901-GST-2025-Q1", signed.payload.Reference)
	assert.Equal(t, "2025-07-01T10:30:00Z", signed.payload.ExpiryTS)
	assert.Equal(t, hashes[0], signed.payload.MerkleRoot)
	assert.Equal(t, "mock-dev", signed.payload.KeyID)
	assert.NotEmpty(t, signed.payload.Nonce)

	token := repository.RptToken{
		PayloadC14n:   string(signed.c14n),
		PayloadSha256: signed.sha256,
		Signature:     signed.signature,
		Kid:           signed.payload.KeyID,
	}
	payload, err := verifyToken(context.Background(), signer, token)
	require.NoError(t, err)
	assert.Equal(t, signed.payload.Nonce, payload.Nonce)
	assert.Equal(t, signed.payload.AmountCents, payload.AmountCents)
}

func TestAuthorize_NoncesAreUnique(t *testing.T) {
	issuer := newOfflineIssuer(newCountingSigner())
	period := closingPeriod()

	first, err := issuer.authorize(context.Background(), period, nil, issueRequest(period))
	require.NoError(t, err)
	second, err := issuer.authorize(context.Background(), period, nil, issueRequest(period))
	require.NoError(t, err)
	assert.NotEqual(t, first.payload.Nonce, second.payload.Nonce)
	assert.NotEqual(t, first.signature, second.signature)
}

func TestAuthorize_Rejections(t *testing.T) {
	t.Run("kms failure", func(t *testing.T) {
		signer := newCountingSigner()
		signer.err = errors.New("hsm offline")
		period := closingPeriod()
		_, err := newOfflineIssuer(signer).authorize(context.Background(), period, nil, issueRequest(period))
		assert.ErrorIs(t, err, domain.ErrKMSUnavailable)
	})

	t.Run("zero liability", func(t *testing.T) {
		signer := newCountingSigner()
		period := closingPeriod()
		period.FinalLiabilityCents = 0
		period.CreditedToOWACents = 0
		_, err := newOfflineIssuer(signer).authorize(context.Background(), period, nil, issueRequest(period))
		assert.ErrorIs(t, err, domain.ErrValidation)
		assert.Equal(t, 0, signer.Signs())
	})

	t.Run("unknown rail", func(t *testing.T) {
		period := closingPeriod()
		req := issueRequest(period)
		req.Rail = "SWIFT"
		_, err := newOfflineIssuer(newCountingSigner()).authorize(context.Background(), period, nil, req)
		assert.ErrorIs(t, err, domain.ErrValidation)
	})
}

func TestVerifyToken_Tampering(t *testing.T) {
	signer := newCountingSigner()
	period := closingPeriod()
	signed, err := newOfflineIssuer(signer).authorize(context.Background(), period, nil, issueRequest(period))
	require.NoError(t, err)

	valid := repository.RptToken{
		PayloadC14n:   string(signed.c14n),
		PayloadSha256: signed.sha256,
		Signature:     signed.signature,
		Kid:           signed.payload.KeyID,
	}

	t.Run("payload edited", func(t *testing.T) {
		token := valid
		token.PayloadC14n = token.PayloadC14n[:len(token.PayloadC14n)-1] + " }"
		_, err := verifyToken(context.Background(), signer, token)
		assert.ErrorIs(t, err, domain.ErrSignature)
	})

	t.Run("digest recomputed but signature stale", func(t *testing.T) {
		other, err := newOfflineIssuer(signer).authorize(context.Background(), period, nil, issueRequest(period))
		require.NoError(t, err)
		token := valid
		token.PayloadC14n = string(other.c14n)
		token.PayloadSha256 = other.sha256
		_, err = verifyToken(context.Background(), signer, token)
		assert.ErrorIs(t, err, domain.ErrSignature)
	})

	t.Run("unknown kid", func(t *testing.T) {
		token := valid
		token.Kid = "retired-2019"
		_, err := verifyToken(context.Background(), signer, token)
		assert.ErrorIs(t, err, domain.ErrSignature)
	})

	t.Run("garbage signature", func(t *testing.T) {
		token := valid
		token.Signature = "%%%"
		_, err := verifyToken(context.Background(), signer, token)
		assert.ErrorIs(t, err, domain.ErrSignature)
	})
}
