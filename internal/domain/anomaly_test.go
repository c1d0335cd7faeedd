package domain

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func testThresholds() Thresholds {
	return Thresholds{
		VarianceRatio:   decimal.RequireFromString("0.25"),
		DupRate:         decimal.RequireFromString("0.01"),
		GapMinutes:      60,
		DeltaVsBaseline: decimal.RequireFromString("0.2"),
		EpsilonCents:    50,
	}
}

func TestAnomalyVector_WithinThresholds(t *testing.T) {
	v := AnomalyVector{
		VarianceRatio:   decimal.RequireFromString("0.25"),
		DupRate:         decimal.Zero,
		GapMinutes:      60,
		DeltaVsBaseline: decimal.RequireFromString("-0.2"),
	}
	assert.Empty(t, v.Breaches(testThresholds(), 50))
}

func TestAnomalyVector_Breaches(t *testing.T) {
	v := AnomalyVector{
		VarianceRatio:   decimal.RequireFromString("0.26"),
		DupRate:         decimal.RequireFromString("0.02"),
		GapMinutes:      61,
		DeltaVsBaseline: decimal.RequireFromString("-0.21"),
	}
	assert.Equal(t,
		[]string{"variance_ratio", "dup_rate", "gap_minutes", "delta_vs_baseline", "epsilon_cents"},
		v.Breaches(testThresholds(), -51),
	)
}
