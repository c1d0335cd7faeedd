package domain

import "github.com/shopspring/decimal"

// AnomalyVector is precomputed by the upstream anomaly scorer before issuance.
// Ratios are decimals so that the signed payload never carries binary floats.
type AnomalyVector struct {
	VarianceRatio   decimal.Decimal `json:"variance_ratio"`
	DupRate         decimal.Decimal `json:"dup_rate"`
	GapMinutes      int64           `json:"gap_minutes"`
	DeltaVsBaseline decimal.Decimal `json:"delta_vs_baseline"`
}

// Thresholds bound each anomaly component. EpsilonCents bounds the gap between
// the final liability and what has been credited to the OWA.
type Thresholds struct {
	VarianceRatio   decimal.Decimal `json:"variance_ratio"`
	DupRate         decimal.Decimal `json:"dup_rate"`
	GapMinutes      int64           `json:"gap_minutes"`
	DeltaVsBaseline decimal.Decimal `json:"delta_vs_baseline"`
	EpsilonCents    int64           `json:"epsilon_cents"`
}

// Breaches returns the names of every component above its threshold.
// DeltaVsBaseline is compared by magnitude.
func (v AnomalyVector) Breaches(t Thresholds, discrepancyCents int64) []string {
	var out []string
	if v.VarianceRatio.GreaterThan(t.VarianceRatio) {
		out = append(out, "variance_ratio")
	}
	if v.DupRate.GreaterThan(t.DupRate) {
		out = append(out, "dup_rate")
	}
	if v.GapMinutes > t.GapMinutes {
		out = append(out, "gap_minutes")
	}
	if v.DeltaVsBaseline.Abs().GreaterThan(t.DeltaVsBaseline) {
		out = append(out, "delta_vs_baseline")
	}
	if discrepancyCents < 0 {
		discrepancyCents = -discrepancyCents
	}
	if discrepancyCents > t.EpsilonCents {
		out = append(out, "epsilon_cents")
	}
	return out
}
