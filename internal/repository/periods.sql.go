package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgtype"
)

const periodColumns = `abn, tax_type, period_id, state, accrued_cents, credited_to_owa_cents, final_liability_cents,
       merkle_root, running_balance_hash, anomaly_vector, thresholds, ledger_halted, ledger_halt_reason,
       created_at, updated_at`

func scanPeriod(row interface{ Scan(...any) error }) (Period, error) {
	var i Period
	err := row.Scan(
		&i.Abn,
		&i.TaxType,
		&i.PeriodID,
		&i.State,
		&i.AccruedCents,
		&i.CreditedToOwaCents,
		&i.FinalLiabilityCents,
		&i.MerkleRoot,
		&i.RunningBalanceHash,
		&i.AnomalyVector,
		&i.Thresholds,
		&i.LedgerHalted,
		&i.LedgerHaltReason,
		&i.CreatedAt,
		&i.UpdatedAt,
	)
	return i, err
}

const createPeriod = `-- name: CreatePeriod :one
INSERT INTO periods (abn, tax_type, period_id, accrued_cents, final_liability_cents)
VALUES ($1, $2, $3, $4, $5)
RETURNING ` + periodColumns

type CreatePeriodParams struct {
	Abn                 string `json:"abn"`
	TaxType             string `json:"tax_type"`
	PeriodID            string `json:"period_id"`
	AccruedCents        int64  `json:"accrued_cents"`
	FinalLiabilityCents int64  `json:"final_liability_cents"`
}

func (q *Queries) CreatePeriod(ctx context.Context, arg CreatePeriodParams) (Period, error) {
	row := q.db.QueryRow(ctx, createPeriod,
		arg.Abn,
		arg.TaxType,
		arg.PeriodID,
		arg.AccruedCents,
		arg.FinalLiabilityCents,
	)
	return scanPeriod(row)
}

type PeriodKey struct {
	Abn      string `json:"abn"`
	TaxType  string `json:"tax_type"`
	PeriodID string `json:"period_id"`
}

const getPeriod = `-- name: GetPeriod :one
SELECT ` + periodColumns + `
FROM periods
WHERE abn = $1 AND tax_type = $2 AND period_id = $3`

func (q *Queries) GetPeriod(ctx context.Context, arg PeriodKey) (Period, error) {
	row := q.db.QueryRow(ctx, getPeriod, arg.Abn, arg.TaxType, arg.PeriodID)
	return scanPeriod(row)
}

const getPeriodForUpdate = `-- name: GetPeriodForUpdate :one
SELECT ` + periodColumns + `
FROM periods
WHERE abn = $1 AND tax_type = $2 AND period_id = $3
FOR UPDATE`

func (q *Queries) GetPeriodForUpdate(ctx context.Context, arg PeriodKey) (Period, error) {
	row := q.db.QueryRow(ctx, getPeriodForUpdate, arg.Abn, arg.TaxType, arg.PeriodID)
	return scanPeriod(row)
}

const updatePeriodState = `-- name: UpdatePeriodState :execrows
UPDATE periods
SET state = $1, updated_at = NOW()
WHERE abn = $2 AND tax_type = $3 AND period_id = $4`

type UpdatePeriodStateParams struct {
	State    string `json:"state"`
	Abn      string `json:"abn"`
	TaxType  string `json:"tax_type"`
	PeriodID string `json:"period_id"`
}

func (q *Queries) UpdatePeriodState(ctx context.Context, arg UpdatePeriodStateParams) (int64, error) {
	result, err := q.db.Exec(ctx, updatePeriodState, arg.State, arg.Abn, arg.TaxType, arg.PeriodID)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected(), nil
}

const updatePeriodAnomalyVector = `-- name: UpdatePeriodAnomalyVector :execrows
UPDATE periods
SET anomaly_vector = $1, updated_at = NOW()
WHERE abn = $2 AND tax_type = $3 AND period_id = $4`

type UpdatePeriodAnomalyVectorParams struct {
	AnomalyVector []byte `json:"anomaly_vector"`
	Abn           string `json:"abn"`
	TaxType       string `json:"tax_type"`
	PeriodID      string `json:"period_id"`
}

func (q *Queries) UpdatePeriodAnomalyVector(ctx context.Context, arg UpdatePeriodAnomalyVectorParams) (int64, error) {
	result, err := q.db.Exec(ctx, updatePeriodAnomalyVector, arg.AnomalyVector, arg.Abn, arg.TaxType, arg.PeriodID)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected(), nil
}

const updatePeriodLiability = `-- name: UpdatePeriodLiability :execrows
UPDATE periods
SET accrued_cents = $1, final_liability_cents = $2, updated_at = NOW()
WHERE abn = $3 AND tax_type = $4 AND period_id = $5`

type UpdatePeriodLiabilityParams struct {
	AccruedCents        int64  `json:"accrued_cents"`
	FinalLiabilityCents int64  `json:"final_liability_cents"`
	Abn                 string `json:"abn"`
	TaxType             string `json:"tax_type"`
	PeriodID            string `json:"period_id"`
}

func (q *Queries) UpdatePeriodLiability(ctx context.Context, arg UpdatePeriodLiabilityParams) (int64, error) {
	result, err := q.db.Exec(ctx, updatePeriodLiability,
		arg.AccruedCents,
		arg.FinalLiabilityCents,
		arg.Abn,
		arg.TaxType,
		arg.PeriodID,
	)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected(), nil
}

const updatePeriodIssuance = `-- name: UpdatePeriodIssuance :execrows
UPDATE periods
SET merkle_root = $1, thresholds = $2, updated_at = NOW()
WHERE abn = $3 AND tax_type = $4 AND period_id = $5`

type UpdatePeriodIssuanceParams struct {
	MerkleRoot *string `json:"merkle_root"`
	Thresholds []byte  `json:"thresholds"`
	Abn        string  `json:"abn"`
	TaxType    string  `json:"tax_type"`
	PeriodID   string  `json:"period_id"`
}

func (q *Queries) UpdatePeriodIssuance(ctx context.Context, arg UpdatePeriodIssuanceParams) (int64, error) {
	result, err := q.db.Exec(ctx, updatePeriodIssuance,
		arg.MerkleRoot,
		arg.Thresholds,
		arg.Abn,
		arg.TaxType,
		arg.PeriodID,
	)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected(), nil
}

const updatePeriodRunningHash = `-- name: UpdatePeriodRunningHash :execrows
UPDATE periods
SET running_balance_hash = $1, updated_at = NOW()
WHERE abn = $2 AND tax_type = $3 AND period_id = $4`

type UpdatePeriodRunningHashParams struct {
	RunningBalanceHash *string `json:"running_balance_hash"`
	Abn                string  `json:"abn"`
	TaxType            string  `json:"tax_type"`
	PeriodID           string  `json:"period_id"`
}

func (q *Queries) UpdatePeriodRunningHash(ctx context.Context, arg UpdatePeriodRunningHashParams) (int64, error) {
	result, err := q.db.Exec(ctx, updatePeriodRunningHash, arg.RunningBalanceHash, arg.Abn, arg.TaxType, arg.PeriodID)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected(), nil
}

const addPeriodCredit = `-- name: AddPeriodCredit :execrows
UPDATE periods
SET credited_to_owa_cents = credited_to_owa_cents + $1, updated_at = NOW()
WHERE abn = $2 AND tax_type = $3 AND period_id = $4`

type AddPeriodCreditParams struct {
	CreditedToOwaCents int64  `json:"credited_to_owa_cents"`
	Abn                string `json:"abn"`
	TaxType            string `json:"tax_type"`
	PeriodID           string `json:"period_id"`
}

func (q *Queries) AddPeriodCredit(ctx context.Context, arg AddPeriodCreditParams) (int64, error) {
	result, err := q.db.Exec(ctx, addPeriodCredit, arg.CreditedToOwaCents, arg.Abn, arg.TaxType, arg.PeriodID)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected(), nil
}

const haltPeriodLedger = `-- name: HaltPeriodLedger :execrows
UPDATE periods
SET ledger_halted = TRUE, ledger_halt_reason = $1, updated_at = NOW()
WHERE abn = $2 AND tax_type = $3 AND period_id = $4`

type HaltPeriodLedgerParams struct {
	LedgerHaltReason *string `json:"ledger_halt_reason"`
	Abn              string  `json:"abn"`
	TaxType          string  `json:"tax_type"`
	PeriodID         string  `json:"period_id"`
}

func (q *Queries) HaltPeriodLedger(ctx context.Context, arg HaltPeriodLedgerParams) (int64, error) {
	result, err := q.db.Exec(ctx, haltPeriodLedger, arg.LedgerHaltReason, arg.Abn, arg.TaxType, arg.PeriodID)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected(), nil
}

const listPeriodsByState = `-- name: ListPeriodsByState :many
SELECT ` + periodColumns + `
FROM periods
WHERE state = $1
ORDER BY updated_at DESC
LIMIT $2 OFFSET $3`

type ListPeriodsByStateParams struct {
	State  string `json:"state"`
	Limit  int32  `json:"limit"`
	Offset int32  `json:"offset"`
}

func (q *Queries) ListPeriodsByState(ctx context.Context, arg ListPeriodsByStateParams) ([]Period, error) {
	rows, err := q.db.Query(ctx, listPeriodsByState, arg.State, arg.Limit, arg.Offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []Period
	for rows.Next() {
		i, err := scanPeriod(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const listRecentLedgerScopes = `-- name: ListRecentLedgerScopes :many
SELECT DISTINCT l.abn, l.tax_type, l.period_id
FROM owa_ledger l
JOIN periods p ON p.abn = l.abn AND p.tax_type = l.tax_type AND p.period_id = l.period_id
WHERE l.created_at >= $1 AND p.ledger_halted = FALSE
LIMIT $2`

type ListRecentLedgerScopesParams struct {
	CreatedAt pgtype.Timestamptz `json:"created_at"`
	Limit     int32              `json:"limit"`
}

func (q *Queries) ListRecentLedgerScopes(ctx context.Context, arg ListRecentLedgerScopesParams) ([]PeriodKey, error) {
	rows, err := q.db.Query(ctx, listRecentLedgerScopes, arg.CreatedAt, arg.Limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []PeriodKey
	for rows.Next() {
		var i PeriodKey
		if err := rows.Scan(&i.Abn, &i.TaxType, &i.PeriodID); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}
