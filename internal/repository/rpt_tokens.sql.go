package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgtype"
)

const rptTokenColumns = `id, abn, tax_type, period_id, payload, payload_c14n, payload_sha256, signature, kid, nonce,
       status, expires_at, created_at, updated_at`

func scanRptToken(row interface{ Scan(...any) error }) (RptToken, error) {
	var i RptToken
	err := row.Scan(
		&i.ID,
		&i.Abn,
		&i.TaxType,
		&i.PeriodID,
		&i.Payload,
		&i.PayloadC14n,
		&i.PayloadSha256,
		&i.Signature,
		&i.Kid,
		&i.Nonce,
		&i.Status,
		&i.ExpiresAt,
		&i.CreatedAt,
		&i.UpdatedAt,
	)
	return i, err
}

const insertRptToken = `-- name: InsertRptToken :one
INSERT INTO rpt_tokens (abn, tax_type, period_id, payload, payload_c14n, payload_sha256, signature, kid, nonce, status, expires_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
RETURNING ` + rptTokenColumns

type InsertRptTokenParams struct {
	Abn           string             `json:"abn"`
	TaxType       string             `json:"tax_type"`
	PeriodID      string             `json:"period_id"`
	Payload       []byte             `json:"payload"`
	PayloadC14n   string             `json:"payload_c14n"`
	PayloadSha256 string             `json:"payload_sha256"`
	Signature     string             `json:"signature"`
	Kid           string             `json:"kid"`
	Nonce         string             `json:"nonce"`
	Status        string             `json:"status"`
	ExpiresAt     pgtype.Timestamptz `json:"expires_at"`
}

func (q *Queries) InsertRptToken(ctx context.Context, arg InsertRptTokenParams) (RptToken, error) {
	row := q.db.QueryRow(ctx, insertRptToken,
		arg.Abn,
		arg.TaxType,
		arg.PeriodID,
		arg.Payload,
		arg.PayloadC14n,
		arg.PayloadSha256,
		arg.Signature,
		arg.Kid,
		arg.Nonce,
		arg.Status,
		arg.ExpiresAt,
	)
	return scanRptToken(row)
}

const getRptToken = `-- name: GetRptToken :one
SELECT ` + rptTokenColumns + `
FROM rpt_tokens
WHERE id = $1`

func (q *Queries) GetRptToken(ctx context.Context, id int64) (RptToken, error) {
	row := q.db.QueryRow(ctx, getRptToken, id)
	return scanRptToken(row)
}

const getActiveRptToken = `-- name: GetActiveRptToken :one
SELECT ` + rptTokenColumns + `
FROM rpt_tokens
WHERE abn = $1 AND tax_type = $2 AND period_id = $3 AND status = 'active'`

func (q *Queries) GetActiveRptToken(ctx context.Context, arg PeriodKey) (RptToken, error) {
	row := q.db.QueryRow(ctx, getActiveRptToken, arg.Abn, arg.TaxType, arg.PeriodID)
	return scanRptToken(row)
}

const getLatestRptToken = `-- name: GetLatestRptToken :one
SELECT ` + rptTokenColumns + `
FROM rpt_tokens
WHERE abn = $1 AND tax_type = $2 AND period_id = $3
ORDER BY id DESC
LIMIT 1`

func (q *Queries) GetLatestRptToken(ctx context.Context, arg PeriodKey) (RptToken, error) {
	row := q.db.QueryRow(ctx, getLatestRptToken, arg.Abn, arg.TaxType, arg.PeriodID)
	return scanRptToken(row)
}

const updateRptTokenStatus = `-- name: UpdateRptTokenStatus :execrows
UPDATE rpt_tokens
SET status = $1, updated_at = NOW()
WHERE id = $2`

type UpdateRptTokenStatusParams struct {
	Status string `json:"status"`
	ID     int64  `json:"id"`
}

func (q *Queries) UpdateRptTokenStatus(ctx context.Context, arg UpdateRptTokenStatusParams) (int64, error) {
	result, err := q.db.Exec(ctx, updateRptTokenStatus, arg.Status, arg.ID)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected(), nil
}
