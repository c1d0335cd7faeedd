package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgtype"
)

const statementLineColumns = `bank_txn_id, abn, statement_date, amount_cents, reference, status, match_strategy,
       matched_release_uuid, imported_at, updated_at`

func scanBankStatementLine(row interface{ Scan(...any) error }) (BankStatementLine, error) {
	var i BankStatementLine
	err := row.Scan(
		&i.BankTxnID,
		&i.Abn,
		&i.StatementDate,
		&i.AmountCents,
		&i.Reference,
		&i.Status,
		&i.MatchStrategy,
		&i.MatchedReleaseUuid,
		&i.ImportedAt,
		&i.UpdatedAt,
	)
	return i, err
}

// Re-importing a MATCHED line returns no row; the stored line is left untouched.
const upsertStatementLine = `-- name: UpsertStatementLine :one
INSERT INTO bank_statement_lines (bank_txn_id, abn, statement_date, amount_cents, reference)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (bank_txn_id) DO UPDATE
SET abn = EXCLUDED.abn,
    statement_date = EXCLUDED.statement_date,
    amount_cents = EXCLUDED.amount_cents,
    reference = EXCLUDED.reference,
    updated_at = NOW()
WHERE bank_statement_lines.status = 'UNRESOLVED'
RETURNING ` + statementLineColumns

type UpsertStatementLineParams struct {
	BankTxnID     string      `json:"bank_txn_id"`
	Abn           string      `json:"abn"`
	StatementDate pgtype.Date `json:"statement_date"`
	AmountCents   int64       `json:"amount_cents"`
	Reference     string      `json:"reference"`
}

func (q *Queries) UpsertStatementLine(ctx context.Context, arg UpsertStatementLineParams) (BankStatementLine, error) {
	row := q.db.QueryRow(ctx, upsertStatementLine,
		arg.BankTxnID,
		arg.Abn,
		arg.StatementDate,
		arg.AmountCents,
		arg.Reference,
	)
	return scanBankStatementLine(row)
}

const getStatementLine = `-- name: GetStatementLine :one
SELECT ` + statementLineColumns + `
FROM bank_statement_lines
WHERE bank_txn_id = $1`

func (q *Queries) GetStatementLine(ctx context.Context, bankTxnID string) (BankStatementLine, error) {
	row := q.db.QueryRow(ctx, getStatementLine, bankTxnID)
	return scanBankStatementLine(row)
}

const listUnresolvedStatementLines = `-- name: ListUnresolvedStatementLines :many
SELECT ` + statementLineColumns + `
FROM bank_statement_lines
WHERE status = 'UNRESOLVED'
ORDER BY statement_date ASC, bank_txn_id ASC
LIMIT $1 OFFSET $2`

type ListUnresolvedStatementLinesParams struct {
	Limit  int32 `json:"limit"`
	Offset int32 `json:"offset"`
}

func (q *Queries) ListUnresolvedStatementLines(ctx context.Context, arg ListUnresolvedStatementLinesParams) ([]BankStatementLine, error) {
	rows, err := q.db.Query(ctx, listUnresolvedStatementLines, arg.Limit, arg.Offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []BankStatementLine
	for rows.Next() {
		i, err := scanBankStatementLine(rows)
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

const claimUnresolvedStatementLines = `-- name: ClaimUnresolvedStatementLines :many
SELECT ` + statementLineColumns + `
FROM bank_statement_lines
WHERE status = 'UNRESOLVED'
ORDER BY statement_date ASC, bank_txn_id ASC
LIMIT $1
FOR UPDATE SKIP LOCKED`

func (q *Queries) ClaimUnresolvedStatementLines(ctx context.Context, limit int32) ([]BankStatementLine, error) {
	rows, err := q.db.Query(ctx, claimUnresolvedStatementLines, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []BankStatementLine
	for rows.Next() {
		i, err := scanBankStatementLine(rows)
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

const markStatementLineMatched = `-- name: MarkStatementLineMatched :execrows
UPDATE bank_statement_lines
SET status = 'MATCHED', match_strategy = $1, matched_release_uuid = $2, updated_at = NOW()
WHERE bank_txn_id = $3 AND status = 'UNRESOLVED'`

type MarkStatementLineMatchedParams struct {
	MatchStrategy      *string     `json:"match_strategy"`
	MatchedReleaseUuid pgtype.UUID `json:"matched_release_uuid"`
	BankTxnID          string      `json:"bank_txn_id"`
}

func (q *Queries) MarkStatementLineMatched(ctx context.Context, arg MarkStatementLineMatchedParams) (int64, error) {
	result, err := q.db.Exec(ctx, markStatementLineMatched, arg.MatchStrategy, arg.MatchedReleaseUuid, arg.BankTxnID)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected(), nil
}

const countUnresolvedStatementLines = `-- name: CountUnresolvedStatementLines :one
SELECT COUNT(*) FROM bank_statement_lines WHERE status = 'UNRESOLVED'`

func (q *Queries) CountUnresolvedStatementLines(ctx context.Context) (int64, error) {
	row := q.db.QueryRow(ctx, countUnresolvedStatementLines)
	var count int64
	err := row.Scan(&count)
	return count, err
}
