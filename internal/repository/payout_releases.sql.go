package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgtype"
)

const payoutReleaseColumns = `release_uuid, rpt_id, abn, tax_type, period_id, amount_cents, reference, rail, destination_id,
       idempotency_key, request_hash, status, failure_reason, provider_ref, provider_paid_at, ledger_entry_id,
       bank_receipt_id, matched_bank_txn_id, match_strategy, matched_at, created_at, updated_at`

func scanPayoutRelease(row interface{ Scan(...any) error }) (PayoutRelease, error) {
	var i PayoutRelease
	err := row.Scan(
		&i.ReleaseUuid,
		&i.RptID,
		&i.Abn,
		&i.TaxType,
		&i.PeriodID,
		&i.AmountCents,
		&i.Reference,
		&i.Rail,
		&i.DestinationID,
		&i.IdempotencyKey,
		&i.RequestHash,
		&i.Status,
		&i.FailureReason,
		&i.ProviderRef,
		&i.ProviderPaidAt,
		&i.LedgerEntryID,
		&i.BankReceiptID,
		&i.MatchedBankTxnID,
		&i.MatchStrategy,
		&i.MatchedAt,
		&i.CreatedAt,
		&i.UpdatedAt,
	)
	return i, err
}

func collectPayoutReleases(rows interface {
	Next() bool
	Scan(...any) error
	Err() error
	Close()
}) ([]PayoutRelease, error) {
	defer rows.Close()
	var items []PayoutRelease
	for rows.Next() {
		i, err := scanPayoutRelease(rows)
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

const insertPayoutRelease = `-- name: InsertPayoutRelease :one
INSERT INTO payout_releases (
    release_uuid, rpt_id, abn, tax_type, period_id, amount_cents, reference, rail,
    destination_id, idempotency_key, request_hash, status
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
RETURNING ` + payoutReleaseColumns

type InsertPayoutReleaseParams struct {
	ReleaseUuid    pgtype.UUID `json:"release_uuid"`
	RptID          int64       `json:"rpt_id"`
	Abn            string      `json:"abn"`
	TaxType        string      `json:"tax_type"`
	PeriodID       string      `json:"period_id"`
	AmountCents    int64       `json:"amount_cents"`
	Reference      string      `json:"reference"`
	Rail           string      `json:"rail"`
	DestinationID  pgtype.UUID `json:"destination_id"`
	IdempotencyKey string      `json:"idempotency_key"`
	RequestHash    string      `json:"request_hash"`
	Status         string      `json:"status"`
}

func (q *Queries) InsertPayoutRelease(ctx context.Context, arg InsertPayoutReleaseParams) (PayoutRelease, error) {
	row := q.db.QueryRow(ctx, insertPayoutRelease,
		arg.ReleaseUuid,
		arg.RptID,
		arg.Abn,
		arg.TaxType,
		arg.PeriodID,
		arg.AmountCents,
		arg.Reference,
		arg.Rail,
		arg.DestinationID,
		arg.IdempotencyKey,
		arg.RequestHash,
		arg.Status,
	)
	return scanPayoutRelease(row)
}

const getPayoutRelease = `-- name: GetPayoutRelease :one
SELECT ` + payoutReleaseColumns + `
FROM payout_releases
WHERE release_uuid = $1`

func (q *Queries) GetPayoutRelease(ctx context.Context, releaseUuid pgtype.UUID) (PayoutRelease, error) {
	row := q.db.QueryRow(ctx, getPayoutRelease, releaseUuid)
	return scanPayoutRelease(row)
}

const getPayoutReleaseForUpdate = `-- name: GetPayoutReleaseForUpdate :one
SELECT ` + payoutReleaseColumns + `
FROM payout_releases
WHERE release_uuid = $1
FOR UPDATE`

func (q *Queries) GetPayoutReleaseForUpdate(ctx context.Context, releaseUuid pgtype.UUID) (PayoutRelease, error) {
	row := q.db.QueryRow(ctx, getPayoutReleaseForUpdate, releaseUuid)
	return scanPayoutRelease(row)
}

const getPayoutReleaseByIdempotencyKey = `-- name: GetPayoutReleaseByIdempotencyKey :one
SELECT ` + payoutReleaseColumns + `
FROM payout_releases
WHERE idempotency_key = $1`

func (q *Queries) GetPayoutReleaseByIdempotencyKey(ctx context.Context, idempotencyKey string) (PayoutRelease, error) {
	row := q.db.QueryRow(ctx, getPayoutReleaseByIdempotencyKey, idempotencyKey)
	return scanPayoutRelease(row)
}

const listPayoutReleasesForPeriod = `-- name: ListPayoutReleasesForPeriod :many
SELECT ` + payoutReleaseColumns + `
FROM payout_releases
WHERE abn = $1 AND tax_type = $2 AND period_id = $3
ORDER BY created_at ASC`

func (q *Queries) ListPayoutReleasesForPeriod(ctx context.Context, arg PeriodKey) ([]PayoutRelease, error) {
	rows, err := q.db.Query(ctx, listPayoutReleasesForPeriod, arg.Abn, arg.TaxType, arg.PeriodID)
	if err != nil {
		return nil, err
	}
	return collectPayoutReleases(rows)
}

const markPayoutReleaseReleased = `-- name: MarkPayoutReleaseReleased :execrows
UPDATE payout_releases
SET status = 'RELEASED',
    provider_ref = $1,
    provider_paid_at = $2,
    ledger_entry_id = $3,
    bank_receipt_id = $4,
    failure_reason = NULL,
    updated_at = NOW()
WHERE release_uuid = $5 AND status IN ('RESERVED', 'UNCONFIRMED')`

type MarkPayoutReleaseReleasedParams struct {
	ProviderRef    *string            `json:"provider_ref"`
	ProviderPaidAt pgtype.Timestamptz `json:"provider_paid_at"`
	LedgerEntryID  *int64             `json:"ledger_entry_id"`
	BankReceiptID  *string            `json:"bank_receipt_id"`
	ReleaseUuid    pgtype.UUID        `json:"release_uuid"`
}

func (q *Queries) MarkPayoutReleaseReleased(ctx context.Context, arg MarkPayoutReleaseReleasedParams) (int64, error) {
	result, err := q.db.Exec(ctx, markPayoutReleaseReleased,
		arg.ProviderRef,
		arg.ProviderPaidAt,
		arg.LedgerEntryID,
		arg.BankReceiptID,
		arg.ReleaseUuid,
	)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected(), nil
}

const updatePayoutReleaseOutcome = `-- name: UpdatePayoutReleaseOutcome :execrows
UPDATE payout_releases
SET status = $1,
    failure_reason = $2,
    provider_ref = COALESCE($3, provider_ref),
    provider_paid_at = COALESCE($4, provider_paid_at),
    updated_at = NOW()
WHERE release_uuid = $5 AND status <> 'RELEASED'`

type UpdatePayoutReleaseOutcomeParams struct {
	Status         string             `json:"status"`
	FailureReason  *string            `json:"failure_reason"`
	ProviderRef    *string            `json:"provider_ref"`
	ProviderPaidAt pgtype.Timestamptz `json:"provider_paid_at"`
	ReleaseUuid    pgtype.UUID        `json:"release_uuid"`
}

func (q *Queries) UpdatePayoutReleaseOutcome(ctx context.Context, arg UpdatePayoutReleaseOutcomeParams) (int64, error) {
	result, err := q.db.Exec(ctx, updatePayoutReleaseOutcome,
		arg.Status,
		arg.FailureReason,
		arg.ProviderRef,
		arg.ProviderPaidAt,
		arg.ReleaseUuid,
	)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected(), nil
}

const listPayoutReleasesByStatuses = `-- name: ListPayoutReleasesByStatuses :many
SELECT ` + payoutReleaseColumns + `
FROM payout_releases
WHERE status = ANY($1::text[])
ORDER BY updated_at ASC
LIMIT $2 OFFSET $3`

type ListPayoutReleasesByStatusesParams struct {
	Statuses []string `json:"statuses"`
	Limit    int32    `json:"limit"`
	Offset   int32    `json:"offset"`
}

func (q *Queries) ListPayoutReleasesByStatuses(ctx context.Context, arg ListPayoutReleasesByStatusesParams) ([]PayoutRelease, error) {
	rows, err := q.db.Query(ctx, listPayoutReleasesByStatuses, arg.Statuses, arg.Limit, arg.Offset)
	if err != nil {
		return nil, err
	}
	return collectPayoutReleases(rows)
}

const countPayoutReleasesByStatuses = `-- name: CountPayoutReleasesByStatuses :one
SELECT COUNT(*) FROM payout_releases WHERE status = ANY($1::text[])`

func (q *Queries) CountPayoutReleasesByStatuses(ctx context.Context, statuses []string) (int64, error) {
	row := q.db.QueryRow(ctx, countPayoutReleasesByStatuses, statuses)
	var count int64
	err := row.Scan(&count)
	return count, err
}

const getStaleReservedReleases = `-- name: GetStaleReservedReleases :many
SELECT ` + payoutReleaseColumns + `
FROM payout_releases
WHERE status = 'RESERVED' AND updated_at < $1
ORDER BY updated_at ASC
LIMIT $2
FOR UPDATE SKIP LOCKED`

type GetStaleReservedReleasesParams struct {
	UpdatedAt pgtype.Timestamptz `json:"updated_at"`
	Limit     int32              `json:"limit"`
}

func (q *Queries) GetStaleReservedReleases(ctx context.Context, arg GetStaleReservedReleasesParams) ([]PayoutRelease, error) {
	rows, err := q.db.Query(ctx, getStaleReservedReleases, arg.UpdatedAt, arg.Limit)
	if err != nil {
		return nil, err
	}
	return collectPayoutReleases(rows)
}

const listMatchCandidates = `-- name: ListMatchCandidates :many
SELECT ` + payoutReleaseColumns + `
FROM payout_releases
WHERE abn = $1
  AND amount_cents = $2
  AND status IN ('RELEASED', 'UNCONFIRMED')
  AND matched_bank_txn_id IS NULL
ORDER BY created_at ASC`

type ListMatchCandidatesParams struct {
	Abn         string `json:"abn"`
	AmountCents int64  `json:"amount_cents"`
}

func (q *Queries) ListMatchCandidates(ctx context.Context, arg ListMatchCandidatesParams) ([]PayoutRelease, error) {
	rows, err := q.db.Query(ctx, listMatchCandidates, arg.Abn, arg.AmountCents)
	if err != nil {
		return nil, err
	}
	return collectPayoutReleases(rows)
}

const markPayoutReleaseMatched = `-- name: MarkPayoutReleaseMatched :execrows
UPDATE payout_releases
SET matched_bank_txn_id = $1, match_strategy = $2, matched_at = NOW(), updated_at = NOW()
WHERE release_uuid = $3 AND matched_bank_txn_id IS NULL`

type MarkPayoutReleaseMatchedParams struct {
	MatchedBankTxnID *string     `json:"matched_bank_txn_id"`
	MatchStrategy    *string     `json:"match_strategy"`
	ReleaseUuid      pgtype.UUID `json:"release_uuid"`
}

func (q *Queries) MarkPayoutReleaseMatched(ctx context.Context, arg MarkPayoutReleaseMatchedParams) (int64, error) {
	result, err := q.db.Exec(ctx, markPayoutReleaseMatched, arg.MatchedBankTxnID, arg.MatchStrategy, arg.ReleaseUuid)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected(), nil
}
