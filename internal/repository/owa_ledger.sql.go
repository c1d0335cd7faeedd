package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgtype"
)

const ledgerColumns = `abn, tax_type, period_id, id, transfer_uuid, amount_cents, balance_after_cents, bank_receipt_hash,
       prev_hash, hash_after, provider_ref, provider_paid_at, created_at`

func scanOwaLedger(row interface{ Scan(...any) error }) (OwaLedger, error) {
	var i OwaLedger
	err := row.Scan(
		&i.Abn,
		&i.TaxType,
		&i.PeriodID,
		&i.ID,
		&i.TransferUuid,
		&i.AmountCents,
		&i.BalanceAfterCents,
		&i.BankReceiptHash,
		&i.PrevHash,
		&i.HashAfter,
		&i.ProviderRef,
		&i.ProviderPaidAt,
		&i.CreatedAt,
	)
	return i, err
}

const acquireScopeLock = `-- name: AcquireScopeLock :exec
SELECT pg_advisory_xact_lock(hashtextextended($1::text, 0))`

// AcquireScopeLock blocks until the transaction holds the advisory lock for key.
// The lock is released at commit or rollback.
func (q *Queries) AcquireScopeLock(ctx context.Context, key string) error {
	_, err := q.db.Exec(ctx, acquireScopeLock, key)
	return err
}

const getLedgerTail = `-- name: GetLedgerTail :one
SELECT ` + ledgerColumns + `
FROM owa_ledger
WHERE abn = $1 AND tax_type = $2 AND period_id = $3
ORDER BY id DESC
LIMIT 1`

func (q *Queries) GetLedgerTail(ctx context.Context, arg PeriodKey) (OwaLedger, error) {
	row := q.db.QueryRow(ctx, getLedgerTail, arg.Abn, arg.TaxType, arg.PeriodID)
	return scanOwaLedger(row)
}

const getLedgerEntryByTransfer = `-- name: GetLedgerEntryByTransfer :one
SELECT ` + ledgerColumns + `
FROM owa_ledger
WHERE transfer_uuid = $1`

func (q *Queries) GetLedgerEntryByTransfer(ctx context.Context, transferUuid pgtype.UUID) (OwaLedger, error) {
	row := q.db.QueryRow(ctx, getLedgerEntryByTransfer, transferUuid)
	return scanOwaLedger(row)
}

const getLedgerEntry = `-- name: GetLedgerEntry :one
SELECT ` + ledgerColumns + `
FROM owa_ledger
WHERE abn = $1 AND tax_type = $2 AND period_id = $3 AND id = $4`

type GetLedgerEntryParams struct {
	Abn      string `json:"abn"`
	TaxType  string `json:"tax_type"`
	PeriodID string `json:"period_id"`
	ID       int64  `json:"id"`
}

func (q *Queries) GetLedgerEntry(ctx context.Context, arg GetLedgerEntryParams) (OwaLedger, error) {
	row := q.db.QueryRow(ctx, getLedgerEntry, arg.Abn, arg.TaxType, arg.PeriodID, arg.ID)
	return scanOwaLedger(row)
}

const insertLedgerEntry = `-- name: InsertLedgerEntry :one
INSERT INTO owa_ledger (
    abn, tax_type, period_id, id, transfer_uuid, amount_cents, balance_after_cents,
    bank_receipt_hash, prev_hash, hash_after, provider_ref, provider_paid_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
RETURNING ` + ledgerColumns

type InsertLedgerEntryParams struct {
	Abn               string             `json:"abn"`
	TaxType           string             `json:"tax_type"`
	PeriodID          string             `json:"period_id"`
	ID                int64              `json:"id"`
	TransferUuid      pgtype.UUID        `json:"transfer_uuid"`
	AmountCents       int64              `json:"amount_cents"`
	BalanceAfterCents int64              `json:"balance_after_cents"`
	BankReceiptHash   string             `json:"bank_receipt_hash"`
	PrevHash          string             `json:"prev_hash"`
	HashAfter         string             `json:"hash_after"`
	ProviderRef       *string            `json:"provider_ref"`
	ProviderPaidAt    pgtype.Timestamptz `json:"provider_paid_at"`
}

func (q *Queries) InsertLedgerEntry(ctx context.Context, arg InsertLedgerEntryParams) (OwaLedger, error) {
	row := q.db.QueryRow(ctx, insertLedgerEntry,
		arg.Abn,
		arg.TaxType,
		arg.PeriodID,
		arg.ID,
		arg.TransferUuid,
		arg.AmountCents,
		arg.BalanceAfterCents,
		arg.BankReceiptHash,
		arg.PrevHash,
		arg.HashAfter,
		arg.ProviderRef,
		arg.ProviderPaidAt,
	)
	return scanOwaLedger(row)
}

const listLedgerEntries = `-- name: ListLedgerEntries :many
SELECT ` + ledgerColumns + `
FROM owa_ledger
WHERE abn = $1 AND tax_type = $2 AND period_id = $3
ORDER BY id ASC`

func (q *Queries) ListLedgerEntries(ctx context.Context, arg PeriodKey) ([]OwaLedger, error) {
	rows, err := q.db.Query(ctx, listLedgerEntries, arg.Abn, arg.TaxType, arg.PeriodID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []OwaLedger
	for rows.Next() {
		i, err := scanOwaLedger(rows)
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
