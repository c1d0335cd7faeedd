package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgtype"
)

const destinationColumns = `id, abn, rail, destination_key, label, details, created_at`

func scanRemittanceDestination(row interface{ Scan(...any) error }) (RemittanceDestination, error) {
	var i RemittanceDestination
	err := row.Scan(
		&i.ID,
		&i.Abn,
		&i.Rail,
		&i.DestinationKey,
		&i.Label,
		&i.Details,
		&i.CreatedAt,
	)
	return i, err
}

const upsertRemittanceDestination = `-- name: UpsertRemittanceDestination :one
INSERT INTO remittance_destinations (id, abn, rail, destination_key, label, details)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (abn, rail, destination_key) DO UPDATE
SET label = EXCLUDED.label, details = EXCLUDED.details
RETURNING ` + destinationColumns

type UpsertRemittanceDestinationParams struct {
	ID             pgtype.UUID `json:"id"`
	Abn            string      `json:"abn"`
	Rail           string      `json:"rail"`
	DestinationKey string      `json:"destination_key"`
	Label          string      `json:"label"`
	Details        []byte      `json:"details"`
}

func (q *Queries) UpsertRemittanceDestination(ctx context.Context, arg UpsertRemittanceDestinationParams) (RemittanceDestination, error) {
	row := q.db.QueryRow(ctx, upsertRemittanceDestination,
		arg.ID,
		arg.Abn,
		arg.Rail,
		arg.DestinationKey,
		arg.Label,
		arg.Details,
	)
	return scanRemittanceDestination(row)
}

const getRemittanceDestination = `-- name: GetRemittanceDestination :one
SELECT ` + destinationColumns + `
FROM remittance_destinations
WHERE abn = $1 AND rail = $2 AND destination_key = $3`

type GetRemittanceDestinationParams struct {
	Abn            string `json:"abn"`
	Rail           string `json:"rail"`
	DestinationKey string `json:"destination_key"`
}

func (q *Queries) GetRemittanceDestination(ctx context.Context, arg GetRemittanceDestinationParams) (RemittanceDestination, error) {
	row := q.db.QueryRow(ctx, getRemittanceDestination, arg.Abn, arg.Rail, arg.DestinationKey)
	return scanRemittanceDestination(row)
}

const listRemittanceDestinations = `-- name: ListRemittanceDestinations :many
SELECT ` + destinationColumns + `
FROM remittance_destinations
WHERE abn = $1
ORDER BY created_at ASC`

func (q *Queries) ListRemittanceDestinations(ctx context.Context, abn string) ([]RemittanceDestination, error) {
	rows, err := q.db.Query(ctx, listRemittanceDestinations, abn)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []RemittanceDestination
	for rows.Next() {
		i, err := scanRemittanceDestination(rows)
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
