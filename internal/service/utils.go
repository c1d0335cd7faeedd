package service

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ayo6706/owa-release/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
)

func requireExactlyOne(rows int64, operation string) error {
	if rows != 1 {
		return fmt.Errorf("%s affected %d rows", operation, rows)
	}
	return nil
}

func periodLookupErr(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ErrPeriodNotFound
	}
	return fmt.Errorf("get period: %w", err)
}

func marshalReasonMetadata(reason string) ([]byte, error) {
	return json.Marshal(map[string]string{
		"reason": reason,
	})
}

func strPtr(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}

func timePtr(ts pgtype.Timestamptz) *time.Time {
	if !ts.Valid {
		return nil
	}
	t := ts.Time.UTC()
	return &t
}

func clampPage(limit, offset int32) (int32, int32) {
	if limit <= 0 {
		limit = 50
	}
	if limit > 500 {
		limit = 500
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
