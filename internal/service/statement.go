package service

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"strconv"
	"strings"
	"time"

	"github.com/ayo6706/owa-release/internal/domain"
)

const statementDateLayout = "2006-01-02"

// StatementInput is one normalized bank statement row.
type StatementInput struct {
	BankTxnID     string
	ABN           string
	StatementDate time.Time
	AmountCents   int64
	Reference     string
}

func (in StatementInput) validate(row int) error {
	field := func(name string) string { return fmt.Sprintf("rows[%d].%s", row, name) }
	switch {
	case in.BankTxnID == "":
		return domain.NewValidationError(field("bank_txn_id"), "is required")
	case in.ABN == "":
		return domain.NewValidationError(field("abn"), "is required")
	case in.StatementDate.IsZero():
		return domain.NewValidationError(field("statement_date"), "is required")
	case in.AmountCents == 0:
		return domain.NewValidationError(field("amount"), "must be non-zero")
	}
	return nil
}

// ParseStatement decodes a CSV or JSON statement. Any malformed row rejects the
// whole batch.
func ParseStatement(contentType string, body []byte) ([]StatementInput, error) {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mediaType = strings.ToLower(strings.TrimSpace(contentType))
	}

	var rows []StatementInput
	switch {
	case strings.Contains(mediaType, "csv"):
		rows, err = parseStatementCSV(body)
	case strings.Contains(mediaType, "json"), mediaType == "":
		rows, err = parseStatementJSON(body)
	default:
		return nil, domain.NewValidationError("Content-Type", fmt.Sprintf("unsupported statement format %q", contentType))
	}
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, domain.NewValidationError("rows", "statement has no rows")
	}

	seen := make(map[string]int, len(rows))
	for i, row := range rows {
		if err := row.validate(i); err != nil {
			return nil, err
		}
		if prev, ok := seen[row.BankTxnID]; ok {
			return nil, domain.NewValidationError(fmt.Sprintf("rows[%d].bank_txn_id", i), fmt.Sprintf("duplicates rows[%d]", prev))
		}
		seen[row.BankTxnID] = i
	}
	return rows, nil
}

func parseStatementCSV(body []byte) ([]StatementInput, error) {
	reader := csv.NewReader(bytes.NewReader(body))
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, domain.NewValidationError("rows", "statement has no header")
		}
		return nil, domain.NewValidationError("csv", err.Error())
	}
	columns := make(map[string]int, len(header))
	for i, name := range header {
		columns[strings.ToLower(strings.TrimSpace(strings.TrimPrefix(name, "\ufeff")))] = i
	}
	for _, required := range []string{"bank_txn_id", "abn", "statement_date"} {
		if _, ok := columns[required]; !ok {
			return nil, domain.NewValidationError("csv", fmt.Sprintf("header is missing %q", required))
		}
	}
	_, hasAmount := columns["amount"]
	_, hasCents := columns["amount_cents"]
	if !hasAmount && !hasCents {
		return nil, domain.NewValidationError("csv", `header needs "amount" or "amount_cents"`)
	}

	get := func(record []string, name string) string {
		idx, ok := columns[name]
		if !ok || idx >= len(record) {
			return ""
		}
		return strings.TrimSpace(record[idx])
	}

	var rows []StatementInput
	for line := 0; ; line++ {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, domain.NewValidationError(fmt.Sprintf("rows[%d]", line), err.Error())
		}

		date, err := parseStatementDate(get(record, "statement_date"))
		if err != nil {
			return nil, domain.NewValidationError(fmt.Sprintf("rows[%d].statement_date", line), err.Error())
		}
		var cents int64
		if hasCents && get(record, "amount_cents") != "" {
			cents, err = strconv.ParseInt(get(record, "amount_cents"), 10, 64)
		} else {
			var c domain.Cents
			c, err = domain.ParseDollars(get(record, "amount"))
			cents = int64(c)
		}
		if err != nil {
			return nil, domain.NewValidationError(fmt.Sprintf("rows[%d].amount", line), err.Error())
		}

		rows = append(rows, StatementInput{
			BankTxnID:     get(record, "bank_txn_id"),
			ABN:           get(record, "abn"),
			StatementDate: date,
			AmountCents:   cents,
			Reference:     get(record, "reference"),
		})
	}
	return rows, nil
}

type statementRowJSON struct {
	BankTxnID     string          `json:"bank_txn_id"`
	ABN           string          `json:"abn"`
	StatementDate string          `json:"statement_date"`
	Amount        json.RawMessage `json:"amount"`
	AmountCents   *int64          `json:"amount_cents"`
	Reference     string          `json:"reference"`
}

func parseStatementJSON(body []byte) ([]StatementInput, error) {
	trimmed := bytes.TrimSpace(body)
	var raw []statementRowJSON
	if len(trimmed) > 0 && trimmed[0] == '{' {
		var envelope struct {
			Rows []statementRowJSON `json:"rows"`
		}
		if err := json.Unmarshal(trimmed, &envelope); err != nil {
			return nil, domain.NewValidationError("json", err.Error())
		}
		raw = envelope.Rows
	} else if err := json.Unmarshal(trimmed, &raw); err != nil {
		return nil, domain.NewValidationError("json", err.Error())
	}

	rows := make([]StatementInput, 0, len(raw))
	for i, r := range raw {
		date, err := parseStatementDate(r.StatementDate)
		if err != nil {
			return nil, domain.NewValidationError(fmt.Sprintf("rows[%d].statement_date", i), err.Error())
		}
		var cents int64
		switch {
		case r.AmountCents != nil:
			cents = *r.AmountCents
		case len(r.Amount) > 0:
			c, err := domain.ParseDollars(strings.Trim(string(r.Amount), `"`))
			if err != nil {
				return nil, domain.NewValidationError(fmt.Sprintf("rows[%d].amount", i), err.Error())
			}
			cents = int64(c)
		default:
			return nil, domain.NewValidationError(fmt.Sprintf("rows[%d].amount", i), "is required")
		}
		rows = append(rows, StatementInput{
			BankTxnID:     strings.TrimSpace(r.BankTxnID),
			ABN:           strings.TrimSpace(r.ABN),
			StatementDate: date,
			AmountCents:   cents,
			Reference:     strings.TrimSpace(r.Reference),
		})
	}
	return rows, nil
}

func parseStatementDate(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, fmt.Errorf("is required")
	}
	if t, err := time.Parse(statementDateLayout, raw); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("must be YYYY-MM-DD or RFC3339")
	}
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC), nil
}
