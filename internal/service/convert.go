package service

import (
	"encoding/json"
	"fmt"

	"github.com/ayo6706/owa-release/internal/domain"
	"github.com/ayo6706/owa-release/internal/models"
	"github.com/ayo6706/owa-release/internal/repository"
	"github.com/google/uuid"
)

func toPeriod(row repository.Period) (models.Period, error) {
	p := models.Period{
		ABN:                 row.Abn,
		TaxType:             row.TaxType,
		PeriodID:            row.PeriodID,
		State:               row.State,
		AccruedCents:        row.AccruedCents,
		CreditedToOWACents:  row.CreditedToOwaCents,
		FinalLiabilityCents: row.FinalLiabilityCents,
		MerkleRoot:          row.MerkleRoot,
		RunningBalanceHash:  row.RunningBalanceHash,
		LedgerHalted:        row.LedgerHalted,
		LedgerHaltReason:    row.LedgerHaltReason,
		CreatedAt:           row.CreatedAt.Time,
		UpdatedAt:           row.UpdatedAt.Time,
	}
	if len(row.AnomalyVector) > 0 {
		if err := json.Unmarshal(row.AnomalyVector, &p.AnomalyVector); err != nil {
			return models.Period{}, fmt.Errorf("decode anomaly vector: %w", err)
		}
	}
	if len(row.Thresholds) > 0 && string(row.Thresholds) != "{}" {
		var t domain.Thresholds
		if err := json.Unmarshal(row.Thresholds, &t); err != nil {
			return models.Period{}, fmt.Errorf("decode thresholds: %w", err)
		}
		p.Thresholds = &t
	}
	return p, nil
}

func toRPTToken(row repository.RptToken) models.RPTToken {
	return models.RPTToken{
		ID:            row.ID,
		ABN:           row.Abn,
		TaxType:       row.TaxType,
		PeriodID:      row.PeriodID,
		Payload:       json.RawMessage(row.Payload),
		PayloadC14n:   row.PayloadC14n,
		PayloadSHA256: row.PayloadSha256,
		Signature:     row.Signature,
		KeyID:         row.Kid,
		Nonce:         row.Nonce,
		Status:        row.Status,
		ExpiresAt:     row.ExpiresAt.Time,
		CreatedAt:     row.CreatedAt.Time,
	}
}

func toLedgerEntry(row repository.OwaLedger) models.LedgerEntry {
	return models.LedgerEntry{
		ID:                row.ID,
		TransferUUID:      repository.FromPgUUID(row.TransferUuid),
		AmountCents:       row.AmountCents,
		BalanceAfterCents: row.BalanceAfterCents,
		BankReceiptHash:   row.BankReceiptHash,
		PrevHash:          row.PrevHash,
		HashAfter:         row.HashAfter,
		ProviderRef:       row.ProviderRef,
		ProviderPaidAt:    timePtr(row.ProviderPaidAt),
		CreatedAt:         row.CreatedAt.Time,
	}
}

func toRelease(row repository.PayoutRelease) models.Release {
	return models.Release{
		ReleaseUUID:      repository.FromPgUUID(row.ReleaseUuid),
		RPTID:            row.RptID,
		ABN:              row.Abn,
		TaxType:          row.TaxType,
		PeriodID:         row.PeriodID,
		AmountCents:      row.AmountCents,
		Reference:        row.Reference,
		Rail:             row.Rail,
		DestinationID:    repository.FromPgUUID(row.DestinationID),
		IdempotencyKey:   row.IdempotencyKey,
		Status:           row.Status,
		FailureReason:    row.FailureReason,
		ProviderRef:      row.ProviderRef,
		ProviderPaidAt:   timePtr(row.ProviderPaidAt),
		LedgerEntryID:    row.LedgerEntryID,
		BankReceiptID:    row.BankReceiptID,
		MatchedBankTxnID: row.MatchedBankTxnID,
		MatchStrategy:    row.MatchStrategy,
		MatchedAt:        timePtr(row.MatchedAt),
		CreatedAt:        row.CreatedAt.Time,
		UpdatedAt:        row.UpdatedAt.Time,
	}
}

func toStatementLine(row repository.BankStatementLine) models.StatementLine {
	line := models.StatementLine{
		BankTxnID:     row.BankTxnID,
		ABN:           row.Abn,
		StatementDate: row.StatementDate.Time,
		AmountCents:   row.AmountCents,
		Reference:     row.Reference,
		Status:        row.Status,
		MatchStrategy: row.MatchStrategy,
	}
	if row.MatchedReleaseUuid.Valid {
		id := uuid.UUID(row.MatchedReleaseUuid.Bytes)
		line.MatchedReleaseUUID = &id
	}
	return line
}

func toDestination(row repository.RemittanceDestination) (models.Destination, error) {
	d := models.Destination{
		ID:             repository.FromPgUUID(row.ID),
		ABN:            row.Abn,
		Rail:           domain.Rail(row.Rail),
		DestinationKey: row.DestinationKey,
		Label:          row.Label,
		CreatedAt:      row.CreatedAt.Time,
	}
	if err := json.Unmarshal(row.Details, &d.Details); err != nil {
		return models.Destination{}, fmt.Errorf("decode destination details: %w", err)
	}
	return d, nil
}
