package domain

import (
	"fmt"
	"strings"
)

// Scope identifies one period's ledger: (abn, taxType, periodId).
type Scope struct {
	ABN      string `json:"abn"`
	TaxType  string `json:"taxType"`
	PeriodID string `json:"periodId"`
}

// NewScope trims and normalizes the key parts.
func NewScope(abn, taxType, periodID string) Scope {
	return Scope{
		ABN:      strings.TrimSpace(abn),
		TaxType:  strings.ToUpper(strings.TrimSpace(taxType)),
		PeriodID: strings.TrimSpace(periodID),
	}
}

// Validate ensures every key part is present.
func (s Scope) Validate() error {
	switch {
	case s.ABN == "":
		return NewValidationError("abn", "is required")
	case s.TaxType == "":
		return NewValidationError("taxType", "is required")
	case s.PeriodID == "":
		return NewValidationError("periodId", "is required")
	}
	return nil
}

// LockKey is the string hashed into the per-scope advisory lock.
func (s Scope) LockKey() string {
	return s.ABN + "|" + s.TaxType + "|" + s.PeriodID
}

func (s Scope) String() string {
	return fmt.Sprintf("%s/%s/%s", s.ABN, s.TaxType, s.PeriodID)
}
