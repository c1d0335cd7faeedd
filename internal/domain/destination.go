package domain

import (
	"fmt"
	"strings"
)

// Rail is a settlement channel.
type Rail string

const (
	RailEFT   Rail = "EFT"
	RailBPAY  Rail = "BPAY"
	RailPayTo Rail = "PAYTO"
)

// Rails lists every supported rail.
var Rails = []Rail{RailEFT, RailBPAY, RailPayTo}

// ParseRail normalizes a rail name.
func ParseRail(raw string) (Rail, error) {
	switch r := Rail(strings.ToUpper(strings.TrimSpace(raw))); r {
	case RailEFT, RailBPAY, RailPayTo:
		return r, nil
	default:
		return "", NewValidationError("rail", fmt.Sprintf("unsupported rail %q", raw))
	}
}

// IdempotentResubmit reports whether the rail guarantees that a resubmitted
// request with the same idempotency key cannot execute twice.
func (r Rail) IdempotentResubmit() bool {
	switch r {
	case RailBPAY, RailPayTo:
		return true
	case RailEFT:
		return false
	default:
		return false
	}
}

// EFTDestination is a direct-entry BSB/account transfer.
type EFTDestination struct {
	BSB           string `json:"bsb"`
	AccountNumber string `json:"account_number"`
	AccountName   string `json:"account_name,omitempty"`
}

// BPAYDestination is a biller code + customer reference number.
type BPAYDestination struct {
	BillerCode string `json:"biller_code"`
	CRN        string `json:"crn"`
}

// PayToDestination is a PayID (email, phone or ABN).
type PayToDestination struct {
	PayID string `json:"pay_id"`
}

// Destination is a tagged union: Rail selects which variant must be set.
type Destination struct {
	Rail  Rail              `json:"rail"`
	EFT   *EFTDestination   `json:"eft,omitempty"`
	BPAY  *BPAYDestination  `json:"bpay,omitempty"`
	PayTo *PayToDestination `json:"payto,omitempty"`
}

// Normalize trims the variant fields in place and upper-cases the rail.
func (d *Destination) Normalize() {
	d.Rail = Rail(strings.ToUpper(strings.TrimSpace(string(d.Rail))))
	if d.EFT != nil {
		d.EFT.BSB = strings.ReplaceAll(strings.TrimSpace(d.EFT.BSB), "-", "")
		d.EFT.AccountNumber = strings.TrimSpace(d.EFT.AccountNumber)
		d.EFT.AccountName = strings.TrimSpace(d.EFT.AccountName)
	}
	if d.BPAY != nil {
		d.BPAY.BillerCode = strings.TrimSpace(d.BPAY.BillerCode)
		d.BPAY.CRN = strings.TrimSpace(d.BPAY.CRN)
	}
	if d.PayTo != nil {
		d.PayTo.PayID = strings.ToLower(strings.TrimSpace(d.PayTo.PayID))
	}
}

// Validate checks that exactly the variant named by Rail is present and well formed.
func (d Destination) Validate() error {
	switch d.Rail {
	case RailEFT:
		if d.EFT == nil || d.BPAY != nil || d.PayTo != nil {
			return NewValidationError("destination", "must carry only eft details for rail EFT")
		}
		if !isDigits(d.EFT.BSB, 6, 6) {
			return NewValidationError("destination.eft.bsb", "must be 6 digits")
		}
		if !isDigits(d.EFT.AccountNumber, 5, 9) {
			return NewValidationError("destination.eft.account_number", "must be 5-9 digits")
		}
	case RailBPAY:
		if d.BPAY == nil || d.EFT != nil || d.PayTo != nil {
			return NewValidationError("destination", "must carry only bpay details for rail BPAY")
		}
		if !isDigits(d.BPAY.BillerCode, 3, 10) {
			return NewValidationError("destination.bpay.biller_code", "must be 3-10 digits")
		}
		if !isDigits(d.BPAY.CRN, 2, 20) {
			return NewValidationError("destination.bpay.crn", "must be 2-20 digits")
		}
	case RailPayTo:
		if d.PayTo == nil || d.EFT != nil || d.BPAY != nil {
			return NewValidationError("destination", "must carry only payto details for rail PAYTO")
		}
		if d.PayTo.PayID == "" {
			return NewValidationError("destination.payto.pay_id", "is required")
		}
	default:
		return NewValidationError("destination.rail", fmt.Sprintf("unsupported rail %q", d.Rail))
	}
	return nil
}

// Key is the normalized allow-list key for the destination.
func (d Destination) Key() string {
	switch d.Rail {
	case RailEFT:
		if d.EFT != nil {
			return fmt.Sprintf("EFT:%s:%s", d.EFT.BSB, d.EFT.AccountNumber)
		}
	case RailBPAY:
		if d.BPAY != nil {
			return fmt.Sprintf("BPAY:%s:%s", d.BPAY.BillerCode, d.BPAY.CRN)
		}
	case RailPayTo:
		if d.PayTo != nil {
			return "PAYTO:" + d.PayTo.PayID
		}
	}
	return ""
}

func isDigits(s string, minLen, maxLen int) bool {
	if len(s) < minLen || len(s) > maxLen {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
