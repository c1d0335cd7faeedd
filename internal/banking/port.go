// Package banking defines the Banking Port contract and its providers.
package banking

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/ayo6706/owa-release/internal/canonical"
	"github.com/ayo6706/owa-release/internal/domain"
)

// Port executes a release on a banking rail.
// Implementations must be idempotent on Request.IdemKey: a repeated key never
// re-executes a transfer and returns the original ProviderRef.
type Port interface {
	Release(ctx context.Context, req Request) (Receipt, error)
}

// Request is one transfer out of the OWA. AmountCents is the signed ledger
// amount (negative); providers transfer its magnitude.
type Request struct {
	ABN         string             `json:"abn"`
	TaxType     string             `json:"tax_type"`
	PeriodID    string             `json:"period_id"`
	AmountCents int64              `json:"amount_cents"`
	Reference   string             `json:"reference"`
	Destination domain.Destination `json:"destination"`
	IdemKey     string             `json:"-"`
}

// Receipt is what the bank reports for an executed transfer.
type Receipt struct {
	ProviderRef string    `json:"provider_ref"`
	PaidAt      time.Time `json:"paid_at"`
	AmountCents int64     `json:"amount_cents"`
}

// Normalize pins PaidAt to UTC microseconds so it survives a Postgres round trip.
func (r Receipt) Normalize() Receipt {
	r.PaidAt = r.PaidAt.UTC().Truncate(time.Microsecond)
	return r
}

// Hash is the bank_receipt_hash recorded in the ledger: sha256 over the canonical receipt.
func (r Receipt) Hash() (string, error) {
	n := r.Normalize()
	c14n, err := canonical.Marshal(map[string]any{
		"provider_ref": n.ProviderRef,
		"paid_at":      n.PaidAt.Format(time.RFC3339Nano),
		"amount_cents": n.AmountCents,
	})
	if err != nil {
		return "", fmt.Errorf("hash receipt: %w", err)
	}
	sum := sha256.Sum256(c14n)
	return hex.EncodeToString(sum[:]), nil
}

// Transient marks err as retryable under the resilience policy.
func Transient(err error) error {
	return fmt.Errorf("%w: %w", domain.ErrBankingTransient, err)
}

// Undelivered marks err as transient and known not to have reached the bank,
// so a retry cannot execute the transfer twice on any rail.
func Undelivered(err error) error {
	return fmt.Errorf("%w: %w: %w", domain.ErrBankingTransient, domain.ErrBankingNotDelivered, err)
}

// Rejected marks err as a definitive refusal by the rail.
func Rejected(err error) error {
	return fmt.Errorf("%w: %w", domain.ErrBankingRejected, err)
}
