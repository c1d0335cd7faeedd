package banking

import (
	"context"
	"errors"
	"time"

	"github.com/ayo6706/owa-release/internal/domain"
	"github.com/ayo6706/owa-release/internal/observability"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ShadowPort calls the primary and shadow ports concurrently, always returns the
// primary outcome, and logs any divergence for drift detection.
type ShadowPort struct {
	primary Port
	shadow  Port
	logger  *zap.Logger
	timeout time.Duration
}

// NewShadowPort wraps primary with a shadow; the shadow call is bounded by timeout.
func NewShadowPort(primary, shadow Port, logger *zap.Logger, timeout time.Duration) *ShadowPort {
	if logger == nil {
		logger = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &ShadowPort{primary: primary, shadow: shadow, logger: logger, timeout: timeout}
}

func (s *ShadowPort) Release(ctx context.Context, req Request) (Receipt, error) {
	var (
		primaryReceipt Receipt
		primaryErr     error
		shadowReceipt  Receipt
		shadowErr      error
	)

	var g errgroup.Group
	g.Go(func() error {
		primaryReceipt, primaryErr = s.primary.Release(ctx, req)
		return nil
	})
	g.Go(func() error {
		shadowCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
		defer cancel()
		shadowReceipt, shadowErr = s.shadow.Release(shadowCtx, req)
		return nil
	})
	_ = g.Wait()

	if reason := divergence(primaryReceipt, primaryErr, shadowReceipt, shadowErr); reason != "" {
		observability.IncrementShadowDivergence(string(req.Destination.Rail), reason)
		s.logger.Warn("banking shadow divergence",
			zap.String("reason", reason),
			zap.String("rail", string(req.Destination.Rail)),
			zap.String("idempotency_key", req.IdemKey),
			zap.NamedError("primary_error", primaryErr),
			zap.NamedError("shadow_error", shadowErr),
			zap.Int64("primary_amount_cents", primaryReceipt.AmountCents),
			zap.Int64("shadow_amount_cents", shadowReceipt.AmountCents),
		)
	}
	return primaryReceipt, primaryErr
}

func divergence(p Receipt, pErr error, s Receipt, sErr error) string {
	switch {
	case (pErr == nil) != (sErr == nil):
		return "outcome"
	case pErr != nil && sErr != nil:
		if errors.Is(pErr, domain.ErrBankingRejected) != errors.Is(sErr, domain.ErrBankingRejected) {
			return "error_class"
		}
		return ""
	case p.AmountCents != s.AmountCents:
		return "amount"
	default:
		return ""
	}
}
