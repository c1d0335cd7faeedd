package banking

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"
)

// MockPort simulates a banking rail with a deterministic fixture keyed by idempotency key.
// Repeated keys return the stored receipt without re-executing.
type MockPort struct {
	// FailureRate is the probability of a transient failure (0.0 to 1.0).
	FailureRate float64
	// Latency is the simulated network delay per call.
	Latency time.Duration

	mu       sync.Mutex
	receipts map[string]Receipt
	executed int
	now      func() time.Time
}

// NewMockPort creates a MockPort that always succeeds instantly.
func NewMockPort() *MockPort {
	return &MockPort{
		receipts: make(map[string]Receipt),
		now:      time.Now,
	}
}

// Release simulates a transfer.
func (m *MockPort) Release(ctx context.Context, req Request) (Receipt, error) {
	if req.IdemKey == "" {
		return Receipt{}, Rejected(fmt.Errorf("idempotency key is required"))
	}
	if m.Latency > 0 {
		select {
		case <-time.After(m.Latency):
		case <-ctx.Done():
			return Receipt{}, Transient(fmt.Errorf("mock rail call canceled: %w", ctx.Err()))
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	amount := req.AmountCents
	if amount < 0 {
		amount = -amount
	}
	if existing, ok := m.receipts[req.IdemKey]; ok {
		if existing.AmountCents != amount {
			return Receipt{}, Rejected(fmt.Errorf("idempotency key %s reused with amount %d", req.IdemKey, amount))
		}
		return existing, nil
	}

	if m.FailureRate > 0 && rand.Float64() < m.FailureRate {
		return Receipt{}, Undelivered(fmt.Errorf("mock rail temporarily unavailable"))
	}

	sum := sha256.Sum256([]byte(req.IdemKey))
	receipt := Receipt{
		ProviderRef: fmt.Sprintf("MOCK-%s-%s", req.Destination.Rail, hex.EncodeToString(sum[:8])),
		PaidAt:      m.now(),
		AmountCents: amount,
	}.Normalize()
	m.receipts[req.IdemKey] = receipt
	m.executed++
	return receipt, nil
}

// Executed returns how many distinct transfers were executed.
func (m *MockPort) Executed() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.executed
}
