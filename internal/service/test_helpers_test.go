package service

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"

	"github.com/ayo6706/owa-release/internal/banking"
	"github.com/ayo6706/owa-release/internal/db"
	"github.com/ayo6706/owa-release/internal/domain"
	"github.com/ayo6706/owa-release/internal/kms"
	"github.com/ayo6706/owa-release/internal/repository"
	"github.com/ayo6706/owa-release/internal/resilience"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

func init() {
	_ = godotenv.Load("../../.env")
}

// setupTestDB connects to the Postgres named by DATABASE_URL, applies migrations
// and empties every table. Tests are skipped when no database is configured.
func setupTestDB(t *testing.T) *pgxpool.Pool {
	t.Helper()

	connString := os.Getenv("DATABASE_URL")
	if connString == "" {
		t.Skip("Skipping integration test: DATABASE_URL not set")
	}
	pool, err := db.Connect(context.Background(), connString)
	if err != nil {
		t.Fatalf("Failed to connect to DB: %v", err)
	}
	if err := db.Migrate(pool); err != nil {
		pool.Close()
		t.Fatalf("Failed to migrate DB: %v", err)
	}

	tables := []string{
		"audit_log", "bank_statement_lines", "payout_releases", "owa_ledger",
		"rpt_tokens", "remittance_destinations", "idempotency_keys", "periods",
	}
	for _, table := range tables {
		stmt := fmt.Sprintf("TRUNCATE TABLE %s CASCADE", table)
		if _, err := pool.Exec(context.Background(), stmt); err != nil {
			pool.Close()
			t.Fatalf("Failed to truncate %s: %v", table, err)
		}
	}
	return pool
}

// testThresholds tolerates everything except a liability gap above epsilon.
func testThresholds(epsilon int64) domain.Thresholds {
	return domain.Thresholds{
		VarianceRatio:   decimal.RequireFromString("0.25"),
		DupRate:         decimal.RequireFromString("0.01"),
		GapMinutes:      60,
		DeltaVsBaseline: decimal.RequireFromString("0.2"),
		EpsilonCents:    epsilon,
	}
}

func eftDestination() domain.Destination {
	return domain.Destination{
		Rail: domain.RailEFT,
		EFT:  &domain.EFTDestination{BSB: "092-009", AccountNumber: "12345678", AccountName: "ATO"},
	}
}

// countingSigner records how often the issuer reached the signing step.
type countingSigner struct {
	kms.Signer
	mu    sync.Mutex
	signs int
	err   error
}

func newCountingSigner() *countingSigner {
	return &countingSigner{Signer: kms.NewMockSigner()}
}

func (c *countingSigner) Sign(ctx context.Context, payload []byte) ([]byte, error) {
	c.mu.Lock()
	c.signs++
	err := c.err
	c.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return c.Signer.Sign(ctx, payload)
}

func (c *countingSigner) Signs() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.signs
}

// stubPort fails every call with err and counts the attempts.
type stubPort struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (p *stubPort) Release(ctx context.Context, req banking.Request) (banking.Receipt, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	return banking.Receipt{}, p.err
}

func (p *stubPort) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

type testEnv struct {
	pool         *pgxpool.Pool
	store        *repository.Store
	signer       *countingSigner
	port         banking.Port
	ledger       *LedgerService
	periods      *PeriodService
	issuer       *IssuerService
	releases     *ReleaseService
	deposits     *WebhookService
	destinations *DestinationService
	recon        *ReconciliationService
	evidence     *EvidenceService
}

// newTestEnv wires the services against a fresh database, with port serving every rail.
func newTestEnv(t *testing.T, port banking.Port) *testEnv {
	t.Helper()
	pool := setupTestDB(t)
	t.Cleanup(pool.Close)

	if port == nil {
		port = banking.NewMockPort()
	}
	rails, err := banking.NewRegistry(map[domain.Rail]banking.Port{
		domain.RailEFT:   port,
		domain.RailBPAY:  port,
		domain.RailPayTo: port,
	})
	if err != nil {
		t.Fatalf("Failed to build rail registry: %v", err)
	}
	policy := resilience.Policy{Attempts: 1, CallTimeout: 0}

	store := repository.NewStore(pool)
	signer := newCountingSigner()
	ledger := NewLedgerService(store)
	return &testEnv{
		pool:         pool,
		store:        store,
		signer:       signer,
		port:         port,
		ledger:       ledger,
		periods:      NewPeriodService(store, repository.NewRepository(pool)),
		issuer:       NewIssuerService(store, signer, 0),
		releases:     NewReleaseService(store, signer, rails, policy, ledger, 0),
		deposits:     NewWebhookService(store, ledger, "secret", false),
		destinations: NewDestinationService(store),
		recon:        NewReconciliationService(store, 0),
		evidence:     NewEvidenceService(store, ledger),
	}
}

func uniqueScope() domain.Scope {
	return domain.NewScope("5"+uuid.NewString()[:10], "GST", "2025-Q1")
}
