package api_test

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/ayo6706/owa-release/internal/api"
	"github.com/ayo6706/owa-release/internal/api/middleware"
	"github.com/ayo6706/owa-release/internal/banking"
	"github.com/ayo6706/owa-release/internal/config"
	"github.com/ayo6706/owa-release/internal/db"
	"github.com/ayo6706/owa-release/internal/domain"
	"github.com/ayo6706/owa-release/internal/idempotency"
	"github.com/ayo6706/owa-release/internal/kms"
	"github.com/ayo6706/owa-release/internal/models"
	"github.com/ayo6706/owa-release/internal/repository"
	"github.com/ayo6706/owa-release/internal/resilience"
	"github.com/ayo6706/owa-release/internal/service"
	"github.com/ayo6706/owa-release/internal/testutil/dblock"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var testDB *pgxpool.Pool

const (
	testJWTSecret   = "test-secret-0123456789-test-secret"
	testJWTIssuer   = "owa-release-test"
	testJWTAudience = "owa-api-test"
	testHMACKey     = "test"
)

func TestMain(m *testing.M) {
	middleware.SetJWTSecret(testJWTSecret)
	middleware.SetJWTValidation(testJWTIssuer, testJWTAudience)

	connStr := os.Getenv("DATABASE_URL")
	if connStr == "" {
		os.Exit(m.Run())
	}

	release := dblock.Acquire()
	var err error
	testDB, err = db.Connect(context.Background(), connStr)
	if err != nil {
		release()
		fmt.Printf("Unable to connect to database: %v\n", err)
		os.Exit(1)
	}
	if err := db.Migrate(testDB); err != nil {
		testDB.Close()
		release()
		fmt.Printf("Unable to migrate database: %v\n", err)
		os.Exit(1)
	}

	code := m.Run()
	testDB.Close()
	release()
	os.Exit(code)
}

func requireDB(t *testing.T) {
	t.Helper()
	if testDB == nil {
		t.Skip("Skipping integration test: DATABASE_URL not set")
	}
	_, err := testDB.Exec(context.Background(), "TRUNCATE TABLE audit_log, bank_statement_lines, payout_releases, owa_ledger, rpt_tokens, remittance_destinations, idempotency_keys, periods CASCADE")
	require.NoError(t, err)
}

func testConfig() *config.Config {
	return &config.Config{
		HTTPPort:             "0",
		JWTSecret:            testJWTSecret,
		JWTIssuer:            testJWTIssuer,
		JWTAudience:          testJWTAudience,
		DevTokens:            true,
		WebhookHMACKey:       testHMACKey,
		WebhookSkipSignature: false,
		PublicRateLimitRPS:   1000,
		AuthRateLimitRPS:     1000,
		IdempotencyTTL:       time.Hour,
		RPTTTL:               time.Hour,
		MatchWindow:          72 * time.Hour,
		Thresholds: domain.Thresholds{
			VarianceRatio:   decimal.RequireFromString("0.25"),
			DupRate:         decimal.RequireFromString("0.01"),
			GapMinutes:      60,
			DeltaVsBaseline: decimal.RequireFromString("0.2"),
			EpsilonCents:    100,
		},
	}
}

// setupAPI builds the router. Without a database only the routes that fail
// before touching storage can be exercised.
func setupAPI(t *testing.T) http.Handler {
	t.Helper()
	cfg := testConfig()
	signer := kms.NewMockSigner()

	ports := map[domain.Rail]banking.Port{}
	for _, rail := range domain.Rails {
		ports[rail] = banking.NewMockPort()
	}
	rails, err := banking.NewRegistry(ports)
	require.NoError(t, err)

	var (
		store     *repository.Store
		lister    service.PeriodLister
		idemStore *idempotency.Store
	)
	if testDB != nil {
		store = repository.NewStore(testDB)
		lister = repository.NewRepository(testDB)
		idemStore = idempotency.NewStore(nil, testDB, cfg.IdempotencyTTL)
	}

	ledger := service.NewLedgerService(store)
	policy := resilience.Policy{Attempts: 1, Logger: zap.NewNop()}
	services := api.Services{
		Periods:      service.NewPeriodService(store, lister),
		Destinations: service.NewDestinationService(store),
		Issuer:       service.NewIssuerService(store, signer, cfg.RPTTTL),
		Releases:     service.NewReleaseService(store, signer, rails, policy, ledger, time.Minute),
		Ledger:       ledger,
		Deposits:     service.NewWebhookService(store, ledger, cfg.WebhookHMACKey, cfg.WebhookSkipSignature),
		Recon:        service.NewReconciliationService(store, cfg.MatchWindow),
		Evidence:     service.NewEvidenceService(store, ledger),
	}
	return api.NewRouter(cfg, zap.NewNop(), testDB, idemStore, nil, services).Routes()
}

func generateTokenWithRole(userID, role string) string {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"user_id": userID,
		"role":    role,
		"iss":     testJWTIssuer,
		"aud":     testJWTAudience,
		"sub":     userID,
		"iat":     now.Unix(),
		"nbf":     now.Add(-30 * time.Second).Unix(),
		"exp":     now.Add(time.Hour).Unix(),
	})
	tokenString, _ := token.SignedString(middleware.JWTSecret())
	return tokenString
}

func doJSON(t *testing.T, h http.Handler, method, path, role string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	switch v := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case []byte:
		reader = bytes.NewReader(v)
	default:
		raw, err := json.Marshal(v)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if role != "" {
		req.Header.Set("Authorization", "Bearer "+generateTokenWithRole(uuid.NewString(), role))
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func sign(body []byte) string {
	mac := hmac.New(sha256.New, []byte(testHMACKey))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func decodeProblem(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	require.Contains(t, w.Header().Get("Content-Type"), "application/problem+json")
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

func TestRFC7807ProblemDetails(t *testing.T) {
	router := setupAPI(t)

	path := "/api/evidence?abn=12345678901&taxType=GST&periodId=2025-Q1"
	w := doJSON(t, router, http.MethodGet, path, "", nil, nil)

	require.Equal(t, http.StatusUnauthorized, w.Code)
	body := decodeProblem(t, w)
	assert.NotEmpty(t, body["type"])
	assert.Equal(t, float64(http.StatusUnauthorized), body["status"])
	assert.NotEmpty(t, body["title"])
	assert.NotEmpty(t, body["detail"])
	assert.Equal(t, "/api/evidence", body["instance"])
	assert.NotEmpty(t, body["request_id"])
}

func TestRoleEnforcement(t *testing.T) {
	router := setupAPI(t)

	cases := []struct {
		name   string
		method string
		path   string
		role   string
	}{
		{"operator cannot create periods", http.MethodPost, "/admin/periods", middleware.RoleOperator},
		{"operator cannot resolve releases", http.MethodPost, "/payments/releases/" + uuid.NewString() + "/resolve", middleware.RoleOperator},
		{"unknown role cannot read review queue", http.MethodGet, "/payments/releases/review", "user"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := doJSON(t, router, tc.method, tc.path, tc.role, map[string]string{}, nil)
			assert.Equal(t, http.StatusForbidden, w.Code)
		})
	}
}

func TestReleaseRequestValidation(t *testing.T) {
	router := setupAPI(t)
	if testDB != nil {
		requireDB(t)
	}

	valid := map[string]any{
		"abn":         "12345678901",
		"taxType":     "GST",
		"periodId":    "2025-Q1",
		"amountCents": -100,
		"destination": map[string]any{
			"rail": "EFT",
			"eft":  map[string]string{"bsb": "092-009", "account_number": "12345678"},
		},
	}

	t.Run("missing idempotency key", func(t *testing.T) {
		w := doJSON(t, router, http.MethodPost, "/payments/release", middleware.RoleOperator, valid, nil)
		require.Equal(t, http.StatusBadRequest, w.Code)
		assert.Contains(t, decodeProblem(t, w)["type"], "idempotency/missing-key")
	})

	t.Run("positive amount", func(t *testing.T) {
		body := map[string]any{}
		for k, v := range valid {
			body[k] = v
		}
		body["amountCents"] = 100
		w := doJSON(t, router, http.MethodPost, "/payments/release", middleware.RoleOperator, body,
			map[string]string{"Idempotency-Key": "k-" + uuid.NewString()})
		require.Equal(t, http.StatusBadRequest, w.Code)
		assert.Contains(t, decodeProblem(t, w)["detail"], "amountCents")
	})

	t.Run("unknown field", func(t *testing.T) {
		body := map[string]any{"abn": "12345678901", "amount": 5}
		w := doJSON(t, router, http.MethodPost, "/payments/release", middleware.RoleOperator, body,
			map[string]string{"Idempotency-Key": "k-" + uuid.NewString()})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestEvidenceRequiresScope(t *testing.T) {
	router := setupAPI(t)

	w := doJSON(t, router, http.MethodGet, "/api/evidence?abn=12345678901&taxType=GST", middleware.RoleOperator, nil, nil)
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, decodeProblem(t, w)["detail"], "periodId")
}

func TestDepositWebhookRejectsBadSignature(t *testing.T) {
	router := setupAPI(t)

	body := []byte(`{"abn":"12345678901","taxType":"GST","periodId":"2025-Q1","amount_cents":100,"reference":"dep-1"}`)
	w := doJSON(t, router, http.MethodPost, "/webhooks/deposit", "", body,
		map[string]string{"X-Webhook-Signature": "sha256=deadbeef"})

	require.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, decodeProblem(t, w)["type"], "webhook/invalid-signature")
}

func TestPublicRoutes(t *testing.T) {
	router := setupAPI(t)

	w := doJSON(t, router, http.MethodGet, "/health/live", "", nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, router, http.MethodGet, "/openapi.yaml", "", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "/payments/release")

	w = doJSON(t, router, http.MethodGet, "/docs", "", nil, nil)
	assert.Equal(t, http.StatusMovedPermanently, w.Code)
	assert.NotEmpty(t, w.Header().Get("X-Trace-ID"))
}

func TestDevToken(t *testing.T) {
	router := setupAPI(t)

	w := doJSON(t, router, http.MethodPost, "/auth/dev-token", "", map[string]string{"user_id": "ops-1", "role": "Admin"}, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Token string `json:"token"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	parsed, err := jwt.Parse(resp.Token, func(token *jwt.Token) (interface{}, error) {
		return middleware.JWTSecret(), nil
	}, jwt.WithIssuer(testJWTIssuer), jwt.WithAudience(testJWTAudience))
	require.NoError(t, err)
	claims, ok := parsed.Claims.(jwt.MapClaims)
	require.True(t, ok)
	assert.Equal(t, "admin", claims["role"])
	assert.Equal(t, "ops-1", claims["sub"])

	w = doJSON(t, router, http.MethodPost, "/auth/dev-token", "", map[string]string{"user_id": "ops-1", "role": "root"}, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

// TestReleaseFlow drives a period from creation to reconciliation over HTTP.
func TestReleaseFlow(t *testing.T) {
	requireDB(t)
	router := setupAPI(t)

	abn := "9" + strings.ReplaceAll(uuid.NewString(), "-", "")[:10]
	periodPath := "/admin/periods/" + abn + "/GST/2025-Q1"
	admin := middleware.RoleAdmin
	operator := middleware.RoleOperator

	w := doJSON(t, router, http.MethodPost, "/admin/periods", admin, map[string]any{
		"abn": abn, "taxType": "gst", "periodId": "2025-Q1", "accrued_cents": 40000, "final_liability_cents": 40000,
	}, nil)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	deposit := []byte(fmt.Sprintf(`{"abn":%q,"taxType":"GST","periodId":"2025-Q1","amount_cents":40000,"reference":"dep-%s"}`, abn, abn))
	w = doJSON(t, router, http.MethodPost, "/webhooks/deposit", "", deposit, map[string]string{"X-Webhook-Signature": sign(deposit)})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = doJSON(t, router, http.MethodPost, periodPath+"/close", admin, nil, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = doJSON(t, router, http.MethodPost, periodPath+"/rpt", admin, map[string]any{"reference": "PRN-" + abn}, nil)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	destination := map[string]any{
		"rail": "EFT",
		"eft":  map[string]string{"bsb": "092-009", "account_number": "12345678", "account_name": "ATO"},
	}
	w = doJSON(t, router, http.MethodPost, "/admin/destinations", admin, map[string]any{
		"abn": abn, "label": "ATO clearing", "destination": destination,
	}, nil)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	releaseBody := map[string]any{
		"abn": abn, "taxType": "GST", "periodId": "2025-Q1", "amountCents": -40000, "destination": destination,
	}
	headers := map[string]string{"Idempotency-Key": "rel-" + abn}
	w = doJSON(t, router, http.MethodPost, "/payments/release", operator, releaseBody, headers)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var result models.ReleaseResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
	assert.NotEmpty(t, result.Receipt.ProviderRef)
	assert.Equal(t, int64(-40000), result.Ledger.AmountCents)
	assert.Equal(t, int64(0), result.Ledger.BalanceAfterCents)

	w = doJSON(t, router, http.MethodPost, "/payments/release", operator, releaseBody, headers)
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get("X-Idempotent-Replay"))

	releaseBody["amountCents"] = -39999
	w = doJSON(t, router, http.MethodPost, "/payments/release", operator, releaseBody, headers)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = doJSON(t, router, http.MethodGet, "/api/evidence?abn="+abn+"&taxType=GST&periodId=2025-Q1", operator, nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var bundle models.EvidenceBundle
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &bundle))
	assert.Equal(t, domain.PeriodStateReleased, bundle.Period.State)
	assert.Len(t, bundle.Ledger, 2)
	assert.True(t, bundle.Chain.Valid)

	csv := "bank_txn_id,abn,statement_date,amount,reference\n" +
		"BANK-" + abn + "," + abn + "," + time.Now().UTC().Format("2006-01-02") + ",400.00,PRN-" + abn + "\n"
	req := httptest.NewRequest(http.MethodPost, "/settlement/import", strings.NewReader(csv))
	req.Header.Set("Content-Type", "text/csv")
	req.Header.Set("Authorization", "Bearer "+generateTokenWithRole("ops-2", operator))
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var imported models.ImportResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &imported))
	assert.Equal(t, models.ImportResult{Imported: 1, Matched: 1, Unresolved: 0}, imported)

	w = doJSON(t, router, http.MethodGet, "/api/ledger/verify?abn="+abn+"&taxType=GST&periodId=2025-Q1", operator, nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var status models.ChainStatus
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &status))
	assert.True(t, status.Valid)
	assert.Equal(t, 2, status.Entries)
}

func TestAnomalyBlockReturns403(t *testing.T) {
	requireDB(t)
	router := setupAPI(t)

	abn := "8" + strings.ReplaceAll(uuid.NewString(), "-", "")[:10]
	periodPath := "/admin/periods/" + abn + "/GST/2025-Q2"
	admin := middleware.RoleAdmin

	w := doJSON(t, router, http.MethodPost, "/admin/periods", admin, map[string]any{
		"abn": abn, "taxType": "GST", "periodId": "2025-Q2", "final_liability_cents": 1000,
	}, nil)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = doJSON(t, router, http.MethodPost, periodPath+"/anomaly", admin, map[string]any{
		"variance_ratio": 0.9, "dup_rate": 0, "gap_minutes": 0, "delta_vs_baseline": 0,
	}, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = doJSON(t, router, http.MethodPost, periodPath+"/close", admin, nil, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = doJSON(t, router, http.MethodPost, periodPath+"/rpt", admin, nil, nil)
	require.Equal(t, http.StatusForbidden, w.Code)
	assert.Contains(t, decodeProblem(t, w)["detail"], "variance_ratio")

	w = doJSON(t, router, http.MethodGet, periodPath, admin, nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var period models.Period
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &period))
	assert.Equal(t, domain.PeriodStateBlockedAnomaly, period.State)
}
