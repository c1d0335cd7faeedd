package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/ayo6706/owa-release/internal/api/middleware"
	"github.com/ayo6706/owa-release/internal/api/problem"
	"github.com/ayo6706/owa-release/internal/domain"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"
)

const maxBodyBytes = 4 << 20

// RespondJSON writes a JSON response.
func RespondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// RespondError writes an error response.
func RespondError(w http.ResponseWriter, r *http.Request, status int, problemType, message string) {
	if problemType != "" && problemType != "about:blank" && !strings.HasPrefix(problemType, "http") {
		problemType = problem.Type(problemType)
	}
	problem.Write(w, r, status, problemType, http.StatusText(status), message)
}

func requestActor(r *http.Request) (string, error) {
	userID := middleware.UserIDFromContext(r.Context())
	if userID == "" {
		return "", errors.New("missing user in auth context")
	}
	return userID, nil
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-body", "Invalid request body")
		return false
	}
	return true
}

func parsePage(w http.ResponseWriter, r *http.Request) (int32, int32, bool) {
	limit := int32(50)
	offset := int32(0)
	if v := strings.TrimSpace(r.URL.Query().Get("limit")); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed <= 0 {
			RespondError(w, r, http.StatusBadRequest, "request/invalid-limit", "limit must be a positive integer")
			return 0, 0, false
		}
		limit = int32(parsed)
	}
	if v := strings.TrimSpace(r.URL.Query().Get("offset")); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed < 0 {
			RespondError(w, r, http.StatusBadRequest, "request/invalid-offset", "offset must be a non-negative integer")
			return 0, 0, false
		}
		offset = int32(parsed)
	}
	return limit, offset, true
}

type errorMapping struct {
	target      error
	status      int
	problemType string
}

// errorMappings is ordered: the first target matched with errors.Is wins.
var errorMappings = []errorMapping{
	{domain.ErrValidation, http.StatusBadRequest, "request/validation"},
	{domain.ErrAllowlist, http.StatusForbidden, "release/destination-not-allow-listed"},
	{domain.ErrBlockedAnomaly, http.StatusForbidden, "rpt/blocked-anomaly"},
	{domain.ErrWebhookSignature, http.StatusUnauthorized, "webhook/invalid-signature"},
	{domain.ErrSignature, http.StatusInternalServerError, "rpt/signature-invalid"},
	{domain.ErrLedgerIntegrity, http.StatusInternalServerError, "ledger/integrity-violation"},
	{domain.ErrBankingTransient, http.StatusServiceUnavailable, "banking/transient"},
	{domain.ErrBankingRejected, http.StatusBadGateway, "banking/rejected"},
	{domain.ErrKMSUnavailable, http.StatusServiceUnavailable, "kms/unavailable"},
	{domain.ErrPersistFailed, http.StatusServiceUnavailable, "rpt/persist-failed"},
	{domain.ErrIdempotencyConflict, http.StatusConflict, "idempotency/key-conflict"},
	{domain.ErrAlreadyReserved, http.StatusConflict, "release/already-reserved"},
	{domain.ErrReleaseInProgress, http.StatusConflict, "release/in-progress"},
	{domain.ErrAwaitingReconciliation, http.StatusConflict, "release/awaiting-reconciliation"},
	{domain.ErrReleaseVoided, http.StatusConflict, "release/voided"},
	{domain.ErrReleaseNotReviewable, http.StatusConflict, "release/not-reviewable"},
	{domain.ErrInvalidPeriodState, http.StatusConflict, "period/invalid-state"},
	{domain.ErrPeriodExists, http.StatusConflict, "period/exists"},
	{domain.ErrDepositMismatch, http.StatusConflict, "webhook/deposit-mismatch"},
	{domain.ErrRPTExpired, http.StatusConflict, "rpt/expired"},
	{domain.ErrInvalidResolution, http.StatusBadRequest, "release/invalid-resolution"},
	{domain.ErrPeriodNotFound, http.StatusNotFound, "period/not-found"},
	{domain.ErrRPTNotFound, http.StatusNotFound, "rpt/not-found"},
	{domain.ErrReleaseNotFound, http.StatusNotFound, "release/not-found"},
}

// respondServiceError maps domain errors to problem details. Unknown errors are
// logged and reported as a generic failure of the named operation.
func respondServiceError(w http.ResponseWriter, r *http.Request, operation string, err error) {
	for _, m := range errorMappings {
		if !errors.Is(err, m.target) {
			continue
		}
		if m.status >= http.StatusInternalServerError {
			zap.L().Error(operation+" failed", zap.Error(err))
		}
		RespondError(w, r, m.status, m.problemType, err.Error())
		return
	}
	if status, problemType, message, ok := mapDBError(err); ok {
		RespondError(w, r, status, problemType, message)
		return
	}
	zap.L().Error(operation+" failed", zap.Error(err))
	RespondError(w, r, http.StatusInternalServerError, "internal-server-error", operation+" failed")
}

func mapDBError(err error) (status int, problemType, message string, ok bool) {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return 0, "", "", false
	}

	switch pgErr.Code {
	case "23505": // unique_violation
		return http.StatusConflict, "db/unique-violation", "resource already exists", true
	case "23503": // foreign_key_violation
		return http.StatusBadRequest, "db/foreign-key-violation", "invalid reference", true
	case "23514": // check_violation
		return http.StatusBadRequest, "db/check-violation", "request violates data constraints", true
	case "23502": // not_null_violation
		return http.StatusBadRequest, "db/not-null-violation", "missing required field", true
	default:
		return 0, "", "", false
	}
}
