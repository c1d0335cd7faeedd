package handler

import (
	"errors"
	"net/http"

	"github.com/ayo6706/owa-release/internal/domain"
	"github.com/ayo6706/owa-release/internal/service"
)

// EvidenceHandler serves the audit bundle and on-demand chain verification.
type EvidenceHandler struct {
	evidence *service.EvidenceService
	ledger   *service.LedgerService
}

func NewEvidenceHandler(evidence *service.EvidenceService, ledger *service.LedgerService) *EvidenceHandler {
	return &EvidenceHandler{evidence: evidence, ledger: ledger}
}

func scopeFromQuery(r *http.Request) (domain.Scope, error) {
	q := r.URL.Query()
	scope := domain.NewScope(q.Get("abn"), q.Get("taxType"), q.Get("periodId"))
	return scope, scope.Validate()
}

// Evidence handles GET /api/evidence?abn&taxType&periodId.
func (h *EvidenceHandler) Evidence(w http.ResponseWriter, r *http.Request) {
	scope, err := scopeFromQuery(r)
	if err != nil {
		respondServiceError(w, r, "evidence", err)
		return
	}
	bundle, err := h.evidence.Bundle(r.Context(), scope)
	if err != nil {
		respondServiceError(w, r, "evidence", err)
		return
	}
	RespondJSON(w, http.StatusOK, bundle)
}

// VerifyLedger handles GET /api/ledger/verify. A broken chain is reported in the
// body with 200; the scope is halted as a side effect.
func (h *EvidenceHandler) VerifyLedger(w http.ResponseWriter, r *http.Request) {
	scope, err := scopeFromQuery(r)
	if err != nil {
		respondServiceError(w, r, "verify ledger", err)
		return
	}
	status, err := h.ledger.VerifyChain(r.Context(), scope)
	if err != nil && !errors.Is(err, domain.ErrLedgerIntegrity) {
		respondServiceError(w, r, "verify ledger", err)
		return
	}
	RespondJSON(w, http.StatusOK, status)
}
