package handler

import (
	"net/http"
	"strings"

	"github.com/ayo6706/owa-release/internal/domain"
	"github.com/ayo6706/owa-release/internal/repository"
	"github.com/ayo6706/owa-release/internal/service"
	"github.com/go-chi/chi/v5"
)

// PeriodHandler is the admin surface for period lifecycle and RPT issuance.
type PeriodHandler struct {
	periods    *service.PeriodService
	issuer     *service.IssuerService
	thresholds domain.Thresholds
}

// NewPeriodHandler takes the thresholds applied when an issue request omits them.
func NewPeriodHandler(periods *service.PeriodService, issuer *service.IssuerService, thresholds domain.Thresholds) *PeriodHandler {
	return &PeriodHandler{periods: periods, issuer: issuer, thresholds: thresholds}
}

func scopeFromPath(r *http.Request) domain.Scope {
	return domain.NewScope(chi.URLParam(r, "abn"), chi.URLParam(r, "taxType"), chi.URLParam(r, "periodId"))
}

type createPeriodRequest struct {
	ABN                 string `json:"abn"`
	TaxType             string `json:"taxType"`
	PeriodID            string `json:"periodId"`
	AccruedCents        int64  `json:"accrued_cents"`
	FinalLiabilityCents int64  `json:"final_liability_cents"`
}

// CreatePeriod handles POST /admin/periods.
func (h *PeriodHandler) CreatePeriod(w http.ResponseWriter, r *http.Request) {
	actorID, err := requestActor(r)
	if err != nil {
		RespondError(w, r, http.StatusUnauthorized, "auth/unauthorized", "Unauthorized")
		return
	}
	var req createPeriodRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	period, err := h.periods.CreatePeriod(r.Context(), service.CreatePeriodRequest{
		Scope:               domain.Scope{ABN: req.ABN, TaxType: req.TaxType, PeriodID: req.PeriodID},
		AccruedCents:        req.AccruedCents,
		FinalLiabilityCents: req.FinalLiabilityCents,
		ActorID:             actorID,
	})
	if err != nil {
		respondServiceError(w, r, "create period", err)
		return
	}
	RespondJSON(w, http.StatusCreated, period)
}

// ListPeriods handles GET /admin/periods.
func (h *PeriodHandler) ListPeriods(w http.ResponseWriter, r *http.Request) {
	limit, offset, ok := parsePage(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	periods, err := h.periods.ListPeriods(r.Context(), repository.PeriodFilter{
		ABN:     strings.TrimSpace(q.Get("abn")),
		TaxType: q.Get("taxType"),
		State:   q.Get("state"),
		Limit:   limit,
		Offset:  offset,
	})
	if err != nil {
		respondServiceError(w, r, "list periods", err)
		return
	}
	RespondJSON(w, http.StatusOK, map[string]any{
		"items":  periods,
		"limit":  limit,
		"offset": offset,
		"count":  len(periods),
	})
}

// GetPeriod handles GET /admin/periods/{abn}/{taxType}/{periodId}.
func (h *PeriodHandler) GetPeriod(w http.ResponseWriter, r *http.Request) {
	period, err := h.periods.GetPeriod(r.Context(), scopeFromPath(r))
	if err != nil {
		respondServiceError(w, r, "get period", err)
		return
	}
	RespondJSON(w, http.StatusOK, period)
}

// RecordAnomaly handles POST .../anomaly with the upstream scorer's vector.
func (h *PeriodHandler) RecordAnomaly(w http.ResponseWriter, r *http.Request) {
	actorID, err := requestActor(r)
	if err != nil {
		RespondError(w, r, http.StatusUnauthorized, "auth/unauthorized", "Unauthorized")
		return
	}
	var vector domain.AnomalyVector
	if !decodeJSON(w, r, &vector) {
		return
	}
	period, err := h.periods.RecordAnomalyVector(r.Context(), scopeFromPath(r), vector, actorID)
	if err != nil {
		respondServiceError(w, r, "record anomaly vector", err)
		return
	}
	RespondJSON(w, http.StatusOK, period)
}

type closePeriodRequest struct {
	AccruedCents        *int64 `json:"accrued_cents,omitempty"`
	FinalLiabilityCents *int64 `json:"final_liability_cents,omitempty"`
}

// ClosePeriod handles POST .../close. The body is optional.
func (h *PeriodHandler) ClosePeriod(w http.ResponseWriter, r *http.Request) {
	actorID, err := requestActor(r)
	if err != nil {
		RespondError(w, r, http.StatusUnauthorized, "auth/unauthorized", "Unauthorized")
		return
	}
	var req closePeriodRequest
	if r.ContentLength != 0 && !decodeJSON(w, r, &req) {
		return
	}
	period, err := h.periods.ClosePeriod(r.Context(), service.ClosePeriodRequest{
		Scope:               scopeFromPath(r),
		AccruedCents:        req.AccruedCents,
		FinalLiabilityCents: req.FinalLiabilityCents,
		ActorID:             actorID,
	})
	if err != nil {
		respondServiceError(w, r, "close period", err)
		return
	}
	RespondJSON(w, http.StatusOK, period)
}

type remediateRequest struct {
	Reason string `json:"reason"`
}

// Remediate handles POST .../remediate, reopening a blocked period.
func (h *PeriodHandler) Remediate(w http.ResponseWriter, r *http.Request) {
	actorID, err := requestActor(r)
	if err != nil {
		RespondError(w, r, http.StatusUnauthorized, "auth/unauthorized", "Unauthorized")
		return
	}
	var req remediateRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	period, err := h.periods.Remediate(r.Context(), scopeFromPath(r), req.Reason, actorID)
	if err != nil {
		respondServiceError(w, r, "remediate period", err)
		return
	}
	RespondJSON(w, http.StatusOK, period)
}

type issueRPTRequest struct {
	Thresholds *domain.Thresholds `json:"thresholds,omitempty"`
	Rail       string             `json:"rail,omitempty"`
	Reference  string             `json:"reference,omitempty"`
}

// IssueRPT handles POST .../rpt. A breached gate answers 403 with the breached
// components; the period is left BLOCKED_ANOMALY.
func (h *PeriodHandler) IssueRPT(w http.ResponseWriter, r *http.Request) {
	actorID, err := requestActor(r)
	if err != nil {
		RespondError(w, r, http.StatusUnauthorized, "auth/unauthorized", "Unauthorized")
		return
	}
	var req issueRPTRequest
	if r.ContentLength != 0 && !decodeJSON(w, r, &req) {
		return
	}
	thresholds := h.thresholds
	if req.Thresholds != nil {
		thresholds = *req.Thresholds
	}
	token, err := h.issuer.IssueRPT(r.Context(), service.IssueRequest{
		Scope:      scopeFromPath(r),
		Thresholds: thresholds,
		Rail:       req.Rail,
		Reference:  req.Reference,
		ActorID:    actorID,
	})
	if err != nil {
		respondServiceError(w, r, "issue rpt", err)
		return
	}
	RespondJSON(w, http.StatusCreated, token)
}
