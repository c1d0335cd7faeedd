package handler

import (
	"net/http"
	"strings"
	"time"

	"github.com/ayo6706/owa-release/internal/domain"
	"github.com/ayo6706/owa-release/internal/service"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

// ReleaseHandler exposes the release orchestrator and its review queue.
type ReleaseHandler struct {
	releases *service.ReleaseService
}

func NewReleaseHandler(releases *service.ReleaseService) *ReleaseHandler {
	return &ReleaseHandler{releases: releases}
}

type releaseRequest struct {
	ABN         string             `json:"abn"`
	TaxType     string             `json:"taxType"`
	PeriodID    string             `json:"periodId"`
	AmountCents int64              `json:"amountCents"`
	Destination domain.Destination `json:"destination"`
}

// Release handles POST /payments/release.
func (h *ReleaseHandler) Release(w http.ResponseWriter, r *http.Request) {
	actorID, err := requestActor(r)
	if err != nil {
		RespondError(w, r, http.StatusUnauthorized, "auth/unauthorized", "Unauthorized")
		return
	}
	idempotencyKey := strings.TrimSpace(r.Header.Get("Idempotency-Key"))
	if idempotencyKey == "" {
		RespondError(w, r, http.StatusBadRequest, "idempotency/missing-key", "Idempotency-Key header is required")
		return
	}

	var req releaseRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	result, err := h.releases.Release(r.Context(), service.ReleaseRequest{
		IdempotencyKey: idempotencyKey,
		ABN:            req.ABN,
		TaxType:        req.TaxType,
		PeriodID:       req.PeriodID,
		AmountCents:    req.AmountCents,
		Destination:    req.Destination,
		ActorID:        actorID,
	})
	if err != nil {
		respondServiceError(w, r, "release", err)
		return
	}

	RespondJSON(w, http.StatusOK, result)
}

// GetRelease handles GET /payments/releases/{id}.
func (h *ReleaseHandler) GetRelease(w http.ResponseWriter, r *http.Request) {
	releaseID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-release-id", "Invalid release ID")
		return
	}
	release, err := h.releases.GetRelease(r.Context(), releaseID)
	if err != nil {
		respondServiceError(w, r, "get release", err)
		return
	}
	RespondJSON(w, http.StatusOK, release)
}

// ListReviewQueue handles GET /payments/releases/review.
func (h *ReleaseHandler) ListReviewQueue(w http.ResponseWriter, r *http.Request) {
	limit, offset, ok := parsePage(w, r)
	if !ok {
		return
	}

	releases, err := h.releases.ListReviewQueue(r.Context(), limit, offset)
	if err != nil {
		respondServiceError(w, r, "list review queue", err)
		return
	}
	total, err := h.releases.ReviewQueueSize(r.Context())
	if err != nil {
		total = int64(len(releases))
	}
	RespondJSON(w, http.StatusOK, map[string]any{
		"items":       releases,
		"limit":       limit,
		"offset":      offset,
		"count":       len(releases),
		"total_count": total,
	})
}

type resolveReleaseRequest struct {
	Decision    string     `json:"decision"`
	Reason      string     `json:"reason"`
	ProviderRef string     `json:"provider_ref,omitempty"`
	PaidAt      *time.Time `json:"paid_at,omitempty"`
}

// ResolveRelease handles POST /payments/releases/{id}/resolve (admin only).
func (h *ReleaseHandler) ResolveRelease(w http.ResponseWriter, r *http.Request) {
	actorID, err := requestActor(r)
	if err != nil {
		RespondError(w, r, http.StatusUnauthorized, "auth/unauthorized", "Unauthorized")
		return
	}
	releaseID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-release-id", "Invalid release ID")
		return
	}

	var req resolveReleaseRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	req.Decision = strings.TrimSpace(strings.ToLower(req.Decision))
	req.Reason = strings.TrimSpace(req.Reason)
	if req.Decision == "" {
		RespondError(w, r, http.StatusBadRequest, "request/missing-decision", "decision is required")
		return
	}
	if req.Reason == "" {
		RespondError(w, r, http.StatusBadRequest, "request/missing-reason", "reason is required")
		return
	}

	resolve := service.ResolveReleaseRequest{
		ReleaseUUID: releaseID,
		Decision:    service.ResolveDecision(req.Decision),
		Reason:      req.Reason,
		ActorID:     actorID,
		ProviderRef: strings.TrimSpace(req.ProviderRef),
	}
	if req.PaidAt != nil {
		resolve.PaidAt = req.PaidAt.UTC()
	}

	release, err := h.releases.ResolveRelease(r.Context(), resolve)
	if err != nil {
		respondServiceError(w, r, "resolve release", err)
		return
	}
	RespondJSON(w, http.StatusOK, release)
}
