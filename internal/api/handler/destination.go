package handler

import (
	"net/http"
	"strings"

	"github.com/ayo6706/owa-release/internal/domain"
	"github.com/ayo6706/owa-release/internal/service"
)

// DestinationHandler manages the remittance allow-list.
type DestinationHandler struct {
	destinations *service.DestinationService
}

func NewDestinationHandler(destinations *service.DestinationService) *DestinationHandler {
	return &DestinationHandler{destinations: destinations}
}

type registerDestinationRequest struct {
	ABN         string             `json:"abn"`
	Label       string             `json:"label"`
	Destination domain.Destination `json:"destination"`
}

// Register handles POST /admin/destinations.
func (h *DestinationHandler) Register(w http.ResponseWriter, r *http.Request) {
	actorID, err := requestActor(r)
	if err != nil {
		RespondError(w, r, http.StatusUnauthorized, "auth/unauthorized", "Unauthorized")
		return
	}
	var req registerDestinationRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	dest, err := h.destinations.Register(r.Context(), service.RegisterDestinationRequest{
		ABN:         req.ABN,
		Label:       req.Label,
		Destination: req.Destination,
		ActorID:     actorID,
	})
	if err != nil {
		respondServiceError(w, r, "register destination", err)
		return
	}
	RespondJSON(w, http.StatusCreated, dest)
}

// List handles GET /admin/destinations?abn=.
func (h *DestinationHandler) List(w http.ResponseWriter, r *http.Request) {
	abn := strings.TrimSpace(r.URL.Query().Get("abn"))
	if abn == "" {
		RespondError(w, r, http.StatusBadRequest, "request/missing-abn", "abn is required")
		return
	}
	items, err := h.destinations.List(r.Context(), abn)
	if err != nil {
		respondServiceError(w, r, "list destinations", err)
		return
	}
	RespondJSON(w, http.StatusOK, map[string]any{"items": items, "count": len(items)})
}
