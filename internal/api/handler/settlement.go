package handler

import (
	"errors"
	"io"
	"net/http"

	"github.com/ayo6706/owa-release/internal/service"
)

// SettlementHandler ingests bank statements and exposes unmatched lines.
type SettlementHandler struct {
	recon *service.ReconciliationService
}

func NewSettlementHandler(recon *service.ReconciliationService) *SettlementHandler {
	return &SettlementHandler{recon: recon}
}

// Import handles POST /settlement/import. The body is CSV (text/csv) or JSON.
func (h *SettlementHandler) Import(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			RespondError(w, r, http.StatusRequestEntityTooLarge, "request/body-too-large", "statement exceeds the upload limit")
			return
		}
		RespondError(w, r, http.StatusBadRequest, "request/invalid-body", "Failed to read request body")
		return
	}

	lines, err := service.ParseStatement(r.Header.Get("Content-Type"), body)
	if err != nil {
		respondServiceError(w, r, "parse statement", err)
		return
	}

	result, err := h.recon.Ingest(r.Context(), lines)
	if err != nil {
		respondServiceError(w, r, "import statement", err)
		return
	}
	RespondJSON(w, http.StatusOK, result)
}

// Unresolved handles GET /settlement/unresolved.
func (h *SettlementHandler) Unresolved(w http.ResponseWriter, r *http.Request) {
	limit, offset, ok := parsePage(w, r)
	if !ok {
		return
	}
	lines, err := h.recon.UnresolvedLines(r.Context(), limit, offset)
	if err != nil {
		respondServiceError(w, r, "list unresolved lines", err)
		return
	}
	total, err := h.recon.UnresolvedCount(r.Context())
	if err != nil {
		total = int64(len(lines))
	}
	RespondJSON(w, http.StatusOK, map[string]any{
		"items":       lines,
		"limit":       limit,
		"offset":      offset,
		"count":       len(lines),
		"total_count": total,
	})
}
