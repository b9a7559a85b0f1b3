package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/costlens/backend/internal/apierrors"
	"github.com/costlens/backend/internal/export"
	"github.com/costlens/backend/internal/model"
)

// ExportHandler triggers CSV archive exports to S3.
type ExportHandler struct {
	archiver *export.Archiver
	logger   *slog.Logger
}

// NewExportHandler creates the handler. archiver may be nil when the export
// bucket is not configured.
func NewExportHandler(archiver *export.Archiver, logger *slog.Logger) *ExportHandler {
	return &ExportHandler{archiver: archiver, logger: logger}
}

// Archive exports the account's line items for the window as CSV and
// returns the object key.
func (h *ExportHandler) Archive(w http.ResponseWriter, r *http.Request) {
	if h.archiver == nil {
		apierrors.Write(w, r, http.StatusServiceUnavailable, "export bucket not configured", "unavailable")
		return
	}
	id, ok := pathUUID(w, r, chi.URLParam(r, "id"))
	if !ok {
		return
	}
	start, end, err := dateWindow(r)
	if err != nil {
		apierrors.BadRequest(w, r, "invalid date range")
		return
	}

	key, err := h.archiver.Archive(r.Context(), id, model.DateRange{Start: start, End: end})
	if err != nil {
		h.logger.Error("failed to export archive", "account_id", id, "error", err)
		apierrors.Internal(w, r)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"key": key})
}
