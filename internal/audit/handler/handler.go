package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"remitgate/internal/audit"
	id "remitgate/pkg/domain"
	dErrors "remitgate/pkg/domain-errors"
	"remitgate/pkg/platform/httputil"
	"remitgate/pkg/requestcontext"
)

// Reader is the read side of the audit trail.
type Reader interface {
	ReadAll(ctx context.Context) ([]audit.Entry, error)
}

// Handler serves the audit trail to operators.
type Handler struct {
	reader Reader
	logger *slog.Logger
}

func New(reader Reader, logger *slog.Logger) *Handler {
	return &Handler{reader: reader, logger: logger}
}

// RegisterAdmin mounts the endpoints; the caller applies admin authentication.
func (h *Handler) RegisterAdmin(r chi.Router) {
	r.Get("/admin/audit", h.HandleList)
}

// ListResponse is the trail in submission order.
type ListResponse struct {
	Entries []audit.Entry `json:"entries"`
	Count   int           `json:"count"`
}

// HandleList handles GET /admin/audit. An optional transfer_id query narrows
// the trail to one transfer.
func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var filter id.TransferID
	if raw := r.URL.Query().Get("transfer_id"); raw != "" {
		parsed, err := id.ParseTransferID(raw)
		if err != nil {
			httputil.WriteError(w, err)
			return
		}
		filter = parsed
	}

	entries, err := h.reader.ReadAll(ctx)
	if err != nil {
		h.logger.ErrorContext(ctx, "audit read failed",
			"request_id", requestcontext.RequestID(ctx),
			"error", err,
		)
		httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeInternal, "failed to read audit trail"))
		return
	}
	if !filter.IsNil() {
		kept := entries[:0]
		for _, e := range entries {
			if e.TransferID == filter {
				kept = append(kept, e)
			}
		}
		entries = kept
	}
	if entries == nil {
		entries = []audit.Entry{}
	}
	httputil.WriteJSON(w, http.StatusOK, &ListResponse{Entries: entries, Count: len(entries)})
}
