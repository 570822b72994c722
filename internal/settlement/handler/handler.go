package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"remitgate/internal/ledger"
	"remitgate/internal/settlement/models"
	id "remitgate/pkg/domain"
	dErrors "remitgate/pkg/domain-errors"
	"remitgate/pkg/platform/httputil"
	"remitgate/pkg/requestcontext"
)

// Service defines the settlement operations the handler exposes.
type Service interface {
	Settle(ctx context.Context, req models.TransferRequest) *models.Result
	Release(ctx context.Context, req models.ReleaseRequest) *models.Result
	Lookup(ctx context.Context, transferID id.TransferID) (*ledger.EscrowRecord, error)
}

// Handler wires transfer endpoints to the settlement service.
type Handler struct {
	service Service
	logger  *slog.Logger
}

func New(service Service, logger *slog.Logger) *Handler {
	return &Handler{
		service: service,
		logger:  logger,
	}
}

// Register mounts transfer endpoints on the router.
func (h *Handler) Register(r chi.Router) {
	r.Post("/transfers", h.HandleSettle)
	r.Get("/transfers/{id}", h.HandleGetTransfer)
	r.Post("/transfers/{id}/release", h.HandleRelease)
}

// HandleSettle handles POST /transfers.
func (h *Handler) HandleSettle(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	req, ok := httputil.DecodeAndPrepare[SettleRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	res := h.service.Settle(ctx, models.TransferRequest{
		SenderCredential: req.SenderCredential,
		Recipient:        req.Recipient,
		Amount:           string(req.Amount),
		FXRate:           string(req.FXRate),
		SourceCurrency:   req.SourceCurrency,
		TargetCurrency:   req.TargetCurrency,
	})
	h.writeResult(w, res, StatusSuccess)
}

// HandleRelease handles POST /transfers/{id}/release.
func (h *Handler) HandleRelease(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	req, ok := httputil.DecodeAndPrepare[ReleaseRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	res := h.service.Release(ctx, models.ReleaseRequest{
		TransferID:       chi.URLParam(r, "id"),
		CallerCredential: req.CallerCredential,
	})
	h.writeResult(w, res, StatusWithdrawn)
}

// HandleGetTransfer handles GET /transfers/{id}.
func (h *Handler) HandleGetTransfer(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	transferID, err := id.ParseTransferID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	record, err := h.service.Lookup(ctx, transferID)
	if err != nil {
		if h.logger != nil && dErrors.CodeOf(err) == dErrors.CodeInternal {
			h.logger.ErrorContext(ctx, "transfer lookup failed",
				"request_id", requestcontext.RequestID(ctx),
				"transfer_id", transferID,
				"error", err,
			)
		}
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, transferFromRecord(record))
}

func (h *Handler) writeResult(w http.ResponseWriter, res *models.Result, completedStatus string) {
	switch res.Outcome {
	case models.OutcomeCompleted:
		httputil.WriteJSON(w, http.StatusOK, &CompletedResponse{
			TransferID: res.TransferID.String(),
			Status:     completedStatus,
		})
	case models.OutcomeRejected:
		httputil.WriteJSON(w, httputil.StatusFor(dErrors.CodeOf(res.Err)), rejectedFromResult(res))
	default:
		code := dErrors.CodeOf(res.Err)
		status := httputil.StatusFor(code)
		message := res.Reason
		if code == dErrors.CodeInternal {
			message = "internal error"
		}
		resp := &FailedResponse{
			Error:         message,
			Code:          string(code),
			Stage:         string(res.Stage),
			Indeterminate: res.Indeterminate,
			Submission:    res.SubmissionRef,
		}
		if !res.TransferID.IsNil() {
			resp.TransferID = res.TransferID.String()
		}
		httputil.WriteJSON(w, status, resp)
	}
}
