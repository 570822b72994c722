package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"remitgate/internal/compliance/models"
	"remitgate/internal/compliance/ports"
	id "remitgate/pkg/domain"
	dErrors "remitgate/pkg/domain-errors"
	"remitgate/pkg/platform/httputil"
	"remitgate/pkg/requestcontext"
)

// Handler exposes operator endpoints that maintain compliance reference data.
type Handler struct {
	profiles ports.ProfileWriter
	flags    ports.FlagWriter
	logger   *slog.Logger
}

func New(profiles ports.ProfileWriter, flags ports.FlagWriter, logger *slog.Logger) *Handler {
	return &Handler{
		profiles: profiles,
		flags:    flags,
		logger:   logger,
	}
}

// RegisterAdmin mounts the endpoints; the caller applies admin authentication.
func (h *Handler) RegisterAdmin(r chi.Router) {
	r.Put("/admin/profiles/{address}", h.HandleUpsertProfile)
	r.Put("/admin/flags/{role}/{address}", h.HandleFlag)
	r.Delete("/admin/flags/{role}/{address}", h.HandleUnflag)
}

// HandleUpsertProfile handles PUT /admin/profiles/{address}.
func (h *Handler) HandleUpsertProfile(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	identity, err := id.ParseAddress(chi.URLParam(r, "address"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	req, ok := httputil.DecodeAndPrepare[UpsertProfileRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	profile := &models.Profile{
		Identity:    identity,
		Status:      req.parsedStatus,
		PEP:         req.PEP,
		Blacklisted: req.Blacklisted,
		UpdatedAt:   requestcontext.Now(ctx),
	}
	if err := h.profiles.Upsert(ctx, profile); err != nil {
		h.logger.ErrorContext(ctx, "profile upsert failed",
			"request_id", requestID,
			"identity", identity,
			"error", err,
		)
		httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeInternal, "failed to store profile"))
		return
	}

	h.logger.InfoContext(ctx, "compliance profile updated",
		"request_id", requestID,
		"identity", identity,
		"status", profile.Status,
		"pep", profile.PEP,
		"blacklisted", profile.Blacklisted,
	)
	httputil.WriteJSON(w, http.StatusOK, profile)
}

// HandleFlag handles PUT /admin/flags/{role}/{address}.
func (h *Handler) HandleFlag(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	role, addr, err := flagTarget(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	req, ok := httputil.DecodeAndPrepare[FlagRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}
	if err := h.flags.Flag(ctx, role, addr, req.Reason); err != nil {
		h.logger.ErrorContext(ctx, "flag failed", "request_id", requestID, "role", role, "error", err)
		httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeInternal, "failed to flag address"))
		return
	}
	h.logger.InfoContext(ctx, "address flagged",
		"request_id", requestID,
		"role", role,
		"address", addr,
	)
	httputil.WriteJSON(w, http.StatusOK, &FlagResponse{Role: string(role), Address: addr.String(), Flagged: true})
}

// HandleUnflag handles DELETE /admin/flags/{role}/{address}.
func (h *Handler) HandleUnflag(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	role, addr, err := flagTarget(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	if err := h.flags.Unflag(ctx, role, addr); err != nil {
		h.logger.ErrorContext(ctx, "unflag failed", "request_id", requestID, "role", role, "error", err)
		httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeInternal, "failed to unflag address"))
		return
	}
	h.logger.InfoContext(ctx, "address unflagged",
		"request_id", requestID,
		"role", role,
		"address", addr,
	)
	httputil.WriteJSON(w, http.StatusOK, &FlagResponse{Role: string(role), Address: addr.String(), Flagged: false})
}

// FlagResponse echoes the resulting membership.
type FlagResponse struct {
	Role    string `json:"role"`
	Address string `json:"address"`
	Flagged bool   `json:"flagged"`
}

func flagTarget(r *http.Request) (models.Role, id.Address, error) {
	role, err := models.ParseRole(chi.URLParam(r, "role"))
	if err != nil {
		return "", "", dErrors.Wrap(err, dErrors.CodeValidation, "role must be sender or recipient")
	}
	addr, err := id.ParseAddress(chi.URLParam(r, "address"))
	if err != nil {
		return "", "", err
	}
	return role, addr, nil
}
