// Package handler exposes donor registration and the donor-side alert flow
// over HTTP.
package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	donormodels "lifeconnect/internal/donor/models"
	donorservice "lifeconnect/internal/donor/service"
	matchingservice "lifeconnect/internal/matching/service"
	"lifeconnect/internal/platform/middleware"
	"lifeconnect/internal/transport/http/shared"
	"lifeconnect/pkg/domain"
	dErrors "lifeconnect/pkg/domain-errors"
)

//go:generate mockgen -source=handler.go -destination=mocks/handler_mocks.go -package=mocks

// DonorService is the donor-profile surface the handler needs.
type DonorService interface {
	Register(ctx context.Context, input donorservice.RegisterInput) (*donormodels.Donor, error)
	Get(ctx context.Context, id domain.DonorID) (*donormodels.Donor, error)
}

// AlertService is the donor-side slice of the matching service.
type AlertService interface {
	CurrentAlert(ctx context.Context, donorID domain.DonorID) (*matchingservice.Alert, error)
	Accept(ctx context.Context, donorID domain.DonorID) (*matchingservice.Acceptance, error)
	Decline(ctx context.Context, donorID domain.DonorID) (*donormodels.Donor, error)
}

// Handler handles donor-facing endpoints.
type Handler struct {
	donors       DonorService
	alerts       AlertService
	logger       *slog.Logger
	jwtValidator middleware.JWTValidator
}

// New creates a donor Handler.
func New(donors DonorService, alerts AlertService, logger *slog.Logger, jwtValidator middleware.JWTValidator) *Handler {
	return &Handler{
		donors:       donors,
		alerts:       alerts,
		logger:       logger,
		jwtValidator: jwtValidator,
	}
}

// Register registers the donor routes with the chi router. Registration is
// public; the alert flow requires a donor token.
func (h *Handler) Register(r chi.Router) {
	donorRouter := chi.NewRouter()
	donorRouter.Use(middleware.Recovery(h.logger))
	donorRouter.Use(middleware.RequestID)
	donorRouter.Use(middleware.Logger(h.logger))
	donorRouter.Use(middleware.Timeout(10 * time.Second))
	donorRouter.Use(middleware.ContentTypeJSON)

	donorRouter.Post("/", h.handleRegister)
	donorRouter.Route("/me", func(pr chi.Router) {
		pr.Use(middleware.RequireAuth(h.jwtValidator, h.logger))
		pr.Get("/alert", h.handleCurrentAlert)
		pr.Post("/accept", h.handleAccept)
		pr.Post("/decline", h.handleDecline)
	})

	r.Mount("/donors", donorRouter)
}

type registerRequest struct {
	Name       string  `json:"name"`
	Phone      string  `json:"phone"`
	BloodGroup string  `json:"blood_group"`
	Lat        float64 `json:"lat"`
	Lng        float64 `json:"lng"`
	FCMToken   string  `json:"fcm_token"`
}

func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.WarnContext(ctx, "invalid register request",
			"request_id", middleware.GetRequestID(ctx),
			"error", err.Error(),
		)
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}

	donor, err := h.donors.Register(ctx, donorservice.RegisterInput{
		Name:       req.Name,
		Phone:      req.Phone,
		BloodGroup: req.BloodGroup,
		Lat:        req.Lat,
		Lng:        req.Lng,
		FCMToken:   req.FCMToken,
	})
	if err != nil {
		h.writeServiceError(ctx, w, err, "failed to register donor")
		return
	}
	shared.WriteJSON(w, http.StatusCreated, donor)
}

func (h *Handler) handleCurrentAlert(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	donorID, ok := h.callerDonorID(ctx, w)
	if !ok {
		return
	}

	alert, err := h.alerts.CurrentAlert(ctx, donorID)
	if err != nil {
		h.writeServiceError(ctx, w, err, "failed to load alert")
		return
	}
	shared.WriteJSON(w, http.StatusOK, alert)
}

func (h *Handler) handleAccept(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	donorID, ok := h.callerDonorID(ctx, w)
	if !ok {
		return
	}

	acceptance, err := h.alerts.Accept(ctx, donorID)
	if err != nil {
		h.writeServiceError(ctx, w, err, "failed to accept alert")
		return
	}
	shared.WriteJSON(w, http.StatusOK, acceptance)
}

func (h *Handler) handleDecline(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	donorID, ok := h.callerDonorID(ctx, w)
	if !ok {
		return
	}

	if _, err := h.alerts.Decline(ctx, donorID); err != nil {
		h.writeServiceError(ctx, w, err, "failed to decline alert")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// callerDonorID resolves the authenticated caller to a donor ID. RequireAuth
// guarantees a subject is present; a malformed one still gets a clean 401.
func (h *Handler) callerDonorID(ctx context.Context, w http.ResponseWriter) (domain.DonorID, bool) {
	subject := middleware.GetCallerID(ctx)
	donorID, err := domain.ParseDonorID(subject)
	if err != nil {
		h.logger.WarnContext(ctx, "caller subject is not a donor id",
			"request_id", middleware.GetRequestID(ctx),
			"subject", subject,
		)
		shared.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "caller is not a donor"))
		return domain.DonorID{}, false
	}
	return donorID, true
}

func (h *Handler) writeServiceError(ctx context.Context, w http.ResponseWriter, err error, msg string) {
	switch {
	case dErrors.HasCode(err, dErrors.CodeInternal):
		h.logger.ErrorContext(ctx, msg,
			"request_id", middleware.GetRequestID(ctx),
			"error", err.Error(),
		)
		shared.WriteError(w, dErrors.New(dErrors.CodeInternal, msg))
	default:
		h.logger.WarnContext(ctx, msg,
			"request_id", middleware.GetRequestID(ctx),
			"error", err.Error(),
		)
		shared.WriteError(w, err)
	}
}
