// Package handler exposes the requester-side API: creating emergency
// requests, browsing ranked matches, alerting donors, and watching for an
// acceptance.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	donormodels "lifeconnect/internal/donor/models"
	emergencymodels "lifeconnect/internal/emergency/models"
	emergencyservice "lifeconnect/internal/emergency/service"
	"lifeconnect/internal/livesync"
	matchingservice "lifeconnect/internal/matching/service"
	"lifeconnect/internal/platform/middleware"
	"lifeconnect/internal/transport/http/shared"
	"lifeconnect/pkg/domain"
	dErrors "lifeconnect/pkg/domain-errors"
)

const (
	defaultAwaitTimeout = 30 * time.Second
	maxAwaitTimeout     = 2 * time.Minute
)

// RequestService is the request-lifecycle surface the handler needs.
type RequestService interface {
	Create(ctx context.Context, input emergencyservice.CreateInput) (*emergencyservice.CreateOutcome, error)
	Get(ctx context.Context, id domain.EmergencyRequestID) (*emergencymodels.EmergencyRequest, error)
	Cancel(ctx context.Context, id domain.EmergencyRequestID) (*emergencymodels.EmergencyRequest, error)
}

// MatchingService is the requester-side slice of the matching service.
type MatchingService interface {
	MatchesWithFallback(ctx context.Context, requestID domain.EmergencyRequestID) (*matchingservice.MatchList, error)
	AlertDonor(ctx context.Context, requestID domain.EmergencyRequestID, donorID domain.DonorID) (*donormodels.Donor, error)
	MatchedDonor(ctx context.Context, requestID domain.EmergencyRequestID) (*donormodels.Donor, error)
}

// Handler handles emergency-request endpoints.
type Handler struct {
	requests     RequestService
	matching     MatchingService
	bus          livesync.Bus
	logger       *slog.Logger
	jwtValidator middleware.JWTValidator
}

// New creates an emergency Handler. The bus powers the acceptance watch
// endpoint; pass nil to fall back to plain polling semantics.
func New(requests RequestService, matching MatchingService, bus livesync.Bus, logger *slog.Logger, jwtValidator middleware.JWTValidator) *Handler {
	return &Handler{
		requests:     requests,
		matching:     matching,
		bus:          bus,
		logger:       logger,
		jwtValidator: jwtValidator,
	}
}

// Register registers the request routes with the chi router. Everything here
// requires a requester token.
func (h *Handler) Register(r chi.Router) {
	requestRouter := chi.NewRouter()
	requestRouter.Use(middleware.Recovery(h.logger))
	requestRouter.Use(middleware.RequestID)
	requestRouter.Use(middleware.Logger(h.logger))
	requestRouter.Use(middleware.Timeout(maxAwaitTimeout + 10*time.Second))
	requestRouter.Use(middleware.ContentTypeJSON)
	requestRouter.Use(middleware.RequireAuth(h.jwtValidator, h.logger))

	requestRouter.Post("/", h.handleCreate)
	requestRouter.Get("/{id}", h.handleGet)
	requestRouter.Get("/{id}/matches", h.handleMatches)
	requestRouter.Post("/{id}/alerts/{donorID}", h.handleAlertDonor)
	requestRouter.Post("/{id}/cancel", h.handleCancel)
	requestRouter.Get("/{id}/match", h.handleAwaitMatch)

	r.Mount("/requests", requestRouter)
}

type createRequest struct {
	PatientName  string  `json:"patient_name"`
	HospitalName string  `json:"hospital_name"`
	BloodGroup   string  `json:"blood_group"`
	Lat          float64 `json:"lat"`
	Lng          float64 `json:"lng"`
	Address      string  `json:"address"`
	Policy       string  `json:"policy,omitempty"`
}

type createResponse struct {
	Request       *emergencymodels.EmergencyRequest `json:"request"`
	DonorsAlerted int                               `json:"donors_alerted"`
	AlertWarning  string                            `json:"alert_warning,omitempty"`
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req createRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.WarnContext(ctx, "invalid create request",
			"request_id", middleware.GetRequestID(ctx),
			"error", err.Error(),
		)
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}

	outcome, err := h.requests.Create(ctx, emergencyservice.CreateInput{
		PatientName:  req.PatientName,
		HospitalName: req.HospitalName,
		BloodGroup:   req.BloodGroup,
		Lat:          req.Lat,
		Lng:          req.Lng,
		Address:      req.Address,
		Policy:       req.Policy,
	})
	if err != nil {
		h.writeServiceError(ctx, w, err, "failed to create request")
		return
	}

	resp := createResponse{
		Request:       outcome.Request,
		DonorsAlerted: outcome.DonorsAlerted,
	}
	if outcome.AlertErr != nil {
		// The request exists; the requester just needs to know nobody was
		// alerted so they can try manual alerts or widen the search.
		resp.AlertWarning = outcome.AlertErr.Error()
	}
	shared.WriteJSON(w, http.StatusCreated, resp)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID, ok := h.pathRequestID(w, r)
	if !ok {
		return
	}

	request, err := h.requests.Get(ctx, requestID)
	if err != nil {
		h.writeServiceError(ctx, w, err, "failed to load request")
		return
	}
	shared.WriteJSON(w, http.StatusOK, request)
}

func (h *Handler) handleMatches(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID, ok := h.pathRequestID(w, r)
	if !ok {
		return
	}

	list, err := h.matching.MatchesWithFallback(ctx, requestID)
	if err != nil {
		h.writeServiceError(ctx, w, err, "failed to rank matches")
		return
	}
	shared.WriteJSON(w, http.StatusOK, list)
}

func (h *Handler) handleAlertDonor(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID, ok := h.pathRequestID(w, r)
	if !ok {
		return
	}
	donorID, err := domain.ParseDonorID(chi.URLParam(r, "donorID"))
	if err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid donor id"))
		return
	}

	donor, err := h.matching.AlertDonor(ctx, requestID, donorID)
	if err != nil {
		h.writeServiceError(ctx, w, err, "failed to alert donor")
		return
	}
	shared.WriteJSON(w, http.StatusAccepted, donor)
}

func (h *Handler) handleCancel(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID, ok := h.pathRequestID(w, r)
	if !ok {
		return
	}

	request, err := h.requests.Cancel(ctx, requestID)
	if err != nil {
		h.writeServiceError(ctx, w, err, "failed to cancel request")
		return
	}
	shared.WriteJSON(w, http.StatusOK, request)
}

// handleAwaitMatch long-polls for an acceptance. It answers immediately when
// the request is already matched, otherwise watches the change stream until
// a donor accepts or the timeout passes. 204 means no match yet.
func (h *Handler) handleAwaitMatch(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID, ok := h.pathRequestID(w, r)
	if !ok {
		return
	}

	donor, err := h.matching.MatchedDonor(ctx, requestID)
	if err == nil {
		shared.WriteJSON(w, http.StatusOK, donor)
		return
	}
	if !dErrors.HasCode(err, dErrors.CodeNotFound) {
		h.writeServiceError(ctx, w, err, "failed to check for match")
		return
	}
	if h.bus == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	waitCtx, cancel := context.WithTimeout(ctx, awaitTimeout(r))
	defer cancel()

	donor, err = livesync.AwaitAccept(waitCtx, h.bus, requestID)
	if err == nil {
		shared.WriteJSON(w, http.StatusOK, donor)
		return
	}
	if !errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, context.Canceled) {
		h.logger.WarnContext(ctx, "acceptance watch failed",
			"request_id", middleware.GetRequestID(ctx),
			"error", err.Error(),
		)
	}

	// The stream is lossy; double-check the store before reporting no match.
	donor, err = h.matching.MatchedDonor(ctx, requestID)
	if err == nil {
		shared.WriteJSON(w, http.StatusOK, donor)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func awaitTimeout(r *http.Request) time.Duration {
	raw := r.URL.Query().Get("timeout_s")
	if raw == "" {
		return defaultAwaitTimeout
	}
	seconds, err := strconv.Atoi(raw)
	if err != nil || seconds <= 0 {
		return defaultAwaitTimeout
	}
	timeout := time.Duration(seconds) * time.Second
	if timeout > maxAwaitTimeout {
		return maxAwaitTimeout
	}
	return timeout
}

func (h *Handler) pathRequestID(w http.ResponseWriter, r *http.Request) (domain.EmergencyRequestID, bool) {
	requestID, err := domain.ParseEmergencyRequestID(chi.URLParam(r, "id"))
	if err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request id"))
		return domain.EmergencyRequestID{}, false
	}
	return requestID, true
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
