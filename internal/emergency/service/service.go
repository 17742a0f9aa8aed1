// Package service owns the emergency request lifecycle: creation with the
// configured dispatch policy, and requester cancellation with donor release.
package service

import (
	"context"
	"errors"
	"log/slog"

	donorstore "lifeconnect/internal/donor/store"
	"lifeconnect/internal/emergency/models"
	"lifeconnect/internal/emergency/store"
	"lifeconnect/internal/notify"
	"lifeconnect/internal/platform/metrics"
	"lifeconnect/pkg/domain"
	dErrors "lifeconnect/pkg/domain-errors"
	"lifeconnect/pkg/platform/sentinel"
	"lifeconnect/pkg/requestcontext"
)

// CreateInput carries a new emergency request after transport decoding.
type CreateInput struct {
	PatientName  string
	HospitalName string
	BloodGroup   string
	Lat          float64
	Lng          float64
	Address      string
	// Policy overrides the configured dispatch policy for this request.
	// Empty means use the default.
	Policy string
}

// CreateOutcome reports what happened at creation time. The request is
// always persisted; under the broadcast policy AlertErr says why nobody was
// alerted, without undoing the creation.
type CreateOutcome struct {
	Request       *models.EmergencyRequest
	DonorsAlerted int
	AlertErr      error
}

// Service coordinates the request store with the notification dispatcher.
type Service struct {
	requests      store.Store
	donors        donorstore.Store
	dispatcher    *notify.Dispatcher
	scheduler     notify.Scheduler
	defaultPolicy notify.Policy
	logger        *slog.Logger
	metrics       *metrics.Metrics
}

// Option configures the service.
type Option func(*Service)

// WithDefaultPolicy sets the dispatch policy used when a request does not
// name one.
func WithDefaultPolicy(p notify.Policy) Option {
	return func(s *Service) { s.defaultPolicy = p }
}

// WithScheduler lets cancellation clear released donors' response deadlines.
func WithScheduler(sched notify.Scheduler) Option {
	return func(s *Service) { s.scheduler = sched }
}

// WithMetrics records request counters.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// New creates the emergency service. The default dispatch policy is
// broadcast, matching how most requesters use the system.
func New(requests store.Store, donors donorstore.Store, dispatcher *notify.Dispatcher, logger *slog.Logger, opts ...Option) *Service {
	s := &Service{
		requests:      requests,
		donors:        donors,
		dispatcher:    dispatcher,
		defaultPolicy: notify.PolicyBroadcast,
		logger:        logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create persists a new searching request and, under the broadcast policy,
// alerts every matching candidate. Alerting failures do not undo creation;
// they are reported in the outcome so the requester can fall back to manual
// alerts.
func (s *Service) Create(ctx context.Context, input CreateInput) (*CreateOutcome, error) {
	group, err := domain.ParseBloodGroup(input.BloodGroup)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInvalidInput, "invalid blood group")
	}
	location, err := domain.NewGeoPoint(input.Lat, input.Lng)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInvalidInput, "invalid location")
	}

	policy := s.defaultPolicy
	if input.Policy != "" {
		policy, err = notify.ParsePolicy(input.Policy)
		if err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeInvalidInput, "invalid dispatch policy")
		}
	}

	request, err := models.NewEmergencyRequest(
		domain.NewEmergencyRequestID(),
		input.PatientName,
		input.HospitalName,
		group,
		location,
		input.Address,
		requestcontext.Now(ctx),
	)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInvalidInput, "invalid request")
	}

	if err := s.requests.Create(ctx, request); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "create request")
	}
	s.metrics.IncRequestsCreated()
	s.logger.InfoContext(ctx, "emergency request created",
		"request_id", request.ID.String(),
		"blood_group", request.BloodGroup,
		"policy", string(policy),
	)

	outcome := &CreateOutcome{Request: request}
	if policy == notify.PolicyBroadcast {
		outcome.DonorsAlerted, outcome.AlertErr = s.dispatcher.Broadcast(ctx, request)
		if outcome.AlertErr != nil {
			s.logger.WarnContext(ctx, "broadcast alerted no donors",
				"request_id", request.ID.String(),
				"error", outcome.AlertErr,
			)
		}
	}
	return outcome, nil
}

// Get returns one request by ID.
func (s *Service) Get(ctx context.Context, id domain.EmergencyRequestID) (*models.EmergencyRequest, error) {
	request, err := s.requests.FindByID(ctx, id)
	switch {
	case errors.Is(err, sentinel.ErrNotFound):
		return nil, dErrors.Wrap(err, dErrors.CodeNotFound, "request not found")
	case err != nil:
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "load request")
	}
	return request, nil
}

// Cancel withdraws a request and returns every donor tied to it to the
// active pool. Cancelling an already-cancelled request is a conflict;
// cancelling a matched request is allowed and releases the accepted donor.
func (s *Service) Cancel(ctx context.Context, id domain.EmergencyRequestID) (*models.EmergencyRequest, error) {
	request, err := s.requests.CancelIfOpen(ctx, id)
	switch {
	case errors.Is(err, sentinel.ErrNotFound):
		return nil, dErrors.Wrap(err, dErrors.CodeNotFound, "request not found")
	case errors.Is(err, sentinel.ErrInvalidState):
		return nil, dErrors.Wrap(err, dErrors.CodeConflict, "request is already cancelled")
	case err != nil:
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "cancel request")
	}

	released, err := s.donors.ReleaseByRequest(ctx, id, requestcontext.Now(ctx))
	if err != nil {
		// The request is cancelled either way; stuck donors are released by
		// the notify-timeout reaper or by their own decline.
		s.logger.ErrorContext(ctx, "failed to release donors of cancelled request",
			"request_id", id.String(),
			"error", err,
		)
		return request, nil
	}

	for _, donor := range released {
		if s.scheduler == nil {
			break
		}
		if err := s.scheduler.Cancel(ctx, donor.ID); err != nil {
			s.logger.WarnContext(ctx, "failed to clear notify deadline",
				"donor_id", donor.ID.String(),
				"error", err,
			)
		}
	}

	s.logger.InfoContext(ctx, "emergency request cancelled",
		"request_id", id.String(),
		"donors_released", len(released),
	)
	return request, nil
}
