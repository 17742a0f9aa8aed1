// Package service handles donor registration and profile reads.
package service

import (
	"context"
	"errors"
	"log/slog"

	"lifeconnect/internal/donor/models"
	"lifeconnect/internal/donor/store"
	"lifeconnect/internal/platform/metrics"
	"lifeconnect/pkg/domain"
	dErrors "lifeconnect/pkg/domain-errors"
	"lifeconnect/pkg/platform/sentinel"
	"lifeconnect/pkg/requestcontext"
)

// RegisterInput carries a registration request after transport decoding,
// before domain validation.
type RegisterInput struct {
	Name       string
	Phone      string
	BloodGroup string
	Lat        float64
	Lng        float64
	FCMToken   string
}

// Service wraps the donor store with validation and observability.
type Service struct {
	store   store.Store
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// Option configures the service.
type Option func(*Service)

// WithMetrics records registration counters.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// New creates the donor service.
func New(st store.Store, logger *slog.Logger, opts ...Option) *Service {
	s := &Service{store: st, logger: logger}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register validates the input and persists a new active donor.
func (s *Service) Register(ctx context.Context, input RegisterInput) (*models.Donor, error) {
	group, err := domain.ParseBloodGroup(input.BloodGroup)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInvalidInput, "invalid blood group")
	}
	location, err := domain.NewGeoPoint(input.Lat, input.Lng)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInvalidInput, "invalid location")
	}

	donor, err := models.NewDonor(
		domain.NewDonorID(),
		input.Name,
		input.Phone,
		group,
		location,
		input.FCMToken,
		requestcontext.Now(ctx),
	)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInvalidInput, "invalid donor")
	}

	if err := s.store.Create(ctx, donor); err != nil {
		if errors.Is(err, sentinel.ErrConflict) {
			return nil, dErrors.Wrap(err, dErrors.CodeConflict, "donor already exists")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "create donor")
	}

	s.metrics.IncDonorsRegistered()
	s.logger.InfoContext(ctx, "donor registered",
		"donor_id", donor.ID.String(),
		"blood_group", donor.BloodGroup,
	)
	return donor, nil
}

// Get returns one donor by ID.
func (s *Service) Get(ctx context.Context, id domain.DonorID) (*models.Donor, error) {
	donor, err := s.store.FindByID(ctx, id)
	switch {
	case errors.Is(err, sentinel.ErrNotFound):
		return nil, dErrors.Wrap(err, dErrors.CodeNotFound, "donor not found")
	case err != nil:
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "load donor")
	}
	return donor, nil
}
