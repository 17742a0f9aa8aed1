// Package service ranks donors for emergency requests and coordinates the
// accept/decline handshake between a notified donor and the requester.
package service

import (
	"log/slog"

	donorstore "lifeconnect/internal/donor/store"
	emergencystore "lifeconnect/internal/emergency/store"
	"lifeconnect/internal/notify"
	"lifeconnect/internal/platform/metrics"
	"lifeconnect/internal/routing"
)

const defaultShortlistSize = 10

// Service implements donor ranking and the acceptance state machine. All
// status transitions go through conditional store writes; the service layers
// ordering, compensation, and error translation on top.
type Service struct {
	donors     donorstore.Store
	requests   emergencystore.Store
	estimator  routing.Estimator
	dispatcher *notify.Dispatcher
	scheduler  notify.Scheduler
	shortlist  int
	logger     *slog.Logger
	metrics    *metrics.Metrics
}

// Option configures the service.
type Option func(*Service)

// WithShortlistSize bounds how many geometric candidates reach the travel
// time stage.
func WithShortlistSize(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.shortlist = n
		}
	}
}

// WithEstimator enables the travel-time ranking stage. Without it, Matches
// degrades to geometric order.
func WithEstimator(e routing.Estimator) Option {
	return func(s *Service) { s.estimator = e }
}

// WithScheduler lets accept and decline clear the donor's response deadline.
func WithScheduler(sched notify.Scheduler) Option {
	return func(s *Service) { s.scheduler = sched }
}

// WithMetrics records matching counters.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// New creates the matching service.
func New(donors donorstore.Store, requests emergencystore.Store, dispatcher *notify.Dispatcher, logger *slog.Logger, opts ...Option) *Service {
	s := &Service{
		donors:     donors,
		requests:   requests,
		dispatcher: dispatcher,
		shortlist:  defaultShortlistSize,
		logger:     logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}
