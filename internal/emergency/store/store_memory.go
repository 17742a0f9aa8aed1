package store

import (
	"context"
	"sync"

	"lifeconnect/internal/emergency/models"
	"lifeconnect/internal/livesync"
	"lifeconnect/pkg/domain"
	"lifeconnect/pkg/platform/sentinel"
)

// InMemory is a mutex-guarded map store with the same conditional-transition
// semantics as the SQL implementation.
type InMemory struct {
	mu       sync.RWMutex
	requests map[domain.EmergencyRequestID]*models.EmergencyRequest
	events   livesync.Publisher
}

// Option configures the in-memory store.
type Option func(*InMemory)

// WithEvents publishes a change event after every successful mutation.
func WithEvents(pub livesync.Publisher) Option {
	return func(s *InMemory) {
		s.events = pub
	}
}

// NewInMemory creates an empty store.
func NewInMemory(opts ...Option) *InMemory {
	s := &InMemory{requests: make(map[domain.EmergencyRequestID]*models.EmergencyRequest)}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *InMemory) Create(ctx context.Context, request *models.EmergencyRequest) error {
	s.mu.Lock()
	if _, exists := s.requests[request.ID]; exists {
		s.mu.Unlock()
		return sentinel.ErrConflict
	}
	stored := clone(request)
	s.requests[request.ID] = stored
	s.mu.Unlock()

	s.publish(ctx, livesync.KindInsert, stored)
	return nil
}

func (s *InMemory) FindByID(_ context.Context, id domain.EmergencyRequestID) (*models.EmergencyRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	request, ok := s.requests[id]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return clone(request), nil
}

func (s *InMemory) Latest(_ context.Context) (*models.EmergencyRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var latest *models.EmergencyRequest
	for _, r := range s.requests {
		if latest == nil || r.CreatedAt.After(latest.CreatedAt) {
			latest = r
		}
	}
	if latest == nil {
		return nil, sentinel.ErrNotFound
	}
	return clone(latest), nil
}

func (s *InMemory) MatchIfSearching(ctx context.Context, id domain.EmergencyRequestID) (*models.EmergencyRequest, error) {
	return s.transition(ctx, id,
		func(r *models.EmergencyRequest) bool { return r.Status == models.RequestStatusSearching },
		func(r *models.EmergencyRequest) { r.ApplyMatch() },
	)
}

func (s *InMemory) CancelIfOpen(ctx context.Context, id domain.EmergencyRequestID) (*models.EmergencyRequest, error) {
	return s.transition(ctx, id,
		func(r *models.EmergencyRequest) bool { return r.Status != models.RequestStatusCancelled },
		func(r *models.EmergencyRequest) { r.ApplyCancel() },
	)
}

func (s *InMemory) transition(ctx context.Context, id domain.EmergencyRequestID, guard func(*models.EmergencyRequest) bool, fn func(*models.EmergencyRequest)) (*models.EmergencyRequest, error) {
	s.mu.Lock()
	request, ok := s.requests[id]
	if !ok {
		s.mu.Unlock()
		return nil, sentinel.ErrNotFound
	}
	if !guard(request) {
		s.mu.Unlock()
		return nil, sentinel.ErrInvalidState
	}
	fn(request)
	snapshot := clone(request)
	s.mu.Unlock()

	s.publish(ctx, livesync.KindUpdate, snapshot)
	return snapshot, nil
}

func (s *InMemory) publish(ctx context.Context, kind livesync.Kind, r *models.EmergencyRequest) {
	if s.events == nil {
		return
	}
	s.events.Publish(ctx, livesync.RequestChanged(kind, r))
}

func clone(r *models.EmergencyRequest) *models.EmergencyRequest {
	c := *r
	return &c
}
