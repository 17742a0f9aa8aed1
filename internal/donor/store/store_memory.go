package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"lifeconnect/internal/donor/models"
	"lifeconnect/internal/livesync"
	"lifeconnect/pkg/domain"
	"lifeconnect/pkg/platform/sentinel"
)

// InMemory is a mutex-guarded map store. The mutex makes every transition
// atomic with respect to its status guard, giving the same
// compare-and-swap semantics as the SQL implementation.
type InMemory struct {
	mu     sync.RWMutex
	donors map[domain.DonorID]*models.Donor
	events livesync.Publisher
}

// Option configures the in-memory store.
type Option func(*InMemory)

// WithEvents publishes a change event after every successful mutation,
// mirroring the row-level change feed of the SQL store.
func WithEvents(pub livesync.Publisher) Option {
	return func(s *InMemory) {
		s.events = pub
	}
}

// NewInMemory creates an empty store.
func NewInMemory(opts ...Option) *InMemory {
	s := &InMemory{donors: make(map[domain.DonorID]*models.Donor)}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *InMemory) Create(ctx context.Context, donor *models.Donor) error {
	s.mu.Lock()
	if _, exists := s.donors[donor.ID]; exists {
		s.mu.Unlock()
		return sentinel.ErrConflict
	}
	stored := clone(donor)
	s.donors[donor.ID] = stored
	s.mu.Unlock()

	s.publish(ctx, livesync.KindInsert, stored)
	return nil
}

func (s *InMemory) FindByID(_ context.Context, id domain.DonorID) (*models.Donor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	donor, ok := s.donors[id]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return clone(donor), nil
}

func (s *InMemory) ListCandidates(_ context.Context, group domain.BloodGroup) ([]*models.Donor, error) {
	return s.list(func(d *models.Donor) bool {
		return d.BloodGroup == group && d.IsAvailable()
	}), nil
}

func (s *InMemory) ListEngagedByGroup(_ context.Context, group domain.BloodGroup) ([]*models.Donor, error) {
	return s.list(func(d *models.Donor) bool {
		return d.BloodGroup == group &&
			(d.Status == models.DonorStatusNotified || d.Status == models.DonorStatusAccepted)
	}), nil
}

func (s *InMemory) NotifyIfActive(ctx context.Context, id domain.DonorID, requestID domain.EmergencyRequestID, now time.Time) (*models.Donor, error) {
	return s.transition(ctx, id, models.DonorStatusActive, func(d *models.Donor) {
		d.ApplyNotify(requestID, now)
	})
}

func (s *InMemory) AcceptIfNotified(ctx context.Context, id domain.DonorID, now time.Time) (*models.Donor, error) {
	return s.transition(ctx, id, models.DonorStatusNotified, func(d *models.Donor) {
		d.ApplyAccept(now)
	})
}

func (s *InMemory) ReleaseIfNotified(ctx context.Context, id domain.DonorID, now time.Time) (*models.Donor, error) {
	return s.transition(ctx, id, models.DonorStatusNotified, func(d *models.Donor) {
		d.ApplyRelease(now)
	})
}

func (s *InMemory) ReleaseIfAccepted(ctx context.Context, id domain.DonorID, now time.Time) (*models.Donor, error) {
	return s.transition(ctx, id, models.DonorStatusAccepted, func(d *models.Donor) {
		d.ApplyRelease(now)
	})
}

func (s *InMemory) ReleaseByRequest(ctx context.Context, requestID domain.EmergencyRequestID, now time.Time) ([]*models.Donor, error) {
	s.mu.Lock()
	var released []*models.Donor
	for _, d := range s.donors {
		if d.CurrentRequestID == nil || *d.CurrentRequestID != requestID {
			continue
		}
		if d.Status != models.DonorStatusNotified && d.Status != models.DonorStatusAccepted {
			continue
		}
		d.ApplyRelease(now)
		released = append(released, clone(d))
	}
	s.mu.Unlock()

	for _, d := range released {
		s.publish(ctx, livesync.KindUpdate, d)
	}
	sort.Slice(released, func(i, j int) bool {
		return released[i].ID.String() < released[j].ID.String()
	})
	return released, nil
}

// transition applies fn iff the donor exists and currently has the expected
// status. The whole check-and-mutate runs under the write lock.
func (s *InMemory) transition(ctx context.Context, id domain.DonorID, expected models.DonorStatus, fn func(*models.Donor)) (*models.Donor, error) {
	s.mu.Lock()
	donor, ok := s.donors[id]
	if !ok {
		s.mu.Unlock()
		return nil, sentinel.ErrNotFound
	}
	if donor.Status != expected {
		s.mu.Unlock()
		return nil, sentinel.ErrInvalidState
	}
	fn(donor)
	snapshot := clone(donor)
	s.mu.Unlock()

	s.publish(ctx, livesync.KindUpdate, snapshot)
	return snapshot, nil
}

func (s *InMemory) list(keep func(*models.Donor) bool) []*models.Donor {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.Donor
	for _, d := range s.donors {
		if keep(d) {
			out = append(out, clone(d))
		}
	}
	// Map iteration order is random; fix it so callers see stable snapshots.
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (s *InMemory) publish(ctx context.Context, kind livesync.Kind, d *models.Donor) {
	if s.events == nil {
		return
	}
	s.events.Publish(ctx, livesync.DonorChanged(kind, d))
}

func clone(d *models.Donor) *models.Donor {
	c := *d
	if d.CurrentRequestID != nil {
		ref := *d.CurrentRequestID
		c.CurrentRequestID = &ref
	}
	return &c
}
