// Package store persists donor records.
//
// The store is the enforcement point for the donor state machine: every
// status transition is a conditional write guarded by the expected previous
// status, so concurrent accept/decline/notify attempts cannot produce a
// lost-update that violates the transition table. Implementations return
// sentinel.ErrInvalidState when the guard matches no row and
// sentinel.ErrNotFound when the donor does not exist.
package store

import (
	"context"
	"time"

	"lifeconnect/internal/donor/models"
	"lifeconnect/pkg/domain"
)

// Store is interface-driven so the matching service can run against
// in-memory persistence in tests and PostgreSQL in production without
// rewiring.
type Store interface {
	// Create inserts a new donor. The donor must be in the active state.
	Create(ctx context.Context, donor *models.Donor) error

	// FindByID returns a snapshot of one donor.
	FindByID(ctx context.Context, id domain.DonorID) (*models.Donor, error)

	// ListCandidates returns active, eligible donors of the given blood
	// group. The result is a snapshot; rows may change before the caller
	// acts on them, which the conditional transitions tolerate.
	ListCandidates(ctx context.Context, group domain.BloodGroup) ([]*models.Donor, error)

	// ListEngagedByGroup returns notified and accepted donors of the given
	// blood group, for observer views.
	ListEngagedByGroup(ctx context.Context, group domain.BloodGroup) ([]*models.Donor, error)

	// NotifyIfActive transitions active → notified and ties the donor to the
	// request, atomically with respect to the status read.
	NotifyIfActive(ctx context.Context, id domain.DonorID, requestID domain.EmergencyRequestID, now time.Time) (*models.Donor, error)

	// AcceptIfNotified transitions notified → accepted, keeping the request
	// tie.
	AcceptIfNotified(ctx context.Context, id domain.DonorID, now time.Time) (*models.Donor, error)

	// ReleaseIfNotified transitions notified → active and clears the request
	// tie. Used for decline and for notify timeouts; it deliberately refuses
	// to touch an accepted donor.
	ReleaseIfNotified(ctx context.Context, id domain.DonorID, now time.Time) (*models.Donor, error)

	// ReleaseIfAccepted transitions accepted → active and clears the request
	// tie. Used to compensate a lost acceptance race.
	ReleaseIfAccepted(ctx context.Context, id domain.DonorID, now time.Time) (*models.Donor, error)

	// ReleaseByRequest returns every donor tied to the request (notified or
	// accepted) to the active pool, clearing ties. Used on requester
	// cancellation. Returns the released donors.
	ReleaseByRequest(ctx context.Context, requestID domain.EmergencyRequestID, now time.Time) ([]*models.Donor, error)
}
