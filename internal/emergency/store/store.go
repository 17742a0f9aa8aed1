// Package store persists emergency requests.
//
// The searching → matched transition is a conditional write: under concurrent
// accepts only the first one flips the row, and every later attempt observes
// sentinel.ErrInvalidState. That guard is what makes the at-most-one-
// acceptance invariant hold.
package store

import (
	"context"

	"lifeconnect/internal/emergency/models"
	"lifeconnect/pkg/domain"
)

type Store interface {
	// Create inserts a new request. The request must be in the searching
	// state.
	Create(ctx context.Context, request *models.EmergencyRequest) error

	// FindByID returns a snapshot of one request.
	FindByID(ctx context.Context, id domain.EmergencyRequestID) (*models.EmergencyRequest, error)

	// Latest returns the most recently created request, or
	// sentinel.ErrNotFound when none exist. Observer dashboards key their
	// view off it.
	Latest(ctx context.Context) (*models.EmergencyRequest, error)

	// MatchIfSearching transitions searching → matched. Exactly one caller
	// wins; the rest get sentinel.ErrInvalidState.
	MatchIfSearching(ctx context.Context, id domain.EmergencyRequestID) (*models.EmergencyRequest, error)

	// CancelIfOpen transitions searching or matched → cancelled.
	CancelIfOpen(ctx context.Context, id domain.EmergencyRequestID) (*models.EmergencyRequest, error)
}
