package models

import (
	"strings"
	"time"

	"lifeconnect/pkg/domain"
	dErrors "lifeconnect/pkg/domain-errors"
)

// DonorStatus is a donor's lifecycle state.
type DonorStatus string

const (
	// DonorStatusActive means the donor is available for matching.
	DonorStatusActive DonorStatus = "active"
	// DonorStatusNotified means the donor has been alerted for a request and
	// has not yet responded.
	DonorStatusNotified DonorStatus = "notified"
	// DonorStatusAccepted means the donor accepted a request and contact
	// details have been revealed.
	DonorStatusAccepted DonorStatus = "accepted"
)

// IsValid checks if the status is one of the supported enum values.
func (s DonorStatus) IsValid() bool {
	switch s {
	case DonorStatusActive, DonorStatusNotified, DonorStatusAccepted:
		return true
	}
	return false
}

// CanTransitionTo encodes the donor state machine:
//
//	active → notified → accepted
//	notified → active (decline, cancellation, timeout)
//	accepted → active (requester cancellation)
func (s DonorStatus) CanTransitionTo(next DonorStatus) bool {
	switch s {
	case DonorStatusActive:
		return next == DonorStatusNotified
	case DonorStatusNotified:
		return next == DonorStatusAccepted || next == DonorStatusActive
	case DonorStatusAccepted:
		return next == DonorStatusActive
	}
	return false
}

// Donor is the aggregate root for a registered donor.
//
// Invariants:
//   - Name and Phone are non-empty; BloodGroup is a valid group
//   - Status is one of active, notified, accepted
//   - CurrentRequestID is non-nil iff Status ∈ {notified, accepted}
//   - Only a notified donor may transition to accepted or back to active
//
// The status field together with CurrentRequestID is the shared mutable
// resource of the whole system. All mutation goes through conditional store
// writes guarded by the expected previous status, so a lost read-modify-write
// race cannot violate the transition table.
type Donor struct {
	ID               domain.DonorID             `json:"id"`
	Name             string                     `json:"name"`
	Phone            string                     `json:"phone"`
	BloodGroup       domain.BloodGroup          `json:"blood_group"`
	Location         domain.GeoPoint            `json:"location"`
	IsEligible       bool                       `json:"is_eligible"`
	FCMToken         string                     `json:"fcm_token,omitempty"`
	Status           DonorStatus                `json:"status"`
	CurrentRequestID *domain.EmergencyRequestID `json:"current_request_id,omitempty"`
	CreatedAt        time.Time                  `json:"created_at"`
	UpdatedAt        time.Time                  `json:"updated_at"`
}

// NewDonor constructs an active, eligible donor. The FCM token may be empty;
// such donors still receive alerts through the live-update channel.
func NewDonor(id domain.DonorID, name, phone string, group domain.BloodGroup, location domain.GeoPoint, fcmToken string, now time.Time) (*Donor, error) {
	name = strings.TrimSpace(name)
	phone = strings.TrimSpace(phone)
	if name == "" {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "donor name cannot be empty")
	}
	if phone == "" {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "donor phone cannot be empty")
	}
	if !group.IsValid() {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "donor blood group is invalid")
	}
	return &Donor{
		ID:         id,
		Name:       name,
		Phone:      phone,
		BloodGroup: group,
		Location:   location,
		IsEligible: true,
		FCMToken:   fcmToken,
		Status:     DonorStatusActive,
		CreatedAt:  now,
		UpdatedAt:  now,
	}, nil
}

// IsAvailable reports whether the donor can be pulled into a new matching
// episode.
func (d *Donor) IsAvailable() bool {
	return d.Status == DonorStatusActive && d.IsEligible
}

// CanNotify checks the notify(donor, request) precondition.
func (d *Donor) CanNotify() error {
	if !d.IsEligible {
		return dErrors.New(dErrors.CodeInvariantViolation, "donor is not eligible to donate")
	}
	if !d.Status.CanTransitionTo(DonorStatusNotified) {
		return dErrors.Newf(dErrors.CodeInvariantViolation, "donor in status %q cannot be notified", d.Status)
	}
	return nil
}

// ApplyNotify transitions the donor to notified and ties it to the request.
// Call CanNotify first; the store enforces the same guard conditionally.
func (d *Donor) ApplyNotify(requestID domain.EmergencyRequestID, now time.Time) {
	d.Status = DonorStatusNotified
	d.CurrentRequestID = &requestID
	d.UpdatedAt = now
}

// CanAccept checks the accept precondition: only a notified donor may accept.
func (d *Donor) CanAccept() error {
	if d.Status != DonorStatusNotified {
		return dErrors.Newf(dErrors.CodeInvariantViolation, "donor in status %q cannot accept", d.Status)
	}
	if d.CurrentRequestID == nil {
		return dErrors.New(dErrors.CodeInvariantViolation, "notified donor has no tracked request")
	}
	return nil
}

// ApplyAccept transitions the donor to accepted, keeping the request tie.
func (d *Donor) ApplyAccept(now time.Time) {
	d.Status = DonorStatusAccepted
	d.UpdatedAt = now
}

// CanDecline checks the decline precondition: only a notified donor may
// decline.
func (d *Donor) CanDecline() error {
	if d.Status != DonorStatusNotified {
		return dErrors.Newf(dErrors.CodeInvariantViolation, "donor in status %q cannot decline", d.Status)
	}
	return nil
}

// CanRelease checks the requester-cancellation precondition: a notified or
// accepted donor returns to the available pool.
func (d *Donor) CanRelease() error {
	if d.Status != DonorStatusNotified && d.Status != DonorStatusAccepted {
		return dErrors.Newf(dErrors.CodeInvariantViolation, "donor in status %q cannot be released", d.Status)
	}
	return nil
}

// ApplyRelease returns the donor to the available pool and clears the
// request tie. Used for decline, requester cancellation, and notify timeout.
func (d *Donor) ApplyRelease(now time.Time) {
	d.Status = DonorStatusActive
	d.CurrentRequestID = nil
	d.UpdatedAt = now
}
