package models

import (
	"strings"
	"time"

	"lifeconnect/pkg/domain"
	dErrors "lifeconnect/pkg/domain-errors"
)

// RequestStatus is an emergency request's lifecycle state.
type RequestStatus string

const (
	// RequestStatusSearching means no donor has accepted yet.
	RequestStatusSearching RequestStatus = "searching"
	// RequestStatusMatched means a donor accepted. A request never reverts
	// from matched.
	RequestStatusMatched RequestStatus = "matched"
	// RequestStatusCancelled means the requester withdrew the request.
	RequestStatusCancelled RequestStatus = "cancelled"
)

// IsValid checks if the status is one of the supported enum values.
func (s RequestStatus) IsValid() bool {
	switch s {
	case RequestStatusSearching, RequestStatusMatched, RequestStatusCancelled:
		return true
	}
	return false
}

// EmergencyRequest is the aggregate root for one blood need broadcast.
//
// Invariants:
//   - PatientName, HospitalName and Address are non-empty; BloodGroup is valid
//   - Status transitions: searching → matched, searching|matched → cancelled
//   - At most one donor holds status accepted for this request at any
//     instant; the searching → matched transition is the conditional write
//     that enforces it
//   - Everything except Status is immutable after creation
type EmergencyRequest struct {
	ID           domain.EmergencyRequestID `json:"id"`
	PatientName  string                    `json:"patient_name"`
	HospitalName string                    `json:"hospital_name"`
	BloodGroup   domain.BloodGroup         `json:"blood_group"`
	Location     domain.GeoPoint           `json:"location"`
	Address      string                    `json:"address"`
	Status       RequestStatus             `json:"status"`
	CreatedAt    time.Time                 `json:"created_at"`
}

// NewEmergencyRequest constructs a request in the searching state.
func NewEmergencyRequest(id domain.EmergencyRequestID, patientName, hospitalName string, group domain.BloodGroup, location domain.GeoPoint, address string, now time.Time) (*EmergencyRequest, error) {
	patientName = strings.TrimSpace(patientName)
	hospitalName = strings.TrimSpace(hospitalName)
	address = strings.TrimSpace(address)
	if patientName == "" {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "patient name cannot be empty")
	}
	if hospitalName == "" {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "hospital name cannot be empty")
	}
	if address == "" {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "address cannot be empty")
	}
	if !group.IsValid() {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "request blood group is invalid")
	}
	return &EmergencyRequest{
		ID:           id,
		PatientName:  patientName,
		HospitalName: hospitalName,
		BloodGroup:   group,
		Location:     location,
		Address:      address,
		Status:       RequestStatusSearching,
		CreatedAt:    now,
	}, nil
}

// IsOpen reports whether the request is still looking for a donor.
func (r *EmergencyRequest) IsOpen() bool {
	return r.Status == RequestStatusSearching
}

// CanMatch checks the first-acceptance precondition.
func (r *EmergencyRequest) CanMatch() error {
	if r.Status != RequestStatusSearching {
		return dErrors.Newf(dErrors.CodeConflict, "request in status %q cannot be matched", r.Status)
	}
	return nil
}

// ApplyMatch marks the request matched. Call CanMatch first; the store
// enforces the same guard conditionally so only one acceptance wins.
func (r *EmergencyRequest) ApplyMatch() {
	r.Status = RequestStatusMatched
}

// CanCancel checks the requester-cancellation precondition. A cancelled
// request stays cancelled.
func (r *EmergencyRequest) CanCancel() error {
	if r.Status == RequestStatusCancelled {
		return dErrors.New(dErrors.CodeConflict, "request is already cancelled")
	}
	return nil
}

// ApplyCancel marks the request cancelled.
func (r *EmergencyRequest) ApplyCancel() {
	r.Status = RequestStatusCancelled
}
