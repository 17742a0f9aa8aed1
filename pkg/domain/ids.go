// Package domain holds shared value objects: typed IDs and the blood-group
// enumeration. Typed IDs make it a compile error to pass a donor ID where an
// emergency-request ID is expected.
package domain

import (
	"github.com/google/uuid"

	dErrors "lifeconnect/pkg/domain-errors"
)

// DonorID identifies a registered donor.
type DonorID uuid.UUID

// EmergencyRequestID identifies an emergency blood request.
type EmergencyRequestID uuid.UUID

// NewDonorID generates a fresh donor ID.
func NewDonorID() DonorID {
	return DonorID(uuid.New())
}

// NewEmergencyRequestID generates a fresh request ID.
func NewEmergencyRequestID() EmergencyRequestID {
	return EmergencyRequestID(uuid.New())
}

// ParseDonorID constructs a DonorID from external input.
//
// Errors: returns CodeInvalidInput when the value is empty, malformed, or the
// nil UUID.
func ParseDonorID(s string) (DonorID, error) {
	u, err := parseUUID(s)
	if err != nil {
		return DonorID{}, err
	}
	return DonorID(u), nil
}

// ParseEmergencyRequestID constructs an EmergencyRequestID from external input.
func ParseEmergencyRequestID(s string) (EmergencyRequestID, error) {
	u, err := parseUUID(s)
	if err != nil {
		return EmergencyRequestID{}, err
	}
	return EmergencyRequestID(u), nil
}

func parseUUID(s string) (uuid.UUID, error) {
	if s == "" {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, "id cannot be empty")
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, "id must be a valid UUID")
	}
	if u == uuid.Nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, "id cannot be the nil UUID")
	}
	return u, nil
}

func (id DonorID) String() string { return uuid.UUID(id).String() }

func (id DonorID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }

// MarshalText serializes the ID as its canonical UUID string.
func (id DonorID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

// UnmarshalText parses an ID with the same rules as ParseDonorID.
func (id *DonorID) UnmarshalText(text []byte) error {
	parsed, err := ParseDonorID(string(text))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

func (id EmergencyRequestID) String() string { return uuid.UUID(id).String() }

func (id EmergencyRequestID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }

// MarshalText serializes the ID as its canonical UUID string.
func (id EmergencyRequestID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

// UnmarshalText parses an ID with the same rules as ParseEmergencyRequestID.
func (id *EmergencyRequestID) UnmarshalText(text []byte) error {
	parsed, err := ParseEmergencyRequestID(string(text))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}
