package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lifeconnect/pkg/domain"
)

func newTestDonor(t *testing.T) *Donor {
	t.Helper()
	d, err := NewDonor(
		domain.NewDonorID(),
		"Asha Verma",
		"+91-9000000001",
		domain.BloodGroupONeg,
		domain.GeoPoint{Lat: 28.61, Lng: 77.20},
		"fcm-token-1",
		time.Now(),
	)
	require.NoError(t, err)
	return d
}

func TestNewDonor(t *testing.T) {
	t.Run("starts active and eligible", func(t *testing.T) {
		d := newTestDonor(t)
		assert.Equal(t, DonorStatusActive, d.Status)
		assert.True(t, d.IsEligible)
		assert.Nil(t, d.CurrentRequestID)
		assert.True(t, d.IsAvailable())
	})

	t.Run("rejects blank name or phone", func(t *testing.T) {
		_, err := NewDonor(domain.NewDonorID(), "  ", "123", domain.BloodGroupAPos, domain.GeoPoint{}, "", time.Now())
		require.Error(t, err)
		_, err = NewDonor(domain.NewDonorID(), "Asha", "", domain.BloodGroupAPos, domain.GeoPoint{}, "", time.Now())
		require.Error(t, err)
	})

	t.Run("rejects invalid blood group", func(t *testing.T) {
		_, err := NewDonor(domain.NewDonorID(), "Asha", "123", domain.BloodGroup("Z+"), domain.GeoPoint{}, "", time.Now())
		require.Error(t, err)
	})
}

// TestStatusTransitions walks the donor state machine from §"Donor" invariants:
// active → notified → accepted | active, accepted → active.
func TestStatusTransitions(t *testing.T) {
	now := time.Now()
	reqID := domain.NewEmergencyRequestID()

	t.Run("active donor can be notified", func(t *testing.T) {
		d := newTestDonor(t)
		require.NoError(t, d.CanNotify())
		d.ApplyNotify(reqID, now)
		assert.Equal(t, DonorStatusNotified, d.Status)
		require.NotNil(t, d.CurrentRequestID)
		assert.Equal(t, reqID, *d.CurrentRequestID)
	})

	t.Run("ineligible donor cannot be notified", func(t *testing.T) {
		d := newTestDonor(t)
		d.IsEligible = false
		require.Error(t, d.CanNotify())
		assert.False(t, d.IsAvailable())
	})

	t.Run("notified donor can accept keeping the request tie", func(t *testing.T) {
		d := newTestDonor(t)
		d.ApplyNotify(reqID, now)
		require.NoError(t, d.CanAccept())
		d.ApplyAccept(now)
		assert.Equal(t, DonorStatusAccepted, d.Status)
		require.NotNil(t, d.CurrentRequestID)
	})

	t.Run("active donor cannot accept", func(t *testing.T) {
		d := newTestDonor(t)
		require.Error(t, d.CanAccept())
		assert.Equal(t, DonorStatusActive, d.Status)
	})

	t.Run("decline returns donor to the pool and clears the tie", func(t *testing.T) {
		d := newTestDonor(t)
		d.ApplyNotify(reqID, now)
		require.NoError(t, d.CanDecline())
		d.ApplyRelease(now)
		assert.Equal(t, DonorStatusActive, d.Status)
		assert.Nil(t, d.CurrentRequestID)
	})

	t.Run("accepted donor cannot decline but can be released", func(t *testing.T) {
		d := newTestDonor(t)
		d.ApplyNotify(reqID, now)
		d.ApplyAccept(now)
		require.Error(t, d.CanDecline())
		require.NoError(t, d.CanRelease())
		d.ApplyRelease(now)
		assert.Equal(t, DonorStatusActive, d.Status)
		assert.Nil(t, d.CurrentRequestID)
	})

	t.Run("active donor cannot be released", func(t *testing.T) {
		d := newTestDonor(t)
		require.Error(t, d.CanRelease())
	})
}

func TestCanTransitionTo(t *testing.T) {
	allowed := map[DonorStatus][]DonorStatus{
		DonorStatusActive:   {DonorStatusNotified},
		DonorStatusNotified: {DonorStatusAccepted, DonorStatusActive},
		DonorStatusAccepted: {DonorStatusActive},
	}
	all := []DonorStatus{DonorStatusActive, DonorStatusNotified, DonorStatusAccepted}

	for from, tos := range allowed {
		for _, to := range all {
			want := false
			for _, ok := range tos {
				if ok == to {
					want = true
				}
			}
			assert.Equal(t, want, from.CanTransitionTo(to), "%s -> %s", from, to)
		}
	}
}
