package service

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	donormodels "lifeconnect/internal/donor/models"
	donorstore "lifeconnect/internal/donor/store"
	"lifeconnect/internal/emergency/models"
	"lifeconnect/internal/emergency/store"
	"lifeconnect/internal/notify"
	"lifeconnect/pkg/domain"
	dErrors "lifeconnect/pkg/domain-errors"
	"lifeconnect/pkg/requestcontext"
)

type EmergencyServiceSuite struct {
	suite.Suite
	donors    *donorstore.InMemory
	requests  *store.InMemory
	scheduler *notify.MemoryScheduler
	ctx       context.Context
	now       time.Time
}

func TestEmergencyServiceSuite(t *testing.T) {
	suite.Run(t, new(EmergencyServiceSuite))
}

func (s *EmergencyServiceSuite) SetupTest() {
	s.donors = donorstore.NewInMemory()
	s.requests = store.NewInMemory()
	s.scheduler = notify.NewMemoryScheduler()
	s.now = time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)
	s.ctx = requestcontext.WithTime(context.Background(), s.now)
}

func (s *EmergencyServiceSuite) service(opts ...Option) *Service {
	dispatcher := notify.NewDispatcher(s.donors, notify.NopSender{}, slog.Default(),
		notify.WithScheduler(s.scheduler, 15*time.Minute))
	base := []Option{WithScheduler(s.scheduler)}
	return New(s.requests, s.donors, dispatcher, slog.Default(), append(base, opts...)...)
}

func (s *EmergencyServiceSuite) addDonor(name string, group domain.BloodGroup) *donormodels.Donor {
	d, err := donormodels.NewDonor(
		domain.NewDonorID(), name, "+91-9000000000", group,
		domain.GeoPoint{Lat: 28.70, Lng: 77.10}, "", s.now,
	)
	s.Require().NoError(err)
	s.Require().NoError(s.donors.Create(s.ctx, d))
	return d
}

func (s *EmergencyServiceSuite) input() CreateInput {
	return CreateInput{
		PatientName:  "Patient Kumar",
		HospitalName: "City Hospital",
		BloodGroup:   "A+",
		Lat:          28.6139,
		Lng:          77.2090,
		Address:      "12 Ring Road, Delhi",
	}
}

// ---------------------------------------------------------------------------
// Create
// ---------------------------------------------------------------------------

func (s *EmergencyServiceSuite) TestCreateBroadcastsToMatchingCandidates() {
	s.addDonor("match-1", domain.BloodGroupAPos)
	s.addDonor("match-2", domain.BloodGroupAPos)
	s.addDonor("other-group", domain.BloodGroupONeg)

	outcome, err := s.service().Create(s.ctx, s.input())
	s.Require().NoError(err)

	s.Equal(models.RequestStatusSearching, outcome.Request.Status)
	s.Equal(2, outcome.DonorsAlerted)
	s.NoError(outcome.AlertErr)

	// Alerted donors are reserved for this request.
	remaining, err := s.donors.ListCandidates(s.ctx, domain.BloodGroupAPos)
	s.Require().NoError(err)
	s.Empty(remaining)
}

func (s *EmergencyServiceSuite) TestCreateWithNoCandidatesKeepsRequest() {
	outcome, err := s.service().Create(s.ctx, s.input())
	s.Require().NoError(err)

	// The request exists so manual alerts can follow later, but the
	// requester is told nobody was alerted.
	s.Require().Error(outcome.AlertErr)
	s.True(dErrors.HasCode(outcome.AlertErr, dErrors.CodeNotFound))
	s.Zero(outcome.DonorsAlerted)

	stored, err := s.requests.FindByID(s.ctx, outcome.Request.ID)
	s.Require().NoError(err)
	s.Equal(models.RequestStatusSearching, stored.Status)
}

func (s *EmergencyServiceSuite) TestCreateUnderManualPolicySkipsBroadcast() {
	s.addDonor("match", domain.BloodGroupAPos)

	outcome, err := s.service(WithDefaultPolicy(notify.PolicyManual)).Create(s.ctx, s.input())
	s.Require().NoError(err)
	s.Zero(outcome.DonorsAlerted)
	s.NoError(outcome.AlertErr)

	remaining, err := s.donors.ListCandidates(s.ctx, domain.BloodGroupAPos)
	s.Require().NoError(err)
	s.Len(remaining, 1)
}

func (s *EmergencyServiceSuite) TestCreatePolicyOverridePerRequest() {
	s.addDonor("match", domain.BloodGroupAPos)

	input := s.input()
	input.Policy = "manual"
	outcome, err := s.service().Create(s.ctx, input)
	s.Require().NoError(err)
	s.Zero(outcome.DonorsAlerted)
}

func (s *EmergencyServiceSuite) TestCreateRejectsBadInput() {
	cases := []struct {
		name   string
		mutate func(*CreateInput)
	}{
		{"unknown blood group", func(in *CreateInput) { in.BloodGroup = "AB" }},
		{"latitude out of range", func(in *CreateInput) { in.Lat = -95 }},
		{"unknown policy", func(in *CreateInput) { in.Policy = "shotgun" }},
		{"empty patient name", func(in *CreateInput) { in.PatientName = "" }},
		{"empty hospital", func(in *CreateInput) { in.HospitalName = "  " }},
	}
	for _, tc := range cases {
		s.Run(tc.name, func() {
			input := s.input()
			tc.mutate(&input)

			_, err := s.service().Create(s.ctx, input)
			s.Require().Error(err)
			s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput))
		})
	}
}

// ---------------------------------------------------------------------------
// Cancel
// ---------------------------------------------------------------------------

func (s *EmergencyServiceSuite) TestCancelReleasesNotifiedDonors() {
	s.addDonor("match-1", domain.BloodGroupAPos)
	s.addDonor("match-2", domain.BloodGroupAPos)

	outcome, err := s.service().Create(s.ctx, s.input())
	s.Require().NoError(err)
	s.Require().Equal(2, outcome.DonorsAlerted)

	cancelled, err := s.service().Cancel(s.ctx, outcome.Request.ID)
	s.Require().NoError(err)
	s.Equal(models.RequestStatusCancelled, cancelled.Status)

	active, err := s.donors.ListCandidates(s.ctx, domain.BloodGroupAPos)
	s.Require().NoError(err)
	s.Len(active, 2)
	for _, d := range active {
		s.Nil(d.CurrentRequestID)
	}
}

func (s *EmergencyServiceSuite) TestCancelMatchedRequestReleasesAcceptedDonor() {
	donor := s.addDonor("match", domain.BloodGroupAPos)

	outcome, err := s.service().Create(s.ctx, s.input())
	s.Require().NoError(err)

	_, err = s.donors.AcceptIfNotified(s.ctx, donor.ID, s.now)
	s.Require().NoError(err)
	_, err = s.requests.MatchIfSearching(s.ctx, outcome.Request.ID)
	s.Require().NoError(err)

	_, err = s.service().Cancel(s.ctx, outcome.Request.ID)
	s.Require().NoError(err)

	got, err := s.donors.FindByID(s.ctx, donor.ID)
	s.Require().NoError(err)
	s.Equal(donormodels.DonorStatusActive, got.Status)
}

func (s *EmergencyServiceSuite) TestCancelTwiceIsConflict() {
	outcome, err := s.service().Create(s.ctx, s.input())
	s.Require().NoError(err)

	_, err = s.service().Cancel(s.ctx, outcome.Request.ID)
	s.Require().NoError(err)

	_, err = s.service().Cancel(s.ctx, outcome.Request.ID)
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeConflict))
}

func (s *EmergencyServiceSuite) TestCancelUnknownRequestIsNotFound() {
	_, err := s.service().Cancel(s.ctx, domain.NewEmergencyRequestID())
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
}
