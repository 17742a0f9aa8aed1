package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	donormodels "lifeconnect/internal/donor/models"
	donorstore "lifeconnect/internal/donor/store"
	emergencymodels "lifeconnect/internal/emergency/models"
	emergencystore "lifeconnect/internal/emergency/store"
	"lifeconnect/internal/notify"
	"lifeconnect/internal/routing"
	"lifeconnect/pkg/domain"
	dErrors "lifeconnect/pkg/domain-errors"
	"lifeconnect/pkg/requestcontext"
)

// stubEstimator returns canned estimates or a canned error.
type stubEstimator struct {
	estimates []routing.Estimate
	err       error
	calls     int
}

func (s *stubEstimator) DriveTimes(_ context.Context, _ domain.GeoPoint, destinations []domain.GeoPoint) ([]routing.Estimate, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	if len(s.estimates) != len(destinations) {
		return nil, fmt.Errorf("stub has %d estimates for %d destinations", len(s.estimates), len(destinations))
	}
	return s.estimates, nil
}

type MatchingSuite struct {
	suite.Suite
	donors    *donorstore.InMemory
	requests  *emergencystore.InMemory
	scheduler *notify.MemoryScheduler
	ctx       context.Context
	now       time.Time
	request   *emergencymodels.EmergencyRequest
}

func TestMatchingSuite(t *testing.T) {
	suite.Run(t, new(MatchingSuite))
}

func (s *MatchingSuite) SetupTest() {
	s.donors = donorstore.NewInMemory()
	s.requests = emergencystore.NewInMemory()
	s.scheduler = notify.NewMemoryScheduler()
	s.now = time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)
	s.ctx = requestcontext.WithTime(context.Background(), s.now)

	req, err := emergencymodels.NewEmergencyRequest(
		domain.NewEmergencyRequestID(),
		"Patient Kumar",
		"City Hospital",
		domain.BloodGroupAPos,
		domain.GeoPoint{Lat: 28.6139, Lng: 77.2090},
		"12 Ring Road, Delhi",
		s.now,
	)
	s.Require().NoError(err)
	s.request = req
	s.Require().NoError(s.requests.Create(s.ctx, req))
}

func (s *MatchingSuite) service(opts ...Option) *Service {
	dispatcher := notify.NewDispatcher(s.donors, notify.NopSender{}, slog.Default(),
		notify.WithScheduler(s.scheduler, 15*time.Minute))
	base := []Option{WithScheduler(s.scheduler)}
	return New(s.donors, s.requests, dispatcher, slog.Default(), append(base, opts...)...)
}

// addDonorAt registers an active A+ donor offset north of the request by
// latOffset degrees, so geometric order follows insertion order of offsets.
func (s *MatchingSuite) addDonorAt(name string, latOffset float64) *donormodels.Donor {
	d, err := donormodels.NewDonor(
		domain.NewDonorID(),
		name,
		"+91-9000000000",
		domain.BloodGroupAPos,
		domain.GeoPoint{Lat: s.request.Location.Lat + latOffset, Lng: s.request.Location.Lng},
		"",
		s.now,
	)
	s.Require().NoError(err)
	s.Require().NoError(s.donors.Create(s.ctx, d))
	return d
}

func (s *MatchingSuite) names(ranked []RankedDonor) []string {
	out := make([]string, len(ranked))
	for i, r := range ranked {
		out[i] = r.Donor.Name
	}
	return out
}

// ---------------------------------------------------------------------------
// Ranking
// ---------------------------------------------------------------------------

func (s *MatchingSuite) TestShortlistOrdersByDistanceAndTruncates() {
	// Registered far-to-near so the sort has to work for it.
	for i := 12; i >= 1; i-- {
		s.addDonorAt(fmt.Sprintf("donor-%02d", i), float64(i)*0.01)
	}

	_, ranked, err := s.service().Shortlist(s.ctx, s.request.ID)
	s.Require().NoError(err)

	// 12 candidates, shortlist caps at 10, nearest first.
	s.Require().Len(ranked, 10)
	s.Equal("donor-01", ranked[0].Donor.Name)
	s.Equal("donor-10", ranked[9].Donor.Name)
	for i := 1; i < len(ranked); i++ {
		s.LessOrEqual(ranked[i-1].DistanceKm, ranked[i].DistanceKm)
	}
}

func (s *MatchingSuite) TestShortlistExcludesEngagedAndOtherGroups() {
	near := s.addDonorAt("near", 0.01)
	s.addDonorAt("far", 0.05)

	other, err := donormodels.NewDonor(
		domain.NewDonorID(), "wrong-group", "+91-9000000001",
		domain.BloodGroupBNeg, s.request.Location, "", s.now,
	)
	s.Require().NoError(err)
	s.Require().NoError(s.donors.Create(s.ctx, other))

	_, err = s.donors.NotifyIfActive(s.ctx, near.ID, domain.NewEmergencyRequestID(), s.now)
	s.Require().NoError(err)

	_, ranked, err := s.service().Shortlist(s.ctx, s.request.ID)
	s.Require().NoError(err)
	s.Equal([]string{"far"}, s.names(ranked))
}

func (s *MatchingSuite) TestMatchesReordersByTravelTime() {
	s.addDonorAt("A", 0.01) // geometrically nearest
	s.addDonorAt("B", 0.02)

	// Roads disagree with geometry: A takes 400 s, B takes 200 s.
	est := &stubEstimator{estimates: []routing.Estimate{
		{DurationSeconds: 400, DurationText: "7 mins", DistanceText: "3 km", Reachable: true},
		{DurationSeconds: 200, DurationText: "4 mins", DistanceText: "4 km", Reachable: true},
	}}

	list, err := s.service(WithEstimator(est)).Matches(s.ctx, s.request.ID)
	s.Require().NoError(err)
	s.Equal(RankingTravelTime, list.Ranking)
	s.Equal([]string{"B", "A"}, s.names(list.Donors))
	s.Equal(200, list.Donors[0].Travel.DurationSeconds)
}

func (s *MatchingSuite) TestMatchesSortsUnreachableDonorsLast() {
	s.addDonorAt("A", 0.01)
	s.addDonorAt("B", 0.02)
	s.addDonorAt("C", 0.03)

	est := &stubEstimator{estimates: []routing.Estimate{
		routing.Unreachable(), // A: no route
		{DurationSeconds: 300, Reachable: true},
		{DurationSeconds: 250, Reachable: true},
	}}

	list, err := s.service(WithEstimator(est)).Matches(s.ctx, s.request.ID)
	s.Require().NoError(err)
	s.Equal([]string{"C", "B", "A"}, s.names(list.Donors))
	s.False(list.Donors[2].Travel.Reachable)
	s.Equal(routing.UnreachableDurationSeconds, list.Donors[2].Travel.DurationSeconds)
}

func (s *MatchingSuite) TestMatchesKeepsGeometricOrderOnTie() {
	s.addDonorAt("A", 0.01)
	s.addDonorAt("B", 0.02)

	est := &stubEstimator{estimates: []routing.Estimate{
		{DurationSeconds: 300, Reachable: true},
		{DurationSeconds: 300, Reachable: true},
	}}

	list, err := s.service(WithEstimator(est)).Matches(s.ctx, s.request.ID)
	s.Require().NoError(err)
	s.Equal([]string{"A", "B"}, s.names(list.Donors))
}

func (s *MatchingSuite) TestMatchesWithoutEstimatorIsGeometric() {
	s.addDonorAt("A", 0.01)

	list, err := s.service().Matches(s.ctx, s.request.ID)
	s.Require().NoError(err)
	s.Equal(RankingGeometric, list.Ranking)
	s.False(list.Donors[0].Travel.Reachable)
}

func (s *MatchingSuite) TestMatchesSurfacesTravelStageOutage() {
	s.addDonorAt("A", 0.01)
	est := &stubEstimator{err: errors.New("distance matrix down")}

	_, err := s.service(WithEstimator(est)).Matches(s.ctx, s.request.ID)
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeUnavailable))
	s.Contains(err.Error(), "ranking unavailable")
}

func (s *MatchingSuite) TestMatchesWithFallbackDegradesToGeometric() {
	s.addDonorAt("A", 0.01)
	s.addDonorAt("B", 0.02)
	est := &stubEstimator{err: errors.New("distance matrix down")}

	list, err := s.service(WithEstimator(est)).MatchesWithFallback(s.ctx, s.request.ID)
	s.Require().NoError(err)
	s.Equal(RankingGeometric, list.Ranking)
	s.Equal([]string{"A", "B"}, s.names(list.Donors))
}

func (s *MatchingSuite) TestMatchesRejectsClosedRequest() {
	_, err := s.requests.CancelIfOpen(s.ctx, s.request.ID)
	s.Require().NoError(err)

	_, err = s.service().Matches(s.ctx, s.request.ID)
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeConflict))
}

func (s *MatchingSuite) TestMatchesRejectsUnknownRequest() {
	_, err := s.service().Matches(s.ctx, domain.NewEmergencyRequestID())
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
}

// ---------------------------------------------------------------------------
// Manual alert
// ---------------------------------------------------------------------------

func (s *MatchingSuite) TestAlertDonorReservesRankedDonor() {
	donor := s.addDonorAt("A", 0.01)

	notified, err := s.service().AlertDonor(s.ctx, s.request.ID, donor.ID)
	s.Require().NoError(err)
	s.Equal(donormodels.DonorStatusNotified, notified.Status)
	s.Equal(s.request.ID, *notified.CurrentRequestID)
}

func (s *MatchingSuite) TestAlertDonorRejectsCancelledRequest() {
	donor := s.addDonorAt("A", 0.01)
	_, err := s.requests.CancelIfOpen(s.ctx, s.request.ID)
	s.Require().NoError(err)

	_, err = s.service().AlertDonor(s.ctx, s.request.ID, donor.ID)
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeConflict))
}

// ---------------------------------------------------------------------------
// Accept / decline
// ---------------------------------------------------------------------------

func (s *MatchingSuite) notifyDonor(d *donormodels.Donor) {
	_, err := s.donors.NotifyIfActive(s.ctx, d.ID, s.request.ID, s.now)
	s.Require().NoError(err)
}

func (s *MatchingSuite) TestAcceptMatchesRequestAndReturnsReveal() {
	donor := s.addDonorAt("A", 0.01)
	s.notifyDonor(donor)

	acceptance, err := s.service().Accept(s.ctx, donor.ID)
	s.Require().NoError(err)

	s.Equal(donormodels.DonorStatusAccepted, acceptance.Donor.Status)
	s.Equal("+91-9000000000", acceptance.Donor.Phone)
	s.Equal(emergencymodels.RequestStatusMatched, acceptance.Request.Status)
	s.Equal("Patient Kumar", acceptance.Request.PatientName)
	s.Equal("12 Ring Road, Delhi", acceptance.Request.Address)

	stored, err := s.requests.FindByID(s.ctx, s.request.ID)
	s.Require().NoError(err)
	s.Equal(emergencymodels.RequestStatusMatched, stored.Status)
}

func (s *MatchingSuite) TestAcceptWithoutAlertIsConflict() {
	donor := s.addDonorAt("A", 0.01)

	_, err := s.service().Accept(s.ctx, donor.ID)
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeConflict))
}

func (s *MatchingSuite) TestAcceptUnknownDonorIsNotFound() {
	_, err := s.service().Accept(s.ctx, domain.NewDonorID())
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
}

func (s *MatchingSuite) TestSecondAcceptLosesAndIsCompensated() {
	first := s.addDonorAt("first", 0.01)
	second := s.addDonorAt("second", 0.02)
	s.notifyDonor(first)
	s.notifyDonor(second)

	_, err := s.service().Accept(s.ctx, first.ID)
	s.Require().NoError(err)

	_, err = s.service().Accept(s.ctx, second.ID)
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeConflict))

	// The loser is rolled back to the active pool, not left accepted.
	got, err := s.donors.FindByID(s.ctx, second.ID)
	s.Require().NoError(err)
	s.Equal(donormodels.DonorStatusActive, got.Status)
	s.Nil(got.CurrentRequestID)
}

func (s *MatchingSuite) TestConcurrentAcceptsProduceOneMatch() {
	const donorCount = 20

	donors := make([]*donormodels.Donor, donorCount)
	for i := range donors {
		donors[i] = s.addDonorAt(fmt.Sprintf("donor-%02d", i), float64(i+1)*0.01)
		s.notifyDonor(donors[i])
	}

	svc := s.service()
	var (
		wg    sync.WaitGroup
		wins  int32
		winMu sync.Mutex
	)
	for _, d := range donors {
		wg.Add(1)
		go func(id domain.DonorID) {
			defer wg.Done()
			if _, err := svc.Accept(s.ctx, id); err == nil {
				winMu.Lock()
				wins++
				winMu.Unlock()
			}
		}(d.ID)
	}
	wg.Wait()

	s.Equal(int32(1), wins)

	// Every loser is back in the active pool.
	active, err := s.donors.ListCandidates(s.ctx, domain.BloodGroupAPos)
	s.Require().NoError(err)
	s.Len(active, donorCount-1)
}

func (s *MatchingSuite) TestDeclineReturnsDonorToPool() {
	donor := s.addDonorAt("A", 0.01)
	s.notifyDonor(donor)

	released, err := s.service().Decline(s.ctx, donor.ID)
	s.Require().NoError(err)
	s.Equal(donormodels.DonorStatusActive, released.Status)
	s.Nil(released.CurrentRequestID)

	// Request is untouched by a decline.
	stored, err := s.requests.FindByID(s.ctx, s.request.ID)
	s.Require().NoError(err)
	s.Equal(emergencymodels.RequestStatusSearching, stored.Status)
}

func (s *MatchingSuite) TestDeclineWithoutAlertIsConflict() {
	donor := s.addDonorAt("A", 0.01)

	_, err := s.service().Decline(s.ctx, donor.ID)
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeConflict))
}

func (s *MatchingSuite) TestAcceptedDonorCannotDecline() {
	donor := s.addDonorAt("A", 0.01)
	s.notifyDonor(donor)
	_, err := s.service().Accept(s.ctx, donor.ID)
	s.Require().NoError(err)

	_, err = s.service().Decline(s.ctx, donor.ID)
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeConflict))
}

// ---------------------------------------------------------------------------
// Donor alert view
// ---------------------------------------------------------------------------

func (s *MatchingSuite) TestCurrentAlertHidesPatientBeforeAccept() {
	donor := s.addDonorAt("A", 0.01)
	s.notifyDonor(donor)

	alert, err := s.service().CurrentAlert(s.ctx, donor.ID)
	s.Require().NoError(err)

	s.Equal(s.request.ID, alert.RequestID)
	s.Equal("City Hospital", alert.HospitalName)
	s.Equal(domain.BloodGroupAPos, alert.BloodGroup)
	s.Equal("12 Ring Road, Delhi", alert.Address)
	s.False(alert.Accepted)
	s.Empty(alert.PatientName)
}

func (s *MatchingSuite) TestCurrentAlertRevealsPatientAfterAccept() {
	donor := s.addDonorAt("A", 0.01)
	s.notifyDonor(donor)
	_, err := s.service().Accept(s.ctx, donor.ID)
	s.Require().NoError(err)

	alert, err := s.service().CurrentAlert(s.ctx, donor.ID)
	s.Require().NoError(err)
	s.True(alert.Accepted)
	s.Equal("Patient Kumar", alert.PatientName)
}

func (s *MatchingSuite) TestCurrentAlertForIdleDonorIsNotFound() {
	donor := s.addDonorAt("A", 0.01)

	_, err := s.service().CurrentAlert(s.ctx, donor.ID)
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
}
