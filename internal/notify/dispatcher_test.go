package notify

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	donormodels "lifeconnect/internal/donor/models"
	donorstore "lifeconnect/internal/donor/store"
	emergencymodels "lifeconnect/internal/emergency/models"
	"lifeconnect/pkg/domain"
	dErrors "lifeconnect/pkg/domain-errors"
	"lifeconnect/pkg/requestcontext"
)

// recordingSender captures pushed messages and can be told to fail.
type recordingSender struct {
	mu   sync.Mutex
	sent []PushMessage
	err  error
}

func (r *recordingSender) Send(_ context.Context, msg PushMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.sent = append(r.sent, msg)
	return nil
}

func (r *recordingSender) messages() []PushMessage {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]PushMessage(nil), r.sent...)
}

type DispatcherSuite struct {
	suite.Suite
	donors    *donorstore.InMemory
	sender    *recordingSender
	scheduler *MemoryScheduler
	ctx       context.Context
	now       time.Time
	request   *emergencymodels.EmergencyRequest
}

func TestDispatcherSuite(t *testing.T) {
	suite.Run(t, new(DispatcherSuite))
}

func (s *DispatcherSuite) SetupTest() {
	s.donors = donorstore.NewInMemory()
	s.sender = &recordingSender{}
	s.scheduler = NewMemoryScheduler()
	s.now = time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)
	s.ctx = requestcontext.WithTime(context.Background(), s.now)

	req, err := emergencymodels.NewEmergencyRequest(
		domain.NewEmergencyRequestID(),
		"Patient Kumar",
		"City Hospital",
		domain.BloodGroupONeg,
		domain.GeoPoint{Lat: 28.61, Lng: 77.20},
		"12 Ring Road, Delhi",
		s.now,
	)
	s.Require().NoError(err)
	s.request = req
}

func (s *DispatcherSuite) dispatcher(opts ...DispatcherOption) *Dispatcher {
	base := []DispatcherOption{WithScheduler(s.scheduler, 15*time.Minute)}
	return NewDispatcher(s.donors, s.sender, slog.Default(), append(base, opts...)...)
}

func (s *DispatcherSuite) addDonor(name, token string) *donormodels.Donor {
	d, err := donormodels.NewDonor(
		domain.NewDonorID(),
		name,
		"+91-9000000000",
		domain.BloodGroupONeg,
		domain.GeoPoint{Lat: 28.70, Lng: 77.10},
		token,
		s.now,
	)
	s.Require().NoError(err)
	s.Require().NoError(s.donors.Create(s.ctx, d))
	return d
}

// ---------------------------------------------------------------------------
// Notify
// ---------------------------------------------------------------------------

func (s *DispatcherSuite) TestNotifyReservesDonorAndSendsPush() {
	donor := s.addDonor("Asha", "device-token")

	notified, err := s.dispatcher(WithClickLink("https://lifeconnect.example/donor")).
		Notify(s.ctx, donor.ID, s.request)
	s.Require().NoError(err)

	s.Equal(donormodels.DonorStatusNotified, notified.Status)
	s.Require().NotNil(notified.CurrentRequestID)
	s.Equal(s.request.ID, *notified.CurrentRequestID)

	msgs := s.sender.messages()
	s.Require().Len(msgs, 1)
	s.Equal("device-token", msgs[0].Token)
	s.Contains(msgs[0].Body, "Asha")
	s.Contains(msgs[0].Body, "City Hospital")
	s.Contains(msgs[0].Body, "O-")
	s.Equal("https://lifeconnect.example/donor", msgs[0].Link)
}

func (s *DispatcherSuite) TestNotifyArmsResponseDeadline() {
	donor := s.addDonor("Asha", "device-token")

	_, err := s.dispatcher().Notify(s.ctx, donor.ID, s.request)
	s.Require().NoError(err)

	// Before the deadline nothing is due; after it, the donor is.
	due, err := s.scheduler.Due(s.ctx, s.now.Add(14*time.Minute))
	s.Require().NoError(err)
	s.Empty(due)

	due, err = s.scheduler.Due(s.ctx, s.now.Add(16*time.Minute))
	s.Require().NoError(err)
	s.Equal([]domain.DonorID{donor.ID}, due)
}

func (s *DispatcherSuite) TestNotifySkipsPushWithoutDeviceToken() {
	donor := s.addDonor("Asha", "")

	notified, err := s.dispatcher().Notify(s.ctx, donor.ID, s.request)
	s.Require().NoError(err)

	// The reservation still happened; only delivery was skipped.
	s.Equal(donormodels.DonorStatusNotified, notified.Status)
	s.Empty(s.sender.messages())
}

func (s *DispatcherSuite) TestNotifySurvivesPushFailure() {
	donor := s.addDonor("Asha", "device-token")
	s.sender.err = errors.New("fcm unavailable")

	notified, err := s.dispatcher().Notify(s.ctx, donor.ID, s.request)
	s.Require().NoError(err)
	s.Equal(donormodels.DonorStatusNotified, notified.Status)
}

func (s *DispatcherSuite) TestNotifyRejectsUnavailableDonor() {
	donor := s.addDonor("Asha", "device-token")

	_, err := s.dispatcher().Notify(s.ctx, donor.ID, s.request)
	s.Require().NoError(err)

	// Second alert for the same donor loses the conditional write.
	_, err = s.dispatcher().Notify(s.ctx, donor.ID, s.request)
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeConflict))
}

func (s *DispatcherSuite) TestNotifyRejectsUnknownDonor() {
	_, err := s.dispatcher().Notify(s.ctx, domain.NewDonorID(), s.request)
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
}

func (s *DispatcherSuite) TestNotifyRejectsClosedRequest() {
	donor := s.addDonor("Asha", "device-token")
	s.request.ApplyCancel()

	_, err := s.dispatcher().Notify(s.ctx, donor.ID, s.request)
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeConflict))
	s.Empty(s.sender.messages())
}

// ---------------------------------------------------------------------------
// Broadcast
// ---------------------------------------------------------------------------

func (s *DispatcherSuite) TestBroadcastAlertsEveryCandidate() {
	s.addDonor("Asha", "token-a")
	s.addDonor("Ravi", "token-b")
	s.addDonor("Meera", "")

	notified, err := s.dispatcher().Broadcast(s.ctx, s.request)
	s.Require().NoError(err)
	s.Equal(3, notified)

	// Two pushes went out; the tokenless donor was reserved silently.
	s.Len(s.sender.messages(), 2)

	remaining, err := s.donors.ListCandidates(s.ctx, domain.BloodGroupONeg)
	s.Require().NoError(err)
	s.Empty(remaining)
}

func (s *DispatcherSuite) TestBroadcastFailsWhenNoCandidates() {
	_, err := s.dispatcher().Broadcast(s.ctx, s.request)
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	s.Contains(err.Error(), "O-")
}

func (s *DispatcherSuite) TestBroadcastSkipsDonorsClaimedMidFlight() {
	kept := s.addDonor("Asha", "token-a")
	stolen := s.addDonor("Ravi", "token-b")

	// Another request grabs one donor between the list and the alert.
	other := domain.NewEmergencyRequestID()
	candidates, err := s.donors.ListCandidates(s.ctx, domain.BloodGroupONeg)
	s.Require().NoError(err)
	s.Require().Len(candidates, 2)
	_, err = s.donors.NotifyIfActive(s.ctx, stolen.ID, other, s.now)
	s.Require().NoError(err)

	notified, err := s.dispatcher().Broadcast(s.ctx, s.request)
	s.Require().NoError(err)
	s.Equal(1, notified)

	got, err := s.donors.FindByID(s.ctx, kept.ID)
	s.Require().NoError(err)
	s.Equal(donormodels.DonorStatusNotified, got.Status)
	s.Equal(s.request.ID, *got.CurrentRequestID)
}

// ---------------------------------------------------------------------------
// Reaper
// ---------------------------------------------------------------------------

func (s *DispatcherSuite) TestReaperReleasesSilentDonors() {
	donor := s.addDonor("Asha", "device-token")
	_, err := s.dispatcher().Notify(s.ctx, donor.ID, s.request)
	s.Require().NoError(err)

	reaper := NewReaper(s.donors, s.scheduler, time.Minute, slog.Default(), nil)
	s.Require().NoError(reaper.Sweep(s.ctx, s.now.Add(16*time.Minute)))

	got, err := s.donors.FindByID(s.ctx, donor.ID)
	s.Require().NoError(err)
	s.Equal(donormodels.DonorStatusActive, got.Status)
	s.Nil(got.CurrentRequestID)
}

func (s *DispatcherSuite) TestReaperLeavesAcceptedDonorsAlone() {
	donor := s.addDonor("Asha", "device-token")
	_, err := s.dispatcher().Notify(s.ctx, donor.ID, s.request)
	s.Require().NoError(err)
	_, err = s.donors.AcceptIfNotified(s.ctx, donor.ID, s.now.Add(time.Minute))
	s.Require().NoError(err)

	reaper := NewReaper(s.donors, s.scheduler, time.Minute, slog.Default(), nil)
	s.Require().NoError(reaper.Sweep(s.ctx, s.now.Add(16*time.Minute)))

	got, err := s.donors.FindByID(s.ctx, donor.ID)
	s.Require().NoError(err)
	s.Equal(donormodels.DonorStatusAccepted, got.Status)
}

func TestParsePolicy(t *testing.T) {
	for _, raw := range []string{"broadcast", "manual"} {
		p, err := ParsePolicy(raw)
		if err != nil {
			t.Fatalf("ParsePolicy(%q): %v", raw, err)
		}
		if string(p) != raw {
			t.Fatalf("ParsePolicy(%q) = %q", raw, p)
		}
	}
	if _, err := ParsePolicy("shotgun"); err == nil {
		t.Fatal("expected error for unknown policy")
	}
}
