package service

import (
	"context"
	"errors"

	donormodels "lifeconnect/internal/donor/models"
	emergencymodels "lifeconnect/internal/emergency/models"
	"lifeconnect/pkg/domain"
	dErrors "lifeconnect/pkg/domain-errors"
	"lifeconnect/pkg/platform/sentinel"
	"lifeconnect/pkg/requestcontext"
)

// Alert is what a notified donor may see before committing: enough to
// decide (hospital, blood group, address), no patient contact. Once the
// donor has accepted, PatientName is filled in.
type Alert struct {
	RequestID    domain.EmergencyRequestID `json:"request_id"`
	HospitalName string                    `json:"hospital_name"`
	BloodGroup   domain.BloodGroup         `json:"blood_group"`
	Address      string                    `json:"address"`
	Location     domain.GeoPoint           `json:"location"`
	Accepted     bool                      `json:"accepted"`
	PatientName  string                    `json:"patient_name,omitempty"`
}

// Acceptance is the bilateral reveal returned to the winning donor: the
// requester gets the donor's contact through the live feed, the donor gets
// the full request here.
type Acceptance struct {
	Donor   *donormodels.Donor                `json:"donor"`
	Request *emergencymodels.EmergencyRequest `json:"request"`
}

// AlertDonor sends a manual single-donor alert for an open request. This is
// the requester-driven dispatch path; broadcast happens at request creation.
func (s *Service) AlertDonor(ctx context.Context, requestID domain.EmergencyRequestID, donorID domain.DonorID) (*donormodels.Donor, error) {
	request, err := s.loadOpenRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	return s.dispatcher.Notify(ctx, donorID, request)
}

// CurrentAlert returns the donor's pending alert, or CodeNotFound when the
// donor has none.
func (s *Service) CurrentAlert(ctx context.Context, donorID domain.DonorID) (*Alert, error) {
	donor, err := s.loadDonor(ctx, donorID)
	if err != nil {
		return nil, err
	}
	if donor.CurrentRequestID == nil {
		return nil, dErrors.New(dErrors.CodeNotFound, "no pending alert")
	}

	request, err := s.requests.FindByID(ctx, *donor.CurrentRequestID)
	switch {
	case errors.Is(err, sentinel.ErrNotFound):
		return nil, dErrors.Wrap(err, dErrors.CodeNotFound, "alerted request no longer exists")
	case err != nil:
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "load alerted request")
	}

	alert := &Alert{
		RequestID:    request.ID,
		HospitalName: request.HospitalName,
		BloodGroup:   request.BloodGroup,
		Address:      request.Address,
		Location:     request.Location,
		Accepted:     donor.Status == donormodels.DonorStatusAccepted,
	}
	if alert.Accepted {
		alert.PatientName = request.PatientName
	}
	return alert, nil
}

// Accept commits the calling donor to their current alert.
//
// Ordering matters: the donor flips notified → accepted first, then the
// request flips searching → matched. Both writes are guarded by the expected
// previous status, so when several donors race for one request exactly one
// request write succeeds; the losers' donor writes are compensated back to
// active and the accept is rejected with a conflict.
func (s *Service) Accept(ctx context.Context, donorID domain.DonorID) (*Acceptance, error) {
	now := requestcontext.Now(ctx)

	donor, err := s.donors.AcceptIfNotified(ctx, donorID, now)
	switch {
	case errors.Is(err, sentinel.ErrNotFound):
		return nil, dErrors.Wrap(err, dErrors.CodeNotFound, "donor not found")
	case errors.Is(err, sentinel.ErrInvalidState):
		return nil, dErrors.Wrap(err, dErrors.CodeConflict, "no pending alert to accept")
	case err != nil:
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "accept alert")
	}

	if donor.CurrentRequestID == nil {
		s.compensateAccept(ctx, donorID)
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "accepted donor has no request tie")
	}
	requestID := *donor.CurrentRequestID

	request, err := s.requests.MatchIfSearching(ctx, requestID)
	switch {
	case errors.Is(err, sentinel.ErrInvalidState):
		s.compensateAccept(ctx, donorID)
		s.metrics.IncAcceptConflicts()
		return nil, dErrors.Wrap(err, dErrors.CodeConflict, "request was already matched or cancelled")
	case errors.Is(err, sentinel.ErrNotFound):
		s.compensateAccept(ctx, donorID)
		return nil, dErrors.Wrap(err, dErrors.CodeInvariantViolation, "alerted request no longer exists")
	case err != nil:
		// The donor stays accepted and the request searching; the donor can
		// retry and the conditional writes keep the pair convergent.
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "match request")
	}

	s.cancelDeadline(ctx, donorID)
	s.metrics.IncAccepts()
	s.logger.InfoContext(ctx, "donor accepted emergency request",
		"donor_id", donorID.String(),
		"request_id", requestID.String(),
	)
	return &Acceptance{Donor: donor, Request: request}, nil
}

// Decline returns the calling donor to the active pool. Declining is only
// possible while notified; an accepted donor cannot back out this way.
func (s *Service) Decline(ctx context.Context, donorID domain.DonorID) (*donormodels.Donor, error) {
	now := requestcontext.Now(ctx)

	donor, err := s.donors.ReleaseIfNotified(ctx, donorID, now)
	switch {
	case errors.Is(err, sentinel.ErrNotFound):
		return nil, dErrors.Wrap(err, dErrors.CodeNotFound, "donor not found")
	case errors.Is(err, sentinel.ErrInvalidState):
		return nil, dErrors.Wrap(err, dErrors.CodeConflict, "no pending alert to decline")
	case err != nil:
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "decline alert")
	}

	s.cancelDeadline(ctx, donorID)
	s.metrics.IncDeclines()
	s.logger.InfoContext(ctx, "donor declined alert", "donor_id", donorID.String())
	return donor, nil
}

// MatchedDonor returns the donor who accepted the given request, with
// contact details. CodeNotFound while the request is still searching.
func (s *Service) MatchedDonor(ctx context.Context, requestID domain.EmergencyRequestID) (*donormodels.Donor, error) {
	request, err := s.requests.FindByID(ctx, requestID)
	switch {
	case errors.Is(err, sentinel.ErrNotFound):
		return nil, dErrors.Wrap(err, dErrors.CodeNotFound, "request not found")
	case err != nil:
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "load request")
	}
	if request.Status != emergencymodels.RequestStatusMatched {
		return nil, dErrors.Newf(dErrors.CodeNotFound, "request in status %q has no matched donor", request.Status)
	}

	engaged, err := s.donors.ListEngagedByGroup(ctx, request.BloodGroup)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "list engaged donors")
	}
	for _, d := range engaged {
		if d.Status == donormodels.DonorStatusAccepted &&
			d.CurrentRequestID != nil && *d.CurrentRequestID == requestID {
			return d, nil
		}
	}
	// Matched request without an accepted donor: the donor was released by a
	// later cancellation race. Callers treat it as no match yet.
	return nil, dErrors.New(dErrors.CodeNotFound, "matched donor not found")
}

func (s *Service) loadDonor(ctx context.Context, id domain.DonorID) (*donormodels.Donor, error) {
	donor, err := s.donors.FindByID(ctx, id)
	switch {
	case errors.Is(err, sentinel.ErrNotFound):
		return nil, dErrors.Wrap(err, dErrors.CodeNotFound, "donor not found")
	case err != nil:
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "load donor")
	}
	return donor, nil
}

// compensateAccept rolls a donor who lost the acceptance race back to
// active. Failure here is logged, not surfaced: the notify-timeout reaper
// cannot help an accepted donor, but the stuck row is visible in the logs
// and the donor's state is still internally consistent.
func (s *Service) compensateAccept(ctx context.Context, donorID domain.DonorID) {
	now := requestcontext.Now(ctx)
	if _, err := s.donors.ReleaseIfAccepted(ctx, donorID, now); err != nil {
		s.logger.ErrorContext(ctx, "failed to roll back lost acceptance",
			"donor_id", donorID.String(),
			"error", err,
		)
	}
}

func (s *Service) cancelDeadline(ctx context.Context, donorID domain.DonorID) {
	if s.scheduler == nil {
		return
	}
	if err := s.scheduler.Cancel(ctx, donorID); err != nil {
		// Stale deadlines are harmless; the reaper's release is status-guarded.
		s.logger.WarnContext(ctx, "failed to clear notify deadline",
			"donor_id", donorID.String(),
			"error", err,
		)
	}
}
