package service

import (
	"context"
	"errors"
	"sort"
	"time"

	donormodels "lifeconnect/internal/donor/models"
	emergencymodels "lifeconnect/internal/emergency/models"
	"lifeconnect/internal/geo"
	"lifeconnect/internal/routing"
	"lifeconnect/pkg/domain"
	dErrors "lifeconnect/pkg/domain-errors"
	"lifeconnect/pkg/platform/sentinel"
)

// RankedDonor is one row of a match list. Travel is the unreachable sentinel
// when the ranking was geometric only.
type RankedDonor struct {
	Donor      *donormodels.Donor `json:"donor"`
	DistanceKm float64            `json:"distance_km"`
	Travel     routing.Estimate   `json:"travel"`
}

// MatchList is a ranked shortlist plus how it was ordered. Ranking is
// "travel_time" for the full two-stage result and "geometric" when the
// travel stage was skipped or failed.
type MatchList struct {
	Donors  []RankedDonor `json:"donors"`
	Ranking string        `json:"ranking"`
}

const (
	RankingTravelTime = "travel_time"
	RankingGeometric  = "geometric"
)

// Shortlist runs the geometric stage only: candidates of the request's blood
// group ordered by haversine distance, truncated to the shortlist size. Ties
// keep the candidate store's order.
func (s *Service) Shortlist(ctx context.Context, requestID domain.EmergencyRequestID) (*emergencymodels.EmergencyRequest, []RankedDonor, error) {
	request, err := s.loadOpenRequest(ctx, requestID)
	if err != nil {
		return nil, nil, err
	}

	candidates, err := s.donors.ListCandidates(ctx, request.BloodGroup)
	if err != nil {
		return nil, nil, dErrors.Wrap(err, dErrors.CodeInternal, "list candidates")
	}

	ranked := make([]RankedDonor, 0, len(candidates))
	for _, c := range candidates {
		ranked = append(ranked, RankedDonor{
			Donor:      c,
			DistanceKm: geo.Distance(request.Location, c.Location),
			Travel:     routing.Unreachable(),
		})
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].DistanceKm < ranked[j].DistanceKm
	})
	if len(ranked) > s.shortlist {
		ranked = ranked[:s.shortlist]
	}
	return request, ranked, nil
}

// Matches runs both ranking stages: geometric shortlist, then reorder by
// live driving time. A travel-stage failure comes back as a
// dErrors.CodeUnavailable error so callers can choose to fall back to the
// geometric order; see MatchesWithFallback.
func (s *Service) Matches(ctx context.Context, requestID domain.EmergencyRequestID) (*MatchList, error) {
	request, ranked, err := s.Shortlist(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if len(ranked) == 0 {
		return &MatchList{Donors: ranked, Ranking: RankingGeometric}, nil
	}
	if s.estimator == nil {
		return &MatchList{Donors: ranked, Ranking: RankingGeometric}, nil
	}

	destinations := make([]domain.GeoPoint, len(ranked))
	for i, r := range ranked {
		destinations[i] = r.Donor.Location
	}

	started := time.Now()
	estimates, err := s.estimator.DriveTimes(ctx, request.Location, destinations)
	s.metrics.ObserveRoutingLatency(time.Since(started).Seconds())
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "ranking unavailable")
	}
	if len(estimates) != len(ranked) {
		return nil, dErrors.Newf(dErrors.CodeInternal, "estimator returned %d estimates for %d donors", len(estimates), len(ranked))
	}

	for i := range ranked {
		ranked[i].Travel = estimates[i]
	}
	// Unreachable donors carry the 999999 s sentinel, so they sort last on
	// their own. Ties keep the geometric order.
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Travel.DurationSeconds < ranked[j].Travel.DurationSeconds
	})
	return &MatchList{Donors: ranked, Ranking: RankingTravelTime}, nil
}

// MatchesWithFallback is Matches, except a travel-stage outage degrades to
// the geometric shortlist instead of failing the whole read. The result says
// which ranking was used.
func (s *Service) MatchesWithFallback(ctx context.Context, requestID domain.EmergencyRequestID) (*MatchList, error) {
	list, err := s.Matches(ctx, requestID)
	if err == nil || !dErrors.HasCode(err, dErrors.CodeUnavailable) {
		return list, err
	}

	s.metrics.IncRankingFallbacks()
	s.logger.WarnContext(ctx, "travel-time ranking unavailable, using geometric order",
		"request_id", requestID.String(),
		"error", err,
	)
	_, ranked, err := s.Shortlist(ctx, requestID)
	if err != nil {
		return nil, err
	}
	return &MatchList{Donors: ranked, Ranking: RankingGeometric}, nil
}

func (s *Service) loadOpenRequest(ctx context.Context, id domain.EmergencyRequestID) (*emergencymodels.EmergencyRequest, error) {
	request, err := s.requests.FindByID(ctx, id)
	switch {
	case errors.Is(err, sentinel.ErrNotFound):
		return nil, dErrors.Wrap(err, dErrors.CodeNotFound, "request not found")
	case err != nil:
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "load request")
	}
	if request.Status != emergencymodels.RequestStatusSearching {
		return nil, dErrors.Newf(dErrors.CodeConflict, "request in status %q has no match list", request.Status)
	}
	return request, nil
}
