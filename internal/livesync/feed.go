package livesync

import (
	"context"

	donormodels "lifeconnect/internal/donor/models"
	"lifeconnect/pkg/domain"
	"lifeconnect/pkg/platform/sentinel"
)

// AwaitAccept blocks until a donor accepts the given request, the
// subscription closes, or ctx is done. It returns the accepting donor with
// contact details, which is the requester's half of the reveal.
//
// The change stream is lossy, so callers put a deadline on ctx and fall back
// to polling the request on timeout.
func AwaitAccept(ctx context.Context, bus Bus, requestID domain.EmergencyRequestID) (*donormodels.Donor, error) {
	sub := bus.Subscribe(ctx, Filter{Table: TableDonors, Kind: KindUpdate})
	defer sub.Cancel()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case ev, ok := <-sub.C:
			if !ok {
				return nil, sentinel.ErrUnavailable
			}
			d := ev.Donor
			if d == nil || d.Status != donormodels.DonorStatusAccepted {
				continue
			}
			if d.CurrentRequestID == nil || *d.CurrentRequestID != requestID {
				continue
			}
			return d, nil
		}
	}
}
