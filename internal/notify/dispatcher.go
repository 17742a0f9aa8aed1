package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	donormodels "lifeconnect/internal/donor/models"
	donorstore "lifeconnect/internal/donor/store"
	emergencymodels "lifeconnect/internal/emergency/models"
	"lifeconnect/internal/platform/metrics"
	"lifeconnect/pkg/domain"
	dErrors "lifeconnect/pkg/domain-errors"
	"lifeconnect/pkg/platform/sentinel"
	"lifeconnect/pkg/requestcontext"
)

// Policy selects how donors are alerted when an emergency request opens.
type Policy string

const (
	// PolicyBroadcast alerts every eligible candidate as soon as the
	// request is created.
	PolicyBroadcast Policy = "broadcast"
	// PolicyManual leaves alerting to the requester, who picks donors from
	// the ranked match list one by one.
	PolicyManual Policy = "manual"
)

// ParsePolicy validates a policy value from configuration.
func ParsePolicy(raw string) (Policy, error) {
	switch Policy(raw) {
	case PolicyBroadcast, PolicyManual:
		return Policy(raw), nil
	}
	return "", fmt.Errorf("unknown dispatch policy %q", raw)
}

// Dispatcher marks donors as notified and delivers push alerts. The status
// transition is the durable part: a donor whose push fails is still notified
// and still shows the alert on their next dashboard poll, so push delivery is
// best-effort and never rolls the transition back.
type Dispatcher struct {
	donors    donorstore.Store
	push      PushSender
	scheduler Scheduler
	timeout   time.Duration
	logger    *slog.Logger
	metrics   *metrics.Metrics
	link      string
}

// DispatcherOption configures optional collaborators.
type DispatcherOption func(*Dispatcher)

// WithScheduler arms a response deadline for every notified donor. Without a
// scheduler, notified donors who never respond stay reserved until the
// request is cancelled.
func WithScheduler(s Scheduler, timeout time.Duration) DispatcherOption {
	return func(d *Dispatcher) {
		d.scheduler = s
		d.timeout = timeout
	}
}

// WithMetrics records dispatch counters.
func WithMetrics(m *metrics.Metrics) DispatcherOption {
	return func(d *Dispatcher) { d.metrics = m }
}

// WithClickLink sets the URL opened when a donor taps the push notification.
func WithClickLink(link string) DispatcherOption {
	return func(d *Dispatcher) { d.link = link }
}

// NewDispatcher creates a dispatcher. Pass NopSender as push when no push
// provider is configured.
func NewDispatcher(donors donorstore.Store, push PushSender, logger *slog.Logger, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		donors: donors,
		push:   push,
		logger: logger,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Notify reserves one donor for the request and sends them a push alert.
// The reservation is a conditional active → notified write, so two requests
// racing for the same donor resolve to exactly one winner.
func (d *Dispatcher) Notify(ctx context.Context, donorID domain.DonorID, request *emergencymodels.EmergencyRequest) (*donormodels.Donor, error) {
	if !request.IsOpen() {
		return nil, dErrors.New(dErrors.CodeConflict, "request is no longer open")
	}

	now := requestcontext.Now(ctx)
	donor, err := d.donors.NotifyIfActive(ctx, donorID, request.ID, now)
	switch {
	case errors.Is(err, sentinel.ErrNotFound):
		return nil, dErrors.Wrap(err, dErrors.CodeNotFound, "donor not found")
	case errors.Is(err, sentinel.ErrInvalidState):
		return nil, dErrors.Wrap(err, dErrors.CodeConflict, "donor is not available")
	case err != nil:
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "notify donor")
	}

	d.metrics.IncNotificationsSent()

	if d.scheduler != nil {
		if err := d.scheduler.Schedule(ctx, donorID, now.Add(d.timeout)); err != nil {
			// The donor stays notified; a missed deadline only delays
			// their return to the active pool.
			d.logger.WarnContext(ctx, "failed to arm notify deadline",
				"donor_id", donorID.String(),
				"error", err,
			)
		}
	}

	d.sendPush(ctx, donor, request)
	return donor, nil
}

// Broadcast alerts every eligible candidate for the request's blood group.
// It returns the number of donors reserved. A request with zero candidates
// is an error so the requester learns immediately that nobody can be asked.
func (d *Dispatcher) Broadcast(ctx context.Context, request *emergencymodels.EmergencyRequest) (int, error) {
	candidates, err := d.donors.ListCandidates(ctx, request.BloodGroup)
	if err != nil {
		return 0, dErrors.Wrap(err, dErrors.CodeInternal, "list candidates")
	}
	if len(candidates) == 0 {
		return 0, dErrors.Newf(dErrors.CodeNotFound, "no active %s donors found", request.BloodGroup)
	}

	notified := 0
	for _, candidate := range candidates {
		_, err := d.Notify(ctx, candidate.ID, request)
		if err != nil {
			// Candidate lists are snapshots; a donor grabbed by a
			// concurrent request loses the conditional write here.
			if dErrors.HasCode(err, dErrors.CodeConflict) || dErrors.HasCode(err, dErrors.CodeNotFound) {
				continue
			}
			return notified, err
		}
		notified++
	}
	if notified == 0 {
		return 0, dErrors.Newf(dErrors.CodeConflict, "all %s donors were claimed by other requests", request.BloodGroup)
	}
	return notified, nil
}

func (d *Dispatcher) sendPush(ctx context.Context, donor *donormodels.Donor, request *emergencymodels.EmergencyRequest) {
	if donor.FCMToken == "" {
		return
	}
	msg := PushMessage{
		Token: donor.FCMToken,
		Title: "URGENT: Blood Needed",
		Body: fmt.Sprintf("Hello %s, a patient at %s needs %s blood immediately. Can you help?",
			donor.Name, request.HospitalName, request.BloodGroup),
		Link: d.link,
	}
	if err := d.push.Send(ctx, msg); err != nil {
		d.metrics.IncPushFailures()
		d.logger.WarnContext(ctx, "push delivery failed",
			"donor_id", donor.ID.String(),
			"request_id", request.ID.String(),
			"error", err,
		)
	}
}
