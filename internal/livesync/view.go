package livesync

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"strings"
	"sync"

	donormodels "lifeconnect/internal/donor/models"
	emergencymodels "lifeconnect/internal/emergency/models"
	"lifeconnect/pkg/domain"
	"lifeconnect/pkg/platform/sentinel"
)

// DonorReader is the slice of the donor store Resync reads from. Declared
// here rather than importing the store package, which imports livesync to
// publish change events.
type DonorReader interface {
	ListEngagedByGroup(ctx context.Context, group domain.BloodGroup) ([]*donormodels.Donor, error)
}

// RequestReader is the slice of the emergency store Resync reads from.
type RequestReader interface {
	Latest(ctx context.Context) (*emergencymodels.EmergencyRequest, error)
}

// DonorRow is one donor line of the dashboard. Phone is masked until the
// donor has accepted; observers watching the board must not see contact
// details of donors who have not committed.
type DonorRow struct {
	ID         domain.DonorID          `json:"id"`
	Name       string                  `json:"name"`
	Phone      string                  `json:"phone"`
	BloodGroup domain.BloodGroup       `json:"blood_group"`
	Status     donormodels.DonorStatus `json:"status"`
}

// Snapshot is the dashboard state at one point in time: the latest request
// and the donors currently engaged with its blood group.
type Snapshot struct {
	Request *emergencymodels.EmergencyRequest `json:"request,omitempty"`
	Donors  []DonorRow                        `json:"donors"`
}

// View maintains a live dashboard projection from the change stream.
//
// It follows the latest emergency request: an insert of a newer request
// resets the board to that request, donor updates add or update rows for
// donors tied to the request, and a donor returning to active drops off the
// board. Any signal the projection cannot apply cleanly triggers a full
// Resync from the stores, which is also the recovery path for events lost in
// transport.
type View struct {
	donors   DonorReader
	requests RequestReader
	logger   *slog.Logger

	mu      sync.RWMutex
	request *emergencymodels.EmergencyRequest
	rows    map[domain.DonorID]DonorRow
}

// NewView creates an empty projection. Call Resync before first use.
func NewView(donors DonorReader, requests RequestReader, logger *slog.Logger) *View {
	return &View{
		donors:   donors,
		requests: requests,
		logger:   logger,
		rows:     make(map[domain.DonorID]DonorRow),
	}
}

// Run consumes the change stream until ctx is done. Intended to run in its
// own goroutine; the subscription channel closing ends the loop.
func (v *View) Run(ctx context.Context, bus Bus) error {
	if err := v.Resync(ctx); err != nil {
		return err
	}

	sub := bus.Subscribe(ctx, Filter{})
	defer sub.Cancel()

	for ev := range sub.C {
		v.Apply(ctx, ev)
	}
	return ctx.Err()
}

// Snapshot returns a copy of the current board, donor rows ordered by name.
func (v *View) Snapshot() Snapshot {
	v.mu.RLock()
	defer v.mu.RUnlock()

	snap := Snapshot{Donors: make([]DonorRow, 0, len(v.rows))}
	if v.request != nil {
		req := *v.request
		snap.Request = &req
	}
	for _, row := range v.rows {
		snap.Donors = append(snap.Donors, row)
	}
	sort.Slice(snap.Donors, func(i, j int) bool {
		return snap.Donors[i].Name < snap.Donors[j].Name
	})
	return snap
}

// Apply folds one change event into the projection.
func (v *View) Apply(ctx context.Context, ev ChangeEvent) {
	switch {
	case ev.Table == TableRequests && ev.Request != nil:
		v.applyRequest(ctx, ev)
	case ev.Table == TableDonors && ev.Donor != nil:
		v.applyDonor(ev.Donor)
	default:
		// Malformed event; the stream can no longer be trusted incrementally.
		v.resyncLogged(ctx, "malformed change event")
	}
}

func (v *View) applyRequest(ctx context.Context, ev ChangeEvent) {
	v.mu.Lock()
	current := v.request
	switch {
	case ev.Kind == KindInsert:
		// A new emergency takes over the board.
		v.request = ev.Request
		v.rows = make(map[domain.DonorID]DonorRow)
		v.mu.Unlock()
	case current != nil && current.ID == ev.Request.ID:
		v.request = ev.Request
		v.mu.Unlock()
	default:
		// Update for a request we are not following: either we missed its
		// insert or ordering got scrambled.
		v.mu.Unlock()
		v.resyncLogged(ctx, "update for unknown request")
	}
}

func (v *View) applyDonor(d *donormodels.Donor) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.request == nil {
		return
	}
	tied := d.CurrentRequestID != nil && *d.CurrentRequestID == v.request.ID
	if !tied {
		// Covers both donors released back to active and donors engaged
		// elsewhere.
		delete(v.rows, d.ID)
		return
	}
	v.rows[d.ID] = donorRow(d)
}

// Resync rebuilds the board from the stores: latest request plus the engaged
// donors of its blood group.
func (v *View) Resync(ctx context.Context) error {
	request, err := v.requests.Latest(ctx)
	if errors.Is(err, sentinel.ErrNotFound) {
		v.mu.Lock()
		v.request = nil
		v.rows = make(map[domain.DonorID]DonorRow)
		v.mu.Unlock()
		return nil
	}
	if err != nil {
		return err
	}

	engaged, err := v.donors.ListEngagedByGroup(ctx, request.BloodGroup)
	if err != nil {
		return err
	}

	rows := make(map[domain.DonorID]DonorRow, len(engaged))
	for _, d := range engaged {
		if d.CurrentRequestID == nil || *d.CurrentRequestID != request.ID {
			continue
		}
		rows[d.ID] = donorRow(d)
	}

	v.mu.Lock()
	v.request = request
	v.rows = rows
	v.mu.Unlock()
	return nil
}

func (v *View) resyncLogged(ctx context.Context, reason string) {
	if err := v.Resync(ctx); err != nil {
		v.logger.ErrorContext(ctx, "dashboard resync failed",
			"reason", reason,
			"error", err,
		)
	}
}

func donorRow(d *donormodels.Donor) DonorRow {
	row := DonorRow{
		ID:         d.ID,
		Name:       d.Name,
		Phone:      maskPhone(d.Phone),
		BloodGroup: d.BloodGroup,
		Status:     d.Status,
	}
	if d.Status == donormodels.DonorStatusAccepted {
		row.Phone = d.Phone
	}
	return row
}

// maskPhone keeps the last two digits so a requester can confirm a number
// out of band without the board leaking it.
func maskPhone(phone string) string {
	digits := 0
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			digits++
		}
	}
	if digits <= 2 {
		return strings.Repeat("*", len(phone))
	}

	var b strings.Builder
	seen := 0
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			seen++
			if seen > digits-2 {
				b.WriteRune(r)
				continue
			}
			b.WriteRune('*')
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
