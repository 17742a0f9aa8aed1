// Package livesync carries row-level change events from the stores to live
// observers (dashboards, waiting donors, requesters watching for a match).
//
// Delivery is fan-out, at-most-once-effective: a slow subscriber may miss
// events and duplicates are possible across transport reconnects. Consumers
// must treat events as invalidation signals and re-derive view state from a
// full fetch on ambiguous signals; see View.Resync.
package livesync

import (
	"context"

	donormodels "lifeconnect/internal/donor/models"
	emergencymodels "lifeconnect/internal/emergency/models"
)

// Table names events by the record collection they concern.
type Table string

const (
	TableDonors   Table = "donors"
	TableRequests Table = "emergency_requests"
)

// Kind is the mutation class of a change event.
type Kind string

const (
	KindInsert Kind = "insert"
	KindUpdate Kind = "update"
)

// ChangeEvent is a changed-row snapshot. Exactly one of Donor and Request is
// set, matching Table.
type ChangeEvent struct {
	Table   Table                            `json:"table"`
	Kind    Kind                             `json:"kind"`
	RowID   string                           `json:"row_id"`
	Donor   *donormodels.Donor                `json:"donor,omitempty"`
	Request *emergencymodels.EmergencyRequest `json:"request,omitempty"`
}

// Filter selects a subset of the change stream. Zero values match everything,
// so Filter{Table: TableDonors} subscribes to all donor changes and
// Filter{Table: TableDonors, RowID: id} to a single donor's row.
type Filter struct {
	Table Table
	Kind  Kind
	RowID string
}

// Matches reports whether the event passes the filter.
func (f Filter) Matches(ev ChangeEvent) bool {
	if f.Table != "" && f.Table != ev.Table {
		return false
	}
	if f.Kind != "" && f.Kind != ev.Kind {
		return false
	}
	if f.RowID != "" && f.RowID != ev.RowID {
		return false
	}
	return true
}

// Publisher is the write side of the bus. Stores publish after a successful
// mutation; publishing never fails the mutation.
type Publisher interface {
	Publish(ctx context.Context, ev ChangeEvent)
}

// Bus is a change-event transport with cancelable filtered subscriptions.
type Bus interface {
	Publisher
	Subscribe(ctx context.Context, filter Filter) *Subscription
}

// Subscription is one observer's handle on the change stream. Events arrive
// on C until Cancel is called or the subscribing context is done; C is closed
// afterwards so range loops terminate deterministically.
type Subscription struct {
	C      <-chan ChangeEvent
	cancel func()
}

// Cancel detaches the subscription. Safe to call more than once.
func (s *Subscription) Cancel() {
	if s.cancel != nil {
		s.cancel()
	}
}

// DonorChanged builds an update event for a donor row.
func DonorChanged(kind Kind, d *donormodels.Donor) ChangeEvent {
	return ChangeEvent{Table: TableDonors, Kind: kind, RowID: d.ID.String(), Donor: d}
}

// RequestChanged builds an event for an emergency-request row.
func RequestChanged(kind Kind, r *emergencymodels.EmergencyRequest) ChangeEvent {
	return ChangeEvent{Table: TableRequests, Kind: kind, RowID: r.ID.String(), Request: r}
}
