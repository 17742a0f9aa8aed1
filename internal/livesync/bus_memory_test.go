package livesync

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	donormodels "lifeconnect/internal/donor/models"
	"lifeconnect/pkg/domain"
)

func testDonor(t *testing.T, group domain.BloodGroup) *donormodels.Donor {
	t.Helper()
	d, err := donormodels.NewDonor(
		domain.NewDonorID(), "Asha", "+91-9876543210", group,
		domain.GeoPoint{Lat: 28.61, Lng: 77.20}, "", time.Now(),
	)
	require.NoError(t, err)
	return d
}

func recv(t *testing.T, c <-chan ChangeEvent) ChangeEvent {
	t.Helper()
	select {
	case ev, ok := <-c:
		require.True(t, ok, "subscription closed early")
		return ev
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for change event")
		return ChangeEvent{}
	}
}

func TestMemoryBusFanOut(t *testing.T) {
	bus := NewMemoryBus()
	ctx := context.Background()

	all := bus.Subscribe(ctx, Filter{})
	donorsOnly := bus.Subscribe(ctx, Filter{Table: TableDonors})
	defer all.Cancel()
	defer donorsOnly.Cancel()

	donor := testDonor(t, domain.BloodGroupAPos)
	bus.Publish(ctx, DonorChanged(KindInsert, donor))

	for _, sub := range []*Subscription{all, donorsOnly} {
		ev := recv(t, sub.C)
		assert.Equal(t, TableDonors, ev.Table)
		assert.Equal(t, KindInsert, ev.Kind)
		assert.Equal(t, donor.ID.String(), ev.RowID)
		require.NotNil(t, ev.Donor)
		assert.Equal(t, donor.ID, ev.Donor.ID)
	}
}

func TestMemoryBusFilters(t *testing.T) {
	bus := NewMemoryBus()
	ctx := context.Background()

	donor := testDonor(t, domain.BloodGroupAPos)
	other := testDonor(t, domain.BloodGroupAPos)

	oneRow := bus.Subscribe(ctx, Filter{Table: TableDonors, RowID: donor.ID.String()})
	defer oneRow.Cancel()

	bus.Publish(ctx, DonorChanged(KindUpdate, other))
	bus.Publish(ctx, DonorChanged(KindUpdate, donor))

	ev := recv(t, oneRow.C)
	assert.Equal(t, donor.ID.String(), ev.RowID)

	select {
	case extra := <-oneRow.C:
		t.Fatalf("unexpected event for row %s", extra.RowID)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestMemoryBusCancelClosesChannel(t *testing.T) {
	bus := NewMemoryBus()
	sub := bus.Subscribe(context.Background(), Filter{})

	sub.Cancel()
	sub.Cancel() // idempotent

	select {
	case _, ok := <-sub.C:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("channel not closed after cancel")
	}

	// Publishing after cancel must not panic or block.
	bus.Publish(context.Background(), DonorChanged(KindUpdate, testDonor(t, domain.BloodGroupAPos)))
}

func TestMemoryBusContextCancelDetaches(t *testing.T) {
	bus := NewMemoryBus()
	ctx, cancel := context.WithCancel(context.Background())

	sub := bus.Subscribe(ctx, Filter{})
	cancel()

	deadline := time.After(time.Second)
	for {
		select {
		case _, ok := <-sub.C:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("channel not closed after context cancellation")
		}
	}
}

func TestMemoryBusDropsWhenSubscriberLagging(t *testing.T) {
	bus := NewMemoryBus()
	ctx := context.Background()

	sub := bus.Subscribe(ctx, Filter{})
	defer sub.Cancel()

	donor := testDonor(t, domain.BloodGroupAPos)
	// Publish past the buffer without reading; publishers must never block.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < subscriberBuffer*2; i++ {
			bus.Publish(ctx, DonorChanged(KindUpdate, donor))
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publisher blocked on a lagging subscriber")
	}

	// The subscriber still sees a full buffer of events.
	received := 0
	for {
		select {
		case <-sub.C:
			received++
		default:
			assert.Equal(t, subscriberBuffer, received)
			return
		}
	}
}
