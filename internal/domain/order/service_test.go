package order_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/giftflare/orderflow/internal/courier"
	"github.com/giftflare/orderflow/internal/domain/order"
	"github.com/giftflare/orderflow/internal/notify"
	"github.com/giftflare/orderflow/internal/storage/memory"
)

// --- Mock implementations ---

// recordingDispatcher captures every dispatched event and can simulate
// per-channel failures without ever returning an error.
type recordingDispatcher struct {
	mu     sync.Mutex
	events []notify.Event
	orders []notify.OrderInfo
	// results returned from every Dispatch call.
	results []notify.ChannelResult
}

func (d *recordingDispatcher) Dispatch(_ context.Context, o notify.OrderInfo, ev notify.Event) []notify.ChannelResult {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.events = append(d.events, ev)
	d.orders = append(d.orders, o)
	if d.results != nil {
		return d.results
	}
	return []notify.ChannelResult{
		{Channel: notify.ChannelEmail},
		{Channel: notify.ChannelSMS},
	}
}

func (d *recordingDispatcher) dispatched() []notify.Event {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]notify.Event{}, d.events...)
}

type stubBooker struct {
	trackingID string
	err        error
	calls      int
}

func (b *stubBooker) Book(_ context.Context, _ courier.Request) (*courier.Booking, error) {
	b.calls++
	if b.err != nil {
		return nil, b.err
	}
	return &courier.Booking{TrackingID: b.trackingID}, nil
}

// --- Helpers ---

func newTestService(t *testing.T, cfg order.ServiceConfig, booker courier.Booker) (*order.Service, *memory.OrderStore, *recordingDispatcher) {
	t.Helper()
	store := memory.NewOrderStore()
	dispatcher := &recordingDispatcher{}
	if booker == nil {
		booker = &stubBooker{trackingID: "T-123"}
	}
	svc := order.NewService(store, dispatcher, booker, cfg, nil)
	return svc, store, dispatcher
}

func testItems() []order.LineItem {
	return []order.LineItem{
		{ProductID: "p1", Quantity: 1, UnitPrice: decimal.NewFromInt(500)},
		{ProductID: "p2", Quantity: 2, UnitPrice: decimal.NewFromInt(1200)},
	}
}

func createTestOrder(t *testing.T, svc *order.Service) *order.Order {
	t.Helper()
	result, err := svc.Create(context.Background(), order.CreateRequest{
		BuyerID:      "buyer-1",
		Items:        testItems(),
		DeliveryType: order.DeliveryStandard,
		DeliveryAddress: order.Address{
			Line1:      "12 MG Road",
			City:       "Bengaluru",
			PostalCode: "560001",
			Phone:      "+919900112233",
		},
	})
	require.NoError(t, err)
	return result.Order
}

// --- Create ---

func TestCreate_EmptyItems(t *testing.T) {
	svc, _, _ := newTestService(t, order.ServiceConfig{}, nil)

	_, err := svc.Create(context.Background(), order.CreateRequest{
		BuyerID:      "buyer-1",
		DeliveryType: order.DeliveryStandard,
	})
	require.ErrorIs(t, err, order.ErrEmptyItems)
}

func TestCreate_InvalidQuantity(t *testing.T) {
	svc, _, _ := newTestService(t, order.ServiceConfig{}, nil)

	_, err := svc.Create(context.Background(), order.CreateRequest{
		BuyerID: "buyer-1",
		Items: []order.LineItem{
			{ProductID: "p1", Quantity: 0, UnitPrice: decimal.NewFromInt(100)},
		},
		DeliveryType: order.DeliveryStandard,
	})

	var iqErr *order.InvalidQuantityError
	require.ErrorAs(t, err, &iqErr)
	assert.Equal(t, "p1", iqErr.ProductID)
}

func TestCreate_InvalidPrice(t *testing.T) {
	// Minor-unit snapshots must be positive integers; a fractional price
	// would be floored when totalling.
	tests := []struct {
		name  string
		price decimal.Decimal
	}{
		{"zero", decimal.Zero},
		{"negative", decimal.NewFromInt(-100)},
		{"fractional", decimal.RequireFromString("500.5")},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			svc, _, _ := newTestService(t, order.ServiceConfig{}, nil)

			_, err := svc.Create(context.Background(), order.CreateRequest{
				BuyerID: "buyer-1",
				Items: []order.LineItem{
					{ProductID: "p1", Quantity: 1, UnitPrice: tc.price},
				},
				DeliveryType: order.DeliveryStandard,
			})

			var ipErr *order.InvalidPriceError
			require.ErrorAs(t, err, &ipErr)
			assert.Equal(t, "p1", ipErr.ProductID)
		})
	}
}

func TestCreate_ComputesTotalServerSide(t *testing.T) {
	svc, _, _ := newTestService(t, order.ServiceConfig{}, nil)

	o := createTestOrder(t, svc)
	assert.Equal(t, int64(2900), o.TotalAmount)
	assert.Equal(t, order.StatusPending, o.Status)
	assert.NotEmpty(t, o.ID)
	assert.Empty(t, o.TrackingNumber)
}

func TestCreate_DispatchesConfirmationOnce(t *testing.T) {
	svc, _, dispatcher := newTestService(t, order.ServiceConfig{}, nil)

	createTestOrder(t, svc)
	require.Equal(t, []notify.Event{notify.EventConfirmed}, dispatcher.dispatched())
}

func TestCreate_InstantRequiresEligibleCity(t *testing.T) {
	svc, _, _ := newTestService(t, order.ServiceConfig{
		InstantCities: []string{"Mumbai", "Bengaluru"},
	}, nil)

	_, err := svc.Create(context.Background(), order.CreateRequest{
		BuyerID:      "buyer-1",
		Items:        testItems(),
		DeliveryType: order.DeliveryInstant,
		DeliveryAddress: order.Address{
			Line1: "4 Park St", City: "Kolkata", PostalCode: "700016",
		},
	})
	require.ErrorIs(t, err, order.ErrNotEligible)
}

func TestCreate_InstantEligibleCityCaseInsensitive(t *testing.T) {
	svc, _, _ := newTestService(t, order.ServiceConfig{
		InstantCities: []string{"Mumbai"},
	}, nil)

	result, err := svc.Create(context.Background(), order.CreateRequest{
		BuyerID:      "buyer-1",
		Items:        testItems(),
		DeliveryType: order.DeliveryInstant,
		DeliveryAddress: order.Address{
			Line1: "1 Marine Drive", City: "mumbai", PostalCode: "400020",
		},
	})
	require.NoError(t, err)
	assert.Equal(t, order.DeliveryInstant, result.Order.DeliveryType)
}

func TestCreate_FriendDeliveryRequired(t *testing.T) {
	svc, _, _ := newTestService(t, order.ServiceConfig{}, nil)

	items := testItems()
	items[0].Gift.DeliverToFriend = true

	_, err := svc.Create(context.Background(), order.CreateRequest{
		BuyerID:      "buyer-1",
		Items:        items,
		DeliveryType: order.DeliveryStandard,
	})
	require.ErrorIs(t, err, order.ErrFriendDetailsRequired)
}

func TestCreate_DropsUnrequestedFriendDelivery(t *testing.T) {
	svc, _, _ := newTestService(t, order.ServiceConfig{}, nil)

	result, err := svc.Create(context.Background(), order.CreateRequest{
		BuyerID:        "buyer-1",
		Items:          testItems(),
		DeliveryType:   order.DeliveryStandard,
		FriendDelivery: &order.Recipient{Name: "Asha"},
	})
	require.NoError(t, err)
	assert.Nil(t, result.Order.FriendDelivery)
}

// --- Reads ---

func TestGet_NotFound(t *testing.T) {
	svc, _, _ := newTestService(t, order.ServiceConfig{}, nil)

	_, err := svc.Get(context.Background(), "missing")
	require.ErrorIs(t, err, order.ErrNotFound)
}

func TestListByBuyer_NewestFirst(t *testing.T) {
	svc, store, _ := newTestService(t, order.ServiceConfig{}, nil)

	older := createTestOrder(t, svc)
	// Backdate the first order so ordering is deterministic.
	older.CreatedAt = older.CreatedAt.Add(-time.Hour)
	require.NoError(t, store.Create(context.Background(), older))
	newer := createTestOrder(t, svc)

	list, err := svc.ListByBuyer(context.Background(), "buyer-1")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, newer.ID, list[0].ID)
	assert.Equal(t, older.ID, list[1].ID)
}

// --- Transition ---

func TestTransition_HappyPath(t *testing.T) {
	svc, _, dispatcher := newTestService(t, order.ServiceConfig{}, nil)
	o := createTestOrder(t, svc)

	result, err := svc.Transition(context.Background(), o.ID, order.StatusConfirmed, "")
	require.NoError(t, err)
	assert.True(t, result.Applied)
	assert.Equal(t, order.StatusConfirmed, result.Order.Status)
	// Payment confirmation yields no messages: the confirmation went out at
	// creation.
	assert.Equal(t, []notify.Event{notify.EventConfirmed}, dispatcher.dispatched())
}

func TestTransition_SkipAheadIllegal(t *testing.T) {
	svc, _, _ := newTestService(t, order.ServiceConfig{}, nil)
	o := createTestOrder(t, svc)

	_, err := svc.Transition(context.Background(), o.ID, order.StatusShipped, "T-1")

	var itErr *order.IllegalTransitionError
	require.ErrorAs(t, err, &itErr)
	assert.Equal(t, order.StatusPending, itErr.From)
	assert.Equal(t, order.StatusShipped, itErr.To)
}

func TestTransition_ShipRequiresTracking(t *testing.T) {
	svc, _, _ := newTestService(t, order.ServiceConfig{}, nil)
	o := createTestOrder(t, svc)

	_, err := svc.Transition(context.Background(), o.ID, order.StatusConfirmed, "")
	require.NoError(t, err)

	_, err = svc.Transition(context.Background(), o.ID, order.StatusShipped, "")
	require.ErrorIs(t, err, order.ErrMissingTracking)

	// Status must be unchanged after the rejection.
	cur, err := svc.Get(context.Background(), o.ID)
	require.NoError(t, err)
	assert.Equal(t, order.StatusConfirmed, cur.Status)
}

func TestTransition_ShipSetsTrackingAndEstimate(t *testing.T) {
	svc, _, dispatcher := newTestService(t, order.ServiceConfig{}, nil)
	o := createTestOrder(t, svc)

	_, err := svc.Transition(context.Background(), o.ID, order.StatusConfirmed, "")
	require.NoError(t, err)

	result, err := svc.Transition(context.Background(), o.ID, order.StatusShipped, "T-1")
	require.NoError(t, err)
	assert.Equal(t, order.StatusShipped, result.Order.Status)
	assert.Equal(t, "T-1", result.Order.TrackingNumber)
	require.NotNil(t, result.Order.EstimatedDelivery)
	assert.Contains(t, dispatcher.dispatched(), notify.EventShipped)
}

func TestTransition_IdempotentReplay(t *testing.T) {
	svc, _, dispatcher := newTestService(t, order.ServiceConfig{}, nil)
	o := createTestOrder(t, svc)

	_, err := svc.Transition(context.Background(), o.ID, order.StatusConfirmed, "")
	require.NoError(t, err)
	_, err = svc.Transition(context.Background(), o.ID, order.StatusShipped, "T-1")
	require.NoError(t, err)
	before := len(dispatcher.dispatched())

	// Replay with a divergent tracking number: succeeds, changes nothing,
	// sends nothing.
	result, err := svc.Transition(context.Background(), o.ID, order.StatusShipped, "T-2")
	require.NoError(t, err)
	assert.False(t, result.Applied)
	assert.Equal(t, "T-1", result.Order.TrackingNumber)
	assert.Len(t, dispatcher.dispatched(), before)
}

func TestTransition_DeliveredIsTerminal(t *testing.T) {
	svc, _, _ := newTestService(t, order.ServiceConfig{}, nil)
	o := createTestOrder(t, svc)

	for _, step := range []struct {
		status   order.Status
		tracking string
	}{
		{order.StatusConfirmed, ""},
		{order.StatusShipped, "T-1"},
		{order.StatusDelivered, ""},
	} {
		_, err := svc.Transition(context.Background(), o.ID, step.status, step.tracking)
		require.NoError(t, err)
	}

	_, err := svc.Transition(context.Background(), o.ID, order.StatusCancelled, "")
	var itErr *order.IllegalTransitionError
	require.ErrorAs(t, err, &itErr)
}

func TestTransition_CancelNotifies(t *testing.T) {
	svc, _, dispatcher := newTestService(t, order.ServiceConfig{}, nil)
	o := createTestOrder(t, svc)

	result, err := svc.Transition(context.Background(), o.ID, order.StatusCancelled, "")
	require.NoError(t, err)
	assert.True(t, result.Applied)
	assert.Contains(t, dispatcher.dispatched(), notify.EventCancelled)
}

func TestTransition_NotFound(t *testing.T) {
	svc, _, _ := newTestService(t, order.ServiceConfig{}, nil)

	_, err := svc.Transition(context.Background(), "missing", order.StatusConfirmed, "")
	require.ErrorIs(t, err, order.ErrNotFound)
}

func TestTransition_DegradedNotificationDoesNotFail(t *testing.T) {
	store := memory.NewOrderStore()
	dispatcher := &recordingDispatcher{
		results: []notify.ChannelResult{
			{Channel: notify.ChannelEmail},
			{Channel: notify.ChannelSMS, Err: errors.New("provider timeout")},
		},
	}
	svc := order.NewService(store, dispatcher, &stubBooker{trackingID: "T-1"}, order.ServiceConfig{}, nil)
	o := createTestOrder(t, svc)

	_, err := svc.Transition(context.Background(), o.ID, order.StatusConfirmed, "")
	require.NoError(t, err)

	result, err := svc.Transition(context.Background(), o.ID, order.StatusShipped, "T-1")
	require.NoError(t, err)
	assert.Equal(t, order.StatusShipped, result.Order.Status)
	assert.True(t, notify.Degraded(result.Notifications))
}

func TestTransition_ConcurrentRace(t *testing.T) {
	svc, _, dispatcher := newTestService(t, order.ServiceConfig{}, nil)
	o := createTestOrder(t, svc)
	base := len(dispatcher.dispatched())

	const goroutines = 8
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		applied int
	)
	for range goroutines {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result, err := svc.Transition(context.Background(), o.ID, order.StatusConfirmed, "")
			if err != nil {
				// ErrConflict is an acceptable loss; anything else is not.
				assert.ErrorIs(t, err, order.ErrConflict)
				return
			}
			if result.Applied {
				mu.Lock()
				applied++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, applied, "exactly one transition must apply")
	// pending -> confirmed dispatches nothing, so no new events at all.
	assert.Len(t, dispatcher.dispatched(), base)

	cur, err := svc.Get(context.Background(), o.ID)
	require.NoError(t, err)
	assert.Equal(t, order.StatusConfirmed, cur.Status)
}

// --- BookDelivery ---

func TestBookDelivery_ShipsWithTrackingID(t *testing.T) {
	booker := &stubBooker{trackingID: "T-123"}
	svc, _, dispatcher := newTestService(t, order.ServiceConfig{}, booker)
	o := createTestOrder(t, svc)

	_, err := svc.Transition(context.Background(), o.ID, order.StatusConfirmed, "")
	require.NoError(t, err)

	result, err := svc.BookDelivery(context.Background(), o.ID)
	require.NoError(t, err)
	assert.Equal(t, "T-123", result.TrackingID)
	assert.Equal(t, order.StatusShipped, result.Order.Status)
	assert.Equal(t, "T-123", result.Order.TrackingNumber)
	assert.Contains(t, dispatcher.dispatched(), notify.EventShipped)
}

func TestBookDelivery_FailureLeavesOrderConfirmed(t *testing.T) {
	booker := &stubBooker{err: courier.ErrUnavailable}
	svc, _, _ := newTestService(t, order.ServiceConfig{}, booker)
	o := createTestOrder(t, svc)

	_, err := svc.Transition(context.Background(), o.ID, order.StatusConfirmed, "")
	require.NoError(t, err)

	_, err = svc.BookDelivery(context.Background(), o.ID)
	var bkErr *order.BookingError
	require.ErrorAs(t, err, &bkErr)
	assert.Equal(t, o.ID, bkErr.OrderID)

	cur, err := svc.Get(context.Background(), o.ID)
	require.NoError(t, err)
	assert.Equal(t, order.StatusConfirmed, cur.Status)
	assert.Empty(t, cur.TrackingNumber)
}

func TestBookDelivery_RequiresConfirmed(t *testing.T) {
	svc, _, _ := newTestService(t, order.ServiceConfig{}, nil)
	o := createTestOrder(t, svc)

	_, err := svc.BookDelivery(context.Background(), o.ID)
	var itErr *order.IllegalTransitionError
	require.ErrorAs(t, err, &itErr)
	assert.Equal(t, order.StatusPending, itErr.From)
}

func TestBookDelivery_ReplayReturnsExistingShipment(t *testing.T) {
	booker := &stubBooker{trackingID: "T-123"}
	svc, _, _ := newTestService(t, order.ServiceConfig{}, booker)
	o := createTestOrder(t, svc)

	_, err := svc.Transition(context.Background(), o.ID, order.StatusConfirmed, "")
	require.NoError(t, err)
	_, err = svc.BookDelivery(context.Background(), o.ID)
	require.NoError(t, err)

	result, err := svc.BookDelivery(context.Background(), o.ID)
	require.NoError(t, err)
	assert.Equal(t, "T-123", result.TrackingID)
	assert.Equal(t, 1, booker.calls, "replay must not book twice")
}

// --- End-to-end scenario ---

func TestOrderLifecycle_EndToEnd(t *testing.T) {
	booker := &stubBooker{trackingID: "T-123"}
	svc, _, _ := newTestService(t, order.ServiceConfig{}, booker)

	created, err := svc.Create(context.Background(), order.CreateRequest{
		BuyerID:      "buyer-9",
		Items:        testItems(),
		DeliveryType: order.DeliveryInstant,
		DeliveryAddress: order.Address{
			Line1: "7 Residency Rd", City: "Bengaluru", PostalCode: "560025",
			Phone: "+919812345678",
		},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2900), created.Order.TotalAmount)

	_, err = svc.Transition(context.Background(), created.Order.ID, order.StatusConfirmed, "")
	require.NoError(t, err)

	booked, err := svc.BookDelivery(context.Background(), created.Order.ID)
	require.NoError(t, err)
	assert.Equal(t, "T-123", booked.TrackingID)
	assert.Equal(t, order.StatusShipped, booked.Order.Status)
	assert.Equal(t, "T-123", booked.Order.TrackingNumber)

	delivered, err := svc.Transition(context.Background(), created.Order.ID, order.StatusDelivered, "")
	require.NoError(t, err)
	assert.Equal(t, order.StatusDelivered, delivered.Order.Status)

	_, err = svc.Transition(context.Background(), created.Order.ID, order.StatusCancelled, "")
	var itErr *order.IllegalTransitionError
	require.ErrorAs(t, err, &itErr)
}
