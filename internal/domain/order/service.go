package order

import (
	"context"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/giftflare/orderflow/internal/courier"
	"github.com/giftflare/orderflow/internal/notify"
)

// ErrFriendDetailsRequired is returned when a line item requests delivery to
// a friend but no recipient details were provided.
var ErrFriendDetailsRequired = errors.New("friend delivery requested but recipient details missing")

// Estimated delivery windows stamped during the ship transition.
const (
	instantDeliveryWindow  = 2 * time.Hour
	standardDeliveryWindow = 5 * 24 * time.Hour
)

// Repository defines persistence operations for orders. UpdateStatus must be
// a single conditional write ("set status where status = from") so two
// concurrent transitions can never both apply.
type Repository interface {
	Create(ctx context.Context, o *Order) error
	GetByID(ctx context.Context, id string) (*Order, error)
	ListByBuyer(ctx context.Context, buyerID string) ([]Order, error)
	// UpdateStatus atomically moves the order from `from` to `to`, setting
	// the tracking number and estimated delivery when non-zero, and returns
	// the post-update row. It returns ErrNotFound when no such order exists
	// and ErrConflict when the order is no longer in `from`.
	UpdateStatus(ctx context.Context, id string, from, to Status, trackingNumber string, estimatedDelivery *time.Time) (*Order, error)
}

// CreateRequest holds the input for creating an order. TotalAmount is
// deliberately absent: it is always computed here from the item snapshots.
type CreateRequest struct {
	BuyerID          string
	Items            []LineItem
	DeliveryType     DeliveryType
	DeliveryAddress  Address
	FriendDelivery   *Recipient
	PaymentReference string
}

// CreateResult pairs the created order with the outcome of its confirmation
// notifications. A degraded notification never fails the create.
type CreateResult struct {
	Order         *Order
	Notifications []notify.ChannelResult
}

// TransitionResult is the outcome of a status transition. Applied is false
// for an idempotent replay, in which case no notifications were sent.
type TransitionResult struct {
	Order         *Order
	Applied       bool
	Notifications []notify.ChannelResult
}

// BookingResult is the outcome of a courier booking, including the shipped
// transition it triggered.
type BookingResult struct {
	Order         *Order
	TrackingID    string
	Notifications []notify.ChannelResult
}

// Dispatcher fans out notifications for one lifecycle event. It must never
// return an error; failures are carried in the per-channel results.
type Dispatcher interface {
	Dispatch(ctx context.Context, o notify.OrderInfo, ev notify.Event) []notify.ChannelResult
}

// ServiceConfig holds the non-dependency knobs of the service.
type ServiceConfig struct {
	// InstantCities lists cities eligible for instant delivery. Empty means
	// instant delivery is accepted everywhere.
	InstantCities []string
	// BookingTimeout bounds each courier booking call.
	BookingTimeout time.Duration
}

// Service coordinates the order lifecycle: creation, status transitions and
// courier booking, with notification dispatch on the committed transitions.
// All collaborators are injected; there is no package-level state.
type Service struct {
	repo       Repository
	dispatcher Dispatcher
	courier    courier.Booker
	cfg        ServiceConfig
	lg         *zap.Logger
	now        func() time.Time

	instantCities map[string]bool
}

// NewService creates an order Service with the required dependencies.
func NewService(repo Repository, dispatcher Dispatcher, booker courier.Booker, cfg ServiceConfig, lg *zap.Logger) *Service {
	if cfg.BookingTimeout <= 0 {
		cfg.BookingTimeout = 15 * time.Second
	}
	if lg == nil {
		lg = zap.NewNop()
	}
	cities := make(map[string]bool, len(cfg.InstantCities))
	for _, c := range cfg.InstantCities {
		cities[strings.ToLower(strings.TrimSpace(c))] = true
	}
	return &Service{
		repo:          repo,
		dispatcher:    dispatcher,
		courier:       booker,
		cfg:           cfg,
		lg:            lg,
		now:           time.Now,
		instantCities: cities,
	}
}

// WithClock overrides the service clock. Test hook.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Create validates the request, computes the total from the item snapshots,
// persists the order in pending status and dispatches the order-confirmation
// notifications exactly once.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*CreateResult, error) {
	if len(req.Items) == 0 {
		return nil, ErrEmptyItems
	}
	for _, it := range req.Items {
		if it.Quantity <= 0 {
			return nil, &InvalidQuantityError{ProductID: it.ProductID}
		}
		// Prices are snapshots in minor currency units; a fractional value
		// would be silently floored by the total computation.
		if !it.UnitPrice.IsPositive() || !it.UnitPrice.IsInteger() {
			return nil, &InvalidPriceError{ProductID: it.ProductID}
		}
	}
	if !req.DeliveryType.Valid() {
		return nil, errors.Errorf("unknown delivery type %q", req.DeliveryType)
	}
	if req.DeliveryType == DeliveryInstant && !s.instantEligible(req.DeliveryAddress.City) {
		return nil, ErrNotEligible
	}
	if NeedsFriendDelivery(req.Items) && req.FriendDelivery == nil {
		return nil, ErrFriendDetailsRequired
	}
	if !NeedsFriendDelivery(req.Items) {
		// Alternate recipient only travels with an item that asked for it.
		req.FriendDelivery = nil
	}

	now := s.now().UTC()
	o := &Order{
		ID:               uuid.New().String(),
		BuyerID:          req.BuyerID,
		Items:            req.Items,
		TotalAmount:      Total(req.Items),
		DeliveryType:     req.DeliveryType,
		DeliveryAddress:  req.DeliveryAddress,
		FriendDelivery:   req.FriendDelivery,
		Status:           StatusPending,
		PaymentReference: req.PaymentReference,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := s.repo.Create(ctx, o); err != nil {
		return nil, errors.Wrap(err, "create order")
	}

	results := s.dispatcher.Dispatch(ctx, s.orderInfo(o), notify.EventConfirmed)
	return &CreateResult{Order: o, Notifications: results}, nil
}

// Get returns the order or ErrNotFound.
func (s *Service) Get(ctx context.Context, id string) (*Order, error) {
	return s.repo.GetByID(ctx, id)
}

// ListByBuyer returns the buyer's orders, newest first.
func (s *Service) ListByBuyer(ctx context.Context, buyerID string) ([]Order, error) {
	return s.repo.ListByBuyer(ctx, buyerID)
}

// Transition moves the order to target along the legal graph. The durable
// update is a single conditional write; once it commits, notifications for
// the transition are dispatched exactly once and their failures never roll
// the status back. Requesting the status the order already holds is an
// idempotent no-op that sends nothing.
func (s *Service) Transition(ctx context.Context, id string, target Status, trackingNumber string) (*TransitionResult, error) {
	if !target.Valid() {
		return nil, errors.Errorf("unknown status %q", target)
	}
	trace.SpanFromContext(ctx).SetAttributes(
		attribute.String("order.id", id),
		attribute.String("order.target_status", string(target)),
	)

	cur, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if cur.Status == target {
		return &TransitionResult{Order: cur, Applied: false}, nil
	}
	if !CanTransition(cur.Status, target) {
		return nil, &IllegalTransitionError{From: cur.Status, To: target}
	}
	if target == StatusShipped && trackingNumber == "" {
		return nil, ErrMissingTracking
	}

	var eta *time.Time
	if target == StatusShipped {
		eta = s.estimatedDelivery(cur.DeliveryType)
	}

	updated, err := s.repo.UpdateStatus(ctx, id, cur.Status, target, trackingNumber, eta)
	if errors.Is(err, ErrConflict) {
		// Lost the race. If the winner applied the same target this call is
		// a replay and succeeds without re-notifying.
		latest, rerr := s.repo.GetByID(ctx, id)
		if rerr == nil && latest.Status == target {
			return &TransitionResult{Order: latest, Applied: false}, nil
		}
		return nil, ErrConflict
	}
	if err != nil {
		return nil, err
	}

	result := &TransitionResult{Order: updated, Applied: true}
	if ev, ok := eventFor(target); ok {
		result.Notifications = s.dispatcher.Dispatch(ctx, s.orderInfo(updated), ev)
	}
	return result, nil
}

// BookDelivery books a courier for a confirmed order and, on success, ships
// it with the returned tracking id. A booking failure leaves the order
// confirmed and is surfaced to the caller for manual or scheduled retry.
func (s *Service) BookDelivery(ctx context.Context, id string) (*BookingResult, error) {
	o, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if o.Status == StatusShipped && o.TrackingNumber != "" {
		// Replayed booking request; the shipment already exists.
		return &BookingResult{Order: o, TrackingID: o.TrackingNumber}, nil
	}
	if o.Status != StatusConfirmed {
		return nil, &IllegalTransitionError{From: o.Status, To: StatusShipped}
	}

	bookCtx, cancel := context.WithTimeout(ctx, s.cfg.BookingTimeout)
	defer cancel()

	booking, err := s.courier.Book(bookCtx, courier.Request{
		OrderID:    o.ID,
		Instant:    o.DeliveryType == DeliveryInstant,
		City:       o.DeliveryAddress.City,
		PostalCode: o.DeliveryAddress.PostalCode,
	})
	if err != nil {
		s.lg.Warn("courier booking failed",
			zap.String("order_id", o.ID),
			zap.Error(err))
		return nil, &BookingError{OrderID: o.ID, Err: err}
	}

	tr, err := s.Transition(ctx, o.ID, StatusShipped, booking.TrackingID)
	if err != nil {
		return nil, errors.Wrap(err, "ship booked order")
	}
	return &BookingResult{
		Order:         tr.Order,
		TrackingID:    tr.Order.TrackingNumber,
		Notifications: tr.Notifications,
	}, nil
}

func (s *Service) instantEligible(city string) bool {
	if len(s.instantCities) == 0 {
		return true
	}
	return s.instantCities[strings.ToLower(strings.TrimSpace(city))]
}

func (s *Service) estimatedDelivery(t DeliveryType) *time.Time {
	window := standardDeliveryWindow
	if t == DeliveryInstant {
		window = instantDeliveryWindow
	}
	eta := s.now().UTC().Add(window)
	return &eta
}

func (s *Service) orderInfo(o *Order) notify.OrderInfo {
	return notify.OrderInfo{
		ID:                o.ID,
		BuyerID:           o.BuyerID,
		TotalAmount:       o.TotalAmount,
		TrackingNumber:    o.TrackingNumber,
		EstimatedDelivery: o.EstimatedDelivery,
		Instant:           o.DeliveryType == DeliveryInstant,
		Phone:             o.DeliveryAddress.Phone,
	}
}

// eventFor maps a committed target status to its notification event. The
// pending -> confirmed payment transition maps to none: the confirmation
// already went out when the order was created.
func eventFor(target Status) (notify.Event, bool) {
	switch target {
	case StatusShipped:
		return notify.EventShipped, true
	case StatusDelivered:
		return notify.EventDelivered, true
	case StatusCancelled:
		return notify.EventCancelled, true
	default:
		return "", false
	}
}
