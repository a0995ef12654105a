package order

import (
	"time"

	"github.com/shopspring/decimal"
)

// Status is the lifecycle state of an order.
type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusShipped   Status = "shipped"
	StatusDelivered Status = "delivered"
	StatusCancelled Status = "cancelled"
)

// Valid reports whether s is one of the known lifecycle states.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusConfirmed, StatusShipped, StatusDelivered, StatusCancelled:
		return true
	}
	return false
}

// Terminal reports whether no further transitions are possible from s.
func (s Status) Terminal() bool {
	return s == StatusDelivered || s == StatusCancelled
}

// transitions is the legal edge set of the order state machine. Cancellation
// is reachable from every non-terminal state; everything else moves forward.
var transitions = map[Status]map[Status]bool{
	StatusPending:   {StatusConfirmed: true, StatusCancelled: true},
	StatusConfirmed: {StatusShipped: true, StatusCancelled: true},
	StatusShipped:   {StatusDelivered: true, StatusCancelled: true},
	StatusDelivered: {},
	StatusCancelled: {},
}

// CanTransition reports whether from -> to is a legal edge. A same-state
// transition is not an edge; callers treat it as an idempotent replay.
func CanTransition(from, to Status) bool {
	next := transitions[from]
	return next != nil && next[to]
}

// DeliveryType selects the fulfilment path, fixed at order creation.
type DeliveryType string

const (
	DeliveryStandard DeliveryType = "standard"
	DeliveryInstant  DeliveryType = "instant"
)

// Valid reports whether t is a known delivery type.
func (t DeliveryType) Valid() bool {
	return t == DeliveryStandard || t == DeliveryInstant
}

// GiftPackagingSurcharge is the flat per-line charge, in minor currency
// units, applied when a line item requests gift packaging.
var GiftPackagingSurcharge = decimal.NewFromInt(5000)

// Address is a structured postal address with a contact phone. The phone is
// also the SMS notification target; an empty phone disables that channel.
type Address struct {
	Line1      string `json:"line1"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city"`
	PostalCode string `json:"postal_code"`
	Phone      string `json:"phone,omitempty"`
}

// Recipient is an alternate delivery target for gifts sent directly to the
// receiving friend.
type Recipient struct {
	Name    string  `json:"name"`
	Email   string  `json:"email,omitempty"`
	Phone   string  `json:"phone,omitempty"`
	Address Address `json:"address"`
}

// GiftOptions carries the per-line gift settings chosen at checkout.
type GiftOptions struct {
	Packaging       bool   `json:"packaging,omitempty"`
	Note            string `json:"note,omitempty"`
	DeliverToFriend bool   `json:"deliver_to_friend,omitempty"`
}

// LineItem is one purchased product with its price snapshot. UnitPrice is
// captured at checkout time in minor currency units and never re-fetched
// from the catalog.
type LineItem struct {
	ProductID string          `json:"product_id"`
	SellerID  string          `json:"seller_id,omitempty"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Gift      GiftOptions     `json:"gift,omitzero"`
}

// Order is the aggregate for one checkout: line items, addresses, payment
// reference and lifecycle status. TotalAmount is computed once at creation
// and is immutable; Status moves only along the transition graph.
type Order struct {
	ID                string
	BuyerID           string
	Items             []LineItem
	TotalAmount       int64
	DeliveryType      DeliveryType
	DeliveryAddress   Address
	FriendDelivery    *Recipient
	Status            Status
	TrackingNumber    string
	PaymentReference  string
	EstimatedDelivery *time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Total computes the order total in minor currency units: the sum of
// unit price x quantity over all lines, plus the gift packaging surcharge
// once for each line that requests it.
func Total(items []LineItem) int64 {
	total := decimal.Zero
	for _, it := range items {
		qty := decimal.NewFromInt(int64(it.Quantity))
		total = total.Add(it.UnitPrice.Mul(qty))
		if it.Gift.Packaging {
			total = total.Add(GiftPackagingSurcharge)
		}
	}
	return total.IntPart()
}

// NeedsFriendDelivery reports whether any line requests delivery to an
// alternate recipient.
func NeedsFriendDelivery(items []LineItem) bool {
	for _, it := range items {
		if it.Gift.DeliverToFriend {
			return true
		}
	}
	return false
}
