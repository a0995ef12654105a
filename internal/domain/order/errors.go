package order

import (
	"fmt"

	"github.com/go-faster/errors"
)

// Sentinel errors for order validation and persistence.
var (
	ErrEmptyItems      = errors.New("items required")
	ErrNotFound        = errors.New("order not found")
	ErrMissingTracking = errors.New("tracking number required to ship")
	ErrConflict        = errors.New("order was modified concurrently")
	ErrNotEligible     = errors.New("instant delivery not available for this city")
)

// InvalidQuantityError indicates a line item has a non-positive quantity.
type InvalidQuantityError struct {
	ProductID string
}

func (e *InvalidQuantityError) Error() string {
	return fmt.Sprintf("quantity must be greater than 0 for product %s", e.ProductID)
}

// InvalidPriceError indicates a line item carries a price snapshot that is
// not a positive whole number of minor currency units.
type InvalidPriceError struct {
	ProductID string
}

func (e *InvalidPriceError) Error() string {
	return fmt.Sprintf("unit price must be a positive whole number of minor units for product %s", e.ProductID)
}

// IllegalTransitionError indicates the requested status is not reachable
// from the order's current status.
type IllegalTransitionError struct {
	From Status
	To   Status
}

func (e *IllegalTransitionError) Error() string {
	return fmt.Sprintf("illegal transition %s -> %s", e.From, e.To)
}

// BookingError indicates a courier booking attempt failed. The order stays
// in its prior status; the caller decides whether and when to retry.
type BookingError struct {
	OrderID string
	Err     error
}

func (e *BookingError) Error() string {
	return fmt.Sprintf("booking delivery for order %s: %v", e.OrderID, e.Err)
}

func (e *BookingError) Unwrap() error { return e.Err }
