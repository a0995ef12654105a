// Package courier abstracts the external delivery provider that turns a
// confirmed order into a tracked shipment. Real integrations implement
// Booker; the simulated client mirrors the provider's observable behaviour
// (latency, opaque tracking ids) without the network.
package courier

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
)

// ErrUnavailable is returned when the provider rejects or cannot accept a
// booking. The order is left untouched; booking is retried out of process.
var ErrUnavailable = errors.New("courier unavailable")

// Booking is a successful courier booking.
type Booking struct {
	TrackingID string
	// PickupETA is the provider's estimate for parcel pickup, when given.
	PickupETA *time.Time
}

// Request carries the order fields a courier needs to quote and book.
type Request struct {
	OrderID    string
	Instant    bool
	City       string
	PostalCode string
}

// Booker books deliveries with an external courier.
type Booker interface {
	Book(ctx context.Context, req Request) (*Booking, error)
}

// Simulated is a stand-in courier used in development and tests. It waits
// for a configurable latency, then either fails (when Fail is set) or
// returns a timestamp-based tracking id with the given prefix.
type Simulated struct {
	// Prefix of generated tracking ids, e.g. "DZ".
	Prefix string
	// Latency is the simulated round trip before a response.
	Latency time.Duration
	// Fail forces every booking to fail, for exercising the failure path.
	Fail bool
	// Now is overridable for deterministic ids in tests.
	Now func() time.Time
}

var _ Booker = (*Simulated)(nil)

// Book implements Booker.
func (s *Simulated) Book(ctx context.Context, req Request) (*Booking, error) {
	if s.Latency > 0 {
		select {
		case <-ctx.Done():
			return nil, errors.Wrap(ctx.Err(), "courier booking")
		case <-time.After(s.Latency):
		}
	}
	if s.Fail {
		return nil, ErrUnavailable
	}

	now := time.Now
	if s.Now != nil {
		now = s.Now
	}
	prefix := s.Prefix
	if prefix == "" {
		prefix = "DZ"
	}
	return &Booking{
		TrackingID: fmt.Sprintf("%s-%d", prefix, now().UnixMilli()),
	}, nil
}
