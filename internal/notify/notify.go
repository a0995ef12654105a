// Package notify fans order lifecycle events out to independent outbound
// channels. Channel failures are isolated: they are logged, counted and
// queued for retry, but never surfaced to the code that moved the order.
package notify

import (
	"context"
)

// Event names the order lifecycle moment being communicated.
type Event string

const (
	// EventConfirmed is the order confirmation, dispatched once when the
	// order is created. The later pending -> confirmed payment transition
	// intentionally produces no messages of its own.
	EventConfirmed Event = "confirmed"
	EventShipped   Event = "shipped"
	EventDelivered Event = "delivered"
	EventCancelled Event = "cancelled"
)

// Channel is an independent outbound medium.
type Channel string

const (
	ChannelEmail Channel = "email"
	ChannelSMS   Channel = "sms"
)

// Message is one outbound notification: a template and its payload addressed
// to a single recipient on a single channel.
type Message struct {
	Channel  Channel        `json:"channel"`
	To       string         `json:"to"`
	Template string         `json:"template"`
	Payload  map[string]any `json:"payload,omitempty"`
	OrderID  string         `json:"order_id"`
}

// Sender delivers a message on one channel. Implementations are expected to
// be unreliable and slow; callers bound every Send with a deadline.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// ChannelResult is the per-channel outcome of one dispatch. Skipped means
// the channel had no recipient for this order (for example no phone on the
// delivery address), which is not a failure.
type ChannelResult struct {
	Channel  Channel
	Template string
	Skipped  bool
	Err      error
}

// Degraded reports whether any attempted channel failed.
func Degraded(results []ChannelResult) bool {
	for _, r := range results {
		if !r.Skipped && r.Err != nil {
			return true
		}
	}
	return false
}
