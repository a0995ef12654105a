package notify

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/giftflare/orderflow/internal/profile"
)

// Dispatcher resolves recipients and sends every channel of an order event
// concurrently with all-settled semantics: each channel is attempted
// regardless of what the others do.
type Dispatcher struct {
	senders  map[Channel]Sender
	profiles profile.Directory
	queue    Queue // optional retry queue for failed sends
	timeout  time.Duration
	lg       *zap.Logger
	failed   metric.Int64Counter
}

// DispatcherConfig bundles the dispatcher dependencies.
type DispatcherConfig struct {
	Email    Sender
	SMS      Sender
	Profiles profile.Directory
	// Queue receives failed sends for later retry. Nil disables queueing.
	Queue Queue
	// SendTimeout bounds each individual channel send.
	SendTimeout time.Duration
	Logger      *zap.Logger
	Meter       metric.Meter
}

const defaultSendTimeout = 10 * time.Second

// NewDispatcher constructs a Dispatcher.
func NewDispatcher(cfg DispatcherConfig) (*Dispatcher, error) {
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = defaultSendTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	d := &Dispatcher{
		senders: map[Channel]Sender{
			ChannelEmail: cfg.Email,
			ChannelSMS:   cfg.SMS,
		},
		profiles: cfg.Profiles,
		queue:    cfg.Queue,
		timeout:  cfg.SendTimeout,
		lg:       cfg.Logger,
	}
	if cfg.Meter != nil {
		var err error
		d.failed, err = cfg.Meter.Int64Counter("notifications_failed_total",
			metric.WithDescription("Notification channel sends that failed"))
		if err != nil {
			return nil, errors.Wrap(err, "create failure counter")
		}
	}
	return d, nil
}

// Dispatch sends all messages for the given order event. It always returns a
// per-channel result and never an error: a channel failure is logged,
// counted and queued, not propagated. The caller's transition has already
// committed; nothing here may undo it.
func (d *Dispatcher) Dispatch(ctx context.Context, o OrderInfo, ev Event) []ChannelResult {
	prof, err := d.profiles.Get(ctx, o.BuyerID)
	if err != nil {
		// Without a profile there is no email recipient. SMS can still go
		// out to the delivery-address phone.
		d.lg.Warn("resolve buyer profile",
			zap.String("order_id", o.ID),
			zap.String("buyer_id", o.BuyerID),
			zap.Error(err))
		prof = nil
	}

	msgs := MessagesFor(o, ev, prof)
	results := make([]ChannelResult, len(msgs))

	g := &errgroup.Group{}
	for i, msg := range msgs {
		g.Go(func() error {
			results[i] = d.send(ctx, msg)
			return nil
		})
	}
	_ = g.Wait()

	// Record skipped channels so callers can tell "not attempted" from
	// "attempted and failed".
	attempted := make(map[Channel]bool, len(msgs))
	for _, m := range msgs {
		attempted[m.Channel] = true
	}
	for _, ch := range []Channel{ChannelEmail, ChannelSMS} {
		if !attempted[ch] {
			results = append(results, ChannelResult{Channel: ch, Skipped: true})
		}
	}
	return results
}

func (d *Dispatcher) send(ctx context.Context, msg Message) ChannelResult {
	res := ChannelResult{Channel: msg.Channel, Template: msg.Template}

	sender := d.senders[msg.Channel]
	if sender == nil {
		res.Skipped = true
		return res
	}

	sendCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	if err := sender.Send(sendCtx, msg); err != nil {
		res.Err = err
		d.lg.Warn("notification send failed",
			zap.String("order_id", msg.OrderID),
			zap.String("channel", string(msg.Channel)),
			zap.String("template", msg.Template),
			zap.Error(err))
		if d.failed != nil {
			d.failed.Add(ctx, 1, metric.WithAttributes(
				attribute.String("channel", string(msg.Channel)),
			))
		}
		if d.queue != nil {
			if qerr := d.queue.Enqueue(ctx, msg); qerr != nil {
				d.lg.Error("enqueue notification retry",
					zap.String("order_id", msg.OrderID),
					zap.Error(qerr))
			}
		}
	}
	return res
}
