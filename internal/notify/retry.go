package notify

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// QueuedMessage is a failed send waiting for another attempt.
type QueuedMessage struct {
	ID        int64
	Msg       Message
	Attempts  int
	NextAt    time.Time
	CreatedAt time.Time
}

// Queue persists failed sends across retries. Implementations live in the
// storage packages.
type Queue interface {
	Enqueue(ctx context.Context, msg Message) error
	// Due returns up to limit messages whose next attempt time has passed,
	// oldest first.
	Due(ctx context.Context, now time.Time, limit int) ([]QueuedMessage, error)
	MarkSent(ctx context.Context, id int64) error
	// MarkRetry schedules another attempt.
	MarkRetry(ctx context.Context, id int64, attempts int, nextAt time.Time) error
	// MarkDead abandons a message that exhausted its attempts.
	MarkDead(ctx context.Context, id int64) error
}

// RetrierConfig tunes the background retry loop.
type RetrierConfig struct {
	// Interval between queue sweeps.
	Interval time.Duration
	// Backoff is the base delay; attempt n waits Backoff << n.
	Backoff time.Duration
	// MaxAttempts counts the original send plus retries. Beyond it the
	// message is marked dead.
	MaxAttempts int
	// Batch bounds how many due messages one sweep processes.
	Batch       int
	SendTimeout time.Duration
}

func (c *RetrierConfig) defaults() {
	if c.Interval <= 0 {
		c.Interval = 30 * time.Second
	}
	if c.Backoff <= 0 {
		c.Backoff = time.Minute
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 5
	}
	if c.Batch <= 0 {
		c.Batch = 50
	}
	if c.SendTimeout <= 0 {
		c.SendTimeout = defaultSendTimeout
	}
}

// Retrier drains the notification queue in the background, re-attempting
// failed sends with exponential backoff up to a bounded attempt count.
type Retrier struct {
	queue   Queue
	senders map[Channel]Sender
	cfg     RetrierConfig
	lg      *zap.Logger
}

// NewRetrier constructs a Retrier over the same senders the dispatcher uses.
func NewRetrier(queue Queue, email, sms Sender, cfg RetrierConfig, lg *zap.Logger) *Retrier {
	cfg.defaults()
	if lg == nil {
		lg = zap.NewNop()
	}
	return &Retrier{
		queue: queue,
		senders: map[Channel]Sender{
			ChannelEmail: email,
			ChannelSMS:   sms,
		},
		cfg: cfg,
		lg:  lg,
	}
}

// Run sweeps the queue until ctx is cancelled.
func (r *Retrier) Run(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			r.Sweep(ctx, now)
		}
	}
}

// Sweep processes one batch of due messages. Exported so tests can drive the
// loop without waiting on the ticker.
func (r *Retrier) Sweep(ctx context.Context, now time.Time) {
	due, err := r.queue.Due(ctx, now, r.cfg.Batch)
	if err != nil {
		r.lg.Error("fetch due notifications", zap.Error(err))
		return
	}

	for _, qm := range due {
		if err := r.attempt(ctx, qm.Msg); err != nil {
			attempts := qm.Attempts + 1
			if attempts >= r.cfg.MaxAttempts {
				r.lg.Warn("notification abandoned",
					zap.String("order_id", qm.Msg.OrderID),
					zap.String("channel", string(qm.Msg.Channel)),
					zap.Int("attempts", attempts),
					zap.Error(err))
				if derr := r.queue.MarkDead(ctx, qm.ID); derr != nil {
					r.lg.Error("mark notification dead", zap.Error(derr))
				}
				continue
			}

			nextAt := now.Add(r.cfg.Backoff << uint(attempts-1))
			if merr := r.queue.MarkRetry(ctx, qm.ID, attempts, nextAt); merr != nil {
				r.lg.Error("schedule notification retry", zap.Error(merr))
			}
			continue
		}

		if merr := r.queue.MarkSent(ctx, qm.ID); merr != nil {
			r.lg.Error("mark notification sent", zap.Error(merr))
		}
	}
}

func (r *Retrier) attempt(ctx context.Context, msg Message) error {
	sender := r.senders[msg.Channel]
	if sender == nil {
		return nil
	}
	sendCtx, cancel := context.WithTimeout(ctx, r.cfg.SendTimeout)
	defer cancel()
	return sender.Send(sendCtx, msg)
}
