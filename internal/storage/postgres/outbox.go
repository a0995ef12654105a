package postgres

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/giftflare/orderflow/internal/notify"
)

var _ notify.Queue = (*OutboxRepository)(nil)

// OutboxRepository is the Postgres-backed notification retry queue. Failed
// sends land here and the retrier drains them until they succeed or exhaust
// their attempts.
type OutboxRepository struct {
	pool *pgxpool.Pool
}

// NewOutboxRepository returns an OutboxRepository that uses the given pool.
func NewOutboxRepository(pool *pgxpool.Pool) *OutboxRepository {
	return &OutboxRepository{pool: pool}
}

// Enqueue records a failed send. Attempts starts at 1 because the original
// synchronous send already happened.
func (r *OutboxRepository) Enqueue(ctx context.Context, msg notify.Message) error {
	payload, err := json.Marshal(msg.Payload)
	if err != nil {
		return errors.Wrap(err, "marshal payload")
	}
	_, err = r.pool.Exec(ctx,
		`INSERT INTO notification_outbox (order_id, channel, recipient, template, payload)
		 VALUES ($1, $2, $3, $4, $5)`,
		msg.OrderID, msg.Channel, msg.To, msg.Template, payload,
	)
	return errors.Wrap(err, "enqueue notification")
}

// Due returns pending messages whose next attempt time has passed, oldest
// first.
func (r *OutboxRepository) Due(ctx context.Context, now time.Time, limit int) ([]notify.QueuedMessage, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, order_id, channel, recipient, template, payload, attempts, next_attempt_at, created_at
		 FROM notification_outbox
		 WHERE status = 'pending' AND next_attempt_at <= $1
		 ORDER BY id
		 LIMIT $2`, now, limit)
	if err != nil {
		return nil, errors.Wrap(err, "query due notifications")
	}
	defer rows.Close()

	var out []notify.QueuedMessage
	for rows.Next() {
		var (
			qm      notify.QueuedMessage
			payload []byte
		)
		if err := rows.Scan(
			&qm.ID, &qm.Msg.OrderID, &qm.Msg.Channel, &qm.Msg.To,
			&qm.Msg.Template, &payload, &qm.Attempts, &qm.NextAt, &qm.CreatedAt,
		); err != nil {
			return nil, errors.Wrap(err, "scan queued notification")
		}
		if len(payload) > 0 {
			if err := json.Unmarshal(payload, &qm.Msg.Payload); err != nil {
				return nil, errors.Wrap(err, "unmarshal payload")
			}
		}
		out = append(out, qm)
	}
	return out, errors.Wrap(rows.Err(), "iterate due notifications")
}

// MarkSent closes out a delivered message.
func (r *OutboxRepository) MarkSent(ctx context.Context, id int64) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE notification_outbox SET status = 'sent', sent_at = now() WHERE id = $1`, id)
	return errors.Wrap(err, "mark notification sent")
}

// MarkRetry schedules another attempt.
func (r *OutboxRepository) MarkRetry(ctx context.Context, id int64, attempts int, nextAt time.Time) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE notification_outbox SET attempts = $2, next_attempt_at = $3 WHERE id = $1`,
		id, attempts, nextAt)
	return errors.Wrap(err, "mark notification retry")
}

// MarkDead abandons a message that exhausted its attempts.
func (r *OutboxRepository) MarkDead(ctx context.Context, id int64) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE notification_outbox SET status = 'dead' WHERE id = $1`, id)
	return errors.Wrap(err, "mark notification dead")
}
