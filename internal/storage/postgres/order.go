package postgres

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/giftflare/orderflow/internal/domain/order"
)

var _ order.Repository = (*OrderRepository)(nil)

// OrderRepository implements order.Repository backed by PostgreSQL. Line
// items and addresses are serialized to JSONB; the status transition is a
// single conditional UPDATE so concurrent transitions cannot both apply.
type OrderRepository struct {
	pool *pgxpool.Pool
}

// NewOrderRepository returns an OrderRepository that uses the given pool.
func NewOrderRepository(pool *pgxpool.Pool) *OrderRepository {
	return &OrderRepository{pool: pool}
}

const orderColumns = `id, buyer_id, items, total_amount, delivery_type,
	delivery_address, friend_delivery, status, tracking_number,
	payment_reference, estimated_delivery, created_at, updated_at`

const createOrderSQL = `INSERT INTO orders
	(id, buyer_id, items, total_amount, delivery_type, delivery_address,
	 friend_delivery, status, payment_reference, created_at, updated_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $10)`

// Create persists a new order.
func (r *OrderRepository) Create(ctx context.Context, o *order.Order) error {
	items, err := json.Marshal(o.Items)
	if err != nil {
		return errors.Wrap(err, "marshal order items")
	}
	address, err := json.Marshal(o.DeliveryAddress)
	if err != nil {
		return errors.Wrap(err, "marshal delivery address")
	}
	var friend []byte
	if o.FriendDelivery != nil {
		if friend, err = json.Marshal(o.FriendDelivery); err != nil {
			return errors.Wrap(err, "marshal friend delivery")
		}
	}

	_, err = r.pool.Exec(ctx, createOrderSQL,
		o.ID, o.BuyerID, items, o.TotalAmount, o.DeliveryType, address,
		friend, o.Status, o.PaymentReference, o.CreatedAt,
	)
	if err != nil {
		return errors.Wrapf(err, "create order %q", o.ID)
	}
	return nil
}

// GetByID fetches one order or order.ErrNotFound.
func (r *OrderRepository) GetByID(ctx context.Context, id string) (*order.Order, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE id = $1`, id)
	o, err := scanOrder(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, order.ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrapf(err, "get order %q", id)
	}
	return o, nil
}

// ListByBuyer returns the buyer's orders, newest first.
func (r *OrderRepository) ListByBuyer(ctx context.Context, buyerID string) ([]order.Order, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+orderColumns+` FROM orders
		 WHERE buyer_id = $1 ORDER BY created_at DESC`, buyerID)
	if err != nil {
		return nil, errors.Wrapf(err, "list orders for buyer %q", buyerID)
	}
	defer rows.Close()

	var out []order.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan order")
		}
		out = append(out, *o)
	}
	return out, errors.Wrap(rows.Err(), "iterate orders")
}

const updateStatusSQL = `UPDATE orders
	SET status = $3,
	    tracking_number = CASE WHEN $4 <> '' THEN $4 ELSE tracking_number END,
	    estimated_delivery = COALESCE($5, estimated_delivery),
	    updated_at = now()
	WHERE id = $1 AND status = $2
	RETURNING ` + orderColumns

// UpdateStatus performs the conditional transition write and returns the
// post-update row. Zero rows affected means the expected prior status no
// longer holds: order.ErrConflict when the row exists, order.ErrNotFound
// otherwise. The target row never changes in either case.
func (r *OrderRepository) UpdateStatus(ctx context.Context, id string, from, to order.Status, trackingNumber string, estimatedDelivery *time.Time) (*order.Order, error) {
	row := r.pool.QueryRow(ctx, updateStatusSQL, id, from, to, trackingNumber, estimatedDelivery)
	o, err := scanOrder(row)
	if errors.Is(err, pgx.ErrNoRows) {
		var exists bool
		if qerr := r.pool.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM orders WHERE id = $1)`, id,
		).Scan(&exists); qerr != nil {
			return nil, errors.Wrapf(qerr, "check order %q", id)
		}
		if !exists {
			return nil, order.ErrNotFound
		}
		return nil, order.ErrConflict
	}
	if err != nil {
		return nil, errors.Wrapf(err, "transition order %q to %s", id, to)
	}
	return o, nil
}

// scanOrder reads one order row from either a pgx.Row or pgx.Rows.
func scanOrder(row pgx.Row) (*order.Order, error) {
	var (
		o       order.Order
		items   []byte
		address []byte
		friend  []byte
		eta     *time.Time
	)
	err := row.Scan(
		&o.ID, &o.BuyerID, &items, &o.TotalAmount, &o.DeliveryType,
		&address, &friend, &o.Status, &o.TrackingNumber,
		&o.PaymentReference, &eta, &o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(items, &o.Items); err != nil {
		return nil, errors.Wrap(err, "unmarshal order items")
	}
	if err := json.Unmarshal(address, &o.DeliveryAddress); err != nil {
		return nil, errors.Wrap(err, "unmarshal delivery address")
	}
	if len(friend) > 0 {
		o.FriendDelivery = &order.Recipient{}
		if err := json.Unmarshal(friend, o.FriendDelivery); err != nil {
			return nil, errors.Wrap(err, "unmarshal friend delivery")
		}
	}
	o.EstimatedDelivery = eta
	return &o, nil
}
