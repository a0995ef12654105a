// Package memory holds in-memory implementations of the storage interfaces.
// The order store mirrors the Postgres conditional-update semantics (the
// transition only applies when the expected prior status still holds), which
// makes it suitable for exercising concurrency behaviour in tests.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/giftflare/orderflow/internal/domain/order"
	"github.com/giftflare/orderflow/internal/notify"
	"github.com/giftflare/orderflow/internal/profile"
)

var _ order.Repository = (*OrderStore)(nil)

// OrderStore is a mutex-guarded order repository.
type OrderStore struct {
	mu     sync.Mutex
	orders map[string]*order.Order
}

// NewOrderStore returns an empty OrderStore.
func NewOrderStore() *OrderStore {
	return &OrderStore{orders: make(map[string]*order.Order)}
}

// Create stores a copy of the order.
func (s *OrderStore) Create(_ context.Context, o *order.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *o
	s.orders[o.ID] = &cp
	return nil
}

// GetByID returns a copy of the order or order.ErrNotFound.
func (s *OrderStore) GetByID(_ context.Context, id string) (*order.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return nil, order.ErrNotFound
	}
	cp := *o
	return &cp, nil
}

// ListByBuyer returns the buyer's orders, newest first.
func (s *OrderStore) ListByBuyer(_ context.Context, buyerID string) ([]order.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []order.Order
	for _, o := range s.orders {
		if o.BuyerID == buyerID {
			out = append(out, *o)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

// UpdateStatus applies the transition only when the order is still in the
// expected prior status, matching the SQL conditional update.
func (s *OrderStore) UpdateStatus(_ context.Context, id string, from, to order.Status, trackingNumber string, estimatedDelivery *time.Time) (*order.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return nil, order.ErrNotFound
	}
	if o.Status != from {
		return nil, order.ErrConflict
	}
	o.Status = to
	if trackingNumber != "" {
		o.TrackingNumber = trackingNumber
	}
	if estimatedDelivery != nil {
		o.EstimatedDelivery = estimatedDelivery
	}
	o.UpdatedAt = time.Now().UTC()
	cp := *o
	return &cp, nil
}

var _ profile.Directory = (*ProfileDirectory)(nil)

// ProfileDirectory is a fixed in-memory profile lookup.
type ProfileDirectory struct {
	mu       sync.RWMutex
	profiles map[string]profile.Profile
}

// NewProfileDirectory returns a directory seeded with the given profiles.
func NewProfileDirectory(profiles ...profile.Profile) *ProfileDirectory {
	d := &ProfileDirectory{profiles: make(map[string]profile.Profile, len(profiles))}
	for _, p := range profiles {
		d.profiles[p.ID] = p
	}
	return d
}

// Put adds or replaces a profile.
func (d *ProfileDirectory) Put(p profile.Profile) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.profiles[p.ID] = p
}

// Get implements profile.Directory.
func (d *ProfileDirectory) Get(_ context.Context, userID string) (*profile.Profile, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	p, ok := d.profiles[userID]
	if !ok {
		return nil, profile.ErrNotFound
	}
	cp := p
	return &cp, nil
}

var _ notify.Queue = (*OutboxQueue)(nil)

// OutboxQueue is an in-memory notification retry queue.
type OutboxQueue struct {
	mu     sync.Mutex
	nextID int64
	items  map[int64]*notify.QueuedMessage
	dead   map[int64]bool
	sent   map[int64]bool
}

// NewOutboxQueue returns an empty OutboxQueue.
func NewOutboxQueue() *OutboxQueue {
	return &OutboxQueue{
		items: make(map[int64]*notify.QueuedMessage),
		dead:  make(map[int64]bool),
		sent:  make(map[int64]bool),
	}
}

// Enqueue implements notify.Queue.
func (q *OutboxQueue) Enqueue(_ context.Context, msg notify.Message) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.nextID++
	now := time.Now().UTC()
	q.items[q.nextID] = &notify.QueuedMessage{
		ID:        q.nextID,
		Msg:       msg,
		Attempts:  1,
		NextAt:    now,
		CreatedAt: now,
	}
	return nil
}

// Due implements notify.Queue.
func (q *OutboxQueue) Due(_ context.Context, now time.Time, limit int) ([]notify.QueuedMessage, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	var out []notify.QueuedMessage
	for id, qm := range q.items {
		if q.sent[id] || q.dead[id] || qm.NextAt.After(now) {
			continue
		}
		out = append(out, *qm)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// MarkSent implements notify.Queue.
func (q *OutboxQueue) MarkSent(_ context.Context, id int64) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.sent[id] = true
	return nil
}

// MarkRetry implements notify.Queue.
func (q *OutboxQueue) MarkRetry(_ context.Context, id int64, attempts int, nextAt time.Time) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if qm, ok := q.items[id]; ok {
		qm.Attempts = attempts
		qm.NextAt = nextAt
	}
	return nil
}

// MarkDead implements notify.Queue.
func (q *OutboxQueue) MarkDead(_ context.Context, id int64) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.dead[id] = true
	return nil
}

// Pending returns how many messages are still awaiting delivery. Test hook.
func (q *OutboxQueue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := 0
	for id := range q.items {
		if !q.sent[id] && !q.dead[id] {
			n++
		}
	}
	return n
}

// Dead returns how many messages were abandoned. Test hook.
func (q *OutboxQueue) Dead() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.dead)
}
