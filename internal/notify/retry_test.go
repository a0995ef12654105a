package notify

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type trackingQueue struct {
	mu      sync.Mutex
	due     []QueuedMessage
	sent    []int64
	dead    []int64
	retried map[int64]QueuedMessage
}

func newTrackingQueue(due ...QueuedMessage) *trackingQueue {
	return &trackingQueue{due: due, retried: map[int64]QueuedMessage{}}
}

func (q *trackingQueue) Enqueue(_ context.Context, _ Message) error { return nil }

func (q *trackingQueue) Due(_ context.Context, _ time.Time, limit int) ([]QueuedMessage, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.due) > limit {
		return q.due[:limit], nil
	}
	return q.due, nil
}

func (q *trackingQueue) MarkSent(_ context.Context, id int64) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.sent = append(q.sent, id)
	return nil
}

func (q *trackingQueue) MarkRetry(_ context.Context, id int64, attempts int, nextAt time.Time) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.retried[id] = QueuedMessage{ID: id, Attempts: attempts, NextAt: nextAt}
	return nil
}

func (q *trackingQueue) MarkDead(_ context.Context, id int64) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.dead = append(q.dead, id)
	return nil
}

func queuedSMS(id int64, attempts int) QueuedMessage {
	return QueuedMessage{
		ID:       id,
		Attempts: attempts,
		Msg: Message{
			Channel:  ChannelSMS,
			To:       "+919900112233",
			Template: TemplateShippingUpdateSMS,
			OrderID:  "ord-1",
		},
	}
}

func TestSweep_SuccessMarksSent(t *testing.T) {
	queue := newTrackingQueue(queuedSMS(7, 1))
	sms := &mockSender{}
	r := NewRetrier(queue, &mockSender{}, sms, RetrierConfig{}, nil)

	r.Sweep(context.Background(), time.Now())

	assert.Equal(t, []int64{7}, queue.sent)
	assert.Empty(t, queue.dead)
	assert.Empty(t, queue.retried)
	require.Len(t, sms.sentMessages(), 1)
	assert.Equal(t, "ord-1", sms.sentMessages()[0].OrderID)
}

func TestSweep_FailureSchedulesBackoff(t *testing.T) {
	queue := newTrackingQueue(queuedSMS(7, 2))
	sms := &mockSender{err: errors.New("still down")}
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	r := NewRetrier(queue, &mockSender{}, sms, RetrierConfig{Backoff: time.Minute, MaxAttempts: 5}, nil)

	r.Sweep(context.Background(), now)

	require.Contains(t, queue.retried, int64(7))
	got := queue.retried[7]
	assert.Equal(t, 3, got.Attempts)
	// Third attempt waits base << 2 = 4 minutes.
	assert.Equal(t, now.Add(4*time.Minute), got.NextAt)
	assert.Empty(t, queue.sent)
	assert.Empty(t, queue.dead)
}

func TestSweep_ExhaustedAttemptsMarkDead(t *testing.T) {
	queue := newTrackingQueue(queuedSMS(9, 4))
	sms := &mockSender{err: errors.New("still down")}
	r := NewRetrier(queue, &mockSender{}, sms, RetrierConfig{MaxAttempts: 5}, nil)

	r.Sweep(context.Background(), time.Now())

	assert.Equal(t, []int64{9}, queue.dead)
	assert.Empty(t, queue.sent)
	assert.Empty(t, queue.retried)
}

func TestSweep_BatchLimit(t *testing.T) {
	queue := newTrackingQueue(queuedSMS(1, 1), queuedSMS(2, 1), queuedSMS(3, 1))
	sms := &mockSender{}
	r := NewRetrier(queue, &mockSender{}, sms, RetrierConfig{Batch: 2}, nil)

	r.Sweep(context.Background(), time.Now())

	assert.Equal(t, []int64{1, 2}, queue.sent)
}

func TestSweep_TransientFailureRecovers(t *testing.T) {
	queue := newTrackingQueue(queuedSMS(5, 1))
	sms := &mockSender{failUntil: 1}
	r := NewRetrier(queue, &mockSender{}, sms, RetrierConfig{Backoff: time.Second, MaxAttempts: 5}, nil)

	now := time.Now()
	r.Sweep(context.Background(), now)
	require.Contains(t, queue.retried, int64(5))

	// The queue implementation would surface it again once due; simulate that.
	queue.mu.Lock()
	queue.due = []QueuedMessage{queuedSMS(5, queue.retried[5].Attempts)}
	queue.mu.Unlock()

	r.Sweep(context.Background(), now.Add(2*time.Second))
	assert.Equal(t, []int64{5}, queue.sent)
}

func TestRun_StopsOnContextCancel(t *testing.T) {
	queue := newTrackingQueue()
	r := NewRetrier(queue, &mockSender{}, &mockSender{}, RetrierConfig{Interval: time.Millisecond}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Run(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("retrier did not stop after cancel")
	}
}
