package execengine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueue_EnqueueDequeueFIFOWithinSamePriority(t *testing.T) {
	q := NewQueue(10, 0.8)
	require.NoError(t, q.Enqueue(QueueItem{AtomID: "a", Priority: 1}))
	require.NoError(t, q.Enqueue(QueueItem{AtomID: "b", Priority: 1}))

	item, ok, err := q.Dequeue(context.Background(), time.Second)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "a", item.AtomID)

	item, ok, err = q.Dequeue(context.Background(), time.Second)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "b", item.AtomID)
}

func TestQueue_DequeuePrioritizesLowerPriorityValueFirst(t *testing.T) {
	q := NewQueue(10, 0.8)
	require.NoError(t, q.Enqueue(QueueItem{AtomID: "low-priority", Priority: 5}))
	require.NoError(t, q.Enqueue(QueueItem{AtomID: "critical", Priority: 0}))

	item, _, err := q.Dequeue(context.Background(), time.Second)
	require.NoError(t, err)
	assert.Equal(t, "critical", item.AtomID)
}

func TestQueue_EnqueueRejectsWhenAtCapacity(t *testing.T) {
	q := NewQueue(2, 0.8)
	require.NoError(t, q.Enqueue(QueueItem{AtomID: "a"}))
	require.NoError(t, q.Enqueue(QueueItem{AtomID: "b"}))

	err := q.Enqueue(QueueItem{AtomID: "c"})
	require.Error(t, err)
	var rejected *RejectedError
	assert.ErrorAs(t, err, &rejected)
	assert.Equal(t, RejectFull, rejected.Reason)
}

func TestQueue_AtCapacityReflectsThreshold(t *testing.T) {
	q := NewQueue(10, 0.8)
	assert.False(t, q.AtCapacity())
	for i := 0; i < 8; i++ {
		require.NoError(t, q.Enqueue(QueueItem{AtomID: string(rune('a' + i))}))
	}
	assert.True(t, q.AtCapacity())
}

func TestQueue_DequeueExpiresStaleItemsBeforeSelection(t *testing.T) {
	q := NewQueue(10, 0.8)
	require.NoError(t, q.Enqueue(QueueItem{AtomID: "stale", Deadline: time.Now().Add(-time.Millisecond)}))
	require.NoError(t, q.Enqueue(QueueItem{AtomID: "fresh", Deadline: time.Now().Add(time.Hour)}))

	item, ok, err := q.Dequeue(context.Background(), time.Second)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "fresh", item.AtomID)
	assert.Equal(t, uint64(1), q.Stats().Expired)
}

func TestQueue_DequeueReturnsFalseOnTimeoutWhenEmpty(t *testing.T) {
	q := NewQueue(10, 0.8)
	_, ok, err := q.Dequeue(context.Background(), 20*time.Millisecond)
	assert.NoError(t, err)
	assert.False(t, ok)
}

func TestQueue_DequeueRespectsContextCancellation(t *testing.T) {
	q := NewQueue(10, 0.8)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, _, err := q.Dequeue(ctx, time.Second)
	assert.Error(t, err)
}

func TestQueue_CloseUnblocksDequeue(t *testing.T) {
	q := NewQueue(10, 0.8)
	done := make(chan struct{})
	go func() {
		_, ok, err := q.Dequeue(context.Background(), 5*time.Second)
		assert.NoError(t, err)
		assert.False(t, ok)
		close(done)
	}()
	time.Sleep(10 * time.Millisecond)
	q.Close()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("dequeue did not unblock after Close")
	}
}

func TestQueue_EnqueueRejectsAfterClose(t *testing.T) {
	q := NewQueue(10, 0.8)
	q.Close()
	err := q.Enqueue(QueueItem{AtomID: "a"})
	assert.ErrorIs(t, err, ErrQueueClosed)
}

func TestQueue_StatsTracksCounters(t *testing.T) {
	q := NewQueue(5, 0.8)
	require.NoError(t, q.Enqueue(QueueItem{AtomID: "a"}))
	require.NoError(t, q.Enqueue(QueueItem{AtomID: "b"}))
	_, _, _ = q.Dequeue(context.Background(), time.Second)

	stats := q.Stats()
	assert.Equal(t, uint64(2), stats.Enqueued)
	assert.Equal(t, uint64(1), stats.Dequeued)
	assert.Equal(t, 1, stats.CurrentSize)
	assert.Equal(t, 2, stats.Peak)
}
