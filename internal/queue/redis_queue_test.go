package queue

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"job-feed-importer/internal/models"
)

func testQueue(t *testing.T, visibility time.Duration) *RedisQueue {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return NewRedisQueueWithClient(client, visibility)
}

func testMessage(externalID string) models.QueueMessage {
	return models.QueueMessage{
		RunID:     "run-1",
		SourceURL: "https://example.com/feed",
		Record: models.CandidateRecord{
			ExternalID:  externalID,
			Title:       "title",
			Description: "description",
			SourceURL:   "https://example.com/feed",
		},
	}
}

func TestEnqueueDequeueRoundTrip(t *testing.T) {
	ctx := context.Background()
	q := testQueue(t, time.Minute)

	require.NoError(t, q.Enqueue(ctx, testMessage("ext-1")))

	d, err := q.Dequeue(ctx)
	require.NoError(t, err)
	require.NotNil(t, d)
	assert.Equal(t, 1, d.Attempt)
	assert.Equal(t, "run-1", d.Message.RunID)
	assert.Equal(t, "ext-1", d.Message.Record.ExternalID)

	// Leased message is invisible to other consumers.
	d2, err := q.Dequeue(ctx)
	require.NoError(t, err)
	assert.Nil(t, d2)
}

func TestAckRemovesMessage(t *testing.T) {
	ctx := context.Background()
	q := testQueue(t, time.Minute)

	require.NoError(t, q.Enqueue(ctx, testMessage("ext-1")))
	d, err := q.Dequeue(ctx)
	require.NoError(t, err)
	require.NotNil(t, d)

	require.NoError(t, q.Ack(ctx, d.ID))

	// Nothing left to reclaim even after the lease would have expired.
	ids, err := q.RequeueExpired(ctx, time.Now().Add(2*time.Minute), 10)
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestRetrySchedulesRedelivery(t *testing.T) {
	ctx := context.Background()
	q := testQueue(t, time.Minute)

	require.NoError(t, q.Enqueue(ctx, testMessage("ext-1")))
	d, err := q.Dequeue(ctx)
	require.NoError(t, err)
	require.NotNil(t, d)

	require.NoError(t, q.Retry(ctx, d.ID, 50*time.Millisecond))

	// Not ready until the delay elapses and the scheduled set is promoted.
	d2, err := q.Dequeue(ctx)
	require.NoError(t, err)
	require.Nil(t, d2)

	moved, err := q.PromoteScheduled(ctx, time.Now().Add(100*time.Millisecond), 10)
	require.NoError(t, err)
	assert.Equal(t, 1, moved)

	d3, err := q.Dequeue(ctx)
	require.NoError(t, err)
	require.NotNil(t, d3)
	assert.Equal(t, d.ID, d3.ID)
	assert.Equal(t, 2, d3.Attempt, "attempt count survives redelivery")
}

func TestRequeueExpiredReclaimsLease(t *testing.T) {
	ctx := context.Background()
	q := testQueue(t, 10*time.Millisecond)

	require.NoError(t, q.Enqueue(ctx, testMessage("ext-1")))
	d, err := q.Dequeue(ctx)
	require.NoError(t, err)
	require.NotNil(t, d)

	ids, err := q.RequeueExpired(ctx, time.Now().Add(time.Second), 10)
	require.NoError(t, err)
	require.Len(t, ids, 1)

	d2, err := q.Dequeue(ctx)
	require.NoError(t, err)
	require.NotNil(t, d2)
	assert.Equal(t, 2, d2.Attempt)
}

func TestDequeueDropsMessageAckedAfterLeaseReclaim(t *testing.T) {
	ctx := context.Background()
	q := testQueue(t, 10*time.Millisecond)

	require.NoError(t, q.Enqueue(ctx, testMessage("ext-1")))
	d, err := q.Dequeue(ctx)
	require.NoError(t, err)
	require.NotNil(t, d)

	// Lease expires and the janitor re-queues the message while the original
	// worker is still processing it.
	ids, err := q.RequeueExpired(ctx, time.Now().Add(time.Second), 10)
	require.NoError(t, err)
	require.Len(t, ids, 1)

	// The slow worker finishes and acks, deleting the payload behind the
	// re-queued id.
	require.NoError(t, q.Ack(ctx, d.ID))

	// The orphaned id must be dropped, not leased without a payload.
	d2, err := q.Dequeue(ctx)
	require.NoError(t, err)
	assert.Nil(t, d2)

	// Nothing may linger in flight or on the ready list afterwards.
	ids, err = q.RequeueExpired(ctx, time.Now().Add(time.Minute), 10)
	require.NoError(t, err)
	assert.Empty(t, ids)
	depth, err := q.ReadyDepth(ctx)
	require.NoError(t, err)
	assert.Zero(t, depth)
}

func TestDeadLetterKeepsPayload(t *testing.T) {
	ctx := context.Background()
	q := testQueue(t, time.Minute)

	require.NoError(t, q.Enqueue(ctx, testMessage("ext-dead")))
	d, err := q.Dequeue(ctx)
	require.NoError(t, err)
	require.NotNil(t, d)

	require.NoError(t, q.DeadLetter(ctx, d.ID))

	items, err := q.DLQPeek(ctx, 10)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "ext-dead", items[0].Record.ExternalID)

	// Dead-lettered messages are gone from the live queue.
	d2, err := q.Dequeue(ctx)
	require.NoError(t, err)
	assert.Nil(t, d2)
}

func TestReadyDepth(t *testing.T) {
	ctx := context.Background()
	q := testQueue(t, time.Minute)

	for i := 0; i < 3; i++ {
		require.NoError(t, q.Enqueue(ctx, testMessage("ext")))
	}
	depth, err := q.ReadyDepth(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), depth)
}
