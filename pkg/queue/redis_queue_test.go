package queue

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestQueue(t *testing.T) (*RedisJobQueue, context.Context) {
	t.Helper()
	redisSrv := miniredis.RunT(t)
	q, err := NewRedisJobQueue(Config{
		Addr:       redisSrv.Addr(),
		Stream:     "test:generation",
		Group:      "test-workers",
		RetryDelay: time.Millisecond,
	})
	if err != nil {
		t.Fatalf("new queue: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	// Create the consumer group before any enqueue so tests see every entry.
	q.ensureGroup(ctx)
	return q, ctx
}

func readOneMessage(t *testing.T, ctx context.Context, q *RedisJobQueue, consumer string) redis.XMessage {
	t.Helper()
	streams, err := q.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    q.group,
		Consumer: consumer,
		Streams:  []string{q.stream, ">"},
		Count:    1,
		Block:    time.Second,
	}).Result()
	if err != nil {
		t.Fatalf("read group: %v", err)
	}
	if len(streams) == 0 || len(streams[0].Messages) == 0 {
		t.Fatal("no message available")
	}
	return streams[0].Messages[0]
}

func TestEnqueueWritesStatusAndStreamEntry(t *testing.T) {
	q, ctx := newTestQueue(t)

	job, err := q.Enqueue(ctx, "book-1", "user-1")
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if job.Status != StatusQueued || job.BookID != "book-1" || job.OwnerID != "user-1" {
		t.Fatalf("unexpected job %+v", job)
	}

	got, ok, err := q.GetJob(ctx, job.ID)
	if err != nil || !ok {
		t.Fatalf("get job: ok=%v err=%v", ok, err)
	}
	if got.Status != StatusQueued || got.BookID != "book-1" {
		t.Fatalf("unexpected stored job %+v", got)
	}

	streamLen, err := q.client.XLen(ctx, q.stream).Result()
	if err != nil {
		t.Fatalf("xlen: %v", err)
	}
	if streamLen != 1 {
		t.Fatalf("expected one stream entry, got %d", streamLen)
	}
}

func TestEnqueueRequiresIdentifiers(t *testing.T) {
	q, ctx := newTestQueue(t)
	if _, err := q.Enqueue(ctx, "", "user-1"); err == nil {
		t.Fatal("expected error for missing book id")
	}
	if _, err := q.Enqueue(ctx, "book-1", ""); err == nil {
		t.Fatal("expected error for missing owner id")
	}
}

func TestHandleMessageMarksDoneOnSuccess(t *testing.T) {
	q, ctx := newTestQueue(t)

	job, err := q.Enqueue(ctx, "book-1", "user-1")
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	msg := readOneMessage(t, ctx, q, "consumer-a")
	var handled Job
	q.handleMessage(ctx, msg, func(_ context.Context, j Job) error {
		handled = j
		return nil
	})
	if handled.BookID != "book-1" || handled.OwnerID != "user-1" {
		t.Fatalf("handler got %+v", handled)
	}
	got, ok, _ := q.GetJob(ctx, job.ID)
	if !ok || got.Status != StatusDone {
		t.Fatalf("expected done job, got %+v", got)
	}
}

func TestHandleMessageRetriesThenFails(t *testing.T) {
	q, ctx := newTestQueue(t)
	q.maxRetries = 2

	job, err := q.Enqueue(ctx, "book-1", "user-1")
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	// First attempt fails: job goes back to queued with the error recorded
	// and a replacement stream entry appended.
	msg := readOneMessage(t, ctx, q, "consumer-a")
	q.handleMessage(ctx, msg, func(context.Context, Job) error {
		return context.DeadlineExceeded
	})
	got, ok, _ := q.GetJob(ctx, job.ID)
	if !ok || got.Status != StatusQueued || got.Attempts != 1 {
		t.Fatalf("after first failure: %+v", got)
	}

	// Second attempt exhausts retries: job is marked failed.
	msg = readOneMessage(t, ctx, q, "consumer-a")
	q.handleMessage(ctx, msg, func(context.Context, Job) error {
		return context.DeadlineExceeded
	})
	got, ok, _ = q.GetJob(ctx, job.ID)
	if !ok || got.Status != StatusFailed {
		t.Fatalf("after exhausted retries: %+v", got)
	}
	if got.ErrorMessage == "" {
		t.Fatal("failure must record the handler error")
	}
}
