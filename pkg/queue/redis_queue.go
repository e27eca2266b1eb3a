package queue

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"bookforge/internal/util"
)

// Job lifecycle states mirrored into the status hash.
const (
	StatusQueued     = "queued"
	StatusProcessing = "processing"
	StatusDone       = "done"
	StatusFailed     = "failed"
)

// Job is one book-generation request flowing through the queue.
type Job struct {
	ID           string    `json:"id"`
	BookID       string    `json:"bookId"`
	OwnerID      string    `json:"ownerId"`
	Status       string    `json:"status"`
	ErrorMessage string    `json:"errorMessage,omitempty"`
	Attempts     int       `json:"attempts"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// RedisJobQueue is a Redis Streams queue with consumer groups, stale-message
// claiming, and bounded retries. Job status lives in a hash with a TTL so
// clients can poll it after the stream entry is gone.
type RedisJobQueue struct {
	client       *redis.Client
	stream       string
	group        string
	consumerBase string
	jobTTL       time.Duration
	maxRetries   int
	block        time.Duration
	claimIdle    time.Duration
	retryDelay   time.Duration
	maxLen       int64
	once         sync.Once
}

// Config tunes the queue. Zero values fall back to defaults.
type Config struct {
	Addr       string
	Password   string
	Stream     string
	Group      string
	JobTTL     time.Duration
	MaxRetries int
	Block      time.Duration
	ClaimIdle  time.Duration
	RetryDelay time.Duration
	MaxLen     int64
}

// NewRedisJobQueue validates config and connects the queue client.
func NewRedisJobQueue(cfg Config) (*RedisJobQueue, error) {
	addr := strings.TrimSpace(cfg.Addr)
	if addr == "" {
		return nil, errors.New("redis addr required")
	}
	stream := strings.TrimSpace(cfg.Stream)
	if stream == "" {
		stream = "bookforge:generation"
	}
	group := strings.TrimSpace(cfg.Group)
	if group == "" {
		group = "workers"
	}
	q := &RedisJobQueue{
		client:       redis.NewClient(&redis.Options{Addr: addr, Password: cfg.Password}),
		stream:       stream,
		group:        group,
		consumerBase: util.NewID(),
		jobTTL:       cfg.JobTTL,
		maxRetries:   cfg.MaxRetries,
		block:        cfg.Block,
		claimIdle:    cfg.ClaimIdle,
		retryDelay:   cfg.RetryDelay,
		maxLen:       cfg.MaxLen,
	}
	if q.jobTTL <= 0 {
		q.jobTTL = 24 * time.Hour
	}
	if q.maxRetries <= 0 {
		q.maxRetries = 3
	}
	if q.block <= 0 {
		q.block = 5 * time.Second
	}
	if q.claimIdle <= 0 {
		q.claimIdle = 30 * time.Second
	}
	if q.retryDelay <= 0 {
		q.retryDelay = 2 * time.Second
	}
	if q.maxLen <= 0 {
		q.maxLen = 10000
	}
	return q, nil
}

// Enqueue records a queued job and appends it to the stream.
func (q *RedisJobQueue) Enqueue(ctx context.Context, bookID, ownerID string) (Job, error) {
	bookID = strings.TrimSpace(bookID)
	ownerID = strings.TrimSpace(ownerID)
	if bookID == "" || ownerID == "" {
		return Job{}, errors.New("bookId and ownerId required")
	}
	now := time.Now().UTC()
	job := Job{
		ID:        util.NewID(),
		BookID:    bookID,
		OwnerID:   ownerID,
		Status:    StatusQueued,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := q.writeStatus(ctx, job); err != nil {
		return Job{}, err
	}
	if err := q.append(ctx, nil, job.ID, bookID, ownerID); err != nil {
		return Job{}, err
	}
	return job, nil
}

// GetJob returns the job status hash if it still exists.
func (q *RedisJobQueue) GetJob(ctx context.Context, jobID string) (Job, bool, error) {
	jobID = strings.TrimSpace(jobID)
	if jobID == "" {
		return Job{}, false, nil
	}
	data, err := q.client.HGetAll(ctx, q.jobKey(jobID)).Result()
	if err != nil {
		return Job{}, false, err
	}
	if len(data) == 0 {
		return Job{}, false, nil
	}
	return decodeJob(jobID, data), true, nil
}

// Start launches concurrency consumer goroutines that run handler for each
// job. Handler errors trigger bounded retries, then mark the job failed.
func (q *RedisJobQueue) Start(ctx context.Context, concurrency int, handler func(context.Context, Job) error) {
	if concurrency <= 0 {
		concurrency = 1
	}
	q.ensureGroup(ctx)
	for i := 0; i < concurrency; i++ {
		consumer := fmt.Sprintf("%s-%d", q.consumerBase, i)
		go q.consumeLoop(ctx, consumer, handler)
	}
}

func (q *RedisJobQueue) ensureGroup(ctx context.Context) {
	q.once.Do(func() {
		err := q.client.XGroupCreateMkStream(ctx, q.stream, q.group, "$").Err()
		if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
			// best-effort; errors surface on consume
		}
	})
}

func (q *RedisJobQueue) consumeLoop(ctx context.Context, consumer string, handler func(context.Context, Job) error) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if msgs, err := q.claimPending(ctx, consumer); err == nil {
			for _, msg := range msgs {
				q.handleMessage(ctx, msg, handler)
			}
		}

		streams, err := q.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    q.group,
			Consumer: consumer,
			Streams:  []string{q.stream, ">"},
			Count:    10,
			Block:    q.block,
		}).Result()
		if err != nil {
			continue
		}
		for _, stream := range streams {
			for _, msg := range stream.Messages {
				q.handleMessage(ctx, msg, handler)
			}
		}
	}
}

func (q *RedisJobQueue) claimPending(ctx context.Context, consumer string) ([]redis.XMessage, error) {
	res, _, err := q.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   q.stream,
		Group:    q.group,
		Consumer: consumer,
		MinIdle:  q.claimIdle,
		Start:    "0-0",
		Count:    10,
	}).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (q *RedisJobQueue) handleMessage(ctx context.Context, msg redis.XMessage, handler func(context.Context, Job) error) {
	jobID, _ := msg.Values["job_id"].(string)
	bookID, _ := msg.Values["book_id"].(string)
	ownerID, _ := msg.Values["owner_id"].(string)
	if jobID == "" || bookID == "" {
		q.ackAndDel(ctx, msg.ID)
		return
	}
	job, err := q.markProcessing(ctx, jobID, bookID, ownerID)
	if err != nil {
		q.ackAndDel(ctx, msg.ID)
		return
	}
	if err := handler(ctx, job); err == nil {
		_ = q.setStatus(ctx, jobID, StatusDone, "")
		q.ackAndDel(ctx, msg.ID)
		return
	} else if job.Attempts >= q.maxRetries {
		_ = q.setStatus(ctx, jobID, StatusFailed, err.Error())
		q.ackAndDel(ctx, msg.ID)
		return
	} else {
		_ = q.setStatus(ctx, jobID, StatusQueued, err.Error())
	}
	if q.retryDelay > 0 {
		select {
		case <-ctx.Done():
			return
		case <-time.After(q.retryDelay):
		}
	}
	_ = q.append(ctx, &msg.ID, jobID, bookID, ownerID)
}

func (q *RedisJobQueue) append(ctx context.Context, ackMsgID *string, jobID, bookID, ownerID string) error {
	args := &redis.XAddArgs{
		Stream: q.stream,
		MaxLen: q.maxLen,
		Approx: true,
		Values: map[string]any{
			"job_id":   jobID,
			"book_id":  bookID,
			"owner_id": ownerID,
		},
	}
	if ackMsgID == nil {
		return q.client.XAdd(ctx, args).Err()
	}
	pipe := q.client.TxPipeline()
	pipe.XAdd(ctx, args)
	pipe.XAck(ctx, q.stream, q.group, *ackMsgID)
	pipe.XDel(ctx, q.stream, *ackMsgID)
	_, err := pipe.Exec(ctx)
	return err
}

func (q *RedisJobQueue) ackAndDel(ctx context.Context, msgID string) {
	_, _ = q.client.XAck(ctx, q.stream, q.group, msgID).Result()
	_, _ = q.client.XDel(ctx, q.stream, msgID).Result()
}

func (q *RedisJobQueue) markProcessing(ctx context.Context, jobID, bookID, ownerID string) (Job, error) {
	job, _, err := q.GetJob(ctx, jobID)
	if err != nil {
		return Job{}, err
	}
	if job.ID == "" {
		job = Job{ID: jobID, CreatedAt: time.Now().UTC()}
	}
	if bookID != "" {
		job.BookID = bookID
	}
	if ownerID != "" {
		job.OwnerID = ownerID
	}
	job.Attempts++
	job.Status = StatusProcessing
	job.UpdatedAt = time.Now().UTC()
	if err := q.writeStatus(ctx, job); err != nil {
		return Job{}, err
	}
	return job, nil
}

func (q *RedisJobQueue) setStatus(ctx context.Context, jobID, status, errMsg string) error {
	job, _, err := q.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	job.Status = status
	job.ErrorMessage = errMsg
	job.UpdatedAt = time.Now().UTC()
	return q.writeStatus(ctx, job)
}

func (q *RedisJobQueue) writeStatus(ctx context.Context, job Job) error {
	key := q.jobKey(job.ID)
	payload := map[string]any{
		"id":        job.ID,
		"bookId":    job.BookID,
		"ownerId":   job.OwnerID,
		"status":    job.Status,
		"error":     job.ErrorMessage,
		"attempts":  strconv.Itoa(job.Attempts),
		"createdAt": job.CreatedAt.Format(time.RFC3339Nano),
		"updatedAt": job.UpdatedAt.Format(time.RFC3339Nano),
	}
	if err := q.client.HSet(ctx, key, payload).Err(); err != nil {
		return err
	}
	_ = q.client.Expire(ctx, key, q.jobTTL).Err()
	return nil
}

func (q *RedisJobQueue) jobKey(jobID string) string {
	return fmt.Sprintf("job:%s:%s", q.stream, jobID)
}

func decodeJob(jobID string, data map[string]string) Job {
	job := Job{
		ID:           jobID,
		BookID:       data["bookId"],
		OwnerID:      data["ownerId"],
		Status:       data["status"],
		ErrorMessage: data["error"],
	}
	if n, err := strconv.Atoi(data["attempts"]); err == nil {
		job.Attempts = n
	}
	if t, err := time.Parse(time.RFC3339Nano, data["createdAt"]); err == nil {
		job.CreatedAt = t
	}
	if t, err := time.Parse(time.RFC3339Nano, data["updatedAt"]); err == nil {
		job.UpdatedAt = t
	}
	return job
}
