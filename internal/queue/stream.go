// Package queue runs analysis jobs through a Redis Stream consumer group so
// several service instances share one backlog and survive restarts.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/fedutinova/retinascan/internal/job"
	"github.com/fedutinova/retinascan/internal/memq"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	fieldJobID = "job_id"
	fieldJob   = "job"
)

// Config holds stream names and timing for a StreamQueue.
type Config struct {
	Stream string
	Group  string
	// Consumer prefixes consumer names inside the group; defaults to the host name.
	Consumer      string
	MaxJobTime    time.Duration
	ClaimInterval time.Duration
	// ClaimTimeout is how long a delivered entry may stay unacknowledged before
	// another consumer takes it over. It must exceed MaxJobTime.
	ClaimTimeout time.Duration
	StatusTTL    time.Duration
	// MaxDeliveries moves an entry to the dead-letter stream once it has been
	// delivered this many times without an ack.
	MaxDeliveries int64
	Block         time.Duration
}

func DefaultConfig() Config {
	return Config{
		Stream:        "retinascan:jobs",
		Group:         "analyzers",
		MaxJobTime:    2 * time.Minute,
		ClaimInterval: 15 * time.Second,
		ClaimTimeout:  3 * time.Minute,
		StatusTTL:     24 * time.Hour,
		MaxDeliveries: 3,
		Block:         5 * time.Second,
	}
}

// StreamQueue implements memq.JobQueue on Redis Streams.
type StreamQueue struct {
	rdb         *redis.Client
	cfg         Config
	deadLetters string

	mu    sync.RWMutex
	local map[uuid.UUID]*job.Job

	wg       sync.WaitGroup
	stop     chan struct{}
	stopOnce sync.Once
}

var _ memq.JobQueue = (*StreamQueue)(nil)

// New creates the consumer group (and stream) when missing.
func New(ctx context.Context, rdb *redis.Client, cfg Config) (*StreamQueue, error) {
	if cfg.Stream == "" || cfg.Group == "" {
		return nil, errors.New("queue: stream and group are required")
	}
	if cfg.Consumer == "" {
		host, err := os.Hostname()
		if err != nil || host == "" {
			host = "retinascan"
		}
		cfg.Consumer = host
	}
	if cfg.Block <= 0 {
		cfg.Block = 5 * time.Second
	}

	err := rdb.XGroupCreateMkStream(ctx, cfg.Stream, cfg.Group, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return nil, fmt.Errorf("failed to create consumer group: %w", err)
	}

	q := &StreamQueue{
		rdb:         rdb,
		cfg:         cfg,
		deadLetters: cfg.Stream + ":dead",
		local:       make(map[uuid.UUID]*job.Job),
		stop:        make(chan struct{}),
	}
	slog.Info("stream queue ready",
		"stream", cfg.Stream,
		"group", cfg.Group,
		"consumer", cfg.Consumer,
		"claim_timeout", cfg.ClaimTimeout)
	return q, nil
}

func (q *StreamQueue) Enqueue(ctx context.Context, j *job.Job) (uuid.UUID, error) {
	if j.ID == uuid.Nil {
		j.ID = uuid.New()
	}
	j.Status = job.StatusQueued
	j.Enqueued = time.Now()

	data, err := json.Marshal(j)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to marshal job: %w", err)
	}
	err = q.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: q.cfg.Stream,
		Values: map[string]any{fieldJobID: j.ID.String(), fieldJob: data},
	}).Err()
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to add job to stream: %w", err)
	}

	q.publish(ctx, j)
	slog.Debug("job enqueued", "job_id", j.ID, "type", j.Type)
	return j.ID, nil
}

// Status prefers the local snapshot and falls back to the shared status key,
// which covers jobs enqueued or run by another instance.
func (q *StreamQueue) Status(ctx context.Context, id uuid.UUID) (*job.Job, bool) {
	q.mu.RLock()
	j, ok := q.local[id]
	q.mu.RUnlock()
	if ok {
		return j.Clone(), true
	}

	data, err := q.rdb.Get(ctx, q.statusKey(id)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			slog.Warn("failed to read job status", "job_id", id, "error", err)
		}
		return nil, false
	}
	var shared job.Job
	if err := json.Unmarshal(data, &shared); err != nil {
		slog.Warn("corrupt job status", "job_id", id, "error", err)
		return nil, false
	}
	return &shared, true
}

func (q *StreamQueue) Stats(ctx context.Context) (memq.Stats, error) {
	st := memq.Stats{Backend: "redis"}
	groups, err := q.rdb.XInfoGroups(ctx, q.cfg.Stream).Result()
	if err != nil {
		return st, fmt.Errorf("failed to inspect stream: %w", err)
	}
	for _, g := range groups {
		if g.Name == q.cfg.Group {
			st.Waiting = g.Lag
			st.InFlight = g.Pending
			break
		}
	}
	if st.DeadLetters, err = q.rdb.XLen(ctx, q.deadLetters).Result(); err != nil {
		return st, fmt.Errorf("failed to count dead letters: %w", err)
	}
	return st, nil
}

func (q *StreamQueue) statusKey(id uuid.UUID) string {
	return q.cfg.Stream + ":status:" + id.String()
}

// publish records a snapshot locally and under the shared status key.
func (q *StreamQueue) publish(ctx context.Context, j *job.Job) {
	snap := j.Clone()
	q.mu.Lock()
	q.local[j.ID] = snap
	q.mu.Unlock()

	data, err := json.Marshal(snap)
	if err != nil {
		return
	}
	if err := q.rdb.Set(ctx, q.statusKey(j.ID), data, q.cfg.StatusTTL).Err(); err != nil {
		slog.Warn("failed to publish job status", "job_id", j.ID, "error", err)
	}
}

// StartConsumers runs n readers plus one reclaimer for entries abandoned by
// crashed consumers.
func (q *StreamQueue) StartConsumers(ctx context.Context, n int, handler memq.JobHandler) {
	for i := 1; i <= n; i++ {
		q.wg.Add(1)
		go q.consume(ctx, fmt.Sprintf("%s-%d", q.cfg.Consumer, i), handler)
	}
	q.wg.Add(1)
	go q.reclaimLoop(ctx, q.cfg.Consumer+"-reclaimer", handler)
	slog.Info("stream consumers started", "count", n)
}

func (q *StreamQueue) stopped(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return true
	case <-q.stop:
		return true
	default:
		return false
	}
}

func (q *StreamQueue) consume(ctx context.Context, consumer string, handler memq.JobHandler) {
	defer q.wg.Done()
	for !q.stopped(ctx) {
		streams, err := q.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    q.cfg.Group,
			Consumer: consumer,
			Streams:  []string{q.cfg.Stream, ">"},
			Count:    1,
			Block:    q.cfg.Block,
		}).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) || ctx.Err() != nil {
				continue
			}
			slog.Error("failed to read from stream", "consumer", consumer, "error", err)
			select {
			case <-time.After(time.Second):
			case <-q.stop:
			case <-ctx.Done():
			}
			continue
		}
		for _, s := range streams {
			for _, msg := range s.Messages {
				q.handle(ctx, consumer, msg, handler)
			}
		}
	}
	slog.Debug("consumer stopped", "consumer", consumer)
}

func (q *StreamQueue) reclaimLoop(ctx context.Context, consumer string, handler memq.JobHandler) {
	defer q.wg.Done()
	ticker := time.NewTicker(q.cfg.ClaimInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-q.stop:
			return
		case <-ticker.C:
			if err := q.reclaim(ctx, consumer, handler); err != nil {
				slog.Error("reclaim failed", "error", err)
			}
		}
	}
}

// reclaim takes over entries idle longer than ClaimTimeout. Entries that
// already used up their deliveries are dead-lettered instead of rerun.
func (q *StreamQueue) reclaim(ctx context.Context, consumer string, handler memq.JobHandler) error {
	pending, err := q.rdb.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: q.cfg.Stream,
		Group:  q.cfg.Group,
		Idle:   q.cfg.ClaimTimeout,
		Start:  "-",
		End:    "+",
		Count:  50,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}
		return fmt.Errorf("failed to list pending entries: %w", err)
	}
	if len(pending) == 0 {
		return nil
	}

	deliveries := make(map[string]int64, len(pending))
	ids := make([]string, 0, len(pending))
	for _, p := range pending {
		deliveries[p.ID] = p.RetryCount
		ids = append(ids, p.ID)
	}

	msgs, err := q.rdb.XClaim(ctx, &redis.XClaimArgs{
		Stream:   q.cfg.Stream,
		Group:    q.cfg.Group,
		Consumer: consumer,
		MinIdle:  q.cfg.ClaimTimeout,
		Messages: ids,
	}).Result()
	if err != nil {
		return fmt.Errorf("failed to claim entries: %w", err)
	}

	for _, msg := range msgs {
		n := deliveries[msg.ID]
		if n >= q.cfg.MaxDeliveries {
			q.bury(ctx, msg, fmt.Sprintf("delivered %d times without completing", n))
			continue
		}
		slog.Warn("reclaimed stalled job", "message_id", msg.ID, "deliveries", n)
		q.handle(ctx, consumer, msg, handler)
	}
	return nil
}

func decodeEntry(msg redis.XMessage) (*job.Job, error) {
	raw, ok := msg.Values[fieldJob].(string)
	if !ok {
		return nil, errors.New("entry has no job field")
	}
	var j job.Job
	if err := json.Unmarshal([]byte(raw), &j); err != nil {
		return nil, fmt.Errorf("failed to unmarshal job: %w", err)
	}
	return &j, nil
}

func (q *StreamQueue) handle(ctx context.Context, consumer string, msg redis.XMessage, handler memq.JobHandler) {
	j, err := decodeEntry(msg)
	if err != nil {
		q.bury(ctx, msg, err.Error())
		return
	}

	started := time.Now()
	j.Status = job.StatusRunning
	j.Started = &started
	j.Error = ""
	q.publish(ctx, j)

	runCtx, cancel := context.WithTimeout(ctx, q.cfg.MaxJobTime)
	err = handler(runCtx, j.Clone())
	cancel()

	finished := time.Now()
	j.Finished = &finished
	if err != nil {
		j.Status = job.StatusFailed
		j.Error = err.Error()
		slog.Error("job failed", "job_id", j.ID, "type", j.Type, "consumer", consumer, "error", err)
	} else {
		j.Status = job.StatusSucceeded
		slog.Info("job done", "job_id", j.ID, "type", j.Type, "consumer", consumer,
			"duration", finished.Sub(started))
	}
	q.publish(ctx, j)
	q.ack(ctx, msg.ID)
}

func (q *StreamQueue) ack(ctx context.Context, id string) {
	if err := q.rdb.XAck(ctx, q.cfg.Stream, q.cfg.Group, id).Err(); err != nil {
		slog.Error("failed to ack entry", "message_id", id, "error", err)
	}
}

// Close stops the consumers and waits for the job in hand to finish.
func (q *StreamQueue) Close() error {
	q.stopOnce.Do(func() { close(q.stop) })
	q.wg.Wait()
	return nil
}
