package queue

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/fedutinova/retinascan/internal/common"
	"github.com/redis/go-redis/v9"
)

const (
	fieldSource   = "source_id"
	fieldReason   = "reason"
	fieldFailedAt = "failed_at"
)

// DeadLetter is an entry the queue gave up on.
type DeadLetter struct {
	ID       string    `json:"id"`
	SourceID string    `json:"source_id"`
	JobID    string    `json:"job_id,omitempty"`
	Reason   string    `json:"reason"`
	FailedAt time.Time `json:"failed_at"`
}

// bury copies msg to the dead-letter stream and acknowledges the original.
func (q *StreamQueue) bury(ctx context.Context, msg redis.XMessage, reason string) {
	values := map[string]any{
		fieldSource:   msg.ID,
		fieldReason:   reason,
		fieldFailedAt: time.Now().UTC().Format(time.RFC3339),
	}
	for _, k := range []string{fieldJobID, fieldJob} {
		if v, ok := msg.Values[k]; ok {
			values[k] = v
		}
	}
	if err := q.rdb.XAdd(ctx, &redis.XAddArgs{Stream: q.deadLetters, Values: values}).Err(); err != nil {
		slog.Error("failed to dead-letter entry", "message_id", msg.ID, "error", err)
		return
	}
	slog.Warn("job dead-lettered", "message_id", msg.ID, "reason", reason)
	q.ack(ctx, msg.ID)
}

// DeadLetters returns up to limit dead-lettered entries, newest first.
func (q *StreamQueue) DeadLetters(ctx context.Context, limit int64) ([]DeadLetter, error) {
	if limit <= 0 {
		limit = 50
	}
	msgs, err := q.rdb.XRevRangeN(ctx, q.deadLetters, "+", "-", limit).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read dead letters: %w", err)
	}
	out := make([]DeadLetter, 0, len(msgs))
	for _, m := range msgs {
		d := DeadLetter{ID: m.ID}
		d.SourceID, _ = m.Values[fieldSource].(string)
		d.JobID, _ = m.Values[fieldJobID].(string)
		d.Reason, _ = m.Values[fieldReason].(string)
		if ts, ok := m.Values[fieldFailedAt].(string); ok {
			d.FailedAt, _ = time.Parse(time.RFC3339, ts)
		}
		out = append(out, d)
	}
	return out, nil
}

// Requeue puts a dead-lettered job back on the main stream.
func (q *StreamQueue) Requeue(ctx context.Context, id string) error {
	msgs, err := q.rdb.XRange(ctx, q.deadLetters, id, id).Result()
	if err != nil {
		return fmt.Errorf("failed to read dead letter: %w", err)
	}
	if len(msgs) == 0 {
		return fmt.Errorf("dead letter %s: %w", id, common.ErrNotFound)
	}
	raw, ok := msgs[0].Values[fieldJob].(string)
	if !ok {
		return fmt.Errorf("dead letter %s has no job to requeue: %w", id, common.ErrBadRequest)
	}

	values := map[string]any{fieldJob: raw}
	if jobID, ok := msgs[0].Values[fieldJobID]; ok {
		values[fieldJobID] = jobID
	}
	if err := q.rdb.XAdd(ctx, &redis.XAddArgs{Stream: q.cfg.Stream, Values: values}).Err(); err != nil {
		return fmt.Errorf("failed to requeue job: %w", err)
	}
	if err := q.rdb.XDel(ctx, q.deadLetters, id).Err(); err != nil {
		slog.Warn("failed to delete requeued dead letter", "id", id, "error", err)
	}
	slog.Info("dead letter requeued", "id", id)
	return nil
}
