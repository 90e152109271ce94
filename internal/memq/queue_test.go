package memq

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/fedutinova/retinascan/internal/job"
	"github.com/google/uuid"
)

func analyzeJob(t *testing.T) *job.Job {
	t.Helper()
	j, err := job.NewAnalyzeJob(job.AnalyzePayload{AnalysisID: uuid.New(), ImageKey: "uploads/x.png", Preset: "standard"})
	if err != nil {
		t.Fatalf("NewAnalyzeJob: %v", err)
	}
	return j
}

func waitFor(t *testing.T, q JobQueue, id uuid.UUID) *job.Job {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if st, ok := q.Status(context.Background(), id); ok && st.Done() {
			return st
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("job %s did not finish", id)
	return nil
}

func TestEnqueue_SetsDefaults(t *testing.T) {
	q := NewMemoryQueue(10, 50*time.Millisecond)
	j := analyzeJob(t)

	id, err := q.Enqueue(context.Background(), j)
	if err != nil {
		t.Fatalf("Enqueue error: %v", err)
	}
	if id == uuid.Nil {
		t.Fatalf("expected non-nil id")
	}
	if j.Status != job.StatusQueued {
		t.Fatalf("expected status queued, got %s", j.Status)
	}
	if j.Enqueued.IsZero() {
		t.Fatalf("expected enqueued timestamp to be set")
	}
	if st, _ := q.Stats(context.Background()); st.Waiting != 1 || st.Backend != "memory" {
		t.Fatalf("expected one waiting job, got %+v", st)
	}

	st, ok := q.Status(context.Background(), id)
	if !ok || st == nil {
		t.Fatalf("expected to find job by id")
	}
	if st.ID != j.ID {
		t.Fatalf("expected stored job id to match")
	}
	if st == j {
		t.Fatalf("expected Status to return a snapshot")
	}
}

func TestEnqueue_CanceledWhenFull(t *testing.T) {
	q := NewMemoryQueue(0, time.Second)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	j := analyzeJob(t)
	if _, err := q.Enqueue(ctx, j); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if _, ok := q.Status(context.Background(), j.ID); ok {
		t.Fatalf("canceled job must not be tracked")
	}
}

func TestStartConsumers_SucceedsAndUpdatesStatus(t *testing.T) {
	q := NewMemoryQueue(10, 200*time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var seen job.AnalyzePayload
	q.StartConsumers(ctx, 1, Dispatch(map[job.Type]JobHandler{
		job.TypeFundusAnalyze: func(ctx context.Context, j *job.Job) error {
			p, err := job.DecodeAnalyze(j)
			seen = p
			return err
		},
	}))

	id, err := q.Enqueue(context.Background(), analyzeJob(t))
	if err != nil {
		t.Fatalf("Enqueue error: %v", err)
	}

	st := waitFor(t, q, id)
	if st.Status != job.StatusSucceeded {
		t.Fatalf("expected succeeded, got %s (err=%s)", st.Status, st.Error)
	}
	if st.Started == nil || st.Finished == nil {
		t.Fatalf("expected started/finished timestamps to be set")
	}
	if seen.ImageKey != "uploads/x.png" {
		t.Fatalf("handler saw wrong payload: %+v", seen)
	}
}

func TestStartConsumers_TimeoutMarksFailed(t *testing.T) {
	q := NewMemoryQueue(10, 20*time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	q.StartConsumers(ctx, 1, func(ctx context.Context, j *job.Job) error {
		<-ctx.Done()
		return errors.New("handler timed out")
	})

	id, err := q.Enqueue(context.Background(), analyzeJob(t))
	if err != nil {
		t.Fatalf("Enqueue error: %v", err)
	}

	st := waitFor(t, q, id)
	if st.Status != job.StatusFailed {
		t.Fatalf("expected failed, got %s", st.Status)
	}
	if st.Error == "" {
		t.Fatalf("expected error message to be set")
	}
}

func TestDispatch_UnknownType(t *testing.T) {
	h := Dispatch(map[job.Type]JobHandler{})
	if err := h(context.Background(), &job.Job{Type: "mystery"}); err == nil {
		t.Fatalf("expected error for unknown job type")
	}
}

func TestClose_WaitsForConsumers(t *testing.T) {
	q := NewMemoryQueue(1, time.Second)
	ctx, cancel := context.WithCancel(context.Background())
	q.StartConsumers(ctx, 3, func(context.Context, *job.Job) error { return nil })
	cancel()

	done := make(chan struct{})
	go func() {
		_ = q.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("Close did not return after cancel")
	}
}
