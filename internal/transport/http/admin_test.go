package http

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/fedutinova/retinascan/internal/auth"
	"github.com/fedutinova/retinascan/internal/common"
	"github.com/fedutinova/retinascan/internal/memq"
	"github.com/fedutinova/retinascan/internal/queue"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type deadLetterFake struct {
	memq.JobQueue
	dead     []queue.DeadLetter
	requeued []string
}

func (f *deadLetterFake) DeadLetters(_ context.Context, limit int64) ([]queue.DeadLetter, error) {
	if int64(len(f.dead)) > limit {
		return f.dead[:limit], nil
	}
	return f.dead, nil
}

func (f *deadLetterFake) Requeue(_ context.Context, id string) error {
	for i, d := range f.dead {
		if d.ID == id {
			f.dead = append(f.dead[:i], f.dead[i+1:]...)
			f.requeued = append(f.requeued, id)
			return nil
		}
	}
	return fmt.Errorf("dead letter %s: %w", id, common.ErrNotFound)
}

func TestQueueAdmin(t *testing.T) {
	e := newEnv(t)
	admin := token(t, e.alice, auth.RoleAdmin)
	get := func(url, bearer string) *httptest.ResponseRecorder {
		return e.do(t, httptest.NewRequest(http.MethodGet, url, nil), bearer)
	}

	assert.Equal(t, http.StatusForbidden, get("/v1/admin/queue/", token(t, e.bob, auth.RoleResearcher)).Code)

	rec := get("/v1/admin/queue/", admin)
	require.Equal(t, http.StatusOK, rec.Code)
	var st memq.Stats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
	assert.Equal(t, "memory", st.Backend)

	// the in-memory queue has no dead-letter stream
	assert.Equal(t, http.StatusNotImplemented, get("/v1/admin/queue/dead-letters", admin).Code)

	fake := &deadLetterFake{
		JobQueue: e.h.Q,
		dead: []queue.DeadLetter{
			{ID: "1-0", SourceID: "0-9", Reason: "delivered 3 times without completing", FailedAt: time.Now()},
			{ID: "2-0", SourceID: "0-8", Reason: "entry has no job field", FailedAt: time.Now()},
		},
	}
	e.h.Q = fake

	rec = get("/v1/admin/queue/dead-letters?limit=1", admin)
	require.Equal(t, http.StatusOK, rec.Code)
	var list struct {
		DeadLetters []queue.DeadLetter `json:"dead_letters"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list.DeadLetters, 1)
	assert.Equal(t, "1-0", list.DeadLetters[0].ID)

	assert.Equal(t, http.StatusBadRequest, get("/v1/admin/queue/dead-letters?limit=0", admin).Code)

	post := func(url string) int {
		return e.do(t, httptest.NewRequest(http.MethodPost, url, nil), admin).Code
	}
	assert.Equal(t, http.StatusAccepted, post("/v1/admin/queue/dead-letters/1-0/requeue"))
	assert.Equal(t, []string{"1-0"}, fake.requeued)
	assert.Equal(t, http.StatusNotFound, post("/v1/admin/queue/dead-letters/1-0/requeue"))
}
