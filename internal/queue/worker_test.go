package queue

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pkgindex/registry/internal/ingest"
	"github.com/pkgindex/registry/internal/registry"
	"github.com/pkgindex/registry/internal/store"
	"github.com/pkgindex/registry/internal/testutil"
)

func TestDecide(t *testing.T) {
	identity := map[string]string{"package_name": "ggvis", "version": "0.1"}

	tests := []struct {
		name     string
		err      error
		attempts int
		want     outcome
	}{
		{"success", nil, 0, outcomeAck},
		{"conflict is a redelivery", registry.Conflict("create version", identity, nil), 0, outcomeAck},
		{"validation", registry.Invalid("dispatch", "Invalid type"), 0, outcomeDead},
		{"not found", registry.NotFound("create topic", identity), 0, outcomeDead},
		{"internal first attempt", registry.Internal("create version", errors.New("boom")), 0, outcomeRetry},
		{"internal second attempt", registry.Internal("create version", errors.New("boom")), 1, outcomeRetry},
		{"internal last attempt", registry.Internal("create version", errors.New("boom")), 2, outcomeDead},
		{"unclassified", errors.New("boom"), 0, outcomeRetry},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := decide(tt.err, &Message{Attempts: tt.attempts}, 3)
			assert.Equal(t, tt.want, got, "got %s", got)
		})
	}
}

func TestWorkerPool_Outcomes(t *testing.T) {
	q, _ := setupTestQueue(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var internalCalls atomic.Int32
	pool := NewWorkerPool(q, 2, nil)
	pool.RegisterHandler("ok", func(ctx context.Context, msg *Message) error { return nil })
	pool.RegisterHandler("dup", func(ctx context.Context, msg *Message) error {
		return registry.Conflict("create version", nil, nil)
	})
	pool.RegisterHandler("bad", func(ctx context.Context, msg *Message) error {
		return registry.Invalid("create version", "bad")
	})
	pool.RegisterHandler("flaky", func(ctx context.Context, msg *Message) error {
		internalCalls.Add(1)
		return registry.Internal("create version", errors.New("connection reset"))
	})
	pool.RegisterHandler("panics", func(ctx context.Context, msg *Message) error { panic("boom") })

	for _, typ := range []string{"ok", "dup", "bad", "flaky", "panics", "unknown"} {
		require.NoError(t, q.Enqueue(ctx, NewMessage(typ, []byte(`{}`))))
	}

	pool.Start(ctx)
	defer pool.Stop()

	require.Eventually(t, func() bool {
		stats, err := q.Stats(ctx)
		return err == nil && stats.Pending == 0 && stats.Processing == 0 && stats.Dead == 4
	}, 5*time.Second, 20*time.Millisecond)

	assert.EqualValues(t, 3, internalCalls.Load(), "internal failures are retried up to max attempts")
	assert.EqualValues(t, 1, pool.Metrics().Stats("ok").Succeeded)
	assert.EqualValues(t, 1, pool.Metrics().Stats("dup").Duplicates)
	assert.EqualValues(t, 2, pool.Metrics().Stats("flaky").Retried)
	assert.EqualValues(t, 1, pool.Metrics().Stats("flaky").Failed)
	assert.EqualValues(t, 1, pool.Metrics().Stats("unknown").Failed)
	assert.Equal(t, 100.0, pool.Metrics().Stats("dup").SuccessRate())
}

func TestWorkerPool_StopIsIdempotent(t *testing.T) {
	q, _ := setupTestQueue(t)
	pool := NewWorkerPool(q, 1, nil)

	pool.Stop()
	pool.Start(context.Background())
	pool.Stop()
	pool.Stop()
}

func TestWorkerPool_Redelivery(t *testing.T) {
	db := testutil.OpenDB(t)
	mgr := store.NewManager(db, store.ReadCommitted)
	d := ingest.NewDispatcher(ingest.NewVersionIngestor(mgr, nil, nil), ingest.NewTopicIngestor(mgr, nil, nil), nil, nil)

	q, _ := setupTestQueue(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	payload, err := json.Marshal(testutil.Manifest("ggvis", "0.1"))
	require.NoError(t, err)
	require.NoError(t, q.Enqueue(ctx, NewMessage(ingest.TypeVersion, payload)))
	require.NoError(t, q.Enqueue(ctx, NewMessage(ingest.TypeVersion, payload)))
	require.NoError(t, q.Enqueue(ctx, NewMessage(ingest.TypeTopic, []byte(`{
		"package": {"package": "ggvis", "version": "9.9"},
		"name": "x", "title": "y"
	}`))))
	require.NoError(t, q.Enqueue(ctx, NewMessage("review", []byte(`{}`))))

	pool := NewWorkerPool(q, 1, nil)
	pool.RegisterDispatcher(d)
	pool.Start(ctx)
	defer pool.Stop()

	require.Eventually(t, func() bool {
		stats, err := q.Stats(ctx)
		return err == nil && stats.Pending == 0 && stats.Processing == 0 && stats.Dead == 2
	}, 5*time.Second, 20*time.Millisecond)

	assert.Equal(t, 1, testutil.CountRows(t, db, "package_versions"), "a redelivered version is stored once")
	assert.EqualValues(t, 1, pool.Metrics().Stats(ingest.TypeVersion).Succeeded)
	assert.EqualValues(t, 1, pool.Metrics().Stats(ingest.TypeVersion).Duplicates)
	assert.EqualValues(t, 1, pool.Metrics().Stats(ingest.TypeTopic).Failed)
}
