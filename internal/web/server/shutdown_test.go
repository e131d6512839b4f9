package server

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	srv, err := New(&Config{Address: "127.0.0.1:0", Handler: okHandler()})
	require.NoError(t, err)
	return srv
}

func TestDefaultShutdownConfig(t *testing.T) {
	config := DefaultShutdownConfig()
	assert.Equal(t, 30*time.Second, config.Timeout)
	assert.Len(t, config.Signals, 2)
}

func TestGracefulShutdown_RunUntilCancelled(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	gs := NewGracefulShutdown(newTestServer(t), &ShutdownConfig{Timeout: time.Second, Logger: zap.New(core)})

	var mu sync.Mutex
	var order []string
	gs.RegisterHook(func(ctx context.Context) error {
		mu.Lock()
		defer mu.Unlock()
		order = append(order, "workers")
		return nil
	})
	gs.RegisterHook(func(ctx context.Context) error {
		mu.Lock()
		defer mu.Unlock()
		order = append(order, "db")
		return errors.New("already closed")
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- gs.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err, "a failing hook does not fail the shutdown")
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}

	assert.Equal(t, []string{"workers", "db"}, order)
	assert.Equal(t, 1, logs.FilterMessage("shutdown hook failed").Len())
	assert.NoError(t, gs.Wait())
}

func TestGracefulShutdown_ShutdownIsIdempotent(t *testing.T) {
	srv := newTestServer(t)
	require.NoError(t, srv.Listen())
	go func() { _ = srv.Serve() }()

	gs := NewGracefulShutdown(srv, nil)
	calls := 0
	gs.RegisterHook(func(ctx context.Context) error {
		calls++
		return nil
	})

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, gs.Shutdown())
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, calls)
}

func TestGracefulShutdown_ListenError(t *testing.T) {
	srv, err := New(&Config{Address: "localhost:99999", Handler: okHandler()})
	require.NoError(t, err)

	err = NewGracefulShutdown(srv, nil).Run(context.Background())
	assert.Error(t, err)
}
