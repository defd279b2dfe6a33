package taskqueue

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueue_RunsSubmittedJobs(t *testing.T) {
	q := New(2, 8)

	var count atomic.Int32
	for i := 0; i < 5; i++ {
		require.NoError(t, q.Submit(context.Background(), "job", func(ctx context.Context) {
			count.Add(1)
		}))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, q.Shutdown(ctx))
	assert.Equal(t, int32(5), count.Load())
}

func TestQueue_RejectsWhenFull(t *testing.T) {
	q := New(1, 1)

	release := make(chan struct{})
	started := make(chan struct{})
	require.NoError(t, q.Submit(context.Background(), "blocker", func(ctx context.Context) {
		close(started)
		<-release
	}))
	<-started

	// worker 被占用，缓冲区只能再放一个
	require.NoError(t, q.Submit(context.Background(), "buffered", func(ctx context.Context) {}))
	err := q.Submit(context.Background(), "overflow", func(ctx context.Context) {})
	assert.ErrorIs(t, err, ErrFull)

	close(release)
	require.NoError(t, q.Shutdown(context.Background()))
}

func TestQueue_SubmitAfterShutdown(t *testing.T) {
	q := New(1, 1)
	require.NoError(t, q.Shutdown(context.Background()))

	err := q.Submit(context.Background(), "late", func(ctx context.Context) {})
	assert.ErrorIs(t, err, ErrClosed)
}

func TestQueue_JobContextOutlivesRequest(t *testing.T) {
	q := New(1, 1)

	reqCtx, cancel := context.WithCancel(context.Background())
	result := make(chan error, 1)
	started := make(chan struct{})
	proceed := make(chan struct{})
	require.NoError(t, q.Submit(reqCtx, "detached", func(ctx context.Context) {
		close(started)
		<-proceed
		result <- ctx.Err()
	}))
	<-started
	cancel()
	close(proceed)

	assert.NoError(t, <-result)
	require.NoError(t, q.Shutdown(context.Background()))
}

func TestQueue_RecoversFromPanic(t *testing.T) {
	q := New(1, 2)

	done := make(chan struct{})
	require.NoError(t, q.Submit(context.Background(), "panics", func(ctx context.Context) {
		panic("boom")
	}))
	require.NoError(t, q.Submit(context.Background(), "after", func(ctx context.Context) {
		close(done)
	}))

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("worker did not survive panic")
	}
	require.NoError(t, q.Shutdown(context.Background()))
}
