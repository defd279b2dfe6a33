package service

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryLease(t *testing.T) {
	l := NewMemoryLease()
	ctx := context.Background()

	ok, err := l.Acquire(ctx, "c1")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = l.Acquire(ctx, "c1")
	require.NoError(t, err)
	assert.False(t, ok, "second acquire on the same collection")

	ok, err = l.Acquire(ctx, "c2")
	require.NoError(t, err)
	assert.True(t, ok, "leases are per collection")

	require.NoError(t, l.Release(ctx, "c1"))
	require.NoError(t, l.Release(ctx, "c1"), "release is idempotent")

	ok, err = l.Acquire(ctx, "c1")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestMemoryLease_SingleWinner(t *testing.T) {
	l := NewMemoryLease()
	var (
		wg      sync.WaitGroup
		winners atomic.Int32
	)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if ok, _ := l.Acquire(context.Background(), "shared"); ok {
				winners.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), winners.Load())
}

func TestMemoryLease_Extend(t *testing.T) {
	l := NewMemoryLease()
	ctx := context.Background()

	held, err := l.Extend(ctx, "c1")
	require.NoError(t, err)
	assert.False(t, held, "nothing to extend before acquire")

	ok, err := l.Acquire(ctx, "c1")
	require.NoError(t, err)
	require.True(t, ok)

	held, err = l.Extend(ctx, "c1")
	require.NoError(t, err)
	assert.True(t, held)

	require.NoError(t, l.Release(ctx, "c1"))
	held, err = l.Extend(ctx, "c1")
	require.NoError(t, err)
	assert.False(t, held)
}

func TestRedisLease_RenewInterval(t *testing.T) {
	l := NewRedisLease(nil, 90*time.Minute)
	assert.Equal(t, 30*time.Minute, l.RenewInterval())
}

// countingLease 记录续租次数
type countingLease struct {
	*MemoryLease
	extends atomic.Int32
}

func (l *countingLease) Extend(ctx context.Context, collectionID string) (bool, error) {
	l.extends.Add(1)
	return l.MemoryLease.Extend(ctx, collectionID)
}

func TestEvaluation_RenewsLeaseWhileRunning(t *testing.T) {
	p := newPipeline(t)
	ctx := context.Background()
	collection := p.seedCollection(t, 1)
	p.seedQuestionPaper(t, collection.ID, 1, true)
	p.seedScript(t, collection.ID, "heidi", 1)

	lease := &countingLease{MemoryLease: NewMemoryLease()}
	p.evaluation.Lease = lease
	p.evaluation.LeaseRenewInterval = 5 * time.Millisecond
	p.evaluation.StartupDelay = 60 * time.Millisecond

	_, err := p.evaluation.StartEvaluation(ctx, collection.ID, EvaluationOptions{})
	require.NoError(t, err)
	p.drain(t)

	renewed := lease.extends.Load()
	assert.Greater(t, renewed, int32(0))

	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, renewed, lease.extends.Load(), "renewal stops with the run")

	ok, err := lease.Acquire(ctx, collection.ID)
	require.NoError(t, err)
	assert.True(t, ok, "lease released after the run")
}
