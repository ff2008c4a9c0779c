package jobs

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueueRetriesUntilSuccess(t *testing.T) {
	var calls int32
	done := make(chan struct{})
	q := NewQueue("test", func(ctx context.Context, job Job) error {
		if atomic.AddInt32(&calls, 1) < 3 {
			return errors.New("transient")
		}
		close(done)
		return nil
	}, QueueConfig{Workers: 1, MaxRetries: 5, RetryDelay: time.Millisecond})
	q.Start(context.Background())
	defer q.Stop()

	require.NoError(t, q.EnqueueContext(context.Background(), Job{ID: "1", Type: "mail.send"}))
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("job never succeeded")
	}
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestQueuePermanentErrorsAreNotRetried(t *testing.T) {
	var calls int32
	q := NewQueue("test", func(ctx context.Context, job Job) error {
		atomic.AddInt32(&calls, 1)
		return Permanent(ErrUnexpectedPayload)
	}, QueueConfig{Workers: 1, MaxRetries: 5, RetryDelay: time.Millisecond})
	q.Start(context.Background())

	require.NoError(t, q.EnqueueContext(context.Background(), Job{ID: "1"}))
	time.Sleep(50 * time.Millisecond)
	q.Stop()
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestQueueRejectsBeforeStart(t *testing.T) {
	q := NewQueue("test", func(ctx context.Context, job Job) error { return nil }, QueueConfig{})
	assert.Error(t, q.EnqueueContext(context.Background(), Job{ID: "1"}))
}

func TestPermanent(t *testing.T) {
	assert.Nil(t, Permanent(nil))
	err := Permanent(ErrUnexpectedPayload)
	assert.True(t, IsPermanent(err))
	assert.ErrorIs(t, err, ErrUnexpectedPayload)
	assert.False(t, IsPermanent(errors.New("x")))
}

func TestEnqueueContextGivesUpWhenBufferFull(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{}, 1)
	q := NewQueue("test", func(ctx context.Context, job Job) error {
		started <- struct{}{}
		<-release
		return nil
	}, QueueConfig{Workers: 1, BufferSize: 1})
	q.Start(context.Background())
	defer func() {
		close(release)
		q.Stop()
	}()

	require.NoError(t, q.EnqueueContext(context.Background(), Job{ID: "busy"}))
	<-started
	require.NoError(t, q.EnqueueContext(context.Background(), Job{ID: "buffered"}))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	begin := time.Now()
	err := q.EnqueueContext(ctx, Job{ID: "overflow"})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(begin), time.Second)
}

func TestDrainHandlesQueuedJobs(t *testing.T) {
	var handled, calls int32
	q := NewQueue("test", func(ctx context.Context, job Job) error {
		if job.ID == "flaky" && atomic.AddInt32(&calls, 1) == 1 {
			return errors.New("transient")
		}
		time.Sleep(5 * time.Millisecond)
		atomic.AddInt32(&handled, 1)
		return nil
	}, QueueConfig{Workers: 1, BufferSize: 8, RetryDelay: 20 * time.Millisecond})
	q.Start(context.Background())

	require.NoError(t, q.EnqueueContext(context.Background(), Job{ID: "flaky"}))
	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, q.EnqueueContext(context.Background(), Job{ID: id}))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	q.Drain(ctx)

	assert.Equal(t, int32(4), atomic.LoadInt32(&handled))
	assert.Error(t, q.EnqueueContext(context.Background(), Job{ID: "late"}))
}
