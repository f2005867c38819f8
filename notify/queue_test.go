package notify

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueue_RunsTasks(t *testing.T) {
	q := NewQueue(QueueConfig{Workers: 3})

	var ran atomic.Int32
	for range 10 {
		require.True(t, q.Submit(Task{Kind: "test", Run: func(context.Context) error {
			ran.Add(1)
			return nil
		}}))
	}

	require.NoError(t, q.Stop(context.Background()))
	assert.Equal(t, int32(10), ran.Load())

	submitted, dropped, failed := q.Stats()
	assert.Equal(t, int64(10), submitted)
	assert.Zero(t, dropped)
	assert.Zero(t, failed)
}

func TestQueue_DropsWhenFull(t *testing.T) {
	q := NewQueue(QueueConfig{Workers: 1, Capacity: 1})

	release := make(chan struct{})
	started := make(chan struct{})
	block := Task{Kind: "block", Run: func(context.Context) error {
		close(started)
		<-release
		return nil
	}}
	require.True(t, q.Submit(block))
	<-started

	// worker busy, buffer has room for one
	require.True(t, q.Submit(Task{Kind: "fill", Run: func(context.Context) error { return nil }}))
	assert.False(t, q.Submit(Task{Kind: "overflow", Run: func(context.Context) error { return nil }}))

	close(release)
	require.NoError(t, q.Stop(context.Background()))

	_, dropped, _ := q.Stats()
	assert.Equal(t, int64(1), dropped)
}

func TestQueue_FailuresAndPanicsAreContained(t *testing.T) {
	q := NewQueue(QueueConfig{Workers: 1})

	q.Submit(Task{Kind: "err", Run: func(context.Context) error { return errors.New("boom") }})
	q.Submit(Task{Kind: "panic", Run: func(context.Context) error { panic("boom") }})

	require.NoError(t, q.Stop(context.Background()))
	_, _, failed := q.Stats()
	assert.Equal(t, int64(2), failed)
}

func TestQueue_TaskTimeout(t *testing.T) {
	q := NewQueue(QueueConfig{Workers: 1, TaskTimeout: 20 * time.Millisecond})

	var got error
	q.Submit(Task{Kind: "slow", Run: func(ctx context.Context) error {
		<-ctx.Done()
		got = ctx.Err()
		return got
	}})

	require.NoError(t, q.Stop(context.Background()))
	assert.ErrorIs(t, got, context.DeadlineExceeded)
}

func TestQueue_SubmitAfterStop(t *testing.T) {
	q := NewQueue(QueueConfig{})
	require.NoError(t, q.Stop(context.Background()))
	require.NoError(t, q.Stop(context.Background()))

	assert.False(t, q.Submit(Task{Kind: "late", Run: func(context.Context) error { return nil }}))
}

func TestQueue_NilSafe(t *testing.T) {
	var q *Queue
	assert.False(t, q.Submit(Task{Run: func(context.Context) error { return nil }}))
	assert.False(t, q.Publish(&LogNotifier{}, Event{Kind: KindTokenIssued}))
}

func TestQueue_Publish(t *testing.T) {
	q := NewQueue(QueueConfig{Workers: 1})

	var mu sync.Mutex
	var events []Event
	n := NotifierFunc(func(_ context.Context, e Event) error {
		mu.Lock()
		defer mu.Unlock()
		events = append(events, e)
		return nil
	})

	require.True(t, q.Publish(n, Event{Kind: KindTokenIssued, ClientID: "c1"}))
	require.NoError(t, q.Stop(context.Background()))

	require.Len(t, events, 1)
	assert.Equal(t, KindTokenIssued, events[0].Kind)
	assert.False(t, events[0].OccurredAt.IsZero(), "Publish stamps OccurredAt")
}

func TestMultiNotifier(t *testing.T) {
	var calls atomic.Int32
	ok := NotifierFunc(func(context.Context, Event) error { calls.Add(1); return nil })
	bad := NotifierFunc(func(context.Context, Event) error { calls.Add(1); return errors.New("down") })

	err := MultiNotifier{bad, nil, ok, &LogNotifier{}}.Notify(context.Background(), Event{Kind: KindTokenRevoked})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "down")
	assert.Equal(t, int32(2), calls.Load())
}
