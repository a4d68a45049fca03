// internal/scheduler/scheduler_test.go
package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/user/agentchat/internal/chattest"
	"github.com/user/agentchat/internal/metrics"
	"github.com/user/agentchat/internal/state"
	"github.com/user/agentchat/internal/threads"
	"github.com/user/agentchat/pkg/chatapi"
)

func TestSchedulerFiresJob(t *testing.T) {
	var fires atomic.Int32
	sched := New("test", "* * * * * *", func(context.Context) error {
		fires.Add(1)
		return nil
	})
	if err := sched.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer sched.Stop()

	// Wait up to 2.5 seconds for at least one fire
	deadline := time.After(2500 * time.Millisecond)
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-deadline:
			t.Fatalf("job did not fire within 2.5s, fires=%d", fires.Load())
		case <-ticker.C:
			if fires.Load() > 0 {
				return
			}
		}
	}
}

func TestSchedulerRejectsInvalidSchedule(t *testing.T) {
	sched := New("test", "not a schedule", func(context.Context) error { return nil })
	if err := sched.Start(context.Background()); err == nil {
		t.Fatal("expected error for invalid schedule")
	}
}

func TestSchedulerSkipsOverlappingRuns(t *testing.T) {
	var fires atomic.Int32
	release := make(chan struct{})
	sched := New("test", "* * * * * *", func(ctx context.Context) error {
		fires.Add(1)
		select {
		case <-release:
		case <-ctx.Done():
		}
		return nil
	})
	if err := sched.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	time.Sleep(2500 * time.Millisecond)
	close(release)
	sched.Stop()

	if n := fires.Load(); n != 1 {
		t.Errorf("expected 1 run while the first was blocked, got %d", n)
	}
}

func TestSyncFetchesUncachedThreads(t *testing.T) {
	remote := new(chattest.MockGateway)
	kv := state.NewMemoryKV()
	store := threads.NewStore(remote, kv)
	ctx := context.Background()

	remote.On("ListThreads", chattest.Ctx, "a1").Return([]chatapi.ThreadEntry{
		{ID: "r1", MiddlewareID: "m1", Name: "one"},
		{ID: "r2", MiddlewareID: "m2", Name: "two"},
	}, nil)
	remote.On("ListMessages", chattest.Ctx, "r1").Return([]chatapi.MessageRecord{
		{ID: "x", Role: "user", Content: "hi"},
	}, nil).Once()
	remote.On("ListMessages", chattest.Ctx, "r2").Return(nil, errors.New("boom")).Once()

	before := testutil.ToFloat64(metrics.SyncRuns.WithLabelValues("partial"))
	res, err := NewSyncer(store).Run(ctx, []string{"a1"})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Agents)
	assert.Equal(t, 2, res.Threads)
	assert.Equal(t, 1, res.Fetched)
	assert.Equal(t, 1, res.Failed)
	assert.Equal(t, before+1, testutil.ToFloat64(metrics.SyncRuns.WithLabelValues("partial")))

	th, ok, err := store.Thread(ctx, "a1", "m1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Len(t, th.Messages, 1)

	// m1 is cached now; only m2 is fetched again.
	remote.On("ListMessages", chattest.Ctx, "r2").Return([]chatapi.MessageRecord{
		{ID: "y", Role: "assistant", Content: "hello"},
	}, nil).Once()
	res, err = NewSyncer(store).Run(ctx, []string{"a1"})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Fetched)
	assert.Equal(t, 0, res.Failed)
	remote.AssertNumberOfCalls(t, "ListMessages", 3)
}

func TestSyncStopsWhenRateLimited(t *testing.T) {
	remote := new(chattest.MockGateway)
	store := threads.NewStore(remote, state.NewMemoryKV())
	ctx := context.Background()

	remote.On("ListThreads", chattest.Ctx, "a1").Return([]chatapi.ThreadEntry{
		{ID: "r1", MiddlewareID: "m1"},
	}, nil)
	remote.On("ListMessages", chattest.Ctx, "r1").Return(nil, &chatapi.StatusError{Op: "list messages", StatusCode: 429})

	before := testutil.ToFloat64(metrics.SyncRuns.WithLabelValues("rate_limited"))
	res, err := NewSyncer(store).Run(ctx, []string{"a1", "a2"})
	require.Error(t, err)
	assert.True(t, chatapi.IsRateLimited(err))
	assert.Equal(t, 1, res.Failed)
	assert.Equal(t, before+1, testutil.ToFloat64(metrics.SyncRuns.WithLabelValues("rate_limited")))
	remote.AssertNotCalled(t, "ListThreads", mock.Anything, "a2")
}

func TestSyncJobResolvesAgents(t *testing.T) {
	remote := new(chattest.MockGateway)
	store := threads.NewStore(remote, state.NewMemoryKV())
	remote.On("ListThreads", chattest.Ctx, "a1").Return([]chatapi.ThreadEntry{}, nil).Once()

	job := NewSyncer(store).Job(func(context.Context) ([]string, error) {
		return []string{"a1"}, nil
	})
	require.NoError(t, job(context.Background()))

	failing := NewSyncer(store).Job(func(context.Context) ([]string, error) {
		return nil, errors.New("no agents")
	})
	assert.Error(t, failing(context.Background()))
	remote.AssertExpectations(t)
}
