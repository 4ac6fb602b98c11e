package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"feedwatch/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testKey = model.FeedKey{Destination: "chan-1", URL: "https://example.com/rss"}

func TestScheduleIdempotentAndUnschedule(t *testing.T) {
	s := NewScheduler(func(ctx context.Context, key model.FeedKey) {})
	s.Start()
	defer s.Stop(time.Second)

	s.Schedule(testKey, time.Minute)
	first := s.NextRun(testKey)
	s.Schedule(testKey, time.Minute)

	assert.Equal(t, 1, s.Active())
	assert.True(t, s.IsScheduled(testKey))
	assert.Equal(t, first, s.NextRun(testKey))

	s.Unschedule(testKey)
	s.Unschedule(testKey)
	assert.Equal(t, 0, s.Active())
	assert.True(t, s.NextRun(testKey).IsZero())
}

func TestRescheduleStartsFullPeriodFromNow(t *testing.T) {
	s := NewScheduler(func(ctx context.Context, key model.FeedKey) {})
	s.Start()
	defer s.Stop(time.Second)

	s.Schedule(testKey, time.Minute)
	before := time.Now()
	s.Schedule(testKey, time.Hour)

	// cron 在 Start 之后通过 channel 添加条目, Next 可能稍后才计算
	require.Eventually(t, func() bool { return !s.NextRun(testKey).IsZero() }, time.Second, 10*time.Millisecond)
	next := s.NextRun(testKey)
	assert.WithinDuration(t, before.Add(time.Hour), next, 2*time.Second)
	assert.Equal(t, 1, s.Active())
}

func TestOverlappingTicksAreSkipped(t *testing.T) {
	var running, maxRunning, runs atomic.Int32
	release := make(chan struct{})

	s := NewScheduler(func(ctx context.Context, key model.FeedKey) {
		n := running.Add(1)
		defer running.Add(-1)
		for {
			m := maxRunning.Load()
			if n <= m || maxRunning.CompareAndSwap(m, n) {
				break
			}
		}
		runs.Add(1)
		select {
		case <-release:
		case <-ctx.Done():
		}
	})
	s.Start()

	s.Schedule(testKey, time.Second)

	// 第一次 tick 阻塞期间至少再经过两个周期
	require.Eventually(t, func() bool { return runs.Load() == 1 }, 3*time.Second, 10*time.Millisecond)
	time.Sleep(2500 * time.Millisecond)

	assert.Equal(t, int32(1), runs.Load())
	assert.Equal(t, int32(1), maxRunning.Load())

	ran := s.RunExclusive(testKey, func(ctx context.Context) { t.Fatal("manual check must not run concurrently") })
	assert.False(t, ran)

	close(release)
	s.Stop(time.Second)
	assert.Equal(t, int32(1), maxRunning.Load())
}

func TestStopCancelsAfterGrace(t *testing.T) {
	started := make(chan struct{})
	var once sync.Once
	var cancelled atomic.Bool

	s := NewScheduler(func(ctx context.Context, key model.FeedKey) {
		once.Do(func() { close(started) })
		<-ctx.Done()
		cancelled.Store(true)
	})
	s.Start()
	s.Schedule(testKey, time.Second)

	select {
	case <-started:
	case <-time.After(3 * time.Second):
		t.Fatal("tick never started")
	}

	begin := time.Now()
	s.Stop(100 * time.Millisecond)

	assert.Less(t, time.Since(begin), time.Second)
	assert.Eventually(t, cancelled.Load, time.Second, 10*time.Millisecond)
	assert.Equal(t, 0, s.Active())
}

// hold 在 key 的 guard 内阻塞, 直到 release 关闭
func hold(t *testing.T, s *Scheduler, key model.FeedKey) (release func(), finished <-chan bool) {
	t.Helper()
	entered := make(chan struct{})
	done := make(chan bool, 1)
	gate := make(chan struct{})
	go func() {
		done <- s.RunExclusive(key, func(ctx context.Context) {
			close(entered)
			<-gate
		})
	}()
	select {
	case <-entered:
	case <-time.After(time.Second):
		t.Fatal("first check never started")
	}
	return func() { close(gate) }, done
}

func TestRunExclusiveUnscheduledFeed(t *testing.T) {
	s := NewScheduler(func(ctx context.Context, key model.FeedKey) {})
	defer s.Stop(time.Second)

	release, finished := hold(t, s, testKey)

	assert.False(t, s.RunExclusive(testKey, func(ctx context.Context) { t.Fatal("ran concurrently") }))

	other := model.FeedKey{Destination: "chan-1", URL: "https://other.example/rss"}
	assert.True(t, s.RunExclusive(other, func(ctx context.Context) {}))

	release()
	assert.True(t, <-finished)

	called := false
	assert.True(t, s.RunExclusive(testKey, func(ctx context.Context) { called = true }))
	assert.True(t, called)
}

func TestGuardSurvivesUnschedule(t *testing.T) {
	s := NewScheduler(func(ctx context.Context, key model.FeedKey) {})
	s.Start()
	defer s.Stop(time.Second)

	s.Schedule(testKey, time.Hour)
	release, finished := hold(t, s, testKey)

	// 停用后恢复, 或改周期, 正在运行的检查仍然占着同一个 guard
	s.Unschedule(testKey)
	assert.False(t, s.RunExclusive(testKey, func(ctx context.Context) { t.Fatal("ran while paused") }))
	s.Schedule(testKey, time.Hour)
	assert.False(t, s.RunExclusive(testKey, func(ctx context.Context) { t.Fatal("ran after resume") }))
	s.Schedule(testKey, 2*time.Hour)
	assert.False(t, s.RunExclusive(testKey, func(ctx context.Context) { t.Fatal("ran after reschedule") }))

	release()
	assert.True(t, <-finished)
}

func TestStopWaitsForManualChecks(t *testing.T) {
	s := NewScheduler(func(ctx context.Context, key model.FeedKey) {})
	s.Start()

	var cancelled, completed atomic.Bool
	entered := make(chan struct{})
	go func() {
		s.RunExclusive(testKey, func(ctx context.Context) {
			close(entered)
			select {
			case <-time.After(200 * time.Millisecond):
			case <-ctx.Done():
				cancelled.Store(true)
			}
			completed.Store(true)
		})
	}()
	<-entered

	s.Stop(2 * time.Second)

	assert.True(t, completed.Load(), "Stop returned before the manual check finished")
	assert.False(t, cancelled.Load())
}
