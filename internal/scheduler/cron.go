package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	log "github.com/sirupsen/logrus"

	"feedwatch/internal/model"
)

// Job 一次 tick 执行的检查
type Job func(ctx context.Context, key model.FeedKey)

type entry struct {
	id       cron.EntryID
	interval time.Duration
}

// guard 同一订阅的检查互斥, 已在运行时直接跳过
type guard struct {
	sem chan struct{}
}

func newGuard() *guard {
	return &guard{sem: make(chan struct{}, 1)}
}

func (g *guard) tryWith(fn func()) bool {
	select {
	case g.sem <- struct{}{}:
		defer func() { <-g.sem }()
		fn()
		return true
	default:
		return false
	}
}

// Scheduler 为每个订阅维护一个独立的周期任务
//
// 每个订阅只有一个 guard, 停用, 恢复, 改周期和重新添加都沿用它.
// 同一订阅的定时检查和手动检查任何时候最多只有一个在运行.
type Scheduler struct {
	cron *cron.Cron
	job  Job

	ctx    context.Context
	cancel context.CancelFunc
	manual sync.WaitGroup // 正在运行的手动检查

	mu      sync.Mutex
	entries map[model.FeedKey]*entry
	guards  map[model.FeedKey]*guard
	stopped bool
}

func NewScheduler(job Job) *Scheduler {
	logger := cron.PrintfLogger(log.StandardLogger())
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron:    cron.New(cron.WithChain(cron.Recover(logger)), cron.WithLogger(logger)),
		job:     job,
		ctx:     ctx,
		cancel:  cancel,
		entries: make(map[model.FeedKey]*entry),
		guards:  make(map[model.FeedKey]*guard),
	}
}

func (s *Scheduler) Start() {
	s.cron.Start()
	log.Info("[Cron] Scheduler started")
}

// Schedule 开始或替换订阅的周期任务; 周期不变时不做任何事
func (s *Scheduler) Schedule(key model.FeedKey, interval time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.entries[key]; ok {
		if e.interval == interval {
			return
		}
		// 替换后首次触发距现在一个完整周期
		s.cron.Remove(e.id)
		e.id = s.cron.Schedule(cron.Every(interval), s.tickJob(key, s.guardLocked(key)))
		e.interval = interval
		log.WithFields(log.Fields{"feed": key.String(), "interval": interval}).Info("[Cron] Rescheduled feed")
		return
	}

	s.entries[key] = &entry{
		id:       s.cron.Schedule(cron.Every(interval), s.tickJob(key, s.guardLocked(key))),
		interval: interval,
	}
	scheduledFeeds.Set(float64(len(s.entries)))
	log.WithFields(log.Fields{"feed": key.String(), "interval": interval}).Debug("[Cron] Scheduled feed")
}

func (s *Scheduler) guardLocked(key model.FeedKey) *guard {
	g, ok := s.guards[key]
	if !ok {
		g = newGuard()
		s.guards[key] = g
	}
	return g
}

// Unschedule 停止订阅的周期任务, 正在执行的 tick 会继续运行到结束
func (s *Scheduler) Unschedule(key model.FeedKey) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok {
		return
	}
	s.cron.Remove(e.id)
	delete(s.entries, key)
	scheduledFeeds.Set(float64(len(s.entries)))
	log.WithField("feed", key.String()).Debug("[Cron] Unscheduled feed")
}

// RunExclusive 在该订阅的互斥保护下执行 fn, 与周期任务共享同一个 guard; 已有检查在运行时返回 false.
// fn 拿到的是调度器的 context, 只会在 Stop 时被取消
func (s *Scheduler) RunExclusive(key model.FeedKey, fn func(ctx context.Context)) bool {
	s.mu.Lock()
	g := s.guardLocked(key)
	tracked := !s.stopped
	if tracked {
		s.manual.Add(1)
	}
	s.mu.Unlock()
	if tracked {
		defer s.manual.Done()
	}

	return g.tryWith(func() { fn(s.ctx) })
}

func (s *Scheduler) tickJob(key model.FeedKey, g *guard) cron.Job {
	return cron.FuncJob(func() {
		if !g.tryWith(func() { s.job(s.ctx, key) }) {
			skippedTicks.Inc()
			log.WithField("feed", key.String()).Info("[Cron] Previous check still running, skipping tick")
		}
	})
}

func (s *Scheduler) IsScheduled(key model.FeedKey) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.entries[key]
	return ok
}

// Active 当前处于 Scheduled 状态的订阅数
func (s *Scheduler) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// NextRun 获取下次检查时间, 未调度时返回零值
func (s *Scheduler) NextRun(key model.FeedKey) time.Time {
	s.mu.Lock()
	e, ok := s.entries[key]
	s.mu.Unlock()
	if !ok {
		return time.Time{}
	}
	return s.cron.Entry(e.id).Next
}

// Stop 取消所有定时器, 最多等待 grace 让正在执行的定时和手动检查结束, 之后取消其 context
func (s *Scheduler) Stop(grace time.Duration) {
	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()

	cronDone := s.cron.Stop()
	done := make(chan struct{})
	go func() {
		<-cronDone.Done()
		s.manual.Wait()
		close(done)
	}()

	timer := time.NewTimer(grace)
	defer timer.Stop()

	select {
	case <-done:
		log.Info("[Cron] Scheduler stopped")
	case <-timer.C:
		log.Warnf("[Cron] Running checks did not finish within %s, cancelling", grace)
	}
	s.cancel()

	s.mu.Lock()
	s.entries = make(map[model.FeedKey]*entry)
	s.mu.Unlock()
	scheduledFeeds.Set(0)
}
