package service

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"feedwatch/internal/model"
	"feedwatch/internal/scheduler"
)

type EngineOptions struct {
	DefaultInterval time.Duration
	MinInterval     time.Duration
	MaxInterval     time.Duration
	ShutdownGrace   time.Duration
}

// Engine 对外暴露订阅管理操作, 并把注册表, 调度器和 Poller 串起来
type Engine struct {
	registry  *Registry
	poller    *Poller
	scheduler *scheduler.Scheduler
	opts      EngineOptions
	now       func() time.Time
}

func NewEngine(registry *Registry, poller *Poller, opts EngineOptions) *Engine {
	if opts.DefaultInterval <= 0 {
		opts.DefaultInterval = model.DefaultInterval
	}
	if opts.MinInterval <= 0 {
		opts.MinInterval = model.MinInterval
	}
	if opts.MaxInterval <= 0 {
		opts.MaxInterval = model.MaxInterval
	}
	e := &Engine{
		registry: registry,
		poller:   poller,
		opts:     opts,
		now:      time.Now,
	}
	e.scheduler = scheduler.NewScheduler(e.tick)
	return e
}

// Start 加载注册表并为所有启用的订阅安排定时检查
func (e *Engine) Start(ctx context.Context) error {
	if err := e.registry.Load(ctx); err != nil {
		return err
	}
	for _, entry := range e.registry.All() {
		if entry.Active {
			e.scheduler.Schedule(entry.Key(), entry.Interval)
		}
	}
	e.scheduler.Start()
	log.WithField("scheduled", e.scheduler.Active()).Info("Engine started")
	return nil
}

// Stop 取消所有定时器, 等待正在运行的检查 (最多 ShutdownGrace), 最后保存一次
func (e *Engine) Stop() error {
	e.scheduler.Stop(e.opts.ShutdownGrace)
	if err := e.registry.Save(context.Background()); err != nil {
		return err
	}
	log.Info("Engine stopped")
	return nil
}

func (e *Engine) tick(ctx context.Context, key model.FeedKey) {
	if _, err := e.poller.Check(ctx, key); err != nil && errors.Is(err, model.ErrNotFound) {
		e.scheduler.Unschedule(key)
	}
}

// AddFeed 校验并添加订阅. 添加时同步抓取一次: 失败返回 ErrInvalidFeed, 成功则以当前
// 最新条目建立基线, 之后只投递新发布的条目
func (e *Engine) AddFeed(ctx context.Context, destination, rawURL string, interval time.Duration) (model.FeedEntry, error) {
	destination = strings.TrimSpace(destination)
	if destination == "" {
		return model.FeedEntry{}, model.ErrInvalidDestination
	}
	feedURL, err := NormalizeURL(rawURL)
	if err != nil {
		return model.FeedEntry{}, err
	}
	if interval == 0 {
		interval = e.opts.DefaultInterval
	}
	if err := e.checkInterval(interval); err != nil {
		return model.FeedEntry{}, err
	}

	key := model.FeedKey{Destination: destination, URL: feedURL}
	if err := e.registry.CanAdd(key); err != nil {
		return model.FeedEntry{}, err
	}

	doc, err := e.poller.FetchDocument(ctx, feedURL)
	if err != nil {
		return model.FeedEntry{}, fmt.Errorf("%w: %v", model.ErrInvalidFeed, err)
	}

	now := e.now()
	entry := model.FeedEntry{
		Destination: destination,
		URL:         feedURL,
		Interval:    interval,
		LastChecked: &now,
		Active:      true,
		Title:       doc.Title,
		Description: doc.Description,
	}
	if entry.Title == "" {
		entry.Title = feedURL
	}
	if newest, ok := doc.Newest(); ok {
		entry.Watermark = newest.ID
	}

	entry, err = e.registry.Add(ctx, entry)
	if err != nil {
		return model.FeedEntry{}, err
	}
	e.scheduler.Schedule(key, entry.Interval)

	log.WithFields(log.Fields{
		"destination": destination,
		"url":         feedURL,
		"interval":    interval,
	}).Info("Feed added")
	return entry, nil
}

// RemoveFeed 删除订阅并停止调度; 正在运行的检查会跑完但结果被丢弃
func (e *Engine) RemoveFeed(ctx context.Context, destination, rawURL string) error {
	key, err := e.key(destination, rawURL)
	if err != nil {
		return err
	}
	if err := e.registry.Remove(ctx, key); err != nil {
		return err
	}
	e.scheduler.Unschedule(key)

	log.WithFields(log.Fields{
		"destination": key.Destination,
		"url":         key.URL,
	}).Info("Feed removed")
	return nil
}

func (e *Engine) ListFeeds(destination string) []model.FeedEntry {
	return e.registry.List(strings.TrimSpace(destination))
}

// SetActive 启用或停用订阅; 停用的订阅保留但不再调度
func (e *Engine) SetActive(ctx context.Context, destination, rawURL string, active bool) (model.FeedEntry, error) {
	key, err := e.key(destination, rawURL)
	if err != nil {
		return model.FeedEntry{}, err
	}
	entry, err := e.registry.SetActive(ctx, key, active)
	if err != nil {
		return model.FeedEntry{}, err
	}
	if active {
		e.scheduler.Schedule(key, entry.Interval)
	} else {
		e.scheduler.Unschedule(key)
	}
	return entry, nil
}

// SetInterval 修改检查周期, 启用中的订阅会从现在起按新周期重新计时
func (e *Engine) SetInterval(ctx context.Context, destination, rawURL string, interval time.Duration) (model.FeedEntry, error) {
	key, err := e.key(destination, rawURL)
	if err != nil {
		return model.FeedEntry{}, err
	}
	if err := e.checkInterval(interval); err != nil {
		return model.FeedEntry{}, err
	}
	entry, err := e.registry.SetInterval(ctx, key, interval)
	if err != nil {
		return model.FeedEntry{}, err
	}
	if entry.Active {
		e.scheduler.Schedule(key, interval)
	}
	return entry, nil
}

// CheckNow 立即检查一次, 与定时检查互斥. 检查在调度器的 context 上运行,
// 调用方断开不会中断投递, 只有 Stop 会
func (e *Engine) CheckNow(ctx context.Context, destination, rawURL string) (*CheckResult, error) {
	key, err := e.key(destination, rawURL)
	if err != nil {
		return nil, err
	}
	if _, ok := e.registry.Get(key); !ok {
		return nil, fmt.Errorf("%w: %s", model.ErrNotFound, key.URL)
	}

	var res *CheckResult
	ran := e.scheduler.RunExclusive(key, func(runCtx context.Context) {
		res, err = e.poller.Check(runCtx, key)
	})
	if !ran {
		return nil, model.ErrCheckInProgress
	}
	return res, err
}

// NextRun 下次定时检查的时间, 未调度时为零值
func (e *Engine) NextRun(destination, rawURL string) time.Time {
	key, err := e.key(destination, rawURL)
	if err != nil {
		return time.Time{}
	}
	return e.scheduler.NextRun(key)
}

func (e *Engine) key(destination, rawURL string) (model.FeedKey, error) {
	feedURL, err := NormalizeURL(rawURL)
	if err != nil {
		return model.FeedKey{}, err
	}
	return model.FeedKey{Destination: strings.TrimSpace(destination), URL: feedURL}, nil
}

func (e *Engine) checkInterval(d time.Duration) error {
	if d < e.opts.MinInterval || d > e.opts.MaxInterval {
		return fmt.Errorf("%w: %s not in [%s, %s]", model.ErrInvalidInterval, d, e.opts.MinInterval, e.opts.MaxInterval)
	}
	return nil
}

// NormalizeURL 校验订阅地址, 只接受带主机名的 http/https 地址
func NormalizeURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("%w: empty", model.ErrInvalidURL)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %v", model.ErrInvalidURL, err)
	}
	u.Scheme = strings.ToLower(u.Scheme)
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("%w: unsupported scheme %q", model.ErrInvalidURL, u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("%w: missing host", model.ErrInvalidURL)
	}
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""
	return u.String(), nil
}
