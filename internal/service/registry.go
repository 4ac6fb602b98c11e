package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/samber/lo"
	log "github.com/sirupsen/logrus"

	"feedwatch/internal/model"
)

// SnapshotStore 快照的读写
type SnapshotStore interface {
	Load(ctx context.Context) (*model.Snapshot, error)
	Save(ctx context.Context, snap *model.Snapshot) error
}

// Registry 持有所有订阅, 写操作串行, 读操作可并发
//
// 内存中的状态是权威状态: 保存失败不会回滚, 下一次修改会重新保存完整快照.
type Registry struct {
	store           SnapshotStore
	maxPerDest      int
	defaultInterval time.Duration

	mu      sync.RWMutex
	entries map[model.FeedKey]*model.FeedEntry

	saveMu sync.Mutex // 保证快照按修改顺序落盘
	dirty  bool
}

func NewRegistry(store SnapshotStore, maxPerDest int, defaultInterval time.Duration) *Registry {
	return &Registry{
		store:           store,
		maxPerDest:      maxPerDest,
		defaultInterval: defaultInterval,
		entries:         make(map[model.FeedKey]*model.FeedEntry),
	}
}

// Load 从存储恢复注册表. 存储为空得到空注册表; 快照损坏时记录错误并以空注册表启动
func (r *Registry) Load(ctx context.Context) error {
	snap, err := r.store.Load(ctx)
	if errors.Is(err, model.ErrCorruptSnapshot) {
		log.WithError(err).Error("Snapshot is corrupt, starting with an empty registry")
		snap = model.NewSnapshot()
	} else if err != nil {
		// 读取失败不等于损坏: 中止启动, 快照保持原样
		return err
	}

	entries := make(map[model.FeedKey]*model.FeedEntry)
	for _, e := range snap.Entries(r.defaultInterval) {
		key := e.Key()
		if _, dup := entries[key]; dup {
			log.WithField("feed", key.String()).Warn("Duplicate feed in snapshot, keeping the first")
			continue
		}
		entries[key] = &e
	}

	r.mu.Lock()
	r.entries = entries
	r.mu.Unlock()

	log.WithFields(log.Fields{
		"feeds":        len(entries),
		"destinations": len(snap.Destinations),
	}).Info("Registry loaded")
	return nil
}

// Save 把当前状态写入存储
func (r *Registry) Save(ctx context.Context) error {
	r.saveMu.Lock()
	defer r.saveMu.Unlock()

	snap := model.SnapshotFromEntries(r.All(), time.Now())
	if err := r.store.Save(ctx, snap); err != nil {
		r.dirty = true
		persistFailures.Inc()
		log.WithError(err).Error("Failed to save registry, will retry on next change")
		if errors.Is(err, model.ErrPersistence) {
			return err
		}
		return fmt.Errorf("%w: %v", model.ErrPersistence, err)
	}
	if r.dirty {
		log.Info("Registry saved after earlier failure")
	}
	r.dirty = false
	return nil
}

// Dirty 上一次保存是否失败
func (r *Registry) Dirty() bool {
	r.saveMu.Lock()
	defer r.saveMu.Unlock()
	return r.dirty
}

// Add 插入新订阅并保存; 保存失败时订阅仍然保留在内存中
func (r *Registry) Add(ctx context.Context, entry model.FeedEntry) (model.FeedEntry, error) {
	key := entry.Key()

	r.mu.Lock()
	if _, ok := r.entries[key]; ok {
		r.mu.Unlock()
		return model.FeedEntry{}, fmt.Errorf("%w: %s", model.ErrAlreadyExists, entry.URL)
	}
	if r.countLocked(entry.Destination) >= r.maxPerDest {
		r.mu.Unlock()
		return model.FeedEntry{}, fmt.Errorf("%w: at most %d feeds", model.ErrLimitExceeded, r.maxPerDest)
	}
	if entry.Interval <= 0 {
		entry.Interval = r.defaultInterval
	}
	stored := copyEntry(&entry)
	r.entries[key] = &stored
	r.mu.Unlock()

	r.Save(ctx)
	return entry, nil
}

// CanAdd 不修改状态地检查 Add 是否会因重复或容量被拒绝
func (r *Registry) CanAdd(key model.FeedKey) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if _, ok := r.entries[key]; ok {
		return fmt.Errorf("%w: %s", model.ErrAlreadyExists, key.URL)
	}
	if r.countLocked(key.Destination) >= r.maxPerDest {
		return fmt.Errorf("%w: at most %d feeds", model.ErrLimitExceeded, r.maxPerDest)
	}
	return nil
}

func (r *Registry) Remove(ctx context.Context, key model.FeedKey) error {
	r.mu.Lock()
	if _, ok := r.entries[key]; !ok {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", model.ErrNotFound, key.URL)
	}
	delete(r.entries, key)
	r.mu.Unlock()

	r.Save(ctx)
	return nil
}

func (r *Registry) Get(key model.FeedKey) (model.FeedEntry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[key]
	if !ok {
		return model.FeedEntry{}, false
	}
	return copyEntry(e), true
}

// List 返回某个目标的订阅快照, 按标题排序
func (r *Registry) List(destination string) []model.FeedEntry {
	r.mu.RLock()
	list := make([]model.FeedEntry, 0)
	for _, e := range r.entries {
		if e.Destination == destination {
			list = append(list, copyEntry(e))
		}
	}
	r.mu.RUnlock()

	sortEntries(list)
	return list
}

// All 返回全部订阅
func (r *Registry) All() []model.FeedEntry {
	r.mu.RLock()
	list := lo.MapToSlice(r.entries, func(_ model.FeedKey, e *model.FeedEntry) model.FeedEntry {
		return copyEntry(e)
	})
	r.mu.RUnlock()

	sort.Slice(list, func(i, j int) bool {
		if list[i].Destination != list[j].Destination {
			return list[i].Destination < list[j].Destination
		}
		return list[i].URL < list[j].URL
	})
	return list
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Destinations 返回拥有订阅的目标数
func (r *Registry) Destinations() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(lo.Uniq(lo.MapToSlice(r.entries, func(k model.FeedKey, _ *model.FeedEntry) string {
		return k.Destination
	})))
}

// UpdateMetadata 刷新缓存的标题和描述, 不立即保存
func (r *Registry) UpdateMetadata(key model.FeedKey, title, description string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[key]
	if !ok {
		return false
	}
	changed := false
	if title != "" && title != e.Title {
		e.Title = title
		changed = true
	}
	if description != "" && description != e.Description {
		e.Description = description
		changed = true
	}
	return changed
}

// UpdateWatermark 记录一次检查的结果并保存. watermark 为空时保持原值;
// lastChecked 只会前进. 订阅已被删除时什么也不做并返回 false
func (r *Registry) UpdateWatermark(ctx context.Context, key model.FeedKey, watermark string, checkedAt time.Time) bool {
	r.mu.Lock()
	e, ok := r.entries[key]
	if !ok {
		r.mu.Unlock()
		return false
	}
	if watermark != "" {
		e.Watermark = watermark
	}
	if e.LastChecked == nil || checkedAt.After(*e.LastChecked) {
		t := checkedAt
		e.LastChecked = &t
	}
	r.mu.Unlock()

	r.Save(ctx)
	return true
}

// SetActive 修改订阅的启用状态并保存
func (r *Registry) SetActive(ctx context.Context, key model.FeedKey, active bool) (model.FeedEntry, error) {
	return r.mutate(ctx, key, func(e *model.FeedEntry) { e.Active = active })
}

// SetInterval 修改订阅的检查周期并保存
func (r *Registry) SetInterval(ctx context.Context, key model.FeedKey, interval time.Duration) (model.FeedEntry, error) {
	return r.mutate(ctx, key, func(e *model.FeedEntry) { e.Interval = interval })
}

func (r *Registry) mutate(ctx context.Context, key model.FeedKey, fn func(e *model.FeedEntry)) (model.FeedEntry, error) {
	r.mu.Lock()
	e, ok := r.entries[key]
	if !ok {
		r.mu.Unlock()
		return model.FeedEntry{}, fmt.Errorf("%w: %s", model.ErrNotFound, key.URL)
	}
	fn(e)
	updated := copyEntry(e)
	r.mu.Unlock()

	r.Save(ctx)
	return updated, nil
}

func (r *Registry) countLocked(destination string) int {
	n := 0
	for k := range r.entries {
		if k.Destination == destination {
			n++
		}
	}
	return n
}

func copyEntry(e *model.FeedEntry) model.FeedEntry {
	c := *e
	if e.LastChecked != nil {
		t := *e.LastChecked
		c.LastChecked = &t
	}
	return c
}

func sortEntries(list []model.FeedEntry) {
	sort.Slice(list, func(i, j int) bool {
		if list[i].Title != list[j].Title {
			return list[i].Title < list[j].Title
		}
		return list[i].URL < list[j].URL
	})
}
