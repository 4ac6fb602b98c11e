package model

import (
	"sort"
	"time"
)

const SnapshotVersion = 1

// FeedRecord 快照中的单条订阅记录, 可选字段缺失时由 ToEntry 补默认值
type FeedRecord struct {
	ID          uint       `gorm:"primaryKey" json:"-"`
	Destination string     `gorm:"size:255;not null;uniqueIndex:idx_feed_key" json:"destination"`
	URL         string     `gorm:"size:2048;not null;uniqueIndex:idx_feed_key" json:"url"`
	IntervalMS  *int64     `json:"interval_ms,omitempty"`
	LastChecked *time.Time `json:"last_checked"`
	Watermark   *string    `json:"watermark"`
	Active      *bool      `json:"active,omitempty"`
	Title       string     `gorm:"size:500" json:"title"`
	Description string     `gorm:"type:text" json:"description"`
}

func (FeedRecord) TableName() string {
	return "feed_records"
}

// Snapshot 整个注册表的持久化形式, 按 destination 分组
type Snapshot struct {
	Version      int                     `json:"version"`
	SavedAt      time.Time               `json:"saved_at"`
	Destinations map[string][]FeedRecord `json:"destinations"`
}

func NewSnapshot() *Snapshot {
	return &Snapshot{
		Version:      SnapshotVersion,
		Destinations: make(map[string][]FeedRecord),
	}
}

// RecordFromEntry 把内存中的订阅转换为快照记录
func RecordFromEntry(e FeedEntry) FeedRecord {
	ms := e.Interval.Milliseconds()
	active := e.Active
	rec := FeedRecord{
		Destination: e.Destination,
		URL:         e.URL,
		IntervalMS:  &ms,
		Active:      &active,
		Title:       e.Title,
		Description: e.Description,
	}
	if e.LastChecked != nil {
		t := e.LastChecked.UTC()
		rec.LastChecked = &t
	}
	if e.Watermark != "" {
		wm := e.Watermark
		rec.Watermark = &wm
	}
	return rec
}

// ToEntry 还原订阅; interval 缺失或非法时使用 defaultInterval, active 缺失视为 true
func (r FeedRecord) ToEntry(defaultInterval time.Duration) FeedEntry {
	e := FeedEntry{
		Destination: r.Destination,
		URL:         r.URL,
		Interval:    defaultInterval,
		Active:      true,
		Title:       r.Title,
		Description: r.Description,
	}
	if r.IntervalMS != nil && *r.IntervalMS > 0 {
		e.Interval = time.Duration(*r.IntervalMS) * time.Millisecond
	}
	if r.Active != nil {
		e.Active = *r.Active
	}
	if r.LastChecked != nil {
		t := *r.LastChecked
		e.LastChecked = &t
	}
	if r.Watermark != nil {
		e.Watermark = *r.Watermark
	}
	return e
}

// SnapshotFromEntries 按 destination 分组, 组内按 URL 排序以保证输出稳定
func SnapshotFromEntries(entries []FeedEntry, savedAt time.Time) *Snapshot {
	snap := NewSnapshot()
	snap.SavedAt = savedAt.UTC()
	for _, e := range entries {
		snap.Destinations[e.Destination] = append(snap.Destinations[e.Destination], RecordFromEntry(e))
	}
	for _, records := range snap.Destinations {
		sort.Slice(records, func(i, j int) bool { return records[i].URL < records[j].URL })
	}
	return snap
}

// Entries 展开快照; 记录缺少 destination 时取分组键
func (s *Snapshot) Entries(defaultInterval time.Duration) []FeedEntry {
	if s == nil {
		return nil
	}
	var entries []FeedEntry
	for dest, records := range s.Destinations {
		for _, r := range records {
			if r.Destination == "" {
				r.Destination = dest
			}
			entries = append(entries, r.ToEntry(defaultInterval))
		}
	}
	return entries
}

// Records 返回所有记录的平铺列表
func (s *Snapshot) Records() []FeedRecord {
	if s == nil {
		return nil
	}
	var records []FeedRecord
	for dest, group := range s.Destinations {
		for _, r := range group {
			if r.Destination == "" {
				r.Destination = dest
			}
			records = append(records, r)
		}
	}
	return records
}
