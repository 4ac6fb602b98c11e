package model

import "time"

const (
	DefaultInterval = 5 * time.Minute
	MinInterval     = time.Minute
	MaxInterval     = 24 * time.Hour
)

// FeedKey 订阅的唯一标识: (destination, url)
type FeedKey struct {
	Destination string `json:"destination"`
	URL         string `json:"url"`
}

func (k FeedKey) String() string {
	return k.Destination + " " + k.URL
}

// FeedEntry 绑定到某个投递目标的订阅源
type FeedEntry struct {
	Destination string        `json:"destination"`
	URL         string        `json:"url"`
	Interval    time.Duration `json:"interval"`
	LastChecked *time.Time    `json:"last_checked,omitempty"`
	Watermark   string        `json:"watermark,omitempty"` // 空表示尚未建立基线
	Active      bool          `json:"active"`
	Title       string        `json:"title"`
	Description string        `json:"description"`
}

func (e *FeedEntry) Key() FeedKey {
	return FeedKey{Destination: e.Destination, URL: e.URL}
}

func (e *FeedEntry) HasWatermark() bool {
	return e.Watermark != ""
}

// Statistics 引擎运行统计
type Statistics struct {
	TotalFeeds        int `json:"total_feeds"`
	TotalDestinations int `json:"total_destinations"`
	ActiveSchedules   int `json:"active_schedules"`
}
