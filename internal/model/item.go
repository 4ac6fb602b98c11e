package model

import "time"

// FeedItem 解析后的单条内容, 不持久化
type FeedItem struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Link        string     `json:"link"`
	Summary     string     `json:"summary"`
	PublishedAt *time.Time `json:"published_at,omitempty"`
	Author      string     `json:"author,omitempty"`
	Media       *Media     `json:"media,omitempty"`
}

type Media struct {
	URL  string `json:"url"`
	Type string `json:"type,omitempty"`
}

// Document 解析后的订阅文档, Items 保持源站给出的顺序
type Document struct {
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Link        string     `json:"link"`
	Items       []FeedItem `json:"items"`
}

// Newest 返回文档中的第一条 (按源站顺序)
func (d *Document) Newest() (FeedItem, bool) {
	if d == nil || len(d.Items) == 0 {
		return FeedItem{}, false
	}
	return d.Items[0], true
}

// Message 投递给目标的渲染结果
type Message struct {
	FeedTitle   string     `json:"feed_title"`
	Title       string     `json:"title"`
	Link        string     `json:"link"`
	Summary     string     `json:"summary,omitempty"`
	Author      string     `json:"author,omitempty"`
	PublishedAt *time.Time `json:"published_at,omitempty"`
	MediaURL    string     `json:"media_url,omitempty"`
}
