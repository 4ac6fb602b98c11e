package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"feedwatch/internal/model"
)

// DefaultMaxItemsPerCheck 单次检查最多投递的条目数
const DefaultMaxItemsPerCheck = 5

// Fetcher 获取原始订阅文档
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// CheckResult 一次检查的结果
type CheckResult struct {
	Baseline  bool   `json:"baseline"`
	New       int    `json:"new"`
	Dropped   int    `json:"dropped"`
	Watermark string `json:"watermark,omitempty"`
	DispatchResult
}

// Poller 对单个订阅执行抓取, 解析, 去重和投递
type Poller struct {
	registry   *Registry
	fetcher    Fetcher
	parser     *Parser
	dispatcher *Dispatcher
	maxItems   int
	now        func() time.Time
}

func NewPoller(registry *Registry, fetcher Fetcher, parser *Parser, dispatcher *Dispatcher, maxItems int) *Poller {
	if maxItems <= 0 {
		maxItems = DefaultMaxItemsPerCheck
	}
	return &Poller{
		registry:   registry,
		fetcher:    fetcher,
		parser:     parser,
		dispatcher: dispatcher,
		maxItems:   maxItems,
		now:        time.Now,
	}
}

// FetchDocument 抓取并解析 url
func (p *Poller) FetchDocument(ctx context.Context, url string) (*model.Document, error) {
	raw, err := p.fetcher.Fetch(ctx, url)
	if err != nil {
		if !errors.Is(err, model.ErrFetch) {
			err = fmt.Errorf("%w: %v", model.ErrFetch, err)
		}
		return nil, err
	}
	return p.parser.Parse(raw)
}

// Check 检查一个订阅. 抓取或解析失败时不改动 watermark, 只推进 lastChecked,
// 下一个周期即为重试. 成功时无论投递结果如何都把 watermark 推进到文档中最新的条目.
func (p *Poller) Check(ctx context.Context, key model.FeedKey) (*CheckResult, error) {
	start := p.now()
	defer func() { checkDuration.Observe(time.Since(start).Seconds()) }()

	entry, ok := p.registry.Get(key)
	if !ok {
		return nil, fmt.Errorf("%w: %s", model.ErrNotFound, key.URL)
	}

	logger := log.WithFields(log.Fields{
		"destination": key.Destination,
		"url":         key.URL,
	})

	doc, err := p.FetchDocument(ctx, key.URL)
	if err != nil {
		result := "fetch_error"
		if errors.Is(err, model.ErrParse) {
			result = "parse_error"
		}
		pollsTotal.WithLabelValues(result).Inc()
		logger.WithError(err).Warn("Feed check failed")
		p.registry.UpdateWatermark(ctx, key, "", p.now())
		return nil, err
	}

	// 元数据随本次检查的保存一起落盘
	p.registry.UpdateMetadata(key, doc.Title, doc.Description)

	items, dropped, baseline := SelectNew(doc.Items, entry.Watermark, p.maxItems)
	res := &CheckResult{
		Baseline: baseline,
		New:      len(items),
		Dropped:  dropped,
	}
	if dropped > 0 {
		itemsDropped.Add(float64(dropped))
		logger.WithField("dropped", dropped).Warn("More new items than the per-check cap, oldest ones skipped")
	}

	if len(items) > 0 {
		title := doc.Title
		if title == "" {
			title = entry.Title
		}
		res.DispatchResult = p.dispatcher.Send(ctx, key.Destination, title, items)
	}

	if newest, ok := doc.Newest(); ok {
		res.Watermark = newest.ID
	}
	if !p.registry.UpdateWatermark(ctx, key, res.Watermark, p.now()) {
		logger.Debug("Feed removed during check, result discarded")
	}

	if baseline {
		pollsTotal.WithLabelValues("baseline").Inc()
	} else {
		pollsTotal.WithLabelValues("ok").Inc()
	}
	logger.WithFields(log.Fields{
		"items":     len(doc.Items),
		"new":       res.New,
		"delivered": res.Delivered,
		"failed":    res.Failed,
		"baseline":  baseline,
	}).Info("Feed checked")

	return res, nil
}
