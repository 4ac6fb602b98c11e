package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"feedwatch/internal/model"
)

// rssDoc 生成 RSS 文档, ids 按新到旧排列
func rssDoc(title string, ids ...string) []byte {
	var b strings.Builder
	b.WriteString(`<?xml version="1.0" encoding="UTF-8"?><rss version="2.0"><channel>`)
	fmt.Fprintf(&b, "<title>%s</title><link>https://example.com</link><description>%s feed</description>", title, title)
	for _, id := range ids {
		fmt.Fprintf(&b, "<item><title>Item %s</title><link>https://example.com/%s</link><guid>%s</guid><description>&lt;p&gt;about %s&lt;/p&gt;</description></item>", id, id, id, id)
	}
	b.WriteString(`</channel></rss>`)
	return []byte(b.String())
}

type fakeFetcher struct {
	mu    sync.Mutex
	docs  map[string][]byte
	errs  map[string]error
	calls map[string]int
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{
		docs:  make(map[string][]byte),
		errs:  make(map[string]error),
		calls: make(map[string]int),
	}
}

func (f *fakeFetcher) set(url string, doc []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.docs[url] = doc
	delete(f.errs, url)
}

func (f *fakeFetcher) fail(url string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errs[url] = err
}

func (f *fakeFetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[url]++
	if err, ok := f.errs[url]; ok {
		return nil, err
	}
	doc, ok := f.docs[url]
	if !ok {
		return nil, fmt.Errorf("%w: 404", model.ErrFetch)
	}
	return doc, nil
}

type delivered struct {
	Destination string
	Message     model.Message
}

type fakeDeliverer struct {
	mu      sync.Mutex
	sent    []delivered
	failFor map[string]bool // 按标题失败
}

func newFakeDeliverer() *fakeDeliverer {
	return &fakeDeliverer{failFor: make(map[string]bool)}
}

func (d *fakeDeliverer) Deliver(ctx context.Context, destination string, msg model.Message) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.failFor[msg.Title] {
		return fmt.Errorf("%w: rejected", model.ErrDelivery)
	}
	d.sent = append(d.sent, delivered{Destination: destination, Message: msg})
	return nil
}

func (d *fakeDeliverer) titles() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	titles := make([]string, 0, len(d.sent))
	for _, s := range d.sent {
		titles = append(titles, s.Message.Title)
	}
	return titles
}

type memStore struct {
	mu      sync.Mutex
	snap    *model.Snapshot
	saves   int
	failing bool
	loadErr error
}

func (s *memStore) Load(ctx context.Context) (*model.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loadErr != nil {
		return nil, s.loadErr
	}
	if s.snap == nil {
		return model.NewSnapshot(), nil
	}
	return s.snap, nil
}

func (s *memStore) Save(ctx context.Context, snap *model.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failing {
		return errors.New("disk full")
	}
	s.snap = snap
	s.saves++
	return nil
}

func (s *memStore) setFailing(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failing = v
}

func (s *memStore) entries() []model.FeedEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snap.Entries(model.DefaultInterval)
}

func noSleep(ctx context.Context, d time.Duration) error {
	return ctx.Err()
}

type harness struct {
	store     *memStore
	fetcher   *fakeFetcher
	deliverer *fakeDeliverer
	registry  *Registry
	poller    *Poller
}

func newHarness(maxPerDest int) *harness {
	h := &harness{
		store:     &memStore{},
		fetcher:   newFakeFetcher(),
		deliverer: newFakeDeliverer(),
	}
	h.registry = NewRegistry(h.store, maxPerDest, model.DefaultInterval)
	dispatcher := NewDispatcher(h.deliverer, time.Second)
	dispatcher.sleep = noSleep
	h.poller = NewPoller(h.registry, h.fetcher, NewParser(), dispatcher, DefaultMaxItemsPerCheck)
	return h
}
