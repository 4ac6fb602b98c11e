package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"feedwatch/internal/model"
	"feedwatch/internal/service"
)

type fakeEngine struct {
	feeds    map[model.FeedKey]model.FeedEntry
	addErr   error
	checkErr error
	lastAdd  time.Duration
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{feeds: make(map[model.FeedKey]model.FeedEntry)}
}

func (f *fakeEngine) AddFeed(ctx context.Context, destination, url string, interval time.Duration) (model.FeedEntry, error) {
	f.lastAdd = interval
	if f.addErr != nil {
		return model.FeedEntry{}, f.addErr
	}
	if interval == 0 {
		interval = model.DefaultInterval
	}
	e := model.FeedEntry{Destination: destination, URL: url, Interval: interval, Active: true, Title: "Example"}
	f.feeds[e.Key()] = e
	return e, nil
}

func (f *fakeEngine) RemoveFeed(ctx context.Context, destination, url string) error {
	key := model.FeedKey{Destination: destination, URL: url}
	if _, ok := f.feeds[key]; !ok {
		return fmt.Errorf("%w: %s", model.ErrNotFound, url)
	}
	delete(f.feeds, key)
	return nil
}

func (f *fakeEngine) ListFeeds(destination string) []model.FeedEntry {
	var list []model.FeedEntry
	for k, e := range f.feeds {
		if k.Destination == destination {
			list = append(list, e)
		}
	}
	return list
}

func (f *fakeEngine) update(destination, url string, fn func(e *model.FeedEntry)) (model.FeedEntry, error) {
	key := model.FeedKey{Destination: destination, URL: url}
	e, ok := f.feeds[key]
	if !ok {
		return model.FeedEntry{}, fmt.Errorf("%w: %s", model.ErrNotFound, url)
	}
	fn(&e)
	f.feeds[key] = e
	return e, nil
}

func (f *fakeEngine) SetActive(ctx context.Context, destination, url string, active bool) (model.FeedEntry, error) {
	return f.update(destination, url, func(e *model.FeedEntry) { e.Active = active })
}

func (f *fakeEngine) SetInterval(ctx context.Context, destination, url string, interval time.Duration) (model.FeedEntry, error) {
	if interval < model.MinInterval {
		return model.FeedEntry{}, model.ErrInvalidInterval
	}
	return f.update(destination, url, func(e *model.FeedEntry) { e.Interval = interval })
}

func (f *fakeEngine) CheckNow(ctx context.Context, destination, url string) (*service.CheckResult, error) {
	if f.checkErr != nil {
		return nil, f.checkErr
	}
	return &service.CheckResult{New: 2, Watermark: "B", DispatchResult: service.DispatchResult{Delivered: 2}}, nil
}

func (f *fakeEngine) NextRun(destination, url string) time.Time {
	return time.Date(2024, 1, 1, 0, 5, 0, 0, time.UTC)
}

func (f *fakeEngine) Statistics() model.Statistics {
	return model.Statistics{TotalFeeds: len(f.feeds), TotalDestinations: 1, ActiveSchedules: len(f.feeds)}
}

func setupRouter(engine Engine) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	NewHandler(engine).RegisterRoutes(r)
	return r
}

func do(r *gin.Engine, method, target, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestCreateAndListFeeds(t *testing.T) {
	engine := newFakeEngine()
	r := setupRouter(engine)

	w := do(r, http.MethodPost, "/api/feeds", `{"destination":"chan-1","url":"https://example.com/feed","interval":"10m"}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Equal(t, 10*time.Minute, engine.lastAdd)

	w = do(r, http.MethodGet, "/api/feeds?destination=chan-1", "")
	require.Equal(t, http.StatusOK, w.Code)

	var views []map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &views))
	require.Len(t, views, 1)
	assert.Equal(t, "https://example.com/feed", views[0]["url"])
	assert.Equal(t, "10m0s", views[0]["interval"])
	assert.Equal(t, "2024-01-01T00:05:00Z", views[0]["next_run"])
}

func TestCreateFeedValidation(t *testing.T) {
	r := setupRouter(newFakeEngine())

	w := do(r, http.MethodPost, "/api/feeds", `{"url":"https://example.com/feed"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(r, http.MethodPost, "/api/feeds", `{"destination":"chan-1","url":"https://example.com/feed","interval":"soon"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(r, http.MethodGet, "/api/feeds", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestErrorStatus(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{err: fmt.Errorf("%w: ftp", model.ErrInvalidURL), want: http.StatusBadRequest},
		{err: model.ErrInvalidInterval, want: http.StatusBadRequest},
		{err: model.ErrAlreadyExists, want: http.StatusConflict},
		{err: model.ErrLimitExceeded, want: http.StatusConflict},
		{err: fmt.Errorf("%w: 404", model.ErrInvalidFeed), want: http.StatusUnprocessableEntity},
		{err: fmt.Errorf("%w: boom", model.ErrPersistence), want: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			engine := newFakeEngine()
			engine.addErr = tt.err
			r := setupRouter(engine)

			w := do(r, http.MethodPost, "/api/feeds", `{"destination":"chan-1","url":"https://example.com/feed"}`)
			assert.Equal(t, tt.want, w.Code)
			assert.Contains(t, w.Body.String(), tt.err.Error())
		})
	}
}

func TestDeleteFeed(t *testing.T) {
	engine := newFakeEngine()
	r := setupRouter(engine)
	do(r, http.MethodPost, "/api/feeds", `{"destination":"chan-1","url":"https://example.com/feed"}`)

	w := do(r, http.MethodDelete, "/api/feeds?destination=chan-1&url=https://example.com/feed", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, engine.feeds)

	w = do(r, http.MethodDelete, "/api/feeds?destination=chan-1&url=https://example.com/feed", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestUpdateFeed(t *testing.T) {
	engine := newFakeEngine()
	r := setupRouter(engine)
	do(r, http.MethodPost, "/api/feeds", `{"destination":"chan-1","url":"https://example.com/feed"}`)
	key := model.FeedKey{Destination: "chan-1", URL: "https://example.com/feed"}

	w := do(r, http.MethodPatch, "/api/feeds", `{"destination":"chan-1","url":"https://example.com/feed","active":false,"interval":"1h"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.False(t, engine.feeds[key].Active)
	assert.Equal(t, time.Hour, engine.feeds[key].Interval)

	w = do(r, http.MethodPatch, "/api/feeds", `{"destination":"chan-1","url":"https://example.com/feed"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(r, http.MethodPatch, "/api/feeds", `{"destination":"chan-1","url":"https://example.com/feed","interval":"1s"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(r, http.MethodPatch, "/api/feeds", `{"destination":"chan-1","url":"https://missing.example/","active":true}`)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCheckFeed(t *testing.T) {
	engine := newFakeEngine()
	r := setupRouter(engine)

	w := do(r, http.MethodPost, "/api/feeds/check", `{"destination":"chan-1","url":"https://example.com/feed"}`)
	require.Equal(t, http.StatusOK, w.Code)
	var res service.CheckResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	assert.Equal(t, 2, res.Delivered)
	assert.Equal(t, "B", res.Watermark)

	engine.checkErr = model.ErrCheckInProgress
	w = do(r, http.MethodPost, "/api/feeds/check", `{"destination":"chan-1","url":"https://example.com/feed"}`)
	assert.Equal(t, http.StatusConflict, w.Code)

	engine.checkErr = fmt.Errorf("%w: status 503", model.ErrFetch)
	w = do(r, http.MethodPost, "/api/feeds/check", `{"destination":"chan-1","url":"https://example.com/feed"}`)
	assert.Equal(t, http.StatusBadGateway, w.Code)
}

func TestStatusAndMetrics(t *testing.T) {
	r := setupRouter(newFakeEngine())

	w := do(r, http.MethodGet, "/api/status", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"total_feeds":0`)

	w = do(r, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "go_goroutines")
}
