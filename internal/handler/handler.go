package handler

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"

	"feedwatch/internal/model"
	"feedwatch/internal/service"
)

// Engine 命令层依赖的引擎操作
type Engine interface {
	AddFeed(ctx context.Context, destination, url string, interval time.Duration) (model.FeedEntry, error)
	RemoveFeed(ctx context.Context, destination, url string) error
	ListFeeds(destination string) []model.FeedEntry
	SetActive(ctx context.Context, destination, url string, active bool) (model.FeedEntry, error)
	SetInterval(ctx context.Context, destination, url string, interval time.Duration) (model.FeedEntry, error)
	CheckNow(ctx context.Context, destination, url string) (*service.CheckResult, error)
	NextRun(destination, url string) time.Time
	Statistics() model.Statistics
}

type Handler struct {
	engine  Engine
	started time.Time
}

func NewHandler(engine Engine) *Handler {
	return &Handler{engine: engine, started: time.Now()}
}

func (h *Handler) RegisterRoutes(r *gin.Engine) {
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// API
	api := r.Group("/api")
	{
		// Feeds
		api.GET("/feeds", h.ListFeeds)
		api.POST("/feeds", h.CreateFeed)
		api.DELETE("/feeds", h.DeleteFeed)
		api.PATCH("/feeds", h.UpdateFeed)
		api.POST("/feeds/check", h.CheckFeed)

		// Status
		api.GET("/status", h.GetStatus)
	}
}

type feedRef struct {
	Destination string `json:"destination" form:"destination" binding:"required"`
	URL         string `json:"url" form:"url" binding:"required"`
}

type createRequest struct {
	feedRef
	Interval string `json:"interval"` // 例如 "10m", 为空使用默认周期
}

type updateRequest struct {
	feedRef
	Active   *bool  `json:"active"`
	Interval string `json:"interval"`
}

// feedView 订阅的展示形式, 附带下次检查时间
type feedView struct {
	model.FeedEntry
	Interval string     `json:"interval"`
	NextRun  *time.Time `json:"next_run,omitempty"`
}

func (h *Handler) view(e model.FeedEntry) feedView {
	v := feedView{FeedEntry: e, Interval: e.Interval.String()}
	if next := h.engine.NextRun(e.Destination, e.URL); !next.IsZero() {
		v.NextRun = &next
	}
	return v
}

// ===== Feed相关 =====

func (h *Handler) ListFeeds(c *gin.Context) {
	destination := c.Query("destination")
	if destination == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": model.ErrInvalidDestination.Error()})
		return
	}

	feeds := h.engine.ListFeeds(destination)
	views := make([]feedView, 0, len(feeds))
	for _, f := range feeds {
		views = append(views, h.view(f))
	}
	c.JSON(http.StatusOK, views)
}

func (h *Handler) CreateFeed(c *gin.Context) {
	var req createRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	interval, ok := parseInterval(c, req.Interval)
	if !ok {
		return
	}

	entry, err := h.engine.AddFeed(c.Request.Context(), req.Destination, req.URL, interval)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, h.view(entry))
}

func (h *Handler) DeleteFeed(c *gin.Context) {
	var ref feedRef
	if err := c.ShouldBindQuery(&ref); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.engine.RemoveFeed(c.Request.Context(), ref.Destination, ref.URL); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "deleted"})
}

// UpdateFeed 修改启用状态和/或检查周期
func (h *Handler) UpdateFeed(c *gin.Context) {
	var req updateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Active == nil && req.Interval == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "nothing to update"})
		return
	}

	ctx := c.Request.Context()
	var (
		entry model.FeedEntry
		err   error
	)
	if req.Interval != "" {
		interval, ok := parseInterval(c, req.Interval)
		if !ok {
			return
		}
		if entry, err = h.engine.SetInterval(ctx, req.Destination, req.URL, interval); err != nil {
			respondError(c, err)
			return
		}
	}
	if req.Active != nil {
		if entry, err = h.engine.SetActive(ctx, req.Destination, req.URL, *req.Active); err != nil {
			respondError(c, err)
			return
		}
	}

	c.JSON(http.StatusOK, h.view(entry))
}

func (h *Handler) CheckFeed(c *gin.Context) {
	var ref feedRef
	if err := c.ShouldBindJSON(&ref); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	res, err := h.engine.CheckNow(c.Request.Context(), ref.Destination, ref.URL)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// ===== Status相关 =====

func (h *Handler) GetStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"statistics": h.engine.Statistics(),
		"uptime":     time.Since(h.started).Round(time.Second).String(),
	})
}

func parseInterval(c *gin.Context, raw string) (time.Duration, bool) {
	if raw == "" {
		return 0, true
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid interval: " + err.Error()})
		return 0, false
	}
	return d, true
}

// respondError 把引擎错误映射为 HTTP 状态码
func respondError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, model.ErrInvalidURL),
		errors.Is(err, model.ErrInvalidInterval),
		errors.Is(err, model.ErrInvalidDestination):
		status = http.StatusBadRequest
	case errors.Is(err, model.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, model.ErrAlreadyExists),
		errors.Is(err, model.ErrLimitExceeded),
		errors.Is(err, model.ErrCheckInProgress):
		status = http.StatusConflict
	case errors.Is(err, model.ErrInvalidFeed):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, model.ErrFetch), errors.Is(err, model.ErrParse):
		status = http.StatusBadGateway
	default:
		log.WithError(err).WithField("path", c.FullPath()).Error("Request failed")
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
