package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	log "github.com/sirupsen/logrus"

	"feedwatch/internal/model"
)

// DefaultMaxElapsed 单条消息重试的默认总时长
const DefaultMaxElapsed = time.Minute

// Webhook 以 JSON POST 的方式投递消息, 网络错误和 5xx/429 会按指数退避重试.
// 重试发生在 Deliver 内部, 一条消息最多占用 maxElapsed, 会把一次检查的投递拉长到远超投递间隔
type Webhook struct {
	url             string
	client          *http.Client
	maxRetries      uint64
	maxElapsed      time.Duration
	initialInterval time.Duration
}

type webhookPayload struct {
	Destination string        `json:"destination"`
	Message     model.Message `json:"message"`
}

func NewWebhook(url string, timeout time.Duration, maxRetries uint64, maxElapsed time.Duration) *Webhook {
	if maxElapsed <= 0 {
		maxElapsed = DefaultMaxElapsed
	}
	return &Webhook{
		url:             url,
		client:          &http.Client{Timeout: timeout},
		maxRetries:      maxRetries,
		maxElapsed:      maxElapsed,
		initialInterval: 500 * time.Millisecond,
	}
}

func (w *Webhook) Deliver(ctx context.Context, destination string, msg model.Message) error {
	body, err := json.Marshal(webhookPayload{Destination: destination, Message: msg})
	if err != nil {
		return fmt.Errorf("%w: encode payload: %v", model.ErrDelivery, err)
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = w.initialInterval
	b.MaxInterval = 10 * time.Second
	b.MaxElapsedTime = w.maxElapsed

	attempt := 0
	op := func() error {
		attempt++
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(fmt.Errorf("%w: create request: %v", model.ErrDelivery, err))
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := w.client.Do(req)
		if err != nil {
			return fmt.Errorf("%w: %v", model.ErrDelivery, err)
		}
		defer resp.Body.Close()
		io.Copy(io.Discard, resp.Body)

		switch {
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			return nil
		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
			return fmt.Errorf("%w: webhook returned %d", model.ErrDelivery, resp.StatusCode)
		default:
			return backoff.Permanent(fmt.Errorf("%w: webhook returned %d", model.ErrDelivery, resp.StatusCode))
		}
	}

	notify := func(err error, wait time.Duration) {
		log.WithFields(log.Fields{
			"destination": destination,
			"attempt":     attempt,
			"wait":        wait,
		}).WithError(err).Warn("Webhook delivery failed, retrying")
	}

	return backoff.RetryNotify(op, backoff.WithContext(backoff.WithMaxRetries(b, w.maxRetries), ctx), notify)
}
