package service

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"

	"feedwatch/internal/delivery"
	"feedwatch/internal/model"
)

// MinPace 同一批次两次投递之间的最小间隔
const MinPace = time.Second

// Deliverer 外部投递能力
type Deliverer interface {
	Deliver(ctx context.Context, destination string, msg model.Message) error
}

// DispatchResult 一个批次的投递结果
type DispatchResult struct {
	Delivered int `json:"delivered"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped"` // context 取消后未尝试的条目
}

// Dispatcher 逐条投递, 相邻两条之间等待 pace
type Dispatcher struct {
	deliverer Deliverer
	pace      time.Duration
	sleep     func(ctx context.Context, d time.Duration) error
}

func NewDispatcher(deliverer Deliverer, pace time.Duration) *Dispatcher {
	if pace < MinPace {
		pace = MinPace
	}
	return &Dispatcher{
		deliverer: deliverer,
		pace:      pace,
		sleep:     sleepContext,
	}
}

// Send 按给定顺序投递; 单条失败只记录日志, 不影响后续条目, 也不重试
func (d *Dispatcher) Send(ctx context.Context, destination, feedTitle string, items []model.FeedItem) DispatchResult {
	var res DispatchResult
	for i, item := range items {
		if i > 0 {
			if err := d.sleep(ctx, d.pace); err != nil {
				res.Skipped = len(items) - i
				log.WithFields(log.Fields{
					"destination": destination,
					"skipped":     res.Skipped,
				}).Warn("Dispatch interrupted")
				break
			}
		}

		msg := delivery.Render(feedTitle, item)
		if err := d.deliverer.Deliver(ctx, destination, msg); err != nil {
			res.Failed++
			deliveryFailures.Inc()
			log.WithFields(log.Fields{
				"destination": destination,
				"item":        item.ID,
				"link":        item.Link,
			}).WithError(err).Error("Failed to deliver item")
			continue
		}
		res.Delivered++
		itemsDelivered.Inc()
	}
	return res
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
