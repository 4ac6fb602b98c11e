package delivery

import (
	"context"

	log "github.com/sirupsen/logrus"

	"feedwatch/internal/model"
)

// LogDeliverer 只把消息写入日志, 未配置 webhook 时使用
type LogDeliverer struct{}

func NewLogDeliverer() *LogDeliverer {
	return &LogDeliverer{}
}

func (d *LogDeliverer) Deliver(ctx context.Context, destination string, msg model.Message) error {
	log.WithFields(log.Fields{
		"destination": destination,
		"feed":        msg.FeedTitle,
		"title":       msg.Title,
		"link":        msg.Link,
	}).Info("Delivering item")
	return nil
}
