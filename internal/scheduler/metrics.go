package scheduler

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	scheduledFeeds = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "feedwatch_scheduled_feeds",
		Help: "The number of feeds with an active polling schedule",
	})

	skippedTicks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "feedwatch_skipped_ticks_total",
		Help: "Ticks skipped because the previous check of the same feed was still running",
	})
)
