package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	pollsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "feedwatch_polls_total",
		Help: "Feed checks by result (ok, baseline, fetch_error, parse_error)",
	}, []string{"result"})

	itemsDelivered = promauto.NewCounter(prometheus.CounterOpts{
		Name: "feedwatch_items_delivered_total",
		Help: "Items delivered to destinations",
	})

	deliveryFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "feedwatch_delivery_failures_total",
		Help: "Items whose delivery failed and were dropped",
	})

	itemsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "feedwatch_items_dropped_total",
		Help: "New items skipped because a check found more than the per-check cap",
	})

	persistFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "feedwatch_persist_failures_total",
		Help: "Registry snapshot saves that failed",
	})

	checkDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "feedwatch_check_duration_seconds",
		Help:    "Duration of a full fetch, parse and dispatch cycle",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
	})
)
