package syncer

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	syncPasses = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "feedsync_sync_passes_total",
		Help: "Sync passes by outcome (ok, partial, failed, rejected)",
	}, []string{"outcome"})
	syncDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "feedsync_sync_duration_seconds",
		Help:    "Duration of completed sync passes",
		Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
	})
	syncArticles = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "feedsync_sync_articles_total",
		Help: "Articles stored by sync, by blacklist verdict",
	}, []string{"verdict"})
	syncFailedFeeds = promauto.NewCounter(prometheus.CounterOpts{
		Name: "feedsync_sync_failed_feeds_total",
		Help: "Feeds that failed during a sync pass",
	})
	pushFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "feedsync_push_failures_total",
		Help: "State pushes that were given up after retries",
	}, []string{"state"})
	backfillArticles = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "feedsync_backfill_articles_total",
		Help: "Back-filled articles by outcome",
	}, []string{"outcome"})
)
