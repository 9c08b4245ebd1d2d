// ABOUTME: Prometheus collector exposing queue depth per job status.
// ABOUTME: Queries the store on scrape with a short timeout.
package api

import (
	"context"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// collectTimeout bounds the stats query so a slow database cannot stall a
// scrape indefinitely.
const collectTimeout = 5 * time.Second

var jobStatsDesc = prometheus.NewDesc(
	"vibereader_jobs",
	"Number of background jobs by status.",
	[]string{"status"},
	nil,
)

// jobStatsCollector reads job counts from the store at scrape time rather
// than maintaining counters in process: multiple short-lived processes share
// the queue, so the store is the only truthful source.
type jobStatsCollector struct {
	store JobStore
}

func newJobStatsCollector(st JobStore) *jobStatsCollector {
	return &jobStatsCollector{store: st}
}

func (c *jobStatsCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- jobStatsDesc
}

func (c *jobStatsCollector) Collect(ch chan<- prometheus.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), collectTimeout)
	defer cancel()

	stats, err := c.store.Stats(ctx)
	if err != nil {
		slog.Warn("job stats scrape failed", "error", err)
		return
	}

	ch <- prometheus.MustNewConstMetric(jobStatsDesc, prometheus.GaugeValue, float64(stats.Pending), "pending")
	ch <- prometheus.MustNewConstMetric(jobStatsDesc, prometheus.GaugeValue, float64(stats.Processing), "processing")
	ch <- prometheus.MustNewConstMetric(jobStatsDesc, prometheus.GaugeValue, float64(stats.Completed), "completed")
	ch <- prometheus.MustNewConstMetric(jobStatsDesc, prometheus.GaugeValue, float64(stats.Failed), "failed")
}
