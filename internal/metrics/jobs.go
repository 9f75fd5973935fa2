// internal/metrics/jobs.go
package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
)

// JobCounter reports durable job counts keyed by status
type JobCounter interface {
	JobStatusCounts(ctx context.Context) (map[string]int, error)
}

// JobCollector exports the job table as a gauge per status, read at scrape time
type JobCollector struct {
	source JobCounter
	desc   *prometheus.Desc
}

// NewJobCollector creates a collector over source
func NewJobCollector(source JobCounter) *JobCollector {
	return &JobCollector{
		source: source,
		desc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "jobs"),
			"Durable response jobs by status",
			[]string{"status"}, nil,
		),
	}
}

// Describe implements prometheus.Collector
func (c *JobCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.desc
}

// Collect implements prometheus.Collector. A failed read exports nothing.
func (c *JobCollector) Collect(ch chan<- prometheus.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	counts, err := c.source.JobStatusCounts(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("Collect job counts")
		return
	}
	for status, n := range counts {
		ch <- prometheus.MustNewConstMetric(c.desc, prometheus.GaugeValue, float64(n), sanitizeLabel(status))
	}
}
