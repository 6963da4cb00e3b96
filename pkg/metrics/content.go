package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/mamdani-tracker/tracker/pkg/models"
)

// StatsSource is the part of the store the content collector reads
type StatsSource interface {
	ContentStats(ctx context.Context) (*models.ContentStats, error)
}

// ContentCollector reports content counts read from the store at scrape time
type ContentCollector struct {
	source  StatsSource
	timeout time.Duration

	items     *prometheus.Desc
	byStatus  *prometheus.Desc
	scrapeErr *prometheus.Desc
}

// NewContentCollector creates a collector over the given store
func NewContentCollector(source StatsSource) *ContentCollector {
	return &ContentCollector{
		source:  source,
		timeout: 5 * time.Second,
		items: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "content", "items"),
			"Content rows by kind and editorial state",
			[]string{"kind", "state"}, nil,
		),
		byStatus: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "content", "promises_by_status"),
			"Published promises by progress status",
			[]string{"status"}, nil,
		),
		scrapeErr: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "content", "scrape_error"),
			"1 if reading content stats failed during this scrape",
			nil, nil,
		),
	}
}

// Describe implements prometheus.Collector
func (c *ContentCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.items
	ch <- c.byStatus
	ch <- c.scrapeErr
}

// Collect implements prometheus.Collector
func (c *ContentCollector) Collect(ch chan<- prometheus.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	stats, err := c.source.ContentStats(ctx)
	if err != nil {
		ch <- prometheus.MustNewConstMetric(c.scrapeErr, prometheus.GaugeValue, 1)
		return
	}
	ch <- prometheus.MustNewConstMetric(c.scrapeErr, prometheus.GaugeValue, 0)

	for kind, states := range stats.ByState {
		for state, n := range states {
			ch <- prometheus.MustNewConstMetric(c.items, prometheus.GaugeValue, float64(n), string(kind), string(state))
		}
	}
	for status, n := range stats.PromisesByStatus {
		ch <- prometheus.MustNewConstMetric(c.byStatus, prometheus.GaugeValue, float64(n), string(status))
	}
}
