package server

import (
	"context"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"parking-allocator/internal/parking"
)

const scrapeTimeout = 2 * time.Second

// occupancyCollector reports slot counts per level and status from a fresh
// ledger snapshot on every scrape.
type occupancyCollector struct {
	ledger parking.Ledger
	logger *slog.Logger
	slots  *prometheus.Desc
	up     *prometheus.Desc
}

func NewOccupancyCollector(ledger parking.Ledger, logger *slog.Logger) prometheus.Collector {
	return &occupancyCollector{
		ledger: ledger,
		logger: logger,
		slots: prometheus.NewDesc("parking_slots",
			"Number of registered parking slots by level and status.",
			[]string{"level", "status"}, nil),
		up: prometheus.NewDesc("parking_ledger_up",
			"Whether the last ledger snapshot succeeded.",
			nil, nil),
	}
}

func (c *occupancyCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.slots
	ch <- c.up
}

func (c *occupancyCollector) Collect(ch chan<- prometheus.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), scrapeTimeout)
	defer cancel()

	slots, err := c.ledger.List(ctx, parking.Filter{})
	if err != nil {
		c.logger.WarnContext(ctx, "occupancy scrape failed", slog.String("error", err.Error()))
		ch <- prometheus.MustNewConstMetric(c.up, prometheus.GaugeValue, 0)
		return
	}
	ch <- prometheus.MustNewConstMetric(c.up, prometheus.GaugeValue, 1)

	type key struct{ level, status string }
	counts := make(map[key]int)
	for _, s := range slots {
		counts[key{s.Level, string(parking.StatusAvailable)}] += 0
		counts[key{s.Level, string(parking.StatusOccupied)}] += 0
		counts[key{s.Level, string(s.Status)}]++
	}
	for k, n := range counts {
		ch <- prometheus.MustNewConstMetric(c.slots, prometheus.GaugeValue, float64(n), k.level, k.status)
	}
}
