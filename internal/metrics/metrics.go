package metrics

import (
	"context"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/voicereach/voicereach/internal/audio"
)

// ActiveCallsProvider exposes the number of calls with live conversations.
type ActiveCallsProvider interface {
	Count() int
}

// RenderStatsProvider exposes renderer counters.
type RenderStatsProvider interface {
	Stats() audio.RenderStats
}

// ArtifactCounter reports on the persisted render cache.
type ArtifactCounter interface {
	Count(ctx context.Context) (int64, error)
	TotalSize(ctx context.Context) (int64, error)
}

// OutcomeCounter returns archived call counts grouped by outcome.
type OutcomeCounter interface {
	CountByOutcome(ctx context.Context) (map[string]int64, error)
}

// Collector is a prometheus.Collector that gathers VoiceReach metrics at scrape time.
type Collector struct {
	activeCalls ActiveCallsProvider
	renderer    RenderStatsProvider
	artifacts   ArtifactCounter
	outcomes    OutcomeCounter
	startTime   time.Time

	// Metric descriptors.
	activeCallsDesc    *prometheus.Desc
	rendersDesc        *prometheus.Desc
	cacheHitsDesc      *prometheus.Desc
	fallbacksDesc      *prometheus.Desc
	renderFailuresDesc *prometheus.Desc
	concatCallsDesc    *prometheus.Desc
	cachedRendersDesc  *prometheus.Desc
	cacheBytesDesc     *prometheus.Desc
	callsTotalDesc     *prometheus.Desc
	uptimeDesc         *prometheus.Desc
}

// NewCollector creates a new metrics collector. Any provider may be nil if unavailable.
func NewCollector(
	activeCalls ActiveCallsProvider,
	renderer RenderStatsProvider,
	artifacts ArtifactCounter,
	outcomes OutcomeCounter,
	startTime time.Time,
) *Collector {
	return &Collector{
		activeCalls: activeCalls,
		renderer:    renderer,
		artifacts:   artifacts,
		outcomes:    outcomes,
		startTime:   startTime,

		activeCallsDesc: prometheus.NewDesc(
			"voicereach_active_calls",
			"Number of calls with an in-progress conversation",
			nil, nil,
		),
		rendersDesc: prometheus.NewDesc(
			"voicereach_renders_total",
			"Total first-time composite renders completed",
			nil, nil,
		),
		cacheHitsDesc: prometheus.NewDesc(
			"voicereach_render_cache_hits_total",
			"Total renders served from the cache",
			nil, nil,
		),
		fallbacksDesc: prometheus.NewDesc(
			"voicereach_render_fallbacks_total",
			"Total renders that degraded to whole-phrase synthesis",
			nil, nil,
		),
		renderFailuresDesc: prometheus.NewDesc(
			"voicereach_render_failures_total",
			"Total renders that failed even after fallback",
			nil, nil,
		),
		concatCallsDesc: prometheus.NewDesc(
			"voicereach_concat_invocations_total",
			"Total ffmpeg concatenation invocations",
			nil, nil,
		),
		cachedRendersDesc: prometheus.NewDesc(
			"voicereach_cached_renders",
			"Number of composite artifacts in the render cache",
			nil, nil,
		),
		cacheBytesDesc: prometheus.NewDesc(
			"voicereach_render_cache_bytes",
			"Combined size of all cached composite artifacts",
			nil, nil,
		),
		callsTotalDesc: prometheus.NewDesc(
			"voicereach_calls_total",
			"Total archived calls by outcome",
			[]string{"outcome"}, nil,
		),
		uptimeDesc: prometheus.NewDesc(
			"voicereach_uptime_seconds",
			"Seconds since the VoiceReach process started",
			nil, nil,
		),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.activeCallsDesc
	ch <- c.rendersDesc
	ch <- c.cacheHitsDesc
	ch <- c.fallbacksDesc
	ch <- c.renderFailuresDesc
	ch <- c.concatCallsDesc
	ch <- c.cachedRendersDesc
	ch <- c.cacheBytesDesc
	ch <- c.callsTotalDesc
	ch <- c.uptimeDesc
}

// Collect implements prometheus.Collector. It queries all providers at scrape time.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if c.activeCalls != nil {
		ch <- prometheus.MustNewConstMetric(
			c.activeCallsDesc, prometheus.GaugeValue,
			float64(c.activeCalls.Count()),
		)
	}

	if c.renderer != nil {
		stats := c.renderer.Stats()
		ch <- prometheus.MustNewConstMetric(
			c.rendersDesc, prometheus.CounterValue, float64(stats.Renders))
		ch <- prometheus.MustNewConstMetric(
			c.cacheHitsDesc, prometheus.CounterValue, float64(stats.CacheHits))
		ch <- prometheus.MustNewConstMetric(
			c.fallbacksDesc, prometheus.CounterValue, float64(stats.Fallbacks))
		ch <- prometheus.MustNewConstMetric(
			c.renderFailuresDesc, prometheus.CounterValue, float64(stats.Failures))
		ch <- prometheus.MustNewConstMetric(
			c.concatCallsDesc, prometheus.CounterValue, float64(stats.ConcatCalls))
	}

	if c.artifacts != nil {
		count, err := c.artifacts.Count(ctx)
		if err != nil {
			slog.Error("metrics: failed to count cached renders", "error", err)
		} else {
			ch <- prometheus.MustNewConstMetric(
				c.cachedRendersDesc, prometheus.GaugeValue, float64(count))
		}

		size, err := c.artifacts.TotalSize(ctx)
		if err != nil {
			slog.Error("metrics: failed to sum render cache size", "error", err)
		} else {
			ch <- prometheus.MustNewConstMetric(
				c.cacheBytesDesc, prometheus.GaugeValue, float64(size))
		}
	}

	if c.outcomes != nil {
		counts, err := c.outcomes.CountByOutcome(ctx)
		if err != nil {
			slog.Error("metrics: failed to count calls by outcome", "error", err)
		} else {
			for outcome, n := range counts {
				ch <- prometheus.MustNewConstMetric(
					c.callsTotalDesc, prometheus.CounterValue, float64(n), outcome)
			}
		}
	}

	ch <- prometheus.MustNewConstMetric(
		c.uptimeDesc, prometheus.GaugeValue,
		time.Since(c.startTime).Seconds(),
	)
}
