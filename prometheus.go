package main

import (
	"context"
	"log"
	"net/http"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shirou/gopsutil/v3/cpu"

	"github.com/0x9900/FT8Commander/lotw"
	"github.com/0x9900/FT8Commander/maidenhead"
	"github.com/0x9900/FT8Commander/selector"
)

// Prometheus collectors for the controller. Everything registers on the
// default registry so the MQTT metrics snapshot and the /metrics listener
// see the same set.
var (
	metricPackets = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ft8ctrl_packets_total",
			Help: "Console packets received by type",
		},
		[]string{"type"},
	)
	metricSightings = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ft8ctrl_sightings_total",
			Help: "CQ sightings written to the store",
		},
	)
	metricReplies = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ft8ctrl_replies_total",
			Help: "Reply packets sent to the console",
		},
	)
	metricHaltTx = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ft8ctrl_halt_tx_total",
			Help: "HaltTx packets sent to the console",
		},
	)
	metricQSOs = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ft8ctrl_qso_logged_total",
			Help: "QSOs logged by the console",
		},
	)
	metricWriteQueue = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ft8ctrl_write_queue_depth",
			Help: "Commands waiting in the DB writer queue",
		},
	)
	metricPurged = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ft8ctrl_purged_records_total",
			Help: "Stale sightings removed by the purge worker",
		},
	)
	metricCacheHits = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ft8ctrl_cache_hits",
			Help: "Cache hits by cache name",
		},
		[]string{"cache"},
	)
	metricCacheMisses = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ft8ctrl_cache_misses",
			Help: "Cache misses by cache name",
		},
		[]string{"cache"},
	)
	metricGoroutines = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ft8ctrl_goroutines_total",
			Help: "Current number of goroutines",
		},
	)
	metricMemoryAlloc = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ft8ctrl_memory_alloc_bytes",
			Help: "Current memory allocated in bytes",
		},
	)
	metricMemoryHeap = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ft8ctrl_memory_heap_bytes",
			Help: "Current heap memory in bytes",
		},
	)
	metricCPUPercent = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ft8ctrl_cpu_percent",
			Help: "System CPU utilization percentage",
		},
	)
)

const resourceSampleInterval = 15 * time.Second

// startMetrics runs the resource sampler and, when a listen address is
// configured, serves /metrics on it.
func startMetrics(ctx context.Context, cfg PrometheusConfig, pipeline *selector.Pipeline, operators *lotw.Registry) {
	go sampleResources(ctx, pipeline, operators)

	if !cfg.Enabled || cfg.Listen == "" {
		return
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	server := &http.Server{Addr: cfg.Listen, Handler: mux}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()
	go func() {
		log.Printf("Prometheus: metrics on http://%s/metrics", cfg.Listen)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("Prometheus: %v", err)
		}
	}()
}

func sampleResources(ctx context.Context, pipeline *selector.Pipeline, operators *lotw.Registry) {
	ticker := time.NewTicker(resourceSampleInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			updateResourceMetrics()
			updateCacheMetrics(pipeline, operators)
		}
	}
}

// updateResourceMetrics refreshes the runtime resource gauges.
func updateResourceMetrics() {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	metricGoroutines.Set(float64(runtime.NumGoroutine()))
	metricMemoryAlloc.Set(float64(m.Alloc))
	metricMemoryHeap.Set(float64(m.HeapAlloc))

	if percents, err := cpu.Percent(0, false); err == nil && len(percents) > 0 {
		metricCPUPercent.Set(percents[0])
	}
}

func updateCacheMetrics(pipeline *selector.Pipeline, operators *lotw.Registry) {
	grid := maidenhead.CacheStats()
	setCacheMetrics("grid", grid.Hits, grid.Misses)
	if pipeline != nil {
		stats := pipeline.Stats()
		setCacheMetrics("selector", stats.Hits, stats.Misses)
	}
	if operators != nil {
		stats := operators.CacheStats()
		setCacheMetrics("lotw", stats.Hits, stats.Misses)
	}
}

func setCacheMetrics(name string, hits, misses uint64) {
	metricCacheHits.WithLabelValues(name).Set(float64(hits))
	metricCacheMisses.WithLabelValues(name).Set(float64(misses))
}
