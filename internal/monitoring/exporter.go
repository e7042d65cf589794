// Package monitoring exports miner metrics to Prometheus.
package monitoring

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// updateWindowMs is the trailing window the exported hashrate gauges report.
const updateWindowMs = 10_000

// StatsSource is the live mining session the exporter samples.
type StatsSource interface {
	ThreadCount() int
	ThreadRate(thread int, windowMs uint64) (float64, bool)
	Hashrate(windowMs uint64) (float64, bool)
}

// Exporter serves /metrics and refreshes the hashrate gauges on a timer.
type Exporter struct {
	logger   *zap.Logger
	source   StatsSource
	registry *prometheus.Registry
	server   *http.Server
	done     chan struct{}

	threadHashrate *prometheus.GaugeVec
	totalHashrate  prometheus.Gauge
	resultsFound   prometheus.Counter
}

// NewExporter builds an exporter on its own registry so tests and multiple
// sessions never collide on the default one.
func NewExporter(source StatsSource, logger *zap.Logger) *Exporter {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	e := &Exporter{
		logger:   logger,
		source:   source,
		registry: registry,
		done:     make(chan struct{}),
		threadHashrate: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "temari",
			Name:      "thread_hashrate",
			Help:      "Trailing per-thread hashrate in hashes per second.",
		}, []string{"thread"}),
		totalHashrate: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "temari",
			Name:      "total_hashrate",
			Help:      "Trailing total hashrate in hashes per second.",
		}),
		resultsFound: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "temari",
			Name:      "results_found_total",
			Help:      "Nonces whose digest satisfied the target.",
		}),
	}
	registry.MustRegister(e.threadHashrate, e.totalHashrate, e.resultsFound)
	return e
}

// CountResult records one qualifying nonce.
func (e *Exporter) CountResult() {
	e.resultsFound.Inc()
}

// Handler returns the /metrics handler, usable without the built-in server.
func (e *Exporter) Handler() http.Handler {
	return promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{})
}

// Start serves /metrics on addr and begins the gauge refresh loop.
func (e *Exporter) Start(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", e.Handler())
	e.server = &http.Server{Addr: addr, Handler: mux}

	go func() {
		e.logger.Info("Metrics listener starting", zap.String("addr", addr))
		if err := e.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			e.logger.Error("Metrics listener failed", zap.Error(err))
		}
	}()
	go e.refreshLoop()
}

// Stop shuts the listener down and ends the refresh loop.
func (e *Exporter) Stop(ctx context.Context) {
	close(e.done)
	if e.server != nil {
		if err := e.server.Shutdown(ctx); err != nil {
			e.logger.Warn("Metrics listener shutdown", zap.Error(err))
		}
	}
}

func (e *Exporter) refreshLoop() {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			e.refresh()
		case <-e.done:
			return
		}
	}
}

func (e *Exporter) refresh() {
	for i := 0; i < e.source.ThreadCount(); i++ {
		if rate, ok := e.source.ThreadRate(i, updateWindowMs); ok {
			e.threadHashrate.WithLabelValues(strconv.Itoa(i)).Set(rate)
		}
	}
	if rate, ok := e.source.Hashrate(updateWindowMs); ok {
		e.totalHashrate.Set(rate)
	}
}
