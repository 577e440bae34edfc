// Package metrics exposes conversion counters through Prometheus.
//
// A Collector owns its registry so that several collectors can coexist in one process
// (and in tests). It satisfies convertor.Recorder and can be passed to convertor.WithRecorder.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const namespace = "convertor"

// Collector records rows, batches, rejections and queue jobs.
type Collector struct {
	registry *prometheus.Registry

	rowsWritten     prometheus.Counter
	batchesFlushed  prometheus.Counter
	recordsRejected *prometheus.CounterVec
	flushDuration   prometheus.Histogram
	batchRows       prometheus.Histogram
	jobs            *prometheus.CounterVec
	jobDuration     prometheus.Histogram
}

// NewCollector creates a collector with its own registry. Go runtime and process
// collectors are registered alongside the convertor metrics.
func NewCollector() *Collector {
	reg := prometheus.NewRegistry()
	c := &Collector{
		registry: reg,
		rowsWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rows_written_total",
			Help:      "Rows accepted into a batch.",
		}),
		batchesFlushed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batches_flushed_total",
			Help:      "Batches handed to the sink.",
		}),
		recordsRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_rejected_total",
			Help:      "Records rejected, by reason.",
		}, []string{"reason"}),
		flushDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "flush_duration_seconds",
			Help:      "Time spent appending one batch to the sink.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 4, 10),
		}),
		batchRows: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "batch_rows",
			Help:      "Rows per flushed batch.",
			Buckets:   prometheus.ExponentialBuckets(1, 4, 10),
		}),
		jobs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_total",
			Help:      "Queue jobs processed, by outcome.",
		}, []string{"outcome"}),
		jobDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "job_duration_seconds",
			Help:      "End to end duration of one queue job.",
			Buckets:   prometheus.DefBuckets,
		}),
	}
	reg.MustRegister(
		c.rowsWritten, c.batchesFlushed, c.recordsRejected,
		c.flushDuration, c.batchRows, c.jobs, c.jobDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return c
}

// Registry returns the registry the collector's metrics live in.
func (c *Collector) Registry() *prometheus.Registry { return c.registry }

func (c *Collector) RowWritten() { c.rowsWritten.Inc() }

func (c *Collector) BatchFlushed(rows int, d time.Duration) {
	c.batchesFlushed.Inc()
	c.batchRows.Observe(float64(rows))
	c.flushDuration.Observe(d.Seconds())
}

func (c *Collector) RecordRejected(reason string) {
	c.recordsRejected.WithLabelValues(reason).Inc()
}

// JobDone records a finished queue job. outcome is "success" or "failure".
func (c *Collector) JobDone(outcome string, d time.Duration) {
	c.jobs.WithLabelValues(outcome).Inc()
	c.jobDuration.Observe(d.Seconds())
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

// Serve exposes /metrics on addr until ctx is done.
func (c *Collector) Serve(ctx context.Context, addr string, log *zap.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Info("serving metrics", zap.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
