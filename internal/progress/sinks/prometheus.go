package sinks

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/wayback-news-archiver/internal/progress"
)

// PrometheusSink turns progress events into run-level collectors.
type PrometheusSink struct {
	datesStarted   prometheus.Counter
	datesCompleted prometheus.Counter
	dateRuntime    prometheus.Histogram
	urlOutcomes    *prometheus.CounterVec
	batches        *prometheus.CounterVec
	batchRecords   *prometheus.CounterVec
}

// NewPrometheusSink registers the collectors against reg (the default registerer when nil).
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		datesStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "archiver_dates_started_total",
			Help: "Publication dates whose processing began.",
		}),
		datesCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "archiver_dates_completed_total",
			Help: "Publication dates fully processed.",
		}),
		dateRuntime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "archiver_date_runtime_seconds",
			Help:    "Wall time to process one publication date.",
			Buckets: []float64{10, 30, 60, 120, 300, 600, 1200, 3600, 7200},
		}),
		urlOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "archiver_url_outcomes_total",
			Help: "Archive outcomes recorded by the pipeline, by status.",
		}, []string{"status"}),
		batches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "archiver_batches_total",
			Help: "Record batch flushes by result.",
		}, []string{"result"}),
		batchRecords: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "archiver_batch_records_total",
			Help: "Records in flushed batches by result.",
		}, []string{"result"}),
	}
	for _, collector := range []prometheus.Collector{
		s.datesStarted,
		s.datesCompleted,
		s.dateRuntime,
		s.urlOutcomes,
		s.batches,
		s.batchRecords,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the collectors from batch.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		switch evt.Stage {
		case progress.StageDateStart:
			s.datesStarted.Inc()
		case progress.StageURLDone:
			s.urlOutcomes.WithLabelValues(string(evt.Status)).Inc()
		case progress.StageBatchFlushed:
			s.batches.WithLabelValues("ok").Inc()
			s.batchRecords.WithLabelValues("ok").Add(float64(evt.Count))
		case progress.StageBatchFailed:
			s.batches.WithLabelValues("failed").Inc()
			s.batchRecords.WithLabelValues("failed").Add(float64(evt.Count))
		case progress.StageDateDone:
			s.datesCompleted.Inc()
			if evt.Dur > 0 {
				s.dateRuntime.Observe(evt.Dur.Seconds())
			}
		}
	}
	return nil
}

// Close implements the Sink interface.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}
