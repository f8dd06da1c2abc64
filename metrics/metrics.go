// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "pollsync"

// Metrics groups the collectors shared by the server and the sync engine.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	votes         *prometheus.CounterVec
	flushRuns     *prometheus.CounterVec
	flushItems    *prometheus.CounterVec
	pending       *prometheus.GaugeVec
	flushDuration prometheus.Histogram
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		votes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "votes_submitted_total",
			Help:      "Vote submissions by outcome.",
		}, []string{"outcome"}),
		flushRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "flush_runs_total",
			Help:      "Sync flush attempts by result.",
		}, []string{"result"}),
		flushItems: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "flush_items_total",
			Help:      "Queued items processed by a flush, by kind and result.",
		}, []string{"kind", "result"}),
		pending: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pending_items",
			Help:      "Items waiting to be synced.",
		}, []string{"kind"}),
		flushDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "flush_duration_seconds",
			Help:      "Time spent in a sync flush.",
			Buckets:   prometheus.DefBuckets,
		}),
	}
	reg.MustRegister(m.votes, m.flushRuns, m.flushItems, m.pending, m.flushDuration)
	return m
}

func (m *Metrics) ObserveVote(outcome string) {
	if m == nil {
		return
	}
	m.votes.WithLabelValues(outcome).Inc()
}

// ObserveFlush records a finished (or skipped) flush.
func (m *Metrics) ObserveFlush(result string, took time.Duration) {
	if m == nil {
		return
	}
	m.flushRuns.WithLabelValues(result).Inc()
	if took > 0 {
		m.flushDuration.Observe(took.Seconds())
	}
}

func (m *Metrics) ObserveItem(kind, result string) {
	if m == nil {
		return
	}
	m.flushItems.WithLabelValues(kind, result).Inc()
}

func (m *Metrics) SetPending(kind string, n int) {
	if m == nil {
		return
	}
	m.pending.WithLabelValues(kind).Set(float64(n))
}
