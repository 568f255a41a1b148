// Package metrics exposes outreach activity as Prometheus collectors. Cycle
// and send counters are fed from the event bus; breaker and pause state are
// read on scrape.
package metrics

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"leadbot/internal/eventbus"
	"leadbot/internal/outreach"
	"leadbot/internal/presence"
)

const Namespace = "leadbot"

type Metrics struct {
	CyclesTotal    *prometheus.CounterVec
	CycleDuration  prometheus.Histogram
	LeadsTotal     prometheus.Counter
	LeadsContacted prometheus.Counter
	SendsTotal     *prometheus.CounterVec
}

// New registers the event-driven collectors on reg (the default registerer
// when nil).
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	m := &Metrics{}
	m.initCycleMetrics(factory)
	m.initDispatchMetrics(factory)
	return m
}

func (m *Metrics) initCycleMetrics(factory promauto.Factory) {
	m.CyclesTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "outreach",
			Name:      "cycles_total",
			Help:      "Finished outreach cycles by outcome",
		},
		[]string{"outcome"},
	)
	m.CycleDuration = factory.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: "outreach",
			Name:      "cycle_duration_seconds",
			Help:      "Wall time of outreach cycles",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 14), // 50ms to ~7min
		},
	)
	m.LeadsTotal = factory.NewCounter(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "outreach",
			Name:      "leads_total",
			Help:      "Leads acquired from the backend",
		},
	)
	m.LeadsContacted = factory.NewCounter(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "outreach",
			Name:      "leads_contacted_total",
			Help:      "Leads with at least one delivered message",
		},
	)
}

func (m *Metrics) initDispatchMetrics(factory promauto.Factory) {
	m.SendsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "dispatch",
			Name:      "sends_total",
			Help:      "Outreach sends by result",
		},
		[]string{"result"},
	)
}

// Observe applies one bus event.
func (m *Metrics) Observe(e eventbus.Event) {
	switch e.Type {
	case eventbus.CycleFinished:
		r, ok := e.Data.(outreach.CycleResult)
		if !ok {
			return
		}
		m.CyclesTotal.WithLabelValues(string(r.Outcome)).Inc()
		if r.Outcome != outreach.OutcomePaused && r.Outcome != outreach.OutcomeOutOfHours {
			m.CycleDuration.Observe(r.Took.Seconds())
		}
		m.LeadsTotal.Add(float64(r.Leads))
		m.LeadsContacted.Add(float64(r.Successes))
	case eventbus.DispatchSent:
		m.SendsTotal.WithLabelValues("sent").Inc()
	case eventbus.DispatchFailed:
		m.SendsTotal.WithLabelValues("failed").Inc()
	}
}

// Consume reads events until ctx ends or ch closes.
func (m *Metrics) Consume(ctx context.Context, ch <-chan eventbus.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-ch:
			if !ok {
				return
			}
			m.Observe(e)
		}
	}
}

// Probes are read on every scrape. Nil funcs are skipped.
type Probes struct {
	Paused     func() bool
	Presence   func() presence.Snapshot
	BusDropped func() uint64
	LogDropped func() uint64
}

// RegisterProbes adds scrape-time collectors for p.
func RegisterProbes(reg prometheus.Registerer, p Probes) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	if p.Paused != nil {
		factory.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: Namespace, Subsystem: "outreach", Name: "paused",
			Help: "1 while outreach is paused",
		}, func() float64 { return boolFloat(p.Paused()) })
	}
	if p.Presence != nil {
		factory.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: Namespace, Subsystem: "presence", Name: "circuit_open",
			Help: "1 while presence verification is bypassed",
		}, func() float64 { return boolFloat(p.Presence().State == presence.StateOpen) })
		factory.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: Namespace, Subsystem: "presence", Name: "consecutive_errors",
			Help: "Consecutive presence check failures",
		}, func() float64 { return float64(p.Presence().ConsecutiveErrors) })
		factory.NewCounterFunc(prometheus.CounterOpts{
			Namespace: Namespace, Subsystem: "presence", Name: "circuit_trips_total",
			Help: "Times the presence circuit opened",
		}, func() float64 { return float64(p.Presence().Trips) })
	}
	if p.BusDropped != nil {
		factory.NewCounterFunc(prometheus.CounterOpts{
			Namespace: Namespace, Subsystem: "eventbus", Name: "dropped_total",
			Help: "Events dropped for slow subscribers",
		}, func() float64 { return float64(p.BusDropped()) })
	}
	if p.LogDropped != nil {
		factory.NewCounterFunc(prometheus.CounterOpts{
			Namespace: Namespace, Subsystem: "log", Name: "operator_dropped_total",
			Help: "Log lines not forwarded to the operator chat",
		}, func() float64 { return float64(p.LogDropped()) })
	}
}

func boolFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
