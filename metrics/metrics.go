// Package metrics counts lending activity with Prometheus collectors.
package metrics

import (
	"fmt"
	"io"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"

	"library-lending/library"
)

var _ library.MetricsRecorder = (*Collector)(nil)

// Collector is the Prometheus implementation of library.MetricsRecorder.
type Collector struct {
	loansIssued   prometheus.Counter
	loansReturned prometheus.Counter
	stockCopies   *prometheus.CounterVec
	failures      *prometheus.CounterVec
	overdueLoans  prometheus.Gauge
}

// NewCollector creates a Collector and registers its metrics with reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		loansIssued: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "library_loans_issued_total",
			Help: "Number of loans issued.",
		}),
		loansReturned: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "library_loans_returned_total",
			Help: "Number of loans returned.",
		}),
		stockCopies: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "library_stock_copies_total",
			Help: "Copies added to or removed from the catalog, by operation.",
		}, []string{"operation"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "library_operation_failures_total",
			Help: "Rejected or failed operations, by operation and error kind.",
		}, []string{"operation", "kind"}),
		overdueLoans: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "library_overdue_loans",
			Help: "Overdue loans found by the latest overdue report.",
		}),
	}

	reg.MustRegister(
		c.loansIssued,
		c.loansReturned,
		c.stockCopies,
		c.failures,
		c.overdueLoans,
	)

	return c
}

func (c *Collector) RecordLoanIssued() {
	c.loansIssued.Inc()
}

func (c *Collector) RecordLoanReturned() {
	c.loansReturned.Inc()
}

// RecordStockChange counts moved copies; delta is negative for removals.
func (c *Collector) RecordStockChange(operation string, delta int) {
	if delta < 0 {
		delta = -delta
	}
	c.stockCopies.WithLabelValues(operation).Add(float64(delta))
}

func (c *Collector) RecordFailure(operation, kind string) {
	c.failures.WithLabelValues(operation, kind).Inc()
}

func (c *Collector) RecordOverdues(count int) {
	c.overdueLoans.Set(float64(count))
}

// WriteText writes every metric family in g using the Prometheus text format.
func WriteText(w io.Writer, g prometheus.Gatherer) error {
	families, err := g.Gather()
	if err != nil {
		return fmt.Errorf("gathering metrics: %w", err)
	}
	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			return fmt.Errorf("writing metric %s: %w", mf.GetName(), err)
		}
	}
	return nil
}
