package library

import (
	"context"
	"io"
	"log/slog"
)

// MetricsRecorder receives operational counters from the services. The
// metrics package provides a Prometheus-backed implementation.
type MetricsRecorder interface {
	RecordLoanIssued()
	RecordLoanReturned()
	RecordStockChange(operation string, delta int)
	RecordFailure(operation, kind string)
	RecordOverdues(count int)
}

type nopRecorder struct{}

func (nopRecorder) RecordLoanIssued()             {}
func (nopRecorder) RecordLoanReturned()           {}
func (nopRecorder) RecordStockChange(string, int) {}
func (nopRecorder) RecordFailure(string, string)  {}
func (nopRecorder) RecordOverdues(int)            {}

// Option configures the ambient collaborators of a service.
type Option func(*observer)

// WithLogger sets the structured logger. Services log to a discarding logger
// by default.
func WithLogger(l *slog.Logger) Option {
	return func(o *observer) {
		if l != nil {
			o.log = l
		}
	}
}

// WithMetrics sets the metrics recorder.
func WithMetrics(r MetricsRecorder) Option {
	return func(o *observer) {
		if r != nil {
			o.metrics = r
		}
	}
}

// WithLocker shares a KeyLocker between services. Services that mutate the
// same entities must share one.
func WithLocker(k *KeyLocker) Option {
	return func(o *observer) {
		if k != nil {
			o.locks = k
		}
	}
}

type observer struct {
	log     *slog.Logger
	metrics MetricsRecorder
	locks   *KeyLocker
}

func newObserver(opts []Option) observer {
	o := observer{
		log:     slog.New(slog.NewTextHandler(io.Discard, nil)),
		metrics: nopRecorder{},
		locks:   NewKeyLocker(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// done records the outcome of operation and passes err through untouched.
func (o observer) done(ctx context.Context, operation string, err error) error {
	if err == nil {
		return nil
	}
	kind := "unexpected"
	if k, ok := KindOf(err); ok {
		kind = k.String()
	}
	o.metrics.RecordFailure(operation, kind)
	if kind == "unexpected" {
		o.log.ErrorContext(ctx, "operation failed", "operation", operation, "error", err)
	} else {
		o.log.DebugContext(ctx, "operation rejected", "operation", operation, "kind", kind, "reason", err.Error())
	}
	return err
}
