package adapter

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/tinytelemetry/searchmatrix/internal/fixture"
)

// Metrics are the adapter request metrics shared by every instrumented adapter.
type Metrics struct {
	duration *prometheus.HistogramVec
	outcomes *prometheus.CounterVec
}

// NewMetrics registers the adapter metrics with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "searchmatrix_adapter_request_duration_seconds",
			Help:    "Time spent in adapter calls.",
			Buckets: prometheus.DefBuckets,
		}, []string{"family", "version", "operation"}),
		outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "searchmatrix_adapter_requests_total",
			Help: "Adapter calls by outcome.",
		}, []string{"family", "version", "operation", "outcome"}),
	}
	if reg != nil {
		reg.MustRegister(m.duration, m.outcomes)
	}
	return m
}

// Instrument wraps a with request metrics.
func (m *Metrics) Instrument(a Adapter) Adapter {
	return &instrumented{Adapter: a, m: m}
}

type instrumented struct {
	Adapter
	m *Metrics
}

// Outcome labels.
const (
	OutcomeOK          = "ok"
	OutcomePartial     = "partial"
	OutcomeRejected    = "rejected"
	OutcomeUnsupported = "unsupported"
	OutcomeUnreachable = "unreachable"
	OutcomeError       = "error"
)

// Outcome classifies an adapter error for metrics and reports.
func Outcome(err error) string {
	var (
		rejected    *QueryRejectedError
		importRej   *ImportRejectedError
		unsupported *UnsupportedSeriesTypeError
	)
	switch {
	case err == nil:
		return OutcomeOK
	case errors.As(err, &rejected), errors.As(err, &importRej):
		return OutcomeRejected
	case errors.As(err, &unsupported):
		return OutcomeUnsupported
	case errors.Is(err, ErrBackendUnreachable), errors.Is(err, ErrImportTimeout):
		return OutcomeUnreachable
	default:
		return OutcomeError
	}
}

func (i *instrumented) observe(op string, start time.Time, outcome string) {
	v := i.Version()
	i.m.duration.WithLabelValues(string(v.Family), v.Version.String(), op).Observe(time.Since(start).Seconds())
	i.m.outcomes.WithLabelValues(string(v.Family), v.Version.String(), op, outcome).Inc()
}

func (i *instrumented) Execute(ctx context.Context, req Request) (Result, error) {
	start := time.Now()
	res, err := i.Adapter.Execute(ctx, req)
	outcome := Outcome(err)
	if err == nil && res.Partial() {
		outcome = OutcomePartial
	}
	i.observe("execute", start, outcome)
	return res, err
}

func (i *instrumented) ImportFixture(ctx context.Context, ds *fixture.Dataset) error {
	start := time.Now()
	err := i.Adapter.ImportFixture(ctx, ds)
	i.observe("import", start, Outcome(err))
	return err
}

func (i *instrumented) RawQuery(ctx context.Context, native []byte) ([]byte, error) {
	start := time.Now()
	out, err := i.Adapter.RawQuery(ctx, native)
	i.observe("raw_query", start, Outcome(err))
	return out, err
}
