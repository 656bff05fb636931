// Package instrumented decorates a NodeRepository with Prometheus metrics.
package instrumented

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/tendant/nodestore/pkg/nodestore"
)

// Metrics holds the collectors shared by every instrumented repository.
type Metrics struct {
	operations *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	results    *prometheus.HistogramVec
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "nodestore",
			Subsystem: "repository",
			Name:      "operations_total",
			Help:      "Repository operations by backend, operation and outcome.",
		}, []string{"backend", "operation", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "nodestore",
			Subsystem: "repository",
			Name:      "operation_duration_seconds",
			Help:      "Latency of repository operations.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"backend", "operation"}),
		results: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "nodestore",
			Subsystem: "repository",
			Name:      "filter_result_nodes",
			Help:      "Number of nodes returned by a filter page.",
			Buckets:   prometheus.ExponentialBuckets(1, 4, 8),
		}, []string{"backend"}),
	}

	for _, c := range []prometheus.Collector{m.operations, m.duration, m.results} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Repository records metrics around every call to the wrapped repository.
type Repository struct {
	inner   nodestore.NodeRepository
	metrics *Metrics
	backend string
}

var _ nodestore.NodeRepository = (*Repository)(nil)

// New wraps inner. backend labels every sample.
func New(inner nodestore.NodeRepository, metrics *Metrics, backend string) *Repository {
	return &Repository{inner: inner, metrics: metrics, backend: backend}
}

func (r *Repository) observe(op string, start time.Time, err error) {
	outcome := "ok"
	if err != nil {
		outcome = string(nodestore.KindOf(err))
	}
	r.metrics.operations.WithLabelValues(r.backend, op, outcome).Inc()
	r.metrics.duration.WithLabelValues(r.backend, op).Observe(time.Since(start).Seconds())
}

func (r *Repository) Add(ctx context.Context, node *nodestore.Node) error {
	start := time.Now()
	err := r.inner.Add(ctx, node)
	r.observe("add", start, err)
	return err
}

func (r *Repository) Update(ctx context.Context, node *nodestore.Node) error {
	start := time.Now()
	err := r.inner.Update(ctx, node)
	r.observe("update", start, err)
	return err
}

func (r *Repository) Delete(ctx context.Context, uuid string) error {
	start := time.Now()
	err := r.inner.Delete(ctx, uuid)
	r.observe("delete", start, err)
	return err
}

func (r *Repository) GetByID(ctx context.Context, uuid string) (*nodestore.Node, error) {
	start := time.Now()
	n, err := r.inner.GetByID(ctx, uuid)
	r.observe("get_by_id", start, err)
	return n, err
}

func (r *Repository) GetByFID(ctx context.Context, fid string) (*nodestore.Node, error) {
	start := time.Now()
	n, err := r.inner.GetByFID(ctx, fid)
	r.observe("get_by_fid", start, err)
	return n, err
}

func (r *Repository) Filter(ctx context.Context, filters nodestore.Filters, pageSize, pageToken int) (*nodestore.NodeFilterResult, error) {
	start := time.Now()
	res, err := r.inner.Filter(ctx, filters, pageSize, pageToken)
	r.observe("filter", start, err)
	if err == nil {
		r.metrics.results.WithLabelValues(r.backend).Observe(float64(len(res.Nodes)))
	}
	return res, err
}
