package pool

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/quarrier-db/quarrier/pkg/logger"
)

const meterName = "quarrier.pool"

var (
	poolMetricsOnce sync.Once
	poolMetricsErr  error

	connectionsIdle   metric.Int64ObservableGauge
	connectionsLeased metric.Int64ObservableGauge
	maxConfigured     metric.Int64ObservableGauge
	acquireWait       metric.Float64Histogram

	registeredPools sync.Map
)

// poolMetrics ties one pool to the shared otel instruments. A nil receiver
// is valid everywhere so a failed metrics init never disables the pool.
type poolMetrics struct {
	label string
	pool  *Pool
	attrs attribute.Set
}

// registerPoolMetrics initializes the shared instruments on first use and
// registers the pool for async gauge observation. Metric failures are logged
// and swallowed; the pool works without instrumentation.
func registerPoolMetrics(ctx context.Context, p *Pool) *poolMetrics {
	if err := ensurePoolMetrics(); err != nil {
		logger.FromContext(ctx).Warn("pool metrics not initialized, continuing without", "err", err)
		return nil
	}
	m := &poolMetrics{
		label: p.cfg.Label,
		pool:  p,
		attrs: attribute.NewSet(attribute.String("pool", p.cfg.Label)),
	}
	registeredPools.Store(m, struct{}{})
	return m
}

func (m *poolMetrics) unregister() {
	if m == nil {
		return
	}
	registeredPools.Delete(m)
}

func (m *poolMetrics) recordWait(ctx context.Context, d time.Duration) {
	if m == nil {
		return
	}
	acquireWait.Record(ctx, d.Seconds(), metric.WithAttributeSet(m.attrs))
}

func ensurePoolMetrics() error {
	poolMetricsOnce.Do(func() {
		meter := otel.GetMeterProvider().Meter(meterName)
		var err error
		connectionsIdle, err = meter.Int64ObservableGauge(
			"quarrier_pool_connections_idle",
			metric.WithDescription("Number of idle connections in the pool"),
		)
		if err != nil {
			poolMetricsErr = err
			return
		}
		connectionsLeased, err = meter.Int64ObservableGauge(
			"quarrier_pool_connections_leased",
			metric.WithDescription("Number of currently leased connections"),
		)
		if err != nil {
			poolMetricsErr = err
			return
		}
		maxConfigured, err = meter.Int64ObservableGauge(
			"quarrier_pool_max_size",
			metric.WithDescription("Configured maximum pool size"),
		)
		if err != nil {
			poolMetricsErr = err
			return
		}
		acquireWait, err = meter.Float64Histogram(
			"quarrier_pool_acquire_wait_seconds",
			metric.WithDescription("Time spent waiting for a pooled connection"),
			metric.WithUnit("s"),
			metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2),
		)
		if err != nil {
			poolMetricsErr = err
			return
		}
		_, poolMetricsErr = meter.RegisterCallback(observePools,
			connectionsIdle, connectionsLeased, maxConfigured)
	})
	return poolMetricsErr
}

func observePools(_ context.Context, o metric.Observer) error {
	registeredPools.Range(func(key, _ any) bool {
		m, ok := key.(*poolMetrics)
		if !ok {
			return true
		}
		stats := m.pool.Stats()
		o.ObserveInt64(connectionsIdle, int64(stats.Idle), metric.WithAttributeSet(m.attrs))
		o.ObserveInt64(connectionsLeased, int64(stats.Leased), metric.WithAttributeSet(m.attrs))
		o.ObserveInt64(maxConfigured, int64(stats.MaxSize), metric.WithAttributeSet(m.attrs))
		return true
	})
	return nil
}
