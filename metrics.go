package dustlink

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	metricsScopeName = "github.com/dustbyte/dustlink"
)

var (
	operationKindKey = attribute.Key("operation_kind")
	successKey       = attribute.Key("success")

	defaultHistogramBuckets = []float64{
		.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10,
	}
)

type orchestratorMetrics struct {
	meter               metric.Meter
	operationsIssued    metric.Int64Counter
	operationsCompleted metric.Int64Counter
	operationLatency    metric.Float64Histogram
}

func newOrchestratorMetrics(provider metric.MeterProvider) (*orchestratorMetrics, error) {
	meter := provider.Meter(metricsScopeName)
	operationsIssued, err := meter.Int64Counter("dustlink.orchestrator.operations_issued")
	if err != nil {
		return nil, err
	}
	operationsCompleted, err := meter.Int64Counter("dustlink.orchestrator.operations_completed")
	if err != nil {
		return nil, err
	}
	operationLatency, err := meter.Float64Histogram("dustlink.orchestrator.operation_latency",
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(defaultHistogramBuckets...))
	if err != nil {
		return nil, err
	}
	return &orchestratorMetrics{
		meter:               meter,
		operationsIssued:    operationsIssued,
		operationsCompleted: operationsCompleted,
		operationLatency:    operationLatency,
	}, nil
}

func (m *orchestratorMetrics) recordIssued(kind OperationKind) {
	m.operationsIssued.Add(context.Background(), 1,
		metric.WithAttributes(operationKindKey.String(kind.String())))
}

func (m *orchestratorMetrics) recordCompleted(kind OperationKind, success bool, latency time.Duration) {
	m.operationsCompleted.Add(context.Background(), 1,
		metric.WithAttributes(operationKindKey.String(kind.String()), successKey.Bool(success)))
	m.operationLatency.Record(context.Background(), latency.Seconds(),
		metric.WithAttributes(operationKindKey.String(kind.String())))
}
