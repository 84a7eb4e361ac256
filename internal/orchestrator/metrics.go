package orchestrator

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

type jobMetrics struct {
	chunksProcessed metric.Int64Counter
	chunksFailed    metric.Int64Counter
	segmentsMerged  metric.Int64Counter
	jobDuration     metric.Float64Histogram
}

func newJobMetrics() (*jobMetrics, error) {
	meter := otel.Meter("subgen.orchestrator")

	chunksProcessed, err := meter.Int64Counter("subgen_chunks_processed_total",
		metric.WithDescription("Chunks transcribed and merged"))
	if err != nil {
		return nil, fmt.Errorf("create chunk counter: %w", err)
	}
	chunksFailed, err := meter.Int64Counter("subgen_chunks_failed_total",
		metric.WithDescription("Chunks skipped after backend or encode failure"))
	if err != nil {
		return nil, fmt.Errorf("create failure counter: %w", err)
	}
	segmentsMerged, err := meter.Int64Counter("subgen_segments_merged_total",
		metric.WithDescription("Raw segments accepted into the result list"))
	if err != nil {
		return nil, fmt.Errorf("create segment counter: %w", err)
	}
	jobDuration, err := meter.Float64Histogram("subgen_job_duration_seconds",
		metric.WithDescription("Wall time of completed jobs"))
	if err != nil {
		return nil, fmt.Errorf("create duration histogram: %w", err)
	}

	return &jobMetrics{
		chunksProcessed: chunksProcessed,
		chunksFailed:    chunksFailed,
		segmentsMerged:  segmentsMerged,
		jobDuration:     jobDuration,
	}, nil
}

func (m *jobMetrics) chunkDone(ctx context.Context, accepted int) {
	m.chunksProcessed.Add(ctx, 1)
	m.segmentsMerged.Add(ctx, int64(accepted))
}

func (m *jobMetrics) chunkFailed(ctx context.Context) {
	m.chunksFailed.Add(ctx, 1)
}

func (m *jobMetrics) jobDone(ctx context.Context, seconds float64) {
	m.jobDuration.Record(ctx, seconds)
}
