package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// PipelineMetrics carries the instruments recorded across ingest,
// storage, and replay. A nil *PipelineMetrics is a valid no-op.
type PipelineMetrics struct {
	eventsIngested  metric.Int64Counter
	parseIssues     metric.Int64Counter
	recordsAppended metric.Int64Counter
	eventsEmitted   metric.Int64Counter
	activeStreams   metric.Int64UpDownCounter
}

// NewPipelineMetrics builds the pipeline instruments on the global meter.
func NewPipelineMetrics() (*PipelineMetrics, error) {
	meter := otel.Meter("mdreplay")

	eventsIngested, err := meter.Int64Counter("mdreplay.ingest.events",
		metric.WithDescription("Canonical events produced by ingest"))
	if err != nil {
		return nil, fmt.Errorf("create ingest events counter: %w", err)
	}
	parseIssues, err := meter.Int64Counter("mdreplay.ingest.parse_issues",
		metric.WithDescription("Recoverable parse failures during ingest"))
	if err != nil {
		return nil, fmt.Errorf("create parse issues counter: %w", err)
	}
	recordsAppended, err := meter.Int64Counter("mdreplay.storage.records_appended",
		metric.WithDescription("Records appended to event logs"))
	if err != nil {
		return nil, fmt.Errorf("create records counter: %w", err)
	}
	eventsEmitted, err := meter.Int64Counter("mdreplay.replay.events_emitted",
		metric.WithDescription("Events delivered to replay consumers"))
	if err != nil {
		return nil, fmt.Errorf("create emitted counter: %w", err)
	}
	activeStreams, err := meter.Int64UpDownCounter("mdreplay.replay.active_streams",
		metric.WithDescription("Replay streams currently being paced"))
	if err != nil {
		return nil, fmt.Errorf("create streams counter: %w", err)
	}

	return &PipelineMetrics{
		eventsIngested:  eventsIngested,
		parseIssues:     parseIssues,
		recordsAppended: recordsAppended,
		eventsEmitted:   eventsEmitted,
		activeStreams:   activeStreams,
	}, nil
}

// RecordIngest records the outcome of one ingest pass.
func (m *PipelineMetrics) RecordIngest(ctx context.Context, source string, events, issues int) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("source", source))
	m.eventsIngested.Add(ctx, int64(events), attrs)
	if issues > 0 {
		m.parseIssues.Add(ctx, int64(issues), attrs)
	}
}

// RecordAppends counts records written to a log.
func (m *PipelineMetrics) RecordAppends(ctx context.Context, n int) {
	if m == nil {
		return
	}
	m.recordsAppended.Add(ctx, int64(n))
}

// StreamStarted marks a replay stream as active.
func (m *PipelineMetrics) StreamStarted(ctx context.Context) {
	if m == nil {
		return
	}
	m.activeStreams.Add(ctx, 1)
}

// StreamEnded marks a replay stream as finished and counts its deliveries.
func (m *PipelineMetrics) StreamEnded(ctx context.Context, emitted int) {
	if m == nil {
		return
	}
	m.activeStreams.Add(ctx, -1)
	m.eventsEmitted.Add(ctx, int64(emitted))
}
