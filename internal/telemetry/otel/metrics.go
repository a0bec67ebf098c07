package otel

import (
	"context"

	"go.opentelemetry.io/otel/metric"
)

// PipelineMetrics carries the ingestion pipeline counters. All methods are
// nil-safe so components can run without a meter wired in.
type PipelineMetrics struct {
	messagesProcessed metric.Int64Counter
	messagesDropped   metric.Int64Counter
	sessionsStarted   metric.Int64Counter
	sessionsStopped   metric.Int64Counter
}

// NewPipelineMetrics registers the pipeline counters on the given provider.
func NewPipelineMetrics(mp metric.MeterProvider) (*PipelineMetrics, error) {
	meter := mp.Meter("twitchpulse/backend")

	processed, err := meter.Int64Counter("pulse.messages.processed",
		metric.WithDescription("Chat messages folded into session aggregates"))
	if err != nil {
		return nil, err
	}
	dropped, err := meter.Int64Counter("pulse.messages.dropped",
		metric.WithDescription("Chat messages dropped at the queue edge"))
	if err != nil {
		return nil, err
	}
	started, err := meter.Int64Counter("pulse.sessions.started",
		metric.WithDescription("Capture sessions started"))
	if err != nil {
		return nil, err
	}
	stopped, err := meter.Int64Counter("pulse.sessions.stopped",
		metric.WithDescription("Capture sessions stopped, by any path"))
	if err != nil {
		return nil, err
	}

	return &PipelineMetrics{
		messagesProcessed: processed,
		messagesDropped:   dropped,
		sessionsStarted:   started,
		sessionsStopped:   stopped,
	}, nil
}

func (m *PipelineMetrics) MessageProcessed(ctx context.Context) {
	if m == nil {
		return
	}
	m.messagesProcessed.Add(ctx, 1)
}

func (m *PipelineMetrics) MessageDropped(ctx context.Context) {
	if m == nil {
		return
	}
	m.messagesDropped.Add(ctx, 1)
}

func (m *PipelineMetrics) SessionStarted(ctx context.Context) {
	if m == nil {
		return
	}
	m.sessionsStarted.Add(ctx, 1)
}

func (m *PipelineMetrics) SessionStopped(ctx context.Context) {
	if m == nil {
		return
	}
	m.sessionsStopped.Add(ctx, 1)
}
