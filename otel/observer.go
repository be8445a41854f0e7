// Package otel provides OpenTelemetry integration for MCP bridge lifecycle
// events.
package otel

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/AnuradhaKaruppiah/oss-agentiq/bridge"
)

// BridgeObserver records bridge lifecycle events into OpenTelemetry. Start
// events open a span keyed by correlation identifier; the matching end event
// closes it and records metrics.
type BridgeObserver struct {
	tracer trace.Tracer

	steps    metric.Int64Counter
	failures metric.Int64Counter
	latency  metric.Float64Histogram

	mu    sync.Mutex
	spans map[string]trace.Span // correlation ID -> span
}

// NewBridgeObserver creates a bridge observer bound to the provided
// meter/tracer.
func NewBridgeObserver(meter metric.Meter, tracer trace.Tracer) (*BridgeObserver, error) {
	steps, err := meter.Int64Counter(
		"agentiq.bridge.steps",
		metric.WithDescription("Number of bridge steps (session opens and tool calls)"),
	)
	if err != nil {
		return nil, err
	}
	failures, err := meter.Int64Counter(
		"agentiq.bridge.failures",
		metric.WithDescription("Number of failed bridge steps"),
	)
	if err != nil {
		return nil, err
	}
	latency, err := meter.Float64Histogram(
		"agentiq.bridge.latency",
		metric.WithDescription("Bridge step latency in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	return &BridgeObserver{
		tracer:   tracer,
		steps:    steps,
		failures: failures,
		latency:  latency,
		spans:    make(map[string]trace.Span),
	}, nil
}

// ObserveStart opens a span for the step.
func (o *BridgeObserver) ObserveStart(event bridge.StepEvent) {
	if o == nil || o.tracer == nil {
		return
	}

	_, span := o.tracer.Start(context.Background(), event.Step,
		trace.WithAttributes(stepAttributes(event)...),
	)

	o.mu.Lock()
	o.spans[event.CorrelationID] = span
	o.mu.Unlock()
}

// ObserveEnd records metrics for the step and closes its span.
func (o *BridgeObserver) ObserveEnd(event bridge.StepEvent) {
	if o == nil {
		return
	}

	attrs := stepAttributes(event)
	ctx := context.Background()
	options := metric.WithAttributes(attrs...)
	o.steps.Add(ctx, 1, options)
	if !event.Success {
		o.failures.Add(ctx, 1, options)
	}
	o.latency.Record(ctx, float64(time.Duration(event.DurationMS)*time.Millisecond)/float64(time.Second), options)

	o.mu.Lock()
	span, ok := o.spans[event.CorrelationID]
	if ok {
		delete(o.spans, event.CorrelationID)
	}
	o.mu.Unlock()
	if !ok {
		return
	}

	if event.Success {
		span.SetStatus(codes.Ok, "")
	} else {
		span.SetStatus(codes.Error, event.ErrorText)
	}
	span.End()
}

func stepAttributes(event bridge.StepEvent) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String("step", event.Step),
		attribute.String("transport", string(event.Transport)),
		attribute.String("source", event.Source),
	}
	if event.ToolName != "" {
		attrs = append(attrs, attribute.String("tool_name", event.ToolName))
	}
	return attrs
}

var _ bridge.Observer = (*BridgeObserver)(nil)
