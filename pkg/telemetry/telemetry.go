// Package telemetry records the steps of a statechart engine as
// OpenTelemetry spans.
package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/stateforward/go-statechart"
)

const instrumentation = "github.com/stateforward/go-statechart"

// NewProvider returns a provider that records nothing.
func NewProvider() trace.TracerProvider {
	return noop.NewTracerProvider()
}

// Tracer returns the tracer of the globally registered provider.
func Tracer() trace.Tracer {
	return otel.Tracer(instrumentation)
}

// Trace returns a trace hook that opens one span per engine step. Step data
// becomes span attributes; an error passed when the step ends marks the span
// as failed.
func Trace(tracer trace.Tracer) statechart.Trace {
	if tracer == nil {
		tracer = NewProvider().Tracer(instrumentation)
	}
	return func(ctx context.Context, step string, data ...any) (context.Context, func(...any)) {
		ctx, span := tracer.Start(ctx, "statechart."+step, trace.WithAttributes(attributes("statechart.", data)...))
		return ctx, func(results ...any) {
			for _, result := range results {
				switch result := result.(type) {
				case nil:
				case error:
					span.RecordError(result)
					span.SetStatus(codes.Error, result.Error())
				case bool:
					span.SetAttributes(attribute.Bool("statechart.result", result))
				}
			}
			span.End()
		}
	}
}

func attributes(prefix string, data []any) []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, len(data))
	for i, value := range data {
		key := fmt.Sprintf("%sdata.%d", prefix, i)
		if i == 0 {
			key = prefix + "element"
		}
		switch value := value.(type) {
		case nil:
		case string:
			attrs = append(attrs, attribute.String(key, value))
		case int:
			attrs = append(attrs, attribute.Int(key, value))
		case bool:
			attrs = append(attrs, attribute.Bool(key, value))
		default:
			attrs = append(attrs, attribute.String(key, fmt.Sprint(value)))
		}
	}
	return attrs
}
