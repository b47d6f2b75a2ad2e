package telemetry

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestSpansReachInstalledProvider(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	otel.SetTracerProvider(provider)
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })

	ctx, parent := Start(context.Background(), "scan", attribute.String("php", "8.2"))
	_, child := Start(ctx, "combination")
	End(child, errors.New("boom"))
	End(parent, nil)

	spans := recorder.Ended()
	require.Len(t, spans, 2)
	assert.Equal(t, "combination", spans[0].Name())
	assert.Equal(t, codes.Error, spans[0].Status().Code)
	assert.Equal(t, spans[1].SpanContext().SpanID(), spans[0].Parent().SpanID())
	assert.Equal(t, "scan", spans[1].Name())
	assert.Contains(t, spans[1].Attributes(), attribute.String("php", "8.2"))
	assert.Equal(t, TracerName, spans[1].InstrumentationScope().Name)
}
