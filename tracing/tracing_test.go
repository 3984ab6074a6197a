package tracing

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

	"github.com/wyfcoding/mkl/config"
)

func installRecorder(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		otel.SetTracerProvider(prev)
		_ = tp.Shutdown(context.Background())
	})
	return rec
}

func TestStartSpanRecordsTagsAndErrors(t *testing.T) {
	rec := installRecorder(t)

	ctx, span := StartSpan(context.Background(), "mkl.Train")
	AddTag(ctx, "kernels", 2)
	AddTag(ctx, "norm", 1.0)
	AddTag(ctx, "weights", []float64{0.25, 0.75})
	AddTag(ctx, "status", "converged")
	AddTag(ctx, "other", struct{ A int }{A: 1})
	SetError(ctx, errors.New("retrain failed"))
	SetError(ctx, nil)
	assert.NotEmpty(t, GetTraceID(ctx))
	span.End()

	ended := rec.Ended()
	require.Len(t, ended, 1)
	s := ended[0]
	assert.Equal(t, "mkl.Train", s.Name())
	assert.Equal(t, codes.Error, s.Status().Code)
	assert.Contains(t, s.Attributes(), attribute.Int("kernels", 2))
	assert.Contains(t, s.Attributes(), attribute.Float64Slice("weights", []float64{0.25, 0.75}))
	assert.Contains(t, s.Attributes(), attribute.String("other", "{1}"))
	require.Len(t, s.Events(), 1)
	assert.Equal(t, "exception", s.Events()[0].Name)
}

func TestChildSpanSharesTrace(t *testing.T) {
	rec := installRecorder(t)

	ctx, parent := StartSpan(context.Background(), "mkl.Train")
	_, child := StartSpan(ctx, "mkl.AddingWeights")
	child.End()
	parent.End()

	ended := rec.Ended()
	require.Len(t, ended, 2)
	assert.Equal(t, ended[1].SpanContext().TraceID(), ended[0].SpanContext().TraceID())
	assert.Equal(t, ended[1].SpanContext().SpanID(), ended[0].Parent().SpanID())
}

func TestInitTracerDisabledIsNoop(t *testing.T) {
	shutdown, err := InitTracer(config.TracingConfig{Enabled: false})
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
	assert.Empty(t, GetTraceID(context.Background()))
}
