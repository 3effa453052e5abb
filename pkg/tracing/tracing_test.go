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
	tracesdk "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func installRecorder(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()
	recorder := tracetest.NewSpanRecorder()
	tp := tracesdk.NewTracerProvider(tracesdk.WithSpanProcessor(recorder))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		otel.SetTracerProvider(prev)
		_ = tp.Shutdown(context.Background())
	})
	return recorder
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.False(t, cfg.Enabled)
	assert.Equal(t, "coachroom", cfg.ServiceName)
	assert.Equal(t, "http://localhost:14268/api/traces", cfg.JaegerURL)
	assert.Equal(t, 1.0, cfg.SampleRate)
}

func TestInit_Disabled(t *testing.T) {
	tp, err := Init(DefaultConfig())
	require.NoError(t, err)
	assert.NoError(t, tp.Shutdown(context.Background()))
}

func TestStartSpan_NoProvider(t *testing.T) {
	ctx, span := StartSpan(context.Background(), "test.operation")
	require.NotNil(t, span)
	AddSpanAttributes(ctx, attribute.String("k", "v"))
	RecordError(ctx, errors.New("ignored"))
	span.End()
}

func TestTraceMedia_Attributes(t *testing.T) {
	recorder := installRecorder(t)

	ctx, span := TraceMedia(context.Background(), "acquire", "session-1")
	assert.NotEmpty(t, TraceID(ctx))
	RecordError(ctx, errors.New("permission denied"))
	span.End()

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "media.acquire", spans[0].Name())
	assert.Contains(t, spans[0].Attributes(), SessionIDKey.String("session-1"))
	assert.Equal(t, codes.Error, spans[0].Status().Code)
}

func TestTraceHelpers_Names(t *testing.T) {
	recorder := installRecorder(t)

	_, s1 := TraceSession(context.Background(), "open", "session-1")
	s1.End()
	_, s2 := TraceStoreOperation(context.Background(), "load", "redis")
	s2.End()
	_, s3 := TraceHTTPRequest(context.Background(), "GET", "/api/v1/sessions/:id")
	s3.End()

	var names []string
	for _, s := range recorder.Ended() {
		names = append(names, s.Name())
	}
	assert.Equal(t, []string{"session.open", "store.load", "http.GET"}, names)
}

func TestTraceID_Empty(t *testing.T) {
	assert.Equal(t, "", TraceID(context.Background()))
}
