package tracing

import (
	"context"
	"errors"
	"testing"

	"roombook/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestInit_NoEndpoint(t *testing.T) {
	shutdown, err := Init(context.Background(), config.TracingConfig{}, config.AppConfig{})
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
}

func TestStartEnd(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	_, span := Start(context.Background(), "booking.create", attribute.String("room_id", "R1"))
	End(span, nil)

	_, span = Start(context.Background(), "booking.cancel")
	End(span, errors.New("boom"))

	spans := recorder.Ended()
	require.Len(t, spans, 2)
	assert.Equal(t, "booking.create", spans[0].Name())
	assert.Contains(t, spans[0].Attributes(), attribute.String("room_id", "R1"))
	assert.Equal(t, codes.Error, spans[1].Status().Code)
}
