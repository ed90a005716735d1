package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestInitTracerProviderRecordsWhenEnabled(t *testing.T) {
	ctx := context.Background()
	tp, err := InitTracerProvider(ctx, Config{ServiceName: "places-search-test", Enabled: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = tp.Shutdown(ctx) })

	rec := tracetest.NewSpanRecorder()
	tp.RegisterSpanProcessor(rec)

	_, span := otel.Tracer("test").Start(ctx, "execute")
	span.End()

	ended := rec.Ended()
	require.Len(t, ended, 1)
	require.Equal(t, "execute", ended[0].Name())

	carrier := propagation.MapCarrier{}
	spanCtx, span := tp.Tracer("test").Start(ctx, "publish")
	otel.GetTextMapPropagator().Inject(spanCtx, carrier)
	span.End()
	require.NotEmpty(t, carrier.Get("traceparent"))
}

func TestInitTracerProviderDisabledDropsSpans(t *testing.T) {
	ctx := context.Background()
	tp, err := InitTracerProvider(ctx, Config{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = tp.Shutdown(ctx) })

	rec := tracetest.NewSpanRecorder()
	tp.RegisterSpanProcessor(rec)
	_, span := tp.Tracer("test").Start(ctx, "ignored")
	span.End()
	require.Empty(t, rec.Ended())
}
