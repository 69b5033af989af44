package observability

import (
	"context"
	"errors"
	"testing"

	"levelquest/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestSetupObservability_NoneEnabled(t *testing.T) {
	cfg := &config.OpenTelemetryConfig{
		ServiceName: "test-service",
		Protocol:    "grpc",
		Endpoint:    "localhost:4317",
		Insecure:    true,
	}
	providers, logger, err := SetupObservability(cfg, "levelquest-test", "info")
	require.NoError(t, err)
	require.NotNil(t, logger)
	assert.Nil(t, providers.TracerProvider)
	assert.Nil(t, providers.MeterProvider)
	assert.Equal(t, "levelquest-test", cfg.ServiceName)
	assert.NoError(t, providers.Shutdown(context.Background()))
}

func TestSetupObservability_TracingAndMetrics(t *testing.T) {
	cfg := &config.OpenTelemetryConfig{
		EnableTracing: true,
		EnableMetrics: true,
		Protocol:      "grpc",
		Endpoint:      "localhost:4317",
		Insecure:      true,
		SamplingRate:  1,
	}
	providers, _, err := SetupObservability(cfg, "levelquest-test", "debug")
	require.NoError(t, err)
	assert.NotNil(t, providers.TracerProvider)
	assert.NotNil(t, providers.MeterProvider)
}

func TestInitTracing_InvalidProtocol(t *testing.T) {
	_, err := InitTracing(&config.OpenTelemetryConfig{Protocol: "carrier-pigeon"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported otel protocol")
}

func TestInitMetrics_HTTP(t *testing.T) {
	mp, err := InitMetrics(&config.OpenTelemetryConfig{Protocol: "http", Endpoint: "localhost:4318", Insecure: true})
	require.NoError(t, err)
	require.NotNil(t, mp)
	_ = mp.Shutdown(context.Background())
}

func TestFinishSpan_RecordsError(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))

	_, span := tp.Tracer("test").Start(context.Background(), "op")
	err := errors.New("failed")
	FinishSpan(span, &err)

	_, okSpan := tp.Tracer("test").Start(context.Background(), "ok")
	var noErr error
	FinishSpan(okSpan, &noErr)

	ended := recorder.Ended()
	require.Len(t, ended, 2)
	assert.Equal(t, codes.Error, ended[0].Status().Code)
	assert.Equal(t, codes.Unset, ended[1].Status().Code)
}

func TestGameMetrics_Counters(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	m := NewGameMetrics(mp.Meter("test"))
	ctx := context.Background()

	m.SessionStarted(ctx)
	m.SessionStarted(ctx)
	m.AnswerSubmitted(ctx, true, false)
	m.SessionFinished(ctx, "expired", 3)
	m.SessionFinished(ctx, "expired", 0)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(ctx, &rm))

	totals := map[string]int64{}
	for _, sm := range rm.ScopeMetrics {
		for _, metric := range sm.Metrics {
			if sum, ok := metric.Data.(metricdata.Sum[int64]); ok {
				for _, dp := range sum.DataPoints {
					totals[metric.Name] += dp.Value
				}
			}
		}
	}
	assert.Equal(t, int64(2), totals["game.sessions.started"])
	assert.Equal(t, int64(1), totals["game.answers.submitted"])
	assert.Equal(t, int64(3), totals["game.sessions.finished"])
}
