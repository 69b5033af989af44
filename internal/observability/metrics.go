package observability

import (
	"context"
	"sync"

	"levelquest/internal/config"
	contextutils "levelquest/internal/utils"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// InitMetrics initializes OpenTelemetry metrics
func InitMetrics(cfg *config.OpenTelemetryConfig) (result0 *sdkmetric.MeterProvider, err error) {
	ctx := context.Background()

	res, err := newResource(ctx, cfg)
	if err != nil {
		return nil, err
	}

	var exporter sdkmetric.Exporter
	switch cfg.Protocol {
	case "grpc":
		opts := []otlpmetricgrpc.Option{
			otlpmetricgrpc.WithEndpoint(cfg.Endpoint),
			otlpmetricgrpc.WithHeaders(cfg.Headers),
		}
		if cfg.Insecure {
			opts = append(opts, otlpmetricgrpc.WithInsecure())
		}
		exp, err := otlpmetricgrpc.New(ctx, opts...)
		if err != nil {
			return nil, contextutils.WrapErrorf(contextutils.ErrInternalError, "failed to create otlp grpc metric exporter: %w", err)
		}
		exporter = exp
	case "http":
		opts := []otlpmetrichttp.Option{
			otlpmetrichttp.WithEndpoint(cfg.Endpoint),
			otlpmetrichttp.WithHeaders(cfg.Headers),
		}
		if cfg.Insecure {
			opts = append(opts, otlpmetrichttp.WithInsecure())
		}
		exp, err := otlpmetrichttp.New(ctx, opts...)
		if err != nil {
			return nil, contextutils.WrapErrorf(contextutils.ErrInternalError, "failed to create otlp http metric exporter: %w", err)
		}
		exporter = exp
	default:
		return nil, contextutils.WrapErrorf(contextutils.ErrInvalidInput, "unsupported otel protocol: %s", cfg.Protocol)
	}

	return sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter)),
		sdkmetric.WithResource(res),
	), nil
}

// GameMetrics holds the counters recorded by the game services
type GameMetrics struct {
	sessionsStarted     metric.Int64Counter
	sessionsFinished    metric.Int64Counter
	answersSubmitted    metric.Int64Counter
	commitConflicts     metric.Int64Counter
	aggregationFailures metric.Int64Counter
	eventPublishErrors  metric.Int64Counter
}

var (
	gameMetrics     *GameMetrics
	gameMetricsOnce sync.Once
)

// Game returns the process-wide game metrics, created from the global MeterProvider
// on first use. Without a configured provider the instruments are no-ops.
func Game() *GameMetrics {
	gameMetricsOnce.Do(func() {
		gameMetrics = NewGameMetrics(otel.Meter("levelquest/game"))
	})
	return gameMetrics
}

// NewGameMetrics creates the game instruments on the given meter
func NewGameMetrics(meter metric.Meter) *GameMetrics {
	m := &GameMetrics{}
	// fall back to no-op instruments on error
	var err error
	if m.sessionsStarted, err = meter.Int64Counter("game.sessions.started",
		metric.WithDescription("Sessions created")); err != nil {
		m.sessionsStarted = noopCounter()
	}
	if m.sessionsFinished, err = meter.Int64Counter("game.sessions.finished",
		metric.WithDescription("Sessions reaching a terminal status")); err != nil {
		m.sessionsFinished = noopCounter()
	}
	if m.answersSubmitted, err = meter.Int64Counter("game.answers.submitted",
		metric.WithDescription("Answers and skips applied to sessions")); err != nil {
		m.answersSubmitted = noopCounter()
	}
	if m.commitConflicts, err = meter.Int64Counter("game.commit.conflicts",
		metric.WithDescription("Conditional writes lost to a concurrent writer")); err != nil {
		m.commitConflicts = noopCounter()
	}
	if m.aggregationFailures, err = meter.Int64Counter("game.aggregation.failures",
		metric.WithDescription("Completed sessions whose aggregates could not be updated")); err != nil {
		m.aggregationFailures = noopCounter()
	}
	if m.eventPublishErrors, err = meter.Int64Counter("game.events.publish_errors",
		metric.WithDescription("Notifications that could not be delivered")); err != nil {
		m.eventPublishErrors = noopCounter()
	}
	return m
}

func noopCounter() metric.Int64Counter {
	return noop.Int64Counter{}
}

// SessionStarted records a new session
func (m *GameMetrics) SessionStarted(ctx context.Context) {
	m.sessionsStarted.Add(ctx, 1)
}

// SessionFinished records a session reaching the given terminal status
func (m *GameMetrics) SessionFinished(ctx context.Context, status string, count int64) {
	if count <= 0 {
		return
	}
	m.sessionsFinished.Add(ctx, count, metric.WithAttributes(attribute.String("status", status)))
}

// AnswerSubmitted records an applied answer
func (m *GameMetrics) AnswerSubmitted(ctx context.Context, correct, skipped bool) {
	m.answersSubmitted.Add(ctx, 1, metric.WithAttributes(
		attribute.Bool("correct", correct),
		attribute.Bool("skipped", skipped),
	))
}

// CommitConflict records a lost conditional write
func (m *GameMetrics) CommitConflict(ctx context.Context, entity string) {
	m.commitConflicts.Add(ctx, 1, metric.WithAttributes(attribute.String("entity", entity)))
}

// AggregationFailed records a completion whose aggregates were not updated
func (m *GameMetrics) AggregationFailed(ctx context.Context, aggregate string) {
	m.aggregationFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("aggregate", aggregate)))
}

// EventPublishFailed records an undelivered notification
func (m *GameMetrics) EventPublishFailed(ctx context.Context, transport string) {
	m.eventPublishErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("transport", transport)))
}
