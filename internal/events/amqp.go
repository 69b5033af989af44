package events

import (
	"context"
	"encoding/json"
	"sync"

	"levelquest/internal/config"
	"levelquest/internal/observability"
	contextutils "levelquest/internal/utils"

	"github.com/streadway/amqp"
	"go.opentelemetry.io/otel/attribute"
)

// AMQPPublisher publishes domain events to a durable topic exchange, using the
// event type as routing key. Realtime updates are not sent to the broker.
type AMQPPublisher struct {
	mu       sync.Mutex
	conn     *amqp.Connection
	channel  *amqp.Channel
	exchange string
	logger   *observability.Logger
}

// NewAMQPPublisher dials the broker and declares the exchange
func NewAMQPPublisher(amqpURL, exchange string, logger *observability.Logger) (*AMQPPublisher, error) {
	if exchange == "" {
		exchange = config.DefaultAMQPExchange
	}
	conn, err := amqp.Dial(amqpURL)
	if err != nil {
		return nil, contextutils.WrapErrorf(contextutils.ErrServiceUnavailable, "failed to connect to amqp broker: %v", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, contextutils.WrapErrorf(contextutils.ErrServiceUnavailable, "failed to open amqp channel: %v", err)
	}
	err = ch.ExchangeDeclare(
		exchange,
		"topic",
		true,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, contextutils.WrapErrorf(contextutils.ErrServiceUnavailable, "failed to declare exchange %s: %v", exchange, err)
	}
	return &AMQPPublisher{conn: conn, channel: ch, exchange: exchange, logger: logger}, nil
}

// Publish implements Publisher
func (p *AMQPPublisher) Publish(ctx context.Context, event Event) (err error) {
	if event.IsRealtime() {
		return nil
	}
	_, span := observability.TraceEventsFunction(ctx, "amqp_publish",
		attribute.String("messaging.system", "rabbitmq"),
		attribute.String("messaging.destination", p.exchange),
		attribute.String("messaging.routing_key", event.Type),
	)
	defer observability.FinishSpan(span, &err)

	body, err := marshalEvent(event)
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	err = p.channel.Publish(
		p.exchange,
		event.Type,
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Timestamp:    event.OccurredAt,
			Type:         event.Type,
			Body:         body,
		},
	)
	if err != nil {
		return contextutils.WrapErrorf(contextutils.ErrServiceUnavailable, "failed to publish %s: %v", event.Type, err)
	}
	return nil
}

// Close closes the channel and the connection
func (p *AMQPPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	var chErr, connErr error
	if p.channel != nil {
		chErr = p.channel.Close()
	}
	if p.conn != nil {
		connErr = p.conn.Close()
	}
	if chErr != nil {
		return chErr
	}
	return connErr
}

func marshalEvent(event Event) ([]byte, error) {
	body, err := json.Marshal(event)
	if err != nil {
		return nil, contextutils.WrapError(err, "failed to encode event")
	}
	return body, nil
}
