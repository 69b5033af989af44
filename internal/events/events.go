// Package events delivers game notifications: domain events to an AMQP topic
// exchange and realtime updates to connected websocket clients.
package events

import (
	"context"
	"errors"
	"time"

	"levelquest/internal/observability"
)

// Domain events, published with the type as routing key
const (
	TypeSessionStarted   = "game.session.started"
	TypeAnswerSubmitted  = "game.answer.submitted"
	TypeSessionCompleted = "game.session.completed"
	TypeSessionAbandoned = "game.session.abandoned"
	TypeSessionExpired   = "game.session.expired"
)

// Realtime updates pushed to learners
const (
	TypeLevelProgressUpdate  = "level-progress-update"
	TypeCourseProgressUpdate = "course-progress-update"
	TypeUserStatsUpdate      = "user-stats-update"
)

// Event is a notification about a learner's game activity
type Event struct {
	Type       string      `json:"type"`
	UserID     string      `json:"user_id"`
	SessionID  string      `json:"session_id,omitempty"`
	LevelID    string      `json:"level_id,omitempty"`
	CourseID   string      `json:"course_id,omitempty"`
	Payload    interface{} `json:"payload,omitempty"`
	OccurredAt time.Time   `json:"occurred_at"`
}

// IsRealtime reports whether the event is a progress push rather than a domain event
func (e Event) IsRealtime() bool {
	switch e.Type {
	case TypeLevelProgressUpdate, TypeCourseProgressUpdate, TypeUserStatsUpdate:
		return true
	}
	return false
}

// Publisher delivers events. Implementations must be safe for concurrent use.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
	Close() error
}

// Nop drops every event
type Nop struct{}

// Publish implements Publisher
func (Nop) Publish(context.Context, Event) error { return nil }

// Close implements Publisher
func (Nop) Close() error { return nil }

// Multi fans an event out to several publishers
type Multi struct {
	publishers []Publisher
}

// NewMulti drops nil publishers and returns Nop when none remain
func NewMulti(publishers ...Publisher) Publisher {
	var out []Publisher
	for _, p := range publishers {
		if p != nil {
			out = append(out, p)
		}
	}
	switch len(out) {
	case 0:
		return Nop{}
	case 1:
		return out[0]
	}
	return &Multi{publishers: out}
}

// Publish delivers to every publisher and joins their errors
func (m *Multi) Publish(ctx context.Context, event Event) error {
	var errs []error
	for _, p := range m.publishers {
		if err := p.Publish(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close closes every publisher
func (m *Multi) Close() error {
	var errs []error
	for _, p := range m.publishers {
		if err := p.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Notifier publishes on a best-effort basis: failures are logged and counted
// but never returned to the game flow.
type Notifier struct {
	publisher Publisher
	logger    *observability.Logger
	metrics   *observability.GameMetrics
	timeNow   func() time.Time
}

// NewNotifier wraps publisher; a nil publisher behaves like Nop
func NewNotifier(publisher Publisher, logger *observability.Logger) *Notifier {
	if publisher == nil {
		publisher = Nop{}
	}
	return &Notifier{
		publisher: publisher,
		logger:    logger,
		metrics:   observability.Game(),
		timeNow:   time.Now,
	}
}

// Notify stamps and publishes event
func (n *Notifier) Notify(ctx context.Context, event Event) {
	if n == nil {
		return
	}
	ctx, span := observability.TraceEventsFunction(ctx, "notify",
		observability.AttributeUserID(event.UserID),
	)
	defer span.End()

	if event.OccurredAt.IsZero() {
		event.OccurredAt = n.timeNow().UTC()
	}
	if err := n.publisher.Publish(ctx, event); err != nil {
		n.metrics.EventPublishFailed(ctx, event.Type)
		n.logger.Warn(ctx, "Failed to publish event", map[string]interface{}{
			"event_type": event.Type,
			"user_id":    event.UserID,
			"session_id": event.SessionID,
			"error":      err.Error(),
		})
	}
}
