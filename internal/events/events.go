// Package events publishes application and license lifecycle events. The
// store is the source of truth; a failed publish is logged and dropped.
package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"
)

// DefaultExchange is the topic exchange lifecycle events are published to.
const DefaultExchange = "pilot.license.events"

// Routing keys.
const (
	ApplicationCreated  = "application.created"
	ApplicationPaused   = "application.paused"
	ApplicationUnpaused = "application.unpaused"
	ApplicationDeleted  = "application.deleted"
	LicenseGenerated    = "license.generated"
	LicenseEdited       = "license.edited"
	LicenseHWIDAssigned = "license.hwid_assigned"
)

// Event is the JSON payload of a lifecycle message.
type Event struct {
	ID         string    `json:"id"`
	Type       string    `json:"type"`
	OccurredAt time.Time `json:"occurred_at"`
	AppKey     string    `json:"app_key"`
	LicenseKey string    `json:"license_key,omitempty"`
	Username   string    `json:"username,omitempty"`
}

// Publisher sends a payload to a routing key.
type Publisher interface {
	Publish(ctx context.Context, routingKey string, payload []byte) error
	Close() error
}

// Emitter stamps events and hands them to a Publisher.
type Emitter struct {
	pub    Publisher
	logger *slog.Logger
	now    func() time.Time
}

// NewEmitter returns an Emitter. A nil publisher drops every event.
func NewEmitter(pub Publisher, logger *slog.Logger) *Emitter {
	if logger == nil {
		logger = slog.Default()
	}
	if pub == nil {
		pub = NewNoopPublisher(logger)
	}
	return &Emitter{pub: pub, logger: logger, now: time.Now}
}

// Emit assigns an ID and timestamp to ev and publishes it under ev.Type.
func (e *Emitter) Emit(ctx context.Context, ev Event) {
	t := e.now().UTC()
	ev.ID = ulid.MustNew(ulid.Timestamp(t), ulid.DefaultEntropy()).String()
	ev.OccurredAt = t

	payload, err := json.Marshal(ev)
	if err != nil {
		e.logger.Error("encode event", "type", ev.Type, "error", err)
		return
	}
	if err := e.pub.Publish(ctx, ev.Type, payload); err != nil {
		e.logger.Warn("publish event failed",
			"type", ev.Type,
			"event_id", ev.ID,
			"app_key", ev.AppKey,
			"error", err,
		)
	}
}

// Close closes the underlying publisher.
func (e *Emitter) Close() error {
	return e.pub.Close()
}

// NoopPublisher is a publisher that drops everything.
type NoopPublisher struct {
	logger *slog.Logger
}

// NewNoopPublisher creates a publisher that does nothing.
func NewNoopPublisher(logger *slog.Logger) *NoopPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &NoopPublisher{logger: logger}
}

// Publish logs the message at debug level but doesn't publish it.
func (p *NoopPublisher) Publish(_ context.Context, routingKey string, payload []byte) error {
	p.logger.Debug("noop publish",
		"routing_key", routingKey,
		"size", len(payload),
	)
	return nil
}

// Close is a no-op.
func (p *NoopPublisher) Close() error {
	return nil
}
