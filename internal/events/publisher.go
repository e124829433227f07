package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go/jetstream"
)

// StreamName is the JetStream stream holding outbound margin events.
const StreamName = "MARGIN_EVENTS"

// SubjectPrefix prefixes every outbound subject:
// margin.events.{type}.{key}.
const SubjectPrefix = "margin.events"

// publisher is the subset of jetstream.JetStream the Publisher needs.
type publisher interface {
	Publish(ctx context.Context, subject string, data []byte, opts ...jetstream.PublishOpt) (*jetstream.PubAck, error)
}

// Publisher publishes events to NATS JetStream from a buffered queue so
// that Emit never blocks the engine.
type Publisher struct {
	js     publisher
	queue  chan Event
	logger *slog.Logger
}

// NewPublisher creates a publisher with the given queue capacity.
func NewPublisher(js jetstream.JetStream, capacity int, logger *slog.Logger) *Publisher {
	return newPublisher(js, capacity, logger)
}

func newPublisher(js publisher, capacity int, logger *slog.Logger) *Publisher {
	if capacity <= 0 {
		capacity = 1024
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{js: js, queue: make(chan Event, capacity), logger: logger}
}

// Emit enqueues evt. When the queue is full the event is dropped.
func (p *Publisher) Emit(evt Event) {
	select {
	case p.queue <- evt:
	default:
		p.logger.Warn("event queue full, dropping event", "type", evt.Type, "key", evt.Key)
	}
}

// Run publishes queued events until ctx is cancelled, then drains what is
// already queued.
func (p *Publisher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			p.drain()
			return ctx.Err()
		case evt := <-p.queue:
			if err := p.publish(ctx, evt); err != nil {
				// Non-fatal: the store keeps the reporting history.
				p.logger.Warn("outbound publish failed", "type", evt.Type, "key", evt.Key, "err", err)
			}
		}
	}
}

// Start runs the publisher in the background. The returned stop function
// cancels it and blocks until the queued events are drained.
func (p *Publisher) Start() (stop func()) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		p.Run(ctx)
	}()
	return func() {
		cancel()
		<-done
	}
}

func (p *Publisher) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for {
		select {
		case evt := <-p.queue:
			if err := p.publish(ctx, evt); err != nil {
				p.logger.Warn("outbound publish failed during drain", "type", evt.Type, "err", err)
			}
		default:
			return
		}
	}
}

func (p *Publisher) publish(ctx context.Context, evt Event) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	_, err = p.js.Publish(ctx, Subject(evt), data)
	return err
}

// Subject returns margin.events.{type}.{key}, or margin.events.{type} for
// unkeyed events.
func Subject(evt Event) string {
	subject := SubjectPrefix + "." + evt.Type
	if evt.Key != "" {
		subject += "." + evt.Key
	}
	return subject
}

// EnsureStream creates the outbound events stream.
func EnsureStream(ctx context.Context, js jetstream.JetStream) error {
	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      StreamName,
		Subjects:  []string{SubjectPrefix + ".>"},
		Storage:   jetstream.FileStorage,
		Retention: jetstream.LimitsPolicy,
		MaxAge:    72 * time.Hour,
		Replicas:  1,
	})
	if err != nil {
		return fmt.Errorf("create outbound stream: %w", err)
	}
	slog.Info("ensured outbound stream", "stream", StreamName)
	return nil
}
