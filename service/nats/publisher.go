package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/brojonat/raisefi/service/metrics"
)

// Publisher publishes fund events.
type Publisher interface {
	// PublishFundEvent publishes one event to "funds.{fund}".
	PublishFundEvent(ctx context.Context, event *FundEvent) error

	// Close closes the connection to NATS.
	Close() error
}

const (
	// StreamName is the JetStream stream holding fund events.
	StreamName = "FUNDS"

	// SubjectPrefix prefixes every fund event subject.
	SubjectPrefix = "funds."

	// StreamSubjects is the subject pattern for the stream.
	StreamSubjects = "funds.*"

	// StreamRetention is how long events are retained.
	StreamRetention = 30 * 24 * time.Hour
)

// JetStreamPublisher publishes fund events to NATS JetStream.
type JetStreamPublisher struct {
	nc      *nats.Conn
	js      jetstream.JetStream
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// Connect dials NATS with the reconnect settings shared by publisher and
// consumers.
func Connect(natsURL, name string) (*nats.Conn, error) {
	nc, err := nats.Connect(natsURL,
		nats.Name(name),
		nats.Timeout(10*time.Second),
		nats.ReconnectWait(1*time.Second),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	return nc, nil
}

// NewPublisher connects to NATS and ensures the FUNDS stream exists.
func NewPublisher(natsURL string, m *metrics.Metrics, logger *slog.Logger) (*JetStreamPublisher, error) {
	nc, err := Connect(natsURL, "raisefi-publisher")
	if err != nil {
		return nil, err
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	publisher := &JetStreamPublisher{nc: nc, js: js, metrics: m, logger: logger}

	if err := EnsureStream(context.Background(), js, logger); err != nil {
		nc.Close()
		return nil, err
	}

	logger.Info("NATS publisher initialized", "url", natsURL, "stream", StreamName)
	return publisher, nil
}

// EnsureStream creates the FUNDS stream if it doesn't exist.
func EnsureStream(ctx context.Context, js jetstream.JetStream, logger *slog.Logger) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if stream, err := js.Stream(ctx, StreamName); err == nil {
		if info, err := stream.Info(ctx); err == nil {
			logger.Debug("JetStream stream already exists",
				"stream", StreamName,
				"messages", info.State.Msgs,
			)
		}
		return nil
	}

	logger.Info("creating JetStream stream", "stream", StreamName)

	_, err := js.CreateStream(ctx, jetstream.StreamConfig{
		Name:        StreamName,
		Description: "Fund creation and donation transaction events",
		Subjects:    []string{StreamSubjects},
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      StreamRetention,
		Storage:     jetstream.FileStorage,
		Replicas:    1,
	})
	if err != nil {
		return fmt.Errorf("failed to create stream: %w", err)
	}
	return nil
}

// PublishFundEvent publishes a single fund event.
func (p *JetStreamPublisher) PublishFundEvent(ctx context.Context, event *FundEvent) error {
	subject := event.Subject()
	start := time.Now()

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal fund event: %w", err)
	}

	_, err = p.js.Publish(ctx, subject, data)
	status := "success"
	if err != nil {
		status = "error"
	}
	p.metrics.RecordNATSPublish(subject, status, time.Since(start).Seconds())
	if err != nil {
		return fmt.Errorf("failed to publish fund event: %w", err)
	}

	p.logger.DebugContext(ctx, "published fund event",
		"subject", subject,
		"type", event.Type,
		"hash", event.Hash,
	)
	return nil
}

// Close closes the connection to NATS.
func (p *JetStreamPublisher) Close() error {
	if p.nc != nil {
		p.nc.Close()
		p.logger.Info("NATS publisher closed")
	}
	return nil
}
