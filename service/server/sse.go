package server

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/brojonat/raisefi/service/metrics"
	natspkg "github.com/brojonat/raisefi/service/nats"
)

const sseKeepalive = 10 * time.Second

// SSEPublisher manages Server-Sent Events connections for fund event streaming.
type SSEPublisher struct {
	nc     *nats.Conn
	js     jetstream.JetStream
	logger *slog.Logger
}

// NewSSEPublisher creates a new SSE publisher that subscribes to NATS internally.
func NewSSEPublisher(natsURL string, logger *slog.Logger) (*SSEPublisher, error) {
	nc, err := natspkg.Connect(natsURL, "raisefi-sse-publisher")
	if err != nil {
		return nil, err
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	logger.Info("SSE publisher initialized", "nats_url", natsURL)

	return &SSEPublisher{
		nc:     nc,
		js:     js,
		logger: logger,
	}, nil
}

// Close closes the NATS connection.
func (p *SSEPublisher) Close() error {
	if p.nc != nil {
		p.nc.Close()
		p.logger.Info("SSE publisher closed")
	}
	return nil
}

// writeSSE writes one event frame and flushes it.
func writeSSE(w io.Writer, event string, data []byte) {
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
	if flusher, ok := w.(http.Flusher); ok {
		flusher.Flush()
	}
}

// streamSubject returns the NATS filter for a stream request. An empty
// address streams every fund.
func streamSubject(address string) (subject, desc string) {
	if address == "" {
		return natspkg.StreamSubjects, "all funds"
	}
	return natspkg.Subject(address), address
}

// handleStreamFunds handles SSE streaming of fund events.
// GET /api/v1/stream/funds[/{address}]
func handleStreamFunds(publisher *SSEPublisher, m *metrics.Metrics, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		address := r.PathValue("address")
		if address != "" {
			if err := validateAddress(address); err != nil {
				writeError(w, err.Error(), http.StatusBadRequest)
				return
			}
		}
		subject, desc := streamSubject(address)

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")

		if flusher, ok := w.(http.Flusher); ok {
			flusher.Flush()
		}

		logger.DebugContext(r.Context(), "SSE client connected",
			"fund", desc,
			"remote_addr", r.RemoteAddr,
		)
		m.RecordSSEConnectionChange(desc, 1)
		defer m.RecordSSEConnectionChange(desc, -1)

		// Ephemeral consumer; only events published after connecting.
		cons, err := publisher.js.CreateOrUpdateConsumer(r.Context(), natspkg.StreamName, jetstream.ConsumerConfig{
			FilterSubject: subject,
			AckPolicy:     jetstream.AckExplicitPolicy,
			DeliverPolicy: jetstream.DeliverNewPolicy,
		})
		if err != nil {
			logger.ErrorContext(r.Context(), "failed to create consumer",
				"fund", desc,
				"error", err,
			)
			writeSSE(w, "error", []byte(`{"error": "failed to subscribe"}`))
			return
		}

		msgChan := make(chan jetstream.Msg, 10)
		doneChan := make(chan struct{})

		go func() {
			defer close(doneChan)
			cc, err := cons.Consume(func(msg jetstream.Msg) {
				select {
				case msgChan <- msg:
				case <-r.Context().Done():
					return
				}
			})
			if err != nil {
				logger.ErrorContext(r.Context(), "failed to start consuming messages",
					"error", err,
				)
				return
			}
			<-r.Context().Done()
			cc.Stop()
		}()

		connected, _ := json.Marshal(map[string]string{"fund": desc})
		writeSSE(w, "connected", connected)

		keepalive := time.NewTicker(sseKeepalive)
		defer keepalive.Stop()

		for {
			select {
			case <-keepalive.C:
				fmt.Fprintf(w, ": keepalive\n\n")
				if flusher, ok := w.(http.Flusher); ok {
					flusher.Flush()
				}

			case msg := <-msgChan:
				var event natspkg.FundEvent
				if err := json.Unmarshal(msg.Data(), &event); err != nil {
					logger.WarnContext(r.Context(), "failed to unmarshal event",
						"error", err,
					)
					msg.Ack()
					continue
				}

				data, err := json.Marshal(event)
				if err != nil {
					msg.Ack()
					continue
				}

				writeSSE(w, "fund", data)
				msg.Ack()
				m.RecordSSEEventSent(desc, event.Type)

				logger.DebugContext(r.Context(), "sent fund event",
					"fund", desc,
					"hash", event.Hash,
					"type", event.Type,
				)

			case <-r.Context().Done():
				logger.DebugContext(r.Context(), "SSE client disconnected",
					"fund", desc,
					"remote_addr", r.RemoteAddr,
				)
				return

			case <-doneChan:
				return
			}
		}
	})
}
