package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/brojonat/walletcore/service/metrics"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// Publisher delivers events for transactions seen on watched addresses.
type Publisher interface {
	// PublishTransaction publishes one event on its Subject.
	PublishTransaction(ctx context.Context, event *TransactionEvent) error

	// PublishTransactionBatch publishes every event and reports the failures
	// together.
	PublishTransactionBatch(ctx context.Context, events []*TransactionEvent) error

	Close() error
}

const (
	// DefaultStreamName is the JetStream stream used when none is configured.
	DefaultStreamName = "WALLET_TRANSACTIONS"

	// SubjectPrefix starts every transaction subject: txns.{ticker}.{address}.
	SubjectPrefix  = "txns"
	StreamSubjects = SubjectPrefix + ".>"

	StreamRetention = 30 * 24 * time.Hour

	// DuplicateWindow bounds how long a MsgID is remembered by the stream.
	DuplicateWindow = 2 * time.Minute
)

// JetStreamPublisher writes events to a JetStream stream it owns.
type JetStreamPublisher struct {
	nc      *nats.Conn
	js      jetstream.JetStream
	stream  string
	logger  *slog.Logger
	metrics *metrics.Metrics
}

var _ Publisher = (*JetStreamPublisher)(nil)

// NewPublisher connects to natsURL and creates or updates stream so that its
// subjects, retention and duplicate window match this package.
func NewPublisher(natsURL, stream string, logger *slog.Logger, m *metrics.Metrics) (*JetStreamPublisher, error) {
	if stream == "" {
		stream = DefaultStreamName
	}

	nc, err := nats.Connect(natsURL,
		nats.Name("walletcore-publisher"),
		nats.Timeout(10*time.Second),
		nats.ReconnectWait(time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("NATS disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("NATS reconnected", "url", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	p := &JetStreamPublisher{nc: nc, js: js, stream: stream, logger: logger, metrics: m}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := p.ensureStream(ctx); err != nil {
		nc.Close()
		return nil, err
	}
	return p, nil
}

func (p *JetStreamPublisher) ensureStream(ctx context.Context) error {
	s, err := p.js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:        p.stream,
		Description: "Transactions seen on watched wallet addresses",
		Subjects:    []string{StreamSubjects},
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      StreamRetention,
		Storage:     jetstream.FileStorage,
		Replicas:    1,
		Duplicates:  DuplicateWindow,
	})
	if err != nil {
		return fmt.Errorf("failed to create or update stream %s: %w", p.stream, err)
	}

	info := s.CachedInfo()
	p.logger.Info("NATS publisher ready",
		"stream", p.stream,
		"messages", info.State.Msgs,
	)
	return nil
}

// PublishTransaction publishes event with its MsgID so the stream drops
// re-sightings inside DuplicateWindow.
func (p *JetStreamPublisher) PublishTransaction(ctx context.Context, event *TransactionEvent) error {
	subject := event.Subject()

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal transaction event: %w", err)
	}

	// Addresses stay out of the metric labels.
	label := SubjectPrefix + "." + event.Ticker

	start := time.Now()
	_, err = p.js.Publish(ctx, subject, data, jetstream.WithMsgID(event.MsgID()))
	if err != nil {
		p.metrics.RecordNATSPublish(label, "error", time.Since(start).Seconds())
		return fmt.Errorf("failed to publish transaction %s: %w", event.TxID, err)
	}
	p.metrics.RecordNATSPublish(label, "ok", time.Since(start).Seconds())

	p.logger.DebugContext(ctx, "published transaction event",
		"subject", subject,
		"txid", event.TxID,
		"address", event.Address,
	)

	return nil
}

// PublishTransactionBatch publishes events one by one. A failed event does
// not stop the rest of the batch.
func (p *JetStreamPublisher) PublishTransactionBatch(ctx context.Context, events []*TransactionEvent) error {
	var publishErrs []error
	for _, event := range events {
		if err := p.PublishTransaction(ctx, event); err != nil {
			p.logger.ErrorContext(ctx, "failed to publish transaction in batch",
				"txid", event.TxID,
				"address", event.Address,
				"error", err,
			)
			publishErrs = append(publishErrs, err)
		}
	}

	p.logger.DebugContext(ctx, "published transaction batch",
		"count", len(events),
		"failed", len(publishErrs),
	)
	return errors.Join(publishErrs...)
}

// Close drains pending publishes before closing the connection.
func (p *JetStreamPublisher) Close() error {
	if p.nc == nil {
		return nil
	}
	if err := p.nc.Drain(); err != nil {
		p.nc.Close()
		return fmt.Errorf("failed to drain NATS connection: %w", err)
	}
	return nil
}
