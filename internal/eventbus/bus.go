package eventbus

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/memoryd/internal/config"
)

const instrumentationName = "github.com/fyrsmithlabs/memoryd/internal/eventbus"

// Handler processes one event's payload. A Handler must not block
// indefinitely; the bus dispatches it on its own goroutine but offers no
// cancellation beyond what the handler itself implements.
type Handler func(payload []byte)

// Bus is the fire-and-forget publish/subscribe bus (spec.md §4.2, C6).
type Bus interface {
	// Publish sends payload on subject. Publish never waits for
	// subscribers and never returns a subscriber-side error.
	Publish(ctx context.Context, subject string, payload []byte) error

	// Subscribe registers handler for subject. Returns an unsubscribe
	// function. A handler panic is recovered and logged; it never
	// crashes the process or affects other subscribers.
	Subscribe(subject string, handler Handler) (unsubscribe func() error, err error)

	// Close shuts down the connection (and the embedded server, if one
	// was started).
	Close() error
}

// bus implements Bus over a core-NATS connection.
type bus struct {
	conn       *nats.Conn
	embedded   *server.Server
	logger     *zap.Logger
	tracer     trace.Tracer
	meter      metric.Meter
	published  metric.Int64Counter
	subscriberErrors metric.Int64Counter
}

// NewBus creates a Bus per cfg. When cfg.Embedded is true (the default) or
// cfg.URL is empty, an in-process nats-server is started and the bus
// connects to it; otherwise it dials cfg.URL.
func NewBus(cfg config.EventBusConfig, logger *zap.Logger) (Bus, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	var embedded *server.Server
	var url string

	if cfg.Embedded || cfg.URL == "" {
		var err error
		embedded, err = startEmbeddedServer()
		if err != nil {
			return nil, fmt.Errorf("starting embedded nats-server: %w", err)
		}
		url = embedded.ClientURL()
	} else {
		url = cfg.URL
	}

	conn, err := nats.Connect(url,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(5),
		nats.ReconnectWait(time.Second),
	)
	if err != nil {
		if embedded != nil {
			embedded.Shutdown()
		}
		return nil, fmt.Errorf("connecting to nats at %s: %w", url, err)
	}

	b := &bus{
		conn:     conn,
		embedded: embedded,
		logger:   logger,
		tracer:   otel.Tracer(instrumentationName),
		meter:    otel.Meter(instrumentationName),
	}
	b.initMetrics()

	logger.Info("event bus connected", zap.String("url", url), zap.Bool("embedded", embedded != nil))
	return b, nil
}

func (b *bus) initMetrics() {
	var err error
	b.published, err = b.meter.Int64Counter(
		"memoryd.eventbus.published_total",
		metric.WithDescription("Total number of events published"),
		metric.WithUnit("{event}"),
	)
	if err != nil {
		b.logger.Warn("failed to create published counter", zap.Error(err))
	}
	b.subscriberErrors, err = b.meter.Int64Counter(
		"memoryd.eventbus.subscriber_errors_total",
		metric.WithDescription("Total number of subscriber handler panics"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		b.logger.Warn("failed to create subscriber error counter", zap.Error(err))
	}
}

// startEmbeddedServer starts an in-process nats-server bound to a random
// local port, the same shape the teacher's test helper uses to spin up a
// server for integration tests.
func startEmbeddedServer() (*server.Server, error) {
	opts := &server.Options{
		Host:   "127.0.0.1",
		Port:   -1, // random free port
		NoLog:  true,
		NoSigs: true,
	}
	srv, err := server.NewServer(opts)
	if err != nil {
		return nil, err
	}
	go srv.Start()
	if !srv.ReadyForConnections(5 * time.Second) {
		return nil, errors.New("embedded nats-server did not become ready")
	}
	return srv, nil
}

func (b *bus) Publish(ctx context.Context, subject string, payload []byte) error {
	_, span := b.tracer.Start(ctx, "eventbus.publish")
	defer span.End()
	span.SetAttributes(attribute.String("subject", subject))

	if err := b.conn.Publish(subject, payload); err != nil {
		span.RecordError(err)
		return fmt.Errorf("publishing to %s: %w", subject, err)
	}
	if b.published != nil {
		b.published.Add(ctx, 1, metric.WithAttributes(attribute.String("subject", subject)))
	}
	return nil
}

func (b *bus) Subscribe(subject string, handler Handler) (func() error, error) {
	sub, err := b.conn.Subscribe(subject, func(msg *nats.Msg) {
		defer func() {
			if r := recover(); r != nil {
				b.logger.Error("event bus subscriber panicked",
					zap.String("subject", subject),
					zap.Any("recovered", r),
				)
				if b.subscriberErrors != nil {
					b.subscriberErrors.Add(context.Background(), 1, metric.WithAttributes(attribute.String("subject", subject)))
				}
			}
		}()
		handler(msg.Data)
	})
	if err != nil {
		return nil, fmt.Errorf("subscribing to %s: %w", subject, err)
	}
	return sub.Unsubscribe, nil
}

func (b *bus) Close() error {
	if b.conn != nil {
		b.conn.Close()
	}
	if b.embedded != nil {
		b.embedded.Shutdown()
		b.embedded.WaitForShutdown()
	}
	return nil
}
