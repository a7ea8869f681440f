package eventlog

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

// NATSSource reads change events from NATS subjects named like the topics.
// Subscriptions share a queue group, so several gateways split the stream
// instead of each receiving every record.
type NATSSource struct {
	url   string
	queue string
	log   zerolog.Logger
}

func NewNATSSource(url, queue string, log zerolog.Logger) *NATSSource {
	return &NATSSource{url: url, queue: queue, log: log.With().Str("component", "nats").Logger()}
}

func (s *NATSSource) Run(ctx context.Context, topics []string, handle HandlerFunc) error {
	closed := make(chan struct{})
	nc, err := nats.Connect(s.url,
		nats.Name(s.queue),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.ClosedHandler(func(*nats.Conn) { close(closed) }),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				s.log.Warn().Err(err).Msg("disconnected")
			}
		}),
		nats.ReconnectHandler(func(*nats.Conn) { s.log.Info().Msg("reconnected") }),
	)
	if err != nil {
		return fmt.Errorf("nats connect: %w", err)
	}

	// Messages are handled on the connection's own goroutine, one per subscription.
	for _, topic := range topics {
		_, err := nc.QueueSubscribe(topic, s.queue, func(m *nats.Msg) {
			if err := handle(context.Background(), m.Subject, m.Data); err != nil {
				s.log.Debug().Err(err).Str("subject", m.Subject).Msg("record skipped")
			}
		})
		if err != nil {
			nc.Close()
			return fmt.Errorf("subscribe %s: %w", topic, err)
		}
	}
	s.log.Info().Strs("subjects", topics).Msg("subscribed")

	<-ctx.Done()
	// Drain lets in-flight callbacks finish before the connection closes.
	if err := nc.Drain(); err != nil {
		nc.Close()
		return err
	}
	<-closed
	return ctx.Err()
}
