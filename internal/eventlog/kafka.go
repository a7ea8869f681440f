package eventlog

import (
	"context"
	"errors"

	"github.com/Shopify/sarama"
	"github.com/rs/zerolog"
)

// KafkaSource reads change events through a sarama consumer group.
type KafkaSource struct {
	brokers []string
	groupID string
	config  *sarama.Config
	log     zerolog.Logger
}

func NewKafkaSource(brokers []string, groupID string, log zerolog.Logger) *KafkaSource {
	config := sarama.NewConfig()
	config.Version = sarama.V2_1_0_0
	config.Consumer.Offsets.Initial = sarama.OffsetNewest
	config.Consumer.Return.Errors = true
	config.ClientID = groupID

	return &KafkaSource{
		brokers: brokers,
		groupID: groupID,
		config:  config,
		log:     log.With().Str("component", "kafka").Logger(),
	}
}

// Run joins the group and consumes until ctx is cancelled. A rebalance or
// broker hiccup ends one Consume call; the loop simply rejoins.
func (s *KafkaSource) Run(ctx context.Context, topics []string, handle HandlerFunc) error {
	group, err := sarama.NewConsumerGroup(s.brokers, s.groupID, s.config)
	if err != nil {
		return err
	}
	defer group.Close()

	go func() {
		for err := range group.Errors() {
			s.log.Error().Err(err).Msg("consumer group error")
		}
	}()

	handler := &consumerGroupHandler{handle: handle, log: s.log}
	for {
		if err := group.Consume(ctx, topics, handler); err != nil {
			if errors.Is(err, sarama.ErrClosedConsumerGroup) {
				return nil
			}
			s.log.Error().Err(err).Msg("consume error")
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

type consumerGroupHandler struct {
	handle HandlerFunc
	log    zerolog.Logger
}

func (h *consumerGroupHandler) Setup(session sarama.ConsumerGroupSession) error {
	h.log.Info().Str("member_id", session.MemberID()).Msg("consumer group setup")
	return nil
}

func (h *consumerGroupHandler) Cleanup(sarama.ConsumerGroupSession) error {
	h.log.Info().Msg("consumer group cleanup")
	return nil
}

// ConsumeClaim handles one record at a time and marks every record,
// including ones the bridge skipped, so a poison record never blocks the
// partition. When the session ends, the record in hand is finished first.
func (h *consumerGroupHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case msg, ok := <-claim.Messages():
			if !ok {
				return nil
			}
			if err := h.handle(context.WithoutCancel(session.Context()), msg.Topic, msg.Value); err != nil {
				h.log.Debug().Err(err).
					Str("topic", msg.Topic).
					Int32("partition", msg.Partition).
					Int64("offset", msg.Offset).
					Msg("record skipped")
			}
			session.MarkMessage(msg, "")
		case <-session.Context().Done():
			return nil
		}
	}
}
