package eventlog

import (
	"context"
	"testing"

	"github.com/Shopify/sarama"
	"github.com/rs/zerolog"
)

// Only the methods ConsumeClaim uses are implemented; the embedded
// interfaces cover the rest.
type fakeSession struct {
	sarama.ConsumerGroupSession
	ctx    context.Context
	marked []int64
}

func (s *fakeSession) Context() context.Context { return s.ctx }

func (s *fakeSession) MarkMessage(msg *sarama.ConsumerMessage, _ string) {
	s.marked = append(s.marked, msg.Offset)
}

type fakeClaim struct {
	sarama.ConsumerGroupClaim
	msgs chan *sarama.ConsumerMessage
}

func (c *fakeClaim) Messages() <-chan *sarama.ConsumerMessage { return c.msgs }

func TestConsumeClaimMarksEveryRecord(t *testing.T) {
	pub := &fakePublisher{}
	b := NewBridge(pub, testTopics, zerolog.Nop())
	h := &consumerGroupHandler{handle: b.Handle, log: zerolog.Nop()}

	claim := &fakeClaim{msgs: make(chan *sarama.ConsumerMessage, 3)}
	claim.msgs <- &sarama.ConsumerMessage{Topic: "message.created", Offset: 1, Value: []byte("not json")}
	claim.msgs <- &sarama.ConsumerMessage{Topic: "message.created", Offset: 2, Value: []byte(`{"chatId":"R1","message":{"id":"m1"}}`)}
	claim.msgs <- &sarama.ConsumerMessage{Topic: "message.created", Offset: 3, Value: nil}
	close(claim.msgs)

	session := &fakeSession{ctx: context.Background()}
	if err := h.ConsumeClaim(session, claim); err != nil {
		t.Fatalf("ConsumeClaim: %v", err)
	}
	if len(session.marked) != 3 {
		t.Errorf("marked %v, want all three offsets", session.marked)
	}
	if len(pub.got) != 1 {
		t.Errorf("published %d, want 1", len(pub.got))
	}
}

func TestConsumeClaimStopsWithSession(t *testing.T) {
	h := &consumerGroupHandler{handle: func(context.Context, string, []byte) error { return nil }, log: zerolog.Nop()}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	claim := &fakeClaim{msgs: make(chan *sarama.ConsumerMessage)}
	if err := h.ConsumeClaim(&fakeSession{ctx: ctx}, claim); err != nil {
		t.Fatalf("ConsumeClaim: %v", err)
	}
}
