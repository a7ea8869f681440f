package eventlog

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/rs/zerolog"

	"go-chat-gateway/internal/chat"
	"go-chat-gateway/internal/model"
)

type published struct {
	room  string
	event string
	data  any
}

type fakePublisher struct {
	mu   sync.Mutex
	got  []published
	fail error
}

func (p *fakePublisher) Publish(_ context.Context, room, event string, data any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail != nil {
		return p.fail
	}
	p.got = append(p.got, published{room, event, data})
	return nil
}

var testTopics = Topics{NewMessage: "message.created", EditedMessage: "message.edited", DeletedMessage: "message.deleted"}

func TestBridgeHandle(t *testing.T) {
	ctx := context.Background()

	t.Run("new message goes to its chat", func(t *testing.T) {
		pub := &fakePublisher{}
		b := NewBridge(pub, testTopics, zerolog.Nop())
		err := b.Handle(ctx, "message.created", []byte(`{"chatId":"R1","localId":"l1","message":{"id":"m1","text":"hi","userId":"U1","status":"Sent","attachments":[{"id":"a1","url":"http://x/a1"}]}}`))
		if err != nil {
			t.Fatalf("Handle: %v", err)
		}
		if len(pub.got) != 1 {
			t.Fatalf("published %d, want 1", len(pub.got))
		}
		p := pub.got[0]
		if p.room != "R1" || p.event != chat.PushNewMessage {
			t.Errorf("published to %s/%s", p.room, p.event)
		}
		push := p.data.(model.MessagePush)
		if push.SenderID != "U1" || push.Message.ID != "m1" || push.Message.ChatID != "R1" || push.Message.LocalID != "l1" {
			t.Errorf("push = %+v / %+v", push, push.Message)
		}
		if len(push.Message.Attachments) != 1 {
			t.Errorf("attachments lost: %+v", push.Message.Attachments)
		}
	})

	t.Run("same record twice is pushed twice", func(t *testing.T) {
		pub := &fakePublisher{}
		b := NewBridge(pub, testTopics, zerolog.Nop())
		rec := []byte(`{"chatId":"R1","message":{"id":"m1","text":"hi","userId":"U1"}}`)
		b.Handle(ctx, "message.created", rec)
		b.Handle(ctx, "message.created", rec)
		if len(pub.got) != 2 {
			t.Fatalf("published %d, want 2", len(pub.got))
		}
	})

	t.Run("edited message defaults status to modified", func(t *testing.T) {
		pub := &fakePublisher{}
		b := NewBridge(pub, testTopics, zerolog.Nop())
		if err := b.Handle(ctx, "message.edited", []byte(`{"senderId":"U1","message":{"id":"m1","chatId":"R1","text":"edited"}}`)); err != nil {
			t.Fatalf("Handle: %v", err)
		}
		push := pub.got[0].data.(model.MessagePush)
		if pub.got[0].event != chat.PushMessageEdited || push.Message.Status != model.StatusModified || push.SenderID != "U1" {
			t.Errorf("got %s %+v", pub.got[0].event, push.Message)
		}
	})

	t.Run("deleted message", func(t *testing.T) {
		pub := &fakePublisher{}
		b := NewBridge(pub, testTopics, zerolog.Nop())
		if err := b.Handle(ctx, "message.deleted", []byte(`{"chatId":"R1","messageId":"m1","senderId":"U1"}`)); err != nil {
			t.Fatalf("Handle: %v", err)
		}
		ev := pub.got[0].data.(model.DeletedMessageEvent)
		if pub.got[0].room != "R1" || ev.MessageID != "m1" {
			t.Errorf("got %+v", pub.got[0])
		}
	})

	bad := []struct {
		name  string
		topic string
		value string
		want  error
	}{
		{"empty", "message.created", "", ErrEmptyPayload},
		{"null", "message.created", "null", ErrEmptyPayload},
		{"not json", "message.created", "{oops", nil},
		{"no chat", "message.created", `{"message":{"id":"m1"}}`, ErrMissingChatID},
		{"no message", "message.created", `{"chatId":"R1"}`, nil},
		{"edit without chat", "message.edited", `{"message":{"id":"m1"}}`, ErrMissingChatID},
		{"delete without chat", "message.deleted", `{"messageId":"m1"}`, ErrMissingChatID},
		{"unknown topic", "other", `{"chatId":"R1"}`, ErrUnknownTopic},
	}
	for _, tc := range bad {
		t.Run("skips "+tc.name, func(t *testing.T) {
			pub := &fakePublisher{}
			b := NewBridge(pub, testTopics, zerolog.Nop())
			err := b.Handle(ctx, tc.topic, []byte(tc.value))
			if err == nil {
				t.Fatal("expected error")
			}
			if tc.want != nil && !errors.Is(err, tc.want) {
				t.Errorf("err = %v, want %v", err, tc.want)
			}
			if len(pub.got) != 0 {
				t.Errorf("published %d records for a bad payload", len(pub.got))
			}
		})
	}

	t.Run("transport not ready is reported, not fatal", func(t *testing.T) {
		pub := &fakePublisher{fail: chat.ErrHubNotRunning}
		b := NewBridge(pub, testTopics, zerolog.Nop())
		err := b.Handle(ctx, "message.created", []byte(`{"chatId":"R1","message":{"id":"m1"}}`))
		if !errors.Is(err, chat.ErrHubNotRunning) {
			t.Fatalf("err = %v", err)
		}
	})
}

type recordingSource struct {
	records [][2]string
}

func (s *recordingSource) Run(ctx context.Context, topics []string, handle HandlerFunc) error {
	for _, r := range s.records {
		handle(ctx, r[0], []byte(r[1]))
	}
	return nil
}

func TestBridgeRunSurvivesBadRecords(t *testing.T) {
	pub := &fakePublisher{}
	b := NewBridge(pub, testTopics, zerolog.Nop())
	src := &recordingSource{records: [][2]string{
		{"message.created", "garbage"},
		{"message.created", `{"chatId":"R1","message":{"id":"m1"}}`},
		{"message.deleted", ""},
		{"message.deleted", `{"chatId":"R1","messageId":"m1","senderId":"U1"}`},
	}}
	if err := b.Run(context.Background(), src); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(pub.got) != 2 {
		t.Fatalf("published %d, want 2", len(pub.got))
	}
}
