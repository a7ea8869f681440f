package eventlog

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"go-chat-gateway/internal/chat"
	"go-chat-gateway/internal/metrics"
	"go-chat-gateway/internal/model"
)

var (
	ErrEmptyPayload  = errors.New("empty payload")
	ErrMissingChatID = errors.New("event has no chat id")
	ErrUnknownTopic  = errors.New("no handler for topic")
)

// Publisher is the push side the bridge writes into. *chat.Hub implements it.
type Publisher interface {
	Publish(ctx context.Context, room, event string, data any) error
}

// HandlerFunc processes one consumed record. Sources log a returned error
// and move on; a record is never retried.
type HandlerFunc func(ctx context.Context, topic string, value []byte) error

// Source delivers records from durable topics until ctx is cancelled.
type Source interface {
	Run(ctx context.Context, topics []string, handle HandlerFunc) error
}

type Topics struct {
	NewMessage     string
	EditedMessage  string
	DeletedMessage string
}

func (t Topics) List() []string {
	return []string{t.NewMessage, t.EditedMessage, t.DeletedMessage}
}

// Bridge turns persisted-message change events into room broadcasts.
// Delivery is at-least-once and nothing is deduplicated here: a record
// consumed twice is pushed twice, and clients upsert by message id.
type Bridge struct {
	publisher Publisher
	topics    Topics
	log       zerolog.Logger
}

func NewBridge(publisher Publisher, topics Topics, log zerolog.Logger) *Bridge {
	return &Bridge{
		publisher: publisher,
		topics:    topics,
		log:       log.With().Str("component", "eventlog").Logger(),
	}
}

// Run consumes from source until ctx is cancelled.
func (b *Bridge) Run(ctx context.Context, source Source) error {
	b.log.Info().Strs("topics", b.topics.List()).Msg("bridge starting")
	err := source.Run(ctx, b.topics.List(), b.Handle)
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	b.log.Info().Msg("bridge stopped")
	return nil
}

// Handle decodes one record and republishes it. Bad records are logged,
// counted, and reported to the caller, which skips them.
func (b *Bridge) Handle(ctx context.Context, topic string, value []byte) error {
	room, event, data, err := b.decode(topic, value)
	if err != nil {
		metrics.EventLogMessages.WithLabelValues(topic, "skipped").Inc()
		b.log.Warn().Err(err).Str("topic", topic).Int("bytes", len(value)).Msg("skipping event")
		return err
	}

	if err := b.publisher.Publish(ctx, room, event, data); err != nil {
		metrics.EventLogMessages.WithLabelValues(topic, "skipped").Inc()
		b.log.Warn().Err(err).Str("topic", topic).Str("room", room).Msg("push transport unavailable, event dropped")
		return err
	}
	metrics.EventLogMessages.WithLabelValues(topic, "ok").Inc()
	return nil
}

func (b *Bridge) decode(topic string, value []byte) (room, event string, data any, err error) {
	value = bytes.TrimSpace(value)
	if len(value) == 0 || bytes.Equal(value, []byte("null")) {
		return "", "", nil, ErrEmptyPayload
	}

	switch topic {
	case b.topics.NewMessage:
		var ev model.NewMessageEvent
		if err := json.Unmarshal(value, &ev); err != nil {
			return "", "", nil, fmt.Errorf("decode new message: %w", err)
		}
		if ev.Message == nil || ev.Message.ID == "" {
			return "", "", nil, errors.New("new message event without message id")
		}
		chatID := ev.ChatID
		if chatID == "" {
			chatID = ev.Message.ChatID
		}
		if chatID == "" {
			return "", "", nil, ErrMissingChatID
		}
		ev.Message.ChatID = chatID
		if ev.Message.LocalID == "" {
			ev.Message.LocalID = ev.LocalID
		}
		return chatID, chat.PushNewMessage, model.MessagePush{SenderID: ev.Message.UserID, Message: ev.Message}, nil

	case b.topics.EditedMessage:
		var ev model.EditedMessageEvent
		if err := json.Unmarshal(value, &ev); err != nil {
			return "", "", nil, fmt.Errorf("decode edited message: %w", err)
		}
		if ev.Message == nil || ev.Message.ID == "" {
			return "", "", nil, errors.New("edited message event without message id")
		}
		if ev.Message.ChatID == "" {
			return "", "", nil, ErrMissingChatID
		}
		if ev.Message.Status == "" {
			ev.Message.Status = model.StatusModified
		}
		return ev.Message.ChatID, chat.PushMessageEdited, model.MessagePush{SenderID: ev.SenderID, Message: ev.Message}, nil

	case b.topics.DeletedMessage:
		var ev model.DeletedMessageEvent
		if err := json.Unmarshal(value, &ev); err != nil {
			return "", "", nil, fmt.Errorf("decode deleted message: %w", err)
		}
		if ev.MessageID == "" {
			return "", "", nil, errors.New("deleted message event without message id")
		}
		if ev.ChatID == "" {
			return "", "", nil, ErrMissingChatID
		}
		return ev.ChatID, chat.PushMessageDeleted, ev, nil
	}

	return "", "", nil, fmt.Errorf("%w: %s", ErrUnknownTopic, topic)
}
