package chat

import (
	"context"
	"fmt"

	"go-chat-gateway/internal/metrics"
	"go-chat-gateway/internal/model"
)

// sendMessage relays a new message. The room hears about it from the
// event log, not from here, unless DirectSendBroadcast is on.
func (g *Gateway) sendMessage(ctx context.Context, c *Client, ev SendMessage) error {
	identity, token, err := c.session.credential(g.now())
	if err != nil {
		return err
	}

	msg, err := g.messages.CreateMessage(ctx, token, ev.ChatID, ev.Text, ev.LocalID)
	if err != nil {
		metrics.RelayFailures.WithLabelValues("create").Inc()
		return fmt.Errorf("send to %s: %w", ev.ChatID, err)
	}
	if !g.opts.DirectSendBroadcast {
		return nil
	}

	if msg.ChatID == "" {
		msg.ChatID = ev.ChatID
	}
	if msg.UserID == "" {
		msg.UserID = identity.ID
	}
	if msg.Text == "" {
		msg.Text = ev.Text
	}
	msg.LocalID = ev.LocalID
	g.publish(ctx, ev.ChatID, PushNewMessage, model.MessagePush{SenderID: identity.ID, Message: msg})
	return nil
}

// editMessage broadcasts directly once the message service accepts the edit.
func (g *Gateway) editMessage(ctx context.Context, c *Client, ev EditMessage) error {
	identity, token, err := c.session.credential(g.now())
	if err != nil {
		return err
	}

	msg, err := g.messages.EditMessage(ctx, token, ev.MessageID, ev.ChatID, ev.Text)
	if err != nil {
		metrics.RelayFailures.WithLabelValues("edit").Inc()
		return fmt.Errorf("edit %s: %w", ev.MessageID, err)
	}

	edited := &model.Message{
		ID:     ev.MessageID,
		ChatID: ev.ChatID,
		Text:   ev.Text,
		Status: model.StatusModified,
	}
	if msg != nil {
		if msg.Text != "" {
			edited.Text = msg.Text
		}
		edited.UserID = msg.UserID
		edited.CreatedAt = msg.CreatedAt
		edited.Attachments = msg.Attachments
	}
	g.publish(ctx, ev.ChatID, PushMessageEdited, model.MessagePush{SenderID: identity.ID, Message: edited})
	return nil
}

// deleteMessage broadcasts directly once the message service accepts the delete.
func (g *Gateway) deleteMessage(ctx context.Context, c *Client, ev DeleteMessage) error {
	identity, token, err := c.session.credential(g.now())
	if err != nil {
		return err
	}

	if err := g.messages.DeleteMessage(ctx, token, ev.MessageID, ev.ChatID); err != nil {
		metrics.RelayFailures.WithLabelValues("delete").Inc()
		return fmt.Errorf("delete %s: %w", ev.MessageID, err)
	}

	g.publish(ctx, ev.ChatID, PushMessageDeleted, model.DeletedMessageEvent{
		ChatID:    ev.ChatID,
		MessageID: ev.MessageID,
		SenderID:  identity.ID,
	})
	return nil
}

// publish is for broadcasts that follow a successful relay. The mutation
// already happened, so a broadcast failure is logged, not sent back.
func (g *Gateway) publish(ctx context.Context, room, event string, data any) {
	if err := g.hub.Broadcast(ctx, room, event, data, nil); err != nil {
		g.log.Error().Err(err).Str("room", room).Str("event", event).Msg("broadcast failed")
	}
}
