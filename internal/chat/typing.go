package chat

import (
	"context"

	"go-chat-gateway/internal/model"
)

// Typing signals are fire and forget: no persistence, no ack, never echoed
// to the sender. The sender must have joined the room on this connection.
func (g *Gateway) typing(ctx context.Context, c *Client, ev Typing) error {
	identity, err := c.session.requireIdentity()
	if err != nil {
		return err
	}
	if !c.session.Joined(ev.ChatID) {
		return ErrNotJoined
	}
	username := ev.Username
	if username == "" {
		username = identity.Username
	}
	return g.hub.Broadcast(ctx, ev.ChatID, PushTyping, model.TypingPush{
		ChatID:   ev.ChatID,
		Username: username,
		UserID:   identity.ID,
	}, c)
}

func (g *Gateway) stopTyping(ctx context.Context, c *Client, ev StopTyping) error {
	identity, err := c.session.requireIdentity()
	if err != nil {
		return err
	}
	if !c.session.Joined(ev.ChatID) {
		return ErrNotJoined
	}
	return g.hub.Broadcast(ctx, ev.ChatID, PushStopTyping, model.TypingPush{
		ChatID: ev.ChatID,
		UserID: identity.ID,
	}, c)
}
