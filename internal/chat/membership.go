package chat

import (
	"context"
	"fmt"

	"go-chat-gateway/internal/metrics"
)

type roomAck struct {
	ChatID string `json:"chatId"`
}

// authorize asks the chat service whether this connection's user is in the room.
func (g *Gateway) authorize(ctx context.Context, c *Client, chatID string) error {
	identity, token, err := c.session.credential(g.now())
	if err != nil {
		return err
	}
	ok, err := g.authz.IsMember(ctx, identity.ID, chatID, token)
	if err != nil {
		metrics.RelayFailures.WithLabelValues("membership").Inc()
		return fmt.Errorf("membership check for %s: %w", chatID, err)
	}
	if !ok {
		return ErrNotMember
	}
	return nil
}

// joinChat admits the connection to the room's multicast group only after
// the chat service confirms membership.
func (g *Gateway) joinChat(ctx context.Context, c *Client, ev JoinChat) error {
	if err := g.authorize(ctx, c, ev.ChatID); err != nil {
		return err
	}
	if err := g.hub.Join(ctx, c, ev.ChatID); err != nil {
		return fmt.Errorf("join %s: %w", ev.ChatID, err)
	}
	c.session.rooms[ev.ChatID] = true
	c.log.Debug().Str("room", ev.ChatID).Msg("joined chat")
	c.Emit(PushJoinedChat, roomAck{ChatID: ev.ChatID})
	return nil
}

// leaveChat runs the same check as join before unsubscribing.
func (g *Gateway) leaveChat(ctx context.Context, c *Client, ev LeaveChat) error {
	if err := g.authorize(ctx, c, ev.ChatID); err != nil {
		return err
	}
	if err := g.hub.Leave(ctx, c, ev.ChatID); err != nil {
		return fmt.Errorf("leave %s: %w", ev.ChatID, err)
	}
	delete(c.session.rooms, ev.ChatID)
	c.log.Debug().Str("room", ev.ChatID).Msg("left chat")
	c.Emit(PushLeftChat, roomAck{ChatID: ev.ChatID})
	return nil
}
