package chat

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"go-chat-gateway/internal/metrics"
	myMiddleware "go-chat-gateway/internal/middleware"
	"go-chat-gateway/internal/model"
)

// ServeWs upgrades an authenticated request. The auth middleware has
// already rejected bad credentials, so every connection here has an identity.
func (g *Gateway) ServeWs(w http.ResponseWriter, r *http.Request) {
	identity, token, ok := myMiddleware.IdentityFrom(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	// Counted before the upgrade hijacks the request, so http shutdown
	// cannot return between the two.
	g.conns.Add(1)

	// Mark presence before the handshake completes so a client that sees
	// the upgrade also sees itself online.
	g.markOnline(identity.ID)

	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.log.Warn().Err(err).Str("user_id", identity.ID).Msg("upgrade failed")
		g.markOffline(identity.ID)
		g.conns.Done()
		return
	}

	id := uuid.NewString()
	log := g.log.With().Str("conn_id", id).Str("user_id", identity.ID).Logger()
	client := newClient(id, g.hub, conn, newSession(identity, token), log)

	// The request context dies when this handler returns; the connection outlives it.
	ctx := context.WithoutCancel(r.Context())
	if err := g.hub.Register(ctx, client); err != nil {
		log.Error().Err(err).Msg("hub register failed")
		g.markOffline(identity.ID)
		conn.Close()
		g.conns.Done()
		return
	}
	metrics.ConnectionsActive.Inc()
	log.Info().Msg("connected")

	go client.writePump()
	go client.readPump(ctx, g)
}

// disconnect runs once per connection, from the read goroutine on exit.
func (g *Gateway) disconnect(c *Client) {
	defer g.conns.Done()
	g.hub.Unregister(c)
	metrics.ConnectionsActive.Dec()
	if identity := c.session.identity; identity != nil {
		g.markOffline(identity.ID)
	}
	c.log.Info().Int("rooms", len(c.session.rooms)).Msg("disconnected")
}

func (g *Gateway) markOnline(userID string) {
	ctx, cancel := context.WithTimeout(context.Background(), g.opts.PresenceTimeout)
	defer cancel()
	if err := g.presence.Connect(ctx, userID); err != nil {
		g.log.Warn().Err(err).Str("user_id", userID).Msg("presence connect failed")
	}
}

func (g *Gateway) markOffline(userID string) {
	ctx, cancel := context.WithTimeout(context.Background(), g.opts.PresenceTimeout)
	defer cancel()
	if err := g.presence.Disconnect(ctx, userID); err != nil {
		g.log.Warn().Err(err).Str("user_id", userID).Msg("presence disconnect failed")
	}
}

// refreshAuth swaps in a new credential without dropping the connection.
// A bad token leaves the old identity in place; the client decides whether
// to reconnect.
func (g *Gateway) refreshAuth(c *Client, ev RefreshAuth) {
	identity, err := g.verifier.Verify(ev.Token)
	if err != nil {
		c.log.Info().Err(err).Msg("refresh rejected")
		c.Emit(PushUnauthorized, model.ErrorPush{Message: "invalid token"})
		return
	}
	if current := c.session.identity; current != nil && current.ID != identity.ID {
		c.log.Warn().Str("new_user_id", identity.ID).Msg("refresh for a different user rejected")
		c.Emit(PushUnauthorized, model.ErrorPush{Message: "token belongs to a different user"})
		return
	}
	c.session.identity = identity
	c.session.token = ev.Token
	c.Emit(PushAuthRefreshed, model.AuthRefreshedPush{OK: true})
}
