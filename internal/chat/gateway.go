package chat

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"go-chat-gateway/internal/auth"
	"go-chat-gateway/internal/metrics"
	"go-chat-gateway/internal/model"
	"go-chat-gateway/internal/relay"
)

// TokenVerifier turns a bearer token into an identity.
type TokenVerifier interface {
	Verify(tokenString string) (*auth.Identity, error)
}

// Authorizer answers "does user U belong to chat C".
type Authorizer interface {
	IsMember(ctx context.Context, userID, chatID, token string) (bool, error)
}

// MessageRelay forwards mutations to the message service.
type MessageRelay interface {
	CreateMessage(ctx context.Context, token, chatID, text, localID string) (*model.Message, error)
	EditMessage(ctx context.Context, token, messageID, chatID, text string) (*model.Message, error)
	DeleteMessage(ctx context.Context, token, messageID, chatID string) error
}

type PresenceTracker interface {
	Connect(ctx context.Context, userID string) error
	Disconnect(ctx context.Context, userID string) error
}

type Options struct {
	// DirectSendBroadcast makes the send handler broadcast the relay
	// response itself. Off by default: new messages arrive through the
	// event log, which also carries messages that never pass this gateway.
	DirectSendBroadcast bool
	PresenceTimeout     time.Duration
	AllowedOrigins      []string
}

// Gateway wires connections to the hub and the collaborators.
type Gateway struct {
	hub      *Hub
	verifier TokenVerifier
	authz    Authorizer
	messages MessageRelay
	presence PresenceTracker
	opts     Options
	upgrader websocket.Upgrader
	log      zerolog.Logger
	now      func() time.Time

	// connections between the handshake and the end of disconnect
	conns sync.WaitGroup
}

func NewGateway(hub *Hub, verifier TokenVerifier, authz Authorizer, messages MessageRelay, presence PresenceTracker, opts Options, log zerolog.Logger) *Gateway {
	if opts.PresenceTimeout <= 0 {
		opts.PresenceTimeout = 3 * time.Second
	}
	g := &Gateway{
		hub:      hub,
		verifier: verifier,
		authz:    authz,
		messages: messages,
		presence: presence,
		opts:     opts,
		log:      log.With().Str("component", "gateway").Logger(),
		now:      time.Now,
	}
	g.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     originChecker(opts.AllowedOrigins),
	}
	return g
}

func originChecker(allowed []string) func(r *http.Request) bool {
	if len(allowed) == 0 {
		return func(r *http.Request) bool { return true }
	}
	set := make(map[string]bool, len(allowed))
	for _, o := range allowed {
		set[o] = true
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || set[origin]
	}
}

// Wait blocks until every connection has finished its disconnect, presence
// included, or ctx is done. Stop the hub first so the connections close.
func (g *Gateway) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		g.conns.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (g *Gateway) handleFrame(ctx context.Context, c *Client, raw []byte) {
	name, ev, err := DecodeInbound(raw)
	if name == "" {
		name = "invalid"
	}
	metrics.InboundEvents.WithLabelValues(metricLabel(name)).Inc()
	if err != nil {
		g.fail(c, name, err, "")
		return
	}
	g.Dispatch(ctx, c, ev)
}

func metricLabel(name string) string {
	switch name {
	case EventRefreshAuth, EventJoinChat, EventLeaveChat, EventMessage,
		EventEditMessage, EventDeleteMessage, EventTyping, EventStopTyping, "invalid":
		return name
	}
	return "unknown"
}

// Dispatch runs the handler for one inbound event.
func (g *Gateway) Dispatch(ctx context.Context, c *Client, ev Inbound) {
	var (
		name string
		err  error
	)
	switch ev := ev.(type) {
	case RefreshAuth:
		g.refreshAuth(c, ev)
		return
	case JoinChat:
		name, err = EventJoinChat, g.joinChat(ctx, c, ev)
	case LeaveChat:
		name, err = EventLeaveChat, g.leaveChat(ctx, c, ev)
	case SendMessage:
		if err := g.sendMessage(ctx, c, ev); err != nil {
			g.fail(c, EventMessage, err, ev.LocalID)
		}
		return
	case EditMessage:
		name, err = EventEditMessage, g.editMessage(ctx, c, ev)
	case DeleteMessage:
		name, err = EventDeleteMessage, g.deleteMessage(ctx, c, ev)
	case Typing:
		name, err = EventTyping, g.typing(ctx, c, ev)
	case StopTyping:
		name, err = EventStopTyping, g.stopTyping(ctx, c, ev)
	default:
		name, err = "unknown", ErrUnknownEvent
	}
	if err != nil {
		g.fail(c, name, err, "")
	}
}

// fail turns a handler error into what the client sees: "unauthorized"
// when a refresh and retry can fix it, an opaque "error" otherwise.
func (g *Gateway) fail(c *Client, event string, err error, localID string) {
	var ve *ValidationError
	switch {
	case errors.Is(err, ErrCredentialExpired), errors.Is(err, relay.ErrUnauthorized):
		c.Emit(PushUnauthorized, model.ErrorPush{Message: "token expired", LocalID: localID})
	case errors.As(err, &ve):
		c.Emit(PushError, model.ErrorPush{Message: ve.Error(), LocalID: localID})
	default:
		if msg, ok := userFacing(err); ok {
			c.Emit(PushError, model.ErrorPush{Message: msg, LocalID: localID})
			return
		}
		c.log.Error().Err(err).Str("event", event).Msg("handler failed")
		c.Emit(PushError, model.ErrorPush{Message: "failed to handle " + event, LocalID: localID})
	}
}

func userFacing(err error) (string, bool) {
	for _, sentinel := range []error{ErrNotAuthenticated, ErrNotMember, ErrNotJoined, ErrUnknownEvent} {
		if errors.Is(err, sentinel) {
			return sentinel.Error(), true
		}
	}
	return "", false
}
