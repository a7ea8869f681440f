package chat_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"go-chat-gateway/internal/auth"
	"go-chat-gateway/internal/chat"
	"go-chat-gateway/internal/eventlog"
	myMiddleware "go-chat-gateway/internal/middleware"
	"go-chat-gateway/internal/model"
	"go-chat-gateway/internal/presence"
	"go-chat-gateway/internal/relay"
)

type memberDirectory struct {
	mu      sync.Mutex
	members map[string]bool // chat/user
	stale   map[string]bool // tokens the chat service no longer accepts
}

func (d *memberDirectory) IsMember(_ context.Context, userID, chatID, token string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stale[token] {
		return false, relay.ErrUnauthorized
	}
	return d.members[chatID+"/"+userID], nil
}

type nopRelay struct{}

func (nopRelay) CreateMessage(_ context.Context, _, chatID, text, _ string) (*model.Message, error) {
	return &model.Message{ID: "m-relay", ChatID: chatID, Text: text}, nil
}

func (nopRelay) EditMessage(_ context.Context, _, messageID, chatID, text string) (*model.Message, error) {
	return &model.Message{ID: messageID, ChatID: chatID, Text: text}, nil
}

func (nopRelay) DeleteMessage(context.Context, string, string, string) error { return nil }

type env struct {
	srv      *httptest.Server
	hub      *chat.Hub
	stopHub  context.CancelFunc
	gw       *chat.Gateway
	verifier *auth.Verifier
	dir      *memberDirectory
	store    *presence.RedisStore
	bridge   *eventlog.Bridge
}

func newEnv(t *testing.T) *env {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	hub := chat.NewHub(zerolog.Nop())
	hub.Start(ctx)

	e := &env{
		hub:      hub,
		stopHub:  cancel,
		verifier: auth.NewVerifier("e2e-secret", "test"),
		dir:      &memberDirectory{members: map[string]bool{}, stale: map[string]bool{}},
		store:    presence.NewRedisStore(rdb, "online_users", presence.PolicyRefcount, zerolog.Nop()),
	}
	e.bridge = eventlog.NewBridge(hub, eventlog.Topics{
		NewMessage:     "message.created",
		EditedMessage:  "message.edited",
		DeletedMessage: "message.deleted",
	}, zerolog.Nop())

	gw := chat.NewGateway(hub, e.verifier, e.dir, nopRelay{}, e.store, chat.Options{}, zerolog.Nop())
	e.gw = gw
	authMW := myMiddleware.NewAuthMiddleware(e.verifier)
	ph := presence.NewHandler(e.store)

	r := chi.NewRouter()
	r.With(authMW.Handle).Get("/ws", gw.ServeWs)
	r.Get("/api/presence/{userID}", ph.GetStatus)

	e.srv = httptest.NewServer(r)
	t.Cleanup(e.srv.Close)
	return e
}

func (e *env) token(t *testing.T, userID string) string {
	t.Helper()
	tok, err := e.verifier.Issue(auth.Identity{ID: userID, Username: "name-" + userID}, time.Hour)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	return tok
}

func (e *env) allow(chatID string, userIDs ...string) {
	e.dir.mu.Lock()
	defer e.dir.mu.Unlock()
	for _, u := range userIDs {
		e.dir.members[chatID+"/"+u] = true
	}
}

func (e *env) wsURL(token string) string {
	u := "ws" + strings.TrimPrefix(e.srv.URL, "http") + "/ws"
	if token != "" {
		u += "?token=" + token
	}
	return u
}

func (e *env) online(t *testing.T, userID string) bool {
	t.Helper()
	resp, err := http.Get(e.srv.URL + "/api/presence/" + userID)
	if err != nil {
		t.Fatalf("presence request: %v", err)
	}
	defer resp.Body.Close()
	var body struct {
		Online bool `json:"online"`
	}
	json.NewDecoder(resp.Body).Decode(&body)
	return body.Online
}

// wsClient reads one event per websocket message.
type wsClient struct {
	t    *testing.T
	conn *websocket.Conn
}

func (e *env) dial(t *testing.T, token string) *wsClient {
	t.Helper()
	conn, resp, err := websocket.DefaultDialer.Dial(e.wsURL(token), nil)
	if err != nil {
		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		t.Fatalf("dial: %v (status %d)", err, status)
	}
	t.Cleanup(func() { conn.Close() })
	return &wsClient{t: t, conn: conn}
}

func (c *wsClient) emit(event string, data any) {
	c.t.Helper()
	raw, _ := json.Marshal(data)
	if err := c.conn.WriteJSON(chat.Frame{Event: event, Data: raw}); err != nil {
		c.t.Fatalf("write %s: %v", event, err)
	}
}

func (c *wsClient) next() chat.Frame {
	c.t.Helper()
	c.conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, msg, err := c.conn.ReadMessage()
	if err != nil {
		c.t.Fatalf("read: %v", err)
	}
	// Unmarshal rejects anything after the first JSON value, so a message
	// carrying two events fails here.
	var f chat.Frame
	if err := json.Unmarshal(msg, &f); err != nil {
		c.t.Fatalf("message is not a single event %q: %v", msg, err)
	}
	return f
}

func (c *wsClient) expect(event string) chat.Frame {
	c.t.Helper()
	f := c.next()
	if f.Event != event {
		c.t.Fatalf("got %s %s, want %s", f.Event, f.Data, event)
	}
	return f
}

// expectQuiet proves nothing else is queued: an unknown event is answered with
// an error, which must be the very next frame.
func (c *wsClient) expectQuiet() {
	c.t.Helper()
	c.emit("noop", map[string]string{})
	f := c.expect(chat.PushError)
	if !strings.Contains(string(f.Data), chat.ErrUnknownEvent.Error()) {
		c.t.Fatalf("unknown event answered with %s", f.Data)
	}
}

func TestHandshakeRequiresToken(t *testing.T) {
	e := newEnv(t)
	for name, tok := range map[string]string{"missing": "", "garbage": "not-a-jwt"} {
		t.Run(name, func(t *testing.T) {
			_, resp, err := websocket.DefaultDialer.Dial(e.wsURL(tok), nil)
			if err == nil {
				t.Fatal("handshake succeeded without a valid token")
			}
			if resp == nil || resp.StatusCode != http.StatusUnauthorized {
				t.Fatalf("resp = %v", resp)
			}
		})
	}
}

func TestPresenceFollowsConnection(t *testing.T) {
	e := newEnv(t)
	c := e.dial(t, e.token(t, "U1"))
	if !e.online(t, "U1") {
		t.Fatal("U1 not online after handshake")
	}

	c.conn.Close()
	deadline := time.Now().Add(3 * time.Second)
	for e.online(t, "U1") {
		if time.Now().After(deadline) {
			t.Fatal("U1 still online after disconnect")
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func TestPresenceKeepsUserWithSecondConnection(t *testing.T) {
	e := newEnv(t)
	tok := e.token(t, "U1")
	first := e.dial(t, tok)
	second := e.dial(t, tok)

	first.conn.Close()
	// A round trip on the surviving connection, then give the first
	// connection's teardown time to land.
	second.expectQuiet()
	time.Sleep(100 * time.Millisecond)
	if !e.online(t, "U1") {
		t.Fatal("U1 offline while a connection is still open")
	}
}

func TestNonMemberNeverReceives(t *testing.T) {
	e := newEnv(t)
	e.allow("R1", "U1")
	u1 := e.dial(t, e.token(t, "U1"))
	u2 := e.dial(t, e.token(t, "U2"))

	u1.emit(chat.EventJoinChat, "R1")
	u1.expect(chat.PushJoinedChat)

	u2.emit(chat.EventJoinChat, "R1")
	u2.expect(chat.PushError)

	err := e.bridge.Handle(context.Background(), "message.created",
		[]byte(`{"chatId":"R1","message":{"id":"m1","text":"secret","userId":"U1"}}`))
	if err != nil {
		t.Fatalf("bridge: %v", err)
	}
	u1.expect(chat.PushNewMessage)
	u2.expectQuiet()
}

func TestEventLogFansOut(t *testing.T) {
	e := newEnv(t)
	e.allow("R1", "U1", "U2")
	u1 := e.dial(t, e.token(t, "U1"))
	u2 := e.dial(t, e.token(t, "U2"))
	for _, c := range []*wsClient{u1, u2} {
		c.emit(chat.EventJoinChat, map[string]string{"chatId": "R1"})
		c.expect(chat.PushJoinedChat)
	}

	// The sender relays; the room hears about it from the event log.
	u1.emit(chat.EventMessage, map[string]string{"chatId": "R1", "text": "hello", "localId": "l1"})
	u1.expectQuiet()

	err := e.bridge.Handle(context.Background(), "message.created",
		[]byte(`{"chatId":"R1","localId":"l1","message":{"id":"m1","text":"hello","userId":"U1"}}`))
	if err != nil {
		t.Fatalf("bridge: %v", err)
	}
	for _, c := range []*wsClient{u1, u2} {
		f := c.expect(chat.PushNewMessage)
		var push model.MessagePush
		json.Unmarshal(f.Data, &push)
		if push.Message == nil || push.Message.ID != "m1" || push.SenderID != "U1" || push.Message.LocalID != "l1" {
			t.Errorf("push = %s", f.Data)
		}
	}
}

func TestRefreshAfterExpiry(t *testing.T) {
	e := newEnv(t)
	e.allow("R2", "U1")
	stale := e.token(t, "U1")
	c := e.dial(t, stale)

	e.dir.mu.Lock()
	e.dir.stale[stale] = true
	e.dir.mu.Unlock()

	c.emit(chat.EventJoinChat, "R2")
	c.expect(chat.PushUnauthorized)

	c.emit(chat.EventRefreshAuth, map[string]string{"token": e.token(t, "U1")})
	f := c.expect(chat.PushAuthRefreshed)
	var ack model.AuthRefreshedPush
	json.Unmarshal(f.Data, &ack)
	if !ack.OK {
		t.Fatalf("ack = %s", f.Data)
	}

	c.emit(chat.EventJoinChat, "R2")
	c.expect(chat.PushJoinedChat)
}

func TestEveryEventIsItsOwnMessage(t *testing.T) {
	e := newEnv(t)
	e.allow("R1", "U1", "U2")
	u1 := e.dial(t, e.token(t, "U1"))
	u2 := e.dial(t, e.token(t, "U2"))
	u1.emit(chat.EventJoinChat, "R1")
	u1.expect(chat.PushJoinedChat)
	u2.emit(chat.EventJoinChat, "R1")
	u2.expect(chat.PushJoinedChat)

	// Queue a burst faster than the write pump drains it.
	const burst = 50
	for i := 0; i < burst; i++ {
		u1.emit(chat.EventTyping, map[string]string{"chatId": "R1"})
	}
	for i := 0; i < burst; i++ {
		u2.expect(chat.PushTyping)
	}
	u2.expectQuiet()
}

func TestShutdownClearsPresence(t *testing.T) {
	e := newEnv(t)
	tok := e.token(t, "U1")
	e.dial(t, tok)
	e.dial(t, tok)
	if !e.online(t, "U1") {
		t.Fatal("U1 not online after handshake")
	}

	e.stopHub()
	<-e.hub.Done()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := e.gw.Wait(ctx); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	// No polling: once Wait returns every disconnect has run.
	if e.online(t, "U1") {
		t.Fatal("U1 still online after the gateway drained")
	}
}
