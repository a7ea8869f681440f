package chat

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/rs/zerolog"

	"go-chat-gateway/internal/metrics"
)

var (
	ErrHubNotRunning = errors.New("hub is not running")
	ErrHubStopped    = errors.New("hub stopped")
	// ErrNotRegistered means the hub no longer knows the client, usually
	// because it was dropped as a slow consumer.
	ErrNotRegistered = errors.New("connection not registered with hub")
)

// Hub owns every room multicast group. Only the Run goroutine touches
// clients and rooms, so join, leave and broadcast are serialized against
// each other: a broadcast reaches exactly the members present when it is
// processed.
type Hub struct {
	clients map[*Client]bool
	rooms   map[string]map[*Client]bool

	register   chan *Client
	unregister chan *Client
	join       chan *membershipChange
	leave      chan *membershipChange
	broadcast  chan *roomMessage
	roomSize   chan *sizeQuery

	running atomic.Bool
	done    chan struct{}
	log     zerolog.Logger
}

type membershipChange struct {
	client *Client
	room   string
	// ok is written by Run before done is closed
	ok   bool
	done chan struct{}
}

type roomMessage struct {
	room    string
	event   string
	payload []byte
	exclude *Client
}

type sizeQuery struct {
	room  string
	reply chan int
}

func NewHub(log zerolog.Logger) *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		rooms:      make(map[string]map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		join:       make(chan *membershipChange),
		leave:      make(chan *membershipChange),
		broadcast:  make(chan *roomMessage, 64),
		roomSize:   make(chan *sizeQuery),
		done:       make(chan struct{}),
		log:        log.With().Str("component", "hub").Logger(),
	}
}

// Start marks the hub ready and runs it in the background. Callers that
// start the hub this way can publish to it as soon as Start returns.
func (h *Hub) Start(ctx context.Context) {
	h.running.Store(true)
	go h.Run(ctx)
}

// Done is closed once Run has returned.
func (h *Hub) Done() <-chan struct{} {
	return h.done
}

// Run is the loop that manages room state until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	h.running.Store(true)
	defer func() {
		h.running.Store(false)
		for client := range h.clients {
			client.closeSend()
		}
		close(h.done)
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case client := <-h.register:
			h.clients[client] = true

		case client := <-h.unregister:
			h.drop(client)

		case m := <-h.join:
			m.ok = h.clients[m.client]
			if m.ok {
				members := h.rooms[m.room]
				if members == nil {
					members = make(map[*Client]bool)
					h.rooms[m.room] = members
				}
				members[m.client] = true
			}
			close(m.done)

		case m := <-h.leave:
			h.removeFromRoom(m.client, m.room)
			m.ok = true
			close(m.done)

		case q := <-h.roomSize:
			q.reply <- len(h.rooms[q.room])

		case msg := <-h.broadcast:
			metrics.Broadcasts.WithLabelValues(msg.event).Inc()
			for client := range h.rooms[msg.room] {
				if client == msg.exclude {
					continue
				}
				if !client.enqueue(msg.payload) {
					h.log.Warn().Str("conn_id", client.ID).Str("room", msg.room).Msg("slow consumer dropped")
					metrics.SlowConsumersDropped.Inc()
					h.drop(client)
				}
			}
		}
	}
}

// drop removes a client from every room and closes its send channel.
func (h *Hub) drop(client *Client) {
	if _, ok := h.clients[client]; !ok {
		return
	}
	delete(h.clients, client)
	for room, members := range h.rooms {
		if members[client] {
			h.removeFromRoom(client, room)
		}
	}
	client.closeSend()
}

func (h *Hub) removeFromRoom(client *Client, room string) {
	members, ok := h.rooms[room]
	if !ok {
		return
	}
	delete(members, client)
	if len(members) == 0 {
		delete(h.rooms, room)
	}
}

func (h *Hub) Register(ctx context.Context, c *Client) error {
	return h.submit(ctx, func() bool {
		select {
		case h.register <- c:
			return true
		case <-ctx.Done():
		case <-h.done:
		}
		return false
	})
}

// Unregister never blocks past hub shutdown.
func (h *Hub) Unregister(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

// Join returns once the client is in the room, so every broadcast issued
// afterwards reaches it. A client the hub has already dropped gets
// ErrNotRegistered.
func (h *Hub) Join(ctx context.Context, c *Client, room string) error {
	return h.change(ctx, h.join, c, room)
}

func (h *Hub) Leave(ctx context.Context, c *Client, room string) error {
	return h.change(ctx, h.leave, c, room)
}

func (h *Hub) change(ctx context.Context, ch chan *membershipChange, c *Client, room string) error {
	m := &membershipChange{client: c, room: room, done: make(chan struct{})}
	if err := h.submit(ctx, func() bool {
		select {
		case ch <- m:
			return true
		case <-ctx.Done():
		case <-h.done:
		}
		return false
	}); err != nil {
		return err
	}
	select {
	case <-m.done:
		if !m.ok {
			return ErrNotRegistered
		}
		return nil
	case <-h.done:
		return ErrHubStopped
	}
}

// Broadcast sends an event to every member of room except exclude.
// Before Run starts it is a no-op that reports ErrHubNotRunning.
func (h *Hub) Broadcast(ctx context.Context, room, event string, data any, exclude *Client) error {
	payload, err := encodeFrame(event, data)
	if err != nil {
		return err
	}
	msg := &roomMessage{room: room, event: event, payload: payload, exclude: exclude}
	return h.submit(ctx, func() bool {
		select {
		case h.broadcast <- msg:
			return true
		case <-ctx.Done():
		case <-h.done:
		}
		return false
	})
}

// Publish broadcasts to the whole room. It is what the event-log bridge uses.
func (h *Hub) Publish(ctx context.Context, room, event string, data any) error {
	return h.Broadcast(ctx, room, event, data, nil)
}

// RoomSize reports how many connections are in room.
func (h *Hub) RoomSize(ctx context.Context, room string) (int, error) {
	q := &sizeQuery{room: room, reply: make(chan int, 1)}
	if err := h.submit(ctx, func() bool {
		select {
		case h.roomSize <- q:
			return true
		case <-ctx.Done():
		case <-h.done:
		}
		return false
	}); err != nil {
		return 0, err
	}
	return <-q.reply, nil
}

func (h *Hub) submit(ctx context.Context, send func() bool) error {
	if !h.running.Load() {
		select {
		case <-h.done:
			return ErrHubStopped
		default:
			return ErrHubNotRunning
		}
	}
	if send() {
		return nil
	}
	select {
	case <-h.done:
		return ErrHubStopped
	default:
		return ctx.Err()
	}
}
