package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"go-chat-gateway/internal/auth"
	"go-chat-gateway/internal/chat"
	"go-chat-gateway/internal/logger"
)

// Pairs of users share one chat each: pair 7 is users u_7_a and u_7_b in
// chat loadtest-7. The chat service must already know those memberships.
var (
	wsURL    = flag.String("url", "ws://localhost:8080/ws", "gateway websocket url")
	secret   = flag.String("secret", os.Getenv("JWT_SECRET"), "token signing key")
	pairs    = flag.Int("pairs", 50, "number of user pairs")
	msgCount = flag.Int("msgs", 20, "messages per user")
	linger   = flag.Duration("linger", 3*time.Second, "how long to keep reading after the last send")
)

type counters struct {
	joined, denied, sent, pushes, errors atomic.Int64
}

func main() {
	flag.Parse()
	log := logger.New(true)
	if *secret == "" {
		log.Fatal().Msg("JWT_SECRET or -secret is required")
	}
	verifier := auth.NewVerifier(*secret, "loadtest")

	log.Info().Int("users", *pairs*2).Int("msgs", *msgCount).Msg("starting stress test")
	var (
		wg    sync.WaitGroup
		stats counters
	)
	start := time.Now()

	for i := 0; i < *pairs; i++ {
		chatID := fmt.Sprintf("loadtest-%d", i)
		for _, side := range []string{"a", "b"} {
			userID := fmt.Sprintf("u_%d_%s", i, side)
			token, err := verifier.Issue(auth.Identity{ID: userID, Username: userID}, time.Hour)
			if err != nil {
				log.Fatal().Err(err).Msg("sign token")
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				if err := spamChat(token, chatID, userID, &stats); err != nil {
					log.Warn().Err(err).Str("user", userID).Msg("client failed")
				}
			}()
		}
	}

	wg.Wait()
	log.Info().
		Dur("elapsed", time.Since(start)).
		Int64("joined", stats.joined.Load()).
		Int64("denied", stats.denied.Load()).
		Int64("sent", stats.sent.Load()).
		Int64("pushes", stats.pushes.Load()).
		Int64("errors", stats.errors.Load()).
		Msg("load test complete")
}

func spamChat(token, chatID, user string, stats *counters) error {
	conn, _, err := websocket.DefaultDialer.Dial(*wsURL+"?token="+token, nil)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer conn.Close()

	joined := make(chan bool, 1)
	go readLoop(conn, joined, stats)

	if err := emit(conn, chat.EventJoinChat, chatID); err != nil {
		return err
	}
	select {
	case ok := <-joined:
		if !ok {
			stats.denied.Add(1)
			return fmt.Errorf("join %s refused", chatID)
		}
		stats.joined.Add(1)
	case <-time.After(10 * time.Second):
		return fmt.Errorf("join %s timed out", chatID)
	}

	for i := 0; i < *msgCount; i++ {
		emit(conn, chat.EventTyping, map[string]string{"chatId": chatID, "username": user})
		err := emit(conn, chat.EventMessage, map[string]string{
			"chatId":  chatID,
			"text":    fmt.Sprintf("LoadTest Msg %d from %s", i, user),
			"localId": fmt.Sprintf("%s-%d", user, i),
		})
		if err != nil {
			return err
		}
		stats.sent.Add(1)
		emit(conn, chat.EventStopTyping, map[string]string{"chatId": chatID})
		// Small sleep to prevent instant localhost bottleneck (simulate real network)
		time.Sleep(10 * time.Millisecond)
	}

	time.Sleep(*linger)
	return nil
}

// readLoop counts pushes; the first joinedChat or error answers the join.
func readLoop(conn *websocket.Conn, joined chan<- bool, stats *counters) {
	answered := false
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var f chat.Frame
		if json.Unmarshal(raw, &f) != nil {
			continue
		}
		switch f.Event {
		case chat.PushJoinedChat:
			if !answered {
				answered = true
				joined <- true
			}
		case chat.PushError, chat.PushUnauthorized:
			stats.errors.Add(1)
			if !answered {
				answered = true
				joined <- false
			}
		default:
			stats.pushes.Add(1)
		}
	}
}

func emit(conn *websocket.Conn, event string, data any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}
	return conn.WriteJSON(chat.Frame{Event: event, Data: raw})
}
