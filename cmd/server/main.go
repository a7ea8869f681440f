package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"go-chat-gateway/internal/auth"
	"go-chat-gateway/internal/chat"
	"go-chat-gateway/internal/config"
	"go-chat-gateway/internal/db"
	"go-chat-gateway/internal/eventlog"
	"go-chat-gateway/internal/logger"
	myMiddleware "go-chat-gateway/internal/middleware"
	"go-chat-gateway/internal/presence"
	"go-chat-gateway/internal/relay"
)

func main() {
	// 1. Config & Logging
	cfg, err := config.Load()
	if err != nil {
		startupLog := zerolog.New(os.Stderr)
		startupLog.Fatal().Err(err).Msg("invalid configuration")
	}
	log := logger.New(cfg.IsDevelopment())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Connect to Redis (presence)
	redisClient, err := newRedisClient(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("bad REDIS_URL")
	}
	defer redisClient.Close()
	store := presence.NewRedisStore(redisClient, cfg.PresenceKey, presence.Policy(cfg.PresencePolicy), log)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	if err := store.Ping(pingCtx); err != nil {
		// Presence degrades to offline; the gateway still serves.
		log.Warn().Err(err).Msg("redis not reachable at startup")
	} else {
		log.Info().Msg("connected to redis")
		// One gateway owns the presence keys; entries left now were never
		// released by a previous process.
		if err := store.Reset(pingCtx); err != nil {
			log.Warn().Err(err).Msg("stale presence not cleared")
		}
	}
	cancel()

	// 3. Outbound collaborators
	relayClient := relay.NewClient(cfg.ChatServiceURL, cfg.MessageServiceURL, cfg.RelayTimeout)
	var authz chat.Authorizer = relayClient
	if cfg.AuthzBackend == "postgres" {
		database, err := db.NewDatabase(cfg.DatabaseDSN)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to postgres")
		}
		defer database.Close()
		authz = db.NewMembershipRepository(database.Conn, cfg.RelayTimeout)
		log.Info().Msg("membership checks read postgres directly")
	}

	// 4. Start the Hub before anything can publish into it
	hubCtx, stopHub := context.WithCancel(context.Background())
	hub := chat.NewHub(log)
	hub.Start(hubCtx)

	verifier := auth.NewVerifier(cfg.JWTSecret, "")
	gateway := chat.NewGateway(hub, verifier, authz, relayClient, store, chat.Options{
		DirectSendBroadcast: cfg.SendDirectBroadcast,
		AllowedOrigins:      cfg.AllowedOrigins,
	}, log)

	// 5. Event-log bridge
	bridgeCtx, stopBridge := context.WithCancel(context.Background())
	bridgeDone := make(chan struct{})
	source := newSource(cfg, log)
	go func() {
		defer close(bridgeDone)
		if source == nil {
			log.Warn().Msg("event log disabled; new messages will not be pushed")
			return
		}
		bridge := eventlog.NewBridge(hub, eventlog.Topics{
			NewMessage:     cfg.TopicNewMessage,
			EditedMessage:  cfg.TopicEditedMessage,
			DeletedMessage: cfg.TopicDeletedMessage,
		}, log)
		if err := bridge.Run(bridgeCtx, source); err != nil && !errors.Is(err, context.Canceled) {
			log.Error().Err(err).Msg("event-log bridge stopped")
		}
	}()

	// 6. Define Routes
	authMiddleware := myMiddleware.NewAuthMiddleware(verifier)
	presenceHandler := presence.NewHandler(store)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(myMiddleware.Logger(log))
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := store.Ping(ctx); err != nil {
			http.Error(w, "redis unavailable", http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())
	r.Route("/api/presence", func(r chi.Router) {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: corsOrigins(cfg.AllowedOrigins),
			AllowedMethods: []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
			MaxAge:         300,
		}))
		r.Get("/{userID}", presenceHandler.GetStatus)
		r.Post("/query", presenceHandler.QueryMany)
	})

	// WebSocket (Real-time). The handshake is rejected without a valid token.
	r.With(authMiddleware.Handle).Get("/ws", gateway.ServeWs)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.Info().Str("addr", cfg.Addr).Msg("server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownPlan{
		server:       srv,
		httpTimeout:  10 * time.Second,
		stopBridge:   stopBridge,
		bridgeDone:   bridgeDone,
		bridgeGrace:  cfg.BridgeShutdownGrace,
		stopHub:      stopHub,
		hubDone:      hub.Done(),
		conns:        gateway,
		drainTimeout: 5 * time.Second,
		presence:     store,
		log:          log,
	}.run()
	log.Info().Msg("stopped")
}

func newRedisClient(cfg *config.Config) (*redis.Client, error) {
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, err
		}
		return redis.NewClient(opts), nil
	}
	return redis.NewClient(&redis.Options{Addr: cfg.RedisAddr}), nil
}

func corsOrigins(allowed []string) []string {
	if len(allowed) == 0 {
		return []string{"*"}
	}
	return allowed
}

func newSource(cfg *config.Config, log zerolog.Logger) eventlog.Source {
	switch cfg.EventLogDriver {
	case "kafka":
		return eventlog.NewKafkaSource(cfg.KafkaBrokers, cfg.KafkaGroupID, log)
	case "nats":
		return eventlog.NewNATSSource(cfg.NATSURL, cfg.KafkaGroupID, log)
	}
	return nil
}
