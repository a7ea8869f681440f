package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds everything the gateway needs at startup.
type Config struct {
	Addr string
	Env  string

	JWTSecret string

	RedisAddr      string
	RedisURL       string
	PresenceKey    string
	PresencePolicy string // "refcount" or "any"

	ChatServiceURL    string
	MessageServiceURL string
	RelayTimeout      time.Duration

	AuthzBackend string // "http" or "postgres"
	DatabaseDSN  string

	EventLogDriver      string // "kafka", "nats" or "none"
	KafkaBrokers        []string
	KafkaGroupID        string
	NATSURL             string
	TopicNewMessage     string
	TopicEditedMessage  string
	TopicDeletedMessage string
	BridgeShutdownGrace time.Duration

	SendDirectBroadcast bool
	AllowedOrigins      []string
}

// Load reads configuration from environment variables, loading a .env
// file first when one exists. A missing signing key is fatal.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Addr:                getEnv("ADDR", ":8080"),
		Env:                 getEnv("ENV", "development"),
		JWTSecret:           os.Getenv("JWT_SECRET"),
		RedisAddr:           getEnv("REDIS_ADDR", "localhost:6379"),
		RedisURL:            os.Getenv("REDIS_URL"),
		PresenceKey:         getEnv("PRESENCE_KEY", "online_users"),
		PresencePolicy:      getEnv("PRESENCE_POLICY", "refcount"),
		ChatServiceURL:      getEnv("CHAT_SERVICE_URL", "http://localhost:3001"),
		MessageServiceURL:   getEnv("MESSAGE_SERVICE_URL", "http://localhost:3002"),
		AuthzBackend:        getEnv("AUTHZ_BACKEND", "http"),
		DatabaseDSN:         os.Getenv("DB_DSN"),
		EventLogDriver:      getEnv("EVENTLOG_DRIVER", "kafka"),
		KafkaBrokers:        splitList(getEnv("KAFKA_BROKERS", "localhost:9092")),
		KafkaGroupID:        getEnv("KAFKA_GROUP_ID", "chat-gateway"),
		NATSURL:             getEnv("NATS_URL", "nats://localhost:4222"),
		TopicNewMessage:     getEnv("TOPIC_NEW_MESSAGE", "message.created"),
		TopicEditedMessage:  getEnv("TOPIC_EDITED_MESSAGE", "message.edited"),
		TopicDeletedMessage: getEnv("TOPIC_DELETED_MESSAGE", "message.deleted"),
		AllowedOrigins:      splitList(os.Getenv("ALLOWED_ORIGINS")),
	}

	var err error
	if cfg.RelayTimeout, err = getDuration("RELAY_TIMEOUT", 5*time.Second); err != nil {
		return nil, err
	}
	if cfg.BridgeShutdownGrace, err = getDuration("BRIDGE_SHUTDOWN_GRACE", 10*time.Second); err != nil {
		return nil, err
	}
	if cfg.SendDirectBroadcast, err = getBool("SEND_DIRECT_BROADCAST", false); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks required values and enumerations.
func (c *Config) Validate() error {
	if c.JWTSecret == "" {
		return errors.New("JWT_SECRET is not set")
	}
	switch c.PresencePolicy {
	case "refcount", "any":
	default:
		return fmt.Errorf("PRESENCE_POLICY must be refcount or any, got %q", c.PresencePolicy)
	}
	switch c.AuthzBackend {
	case "http":
	case "postgres":
		if c.DatabaseDSN == "" {
			return errors.New("DB_DSN is required when AUTHZ_BACKEND=postgres")
		}
	default:
		return fmt.Errorf("AUTHZ_BACKEND must be http or postgres, got %q", c.AuthzBackend)
	}
	switch c.EventLogDriver {
	case "kafka":
		if len(c.KafkaBrokers) == 0 {
			return errors.New("KAFKA_BROKERS is empty")
		}
	case "nats", "none":
	default:
		return fmt.Errorf("EVENTLOG_DRIVER must be kafka, nats or none, got %q", c.EventLogDriver)
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}

func getBool(key string, defaultValue bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%s: %w", key, err)
	}
	return b, nil
}

func splitList(s string) []string {
	var out []string
	for _, entry := range strings.Split(s, ",") {
		entry = strings.TrimSpace(entry)
		if entry != "" {
			out = append(out, entry)
		}
	}
	return out
}
