package presence

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Policy decides when a disconnect clears a user from the online set.
type Policy string

const (
	// PolicyRefcount keeps the user online until the last connection closes.
	PolicyRefcount Policy = "refcount"
	// PolicyAny clears the user on any disconnect.
	PolicyAny Policy = "any"
)

// Member is the opaque set entry for a user id.
func Member(userID string) string {
	return "user:" + userID
}

// connect and disconnect run server side so concurrent connects and
// disconnects for one user cannot interleave between the count and the set.
var connectScript = redis.NewScript(`
local n = redis.call('HINCRBY', KEYS[2], ARGV[1], 1)
redis.call('SADD', KEYS[1], ARGV[1])
return n
`)

var disconnectScript = redis.NewScript(`
local n = redis.call('HINCRBY', KEYS[2], ARGV[1], -1)
if n <= 0 then
  redis.call('HDEL', KEYS[2], ARGV[1])
  redis.call('SREM', KEYS[1], ARGV[1])
  return 0
end
return n
`)

// RedisStore keeps the online set in a Redis set.
type RedisStore struct {
	client *redis.Client
	key    string
	policy Policy
	log    zerolog.Logger
}

func NewRedisStore(client *redis.Client, key string, policy Policy, log zerolog.Logger) *RedisStore {
	return &RedisStore{
		client: client,
		key:    key,
		policy: policy,
		log:    log.With().Str("component", "presence").Logger(),
	}
}

func (s *RedisStore) countsKey() string {
	return s.key + ":conns"
}

// Connect marks the user online for one more connection.
func (s *RedisStore) Connect(ctx context.Context, userID string) error {
	member := Member(userID)
	if s.policy == PolicyAny {
		if err := s.client.SAdd(ctx, s.key, member).Err(); err != nil {
			return fmt.Errorf("presence add %s: %w", member, err)
		}
		return nil
	}
	if err := connectScript.Run(ctx, s.client, []string{s.key, s.countsKey()}, member).Err(); err != nil {
		return fmt.Errorf("presence add %s: %w", member, err)
	}
	return nil
}

// Disconnect releases one connection for the user.
func (s *RedisStore) Disconnect(ctx context.Context, userID string) error {
	member := Member(userID)
	if s.policy == PolicyAny {
		if err := s.client.SRem(ctx, s.key, member).Err(); err != nil {
			return fmt.Errorf("presence remove %s: %w", member, err)
		}
		return nil
	}
	if err := disconnectScript.Run(ctx, s.client, []string{s.key, s.countsKey()}, member).Err(); err != nil {
		return fmt.Errorf("presence remove %s: %w", member, err)
	}
	return nil
}

// IsOnline never fails: an unreachable store reads as offline.
func (s *RedisStore) IsOnline(ctx context.Context, userID string) bool {
	ok, err := s.client.SIsMember(ctx, s.key, Member(userID)).Result()
	if err != nil {
		s.log.Warn().Err(err).Str("user_id", userID).Msg("presence lookup failed")
		return false
	}
	return ok
}

// OnlineMany answers IsOnline for several users in one round trip.
func (s *RedisStore) OnlineMany(ctx context.Context, userIDs []string) map[string]bool {
	out := make(map[string]bool, len(userIDs))
	if len(userIDs) == 0 {
		return out
	}

	cmds := make([]*redis.BoolCmd, len(userIDs))
	_, err := s.client.Pipelined(ctx, func(p redis.Pipeliner) error {
		for i, id := range userIDs {
			cmds[i] = p.SIsMember(ctx, s.key, Member(id))
		}
		return nil
	})
	if err != nil {
		s.log.Warn().Err(err).Int("count", len(userIDs)).Msg("presence batch lookup failed")
	}
	for i, id := range userIDs {
		out[id] = err == nil && cmds[i].Val()
	}
	return out
}

// Reset forgets every user and connection count. A single gateway owns
// the keys, so at startup any leftover entry belongs to a process that
// died without disconnecting its clients.
func (s *RedisStore) Reset(ctx context.Context) error {
	if err := s.client.Del(ctx, s.key, s.countsKey()).Err(); err != nil {
		return fmt.Errorf("presence reset: %w", err)
	}
	return nil
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
