package cache

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

// DefaultTypingTTL keeps a typing signal alive between refreshes. Expiry is
// redis-native, so a client that vanishes mid-keystroke needs no sweep here.
const DefaultTypingTTL = 6 * time.Second

// TypingSignal is the value stored per (channel, user) while composing.
type TypingSignal struct {
	ChannelID uint      `msgpack:"channel_id"`
	UserID    uint      `msgpack:"user_id"`
	StartedAt time.Time `msgpack:"started_at"`
}

// TypingCache holds ephemeral typing signals keyed by channel and user.
type TypingCache struct {
	redis *RedisCache
	ttl   time.Duration
}

func NewTypingCache(redis *RedisCache, ttl time.Duration) *TypingCache {
	if ttl <= 0 {
		ttl = DefaultTypingTTL
	}
	return &TypingCache{redis: redis, ttl: ttl}
}

func typingKey(channelID, userID uint) string {
	return fmt.Sprintf("typing:%d:%d", channelID, userID)
}

// Start registers or refreshes a typing signal.
func (tc *TypingCache) Start(channelID, userID uint) error {
	if tc == nil || tc.redis == nil {
		return nil
	}
	data, err := msgpack.Marshal(TypingSignal{
		ChannelID: channelID,
		UserID:    userID,
		StartedAt: time.Now(),
	})
	if err != nil {
		return err
	}
	return tc.redis.Set(typingKey(channelID, userID), data, tc.ttl)
}

// Stop removes a typing signal before it expires.
func (tc *TypingCache) Stop(channelID, userID uint) error {
	if tc == nil || tc.redis == nil {
		return nil
	}
	return tc.redis.Delete(typingKey(channelID, userID))
}

// Active lists the user ids currently typing in a channel.
func (tc *TypingCache) Active(channelID uint) ([]uint, error) {
	if tc == nil || tc.redis == nil {
		return nil, nil
	}
	keys, err := tc.redis.ScanKeys(fmt.Sprintf("typing:%d:*", channelID))
	if err != nil {
		return nil, err
	}

	users := make([]uint, 0, len(keys))
	for _, key := range keys {
		parts := strings.Split(key, ":")
		if len(parts) != 3 {
			continue
		}
		uid, err := strconv.ParseUint(parts[2], 10, 32)
		if err != nil {
			continue
		}
		users = append(users, uint(uid))
	}
	return users, nil
}
