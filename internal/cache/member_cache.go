package cache

import (
	"fmt"
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

// MemberListTTL bounds staleness of the fan-out address list: a membership
// change made by the external membership service is visible to publishing
// within this window at worst.
const MemberListTTL = 2 * time.Minute

// MemberCache caches channel member id lists used to address event fan-out.
type MemberCache struct {
	redis *RedisCache
}

func NewMemberCache(redis *RedisCache) *MemberCache {
	return &MemberCache{redis: redis}
}

func memberKey(channelID uint) string {
	return fmt.Sprintf("members:%d", channelID)
}

// GetMemberIDs retrieves the cached member list for a channel
func (mc *MemberCache) GetMemberIDs(channelID uint) ([]uint, bool) {
	if mc == nil || mc.redis == nil {
		return nil, false
	}
	data, err := mc.redis.Get(memberKey(channelID))
	if err != nil || data == nil {
		return nil, false
	}

	var ids []uint
	if err := msgpack.Unmarshal(data, &ids); err != nil {
		return nil, false
	}
	return ids, true
}

// SetMemberIDs caches the member list for a channel
func (mc *MemberCache) SetMemberIDs(channelID uint, ids []uint) error {
	if mc == nil || mc.redis == nil {
		return nil
	}
	data, err := msgpack.Marshal(ids)
	if err != nil {
		return err
	}
	return mc.redis.Set(memberKey(channelID), data, MemberListTTL)
}

// Invalidate removes the member list from cache
func (mc *MemberCache) Invalidate(channelID uint) error {
	if mc == nil || mc.redis == nil {
		return nil
	}
	return mc.redis.Delete(memberKey(channelID))
}
