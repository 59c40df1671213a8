package presence

import (
	"context"
	"slices"
	"strconv"
	"time"

	"github.com/damoang/angple-messenger/internal/domain"
	"github.com/damoang/angple-messenger/pkg/logger"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const (
	// RedisKeyOnline is the sorted set of online users scored by last-seen (unix ms)
	RedisKeyOnline = "presence:online"
	// redisKeyInstances holds, per user, the instances with a live connection
	redisKeyInstances = "presence:instances:"
)

// offlineScript drops one instance from a user and removes the user from the
// online set only when no live instance remains. Returns the live instance count.
var offlineScript = redis.NewScript(`
local instances = KEYS[1]
local online = KEYS[2]
local instance = ARGV[1]
local min_score = ARGV[2]
local user = ARGV[3]

redis.call('ZREM', instances, instance)
redis.call('ZREMRANGEBYSCORE', instances, '-inf', '(' .. min_score)
local live = redis.call('ZCARD', instances)
if live == 0 then
    redis.call('ZREM', online, user)
end
return live
`)

// RedisMirror copies local presence into Redis so every instance can read
// the cluster-wide online set. Each instance records its own membership per
// user; a user leaves the online set only when the last instance lets go.
// Entries older than the timeout are ignored by readers, so a crashed
// instance cannot leave users online forever.
type RedisMirror struct {
	client     *redis.Client
	instanceID string
	timeout    time.Duration
	now        func() time.Time
	logger     zerolog.Logger
}

// NewRedisMirror creates a mirror for one instance; timeout should match the registry timeout
func NewRedisMirror(client *redis.Client, instanceID string, timeout time.Duration) *RedisMirror {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &RedisMirror{
		client:     client,
		instanceID: instanceID,
		timeout:    timeout,
		now:        time.Now,
		logger:     logger.WithComponent("presence-mirror"),
	}
}

func instancesKey(userID string) string {
	return redisKeyInstances + userID
}

func (m *RedisMirror) minScore() string {
	return strconv.FormatInt(m.now().Add(-m.timeout).UnixMilli(), 10)
}

// PresenceUpdated implements Observer. Errors are logged and dropped.
func (m *RedisMirror) PresenceUpdated(ctx context.Context, entry domain.PresenceEntry) {
	var err error
	if entry.Online {
		score := float64(entry.LastSeen.UnixMilli())
		_, err = m.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.ZAdd(ctx, instancesKey(entry.UserID), redis.Z{Score: score, Member: m.instanceID})
			pipe.Expire(ctx, instancesKey(entry.UserID), 2*m.timeout)
			pipe.ZAdd(ctx, RedisKeyOnline, redis.Z{Score: score, Member: entry.UserID})
			return nil
		})
	} else {
		err = offlineScript.Run(ctx, m.client,
			[]string{instancesKey(entry.UserID), RedisKeyOnline},
			m.instanceID, m.minScore(), entry.UserID,
		).Err()
	}
	if err != nil {
		m.logger.Warn().Err(err).Str("user_id", entry.UserID).Bool("online", entry.Online).
			Msg("presence mirror write failed")
	}
}

// OnlineElsewhere reports whether another instance still holds a live
// connection for the user. Implements Cluster.
func (m *RedisMirror) OnlineElsewhere(ctx context.Context, userID string) (bool, error) {
	instances, err := m.client.ZRangeByScore(ctx, instancesKey(userID), &redis.ZRangeBy{
		Min: m.minScore(),
		Max: "+inf",
	}).Result()
	if err != nil {
		return false, err
	}
	return slices.ContainsFunc(instances, func(id string) bool { return id != m.instanceID }), nil
}

// RemoteSnapshot returns users seen by any instance within the timeout
func (m *RedisMirror) RemoteSnapshot(ctx context.Context) ([]string, error) {
	minScore := m.minScore()
	users, err := m.client.ZRangeByScore(ctx, RedisKeyOnline, &redis.ZRangeBy{
		Min: minScore,
		Max: "+inf",
	}).Result()
	if err != nil {
		return nil, err
	}

	// 만료된 항목 정리 (실패해도 무시)
	m.client.ZRemRangeByScore(ctx, RedisKeyOnline, "-inf", "("+minScore) //nolint:errcheck

	slices.Sort(users)
	return users, nil
}
