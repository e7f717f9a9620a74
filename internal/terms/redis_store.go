package terms

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultKeyPrefix = "wellness:terms:"

// claimScript flips valid to 0 only when the entry is valid and unexpired,
// and returns the stored fields so the caller sees the state it claimed.
var claimScript = redis.NewScript(`
	local state = redis.call('HMGET', KEYS[1], 'valid', 'expires_at_ms', 'session_id', 'created_at_ms')
	if not state[1] then
		return {0}
	end

	local claimed = 0
	if state[1] == '1' and tonumber(state[2]) > tonumber(ARGV[1]) then
		redis.call('HSET', KEYS[1], 'valid', '0')
		claimed = 1
	end

	return {claimed, state[3] or '', state[4] or '', state[2] or ''}
`)

// RedisStore keeps each gate entry in a hash that expires with the token, so
// several API instances share one gate.
type RedisStore struct {
	rdb    *redis.Client
	prefix string
}

// NewRedisStore wraps an existing client. An empty prefix uses the default.
func NewRedisStore(rdb *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = defaultKeyPrefix
	}
	return &RedisStore{rdb: rdb, prefix: prefix}
}

func (s *RedisStore) key(token string) string {
	return s.prefix + token
}

func (s *RedisStore) Put(ctx context.Context, entry Entry) error {
	if s == nil || s.rdb == nil {
		return errors.New("redis store not initialised")
	}
	valid := "0"
	if entry.Valid {
		valid = "1"
	}
	key := s.key(entry.Token)
	pipe := s.rdb.TxPipeline()
	pipe.HSet(ctx, key,
		"valid", valid,
		"session_id", entry.SessionID,
		"created_at_ms", strconv.FormatInt(entry.CreatedAt.UnixMilli(), 10),
		"expires_at_ms", strconv.FormatInt(entry.ExpiresAt.UnixMilli(), 10),
	)
	pipe.PExpireAt(ctx, key, entry.ExpiresAt)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("store gate token: %w", err)
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, token string) (Entry, bool, error) {
	if s == nil || s.rdb == nil {
		return Entry{}, false, errors.New("redis store not initialised")
	}
	fields, err := s.rdb.HGetAll(ctx, s.key(token)).Result()
	if err != nil {
		return Entry{}, false, fmt.Errorf("load gate token: %w", err)
	}
	if len(fields) == 0 {
		return Entry{}, false, nil
	}
	return Entry{
		Token:     token,
		Valid:     fields["valid"] == "1",
		SessionID: fields["session_id"],
		CreatedAt: parseMillis(fields["created_at_ms"]),
		ExpiresAt: parseMillis(fields["expires_at_ms"]),
	}, true, nil
}

func (s *RedisStore) CompareAndInvalidate(ctx context.Context, token string, now time.Time) (Entry, bool, error) {
	if s == nil || s.rdb == nil {
		return Entry{}, false, errors.New("redis store not initialised")
	}
	raw, err := claimScript.Run(ctx, s.rdb, []string{s.key(token)}, now.UnixMilli()).Result()
	if err != nil {
		return Entry{}, false, fmt.Errorf("claim gate token: %w", err)
	}
	vals, ok := raw.([]interface{})
	if !ok || len(vals) == 0 {
		return Entry{}, false, fmt.Errorf("unexpected claim result %#v", raw)
	}
	if len(vals) < 4 {
		return Entry{}, false, nil
	}
	claimed, _ := vals[0].(int64)
	entry := Entry{
		Token:     token,
		Valid:     claimed == 1,
		SessionID: fmt.Sprint(vals[1]),
		CreatedAt: parseMillis(fmt.Sprint(vals[2])),
		ExpiresAt: parseMillis(fmt.Sprint(vals[3])),
	}
	return entry, claimed == 1, nil
}

// Purge is a no-op: keys carry their own expiry.
func (s *RedisStore) Purge(context.Context, time.Time) (int, error) {
	return 0, nil
}

func parseMillis(v string) time.Time {
	ms, err := strconv.ParseInt(v, 10, 64)
	if err != nil || ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}
