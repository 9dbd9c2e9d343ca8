package revocation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	cacheKeyPrefix  = "chirp:revocation:"
	defaultCacheTTL = 15 * time.Second
)

// CachedRecordStore is a read-through Redis cache in front of a durable
// RecordStore. Writes go to the durable store first and then publish the
// re-read record with a script that never lowers a cached cutoff. Read fills
// use SETNX, so a reader holding a pre-write value cannot overwrite what a
// writer published. If publishing fails the key is deleted; if that fails
// too, a stale cutoff survives for at most the TTL.
type CachedRecordStore struct {
	next   RecordStore
	rdb    redis.Cmdable
	ttl    time.Duration
	logger *slog.Logger
}

// NewCachedRecordStore wraps next. ttl <= 0 selects the default.
func NewCachedRecordStore(next RecordStore, rdb redis.Cmdable, ttl time.Duration, logger *slog.Logger) *CachedRecordStore {
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CachedRecordStore{next: next, rdb: rdb, ttl: ttl, logger: logger}
}

// ConnectRedis builds a client from a redis:// URL or a bare host:port.
func ConnectRedis(ctx context.Context, redisURL string) (*redis.Client, error) {
	redisURL = strings.TrimSpace(redisURL)
	var client *redis.Client
	if strings.HasPrefix(redisURL, "redis://") || strings.HasPrefix(redisURL, "rediss://") {
		opt, err := redis.ParseURL(redisURL)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		client = redis.NewClient(opt)
	} else {
		client = redis.NewClient(&redis.Options{Addr: redisURL})
	}
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return client, nil
}

type cachedRecord struct {
	Missing               bool       `json:"missing,omitempty"`
	TokensValidAfterTime  *int64     `json:"tva,omitempty"`
	SessionRevokedAt      *time.Time `json:"sra,omitempty"`
	LastSessionRevocation *string    `json:"lsr,omitempty"`
}

func encodeCached(r Record, missing bool) ([]byte, error) {
	return json.Marshal(cachedRecord{
		Missing:               missing,
		TokensValidAfterTime:  r.TokensValidAfterTime,
		SessionRevokedAt:      r.SessionRevokedAt,
		LastSessionRevocation: r.LastSessionRevocation,
	})
}

func decodeCached(userID string, b []byte) (Record, bool, error) {
	var c cachedRecord
	if err := json.Unmarshal(b, &c); err != nil {
		return Record{}, false, err
	}
	return Record{
		UserID:                userID,
		TokensValidAfterTime:  c.TokensValidAfterTime,
		SessionRevokedAt:      c.SessionRevokedAt,
		LastSessionRevocation: c.LastSessionRevocation,
	}, c.Missing, nil
}

// publishScript sets KEYS[1] to ARGV[1] unless the cached record already
// holds a later cutoff than ARGV[2]. ARGV[3] is the TTL in milliseconds.
var publishScript = redis.NewScript(`
local cur = redis.call('GET', KEYS[1])
if cur then
  local ok, doc = pcall(cjson.decode, cur)
  if ok and type(doc) == 'table' and doc['tva'] and tonumber(doc['tva']) > tonumber(ARGV[2]) then
    return 0
  end
end
redis.call('SET', KEYS[1], ARGV[1], 'PX', ARGV[3])
return 1
`)

// fill caches a value read from the durable store, only if no writer has
// published in the meantime.
func (c *CachedRecordStore) fill(ctx context.Context, userID string, r Record, missing bool) {
	enc, err := encodeCached(r, missing)
	if err != nil {
		return
	}
	if err := c.rdb.SetNX(ctx, cacheKeyPrefix+userID, enc, c.ttl).Err(); err != nil {
		c.logger.Warn("revocation.cache.set.fail", "err", err, "user_id", userID)
	}
}

// publish stores a freshly written record without ever lowering the cached
// cutoff.
func (c *CachedRecordStore) publish(ctx context.Context, userID string, r Record) error {
	enc, err := encodeCached(r, false)
	if err != nil {
		return err
	}
	cut, _ := r.Cutoff()
	return publishScript.Run(ctx, c.rdb, []string{cacheKeyPrefix + userID}, enc, cut, c.ttl.Milliseconds()).Err()
}

func (c *CachedRecordStore) Read(ctx context.Context, userID string) (Record, error) {
	key := cacheKeyPrefix + userID

	b, err := c.rdb.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		r, missing, derr := decodeCached(userID, b)
		if derr == nil {
			if missing {
				return Record{}, ErrRecordNotFound
			}
			return r, nil
		}
		c.logger.Warn("revocation.cache.decode.fail", "err", derr, "user_id", userID)
	case errors.Is(err, redis.Nil):
	default:
		c.logger.Warn("revocation.cache.get.fail", "err", err, "user_id", userID)
	}

	r, err := c.next.Read(ctx, userID)
	missing := errors.Is(err, ErrRecordNotFound)
	if err != nil && !missing {
		return Record{}, err
	}

	c.fill(ctx, userID, r, missing)

	if missing {
		return Record{}, ErrRecordNotFound
	}
	return r, nil
}

func (c *CachedRecordStore) Write(ctx context.Context, userID string, u Update) error {
	if err := c.next.Write(ctx, userID, u); err != nil {
		return err
	}
	r, err := c.next.Read(ctx, userID)
	if err == nil {
		err = c.publish(ctx, userID, r)
	}
	if err == nil {
		return nil
	}
	c.logger.Warn("revocation.cache.publish.fail", "err", err, "user_id", userID)
	if err := c.rdb.Del(ctx, cacheKeyPrefix+userID).Err(); err != nil {
		c.logger.Error("revocation.cache.invalidate.fail", "err", err, "user_id", userID, "stale_for", c.ttl.String())
	}
	return nil
}
