package services

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// CacheService wraps the Redis tier with typed JSON get/set/delete/increment,
// the hash and sorted-set shapes used by leaderboards, the matchmaking queue
// and sliding rate windows, and a token-guarded distributed lock.
//
// Failure mode is uniform: a transport error on the read path is logged and
// treated as a cache miss, never as a fatal error. The durable store behind
// the StateService is the correctness backstop when Redis is degraded.
type CacheService struct {
	rdb redis.UniversalClient
}

func NewCacheService(addr, password string, db int) (*CacheService, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, err
	}
	return &CacheService{rdb: rdb}, nil
}

// NewCacheServiceFromClient wires an existing client (tests use miniredis).
func NewCacheServiceFromClient(rdb redis.UniversalClient) *CacheService {
	return &CacheService{rdb: rdb}
}

// GetJSON loads key into dest. Returns false on a miss — including any
// transport error, which is logged and swallowed (fail open toward the
// durable store).
func (c *CacheService) GetJSON(ctx context.Context, key string, dest any) bool {
	raw, err := c.rdb.Get(ctx, key).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			log.Printf("⚠️ [CACHE] GET %s failed, treating as miss: %v", key, err)
		}
		return false
	}
	if err := json.Unmarshal([]byte(raw), dest); err != nil {
		log.Printf("⚠️ [CACHE] bad JSON at %s, treating as miss: %v", key, err)
		return false
	}
	return true
}

// Get returns the decoded JSON value at key, or — when the payload is not
// valid JSON (legacy plain-string entries) — the raw string as-is.
func (c *CacheService) Get(ctx context.Context, key string) (any, bool) {
	raw, err := c.rdb.Get(ctx, key).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			log.Printf("⚠️ [CACHE] GET %s failed, treating as miss: %v", key, err)
		}
		return nil, false
	}
	var decoded any
	if err := json.Unmarshal([]byte(raw), &decoded); err != nil {
		return raw, true
	}
	return decoded, true
}

// SetJSON stores value at key as JSON. ttl <= 0 means no expiry. Unlike the
// read path this returns the transport error: the final save step of a state
// update fails closed.
func (c *CacheService) SetJSON(ctx context.Context, key string, value any, ttl time.Duration) error {
	payload, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, key, payload, ttl).Err()
}

// Delete removes key, reporting whether anything was deleted.
func (c *CacheService) Delete(ctx context.Context, key string) bool {
	n, err := c.rdb.Del(ctx, key).Result()
	if err != nil {
		log.Printf("⚠️ [CACHE] DEL %s failed: %v", key, err)
		return false
	}
	return n > 0
}

// Increment atomically adds amount to the integer at key.
func (c *CacheService) Increment(ctx context.Context, key string, amount int64) (int64, error) {
	return c.rdb.IncrBy(ctx, key, amount).Result()
}

// Expire sets a TTL on an existing key.
func (c *CacheService) Expire(ctx context.Context, key string, ttl time.Duration) error {
	return c.rdb.Expire(ctx, key, ttl).Err()
}

// TTL returns the remaining lifetime of key.
func (c *CacheService) TTL(ctx context.Context, key string) (time.Duration, error) {
	return c.rdb.TTL(ctx, key).Result()
}

// --- Hash sub-operations (leaderboard display names etc.) ---

func (c *CacheService) HashSet(ctx context.Context, key, field, value string) error {
	return c.rdb.HSet(ctx, key, field, value).Err()
}

func (c *CacheService) HashGet(ctx context.Context, key, field string) (string, bool) {
	v, err := c.rdb.HGet(ctx, key, field).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			log.Printf("⚠️ [CACHE] HGET %s %s failed: %v", key, field, err)
		}
		return "", false
	}
	return v, true
}

func (c *CacheService) HashGetAll(ctx context.Context, key string) map[string]string {
	m, err := c.rdb.HGetAll(ctx, key).Result()
	if err != nil {
		log.Printf("⚠️ [CACHE] HGETALL %s failed: %v", key, err)
		return map[string]string{}
	}
	return m
}

// --- Sorted-set sub-operations (queue, windows, leaderboards) ---

// ZMember pairs a member with its score for callers outside this package.
type ZMember struct {
	Member string
	Score  float64
}

func (c *CacheService) SortedSetAdd(ctx context.Context, key string, score float64, member string) error {
	return c.rdb.ZAdd(ctx, key, redis.Z{Score: score, Member: member}).Err()
}

func (c *CacheService) SortedSetIncr(ctx context.Context, key string, delta float64, member string) (float64, error) {
	return c.rdb.ZIncrBy(ctx, key, delta, member).Result()
}

func (c *CacheService) SortedSetRemove(ctx context.Context, key string, members ...string) (int64, error) {
	args := make([]any, len(members))
	for i, m := range members {
		args[i] = m
	}
	return c.rdb.ZRem(ctx, key, args...).Result()
}

func (c *CacheService) SortedSetRemoveByScore(ctx context.Context, key, min, max string) (int64, error) {
	return c.rdb.ZRemRangeByScore(ctx, key, min, max).Result()
}

func (c *CacheService) SortedSetCount(ctx context.Context, key string) (int64, error) {
	return c.rdb.ZCard(ctx, key).Result()
}

// SortedSetRange returns members ordered by ascending score.
func (c *CacheService) SortedSetRange(ctx context.Context, key string, start, stop int64) ([]ZMember, error) {
	zs, err := c.rdb.ZRangeWithScores(ctx, key, start, stop).Result()
	if err != nil {
		return nil, err
	}
	return toZMembers(zs), nil
}

// SortedSetTop returns members ordered by descending score.
func (c *CacheService) SortedSetTop(ctx context.Context, key string, limit int64) ([]ZMember, error) {
	zs, err := c.rdb.ZRevRangeWithScores(ctx, key, 0, limit-1).Result()
	if err != nil {
		return nil, err
	}
	return toZMembers(zs), nil
}

// SortedSetRank returns the zero-based descending rank of member.
func (c *CacheService) SortedSetRank(ctx context.Context, key, member string) (int64, bool) {
	rank, err := c.rdb.ZRevRank(ctx, key, member).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			log.Printf("⚠️ [CACHE] ZREVRANK %s %s failed: %v", key, member, err)
		}
		return 0, false
	}
	return rank, true
}

func (c *CacheService) SortedSetScore(ctx context.Context, key, member string) (float64, bool) {
	score, err := c.rdb.ZScore(ctx, key, member).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			log.Printf("⚠️ [CACHE] ZSCORE %s %s failed: %v", key, member, err)
		}
		return 0, false
	}
	return score, true
}

func toZMembers(zs []redis.Z) []ZMember {
	out := make([]ZMember, 0, len(zs))
	for _, z := range zs {
		member, _ := z.Member.(string)
		out = append(out, ZMember{Member: member, Score: z.Score})
	}
	return out
}

// --- Distributed lock ---

// releaseScript deletes the lock only while our token still owns it, so a
// holder that outlived its TTL cannot release a successor's lock.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// AcquireLock takes a distributed lock via SET NX with a random token,
// retrying up to retries times with jittered backoff. On success it returns
// a release func; on exhaustion it returns ErrLockNotAcquired.
func (c *CacheService) AcquireLock(ctx context.Context, key string, ttl time.Duration, retries int, backoff time.Duration) (func(), error) {
	token := uuid.NewString()
	for attempt := 0; attempt <= retries; attempt++ {
		ok, err := c.rdb.SetNX(ctx, key, token, ttl).Result()
		if err != nil {
			log.Printf("⚠️ [CACHE] SETNX %s failed: %v", key, err)
		} else if ok {
			release := func() {
				rctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
				defer cancel()
				if err := releaseScript.Run(rctx, c.rdb, []string{key}, token).Err(); err != nil {
					log.Printf("⚠️ [CACHE] lock release %s failed: %v", key, err)
				}
			}
			return release, nil
		}
		if attempt < retries {
			sleep := backoff + time.Duration(rand.Int63n(int64(backoff)/2+1))
			select {
			case <-time.After(sleep):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}
	return nil, ErrLockNotAcquired
}
