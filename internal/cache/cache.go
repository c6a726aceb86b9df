// Package cache provides the shared TTL key/value store: Redis first, with an
// in-process fallback that keeps the agent serving (without cross-process
// sharing) when Redis is down.
package cache

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"sage/internal/logging"
)

type memEntry struct {
	expiry time.Time // zero means no expiry
	raw    []byte
}

// Store is a layered JSON key/value store. All methods are safe for
// concurrent use.
type Store struct {
	rdb    *redis.Client
	logger logging.Logger

	mu  sync.Mutex
	mem map[string]memEntry
	now func() time.Time
}

// New builds a Store. rdb may be nil, in which case only the in-process
// fallback is used.
func New(rdb *redis.Client, logger logging.Logger) *Store {
	return &Store{
		rdb:    rdb,
		logger: logging.OrNop(logger),
		mem:    make(map[string]memEntry),
		now:    time.Now,
	}
}

// GetJSON looks up key and unmarshals the stored value into dest. It reports
// whether a value was found; Redis failures fall through to the in-process
// map and are never returned to the caller.
func (s *Store) GetJSON(ctx context.Context, key string, dest any) bool {
	if s.rdb != nil {
		raw, err := s.rdb.Get(ctx, key).Bytes()
		switch {
		case err == nil:
			if jsonErr := json.Unmarshal(raw, dest); jsonErr == nil {
				return true
			}
			s.logger.Warn("cache: undecodable value at %s", key)
			return false
		case err == redis.Nil:
			return false
		default:
			s.logger.Warn("cache: redis get %s failed: %v", key, err)
		}
	}

	raw, ok := s.memGet(key)
	if !ok {
		return false
	}
	return json.Unmarshal(raw, dest) == nil
}

// SetJSON stores value under key with the given TTL (ttl <= 0 means no
// expiry). Redis failures divert the write to the in-process map.
func (s *Store) SetJSON(ctx context.Context, key string, value any, ttl time.Duration) {
	raw, err := json.Marshal(value)
	if err != nil {
		s.logger.Warn("cache: marshal for %s failed: %v", key, err)
		return
	}
	if s.rdb != nil {
		if ttl < 0 {
			ttl = 0
		}
		if err := s.rdb.Set(ctx, key, raw, ttl).Err(); err == nil {
			return
		} else {
			s.logger.Warn("cache: redis set %s failed: %v", key, err)
		}
	}
	s.memSet(key, raw, ttl)
}

func (s *Store) memGet(key string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.mem[key]
	if !ok {
		return nil, false
	}
	if !entry.expiry.IsZero() && entry.expiry.Before(s.now()) {
		delete(s.mem, key)
		return nil, false
	}
	return entry.raw, true
}

func (s *Store) memSet(key string, raw []byte, ttl time.Duration) {
	var expiry time.Time
	if ttl > 0 {
		expiry = s.now().Add(ttl)
	}
	s.mu.Lock()
	s.mem[key] = memEntry{expiry: expiry, raw: raw}
	s.mu.Unlock()
}
