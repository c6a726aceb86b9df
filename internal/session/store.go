// Package session keeps the per-conversation history log in Redis.
//
// History is an enhancement: every failure here is logged and absorbed, and
// callers see an empty history or a skipped append instead of an error.
package session

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"sage/internal/logging"
)

const keyPrefix = "history:"

// Turn is one exchange in a conversation, oldest-first in the stored log.
type Turn struct {
	User      string `json:"user"`
	Assistant string `json:"assistant"`
}

// Store appends turns to a Redis list per session and reads them back.
type Store struct {
	rdb    *redis.Client
	ttl    time.Duration
	logger logging.Logger
}

// New builds a Store. rdb may be nil; history is then silently disabled.
// ttl <= 0 keeps session keys without expiry.
func New(rdb *redis.Client, ttl time.Duration, logger logging.Logger) *Store {
	return &Store{rdb: rdb, ttl: ttl, logger: logging.OrNop(logger)}
}

func key(sessionID string) string {
	return keyPrefix + sessionID
}

// Append records one turn and resets the session key's expiry.
func (s *Store) Append(ctx context.Context, sessionID, userMsg, assistantMsg string) {
	if s.rdb == nil {
		s.logger.Warn("history: no redis client; skipping persistence")
		return
	}
	raw, err := json.Marshal(Turn{User: userMsg, Assistant: assistantMsg})
	if err != nil {
		s.logger.Error("history: marshal turn failed: %v", err)
		return
	}
	k := key(sessionID)
	if err := s.rdb.RPush(ctx, k, raw).Err(); err != nil {
		s.logger.Error("history: append to %s failed: %v", k, err)
		return
	}
	if s.ttl > 0 {
		if err := s.rdb.Expire(ctx, k, s.ttl).Err(); err != nil {
			s.logger.Warn("history: expire %s failed: %v", k, err)
		}
	} else {
		if err := s.rdb.Persist(ctx, k).Err(); err != nil {
			s.logger.Warn("history: persist %s failed: %v", k, err)
		}
	}
}

// History returns all stored turns oldest-first. Any failure yields an empty
// slice.
func (s *Store) History(ctx context.Context, sessionID string) []Turn {
	if s.rdb == nil {
		return nil
	}
	raw, err := s.rdb.LRange(ctx, key(sessionID), 0, -1).Result()
	if err != nil {
		s.logger.Error("history: read %s failed: %v", key(sessionID), err)
		return nil
	}
	turns := make([]Turn, 0, len(raw))
	for _, item := range raw {
		var turn Turn
		if err := json.Unmarshal([]byte(item), &turn); err != nil {
			s.logger.Warn("history: undecodable turn in %s", key(sessionID))
			continue
		}
		turns = append(turns, turn)
	}
	return turns
}

// Clear drops the session's history log.
func (s *Store) Clear(ctx context.Context, sessionID string) {
	if s.rdb == nil {
		return
	}
	if err := s.rdb.Del(ctx, key(sessionID)).Err(); err != nil {
		s.logger.Error("history: clear %s failed: %v", key(sessionID), err)
	}
}
