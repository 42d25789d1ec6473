package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/yungbote/adaptivity-backend/internal/adaptivity"
	"github.com/yungbote/adaptivity-backend/internal/logger"
	"github.com/yungbote/adaptivity-backend/internal/utils"
)

// SessionCache keeps serialized session snapshots in Redis so hot lessons
// skip the database read. The database row is always the source of truth;
// cache misses and Redis errors fall through to Postgres.
type SessionCache struct {
	rdb *goredis.Client
	ttl time.Duration
	log *logger.Logger
}

// NewSessionCache returns nil (no error) when REDIS_ADDR is unset, which
// disables caching entirely.
func NewSessionCache(log *logger.Logger) (*SessionCache, error) {
	addr := strings.TrimSpace(os.Getenv("REDIS_ADDR"))
	if addr == "" {
		log.Info("REDIS_ADDR not set, session cache disabled")
		return nil, nil
	}

	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		DialTimeout: 5 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	ttlSec := utils.GetEnvAsInt("SESSION_CACHE_TTL_SECONDS", 1800, log)
	return &SessionCache{
		rdb: rdb,
		ttl: time.Duration(ttlSec) * time.Second,
		log: log.With("service", "SessionCache"),
	}, nil
}

func sessionKey(userID, lessonID string) string {
	return fmt.Sprintf("session:%s:%s", userID, lessonID)
}

// Get returns (nil, nil) on a cache miss.
func (c *SessionCache) Get(ctx context.Context, userID, lessonID string) (*adaptivity.SessionSnapshot, error) {
	raw, err := c.rdb.Get(ctx, sessionKey(userID, lessonID)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var snapshot adaptivity.SessionSnapshot
	if err := json.Unmarshal(raw, &snapshot); err != nil {
		// A corrupt entry is treated as a miss after eviction.
		c.log.Warn("Evicting unreadable cached session", "userId", userID, "lessonId", lessonID, "error", err)
		_ = c.rdb.Del(ctx, sessionKey(userID, lessonID)).Err()
		return nil, nil
	}
	return &snapshot, nil
}

func (c *SessionCache) Put(ctx context.Context, userID, lessonID string, snapshot *adaptivity.SessionSnapshot) error {
	raw, err := json.Marshal(snapshot)
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, sessionKey(userID, lessonID), raw, c.ttl).Err()
}

func (c *SessionCache) Delete(ctx context.Context, userID, lessonID string) error {
	return c.rdb.Del(ctx, sessionKey(userID, lessonID)).Err()
}

func (c *SessionCache) Close() error {
	return c.rdb.Close()
}
