package client

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sakashimaa/go-auction/pkg/mylogger"
	"go.uber.org/zap"
)

type cachedUserDirectory struct {
	next        UserDirectory
	redisClient *redis.Client
	cacheTTL    time.Duration
	logger      *zap.Logger
}

// NewCachedUserDirectory serves nicknames from redis and falls back to next on
// a miss. Redis errors degrade to a direct lookup.
func NewCachedUserDirectory(next UserDirectory, redisClient *redis.Client, ttl time.Duration, logger *zap.Logger) UserDirectory {
	return &cachedUserDirectory{
		next:        next,
		redisClient: redisClient,
		cacheTTL:    ttl,
		logger:      logger,
	}
}

func nicknameKey(userID int64) string {
	return fmt.Sprintf("user:%d:nickname", userID)
}

func (d *cachedUserDirectory) Nickname(ctx context.Context, userID int64) (string, error) {
	key := nicknameKey(userID)

	val, err := d.redisClient.Get(ctx, key).Result()
	switch {
	case err == nil:
		return val, nil
	case errors.Is(err, redis.Nil):
	default:
		mylogger.Warn(ctx, d.logger, "Nickname cache read failed", zap.Int64("user_id", userID), zap.Error(err))
	}

	nickname, err := d.next.Nickname(ctx, userID)
	if err != nil {
		return "", err
	}

	if err := d.redisClient.Set(ctx, key, nickname, d.cacheTTL).Err(); err != nil {
		mylogger.Warn(ctx, d.logger, "Nickname cache write failed", zap.Int64("user_id", userID), zap.Error(err))
	}

	return nickname, nil
}
