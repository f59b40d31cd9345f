package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"ms-commerce/internal/logger"
)

// InitializeTokenCache sets up the Redis client used for token caching
// and payment locks, and verifies the connection before returning it.
func InitializeTokenCache(redisAddr string, customLogger *logger.Logger) (*redis.Client, error) {
	var logInfo, logError func(format string, v ...interface{})

	if customLogger != nil {
		logInfo = func(format string, v ...interface{}) {
			customLogger.Info("REDIS", fmt.Sprintf(format, v...))
		}
		logError = func(format string, v ...interface{}) {
			customLogger.Error("REDIS", fmt.Sprintf(format, v...))
		}
	} else {
		// No-op if no logger provided
		logInfo = func(format string, v ...interface{}) {}
		logError = func(format string, v ...interface{}) {}
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     redisAddr,
		Password: "", // no password
		DB:       0,  // use default DB
		PoolSize: 10, // connection pool size
	})

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := redisClient.Ping(ctx).Result(); err != nil {
		logError("Failed to connect to Redis at %s: %v", redisAddr, err)
		return nil, err
	}

	logInfo("Successfully connected to Redis at %s for token caching", redisAddr)

	// Smoke-test a write under the token namespace
	testKey := verifiedTokenPrefix + "healthcheck"
	if err := redisClient.Set(ctx, testKey, "ok", 5*time.Second).Err(); err != nil {
		logError("Failed to write test value to Redis: %v", err)
		return nil, err
	}

	logInfo("Redis token cache is ready for use")
	return redisClient, nil
}
