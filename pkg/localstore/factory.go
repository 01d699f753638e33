package localstore

import (
	"fmt"

	"github.com/redis/go-redis/v9"
)

// StoreConfig contains configuration for creating a local store
type StoreConfig struct {
	// DataDir is required for file-based stores
	DataDir string
	// RedisAddr and RedisPassword are required for Redis-based stores
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	KeyPrefix     string
}

// NewStore creates a local store based on the persistence type
func NewStore(persistenceType string, config StoreConfig) (Store, error) {
	switch persistenceType {
	case "file":
		if config.DataDir == "" {
			return nil, fmt.Errorf("dataDir required for file store")
		}
		return NewFileStore(config.DataDir)
	case "redis":
		if config.RedisAddr == "" {
			return nil, fmt.Errorf("redisAddr required for redis store")
		}
		client := redis.NewClient(&redis.Options{
			Addr:     config.RedisAddr,
			Password: config.RedisPassword,
			DB:       config.RedisDB,
		})
		return NewRedisStore(client, config.KeyPrefix), nil
	default:
		return nil, fmt.Errorf("unsupported persistence type: %s (supported: file, redis)", persistenceType)
	}
}
