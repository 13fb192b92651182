package backend

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

type RedisBackend struct {
	*redis.Client
}

// RedisOptions configures the redis connection
type RedisOptions struct {
	Address  string
	Password string
	DB       int
}

func NewRedisBackend(opts RedisOptions) *RedisBackend {
	log.Debug().
		Str("address", opts.Address).
		Int("db", opts.DB).
		Msg("Creating redis key cache")
	return &RedisBackend{
		redis.NewClient(&redis.Options{
			Addr:     opts.Address,
			Password: opts.Password,
			DB:       opts.DB,
		}),
	}
}

// GetPublicKey returns the cached PEM for a provider config URL
func (b *RedisBackend) GetPublicKey(ctx context.Context, configURL string) (string, error) {
	// GET publicKey:configURL
	pem, err := b.Get(ctx, PublicKeySlug(configURL)).Result()
	if err == redis.Nil {
		return "", ErrKeyNotFound
	}
	if err != nil {
		return "", err
	}
	return pem, nil
}

// SavePublicKey caches the PEM for a provider config URL until ttl elapses
func (b *RedisBackend) SavePublicKey(ctx context.Context, configURL, pem string, ttl time.Duration) error {
	if ttl <= 0 {
		return fmt.Errorf("refusing to cache public key without a ttl")
	}
	log.Debug().
		Str("configUrl", configURL).
		Dur("ttl", ttl).
		Msg("Saving public key to redis")
	// SET publicKey:configURL pem EX ttl
	return b.Set(ctx, PublicKeySlug(configURL), pem, ttl).Err()
}
