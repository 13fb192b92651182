package backend

import (
	"context"
	"fmt"
	"time"
)

var (
	ErrKeyNotFound = fmt.Errorf("public key not found")
)

// KeyCache stores provider public keys for a bounded time.
// A cache is only used when it is configured with a positive TTL;
// without one every request fetches the key from the provider.
type KeyCache interface {
	// GetPublicKey returns the cached PEM for a provider config URL
	GetPublicKey(ctx context.Context, configURL string) (string, error)
	// SavePublicKey caches the PEM for a provider config URL until ttl elapses
	SavePublicKey(ctx context.Context, configURL, pem string, ttl time.Duration) error
}

// PublicKeySlug returns the cache key for a provider config URL
func PublicKeySlug(configURL string) string {
	return fmt.Sprintf("publicKey:%s", configURL)
}
