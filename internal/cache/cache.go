// Package cache stores opaque byte values with an optional TTL. It backs the
// oracle prediction cache: a prediction depends only on the feature vector,
// so repeated runs with the same tier inputs skip the model.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"
)

// Cache is implemented by the file, redis and null backends.
type Cache interface {
	// Get returns the value and whether it was present and unexpired.
	Get(ctx context.Context, key string) ([]byte, bool, error)
	// Set stores data; ttl <= 0 means no expiry.
	Set(ctx context.Context, key string, data []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Close() error
}

// Key builds prefix:sha256(json(parts)).
func Key(prefix string, parts ...any) string {
	data, _ := json.Marshal(parts)
	return fmt.Sprintf("%s:%s", prefix, Hash(data))
}

// Hash returns the hex SHA-256 of data.
func Hash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
