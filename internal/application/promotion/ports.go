package promotion

import (
	"context"
	"time"
)

// Cache is the lookaside store for promotion listings. Misses return ok=false
// with a nil error; adapter failures surface as errors and callers fall back
// to the repositories.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}
