package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"
)

// DefaultTTL is the response cache lifetime when none is configured.
const DefaultTTL = 5 * time.Minute

// Cache memoizes raw response bodies by request identity. Each client owns
// its own cache; implementations backed by shared infrastructure namespace
// keys per source.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte) error
}

// Entry is a cached response body.
type Entry struct {
	Key       string
	Value     []byte
	ExpiresAt time.Time
}

// Expired reports whether the entry is no longer visible at now.
func (e Entry) Expired(now time.Time) bool {
	return now.After(e.ExpiresAt)
}

// Key derives a fixed-length digest from a URL and its query parameters.
// Parameter order never affects the result.
func Key(url string, params map[string]any) string {
	sum := sha256.Sum256([]byte(url + "|" + canonicalJSON(params)))
	return hex.EncodeToString(sum[:])
}

func canonicalJSON(params map[string]any) string {
	if params == nil {
		params = map[string]any{}
	}
	// encoding/json writes map keys in sorted order, nested maps included.
	data, err := json.Marshal(params)
	if err != nil {
		return fmt.Sprintf("%v", params)
	}
	return string(data)
}

// Nop never stores anything. It backs --no-cache runs.
type Nop struct{}

// Get always misses.
func (Nop) Get(context.Context, string) ([]byte, bool, error) { return nil, false, nil }

// Set discards the value.
func (Nop) Set(context.Context, string, []byte) error { return nil }
