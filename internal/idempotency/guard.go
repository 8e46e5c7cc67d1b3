// Package idempotency implements the duplicate-delivery guard (component
// C3): a TTL-bounded cache of (video, session, bucket) keys already
// processed, grounded on the at-least-once Kafka delivery handled by
// ledger_consumer.go's commit-after-process loop, which this package exists
// to make safe to retry.
package idempotency

import (
	"strings"
	"time"

	"github.com/dgraph-io/ristretto/v2"

	"github.com/nrgchamp/trending/internal/model"
)

// Verdict is the outcome of checking an event against the guard.
type Verdict int

const (
	// Fresh means the key had not been seen before the TTL expired; the
	// caller should process the event.
	Fresh Verdict = iota
	// Duplicate means the key was already recorded and is still within its
	// TTL window; the caller must discard the event.
	Duplicate
)

// Guard deduplicates ingest events keyed on (video, session, bucket).
// Events with an empty SessionID bypass the guard entirely: there is no
// dedup key to check, so they are always Fresh.
type Guard struct {
	cache *ristretto.Cache[string, struct{}]
	ttl   time.Duration
}

// Config controls the guard's cache sizing and retention.
type Config struct {
	// TTL is how long a (video, session, bucket) key is remembered.
	TTL time.Duration
	// MaxKeys bounds the approximate number of keys retained; ristretto
	// evicts by estimated access frequency once this is exceeded.
	MaxKeys int64
}

// New constructs a Guard backed by a ristretto cache sized for cfg.MaxKeys
// keys, each counted at cost 1.
func New(cfg Config) (*Guard, error) {
	if cfg.TTL <= 0 {
		cfg.TTL = 2 * time.Minute
	}
	if cfg.MaxKeys <= 0 {
		cfg.MaxKeys = 1_000_000
	}
	cache, err := ristretto.NewCache(&ristretto.Config[string, struct{}]{
		NumCounters: cfg.MaxKeys * 10,
		MaxCost:     cfg.MaxKeys,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}
	return &Guard{cache: cache, ttl: cfg.TTL}, nil
}

// Close releases the underlying cache's background goroutines.
func (g *Guard) Close() {
	g.cache.Close()
}

// Check records the event's dedup key on first sight and reports Fresh, or
// reports Duplicate if the key is already present. bucketStart identifies
// which sub-bucket the event would be counted into, so a retried event for
// the same bucket is recognized even if the caller resubmits it verbatim.
func (g *Guard) Check(video model.VideoID, session string, bucketStart time.Time) Verdict {
	if session == "" {
		return Fresh
	}
	key := dedupKey(video, session, bucketStart)
	if _, found := g.cache.Get(key); found {
		return Duplicate
	}
	g.cache.SetWithTTL(key, struct{}{}, 1, g.ttl)
	g.cache.Wait()
	return Fresh
}

func dedupKey(video model.VideoID, session string, bucketStart time.Time) string {
	var b strings.Builder
	b.WriteString(string(video))
	b.WriteByte('|')
	b.WriteString(session)
	b.WriteByte('|')
	b.WriteString(bucketStart.UTC().Format(time.RFC3339Nano))
	return b.String()
}
