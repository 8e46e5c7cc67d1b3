// Package bucketstore implements the per-(video, category, bucket) counter
// substrate (component C2), grounded on the append-and-snapshot pattern of
// ingest.ZoneStore in the teacher service, generalized from a single
// per-zone append-only slice to a sparse, two-phase-indexed counter store.
package bucketstore

import (
	"context"
	"time"

	"github.com/nrgchamp/trending/internal/apperr"
	"github.com/nrgchamp/trending/internal/model"
)

// Iterator is a lazy, finite, non-restartable sequence over
// (VideoID, windowed sum) pairs. Order is unspecified.
type Iterator interface {
	// Next advances the iterator. ok is false once the sequence is
	// exhausted; the iterator must not be reused afterwards.
	Next() (video model.VideoID, sum uint64, ok bool)
	// Err returns the first error encountered while iterating, if any.
	// Callers must check Err after Next returns ok=false.
	Err() error
}

// Store is the BucketStore interface described in the specification: a
// sparse mapping (video, category, bucket_start) -> uint64, with window
// summation and age-based eviction.
type Store interface {
	// Increment atomically adds delta to the counter for (video, category,
	// bucketStart), creating the bucket if needed, and returns the
	// post-increment value. delta must be positive.
	Increment(ctx context.Context, video model.VideoID, category model.Category, bucketStart time.Time, delta uint64) (uint64, error)

	// WindowSum sums counts across the N most recent buckets of def ending
	// at def.BucketWidth-aligned now, for a single video/category pair.
	// category == model.AllCategory sums across every category.
	WindowSum(ctx context.Context, video model.VideoID, category model.Category, def model.WindowDef, now time.Time) (uint64, error)

	// AllVideosInWindow returns a lazy iterator over every video with a
	// non-zero bucket inside the window for the given category.
	// category == model.AllCategory unions videos across every category.
	AllVideosInWindow(ctx context.Context, category model.Category, def model.WindowDef, now time.Time) (Iterator, error)

	// EvictOlderThan drops every bucket row whose end is at or before
	// cutoff, across all videos and categories.
	EvictOlderThan(ctx context.Context, cutoff time.Time) error
}

// errStorageUnavailable wraps cause as a CodeStorageUnavailable apperr so
// callers can retry via errors.Is(err, apperr.CodeStorageUnavailable-class
// checks) without caring which backend produced it.
func errStorageUnavailable(cause error) error {
	return apperr.Wrap(apperr.CodeStorageUnavailable, "bucket store unavailable", cause)
}
