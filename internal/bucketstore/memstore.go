package bucketstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/nrgchamp/trending/internal/model"
)

// categoryShard holds every bucket row for a single category. Categories are
// few and fixed at start, so a shard per category (rather than a hash-sharded
// map) keeps contention localized without extra hashing machinery.
type categoryShard struct {
	mu   sync.RWMutex
	rows map[int64]map[model.VideoID]uint64 // bucketStart (unix nanos) -> video -> count
}

func newCategoryShard() *categoryShard {
	return &categoryShard{rows: make(map[int64]map[model.VideoID]uint64)}
}

// MemStore is the default, in-process BucketStore backend, grounded on
// ingest.ZoneStore's RWMutex-guarded map-of-slices, generalized to a sparse
// two-dimensional counter keyed by bucket start and video.
type MemStore struct {
	bucketWidth time.Duration

	mu       sync.RWMutex
	shards   map[model.Category]*categoryShard
}

// NewMemStore constructs an empty MemStore for the given sub-bucket width.
func NewMemStore(bucketWidth time.Duration) *MemStore {
	return &MemStore{
		bucketWidth: bucketWidth,
		shards:      make(map[model.Category]*categoryShard),
	}
}

func (s *MemStore) shardFor(category model.Category) *categoryShard {
	s.mu.RLock()
	shard, ok := s.shards[category]
	s.mu.RUnlock()
	if ok {
		return shard
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if shard, ok = s.shards[category]; ok {
		return shard
	}
	shard = newCategoryShard()
	s.shards[category] = shard
	return shard
}

// Increment implements Store.
func (s *MemStore) Increment(_ context.Context, video model.VideoID, category model.Category, bucketStart time.Time, delta uint64) (uint64, error) {
	if delta == 0 {
		delta = 1
	}
	shard := s.shardFor(category)
	key := bucketStart.UTC().UnixNano()

	shard.mu.Lock()
	defer shard.mu.Unlock()
	row, ok := shard.rows[key]
	if !ok {
		row = make(map[model.VideoID]uint64)
		shard.rows[key] = row
	}
	row[video] += delta
	return row[video], nil
}

// WindowSum implements Store. Category ALL sums across every category shard,
// not just events explicitly submitted with category ALL.
func (s *MemStore) WindowSum(_ context.Context, video model.VideoID, category model.Category, def model.WindowDef, now time.Time) (uint64, error) {
	starts := bucketStartsInWindow(def, now)

	var total uint64
	for _, shard := range s.shardsFor(category) {
		shard.mu.RLock()
		for _, start := range starts {
			if row, ok := shard.rows[start]; ok {
				total += row[video]
			}
		}
		shard.mu.RUnlock()
	}
	return total, nil
}

// AllVideosInWindow implements Store. Category ALL unions every video across
// every category shard, per the specification's cross-category candidate set.
func (s *MemStore) AllVideosInWindow(_ context.Context, category model.Category, def model.WindowDef, now time.Time) (Iterator, error) {
	starts := bucketStartsInWindow(def, now)

	totals := make(map[model.VideoID]uint64)
	for _, shard := range s.shardsFor(category) {
		shard.mu.RLock()
		for _, start := range starts {
			row, ok := shard.rows[start]
			if !ok {
				continue
			}
			for video, count := range row {
				if count == 0 {
					continue
				}
				totals[video] += count
			}
		}
		shard.mu.RUnlock()
	}

	videos := make([]model.VideoID, 0, len(totals))
	for video, sum := range totals {
		if sum == 0 {
			continue
		}
		videos = append(videos, video)
	}
	sort.Slice(videos, func(i, j int) bool { return videos[i] < videos[j] })

	return &sliceIterator{videos: videos, totals: totals}, nil
}

// shardsFor returns the shards to read for category: every shard that
// exists when category is AllCategory, or just that category's own shard
// otherwise.
func (s *MemStore) shardsFor(category model.Category) []*categoryShard {
	if category != model.AllCategory {
		return []*categoryShard{s.shardFor(category)}
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	shards := make([]*categoryShard, 0, len(s.shards))
	for _, shard := range s.shards {
		shards = append(shards, shard)
	}
	return shards
}

// EvictOlderThan implements Store.
func (s *MemStore) EvictOlderThan(_ context.Context, cutoff time.Time) error {
	cutoffEndNanos := cutoff.UTC().UnixNano()

	s.mu.RLock()
	shards := make([]*categoryShard, 0, len(s.shards))
	for _, shard := range s.shards {
		shards = append(shards, shard)
	}
	s.mu.RUnlock()

	widthNanos := s.bucketWidth.Nanoseconds()
	for _, shard := range shards {
		shard.mu.Lock()
		for start := range shard.rows {
			if start+widthNanos <= cutoffEndNanos {
				delete(shard.rows, start)
			}
		}
		shard.mu.Unlock()
	}
	return nil
}

// bucketStartsInWindow returns the unix-nano bucket starts for the N most
// recent buckets of def ending at def.BucketWidth-aligned now, oldest first.
func bucketStartsInWindow(def model.WindowDef, now time.Time) []int64 {
	width := def.BucketWidth
	if width <= 0 {
		width = time.Minute
	}
	n := def.NumBuckets
	if n <= 0 {
		n = int(def.Duration / width)
	}
	if n <= 0 {
		return nil
	}

	latest := bucketOf(now, width)
	starts := make([]int64, 0, n)
	for i := 0; i < n; i++ {
		starts = append(starts, latest.Add(-time.Duration(i)*width).UnixNano())
	}
	return starts
}

func bucketOf(t time.Time, width time.Duration) time.Time {
	u := t.UTC().UnixNano()
	w := width.Nanoseconds()
	start := u - (u % w)
	if u < 0 && u%w != 0 {
		start -= w
	}
	return time.Unix(0, start).UTC()
}

type sliceIterator struct {
	videos []model.VideoID
	totals map[model.VideoID]uint64
	idx    int
}

func (it *sliceIterator) Next() (model.VideoID, uint64, bool) {
	if it.idx >= len(it.videos) {
		return "", 0, false
	}
	video := it.videos[it.idx]
	it.idx++
	return video, it.totals[video], true
}

func (it *sliceIterator) Err() error { return nil }
