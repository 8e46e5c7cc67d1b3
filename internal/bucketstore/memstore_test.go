package bucketstore

import (
	"context"
	"testing"
	"time"

	"github.com/nrgchamp/trending/internal/model"
)

func windowDef(name string, buckets int, bucketWidth time.Duration) model.WindowDef {
	return model.WindowDef{
		Name:        name,
		Duration:    time.Duration(buckets) * bucketWidth,
		BucketWidth: bucketWidth,
		NumBuckets:  buckets,
	}
}

func TestIncrementAndWindowSum(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore(time.Minute)
	now := time.Date(2026, 1, 1, 0, 5, 0, 0, time.UTC)
	def := windowDef("5m", 5, time.Minute)

	if _, err := store.Increment(ctx, "v1", model.AllCategory, now.Add(-2*time.Minute), 5); err != nil {
		t.Fatalf("increment: %v", err)
	}
	if _, err := store.Increment(ctx, "v1", model.AllCategory, now.Add(-2*time.Minute), 3); err != nil {
		t.Fatalf("increment: %v", err)
	}
	if _, err := store.Increment(ctx, "v1", model.AllCategory, now.Add(-10*time.Minute), 100); err != nil {
		t.Fatalf("increment (outside window): %v", err)
	}

	sum, err := store.WindowSum(ctx, "v1", model.AllCategory, def, now)
	if err != nil {
		t.Fatalf("window sum: %v", err)
	}
	if sum != 8 {
		t.Fatalf("window sum = %d, want 8", sum)
	}
}

func TestAllVideosInWindowUnionsNonZeroVideos(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore(time.Minute)
	now := time.Date(2026, 1, 1, 0, 5, 0, 0, time.UTC)
	def := windowDef("5m", 5, time.Minute)

	store.Increment(ctx, "v1", model.AllCategory, now, 5)
	store.Increment(ctx, "v2", model.AllCategory, now.Add(-time.Minute), 3)
	store.Increment(ctx, "v3", model.AllCategory, now.Add(-30*time.Minute), 1) // outside window

	it, err := store.AllVideosInWindow(ctx, model.AllCategory, def, now)
	if err != nil {
		t.Fatalf("all videos: %v", err)
	}

	seen := map[model.VideoID]uint64{}
	for {
		video, sum, ok := it.Next()
		if !ok {
			break
		}
		seen[video] = sum
	}
	if it.Err() != nil {
		t.Fatalf("iterator error: %v", it.Err())
	}

	if len(seen) != 2 {
		t.Fatalf("expected 2 videos in window, got %d (%v)", len(seen), seen)
	}
	if seen["v1"] != 5 || seen["v2"] != 3 {
		t.Fatalf("unexpected totals: %v", seen)
	}
}

func TestEvictOlderThanDropsExpiredBuckets(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore(time.Minute)
	now := time.Date(2026, 1, 1, 1, 0, 0, 0, time.UTC)
	def := windowDef("1h", 60, time.Minute)

	old := now.Add(-2 * time.Hour)
	store.Increment(ctx, "v1", model.AllCategory, old, 10)

	if err := store.EvictOlderThan(ctx, now.Add(-90*time.Minute)); err != nil {
		t.Fatalf("evict: %v", err)
	}

	sum, err := store.WindowSum(ctx, "v1", model.AllCategory, def, old.Add(30*time.Minute))
	if err != nil {
		t.Fatalf("window sum: %v", err)
	}
	if sum != 0 {
		t.Fatalf("expected evicted bucket to read as zero, got %d", sum)
	}
}

func TestAllCategoryUnionsAcrossEveryCategory(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore(time.Minute)
	now := time.Date(2026, 1, 1, 0, 5, 0, 0, time.UTC)
	def := windowDef("5m", 5, time.Minute)

	store.Increment(ctx, "v1", model.Category("music"), now, 5)
	store.Increment(ctx, "v2", model.Category("sports"), now, 3)
	store.Increment(ctx, "v1", model.Category("sports"), now, 2)

	sum, err := store.WindowSum(ctx, "v1", model.AllCategory, def, now)
	if err != nil {
		t.Fatalf("window sum: %v", err)
	}
	if sum != 7 {
		t.Fatalf("ALL window sum for v1 = %d, want 7 (5 music + 2 sports)", sum)
	}

	it, err := store.AllVideosInWindow(ctx, model.AllCategory, def, now)
	if err != nil {
		t.Fatalf("all videos: %v", err)
	}
	totals := map[model.VideoID]uint64{}
	for {
		video, s, ok := it.Next()
		if !ok {
			break
		}
		totals[video] = s
	}
	if len(totals) != 2 {
		t.Fatalf("expected 2 videos in the ALL union, got %d (%v)", len(totals), totals)
	}
	if totals["v1"] != 7 || totals["v2"] != 3 {
		t.Fatalf("unexpected ALL totals: %v", totals)
	}
}

func TestIncrementCategoriesAreIndependent(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore(time.Minute)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	def := windowDef("1m", 1, time.Minute)

	store.Increment(ctx, "v1", model.Category("music"), now, 4)
	store.Increment(ctx, "v1", model.AllCategory, now, 4)

	sumMusic, _ := store.WindowSum(ctx, "v1", model.Category("music"), def, now)
	sumGaming, _ := store.WindowSum(ctx, "v1", model.Category("gaming"), def, now)
	if sumMusic != 4 {
		t.Fatalf("music sum = %d, want 4", sumMusic)
	}
	if sumGaming != 0 {
		t.Fatalf("gaming sum = %d, want 0 (sparse)", sumGaming)
	}
}
