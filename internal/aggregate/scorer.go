// Package aggregate computes a video's trending score from its windowed
// bucket counts (component C4), grounded on core.ComputeScore's pure,
// deterministic-for-a-fixed-input-set formula, generalized from a
// multi-signal weighted formula to a pluggable single-number Scorer.
package aggregate

import (
	"context"

	"github.com/nrgchamp/trending/internal/bucketstore"
	"github.com/nrgchamp/trending/internal/clock"
	"github.com/nrgchamp/trending/internal/model"
)

// Scorer reduces a video's windowed event count to a monotone score. A
// Scorer must be deterministic for a fixed windowSum: the engine assumes
// identical inputs always rank identically.
type Scorer func(windowSum uint64) uint64

// SumScorer is the default Scorer: the score is exactly the windowed count.
// Matches the spec's default monotone scoring function.
func SumScorer(windowSum uint64) uint64 {
	return windowSum
}

// WindowAggregator computes per-video scores for a window/category pair by
// reading accumulated counts out of a bucketstore.Store and reducing them
// with a Scorer.
type WindowAggregator struct {
	store  bucketstore.Store
	clock  clock.Clock
	scorer Scorer
}

// NewWindowAggregator constructs an aggregator over store, using clock for
// "now" and scorer to reduce window sums to scores. A nil scorer defaults
// to SumScorer.
func NewWindowAggregator(store bucketstore.Store, clk clock.Clock, scorer Scorer) *WindowAggregator {
	if scorer == nil {
		scorer = SumScorer
	}
	return &WindowAggregator{store: store, clock: clk, scorer: scorer}
}

// ScoreOf computes the current score for a single video in def/category.
func (a *WindowAggregator) ScoreOf(ctx context.Context, video model.VideoID, category model.Category, def model.WindowDef) (uint64, error) {
	sum, err := a.store.WindowSum(ctx, video, category, def, a.clock.Now())
	if err != nil {
		return 0, err
	}
	return a.scorer(sum), nil
}

// ScoreAll computes scores for every video with a non-zero bucket in
// def/category, returning a map of video -> score. Videos with a zero
// resulting score are omitted (absent entries are implicitly zero, per the
// sparse-storage contract of bucketstore.Store).
func (a *WindowAggregator) ScoreAll(ctx context.Context, category model.Category, def model.WindowDef) (map[model.VideoID]uint64, error) {
	it, err := a.store.AllVideosInWindow(ctx, category, def, a.clock.Now())
	if err != nil {
		return nil, err
	}

	scores := make(map[model.VideoID]uint64)
	for {
		video, sum, ok := it.Next()
		if !ok {
			break
		}
		score := a.scorer(sum)
		if score == 0 {
			continue
		}
		scores[video] = score
	}
	if err := it.Err(); err != nil {
		return nil, err
	}
	return scores, nil
}
