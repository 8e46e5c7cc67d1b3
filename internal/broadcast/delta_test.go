package broadcast

import (
	"testing"

	"github.com/nrgchamp/trending/internal/model"
)

func TestDiffFromEmptyReportsAllEntered(t *testing.T) {
	next := model.Snapshot{
		Window: "5m", Category: model.AllCategory, Generation: 1,
		Entries: []model.RankedEntry{{VideoID: "a", Score: 10, Rank: 1}},
	}
	delta := Diff(model.Snapshot{}, next)
	if len(delta.Entered) != 1 || delta.Entered[0].VideoID != "a" {
		t.Fatalf("entered = %+v, want [a]", delta.Entered)
	}
	if len(delta.Moved) != 0 || len(delta.Left) != 0 {
		t.Fatalf("expected no moved/left, got %+v", delta)
	}
}

func TestDiffDetectsMovedAndLeft(t *testing.T) {
	prev := model.Snapshot{
		Window: "5m", Category: model.AllCategory, Generation: 1,
		Entries: []model.RankedEntry{
			{VideoID: "a", Score: 20, Rank: 1},
			{VideoID: "b", Score: 10, Rank: 2},
		},
	}
	next := model.Snapshot{
		Window: "5m", Category: model.AllCategory, Generation: 2,
		Entries: []model.RankedEntry{
			{VideoID: "b", Score: 30, Rank: 1},
			{VideoID: "c", Score: 15, Rank: 2},
		},
	}
	delta := Diff(prev, next)

	if len(delta.Entered) != 1 || delta.Entered[0].VideoID != "c" {
		t.Fatalf("entered = %+v, want [c]", delta.Entered)
	}
	if len(delta.Left) != 1 || delta.Left[0].VideoID != "a" {
		t.Fatalf("left = %+v, want [a]", delta.Left)
	}
	if len(delta.Moved) != 1 || delta.Moved[0].VideoID != "b" || delta.Moved[0].FromRank != 2 || delta.Moved[0].ToRank != 1 {
		t.Fatalf("moved = %+v, want b 2->1", delta.Moved)
	}
}

func TestDiffIsEmptyWhenUnchanged(t *testing.T) {
	snap := model.Snapshot{
		Window: "5m", Category: model.AllCategory, Generation: 1,
		Entries: []model.RankedEntry{{VideoID: "a", Score: 10, Rank: 1}},
	}
	delta := Diff(snap, snap)
	if !delta.IsEmpty() {
		t.Fatalf("expected empty delta, got %+v", delta)
	}
}
