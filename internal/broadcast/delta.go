// Package broadcast implements change-push fan-out (component C8): it
// diffs successive Snapshots for a (window, category) board into an
// entered/moved/left Delta and fans the delta out to subscriber mailboxes,
// dropping any subscriber that falls behind rather than blocking the
// engine. Grounded on SessionRegistry's sync.Map-of-connections registry
// pattern from the desktop package, generalized from a session-scoped
// multi-player cursor broadcast to a board-scoped trending-delta broadcast,
// and transported over gorilla/websocket + google/uuid client IDs as the
// registry does.
package broadcast

import "github.com/nrgchamp/trending/internal/model"

// Diff computes the Delta turning prev into next. prev may be the zero
// Snapshot (Generation 0, no entries) to represent "no prior snapshot",
// in which case every entry in next is reported Entered.
func Diff(prev, next model.Snapshot) model.Delta {
	prevRank := make(map[model.VideoID]int, len(prev.Entries))
	for _, e := range prev.Entries {
		prevRank[e.VideoID] = e.Rank
	}
	nextRank := make(map[model.VideoID]int, len(next.Entries))
	for _, e := range next.Entries {
		nextRank[e.VideoID] = e.Rank
	}

	delta := model.Delta{
		Window:     next.Window,
		Category:   next.Category,
		Generation: next.Generation,
	}

	for _, e := range next.Entries {
		fromRank, existed := prevRank[e.VideoID]
		if !existed {
			delta.Entered = append(delta.Entered, e)
			continue
		}
		if fromRank != e.Rank {
			delta.Moved = append(delta.Moved, model.Moved{
				VideoID:  e.VideoID,
				FromRank: fromRank,
				ToRank:   e.Rank,
			})
		}
	}

	for _, e := range prev.Entries {
		if _, stillPresent := nextRank[e.VideoID]; !stillPresent {
			delta.Left = append(delta.Left, e)
		}
	}

	return delta
}
