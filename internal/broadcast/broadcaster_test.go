package broadcast

import (
	"testing"
	"time"

	"github.com/nrgchamp/trending/internal/model"
)

func TestPublishDeliversDeltaToSubscriber(t *testing.T) {
	b := New(4, nil, nil)
	sub := b.Subscribe("5m", model.AllCategory)
	defer b.Unsubscribe("5m", model.AllCategory, sub)

	snap := model.Snapshot{
		Window: "5m", Category: model.AllCategory, Generation: 1,
		Entries: []model.RankedEntry{{VideoID: "a", Score: 10, Rank: 1}},
	}
	b.Publish(snap)

	select {
	case delta := <-sub.Mailbox():
		if len(delta.Entered) != 1 || delta.Entered[0].VideoID != "a" {
			t.Fatalf("delta = %+v, want entered [a]", delta)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for delta")
	}
}

func TestPublishSkipsEmptyDelta(t *testing.T) {
	b := New(4, nil, nil)
	sub := b.Subscribe("5m", model.AllCategory)
	defer b.Unsubscribe("5m", model.AllCategory, sub)

	snap := model.Snapshot{
		Window: "5m", Category: model.AllCategory, Generation: 1,
		Entries: []model.RankedEntry{{VideoID: "a", Score: 10, Rank: 1}},
	}
	b.Publish(snap)
	<-sub.Mailbox() // drain the initial entered delta

	b.Publish(snap) // identical snapshot again: no change
	select {
	case delta := <-sub.Mailbox():
		t.Fatalf("unexpected delta for unchanged snapshot: %+v", delta)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestPublishDropsSlowConsumer(t *testing.T) {
	b := New(1, nil, nil)
	sub := b.Subscribe("5m", model.AllCategory)

	snapA := model.Snapshot{
		Window: "5m", Category: model.AllCategory, Generation: 1,
		Entries: []model.RankedEntry{{VideoID: "a", Score: 10, Rank: 1}},
	}
	snapB := model.Snapshot{
		Window: "5m", Category: model.AllCategory, Generation: 2,
		Entries: []model.RankedEntry{{VideoID: "a", Score: 10, Rank: 1}, {VideoID: "b", Score: 20, Rank: 1}},
	}
	snapC := model.Snapshot{
		Window: "5m", Category: model.AllCategory, Generation: 3,
		Entries: []model.RankedEntry{{VideoID: "c", Score: 30, Rank: 1}},
	}

	b.Publish(snapA) // fills the size-1 mailbox
	b.Publish(snapB) // mailbox still full (not drained): subscriber is dropped
	b.Publish(snapC)

	_, ok := <-sub.Mailbox()
	if !ok {
		return // mailbox closed: dropped as expected
	}
	// If a value was delivered, the mailbox must be closed immediately after.
	if _, ok := <-sub.Mailbox(); ok {
		t.Fatal("expected mailbox to be closed after dropping slow consumer")
	}
}
