package ingest

import (
	"context"
	"testing"
	"time"

	"github.com/nrgchamp/trending/internal/apperr"
	"github.com/nrgchamp/trending/internal/bucketstore"
	"github.com/nrgchamp/trending/internal/clock"
	"github.com/nrgchamp/trending/internal/idempotency"
	"github.com/nrgchamp/trending/internal/model"
)

func newTestPipeline(t *testing.T, now time.Time) (*Pipeline, *bucketstore.MemStore, *clock.Fake) {
	t.Helper()
	store := bucketstore.NewMemStore(time.Minute)
	fc := clock.NewFake(now)
	guard, err := idempotency.New(idempotency.Config{TTL: time.Minute, MaxKeys: 1000})
	if err != nil {
		t.Fatalf("new guard: %v", err)
	}
	t.Cleanup(guard.Close)

	p, err := New(Config{
		Store:        store,
		Guard:        guard,
		Clock:        fc,
		BucketWidth:  time.Minute,
		QueueSize:    16,
		Workers:      1,
		Categories:   []model.Category{"ALL", "music"},
		MaxEventSkew: time.Minute,
		SmallFuture:  5 * time.Second,
	})
	if err != nil {
		t.Fatalf("new pipeline: %v", err)
	}
	return p, store, fc
}

func runPipeline(ctx context.Context, p *Pipeline) (cancel func()) {
	runCtx, cancel := context.WithCancel(ctx)
	go p.Run(runCtx, 1)
	return cancel
}

func TestSubmitRejectsInvalidEvent(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	p, _, _ := newTestPipeline(t, now)

	err := p.Submit(context.Background(), RawEvent{Category: "ALL", OccurredAt: now})
	if !apperr.Is(err, apperr.CodeInvalidEvent) {
		t.Fatalf("err = %v, want CodeInvalidEvent (missing video_id)", err)
	}
}

func TestSubmitRejectsOutOfSkewTimestamp(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	p, _, _ := newTestPipeline(t, now)

	err := p.Submit(context.Background(), RawEvent{
		VideoID: "v1", Category: "ALL", OccurredAt: now.Add(-time.Hour),
	})
	if !apperr.Is(err, apperr.CodeInvalidEvent) {
		t.Fatalf("err = %v, want CodeInvalidEvent (clock skew)", err)
	}
}

func TestSubmitRejectsUnknownCategory(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	p, _, _ := newTestPipeline(t, now)

	err := p.Submit(context.Background(), RawEvent{VideoID: "v1", Category: "sports", OccurredAt: now})
	if !apperr.Is(err, apperr.CodeInvalidEvent) {
		t.Fatalf("err = %v, want CodeInvalidEvent (unknown category)", err)
	}
}

func TestSubmitAcceptsAllCategoryRegardlessOfAllowList(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	p, _, _ := newTestPipeline(t, now)

	if err := p.Submit(context.Background(), RawEvent{VideoID: "v1", Category: "ALL", OccurredAt: now}); err != nil {
		t.Fatalf("submit with category ALL: %v", err)
	}
}

func TestSubmitRejectsDuplicateWithinSameBucket(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	p, _, _ := newTestPipeline(t, now)

	raw := RawEvent{VideoID: "v1", Category: "ALL", SessionID: "s1", OccurredAt: now}
	if err := p.Submit(context.Background(), raw); err != nil {
		t.Fatalf("first submit: %v", err)
	}
	err := p.Submit(context.Background(), raw)
	if !apperr.Is(err, apperr.CodeDuplicate) {
		t.Fatalf("err = %v, want CodeDuplicate", err)
	}
}

func TestSubmitRejectsWhenQueueFull(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	store := bucketstore.NewMemStore(time.Minute)
	fc := clock.NewFake(now)
	guard, err := idempotency.New(idempotency.Config{TTL: time.Minute, MaxKeys: 1000})
	if err != nil {
		t.Fatalf("new guard: %v", err)
	}
	defer guard.Close()

	p, err := New(Config{Store: store, Guard: guard, Clock: fc, QueueSize: 1, Workers: 1})
	if err != nil {
		t.Fatalf("new pipeline: %v", err)
	}
	// No Run() started: the queue never drains, so the second submit must
	// observe it full.
	if err := p.Submit(context.Background(), RawEvent{VideoID: "v1", Category: "ALL", OccurredAt: now}); err != nil {
		t.Fatalf("first submit: %v", err)
	}
	err = p.Submit(context.Background(), RawEvent{VideoID: "v2", Category: "ALL", OccurredAt: now})
	if !apperr.Is(err, apperr.CodeOverloaded) {
		t.Fatalf("err = %v, want CodeOverloaded", err)
	}
}

func TestSubmitEndToEndIncrementsBucket(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	p, store, fc := newTestPipeline(t, now)

	ingested := make(chan model.Event, 1)
	p.onDone = func(e model.Event) { ingested <- e }

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Run(ctx, 1)

	if err := p.Submit(ctx, RawEvent{VideoID: "v1", Category: "ALL", OccurredAt: now}); err != nil {
		t.Fatalf("submit: %v", err)
	}

	select {
	case <-ingested:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for ingestion to complete")
	}

	def := model.WindowDef{Name: "1m", Duration: time.Minute, BucketWidth: time.Minute, NumBuckets: 1}
	sum, err := store.WindowSum(ctx, "v1", model.AllCategory, def, fc.Now())
	if err != nil {
		t.Fatalf("window sum: %v", err)
	}
	if sum != 1 {
		t.Fatalf("sum = %d, want 1", sum)
	}
}
