// Package engine implements the refresh-tick-driven Top-K engine
// (component C6): for every (window, category) pair it maintains a bounded
// min-heap of scores and publishes an immutable, generation-tagged
// Snapshot on every refresh. Grounded on score.Manager's
// boards-map-behind-an-RWMutex atomic-swap pattern and its Run/Refresh
// split, generalized from a from-scratch sort per refresh to incremental
// topk.TopK maintenance, and from a ticker loop to a go-co-op/gocron/v2
// scheduled job so refresh cadence, overlap-skip, and shutdown are handled
// by a real scheduler instead of a hand-rolled time.Ticker select loop.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"

	"github.com/nrgchamp/trending/internal/aggregate"
	"github.com/nrgchamp/trending/internal/apperr"
	"github.com/nrgchamp/trending/internal/bucketstore"
	"github.com/nrgchamp/trending/internal/clock"
	"github.com/nrgchamp/trending/internal/metrics"
	"github.com/nrgchamp/trending/internal/model"
	"github.com/nrgchamp/trending/internal/topk"
)

// key identifies one (window, category) board.
type key struct {
	window   string
	category model.Category
}

func (k key) String() string { return fmt.Sprintf("%s/%s", k.window, k.category) }

// PublishFunc receives every freshly computed snapshot. Implementations
// must not block for long: the engine calls it synchronously from the
// refresh goroutine.
type PublishFunc func(model.Snapshot)

// Engine maintains one topk.TopK per (window, category) and republishes a
// Snapshot of each on every refresh. Safe for concurrent use: readers call
// Snapshot while a single refresh goroutine (driven by Run) calls Refresh.
type Engine struct {
	windows    []model.WindowDef
	categories []model.Category
	capacity   int
	aggregator *aggregate.WindowAggregator
	store      bucketstore.Store
	clock      clock.Clock
	log        *slog.Logger
	publish    PublishFunc
	metrics    *metrics.Metrics

	windowMax time.Duration
	grace     time.Duration

	mu         sync.RWMutex
	heaps      map[key]*topk.TopK
	snapshots  map[key]model.Snapshot
	generation map[key]uint64

	scheduler gocron.Scheduler
}

// Config controls how an Engine is constructed.
type Config struct {
	Windows    []model.WindowDef
	Categories []model.Category
	Capacity   int
	Aggregator *aggregate.WindowAggregator
	// Store is the bucket store the engine instructs to evict aged-out
	// buckets after every refresh tick (spec step "EvictOlderThan(now -
	// window_max - grace)").
	Store   bucketstore.Store
	Clock   clock.Clock
	Logger  *slog.Logger
	Publish PublishFunc
	Metrics *metrics.Metrics
}

// New constructs an Engine from cfg. At least one window and one category
// must be configured.
func New(cfg Config) (*Engine, error) {
	if len(cfg.Windows) == 0 {
		return nil, fmt.Errorf("engine: at least one window is required")
	}
	if cfg.Store == nil {
		return nil, fmt.Errorf("engine: bucket store is required")
	}
	if cfg.Categories == nil {
		cfg.Categories = []model.Category{model.AllCategory}
	}
	if cfg.Capacity <= 0 {
		cfg.Capacity = 50
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Publish == nil {
		cfg.Publish = func(model.Snapshot) {}
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.New()
	}

	var windowMax, grace time.Duration
	for _, w := range cfg.Windows {
		if w.Duration > windowMax {
			windowMax = w.Duration
		}
		if w.BucketWidth > grace {
			grace = w.BucketWidth
		}
	}

	e := &Engine{
		windows:    cfg.Windows,
		categories: cfg.Categories,
		capacity:   cfg.Capacity,
		aggregator: cfg.Aggregator,
		store:      cfg.Store,
		clock:      cfg.Clock,
		log:        cfg.Logger.With(slog.String("component", "trending_engine")),
		publish:    cfg.Publish,
		metrics:    cfg.Metrics,
		windowMax:  windowMax,
		grace:      grace,
		heaps:      make(map[key]*topk.TopK),
		snapshots:  make(map[key]model.Snapshot),
		generation: make(map[key]uint64),
	}
	for _, w := range cfg.Windows {
		for _, c := range cfg.Categories {
			e.heaps[key{w.Name, c}] = topk.New(cfg.Capacity)
		}
	}
	return e, nil
}

// Refresh recomputes every (window, category) board at the engine clock's
// current instant, swaps in the new immutable Snapshot, publishes it, and
// then instructs the bucket store to evict everything older than
// window_max + grace (spec step 3, invariants I1/I2).
func (e *Engine) Refresh(ctx context.Context) {
	now := e.clock.Now()
	for _, w := range e.windows {
		for _, c := range e.categories {
			e.refreshOne(ctx, w, c, now)
		}
	}

	cutoff := now.Add(-(e.windowMax + e.grace))
	if err := e.store.EvictOlderThan(ctx, cutoff); err != nil {
		e.log.Error("evict_older_than_failed", slog.Time("cutoff", cutoff), slog.Any("err", err))
	}
}

func (e *Engine) refreshOne(ctx context.Context, w model.WindowDef, c model.Category, now time.Time) {
	k := key{w.Name, c}
	started := time.Now()
	defer func() {
		e.metrics.RefreshDuration.WithLabelValues(w.Name, string(c)).Observe(time.Since(started).Seconds())
	}()

	scores, err := e.aggregator.ScoreAll(ctx, c, w)
	if err != nil {
		e.log.Error("score_all_failed", slog.String("board", k.String()), slog.Any("err", err))
		return
	}

	e.mu.Lock()
	tk := e.heaps[k]
	e.mu.Unlock()

	present := make(map[model.VideoID]struct{}, len(scores))
	for video, score := range scores {
		present[video] = struct{}{}
		tk.Offer(video, score)
	}
	for _, ranked := range tk.Snapshot() {
		if _, ok := present[ranked.VideoID]; !ok {
			tk.Remove(ranked.VideoID)
		}
	}

	// I4: the heap's position index must stay a bijection with its tracked
	// videos. A violation means the ranking this tick cannot be trusted;
	// leave the board's previously published snapshot in place.
	if err := tk.CheckInvariant(); err != nil {
		buildErr := apperr.Wrap(apperr.CodeSnapshotBuildFailed, "topk invariant violated, keeping prior snapshot", err)
		e.log.Error("snapshot_build_failed", slog.String("board", k.String()), slog.Any("err", buildErr))
		return
	}

	e.mu.Lock()
	e.generation[k]++
	snap := model.Snapshot{
		Window:     w.Name,
		Category:   c,
		Generation: e.generation[k],
		Entries:    tk.Snapshot(),
		TakenAt:    now,
	}
	e.snapshots[k] = snap
	e.mu.Unlock()

	e.metrics.BoardSize.WithLabelValues(w.Name, string(c)).Set(float64(len(snap.Entries)))
	e.log.Info("board_refreshed",
		slog.String("board", k.String()),
		slog.Uint64("generation", snap.Generation),
		slog.Int("entries", len(snap.Entries)),
	)
	e.publish(snap.Clone())
}

// Snapshot returns the latest immutable Snapshot for (window, category), or
// false if that pair was never configured.
func (e *Engine) Snapshot(window string, category model.Category) (model.Snapshot, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	snap, ok := e.snapshots[key{window, category}]
	if !ok {
		if _, configured := e.heaps[key{window, category}]; configured {
			// Configured but not yet refreshed: an empty snapshot, generation 0.
			return model.Snapshot{Window: window, Category: category, Entries: []model.RankedEntry{}}, true
		}
		return model.Snapshot{}, false
	}
	return snap.Clone(), true
}

// Run drives periodic refreshes via gocron until ctx is cancelled. An
// immediate refresh happens at startup before the first scheduled tick.
func (e *Engine) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = 5 * time.Second
	}

	scheduler, err := gocron.NewScheduler()
	if err != nil {
		return fmt.Errorf("engine: new scheduler: %w", err)
	}
	e.scheduler = scheduler

	e.Refresh(ctx)

	_, err = scheduler.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(func() { e.Refresh(ctx) }),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return fmt.Errorf("engine: schedule refresh job: %w", err)
	}

	e.log.Info("refresh_loop_started", slog.Duration("interval", interval))
	scheduler.Start()

	<-ctx.Done()
	e.log.Info("refresh_loop_stopping")
	return scheduler.Shutdown()
}
