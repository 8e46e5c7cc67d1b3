// Package ingest implements the idempotent ingest pipeline (component C7):
// validate an incoming view event, reject duplicates via the idempotency
// guard, increment the owning bucket with retry-and-circuit-break
// protection around the storage call, and report each counted event to the
// OnIngested callback. Grounded on ledger_consumer.go's validate-then-append flow,
// generalized from a Kafka-only consumer loop to a transport-agnostic
// Submit entrypoint multiple sinks (Kafka, HTTP) can call into.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/go-playground/validator/v10"
	"github.com/sony/gobreaker/v2"

	"github.com/nrgchamp/trending/internal/apperr"
	"github.com/nrgchamp/trending/internal/bucketstore"
	"github.com/nrgchamp/trending/internal/clock"
	"github.com/nrgchamp/trending/internal/idempotency"
	"github.com/nrgchamp/trending/internal/metrics"
	"github.com/nrgchamp/trending/internal/model"
)

// RawEvent is the wire shape accepted at every ingest transport, validated
// with go-playground/validator struct tags before it becomes a model.Event.
type RawEvent struct {
	VideoID    string    `json:"video_id" validate:"required"`
	Category   string    `json:"category" validate:"required"`
	SessionID  string    `json:"session_id"`
	OccurredAt time.Time `json:"occurred_at" validate:"required"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// toModel runs struct-tag validation on r and converts it to a model.Event.
// Skew and known-category checks happen in Submit, where the pipeline's
// configured bounds and category allow-list are in scope.
func (r RawEvent) toModel() (model.Event, error) {
	if err := validate.Struct(r); err != nil {
		return model.Event{}, apperr.Wrap(apperr.CodeInvalidEvent, "event failed validation", err)
	}
	return model.Event{
		VideoID:    model.VideoID(r.VideoID),
		Category:   model.Category(r.Category),
		SessionID:  r.SessionID,
		OccurredAt: r.OccurredAt,
	}, nil
}

// Config controls pipeline construction.
type Config struct {
	Store       bucketstore.Store
	Guard       *idempotency.Guard
	Clock       clock.Clock
	BucketWidth time.Duration
	QueueSize   int
	Workers     int
	Logger      *slog.Logger
	Metrics     *metrics.Metrics
	// Categories is the configured category allow-list. model.AllCategory
	// is always implicitly accepted regardless of this set. An empty set
	// accepts every category (no allow-list configured).
	Categories []model.Category
	// MaxEventSkew bounds how far into the past OccurredAt may lag now
	// (spec default: window_max). A non-positive value falls back to 24h.
	MaxEventSkew time.Duration
	// SmallFuture bounds how far into the future OccurredAt may lead now,
	// tolerating clock drift between producers and this process.
	SmallFuture time.Duration
	OnIngested  func(model.Event) // called after a fresh event is counted into its bucket
}

// job is one validated event queued for asynchronous counting.
type job struct {
	event       model.Event
	bucketStart time.Time
}

// Pipeline is the ingest entrypoint: transports call Submit, which
// validates and deduplicates synchronously, then hands the event to a
// bounded worker pool for the (retryable, circuit-broken) storage
// increment.
type Pipeline struct {
	store   bucketstore.Store
	guard   *idempotency.Guard
	clock   clock.Clock
	width   time.Duration
	log     *slog.Logger
	metrics *metrics.Metrics
	onDone  func(model.Event)

	categories   map[model.Category]struct{} // nil means no allow-list restriction
	maxEventSkew time.Duration
	smallFuture  time.Duration

	queue   chan job
	breaker *gobreaker.CircuitBreaker[uint64]
}

// New constructs a Pipeline without starting any workers. Callers must call
// Run to begin draining the queue and cancel Run's context to stop it.
func New(cfg Config) (*Pipeline, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("ingest: store is required")
	}
	if cfg.Guard == nil {
		return nil, fmt.Errorf("ingest: idempotency guard is required")
	}
	if cfg.Clock == nil {
		return nil, fmt.Errorf("ingest: clock is required")
	}
	if cfg.BucketWidth <= 0 {
		cfg.BucketWidth = time.Minute
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 10_000
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.New()
	}
	if cfg.OnIngested == nil {
		cfg.OnIngested = func(model.Event) {}
	}
	if cfg.MaxEventSkew <= 0 {
		cfg.MaxEventSkew = 24 * time.Hour
	}
	if cfg.SmallFuture <= 0 {
		cfg.SmallFuture = 5 * time.Second
	}

	var categories map[model.Category]struct{}
	if len(cfg.Categories) > 0 {
		categories = make(map[model.Category]struct{}, len(cfg.Categories)+1)
		for _, c := range cfg.Categories {
			categories[c] = struct{}{}
		}
		categories[model.AllCategory] = struct{}{}
	}

	breaker := gobreaker.NewCircuitBreaker[uint64](gobreaker.Settings{
		Name:        "bucketstore-increment",
		MaxRequests: 5,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})

	return &Pipeline{
		store:        cfg.Store,
		guard:        cfg.Guard,
		clock:        cfg.Clock,
		width:        cfg.BucketWidth,
		log:          cfg.Logger.With(slog.String("component", "ingest_pipeline")),
		metrics:      cfg.Metrics,
		onDone:       cfg.OnIngested,
		categories:   categories,
		maxEventSkew: cfg.MaxEventSkew,
		smallFuture:  cfg.SmallFuture,
		queue:        make(chan job, cfg.QueueSize),
		breaker:      breaker,
	}, nil
}

// knownCategory reports whether category passes the configured allow-list.
// model.AllCategory always passes; an unconfigured (nil) allow-list passes
// everything.
func (p *Pipeline) knownCategory(category model.Category) bool {
	if p.categories == nil {
		return true
	}
	_, ok := p.categories[category]
	return ok
}

// Submit validates raw, checks idempotency, and enqueues it for counting.
// It returns apperr-coded errors for CodeInvalidEvent, CodeDuplicate (not a
// failure; callers should treat it as a successful no-op), and
// CodeOverloaded when the queue is full. Submit never blocks.
func (p *Pipeline) Submit(ctx context.Context, raw RawEvent) error {
	now := p.clock.Now()
	event, err := raw.toModel()
	if err != nil {
		p.metrics.EventsRejected.WithLabelValues(string(apperr.CodeInvalidEvent)).Inc()
		return err
	}

	if !p.knownCategory(event.Category) {
		p.metrics.EventsRejected.WithLabelValues(string(apperr.CodeInvalidEvent)).Inc()
		return apperr.New(apperr.CodeInvalidEvent, fmt.Sprintf("unknown category %q", event.Category))
	}

	skew := now.Sub(event.OccurredAt)
	if skew > p.maxEventSkew {
		p.metrics.EventsRejected.WithLabelValues(string(apperr.CodeInvalidEvent)).Inc()
		return apperr.New(apperr.CodeInvalidEvent, fmt.Sprintf("occurred_at %s is more than %s before now %s", event.OccurredAt, p.maxEventSkew, now))
	}
	if skew < -p.smallFuture {
		p.metrics.EventsRejected.WithLabelValues(string(apperr.CodeInvalidEvent)).Inc()
		return apperr.New(apperr.CodeInvalidEvent, fmt.Sprintf("occurred_at %s is more than %s ahead of now %s", event.OccurredAt, p.smallFuture, now))
	}

	bucketStart := p.clock.BucketOf(event.OccurredAt, p.width)
	if verdict := p.guard.Check(event.VideoID, event.SessionID, bucketStart); verdict == idempotency.Duplicate {
		p.metrics.DuplicatesSeen.Inc()
		return apperr.New(apperr.CodeDuplicate, "event already processed")
	}

	select {
	case p.queue <- job{event: event, bucketStart: bucketStart}:
		p.metrics.QueueDepth.Set(float64(len(p.queue)))
		return nil
	default:
		p.metrics.EventsRejected.WithLabelValues(string(apperr.CodeOverloaded)).Inc()
		return apperr.ErrOverloaded
	}
}

// Run drains the queue with workers concurrent goroutines (4 if workers is
// non-positive) until ctx is cancelled.
func (p *Pipeline) Run(ctx context.Context, workers int) error {
	if workers <= 0 {
		workers = 4
	}
	done := make(chan struct{})
	for i := 0; i < workers; i++ {
		go p.worker(ctx, done)
	}
	<-ctx.Done()
	for i := 0; i < workers; i++ {
		<-done
	}
	return nil
}

func (p *Pipeline) worker(ctx context.Context, done chan<- struct{}) {
	defer func() { done <- struct{}{} }()
	for {
		select {
		case <-ctx.Done():
			return
		case j := <-p.queue:
			p.process(ctx, j)
		}
	}
}

func (p *Pipeline) process(ctx context.Context, j job) {
	p.metrics.QueueDepth.Set(float64(len(p.queue)))
	_, err := p.breaker.Execute(func() (uint64, error) {
		return retry.DoWithData(func() (uint64, error) {
			return p.store.Increment(ctx, j.event.VideoID, j.event.Category, j.bucketStart, 1)
		},
			retry.Context(ctx),
			retry.Attempts(3),
			retry.Delay(50*time.Millisecond),
			retry.MaxDelay(500*time.Millisecond),
			retry.DelayType(retry.BackOffDelay),
		)
	})
	if err != nil {
		p.metrics.EventsRejected.WithLabelValues(string(apperr.CodeStorageUnavailable)).Inc()
		p.log.Error("ingest_increment_failed",
			slog.String("video_id", string(j.event.VideoID)),
			slog.String("category", string(j.event.Category)),
			slog.Any("err", err),
		)
		return
	}
	p.onDone(j.event)
}
