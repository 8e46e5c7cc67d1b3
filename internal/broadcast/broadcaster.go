package broadcast

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/nrgchamp/trending/internal/apperr"
	"github.com/nrgchamp/trending/internal/metrics"
	"github.com/nrgchamp/trending/internal/model"
)

type boardKey struct {
	window   string
	category model.Category
}

// Subscriber is a single registered mailbox for one (window, category)
// board's deltas. A Subscriber is owned by exactly one goroutine draining
// Mailbox(); the broadcaster never reads it back.
type Subscriber struct {
	ID      uuid.UUID
	mailbox chan model.Delta
}

// Mailbox returns the channel this subscriber's deltas arrive on. It is
// closed when the subscriber is removed from the broadcaster.
func (s *Subscriber) Mailbox() <-chan model.Delta { return s.mailbox }

// ChangeBroadcaster tracks the last published Snapshot per board and fans
// out the Diff against each new Snapshot to every subscriber registered on
// that board. Mailboxes are bounded; a subscriber that cannot keep up is
// dropped rather than allowed to block publication for everyone else.
type ChangeBroadcaster struct {
	mailboxSize int
	log         *slog.Logger
	metrics     *metrics.Metrics

	mu          sync.Mutex
	lastByBoard map[boardKey]model.Snapshot
	subsByBoard map[boardKey]map[uuid.UUID]*Subscriber
}

// New constructs a ChangeBroadcaster whose subscriber mailboxes buffer up
// to mailboxSize deltas before the subscriber is considered slow.
func New(mailboxSize int, log *slog.Logger, m *metrics.Metrics) *ChangeBroadcaster {
	if mailboxSize <= 0 {
		mailboxSize = 16
	}
	if log == nil {
		log = slog.Default()
	}
	if m == nil {
		m = metrics.New()
	}
	return &ChangeBroadcaster{
		mailboxSize: mailboxSize,
		log:         log.With(slog.String("component", "change_broadcaster")),
		metrics:     m,
		lastByBoard: make(map[boardKey]model.Snapshot),
		subsByBoard: make(map[boardKey]map[uuid.UUID]*Subscriber),
	}
}

// Subscribe registers a new mailbox for the given board and returns it. The
// caller must eventually call Unsubscribe to release it.
func (b *ChangeBroadcaster) Subscribe(window string, category model.Category) *Subscriber {
	k := boardKey{window, category}
	sub := &Subscriber{ID: uuid.New(), mailbox: make(chan model.Delta, b.mailboxSize)}

	b.mu.Lock()
	defer b.mu.Unlock()
	subs, ok := b.subsByBoard[k]
	if !ok {
		subs = make(map[uuid.UUID]*Subscriber)
		b.subsByBoard[k] = subs
	}
	subs[sub.ID] = sub
	return sub
}

// Unsubscribe removes sub from its board and closes its mailbox. Safe to
// call more than once.
func (b *ChangeBroadcaster) Unsubscribe(window string, category model.Category, sub *Subscriber) {
	k := boardKey{window, category}
	b.mu.Lock()
	defer b.mu.Unlock()
	subs, ok := b.subsByBoard[k]
	if !ok {
		return
	}
	if _, ok := subs[sub.ID]; !ok {
		return
	}
	delete(subs, sub.ID)
	close(sub.mailbox)
}

// Publish diffs snap against the last snapshot seen for its board and
// fans the resulting Delta out to every registered subscriber. Empty
// deltas (no entered/moved/left videos) are still recorded as the new
// baseline but are not sent to subscribers, since there is nothing to
// report. A subscriber whose mailbox is full is dropped and its mailbox
// closed; the caller (engine) never blocks on a slow consumer.
func (b *ChangeBroadcaster) Publish(snap model.Snapshot) {
	k := boardKey{snap.Window, snap.Category}

	b.mu.Lock()
	prev := b.lastByBoard[k]
	delta := Diff(prev, snap)
	b.lastByBoard[k] = snap

	if delta.IsEmpty() {
		b.mu.Unlock()
		return
	}

	subs := b.subsByBoard[k]
	dropped := make([]*Subscriber, 0)
	for _, sub := range subs {
		select {
		case sub.mailbox <- delta:
		default:
			dropped = append(dropped, sub)
		}
	}
	for _, sub := range dropped {
		delete(subs, sub.ID)
		close(sub.mailbox)
	}
	b.mu.Unlock()

	if len(dropped) > 0 {
		b.metrics.SubscribersDropped.Add(float64(len(dropped)))
		b.log.Warn("slow_consumers_dropped",
			slog.String("board", k.window+"/"+string(k.category)),
			slog.Int("count", len(dropped)),
		)
	}
}

// ServeWebSocket subscribes to (window, category) and streams every delta
// published for it to the already-upgraded conn as JSON frames, until the
// connection closes or ctx is cancelled. Grounded on SessionRegistry's
// per-connection write pattern: one goroutine owns the *websocket.Conn and
// serializes writes to it.
func (b *ChangeBroadcaster) ServeWebSocket(ctx context.Context, conn *websocket.Conn, window string, category model.Category) error {
	sub := b.Subscribe(window, category)
	defer b.Unsubscribe(window, category, sub)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case delta, ok := <-sub.Mailbox():
			if !ok {
				return apperr.New(apperr.CodeSlowConsumer, "subscriber dropped for falling behind")
			}
			if err := conn.WriteJSON(delta); err != nil {
				return err
			}
		}
	}
}
