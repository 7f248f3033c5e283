// Package syncer drives reconciliation of locally pending records with
// the remote ingest API under intermittent connectivity.
//
// The coordinator is a three-state machine (idle, syncing, error) fed
// by two triggers: a connectivity-restored event and a periodic timer
// while online. Every state transition rebroadcasts a freshly computed
// status snapshot to all subscribers.
package syncer

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/herbtrace/herbtrace/internal/record"
)

// State is the coordinator's current mode. All states are reentrant.
type State string

const (
	StateIdle    State = "idle"
	StateSyncing State = "syncing"
	StateError   State = "error"
)

// Store is the slice of the local store the coordinator needs.
type Store interface {
	Pending(ctx context.Context) ([]*record.CollectionRecord, error)
	MarkSynced(ctx context.Context, id string, at time.Time) error
	CountPending(ctx context.Context) (int, error)
}

// Remote submits one record to the canonical store.
type Remote interface {
	Ingest(ctx context.Context, rec *record.CollectionRecord) (*record.CollectionRecord, error)
}

// Config wires the coordinator's injected dependencies so tests can
// substitute fakes and control time.
type Config struct {
	Store    Store
	Remote   Remote
	Interval time.Duration    // periodic trigger while online; default 30s
	Now      func() time.Time // clock; default time.Now
}

// Coordinator reconciles pending records sequentially, one pass at a
// time. A pass holds no lock across network or storage I/O, so status
// broadcasts (including a connectivity loss) stay responsive while a
// pass is in flight.
type Coordinator struct {
	store    Store
	remote   Remote
	interval time.Duration
	now      func() time.Time

	mu         sync.Mutex
	online     bool
	state      State
	lastErr    error
	lastSyncAt *time.Time
	subs       map[int]func(record.SyncStatus)
	nextSub    int
}

// New builds a coordinator in the idle, offline state.
func New(cfg Config) *Coordinator {
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Coordinator{
		store:    cfg.Store,
		remote:   cfg.Remote,
		interval: cfg.Interval,
		now:      cfg.Now,
		state:    StateIdle,
		subs:     make(map[int]func(record.SyncStatus)),
	}
}

// Subscribe registers a status callback and immediately delivers the
// current snapshot to it. The returned function unsubscribes.
func (c *Coordinator) Subscribe(ctx context.Context, fn func(record.SyncStatus)) func() {
	c.mu.Lock()
	id := c.nextSub
	c.nextSub++
	c.subs[id] = fn
	c.mu.Unlock()

	fn(c.Status(ctx))

	return func() {
		c.mu.Lock()
		delete(c.subs, id)
		c.mu.Unlock()
	}
}

// Online reports the last observed connectivity.
func (c *Coordinator) Online() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.online
}

// SetOnline records a connectivity change and broadcasts it. A
// restored connection triggers a sync pass; a loss does not cancel an
// in-flight pass, it is only reflected in subsequent broadcasts.
func (c *Coordinator) SetOnline(ctx context.Context, online bool) {
	c.mu.Lock()
	if c.online == online {
		c.mu.Unlock()
		return
	}
	c.online = online
	c.mu.Unlock()

	c.broadcast(ctx)

	if online {
		if err := c.SyncNow(ctx); err != nil {
			log.Warn().Err(err).Msg("sync pass after reconnect failed")
		}
	}
}

// SyncNow runs one sync pass. It is a no-op while offline or while
// another pass is already running.
//
// The pass snapshots the pending set once; records saved after the
// snapshot wait for the next trigger. Records are pushed strictly
// sequentially, and the first failure stops the pass: already-acked
// records stay synced, the failed record and everything after it stay
// pending for the next full re-read. No backoff, no retry cap.
func (c *Coordinator) SyncNow(ctx context.Context) error {
	c.mu.Lock()
	if !c.online || c.state == StateSyncing {
		c.mu.Unlock()
		return nil
	}
	c.state = StateSyncing
	c.lastErr = nil
	c.mu.Unlock()

	c.broadcast(ctx)

	pending, err := c.store.Pending(ctx)
	if err != nil {
		return c.finish(ctx, err)
	}

	log.Debug().Int("pending", len(pending)).Msg("sync pass started")

	for _, rec := range pending {
		if _, err := c.remote.Ingest(ctx, rec); err != nil {
			log.Warn().Err(err).Str("recordId", rec.ID).Msg("ingest failed, aborting pass")
			return c.finish(ctx, err)
		}
		if err := c.store.MarkSynced(ctx, rec.ID, c.now()); err != nil {
			return c.finish(ctx, err)
		}
		log.Debug().Str("recordId", rec.ID).Msg("record synced")
	}

	return c.finish(ctx, nil)
}

// finish closes a pass, records its outcome, and broadcasts.
func (c *Coordinator) finish(ctx context.Context, err error) error {
	c.mu.Lock()
	if err != nil {
		c.state = StateError
		c.lastErr = err
	} else {
		c.state = StateIdle
		now := c.now()
		c.lastSyncAt = &now
	}
	c.mu.Unlock()

	c.broadcast(ctx)
	return err
}

// Run fires the periodic trigger until ctx is cancelled. Connectivity
// events arrive separately through SetOnline.
func (c *Coordinator) Run(ctx context.Context) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.SyncNow(ctx); err != nil {
				log.Warn().Err(err).Msg("periodic sync pass failed")
			}
		}
	}
}

// Status recomputes the broadcast snapshot from live store contents and
// current coordinator state.
func (c *Coordinator) Status(ctx context.Context) record.SyncStatus {
	count, err := c.store.CountPending(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("pending count unavailable for status")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	st := record.SyncStatus{
		IsOnline:     c.online,
		IsSyncing:    c.state == StateSyncing,
		PendingCount: count,
		LastSyncAt:   c.lastSyncAt,
	}
	if c.state == StateError && c.lastErr != nil {
		st.Error = c.lastErr.Error()
	}
	return st
}

// broadcast delivers the current snapshot synchronously to every
// subscriber.
func (c *Coordinator) broadcast(ctx context.Context) {
	status := c.Status(ctx)

	c.mu.Lock()
	fns := make([]func(record.SyncStatus), 0, len(c.subs))
	for _, fn := range c.subs {
		fns = append(fns, fn)
	}
	c.mu.Unlock()

	for _, fn := range fns {
		fn(status)
	}
}
