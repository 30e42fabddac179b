package collaboration

import (
	"context"
	"log"
	"sync"
	"time"

	"codoc/internal/middleware"
	"codoc/internal/models"

	"go.opentelemetry.io/otel/attribute"
)

// ContextKey identifies one editing context: a session editing one document.
type ContextKey struct {
	SessionID  string
	DocumentID string
}

// SnapshotWriter is the write half of the document store.
type SnapshotWriter interface {
	Write(ctx context.Context, documentID string, snap models.DocumentSnapshot) error
}

// FlushFunc is told the outcome of every flush that actually wrote something.
type FlushFunc func(key ContextKey, err error)

type pendingWrite struct {
	snapshot models.DocumentSnapshot
	timer    *time.Timer
	gen      uint64
}

// PersistenceBridge buffers the latest snapshot per editing context and writes it
// once the context has been quiet for the debounce window. Each context holds a
// single slot and a single timer; a new change replaces the slot and re-arms the timer.
type PersistenceBridge struct {
	store     SnapshotWriter
	window    time.Duration
	timeout   time.Duration
	onFlushed FlushFunc

	mu      sync.Mutex
	pending map[ContextKey]*pendingWrite
	seq     uint64
	closed  bool

	writeLocks *keyedMutex
	inflight   sync.WaitGroup
}

func NewPersistenceBridge(store SnapshotWriter, window, timeout time.Duration, onFlushed FlushFunc) *PersistenceBridge {
	if onFlushed == nil {
		onFlushed = func(ContextKey, error) {}
	}
	return &PersistenceBridge{
		store:      store,
		window:     window,
		timeout:    timeout,
		onFlushed:  onFlushed,
		pending:    make(map[ContextKey]*pendingWrite),
		writeLocks: newKeyedMutex(),
	}
}

// RecordLocalChange stores snap as the pending value for key and restarts its timer.
func (b *PersistenceBridge) RecordLocalChange(key ContextKey, snap models.DocumentSnapshot) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}

	p := b.pending[key]
	if p == nil {
		p = &pendingWrite{}
		b.pending[key] = p
	}
	if p.timer != nil {
		p.timer.Stop()
	}

	p.snapshot = snap.Clone()
	b.seq++
	p.gen = b.seq
	gen := p.gen
	p.timer = time.AfterFunc(b.window, func() { b.fire(key, gen) })
}

// fire runs on the timer goroutine. A stale generation means the slot was
// replaced, flushed or cancelled after this timer was armed.
func (b *PersistenceBridge) fire(key ContextKey, gen uint64) {
	snap, ok := b.take(key, &gen)
	if !ok {
		return
	}

	ctx := context.Background()
	if b.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.timeout)
		defer cancel()
	}
	b.write(ctx, key, snap)
}

// Flush writes the pending snapshot for key now. With nothing pending it returns nil.
func (b *PersistenceBridge) Flush(ctx context.Context, key ContextKey) error {
	snap, ok := b.take(key, nil)
	if !ok {
		return nil
	}
	return b.write(ctx, key, snap)
}

func (b *PersistenceBridge) take(key ContextKey, gen *uint64) (models.DocumentSnapshot, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	p := b.pending[key]
	if p == nil {
		return models.DocumentSnapshot{}, false
	}
	// Timer path only; after Shutdown the remaining slots belong to Shutdown.
	if gen != nil && (b.closed || p.gen != *gen) {
		return models.DocumentSnapshot{}, false
	}
	if p.timer != nil {
		p.timer.Stop()
	}
	delete(b.pending, key)
	b.inflight.Add(1)
	return p.snapshot, true
}

func (b *PersistenceBridge) write(ctx context.Context, key ContextKey, snap models.DocumentSnapshot) error {
	defer b.inflight.Done()

	unlock := b.writeLocks.Lock(key)
	defer unlock()

	ctx, span := middleware.StartSpan(ctx, "Persistence.Flush",
		attribute.String("session.id", key.SessionID),
		attribute.String("document.id", key.DocumentID),
		attribute.Int("snapshot.size", len(snap.Content)),
	)
	defer span.End()

	err := b.store.Write(ctx, key.DocumentID, snap)
	if err != nil {
		middleware.AddSpanError(ctx, err)
		log.Printf("⚠️  Flush of document %s for session %s failed: %v", key.DocumentID, key.SessionID, err)
	}
	b.onFlushed(key, err)
	return err
}

// Cancel drops the pending value for key without writing it.
func (b *PersistenceBridge) Cancel(key ContextKey) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cancelLocked(key)
}

// CancelSession drops every pending value of a session.
func (b *PersistenceBridge) CancelSession(sessionID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	dropped := 0
	for key := range b.pending {
		if key.SessionID == sessionID {
			b.cancelLocked(key)
			dropped++
		}
	}
	return dropped
}

func (b *PersistenceBridge) cancelLocked(key ContextKey) {
	if p := b.pending[key]; p != nil {
		if p.timer != nil {
			p.timer.Stop()
		}
		delete(b.pending, key)
	}
}

// Pending returns the buffered snapshot for key, if any.
func (b *PersistenceBridge) Pending(key ContextKey) (models.DocumentSnapshot, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	p := b.pending[key]
	if p == nil {
		return models.DocumentSnapshot{}, false
	}
	return p.snapshot, true
}

// PendingCount returns the number of editing contexts with an unflushed value.
func (b *PersistenceBridge) PendingCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

// Shutdown stops accepting changes. With flush set, every pending value is written
// first; otherwise pending values are dropped. It then waits for in-flight writes
// or for ctx to expire.
func (b *PersistenceBridge) Shutdown(ctx context.Context, flush bool) {
	b.mu.Lock()
	b.closed = true
	keys := make([]ContextKey, 0, len(b.pending))
	for key, p := range b.pending {
		if p.timer != nil {
			p.timer.Stop()
		}
		keys = append(keys, key)
	}
	if !flush {
		b.pending = make(map[ContextKey]*pendingWrite)
	}
	b.mu.Unlock()

	if flush {
		for _, key := range keys {
			_ = b.Flush(ctx, key)
		}
		log.Printf("✓ Flushed %d pending documents", len(keys))
	} else if len(keys) > 0 {
		log.Printf("⚠️  Dropped %d pending documents on shutdown", len(keys))
	}

	done := make(chan struct{})
	go func() {
		b.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		log.Printf("⚠️  Gave up waiting for in-flight flushes: %v", ctx.Err())
	}
}

// keyedMutex serializes writes per editing context and forgets idle keys.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[ContextKey]*refMutex
}

type refMutex struct {
	sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[ContextKey]*refMutex)}
}

func (k *keyedMutex) Lock(key ContextKey) func() {
	k.mu.Lock()
	m := k.locks[key]
	if m == nil {
		m = &refMutex{}
		k.locks[key] = m
	}
	m.refs++
	k.mu.Unlock()

	m.Lock()
	return func() {
		m.Unlock()
		k.mu.Lock()
		m.refs--
		if m.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
