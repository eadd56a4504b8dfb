// Package actor runs single-writer actors keyed by id.
//
// At most one call runs against a given actor at a time.
// Calls against different actors run concurrently.
// A bounded number of actors are kept live (opened);
// the least recently used are closed to make room,
// but never while a call or a hold is using them.
package actor

import (
	"context"
	"sync"

	lru "github.com/hashicorp/golang-lru"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/bobg/docstore/metrics"
)

// ErrClosed is the error returned by a Registry after Close.
var ErrClosed = errors.New("registry closed")

type entry[T any] struct {
	key     string
	sem     chan struct{}
	refs    int
	val     T
	opened  bool
	evicted bool
}

// Registry is a set of actors of type T.
type Registry[T any] struct {
	kind  string
	open  func(context.Context, string) (T, error)
	close func(T) error
	log   *zap.Logger

	mu      sync.Mutex
	c       *lru.Cache           // key -> *entry[T]
	evicted map[string]*entry[T] // evicted from c while still in use
	pending []*entry[T]          // evicted and idle, waiting to be closed
	closed  bool
}

// New produces a new Registry keeping up to size actors live.
// The open function produces the actor for a key on first use
// (and again after that actor has been closed).
// The close function releases an actor's resources.
// The kind labels log messages and metrics.
func New[T any](kind string, size int, open func(context.Context, string) (T, error), close func(T) error, log *zap.Logger) (*Registry[T], error) {
	if log == nil {
		log = zap.NewNop()
	}
	r := &Registry[T]{
		kind:    kind,
		open:    open,
		close:   close,
		log:     log,
		evicted: make(map[string]*entry[T]),
	}
	c, err := lru.NewWithEvict(size, r.onEvict)
	if err != nil {
		return nil, errors.Wrap(err, "creating actor cache")
	}
	r.c = c
	return r, nil
}

// Called by r.c, always with r.mu held.
func (r *Registry[T]) onEvict(_, v interface{}) {
	e := v.(*entry[T])
	e.evicted = true
	if e.refs > 0 {
		r.evicted[e.key] = e
		return
	}
	r.pending = append(r.pending, e)
}

// Do calls fn with the actor for key,
// waiting first for any other call on the same actor to finish.
// If ctx is canceled during the wait,
// Do returns ctx.Err() without calling fn.
func (r *Registry[T]) Do(ctx context.Context, key string, fn func(T) error) error {
	e, err := r.acquire(ctx, key)
	if err != nil {
		return err
	}
	err = fn(e.val)
	<-e.sem
	r.release(e)
	return err
}

// Hold is like Do,
// but after fn returns successfully the actor stays live
// (though other calls on it may proceed)
// until the returned release function is called.
// This keeps the actor's storage open for the benefit of a reader
// that outlives the call.
func (r *Registry[T]) Hold(ctx context.Context, key string, fn func(T) error) (release func(), err error) {
	e, err := r.acquire(ctx, key)
	if err != nil {
		return nil, err
	}
	err = fn(e.val)
	<-e.sem
	if err != nil {
		r.release(e)
		return nil, err
	}
	var once sync.Once
	return func() { once.Do(func() { r.release(e) }) }, nil
}

func (r *Registry[T]) acquire(ctx context.Context, key string) (*entry[T], error) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, ErrClosed
	}
	var e *entry[T]
	if v, ok := r.c.Get(key); ok {
		e = v.(*entry[T])
	} else if e, ok = r.evicted[key]; ok {
		// Still in use: bring it back rather than opening a second instance.
		delete(r.evicted, key)
		e.evicted = false
		r.c.Add(key, e)
	} else {
		e = &entry[T]{key: key, sem: make(chan struct{}, 1)}
		r.c.Add(key, e)
	}
	e.refs++
	pending := r.takePending()
	r.mu.Unlock()

	r.closeAll(pending)

	select {
	case e.sem <- struct{}{}:
	case <-ctx.Done():
		r.release(e)
		return nil, ctx.Err()
	}

	if !e.opened {
		val, err := r.open(ctx, key)
		if err != nil {
			<-e.sem
			r.release(e)
			return nil, errors.Wrapf(err, "opening %s actor %s", r.kind, key)
		}
		e.val = val
		e.opened = true
		metrics.LiveActors.WithLabelValues(r.kind).Inc()
	}
	return e, nil
}

func (r *Registry[T]) release(e *entry[T]) {
	r.mu.Lock()
	e.refs--
	idle := e.refs == 0 && e.evicted
	if idle && r.evicted[e.key] == e {
		delete(r.evicted, e.key)
	}
	r.mu.Unlock()

	if idle {
		r.closeAll([]*entry[T]{e})
	}
}

func (r *Registry[T]) takePending() []*entry[T] {
	p := r.pending
	r.pending = nil
	return p
}

func (r *Registry[T]) closeAll(entries []*entry[T]) error {
	var firstErr error
	for _, e := range entries {
		if !e.opened {
			continue
		}
		e.opened = false
		metrics.LiveActors.WithLabelValues(r.kind).Dec()
		if err := r.close(e.val); err != nil {
			r.log.Error("Closing actor", zap.String("kind", r.kind), zap.String("key", e.key), zap.Error(err))
			if firstErr == nil {
				firstErr = errors.Wrapf(err, "closing %s actor %s", r.kind, e.key)
			}
			continue
		}
		r.log.Debug("Closed actor", zap.String("kind", r.kind), zap.String("key", e.key))
	}
	return firstErr
}

// Close closes every idle actor and makes further calls fail with ErrClosed.
// Actors still in use are closed when their last call or hold ends.
func (r *Registry[T]) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	r.c.Purge()
	pending := r.takePending()
	r.mu.Unlock()

	return r.closeAll(pending)
}
