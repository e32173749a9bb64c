// Package table binds a remote collection to a sortable, renderable view and
// keeps it in sync with the backend.
package table

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"sync"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/retrypolicy"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
)

// ErrClosed is returned by operations on a closed binding.
var ErrClosed = errors.New("table binding closed")

const defaultRetryDelay = time.Second

// Scope holds the declared trigger inputs of a fetch, e.g. a company filter.
type Scope map[string]string

// Equal reports whether both scopes hold the same inputs.
func (s Scope) Equal(o Scope) bool { return maps.Equal(s, o) }

// FetchFunc loads the whole collection for scope.
type FetchFunc[T any] func(ctx context.Context, scope Scope) ([]T, error)

// Options configure a binding.
type Options struct {
	// Name labels logs and metrics.
	Name  string
	Scope Scope
	// RefreshInterval re-fetches on a fixed cadence. Zero disables polling.
	RefreshInterval time.Duration
	DefaultSort     Sort
	// NoRetry disables the single automatic retry of a failed fetch.
	NoRetry    bool
	RetryDelay time.Duration
	Clock      clockwork.Clock
	Logger     *zap.Logger
	Metrics    *Metrics
}

// Model is the render-ready state of a binding.
type Model[T any] struct {
	Rows      []T
	Err       error
	Loading   bool
	FetchedAt time.Time
	Sort      Sort
	Scope     Scope
	Version   uint64
}

// Stale reports whether the rows were fetched more than after ago, or never.
func (m Model[T]) Stale(now time.Time, after time.Duration) bool {
	return m.FetchedAt.IsZero() || now.Sub(m.FetchedAt) > after
}

type trigger int

const (
	triggerManual trigger = iota
	triggerPoll
)

// Binding keeps one remote collection. At most one fetch is authoritative at
// a time: a newer trigger cancels the outstanding fetch and discards its late
// result, while a poll tick arriving during a fetch is dropped.
type Binding[T any] struct {
	name     string
	fetch    FetchFunc[T]
	columns  []Column[T]
	byKey    map[string]int
	interval time.Duration
	retry    retrypolicy.RetryPolicy[[]T]
	clock    clockwork.Clock
	logger   *zap.Logger
	metrics  *Metrics

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	closed    bool
	scope     Scope
	fetched   []T
	rows      []T
	sort      Sort
	err       error
	fetchedAt time.Time
	gen       uint64
	inflight  context.CancelFunc
	version   uint64
	subs      map[int]func(View)
	nextSub   int
}

// Bind creates the binding and starts its first fetch. Polling, when
// configured, runs until Close or until ctx is done.
func Bind[T any](ctx context.Context, fetch FetchFunc[T], columns []Column[T], opts Options) *Binding[T] {
	b := &Binding[T]{
		name:     opts.Name,
		fetch:    fetch,
		columns:  columns,
		byKey:    make(map[string]int, len(columns)),
		interval: opts.RefreshInterval,
		clock:    opts.Clock,
		logger:   opts.Logger,
		metrics:  opts.Metrics,
		scope:    maps.Clone(opts.Scope),
		sort:     opts.DefaultSort,
		subs:     map[int]func(View){},
	}
	if b.clock == nil {
		b.clock = clockwork.NewRealClock()
	}
	if b.logger == nil {
		b.logger = zap.NewNop()
	}
	if b.name == "" {
		b.name = "table"
	}
	for i, c := range columns {
		b.byKey[c.Key] = i
	}
	if _, ok := b.sortColumn(b.sort.Key); !ok {
		b.sort = Sort{}
	}

	maxRetries := 1
	if opts.NoRetry {
		maxRetries = 0
	}
	delay := opts.RetryDelay
	if delay == 0 {
		delay = defaultRetryDelay
	}
	b.retry = retrypolicy.NewBuilder[[]T]().
		WithMaxRetries(maxRetries).
		WithDelay(delay).
		AbortOnErrors(context.Canceled, context.DeadlineExceeded).
		ReturnLastFailure().
		Build()

	b.ctx, b.cancel = context.WithCancel(context.WithoutCancel(ctx))
	go func() {
		select {
		case <-ctx.Done():
			b.Close()
		case <-b.ctx.Done():
		}
	}()

	b.trigger(triggerManual)
	if b.interval > 0 {
		go b.poll()
	}
	return b
}

func (b *Binding[T]) poll() {
	ticker := b.clock.NewTicker(b.interval)
	defer ticker.Stop()
	for {
		select {
		case <-b.ctx.Done():
			return
		case <-ticker.Chan():
			b.trigger(triggerPoll)
		}
	}
}

// Invalidate re-fetches the collection, superseding any fetch in flight.
// Callers use it after a mutation or upload succeeded.
func (b *Binding[T]) Invalidate() {
	b.trigger(triggerManual)
}

// SetScope replaces the trigger inputs. Only a changed scope re-fetches.
func (b *Binding[T]) SetScope(scope Scope) {
	b.mu.Lock()
	if b.closed || b.scope.Equal(scope) {
		b.mu.Unlock()
		return
	}
	b.scope = maps.Clone(scope)
	b.mu.Unlock()
	b.trigger(triggerManual)
}

// Refresh triggers a fetch and waits until it settles. The returned error is
// the fetch error when that fetch failed; a fetch superseded by a newer
// trigger settles without error.
func (b *Binding[T]) Refresh(ctx context.Context) (Model[T], error) {
	done, ok := b.trigger(triggerManual)
	if !ok {
		return b.Snapshot(), ErrClosed
	}
	select {
	case res := <-done:
		return b.Snapshot(), res
	case <-ctx.Done():
		return b.Snapshot(), ctx.Err()
	}
}

// Await waits until no fetch is in flight and returns the model. It does not
// trigger a fetch.
func (b *Binding[T]) Await(ctx context.Context) (Model[T], error) {
	idle := make(chan struct{}, 1)
	cancel := b.Subscribe(func(v View) {
		if v.Loading {
			return
		}
		select {
		case idle <- struct{}{}:
		default:
		}
	})
	defer cancel()
	for {
		if b.Closed() {
			return b.Snapshot(), ErrClosed
		}
		m := b.Snapshot()
		if !m.Loading {
			return m, nil
		}
		select {
		case <-idle:
		case <-b.ctx.Done():
		case <-ctx.Done():
			return b.Snapshot(), ctx.Err()
		}
	}
}

func (b *Binding[T]) trigger(kind trigger) (<-chan error, bool) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, false
	}
	if kind == triggerPoll && b.inflight != nil {
		b.mu.Unlock()
		b.metrics.fetch(b.name, outcomeDropped)
		b.logger.Debug("poll tick dropped, fetch in flight", zap.String("table", b.name))
		return nil, false
	}
	if b.inflight != nil {
		b.inflight()
	}
	b.gen++
	gen := b.gen
	ctx, cancel := context.WithCancel(b.ctx)
	b.inflight = cancel
	scope := maps.Clone(b.scope)
	b.mu.Unlock()

	done := make(chan error, 1)
	go func() {
		defer cancel()
		rows, err := b.run(ctx, scope)
		done <- b.settle(gen, rows, err)
	}()
	return done, true
}

func (b *Binding[T]) run(ctx context.Context, scope Scope) ([]T, error) {
	attempt := 0
	return failsafe.NewExecutor[[]T](b.retry).WithContext(ctx).Get(func() ([]T, error) {
		attempt++
		if attempt > 1 {
			b.logger.Debug("retrying fetch", zap.String("table", b.name), zap.Int("attempt", attempt))
		}
		return b.fetch(ctx, scope)
	})
}

func (b *Binding[T]) settle(gen uint64, rows []T, err error) error {
	b.mu.Lock()
	if b.closed || gen != b.gen {
		b.mu.Unlock()
		b.metrics.fetch(b.name, outcomeDiscarded)
		return nil
	}
	b.inflight = nil
	if err != nil {
		b.err = fmt.Errorf("load %s: %w", b.name, err)
	} else {
		b.err = nil
		b.fetched = rows
		b.fetchedAt = b.clock.Now()
		b.rows = b.ordered()
	}
	b.version++
	view, subs := b.viewLocked(), b.subscribers()
	b.mu.Unlock()

	if err != nil {
		b.metrics.fetch(b.name, outcomeFailed)
		b.logger.Warn("fetch failed", zap.String("table", b.name), zap.Error(err))
	} else {
		b.metrics.fetch(b.name, outcomeApplied)
	}
	for _, fn := range subs {
		fn(view)
	}
	return err
}

// SortBy reorders the held rows. Rows with equal keys keep their fetch
// order. It never re-fetches.
func (b *Binding[T]) SortBy(key string, dir Direction) error {
	if _, ok := b.sortColumn(key); !ok {
		return fmt.Errorf("sort %s by %q: %w", b.name, key, ErrUnknownColumn)
	}
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrClosed
	}
	b.sort = Sort{Key: key, Direction: dir}
	b.rows = b.ordered()
	b.version++
	view, subs := b.viewLocked(), b.subscribers()
	b.mu.Unlock()

	for _, fn := range subs {
		fn(view)
	}
	return nil
}

func (b *Binding[T]) sortColumn(key string) (Column[T], bool) {
	i, ok := b.byKey[key]
	if !ok || !b.columns[i].Sortable || b.columns[i].Value == nil {
		return Column[T]{}, false
	}
	return b.columns[i], true
}

// ordered must be called with mu held.
func (b *Binding[T]) ordered() []T {
	col, ok := b.sortColumn(b.sort.Key)
	if !ok {
		out := make([]T, len(b.fetched))
		copy(out, b.fetched)
		return out
	}
	return sortRows(b.fetched, col, b.sort.Direction)
}

// Snapshot returns the current model. Rows are a copy.
func (b *Binding[T]) Snapshot() Model[T] {
	b.mu.Lock()
	defer b.mu.Unlock()
	rows := make([]T, len(b.rows))
	copy(rows, b.rows)
	return Model[T]{
		Rows:      rows,
		Err:       b.err,
		Loading:   b.inflight != nil,
		FetchedAt: b.fetchedAt,
		Sort:      b.sort,
		Scope:     maps.Clone(b.scope),
		Version:   b.version,
	}
}

// Subscribe calls fn with the new view after every applied fetch, failed
// fetch and re-sort. Views carry an increasing Version; fn must not block.
func (b *Binding[T]) Subscribe(fn func(View)) (cancel func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextSub
	b.nextSub++
	b.subs[id] = fn
	return func() {
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
	}
}

func (b *Binding[T]) subscribers() []func(View) {
	out := make([]func(View), 0, len(b.subs))
	for i := 0; i < b.nextSub; i++ {
		if fn, ok := b.subs[i]; ok {
			out = append(out, fn)
		}
	}
	return out
}

// Close stops polling and cancels the fetch in flight. No state changes
// and no notifications happen afterwards.
func (b *Binding[T]) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	b.inflight = nil
	b.subs = map[int]func(View){}
	b.mu.Unlock()
	b.cancel()
}

// Done is closed once the binding is closed, by Close or by the end of
// the context it was bound with.
func (b *Binding[T]) Done() <-chan struct{} { return b.ctx.Done() }

// Closed reports whether Close was called.
func (b *Binding[T]) Closed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}
