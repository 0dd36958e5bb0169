// Package worker runs queries on a fixed pool of goroutines, each owning
// one table handle.
//
// Submit hands a query to the shared bounded queue and waits for the
// result. Any idle worker picks the next task, so load spreads to the
// least busy worker. A query that panics is reported to its caller as
// ErrWorkerPanic and the worker keeps serving.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/countrydb/query"
	"github.com/hupe1980/countrydb/resource"
)

var (
	// ErrPoolClosed is returned by Submit after Close.
	ErrPoolClosed = errors.New("worker: pool closed")
	// ErrWorkerPanic is returned for a query whose execution panicked.
	ErrWorkerPanic = errors.New("worker: panic while executing query")
)

// Handle is a table handle owned by one worker.
type Handle interface {
	query.Handle
	Close() error
}

// OpenFunc opens the handle for worker i.
type OpenFunc func(i int) (Handle, error)

// DefaultQueueFactor sizes the task queue as QueueFactor * workers.
const DefaultQueueFactor = 64

// Options configures a Pool.
type Options struct {
	QueueSize int
	Resolver  *query.Resolver
	Resources *resource.Controller
	Logger    *slog.Logger
}

// Option configures a Pool.
type Option func(*Options)

// WithQueueSize sets the capacity of the task queue.
func WithQueueSize(n int) Option {
	return func(o *Options) { o.QueueSize = n }
}

// WithResolver sets the query resolver.
func WithResolver(r *query.Resolver) Option {
	return func(o *Options) { o.Resolver = r }
}

// WithResourceController enables query admission control.
func WithResourceController(rc *resource.Controller) Option {
	return func(o *Options) { o.Resources = rc }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *Options) { o.Logger = l }
}

type outcome struct {
	res query.Result
	err error
}

type task struct {
	ctx  context.Context
	q    query.Query
	done chan outcome // buffered; the worker never blocks on it
}

// Stats reports pool activity.
type Stats struct {
	Workers   int
	Executed  []int64 // per worker
	Panics    int64
	Abandoned int64 // canceled before a worker picked them up
	Queued    int
}

// Pool is a fixed set of workers.
type Pool struct {
	opts    Options
	handles []Handle
	tasks   chan task

	mu     sync.RWMutex // guards closed and sends on tasks
	closed bool
	g      errgroup.Group

	executed  []atomic.Int64
	panics    atomic.Int64
	abandoned atomic.Int64
}

// New opens n handles and starts one worker per handle. If any handle
// fails to open, the ones already opened are closed.
func New(n int, open OpenFunc, optFns ...Option) (*Pool, error) {
	if n < 1 {
		return nil, fmt.Errorf("worker: pool size must be positive, got %d", n)
	}
	opts := Options{QueueSize: DefaultQueueFactor * n}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.QueueSize < 1 {
		opts.QueueSize = DefaultQueueFactor * n
	}
	if opts.Resolver == nil {
		opts.Resolver = query.NewResolver()
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}

	p := &Pool{
		opts:     opts,
		handles:  make([]Handle, 0, n),
		tasks:    make(chan task, opts.QueueSize),
		executed: make([]atomic.Int64, n),
	}
	for i := range n {
		h, err := open(i)
		if err != nil {
			_ = p.closeHandles()
			return nil, fmt.Errorf("worker: open handle %d: %w", i, err)
		}
		p.handles = append(p.handles, h)
	}
	for i := range n {
		p.g.Go(func() error {
			p.run(i)
			return nil
		})
	}
	return p, nil
}

// Size returns the number of workers.
func (p *Pool) Size() int { return len(p.handles) }

// Submit queues q and waits for its result. If ctx is done first, Submit
// returns ctx.Err(); a worker already executing q still completes it and
// the result is discarded.
func (p *Pool) Submit(ctx context.Context, q query.Query) (query.Result, error) {
	if err := p.opts.Resources.AcquireQuery(ctx); err != nil {
		return query.Result{}, err
	}

	t := task{ctx: ctx, q: q, done: make(chan outcome, 1)}
	if err := p.enqueue(ctx, t); err != nil {
		p.opts.Resources.ReleaseQuery()
		return query.Result{}, err
	}

	select {
	case o := <-t.done:
		return o.res, o.err
	case <-ctx.Done():
		return query.Result{}, ctx.Err()
	}
}

func (p *Pool) enqueue(ctx context.Context, t task) error {
	// The read lock also keeps sends from racing close(p.tasks) in Close.
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrPoolClosed
	}
	select {
	case p.tasks <- t:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Pool) run(i int) {
	for t := range p.tasks {
		if t.ctx.Err() != nil {
			p.abandoned.Add(1)
			p.opts.Resources.ReleaseQuery()
			continue
		}
		o := p.execute(i, t)
		p.executed[i].Add(1)
		p.opts.Resources.ReleaseQuery()
		t.done <- o
	}
}

func (p *Pool) execute(i int, t task) (o outcome) {
	defer func() {
		if r := recover(); r != nil {
			p.panics.Add(1)
			p.opts.Logger.Error("query panicked",
				"worker", i,
				"kind", t.q.Kind(),
				"key", t.q.Target(),
				"panic", r,
				"stack", string(debug.Stack()),
			)
			o = outcome{err: fmt.Errorf("%w: %v", ErrWorkerPanic, r)}
		}
	}()
	res, err := p.opts.Resolver.Execute(t.ctx, p.handles[i], t.q)
	return outcome{res: res, err: err}
}

// Close stops accepting queries, lets the workers drain the queue, waits
// for them and closes every handle. It is idempotent.
func (p *Pool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.tasks)
	p.mu.Unlock()

	_ = p.g.Wait()
	return p.closeHandles()
}

func (p *Pool) closeHandles() error {
	var errs []error
	for _, h := range p.handles {
		if err := h.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Stats returns a snapshot of pool activity.
func (p *Pool) Stats() Stats {
	s := Stats{
		Workers:   len(p.handles),
		Executed:  make([]int64, len(p.executed)),
		Panics:    p.panics.Load(),
		Abandoned: p.abandoned.Load(),
		Queued:    len(p.tasks),
	}
	for i := range p.executed {
		s.Executed[i] = p.executed[i].Load()
	}
	return s
}
