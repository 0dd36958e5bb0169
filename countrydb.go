package countrydb

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	oteltrace "go.opentelemetry.io/otel/trace"

	"github.com/hupe1980/countrydb/codec"
	"github.com/hupe1980/countrydb/ingest"
	"github.com/hupe1980/countrydb/internal/cache"
	"github.com/hupe1980/countrydb/internal/trace"
	"github.com/hupe1980/countrydb/query"
	"github.com/hupe1980/countrydb/record"
	"github.com/hupe1980/countrydb/resource"
	"github.com/hupe1980/countrydb/table"
	"github.com/hupe1980/countrydb/worker"
)

// BuildSummary describes the table produced (or found) by Ingest.
type BuildSummary struct {
	Path            string
	Source          string
	Codec           string
	Records         int64 // batch elements read
	Entries         int64 // keys in the table
	Duplicates      int64 // pairs discarded by first-write-wins
	DroppedRecords  int64 // records that failed to serialize
	KeylessRecords  int64 // records without name and code
	DroppedOrdinals []uint32
	Blocks          int
	Bytes           int64
	Duration        time.Duration
	// Skipped is true when the directory already held a valid table and
	// nothing was built.
	Skipped bool
}

// ScanEntry is one key of the table with its decoded record.
type ScanEntry struct {
	Key    string
	Record *record.Record
}

// Stats is a snapshot of DB state.
type Stats struct {
	Dir             string
	Initialized     bool
	Table           table.Meta
	TableID         string
	Blocks          int
	Pool            worker.Stats
	Cache           cache.Stats
	MemoryUsage     int64
	InFlightQueries int64
}

// DB serves lookups against the country table in one directory.
//
// A DB without a valid table is uninitialized: queries fail with
// ErrNotInitialized until Ingest publishes one. Queries keep being served
// from the previous table while a forced rebuild runs.
type DB struct {
	dir    string
	opts   options
	logger *Logger
	tracer oteltrace.Tracer
	rc     *resource.Controller
	cache  *cache.LRU

	buildMu sync.Mutex // serializes Ingest

	mu     sync.RWMutex // held shared while a query runs
	closed bool
	table  *table.Reader
	pool   *worker.Pool
}

// Open opens the table in dir and starts the worker pool. A missing,
// corrupt or sentinel-less table leaves the DB uninitialized; with
// WithSource it is built right away.
func Open(ctx context.Context, dir string, optFns ...Option) (_ *DB, err error) {
	o := applyOptions(optFns)
	db := &DB{
		dir:    dir,
		opts:   o,
		logger: o.logger.WithDir(dir),
		tracer: trace.Tracer(o.tracerProvider),
		rc:     resource.NewController(o.resources),
	}
	if o.cacheBytes > 0 {
		db.cache = cache.NewLRU(o.cacheBytes, db.rc)
	}

	ctx, span := trace.Start(ctx, db.tracer, db.logger.Logger, "countrydb.Open", attribute.String("dir", dir))
	defer func() {
		span.End(err)
		db.logger.LogOpen(ctx, err == nil && db.Initialized(), err)
	}()

	r, err := db.openTable(ctx)
	if err != nil {
		return nil, err
	}
	if r != nil {
		if err := db.install(r); err != nil {
			return nil, err
		}
		return db, nil
	}
	if o.source != nil {
		if _, err := db.Ingest(ctx, o.source); err != nil {
			_ = db.Close()
			return nil, err
		}
	}
	return db, nil
}

func (db *DB) readerOptions() []table.ReaderOption {
	return []table.ReaderOption{
		table.WithBlockCache(db.cache),
		table.WithVerifyChecksums(db.opts.verifyChecksums),
	}
}

// openTable opens the published table. It returns nil without error when
// the directory holds nothing usable: no table, a table failing its
// integrity check, or a table without the sentinel key.
func (db *DB) openTable(ctx context.Context) (*table.Reader, error) {
	r, err := table.OpenFile(ctx, db.dir, db.readerOptions()...)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return nil, nil
	case errors.Is(err, table.ErrCorrupt):
		db.logger.WarnContext(ctx, "table failed integrity check, treating as absent", "error", err)
		return nil, nil
	case err != nil:
		return nil, translateError(err)
	}

	reason, err := db.checkSentinel(r)
	if err != nil || reason != "" {
		_ = r.Close()
		if err != nil {
			return nil, translateError(err)
		}
		db.logger.WarnContext(ctx, "table not initialized, treating as absent", "reason", reason)
		return nil, nil
	}
	return r, nil
}

func (db *DB) checkSentinel(r *table.Reader) (string, error) {
	v, ok, err := r.Get(table.MetaKey)
	if errors.Is(err, table.ErrCorrupt) {
		return err.Error(), nil
	}
	if err != nil {
		return "", err
	}
	if !ok {
		return "missing sentinel key", nil
	}
	meta, err := table.DecodeMeta(v)
	if err != nil {
		return err.Error(), nil
	}
	if _, ok := codec.ByName(meta.Codec); !ok {
		return fmt.Sprintf("unknown codec %q", meta.Codec), nil
	}
	return "", nil
}

// install starts a pool over r and retires the previous table and pool.
func (db *DB) install(r *table.Reader) error {
	c, _ := codec.ByName(r.Meta().Codec)
	resolver := query.NewResolver(
		query.WithCodec(c),
		query.WithBordersPath(db.opts.paths.Borders),
		query.WithLogger(db.logger.Logger),
	)
	pool, err := worker.New(db.opts.workers, func(int) (worker.Handle, error) {
		h, err := r.Clone()
		if err != nil {
			return nil, err
		}
		return h, nil
	},
		worker.WithQueueSize(db.opts.queueSize),
		worker.WithResolver(resolver),
		worker.WithResourceController(db.rc),
		worker.WithLogger(db.logger.Logger),
	)
	if err != nil {
		_ = r.Close()
		return translateError(err)
	}

	db.mu.Lock()
	if db.closed {
		db.mu.Unlock()
		return errors.Join(ErrClosed, pool.Close(), r.Close())
	}
	oldPool, oldTable := db.pool, db.table
	db.pool, db.table = pool, r
	db.mu.Unlock()

	if oldPool != nil {
		_ = oldPool.Close()
		_ = oldTable.Close()
		db.cache.Purge()
	}
	return nil
}

// Initialized reports whether a table is being served.
func (db *DB) Initialized() bool {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.table != nil
}

// Ingest builds the table from src unless the directory already holds a
// valid table (see WithForceRebuild). The new table replaces the served
// one only after it has been published completely.
func (db *DB) Ingest(ctx context.Context, src ingest.Source, optFns ...IngestOption) (summary *BuildSummary, err error) {
	var iopts ingestOptions
	for _, fn := range optFns {
		fn(&iopts)
	}

	start := time.Now()
	ctx, span := trace.Start(ctx, db.tracer, db.logger.Logger, "countrydb.Ingest",
		attribute.String("source", src.Name()),
		attribute.Bool("force", iopts.force),
	)
	defer func() {
		err = translateError(err)
		var entries int64
		if summary != nil {
			entries = summary.Entries
			span.SetAttributes(attribute.Int64("entries", entries), attribute.Bool("skipped", summary.Skipped))
		}
		span.End(err)
		db.opts.metricsCollector.RecordIngest(entries, time.Since(start), err)
		db.logger.LogIngest(ctx, summary, err)
	}()

	db.buildMu.Lock()
	defer db.buildMu.Unlock()

	db.mu.RLock()
	closed, cur := db.closed, db.table
	db.mu.RUnlock()
	if closed {
		return nil, ErrClosed
	}

	if !iopts.force {
		if cur == nil {
			// Another process may have built the table since Open.
			r, err := db.openTable(ctx)
			if err != nil {
				return nil, err
			}
			if r != nil {
				if err := db.install(r); err != nil {
					return nil, err
				}
				cur = r
			}
		}
		if cur != nil {
			return db.existingSummary(cur, start), nil
		}
	}

	summary, err = db.build(ctx, src, start)
	if err != nil {
		return nil, err
	}
	r, err := db.openTable(ctx)
	if err != nil {
		return nil, err
	}
	if r == nil {
		return nil, fmt.Errorf("%w: published table is not readable", ErrCorruptTable)
	}
	if err := db.install(r); err != nil {
		return nil, err
	}
	return summary, nil
}

func (db *DB) build(ctx context.Context, src ingest.Source, start time.Time) (*BuildSummary, error) {
	rc, err := ingest.Throttle(src, db.rc).Open(ctx)
	if err != nil {
		var ioe *IOError
		if tr := translateError(err); errors.As(tr, &ioe) {
			return nil, tr
		}
		return nil, &IOError{Op: "open", Path: src.Name(), cause: err}
	}
	defer func() { _ = rc.Close() }()

	b := table.NewBuilder(db.dir,
		table.WithFileSystem(db.opts.fileSystem),
		table.WithResourceController(db.rc),
		table.WithBuilderLogger(db.logger.Logger),
		table.WithBlockSize(db.opts.blockSize),
		table.WithCompression(db.opts.compression),
	)
	in := ingest.New(
		ingest.WithKeyPaths(db.opts.paths),
		ingest.WithCodec(db.opts.codec),
		ingest.WithStrict(db.opts.strict),
		ingest.WithLogger(db.logger.Logger),
	)
	stats, err := in.Run(ctx, rc, b.Add)
	if err != nil {
		b.Abort()
		return nil, err
	}

	res, err := b.Finish(ctx, table.Meta{
		Codec:   db.opts.codec.Name(),
		Records: stats.Records,
		Dropped: stats.Dropped,
		Skipped: stats.Skipped,
		Source:  src.Name(),
	})
	if err != nil {
		return nil, err
	}
	return &BuildSummary{
		Path:            res.Path,
		Source:          src.Name(),
		Codec:           db.opts.codec.Name(),
		Records:         stats.Records,
		Entries:         res.Entries,
		Duplicates:      res.Duplicates,
		DroppedRecords:  stats.Dropped,
		KeylessRecords:  stats.Skipped,
		DroppedOrdinals: stats.DroppedRecords.ToArray(),
		Blocks:          res.Blocks,
		Bytes:           res.Bytes,
		Duration:        time.Since(start),
	}, nil
}

func (db *DB) existingSummary(r *table.Reader, start time.Time) *BuildSummary {
	m := r.Meta()
	return &BuildSummary{
		Path:           filepath.Join(db.dir, table.FileName),
		Source:         m.Source,
		Codec:          m.Codec,
		Records:        m.Records,
		Entries:        m.Entries,
		Duplicates:     m.Duplicates,
		DroppedRecords: m.Dropped,
		KeylessRecords: m.Skipped,
		Blocks:         r.Blocks(),
		Duration:       time.Since(start),
		Skipped:        true,
	}
}

func (db *DB) submit(ctx context.Context, q query.Query) (query.Result, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	if db.closed {
		return query.Result{}, ErrClosed
	}
	if db.pool == nil {
		return query.Result{}, ErrNotInitialized
	}
	res, err := db.pool.Submit(ctx, q)
	return res, translateError(err)
}

// Lookup returns the record stored under key (a display name or a short
// code). Absent keys and undecodable values yield found == false.
func (db *DB) Lookup(ctx context.Context, key string) (rec *record.Record, found bool, err error) {
	start := time.Now()
	ctx, span := trace.Start(ctx, db.tracer, db.logger.Logger, "countrydb.Lookup", attribute.String("key", key))
	defer func() {
		span.SetAttributes(attribute.Bool("found", found))
		span.End(err)
		db.opts.metricsCollector.RecordLookup(found, time.Since(start), err)
		db.logger.LogLookup(ctx, key, found, err)
	}()

	res, err := db.submit(ctx, query.Lookup{Key: key})
	if err != nil {
		return nil, false, err
	}
	return res.Record, res.Found, nil
}

// ResolveWithBorders returns the record stored under key with the
// neighbors from its border list that exist in the table, in border-list
// order. Neighbors of neighbors are not followed.
func (db *DB) ResolveWithBorders(ctx context.Context, key string) (res *record.WithNeighbors, found bool, err error) {
	start := time.Now()
	ctx, span := trace.Start(ctx, db.tracer, db.logger.Logger, "countrydb.ResolveWithBorders", attribute.String("key", key))
	var neighbors int
	defer func() {
		span.SetAttributes(attribute.Bool("found", found), attribute.Int("neighbors", neighbors))
		span.End(err)
		db.opts.metricsCollector.RecordResolve(found, neighbors, time.Since(start), err)
		db.logger.LogResolve(ctx, key, found, neighbors, err)
	}()

	r, err := db.submit(ctx, query.Borders{Key: key})
	if err != nil || !r.Found {
		return nil, false, err
	}
	neighbors = len(r.Neighbors)
	return &record.WithNeighbors{Record: r.Record, Neighbors: r.Neighbors}, true, nil
}

// Scan yields every key with its record in ascending key order. Each
// iteration opens its own handle, so scans are restartable and do not
// occupy a worker. Undecodable values are logged and skipped.
func (db *DB) Scan(ctx context.Context) iter.Seq2[ScanEntry, error] {
	return func(yield func(ScanEntry, error) bool) {
		start := time.Now()
		ctx, span := trace.Start(ctx, db.tracer, db.logger.Logger, "countrydb.Scan")
		var (
			n   int
			err error
		)
		defer func() {
			span.SetAttributes(attribute.Int("entries", n))
			span.End(err)
			db.opts.metricsCollector.RecordScan(n, time.Since(start), err)
		}()

		h, c, err := db.scanHandle(ctx)
		if err != nil {
			yield(ScanEntry{}, err)
			return
		}
		defer func() { _ = h.Close() }()

		for e, ierr := range h.All() {
			if ierr != nil {
				err = translateError(ierr)
				yield(ScanEntry{}, err)
				return
			}
			if table.IsReserved(e.Key) {
				continue
			}
			if err = ctx.Err(); err != nil {
				yield(ScanEntry{}, err)
				return
			}
			rec, derr := record.Decode(c, e.Value)
			if derr != nil {
				db.logger.LogDecodeFailure(ctx, string(e.Key), &DecodeError{Key: string(e.Key), Err: derr})
				continue
			}
			n++
			if !yield(ScanEntry{Key: string(e.Key), Record: rec}, nil) {
				return
			}
		}
	}
}

// scanHandle clones the served table outside the read gate so a running
// build cannot hold up the scan or queries waiting behind a table swap.
func (db *DB) scanHandle(ctx context.Context) (*table.Reader, codec.Codec, error) {
	for {
		db.mu.RLock()
		closed, cur := db.closed, db.table
		db.mu.RUnlock()
		switch {
		case closed:
			return nil, nil, ErrClosed
		case cur == nil:
			return nil, nil, ErrNotInitialized
		}

		h, err := cur.CloneContext(ctx)
		if errors.Is(err, table.ErrClosed) {
			// Swapped out or closed meanwhile; look again.
			continue
		}
		if err != nil {
			return nil, nil, translateError(err)
		}
		c, _ := codec.ByName(h.Meta().Codec)
		return h, c, nil
	}
}

// Stats returns a snapshot of the DB state.
func (db *DB) Stats() Stats {
	db.mu.RLock()
	defer db.mu.RUnlock()

	s := Stats{
		Dir:             db.dir,
		Cache:           db.cache.Stats(),
		MemoryUsage:     db.rc.MemoryUsage(),
		InFlightQueries: db.rc.InFlightQueries(),
	}
	if db.table != nil {
		s.Initialized = true
		s.Table = db.table.Meta()
		s.TableID = db.table.ID()
		s.Blocks = db.table.Blocks()
	}
	if db.pool != nil {
		s.Pool = db.pool.Stats()
	}
	return s
}
